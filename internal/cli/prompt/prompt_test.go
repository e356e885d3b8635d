package prompt

import (
	"errors"
	"fmt"
	"testing"

	"github.com/manifoldco/promptui"
	"github.com/stretchr/testify/assert"
)

func TestValidatePort(t *testing.T) {
	assert.NoError(t, ValidatePort("9090"))
	assert.NoError(t, ValidatePort(" 1 "))
	assert.EqualError(t, ValidatePort("0"), "must be a valid port (1-65535)")
	assert.EqualError(t, ValidatePort("65536"), "must be a valid port (1-65535)")
	assert.EqualError(t, ValidatePort("http"), "must be a valid integer")
}

func TestOptional(t *testing.T) {
	v := Optional(ValidatePort)
	assert.NoError(t, v(""))
	assert.NoError(t, v("  "))
	assert.Error(t, v("x"))
}

func TestIsAborted(t *testing.T) {
	assert.True(t, IsAborted(promptui.ErrInterrupt))
	assert.True(t, IsAborted(fmt.Errorf("wrapped: %w", ErrAborted)))
	assert.False(t, IsAborted(errors.New("boom")))

	assert.Equal(t, ErrAborted, wrapError(promptui.ErrAbort))
	assert.Nil(t, wrapError(nil))
}

func TestParseYes(t *testing.T) {
	assert.True(t, parseYes("Y", false))
	assert.True(t, parseYes("yes", false))
	assert.False(t, parseYes("no", true))
	assert.True(t, parseYes("", true))
	assert.False(t, parseYes(" ", false))
}

func TestConfirmWithForce(t *testing.T) {
	ok, err := ConfirmWithForce("Delete?", true)
	assert.NoError(t, err)
	assert.True(t, ok)
}

func TestIndexOf(t *testing.T) {
	opts := []SelectOption{{Value: "none"}, {Value: "zstd"}, {Value: "lz4"}}
	assert.Equal(t, 1, indexOf(opts, "zstd"))
	assert.Equal(t, 0, indexOf(opts, "brotli"))
}
