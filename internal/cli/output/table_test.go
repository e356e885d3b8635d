package output

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type listing []string

func (l listing) Headers() []string { return []string{"Path", "Size"} }

func (l listing) Rows() [][]string {
	rows := make([][]string, len(l))
	for i, p := range l {
		rows[i] = []string{p, "0B"}
	}
	return rows
}

func TestPrintTable(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, PrintTable(&buf, listing{"a.txt", "b.txt"}))

	out := buf.String()
	assert.Contains(t, out, "PATH")
	assert.Contains(t, out, "SIZE")
	assert.Contains(t, out, "a.txt")
	assert.Contains(t, out, "b.txt")
}

func TestKeyValues(t *testing.T) {
	kv := KeyValues{}.Add("Path", "dir/file").Add("Size", "16KiB")
	require.Len(t, kv.Rows(), 2)
	assert.Nil(t, kv.Headers())
	assert.Equal(t, []string{"Size:", "16KiB"}, kv.Rows()[1])

	var buf bytes.Buffer
	require.NoError(t, PrintTable(&buf, kv))
	out := buf.String()
	assert.Regexp(t, `(?m)^Path:\s+dir/file\s*$`, out)
	assert.Regexp(t, `(?m)^Size:\s+16KiB\s*$`, out)
	assert.NotContains(t, out, "PATH")
}
