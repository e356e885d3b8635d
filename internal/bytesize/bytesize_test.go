package bytesize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    ByteSize
		wantErr bool
	}{
		{"plain zero", "0", 0, false},
		{"plain bytes", "1024", 1024, false},
		{"bytes suffix", "512b", 512, false},
		{"kibibytes", "16KiB", 16 * KiB, false},
		{"kibibytes short", "16ki", 16 * KiB, false},
		{"mebibytes", "1MiB", MiB, false},
		{"gibibytes", "2Gi", 2 * GiB, false},
		{"tebibytes", "1TiB", TiB, false},
		{"kilobytes", "1K", KB, false},
		{"megabytes", "100MB", 100 * MB, false},
		{"gigabytes", "1gb", GB, false},
		{"space between", "4 KiB", 4 * KiB, false},
		{"surrounding space", "  1Mi  ", MiB, false},
		{"fraction", "1.5Mi", ByteSize(1.5 * float64(MiB)), false},

		{"empty", "", 0, true},
		{"blank", "   ", 0, true},
		{"unit only", "KiB", 0, true},
		{"unknown unit", "10XB", 0, true},
		{"negative", "-1", 0, true},
		{"overflow", "18446744073709551615KiB", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestString(t *testing.T) {
	tests := []struct {
		in   ByteSize
		want string
	}{
		{0, "0B"},
		{100, "100B"},
		{16 * KiB, "16KiB"},
		{1536, "1536B"},
		{MiB, "1MiB"},
		{3 * GiB, "3GiB"},
		{2 * TiB, "2TiB"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.in.String())

			back, err := Parse(tt.in.String())
			require.NoError(t, err)
			assert.Equal(t, tt.in, back)
		})
	}
}

func TestTextMarshaling(t *testing.T) {
	var b ByteSize
	require.NoError(t, b.UnmarshalText([]byte("64KiB")))
	assert.Equal(t, 64*KiB, b)

	text, err := b.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "64KiB", string(text))

	assert.Error(t, b.UnmarshalText([]byte("lots")))
	assert.Equal(t, 64*KiB, b, "failed unmarshal must not modify the value")
}

func TestMustParse(t *testing.T) {
	assert.Equal(t, 16*KiB, MustParse("16KiB"))
	assert.Panics(t, func() { MustParse("nope") })
}
