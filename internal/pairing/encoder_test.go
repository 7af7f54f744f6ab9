package pairing

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var pngMagic = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}

func TestEncoder_Encode(t *testing.T) {
	enc := NewEncoder(0)

	t.Run("produces a PNG", func(t *testing.T) {
		png, err := enc.Encode("2@abc,def,ghi")
		require.NoError(t, err)
		assert.True(t, bytes.HasPrefix(png, pngMagic))
	})

	t.Run("is deterministic", func(t *testing.T) {
		a, err := enc.Encode("xyz")
		require.NoError(t, err)
		b, err := enc.Encode("xyz")
		require.NoError(t, err)
		assert.Equal(t, a, b)
	})

	t.Run("different payloads differ", func(t *testing.T) {
		a, _ := enc.Encode("abc")
		b, _ := enc.Encode("xyz")
		assert.NotEqual(t, a, b)
	})

	tests := []struct {
		name    string
		payload string
	}{
		{"empty", ""},
		{"whitespace only", "   \t"},
		{"too long", strings.Repeat("a", MaxPayloadLength+1)},
		{"invalid utf8", string([]byte{0xff, 0xfe})},
	}
	for _, tt := range tests {
		t.Run("rejects "+tt.name, func(t *testing.T) {
			_, err := enc.Encode(tt.payload)
			assert.True(t, errors.Is(err, ErrInvalidPayload))
		})
	}
}

func TestEncoder_DataURL(t *testing.T) {
	enc := NewEncoder(128)

	url, err := enc.DataURL("abc")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(url, "data:image/png;base64,"))

	_, err = enc.DataURL("")
	assert.ErrorIs(t, err, ErrInvalidPayload)
}
