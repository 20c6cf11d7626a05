package packet

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadCommand(t *testing.T) {
	f, err := ReadCommand(0x01)
	require.NoError(t, err)
	assert.Equal(t, "aa01"+strings.Repeat("00", DefaultFrameLength-3)+"ab", f.String())
	assert.Equal(t, byte(0xAB), f[DefaultFrameLength-1])
	assert.True(t, f.Valid())
}

func TestWriteCommand(t *testing.T) {
	f, err := WriteCommand(0x04, 0x64)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x33, 0x04, 0x64}, []byte(f[:3]))
	assert.Equal(t, byte(0x33^0x04^0x64), f[DefaultFrameLength-1])
}

func TestWriteCommand_TooManyArgs(t *testing.T) {
	_, err := WriteCommand(0x04, make([]byte, DefaultFrameLength-2)...)
	assert.ErrorIs(t, err, ErrFrameOverflow)
}

func TestParseResponse(t *testing.T) {
	t.Run("read reply", func(t *testing.T) {
		f, err := BuildFrame([]byte{ReadPrefix, 0x04, 0x50}, DefaultFrameLength)
		require.NoError(t, err)

		r, err := ParseResponse(f)
		require.NoError(t, err)
		assert.True(t, r.IsRead())
		assert.False(t, r.IsWrite())
		assert.Equal(t, byte(0x04), r.Code)
		require.Len(t, r.Args, DefaultFrameLength-3)
		assert.Equal(t, byte(0x50), r.Args[0])
		assert.Equal(t, byte(0), r.Args[1])
	})

	t.Run("write acknowledgement", func(t *testing.T) {
		f, err := WriteCommand(0x01, 0x01)
		require.NoError(t, err)

		r, err := ParseResponse(f)
		require.NoError(t, err)
		assert.True(t, r.IsWrite())
	})

	t.Run("args do not alias the input", func(t *testing.T) {
		f, err := WriteCommand(0x01, 0x07)
		require.NoError(t, err)

		r, err := ParseResponse(f)
		require.NoError(t, err)
		f[2] = 0x00
		assert.Equal(t, byte(0x07), r.Args[0])
	})

	t.Run("invalid frame", func(t *testing.T) {
		_, err := ParseResponse([]byte{0xAA, 0x01, 0xAB})
		assert.ErrorIs(t, err, ErrInvalidFrame)
	})
}
