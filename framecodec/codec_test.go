package framecodec

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncode(t *testing.T) {
	t.Run("prefixes little-endian length", func(t *testing.T) {
		frame, err := Encode([]byte("PING"), 0)
		require.NoError(t, err)
		assert.Equal(t, []byte{0x04, 0x00, 0x00, 0x00, 0x50, 0x49, 0x4E, 0x47}, frame)
	})

	t.Run("empty payload encodes to a bare header", func(t *testing.T) {
		frame, err := Encode(nil, 0)
		require.NoError(t, err)
		assert.Equal(t, []byte{0, 0, 0, 0}, frame)
	})

	t.Run("payload at the limit is accepted", func(t *testing.T) {
		frame, err := Encode(make([]byte, 16), 16)
		require.NoError(t, err)
		assert.Len(t, frame, HeaderSize+16)
	})

	t.Run("payload over the limit is rejected", func(t *testing.T) {
		frame, err := Encode(make([]byte, 17), 16)
		assert.ErrorIs(t, err, ErrOversizedMessage)
		assert.Nil(t, frame)
	})

	t.Run("frame does not alias the payload", func(t *testing.T) {
		payload := []byte("abc")
		frame, err := Encode(payload, 0)
		require.NoError(t, err)
		payload[0] = 'z'
		assert.Equal(t, byte('a'), frame[HeaderSize])
	})
}

func TestTryExtract(t *testing.T) {
	t.Run("round trip for assorted sizes", func(t *testing.T) {
		for _, size := range []int{0, 1, 3, 4, 5, 255, 256, 65536} {
			payload := bytes.Repeat([]byte{0xAB}, size)
			frame, err := Encode(payload, 0)
			require.NoError(t, err)

			got, consumed, err := TryExtract(frame, 0)
			require.NoError(t, err)
			assert.Equal(t, len(frame), consumed, "size %d", size)
			assert.Equal(t, payload, got, "size %d", size)
		}
	})

	t.Run("fewer than header bytes is incomplete", func(t *testing.T) {
		got, consumed, err := TryExtract([]byte{4, 0, 0}, 0)
		require.NoError(t, err)
		assert.Nil(t, got)
		assert.Zero(t, consumed)
	})

	t.Run("short payload is incomplete", func(t *testing.T) {
		got, consumed, err := TryExtract([]byte{4, 0, 0, 0, 'P', 'I', 'N'}, 0)
		require.NoError(t, err)
		assert.Nil(t, got)
		assert.Zero(t, consumed)
	})

	t.Run("only the head frame is consumed", func(t *testing.T) {
		first, _ := Encode([]byte("one"), 0)
		second, _ := Encode([]byte("two"), 0)
		buf := append(append([]byte{}, first...), second...)

		got, consumed, err := TryExtract(buf, 0)
		require.NoError(t, err)
		assert.Equal(t, []byte("one"), got)
		assert.Equal(t, len(first), consumed)

		got, consumed, err = TryExtract(buf[consumed:], 0)
		require.NoError(t, err)
		assert.Equal(t, []byte("two"), got)
		assert.Equal(t, len(second), consumed)
	})

	t.Run("declared length over the limit fails", func(t *testing.T) {
		_, _, err := TryExtract([]byte{0xFF, 0xFF, 0xFF, 0xFF}, 1024)
		assert.ErrorIs(t, err, ErrOversizedMessage)
	})

	t.Run("payload capacity is clipped to the frame", func(t *testing.T) {
		buf := []byte{1, 0, 0, 0, 'x', 'y', 'z'}
		got, _, err := TryExtract(buf, 0)
		require.NoError(t, err)
		assert.Equal(t, 1, cap(got))
	})
}

func TestPeekLength(t *testing.T) {
	n, ok := PeekLength([]byte{0x10, 0x00, 0x00, 0x00})
	assert.True(t, ok)
	assert.Equal(t, uint32(16), n)

	_, ok = PeekLength([]byte{0x10})
	assert.False(t, ok)
}
