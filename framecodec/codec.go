// Package framecodec converts between discrete messages and the length-prefixed
// frames that carry them on the wire. A frame is a 4-byte little-endian unsigned
// payload length followed by the payload bytes; there is no checksum, type tag
// or sequence number.
package framecodec

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	// HeaderSize is the width of the length prefix in bytes.
	HeaderSize = 4
	// DefaultMaxMessageSize bounds a single payload (10 MiB).
	DefaultMaxMessageSize = 10 * 1024 * 1024
)

// ErrOversizedMessage is returned when a payload exceeds the configured maximum,
// either when encoding a local message or when a peer declares one.
var ErrOversizedMessage = errors.New("oversized message")

// Encode wraps payload in a frame. A maxSize of 0 or less selects
// DefaultMaxMessageSize.
//
// Parameters:
//   - payload: The message bytes; copied, not retained
//   - maxSize: The largest accepted payload length
//
// Returns:
//   - The frame bytes (header followed by payload)
//   - ErrOversizedMessage if len(payload) > maxSize
func Encode(payload []byte, maxSize int) ([]byte, error) {
	limit := effectiveMax(maxSize)
	if len(payload) > limit {
		return nil, fmt.Errorf("%w: %d bytes exceeds %d", ErrOversizedMessage, len(payload), limit)
	}

	frame := make([]byte, HeaderSize+len(payload))
	binary.LittleEndian.PutUint32(frame, uint32(len(payload)))
	copy(frame[HeaderSize:], payload)

	return frame, nil
}

// TryExtract inspects the head of buf for one complete frame. It must be called
// repeatedly until it reports no message, so pipelined frames delivered in a
// single read are all extracted.
//
// Parameters:
//   - buf: Accumulated bytes, starting at a frame boundary
//   - maxSize: The largest accepted declared length
//
// Returns:
//   - The payload of the head frame (aliases buf), or nil if incomplete
//   - The number of bytes the frame occupies (0 if incomplete)
//   - ErrOversizedMessage if the declared length exceeds maxSize
func TryExtract(buf []byte, maxSize int) ([]byte, int, error) {
	declared, ok := PeekLength(buf)
	if !ok {
		return nil, 0, nil
	}

	limit := effectiveMax(maxSize)
	if declared > uint32(limit) {
		return nil, 0, fmt.Errorf("%w: peer declared %d bytes, limit %d", ErrOversizedMessage, declared, limit)
	}

	if uint32(len(buf)-HeaderSize) < declared {
		return nil, 0, nil
	}

	end := HeaderSize + int(declared)
	return buf[HeaderSize:end:end], end, nil
}

// PeekLength reads the declared payload length at the head of buf.
// It reports false when fewer than HeaderSize bytes are present.
func PeekLength(buf []byte) (uint32, bool) {
	if len(buf) < HeaderSize {
		return 0, false
	}

	return binary.LittleEndian.Uint32(buf), true
}

func effectiveMax(maxSize int) int {
	if maxSize <= 0 {
		return DefaultMaxMessageSize
	}

	return maxSize
}
