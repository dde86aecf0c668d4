// Package outgoingqueue holds the frames a connection has accepted for sending
// but not yet fully written. Frames leave strictly in the order they were
// pushed and only after every byte of them reached the transport.
package outgoingqueue

import (
	"errors"
	"fmt"
)

// ErrBackpressureExceeded is returned by Push when accepting the frame would
// exceed one of the configured limits. Nothing is enqueued in that case.
var ErrBackpressureExceeded = errors.New("backpressure exceeded")

// Limits caps the queue. A zero field disables that cap.
type Limits struct {
	// MaxFrames is the largest number of pending frames.
	MaxFrames int
	// MaxBytes is the largest number of pending, unwritten bytes.
	MaxBytes int
}

// Queue is a FIFO of frames with a write cursor into the head frame. It is not
// safe for concurrent use; a connection only touches it from its service tick.
type Queue struct {
	limits  Limits
	frames  [][]byte
	head    int // index of the head frame in frames
	written int // bytes of the head frame already written
	pending int // unwritten bytes across all frames
}

// New returns an empty queue enforcing limits.
func New(limits Limits) *Queue {
	return &Queue{limits: limits}
}

// Push appends frame to the tail.
//
// Parameters:
//   - frame: Encoded frame bytes; the queue takes ownership
//
// Returns:
//   - ErrBackpressureExceeded if a limit would be exceeded
func (q *Queue) Push(frame []byte) error {
	if q.limits.MaxFrames > 0 && q.Len()+1 > q.limits.MaxFrames {
		return fmt.Errorf("%w: %d frames pending", ErrBackpressureExceeded, q.Len())
	}

	if q.limits.MaxBytes > 0 && q.pending+len(frame) > q.limits.MaxBytes {
		return fmt.Errorf("%w: %d bytes pending", ErrBackpressureExceeded, q.pending)
	}

	q.frames = append(q.frames, frame)
	q.pending += len(frame)

	return nil
}

// Front returns the unwritten remainder of the head frame.
func (q *Queue) Front() ([]byte, bool) {
	if q.Len() == 0 {
		return nil, false
	}

	return q.frames[q.head][q.written:], true
}

// HeadSize returns the full length of the head frame, or 0 when empty.
func (q *Queue) HeadSize() int {
	if q.Len() == 0 {
		return 0
	}

	return len(q.frames[q.head])
}

// Advance records that n bytes of the head frame were written. Once the head
// frame is fully written it is popped and Advance reports true.
func (q *Queue) Advance(n int) bool {
	if q.Len() == 0 || n <= 0 {
		return false
	}

	remaining := len(q.frames[q.head]) - q.written
	if n > remaining {
		n = remaining
	}

	q.written += n
	q.pending -= n

	if q.written < len(q.frames[q.head]) {
		return false
	}

	q.popHead()
	return true
}

// PopFront removes the head frame, counting any unwritten remainder as dropped.
func (q *Queue) PopFront() {
	if q.Len() == 0 {
		return
	}

	q.pending -= len(q.frames[q.head]) - q.written
	q.popHead()
}

// Len returns the number of frames not yet fully written.
func (q *Queue) Len() int {
	return len(q.frames) - q.head
}

// Bytes returns the number of unwritten bytes across all pending frames.
func (q *Queue) Bytes() int {
	return q.pending
}

// InProgress reports whether the head frame has been partially written.
func (q *Queue) InProgress() bool {
	return q.Len() > 0 && q.written > 0
}

// Clear drops every pending frame.
func (q *Queue) Clear() {
	q.frames = nil
	q.head = 0
	q.written = 0
	q.pending = 0
}

func (q *Queue) popHead() {
	q.frames[q.head] = nil
	q.head++
	q.written = 0

	// Reclaim the consumed prefix once it dominates the backing array.
	if q.head == len(q.frames) {
		q.frames = q.frames[:0]
		q.head = 0
	} else if q.head >= 64 && q.head*2 >= len(q.frames) {
		q.frames = append(q.frames[:0:0], q.frames[q.head:]...)
		q.head = 0
	}
}
