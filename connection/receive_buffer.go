package connection

import (
	"fmt"

	"github.com/cyberinferno/framedsocket/framecodec"
	"github.com/cyberinferno/framedsocket/outgoingqueue"
)

// receiveBuffer accumulates inbound bytes until they form whole frames. Bytes
// before start have been consumed; the buffer always begins at a frame
// boundary.
type receiveBuffer struct {
	data    []byte
	start   int
	limit   int
	maxSize int
}

func newReceiveBuffer(limit, maxSize int) receiveBuffer {
	return receiveBuffer{limit: limit, maxSize: maxSize}
}

// append adds p to the pending bytes. It refuses input that would grow the
// pending bytes past the ceiling.
func (b *receiveBuffer) append(p []byte) error {
	if b.limit > 0 && b.pending()+len(p) > b.limit {
		return fmt.Errorf("%w: receive buffer holds %d bytes, limit %d",
			outgoingqueue.ErrBackpressureExceeded, b.pending()+len(p), b.limit)
	}

	b.data = append(b.data, p...)
	return nil
}

// next extracts the head frame's payload. The returned slice is only valid
// until the next call to append or compact.
func (b *receiveBuffer) next() ([]byte, bool, error) {
	payload, consumed, err := framecodec.TryExtract(b.data[b.start:], b.maxSize)
	if err != nil || consumed == 0 {
		return nil, false, err
	}

	b.start += consumed
	return payload, true, nil
}

// compact moves the trailing partial frame to the front of the buffer.
func (b *receiveBuffer) compact() {
	if b.start == 0 {
		return
	}

	if b.start == len(b.data) {
		b.data = b.data[:0]
		b.start = 0
		return
	}

	n := copy(b.data, b.data[b.start:])
	b.data = b.data[:n]
	b.start = 0
}

func (b *receiveBuffer) pending() int {
	return len(b.data) - b.start
}

func (b *receiveBuffer) reset() {
	b.data = nil
	b.start = 0
}
