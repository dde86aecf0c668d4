package transport

import (
	"io"
	"sync"
)

// eventQueue collects events produced by a reader goroutine until the polling
// goroutine drains them. push waits while more than limit bytes of readable
// data are undrained, so a slow poller holds back the peer instead of
// buffering without bound.
type eventQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	events []Event
	bytes  int
	limit  int
	closed bool
}

func newEventQueue(limit int) *eventQueue {
	q := &eventQueue{limit: limit}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// push appends ev. It reports false once the queue was closed.
func (q *eventQueue) push(ev Event) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	for q.bytes >= q.limit && !q.closed {
		q.cond.Wait()
	}

	if q.closed {
		return false
	}

	q.events = append(q.events, ev)
	q.bytes += len(ev.Data)
	return true
}

func (q *eventQueue) drain() []Event {
	q.mu.Lock()
	defer q.mu.Unlock()

	events := q.events
	q.events = nil
	q.bytes = 0
	q.cond.Broadcast()

	return events
}

// close drops queued events and releases a waiting reader.
func (q *eventQueue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.closed = true
	q.events = nil
	q.bytes = 0
	q.cond.Broadcast()
}

// collectEvents appends the drained events to events up to and including the
// first EventClosed. closed reports whether one was seen.
func collectEvents(events []Event, q *eventQueue) (_ []Event, closed bool) {
	for _, ev := range q.drain() {
		events = append(events, ev)
		if ev.Kind == EventClosed {
			return events, true
		}
	}

	return events, false
}

// outbox hands outbound bytes from the polling goroutine to a writer
// goroutine. It holds at most limit unwritten bytes, except that one chunk is
// always accepted while the outbox is empty.
type outbox struct {
	mu      sync.Mutex
	chunks  [][]byte
	bytes   int
	limit   int
	err     error
	stopped bool
	wake    chan struct{}
}

func newOutbox(limit int) *outbox {
	return &outbox{limit: limit, wake: make(chan struct{}, 1)}
}

// offer copies p, or as much of it as fits when partial is set, and returns
// the number of bytes taken. A full outbox takes nothing and reports no error.
func (o *outbox) offer(p []byte, partial bool) (int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.err != nil {
		return 0, o.err
	}

	if o.stopped {
		return 0, ErrSessionClosed
	}

	n := len(p)
	if o.bytes > 0 && o.bytes+n > o.limit {
		if !partial {
			return 0, nil
		}

		n = o.limit - o.bytes
		if n <= 0 {
			return 0, nil
		}
	}

	chunk := make([]byte, n)
	copy(chunk, p)
	o.chunks = append(o.chunks, chunk)
	o.bytes += n

	select {
	case o.wake <- struct{}{}:
	default:
	}

	return n, nil
}

// next blocks until chunks are queued. ok is false once the outbox stopped.
func (o *outbox) next() (chunks [][]byte, ok bool) {
	for {
		o.mu.Lock()
		if o.stopped {
			o.mu.Unlock()
			return nil, false
		}

		if len(o.chunks) > 0 {
			chunks = o.chunks
			o.chunks = nil
			o.mu.Unlock()
			return chunks, true
		}
		o.mu.Unlock()

		<-o.wake
	}
}

// written releases n bytes of capacity and reports whether writing goes on.
func (o *outbox) written(n int) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.bytes -= n
	return !o.stopped
}

// fail records a write error for later offers. It reports false when the
// outbox was already stopped by a local close.
func (o *outbox) fail(err error) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.stopped {
		return false
	}

	o.err = err
	return true
}

func (o *outbox) stop() {
	o.mu.Lock()
	o.stopped = true
	o.chunks = nil
	o.mu.Unlock()

	select {
	case o.wake <- struct{}{}:
	default:
	}
}

// run writes queued chunks until the outbox stops or a write fails. failed is
// called with the wrapped write error unless the session was closed locally.
func (o *outbox) run(write func([]byte) error, failed func(error)) {
	for {
		chunks, ok := o.next()
		if !ok {
			return
		}

		for _, chunk := range chunks {
			if err := write(chunk); err != nil {
				err = wrapWriteError(err)
				if o.fail(err) {
					failed(err)
				}
				return
			}

			if !o.written(len(chunk)) {
				return
			}
		}
	}
}

// sessionPark holds sessions accepted on a background goroutine until the
// polling goroutine collects them.
type sessionPark struct {
	mu      sync.Mutex
	pending []Session
	failed  error
	closed  bool
}

// park queues s, or closes it when the listener is already closed.
func (p *sessionPark) park(s Session) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		_ = s.Close()
		return
	}

	p.pending = append(p.pending, s)
}

func (p *sessionPark) fail(err error) {
	p.mu.Lock()
	p.failed = err
	p.mu.Unlock()
}

func (p *sessionPark) collect() ([]Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	sessions := p.pending
	p.pending = nil

	err := p.failed
	p.failed = nil

	return sessions, err
}

// shut marks the park closed and closes sessions nobody collected.
func (p *sessionPark) shut() {
	p.mu.Lock()
	p.closed = true
	pending := p.pending
	p.pending = nil
	p.mu.Unlock()

	for _, s := range pending {
		_ = s.Close()
	}
}

func closeConn(c io.Closer) error {
	if err := c.Close(); err != nil && !isClosedError(err) {
		return err
	}

	return nil
}
