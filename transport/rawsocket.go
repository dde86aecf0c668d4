package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"
)

// maxAcceptDelay caps the backoff after a failing accept.
const maxAcceptDelay = time.Second

// rawSession drives a TCP connection through a reader goroutine feeding an
// event queue and a writer goroutine draining an outbox, so polling and
// writing never wait on the socket.
type rawSession struct {
	cfg    Config
	conn   net.Conn
	dial   *pendingDial[net.Conn]
	events *eventQueue
	out    *outbox
	fresh  bool // established but not yet announced
	closed bool
}

func dialRawSocket(ctx context.Context, address string, cfg Config) *rawSession {
	s := &rawSession{cfg: cfg}
	s.dial = startDial(ctx, cfg, func(ctx context.Context) (net.Conn, error) {
		var d net.Dialer
		conn, err := d.DialContext(ctx, "tcp", address)
		if err != nil {
			return nil, err
		}

		if tcp, ok := conn.(*net.TCPConn); ok {
			_ = tcp.SetNoDelay(true)
		}

		return conn, nil
	})

	return s
}

func newAcceptedRawSocket(conn net.Conn, cfg Config) *rawSession {
	s := &rawSession{cfg: cfg, conn: conn, fresh: true}
	s.start()
	return s
}

func (s *rawSession) start() {
	s.events = newEventQueue(s.cfg.ReadQueueSize)
	s.out = newOutbox(s.cfg.WriteBufferSize)

	conn, events := s.conn, s.events
	go readRawSocket(conn, events, s.cfg.ReadChunkSize)
	go s.out.run(func(p []byte) error {
		_, err := conn.Write(p)
		return err
	}, func(err error) {
		events.push(Event{Kind: EventClosed, Err: err})
		_ = conn.Close()
	})
}

func readRawSocket(conn net.Conn, events *eventQueue, chunkSize int) {
	buf := make([]byte, chunkSize)

	for {
		n, err := conn.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			if !events.push(Event{Kind: EventReadable, Data: data}) {
				return
			}
		}

		if err != nil {
			if errors.Is(err, io.EOF) {
				events.push(Event{Kind: EventClosed})
				return
			}

			events.push(Event{Kind: EventClosed, Err: fmt.Errorf("%w: read: %w", ErrTransport, err)})
			return
		}
	}
}

// Mode implements Session.
func (s *rawSession) Mode() Mode {
	return ModeRawSocket
}

// PollEvents implements Session.
func (s *rawSession) PollEvents() []Event {
	if s.closed {
		return nil
	}

	var events []Event

	if s.conn == nil {
		conn, err, ready := s.dial.take()
		if !ready {
			return nil
		}

		if err != nil {
			s.closed = true
			return []Event{{Kind: EventClosed, Err: fmt.Errorf("%w: %w", ErrConnect, err)}}
		}

		s.conn = conn
		s.fresh = true
		s.start()
	}

	if s.fresh {
		s.fresh = false
		events = append(events, Event{Kind: EventEstablished})
	}

	events, s.closed = collectEvents(events, s.events)
	if s.closed {
		return events
	}

	return append(events, Event{Kind: EventWritable})
}

// WriteNonBlocking implements Session. Bytes beyond the free outbox space are
// left to the caller and reported as a short count.
func (s *rawSession) WriteNonBlocking(p []byte) (int, error) {
	if s.closed || s.conn == nil {
		return 0, ErrSessionClosed
	}

	return s.out.offer(p, true)
}

// RemoteEndpoint implements Session.
func (s *rawSession) RemoteEndpoint() string {
	if s.conn == nil {
		return UnknownEndpoint
	}

	return addrString(s.conn.RemoteAddr())
}

// LocalEndpoint implements Session.
func (s *rawSession) LocalEndpoint() string {
	if s.conn == nil {
		return UnknownEndpoint
	}

	return addrString(s.conn.LocalAddr())
}

// Close implements Session. Unwritten bytes are discarded.
func (s *rawSession) Close() error {
	s.closed = true

	if s.dial != nil {
		s.dial.abandon()
	}

	if s.conn == nil {
		return nil
	}

	s.events.close()
	s.out.stop()

	conn := s.conn
	s.conn = nil
	return closeConn(conn)
}

// rawListener accepts TCP connections on its own goroutine and parks them
// until Accept collects them.
type rawListener struct {
	cfg  Config
	ln   *net.TCPListener
	park sessionPark
}

func listenRawSocket(address string, cfg Config) (*rawListener, error) {
	addr, err := net.ResolveTCPAddr("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBind, err)
	}

	ln, err := net.ListenTCP("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBind, err)
	}

	l := &rawListener{cfg: cfg, ln: ln}
	go l.acceptLoop()

	return l, nil
}

func (l *rawListener) acceptLoop() {
	var delay time.Duration

	for {
		conn, err := l.ln.AcceptTCP()
		if err != nil {
			if isClosedError(err) {
				return
			}

			l.park.fail(err)

			if delay == 0 {
				delay = 5 * time.Millisecond
			} else {
				delay = min(2*delay, maxAcceptDelay)
			}
			time.Sleep(delay)
			continue
		}

		delay = 0
		_ = conn.SetNoDelay(true)
		l.park.park(newAcceptedRawSocket(conn, l.cfg))
	}
}

// Mode implements Listener.
func (l *rawListener) Mode() Mode {
	return ModeRawSocket
}

// Accept implements Listener.
func (l *rawListener) Accept() ([]Session, error) {
	sessions, err := l.park.collect()
	if err != nil {
		err = fmt.Errorf("accept: %w", err)
	}

	return sessions, err
}

// Addr implements Listener.
func (l *rawListener) Addr() net.Addr {
	return l.ln.Addr()
}

// Close implements Listener. Sessions accepted but never collected are closed.
func (l *rawListener) Close() error {
	err := l.ln.Close()
	l.park.shut()
	return err
}
