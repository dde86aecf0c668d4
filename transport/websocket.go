package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cyberinferno/framedsocket/framecodec"
)

// closeGracePeriod bounds the close handshake write on Close.
const closeGracePeriod = time.Second

// wsSession is a WebSocket-backed session. gorilla/websocket only offers
// blocking reads and writes, so a pump goroutine owns reads and a writer
// goroutine owns message writes; polling only exchanges queued work with them.
type wsSession struct {
	cfg    Config
	conn   *websocket.Conn
	dial   *pendingDial[*websocket.Conn]
	events *eventQueue
	out    *outbox
	fresh  bool
	closed bool
}

func dialWebSocket(ctx context.Context, target string, cfg Config) *wsSession {
	s := &wsSession{cfg: cfg}
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: cfg.ConnectTimeout,
		Subprotocols:     []string{cfg.Subprotocol},
	}

	s.dial = startDial(ctx, cfg, func(ctx context.Context) (*websocket.Conn, error) {
		conn, _, err := dialer.DialContext(ctx, target, nil)
		return conn, err
	})

	return s
}

func newAcceptedWebSocket(conn *websocket.Conn, cfg Config) *wsSession {
	s := &wsSession{cfg: cfg, conn: conn, fresh: true}
	s.startPump()
	return s
}

func (s *wsSession) startPump() {
	s.conn.SetReadLimit(int64(s.cfg.MaxMessageSize + framecodec.HeaderSize))
	s.events = newEventQueue(s.cfg.ReadQueueSize)
	s.out = newOutbox(s.cfg.WriteBufferSize)

	conn, events, writeTimeout := s.conn, s.events, s.cfg.WriteTimeout
	go func() {
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				events.push(Event{Kind: EventClosed, Err: classifyReadError(err)})
				return
			}

			if len(data) > 0 && !events.push(Event{Kind: EventReadable, Data: data}) {
				return
			}
		}
	}()

	go s.out.run(func(p []byte) error {
		_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		return conn.WriteMessage(websocket.BinaryMessage, p)
	}, func(err error) {
		events.push(Event{Kind: EventClosed, Err: err})
		_ = conn.Close()
	})
}

// classifyReadError maps a clean close handshake or EOF to nil.
func classifyReadError(err error) error {
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
		return nil
	}

	if errors.Is(err, io.EOF) {
		return nil
	}

	return fmt.Errorf("%w: read: %w", ErrTransport, err)
}

// Mode implements Session.
func (s *wsSession) Mode() Mode {
	return ModeWebSocket
}

// PollEvents implements Session.
func (s *wsSession) PollEvents() []Event {
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
		s.startPump()
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

// WriteNonBlocking implements Session. p is taken whole as one binary message
// or, when the outbox is full, not at all.
func (s *wsSession) WriteNonBlocking(p []byte) (int, error) {
	if s.closed || s.conn == nil {
		return 0, ErrSessionClosed
	}

	return s.out.offer(p, false)
}

// RemoteEndpoint implements Session.
func (s *wsSession) RemoteEndpoint() string {
	if s.conn == nil {
		return UnknownEndpoint
	}

	return addrString(s.conn.RemoteAddr())
}

// LocalEndpoint implements Session.
func (s *wsSession) LocalEndpoint() string {
	if s.conn == nil {
		return UnknownEndpoint
	}

	return addrString(s.conn.LocalAddr())
}

// Close implements Session. Unwritten messages are discarded; the close
// handshake and teardown finish on a background goroutine.
func (s *wsSession) Close() error {
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

	go func() {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeGracePeriod))
		_ = closeConn(conn)
	}()

	return nil
}

// wsListener serves WebSocket upgrades from an http.Server running on its own
// goroutine and parks upgraded sessions until Accept collects them.
type wsListener struct {
	cfg      Config
	ln       net.Listener
	srv      *http.Server
	upgrader websocket.Upgrader
	park     sessionPark
}

func listenWebSocket(address string, cfg Config) (*wsListener, error) {
	ln, err := net.Listen("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBind, err)
	}

	checkOrigin := cfg.CheckOrigin
	if checkOrigin == nil {
		checkOrigin = func(r *http.Request) bool { return true }
	}

	l := &wsListener{
		cfg: cfg,
		ln:  ln,
		upgrader: websocket.Upgrader{
			HandshakeTimeout: cfg.ConnectTimeout,
			Subprotocols:     []string{cfg.Subprotocol},
			CheckOrigin:      checkOrigin,
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc(cfg.Path, l.handleUpgrade)
	l.srv = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: cfg.ConnectTimeout,
	}

	go func() {
		if err := l.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.park.fail(err)
		}
	}()

	return l, nil
}

func (l *wsListener) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := l.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied with an HTTP error.
		return
	}

	l.park.park(newAcceptedWebSocket(conn, l.cfg))
}

// Mode implements Listener.
func (l *wsListener) Mode() Mode {
	return ModeWebSocket
}

// Accept implements Listener.
func (l *wsListener) Accept() ([]Session, error) {
	sessions, err := l.park.collect()
	if err != nil {
		err = fmt.Errorf("serve: %w", err)
	}

	return sessions, err
}

// Addr implements Listener.
func (l *wsListener) Addr() net.Addr {
	return l.ln.Addr()
}

// Close implements Listener. Sessions upgraded but never collected are closed.
func (l *wsListener) Close() error {
	l.park.shut()
	return l.srv.Close()
}
