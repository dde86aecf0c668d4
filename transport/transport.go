// Package transport hides the two underlying byte transports behind one polled
// capability. A Session reports what happened since the last poll as abstract
// events (established, readable, writable, closed) and accepts writes without
// ever blocking the caller.
//
// Two variants exist: WebSocket sessions are backed by gorilla/websocket and
// RawSocket sessions by a plain TCP connection. In both, a reader goroutine
// feeds an event queue and a writer goroutine drains a bounded outbox, so they
// produce the same event sequences for the same traffic.
package transport

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/cyberinferno/framedsocket/framecodec"
)

// Mode selects the underlying transport.
type Mode int

const (
	// ModeWebSocket carries frames inside binary WebSocket messages.
	ModeWebSocket Mode = iota
	// ModeRawSocket carries frames directly on a TCP byte stream.
	ModeRawSocket
)

// String returns the configuration name of the mode.
func (m Mode) String() string {
	switch m {
	case ModeWebSocket:
		return "websocket"
	case ModeRawSocket:
		return "rawsocket"
	default:
		return "unknown"
	}
}

// ParseMode converts a configuration name into a Mode.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "websocket", "ws":
		return ModeWebSocket, nil
	case "rawsocket", "raw", "tcp":
		return ModeRawSocket, nil
	default:
		return 0, fmt.Errorf("unknown transport mode %q", s)
	}
}

// EventKind identifies an abstract transport event.
type EventKind int

const (
	// EventEstablished is reported once when the session becomes usable.
	EventEstablished EventKind = iota
	// EventReadable carries bytes received from the peer.
	EventReadable
	// EventWritable reports that the session can accept outbound bytes.
	EventWritable
	// EventClosed is reported once when the session ends. Err is nil for a
	// clean shutdown by the peer.
	EventClosed
)

// String returns a human-readable name for the event kind.
func (k EventKind) String() string {
	switch k {
	case EventEstablished:
		return "Established"
	case EventReadable:
		return "Readable"
	case EventWritable:
		return "Writable"
	case EventClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// Event is one normalized transport occurrence.
type Event struct {
	Kind EventKind
	Data []byte // EventReadable only; owned by the receiver
	Err  error  // EventClosed only
}

// Session is one peer link as seen by a connection.
type Session interface {
	// Mode reports which transport backs the session.
	Mode() Mode

	// PollEvents returns the events that occurred since the previous call, in
	// order. It never blocks. After an EventClosed has been returned it
	// returns nothing.
	PollEvents() []Event

	// WriteNonBlocking writes as much of p as the transport accepts right now.
	// A short count with a nil error means the remainder should be retried on
	// a later writable event.
	WriteNonBlocking(p []byte) (int, error)

	// RemoteEndpoint describes the peer, or UnknownEndpoint.
	RemoteEndpoint() string

	// LocalEndpoint describes the local binding, or UnknownEndpoint.
	LocalEndpoint() string

	// Close releases the session. It is safe to call multiple times.
	Close() error
}

// Listener accepts inbound sessions without blocking.
type Listener interface {
	// Mode reports which transport accepted sessions use.
	Mode() Mode

	// Accept returns the sessions that arrived since the previous call. A
	// non-nil error is informational; the listener stays usable.
	Accept() ([]Session, error)

	// Addr returns the bound network address.
	Addr() net.Addr

	// Close stops accepting and releases the listening endpoint. Sessions
	// already handed out are not affected.
	Close() error
}

// UnknownEndpoint is returned by endpoint accessors when the active transport
// cannot describe the binding.
const UnknownEndpoint = "unknown"

// Errors reported by sessions and listeners. Concrete errors wrap one of these
// together with the underlying cause.
var (
	// ErrBind means the listening endpoint could not be created.
	ErrBind = errors.New("bind error")
	// ErrConnect means client-side connection setup failed.
	ErrConnect = errors.New("connect error")
	// ErrTransport means a read or write failed after establishment.
	ErrTransport = errors.New("transport error")
	// ErrSessionClosed is returned when writing to a session that has ended.
	ErrSessionClosed = errors.New("session closed")
)

// Config holds the settings shared by both transport variants.
type Config struct {
	// ReadChunkSize is the raw socket read buffer size.
	ReadChunkSize int
	// ReadQueueSize caps undrained received bytes per session; the reader
	// stops taking data from the peer until the next poll. Zero means twice
	// MaxMessageSize+framecodec.HeaderSize.
	ReadQueueSize int
	// WriteBufferSize caps bytes accepted by WriteNonBlocking but not yet
	// written to the peer. A single write is always accepted into an empty
	// buffer.
	WriteBufferSize int
	// ConnectTimeout bounds dialing, including the WebSocket handshake.
	ConnectTimeout time.Duration
	// WriteTimeout bounds a single WebSocket message write.
	WriteTimeout time.Duration
	// MaxMessageSize is the largest payload a peer may send; WebSocket
	// messages above MaxMessageSize+framecodec.HeaderSize are refused.
	MaxMessageSize int
	// Subprotocol is the WebSocket subprotocol offered and accepted.
	Subprotocol string
	// Path is the WebSocket endpoint path.
	Path string
	// CheckOrigin filters WebSocket upgrade requests; nil accepts any origin.
	CheckOrigin func(r *http.Request) bool
}

// DefaultConfig returns a Config with defaults: ReadChunkSize 64 KiB,
// WriteBufferSize 256 KiB, ConnectTimeout 10s, WriteTimeout 10s,
// MaxMessageSize 10 MiB, Subprotocol "binary", Path "/". ReadQueueSize
// follows MaxMessageSize.
func DefaultConfig() Config {
	return Config{
		ReadChunkSize:   64 * 1024,
		WriteBufferSize: 256 * 1024,
		ConnectTimeout:  10 * time.Second,
		WriteTimeout:    10 * time.Second,
		MaxMessageSize:  framecodec.DefaultMaxMessageSize,
		Subprotocol:     "binary",
		Path:            "/",
	}
}

// normalize fills zero fields with defaults.
func (c Config) normalize() Config {
	d := DefaultConfig()
	if c.ReadChunkSize <= 0 {
		c.ReadChunkSize = d.ReadChunkSize
	}
	if c.WriteBufferSize <= 0 {
		c.WriteBufferSize = d.WriteBufferSize
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = d.ConnectTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = d.MaxMessageSize
	}
	if c.ReadQueueSize <= 0 {
		c.ReadQueueSize = 2 * (c.MaxMessageSize + framecodec.HeaderSize)
	}
	if c.Subprotocol == "" {
		c.Subprotocol = d.Subprotocol
	}
	if c.Path == "" {
		c.Path = d.Path
	}

	return c
}

func wrapWriteError(err error) error {
	return fmt.Errorf("%w: write: %w", ErrTransport, err)
}

func isClosedError(err error) bool {
	return errors.Is(err, net.ErrClosed)
}

func addrString(a net.Addr) string {
	if a == nil {
		return UnknownEndpoint
	}

	return a.String()
}
