// Package connection binds one transport session to the framing layer. A
// Connection encodes outbound messages into frames, queues them until the
// transport accepts every byte, reassembles inbound frames from arbitrary byte
// fragments and reports lifecycle changes through registered callbacks.
//
// A Connection is driven by ServiceOnce and is not safe for concurrent use: all
// of its methods, and every callback it invokes, run on the goroutine that
// calls ServiceOnce.
package connection

import (
	"context"
	"errors"
	"fmt"

	"github.com/cyberinferno/framedsocket/endpointcache"
	"github.com/cyberinferno/framedsocket/framecodec"
	"github.com/cyberinferno/framedsocket/logger"
	"github.com/cyberinferno/framedsocket/metrics"
	"github.com/cyberinferno/framedsocket/outgoingqueue"
	"github.com/cyberinferno/framedsocket/transport"
)

var (
	// ErrConnectionClosed is returned by Send once the connection has ended or
	// a close was requested.
	ErrConnectionClosed = errors.New("connection closed")
	// ErrPeerClosed is passed to the error handler when the peer shut the
	// session down cleanly.
	ErrPeerClosed = errors.New("peer closed connection")
)

// ReceiveHandler is called with each complete inbound message, in wire order.
// The slice belongs to the handler.
type ReceiveHandler func(msg []byte)

// ConnectedHandler is called once when the connection becomes established.
type ConnectedHandler func()

// ErrorHandler is called once when the connection ends, either with an error
// matching ErrPeerClosed or with a connect or transport error.
type ErrorHandler func(err error)

// Config holds the settings of a Connection.
type Config struct {
	// MaxMessageSize bounds the payload of a single message in both directions.
	MaxMessageSize int
	// MaxQueuedFrames caps frames accepted by Send but not yet written.
	MaxQueuedFrames int
	// MaxQueuedBytes caps unwritten bytes across queued frames.
	MaxQueuedBytes int
	// MaxReceiveBufferSize caps bytes held while waiting for a frame to complete.
	MaxReceiveBufferSize int
	// Transport configures the underlying session.
	Transport transport.Config
	// Logger receives lifecycle logs; nil discards them.
	Logger logger.Logger
	// Metrics receives frame and lifecycle counts; nil discards them.
	Metrics metrics.Collector
	// Resolver, when set, turns the remote address into a host name.
	Resolver *endpointcache.Resolver
}

// DefaultConfig returns a Config with defaults.
//
// Returns:
//   - A Config with MaxMessageSize 10 MiB, MaxQueuedFrames 4096,
//     MaxQueuedBytes 64 MiB, MaxReceiveBufferSize twice a maximal frame and
//     transport.DefaultConfig(); no logger, metrics or resolver.
func DefaultConfig() Config {
	return Config{
		MaxMessageSize:       framecodec.DefaultMaxMessageSize,
		MaxQueuedFrames:      4096,
		MaxQueuedBytes:       64 * 1024 * 1024,
		MaxReceiveBufferSize: 2 * (framecodec.DefaultMaxMessageSize + framecodec.HeaderSize),
		Transport:            transport.DefaultConfig(),
	}
}

func (c Config) normalize() Config {
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = framecodec.DefaultMaxMessageSize
	}
	if c.MaxReceiveBufferSize <= 0 {
		c.MaxReceiveBufferSize = 2 * (c.MaxMessageSize + framecodec.HeaderSize)
	}
	if c.Logger == nil {
		c.Logger = logger.NewNopLogger()
	}
	if c.Metrics == nil {
		c.Metrics = metrics.Nop{}
	}

	c.Transport.MaxMessageSize = c.MaxMessageSize
	return c
}

// Connection is one framed peer link.
type Connection struct {
	id      uint32
	role    Role
	cfg     Config
	session transport.Session
	queue   *outgoingqueue.Queue
	rx      receiveBuffer
	state   State
	log     logger.Logger

	onReceive   ReceiveHandler
	onConnected ConnectedHandler
	onError     ErrorHandler

	inService      bool
	closeRequested bool
	opened         bool
}

// Dial starts a client connection to address. It returns at once in the
// Connecting state; the outcome arrives through later ServiceOnce calls as the
// connected handler or as an error matching transport.ErrConnect.
//
// Parameters:
//   - ctx: Bounds the connection attempt
//   - mode: Transport variant
//   - address: "host:port", or a ws:// URL in WebSocket mode
//   - cfg: Connection settings (e.g. from DefaultConfig)
//
// Returns:
//   - The new connection
//   - An error matching transport.ErrConnect if address can never be dialed
func Dial(ctx context.Context, mode transport.Mode, address string, cfg Config) (*Connection, error) {
	cfg = cfg.normalize()

	session, err := transport.Dial(ctx, mode, address, cfg.Transport)
	if err != nil {
		return nil, err
	}

	c := newConnection(0, RoleClient, session, cfg)
	c.log.Debug("Dialing", logger.Field{Key: "address", Value: address})

	return c, nil
}

// NewServerConnection wraps a session accepted by a server. The connection
// never closes session itself; whoever accepted it releases it once the
// connection reaches a terminal state.
//
// Parameters:
//   - id: Server-assigned identity, unique among live connections
//   - session: The accepted session
//   - cfg: Connection settings
func NewServerConnection(id uint32, session transport.Session, cfg Config) *Connection {
	return newConnection(id, RoleServer, session, cfg.normalize())
}

func newConnection(id uint32, role Role, session transport.Session, cfg Config) *Connection {
	return &Connection{
		id:      id,
		role:    role,
		cfg:     cfg,
		session: session,
		queue: outgoingqueue.New(outgoingqueue.Limits{
			MaxFrames: cfg.MaxQueuedFrames,
			MaxBytes:  cfg.MaxQueuedBytes,
		}),
		rx:    newReceiveBuffer(cfg.MaxReceiveBufferSize, cfg.MaxMessageSize),
		state: Connecting,
		log: cfg.Logger.With(
			logger.Field{Key: "conn_id", Value: id},
			logger.Field{Key: "role", Value: role.String()},
			logger.Field{Key: "mode", Value: session.Mode().String()},
		),
	}
}

// OnReceive registers the handler for inbound messages.
// Only one handler is active; repeated calls replace the previous handler.
// Pass nil to clear the handler.
func (c *Connection) OnReceive(handler ReceiveHandler) {
	c.onReceive = handler
}

// OnConnected registers the handler called when the connection is established.
// Only one handler is active; repeated calls replace the previous handler.
// Pass nil to clear the handler.
func (c *Connection) OnConnected(handler ConnectedHandler) {
	c.onConnected = handler
}

// OnError registers the handler called when the connection ends.
// Only one handler is active; repeated calls replace the previous handler.
// Pass nil to clear the handler.
func (c *Connection) OnError(handler ErrorHandler) {
	c.onError = handler
}

// Send frames msg and queues it for writing. Frames are written in the order
// Send accepted them, starting once the connection is established.
//
// Parameters:
//   - msg: Payload bytes; copied, not retained
//
// Returns:
//   - nil if the frame was queued
//   - framecodec.ErrOversizedMessage if msg exceeds MaxMessageSize
//   - outgoingqueue.ErrBackpressureExceeded if the queue is full
//   - ErrConnectionClosed if the connection has ended
//
// Nothing is queued when an error is returned.
func (c *Connection) Send(msg []byte) error {
	if c.state.Terminal() || c.closeRequested {
		return ErrConnectionClosed
	}

	frame, err := framecodec.Encode(msg, c.cfg.MaxMessageSize)
	if err != nil {
		c.cfg.Metrics.SendRejected("oversized")
		return err
	}

	if err := c.queue.Push(frame); err != nil {
		c.cfg.Metrics.SendRejected("backpressure")
		return err
	}

	return nil
}

// ServiceOnce processes every transport event that occurred since the last
// call and writes as much queued data as the transport accepts. It never
// blocks longer than the transport poll interval. After the connection has
// ended it does nothing.
func (c *Connection) ServiceOnce() {
	if c.state.Terminal() {
		return
	}

	c.inService = true
	for _, ev := range c.session.PollEvents() {
		if c.closeRequested || c.state.Terminal() {
			break
		}

		c.dispatch(ev)
	}
	c.inService = false

	if c.closeRequested {
		c.closeRequested = false
		c.shutdown()
	}
}

// Close ends the connection and discards unsent frames. No handler is called.
// Called from inside a handler, the close takes effect when the current
// ServiceOnce returns. Closing an ended connection is a no-op.
func (c *Connection) Close() error {
	if c.state.Terminal() {
		return nil
	}

	if c.inService {
		c.closeRequested = true
		return nil
	}

	return c.shutdown()
}

func (c *Connection) shutdown() error {
	if c.state.Terminal() {
		return nil
	}

	c.state = Closed
	c.queue.Clear()
	c.rx.reset()
	c.log.Debug("Connection closed locally")
	c.reportClosed(metrics.OutcomeClosed)

	return c.releaseSession()
}

// terminate moves to a terminal state and reports err exactly once.
func (c *Connection) terminate(state State, err error) {
	if c.state.Terminal() {
		return
	}

	c.state = state
	c.queue.Clear()
	c.rx.reset()

	if state == Failed {
		c.log.Warn("Connection failed", logger.Err(err))
		c.reportClosed(metrics.OutcomeFailed)
	} else {
		c.log.Debug("Connection closed by peer")
		c.reportClosed(metrics.OutcomeClosed)
	}

	if err := c.releaseSession(); err != nil {
		c.log.Debug("Session close failed", logger.Err(err))
	}

	if c.onError != nil {
		c.onError(err)
	}
}

func (c *Connection) reportClosed(outcome metrics.Outcome) {
	if c.opened {
		c.cfg.Metrics.ConnectionClosed(c.role.String(), outcome)
	}
}

func (c *Connection) releaseSession() error {
	if c.role == RoleServer {
		return nil
	}

	if err := c.session.Close(); err != nil {
		return fmt.Errorf("close session: %w", err)
	}

	return nil
}

// State returns the current lifecycle state.
func (c *Connection) State() State {
	return c.state
}

// Role returns which side created the connection.
func (c *Connection) Role() Role {
	return c.role
}

// ID returns the server-assigned identity, or 0 for client connections.
func (c *Connection) ID() uint32 {
	return c.id
}

// Mode returns the transport variant.
func (c *Connection) Mode() transport.Mode {
	return c.session.Mode()
}

// QueueLen returns the number of frames not yet fully written.
func (c *Connection) QueueLen() int {
	return c.queue.Len()
}

// RemoteEndpoint describes the peer, or transport.UnknownEndpoint. With a
// Resolver configured the host part is the peer's name; the first lookup of a
// host may block for the resolver timeout.
func (c *Connection) RemoteEndpoint() string {
	endpoint := c.session.RemoteEndpoint()
	if c.cfg.Resolver == nil || endpoint == transport.UnknownEndpoint {
		return endpoint
	}

	return c.cfg.Resolver.Resolve(endpoint)
}

// LocalEndpoint describes the local binding, or transport.UnknownEndpoint.
func (c *Connection) LocalEndpoint() string {
	return c.session.LocalEndpoint()
}
