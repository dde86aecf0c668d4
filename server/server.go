// Package server accepts framed connections on one listening endpoint and
// drives all of them from a single polling tick. Each accepted session gets
// exactly one server-role Connection; connections that reach a terminal state
// are removed and their sessions released at the end of the tick in which
// they ended.
package server

import (
	"fmt"
	"net"
	"os"
	"sync/atomic"
	"time"

	"github.com/cyberinferno/framedsocket/connection"
	"github.com/cyberinferno/framedsocket/idgenerator"
	"github.com/cyberinferno/framedsocket/logger"
	"github.com/cyberinferno/framedsocket/perfmonitor"
	"github.com/cyberinferno/framedsocket/safemap"
	"github.com/cyberinferno/framedsocket/safeset"
	"github.com/cyberinferno/framedsocket/transport"
)

// ClientConnectedFunc is called once for every accepted connection, before
// its first service tick, so handlers can be registered in time for the
// connected event.
type ClientConnectedFunc func(conn *connection.Connection)

// Config holds configuration for a Server.
type Config struct {
	// Name identifies the server in logs.
	Name string
	// Mode selects the transport variant.
	Mode transport.Mode
	// Host is the interface to bind; empty binds all interfaces.
	Host string
	// Path is the WebSocket endpoint path; empty keeps Connection.Transport.Path.
	Path string
	// Connection configures every accepted connection.
	Connection connection.Config
	// SlowTickThreshold logs a warning for ticks that take longer; 0 disables.
	SlowTickThreshold time.Duration
	// Logger receives server logs; nil discards them.
	Logger logger.Logger
}

// DefaultConfig returns a Config for a WebSocket server on all interfaces.
//
// Returns:
//   - A Config with Name "framedsocket", Mode transport.ModeWebSocket,
//     connection.DefaultConfig() and SlowTickThreshold 50ms.
func DefaultConfig() Config {
	return Config{
		Name:              "framedsocket",
		Mode:              transport.ModeWebSocket,
		Connection:        connection.DefaultConfig(),
		SlowTickThreshold: 50 * time.Millisecond,
	}
}

type entry struct {
	conn    *connection.Connection
	session transport.Session
}

// Server owns a listener and the connections it accepted. Start, ServiceOnce
// and Shutdown must be called from the same goroutine, which is also where
// every connection callback runs.
type Server struct {
	cfg         Config
	logger      logger.Logger
	listener    transport.Listener
	connections *safemap.SafeMap[uint32, *entry]
	reap        *safeset.SafeSet[uint32]
	idGenerator *idgenerator.IdGenerator
	tick        *perfmonitor.PerformanceMonitor
	running     atomic.Bool
	onConnected ClientConnectedFunc
}

// New creates a stopped server.
//
// Parameters:
//   - cfg: Server settings (e.g. from DefaultConfig)
func New(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = logger.NewNopLogger()
	}
	if cfg.Connection.Logger == nil {
		cfg.Connection.Logger = cfg.Logger
	}
	if cfg.Path != "" {
		cfg.Connection.Transport.Path = cfg.Path
	}

	return &Server{
		cfg:         cfg,
		logger:      cfg.Logger.With(logger.Field{Key: "server", Value: cfg.Name}),
		connections: safemap.NewSafeMap[uint32, *entry](),
		reap:        safeset.NewSafeSet[uint32](),
		idGenerator: idgenerator.NewIdGenerator(0),
		tick:        perfmonitor.NewPerformanceMonitor(),
	}
}

// Start binds the listening endpoint. Accepting happens inside ServiceOnce.
//
// Parameters:
//   - port: TCP port to bind; 0 picks a free port (see Addr)
//   - onClientConnected: Called for every accepted connection; may be nil
//
// Returns:
//   - An error if the server is already running, or one matching
//     transport.ErrBind if the endpoint cannot be bound
func (s *Server) Start(port int, onClientConnected ClientConnectedFunc) error {
	if s.running.Load() {
		s.logger.Error("server already running")
		return fmt.Errorf("server %s already running", s.cfg.Name)
	}

	ln, err := transport.Listen(s.cfg.Mode, s.cfg.Host, port, s.cfg.Connection.Transport)
	if err != nil {
		s.logger.Error("server failed to start", logger.Err(err))
		return fmt.Errorf("server %s failed to start: %w", s.cfg.Name, err)
	}

	s.listener = ln
	s.onConnected = onClientConnected
	s.running.Store(true)

	s.logger.Info(fmt.Sprintf("%s server started", s.cfg.Name),
		logger.Field{Key: "addr", Value: ln.Addr().String()},
		logger.Field{Key: "mode", Value: s.cfg.Mode.String()},
	)

	return nil
}

// ServiceOnce runs one non-blocking tick: it accepts pending sessions,
// services every connection in accept order and then removes the connections
// that ended during the tick. It does nothing while the server is stopped.
func (s *Server) ServiceOnce() {
	if !s.running.Load() {
		return
	}

	s.tick.Start()

	s.acceptPending()

	s.connections.Range(func(id uint32, e *entry) bool {
		e.conn.ServiceOnce()
		if e.conn.State().Terminal() {
			s.reap.Add(id)
		}

		return true
	})

	s.reapTerminal()

	s.tick.Stop()
	if s.cfg.SlowTickThreshold > 0 && s.tick.Elapsed() > s.cfg.SlowTickThreshold {
		s.logger.Warn("slow service tick",
			logger.Field{Key: "elapsed_ms", Value: s.tick.ElapsedMilliseconds()},
			logger.Field{Key: "connections", Value: s.connections.Len()},
		)
	}
}

func (s *Server) acceptPending() {
	sessions, err := s.listener.Accept()
	if err != nil {
		s.logger.Error(fmt.Sprintf("%s server accept error", s.cfg.Name), logger.Err(err))
	}

	for _, session := range sessions {
		id := s.nextID()
		conn := connection.NewServerConnection(id, session, s.cfg.Connection)
		s.connections.Store(id, &entry{conn: conn, session: session})

		s.logger.Debug("client accepted",
			logger.Field{Key: "conn_id", Value: id},
			logger.Field{Key: "remote", Value: session.RemoteEndpoint()},
		)

		if s.onConnected != nil {
			s.onConnected(conn)
		}
	}
}

// nextID skips ids still held by live connections after wraparound.
func (s *Server) nextID() uint32 {
	for {
		id := s.idGenerator.Id()
		if !s.connections.Has(id) {
			return id
		}
	}
}

func (s *Server) reapTerminal() {
	for _, id := range s.reap.Drain() {
		e, ok := s.connections.Load(id)
		if !ok {
			continue
		}

		s.connections.Delete(id)
		if err := e.session.Close(); err != nil {
			s.logger.Debug("session close failed", logger.Field{Key: "conn_id", Value: id}, logger.Err(err))
		}

		s.logger.Debug("client removed",
			logger.Field{Key: "conn_id", Value: id},
			logger.Field{Key: "state", Value: e.conn.State().String()},
		)
	}
}

// Shutdown closes every connection without invoking their handlers, releases
// their sessions and stops listening. Safe to call when the server is not
// running.
func (s *Server) Shutdown() {
	if !s.running.Load() {
		s.logger.Info(fmt.Sprintf("%s server not running", s.cfg.Name))
		return
	}

	s.running.Store(false)

	s.connections.Range(func(id uint32, e *entry) bool {
		_ = e.conn.Close()
		_ = e.session.Close()
		s.connections.Delete(id)
		return true
	})
	s.reap.Reset()

	if s.listener != nil {
		_ = s.listener.Close()
	}

	s.logger.Info(fmt.Sprintf("%s server stopped", s.cfg.Name))
}

// Addr returns the bound address, or nil before Start.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}

	return s.listener.Addr()
}

// Info returns the host name the server is reachable under, falling back to
// the bound address when the host name is unavailable.
func (s *Server) Info() string {
	if name, err := os.Hostname(); err == nil && name != "" {
		return name
	}

	if addr := s.Addr(); addr != nil {
		return addr.String()
	}

	return transport.UnknownEndpoint
}

// ConnectionCount returns the number of live connections.
func (s *Server) ConnectionCount() int {
	return s.connections.Len()
}

// Connection returns the live connection with the given id.
//
// Parameters:
//   - id: The server-assigned connection id
//
// Returns:
//   - The connection and true if found, or nil and false otherwise
func (s *Server) Connection(id uint32) (*connection.Connection, bool) {
	e, ok := s.connections.Load(id)
	if !ok {
		return nil, false
	}

	return e.conn, true
}
