package server

import (
	"context"
	"errors"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/cyberinferno/framedsocket/connection"
	"github.com/cyberinferno/framedsocket/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, mode transport.Mode) *Server {
	t.Helper()

	cfg := DefaultConfig()
	cfg.Mode = mode
	cfg.Host = "127.0.0.1"
	cfg.SlowTickThreshold = 0

	s := New(cfg)
	t.Cleanup(s.Shutdown)

	return s
}

func dialServer(t *testing.T, s *Server) *connection.Connection {
	t.Helper()

	port := s.Addr().(*net.TCPAddr).Port
	c, err := connection.Dial(context.Background(), s.cfg.Mode,
		net.JoinHostPort("127.0.0.1", strconv.Itoa(port)), connection.DefaultConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	return c
}

// pump ticks the server and clients until done reports true or time runs out.
func pump(s *Server, clients []*connection.Connection, done func() bool) bool {
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		s.ServiceOnce()
		for _, c := range clients {
			c.ServiceOnce()
		}

		if done() {
			return true
		}
	}

	return false
}

func TestServer_Start(t *testing.T) {
	t.Run("occupied port is a bind error", func(t *testing.T) {
		first := newTestServer(t, transport.ModeRawSocket)
		require.NoError(t, first.Start(0, nil))

		second := newTestServer(t, transport.ModeRawSocket)
		err := second.Start(first.Addr().(*net.TCPAddr).Port, nil)
		assert.ErrorIs(t, err, transport.ErrBind)
		assert.Nil(t, second.Addr())
	})

	t.Run("starting twice fails", func(t *testing.T) {
		s := newTestServer(t, transport.ModeRawSocket)
		require.NoError(t, s.Start(0, nil))

		err := s.Start(0, nil)
		require.Error(t, err)
		assert.False(t, errors.Is(err, transport.ErrBind))
	})

	t.Run("info names the host", func(t *testing.T) {
		s := newTestServer(t, transport.ModeRawSocket)
		require.NoError(t, s.Start(0, nil))
		assert.NotEmpty(t, s.Info())
	})
}

func TestServer_PingPong(t *testing.T) {
	for _, mode := range []transport.Mode{transport.ModeRawSocket, transport.ModeWebSocket} {
		t.Run(mode.String(), func(t *testing.T) {
			s := newTestServer(t, mode)

			var accepted []*connection.Connection
			require.NoError(t, s.Start(0, func(conn *connection.Connection) {
				accepted = append(accepted, conn)
				conn.OnReceive(func(msg []byte) {
					if string(msg) == "PING" {
						assert.NoError(t, conn.Send([]byte("PONG")))
					}
				})
			}))

			client := dialServer(t, s)
			var replies []string
			client.OnConnected(func() { assert.NoError(t, client.Send([]byte("PING"))) })
			client.OnReceive(func(msg []byte) { replies = append(replies, string(msg)) })

			ok := pump(s, []*connection.Connection{client}, func() bool { return len(replies) > 0 })
			require.True(t, ok, "no reply within deadline")

			assert.Equal(t, []string{"PONG"}, replies)
			require.Len(t, accepted, 1)
			assert.Equal(t, uint32(1), accepted[0].ID())
			assert.Equal(t, connection.RoleServer, accepted[0].Role())
			assert.Equal(t, 1, s.ConnectionCount())

			got, found := s.Connection(accepted[0].ID())
			assert.True(t, found)
			assert.Same(t, accepted[0], got)
		})
	}
}

func TestServer_IdleTickIsFast(t *testing.T) {
	const peers = 100

	for _, mode := range []transport.Mode{transport.ModeRawSocket, transport.ModeWebSocket} {
		t.Run(mode.String(), func(t *testing.T) {
			s := newTestServer(t, mode)
			require.NoError(t, s.Start(0, nil))

			clients := make([]*connection.Connection, 0, peers)
			for i := 0; i < peers; i++ {
				clients = append(clients, dialServer(t, s))
			}

			require.True(t, pump(s, clients, func() bool {
				if s.ConnectionCount() != peers {
					return false
				}
				for _, c := range clients {
					if c.State() != connection.Established {
						return false
					}
				}
				return true
			}))

			start := time.Now()
			s.ServiceOnce()
			assert.Less(t, time.Since(start), 20*time.Millisecond)
			assert.Equal(t, peers, s.ConnectionCount())
		})
	}
}

func TestServer_Reaping(t *testing.T) {
	t.Run("closed clients are removed", func(t *testing.T) {
		s := newTestServer(t, transport.ModeRawSocket)
		var errs []error
		require.NoError(t, s.Start(0, func(conn *connection.Connection) {
			conn.OnError(func(err error) { errs = append(errs, err) })
		}))

		a := dialServer(t, s)
		b := dialServer(t, s)
		clients := []*connection.Connection{a, b}

		require.True(t, pump(s, clients, func() bool {
			return s.ConnectionCount() == 2 &&
				a.State() == connection.Established && b.State() == connection.Established
		}))

		require.NoError(t, a.Close())
		require.True(t, pump(s, clients, func() bool { return s.ConnectionCount() == 1 }))

		require.Len(t, errs, 1)
		assert.ErrorIs(t, errs[0], connection.ErrPeerClosed)
		assert.Equal(t, connection.Established, b.State())
	})

	t.Run("server side close is seen by the client", func(t *testing.T) {
		s := newTestServer(t, transport.ModeWebSocket)
		var accepted *connection.Connection
		require.NoError(t, s.Start(0, func(conn *connection.Connection) {
			accepted = conn
			conn.OnConnected(func() { assert.NoError(t, conn.Close()) })
		}))

		client := dialServer(t, s)
		var clientErr error
		client.OnError(func(err error) { clientErr = err })

		require.True(t, pump(s, []*connection.Connection{client}, func() bool {
			return client.State().Terminal()
		}))

		assert.ErrorIs(t, clientErr, connection.ErrPeerClosed)
		assert.Equal(t, connection.Closed, accepted.State())
		assert.Equal(t, 0, s.ConnectionCount())
	})
}

func TestServer_Shutdown(t *testing.T) {
	s := newTestServer(t, transport.ModeRawSocket)
	require.NoError(t, s.Start(0, nil))

	client := dialServer(t, s)
	require.True(t, pump(s, []*connection.Connection{client}, func() bool {
		return s.ConnectionCount() == 1 && client.State() == connection.Established
	}))

	s.Shutdown()
	assert.Equal(t, 0, s.ConnectionCount())

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) && !client.State().Terminal() {
		client.ServiceOnce()
	}
	assert.True(t, client.State().Terminal())

	s.ServiceOnce()
	s.Shutdown()
}
