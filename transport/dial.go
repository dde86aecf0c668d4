package transport

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/url"
	"strconv"
	"strings"
	"sync"
)

// Dial starts connecting to address and returns immediately with a session
// that reports EventEstablished, or EventClosed wrapping ErrConnect, from a
// later poll. An address that can never be dialed fails synchronously with
// ErrConnect.
//
// Parameters:
//   - ctx: Bounds the connection attempt; canceling it aborts the dial
//   - mode: Transport variant
//   - address: "host:port", or a ws:// / wss:// URL in WebSocket mode
//   - cfg: Transport settings; zero fields take defaults
func Dial(ctx context.Context, mode Mode, address string, cfg Config) (Session, error) {
	cfg = cfg.normalize()

	switch mode {
	case ModeWebSocket:
		target, err := webSocketURL(address, cfg.Path)
		if err != nil {
			return nil, err
		}

		return dialWebSocket(ctx, target, cfg), nil
	case ModeRawSocket:
		if _, _, err := net.SplitHostPort(address); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrConnect, err)
		}

		return dialRawSocket(ctx, address, cfg), nil
	default:
		return nil, fmt.Errorf("%w: unsupported mode %s", ErrConnect, mode)
	}
}

// Listen binds a listener on host:port. An empty host listens on all
// interfaces; port 0 picks a free port.
func Listen(mode Mode, host string, port int, cfg Config) (Listener, error) {
	cfg = cfg.normalize()
	address := net.JoinHostPort(host, strconv.Itoa(port))

	switch mode {
	case ModeWebSocket:
		return listenWebSocket(address, cfg)
	case ModeRawSocket:
		return listenRawSocket(address, cfg)
	default:
		return nil, fmt.Errorf("%w: unsupported mode %s", ErrBind, mode)
	}
}

func webSocketURL(address, path string) (string, error) {
	if strings.HasPrefix(address, "ws://") || strings.HasPrefix(address, "wss://") {
		u, err := url.Parse(address)
		if err != nil {
			return "", fmt.Errorf("%w: %w", ErrConnect, err)
		}

		if u.Host == "" {
			return "", fmt.Errorf("%w: missing host in %q", ErrConnect, address)
		}

		return u.String(), nil
	}

	if _, _, err := net.SplitHostPort(address); err != nil {
		return "", fmt.Errorf("%w: %w", ErrConnect, err)
	}

	u := url.URL{Scheme: "ws", Host: address, Path: path}
	return u.String(), nil
}

// pendingDial runs a dial in the background and hands its outcome to the
// polling goroutine exactly once. A connection that completes after the
// session was closed is closed immediately.
type pendingDial[C io.Closer] struct {
	mu        sync.Mutex
	cancel    context.CancelFunc
	done      bool
	taken     bool
	abandoned bool
	conn      C
	err       error
}

func startDial[C io.Closer](ctx context.Context, cfg Config, dial func(ctx context.Context) (C, error)) *pendingDial[C] {
	ctx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	d := &pendingDial[C]{cancel: cancel}

	go func() {
		defer cancel()

		conn, err := dial(ctx)

		d.mu.Lock()
		defer d.mu.Unlock()

		if d.abandoned {
			if err == nil {
				_ = conn.Close()
			}
			return
		}

		d.done = true
		d.conn = conn
		d.err = err
	}()

	return d
}

// take returns the outcome once it is available. ready is false while the
// dial is still in flight or after the outcome was already taken.
func (d *pendingDial[C]) take() (conn C, err error, ready bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.done || d.taken {
		return conn, nil, false
	}

	d.taken = true
	conn, err = d.conn, d.err
	var zero C
	d.conn = zero

	return conn, err, true
}

// abandon cancels an in-flight dial and closes a connection nobody took.
func (d *pendingDial[C]) abandon() {
	d.cancel()

	d.mu.Lock()
	defer d.mu.Unlock()

	d.abandoned = true
	if d.done && !d.taken && d.err == nil {
		_ = d.conn.Close()
		d.taken = true
	}
}
