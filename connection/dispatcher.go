package connection

import (
	"errors"
	"fmt"

	"github.com/cyberinferno/framedsocket/framecodec"
	"github.com/cyberinferno/framedsocket/logger"
	"github.com/cyberinferno/framedsocket/transport"
)

// dispatch applies one transport event to the connection.
func (c *Connection) dispatch(ev transport.Event) {
	switch ev.Kind {
	case transport.EventEstablished:
		c.handleEstablished()
	case transport.EventReadable:
		c.handleReadable(ev.Data)
	case transport.EventWritable:
		c.handleWritable()
	case transport.EventClosed:
		c.handleClosed(ev.Err)
	default:
		c.log.Debug("Ignoring unknown transport event", logger.Field{Key: "kind", Value: ev.Kind.String()})
	}
}

func (c *Connection) handleEstablished() {
	if c.state != Connecting {
		return
	}

	c.state = Established
	c.opened = true
	c.cfg.Metrics.ConnectionOpened(c.role.String())
	c.log.Debug("Connection established",
		logger.Field{Key: "remote", Value: c.session.RemoteEndpoint()},
		logger.Field{Key: "local", Value: c.session.LocalEndpoint()},
	)

	if c.onConnected != nil {
		c.onConnected()
	}
}

// handleReadable appends data and delivers every complete frame in order.
func (c *Connection) handleReadable(data []byte) {
	if c.state != Established {
		return
	}

	if err := c.rx.append(data); err != nil {
		c.terminate(Failed, fmt.Errorf("%w: %w", transport.ErrTransport, err))
		return
	}

	for !c.closeRequested && !c.state.Terminal() {
		payload, ok, err := c.rx.next()
		if err != nil {
			c.terminate(Failed, fmt.Errorf("%w: %w", transport.ErrTransport, err))
			return
		}

		if !ok {
			break
		}

		c.cfg.Metrics.FrameReceived(framecodec.HeaderSize + len(payload))

		if c.onReceive != nil {
			msg := make([]byte, len(payload))
			copy(msg, payload)
			c.onReceive(msg)
		}
	}

	c.rx.compact()
}

// handleWritable writes queued frames until the transport stops accepting
// bytes. A partially written frame keeps its position and is resumed on the
// next writable event.
func (c *Connection) handleWritable() {
	if c.state != Established {
		return
	}

	for {
		chunk, ok := c.queue.Front()
		if !ok {
			return
		}

		size := c.queue.HeadSize()
		n, err := c.session.WriteNonBlocking(chunk)
		if n > 0 && c.queue.Advance(n) {
			c.cfg.Metrics.FrameSent(size)
		}

		if err != nil {
			if !errors.Is(err, transport.ErrTransport) {
				err = fmt.Errorf("%w: %w", transport.ErrTransport, err)
			}

			c.terminate(Failed, err)
			return
		}

		if n < len(chunk) {
			return
		}
	}
}

// handleClosed ends the connection. A nil err is a clean shutdown by the peer.
func (c *Connection) handleClosed(err error) {
	if err == nil {
		c.terminate(Closed, ErrPeerClosed)
		return
	}

	c.terminate(Failed, err)
}
