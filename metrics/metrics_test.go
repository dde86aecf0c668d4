package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNop(t *testing.T) {
	var c Collector = Nop{}
	c.FrameSent(8)
	c.FrameReceived(8)
	c.ConnectionOpened("client")
	c.ConnectionClosed("client", OutcomeClosed)
	c.SendRejected("oversized")
}

func TestPrometheus(t *testing.T) {
	reg := prometheus.NewRegistry()
	p, err := NewPrometheus("framedsocket", reg)
	require.NoError(t, err)

	t.Run("frames and bytes are counted", func(t *testing.T) {
		p.FrameSent(8)
		p.FrameSent(12)
		p.FrameReceived(8)

		assert.Equal(t, 2.0, testutil.ToFloat64(p.framesSent))
		assert.Equal(t, 20.0, testutil.ToFloat64(p.bytesSent))
		assert.Equal(t, 1.0, testutil.ToFloat64(p.framesReceived))
		assert.Equal(t, 8.0, testutil.ToFloat64(p.bytesReceived))
	})

	t.Run("open gauge follows lifecycle", func(t *testing.T) {
		p.ConnectionOpened("server")
		p.ConnectionOpened("server")
		p.ConnectionClosed("server", OutcomeFailed)

		assert.Equal(t, 1.0, testutil.ToFloat64(p.open.WithLabelValues("server")))
		assert.Equal(t, 2.0, testutil.ToFloat64(p.opened.WithLabelValues("server")))
		assert.Equal(t, 1.0, testutil.ToFloat64(p.closed.WithLabelValues("server", "failed")))
	})

	t.Run("rejections are labelled by reason", func(t *testing.T) {
		p.SendRejected("backpressure")
		assert.Equal(t, 1.0, testutil.ToFloat64(p.rejected.WithLabelValues("backpressure")))
	})

	t.Run("duplicate registration fails", func(t *testing.T) {
		_, err := NewPrometheus("framedsocket", reg)
		assert.Error(t, err)
	})
}
