// Package metrics counts framing and connection activity. Connections report
// through the Collector interface; Nop discards everything and Prometheus
// exports the counters through client_golang.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Outcome labels how a connection ended.
type Outcome string

const (
	OutcomeClosed Outcome = "closed" // clean close by either side
	OutcomeFailed Outcome = "failed" // transport or connect error
)

// Collector receives connection events. Implementations must be cheap; they
// are called from inside the service tick.
type Collector interface {
	// FrameSent records one fully written frame of n bytes including header.
	FrameSent(n int)
	// FrameReceived records one extracted frame of n bytes including header.
	FrameReceived(n int)
	// ConnectionOpened records a connection entering the established state.
	ConnectionOpened(role string)
	// ConnectionClosed records a connection reaching a terminal state.
	ConnectionClosed(role string, outcome Outcome)
	// SendRejected records a send refused for size or backpressure.
	SendRejected(reason string)
}

// Nop is a Collector that records nothing.
type Nop struct{}

// FrameSent implements Collector.
func (Nop) FrameSent(int) {}

// FrameReceived implements Collector.
func (Nop) FrameReceived(int) {}

// ConnectionOpened implements Collector.
func (Nop) ConnectionOpened(string) {}

// ConnectionClosed implements Collector.
func (Nop) ConnectionClosed(string, Outcome) {}

// SendRejected implements Collector.
func (Nop) SendRejected(string) {}

// Prometheus is a Collector backed by Prometheus counters and a gauge of open
// connections.
type Prometheus struct {
	framesSent     prometheus.Counter
	bytesSent      prometheus.Counter
	framesReceived prometheus.Counter
	bytesReceived  prometheus.Counter
	opened         *prometheus.CounterVec
	closed         *prometheus.CounterVec
	open           *prometheus.GaugeVec
	rejected       *prometheus.CounterVec
}

// NewPrometheus creates the collectors under namespace and registers them
// with reg.
//
// Parameters:
//   - namespace: Metric name prefix (e.g. "framedsocket")
//   - reg: Registry to register with, e.g. prometheus.NewRegistry()
//
// Returns:
//   - The collector, or an error if registration fails (e.g. duplicates)
func NewPrometheus(namespace string, reg prometheus.Registerer) (*Prometheus, error) {
	p := &Prometheus{
		framesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "frames_sent_total",
			Help: "Frames fully written to the transport.",
		}),
		bytesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "bytes_sent_total",
			Help: "Frame bytes written to the transport, headers included.",
		}),
		framesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "frames_received_total",
			Help: "Frames extracted from received bytes.",
		}),
		bytesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "bytes_received_total",
			Help: "Frame bytes extracted, headers included.",
		}),
		opened: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "connections_opened_total",
			Help: "Connections that reached the established state.",
		}, []string{"role"}),
		closed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "connections_closed_total",
			Help: "Connections that reached a terminal state.",
		}, []string{"role", "outcome"}),
		open: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "connections_open",
			Help: "Currently established connections.",
		}, []string{"role"}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "sends_rejected_total",
			Help: "Send calls refused locally.",
		}, []string{"reason"}),
	}

	for _, c := range []prometheus.Collector{
		p.framesSent, p.bytesSent, p.framesReceived, p.bytesReceived,
		p.opened, p.closed, p.open, p.rejected,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}

	return p, nil
}

// FrameSent implements Collector.
func (p *Prometheus) FrameSent(n int) {
	p.framesSent.Inc()
	p.bytesSent.Add(float64(n))
}

// FrameReceived implements Collector.
func (p *Prometheus) FrameReceived(n int) {
	p.framesReceived.Inc()
	p.bytesReceived.Add(float64(n))
}

// ConnectionOpened implements Collector.
func (p *Prometheus) ConnectionOpened(role string) {
	p.opened.WithLabelValues(role).Inc()
	p.open.WithLabelValues(role).Inc()
}

// ConnectionClosed implements Collector. Only connections previously opened
// should be reported, otherwise the open gauge drifts below zero.
func (p *Prometheus) ConnectionClosed(role string, outcome Outcome) {
	p.closed.WithLabelValues(role, string(outcome)).Inc()
	p.open.WithLabelValues(role).Dec()
}

// SendRejected implements Collector.
func (p *Prometheus) SendRejected(reason string) {
	p.rejected.WithLabelValues(reason).Inc()
}
