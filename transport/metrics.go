package transport

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"mindfry/protocol"
)

// Request outcomes recorded in the requests_total counter.
const (
	outcomeOK            = "ok"
	outcomeProtocolError = "protocol_error"
	outcomeTimeout       = "timeout"
	outcomeBackpressure  = "backpressure"
	outcomeWriteError    = "write_error"
	outcomeConnection    = "connection_error"
	outcomeDestroyed     = "destroyed"
)

// Metrics holds the pipeline collectors. Gauges and counters are shared by
// every pipeline that uses the same Metrics value.
type Metrics struct {
	requests  *prometheus.CounterVec
	duration  *prometheus.HistogramVec
	pending   prometheus.Gauge
	unmatched prometheus.Counter
	received  prometheus.Counter
}

// NewMetrics creates collectors and registers them with reg when reg is non-nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "mindfry",
				Subsystem: "pipeline",
				Name:      "requests_total",
				Help:      "Pipelined requests by opcode and outcome.",
			},
			[]string{"opcode", "outcome"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "mindfry",
				Subsystem: "pipeline",
				Name:      "request_duration_seconds",
				Help:      "Time from send to response for answered requests.",
				Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
			},
			[]string{"opcode"},
		),
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "mindfry",
			Subsystem: "pipeline",
			Name:      "pending_requests",
			Help:      "Requests sent and not yet completed.",
		}),
		unmatched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mindfry",
			Subsystem: "pipeline",
			Name:      "unmatched_responses_total",
			Help:      "Frames received with no pending request to match.",
		}),
		received: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mindfry",
			Subsystem: "pipeline",
			Name:      "received_bytes_total",
			Help:      "Bytes delivered by the stream.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.requests, m.duration, m.pending, m.unmatched, m.received)
	}
	return m
}

var (
	registerOnce   sync.Once
	defaultMetrics *Metrics
)

// DefaultMetrics returns collectors registered with the default Prometheus registry.
func DefaultMetrics() *Metrics {
	registerOnce.Do(func() {
		defaultMetrics = NewMetrics(prometheus.DefaultRegisterer)
	})
	return defaultMetrics
}

func (m *Metrics) sent() {
	if m == nil {
		return
	}
	m.pending.Inc()
}

func (m *Metrics) rejectedBeforeSend(op protocol.OpCode, outcome string) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(op.String(), outcome).Inc()
}

func (m *Metrics) completed(op protocol.OpCode, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.pending.Dec()
	m.requests.WithLabelValues(op.String(), outcome).Inc()
	if outcome == outcomeOK || outcome == outcomeProtocolError {
		m.duration.WithLabelValues(op.String()).Observe(elapsed.Seconds())
	}
}

func (m *Metrics) unmatchedResponse() {
	if m == nil {
		return
	}
	m.unmatched.Inc()
}

func (m *Metrics) bytesReceived(n int) {
	if m == nil {
		return
	}
	m.received.Add(float64(n))
}
