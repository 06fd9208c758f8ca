package telepathy

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"
)

// Disconnect reasons reported by Metrics.
const (
	reasonEOF        = "eof"
	reasonClosed     = "closed"
	reasonProtocol   = "protocol"
	reasonQueueLimit = "queue_limit"
	reasonIO         = "io"
)

// Metrics exports transport counters to Prometheus. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	Connections      prometheus.Gauge
	MessagesSent     prometheus.Counter
	MessagesReceived prometheus.Counter
	BytesSent        prometheus.Counter
	BytesReceived    prometheus.Counter
	Writes           prometheus.Counter
	Disconnects      *prometheus.CounterVec

	pools []prometheus.Collector
}

func NewMetrics(namespace string) *Metrics {
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "telepathy",
			Name:      name,
			Help:      help,
		})
	}
	poolCounter := func(name, help string, fn func() uint64) prometheus.Collector {
		return prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "telepathy",
			Name:      name,
			Help:      help,
		}, func() float64 { return float64(fn()) })
	}

	return &Metrics{
		Connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "telepathy",
			Name:      "connections",
			Help:      "Number of open connections.",
		}),
		MessagesSent:     counter("messages_sent_total", "Messages written to sockets."),
		MessagesReceived: counter("messages_received_total", "Messages read from sockets."),
		BytesSent:        counter("bytes_sent_total", "Bytes written to sockets, including size headers."),
		BytesReceived:    counter("bytes_received_total", "Payload bytes read from sockets."),
		Writes:           counter("writes_total", "Socket writes; each may carry many messages."),
		Disconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "telepathy",
			Name:      "disconnects_total",
			Help:      "Connections torn down, by reason.",
		}, []string{"reason"}),
		pools: []prometheus.Collector{
			poolCounter("send_buffers_allocated_total", "Send buffers allocated.", func() uint64 { return SendPoolStats().New }),
			poolCounter("send_buffers_reused_total", "Send buffers reused from the pool.", func() uint64 { return SendPoolStats().Reused }),
			poolCounter("receive_buffers_allocated_total", "Receive buffers allocated.", func() uint64 { return ReceivePoolStats().New }),
			poolCounter("receive_buffers_reused_total", "Receive buffers reused from the pool.", func() uint64 { return ReceivePoolStats().Reused }),
		},
	}
}

// Register registers every collector, returning all registration errors.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	var err error
	for _, c := range m.collectors() {
		err = multierr.Append(err, reg.Register(c))
	}
	return err
}

func (m *Metrics) collectors() []prometheus.Collector {
	cs := []prometheus.Collector{
		m.Connections,
		m.MessagesSent,
		m.MessagesReceived,
		m.BytesSent,
		m.BytesReceived,
		m.Writes,
		m.Disconnects,
	}
	return append(cs, m.pools...)
}

func (m *Metrics) connectionOpened() {
	if m == nil {
		return
	}
	m.Connections.Inc()
}

func (m *Metrics) connectionClosed(reason string) {
	if m == nil {
		return
	}
	m.Connections.Dec()
	m.Disconnects.WithLabelValues(reason).Inc()
}

func (m *Metrics) wrote(messages, bytes int) {
	if m == nil {
		return
	}
	m.Writes.Inc()
	m.MessagesSent.Add(float64(messages))
	m.BytesSent.Add(float64(bytes))
}

func (m *Metrics) received(bytes int) {
	if m == nil {
		return
	}
	m.MessagesReceived.Inc()
	m.BytesReceived.Add(float64(bytes))
}
