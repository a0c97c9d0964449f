package realtime

import "github.com/prometheus/client_golang/prometheus"

// Metrics exposes Prometheus collectors for the realtime hub. A nil *Metrics
// is valid and records nothing.
type Metrics struct {
	connections prometheus.Gauge
	auth        *prometheus.CounterVec
	joins       *prometheus.CounterVec
	deliveries  *prometheus.CounterVec
}

// NewMetrics registers the realtime collectors against registerer.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	connections := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "odyssey_realtime_connections",
		Help: "Authenticated realtime connections currently registered.",
	})
	auth := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_realtime_auth_total",
		Help: "Realtime authentication attempts partitioned by result.",
	}, []string{"result"})
	joins := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_realtime_joins_total",
		Help: "Channel join requests partitioned by channel and result.",
	}, []string{"channel", "result"})
	deliveries := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_realtime_deliveries_total",
		Help: "Frames handed to connection outboxes partitioned by outcome.",
	}, []string{"outcome"})
	registerer.MustRegister(connections, auth, joins, deliveries)
	return &Metrics{connections: connections, auth: auth, joins: joins, deliveries: deliveries}
}

func (m *Metrics) connectionOpened() {
	if m == nil {
		return
	}
	m.connections.Inc()
}

func (m *Metrics) connectionClosed() {
	if m == nil {
		return
	}
	m.connections.Dec()
}

func (m *Metrics) authResult(result string) {
	if m == nil {
		return
	}
	m.auth.WithLabelValues(result).Inc()
}

func (m *Metrics) joinResult(ch string, result string) {
	if m == nil {
		return
	}
	m.joins.WithLabelValues(ch, result).Inc()
}

func (m *Metrics) delivered(d Delivery) {
	if m == nil {
		return
	}
	if sent := d.Attempted - d.Dropped; sent > 0 {
		m.deliveries.WithLabelValues("queued").Add(float64(sent))
	}
	if d.Dropped > 0 {
		m.deliveries.WithLabelValues("dropped").Add(float64(d.Dropped))
	}
}
