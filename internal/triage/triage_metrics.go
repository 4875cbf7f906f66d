package triage

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for the triage subsystem.
type Metrics struct {
	IngestTotal      *prometheus.CounterVec
	SummariesTotal   *prometheus.CounterVec
	TriggersTotal    *prometheus.CounterVec
	DeliveriesTotal  *prometheus.CounterVec
	DeliveryDuration *prometheus.HistogramVec
	PollDuration     prometheus.Histogram
	PollCandidates   *prometheus.CounterVec
}

// NewMetrics registers and returns triage metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		IngestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "watchtower_ingest_total",
			Help: "Candidates offered for ingestion by result.",
		}, []string{"result"}),
		SummariesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "watchtower_summaries_total",
			Help: "Summaries stored by outcome (ok or fallback).",
		}, []string{"outcome"}),
		TriggersTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "watchtower_triggers_total",
			Help: "Operator triggers by kind and outcome.",
		}, []string{"kind", "outcome"}),
		DeliveriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "watchtower_fanout_deliveries_total",
			Help: "Fan-out deliveries by destination and outcome.",
		}, []string{"destination", "outcome"}),
		DeliveryDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "watchtower_fanout_delivery_duration_seconds",
			Help:    "Duration of individual fan-out deliveries in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms .. ~25s
		}, []string{"destination"}),
		PollDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "watchtower_poll_duration_seconds",
			Help:    "Duration of feed poll cycles in seconds.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10), // 1s .. ~512s
		}),
		PollCandidates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "watchtower_poll_candidates_total",
			Help: "Feed entries considered per feed.",
		}, []string{"feed"}),
	}

	reg.MustRegister(
		m.IngestTotal,
		m.SummariesTotal,
		m.TriggersTotal,
		m.DeliveriesTotal,
		m.DeliveryDuration,
		m.PollDuration,
		m.PollCandidates,
	)

	return m
}

// Hooks returns Hooks that increment the corresponding metrics.
func (m *Metrics) Hooks() Hooks {
	return Hooks{
		OnIngest: func(result string) {
			m.IngestTotal.WithLabelValues(result).Inc()
		},
		OnSummary: func(outcome string) {
			m.SummariesTotal.WithLabelValues(outcome).Inc()
		},
		OnTrigger: func(kind TriggerKind, outcome OutcomeKind) {
			m.TriggersTotal.WithLabelValues(string(kind), string(outcome)).Inc()
		},
		OnDelivery: func(dest DestinationKind, outcome string, seconds float64) {
			m.DeliveriesTotal.WithLabelValues(string(dest), outcome).Inc()
			m.DeliveryDuration.WithLabelValues(string(dest)).Observe(seconds)
		},
	}
}
