package server

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the prometheus collectors a Server updates as subscriptions
// come and go and events are broadcast. Entirely optional: a Server with no
// Metrics attached simply skips these updates.
type Metrics struct {
	subscriptions prometheus.Gauge
	eventsSent    prometheus.Counter
}

// NewMetrics builds and registers the collectors against reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		subscriptions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fast_messages_subscriptions",
			Help: "Number of currently registered subscriptions.",
		}),
		eventsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fast_messages_events_sent_total",
			Help: "Total number of event frames successfully written to subscriptions.",
		}),
	}
	reg.MustRegister(m.subscriptions, m.eventsSent)
	return m
}
