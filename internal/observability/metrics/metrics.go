package metrics

import "github.com/prometheus/client_golang/prometheus"

// GatewayMetrics exposes counters/histograms for LLM gateway calls.
type GatewayMetrics struct {
	attemptsTotal *prometheus.CounterVec
	latency       *prometheus.HistogramVec
}

func NewGatewayMetrics(reg prometheus.Registerer) *GatewayMetrics {
	m := &GatewayMetrics{
		attemptsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "leadline",
			Subsystem: "llm",
			Name:      "attempts_total",
			Help:      "Total LLM backend attempts",
		}, []string{"provider", "outcome"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "leadline",
			Subsystem: "llm",
			Name:      "attempt_latency_seconds",
			Help:      "Latency of individual LLM backend attempts",
			Buckets:   prometheus.DefBuckets,
		}, []string{"provider"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.attemptsTotal, m.latency)
	return m
}

func (m *GatewayMetrics) ObserveAttempt(provider, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.attemptsTotal.WithLabelValues(provider, outcome).Inc()
	m.latency.WithLabelValues(provider).Observe(seconds)
}

// ConversationMetrics exposes counters for orchestrator turns.
type ConversationMetrics struct {
	turnsTotal    *prometheus.CounterVec
	handoffsTotal *prometheus.CounterVec
}

func NewConversationMetrics(reg prometheus.Registerer) *ConversationMetrics {
	m := &ConversationMetrics{
		turnsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "leadline",
			Subsystem: "conversation",
			Name:      "turns_total",
			Help:      "Total orchestrator turns by resulting phase",
		}, []string{"phase", "outcome"}),
		handoffsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "leadline",
			Subsystem: "conversation",
			Name:      "handoffs_total",
			Help:      "Total transitions into the handoff phase",
		}, []string{"reason"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.turnsTotal, m.handoffsTotal)
	return m
}

func (m *ConversationMetrics) ObserveTurn(phase, outcome string) {
	if m == nil {
		return
	}
	m.turnsTotal.WithLabelValues(phase, outcome).Inc()
}

func (m *ConversationMetrics) ObserveHandoff(reason string) {
	if m == nil {
		return
	}
	m.handoffsTotal.WithLabelValues(reason).Inc()
}
