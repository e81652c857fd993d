package metrics

import "github.com/prometheus/client_golang/prometheus"

// AgentMetrics exposes counters/histograms for the chat agent.
type AgentMetrics struct {
	inboundTotal    *prometheus.CounterVec
	intentTotal     *prometheus.CounterVec
	outboundTotal   *prometheus.CounterVec
	sendLatency     *prometheus.HistogramVec
	rateLimitWait   *prometheus.HistogramVec
	receiptTotal    *prometheus.CounterVec
	turnLatency     *prometheus.HistogramVec
	duplicatesTotal *prometheus.CounterVec
}

func NewAgentMetrics(reg prometheus.Registerer) *AgentMetrics {
	m := &AgentMetrics{
		inboundTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "coop",
			Subsystem: "agent",
			Name:      "inbound_messages_total",
			Help:      "Inbound chat messages by channel and kind",
		}, []string{"channel", "kind"}),
		intentTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "coop",
			Subsystem: "agent",
			Name:      "intents_total",
			Help:      "Resolved intents by source",
		}, []string{"intent", "source"}),
		outboundTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "coop",
			Subsystem: "agent",
			Name:      "outbound_sends_total",
			Help:      "Outbound provider sends by outcome",
		}, []string{"provider", "outcome"}),
		sendLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "coop",
			Subsystem: "agent",
			Name:      "send_latency_seconds",
			Help:      "Latency of outbound provider sends, pacing included",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30, 60},
		}, []string{"provider"}),
		rateLimitWait: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "coop",
			Subsystem: "agent",
			Name:      "ratelimit_wait_seconds",
			Help:      "Time spent waiting for a rate limiter slot",
			Buckets:   []float64{0, 0.5, 1, 2.5, 5, 10, 20, 30, 60},
		}, []string{"provider"}),
		receiptTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "coop",
			Subsystem: "agent",
			Name:      "receipts_total",
			Help:      "Receipt intake outcomes",
		}, []string{"outcome"}),
		turnLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "coop",
			Subsystem: "agent",
			Name:      "turn_latency_seconds",
			Help:      "Latency of one inbound message turn",
			Buckets:   prometheus.DefBuckets,
		}, []string{"channel"}),
		duplicatesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "coop",
			Subsystem: "agent",
			Name:      "duplicate_webhooks_total",
			Help:      "Redelivered webhook messages skipped",
		}, []string{"channel"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.inboundTotal, m.intentTotal, m.outboundTotal, m.sendLatency,
		m.rateLimitWait, m.receiptTotal, m.turnLatency, m.duplicatesTotal)
	return m
}

func (m *AgentMetrics) ObserveInbound(channel, kind string) {
	if m == nil {
		return
	}
	m.inboundTotal.WithLabelValues(channel, kind).Inc()
}

func (m *AgentMetrics) ObserveIntent(intent, source string) {
	if m == nil {
		return
	}
	m.intentTotal.WithLabelValues(intent, source).Inc()
}

// ObserveSend records one provider send and how long it took.
func (m *AgentMetrics) ObserveSend(provider string, success bool, seconds float64) {
	if m == nil {
		return
	}
	outcome := "failure"
	if success {
		outcome = "success"
	}
	m.outboundTotal.WithLabelValues(provider, outcome).Inc()
	m.sendLatency.WithLabelValues(provider).Observe(seconds)
}

func (m *AgentMetrics) ObserveRateLimitWait(provider string, seconds float64) {
	if m == nil {
		return
	}
	m.rateLimitWait.WithLabelValues(provider).Observe(seconds)
}

func (m *AgentMetrics) ObserveReceipt(outcome string) {
	if m == nil {
		return
	}
	m.receiptTotal.WithLabelValues(outcome).Inc()
}

func (m *AgentMetrics) ObserveTurn(channel string, seconds float64) {
	if m == nil {
		return
	}
	m.turnLatency.WithLabelValues(channel).Observe(seconds)
}

func (m *AgentMetrics) ObserveDuplicate(channel string) {
	if m == nil {
		return
	}
	m.duplicatesTotal.WithLabelValues(channel).Inc()
}
