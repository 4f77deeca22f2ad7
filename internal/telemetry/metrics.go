package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the relay gateway. A nil *Metrics
// is valid and records nothing.
type Metrics struct {
	RequestTotal      *prometheus.CounterVec
	RequestDurationMs *prometheus.HistogramVec
	AttemptTotal      *prometheus.CounterVec
	CacheLookupTotal  *prometheus.CounterVec
	CooldownMarkTotal *prometheus.CounterVec
	TokensTotal       *prometheus.CounterVec
	PolicyActionTotal *prometheus.CounterVec
}

// NewMetrics creates all metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		RequestTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_request_total",
			Help: "Total number of requests processed by the gateway.",
		}, []string{"model", "provider", "status"}),

		RequestDurationMs: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "relay_request_duration_ms",
			Help:    "Total request duration in milliseconds, including every fallback attempt.",
			Buckets: []float64{50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000, 60000, 120000},
		}, []string{"model", "provider"}),

		AttemptTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_provider_attempt_total",
			Help: "Provider attempts made by the fallback orchestrator, by outcome.",
		}, []string{"provider", "outcome"}),

		CacheLookupTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_cache_lookup_total",
			Help: "Response cache lookups.",
		}, []string{"result"}),

		CooldownMarkTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_cooldown_mark_total",
			Help: "Rate-limit marks recorded per requested model.",
		}, []string{"model"}),

		TokensTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_tokens_total",
			Help: "Total tokens processed.",
		}, []string{"model", "direction"}),

		PolicyActionTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_policy_action_total",
			Help: "Admission policy decisions.",
		}, []string{"filter", "action"}),
	}
}

// RecordRequest records metrics for a completed request.
func (m *Metrics) RecordRequest(labels RequestLabels) {
	if m == nil {
		return
	}
	m.RequestTotal.WithLabelValues(labels.Model, labels.Provider, labels.Status).Inc()
	m.RequestDurationMs.WithLabelValues(labels.Model, labels.Provider).Observe(labels.DurationMs)

	if labels.InputTokens > 0 {
		m.TokensTotal.WithLabelValues(labels.Model, "input").Add(float64(labels.InputTokens))
	}
	if labels.OutputTokens > 0 {
		m.TokensTotal.WithLabelValues(labels.Model, "output").Add(float64(labels.OutputTokens))
	}
}

// RecordAttempt counts one provider attempt. outcome is "success" or a failure class.
func (m *Metrics) RecordAttempt(provider, outcome string) {
	if m == nil {
		return
	}
	m.AttemptTotal.WithLabelValues(provider, outcome).Inc()
}

func (m *Metrics) RecordCacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookupTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) RecordCooldownMark(model string) {
	if m == nil {
		return
	}
	m.CooldownMarkTotal.WithLabelValues(model).Inc()
}

// RecordPolicyAction records an admission filter decision.
func (m *Metrics) RecordPolicyAction(filter, action string) {
	if m == nil {
		return
	}
	m.PolicyActionTotal.WithLabelValues(filter, action).Inc()
}

// RequestLabels holds the label values for recording a request.
type RequestLabels struct {
	Model        string
	Provider     string
	Status       string
	DurationMs   float64
	InputTokens  int
	OutputTokens int
}
