package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Labels never carry caller ids: the label set must stay bounded.
var (
	CallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tourai_calls_total",
			Help: "Total number of generate and stream calls by outcome",
		},
		[]string{"scope", "provider", "status"},
	)

	CallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tourai_call_duration_seconds",
			Help:    "End-to-end call duration including fallback attempts",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30, 60},
		},
		[]string{"scope", "provider"},
	)

	ProviderAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tourai_provider_attempts_total",
			Help: "Provider attempts made during fallback sequences",
		},
		[]string{"provider", "outcome"},
	)

	ProviderErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tourai_provider_errors_total",
			Help: "Provider failures by error class",
		},
		[]string{"provider", "error_class"},
	)

	TokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tourai_tokens_total",
			Help: "Total number of tokens reported by providers",
		},
		[]string{"provider", "model", "type"},
	)

	CostTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tourai_cost_usd_total",
			Help: "Estimated cost in USD",
		},
		[]string{"provider", "model"},
	)

	RateLimitRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tourai_rate_limit_rejections_total",
			Help: "Calls rejected by the rate limiter",
		},
		[]string{"scope"},
	)

	FallbackExhausted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tourai_fallback_exhausted_total",
			Help: "Calls where every candidate provider failed",
		},
		[]string{"scope"},
	)

	CapabilityParseFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tourai_capability_parse_failures_total",
			Help: "Capability replies that could not be parsed and fell back to a default",
		},
		[]string{"capability"},
	)

	ActiveStreams = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tourai_active_streams",
			Help: "Number of open streaming calls",
		},
	)
)

func RecordCall(scope, provider, status string, durationSec float64) {
	CallsTotal.WithLabelValues(scope, provider, status).Inc()
	CallDuration.WithLabelValues(scope, provider).Observe(durationSec)
}

func RecordAttempt(provider, outcome string) {
	ProviderAttempts.WithLabelValues(provider, outcome).Inc()
}

func RecordProviderError(provider, errorClass string) {
	ProviderErrors.WithLabelValues(provider, errorClass).Inc()
}

func RecordTokens(provider, model string, promptTokens, completionTokens int) {
	TokensTotal.WithLabelValues(provider, model, "prompt").Add(float64(promptTokens))
	TokensTotal.WithLabelValues(provider, model, "completion").Add(float64(completionTokens))
}

func RecordCost(provider, model string, costUSD float64) {
	CostTotal.WithLabelValues(provider, model).Add(costUSD)
}

func RecordRateLimitRejection(scope string) {
	RateLimitRejections.WithLabelValues(scope).Inc()
}

func RecordExhausted(scope string) {
	FallbackExhausted.WithLabelValues(scope).Inc()
}

func RecordParseFailure(capability string) {
	CapabilityParseFailures.WithLabelValues(capability).Inc()
}

func IncrementActiveStreams() {
	ActiveStreams.Inc()
}

func DecrementActiveStreams() {
	ActiveStreams.Dec()
}
