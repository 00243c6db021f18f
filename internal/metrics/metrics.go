package metrics

import (
	"github.com/go-kit/kit/metrics"
	"github.com/go-kit/kit/metrics/discard"
	prometheus "github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"
)

const (
	Namespace       = "fastvote"
	EngineSubsystem = "engine"
	APISubsystem    = "api"
)

type EngineMetrics struct {
	ActionsCreated   metrics.Counter
	VotesCast        metrics.Counter
	ActionsFinalized metrics.Counter
	ActionsCancelled metrics.Counter
	Rejections       metrics.Counter
	HandoffSeconds   metrics.Histogram
}

// PromEngineMetrics registers the engine collectors with the default
// Prometheus registry. Call it once per process.
func PromEngineMetrics() *EngineMetrics {
	return &EngineMetrics{
		ActionsCreated: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: EngineSubsystem,
			Name:      "actions_created_total",
			Help:      "Actions opened for voting.",
		}, []string{}),
		VotesCast: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: EngineSubsystem,
			Name:      "votes_cast_total",
			Help:      "Votes admitted, by value.",
		}, []string{"value"}),
		ActionsFinalized: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: EngineSubsystem,
			Name:      "actions_finalized_total",
			Help:      "Actions tallied, by result.",
		}, []string{"result"}),
		ActionsCancelled: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: EngineSubsystem,
			Name:      "actions_cancelled_total",
			Help:      "Actions cancelled by their creator.",
		}, []string{}),
		Rejections: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: EngineSubsystem,
			Name:      "rejections_total",
			Help:      "Rejected operations, by operation and error code.",
		}, []string{"op", "code"}),
		HandoffSeconds: prometheus.NewHistogramFrom(stdprometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: EngineSubsystem,
			Name:      "handoff_seconds",
			Help:      "Duration of the ledger handoff (ok, error) and archive delivery (archived, deferred).",
			Buckets:   stdprometheus.ExponentialBuckets(0.0005, 2, 14),
		}, []string{"outcome"}),
	}
}

func NopEngineMetrics() *EngineMetrics {
	return &EngineMetrics{
		ActionsCreated:   discard.NewCounter(),
		VotesCast:        discard.NewCounter(),
		ActionsFinalized: discard.NewCounter(),
		ActionsCancelled: discard.NewCounter(),
		Rejections:       discard.NewCounter(),
		HandoffSeconds:   discard.NewHistogram(),
	}
}

type APIMetrics struct {
	RequestsTotal          metrics.Counter
	RequestDurationSeconds metrics.Histogram
	RateLimited            metrics.Counter
}

func PromAPIMetrics() *APIMetrics {
	return &APIMetrics{
		RequestsTotal: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: APISubsystem,
			Name:      "requests_total",
			Help:      "Total number of requests.",
		}, []string{"method", "status"}),
		RequestDurationSeconds: prometheus.NewSummaryFrom(stdprometheus.SummaryOpts{
			Namespace: Namespace,
			Subsystem: APISubsystem,
			Name:      "request_duration_seconds",
			Help:      "Request latency.",
		}, []string{"method", "status"}),
		RateLimited: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: APISubsystem,
			Name:      "rate_limited_total",
			Help:      "Requests refused by the per-client rate limiter.",
		}, []string{}),
	}
}

func NopAPIMetrics() *APIMetrics {
	return &APIMetrics{
		RequestsTotal:          discard.NewCounter(),
		RequestDurationSeconds: discard.NewHistogram(),
		RateLimited:            discard.NewCounter(),
	}
}
