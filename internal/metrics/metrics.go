// Package metrics holds the Prometheus collectors for the gate service.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "tnxgate"

var (
	registry *prometheus.Registry
	once     sync.Once
)

// Counter metrics
var (
	RunsCreatedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "runs_created_total",
		Help:      "Validation runs accepted, by profile",
	}, []string{"profile"})
	RunsFinishedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "runs_finished_total",
		Help:      "Runs reaching a terminal state, by status and final decision",
	}, []string{"status", "decision"})
	CheckResultsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "check_results_total",
		Help:      "Deterministic check outcomes",
	}, []string{"check", "status"})
	AgentReviewsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "agent_reviews_total",
		Help:      "Agent review outcomes, by status and whether the budget held",
	}, []string{"status", "within_budget"})
	ReviewDecisionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "review_decisions_total",
		Help:      "Review decisions submitted",
	}, []string{"reviewer_type", "action"})
	ReplayGatesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "replay_gates_total",
		Help:      "Replay gate evaluations by decision",
	}, []string{"decision"})
	IdempotentReplaysTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "idempotent_replays_total",
		Help:      "Write requests answered from the idempotency store",
	})
	BotKeyEventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "bot_key_events_total",
		Help:      "Bot key lifecycle events",
	}, []string{"event"})
)

// Gauge metrics
var (
	PendingTraderReviews = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "pending_trader_reviews",
		Help:      "Runs currently waiting for trader review",
	})
	LaneQueueDepth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "lane_queue_depth",
		Help:      "Jobs queued per execution lane",
	}, []string{"lane"})
)

// Histogram metrics
var (
	PipelineDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "pipeline_duration_seconds",
		Help:      "Duration of the check and agent pipeline per run",
		Buckets:   []float64{0.05, 0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
	})
	AgentCallDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "agent_call_duration_seconds",
		Help:      "Agent reviewer call latency including retries",
		Buckets:   prometheus.DefBuckets,
	})
	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency by route pattern and status",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route", "status"})
)

// InitRegistry initializes the global Prometheus registry.
func InitRegistry() *prometheus.Registry {
	once.Do(func() {
		registry = prometheus.NewRegistry()
		registry.MustRegister(
			RunsCreatedTotal,
			RunsFinishedTotal,
			CheckResultsTotal,
			AgentReviewsTotal,
			ReviewDecisionsTotal,
			ReplayGatesTotal,
			IdempotentReplaysTotal,
			BotKeyEventsTotal,
			PendingTraderReviews,
			LaneQueueDepth,
			PipelineDuration,
			AgentCallDuration,
			HTTPRequestDuration,
		)
	})
	return registry
}

// GetRegistry returns the global Prometheus registry.
func GetRegistry() *prometheus.Registry {
	return InitRegistry()
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.HandlerFor(GetRegistry(), promhttp.HandlerOpts{})
}

func RecordRunCreated(profile string) {
	RunsCreatedTotal.WithLabelValues(profile).Inc()
}

func RecordRunFinished(status, decision string) {
	RunsFinishedTotal.WithLabelValues(status, decision).Inc()
}

func RecordCheck(check, status string) {
	CheckResultsTotal.WithLabelValues(check, status).Inc()
}

func RecordAgentReview(status string, withinBudget bool, durationSeconds float64) {
	within := "true"
	if !withinBudget {
		within = "false"
	}
	AgentReviewsTotal.WithLabelValues(status, within).Inc()
	AgentCallDuration.Observe(durationSeconds)
}

func RecordReviewDecision(reviewerType, action string) {
	ReviewDecisionsTotal.WithLabelValues(reviewerType, action).Inc()
}

func RecordReplayGate(decision string) {
	ReplayGatesTotal.WithLabelValues(decision).Inc()
}

func RecordIdempotentReplay() {
	IdempotentReplaysTotal.Inc()
}

func RecordBotKeyEvent(event string) {
	BotKeyEventsTotal.WithLabelValues(event).Inc()
}

func RecordPipelineDuration(durationSeconds float64) {
	PipelineDuration.Observe(durationSeconds)
}

func RecordHTTPRequest(method, route, status string, durationSeconds float64) {
	HTTPRequestDuration.WithLabelValues(method, route, status).Observe(durationSeconds)
}
