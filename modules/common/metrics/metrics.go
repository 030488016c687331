package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// GenerationsCreated counts generation requests by outcome (accepted, rejected, dispatch_failed).
	GenerationsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "thumbforge",
		Subsystem: "generation",
		Name:      "requests_total",
		Help:      "Generation requests by outcome.",
	}, []string{"outcome"})

	// DispatchDuration tracks orchestrator trigger latency.
	DispatchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "thumbforge",
		Subsystem: "generation",
		Name:      "dispatch_duration_seconds",
		Help:      "Orchestrator dispatch duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	})

	// CallbacksTotal counts orchestrator callbacks by HTTP status.
	CallbacksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "thumbforge",
		Subsystem: "callback",
		Name:      "requests_total",
		Help:      "Orchestrator callbacks by HTTP status.",
	}, []string{"status"})

	ThumbnailsStored = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "thumbforge",
		Subsystem: "callback",
		Name:      "thumbnails_total",
		Help:      "Thumbnail items processed by result.",
	}, []string{"result"})

	LateCallbacks = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "thumbforge",
		Subsystem: "callback",
		Name:      "late_after_timeout_total",
		Help:      "Callbacks applied to generations the reaper had already timed out.",
	})

	// GenerationsFinalized counts terminal generation statuses written by callbacks and the reaper.
	GenerationsFinalized = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "thumbforge",
		Subsystem: "generation",
		Name:      "finalized_total",
		Help:      "Generations reaching a terminal status.",
	}, []string{"status"})

	// WebhookRequestsTotal counts Stripe webhook requests by event type and status.
	WebhookRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "thumbforge",
		Subsystem: "billing",
		Name:      "webhook_requests_total",
		Help:      "Total Stripe webhook requests by event type and HTTP status.",
	}, []string{"event_type", "status"})

	// WebhookDuration tracks Stripe webhook processing latency.
	WebhookDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "thumbforge",
		Subsystem: "billing",
		Name:      "webhook_duration_seconds",
		Help:      "Stripe webhook processing duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"event_type"})

	ReaperSwept = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "thumbforge",
		Subsystem: "reaper",
		Name:      "swept_total",
		Help:      "Stale generations marked failed.",
	})

	// StatusSubscribers tracks open websocket status connections.
	StatusSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "thumbforge",
		Subsystem: "status",
		Name:      "subscribers",
		Help:      "Open websocket status connections.",
	})
)
