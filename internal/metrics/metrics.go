// Package metrics exposes the Prometheus instruments for the pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// MessagesIngested counts messages entering the pipeline, labeled by
	// origin (push or rescan).
	MessagesIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "otpd_messages_ingested_total",
		Help: "Messages entering the pipeline, labeled by origin (push, rescan).",
	}, []string{"origin"})

	// CodesExtracted counts messages that matched the keyword.
	CodesExtracted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "otpd_codes_extracted_total",
		Help: "Messages from which a verification code was extracted.",
	})

	// Upserts counts record store decisions, labeled by outcome
	// (created, updated, reopened, skipped_verified, skipped_duplicate).
	Upserts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "otpd_upserts_total",
		Help: "Record store upsert decisions, labeled by outcome.",
	}, []string{"outcome"})

	// DispatchAttempts counts delivery attempts, labeled by result
	// (delivered, transient, terminal).
	DispatchAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "otpd_dispatch_attempts_total",
		Help: "Delivery attempts, labeled by result (delivered, transient, terminal).",
	}, []string{"result"})

	// DispatchDuration observes end-to-end dispatch attempt latency.
	DispatchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "otpd_dispatch_duration_seconds",
		Help:    "Latency of delivery attempts in seconds.",
		Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	})
)
