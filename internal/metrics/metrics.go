// ABOUTME: Prometheus metrics for support-gateway
// ABOUTME: Counters for requests, fallback writes, AI replies, and assignment conflicts

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestsTotal counts HTTP requests by endpoint and status.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "support",
			Subsystem: "gateway",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	// FallbackWritesTotal counts writes that landed in the volatile store
	// after the durable store failed twice. Each one is a consistency gap.
	FallbackWritesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "support",
			Subsystem: "store",
			Name:      "fallback_writes_total",
			Help:      "Writes applied to the fallback store after durable failures",
		},
	)

	// FallbackReadsTotal counts reads served from the volatile store.
	FallbackReadsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "support",
			Subsystem: "store",
			Name:      "fallback_reads_total",
			Help:      "Reads served by the fallback store",
		},
	)

	// AIRepliesTotal counts AI responses by outcome (sent, discarded, failed).
	AIRepliesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "support",
			Subsystem: "conversation",
			Name:      "ai_replies_total",
			Help:      "AI responder outcomes",
		},
		[]string{"outcome"},
	)

	// SilentDeliveriesTotal counts customer messages persisted without an
	// AI reply because a human agent owned the conversation.
	SilentDeliveriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "support",
			Subsystem: "conversation",
			Name:      "silent_deliveries_total",
			Help:      "Customer messages delivered silently to a connected agent",
		},
	)

	// AssignmentConflictsTotal counts connect attempts that lost the
	// assignment race.
	AssignmentConflictsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "support",
			Subsystem: "conversation",
			Name:      "assignment_conflicts_total",
			Help:      "Agent connect attempts rejected because another agent was assigned",
		},
	)
)
