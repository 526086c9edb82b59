// Package telemetry exposes the relay's prometheus metrics. Everything is
// registered on the default registry and served by promhttp on /metrics.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PacketsRouted counts packets delivered to a live connection,
	// labeled by variant.
	PacketsRouted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "draftwire",
		Name:      "packets_routed_total",
		Help:      "Packets routed to a connected user, by variant.",
	}, []string{"kind"})

	// PacketsBacklogged counts packets parked for offline users.
	PacketsBacklogged = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "draftwire",
		Name:      "packets_backlogged_total",
		Help:      "Packets queued for a user with no live connection.",
	})

	// PacketsDropped counts inbound packets rejected before processing
	// (decode failures, queue overflow, rate limiting).
	PacketsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "draftwire",
		Name:      "packets_dropped_total",
		Help:      "Inbound packets dropped before processing, by reason.",
	}, []string{"reason"})

	// ConnectedUsers tracks currently registered connections.
	ConnectedUsers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "draftwire",
		Name:      "connected_users",
		Help:      "Users with a live transport connection.",
	})

	// ActiveDrafts tracks drafts currently held in the relay registry.
	ActiveDrafts = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "draftwire",
		Name:      "active_drafts",
		Help:      "In-flight drafts tracked by the relay.",
	})

	// BacklogDepth tracks packets currently parked across all users.
	BacklogDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "draftwire",
		Name:      "backlog_depth",
		Help:      "Parked packets across all per-user backlogs.",
	})

	// DraftsDiscarded counts drafts dropped by disconnect or retention.
	DraftsDiscarded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "draftwire",
		Name:      "drafts_discarded_total",
		Help:      "Drafts discarded without finalizing, by cause.",
	}, []string{"cause"})

	// MessagesStored counts finalized messages written to room history.
	MessagesStored = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "draftwire",
		Name:      "messages_stored_total",
		Help:      "Finalized messages appended to room history.",
	})
)
