// Package telemetry carries the service's Prometheus metrics and the small
// in-memory rings that back the stats endpoint.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EventsIngested counts events accepted from upstream relays, by kind
	// and by outcome (applied vs stale).
	EventsIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nostrgraph_events_ingested_total",
		Help: "Events received from upstream relays.",
	}, []string{"kind", "outcome"})

	// EventsDropped counts malformed events dropped at the ingest boundary.
	EventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "nostrgraph_events_dropped_total",
		Help: "Malformed events dropped during ingestion.",
	})

	// PagesWalked counts completed historical pages per source.
	PagesWalked = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nostrgraph_pages_walked_total",
		Help: "Historical subscription pages completed.",
	}, []string{"source"})

	// MessagesHandled counts protocol server messages by command tag.
	MessagesHandled = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nostrgraph_messages_handled_total",
		Help: "Protocol messages handled, by command.",
	}, []string{"command"})

	// MessageLatency observes protocol message handling time.
	MessageLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "nostrgraph_message_latency_seconds",
		Help:    "Protocol message handling latency.",
		Buckets: prometheus.DefBuckets,
	})

	// SignaturesComputed counts actual signing operations (cache misses).
	SignaturesComputed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "nostrgraph_signatures_computed_total",
		Help: "Schnorr signatures computed for synthesized events.",
	})

	// SnapshotSaves counts snapshot attempts by outcome.
	SnapshotSaves = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nostrgraph_snapshot_saves_total",
		Help: "Snapshot save attempts.",
	}, []string{"outcome"})

	// ConnectedSources gauges currently connected upstream relays.
	ConnectedSources = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "nostrgraph_connected_sources",
		Help: "Upstream relay connections currently established.",
	})

	// OpenConnections gauges currently open protocol server connections.
	OpenConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "nostrgraph_open_connections",
		Help: "Open protocol server connections.",
	})
)
