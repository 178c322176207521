package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is the set of Prometheus instruments exported by a running
// replica. Each field is wired into exactly one stage of the
// command/event/sync pipeline.
type Metrics struct {
	EventsAppended  prometheus.Counter
	EventsApplied   prometheus.Counter
	EventsDropped   prometheus.Counter
	SyncRounds      prometheus.Counter
	SyncDuration    prometheus.Histogram
	ReplicateRTT    prometheus.Histogram
	MailboxDepth    prometheus.Gauge
	DroppedMessages prometheus.Counter
	ReplicaSeqNr    prometheus.Gauge
}

func NewMetrics() *Metrics {
	return &Metrics{
		EventsAppended: promauto.NewCounter(prometheus.CounterOpts{
			Name: "replica_events_appended_total",
			Help: "Total number of events appended to the local log, from commands and from replication",
		}),
		EventsApplied: promauto.NewCounter(prometheus.CounterOpts{
			Name: "replica_events_applied_total",
			Help: "Total number of events applied to the local CRDT state",
		}),
		EventsDropped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "replica_events_dropped_total",
			Help: "Total number of replicated events dropped as already seen",
		}),
		SyncRounds: promauto.NewCounter(prometheus.CounterOpts{
			Name: "replica_sync_rounds_total",
			Help: "Total number of Sync/Replay/Replicated round trips initiated",
		}),
		SyncDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "replica_sync_duration_seconds",
			Help:    "Wall-clock time from sending a Sync-triggered Replicate request to applying its Replicated reply",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 10),
		}),
		ReplicateRTT: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "replica_replicate_rtt_seconds",
			Help:    "Time the replying side spends loading and shipping a Replicated batch for one Replicate request",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 10),
		}),
		MailboxDepth: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "replica_mailbox_depth",
			Help: "Number of messages queued in a mailbox right after the most recent successful send to it",
		}),
		DroppedMessages: promauto.NewCounter(prometheus.CounterOpts{
			Name: "replica_mailbox_dropped_messages_total",
			Help: "Total number of messages dropped due to mailbox backpressure",
		}),
		ReplicaSeqNr: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "replica_local_seq_nr",
			Help: "Current local sequence number of this replica's event log",
		}),
	}
}
