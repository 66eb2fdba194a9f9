// Package metrics provides Prometheus metrics for the Communitas sync engine.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Cache layer metrics
	cacheHitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "communitas_cache_hits_total",
			Help: "Cache reads served without a remote fetch",
		},
		[]string{"layer"}, // memory, disk, remote
	)

	cacheMissesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "communitas_cache_misses_total",
			Help: "Cache reads that found no value anywhere",
		},
	)

	cacheEntriesEvicted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "communitas_cache_evictions_total",
			Help: "Cache entries evicted on expiry",
		},
		[]string{"trigger"}, // read, sweep
	)

	cacheEntriesActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "communitas_cache_entries_active",
			Help: "Entries currently held in the in-memory cache",
		},
	)

	// Sync queue metrics
	syncQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "communitas_sync_queue_depth",
			Help: "Mutations waiting for replay against the remote backend",
		},
	)

	syncQueueReplayedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "communitas_sync_queue_replayed_total",
			Help: "Queued mutations successfully replayed",
		},
	)

	syncQueueDroppedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "communitas_sync_queue_dropped_total",
			Help: "Queued mutations dropped after exhausting retries",
		},
	)

	syncQueueDrainDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "communitas_sync_queue_drain_duration_seconds",
			Help:    "Time to drain the sync queue",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Connectivity metrics
	connectivityState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "communitas_connectivity_state",
			Help: "Connectivity state (0=disconnected, 1=connecting, 2=connected)",
		},
	)

	peerCount = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "communitas_peer_count",
			Help: "Peers currently connected to the local node",
		},
	)

	// Event reconciler metrics
	pushEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "communitas_push_events_total",
			Help: "Push events received, by kind",
		},
		[]string{"kind"},
	)

	subscriptionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "communitas_subscriptions_active",
			Help: "Entities with an active remote subscription",
		},
	)

	// Persistent store metrics
	storeQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "communitas_store_query_duration_seconds",
			Help:    "Persistent store operation duration",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"},
	)
)

// RecordCacheHit records a cache read served by the given layer.
func RecordCacheHit(layer string) {
	cacheHitsTotal.WithLabelValues(layer).Inc()
}

// RecordCacheMiss records a cache read that found nothing.
func RecordCacheMiss() {
	cacheMissesTotal.Inc()
}

// RecordCacheEviction records an expired entry eviction.
func RecordCacheEviction(trigger string) {
	cacheEntriesEvicted.WithLabelValues(trigger).Inc()
}

// SetCacheEntriesActive sets the in-memory entry count.
func SetCacheEntriesActive(n int) {
	cacheEntriesActive.Set(float64(n))
}

// SetSyncQueueDepth sets the pending mutation count.
func SetSyncQueueDepth(n int) {
	syncQueueDepth.Set(float64(n))
}

// RecordQueueReplayed records a successful replay.
func RecordQueueReplayed() {
	syncQueueReplayedTotal.Inc()
}

// RecordQueueDropped records a mutation dropped after retry exhaustion.
func RecordQueueDropped() {
	syncQueueDroppedTotal.Inc()
}

// RecordDrainDuration records how long a queue drain took.
func RecordDrainDuration(d time.Duration) {
	syncQueueDrainDuration.Observe(d.Seconds())
}

// SetConnectivityState sets the connectivity state gauge.
func SetConnectivityState(state int) {
	connectivityState.Set(float64(state))
}

// SetPeerCount sets the peer count gauge.
func SetPeerCount(n int) {
	peerCount.Set(float64(n))
}

// RecordPushEvent records a received push event by kind.
func RecordPushEvent(kind string) {
	pushEventsTotal.WithLabelValues(kind).Inc()
}

// SetSubscriptionsActive sets the active subscription count.
func SetSubscriptionsActive(n int) {
	subscriptionsActive.Set(float64(n))
}

// RecordStoreQuery records a persistent store operation duration.
func RecordStoreQuery(op string, d time.Duration) {
	storeQueryDuration.WithLabelValues(op).Observe(d.Seconds())
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
