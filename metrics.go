package main

import "sync/atomic"

// Relay metrics
var (
	relayPublishesTotal   atomic.Int64
	relayPublishAcksTotal atomic.Int64
	droppedUpdatesTotal   atomic.Int64
)

// Cache metrics
var (
	cacheHitsTotal   atomic.Int64
	cacheMissesTotal atomic.Int64
)

// Encryption metrics
var (
	decryptFallbacksTotal atomic.Int64
	decryptTimeoutsTotal  atomic.Int64
)

// IncrementCacheHit increments the cache hit counter
func IncrementCacheHit() {
	cacheHitsTotal.Add(1)
}

// IncrementCacheMiss increments the cache miss counter
func IncrementCacheMiss() {
	cacheMissesTotal.Add(1)
}

// MetricsSnapshot reports current counter values for logging/inspection
func MetricsSnapshot() map[string]int64 {
	return map[string]int64{
		"relay_publishes":    relayPublishesTotal.Load(),
		"relay_publish_acks": relayPublishAcksTotal.Load(),
		"dropped_updates":    droppedUpdatesTotal.Load(),
		"cache_hits":         cacheHitsTotal.Load(),
		"cache_misses":       cacheMissesTotal.Load(),
		"decrypt_fallbacks":  decryptFallbacksTotal.Load(),
		"decrypt_timeouts":   decryptTimeoutsTotal.Load(),
	}
}
