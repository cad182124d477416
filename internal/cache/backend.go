// Package cache provides a pluggable TTL cache with memory and Redis backends.
package cache

import (
	"context"
	"time"
)

// Backend defines the interface cache implementations satisfy
type Backend interface {
	// Get retrieves a value from the cache.
	// Returns (value, found, error).
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores a value in the cache with the given TTL
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a value from the cache
	Delete(ctx context.Context, key string) error

	// Close closes the cache connection
	Close() error
}

// Config holds cache TTLs for wallet-domain data
type Config struct {
	BalanceTTL    time.Duration // cached balance snapshot
	BackupListTTL time.Duration // relay backup listings
	WalletInfoTTL time.Duration // NWC info event (13194) per wallet pubkey
	LnurlTTL      time.Duration // lightning address well-known lookups
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		BalanceTTL:    5 * time.Minute,  // refresh interval for cached-first reads
		BackupListTTL: 2 * time.Minute,  // listings change only on backup writes
		WalletInfoTTL: 1 * time.Hour,    // info events rarely change
		LnurlTTL:      10 * time.Minute, //
	}
}
