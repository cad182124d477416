package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"nostr-wallet/internal/cache"
	"nostr-wallet/internal/config"
	"nostr-wallet/internal/services"
	"nostr-wallet/internal/types"
)

// WalletCache is the typed facade over the cache backend. Every read
// records a hit or miss; a backend error degrades to a miss rather than
// failing the caller.
type WalletCache struct {
	backend cache.Backend
	ttls    cache.Config
}

// NewWalletCache selects Redis when REDIS_URL is configured and falls back
// to the in-process cache otherwise.
func NewWalletCache() *WalletCache {
	ttls := cache.DefaultConfig()

	if redisURL := config.Get().RedisURL; redisURL != "" {
		backend, err := cache.NewRedisCache(redisURL, "wallet")
		if err != nil {
			slog.Warn("cache: redis unavailable, using memory cache", "error", err)
		} else {
			slog.Info("cache: using redis backend")
			return &WalletCache{backend: backend, ttls: ttls}
		}
	}

	return &WalletCache{backend: cache.NewMemoryCache(10000, time.Minute), ttls: ttls}
}

// Close releases the backend.
func (wc *WalletCache) Close() error {
	return wc.backend.Close()
}

func (wc *WalletCache) getJSON(ctx context.Context, key string, out interface{}) bool {
	data, found, err := wc.backend.Get(ctx, key)
	if err != nil {
		slog.Warn("cache: get failed", "key", key, "error", err)
		IncrementCacheMiss()
		return false
	}
	if !found {
		IncrementCacheMiss()
		return false
	}
	if err := json.Unmarshal(data, out); err != nil {
		slog.Warn("cache: corrupt entry dropped", "key", key, "error", err)
		wc.backend.Delete(ctx, key)
		IncrementCacheMiss()
		return false
	}
	IncrementCacheHit()
	return true
}

// Balance returns the cached balance snapshot for a wallet, if present.
func (wc *WalletCache) Balance(ctx context.Context, walletID string) (types.Balance, bool) {
	var bal types.Balance
	ok := wc.getJSON(ctx, "balance:"+walletID, &bal)
	return bal, ok
}

// SetBalance stores a balance snapshot.
func (wc *WalletCache) SetBalance(ctx context.Context, walletID string, bal types.Balance) {
	data, err := json.Marshal(bal)
	if err != nil {
		return
	}
	if err := wc.backend.Set(ctx, "balance:"+walletID, data, wc.ttls.BalanceTTL); err != nil {
		slog.Warn("cache: set failed", "key", "balance:"+walletID, "error", err)
	}
}

// BackupList returns the cached relay backup listing for an owner pubkey.
// The listing spans all wallet scopes, so it is keyed by owner alone.
func (wc *WalletCache) BackupList(ctx context.Context, ownerPubKey string) ([]types.Event, bool) {
	var events []types.Event
	ok := wc.getJSON(ctx, backupListKey(ownerPubKey), &events)
	return events, ok
}

// SetBackupList stores a backup listing.
func (wc *WalletCache) SetBackupList(ctx context.Context, ownerPubKey string, events []types.Event) {
	data, err := json.Marshal(events)
	if err != nil {
		return
	}
	if err := wc.backend.Set(ctx, backupListKey(ownerPubKey), data, wc.ttls.BackupListTTL); err != nil {
		slog.Warn("cache: set failed", "key", backupListKey(ownerPubKey), "error", err)
	}
}

// InvalidateBackupList drops the cached listing after a new backup is written.
func (wc *WalletCache) InvalidateBackupList(ctx context.Context, ownerPubKey string) {
	wc.backend.Delete(ctx, backupListKey(ownerPubKey))
}

func backupListKey(ownerPubKey string) string {
	return fmt.Sprintf("backups:%s", ownerPubKey)
}

// WalletInfo returns the cached NWC info event for a wallet pubkey.
func (wc *WalletCache) WalletInfo(ctx context.Context, walletPubKey string) (types.Event, bool) {
	var evt types.Event
	ok := wc.getJSON(ctx, "walletinfo:"+walletPubKey, &evt)
	return evt, ok
}

// SetWalletInfo stores an NWC info event.
func (wc *WalletCache) SetWalletInfo(ctx context.Context, walletPubKey string, evt types.Event) {
	data, err := json.Marshal(evt)
	if err != nil {
		return
	}
	if err := wc.backend.Set(ctx, "walletinfo:"+walletPubKey, data, wc.ttls.WalletInfoTTL); err != nil {
		slog.Warn("cache: set failed", "key", "walletinfo:"+walletPubKey, "error", err)
	}
}

// LnurlPayInfo returns a cached well-known lookup for a lightning address.
func (wc *WalletCache) LnurlPayInfo(ctx context.Context, address string) (*services.LNURLPayInfo, bool) {
	var info services.LNURLPayInfo
	if !wc.getJSON(ctx, "lnurl:"+address, &info) {
		return nil, false
	}
	return &info, true
}

// SetLnurlPayInfo stores a well-known lookup result.
func (wc *WalletCache) SetLnurlPayInfo(ctx context.Context, address string, info *services.LNURLPayInfo) {
	data, err := json.Marshal(info)
	if err != nil {
		return
	}
	if err := wc.backend.Set(ctx, "lnurl:"+address, data, wc.ttls.LnurlTTL); err != nil {
		slog.Warn("cache: set failed", "key", "lnurl:"+address, "error", err)
	}
}
