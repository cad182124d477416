package main

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"nostr-wallet/internal/config"
	"nostr-wallet/internal/services"
	"nostr-wallet/internal/types"
)

// Wallet registry: the set of configured wallets, which one is active, and
// lazy reconnection from persisted records. Records survive restarts;
// connections do not, so every balance fetch, history fetch, and payment
// goes through EnsureConnected first.

const maxWallets = 2

// NodeSeedFn resolves the node wallet's seed when a connection is needed.
// The seed is never stored in a WalletRecord.
type NodeSeedFn func(ctx context.Context) ([]byte, error)

// EngineFactory builds a node engine instance; swapped out in tests.
type EngineFactory func() SparkEngine

// Registry owns the wallet records and the per-kind connection state.
type Registry struct {
	store         *config.WalletStore
	cache         *WalletCache
	engineFactory EngineFactory
	nodeSeedFn    NodeSeedFn

	mu sync.Mutex
	// Connection state per kind: at most one live client each. The
	// connectionData the client was built from is kept so EnsureConnected
	// can detect that a record changed underneath an old connection.
	nwc        *NWCClient
	nwcDataURI string
	spark      *SparkClient
	sparkID    string
	lnaddr     *LightningAddressManager

	connectGroup singleflight.Group
}

// NewRegistry loads persisted records. cache may be nil; engineFactory and
// nodeSeedFn are only required when a node wallet record exists.
func NewRegistry(store *config.WalletStore, cache *WalletCache, engineFactory EngineFactory, nodeSeedFn NodeSeedFn) *Registry {
	return &Registry{
		store:         store,
		cache:         cache,
		engineFactory: engineFactory,
		nodeSeedFn:    nodeSeedFn,
	}
}

// List returns the persisted wallet records.
func (r *Registry) List() []types.WalletRecord {
	return r.store.List()
}

// Get returns one record by id.
func (r *Registry) Get(id string) (types.WalletRecord, bool) {
	return r.store.Get(id)
}

// Active returns the active record, if any.
func (r *Registry) Active() (types.WalletRecord, bool) {
	for _, rec := range r.store.List() {
		if rec.Active {
			return rec, true
		}
	}
	return types.WalletRecord{}, false
}

// newWalletID returns a creation-time unix-milli id, bumped past any taken
// value so two records added within the same millisecond never share an id.
// A shared id would make SwitchActive mark both active and Remove delete both.
func newWalletID(existing []types.WalletRecord) string {
	id := time.Now().UnixMilli()
	taken := make(map[string]bool, len(existing))
	for _, rec := range existing {
		taken[rec.ID] = true
	}
	for taken[strconv.FormatInt(id, 10)] {
		id++
	}
	return strconv.FormatInt(id, 10)
}

// Add inserts a record, enforcing at most one wallet per kind and at most
// two wallets total. A browser-signer record excludes protocol wallets
// entirely, and vice versa.
func (r *Registry) Add(record types.WalletRecord) (types.WalletRecord, error) {
	if !record.Kind.Valid() {
		return types.WalletRecord{}, fmt.Errorf("%w: unknown wallet kind %d", ErrParse, int(record.Kind))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	existing := r.store.List()
	if len(existing) >= maxWallets {
		return types.WalletRecord{}, ErrWalletLimitExceeded
	}
	for _, rec := range existing {
		if rec.Kind == record.Kind {
			return types.WalletRecord{}, ErrWalletLimitExceeded
		}
		if rec.Kind == types.WalletKindBrowserSigner || record.Kind == types.WalletKindBrowserSigner {
			return types.WalletRecord{}, ErrWalletLimitExceeded
		}
	}

	if record.ID == "" {
		record.ID = newWalletID(existing)
	} else {
		for _, rec := range existing {
			if rec.ID == record.ID {
				return types.WalletRecord{}, fmt.Errorf("%w: wallet id %s already exists", ErrParse, record.ID)
			}
		}
	}
	if record.CreatedAt == 0 {
		record.CreatedAt = time.Now().Unix()
	}
	// First wallet becomes active
	if len(existing) == 0 {
		record.Active = true
	} else {
		record.Active = false
	}

	updated := append(existing, record)
	if err := r.store.Replace(updated); err != nil {
		return types.WalletRecord{}, fmt.Errorf("persist wallet record: %w", err)
	}

	slog.Info("registry: wallet added", "id", record.ID, "kind", record.Kind.String())
	return record, nil
}

// Remove deletes a record. Node wallet removal is gated: the caller must
// have driven the user through the backup flow and pass backupAcknowledged,
// because the record's seed exists nowhere else.
func (r *Registry) Remove(ctx context.Context, id string, backupAcknowledged bool) error {
	record, ok := r.store.Get(id)
	if !ok {
		return fmt.Errorf("%w: no wallet %s", ErrParse, id)
	}
	if record.Kind == types.WalletKindNodeWallet && !backupAcknowledged {
		return ErrBackupRequired
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Tear down the live connection for this record before dropping it
	switch record.Kind {
	case types.WalletKindRemoteWallet:
		if r.nwc != nil {
			r.nwc.Close()
			r.nwc = nil
			r.nwcDataURI = ""
		}
	case types.WalletKindNodeWallet:
		if r.spark != nil && r.sparkID == id {
			if err := r.spark.Disconnect(); err != nil {
				slog.Warn("registry: disconnect during removal failed", "error", err)
			}
			r.spark = nil
			r.sparkID = ""
			r.lnaddr = nil
		}
	}

	remaining := make([]types.WalletRecord, 0)
	wasActive := false
	for _, rec := range r.store.List() {
		if rec.ID == id {
			wasActive = rec.Active
			continue
		}
		remaining = append(remaining, rec)
	}
	// Promote the survivor if the active wallet was removed
	if wasActive && len(remaining) > 0 {
		remaining[0].Active = true
	}

	if err := r.store.Replace(remaining); err != nil {
		return fmt.Errorf("persist wallet records: %w", err)
	}
	slog.Info("registry: wallet removed", "id", id, "kind", record.Kind.String())
	return nil
}

// SwitchActive marks exactly one record active. The previous wallet's
// connection is not torn down eagerly; it goes idle and is reclaimed when
// its record reconnects or is removed.
func (r *Registry) SwitchActive(id string) error {
	records := r.store.List()
	found := false
	for i := range records {
		if records[i].ID == id {
			records[i].Active = true
			found = true
		} else {
			records[i].Active = false
		}
	}
	if !found {
		return fmt.Errorf("%w: no wallet %s", ErrParse, id)
	}
	if err := r.store.Replace(records); err != nil {
		return fmt.Errorf("persist wallet records: %w", err)
	}
	slog.Info("registry: active wallet switched", "id", id)
	return nil
}

// EnsureConnected makes the record's connection live, reconnecting from
// persisted data when process-local state was lost. Idempotent: an
// already-connected client with matching connection data costs nothing.
// Concurrent calls for the same kind collapse into one connection attempt.
func (r *Registry) EnsureConnected(ctx context.Context, id string) error {
	record, ok := r.store.Get(id)
	if !ok {
		return fmt.Errorf("%w: no wallet %s", ErrParse, id)
	}

	switch record.Kind {
	case types.WalletKindRemoteWallet:
		_, err, _ := r.connectGroup.Do("connect-remote", func() (interface{}, error) {
			return nil, r.ensureNWC(ctx, record)
		})
		return err
	case types.WalletKindNodeWallet:
		_, err, _ := r.connectGroup.Do("connect-node", func() (interface{}, error) {
			return nil, r.ensureSpark(ctx, record)
		})
		return err
	case types.WalletKindBrowserSigner:
		// Nothing to connect: the external signer holds the session
		return nil
	default:
		return fmt.Errorf("%w: unknown wallet kind %d", ErrParse, int(record.Kind))
	}
}

func (r *Registry) ensureNWC(ctx context.Context, record types.WalletRecord) error {
	r.mu.Lock()
	client := r.nwc
	sameData := r.nwcDataURI == record.ConnectionData
	r.mu.Unlock()

	if client != nil && sameData && client.IsConnected() {
		return nil
	}

	// Connection data changed or state was lost: rebuild from the record
	if client != nil && !sameData {
		client.Close()
	}

	cfg, err := ParseNWCURI(record.ConnectionData)
	if err != nil {
		return err
	}
	fresh, err := NewNWCClient(cfg)
	if err != nil {
		return err
	}
	fresh.cache = r.cache
	if err := fresh.Connect(ctx); err != nil {
		return err
	}

	r.mu.Lock()
	r.nwc = fresh
	r.nwcDataURI = record.ConnectionData
	r.mu.Unlock()
	return nil
}

func (r *Registry) ensureSpark(ctx context.Context, record types.WalletRecord) error {
	r.mu.Lock()
	client := r.spark
	sameRecord := r.sparkID == record.ID
	r.mu.Unlock()

	if client != nil && sameRecord && client.IsConnected() {
		return nil
	}

	if r.engineFactory == nil || r.nodeSeedFn == nil {
		return fmt.Errorf("%w: node wallet engine not configured", ErrNoCapability)
	}

	if client != nil && !sameRecord {
		if err := client.Disconnect(); err != nil {
			slog.Warn("registry: stale node wallet teardown failed", "error", err)
		}
	}

	seed, err := r.nodeSeedFn(ctx)
	if err != nil {
		return fmt.Errorf("resolve node wallet seed: %w", err)
	}

	fresh := NewSparkClient(r.engineFactory())
	if err := fresh.Connect(ctx, seed, config.Get().SparkAPIKey); err != nil {
		return err
	}

	r.mu.Lock()
	r.spark = fresh
	r.sparkID = record.ID
	r.lnaddr = NewLightningAddressManager(fresh, config.Get().LnAddressDomain)
	r.mu.Unlock()
	return nil
}

// LightningAddress returns the node wallet's address manager, if connected.
func (r *Registry) LightningAddress() (*LightningAddressManager, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.lnaddr == nil || r.spark == nil || !r.spark.IsConnected() {
		return nil, false
	}
	return r.lnaddr, true
}

// NWC returns the live remote wallet client, if connected.
func (r *Registry) NWC() (*NWCClient, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.nwc == nil || !r.nwc.IsConnected() {
		return nil, false
	}
	return r.nwc, true
}

// Spark returns the live node wallet client, if connected.
func (r *Registry) Spark() (*SparkClient, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.spark == nil || !r.spark.IsConnected() {
		return nil, false
	}
	return r.spark, true
}

// GetBalance fetches the active wallet's balance through whichever client
// backs it, connecting on demand. Node wallet reads are cached-first.
func (r *Registry) GetBalance(ctx context.Context, forceSync bool) (types.Balance, error) {
	record, ok := r.Active()
	if !ok {
		return types.Balance{}, ErrNotConnected
	}
	if err := r.EnsureConnected(ctx, record.ID); err != nil {
		return r.cachedBalance(ctx, record.ID, err)
	}

	switch record.Kind {
	case types.WalletKindRemoteWallet:
		client, ok := r.NWC()
		if !ok {
			return r.cachedBalance(ctx, record.ID, ErrNotConnected)
		}
		result, err := client.GetBalance(ctx)
		if err != nil {
			return r.cachedBalance(ctx, record.ID, err)
		}
		bal := types.Balance{Sats: result.Balance / 1000, UpdatedAt: time.Now().Unix()}
		if r.cache != nil {
			r.cache.SetBalance(ctx, record.ID, bal)
		}
		return bal, nil

	case types.WalletKindNodeWallet:
		client, ok := r.Spark()
		if !ok {
			return types.Balance{}, ErrNotConnected
		}
		return client.GetBalance(ctx, forceSync)

	default:
		return types.Balance{}, fmt.Errorf("%w: wallet kind %s has no balance", ErrNoCapability, record.Kind)
	}
}

// cachedBalance serves the last cached snapshot when the wallet is
// unreachable, falling through to cause when nothing is cached.
func (r *Registry) cachedBalance(ctx context.Context, walletID string, cause error) (types.Balance, error) {
	if r.cache != nil {
		if bal, ok := r.cache.Balance(ctx, walletID); ok {
			slog.Debug("registry: serving cached balance, wallet unreachable",
				"id", walletID, "error", cause)
			return bal, nil
		}
	}
	return types.Balance{}, cause
}

// PayAddress resolves a lightning address, requests an invoice for the
// amount, and pays it through the active wallet. Resolved pay endpoints are
// cached; the invoice itself is always fetched fresh.
func (r *Registry) PayAddress(ctx context.Context, address string, amountSats int64, comment string) (string, error) {
	record, ok := r.Active()
	if !ok {
		return "", ErrNotConnected
	}
	if err := r.EnsureConnected(ctx, record.ID); err != nil {
		return "", err
	}

	var info *services.LNURLPayInfo
	if r.cache != nil {
		info, _ = r.cache.LnurlPayInfo(ctx, address)
	}
	if info == nil {
		resolved, err := services.ResolveLightningAddress(address)
		if err != nil {
			return "", fmt.Errorf("resolve %s: %w", address, err)
		}
		info = resolved
		if r.cache != nil {
			r.cache.SetLnurlPayInfo(ctx, address, info)
		}
	}

	invoice, err := services.RequestInvoice(info, amountSats*1000, comment)
	if err != nil {
		return "", fmt.Errorf("request invoice from %s: %w", address, err)
	}

	switch record.Kind {
	case types.WalletKindRemoteWallet:
		client, ok := r.NWC()
		if !ok {
			return "", ErrNotConnected
		}
		result, err := client.PayInvoice(ctx, invoice)
		if err != nil {
			return "", err
		}
		return result.Preimage, nil
	case types.WalletKindNodeWallet:
		client, ok := r.Spark()
		if !ok {
			return "", ErrNotConnected
		}
		return client.PayInvoice(ctx, invoice)
	default:
		return "", fmt.Errorf("%w: wallet kind %s cannot pay", ErrNoCapability, record.Kind)
	}
}

// Disconnect tears down the record's live connection, if any. Reverse of
// connect order within each client.
func (r *Registry) Disconnect(id string) error {
	record, ok := r.store.Get(id)
	if !ok {
		return fmt.Errorf("%w: no wallet %s", ErrParse, id)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	switch record.Kind {
	case types.WalletKindRemoteWallet:
		if r.nwc != nil {
			r.nwc.Close()
			r.nwc = nil
			r.nwcDataURI = ""
		}
	case types.WalletKindNodeWallet:
		if r.spark != nil && r.sparkID == id {
			err := r.spark.Disconnect()
			r.spark = nil
			r.sparkID = ""
			r.lnaddr = nil
			return err
		}
	}
	return nil
}
