package main

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"nostr-wallet/internal/types"
	"nostr-wallet/internal/util"
)

// Spark client: lifecycle management for the embedded self-custodial node
// engine. The engine itself (ledger, channel state, network sync) is an
// external collaborator behind the SparkEngine interface.

const (
	maxRecentPayments = 50
	updateChanSize    = 64
)

// SparkEvent is a raw engine callback payload. Engine SDK versions have
// shipped several incompatible shapes for the same logical event, so payloads
// stay untyped until normalizePayment converts them at this boundary.
type SparkEvent map[string]interface{}

// SparkEngine is the lifecycle contract this subsystem depends on. Balance
// must return a locally cached value without touching the network.
type SparkEngine interface {
	Connect(ctx context.Context, seed []byte, apiKey string) error
	Disconnect() error
	AddEventListener(fn func(SparkEvent)) (listenerID string)
	RemoveEventListener(listenerID string)
	SyncWallet(ctx context.Context) error
	Balance(ctx context.Context) (int64, error)
	PayInvoice(ctx context.Context, bolt11Invoice string) (preimage string, err error)
	CreateInvoice(ctx context.Context, amountSats int64, memo string) (bolt11Invoice string, err error)
	RegisterLightningAddress(ctx context.Context, username string) error
	DeleteLightningAddress(ctx context.Context) error
	CheckLightningAddressAvailable(ctx context.Context, username string) (bool, error)
}

// SparkClient owns one engine connection: listener registration ordering,
// cached-first balance reads, and conversion of engine callbacks into typed
// updates on a channel. Only one node wallet connection may exist per
// process; a second Connect while one is active is an error, not a replace.
type SparkClient struct {
	engine SparkEngine

	mu         sync.Mutex
	connected  bool
	listenerID string
	balance    types.Balance
	payments   []types.Payment // newest first, bounded

	generation atomic.Uint64
	syncing    atomic.Bool

	updates chan types.WalletUpdate
}

var (
	activeSparkMu sync.Mutex
	activeSpark   *SparkClient
)

// NewSparkClient wraps an engine. The client is inert until Connect.
func NewSparkClient(engine SparkEngine) *SparkClient {
	return &SparkClient{
		engine:  engine,
		updates: make(chan types.WalletUpdate, updateChanSize),
	}
}

// Updates is the typed message stream consumed by the registry: balance
// snapshots, settled payments, sync completions.
func (c *SparkClient) Updates() <-chan types.WalletUpdate {
	return c.updates
}

// Generation returns the current connection generation.
func (c *SparkClient) Generation() uint64 {
	return c.generation.Load()
}

// Connect brings the engine up. The sequence is load-bearing and must not be
// reordered: (1) engine connection, (2) event listener registration before
// any other operation, (3) only then a non-blocking initial sync.
// Registering the listener after a sync call, or wrapping the registration
// itself in a timeout, has repeatedly caused missed incoming-payment
// notifications; registration is unconditional and un-timed-out.
func (c *SparkClient) Connect(ctx context.Context, seed []byte, apiKey string) error {
	activeSparkMu.Lock()
	if activeSpark != nil && activeSpark != c {
		activeSparkMu.Unlock()
		return ErrAlreadyConnected
	}
	activeSpark = c
	activeSparkMu.Unlock()

	c.mu.Lock()
	if c.connected {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	log := LoggerFromContext(ctx)

	if err := c.engine.Connect(ctx, seed, apiKey); err != nil {
		activeSparkMu.Lock()
		activeSpark = nil
		activeSparkMu.Unlock()
		return fmt.Errorf("%w: engine connect: %v", ErrConnectRejected, err)
	}

	gen := c.generation.Add(1)

	listenerID := c.engine.AddEventListener(func(evt SparkEvent) {
		c.onEvent(evt, gen)
	})

	c.mu.Lock()
	c.connected = true
	c.listenerID = listenerID
	c.mu.Unlock()

	log.Info("spark: connected", "generation", gen)

	// Initial sync runs in the background; callers get cached data
	// immediately and a balance update follows when the sync lands.
	go c.backgroundSync(gen)

	return nil
}

// IsConnected reports whether the engine connection is up.
func (c *SparkClient) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// GetBalance returns the cached balance immediately. With forceSync a
// background sync is triggered and the fresh value arrives later on the
// update channel; blocking the caller on a network sync is banned here
// (observed to hang for 30+ seconds on slow engines).
func (c *SparkClient) GetBalance(ctx context.Context, forceSync bool) (types.Balance, error) {
	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return types.Balance{}, ErrNotConnected
	}
	bal := c.balance
	c.mu.Unlock()

	if forceSync {
		bal.Syncing = true
		go c.backgroundSync(c.generation.Load())
	}

	return bal, nil
}

// RecentPayments returns the bounded recent-payments list, newest first.
func (c *SparkClient) RecentPayments() []types.Payment {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]types.Payment, len(c.payments))
	copy(out, c.payments)
	return out
}

// backgroundSync runs one engine sync and refreshes the cached balance.
// Results from a superseded generation are discarded, not applied.
func (c *SparkClient) backgroundSync(gen uint64) {
	if !c.syncing.CompareAndSwap(false, true) {
		return // a sync is already running
	}
	defer c.syncing.Store(false)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := c.engine.SyncWallet(ctx); err != nil {
		// Soft failure: cached data stays on display
		slog.Warn("spark: sync failed", "error", fmt.Errorf("%w: %v", ErrSyncFailure, err))
		return
	}

	if c.generation.Load() != gen {
		slog.Warn("spark: generation_mismatch, discarding sync result", "generation", gen)
		return
	}

	c.refreshBalance(ctx, gen)
}

// refreshBalance reads the engine's local balance and publishes a snapshot.
func (c *SparkClient) refreshBalance(ctx context.Context, gen uint64) {
	sats, err := c.engine.Balance(ctx)
	if err != nil {
		slog.Warn("spark: balance read failed", "error", err)
		return
	}
	if c.generation.Load() != gen {
		slog.Warn("spark: generation_mismatch, discarding balance", "generation", gen)
		return
	}

	bal := types.Balance{Sats: sats, UpdatedAt: time.Now().Unix()}

	c.mu.Lock()
	c.balance = bal
	c.mu.Unlock()

	c.sendUpdate(types.WalletUpdate{Type: types.UpdateBalance, Generation: gen, Balance: &bal})
}

// onEvent is the engine callback. Payment-settled events append to the
// recent list and trigger a balance refresh; sync events trigger a refresh.
func (c *SparkClient) onEvent(evt SparkEvent, gen uint64) {
	if c.generation.Load() != gen {
		// Listener belongs to a torn-down connection; never apply.
		slog.Warn("spark: generation_mismatch, discarding event", "generation", gen)
		return
	}

	switch eventName(evt) {
	case "payment":
		payment, ok := normalizePayment(evt)
		if !ok {
			slog.Warn("spark: unrecognized payment payload shape")
			return
		}
		c.mu.Lock()
		c.payments = append([]types.Payment{payment}, c.payments...)
		c.payments = util.LimitSlice(c.payments, maxRecentPayments)
		c.mu.Unlock()

		c.sendUpdate(types.WalletUpdate{Type: types.UpdatePayment, Generation: gen, Payment: &payment})

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		c.refreshBalance(ctx, gen)

	case "synced":
		c.sendUpdate(types.WalletUpdate{Type: types.UpdateSynced, Generation: gen})
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		c.refreshBalance(ctx, gen)

	default:
		slog.Debug("spark: ignoring engine event", "event", eventName(evt))
	}
}

// sendUpdate delivers without blocking the engine's callback thread;
// a full channel drops the update and counts it.
func (c *SparkClient) sendUpdate(u types.WalletUpdate) {
	select {
	case c.updates <- u:
	default:
		droppedUpdatesTotal.Add(1)
	}
}

// PayInvoice pays a BOLT11 invoice through the engine.
func (c *SparkClient) PayInvoice(ctx context.Context, bolt11Invoice string) (string, error) {
	if !c.IsConnected() {
		return "", ErrNotConnected
	}
	return c.engine.PayInvoice(ctx, bolt11Invoice)
}

// CreateInvoice creates a BOLT11 invoice for receiving.
func (c *SparkClient) CreateInvoice(ctx context.Context, amountSats int64, memo string) (string, error) {
	if !c.IsConnected() {
		return "", ErrNotConnected
	}
	return c.engine.CreateInvoice(ctx, amountSats, memo)
}

// RegisterLightningAddress registers a username with the engine's address
// service. Thin pass-through.
func (c *SparkClient) RegisterLightningAddress(ctx context.Context, username string) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return c.engine.RegisterLightningAddress(ctx, username)
}

// DeleteLightningAddress removes the registered username.
func (c *SparkClient) DeleteLightningAddress(ctx context.Context) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return c.engine.DeleteLightningAddress(ctx)
}

// CheckUsernameAvailable asks the address service whether a username is
// free. Callers typing in a form must debounce this (see UsernameChecker).
func (c *SparkClient) CheckUsernameAvailable(ctx context.Context, username string) (bool, error) {
	if !c.IsConnected() {
		return false, ErrNotConnected
	}
	return c.engine.CheckLightningAddressAvailable(ctx, username)
}

// Disconnect tears down in reverse connect order: the listener is removed
// before the engine closes, so no event is delivered into a half-closed
// handle. In-flight operations are invalidated via the generation bump.
func (c *SparkClient) Disconnect() error {
	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return nil
	}
	listenerID := c.listenerID
	c.connected = false
	c.listenerID = ""
	c.mu.Unlock()

	c.generation.Add(1)

	c.engine.RemoveEventListener(listenerID)
	err := c.engine.Disconnect()

	activeSparkMu.Lock()
	if activeSpark == c {
		activeSpark = nil
	}
	activeSparkMu.Unlock()

	if err != nil {
		return fmt.Errorf("engine disconnect: %w", err)
	}
	return nil
}

// eventName extracts the logical event type from the several shapes engine
// SDKs have used ("type", "event", "name").
func eventName(evt SparkEvent) string {
	for _, key := range []string{"type", "event", "name"} {
		if v, ok := evt[key].(string); ok && v != "" {
			name := strings.ToLower(v)
			// Collapse historical variants
			switch {
			case strings.Contains(name, "payment") || strings.Contains(name, "transfer"):
				return "payment"
			case strings.Contains(name, "sync"):
				return "synced"
			default:
				return name
			}
		}
	}
	return ""
}

// normalizePayment converts any historical engine payment payload shape into
// the typed Payment struct. Observed shapes:
//   - {"paymentType": "RECEIVE"|"SEND", "amountSats": 21}
//   - {"received": true, "amount": "21000"}   (msat string)
//   - {"sent": true, "value": 21}
func normalizePayment(evt SparkEvent) (types.Payment, bool) {
	p := types.Payment{SettledAt: time.Now().Unix()}

	if id, ok := evt["id"].(string); ok {
		p.ID = id
	} else if id, ok := evt["paymentId"].(string); ok {
		p.ID = id
	}

	directionFound := false
	if pt, ok := evt["paymentType"].(string); ok {
		switch strings.ToUpper(pt) {
		case "RECEIVE", "INCOMING":
			p.Incoming = true
			directionFound = true
		case "SEND", "OUTGOING":
			p.Incoming = false
			directionFound = true
		}
	}
	if !directionFound {
		if received, ok := evt["received"].(bool); ok {
			p.Incoming = received
			directionFound = true
		} else if sent, ok := evt["sent"].(bool); ok {
			p.Incoming = !sent
			directionFound = true
		}
	}
	if !directionFound {
		return types.Payment{}, false
	}

	amountFound := false
	for _, key := range []string{"amountSats", "amount_sats", "amount", "value"} {
		raw, ok := evt[key]
		if !ok {
			continue
		}
		sats, ok := coerceAmount(raw, key == "amount")
		if !ok {
			continue
		}
		p.AmountSats = sats
		amountFound = true
		break
	}
	if !amountFound {
		return types.Payment{}, false
	}

	if fee, ok := evt["feeSats"]; ok {
		if sats, ok := coerceAmount(fee, false); ok {
			p.FeeSats = sats
		}
	}
	if desc, ok := evt["description"].(string); ok {
		p.Description = desc
	} else if memo, ok := evt["memo"].(string); ok {
		p.Description = memo
	}
	if ts, ok := evt["settledAt"].(float64); ok {
		p.SettledAt = int64(ts)
	}

	return p, true
}

// coerceAmount accepts number or numeric-string amounts. msat reports
// whether the field is known to carry millisatoshis and needs dividing.
func coerceAmount(raw interface{}, msat bool) (int64, bool) {
	var v int64
	switch n := raw.(type) {
	case float64:
		v = int64(n)
	case int64:
		v = n
	case int:
		v = int64(n)
	case string:
		parsed, err := strconv.ParseInt(strings.TrimSpace(n), 10, 64)
		if err != nil {
			return 0, false
		}
		v = parsed
	default:
		return 0, false
	}

	// Legacy "amount" fields carried millisatoshis as strings
	if msat {
		if _, isString := raw.(string); isString {
			v /= 1000
		}
	}
	return v, true
}
