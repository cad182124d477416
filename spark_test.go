package main

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"nostr-wallet/internal/types"
)

// fakeEngine records lifecycle ordering for assertions.
type fakeEngine struct {
	mu                 sync.Mutex
	connectCalls       int
	syncCalls          int
	listener           func(SparkEvent)
	listenerRegistered bool
	syncBeforeListener bool
	removedBeforeClose bool
	listenerRemoved    bool
	balance            int64
}

func (e *fakeEngine) Connect(ctx context.Context, seed []byte, apiKey string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.connectCalls++
	return nil
}

func (e *fakeEngine) Disconnect() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.removedBeforeClose = e.listenerRemoved
	return nil
}

func (e *fakeEngine) AddEventListener(fn func(SparkEvent)) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listener = fn
	e.listenerRegistered = true
	return "listener-1"
}

func (e *fakeEngine) RemoveEventListener(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listener = nil
	e.listenerRemoved = true
}

func (e *fakeEngine) SyncWallet(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.listenerRegistered {
		e.syncBeforeListener = true
	}
	e.syncCalls++
	return nil
}

func (e *fakeEngine) Balance(ctx context.Context) (int64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.balance, nil
}

func (e *fakeEngine) PayInvoice(ctx context.Context, invoice string) (string, error) {
	return "preimage", nil
}

func (e *fakeEngine) CreateInvoice(ctx context.Context, amountSats int64, memo string) (string, error) {
	return "lnbc1...", nil
}

func (e *fakeEngine) RegisterLightningAddress(ctx context.Context, username string) error {
	return nil
}

func (e *fakeEngine) DeleteLightningAddress(ctx context.Context) error { return nil }

func (e *fakeEngine) CheckLightningAddressAvailable(ctx context.Context, username string) (bool, error) {
	return true, nil
}

func (e *fakeEngine) fire(evt SparkEvent) {
	e.mu.Lock()
	fn := e.listener
	e.mu.Unlock()
	if fn != nil {
		fn(evt)
	}
}

func (e *fakeEngine) snapshot() fakeEngine {
	e.mu.Lock()
	defer e.mu.Unlock()
	return fakeEngine{
		connectCalls:       e.connectCalls,
		syncCalls:          e.syncCalls,
		listenerRegistered: e.listenerRegistered,
		syncBeforeListener: e.syncBeforeListener,
		removedBeforeClose: e.removedBeforeClose,
		listenerRemoved:    e.listenerRemoved,
	}
}

func connectedSpark(t *testing.T) (*SparkClient, *fakeEngine) {
	t.Helper()
	engine := &fakeEngine{balance: 21000}
	client := NewSparkClient(engine)
	if err := client.Connect(context.Background(), []byte("seed"), ""); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() { client.Disconnect() })
	return client, engine
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestConnectRegistersListenerBeforeSync(t *testing.T) {
	_, engine := connectedSpark(t)

	waitFor(t, func() bool { return engine.snapshot().syncCalls > 0 })

	snap := engine.snapshot()
	if !snap.listenerRegistered {
		t.Error("listener was never registered")
	}
	if snap.syncBeforeListener {
		t.Error("sync ran before the event listener was registered")
	}
}

func TestSecondConnectIsAnError(t *testing.T) {
	_, _ = connectedSpark(t)

	other := NewSparkClient(&fakeEngine{})
	err := other.Connect(context.Background(), []byte("seed"), "")
	if !errors.Is(err, ErrAlreadyConnected) {
		t.Errorf("second connect error = %v, want ErrAlreadyConnected", err)
	}
}

func TestGetBalanceCachedFirst(t *testing.T) {
	client, engine := connectedSpark(t)

	waitFor(t, func() bool {
		bal, err := client.GetBalance(context.Background(), false)
		return err == nil && bal.Sats == 21000
	})

	// forceSync returns the cached value immediately, marked as syncing
	bal, err := client.GetBalance(context.Background(), true)
	if err != nil {
		t.Fatalf("GetBalance(force): %v", err)
	}
	if bal.Sats != 21000 {
		t.Errorf("cached balance = %d, want 21000", bal.Sats)
	}
	if !bal.Syncing {
		t.Error("forced refresh should mark the snapshot as syncing")
	}
	_ = engine
}

func TestPaymentEventDelivery(t *testing.T) {
	client, engine := connectedSpark(t)
	waitFor(t, func() bool { return engine.snapshot().syncCalls > 0 })

	engine.fire(SparkEvent{
		"type":        "payment:settled",
		"paymentType": "RECEIVE",
		"amountSats":  float64(1500),
		"description": "coffee refund",
	})

	// Balance updates from the initial sync may interleave; wait for the
	// payment update specifically.
	var update types.WalletUpdate
	deadline := time.After(2 * time.Second)
	for update.Type != types.UpdatePayment {
		select {
		case update = <-client.Updates():
		case <-deadline:
			t.Fatal("no payment update delivered")
		}
	}
	if update.Payment == nil || update.Payment.AmountSats != 1500 || !update.Payment.Incoming {
		t.Errorf("payment update = %+v", update.Payment)
	}

	payments := client.RecentPayments()
	if len(payments) != 1 || payments[0].Description != "coffee refund" {
		t.Errorf("recent payments = %+v", payments)
	}
}

func TestDisconnectRemovesListenerFirst(t *testing.T) {
	engine := &fakeEngine{}
	client := NewSparkClient(engine)
	if err := client.Connect(context.Background(), []byte("seed"), ""); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := client.Disconnect(); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}

	snap := engine.snapshot()
	if !snap.listenerRemoved {
		t.Error("listener was not removed")
	}
	if !snap.removedBeforeClose {
		t.Error("engine closed before the listener was removed")
	}

	if _, err := client.GetBalance(context.Background(), false); !errors.Is(err, ErrNotConnected) {
		t.Errorf("GetBalance after disconnect = %v, want ErrNotConnected", err)
	}
}

func TestNormalizePayment(t *testing.T) {
	tests := []struct {
		name     string
		evt      SparkEvent
		want     types.Payment
		wantOK   bool
		skipTime bool
	}{
		{
			name: "modern shape",
			evt: SparkEvent{
				"id": "p1", "paymentType": "RECEIVE", "amountSats": float64(21),
			},
			want:   types.Payment{ID: "p1", Incoming: true, AmountSats: 21},
			wantOK: true,
		},
		{
			name: "legacy received with msat string amount",
			evt: SparkEvent{
				"received": true, "amount": "21000",
			},
			want:   types.Payment{Incoming: true, AmountSats: 21},
			wantOK: true,
		},
		{
			name: "legacy sent with numeric value",
			evt: SparkEvent{
				"sent": true, "value": float64(42), "memo": "lunch",
			},
			want:   types.Payment{Incoming: false, AmountSats: 42, Description: "lunch"},
			wantOK: true,
		},
		{
			name:   "no direction",
			evt:    SparkEvent{"amountSats": float64(5)},
			wantOK: false,
		},
		{
			name:   "no amount",
			evt:    SparkEvent{"paymentType": "SEND"},
			wantOK: false,
		},
	}

	for _, tt := range tests {
		got, ok := normalizePayment(tt.evt)
		if ok != tt.wantOK {
			t.Errorf("%s: ok = %v, want %v", tt.name, ok, tt.wantOK)
			continue
		}
		if !ok {
			continue
		}
		if got.ID != tt.want.ID || got.Incoming != tt.want.Incoming ||
			got.AmountSats != tt.want.AmountSats || got.Description != tt.want.Description {
			t.Errorf("%s: got %+v, want %+v", tt.name, got, tt.want)
		}
	}
}

func TestStaleGenerationEventDiscarded(t *testing.T) {
	client, engine := connectedSpark(t)
	waitFor(t, func() bool { return engine.snapshot().syncCalls > 0 })

	// Capture the listener, then reconnect semantics: bump generation
	// via disconnect and verify the captured listener's events are dropped.
	engine.mu.Lock()
	stale := engine.listener
	engine.mu.Unlock()

	if err := client.Disconnect(); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}

	stale(SparkEvent{"paymentType": "RECEIVE", "amountSats": float64(99)})

	if payments := client.RecentPayments(); len(payments) != 0 {
		t.Errorf("stale-generation payment applied: %+v", payments)
	}
}
