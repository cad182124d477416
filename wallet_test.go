package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"nostr-wallet/internal/config"
	"nostr-wallet/internal/types"
)

func newTestRegistry(t *testing.T) (*Registry, *fakeEngine) {
	t.Helper()
	testConfig(t)

	store, err := config.OpenWalletStore(t.TempDir())
	if err != nil {
		t.Fatalf("OpenWalletStore: %v", err)
	}
	engine := &fakeEngine{balance: 21000}
	registry := NewRegistry(store, nil,
		func() SparkEngine { return engine },
		func(ctx context.Context) ([]byte, error) { return []byte("seed"), nil },
	)
	return registry, engine
}

func TestAddEnforcesWalletLimits(t *testing.T) {
	registry, _ := newTestRegistry(t)

	first, err := registry.Add(types.WalletRecord{Kind: types.WalletKindRemoteWallet, Name: "zeus"})
	if err != nil {
		t.Fatalf("Add remote: %v", err)
	}
	if !first.Active {
		t.Error("first wallet should become active")
	}
	if first.ID == "" {
		t.Error("record not assigned an id")
	}

	// Second wallet of the same kind
	if _, err := registry.Add(types.WalletRecord{Kind: types.WalletKindRemoteWallet}); !errors.Is(err, ErrWalletLimitExceeded) {
		t.Errorf("duplicate kind: got %v, want ErrWalletLimitExceeded", err)
	}

	// A browser signer never coexists with a protocol wallet
	if _, err := registry.Add(types.WalletRecord{Kind: types.WalletKindBrowserSigner}); !errors.Is(err, ErrWalletLimitExceeded) {
		t.Errorf("browser signer alongside remote: got %v, want ErrWalletLimitExceeded", err)
	}

	second, err := registry.Add(types.WalletRecord{Kind: types.WalletKindNodeWallet, Name: "node"})
	if err != nil {
		t.Fatalf("Add node: %v", err)
	}
	if second.Active {
		t.Error("second wallet must not steal the active slot")
	}

	// Hard cap of two
	if _, err := registry.Add(types.WalletRecord{Kind: types.WalletKindBrowserSigner}); !errors.Is(err, ErrWalletLimitExceeded) {
		t.Errorf("third wallet: got %v, want ErrWalletLimitExceeded", err)
	}

	if _, err := registry.Add(types.WalletRecord{Kind: 99}); !errors.Is(err, ErrParse) {
		t.Errorf("unknown kind: got %v, want ErrParse", err)
	}
}

func TestAddAssignsDistinctIDs(t *testing.T) {
	registry, _ := newTestRegistry(t)
	ctx := context.Background()

	// Back-to-back adds land within the same millisecond
	remote, err := registry.Add(types.WalletRecord{Kind: types.WalletKindRemoteWallet})
	if err != nil {
		t.Fatalf("Add remote: %v", err)
	}
	node, err := registry.Add(types.WalletRecord{Kind: types.WalletKindNodeWallet})
	if err != nil {
		t.Fatalf("Add node: %v", err)
	}
	if remote.ID == node.ID {
		t.Fatalf("both wallets share id %q", remote.ID)
	}

	// With distinct ids, removal touches exactly one record
	if err := registry.Remove(ctx, remote.ID, false); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if got := len(registry.List()); got != 1 {
		t.Fatalf("%d records left after removing one of two", got)
	}

	if _, err := registry.Add(types.WalletRecord{Kind: types.WalletKindRemoteWallet, ID: node.ID}); !errors.Is(err, ErrParse) {
		t.Errorf("explicit duplicate id: got %v, want ErrParse", err)
	}
}

func TestBrowserSignerExcludesProtocolWallets(t *testing.T) {
	registry, _ := newTestRegistry(t)

	if _, err := registry.Add(types.WalletRecord{Kind: types.WalletKindBrowserSigner}); err != nil {
		t.Fatalf("Add browser signer: %v", err)
	}
	if _, err := registry.Add(types.WalletRecord{Kind: types.WalletKindRemoteWallet}); !errors.Is(err, ErrWalletLimitExceeded) {
		t.Errorf("remote alongside browser signer: got %v, want ErrWalletLimitExceeded", err)
	}
	if _, err := registry.Add(types.WalletRecord{Kind: types.WalletKindNodeWallet}); !errors.Is(err, ErrWalletLimitExceeded) {
		t.Errorf("node alongside browser signer: got %v, want ErrWalletLimitExceeded", err)
	}
}

func TestRemoveNodeWalletRequiresBackupAck(t *testing.T) {
	registry, _ := newTestRegistry(t)
	ctx := context.Background()

	record, err := registry.Add(types.WalletRecord{Kind: types.WalletKindNodeWallet})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	if err := registry.Remove(ctx, record.ID, false); !errors.Is(err, ErrBackupRequired) {
		t.Fatalf("Remove without ack: got %v, want ErrBackupRequired", err)
	}
	if _, ok := registry.Get(record.ID); !ok {
		t.Fatal("record deleted despite missing acknowledgement")
	}

	if err := registry.Remove(ctx, record.ID, true); err != nil {
		t.Fatalf("Remove with ack: %v", err)
	}
	if _, ok := registry.Get(record.ID); ok {
		t.Error("record still present after acknowledged removal")
	}
}

func TestRemovePromotesSurvivor(t *testing.T) {
	registry, _ := newTestRegistry(t)
	ctx := context.Background()

	remote, _ := registry.Add(types.WalletRecord{Kind: types.WalletKindRemoteWallet, ConnectionData: testURI()})
	node, _ := registry.Add(types.WalletRecord{Kind: types.WalletKindNodeWallet})

	if err := registry.Remove(ctx, remote.ID, false); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	active, ok := registry.Active()
	if !ok || active.ID != node.ID {
		t.Errorf("survivor not promoted: active = %+v, ok = %v", active, ok)
	}

	if err := registry.Remove(ctx, "no-such-id", false); !errors.Is(err, ErrParse) {
		t.Errorf("Remove unknown id: got %v, want ErrParse", err)
	}
}

func TestSwitchActiveExactlyOne(t *testing.T) {
	registry, _ := newTestRegistry(t)

	remote, _ := registry.Add(types.WalletRecord{Kind: types.WalletKindRemoteWallet})
	node, _ := registry.Add(types.WalletRecord{Kind: types.WalletKindNodeWallet})

	if err := registry.SwitchActive(node.ID); err != nil {
		t.Fatalf("SwitchActive: %v", err)
	}
	activeCount := 0
	for _, rec := range registry.List() {
		if rec.Active {
			activeCount++
			if rec.ID != node.ID {
				t.Errorf("wrong wallet active: %s", rec.ID)
			}
		}
	}
	if activeCount != 1 {
		t.Errorf("active count = %d, want 1", activeCount)
	}

	if err := registry.SwitchActive(remote.ID); err != nil {
		t.Fatalf("SwitchActive back: %v", err)
	}
	if active, _ := registry.Active(); active.ID != remote.ID {
		t.Errorf("active = %s, want %s", active.ID, remote.ID)
	}

	if err := registry.SwitchActive("no-such-id"); !errors.Is(err, ErrParse) {
		t.Errorf("unknown id: got %v, want ErrParse", err)
	}
}

func TestEnsureConnectedIdempotent(t *testing.T) {
	registry, engine := newTestRegistry(t)
	ctx := context.Background()

	record, err := registry.Add(types.WalletRecord{Kind: types.WalletKindNodeWallet})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	t.Cleanup(func() { registry.Disconnect(record.ID) })

	if err := registry.EnsureConnected(ctx, record.ID); err != nil {
		t.Fatalf("EnsureConnected: %v", err)
	}
	if got := engine.snapshot().connectCalls; got != 1 {
		t.Fatalf("connect calls after first ensure = %d, want 1", got)
	}

	// Re-ensuring an already-live connection makes no new attempts
	for i := 0; i < 3; i++ {
		if err := registry.EnsureConnected(ctx, record.ID); err != nil {
			t.Fatalf("EnsureConnected #%d: %v", i+2, err)
		}
	}
	if got := engine.snapshot().connectCalls; got != 1 {
		t.Errorf("connect calls after repeats = %d, want 1", got)
	}

	if _, ok := registry.Spark(); !ok {
		t.Error("node wallet client not exposed as connected")
	}
}

func TestEnsureConnectedBrowserSignerIsNoop(t *testing.T) {
	registry, engine := newTestRegistry(t)

	record, err := registry.Add(types.WalletRecord{Kind: types.WalletKindBrowserSigner})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := registry.EnsureConnected(context.Background(), record.ID); err != nil {
		t.Fatalf("EnsureConnected: %v", err)
	}
	if got := engine.snapshot().connectCalls; got != 0 {
		t.Errorf("browser signer triggered %d engine connects", got)
	}

	if err := registry.EnsureConnected(context.Background(), "no-such-id"); !errors.Is(err, ErrParse) {
		t.Errorf("unknown id: got %v, want ErrParse", err)
	}
}

func TestGetBalanceNodeWallet(t *testing.T) {
	registry, _ := newTestRegistry(t)
	ctx := context.Background()

	record, err := registry.Add(types.WalletRecord{Kind: types.WalletKindNodeWallet})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	t.Cleanup(func() { registry.Disconnect(record.ID) })

	if err := registry.EnsureConnected(ctx, record.ID); err != nil {
		t.Fatalf("EnsureConnected: %v", err)
	}
	// The post-connect sync populates the cached balance in the background
	waitFor(t, func() bool {
		bal, err := registry.GetBalance(ctx, false)
		return err == nil && bal.Sats == 21000
	})
	bal, err := registry.GetBalance(ctx, false)
	if err != nil {
		t.Fatalf("GetBalance: %v", err)
	}
	if bal.Sats != 21000 {
		t.Errorf("balance = %d sats, want 21000", bal.Sats)
	}
}

func TestGetBalanceServesCacheWhenUnreachable(t *testing.T) {
	testConfig(t)
	walletCache := NewWalletCache()
	t.Cleanup(func() { walletCache.Close() })

	store, err := config.OpenWalletStore(t.TempDir())
	if err != nil {
		t.Fatalf("OpenWalletStore: %v", err)
	}
	registry := NewRegistry(store, walletCache, nil, nil)

	// .invalid never resolves, so every connect attempt fails
	uri := "nostr+walletconnect://" + testWalletPubKey +
		"?relay=wss://relay.invalid&secret=" + testSecret
	record, err := registry.Add(types.WalletRecord{Kind: types.WalletKindRemoteWallet, ConnectionData: uri})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	// Nothing cached yet: the connect failure surfaces
	if _, err := registry.GetBalance(ctx, false); err == nil {
		t.Fatal("GetBalance succeeded against an unreachable relay with an empty cache")
	}

	walletCache.SetBalance(ctx, record.ID, types.Balance{Sats: 4242, UpdatedAt: 1700000000})

	bal, err := registry.GetBalance(ctx, false)
	if err != nil {
		t.Fatalf("GetBalance with cached snapshot: %v", err)
	}
	if bal.Sats != 4242 {
		t.Errorf("balance = %d sats, want the cached 4242", bal.Sats)
	}
}
