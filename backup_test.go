package main

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"nostr-wallet/internal/config"
	"nostr-wallet/internal/types"
)

func testConfig(t *testing.T) {
	t.Helper()
	config.SetForTest(&config.Config{
		DataDir:          t.TempDir(),
		DecryptTimeout:   time.Second,
		RequestTimeout:   time.Second,
		PublishTimeout:   time.Second,
		CoverageTimeout:  500 * time.Millisecond,
		UsernameDebounce: 10 * time.Millisecond,
	})
}

func testBackupManager(t *testing.T, signer Signer, relays []string) *BackupManager {
	t.Helper()
	enc := NewEncryptionService(func() Signer { return signer }, time.Second)
	return NewBackupManager(enc, func() Signer { return signer }, relays, nil)
}

func TestScopeKeyMapping(t *testing.T) {
	tests := []struct {
		scope string
		dTag  string
	}{
		{"", "wallet-backup"},
		{"1700000000000", "wallet-backup:1700000000000"},
	}
	for _, tt := range tests {
		if got := dTagForScope(tt.scope); got != tt.dTag {
			t.Errorf("dTagForScope(%q) = %q, want %q", tt.scope, got, tt.dTag)
		}
		scope, ok := scopeFromDTag(tt.dTag)
		if !ok || scope != tt.scope {
			t.Errorf("scopeFromDTag(%q) = %q, %v; want %q", tt.dTag, scope, ok, tt.scope)
		}
	}

	if _, ok := scopeFromDTag("some-other-app-data"); ok {
		t.Error("foreign d tag accepted as backup scope")
	}
}

func TestDecryptBackupWrongOwnerNeverDecrypts(t *testing.T) {
	testConfig(t)
	owner := newTestSigner(t)
	ctx := context.Background()
	ownerPub, _ := owner.GetPublicKey(ctx)

	ct, err := owner.Nip44Encrypt(ctx, ownerPub, "the mnemonic")
	if err != nil {
		t.Fatalf("Nip44Encrypt: %v", err)
	}
	record := &BackupRecord{
		Version:          2,
		EncryptionMethod: AlgoNip44,
		OwnerPubKey:      ownerPub,
		Ciphertext:       ct,
		CreatedAt:        time.Now().Unix(),
	}

	// The owner's own signer could technically decrypt, but the identity
	// check fires first.
	mgr := testBackupManager(t, owner, nil)

	stranger := newTestSigner(t)
	strangerPub, _ := stranger.GetPublicKey(ctx)

	secret, err := mgr.DecryptBackup(ctx, record, strangerPub)
	if !errors.Is(err, ErrWrongOwner) {
		t.Fatalf("got error %v, want ErrWrongOwner", err)
	}
	if secret != "" {
		t.Fatal("plaintext returned despite owner mismatch")
	}

	// Matching owner succeeds
	got, err := mgr.DecryptBackup(ctx, record, ownerPub)
	if err != nil {
		t.Fatalf("DecryptBackup: %v", err)
	}
	if got != "the mnemonic" {
		t.Errorf("got %q", got)
	}
}

func TestDetectAlgoHeuristics(t *testing.T) {
	mgr := testBackupManager(t, nil, nil)

	tests := []struct {
		name   string
		record BackupRecord
		want   Algo
	}{
		{"explicit method wins", BackupRecord{Version: 1, EncryptionMethod: AlgoNip44, Ciphertext: "x?iv=y"}, AlgoNip44},
		{"legacy marker", BackupRecord{Version: 2, Ciphertext: "YWJj?iv=ZGVm"}, AlgoNip04},
		{"version 1 default", BackupRecord{Version: 1, Ciphertext: "AmoderN"}, AlgoNip04},
		{"version 2 default", BackupRecord{Version: 2, Ciphertext: "AmoderN"}, AlgoNip44},
	}
	for _, tt := range tests {
		if got := mgr.detectAlgo(&tt.record); got != tt.want {
			t.Errorf("%s: detectAlgo = %s, want %s", tt.name, got, tt.want)
		}
	}
}

func TestExportImportRoundTrip(t *testing.T) {
	mgr := testBackupManager(t, nil, nil)
	record := &BackupRecord{
		Version:          2,
		EncryptionMethod: AlgoNip44,
		OwnerPubKey:      "3bf0c63fcb93463407af97a5e5ee64fa883d107ef9e558472c4eb9aaaefa459d",
		WalletScope:      "1700000000000",
		Ciphertext:       "AnmFqbase64payload",
		CreatedAt:        1700000000,
		CreatedBy:        "3bf0c63fcb93463407af97a5e5ee64fa883d107ef9e558472c4eb9aaaefa459d",
	}

	data, err := mgr.ExportToFile(record)
	if err != nil {
		t.Fatalf("ExportToFile: %v", err)
	}
	if !strings.Contains(string(data), `"type": "wallet-backup"`) {
		t.Error("export missing the self-describing type field")
	}

	back, err := mgr.ImportFromFile(data)
	if err != nil {
		t.Fatalf("ImportFromFile: %v", err)
	}
	if *back != *record {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", back, record)
	}
}

func TestImportFromFileValidation(t *testing.T) {
	mgr := testBackupManager(t, nil, nil)

	bad := []string{
		`not json`,
		`{"version":2,"type":"something-else","ownerIdentity":"ab","encryptedSecret":"x"}`,
		`{"version":9,"type":"wallet-backup","ownerIdentity":"ab","encryptedSecret":"x"}`,
		`{"version":2,"type":"wallet-backup","encryptedSecret":"x"}`,
		`{"version":2,"type":"wallet-backup","ownerIdentity":"3bf0c63fcb93463407af97a5e5ee64fa883d107ef9e558472c4eb9aaaefa459d","encryptedSecret":"x"}`,
	}
	for _, in := range bad {
		if _, err := mgr.ImportFromFile([]byte(in)); !errors.Is(err, ErrParse) {
			t.Errorf("ImportFromFile(%.40s): error %v, want ErrParse", in, err)
		}
	}

	// Version 1 may omit encryptionMethod; npub owner form is accepted
	v1 := `{"version":1,"type":"wallet-backup","ownerIdentity":"npub180cvv07tjdrrgpa0j7j7tmnyl2yr6yr7l8j4s3evf6u64th6gkwsyjh6w6","encryptedSecret":"YWJj?iv=ZGVm","createdAt":1600000000}`
	record, err := mgr.ImportFromFile([]byte(v1))
	if err != nil {
		t.Fatalf("ImportFromFile(v1): %v", err)
	}
	if record.OwnerPubKey != "3bf0c63fcb93463407af97a5e5ee64fa883d107ef9e558472c4eb9aaaefa459d" {
		t.Errorf("npub owner not normalized: %q", record.OwnerPubKey)
	}
	if record.EncryptionMethod != "" {
		t.Errorf("version 1 record gained a method: %q", record.EncryptionMethod)
	}
}

func TestCheckRelayCoverageIsolation(t *testing.T) {
	testConfig(t)
	mgr := testBackupManager(t, nil, nil)

	backupEvent := types.Event{
		PubKey:    "owner",
		CreatedAt: 1700000100,
		Kind:      backupKind,
		Tags:      [][]string{{"d", "wallet-backup"}},
		Content:   "ct",
	}

	mgr.queryFn = func(ctx context.Context, relayURL string, filter types.Filter) ([]types.Event, error) {
		switch relayURL {
		case "wss://one.example/":
			return []types.Event{backupEvent}, nil
		case "wss://two.example/":
			<-ctx.Done() // simulated hang until the per-relay timeout
			return nil, ctx.Err()
		default:
			return nil, nil
		}
	}

	relays := []string{"wss://one.example/", "wss://two.example/", "wss://three.example/"}
	start := time.Now()
	results := mgr.CheckRelayCoverage(context.Background(), "owner", relays)

	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}
	if !results[0].HasBackup || results[0].Err != nil || results[0].Timestamp != 1700000100 {
		t.Errorf("relay one: %+v", results[0])
	}
	if results[1].Err == nil {
		t.Error("relay two should report its timeout as an error")
	}
	if results[2].HasBackup || results[2].Err != nil {
		t.Errorf("relay three: %+v", results[2])
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("coverage check took %v; a hung relay must not block the others", elapsed)
	}
}

func TestRecordFromEventScoping(t *testing.T) {
	mgr := testBackupManager(t, nil, nil)

	scoped := types.Event{
		ID: "e1", PubKey: "owner", CreatedAt: 100, Kind: backupKind,
		Tags:    [][]string{{"d", "wallet-backup:wallet-a"}, {"v", "2"}, {"method", string(AlgoNip44)}},
		Content: "ct",
	}
	record, ok := mgr.recordFromEvent(scoped)
	if !ok {
		t.Fatal("scoped event rejected")
	}
	if record.WalletScope != "wallet-a" || record.Version != 2 || record.EncryptionMethod != AlgoNip44 {
		t.Errorf("record = %+v", record)
	}

	legacy := types.Event{
		ID: "e2", PubKey: "owner", CreatedAt: 50, Kind: backupKind,
		Tags:    [][]string{{"d", "wallet-backup"}},
		Content: "YWJj?iv=ZGVm",
	}
	record, ok = mgr.recordFromEvent(legacy)
	if !ok {
		t.Fatal("legacy event rejected")
	}
	if record.WalletScope != "" || record.Version != 1 || record.EncryptionMethod != "" {
		t.Errorf("legacy record = %+v", record)
	}

	foreign := types.Event{
		ID: "e3", PubKey: "owner", CreatedAt: 10, Kind: backupKind,
		Tags:    [][]string{{"d", "app-settings"}},
		Content: "x",
	}
	if _, ok := mgr.recordFromEvent(foreign); ok {
		t.Error("foreign d tag accepted")
	}
}

func TestListBackupsServedFromCache(t *testing.T) {
	testConfig(t)
	walletCache := NewWalletCache()
	t.Cleanup(func() { walletCache.Close() })

	owner := "3bf0c63fcb93463407af97a5e5ee64fa883d107ef9e558472c4eb9aaaefa459d"
	ctx := context.Background()
	walletCache.SetBackupList(ctx, owner, []types.Event{{
		ID: "e1", PubKey: owner, CreatedAt: 1700000100, Kind: backupKind,
		Tags:    [][]string{{"d", "wallet-backup"}, {"v", "2"}, {"method", string(AlgoNip44)}},
		Content: "ct",
	}})

	// No relays configured: a returned record can only come from the cache
	enc := NewEncryptionService(func() Signer { return nil }, time.Second)
	mgr := NewBackupManager(enc, func() Signer { return nil }, nil, walletCache)

	records, err := mgr.ListBackups(ctx, owner)
	if err != nil {
		t.Fatalf("ListBackups: %v", err)
	}
	if len(records) != 1 || records[0].EventID != "e1" {
		t.Fatalf("records = %+v, want the cached event", records)
	}

	walletCache.InvalidateBackupList(ctx, owner)
	records, err = mgr.ListBackups(ctx, owner)
	if err != nil {
		t.Fatalf("ListBackups after invalidation: %v", err)
	}
	if len(records) != 0 {
		t.Errorf("stale records after invalidation: %+v", records)
	}
}
