package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"nostr-wallet/internal/config"
	"nostr-wallet/internal/nips"
	"nostr-wallet/internal/types"
	"nostr-wallet/internal/util"
)

// Backup and restore: wallet secrets encrypted to the owner's own identity
// and stored as addressable relay events, plus a portable file form.

const (
	backupKind      = 30078
	backupNamespace = "wallet-backup"
	backupFileType  = "wallet-backup"
	backupVersion   = 2
)

// BackupRecord is the encrypted secret container. Version 1 records predate
// the explicit method tag and leave EncryptionMethod empty.
type BackupRecord struct {
	Version          int
	EncryptionMethod Algo
	OwnerPubKey      string
	WalletScope      string // empty for the legacy unscoped record
	Ciphertext       string
	CreatedAt        int64
	CreatedBy        string
	EventID          string // set when the record came from a relay
}

// backupFile is the portable on-disk serialization.
type backupFile struct {
	Version          int    `json:"version"`
	Type             string `json:"type"`
	EncryptionMethod string `json:"encryptionMethod,omitempty"`
	OwnerIdentity    string `json:"ownerIdentity"`
	EncryptedSecret  string `json:"encryptedSecret"`
	WalletScope      string `json:"walletScope,omitempty"`
	CreatedAt        int64  `json:"createdAt"`
	CreatedBy        string `json:"createdBy,omitempty"`
}

// RelayCoverage is one relay's answer to "do you hold a backup for me".
type RelayCoverage struct {
	Relay     string
	HasBackup bool
	Timestamp int64
	Err       error
}

// relayQueryFn matches queryRelay; swapped out in tests.
type relayQueryFn func(ctx context.Context, relayURL string, filter types.Filter) ([]types.Event, error)

// BackupManager builds, publishes, lists, and decrypts backup records. It
// works against whichever signer is current, independent of which wallet is
// active.
type BackupManager struct {
	enc      *EncryptionService
	signerFn func() Signer
	relays   []string
	cache    *WalletCache
	queryFn  relayQueryFn
}

// NewBackupManager wires a manager to the current-signer source and relay
// set. cache may be nil.
func NewBackupManager(enc *EncryptionService, signerFn func() Signer, relays []string, cache *WalletCache) *BackupManager {
	return &BackupManager{
		enc:      enc,
		signerFn: signerFn,
		relays:   relays,
		cache:    cache,
		queryFn:  queryRelay,
	}
}

// dTagForScope maps a wallet scope to the addressable record key. The empty
// scope is the legacy unscoped record; publishing under one scope never
// replaces another scope's record.
func dTagForScope(scope string) string {
	if scope == "" {
		return backupNamespace
	}
	return backupNamespace + ":" + scope
}

func scopeFromDTag(dTag string) (scope string, ok bool) {
	if dTag == backupNamespace {
		return "", true
	}
	if strings.HasPrefix(dTag, backupNamespace+":") {
		return strings.TrimPrefix(dTag, backupNamespace+":"), true
	}
	return "", false
}

// CreateBackup encrypts secret to the owner's own identity and publishes it
// as an addressable event under the scope's key. Requires a signer that can
// both encrypt and sign.
func (b *BackupManager) CreateBackup(ctx context.Context, secret, walletScope string) (*BackupRecord, error) {
	signer := b.signerFn()
	if signer == nil {
		return nil, ErrNoCapability
	}
	eventSigner, ok := signer.(EventSigner)
	if !ok {
		return nil, fmt.Errorf("%w: signer cannot sign events", ErrNoCapability)
	}

	ownerPubKey, err := signer.GetPublicKey(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve owner identity: %w", err)
	}

	// Self-encryption: the owner is the counterparty
	ciphertext, algo, err := b.enc.Encrypt(ctx, ownerPubKey, secret)
	if err != nil {
		return nil, fmt.Errorf("encrypt backup: %w", err)
	}

	now := time.Now().Unix()
	event := &types.Event{
		PubKey:    ownerPubKey,
		CreatedAt: now,
		Kind:      backupKind,
		Tags: [][]string{
			{"d", dTagForScope(walletScope)},
			{"v", strconv.Itoa(backupVersion)},
			{"method", string(algo)},
		},
		Content: ciphertext,
	}
	if err := eventSigner.SignEvent(ctx, event); err != nil {
		return nil, fmt.Errorf("sign backup event: %w", err)
	}

	pubCtx, cancel := context.WithTimeout(ctx, config.Get().PublishTimeout)
	defer cancel()
	acked, err := publishToRelays(pubCtx, b.relays, event)
	if err != nil {
		return nil, fmt.Errorf("publish backup: %w", err)
	}
	slog.Info("backup: published",
		"scope", walletScope, "method", algo, "acked_relays", len(acked))

	if b.cache != nil {
		b.cache.InvalidateBackupList(ctx, ownerPubKey)
	}

	return &BackupRecord{
		Version:          backupVersion,
		EncryptionMethod: algo,
		OwnerPubKey:      ownerPubKey,
		WalletScope:      walletScope,
		Ciphertext:       ciphertext,
		CreatedAt:        now,
		CreatedBy:        ownerPubKey,
		EventID:          event.ID,
	}, nil
}

// ListBackups returns every backup record for the owner across all scopes,
// legacy unscoped included, newest first. Callers seeing more than one must
// let the user disambiguate rather than picking silently.
func (b *BackupManager) ListBackups(ctx context.Context, ownerIdentity string) ([]BackupRecord, error) {
	ownerPubKey, err := nips.NormalizePubKey(ownerIdentity)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}

	var events []types.Event
	fromCache := false
	if b.cache != nil {
		events, fromCache = b.cache.BackupList(ctx, ownerPubKey)
	}
	if !fromCache {
		events = fetchEventsFromRelays(ctx, b.relays, types.Filter{
			Authors: []string{ownerPubKey},
			Kinds:   []int{backupKind},
			Limit:   100,
		})
		if b.cache != nil && len(events) > 0 {
			b.cache.SetBackupList(ctx, ownerPubKey, events)
		}
	}

	// One record per scope: addressable semantics keep only the newest
	// event for each d tag.
	byScope := make(map[string]BackupRecord)
	for _, evt := range events {
		record, ok := b.recordFromEvent(evt)
		if !ok {
			continue
		}
		if existing, seen := byScope[record.WalletScope]; !seen || record.CreatedAt > existing.CreatedAt {
			byScope[record.WalletScope] = record
		}
	}

	records := make([]BackupRecord, 0, len(byScope))
	for _, r := range byScope {
		records = append(records, r)
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].CreatedAt > records[j].CreatedAt
	})
	return records, nil
}

// recordFromEvent parses a relay event into a BackupRecord. Events without
// the version tag are treated as version 1.
func (b *BackupManager) recordFromEvent(evt types.Event) (BackupRecord, bool) {
	dTag := util.GetTagValue(evt.Tags, "d")
	scope, ok := scopeFromDTag(dTag)
	if !ok {
		return BackupRecord{}, false
	}
	if evt.Content == "" {
		return BackupRecord{}, false
	}

	version := 1
	if v := util.GetTagValue(evt.Tags, "v"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			version = parsed
		}
	}

	var method Algo
	switch util.GetTagValue(evt.Tags, "method") {
	case string(AlgoNip44):
		method = AlgoNip44
	case string(AlgoNip04):
		method = AlgoNip04
	}

	return BackupRecord{
		Version:          version,
		EncryptionMethod: method,
		OwnerPubKey:      evt.PubKey,
		WalletScope:      scope,
		Ciphertext:       evt.Content,
		CreatedAt:        evt.CreatedAt,
		CreatedBy:        evt.PubKey,
		EventID:          evt.ID,
	}, true
}

// DecryptBackup recovers the wallet secret from a record. The owner check
// runs before any cryptography: a record created for a different identity is
// rejected outright and never decrypted.
func (b *BackupManager) DecryptBackup(ctx context.Context, record *BackupRecord, ownerPubKey string) (string, error) {
	if record.OwnerPubKey == "" || ownerPubKey == "" || record.OwnerPubKey != ownerPubKey {
		return "", ErrWrongOwner
	}

	hint := b.detectAlgo(record)
	secret, err := b.enc.Decrypt(ctx, ownerPubKey, record.Ciphertext, hint)
	if err != nil {
		return "", fmt.Errorf("decrypt backup: %w", err)
	}
	return secret, nil
}

// detectAlgo picks the decryption hint: explicit method tag first, then the
// legacy ciphertext marker, then the version default. The hint only orders
// the attempts; the encryption service falls back to the alternate algorithm
// on failure.
func (b *BackupManager) detectAlgo(record *BackupRecord) Algo {
	if record.EncryptionMethod != "" {
		return record.EncryptionMethod
	}
	if nips.IsNip04Payload(record.Ciphertext) {
		return AlgoNip04
	}
	if record.Version <= 1 {
		return AlgoNip04
	}
	return AlgoNip44
}

// ExportToFile serializes a record into the portable backup file form.
func (b *BackupManager) ExportToFile(record *BackupRecord) ([]byte, error) {
	if record.OwnerPubKey == "" || record.Ciphertext == "" {
		return nil, fmt.Errorf("%w: incomplete backup record", ErrParse)
	}
	f := backupFile{
		Version:          record.Version,
		Type:             backupFileType,
		EncryptionMethod: string(record.EncryptionMethod),
		OwnerIdentity:    record.OwnerPubKey,
		EncryptedSecret:  record.Ciphertext,
		WalletScope:      record.WalletScope,
		CreatedAt:        record.CreatedAt,
		CreatedBy:        record.CreatedBy,
	}
	return json.MarshalIndent(f, "", "  ")
}

// ImportFromFile parses a portable backup file back into a record.
func (b *BackupManager) ImportFromFile(data []byte) (*BackupRecord, error) {
	var f backupFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}
	if f.Type != backupFileType {
		return nil, fmt.Errorf("%w: not a wallet backup file (type %q)", ErrParse, f.Type)
	}
	if f.Version < 1 || f.Version > backupVersion {
		return nil, fmt.Errorf("%w: unsupported backup version %d", ErrParse, f.Version)
	}
	if f.OwnerIdentity == "" || f.EncryptedSecret == "" {
		return nil, fmt.Errorf("%w: backup file missing owner or ciphertext", ErrParse)
	}
	// Files written by other tools sometimes carry the npub form
	owner, err := nips.NormalizePubKey(f.OwnerIdentity)
	if err != nil {
		return nil, fmt.Errorf("%w: ownerIdentity: %v", ErrParse, err)
	}

	var method Algo
	switch f.EncryptionMethod {
	case string(AlgoNip44):
		method = AlgoNip44
	case string(AlgoNip04):
		method = AlgoNip04
	case "":
		if f.Version >= backupVersion {
			return nil, fmt.Errorf("%w: version 2 backup missing encryptionMethod", ErrParse)
		}
	default:
		return nil, fmt.Errorf("%w: unknown encryptionMethod %q", ErrParse, f.EncryptionMethod)
	}

	return &BackupRecord{
		Version:          f.Version,
		EncryptionMethod: method,
		OwnerPubKey:      owner,
		WalletScope:      f.WalletScope,
		Ciphertext:       f.EncryptedSecret,
		CreatedAt:        f.CreatedAt,
		CreatedBy:        f.CreatedBy,
	}, nil
}

// CheckRelayCoverage asks each relay independently whether it holds any
// backup for the owner. Queries run concurrently and one relay's failure
// never affects another's result; the slice is ordered like relayList.
func (b *BackupManager) CheckRelayCoverage(ctx context.Context, ownerPubKey string, relayList []string) []RelayCoverage {
	filter := types.Filter{
		Authors: []string{ownerPubKey},
		Kinds:   []int{backupKind},
		Limit:   10,
	}

	results := make([]RelayCoverage, len(relayList))
	var wg sync.WaitGroup
	for i, relayURL := range relayList {
		wg.Add(1)
		go func(i int, relayURL string) {
			defer wg.Done()

			queryCtx, cancel := context.WithTimeout(ctx, config.Get().CoverageTimeout)
			defer cancel()

			coverage := RelayCoverage{Relay: relayURL}
			events, err := b.queryFn(queryCtx, relayURL, filter)
			if err != nil {
				coverage.Err = err
			} else {
				for _, evt := range events {
					if _, ok := scopeFromDTag(util.GetTagValue(evt.Tags, "d")); !ok {
						continue
					}
					coverage.HasBackup = true
					if evt.CreatedAt > coverage.Timestamp {
						coverage.Timestamp = evt.CreatedAt
					}
				}
			}
			results[i] = coverage
		}(i, relayURL)
	}
	wg.Wait()
	return results
}
