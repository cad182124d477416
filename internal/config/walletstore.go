package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"nostr-wallet/internal/types"
)

// WalletStore persists wallet records as a JSON file under the data dir.
// Records survive process restarts; live connection state does not.
type WalletStore struct {
	path string
	mu   sync.RWMutex
	recs []types.WalletRecord
}

const walletStoreFile = "wallets.json"

// OpenWalletStore loads (or initializes) the wallet record file.
func OpenWalletStore(dataDir string) (*WalletStore, error) {
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	s := &WalletStore{path: filepath.Join(dataDir, walletStoreFile)}

	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read wallet store: %w", err)
	}

	if err := json.Unmarshal(data, &s.recs); err != nil {
		return nil, fmt.Errorf("parse wallet store: %w", err)
	}

	slog.Info("wallet store loaded", "path", s.path, "records", len(s.recs))
	return s, nil
}

// List returns a copy of all wallet records.
func (s *WalletStore) List() []types.WalletRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.WalletRecord, len(s.recs))
	copy(out, s.recs)
	return out
}

// Get returns the record with the given id.
func (s *WalletStore) Get(id string) (types.WalletRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.recs {
		if r.ID == id {
			return r, true
		}
	}
	return types.WalletRecord{}, false
}

// Replace swaps the full record set and writes it to disk atomically.
func (s *WalletStore) Replace(recs []types.WalletRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recs = make([]types.WalletRecord, len(recs))
	copy(s.recs, recs)
	return s.saveLocked()
}

// saveLocked writes the records via a temp file and rename so a crash cannot
// leave a truncated store.
func (s *WalletStore) saveLocked() error {
	data, err := json.MarshalIndent(s.recs, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal wallet store: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write wallet store: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace wallet store: %w", err)
	}
	return nil
}
