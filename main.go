package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"nostr-wallet/internal/config"
	"nostr-wallet/internal/nips"
)

// reportBackupCoverage logs, per relay, whether the owner's backup is held
// there, so a thinning replication set is visible before restore time.
func reportBackupCoverage(ctx context.Context, signer Signer, backups *BackupManager, relays []string) {
	pub, err := signer.GetPublicKey(ctx)
	if err != nil {
		slog.Warn("backup coverage check skipped", "error", err)
		return
	}
	for _, cov := range backups.CheckRelayCoverage(ctx, pub, relays) {
		if cov.Err != nil {
			slog.Warn("backup coverage check failed", "relay", cov.Relay, "error", cov.Err)
			continue
		}
		slog.Info("backup coverage", "relay", cov.Relay,
			"has_backup", cov.HasBackup, "newest", cov.Timestamp)
	}
}

func main() {
	InitLogger()

	if err := config.Init(); err != nil {
		slog.Error("config init failed", "error", err)
		os.Exit(1)
	}
	cfg := config.Get()

	store, err := config.OpenWalletStore(cfg.DataDir)
	if err != nil {
		slog.Error("wallet store open failed", "error", err, "data_dir", cfg.DataDir)
		os.Exit(1)
	}

	walletCache := NewWalletCache()
	defer walletCache.Close()

	registry := NewRegistry(store, walletCache, nil, nil)

	// Owner signer for backup operations, when a key is configured
	var signer Signer
	if cfg.Nsec != "" {
		seckey, err := nips.DecodeNsec(cfg.Nsec)
		if err != nil {
			slog.Error("WALLET_NSEC is not a valid nsec", "error", err)
			os.Exit(1)
		}
		local, err := NewLocalSigner(seckey)
		if err != nil {
			slog.Error("WALLET_NSEC key rejected", "error", err)
			os.Exit(1)
		}
		signer = local
	}
	enc := NewEncryptionService(func() Signer { return signer }, cfg.DecryptTimeout)
	backups := NewBackupManager(enc, func() Signer { return signer }, cfg.Relays, walletCache)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if signer != nil {
		go reportBackupCoverage(ctx, signer, backups, cfg.Relays)
	}

	// Reconnect the active wallet from its persisted record, if any
	if record, ok := registry.Active(); ok {
		connectCtx, cancel := context.WithTimeout(ctx, cfg.RequestTimeout)
		err := registry.EnsureConnected(connectCtx, record.ID)
		cancel()
		if err != nil {
			slog.Warn("active wallet reconnect failed, continuing offline",
				"id", record.ID, "kind", record.Kind.String(), "error", err)
		} else {
			slog.Info("active wallet connected", "id", record.ID, "kind", record.Kind.String())
			if mgr, ok := registry.LightningAddress(); ok {
				if addr := mgr.Address(); addr != "" {
					slog.Info("lightning address", "address", addr)
				}
			}
		}
	} else {
		slog.Info("no active wallet configured")
	}

	// Periodic cached-first balance refresh until shutdown
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("shutting down", "metrics", MetricsSnapshot())
			if record, ok := registry.Active(); ok {
				if err := registry.Disconnect(record.ID); err != nil {
					slog.Warn("disconnect on shutdown failed", "error", err)
				}
			}
			return
		case <-ticker.C:
			if _, ok := registry.Active(); !ok {
				continue
			}
			bal, err := registry.GetBalance(ctx, false)
			if err != nil {
				slog.Warn("balance refresh failed", "error", err)
				continue
			}
			slog.Info("balance", "sats", bal.Sats, "syncing", bal.Syncing)
		}
	}
}
