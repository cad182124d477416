package main

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"

	qrcode "github.com/skip2/go-qrcode"

	"nostr-wallet/internal/config"
	"nostr-wallet/internal/services"
	"nostr-wallet/internal/util"
)

// Lightning address management for the node wallet: username registration
// against the engine's address service, debounced availability checks while
// the user is typing, and QR rendering for sharing.

var usernameRe = regexp.MustCompile(`^[a-z0-9][a-z0-9_.-]{2,31}$`)

// ValidateUsername checks the local username rules before anything touches
// the network.
func ValidateUsername(username string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if !usernameRe.MatchString(username) {
		return fmt.Errorf("%w: username must be 3-32 chars of a-z 0-9 _ . - and start alphanumeric", ErrParse)
	}
	return nil
}

// AvailabilityResult is delivered to the UsernameChecker callback.
type AvailabilityResult struct {
	Username  string
	Available bool
	Err       error
}

// UsernameChecker debounces availability lookups so that keystroke-rate
// callers produce at most one network check per quiet period. Results arrive
// on the callback out of band; a stale result for a superseded username is
// suppressed.
type UsernameChecker struct {
	spark    *SparkClient
	debounce *util.Debouncer
	onResult func(AvailabilityResult)

	mu     sync.Mutex
	latest string
}

// NewUsernameChecker wires a checker to a node wallet client. The debounce
// interval comes from configuration and is never below 400ms.
func NewUsernameChecker(spark *SparkClient, onResult func(AvailabilityResult)) *UsernameChecker {
	return &UsernameChecker{
		spark:    spark,
		debounce: util.NewDebouncer(config.Get().UsernameDebounce),
		onResult: onResult,
	}
}

// Check schedules an availability lookup for username. Rapid successive
// calls collapse into one lookup for the last value.
func (uc *UsernameChecker) Check(username string) {
	username = strings.ToLower(strings.TrimSpace(username))

	uc.mu.Lock()
	uc.latest = username
	uc.mu.Unlock()

	if err := ValidateUsername(username); err != nil {
		uc.onResult(AvailabilityResult{Username: username, Err: err})
		return
	}

	uc.debounce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), config.Get().RequestTimeout)
		defer cancel()

		available, err := uc.spark.CheckUsernameAvailable(ctx, username)

		uc.mu.Lock()
		stale := uc.latest != username
		uc.mu.Unlock()
		if stale {
			return
		}

		uc.onResult(AvailabilityResult{Username: username, Available: available, Err: err})
	})
}

// Stop cancels any pending lookup.
func (uc *UsernameChecker) Stop() {
	uc.debounce.Stop()
}

// LightningAddressManager registers and removes usernames for the node
// wallet and renders the resulting address for sharing.
type LightningAddressManager struct {
	spark  *SparkClient
	domain string

	mu       sync.Mutex
	username string
}

// NewLightningAddressManager binds a manager to a node wallet client and the
// address service domain.
func NewLightningAddressManager(spark *SparkClient, domain string) *LightningAddressManager {
	return &LightningAddressManager{spark: spark, domain: domain}
}

// Register claims a username. The engine registration is authoritative; the
// follow-up well-known resolution is a best-effort probe that only logs,
// because address-service DNS propagation can lag the registration.
func (m *LightningAddressManager) Register(ctx context.Context, username string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if err := ValidateUsername(username); err != nil {
		return err
	}

	available, err := m.spark.CheckUsernameAvailable(ctx, username)
	if err != nil {
		return fmt.Errorf("availability check: %w", err)
	}
	if !available {
		return fmt.Errorf("%w: username %q is taken", ErrSignerRejected, username)
	}

	if err := m.spark.RegisterLightningAddress(ctx, username); err != nil {
		return fmt.Errorf("register address: %w", err)
	}

	m.mu.Lock()
	m.username = username
	m.mu.Unlock()

	address := username + "@" + m.domain
	if _, err := services.ResolveLightningAddress(address); err != nil {
		slog.Warn("lnaddress: registered but not yet resolvable", "address", address, "error", err)
	} else {
		slog.Info("lnaddress: registered", "address", address)
	}
	return nil
}

// Unregister releases the current username.
func (m *LightningAddressManager) Unregister(ctx context.Context) error {
	if err := m.spark.DeleteLightningAddress(ctx); err != nil {
		return fmt.Errorf("delete address: %w", err)
	}
	m.mu.Lock()
	m.username = ""
	m.mu.Unlock()
	return nil
}

// Address returns the full user@domain address, or empty when none is set.
func (m *LightningAddressManager) Address() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.username == "" {
		return ""
	}
	return m.username + "@" + m.domain
}

// AddressQR renders the current address as a PNG for scanning.
func (m *LightningAddressManager) AddressQR(size int) ([]byte, error) {
	address := m.Address()
	if address == "" {
		return nil, fmt.Errorf("%w: no lightning address registered", ErrNotConnected)
	}
	return EncodeQR("lightning:"+address, size)
}

// EncodeQR renders an arbitrary payload (address, invoice, pairing URI) as a
// PNG with medium error correction.
func EncodeQR(payload string, size int) ([]byte, error) {
	if size <= 0 {
		size = 256
	}
	png, err := qrcode.Encode(payload, qrcode.Medium, size)
	if err != nil {
		return nil, fmt.Errorf("encode qr: %w", err)
	}
	return png, nil
}
