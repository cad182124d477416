package main

import (
	"context"
	"encoding/hex"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"nostr-wallet/internal/config"
)

const (
	testWalletPubKey = "b889ff5b1513b641e2a139f661a661364979c5beee91842f8f0ef42ab558e9d4"
	testSecret       = "71a8c14c1407c113601079c4302dab36460f0ccd0ad506f1f2dc73b5100e4f3c"
)

func testURI() string {
	return "nostr+walletconnect://" + testWalletPubKey +
		"?relay=wss://relay.getalby.com/v1&secret=" + testSecret
}

func TestParseNWCURI(t *testing.T) {
	cfg, err := ParseNWCURI(testURI())
	if err != nil {
		t.Fatalf("ParseNWCURI: %v", err)
	}
	if hex.EncodeToString(cfg.WalletPubKey) != testWalletPubKey {
		t.Errorf("wallet pubkey mismatch: %x", cfg.WalletPubKey)
	}
	if cfg.Relay != "wss://relay.getalby.com/v1" {
		t.Errorf("relay = %q", cfg.Relay)
	}
	if hex.EncodeToString(cfg.Secret) != testSecret {
		t.Errorf("secret mismatch: %x", cfg.Secret)
	}
	if len(cfg.ClientPubKey) != 32 {
		t.Errorf("client pubkey length %d, want 32", len(cfg.ClientPubKey))
	}
}

func TestParseNWCURITrailingSlashCanonical(t *testing.T) {
	bare := "nostr+walletconnect://" + testWalletPubKey +
		"?relay=wss://relay.damus.io&secret=" + testSecret
	cfg, err := ParseNWCURI(bare)
	if err != nil {
		t.Fatalf("ParseNWCURI: %v", err)
	}
	if cfg.Relay != "wss://relay.damus.io/" {
		t.Errorf("bare-host relay not canonicalized with trailing slash: %q", cfg.Relay)
	}
}

func TestParseNWCURIWhitespaceEquivalence(t *testing.T) {
	clean, err := ParseNWCURI(testURI())
	if err != nil {
		t.Fatalf("ParseNWCURI(clean): %v", err)
	}

	dirty := []string{
		"  " + testURI() + "  ",
		"\n" + testURI() + "\n",
		"\t" + testURI(),
		testURI()[:40] + "\r\n" + testURI()[40:],
		testURI()[:75] + "\t" + testURI()[75:],
	}
	for _, uri := range dirty {
		cfg, err := ParseNWCURI(uri)
		if err != nil {
			t.Errorf("ParseNWCURI(dirty %q...): %v", uri[:20], err)
			continue
		}
		if hex.EncodeToString(cfg.WalletPubKey) != hex.EncodeToString(clean.WalletPubKey) ||
			cfg.Relay != clean.Relay ||
			hex.EncodeToString(cfg.Secret) != hex.EncodeToString(clean.Secret) {
			t.Errorf("dirty URI parsed differently from clean equivalent")
		}
	}
}

func TestParseNWCURIRejects(t *testing.T) {
	bad := []string{
		"",
		"walletconnect://" + testWalletPubKey + "?relay=wss://r.io&secret=" + testSecret,
		"nostr+walletconnect://shortkey?relay=wss://relay.damus.io&secret=" + testSecret,
		"nostr+walletconnect://" + testWalletPubKey + "?secret=" + testSecret,
		"nostr+walletconnect://" + testWalletPubKey + "?relay=wss://relay.damus.io",
		"nostr+walletconnect://" + testWalletPubKey + "?relay=https://relay.damus.io&secret=" + testSecret,
		"nostr+walletconnect://" + testWalletPubKey + "?relay=wss://relay.damus.io&secret=nothex",
	}
	for _, uri := range bad {
		if _, err := ParseNWCURI(uri); err == nil {
			t.Errorf("ParseNWCURI(%q) succeeded, expected error", uri)
		} else if !errors.Is(err, ErrParse) {
			t.Errorf("ParseNWCURI(%q) error %v is not ErrParse", uri, err)
		}
	}
}

func TestSanitizeConnectionURI(t *testing.T) {
	tests := []struct{ in, want string }{
		{"  abc  ", "abc"},
		{"a\r\nb", "ab"},
		{"a\tb", "ab"},
		{"clean", "clean"},
	}
	for _, tt := range tests {
		if got := sanitizeConnectionURI(tt.in); got != tt.want {
			t.Errorf("sanitizeConnectionURI(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestConnectCancelTearsDown(t *testing.T) {
	testConfig(t)

	// Relay stub that accepts the subscription but never sends EOSE
	upgrader := websocket.Upgrader{}
	serverSawClose := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				close(serverSawClose)
				return
			}
		}
	}))
	defer srv.Close()

	cfg, err := ParseNWCURI(testURI())
	if err != nil {
		t.Fatalf("ParseNWCURI: %v", err)
	}
	cfg.Relay = "ws" + strings.TrimPrefix(srv.URL, "http")

	client, err := NewNWCClient(cfg)
	if err != nil {
		t.Fatalf("NewNWCClient: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	if err := client.Connect(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Connect: %v, want deadline exceeded", err)
	}

	if client.IsConnected() {
		t.Error("client reports connected after a cancelled connect")
	}
	select {
	case <-serverSawClose:
	case <-time.After(2 * time.Second):
		t.Error("relay connection left open after a cancelled connect")
	}
}

func TestNewNWCClientDecryptTimeoutFromConfig(t *testing.T) {
	testConfig(t)

	cfg, err := ParseNWCURI(testURI())
	if err != nil {
		t.Fatalf("ParseNWCURI: %v", err)
	}
	client, err := NewNWCClient(cfg)
	if err != nil {
		t.Fatalf("NewNWCClient: %v", err)
	}
	if client.enc.timeout != config.Get().DecryptTimeout {
		t.Errorf("decrypt timeout = %v, want configured %v",
			client.enc.timeout, config.Get().DecryptTimeout)
	}
}
