package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"nostr-wallet/internal/nips"
	"nostr-wallet/internal/nostr"
	"nostr-wallet/internal/types"
)

// NIP-46 remote signer ("bunker"). The user's key never reaches this
// process: a disposable client keypair talks JSON-RPC over relays to the
// remote signer, which performs signing and encryption on the user's
// behalf. That makes this signer managed-path only: no KeyAccess.

const (
	bunkerRequestKind    = 24133
	bunkerRequestTimeout = 30 * time.Second

	signRateLimit  = 10
	signRateWindow = time.Minute
)

// bunkerRequest is the JSON-RPC request envelope.
type bunkerRequest struct {
	ID     string   `json:"id"`
	Method string   `json:"method"`
	Params []string `json:"params"`
}

// bunkerResponse is the JSON-RPC response envelope.
type bunkerResponse struct {
	ID     string `json:"id"`
	Result string `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

// BunkerSigner implements Signer, EventSigner, Nip44Codec and Nip04Codec by
// forwarding every operation to a remote signer over relays.
type BunkerSigner struct {
	clientPrivKey []byte
	clientPubKey  string
	remotePubKey  string
	relays        []string
	secret        string

	// NIP-44 session key between the disposable client key and the remote
	// signer, used only for the RPC envelope, never for user payloads.
	sessionKey []byte

	mu            sync.Mutex
	userPubKey    string
	connected     bool
	signRequestAt []time.Time
}

// ParseBunkerURI parses a bunker://<remote-pubkey>?relay=...&secret=... URI
// and prepares a signer with a freshly generated disposable client keypair.
func ParseBunkerURI(uri string) (*BunkerSigner, error) {
	uri = sanitizeConnectionURI(uri)
	if !strings.HasPrefix(uri, "bunker://") {
		return nil, fmt.Errorf("%w: missing bunker:// prefix", ErrParse)
	}

	u, err := url.Parse(uri)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}

	remotePubKey := strings.ToLower(u.Host)
	if len(remotePubKey) != 64 {
		return nil, fmt.Errorf("%w: remote signer pubkey must be 64 hex chars", ErrParse)
	}
	remotePubKeyBytes, err := hex.DecodeString(remotePubKey)
	if err != nil {
		return nil, fmt.Errorf("%w: remote signer pubkey is not hex", ErrParse)
	}

	rawRelays := u.Query()["relay"]
	if len(rawRelays) == 0 {
		return nil, fmt.Errorf("%w: bunker URI must specify at least one relay", ErrParse)
	}
	relays := make([]string, 0, len(rawRelays))
	for _, r := range rawRelays {
		canonical, err := nostr.CanonicalRelayURL(r)
		if err != nil {
			return nil, fmt.Errorf("%w: relay %q: %v", ErrParse, r, err)
		}
		relays = append(relays, canonical)
	}

	clientPrivKey, err := nips.GeneratePrivateKey()
	if err != nil {
		return nil, fmt.Errorf("generate client keypair: %w", err)
	}
	clientPubKey, err := nips.DerivePublicKey(clientPrivKey)
	if err != nil {
		return nil, fmt.Errorf("derive client pubkey: %w", err)
	}
	sessionKey, err := nips.ConversationKey(clientPrivKey, remotePubKeyBytes)
	if err != nil {
		return nil, fmt.Errorf("compute session key: %w", err)
	}

	return &BunkerSigner{
		clientPrivKey: clientPrivKey,
		clientPubKey:  hex.EncodeToString(clientPubKey),
		remotePubKey:  remotePubKey,
		relays:        relays,
		secret:        u.Query().Get("secret"),
		sessionKey:    sessionKey,
	}, nil
}

// Connect performs the NIP-46 handshake and resolves the user's pubkey.
func (b *BunkerSigner) Connect(ctx context.Context) error {
	params := []string{b.remotePubKey}
	if b.secret != "" {
		params = append(params, b.secret)
	}

	result, err := b.rpc(ctx, "connect", params)
	if err != nil {
		return fmt.Errorf("%w: connect: %v", ErrConnectRejected, err)
	}
	if result != "ack" && result != b.secret {
		return fmt.Errorf("%w: unexpected connect response %q", ErrConnectRejected, result)
	}

	userPubKey, err := b.rpc(ctx, "get_public_key", []string{})
	if err != nil {
		return fmt.Errorf("%w: get_public_key: %v", ErrConnectRejected, err)
	}
	if len(userPubKey) != 64 {
		return fmt.Errorf("%w: invalid user pubkey from signer", ErrConnectRejected)
	}

	b.mu.Lock()
	b.userPubKey = strings.ToLower(userPubKey)
	b.connected = true
	b.mu.Unlock()

	slog.Info("bunker: connected", "user_pubkey", nostr.ShortID(userPubKey))
	return nil
}

// IsConnected reports whether the handshake has completed.
func (b *BunkerSigner) IsConnected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connected
}

// GetPublicKey returns the user's pubkey, not the disposable client key.
func (b *BunkerSigner) GetPublicKey(ctx context.Context) (string, error) {
	b.mu.Lock()
	pk := b.userPubKey
	connected := b.connected
	b.mu.Unlock()

	if !connected {
		return "", ErrNotConnected
	}
	if pk != "" {
		return pk, nil
	}
	return b.rpc(ctx, "get_public_key", []string{})
}

// SignEvent forwards an unsigned event to the remote signer and copies the
// returned id and signature back. Sign requests are rate limited because a
// runaway caller turns into an approval-prompt storm on the user's device.
func (b *BunkerSigner) SignEvent(ctx context.Context, event *types.Event) error {
	if !b.IsConnected() {
		return ErrNotConnected
	}
	if err := b.checkSignRateLimit(); err != nil {
		return err
	}

	unsigned := struct {
		Kind      int        `json:"kind"`
		Content   string     `json:"content"`
		Tags      [][]string `json:"tags"`
		CreatedAt int64      `json:"created_at"`
	}{
		Kind:      event.Kind,
		Content:   event.Content,
		Tags:      event.Tags,
		CreatedAt: event.CreatedAt,
	}
	if unsigned.Tags == nil {
		unsigned.Tags = [][]string{}
	}
	eventJSON, err := json.Marshal(unsigned)
	if err != nil {
		return err
	}

	result, err := b.rpc(ctx, "sign_event", []string{string(eventJSON)})
	if err != nil {
		return fmt.Errorf("%w: sign_event: %v", ErrSignerRejected, err)
	}

	var signed types.Event
	if err := json.Unmarshal([]byte(result), &signed); err != nil {
		return fmt.Errorf("parse signed event: %w", err)
	}
	event.ID = signed.ID
	event.PubKey = signed.PubKey
	event.Sig = signed.Sig
	return nil
}

// Nip44Encrypt delegates NIP-44 encryption to the remote signer.
func (b *BunkerSigner) Nip44Encrypt(ctx context.Context, peerPubKey, plaintext string) (string, error) {
	return b.codecRPC(ctx, "nip44_encrypt", peerPubKey, plaintext)
}

// Nip44Decrypt delegates NIP-44 decryption to the remote signer.
func (b *BunkerSigner) Nip44Decrypt(ctx context.Context, peerPubKey, ciphertext string) (string, error) {
	return b.codecRPC(ctx, "nip44_decrypt", peerPubKey, ciphertext)
}

// Nip04Encrypt delegates NIP-04 encryption to the remote signer.
func (b *BunkerSigner) Nip04Encrypt(ctx context.Context, peerPubKey, plaintext string) (string, error) {
	return b.codecRPC(ctx, "nip04_encrypt", peerPubKey, plaintext)
}

// Nip04Decrypt delegates NIP-04 decryption to the remote signer.
func (b *BunkerSigner) Nip04Decrypt(ctx context.Context, peerPubKey, ciphertext string) (string, error) {
	return b.codecRPC(ctx, "nip04_decrypt", peerPubKey, ciphertext)
}

func (b *BunkerSigner) codecRPC(ctx context.Context, method, peerPubKey, payload string) (string, error) {
	if !b.IsConnected() {
		return "", ErrNotConnected
	}
	result, err := b.rpc(ctx, method, []string{peerPubKey, payload})
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrSignerRejected, method, err)
	}
	return result, nil
}

func (b *BunkerSigner) checkSignRateLimit() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	cutoff := time.Now().Add(-signRateWindow)
	valid := b.signRequestAt[:0]
	for _, t := range b.signRequestAt {
		if t.After(cutoff) {
			valid = append(valid, t)
		}
	}
	b.signRequestAt = valid

	if len(b.signRequestAt) >= signRateLimit {
		return fmt.Errorf("%w: too many sign requests", ErrSignerRejected)
	}
	b.signRequestAt = append(b.signRequestAt, time.Now())
	return nil
}

// rpc encrypts one request with the session key, publishes it as a kind
// 24133 event, and waits for the matching response. Relays are tried in
// order; a failure on one relay moves to the next.
func (b *BunkerSigner) rpc(ctx context.Context, method string, params []string) (string, error) {
	reqIDBytes := make([]byte, 8)
	if _, err := rand.Read(reqIDBytes); err != nil {
		return "", fmt.Errorf("generate request id: %w", err)
	}
	reqID := hex.EncodeToString(reqIDBytes)

	requestJSON, err := json.Marshal(bunkerRequest{ID: reqID, Method: method, Params: params})
	if err != nil {
		return "", err
	}

	encrypted, err := nips.Nip44Encrypt(string(requestJSON), b.sessionKey)
	if err != nil {
		return "", fmt.Errorf("encrypt request: %w", err)
	}

	event := &types.Event{
		PubKey:    b.clientPubKey,
		CreatedAt: time.Now().Unix(),
		Kind:      bunkerRequestKind,
		Tags:      [][]string{{"p", b.remotePubKey}},
		Content:   encrypted,
	}
	if err := nostr.FinalizeEvent(event, b.clientPrivKey); err != nil {
		return "", fmt.Errorf("sign request event: %w", err)
	}

	var lastErr error
	for _, relay := range b.relays {
		result, err := b.rpcViaRelay(ctx, relay, event, reqID)
		if err != nil {
			slog.Warn("bunker: relay attempt failed", "relay", relay, "method", method, "error", err)
			lastErr = err
			continue
		}
		return result, nil
	}
	if lastErr == nil {
		lastErr = errors.New("no relays configured")
	}
	return "", fmt.Errorf("all relays failed: %w", lastErr)
}

func (b *BunkerSigner) rpcViaRelay(ctx context.Context, relayURL string, event *types.Event, reqID string) (string, error) {
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, relayURL, nil)
	if err != nil {
		return "", fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	subID := "nip46-" + reqID
	subFilter := map[string]interface{}{
		"kinds": []int{bunkerRequestKind},
		"#p":    []string{b.clientPubKey},
		"since": time.Now().Unix() - 10,
	}
	if err := conn.WriteJSON([]interface{}{"REQ", subID, subFilter}); err != nil {
		return "", fmt.Errorf("subscribe: %w", err)
	}
	if err := conn.WriteJSON([]interface{}{"EVENT", event}); err != nil {
		return "", fmt.Errorf("publish: %w", err)
	}

	deadline := time.Now().Add(bunkerRequestTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	conn.SetReadDeadline(deadline)

	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		default:
		}

		var msg []interface{}
		if err := conn.ReadJSON(&msg); err != nil {
			return "", fmt.Errorf("read: %w", err)
		}
		if len(msg) < 2 {
			continue
		}
		msgType, ok := msg[0].(string)
		if !ok {
			continue
		}

		switch msgType {
		case "EVENT":
			if len(msg) < 3 {
				continue
			}
			responseEvent, ok := nostr.ParseEventFromInterface(msg[2])
			if !ok {
				continue
			}
			if responseEvent.PubKey != b.remotePubKey {
				continue
			}
			decrypted, err := nips.Nip44Decrypt(responseEvent.Content, b.sessionKey)
			if err != nil {
				slog.Warn("bunker: undecryptable response", "error", err)
				continue
			}
			var response bunkerResponse
			if err := json.Unmarshal([]byte(decrypted), &response); err != nil {
				continue
			}
			if response.ID != reqID {
				continue
			}
			if response.Error != "" {
				return "", errors.New(response.Error)
			}
			return response.Result, nil

		case "OK":
			// Request accepted, keep waiting for the response event

		case "NOTICE":
			slog.Debug("bunker: relay notice", "relay", relayURL, "notice", fmt.Sprint(msg[1]))
		}
	}
}
