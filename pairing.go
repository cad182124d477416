package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"nostr-wallet/internal/nips"
	"nostr-wallet/internal/nostr"
)

// Client-initiated NIP-46 pairing: instead of pasting a bunker:// URI, the
// user scans a nostrconnect:// QR with their signer app and the signer
// connects to us. We listen on the pairing relays until a connect response
// carrying our secret arrives, then hand back a ready BunkerSigner.

const pairingWindow = 2 * time.Minute

// NostrConnectPairing is one in-flight pairing attempt.
type NostrConnectPairing struct {
	URI    string
	Secret string

	clientPrivKey []byte
	clientPubKey  string
	relays        []string

	mu       sync.Mutex
	resolved bool
}

// NewNostrConnectPairing generates an ephemeral client keypair and the
// nostrconnect:// URI for the signer to approve.
func NewNostrConnectPairing(relays []string, appName string) (*NostrConnectPairing, error) {
	clientPrivKey, err := nips.GeneratePrivateKey()
	if err != nil {
		return nil, fmt.Errorf("generate pairing keypair: %w", err)
	}
	clientPubKeyBytes, err := nips.DerivePublicKey(clientPrivKey)
	if err != nil {
		return nil, fmt.Errorf("derive pairing pubkey: %w", err)
	}
	clientPubKey := hex.EncodeToString(clientPubKeyBytes)

	canonical := make([]string, 0, len(relays))
	for _, r := range relays {
		c, err := nostr.CanonicalRelayURL(r)
		if err != nil {
			return nil, fmt.Errorf("%w: relay %q: %v", ErrParse, r, err)
		}
		canonical = append(canonical, c)
	}
	if len(canonical) == 0 {
		return nil, fmt.Errorf("%w: pairing needs at least one relay", ErrParse)
	}

	secretBytes := make([]byte, 16)
	if _, err := rand.Read(secretBytes); err != nil {
		return nil, err
	}
	secret := hex.EncodeToString(secretBytes)

	u := url.URL{Scheme: "nostrconnect", Host: clientPubKey}
	q := u.Query()
	for _, r := range canonical {
		q.Add("relay", r)
	}
	q.Set("secret", secret)
	q.Set("name", appName)
	q.Set("perms", "sign_event,nip44_encrypt,nip44_decrypt,nip04_encrypt,nip04_decrypt")
	u.RawQuery = q.Encode()

	return &NostrConnectPairing{
		URI:           u.String(),
		Secret:        secret,
		clientPrivKey: clientPrivKey,
		clientPubKey:  clientPubKey,
		relays:        canonical,
	}, nil
}

// QR renders the pairing URI as a PNG for the signer app to scan.
func (p *NostrConnectPairing) QR(size int) ([]byte, error) {
	return EncodeQR(p.URI, size)
}

// Await listens on every pairing relay until a signer responds with our
// secret, then returns a connected BunkerSigner bound to that signer. The
// first relay to deliver the response wins; duplicates from other relays
// are ignored.
func (p *NostrConnectPairing) Await(ctx context.Context) (*BunkerSigner, error) {
	ctx, cancel := context.WithTimeout(ctx, pairingWindow)
	defer cancel()

	type outcome struct {
		signerPubKey string
	}
	results := make(chan outcome, len(p.relays))

	for _, relay := range p.relays {
		go func(relayURL string) {
			signerPubKey, err := p.listenOnRelay(ctx, relayURL)
			if err != nil {
				slog.Debug("pairing: relay listener ended", "relay", relayURL, "error", err)
				return
			}
			results <- outcome{signerPubKey: signerPubKey}
		}(relay)
	}

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: signer never responded", ErrConnectTimeout)
	case res := <-results:
		p.mu.Lock()
		p.resolved = true
		p.mu.Unlock()
		return p.buildSigner(ctx, res.signerPubKey)
	}
}

// listenOnRelay subscribes for kind 24133 events addressed to the pairing
// key and returns the signer pubkey once the connect response arrives.
func (p *NostrConnectPairing) listenOnRelay(ctx context.Context, relayURL string) (string, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, relayURL, nil)
	if err != nil {
		return "", fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	subFilter := map[string]interface{}{
		"kinds": []int{bunkerRequestKind},
		"#p":    []string{p.clientPubKey},
		"since": time.Now().Unix() - 60,
	}
	if err := conn.WriteJSON([]interface{}{"REQ", "pairing", subFilter}); err != nil {
		return "", fmt.Errorf("subscribe: %w", err)
	}

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetReadDeadline(deadline)
	}

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
		if len(msg) < 3 {
			continue
		}
		if msgType, ok := msg[0].(string); !ok || msgType != "EVENT" {
			continue
		}

		event, ok := nostr.ParseEventFromInterface(msg[2])
		if !ok {
			continue
		}
		if p.matchesSecret(event.PubKey, event.Content) {
			return event.PubKey, nil
		}
	}
}

// matchesSecret tries to decrypt a candidate event with a conversation key
// derived from its author and checks for our pairing secret. Undecryptable
// events are simply not for us.
func (p *NostrConnectPairing) matchesSecret(authorPubKey, content string) bool {
	authorBytes, err := hex.DecodeString(authorPubKey)
	if err != nil {
		return false
	}
	convKey, err := nips.ConversationKey(p.clientPrivKey, authorBytes)
	if err != nil {
		return false
	}
	decrypted, err := nips.Nip44Decrypt(content, convKey)
	if err != nil {
		return false
	}

	var response bunkerResponse
	if err := json.Unmarshal([]byte(decrypted), &response); err != nil {
		return false
	}
	return response.Result == p.Secret || response.Result == "ack"
}

// buildSigner binds a BunkerSigner to the signer that answered the pairing
// and completes the handshake over the same relays and client key.
func (p *NostrConnectPairing) buildSigner(ctx context.Context, signerPubKey string) (*BunkerSigner, error) {
	signerBytes, err := hex.DecodeString(signerPubKey)
	if err != nil {
		return nil, fmt.Errorf("%w: signer pubkey is not hex", ErrParse)
	}
	sessionKey, err := nips.ConversationKey(p.clientPrivKey, signerBytes)
	if err != nil {
		return nil, fmt.Errorf("compute session key: %w", err)
	}

	signer := &BunkerSigner{
		clientPrivKey: p.clientPrivKey,
		clientPubKey:  p.clientPubKey,
		remotePubKey:  signerPubKey,
		relays:        p.relays,
		secret:        p.Secret,
		sessionKey:    sessionKey,
	}

	// The signer already acked the pairing; resolving the user pubkey
	// completes the session.
	userPubKey, err := signer.rpc(ctx, "get_public_key", []string{})
	if err != nil {
		return nil, fmt.Errorf("%w: get_public_key: %v", ErrConnectRejected, err)
	}
	if len(userPubKey) != 64 {
		return nil, fmt.Errorf("%w: invalid user pubkey from signer", ErrConnectRejected)
	}

	signer.mu.Lock()
	signer.userPubKey = userPubKey
	signer.connected = true
	signer.mu.Unlock()

	slog.Info("pairing: signer connected", "user_pubkey", nostr.ShortID(userPubKey))
	return signer, nil
}
