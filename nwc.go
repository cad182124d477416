package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/singleflight"

	"nostr-wallet/internal/config"
	"nostr-wallet/internal/nips"
	"nostr-wallet/internal/nostr"
	"nostr-wallet/internal/types"
	"nostr-wallet/internal/util"
)

// NWC (Nostr Wallet Connect) client - NIP-47

const (
	nwcInfoKind       = 13194            // Wallet service capability announcement
	nwcRequestKind    = 23194            // Client request to wallet
	nwcResponseKind   = 23195            // Wallet response to client
	nwcRequestTimeout = 15 * time.Second // Timeout for NWC response (some wallets don't respond)
)

// NWCConfig holds wallet connection parameters extracted from the URI
type NWCConfig struct {
	WalletPubKey []byte `json:"wallet_pubkey"` // Wallet service's public key (32 bytes)
	Relay        string `json:"relay"`         // Canonical relay URL for communication
	Secret       []byte `json:"secret"`        // Ephemeral client key from the URI (32 bytes)
	ClientPubKey []byte `json:"client_pubkey"` // Derived public key from secret
}

// NWCRequest is a JSON-RPC request to the wallet
type NWCRequest struct {
	Method string      `json:"method"`
	Params interface{} `json:"params"`
}

// NWCResponse is a JSON-RPC response from the wallet
type NWCResponse struct {
	ResultType string          `json:"result_type"`
	Result     json.RawMessage `json:"result,omitempty"`
	Error      *NWCError       `json:"error,omitempty"`
}

// NWCError represents an error from the wallet
type NWCError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NWCPayInvoiceResult is the result of a successful payment
type NWCPayInvoiceResult struct {
	Preimage string `json:"preimage"`
}

// NWCBalanceResult is the result of get_balance
type NWCBalanceResult struct {
	Balance int64 `json:"balance"` // millisatoshis
}

// NWCTransaction represents a single transaction from list_transactions
type NWCTransaction struct {
	Type            string `json:"type"` // "incoming" or "outgoing"
	Invoice         string `json:"invoice,omitempty"`
	Description     string `json:"description,omitempty"`
	DescriptionHash string `json:"description_hash,omitempty"`
	Preimage        string `json:"preimage,omitempty"`
	PaymentHash     string `json:"payment_hash,omitempty"`
	Amount          int64  `json:"amount"` // millisatoshis
	FeesPaid        int64  `json:"fees_paid,omitempty"`
	CreatedAt       int64  `json:"created_at"`
	SettledAt       int64  `json:"settled_at,omitempty"`
}

// NWCListTransactionsResult is the result of list_transactions
type NWCListTransactionsResult struct {
	Transactions []NWCTransaction `json:"transactions"`
}

// NWCInfo describes the wallet service's advertised capabilities (kind 13194)
type NWCInfo struct {
	Methods    []string
	Encryption []string // advertised encryption schemes, e.g. "nip44_v2"
}

// sanitizeConnectionURI trims surrounding whitespace and strips embedded
// CR/LF/TAB. Connection URIs arrive from copy-paste and QR scans; unparsed
// control characters are the single most common cause of silent connection
// timeouts, because the garbage ends up inside the relay URL or secret.
func sanitizeConnectionURI(uri string) string {
	uri = strings.TrimSpace(uri)
	return strings.Map(func(r rune) rune {
		switch r {
		case '\r', '\n', '\t':
			return -1
		}
		return r
	}, uri)
}

// ParseNWCURI parses a nostr+walletconnect:// URI into NWCConfig.
// Format: nostr+walletconnect://<wallet-pubkey>?relay=<wss://...>&secret=<hex>
func ParseNWCURI(nwcURI string) (*NWCConfig, error) {
	nwcURI = sanitizeConnectionURI(nwcURI)

	if !strings.HasPrefix(nwcURI, "nostr+walletconnect://") {
		return nil, fmt.Errorf("%w: must start with nostr+walletconnect://", ErrParse)
	}

	// Swap scheme for URL parsing (url.Parse dislikes nostr+walletconnect)
	parseable := strings.Replace(nwcURI, "nostr+walletconnect://", "https://", 1)
	u, err := url.Parse(parseable)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}

	walletPubKeyHex := u.Host
	if len(walletPubKeyHex) != 64 {
		return nil, fmt.Errorf("%w: wallet pubkey must be 64 hex characters", ErrParse)
	}
	walletPubKey, err := hex.DecodeString(walletPubKeyHex)
	if err != nil {
		return nil, fmt.Errorf("%w: wallet pubkey is not valid hex", ErrParse)
	}

	relay := u.Query().Get("relay")
	if relay == "" {
		return nil, fmt.Errorf("%w: missing relay parameter", ErrParse)
	}
	canonicalRelay, err := nostr.CanonicalRelayURL(relay)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}

	secretHex := u.Query().Get("secret")
	if secretHex == "" {
		return nil, fmt.Errorf("%w: missing secret parameter", ErrParse)
	}
	if len(secretHex) != 64 {
		return nil, fmt.Errorf("%w: secret must be 64 hex characters", ErrParse)
	}
	secret, err := hex.DecodeString(secretHex)
	if err != nil {
		return nil, fmt.Errorf("%w: secret is not valid hex", ErrParse)
	}

	clientPubKey, err := nips.DerivePublicKey(secret)
	if err != nil {
		return nil, fmt.Errorf("%w: cannot derive public key from secret", ErrParse)
	}

	return &NWCConfig{
		WalletPubKey: walletPubKey,
		Relay:        canonicalRelay,
		Secret:       secret,
		ClientPubKey: clientPubKey,
	}, nil
}

// NWCClient handles communication with a Nostr wallet service over a single
// dedicated relay connection. The connection is deliberately NOT registered
// with any shared or pooled connection manager: pooled auto-reconnecting
// managers interfere with this protocol's handshake timing and must not
// multiplex it with unrelated traffic.
type NWCClient struct {
	config  *NWCConfig
	signer  *LocalSigner       // connection-scoped identity from the URI secret
	enc     *EncryptionService // encrypts/decrypts request bodies
	reqAlgo Algo               // negotiated from the wallet's 13194 info event

	// cache, when set, holds the wallet service's info event across
	// reconnects so negotiation does not re-query the relay every time.
	cache *WalletCache

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
	subID     string
	done      chan struct{}
	eose      chan struct{}

	// generation invalidates in-flight operations after a reconnect:
	// a response routed to a request from a previous generation is
	// discarded on completion rather than applied.
	generation atomic.Uint64

	connectGroup singleflight.Group

	pendingMu sync.Mutex
	pending   map[string]chan *NWCResponse

	acceptedMu  sync.Mutex
	acceptedIDs map[string]bool // relay-acked request event IDs
}

// NewNWCClient creates a client from a parsed config.
func NewNWCClient(cfg *NWCConfig) (*NWCClient, error) {
	signer, err := NewLocalSigner(cfg.Secret)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}
	c := &NWCClient{
		config:      cfg,
		signer:      signer,
		reqAlgo:     AlgoNip04, // assume legacy until the info event says otherwise
		pending:     make(map[string]chan *NWCResponse),
		acceptedIDs: make(map[string]bool),
	}
	c.enc = NewEncryptionService(func() Signer { return c.signer }, config.Get().DecryptTimeout)
	return c, nil
}

// Generation returns the current connection generation.
func (c *NWCClient) Generation() uint64 {
	return c.generation.Load()
}

// Connect establishes the dedicated relay connection and subscribes to wallet
// responses. A second concurrent Connect awaits the first rather than racing
// it; duplicate concurrent connection attempts to the same transport are the
// dominant historical failure mode of this protocol.
func (c *NWCClient) Connect(ctx context.Context) error {
	_, err, _ := c.connectGroup.Do("connect", func() (interface{}, error) {
		return nil, c.connectOnce(ctx)
	})
	return err
}

func (c *NWCClient) connectOnce(ctx context.Context) error {
	c.mu.Lock()
	if c.connected {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	log := LoggerFromContext(ctx)

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.config.Relay, nil)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%w: relay %s", ErrConnectTimeout, c.config.Relay)
		}
		return fmt.Errorf("%w: relay %s: %v", ErrConnectRejected, c.config.Relay, err)
	}

	gen := c.generation.Add(1)

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.done = make(chan struct{})
	c.eose = make(chan struct{})
	c.subID = fmt.Sprintf("nwc-%d", time.Now().UnixNano()%1000000)
	done := c.done
	eose := c.eose

	// Subscribe to wallet responses (kind 23195 p-tagged to our pubkey).
	// No "since" filter: responses must not be missed due to clock skew.
	subFilter := buildFilterJSON(types.Filter{
		Kinds:   []int{nwcResponseKind},
		Authors: []string{c.walletPubKeyHex()},
		PTags:   []string{c.clientPubKeyHex()},
	})
	err = conn.WriteJSON([]interface{}{"REQ", c.subID, subFilter})
	c.mu.Unlock()

	if err != nil {
		conn.Close()
		c.mu.Lock()
		c.connected = false
		c.mu.Unlock()
		return fmt.Errorf("%w: subscribe failed: %v", ErrConnectRejected, err)
	}

	go c.readLoop(conn, gen, done)

	// Wait for EOSE so the subscription is known active before any request
	// is published; proceed anyway on timeout (some relays never send it).
	select {
	case <-eose:
		log.Debug("nwc: subscription active", "relay", c.config.Relay)
	case <-time.After(5 * time.Second):
		log.Debug("nwc: EOSE timeout, proceeding anyway")
	case <-ctx.Done():
		// Tear down like the subscribe-failure path: the caller discards
		// the client on error and must not inherit a live readLoop.
		close(done)
		conn.Close()
		c.mu.Lock()
		c.connected = false
		c.mu.Unlock()
		return ctx.Err()
	}

	// Negotiate encryption from the wallet service's info event. Many
	// wallets still only speak NIP-04, so that stays the default.
	if info, err := c.fetchInfo(ctx); err == nil && info != nil {
		for _, scheme := range info.Encryption {
			if scheme == string(AlgoNip44) {
				c.mu.Lock()
				c.reqAlgo = AlgoNip44
				c.mu.Unlock()
				break
			}
		}
		log.Debug("nwc: negotiated encryption",
			"algo", string(c.requestAlgo()), "methods", info.Methods)
	}

	log.Info("nwc: connected", "relay", c.config.Relay, "generation", gen)
	return nil
}

// fetchInfo returns the wallet service's kind 13194 info event, from cache
// when available, otherwise queried from the relay.
func (c *NWCClient) fetchInfo(ctx context.Context) (*NWCInfo, error) {
	if c.cache != nil {
		if evt, ok := c.cache.WalletInfo(ctx, c.walletPubKeyHex()); ok {
			return infoFromEvent(evt), nil
		}
	}

	queryCtx, cancel := context.WithTimeout(ctx, defaultQueryTimeout)
	defer cancel()

	events, err := queryRelay(queryCtx, c.config.Relay, types.Filter{
		Kinds:   []int{nwcInfoKind},
		Authors: []string{c.walletPubKeyHex()},
		Limit:   1,
	})
	if err != nil || len(events) == 0 {
		return nil, fmt.Errorf("no info event: %v", err)
	}

	if c.cache != nil {
		c.cache.SetWalletInfo(ctx, c.walletPubKeyHex(), events[0])
	}
	return infoFromEvent(events[0]), nil
}

func infoFromEvent(evt types.Event) *NWCInfo {
	info := &NWCInfo{
		Methods: strings.Fields(evt.Content),
	}
	if enc := util.GetTagValue(evt.Tags, "encryption"); enc != "" {
		info.Encryption = strings.Fields(enc)
	}
	return info
}

func (c *NWCClient) requestAlgo() Algo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reqAlgo
}

// readLoop processes incoming messages until the connection drops or the
// done channel closes. gen ties the loop to one connection generation.
func (c *NWCClient) readLoop(conn *websocket.Conn, gen uint64, done chan struct{}) {
	defer func() {
		c.mu.Lock()
		// Only tear down state if a reconnect has not already superseded us
		if c.generation.Load() == gen {
			c.connected = false
		}
		c.mu.Unlock()
		conn.Close()

		// Unblock all requests waiting on this generation
		c.pendingMu.Lock()
		for _, ch := range c.pending {
			close(ch)
		}
		c.pending = make(map[string]chan *NWCResponse)
		c.pendingMu.Unlock()
	}()

	for {
		select {
		case <-done:
			return
		default:
		}

		var msg types.NostrMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				slog.Debug("nwc: connection closed unexpectedly", "error", err)
			} else {
				slog.Debug("nwc: read error", "error", err)
			}
			return
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
			if len(msg) >= 3 {
				c.handleEvent(msg[2], gen)
			}
		case "OK":
			if len(msg) >= 3 {
				eventID, _ := msg[1].(string)
				accepted, _ := msg[2].(bool)
				// Track accepted requests - matters for wallets that
				// process payments but never send a response event
				if accepted && eventID != "" {
					c.acceptedMu.Lock()
					c.acceptedIDs[eventID] = true
					c.acceptedMu.Unlock()
				}
			}
		case "EOSE":
			c.mu.Lock()
			eose := c.eose
			c.mu.Unlock()
			select {
			case <-eose:
			default:
				close(eose)
			}
		case "AUTH":
			if len(msg) >= 2 {
				challenge, _ := msg[1].(string)
				c.handleAuth(challenge)
			}
		case "NOTICE":
			if len(msg) >= 2 {
				notice, _ := msg[1].(string)
				slog.Debug("nwc: relay notice", "notice", notice)
			}
		}
	}
}

// handleAuth answers a NIP-42 AUTH challenge with a signed kind 22242 event.
func (c *NWCClient) handleAuth(challenge string) {
	event := &types.Event{
		PubKey:    c.clientPubKeyHex(),
		CreatedAt: time.Now().Unix(),
		Kind:      22242,
		Tags: [][]string{
			{"relay", c.config.Relay},
			{"challenge", challenge},
		},
		Content: "",
	}

	if err := c.signer.SignEvent(context.Background(), event); err != nil {
		slog.Error("nwc: failed to sign AUTH event", "error", err)
		return
	}

	c.mu.Lock()
	conn := c.conn
	var err error
	if conn != nil {
		err = conn.WriteJSON([]interface{}{"AUTH", event})
	}
	c.mu.Unlock()

	if err != nil {
		slog.Error("nwc: failed to send AUTH response", "error", err)
		return
	}
	slog.Debug("nwc: answered AUTH challenge", "event_id", nostr.ShortID(event.ID))
}

// handleEvent decrypts a wallet response and routes it to the waiting request.
func (c *NWCClient) handleEvent(eventData interface{}, gen uint64) {
	event, ok := nostr.ParseEventFromInterface(eventData)
	if !ok {
		return
	}

	if event.PubKey != c.walletPubKeyHex() {
		slog.Debug("nwc: event not from wallet", "from", nostr.ShortID(event.PubKey))
		return
	}

	if c.generation.Load() != gen {
		// A reconnect superseded this connection while the event was in
		// flight; discard rather than apply to stale state.
		slog.Warn("nwc: generation_mismatch, discarding response",
			"event_id", nostr.ShortID(event.ID))
		return
	}

	decrypted, err := c.enc.Decrypt(context.Background(), c.walletPubKeyHex(), event.Content, c.requestAlgo())
	if err != nil {
		slog.Error("nwc: failed to decrypt response", "error", err)
		return
	}

	var response NWCResponse
	if err := json.Unmarshal([]byte(decrypted), &response); err != nil {
		slog.Error("nwc: failed to parse response", "error", err)
		return
	}

	// Correlation key: the request event's own ID, echoed in the e tag
	requestEventID := util.GetTagValue(event.Tags, "e")
	if requestEventID == "" {
		slog.Debug("nwc: response missing e tag")
		return
	}

	c.pendingMu.Lock()
	ch, exists := c.pending[requestEventID]
	if exists {
		delete(c.pending, requestEventID)
	}
	c.pendingMu.Unlock()

	if exists {
		ch <- &response
	} else {
		slog.Debug("nwc: no pending request for response",
			"request_id", nostr.ShortID(requestEventID))
	}
}

// IsConnected reports live transport status. The connected flag is cleared
// by readLoop the moment the transport drops, so this reflects reality
// rather than "Connect was called once".
func (c *NWCClient) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected && c.conn != nil
}

// Request publishes one encrypted request and waits for the correlated
// response. Failures are surfaced, never retried internally: these are
// financial operations.
func (c *NWCClient) Request(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	if !c.IsConnected() {
		return nil, ErrNotConnected
	}
	gen := c.generation.Load()
	log := LoggerFromContext(ctx)

	if params == nil {
		params = map[string]interface{}{}
	}
	requestJSON, err := json.Marshal(NWCRequest{Method: method, Params: params})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	algo := c.requestAlgo()
	encrypted, err := c.enc.EncryptWith(ctx, algo, c.walletPubKeyHex(), string(requestJSON))
	if err != nil {
		return nil, fmt.Errorf("encrypt request: %w", err)
	}

	event, err := c.buildRequestEvent(encrypted, algo)
	if err != nil {
		return nil, err
	}
	log.Debug("nwc: request event built", "method", method,
		"event_id", nostr.ShortID(event.ID), "algo", string(algo))

	respCh := make(chan *NWCResponse, 1)
	c.pendingMu.Lock()
	c.pending[event.ID] = respCh
	c.pendingMu.Unlock()

	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, event.ID)
		c.pendingMu.Unlock()
	}()

	// Subscribe with an #e filter for this specific event before publishing.
	// Some relays only deliver responses to subscriptions naming the event.
	subID, err := c.subscribeForResponse(event.ID)
	if err != nil {
		return nil, fmt.Errorf("subscribe for response: %w", err)
	}
	defer c.closeSubscription(subID)

	// Give the relay a moment to activate the subscription
	time.Sleep(50 * time.Millisecond)

	c.mu.Lock()
	conn := c.conn
	if conn != nil {
		err = conn.WriteJSON([]interface{}{"EVENT", event})
	} else {
		err = ErrNotConnected
	}
	c.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("publish request: %w", err)
	}

	// Fresh timeout per request, independent of how much of the parent
	// context was already consumed by connect/encrypt.
	timeoutCtx, cancel := context.WithTimeout(context.Background(), nwcRequestTimeout)
	defer cancel()

	select {
	case <-timeoutCtx.Done():
		c.acceptedMu.Lock()
		wasAccepted := c.acceptedIDs[event.ID]
		c.acceptedMu.Unlock()
		if wasAccepted {
			log.Warn("nwc: relay accepted request but wallet never responded",
				"method", method, "event_id", nostr.ShortID(event.ID))
			return nil, ErrNoWalletResponse
		}
		return nil, fmt.Errorf("%w: %s request", ErrPublishTimeout, method)
	case <-ctx.Done():
		return nil, ctx.Err()
	case resp, ok := <-respCh:
		if !ok {
			return nil, ErrNotConnected
		}
		if c.generation.Load() != gen {
			return nil, ErrStaleGeneration
		}
		if resp.Error != nil {
			return nil, fmt.Errorf("%s: %s", resp.Error.Code, resp.Error.Message)
		}
		if resp.ResultType != method {
			return nil, fmt.Errorf("unexpected result type %q for %s", resp.ResultType, method)
		}
		return resp.Result, nil
	}
}

// subscribeForResponse subscribes with an #e filter for a specific event ID.
// Returns the subscription ID to close later.
func (c *NWCClient) subscribeForResponse(eventID string) (string, error) {
	subID := fmt.Sprintf("nwc-req-%d", time.Now().UnixNano()%1000000)
	subFilter := buildFilterJSON(types.Filter{
		Kinds:   []int{nwcResponseKind},
		Authors: []string{c.walletPubKeyHex()},
		ETags:   []string{eventID},
	})

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return "", ErrNotConnected
	}
	if err := c.conn.WriteJSON([]interface{}{"REQ", subID, subFilter}); err != nil {
		return "", err
	}
	return subID, nil
}

// closeSubscription closes a subscription by ID
func (c *NWCClient) closeSubscription(subID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		c.conn.WriteJSON([]interface{}{"CLOSE", subID})
	}
}

// buildRequestEvent creates a signed kind 23194 request event
func (c *NWCClient) buildRequestEvent(encryptedContent string, algo Algo) (*types.Event, error) {
	tags := [][]string{
		{"p", c.walletPubKeyHex()},
	}
	// No "encryption" tag means NIP-04 by convention
	if algo == AlgoNip44 {
		tags = append(tags, []string{"encryption", string(AlgoNip44)})
	}

	event := &types.Event{
		PubKey:    c.clientPubKeyHex(),
		CreatedAt: time.Now().Unix(),
		Kind:      nwcRequestKind,
		Tags:      tags,
		Content:   encryptedContent,
	}
	if err := c.signer.SignEvent(context.Background(), event); err != nil {
		return nil, fmt.Errorf("sign request event: %w", err)
	}
	return event, nil
}

// GetBalance queries the wallet balance
func (c *NWCClient) GetBalance(ctx context.Context) (*NWCBalanceResult, error) {
	raw, err := c.Request(ctx, "get_balance", nil)
	if err != nil {
		return nil, err
	}
	var result NWCBalanceResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("parse get_balance result: %w", err)
	}
	return &result, nil
}

// PayInvoice asks the wallet to pay a BOLT11 invoice
func (c *NWCClient) PayInvoice(ctx context.Context, bolt11Invoice string) (*NWCPayInvoiceResult, error) {
	raw, err := c.Request(ctx, "pay_invoice", map[string]interface{}{
		"invoice": bolt11Invoice,
	})
	if err != nil {
		return nil, err
	}
	var result NWCPayInvoiceResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("parse pay_invoice result: %w", err)
	}
	return &result, nil
}

// ListTransactions retrieves recent transactions from the wallet
func (c *NWCClient) ListTransactions(ctx context.Context, limit int) (*NWCListTransactionsResult, error) {
	params := map[string]interface{}{}
	if limit > 0 {
		params["limit"] = limit
	}
	raw, err := c.Request(ctx, "list_transactions", params)
	if err != nil {
		return nil, err
	}
	var result NWCListTransactionsResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("parse list_transactions result: %w", err)
	}
	return &result, nil
}

// Close tears down the transport and invalidates in-flight operations by
// bumping the generation. Safe to call repeatedly.
func (c *NWCClient) Close() {
	c.mu.Lock()
	if c.done != nil {
		select {
		case <-c.done:
		default:
			close(c.done)
		}
	}
	if c.conn != nil {
		if c.subID != "" {
			c.conn.WriteJSON([]interface{}{"CLOSE", c.subID})
		}
		c.conn.Close()
		c.conn = nil
	}
	c.connected = false
	c.mu.Unlock()

	c.generation.Add(1)
}

func (c *NWCClient) walletPubKeyHex() string {
	return hex.EncodeToString(c.config.WalletPubKey)
}

func (c *NWCClient) clientPubKeyHex() string {
	return hex.EncodeToString(c.config.ClientPubKey)
}

// NWC error codes from NIP-47
const (
	NWCErrorRateLimited         = "RATE_LIMITED"
	NWCErrorNotImplemented      = "NOT_IMPLEMENTED"
	NWCErrorInsufficientBalance = "INSUFFICIENT_BALANCE"
	NWCErrorQuotaExceeded       = "QUOTA_EXCEEDED"
	NWCErrorRestricted          = "RESTRICTED"
	NWCErrorUnauthorized        = "UNAUTHORIZED"
	NWCErrorInternal            = "INTERNAL"
	NWCErrorPaymentFailed       = "PAYMENT_FAILED"
	NWCErrorNotFound            = "NOT_FOUND"
)
