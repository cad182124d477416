package types

import "fmt"

// WalletKind identifies which protocol backs a configured wallet.
// Numeric values are the legacy on-disk codes and must not be renumbered.
type WalletKind int

const (
	WalletKindBrowserSigner WalletKind = 1 // external signer extension holds the keys
	WalletKindRemoteWallet  WalletKind = 3 // NIP-47 remote wallet service
	WalletKindNodeWallet    WalletKind = 4 // embedded self-custodial node engine
)

// String returns a stable label for logging
func (k WalletKind) String() string {
	switch k {
	case WalletKindBrowserSigner:
		return "browser-signer"
	case WalletKindRemoteWallet:
		return "remote-wallet"
	case WalletKindNodeWallet:
		return "node-wallet"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// Valid reports whether the kind is one of the known codes
func (k WalletKind) Valid() bool {
	return k == WalletKindBrowserSigner || k == WalletKindRemoteWallet || k == WalletKindNodeWallet
}

// WalletRecord is one configured wallet. Records are persisted; live
// connection state is not part of the record.
type WalletRecord struct {
	ID   string     `json:"id"`   // creation-time unix-milli timestamp
	Kind WalletKind `json:"kind"` //
	Name string     `json:"name"` // display label
	// ConnectionData is kind-specific: the nostr+walletconnect:// URI for a
	// remote wallet, empty for a node wallet (its secret lives in encrypted
	// local storage, never in this record).
	ConnectionData string `json:"connection_data,omitempty"`
	Active         bool   `json:"active"`
	CreatedAt      int64  `json:"created_at"`
}

// Payment is the normalized shape of a settled payment regardless of which
// engine/SDK payload shape produced it.
type Payment struct {
	ID          string `json:"id"`
	Incoming    bool   `json:"incoming"`
	AmountSats  int64  `json:"amount_sats"`
	FeeSats     int64  `json:"fee_sats,omitempty"`
	Description string `json:"description,omitempty"`
	SettledAt   int64  `json:"settled_at"`
}

// Balance is a wallet balance snapshot
type Balance struct {
	Sats      int64 `json:"sats"`
	UpdatedAt int64 `json:"updated_at"`
	// Syncing marks the snapshot as cached-while-refreshing: a background
	// sync is running and a fresher value will follow on the update channel.
	Syncing bool `json:"syncing,omitempty"`
}

// WalletUpdateType discriminates messages on the wallet update channel
type WalletUpdateType int

const (
	UpdateBalance WalletUpdateType = iota + 1
	UpdatePayment
	UpdateSynced
)

// WalletUpdate is a typed message from a wallet client to the registry.
// Replaces callback-style event delivery so reconnects cannot leak stale
// closures.
type WalletUpdate struct {
	Type       WalletUpdateType
	Generation uint64
	Balance    *Balance
	Payment    *Payment
}
