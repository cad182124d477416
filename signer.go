package main

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"

	"nostr-wallet/internal/nips"
	"nostr-wallet/internal/nostr"
	"nostr-wallet/internal/types"
)

// Algo identifies an encryption algorithm for wallet payloads and backups.
type Algo string

const (
	AlgoNip44 Algo = "nip44_v2" // modern ChaCha20+HMAC construction
	AlgoNip04 Algo = "nip04"    // legacy AES-256-CBC
)

// Other returns the alternate algorithm, used for decrypt fallback.
func (a Algo) Other() Algo {
	if a == AlgoNip44 {
		return AlgoNip04
	}
	return AlgoNip44
}

// Signer is the capability contract for the external component holding the
// user's root identity key. In production it may be a browser extension, a
// NIP-46 remote signer, or an in-process key; capabilities beyond the base
// interface vary per implementation and must be probed, not assumed.
type Signer interface {
	// GetPublicKey returns the signer's identity as a hex x-only pubkey.
	GetPublicKey(ctx context.Context) (string, error)
}

// EventSigner is the optional capability to sign Nostr events.
type EventSigner interface {
	SignEvent(ctx context.Context, evt *types.Event) error
}

// Nip44Codec is the managed encryption path for NIP-44: the signer performs
// the cryptography itself (possibly after prompting the user).
type Nip44Codec interface {
	Nip44Encrypt(ctx context.Context, peerPubHex, plaintext string) (string, error)
	Nip44Decrypt(ctx context.Context, peerPubHex, ciphertext string) (string, error)
}

// Nip04Codec is the managed encryption path for legacy NIP-04.
type Nip04Codec interface {
	Nip04Encrypt(ctx context.Context, peerPubHex, plaintext string) (string, error)
	Nip04Decrypt(ctx context.Context, peerPubHex, ciphertext string) (string, error)
}

// KeyAccess is the direct low-level path: the signer exposes its raw private
// key and crypto runs in-process. Only in-process signers implement this;
// extension and remote signers never reveal the key.
type KeyAccess interface {
	PrivateKey() []byte
}

// LocalSigner is an in-process signer over a raw secp256k1 key. Used for the
// NWC connection's ephemeral identity (the secret from the connection URI)
// and, in self-custody setups, for the user identity itself.
type LocalSigner struct {
	privKey []byte
	pubHex  string
}

// NewLocalSigner wraps a 32-byte private key.
func NewLocalSigner(privKey []byte) (*LocalSigner, error) {
	pub, err := nips.DerivePublicKey(privKey)
	if err != nil {
		return nil, fmt.Errorf("derive public key: %w", err)
	}
	return &LocalSigner{privKey: privKey, pubHex: hex.EncodeToString(pub)}, nil
}

// NewGeneratedSigner creates a signer with a fresh random key.
func NewGeneratedSigner() (*LocalSigner, error) {
	priv, err := nips.GeneratePrivateKey()
	if err != nil {
		return nil, err
	}
	return NewLocalSigner(priv)
}

func (s *LocalSigner) GetPublicKey(ctx context.Context) (string, error) {
	return s.pubHex, nil
}

func (s *LocalSigner) PrivateKey() []byte {
	return s.privKey
}

func (s *LocalSigner) SignEvent(ctx context.Context, evt *types.Event) error {
	if evt.PubKey == "" {
		evt.PubKey = s.pubHex
	}
	if evt.PubKey != s.pubHex {
		return errors.New("event pubkey does not match signer identity")
	}
	return nostr.FinalizeEvent(evt, s.privKey)
}

func (s *LocalSigner) Nip44Encrypt(ctx context.Context, peerPubHex, plaintext string) (string, error) {
	convKey, err := s.conversationKey(peerPubHex)
	if err != nil {
		return "", err
	}
	return nips.Nip44Encrypt(plaintext, convKey)
}

func (s *LocalSigner) Nip44Decrypt(ctx context.Context, peerPubHex, ciphertext string) (string, error) {
	convKey, err := s.conversationKey(peerPubHex)
	if err != nil {
		return "", err
	}
	return nips.Nip44Decrypt(ciphertext, convKey)
}

func (s *LocalSigner) Nip04Encrypt(ctx context.Context, peerPubHex, plaintext string) (string, error) {
	shared, err := s.sharedSecret(peerPubHex)
	if err != nil {
		return "", err
	}
	return nips.Nip04Encrypt(plaintext, shared)
}

func (s *LocalSigner) Nip04Decrypt(ctx context.Context, peerPubHex, ciphertext string) (string, error) {
	shared, err := s.sharedSecret(peerPubHex)
	if err != nil {
		return "", err
	}
	return nips.Nip04Decrypt(ciphertext, shared)
}

func (s *LocalSigner) conversationKey(peerPubHex string) ([]byte, error) {
	peer, err := hex.DecodeString(peerPubHex)
	if err != nil {
		return nil, errors.New("invalid peer pubkey hex")
	}
	return nips.ConversationKey(s.privKey, peer)
}

func (s *LocalSigner) sharedSecret(peerPubHex string) ([]byte, error) {
	peer, err := hex.DecodeString(peerPubHex)
	if err != nil {
		return nil, errors.New("invalid peer pubkey hex")
	}
	return nips.SharedSecret(s.privKey, peer)
}
