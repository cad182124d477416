package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// EncryptionService provides signer-agnostic encrypt/decrypt with algorithm
// negotiation and fallback. Capability is recomputed from the live signer
// reference on every call, so it follows the user reconnecting a different
// signer type mid-session. Nothing here is persisted.
//
// Decrypt runs a nested fallback: hinted algorithm before the alternate one,
// and within each algorithm the direct key path before the managed signer
// path. Different signer implementations support these inconsistently, and a
// backup created under one signer must remain restorable under another.
type EncryptionService struct {
	signerFn func() Signer // live reference, may change between calls
	timeout  time.Duration // per-decrypt guard against ignored prompts
}

// NewEncryptionService wraps a live signer reference. timeout bounds every
// decrypt call; 15s is the recommended value.
func NewEncryptionService(signerFn func() Signer, timeout time.Duration) *EncryptionService {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &EncryptionService{signerFn: signerFn, timeout: timeout}
}

// supports reports whether the current signer can run the given algorithm
// through either access path.
func (s *EncryptionService) supports(signer Signer, algo Algo) bool {
	if signer == nil {
		return false
	}
	if _, ok := signer.(KeyAccess); ok {
		return true
	}
	switch algo {
	case AlgoNip44:
		_, ok := signer.(Nip44Codec)
		return ok
	case AlgoNip04:
		_, ok := signer.(Nip04Codec)
		return ok
	}
	return false
}

// HasSupport returns true iff at least one algorithm is available from the
// active signer.
func (s *EncryptionService) HasSupport() bool {
	signer := s.signerFn()
	return s.supports(signer, AlgoNip44) || s.supports(signer, AlgoNip04)
}

// PreferredMethod returns the algorithm new encryptions should use:
// NIP-44 when available, legacy NIP-04 otherwise.
func (s *EncryptionService) PreferredMethod() (Algo, bool) {
	signer := s.signerFn()
	if s.supports(signer, AlgoNip44) {
		return AlgoNip44, true
	}
	if s.supports(signer, AlgoNip04) {
		return AlgoNip04, true
	}
	return "", false
}

// Encrypt encrypts plaintext for the counterparty using the preferred
// method, returning the ciphertext and the algorithm actually used.
func (s *EncryptionService) Encrypt(ctx context.Context, peerPubHex, plaintext string) (string, Algo, error) {
	algo, ok := s.PreferredMethod()
	if !ok {
		return "", "", ErrNoCapability
	}
	ciphertext, err := s.EncryptWith(ctx, algo, peerPubHex, plaintext)
	return ciphertext, algo, err
}

// EncryptWith encrypts with an explicit algorithm. Used when the wallet
// service negotiated a specific encryption in its info event.
func (s *EncryptionService) EncryptWith(ctx context.Context, algo Algo, peerPubHex, plaintext string) (string, error) {
	signer := s.signerFn()
	if !s.supports(signer, algo) {
		return "", ErrNoCapability
	}

	var lastErr error
	for _, direct := range []bool{true, false} {
		ciphertext, err := runEncryption(ctx, signer, algo, direct, peerPubHex, plaintext)
		if err == nil {
			return ciphertext, nil
		}
		if errors.Is(err, errPathUnavailable) {
			continue
		}
		if errors.Is(err, ErrSignerRejected) {
			return "", ErrSignerRejected
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = ErrNoCapability
	}
	return "", fmt.Errorf("encrypt (%s): %w", algo, lastErr)
}

// Decrypt tries the hinted algorithm first, then the alternate, and within
// each algorithm the direct key path before the managed path. The whole call
// is bounded by the service timeout: a decrypt request may otherwise wait
// forever on an out-of-process approval prompt the user never answers.
func (s *EncryptionService) Decrypt(ctx context.Context, peerPubHex, ciphertext string, hint Algo) (string, error) {
	signer := s.signerFn()
	if signer == nil || !s.HasSupport() {
		return "", ErrNoCapability
	}

	if hint != AlgoNip44 && hint != AlgoNip04 {
		hint = AlgoNip44
	}

	deadline := time.NewTimer(s.timeout)
	defer deadline.Stop()

	type result struct {
		plaintext string
		err       error
	}
	done := make(chan result, 1)

	go func() {
		var lastErr error
		for _, algo := range []Algo{hint, hint.Other()} {
			for _, direct := range []bool{true, false} {
				plaintext, err := runDecryption(ctx, signer, algo, direct, peerPubHex, ciphertext)
				if err == nil {
					if algo != hint || !direct {
						decryptFallbacksTotal.Add(1)
					}
					done <- result{plaintext: plaintext}
					return
				}
				if errors.Is(err, errPathUnavailable) {
					continue
				}
				if errors.Is(err, ErrSignerRejected) {
					done <- result{err: ErrSignerRejected}
					return
				}
				lastErr = err
				slog.Debug("decrypt attempt failed",
					"algo", string(algo), "direct_path", direct, "error", err)
			}
		}
		if lastErr == nil {
			lastErr = ErrNoCapability
		}
		done <- result{err: fmt.Errorf("%w: %v", ErrAlgoMismatch, lastErr)}
	}()

	select {
	case res := <-done:
		return res.plaintext, res.err
	case <-deadline.C:
		// The attempt keeps running in its goroutine; the late result is
		// discarded via the buffered channel.
		decryptTimeoutsTotal.Add(1)
		return "", ErrDecryptTimeout
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// errPathUnavailable marks an access path the current signer does not offer,
// as opposed to a path that was tried and failed.
var errPathUnavailable = errors.New("signer path unavailable")

// runEncryption dispatches one encrypt attempt over one access path.
func runEncryption(ctx context.Context, signer Signer, algo Algo, direct bool, peerPubHex, plaintext string) (string, error) {
	if direct {
		ka, ok := signer.(KeyAccess)
		if !ok {
			return "", errPathUnavailable
		}
		local, err := NewLocalSigner(ka.PrivateKey())
		if err != nil {
			return "", err
		}
		if algo == AlgoNip44 {
			return local.Nip44Encrypt(ctx, peerPubHex, plaintext)
		}
		return local.Nip04Encrypt(ctx, peerPubHex, plaintext)
	}

	switch algo {
	case AlgoNip44:
		codec, ok := signer.(Nip44Codec)
		if !ok {
			return "", errPathUnavailable
		}
		return codec.Nip44Encrypt(ctx, peerPubHex, plaintext)
	default:
		codec, ok := signer.(Nip04Codec)
		if !ok {
			return "", errPathUnavailable
		}
		return codec.Nip04Encrypt(ctx, peerPubHex, plaintext)
	}
}

// runDecryption dispatches one decrypt attempt over one access path.
func runDecryption(ctx context.Context, signer Signer, algo Algo, direct bool, peerPubHex, ciphertext string) (string, error) {
	if direct {
		ka, ok := signer.(KeyAccess)
		if !ok {
			return "", errPathUnavailable
		}
		local, err := NewLocalSigner(ka.PrivateKey())
		if err != nil {
			return "", err
		}
		if algo == AlgoNip44 {
			return local.Nip44Decrypt(ctx, peerPubHex, ciphertext)
		}
		return local.Nip04Decrypt(ctx, peerPubHex, ciphertext)
	}

	switch algo {
	case AlgoNip44:
		codec, ok := signer.(Nip44Codec)
		if !ok {
			return "", errPathUnavailable
		}
		return codec.Nip44Decrypt(ctx, peerPubHex, ciphertext)
	default:
		codec, ok := signer.(Nip04Codec)
		if !ok {
			return "", errPathUnavailable
		}
		return codec.Nip04Decrypt(ctx, peerPubHex, ciphertext)
	}
}
