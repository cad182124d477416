package main

import "errors"

// Sentinel errors shared across the wallet subsystem. Callers match them with
// errors.Is; user-facing layers map them to the three message families:
// "your input was invalid", "the network/service failed", and "you must
// approve an external prompt".
var (
	// ErrParse means a connection URI was malformed. Recoverable: the user
	// re-enters the URI.
	ErrParse = errors.New("malformed connection URI")

	// ErrConnectTimeout / ErrConnectRejected are transport-level connect
	// failures. Retried by caller policy, never looped internally.
	ErrConnectTimeout  = errors.New("connection timed out")
	ErrConnectRejected = errors.New("connection rejected")

	// ErrNotConnected means an operation requires a live connection.
	ErrNotConnected = errors.New("not connected")

	// ErrAlreadyConnected means a second node-wallet connect was attempted
	// while one is active. Explicit error, never an implicit replace.
	ErrAlreadyConnected = errors.New("node wallet already connected")

	// ErrNoCapability means the active signer supports no usable encryption
	// algorithm. Fatal to the current operation.
	ErrNoCapability = errors.New("signer has no encryption capability")

	// ErrSignerRejected means the signer declined (user denied a prompt).
	ErrSignerRejected = errors.New("signer rejected the request")

	// ErrDecryptTimeout means the signer never answered a decrypt request,
	// typically an unapproved extension prompt. Distinct from
	// ErrSignerRejected so the UI can say "please approve the prompt"
	// instead of "wrong password".
	ErrDecryptTimeout = errors.New("decrypt timed out waiting for signer")

	// ErrAlgoMismatch means decryption failed under every available
	// algorithm and signer path.
	ErrAlgoMismatch = errors.New("ciphertext does not match any supported algorithm")

	// ErrWrongOwner means a backup belongs to a different identity.
	// Hard fail, never coerced.
	ErrWrongOwner = errors.New("backup belongs to a different identity")

	// ErrWalletLimitExceeded means adding the record would violate the
	// one-per-kind / two-total policy. Rejected before mutation.
	ErrWalletLimitExceeded = errors.New("wallet limit exceeded")

	// ErrPublishTimeout means no relay acknowledged a publish. Unknown
	// outcome, not failure: verify before retrying to avoid duplicate
	// financial actions.
	ErrPublishTimeout = errors.New("publish not acknowledged")

	// ErrNoWalletResponse means the relay acked a request event but the
	// wallet service never answered. Outcome unknown: the wallet may have
	// processed the request without responding. Never auto-retried.
	ErrNoWalletResponse = errors.New("wallet accepted request but sent no response")

	// ErrStaleGeneration means an in-flight operation completed after a
	// reconnect or wallet switch invalidated its connection generation.
	// The result was discarded, not applied.
	ErrStaleGeneration = errors.New("operation outlived its connection")

	// ErrSyncFailure is soft: logged, does not block display of cached data.
	ErrSyncFailure = errors.New("wallet sync failed")

	// ErrBackupRequired gates node-wallet deletion: the caller must offer a
	// fresh backup first, because the record is the only copy of the seed.
	ErrBackupRequired = errors.New("backup acknowledgement required before deletion")
)
