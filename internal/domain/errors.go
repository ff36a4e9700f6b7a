package domain

import "errors"

// Error taxonomy surfaced at the engine boundary. Every internal failure is
// wrapped onto exactly one of these sentinels so callers can distinguish
// "retry after resync" from "reject" from "transient I/O" with errors.Is.
var (
	// ErrCryptoFailure covers key generation, derivation, and signing
	// failures. Fatal to the operation; never retried automatically.
	ErrCryptoFailure = errors.New("crypto failure")

	// ErrInvalidKeyPackage is an authentication or format failure on a
	// presented key package, including re-presentation of a consumed one.
	ErrInvalidKeyPackage = errors.New("invalid key package")

	// ErrInvalidCommit is an authentication or format failure on a commit.
	ErrInvalidCommit = errors.New("invalid commit")

	// ErrInvalidWelcome is an authentication or format failure on a welcome,
	// including a welcome not addressed to any locally held key package.
	ErrInvalidWelcome = errors.New("invalid welcome")

	// ErrStaleEpoch marks a commit for an epoch this member has already
	// advanced past. Duplicate delivery is expected; callers treat it as a
	// benign no-op.
	ErrStaleEpoch = errors.New("stale epoch")

	// ErrEpochMismatch means local state is behind the message or commit
	// epoch; the member must obtain and apply the missed commits in order
	// before retrying.
	ErrEpochMismatch = errors.New("epoch mismatch")

	// ErrReplayOrOutOfWindow rejects a generation that was already consumed
	// or is implausibly far ahead of the chain head. Possible attack or
	// severe desync; never recoverable for that ciphertext.
	ErrReplayOrOutOfWindow = errors.New("replay or out of window")

	// ErrRemovedFromGroup reports that an otherwise valid commit removed
	// this member; the local group state is retired.
	ErrRemovedFromGroup = errors.New("removed from group")

	// ErrNotFound reports an unknown group identifier.
	ErrNotFound = errors.New("group not found")

	// ErrPersistenceFailure wraps storage I/O errors. The in-memory state is
	// rolled back before this surfaces, so memory never diverges from the
	// last durable snapshot.
	ErrPersistenceFailure = errors.New("persistence failure")

	// ErrIdentityExists enforces the single-identity-per-namespace
	// invariant at the facade.
	ErrIdentityExists = errors.New("identity already exists")

	// ErrNoIdentity is returned by operations that require an identity
	// before one was created.
	ErrNoIdentity = errors.New("no identity in storage namespace")
)
