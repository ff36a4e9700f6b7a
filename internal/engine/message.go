package engine

import (
	"context"
	"errors"
	"fmt"

	"conclave/internal/domain"
	"conclave/internal/protocol/wire"
	"conclave/internal/registry"
)

// Encrypt seals plaintext to the group at its current epoch. The send
// chain's advance is checkpointed before the ciphertext is released.
func (e *Engine) Encrypt(ctx context.Context, gid domain.GroupID, plaintext []byte) ([]byte, error) {
	var sealed []byte
	err := e.reg.Update(ctx, gid, func(cur *registry.Session) (*registry.Session, error) {
		ch := cur.Chains.Clone()
		m, err := ch.Seal(gid, plaintext)
		if err != nil {
			return nil, err
		}
		sealed = wire.EncodeMessage(m)
		return &registry.Session{State: cur.State, Chains: ch}, nil
	})
	if err != nil {
		return nil, err
	}
	e.col.MessageSealed()
	return sealed, nil
}

// Decrypt opens a ciphertext produced by another member. The consumed
// generation is checkpointed before the plaintext is released, so a crash
// and restore cannot resurrect its key. A persistence failure therefore
// withholds the plaintext; the chain state rolls back and the caller may
// retry the same ciphertext.
func (e *Engine) Decrypt(ctx context.Context, gid domain.GroupID, ciphertext []byte) ([]byte, error) {
	m, err := wire.DecodeMessage(ciphertext)
	if err != nil {
		e.col.DecryptFailure("crypto")
		return nil, fmt.Errorf("%w: decode: %v", domain.ErrCryptoFailure, err)
	}

	var plaintext []byte
	err = e.reg.Update(ctx, gid, func(cur *registry.Session) (*registry.Session, error) {
		ch := cur.Chains.Clone()
		pt, err := ch.Open(gid, m)
		if err != nil {
			return nil, err
		}
		plaintext = pt
		return &registry.Session{State: cur.State, Chains: ch}, nil
	})
	if err != nil {
		e.col.DecryptFailure(failureKind(err))
		return nil, err
	}
	e.col.MessageOpened()
	return plaintext, nil
}

// failureKind buckets a decrypt error for the failure counter.
func failureKind(err error) string {
	switch {
	case errors.Is(err, domain.ErrEpochMismatch):
		return "epoch_mismatch"
	case errors.Is(err, domain.ErrReplayOrOutOfWindow):
		return "replay_or_window"
	case errors.Is(err, domain.ErrNotFound):
		return "unknown_group"
	case errors.Is(err, domain.ErrPersistenceFailure):
		return "persistence"
	default:
		return "crypto"
	}
}
