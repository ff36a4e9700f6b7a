package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"conclave/internal/crypto"
	"conclave/internal/domain"
	"conclave/internal/protocol/handshake"
)

// CreateIdentity generates the namespace identity and mints its first key
// package.
//
// Steps:
//  1. Refuse if an identity is already cached or stored.
//  2. Generate the Ed25519 signing pair.
//  3. Persist the identity, then cache it.
//  4. Mint and return the first key package.
func (e *Engine) CreateIdentity(ctx context.Context, name string) ([]byte, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("display name required")
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.identity != nil {
		return nil, domain.ErrIdentityExists
	}
	if _, ok, err := e.ids.LoadIdentity(ctx); err != nil {
		return nil, fmt.Errorf("%w: load identity: %v", domain.ErrPersistenceFailure, err)
	} else if ok {
		return nil, domain.ErrIdentityExists
	}

	priv, pub, err := crypto.GenerateEd25519()
	if err != nil {
		return nil, fmt.Errorf("%w: identity keys: %v", domain.ErrCryptoFailure, err)
	}
	id := domain.Identity{Name: name, EdPub: pub, EdPriv: priv}
	if err := e.ids.SaveIdentity(ctx, id); err != nil {
		return nil, fmt.Errorf("%w: save identity: %v", domain.ErrPersistenceFailure, err)
	}
	e.identity = &id

	raw, err := e.mintKeyPackage(ctx, id)
	if err != nil {
		return nil, err
	}
	e.log.Info().
		Str("name", name).
		Str("fingerprint", crypto.Fingerprint(id.EdPub.Slice())).
		Msg("identity created")
	return raw, nil
}

// NewKeyPackage mints a fresh single-use key package for the identity.
func (e *Engine) NewKeyPackage(ctx context.Context) ([]byte, error) {
	id, err := e.ident()
	if err != nil {
		return nil, err
	}
	return e.mintKeyPackage(ctx, id)
}

func (e *Engine) mintKeyPackage(ctx context.Context, id domain.Identity) ([]byte, error) {
	_, priv, raw, err := handshake.NewKeyPackage(id, time.Now())
	if err != nil {
		return nil, err
	}
	if err := e.kps.SaveKeyPackage(ctx, priv); err != nil {
		return nil, fmt.Errorf("%w: save key package: %v", domain.ErrPersistenceFailure, err)
	}
	e.log.Debug().Hex("package", priv.PackageID[:]).Msg("key package minted")
	return raw, nil
}
