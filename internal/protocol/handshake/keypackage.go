package handshake

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"conclave/internal/crypto"
	"conclave/internal/domain"
	"conclave/internal/protocol/wire"
)

const (
	// keyPackageLifetime bounds how long a minted package stays addable.
	keyPackageLifetime = 30 * 24 * time.Hour

	// clockSkew backdates NotBefore so a freshly minted package is valid on
	// peers with slightly lagging clocks.
	clockSkew = 5 * time.Minute
)

// NewKeyPackage mints a single-use key package for id: a fresh init key
// pair, a random package identifier, and a signature binding them to the
// identity. It returns the public package, the private half to retain for
// the eventual welcome, and the canonical wire bytes to publish.
func NewKeyPackage(id domain.Identity, now time.Time) (domain.KeyPackage, domain.KeyPackagePrivate, []byte, error) {
	initPriv, initPub, err := crypto.GenerateX25519()
	if err != nil {
		return domain.KeyPackage{}, domain.KeyPackagePrivate{}, nil, fmt.Errorf("init key: %w", err)
	}
	pkgID, err := uuid.NewRandom()
	if err != nil {
		return domain.KeyPackage{}, domain.KeyPackagePrivate{}, nil, fmt.Errorf("package id: %w", err)
	}

	kp := domain.KeyPackage{
		Version:      domain.WireVersion,
		Suite:        domain.SuiteX25519ChaChaSHA256Ed25519,
		PackageID:    pkgID,
		InitKey:      initPub,
		SignatureKey: id.EdPub,
		Credential:   id.Credential(),
		NotBefore:    now.Add(-clockSkew).Unix(),
		NotAfter:     now.Add(keyPackageLifetime).Unix(),
	}
	kp.Signature = crypto.SignEd25519(id.EdPriv, wire.KeyPackageTBS(kp))

	raw := wire.EncodeKeyPackage(kp)
	priv := domain.KeyPackagePrivate{
		Hash:       wire.KeyPackageHash(raw),
		PackageID:  kp.PackageID,
		InitPriv:   initPriv,
		CreatedUTC: now.Unix(),
	}
	return kp, priv, raw, nil
}

// ValidateKeyPackage fully vets a presented package: structure, signature,
// and validity window. Adders run this before committing an add.
func ValidateKeyPackage(kp domain.KeyPackage, now time.Time) error {
	if err := validateKeyPackageStatic(kp); err != nil {
		return err
	}
	ts := now.Unix()
	if ts < kp.NotBefore {
		return fmt.Errorf("%w: not valid until %d", domain.ErrInvalidKeyPackage, kp.NotBefore)
	}
	if kp.NotAfter > 0 && ts > kp.NotAfter {
		return fmt.Errorf("%w: expired at %d", domain.ErrInvalidKeyPackage, kp.NotAfter)
	}
	return nil
}

// validateKeyPackageStatic checks everything except the validity window.
// Commit receivers stop here: a commit must verify identically no matter
// when it is applied, or members would diverge on delayed delivery.
func validateKeyPackageStatic(kp domain.KeyPackage) error {
	if kp.Version != domain.WireVersion {
		return fmt.Errorf("%w: version %d", domain.ErrInvalidKeyPackage, kp.Version)
	}
	if kp.Suite != domain.SuiteX25519ChaChaSHA256Ed25519 {
		return fmt.Errorf("%w: unsupported suite %#04x", domain.ErrInvalidKeyPackage, kp.Suite)
	}
	if kp.InitKey.IsZero() {
		return fmt.Errorf("%w: zero init key", domain.ErrInvalidKeyPackage)
	}
	if !crypto.VerifyEd25519(kp.SignatureKey, wire.KeyPackageTBS(kp), kp.Signature) {
		return fmt.Errorf("%w: bad signature", domain.ErrInvalidKeyPackage)
	}
	return nil
}
