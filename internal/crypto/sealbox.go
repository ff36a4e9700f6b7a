package crypto

import (
	"conclave/internal/domain"
	"conclave/internal/util/memzero"
)

// Sealed boxes deliver a secret to a recipient identified only by an X25519
// public key: commit secrets to surviving members, joiner secrets to a key
// package. The sender is anonymous at this layer; authenticity comes from
// the Ed25519 signature over the enclosing handshake message.

// SealTo encrypts payload to the recipient public key. It generates an
// ephemeral key pair, runs Diffie-Hellman against the recipient, and seals
// with a key bound to both public keys and the caller's associated data.
// The nonce is zero: the box key is fresh per call.
func SealTo(recipient domain.X25519Public, payload, ad []byte) (eph domain.X25519Public, box []byte, err error) {
	ephPriv, ephPub, err := GenerateX25519()
	if err != nil {
		return eph, nil, err
	}
	defer memzero.Bytes32((*[32]byte)(&ephPriv))

	shared, err := DH(ephPriv, recipient)
	if err != nil {
		return eph, nil, err
	}
	key := boxKey(shared, ephPub, recipient)
	memzero.Zero(shared[:])
	defer memzero.Zero(key)

	nonce := make([]byte, AEADNonceBytes)
	box, err = AEADSeal(key, nonce, payload, ad)
	if err != nil {
		return eph, nil, err
	}
	return ephPub, box, nil
}

// OpenFrom opens a box sealed to priv's public key with SealTo. The ad must
// match the sealer's exactly.
func OpenFrom(priv domain.X25519Private, eph domain.X25519Public, box, ad []byte) ([]byte, error) {
	recipient, err := PublicOf(priv)
	if err != nil {
		return nil, err
	}
	shared, err := DH(priv, eph)
	if err != nil {
		return nil, err
	}
	key := boxKey(shared, eph, recipient)
	memzero.Zero(shared[:])
	defer memzero.Zero(key)

	nonce := make([]byte, AEADNonceBytes)
	return AEADOpen(key, nonce, box, ad)
}

// boxKey binds the AEAD key to the shared secret and both public keys, so a
// box cannot be re-targeted to a different recipient or ephemeral.
func boxKey(shared [32]byte, eph, recipient domain.X25519Public) []byte {
	context := make([]byte, 0, 64)
	context = append(context, eph.Slice()...)
	context = append(context, recipient.Slice()...)
	return ExpandWithLabel(shared[:], "box", context, AEADKeyBytes)
}
