// Package memzero provides best-effort zeroization of secret material.
// Chain keys, message keys, and private keys pass through here the moment
// they are consumed.
package memzero

import "crypto/subtle"

// Zero overwrites b with zeros in a constant-time friendly way.
func Zero(b []byte) {
	if len(b) == 0 {
		return
	}
	zero := make([]byte, len(b))
	subtle.ConstantTimeCopy(1, b, zero)
}

// Bytes32 zeroes a fixed 32-byte secret in place. The caller converts its
// named key type with a pointer conversion, avoiding a copy of the secret.
func Bytes32(b *[32]byte) { Zero(b[:]) }

// Bytes64 zeroes a fixed 64-byte secret in place.
func Bytes64(b *[64]byte) { Zero(b[:]) }

// Map zeroes every value of a byte-slice map and clears the map.
func Map[K comparable](m map[K][]byte) {
	for k, v := range m {
		Zero(v)
		delete(m, k)
	}
}
