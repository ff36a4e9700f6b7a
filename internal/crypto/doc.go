// Package crypto exposes the primitives of the engine's single cipher
// suite: X25519, ChaCha20-Poly1305, HKDF-SHA256, Ed25519.
//
// Contents
//
//   - X25519 key generation, clamping and Diffie-Hellman (GenerateX25519,
//     PublicOf, DH)
//   - Ed25519 key generation, signing and verification (GenerateEd25519,
//     SignEd25519, VerifyEd25519)
//   - Labeled HKDF derivations shared by the key schedule and the message
//     chains (ExpandWithLabel, Extract)
//   - Anonymous sealed boxes for delivering secrets to a public key
//     (SealTo, OpenFrom)
//   - ChaCha20-Poly1305 helpers with derived nonces (AEADSeal, AEADOpen)
//   - Short public-key fingerprints for display/logging (Fingerprint)
//
// # Notes
//
// All functions return fixed-size array types defined in internal/domain to
// avoid accidental reallocations. Callers should treat returned secrets as
// sensitive and rely on memzero when practical to reduce lifetime in memory.
package crypto
