// Package store provides persistence for Conclave's core data.
//
// It contains concrete implementations of the domain storage interfaces in
// two backends: FileStore serialises JSON files under the configured home
// directory, SQLiteStore keeps the same records in a single database file.
// Both seal everything secret inside a passphrase-derived envelope (scrypt
// key derivation, ChaCha20-Poly1305, lz4 compression), so neither backend
// ever writes key material to disk in the clear.
//
// Each backend covers:
//   - the namespace identity (domain.IdentityStore)
//   - minted key-package private halves and used-package marks
//     (domain.KeyPackageStore)
//   - group snapshots keyed by group id (domain.SnapshotStore)
package store
