package store

import "conclave/internal/domain"

// Store is the full persistence surface a backend provides.
type Store interface {
	domain.IdentityStore
	domain.KeyPackageStore
	domain.SnapshotStore

	Close() error
}

// Compile-time assertions that both backends satisfy Store.
var (
	_ Store = (*FileStore)(nil)
	_ Store = (*SQLiteStore)(nil)
)
