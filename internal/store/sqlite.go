package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"conclave/internal/domain"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS identity (
	id   INTEGER PRIMARY KEY CHECK (id = 1),
	blob BLOB NOT NULL
);
CREATE TABLE IF NOT EXISTS key_packages (
	hash        TEXT PRIMARY KEY,
	blob        BLOB NOT NULL,
	created_utc INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS used_packages (
	hash       TEXT PRIMARY KEY,
	marked_utc INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS snapshots (
	group_id  TEXT PRIMARY KEY,
	epoch     INTEGER NOT NULL,
	saved_utc INTEGER NOT NULL,
	blob      BLOB NOT NULL
);`

// SQLiteStore keeps the same records as FileStore in a single database
// file. Record payloads are sealed with the passphrase envelope before they
// reach the database, so the file is as opaque as the JSON layout.
type SQLiteStore struct {
	db         *sql.DB
	passphrase string
}

// OpenSQLiteStore opens or creates the database at path and ensures the
// schema exists.
func OpenSQLiteStore(path, passphrase string) (*SQLiteStore, error) {
	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &SQLiteStore{db: db, passphrase: passphrase}, nil
}

// Close closes the database handle.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// SaveIdentity writes the encrypted identity, replacing any previous row.
func (s *SQLiteStore) SaveIdentity(ctx context.Context, id domain.Identity) error {
	raw, err := json.Marshal(id)
	if err != nil {
		return err
	}
	blob, err := encrypt(s.passphrase, raw)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO identity (id, blob) VALUES (1, ?)
		 ON CONFLICT (id) DO UPDATE SET blob = excluded.blob`, blob)
	return err
}

// LoadIdentity reads and decrypts the identity; ok is false when none has
// been created yet.
func (s *SQLiteStore) LoadIdentity(ctx context.Context) (domain.Identity, bool, error) {
	var blob []byte
	err := s.db.QueryRowContext(ctx, `SELECT blob FROM identity WHERE id = 1`).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Identity{}, false, nil
	}
	if err != nil {
		return domain.Identity{}, false, err
	}
	raw, err := decrypt(s.passphrase, blob)
	if err != nil {
		return domain.Identity{}, false, err
	}
	var id domain.Identity
	if err := json.Unmarshal(raw, &id); err != nil {
		return domain.Identity{}, false, err
	}
	return id, true, nil
}

// SaveKeyPackage stores the private half of a freshly minted key package.
func (s *SQLiteStore) SaveKeyPackage(ctx context.Context, rec domain.KeyPackagePrivate) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	blob, err := encrypt(s.passphrase, raw)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO key_packages (hash, blob, created_utc) VALUES (?, ?, ?)
		 ON CONFLICT (hash) DO UPDATE SET blob = excluded.blob`,
		hashKey(rec.Hash), blob, rec.CreatedUTC)
	return err
}

// ConsumeKeyPackage removes and returns the private half for hash inside
// one transaction, so a package can never be consumed twice.
func (s *SQLiteStore) ConsumeKeyPackage(ctx context.Context, hash [32]byte) (domain.KeyPackagePrivate, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.KeyPackagePrivate{}, false, err
	}
	defer func() { _ = tx.Rollback() }()

	var blob []byte
	err = tx.QueryRowContext(ctx, `SELECT blob FROM key_packages WHERE hash = ?`, hashKey(hash)).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.KeyPackagePrivate{}, false, nil
	}
	if err != nil {
		return domain.KeyPackagePrivate{}, false, err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM key_packages WHERE hash = ?`, hashKey(hash)); err != nil {
		return domain.KeyPackagePrivate{}, false, err
	}
	if err := tx.Commit(); err != nil {
		return domain.KeyPackagePrivate{}, false, err
	}

	raw, err := decrypt(s.passphrase, blob)
	if err != nil {
		return domain.KeyPackagePrivate{}, false, err
	}
	var rec domain.KeyPackagePrivate
	if err := json.Unmarshal(raw, &rec); err != nil {
		return domain.KeyPackagePrivate{}, false, err
	}
	return rec, true, nil
}

// MarkKeyPackageUsed records that an add was committed on the package.
func (s *SQLiteStore) MarkKeyPackageUsed(ctx context.Context, hash [32]byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO used_packages (hash, marked_utc) VALUES (?, ?)
		 ON CONFLICT (hash) DO NOTHING`,
		hashKey(hash), time.Now().Unix())
	return err
}

// KeyPackageUsed reports whether the package was already committed here.
func (s *SQLiteStore) KeyPackageUsed(ctx context.Context, hash [32]byte) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM used_packages WHERE hash = ?`, hashKey(hash)).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// SaveSnapshot writes the sealed snapshot for its group, replacing any
// previous one.
func (s *SQLiteStore) SaveSnapshot(ctx context.Context, snap domain.GroupSnapshot) error {
	raw, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	blob, err := encrypt(s.passphrase, raw)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO snapshots (group_id, epoch, saved_utc, blob) VALUES (?, ?, ?, ?)
		 ON CONFLICT (group_id) DO UPDATE SET
		   epoch = excluded.epoch, saved_utc = excluded.saved_utc, blob = excluded.blob`,
		snap.GroupID.String(), int64(snap.Epoch), snap.SavedUTC, blob)
	return err
}

// LoadSnapshot reads one group's snapshot; ok is false when none exists.
func (s *SQLiteStore) LoadSnapshot(ctx context.Context, id domain.GroupID) (domain.GroupSnapshot, bool, error) {
	var blob []byte
	err := s.db.QueryRowContext(ctx, `SELECT blob FROM snapshots WHERE group_id = ?`, id.String()).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.GroupSnapshot{}, false, nil
	}
	if err != nil {
		return domain.GroupSnapshot{}, false, err
	}
	return s.decodeSnapshot(blob)
}

// ListSnapshots loads every stored snapshot, in group-id order.
func (s *SQLiteStore) ListSnapshots(ctx context.Context) ([]domain.GroupSnapshot, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT blob FROM snapshots ORDER BY group_id`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []domain.GroupSnapshot
	for rows.Next() {
		var blob []byte
		if err := rows.Scan(&blob); err != nil {
			return nil, err
		}
		snap, ok, err := s.decodeSnapshot(blob)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, snap)
		}
	}
	return out, rows.Err()
}

func (s *SQLiteStore) decodeSnapshot(blob []byte) (domain.GroupSnapshot, bool, error) {
	raw, err := decrypt(s.passphrase, blob)
	if err != nil {
		return domain.GroupSnapshot{}, false, err
	}
	var snap domain.GroupSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return domain.GroupSnapshot{}, false, err
	}
	return snap, true, nil
}

// Compile-time assertions that SQLiteStore implements the storage
// interfaces.
var (
	_ domain.IdentityStore   = (*SQLiteStore)(nil)
	_ domain.KeyPackageStore = (*SQLiteStore)(nil)
	_ domain.SnapshotStore   = (*SQLiteStore)(nil)
)
