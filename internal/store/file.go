package store

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"conclave/internal/domain"
)

const (
	identityFile    = "identity.enc"
	keyPackagesFile = "keypackages.enc"
	snapshotDir     = "groups"
	snapshotExt     = ".snap"
)

// keyPackageRecords is the sealed content of keypackages.enc: private
// halves pending consumption, plus hashes of foreign packages this member
// has already committed.
type keyPackageRecords struct {
	Pending map[string]domain.KeyPackagePrivate `json:"pending"`
	Used    map[string]int64                    `json:"used"`
}

// FileStore persists all Conclave state as sealed JSON files under one
// directory, one snapshot file per group.
type FileStore struct {
	dir        string
	passphrase string
	mu         sync.Mutex
}

// NewFileStore returns a FileStore rooted at dir, creating the directory
// layout if needed.
func NewFileStore(dir, passphrase string) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Join(dir, snapshotDir), 0o700); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}
	return &FileStore{dir: dir, passphrase: passphrase}, nil
}

// Close is a no-op; FileStore holds no long-lived handles.
func (s *FileStore) Close() error { return nil }

// SaveIdentity writes the encrypted identity to disk.
func (s *FileStore) SaveIdentity(_ context.Context, id domain.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := json.Marshal(id)
	if err != nil {
		return err
	}
	blob, err := encrypt(s.passphrase, raw)
	if err != nil {
		return err
	}
	return writeFile(filepath.Join(s.dir, identityFile), blob, 0o600)
}

// LoadIdentity reads and decrypts the identity; ok is false when none has
// been created yet.
func (s *FileStore) LoadIdentity(_ context.Context) (domain.Identity, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := readFile(filepath.Join(s.dir, identityFile))
	if err != nil || b == nil {
		return domain.Identity{}, false, err
	}
	raw, err := decrypt(s.passphrase, b)
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
func (s *FileStore) SaveKeyPackage(_ context.Context, rec domain.KeyPackagePrivate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	recs, err := s.loadKeyPackages()
	if err != nil {
		return err
	}
	recs.Pending[hashKey(rec.Hash)] = rec
	return s.saveKeyPackages(recs)
}

// ConsumeKeyPackage removes and returns the private half for hash. The
// second consume of the same hash reports ok=false.
func (s *FileStore) ConsumeKeyPackage(_ context.Context, hash [32]byte) (domain.KeyPackagePrivate, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	recs, err := s.loadKeyPackages()
	if err != nil {
		return domain.KeyPackagePrivate{}, false, err
	}
	rec, ok := recs.Pending[hashKey(hash)]
	if !ok {
		return domain.KeyPackagePrivate{}, false, nil
	}
	delete(recs.Pending, hashKey(hash))
	if err := s.saveKeyPackages(recs); err != nil {
		return domain.KeyPackagePrivate{}, false, err
	}
	return rec, true, nil
}

// MarkKeyPackageUsed records that an add was committed on the package.
func (s *FileStore) MarkKeyPackageUsed(_ context.Context, hash [32]byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	recs, err := s.loadKeyPackages()
	if err != nil {
		return err
	}
	recs.Used[hashKey(hash)] = time.Now().Unix()
	return s.saveKeyPackages(recs)
}

// KeyPackageUsed reports whether the package was already committed here.
func (s *FileStore) KeyPackageUsed(_ context.Context, hash [32]byte) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	recs, err := s.loadKeyPackages()
	if err != nil {
		return false, err
	}
	_, ok := recs.Used[hashKey(hash)]
	return ok, nil
}

// SaveSnapshot writes the sealed snapshot for its group, replacing any
// previous one.
func (s *FileStore) SaveSnapshot(_ context.Context, snap domain.GroupSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	blob, err := encrypt(s.passphrase, raw)
	if err != nil {
		return err
	}
	return writeFile(s.snapshotPath(snap.GroupID), blob, 0o600)
}

// LoadSnapshot reads one group's snapshot; ok is false when none exists.
func (s *FileStore) LoadSnapshot(_ context.Context, id domain.GroupID) (domain.GroupSnapshot, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.loadSnapshotFile(s.snapshotPath(id))
}

// ListSnapshots loads every stored snapshot, in group-id order.
func (s *FileStore) ListSnapshots(_ context.Context) ([]domain.GroupSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(filepath.Join(s.dir, snapshotDir))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var out []domain.GroupSnapshot
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), snapshotExt) {
			continue
		}
		snap, ok, err := s.loadSnapshotFile(filepath.Join(s.dir, snapshotDir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("snapshot %s: %w", e.Name(), err)
		}
		if ok {
			out = append(out, snap)
		}
	}
	return out, nil
}

func (s *FileStore) snapshotPath(id domain.GroupID) string {
	return filepath.Join(s.dir, snapshotDir, id.String()+snapshotExt)
}

func (s *FileStore) loadSnapshotFile(path string) (domain.GroupSnapshot, bool, error) {
	b, err := readFile(path)
	if err != nil || b == nil {
		return domain.GroupSnapshot{}, false, err
	}
	raw, err := decrypt(s.passphrase, b)
	if err != nil {
		return domain.GroupSnapshot{}, false, err
	}
	var snap domain.GroupSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return domain.GroupSnapshot{}, false, err
	}
	return snap, true, nil
}

func (s *FileStore) loadKeyPackages() (keyPackageRecords, error) {
	recs := keyPackageRecords{
		Pending: map[string]domain.KeyPackagePrivate{},
		Used:    map[string]int64{},
	}
	b, err := readFile(filepath.Join(s.dir, keyPackagesFile))
	if err != nil || b == nil {
		return recs, err
	}
	raw, err := decrypt(s.passphrase, b)
	if err != nil {
		return recs, err
	}
	if err := json.Unmarshal(raw, &recs); err != nil {
		return recs, err
	}
	if recs.Pending == nil {
		recs.Pending = map[string]domain.KeyPackagePrivate{}
	}
	if recs.Used == nil {
		recs.Used = map[string]int64{}
	}
	return recs, nil
}

func (s *FileStore) saveKeyPackages(recs keyPackageRecords) error {
	raw, err := json.Marshal(recs)
	if err != nil {
		return err
	}
	blob, err := encrypt(s.passphrase, raw)
	if err != nil {
		return err
	}
	return writeFile(filepath.Join(s.dir, keyPackagesFile), blob, 0o600)
}

func hashKey(hash [32]byte) string { return hex.EncodeToString(hash[:]) }

// readFile reads the file at path; a missing file is not an error.
func readFile(path string) ([]byte, error) {
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return b, nil
}

// writeFile writes bytes via a temp file, then atomically replaces the
// target.
func writeFile(path string, b []byte, mode os.FileMode) error {
	dir := filepath.Dir(path)
	base := filepath.Base(path)

	f, err := os.CreateTemp(dir, base+".tmp-*")
	if err != nil {
		return err
	}
	tmp := f.Name()

	// Best-effort cleanup if anything fails before rename.
	defer func() { _ = os.Remove(tmp) }()

	if _, err := f.Write(b); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Chmod(mode); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}

	return os.Rename(tmp, path)
}

// Compile-time assertions that FileStore implements the storage interfaces.
var (
	_ domain.IdentityStore   = (*FileStore)(nil)
	_ domain.KeyPackageStore = (*FileStore)(nil)
	_ domain.SnapshotStore   = (*FileStore)(nil)
)
