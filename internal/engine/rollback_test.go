package engine_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"conclave/internal/domain"
	"conclave/internal/engine"
	"conclave/internal/metrics"
	"conclave/internal/protocol/msgchain"
	"conclave/internal/registry"
)

// memStore backs an engine entirely in memory and can be told to fail
// snapshot writes, for exercising the rollback paths.
type memStore struct {
	mu        sync.Mutex
	identity  *domain.Identity
	pending   map[[32]byte]domain.KeyPackagePrivate
	used      map[[32]byte]bool
	snaps     map[domain.GroupID][]byte
	failSnaps bool
}

func newMemStore() *memStore {
	return &memStore{
		pending: make(map[[32]byte]domain.KeyPackagePrivate),
		used:    make(map[[32]byte]bool),
		snaps:   make(map[domain.GroupID][]byte),
	}
}

func (s *memStore) setFailSnapshots(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failSnaps = fail
}

func (s *memStore) pendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

func (s *memStore) SaveIdentity(_ context.Context, id domain.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.identity = &id
	return nil
}

func (s *memStore) LoadIdentity(context.Context) (domain.Identity, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.identity == nil {
		return domain.Identity{}, false, nil
	}
	return *s.identity, true, nil
}

func (s *memStore) SaveKeyPackage(_ context.Context, rec domain.KeyPackagePrivate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[rec.Hash] = rec
	return nil
}

func (s *memStore) ConsumeKeyPackage(_ context.Context, hash [32]byte) (domain.KeyPackagePrivate, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.pending[hash]
	if ok {
		delete(s.pending, hash)
	}
	return rec, ok, nil
}

func (s *memStore) MarkKeyPackageUsed(_ context.Context, hash [32]byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.used[hash] = true
	return nil
}

func (s *memStore) KeyPackageUsed(_ context.Context, hash [32]byte) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.used[hash], nil
}

// Snapshots pass through JSON so the store's copy is immune to the wiping
// the registry performs on saved secrets.
func (s *memStore) SaveSnapshot(_ context.Context, snap domain.GroupSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failSnaps {
		return errors.New("disk full")
	}
	b, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	s.snaps[snap.GroupID] = b
	return nil
}

func (s *memStore) LoadSnapshot(_ context.Context, id domain.GroupID) (domain.GroupSnapshot, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.snaps[id]
	if !ok {
		return domain.GroupSnapshot{}, false, nil
	}
	var snap domain.GroupSnapshot
	if err := json.Unmarshal(b, &snap); err != nil {
		return domain.GroupSnapshot{}, false, err
	}
	return snap, true, nil
}

func (s *memStore) ListSnapshots(context.Context) ([]domain.GroupSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.GroupSnapshot, 0, len(s.snaps))
	for _, b := range s.snaps {
		var snap domain.GroupSnapshot
		if err := json.Unmarshal(b, &snap); err != nil {
			return nil, err
		}
		out = append(out, snap)
	}
	return out, nil
}

var (
	_ domain.IdentityStore   = (*memStore)(nil)
	_ domain.KeyPackageStore = (*memStore)(nil)
	_ domain.SnapshotStore   = (*memStore)(nil)
)

func memEngine(t *testing.T, st *memStore) *engine.Engine {
	t.Helper()
	reg := registry.NewRegistry(zerolog.Nop(), st, metrics.NewNoopCollector(), msgchain.Config{})
	eng := engine.New(zerolog.Nop(), metrics.NewNoopCollector(), st, st, reg)
	require.NoError(t, eng.Open(context.Background()))
	return eng
}

// memParties wires an alice/bob pair over memStores with bob joined to
// alice's group.
func memParties(t *testing.T) (alice, bob *engine.Engine, bobStore *memStore, gid domain.GroupID) {
	t.Helper()
	ctx := context.Background()

	aliceStore := newMemStore()
	bobStore = newMemStore()
	alice = memEngine(t, aliceStore)
	bob = memEngine(t, bobStore)

	_, err := alice.CreateIdentity(ctx, "alice")
	require.NoError(t, err)
	bobKP, err := bob.CreateIdentity(ctx, "bob")
	require.NoError(t, err)

	gid, err = alice.CreateGroup(ctx, "fragile")
	require.NoError(t, err)
	bundle, err := alice.AddMember(ctx, gid, bobKP)
	require.NoError(t, err)
	_, err = bob.ProcessWelcome(ctx, bundle.Welcome)
	require.NoError(t, err)
	return alice, bob, bobStore, gid
}

func TestDecryptWithheldWhenCheckpointFails(t *testing.T) {
	ctx := context.Background()
	alice, bob, bobStore, gid := memParties(t)

	sealed, err := alice.Encrypt(ctx, gid, []byte("retry me"))
	require.NoError(t, err)

	bobStore.setFailSnapshots(true)
	_, err = bob.Decrypt(ctx, gid, sealed)
	require.ErrorIs(t, err, domain.ErrPersistenceFailure)

	// The generation was not consumed, so the same ciphertext opens once
	// storage recovers.
	bobStore.setFailSnapshots(false)
	pt, err := bob.Decrypt(ctx, gid, sealed)
	require.NoError(t, err)
	require.Equal(t, []byte("retry me"), pt)
}

func TestCommitRolledBackWhenCheckpointFails(t *testing.T) {
	ctx := context.Background()

	aliceStore := newMemStore()
	alice := memEngine(t, aliceStore)
	_, err := alice.CreateIdentity(ctx, "alice")
	require.NoError(t, err)
	gid, err := alice.CreateGroup(ctx, "steady")
	require.NoError(t, err)

	aliceStore.setFailSnapshots(true)
	_, err = alice.UpdateKey(ctx, gid)
	require.ErrorIs(t, err, domain.ErrPersistenceFailure)

	info, err := alice.GroupInfo(ctx, gid)
	require.NoError(t, err)
	require.Equal(t, domain.Epoch(0), info.Epoch)

	aliceStore.setFailSnapshots(false)
	_, err = alice.UpdateKey(ctx, gid)
	require.NoError(t, err)
	info, err = alice.GroupInfo(ctx, gid)
	require.NoError(t, err)
	require.Equal(t, domain.Epoch(1), info.Epoch)
}

func TestCreateGroupRolledBackWhenCheckpointFails(t *testing.T) {
	ctx := context.Background()

	st := newMemStore()
	eng := memEngine(t, st)
	_, err := eng.CreateIdentity(ctx, "alice")
	require.NoError(t, err)

	st.setFailSnapshots(true)
	_, err = eng.CreateGroup(ctx, "doomed")
	require.ErrorIs(t, err, domain.ErrPersistenceFailure)
	require.Empty(t, eng.ListActiveGroups())

	st.setFailSnapshots(false)
	_, err = eng.CreateGroup(ctx, "doomed")
	require.NoError(t, err)
	require.Len(t, eng.ListActiveGroups(), 1)
}

func TestWelcomeRestoresPackageWhenJoinFails(t *testing.T) {
	ctx := context.Background()

	aliceStore := newMemStore()
	bobStore := newMemStore()
	alice := memEngine(t, aliceStore)
	bob := memEngine(t, bobStore)

	_, err := alice.CreateIdentity(ctx, "alice")
	require.NoError(t, err)
	bobKP, err := bob.CreateIdentity(ctx, "bob")
	require.NoError(t, err)
	require.Equal(t, 1, bobStore.pendingCount())

	gid, err := alice.CreateGroup(ctx, "gated")
	require.NoError(t, err)
	bundle, err := alice.AddMember(ctx, gid, bobKP)
	require.NoError(t, err)

	// Registration fails after the package was consumed; the package must
	// come back so the welcome can be retried.
	bobStore.setFailSnapshots(true)
	_, err = bob.ProcessWelcome(ctx, bundle.Welcome)
	require.ErrorIs(t, err, domain.ErrPersistenceFailure)
	require.Equal(t, 1, bobStore.pendingCount())
	require.Empty(t, bob.ListActiveGroups())

	bobStore.setFailSnapshots(false)
	joined, err := bob.ProcessWelcome(ctx, bundle.Welcome)
	require.NoError(t, err)
	require.Equal(t, gid, joined)
	require.Zero(t, bobStore.pendingCount())
}
