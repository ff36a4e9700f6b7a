package registry

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"conclave/internal/domain"
	"conclave/internal/metrics"
	"conclave/internal/protocol/msgchain"
	"conclave/internal/protocol/tree"
)

// checkpointWorkers bounds the checkpoint fan-out.
const checkpointWorkers = 4

// Session is one live group: the membership arena plus the message chains
// of its current epoch.
type Session struct {
	State  *tree.State
	Chains *msgchain.Chains
}

func (s *Session) snapshot() domain.GroupSnapshot {
	snap := s.State.Snapshot()
	s.Chains.FillSnapshot(snap.Secrets)
	snap.SavedUTC = time.Now().Unix()
	return snap
}

func (s *Session) wipe() {
	s.State.Wipe()
	s.Chains.Wipe()
}

// handle serializes all work on one group. sess is nil once the group has
// been archived.
type handle struct {
	mu   sync.Mutex
	sess *Session
}

// Registry tracks live sessions and persists them through a snapshot
// store.
type Registry struct {
	log   zerolog.Logger
	snaps domain.SnapshotStore
	col   metrics.Collector
	cfg   msgchain.Config

	mu     sync.RWMutex
	groups map[domain.GroupID]*handle
}

// NewRegistry returns an empty registry persisting through snaps. cfg
// provides the chain windows sessions are restored and built with.
func NewRegistry(log zerolog.Logger, snaps domain.SnapshotStore, col metrics.Collector, cfg msgchain.Config) *Registry {
	return &Registry{
		log:    log.With().Str("component", "registry").Logger(),
		snaps:  snaps,
		col:    col,
		cfg:    cfg,
		groups: make(map[domain.GroupID]*handle),
	}
}

// ChainConfig returns the chain windows sessions are built with.
func (r *Registry) ChainConfig() msgchain.Config { return r.cfg }

// RestoreAll loads every restorable snapshot into a live session.
// Public-only records are left alone. Any unreadable snapshot fails the
// whole restore; a silent partial restore would look like data loss.
func (r *Registry) RestoreAll(ctx context.Context) error {
	snaps, err := r.snaps.ListSnapshots(ctx)
	if err != nil {
		return fmt.Errorf("%w: list snapshots: %v", domain.ErrPersistenceFailure, err)
	}
	restored := 0
	for _, snap := range snaps {
		if !snap.Restorable() {
			continue
		}
		// A live session is never older than its snapshot, so a repeated
		// restore leaves it alone.
		if r.Has(snap.GroupID) {
			continue
		}
		st, err := tree.FromSnapshot(snap)
		if err != nil {
			return fmt.Errorf("%w: restore %s: %v", domain.ErrPersistenceFailure, snap.GroupID.Short(), err)
		}
		ch, err := msgchain.Restore(r.cfg, snap)
		if err != nil {
			st.Wipe()
			return fmt.Errorf("%w: restore %s: %v", domain.ErrPersistenceFailure, snap.GroupID.Short(), err)
		}
		r.mu.Lock()
		r.groups[snap.GroupID] = &handle{sess: &Session{State: st, Chains: ch}}
		r.mu.Unlock()
		restored++
	}
	if restored > 0 {
		r.log.Info().Int("groups", restored).Msg("sessions restored from snapshots")
	}
	return nil
}

// Has reports whether the group is live.
func (r *Registry) Has(id domain.GroupID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.groups[id]
	return ok
}

// Active returns the live group ids in stable order.
func (r *Registry) Active() []domain.GroupID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.GroupID, 0, len(r.groups))
	for id := range r.groups {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i][:], out[j][:]) < 0 })
	return out
}

// Insert persists and registers a brand-new session. On failure the
// session's secrets are wiped; the caller must not touch it again.
func (r *Registry) Insert(ctx context.Context, sess *Session) error {
	gid := sess.State.GroupID()

	r.mu.Lock()
	if _, exists := r.groups[gid]; exists {
		r.mu.Unlock()
		sess.wipe()
		return fmt.Errorf("group %s already live", gid.Short())
	}
	h := &handle{sess: sess}
	h.mu.Lock() // concurrent ops wait until the first persist lands
	r.groups[gid] = h
	r.mu.Unlock()
	defer h.mu.Unlock()

	if err := r.persist(ctx, sess); err != nil {
		r.mu.Lock()
		delete(r.groups, gid)
		r.mu.Unlock()
		h.sess = nil
		sess.wipe()
		return err
	}
	return nil
}

// Update runs fn under the group's lock. A returned successor session is
// persisted and swapped in, and whichever parts of the old session it
// replaced are wiped. A nil successor means the operation left the group
// unchanged.
func (r *Registry) Update(ctx context.Context, id domain.GroupID, fn func(cur *Session) (*Session, error)) error {
	h, ok := r.lookup(id)
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrNotFound, id.Short())
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.sess == nil {
		return fmt.Errorf("%w: %s", domain.ErrNotFound, id.Short())
	}

	next, err := fn(h.sess)
	if err != nil {
		return err
	}
	if next == nil {
		return nil
	}
	if err := r.persist(ctx, next); err != nil {
		if next.State != h.sess.State {
			next.State.Wipe()
		}
		if next.Chains != h.sess.Chains {
			next.Chains.Wipe()
		}
		return err
	}

	old := h.sess
	h.sess = next
	if old.State != next.State {
		old.State.Wipe()
	}
	if old.Chains != next.Chains {
		old.Chains.Wipe()
	}
	return nil
}

// View runs fn with the session under the group's lock, without
// persisting anything.
func (r *Registry) View(id domain.GroupID, fn func(cur *Session) error) error {
	h, ok := r.lookup(id)
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrNotFound, id.Short())
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.sess == nil {
		return fmt.Errorf("%w: %s", domain.ErrNotFound, id.Short())
	}
	return fn(h.sess)
}

// Archive forgets the live session and overwrites its stored snapshot
// with a public-only record built from snap's metadata.
func (r *Registry) Archive(ctx context.Context, snap domain.GroupSnapshot) error {
	r.mu.Lock()
	h, ok := r.groups[snap.GroupID]
	delete(r.groups, snap.GroupID)
	r.mu.Unlock()

	if ok {
		h.mu.Lock()
		if h.sess != nil {
			h.sess.wipe()
			h.sess = nil
		}
		h.mu.Unlock()
	}

	snap.Secrets = nil
	snap.SavedUTC = time.Now().Unix()
	if err := r.snaps.SaveSnapshot(ctx, snap); err != nil {
		return fmt.Errorf("%w: archive %s: %v", domain.ErrPersistenceFailure, snap.GroupID.Short(), err)
	}
	r.log.Info().Str("group", snap.GroupID.Short()).Msg("group archived")
	return nil
}

// Stored fetches the persisted snapshot for id, live or archived.
func (r *Registry) Stored(ctx context.Context, id domain.GroupID) (domain.GroupSnapshot, bool, error) {
	return r.snaps.LoadSnapshot(ctx, id)
}

// ListStored returns every persisted snapshot.
func (r *Registry) ListStored(ctx context.Context) ([]domain.GroupSnapshot, error) {
	return r.snaps.ListSnapshots(ctx)
}

// Checkpoint persists every live group on a bounded worker pool. All
// groups are attempted; the first error is returned once the pool drains.
func (r *Registry) Checkpoint(ctx context.Context) error {
	ids := r.Active()
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(checkpointWorkers)
	for _, id := range ids {
		g.Go(func() error {
			err := r.Update(gctx, id, func(cur *Session) (*Session, error) {
				return cur, nil
			})
			// Archived between listing and locking: nothing to save.
			if errors.Is(err, domain.ErrNotFound) {
				return nil
			}
			return err
		})
	}
	return g.Wait()
}

func (r *Registry) lookup(id domain.GroupID) (*handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.groups[id]
	return h, ok
}

func (r *Registry) persist(ctx context.Context, sess *Session) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrPersistenceFailure, err)
	}
	snap := sess.snapshot()
	start := time.Now()
	err := r.snaps.SaveSnapshot(ctx, snap)
	snap.Secrets.Wipe()
	if err != nil {
		return fmt.Errorf("%w: save %s: %v", domain.ErrPersistenceFailure, snap.GroupID.Short(), err)
	}
	r.col.SnapshotWritten(time.Since(start))
	r.log.Debug().
		Str("group", snap.GroupID.Short()).
		Uint64("epoch", uint64(snap.Epoch)).
		Msg("snapshot written")
	return nil
}
