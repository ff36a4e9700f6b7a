package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"conclave/internal/crypto"
	"conclave/internal/domain"
	"conclave/internal/protocol/handshake"
	"conclave/internal/protocol/msgchain"
	"conclave/internal/protocol/tree"
	"conclave/internal/protocol/wire"
	"conclave/internal/registry"
	"conclave/internal/util/memzero"
)

// createGroupAttempts bounds the re-salt loop for hashed group ids. Each
// attempt draws a fresh salt, so collisions beyond the first are vanishing.
const createGroupAttempts = 4

// CreateGroup starts a new single-member group and persists it before the
// identifier is returned.
func (e *Engine) CreateGroup(ctx context.Context, suggestedID string) (domain.GroupID, error) {
	id, err := e.ident()
	if err != nil {
		return domain.GroupID{}, err
	}

	for attempt := 0; attempt < createGroupAttempts; attempt++ {
		st, err := tree.NewGroup(suggestedID, id)
		if err != nil {
			return domain.GroupID{}, err
		}
		gid := st.GroupID()

		taken, err := e.groupExists(ctx, gid)
		if err != nil {
			st.Wipe()
			return domain.GroupID{}, err
		}
		if taken {
			st.Wipe()
			if parsed, perr := domain.ParseGroupID(suggestedID); perr == nil && parsed == gid {
				// Adopted ids are deterministic; retrying cannot help.
				return domain.GroupID{}, fmt.Errorf("group %s already exists", gid)
			}
			continue
		}

		if err := e.reg.Insert(ctx, newSession(st, e.reg.ChainConfig())); err != nil {
			return domain.GroupID{}, err
		}
		e.col.GroupCreated()
		e.log.Info().Str("group", gid.Short()).Msg("group created")
		return gid, nil
	}
	return domain.GroupID{}, fmt.Errorf("could not allocate a free group id for %q", suggestedID)
}

// AddMember validates an encoded key package, builds the commit admitting
// its owner plus the matching welcome, and advances the local epoch.
//
// Steps:
//  1. Decode the package and refuse our own or an already honoured one.
//  2. Build the add commit on the current state.
//  3. Persist and swap in the successor epoch.
//  4. Record the package hash so a re-presentation is rejected.
func (e *Engine) AddMember(ctx context.Context, gid domain.GroupID, keyPackage []byte) (domain.HandshakeBundle, error) {
	id, err := e.ident()
	if err != nil {
		return domain.HandshakeBundle{}, err
	}
	kp, err := wire.DecodeKeyPackage(keyPackage)
	if err != nil {
		return domain.HandshakeBundle{}, fmt.Errorf("%w: decode: %v", domain.ErrInvalidKeyPackage, err)
	}
	if kp.SignatureKey == id.EdPub {
		return domain.HandshakeBundle{}, fmt.Errorf("%w: cannot add own key package", domain.ErrInvalidKeyPackage)
	}
	hash := wire.KeyPackageHash(wire.EncodeKeyPackage(kp))
	used, err := e.kps.KeyPackageUsed(ctx, hash)
	if err != nil {
		return domain.HandshakeBundle{}, fmt.Errorf("%w: probe key package: %v", domain.ErrPersistenceFailure, err)
	}
	if used {
		return domain.HandshakeBundle{}, fmt.Errorf("%w: key package already honoured", domain.ErrInvalidKeyPackage)
	}

	var bundle domain.HandshakeBundle
	var member string
	err = e.reg.Update(ctx, gid, func(cur *registry.Session) (*registry.Session, error) {
		res, err := handshake.BuildAdd(cur.State, id, kp, time.Now())
		if err != nil {
			return nil, err
		}
		bundle = domain.HandshakeBundle{
			Commit:  wire.EncodeCommit(res.Commit),
			Welcome: wire.EncodeWelcome(res.Welcome),
		}
		member = kp.Credential.Name
		return &registry.Session{State: res.Next, Chains: advanceChains(cur, res.Next)}, nil
	})
	if err != nil {
		return domain.HandshakeBundle{}, err
	}

	if err := e.kps.MarkKeyPackageUsed(ctx, hash); err != nil {
		e.log.Warn().Err(err).Str("group", gid.Short()).Msg("could not record key package use")
	}
	e.col.CommitBuilt()
	e.log.Info().Str("group", gid.Short()).Str("member", member).Msg("member added")
	return bundle, nil
}

// RemoveMember builds a commit blanking the given leaf and advances the
// local epoch.
func (e *Engine) RemoveMember(ctx context.Context, gid domain.GroupID, leaf domain.LeafIndex) ([]byte, error) {
	id, err := e.ident()
	if err != nil {
		return nil, err
	}
	var commit []byte
	err = e.reg.Update(ctx, gid, func(cur *registry.Session) (*registry.Session, error) {
		res, err := handshake.BuildRemove(cur.State, id, leaf)
		if err != nil {
			return nil, err
		}
		commit = wire.EncodeCommit(res.Commit)
		return &registry.Session{State: res.Next, Chains: advanceChains(cur, res.Next)}, nil
	})
	if err != nil {
		return nil, err
	}
	e.col.CommitBuilt()
	e.log.Info().Str("group", gid.Short()).Uint32("leaf", uint32(leaf)).Msg("member removed")
	return commit, nil
}

// UpdateKey builds a commit rotating this member's own leaf encryption key.
func (e *Engine) UpdateKey(ctx context.Context, gid domain.GroupID) ([]byte, error) {
	id, err := e.ident()
	if err != nil {
		return nil, err
	}
	var commit []byte
	err = e.reg.Update(ctx, gid, func(cur *registry.Session) (*registry.Session, error) {
		res, err := handshake.BuildUpdate(cur.State, id)
		if err != nil {
			return nil, err
		}
		commit = wire.EncodeCommit(res.Commit)
		return &registry.Session{State: res.Next, Chains: advanceChains(cur, res.Next)}, nil
	})
	if err != nil {
		return nil, err
	}
	e.col.CommitBuilt()
	e.log.Info().Str("group", gid.Short()).Msg("leaf key rotated")
	return commit, nil
}

// ApplyCommit advances local state with a commit received from another
// member. A commit this member already applied is a benign no-op; a commit
// that removes this member archives the group and reports
// ErrRemovedFromGroup.
func (e *Engine) ApplyCommit(ctx context.Context, gid domain.GroupID, commit []byte) error {
	c, err := wire.DecodeCommit(commit)
	if err != nil {
		return fmt.Errorf("%w: decode: %v", domain.ErrInvalidCommit, err)
	}

	var tomb domain.GroupSnapshot
	err = e.reg.Update(ctx, gid, func(cur *registry.Session) (*registry.Session, error) {
		next, err := handshake.Apply(cur.State, c)
		if errors.Is(err, domain.ErrStaleEpoch) {
			e.log.Debug().
				Str("group", gid.Short()).
				Uint64("base", uint64(c.BaseEpoch)).
				Msg("stale commit ignored")
			return nil, nil
		}
		if errors.Is(err, domain.ErrRemovedFromGroup) {
			snap := cur.State.Snapshot()
			snap.Secrets.Wipe()
			snap.Secrets = nil
			tomb = snap
			return nil, err
		}
		if err != nil {
			return nil, err
		}
		return &registry.Session{State: next, Chains: advanceChains(cur, next)}, nil
	})
	if errors.Is(err, domain.ErrRemovedFromGroup) {
		if aerr := e.reg.Archive(ctx, tomb); aerr != nil {
			e.log.Warn().Err(aerr).Str("group", gid.Short()).Msg("could not archive removed group")
		} else {
			e.log.Info().Str("group", gid.Short()).Msg("removed from group, state retired")
		}
		return err
	}
	if err != nil {
		return err
	}
	e.col.CommitApplied()
	e.log.Info().Str("group", gid.Short()).Uint64("base", uint64(c.BaseEpoch)).Msg("commit applied")
	return nil
}

// ProcessWelcome joins a group from a welcome addressed to a locally held
// key package. The package is consumed; on any failure after the consume it
// is put back, so a forged welcome cannot burn it.
//
// Steps:
//  1. Decode the welcome and consume the key package it names.
//  2. Refuse to shadow a group this member is already live in.
//  3. Derive the joined state from the welcome.
//  4. Persist and register the new session.
func (e *Engine) ProcessWelcome(ctx context.Context, welcome []byte) (domain.GroupID, error) {
	id, err := e.ident()
	if err != nil {
		return domain.GroupID{}, err
	}
	w, err := wire.DecodeWelcome(welcome)
	if err != nil {
		return domain.GroupID{}, fmt.Errorf("%w: decode: %v", domain.ErrInvalidWelcome, err)
	}

	rec, ok, err := e.kps.ConsumeKeyPackage(ctx, w.KeyPackageHash)
	if err != nil {
		return domain.GroupID{}, fmt.Errorf("%w: consume key package: %v", domain.ErrPersistenceFailure, err)
	}
	if !ok {
		return domain.GroupID{}, fmt.Errorf("%w: no pending key package for this welcome", domain.ErrInvalidWelcome)
	}
	restore := func() {
		if rerr := e.kps.SaveKeyPackage(ctx, rec); rerr != nil {
			e.log.Warn().Err(rerr).Msg("could not restore key package after failed join")
		}
	}

	if e.reg.Has(w.GroupID) {
		restore()
		return domain.GroupID{}, fmt.Errorf("%w: already a member of %s", domain.ErrInvalidWelcome, w.GroupID.Short())
	}

	st, err := handshake.Join(w, id, rec.InitPriv)
	if err != nil {
		restore()
		return domain.GroupID{}, err
	}

	if err := e.reg.Insert(ctx, newSession(st, e.reg.ChainConfig())); err != nil {
		restore()
		return domain.GroupID{}, err
	}
	e.col.WelcomeProcessed()
	e.log.Info().
		Str("group", w.GroupID.Short()).
		Uint64("epoch", uint64(w.Epoch)).
		Msg("joined group")
	return w.GroupID, nil
}

// GroupInfo describes a live group's epoch and membership.
func (e *Engine) GroupInfo(_ context.Context, gid domain.GroupID) (domain.GroupInfo, error) {
	var info domain.GroupInfo
	if err := e.reg.View(gid, func(cur *registry.Session) error {
		info = describe(cur.State)
		return nil
	}); err != nil {
		return domain.GroupInfo{}, err
	}
	return info, nil
}

// ListActiveGroups describes every group live in memory.
func (e *Engine) ListActiveGroups() []domain.GroupInfo {
	var out []domain.GroupInfo
	for _, gid := range e.reg.Active() {
		if err := e.reg.View(gid, func(cur *registry.Session) error {
			out = append(out, describe(cur.State))
			return nil
		}); err != nil {
			// Archived between listing and viewing.
			continue
		}
	}
	return out
}

// ListPersistedGroups scans storage for saved groups, including ones that
// are no longer restorable. Storage errors degrade to an empty listing.
func (e *Engine) ListPersistedGroups(ctx context.Context) []domain.GroupRecord {
	snaps, err := e.reg.ListStored(ctx)
	if err != nil {
		e.log.Warn().Err(err).Msg("could not list persisted groups")
		return nil
	}
	out := make([]domain.GroupRecord, 0, len(snaps))
	for _, snap := range snaps {
		out = append(out, domain.GroupRecord{
			GroupID:    snap.GroupID,
			Epoch:      snap.Epoch,
			Restorable: snap.Restorable(),
			SavedUTC:   snap.SavedUTC,
		})
		snap.Secrets.Wipe()
	}
	return out
}

// Checkpoint persists every live group.
func (e *Engine) Checkpoint(ctx context.Context) error {
	return e.reg.Checkpoint(ctx)
}

// groupExists reports whether id is live in memory or present in storage.
func (e *Engine) groupExists(ctx context.Context, id domain.GroupID) (bool, error) {
	if e.reg.Has(id) {
		return true, nil
	}
	snap, ok, err := e.reg.Stored(ctx, id)
	if err != nil {
		return false, fmt.Errorf("%w: probe group %s: %v", domain.ErrPersistenceFailure, id.Short(), err)
	}
	if ok {
		snap.Secrets.Wipe()
	}
	return ok, nil
}

// newSession builds the message chains for a state's current epoch.
func newSession(st *tree.State, cfg msgchain.Config) *registry.Session {
	enc := st.EncryptionSecret()
	ch := msgchain.New(cfg, st.Epoch(), st.OwnLeaf(), enc, st.ActiveLeaves())
	memzero.Zero(enc)
	return &registry.Session{State: st, Chains: ch}
}

// advanceChains clones cur's chains into the epoch next describes.
func advanceChains(cur *registry.Session, next *tree.State) *msgchain.Chains {
	ch := cur.Chains.Clone()
	enc := next.EncryptionSecret()
	ch.Advance(next.Epoch(), enc, next.ActiveLeaves())
	memzero.Zero(enc)
	return ch
}

func describe(st *tree.State) domain.GroupInfo {
	info := domain.GroupInfo{GroupID: st.GroupID(), Epoch: st.Epoch(), OwnLeaf: st.OwnLeaf()}
	for i, leaf := range st.Leaves() {
		if !leaf.Active {
			continue
		}
		info.Members = append(info.Members, domain.MemberInfo{
			Leaf:        domain.LeafIndex(i),
			Name:        leaf.Credential.Name,
			Fingerprint: crypto.Fingerprint(leaf.SignatureKey.Slice()),
		})
	}
	return info
}
