package tree

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	"conclave/internal/crypto"
	"conclave/internal/domain"
	"conclave/internal/util/memzero"
)

const secretBytes = 32

// secrets is the per-epoch secret family.
type secrets struct {
	epoch        []byte
	init         []byte
	confirmation []byte
	encryption   []byte
}

func (s *secrets) wipe() {
	memzero.Zero(s.epoch)
	memzero.Zero(s.init)
	memzero.Zero(s.confirmation)
	memzero.Zero(s.encryption)
}

// State is one epoch of one group as seen by one member. Values are
// immutable; every transition returns a new State.
type State struct {
	groupID  domain.GroupID
	epoch    domain.Epoch
	leaves   []domain.LeafNode
	ownLeaf  domain.LeafIndex
	leafPriv domain.X25519Private
	sec      secrets
}

// NewGroup creates the single-member group at epoch 0. The suggested
// identifier is canonicalized; the caller must adopt the identifier of the
// returned state.
func NewGroup(suggestedID string, id domain.Identity) (*State, error) {
	gid, err := CanonicalGroupID(suggestedID)
	if err != nil {
		return nil, err
	}

	leafPriv, leafPub, err := crypto.GenerateX25519()
	if err != nil {
		return nil, fmt.Errorf("leaf key: %w", err)
	}

	leaves := []domain.LeafNode{{
		SignatureKey:  id.EdPub,
		EncryptionKey: leafPub,
		Credential:    id.Credential(),
		Active:        true,
	}}

	// Epoch 0 chains from an all-zero init secret and fresh entropy.
	commitSecret := make([]byte, secretBytes)
	if _, err := rand.Read(commitSecret); err != nil {
		return nil, fmt.Errorf("commit secret: %w", err)
	}
	defer memzero.Zero(commitSecret)

	joiner := crypto.Extract(nil, commitSecret)
	defer memzero.Zero(joiner)

	s := &State{
		groupID:  gid,
		epoch:    0,
		leaves:   leaves,
		ownLeaf:  0,
		leafPriv: leafPriv,
	}
	s.sec = deriveSecrets(joiner, s.context())
	return s, nil
}

// FromJoin builds the state a welcomed member enters at: the carried leaf
// arena plus secrets expanded from the unsealed joiner secret. The caller
// verifies the confirmation tag of the result before trusting it.
func FromJoin(gid domain.GroupID, epoch domain.Epoch, leaves []domain.LeafNode, ownLeaf domain.LeafIndex, leafPriv domain.X25519Private, joinerSecret []byte) (*State, error) {
	if int(ownLeaf) >= len(leaves) || !leaves[ownLeaf].Active {
		return nil, fmt.Errorf("own leaf %d not active in carried tree", ownLeaf)
	}
	s := &State{
		groupID:  gid,
		epoch:    epoch,
		leaves:   cloneLeaves(leaves),
		ownLeaf:  ownLeaf,
		leafPriv: leafPriv,
	}
	s.sec = deriveSecrets(joinerSecret, s.context())
	return s, nil
}

// FromSnapshot rebuilds a state from its persisted form.
func FromSnapshot(snap domain.GroupSnapshot) (*State, error) {
	if !snap.Restorable() {
		return nil, fmt.Errorf("snapshot for %s has no secret state", snap.GroupID)
	}
	sec := snap.Secrets
	for _, b := range [][]byte{sec.EpochSecret, sec.InitSecret, sec.ConfirmationKey, sec.EncryptionSecret} {
		if len(b) != secretBytes {
			return nil, fmt.Errorf("snapshot for %s has malformed secrets", snap.GroupID)
		}
	}
	if int(snap.OwnLeaf) >= len(snap.Leaves) {
		return nil, fmt.Errorf("snapshot for %s has own leaf out of range", snap.GroupID)
	}
	return &State{
		groupID:  snap.GroupID,
		epoch:    snap.Epoch,
		leaves:   cloneLeaves(snap.Leaves),
		ownLeaf:  snap.OwnLeaf,
		leafPriv: sec.LeafPriv,
		sec: secrets{
			epoch:        append([]byte(nil), sec.EpochSecret...),
			init:         append([]byte(nil), sec.InitSecret...),
			confirmation: append([]byte(nil), sec.ConfirmationKey...),
			encryption:   append([]byte(nil), sec.EncryptionSecret...),
		},
	}, nil
}

// Snapshot renders the state for persistence. Message chain state is filled
// in by the caller; SavedUTC is stamped at write time.
func (s *State) Snapshot() domain.GroupSnapshot {
	return domain.GroupSnapshot{
		Version: domain.SnapshotVersion,
		GroupID: s.groupID,
		Epoch:   s.epoch,
		OwnLeaf: s.ownLeaf,
		Leaves:  cloneLeaves(s.leaves),
		Secrets: &domain.SnapshotSecrets{
			EpochSecret:      append([]byte(nil), s.sec.epoch...),
			InitSecret:       append([]byte(nil), s.sec.init...),
			ConfirmationKey:  append([]byte(nil), s.sec.confirmation...),
			EncryptionSecret: append([]byte(nil), s.sec.encryption...),
			LeafPriv:         s.leafPriv,
		},
	}
}

// Wipe zeroes the secret material. Call only on states nothing can roll
// back to.
func (s *State) Wipe() {
	s.sec.wipe()
	memzero.Bytes32((*[32]byte)(&s.leafPriv))
}

// GroupID returns the canonical group identifier.
func (s *State) GroupID() domain.GroupID { return s.groupID }

// Epoch returns the current epoch.
func (s *State) Epoch() domain.Epoch { return s.epoch }

// OwnLeaf returns this member's leaf index.
func (s *State) OwnLeaf() domain.LeafIndex { return s.ownLeaf }

// LeafPriv returns the private half of this member's leaf encryption key.
func (s *State) LeafPriv() domain.X25519Private { return s.leafPriv }

// Leaves returns a copy of the leaf arena.
func (s *State) Leaves() []domain.LeafNode { return cloneLeaves(s.leaves) }

// Leaf returns the leaf at index i.
func (s *State) Leaf(i domain.LeafIndex) (domain.LeafNode, bool) {
	if int(i) >= len(s.leaves) {
		return domain.LeafNode{}, false
	}
	return s.leaves[i], true
}

// ActiveLeaves returns the indices of all active leaves.
func (s *State) ActiveLeaves() []domain.LeafIndex {
	var out []domain.LeafIndex
	for i, l := range s.leaves {
		if l.Active {
			out = append(out, domain.LeafIndex(i))
		}
	}
	return out
}

// NextFreeLeaf returns the index an add would occupy: the leftmost blank
// leaf, or one past the end of the arena.
func (s *State) NextFreeLeaf() domain.LeafIndex { return nextFreeLeaf(s.leaves) }

// EncryptionSecret returns a copy of this epoch's message chain root.
func (s *State) EncryptionSecret() []byte {
	return append([]byte(nil), s.sec.encryption...)
}

// ConfirmationTag authenticates this state: an HMAC of the group context
// under the epoch's confirmation key. Two members hold the same tag exactly
// when they derived the same epoch over the same tree.
func (s *State) ConfirmationTag() []byte {
	m := hmac.New(sha256.New, s.sec.confirmation)
	m.Write(s.context())
	return m.Sum(nil)
}

// TreeHash commits to the full leaf arena.
func (s *State) TreeHash() [32]byte { return treeHash(s.leaves) }

// context is the group context image: identifier, epoch, tree hash.
func (s *State) context() []byte {
	return groupContext(s.groupID, s.epoch, treeHash(s.leaves))
}

func groupContext(gid domain.GroupID, epoch domain.Epoch, th [32]byte) []byte {
	b := make([]byte, 0, len(gid)+8+len(th))
	b = append(b, gid[:]...)
	b = binary.BigEndian.AppendUint64(b, uint64(epoch))
	b = append(b, th[:]...)
	return b
}

// treeHash is a SHA-256 over the canonical arena image. Blank leaves hash
// by position, so arenas differing only in where a blank sits still differ.
func treeHash(leaves []domain.LeafNode) [32]byte {
	h := sha256.New()
	var n [4]byte
	binary.BigEndian.PutUint32(n[:], uint32(len(leaves)))
	h.Write(n[:])
	for _, l := range leaves {
		h.Write(l.SignatureKey.Slice())
		h.Write(l.EncryptionKey.Slice())
		binary.BigEndian.PutUint32(n[:], uint32(len(l.Credential.Name)))
		h.Write(n[:])
		h.Write([]byte(l.Credential.Name))
		if l.Active {
			h.Write([]byte{1})
		} else {
			h.Write([]byte{0})
		}
	}
	var out [32]byte
	h.Sum(out[:0])
	return out
}

func deriveSecrets(joinerSecret, context []byte) secrets {
	epoch := crypto.ExpandWithLabel(joinerSecret, "epoch", context, secretBytes)
	return secrets{
		epoch:        epoch,
		init:         crypto.ExpandWithLabel(epoch, "init", nil, secretBytes),
		confirmation: crypto.ExpandWithLabel(epoch, "confirm", nil, secretBytes),
		encryption:   crypto.ExpandWithLabel(epoch, "message", nil, secretBytes),
	}
}

func cloneLeaves(in []domain.LeafNode) []domain.LeafNode {
	out := make([]domain.LeafNode, len(in))
	copy(out, in)
	return out
}

func nextFreeLeaf(leaves []domain.LeafNode) domain.LeafIndex {
	for i, l := range leaves {
		if !l.Active {
			return domain.LeafIndex(i)
		}
	}
	return domain.LeafIndex(len(leaves))
}
