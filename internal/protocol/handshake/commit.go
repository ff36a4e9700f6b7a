package handshake

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"time"

	"conclave/internal/crypto"
	"conclave/internal/domain"
	"conclave/internal/protocol/tree"
	"conclave/internal/protocol/wire"
	"conclave/internal/util/memzero"
)

// Sealed-box purposes. A path box and a welcome box must never share a
// derivation context even when group, epoch, and leaf coincide.
const (
	purposePath    = 1
	purposeWelcome = 2
)

// sealContext is the associated data binding a sealed box to its exact
// destination: purpose, group, epoch, and recipient leaf.
func sealContext(purpose byte, gid domain.GroupID, epoch domain.Epoch, leaf domain.LeafIndex) []byte {
	b := make([]byte, 0, 1+len(gid)+8+4)
	b = append(b, purpose)
	b = append(b, gid[:]...)
	b = binary.BigEndian.AppendUint64(b, uint64(epoch))
	b = binary.BigEndian.AppendUint32(b, uint32(leaf))
	return b
}

// AddResult is a built add commit: the signed messages plus the committer's
// post-commit state, which the caller swaps in only after persisting.
type AddResult struct {
	Commit  domain.Commit
	Welcome domain.Welcome
	Next    *tree.State
}

// CommitResult is a built remove or update commit.
type CommitResult struct {
	Commit domain.Commit
	Next   *tree.State
}

// BuildAdd vets the key package and builds the commit admitting its owner,
// together with the welcome that lets the owner enter the new epoch.
func BuildAdd(st *tree.State, id domain.Identity, kp domain.KeyPackage, now time.Time) (AddResult, error) {
	if err := ValidateKeyPackage(kp, now); err != nil {
		return AddResult{}, err
	}

	joinerLeaf := st.NextFreeLeaf()
	proposals := []domain.Proposal{{Type: domain.ProposalAdd, Add: &kp}}

	commit, next, joinerSecret, err := buildCommit(st, id, proposals, nil, &joinerLeaf)
	if err != nil {
		return AddResult{}, err
	}
	defer memzero.Zero(joinerSecret)

	kpRaw := wire.EncodeKeyPackage(kp)
	welcome := domain.Welcome{
		GroupID:        st.GroupID(),
		Epoch:          next.Epoch(),
		KeyPackageHash: wire.KeyPackageHash(kpRaw),
		Leaves:         next.Leaves(),
		JoinerLeaf:     joinerLeaf,
		CommitterLeaf:  st.OwnLeaf(),
	}
	eph, box, err := crypto.SealTo(kp.InitKey, joinerSecret,
		sealContext(purposeWelcome, st.GroupID(), next.Epoch(), joinerLeaf))
	if err != nil {
		return AddResult{}, fmt.Errorf("%w: seal joiner secret: %v", domain.ErrCryptoFailure, err)
	}
	welcome.Sealed = domain.SealedSecret{Recipient: joinerLeaf, Ephemeral: eph, Box: box}
	welcome.ConfirmationTag = next.ConfirmationTag()
	welcome.Signature = crypto.SignEd25519(id.EdPriv, wire.WelcomeTBS(welcome))

	return AddResult{Commit: commit, Welcome: welcome, Next: next}, nil
}

// BuildRemove builds the commit blanking target's leaf. The removed member
// is left out of the sealed path, so the new epoch is opaque to it.
func BuildRemove(st *tree.State, id domain.Identity, target domain.LeafIndex) (CommitResult, error) {
	proposals := []domain.Proposal{{Type: domain.ProposalRemove, Removed: target}}
	commit, next, joinerSecret, err := buildCommit(st, id, proposals, nil, nil)
	if err != nil {
		return CommitResult{}, err
	}
	memzero.Zero(joinerSecret)
	return CommitResult{Commit: commit, Next: next}, nil
}

// BuildUpdate builds the commit rotating this member's own leaf encryption
// key. Combined with the fresh commit secret, this heals the group after a
// compromise of the old leaf key.
func BuildUpdate(st *tree.State, id domain.Identity) (CommitResult, error) {
	newPriv, newPub, err := crypto.GenerateX25519()
	if err != nil {
		return CommitResult{}, fmt.Errorf("%w: leaf key: %v", domain.ErrCryptoFailure, err)
	}
	proposals := []domain.Proposal{{Type: domain.ProposalUpdate, NewEncryptionKey: &newPub}}
	commit, next, joinerSecret, err := buildCommit(st, id, proposals, &newPriv, nil)
	if err != nil {
		return CommitResult{}, err
	}
	memzero.Zero(joinerSecret)
	return CommitResult{Commit: commit, Next: next}, nil
}

// buildCommit runs the committer side of an epoch change: advance, seal the
// commit secret to every surviving member except the committer and the
// joiner, and sign. It returns the joiner secret for welcome sealing.
func buildCommit(st *tree.State, id domain.Identity, proposals []domain.Proposal, newLeafPriv *domain.X25519Private, joinerLeaf *domain.LeafIndex) (domain.Commit, *tree.State, []byte, error) {
	commitSecret := make([]byte, 32)
	if _, err := rand.Read(commitSecret); err != nil {
		return domain.Commit{}, nil, nil, fmt.Errorf("%w: commit secret: %v", domain.ErrCryptoFailure, err)
	}
	defer memzero.Zero(commitSecret)

	next, joinerSecret, err := st.Advance(st.OwnLeaf(), proposals, commitSecret, newLeafPriv)
	if err != nil {
		return domain.Commit{}, nil, nil, fmt.Errorf("%w: %v", domain.ErrInvalidCommit, err)
	}

	commit := domain.Commit{
		GroupID:   st.GroupID(),
		BaseEpoch: st.Epoch(),
		Sender:    st.OwnLeaf(),
		Proposals: proposals,
		TreeHash:  next.TreeHash(),
	}
	for _, idx := range next.ActiveLeaves() {
		if idx == st.OwnLeaf() {
			continue
		}
		if joinerLeaf != nil && idx == *joinerLeaf {
			continue
		}
		// Survivors unseal with the leaf key they hold at the base epoch.
		leaf, ok := st.Leaf(idx)
		if !ok || !leaf.Active {
			continue
		}
		eph, box, err := crypto.SealTo(leaf.EncryptionKey, commitSecret,
			sealContext(purposePath, st.GroupID(), st.Epoch(), idx))
		if err != nil {
			memzero.Zero(joinerSecret)
			return domain.Commit{}, nil, nil, fmt.Errorf("%w: seal path to leaf %d: %v", domain.ErrCryptoFailure, idx, err)
		}
		commit.Path = append(commit.Path, domain.SealedSecret{Recipient: idx, Ephemeral: eph, Box: box})
	}
	commit.ConfirmationTag = next.ConfirmationTag()
	commit.Signature = crypto.SignEd25519(id.EdPriv, wire.CommitTBS(commit))

	return commit, next, joinerSecret, nil
}
