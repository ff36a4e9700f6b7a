package handshake

import (
	"crypto/hmac"
	"fmt"

	"conclave/internal/crypto"
	"conclave/internal/domain"
	"conclave/internal/protocol/tree"
	"conclave/internal/protocol/wire"
	"conclave/internal/util/memzero"
)

// Apply advances st with a commit received from another member.
//
// Checks run in a fixed order so error classes are stable: group match,
// epoch classification, sender authentication, proposal vetting, own
// removal, path unsealing, and finally state agreement via tree hash and
// confirmation tag. A commit for an epoch already left behind surfaces as
// ErrStaleEpoch; one from an epoch not yet reached as ErrEpochMismatch.
func Apply(st *tree.State, c domain.Commit) (*tree.State, error) {
	if c.GroupID != st.GroupID() {
		return nil, fmt.Errorf("%w: commit for group %s", domain.ErrInvalidCommit, c.GroupID.Short())
	}
	if c.BaseEpoch < st.Epoch() {
		return nil, fmt.Errorf("%w: commit base %d, local epoch %d", domain.ErrStaleEpoch, c.BaseEpoch, st.Epoch())
	}
	if c.BaseEpoch > st.Epoch() {
		return nil, fmt.Errorf("%w: commit base %d, local epoch %d", domain.ErrEpochMismatch, c.BaseEpoch, st.Epoch())
	}

	sender, ok := st.Leaf(c.Sender)
	if !ok || !sender.Active {
		return nil, fmt.Errorf("%w: sender leaf %d not active", domain.ErrInvalidCommit, c.Sender)
	}
	if c.Sender == st.OwnLeaf() {
		return nil, fmt.Errorf("%w: commit from own leaf", domain.ErrInvalidCommit)
	}
	if !crypto.VerifyEd25519(sender.SignatureKey, wire.CommitTBS(c), c.Signature) {
		return nil, fmt.Errorf("%w: bad signature", domain.ErrInvalidCommit)
	}

	removed := false
	for _, p := range c.Proposals {
		if p.Type == domain.ProposalAdd && p.Add != nil {
			if err := validateKeyPackageStatic(*p.Add); err != nil {
				return nil, err
			}
		}
		if p.Type == domain.ProposalRemove && p.Removed == st.OwnLeaf() {
			removed = true
		}
	}
	if removed {
		return nil, fmt.Errorf("%w: by leaf %d at epoch %d", domain.ErrRemovedFromGroup, c.Sender, c.BaseEpoch)
	}

	var sealed *domain.SealedSecret
	for i := range c.Path {
		if c.Path[i].Recipient == st.OwnLeaf() {
			sealed = &c.Path[i]
			break
		}
	}
	if sealed == nil {
		return nil, fmt.Errorf("%w: no sealed path for leaf %d", domain.ErrInvalidCommit, st.OwnLeaf())
	}
	commitSecret, err := crypto.OpenFrom(st.LeafPriv(), sealed.Ephemeral, sealed.Box,
		sealContext(purposePath, st.GroupID(), c.BaseEpoch, st.OwnLeaf()))
	if err != nil {
		return nil, fmt.Errorf("%w: unseal path secret: %v", domain.ErrInvalidCommit, err)
	}
	defer memzero.Zero(commitSecret)

	next, joinerSecret, err := st.Advance(c.Sender, c.Proposals, commitSecret, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidCommit, err)
	}
	memzero.Zero(joinerSecret)

	if next.TreeHash() != c.TreeHash {
		return nil, fmt.Errorf("%w: tree hash mismatch", domain.ErrInvalidCommit)
	}
	if !hmac.Equal(next.ConfirmationTag(), c.ConfirmationTag) {
		return nil, fmt.Errorf("%w: confirmation tag mismatch", domain.ErrInvalidCommit)
	}
	return next, nil
}
