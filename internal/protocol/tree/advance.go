package tree

import (
	"errors"
	"fmt"

	"conclave/internal/crypto"
	"conclave/internal/domain"
)

const maxLeaves = 1 << 16

var (
	errNoProposals   = errors.New("commit carries no proposals")
	errMultipleAdds  = errors.New("commit carries more than one add")
	errSenderRemoved = errors.New("own leaf inactive after proposals")
)

// Advance applies a commit's proposals to produce the next epoch's state.
// The sender is the committing leaf in the current arena. The commit secret
// comes from the committer (fresh entropy) or from an unsealed path box (a
// receiver). newLeafPriv replaces this member's leaf private key when the
// proposals rotate its own encryption key; pass nil otherwise.
//
// The joiner secret is returned alongside the state so a committer can seal
// it into a Welcome. Receivers wipe it immediately.
func (s *State) Advance(sender domain.LeafIndex, proposals []domain.Proposal, commitSecret []byte, newLeafPriv *domain.X25519Private) (*State, []byte, error) {
	if len(commitSecret) != secretBytes {
		return nil, nil, fmt.Errorf("commit secret: want %d bytes, got %d", secretBytes, len(commitSecret))
	}
	leaves, err := applyProposals(s.leaves, sender, proposals)
	if err != nil {
		return nil, nil, err
	}

	next := &State{
		groupID:  s.groupID,
		epoch:    s.epoch + 1,
		leaves:   leaves,
		ownLeaf:  s.ownLeaf,
		leafPriv: s.leafPriv,
	}
	if newLeafPriv != nil {
		next.leafPriv = *newLeafPriv
	}
	if int(next.ownLeaf) >= len(next.leaves) || !next.leaves[next.ownLeaf].Active {
		return nil, nil, errSenderRemoved
	}

	joiner := crypto.Extract(s.sec.init, commitSecret)
	next.sec = deriveSecrets(joiner, next.context())
	return next, joiner, nil
}

// applyProposals replays a proposal list over a copy of the arena, in wire
// order, enforcing the structural rules every member agrees on.
func applyProposals(base []domain.LeafNode, sender domain.LeafIndex, proposals []domain.Proposal) ([]domain.LeafNode, error) {
	if len(proposals) == 0 {
		return nil, errNoProposals
	}
	if int(sender) >= len(base) || !base[sender].Active {
		return nil, fmt.Errorf("sender leaf %d not active", sender)
	}

	leaves := cloneLeaves(base)
	adds := 0
	for _, p := range proposals {
		switch p.Type {
		case domain.ProposalAdd:
			if p.Add == nil {
				return nil, fmt.Errorf("add proposal without key package")
			}
			adds++
			if adds > 1 {
				return nil, errMultipleAdds
			}
			leaf := domain.LeafNode{
				SignatureKey:  p.Add.SignatureKey,
				EncryptionKey: p.Add.InitKey,
				Credential:    p.Add.Credential,
				Active:        true,
			}
			if at := nextFreeLeaf(leaves); int(at) < len(leaves) {
				leaves[at] = leaf
			} else {
				if len(leaves) >= maxLeaves {
					return nil, fmt.Errorf("arena full at %d leaves", len(leaves))
				}
				leaves = append(leaves, leaf)
			}

		case domain.ProposalRemove:
			if int(p.Removed) >= len(leaves) || !leaves[p.Removed].Active {
				return nil, fmt.Errorf("remove of leaf %d: not active", p.Removed)
			}
			if p.Removed == sender {
				return nil, fmt.Errorf("sender cannot remove itself")
			}
			leaves[p.Removed] = domain.LeafNode{}

		case domain.ProposalUpdate:
			if p.NewEncryptionKey == nil {
				return nil, fmt.Errorf("update proposal without key")
			}
			leaves[sender].EncryptionKey = *p.NewEncryptionKey

		default:
			return nil, fmt.Errorf("unknown proposal type %d", p.Type)
		}
	}
	return leaves, nil
}
