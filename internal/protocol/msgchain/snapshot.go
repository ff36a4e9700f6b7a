package msgchain

import (
	"fmt"
	"sort"

	"conclave/internal/domain"
)

// FillSnapshot writes the unconsumed chain state into sec. Consumed
// generations have no representation: only chain heads and still-cached
// skipped keys survive a restart.
func (c *Chains) FillSnapshot(sec *domain.SnapshotSecrets) {
	sec.Send = domain.ChainSnapshot{
		Key:  append([]byte(nil), c.send.key...),
		Next: c.send.next,
	}
	sec.Recv = recvSnapshots(c.recv)
	sec.PastEpochs = nil
	for _, pe := range c.past {
		sec.PastEpochs = append(sec.PastEpochs, domain.PastEpochSnapshot{
			Epoch: pe.epoch,
			Recv:  recvSnapshots(pe.recv),
		})
	}
}

// Restore rebuilds chains from snapshot secrets, picking up exactly where
// FillSnapshot left off.
func Restore(cfg Config, snap domain.GroupSnapshot) (*Chains, error) {
	if !snap.Restorable() {
		return nil, fmt.Errorf("snapshot for %s carries no secrets", snap.GroupID.Short())
	}
	sec := snap.Secrets
	if len(sec.Send.Key) != chainKeyBytes {
		return nil, fmt.Errorf("sending chain key is %d bytes, want %d", len(sec.Send.Key), chainKeyBytes)
	}

	c := &Chains{
		cfg:     cfg.withDefaults(),
		epoch:   snap.Epoch,
		ownLeaf: snap.OwnLeaf,
		send: chain{
			key:  append([]byte(nil), sec.Send.Key...),
			next: sec.Send.Next,
		},
	}
	var err error
	if c.recv, err = recvFromSnapshots(sec.Recv); err != nil {
		return nil, err
	}
	for _, pe := range sec.PastEpochs {
		recv, err := recvFromSnapshots(pe.Recv)
		if err != nil {
			return nil, err
		}
		c.past = append(c.past, &epochRecv{epoch: pe.Epoch, recv: recv})
	}
	return c, nil
}

func recvSnapshots(m map[domain.LeafIndex]*recvChain) []domain.RecvChainSnapshot {
	leaves := make([]domain.LeafIndex, 0, len(m))
	for leaf := range m {
		leaves = append(leaves, leaf)
	}
	sort.Slice(leaves, func(i, j int) bool { return leaves[i] < leaves[j] })

	out := make([]domain.RecvChainSnapshot, 0, len(leaves))
	for _, leaf := range leaves {
		rc := m[leaf]
		snap := domain.RecvChainSnapshot{
			Sender: leaf,
			Chain: domain.ChainSnapshot{
				Key:  append([]byte(nil), rc.key...),
				Next: rc.next,
			},
		}
		if len(rc.skipped) > 0 {
			snap.Skipped = make(map[domain.Generation][]byte, len(rc.skipped))
			for gen, k := range rc.skipped {
				snap.Skipped[gen] = append([]byte(nil), k...)
			}
		}
		out = append(out, snap)
	}
	return out
}

func recvFromSnapshots(snaps []domain.RecvChainSnapshot) (map[domain.LeafIndex]*recvChain, error) {
	out := make(map[domain.LeafIndex]*recvChain, len(snaps))
	for _, snap := range snaps {
		if len(snap.Chain.Key) != chainKeyBytes {
			return nil, fmt.Errorf("chain key for leaf %d is %d bytes, want %d", snap.Sender, len(snap.Chain.Key), chainKeyBytes)
		}
		if _, ok := out[snap.Sender]; ok {
			return nil, fmt.Errorf("duplicate chain for leaf %d", snap.Sender)
		}
		rc := &recvChain{
			chain: chain{
				key:  append([]byte(nil), snap.Chain.Key...),
				next: snap.Chain.Next,
			},
			skipped: make(map[domain.Generation][]byte, len(snap.Skipped)),
		}
		for gen, k := range snap.Skipped {
			if len(k) != chainKeyBytes {
				return nil, fmt.Errorf("skipped key for leaf %d generation %d is %d bytes, want %d", snap.Sender, gen, len(k), chainKeyBytes)
			}
			rc.skipped[gen] = append([]byte(nil), k...)
		}
		out[snap.Sender] = rc
	}
	return out, nil
}
