package domain

import "conclave/internal/util/memzero"

// SnapshotVersion is the current persisted snapshot format.
const SnapshotVersion = 2

// GroupSnapshot is the durable, at-rest representation of one group. It
// carries everything needed to resume participation at the saved epoch and
// deliberately nothing more: consumed per-message keys are never present,
// so a disk compromise cannot retroactively expose processed plaintexts.
//
// Secrets is nil for public-only records (version 1 saves kept group
// metadata without key material); such groups are listed but cannot be
// restored into a live session.
type GroupSnapshot struct {
	Version  int              `json:"version"`
	GroupID  GroupID          `json:"group_id"`
	Epoch    Epoch            `json:"epoch"`
	OwnLeaf  LeafIndex        `json:"own_leaf"`
	Leaves   []LeafNode       `json:"leaves"`
	Secrets  *SnapshotSecrets `json:"secrets,omitempty"`
	SavedUTC int64            `json:"saved_utc"`
}

// Restorable reports whether the record carries the secret state required
// to resume the group.
func (s GroupSnapshot) Restorable() bool { return s.Secrets != nil }

// SnapshotSecrets is the secret section of a snapshot: the epoch-scoped
// secrets plus unconsumed message chain heads.
type SnapshotSecrets struct {
	EpochSecret      []byte        `json:"epoch_secret"`
	InitSecret       []byte        `json:"init_secret"`
	ConfirmationKey  []byte        `json:"confirmation_key"`
	EncryptionSecret []byte        `json:"encryption_secret"`
	LeafPriv         X25519Private `json:"leaf_priv"`

	Send       ChainSnapshot       `json:"send"`
	Recv       []RecvChainSnapshot `json:"recv"`
	PastEpochs []PastEpochSnapshot `json:"past_epochs,omitempty"`
}

// Wipe zeroes all secret material in place.
func (s *SnapshotSecrets) Wipe() {
	if s == nil {
		return
	}
	memzero.Zero(s.EpochSecret)
	memzero.Zero(s.InitSecret)
	memzero.Zero(s.ConfirmationKey)
	memzero.Zero(s.EncryptionSecret)
	memzero.Bytes32((*[32]byte)(&s.LeafPriv))
	memzero.Zero(s.Send.Key)
	wipeRecvSnapshots(s.Recv)
	for i := range s.PastEpochs {
		wipeRecvSnapshots(s.PastEpochs[i].Recv)
	}
}

func wipeRecvSnapshots(recv []RecvChainSnapshot) {
	for i := range recv {
		memzero.Zero(recv[i].Chain.Key)
		memzero.Map(recv[i].Skipped)
	}
}

// ChainSnapshot is one unconsumed chain head: the next chain key and the
// generation it will produce. Nothing before Next can be rederived from it.
type ChainSnapshot struct {
	Key  []byte     `json:"key"`
	Next Generation `json:"next"`
}

// RecvChainSnapshot is a receiving chain for one sender, including any
// still-unconsumed skipped message keys inside the out-of-order window.
type RecvChainSnapshot struct {
	Sender  LeafIndex             `json:"sender"`
	Chain   ChainSnapshot         `json:"chain"`
	Skipped map[Generation][]byte `json:"skipped,omitempty"`
}

// PastEpochSnapshot retains receive-only chain state for one superseded
// epoch inside the bounded cross-epoch reorder window.
type PastEpochSnapshot struct {
	Epoch Epoch               `json:"epoch"`
	Recv  []RecvChainSnapshot `json:"recv"`
}
