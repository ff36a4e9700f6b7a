package domain

// HandshakeBundle is the pair of artifacts produced by adding a member: the
// commit for existing members and the welcome for the joiner. Both are in
// encoded wire form, ready to hand to whatever carries them.
type HandshakeBundle struct {
	Commit  []byte
	Welcome []byte
}

// MemberInfo describes one active leaf of a group.
type MemberInfo struct {
	Leaf        LeafIndex
	Name        string
	Fingerprint string
}

// GroupInfo describes a live group: its canonical identifier, current
// epoch, this member's leaf, and the active roster.
type GroupInfo struct {
	GroupID GroupID
	Epoch   Epoch
	OwnLeaf LeafIndex
	Members []MemberInfo
}

// GroupRecord describes one persisted group as found in storage. Records
// saved without their secret section are reported with Restorable false
// rather than skipped.
type GroupRecord struct {
	GroupID    GroupID
	Epoch      Epoch
	Restorable bool
	SavedUTC   int64
}
