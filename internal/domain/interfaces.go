package domain

import "context"

// IdentityService mints the namespace identity and its key packages.
type IdentityService interface {
	// CreateIdentity generates the long-term signing identity and returns
	// the encoded first key package. Fails with ErrIdentityExists if the
	// namespace already holds one.
	CreateIdentity(ctx context.Context, name string) ([]byte, error)

	// NewKeyPackage mints a fresh single-use key package for the existing
	// identity and returns its encoded form.
	NewKeyPackage(ctx context.Context) ([]byte, error)
}

// GroupService drives group lifecycle: creation, membership commits,
// welcomes, and inspection.
type GroupService interface {
	// CreateGroup starts a new single-member group. The suggested
	// identifier is canonicalized; the returned GroupID is authoritative.
	CreateGroup(ctx context.Context, suggestedID string) (GroupID, error)

	// AddMember validates an encoded key package and builds the commit
	// plus the welcome admitting its owner.
	AddMember(ctx context.Context, id GroupID, keyPackage []byte) (HandshakeBundle, error)

	// RemoveMember builds a commit blanking the given leaf.
	RemoveMember(ctx context.Context, id GroupID, leaf LeafIndex) ([]byte, error)

	// UpdateKey builds a commit rotating this member's own leaf encryption
	// key, healing the group after a suspected key compromise.
	UpdateKey(ctx context.Context, id GroupID) ([]byte, error)

	// ApplyCommit advances local state with a commit received from another
	// member. Re-delivery of an already applied commit is a no-op.
	ApplyCommit(ctx context.Context, id GroupID, commit []byte) error

	// ProcessWelcome joins a group from an encoded welcome addressed to a
	// locally held key package and returns the joined group's identifier.
	ProcessWelcome(ctx context.Context, welcome []byte) (GroupID, error)

	// GroupInfo describes a live group's epoch and membership.
	GroupInfo(ctx context.Context, id GroupID) (GroupInfo, error)

	// ListActiveGroups describes every group live in memory.
	ListActiveGroups() []GroupInfo

	// ListPersistedGroups scans storage for saved groups, including ones
	// that are no longer restorable. Storage errors degrade to an empty
	// listing; they are logged, not returned.
	ListPersistedGroups(ctx context.Context) []GroupRecord

	// Checkpoint persists every live group.
	Checkpoint(ctx context.Context) error
}

// MessageService seals and opens application messages.
type MessageService interface {
	// Encrypt seals plaintext to the group at its current epoch.
	Encrypt(ctx context.Context, id GroupID, plaintext []byte) ([]byte, error)

	// Decrypt opens a ciphertext produced by another member.
	Decrypt(ctx context.Context, id GroupID, ciphertext []byte) ([]byte, error)
}

// IdentityStore persists the namespace's single long-term identity.
type IdentityStore interface {
	SaveIdentity(ctx context.Context, id Identity) error
	LoadIdentity(ctx context.Context) (Identity, bool, error)
}

// KeyPackageStore keeps the private halves of locally minted key packages
// and remembers which foreign packages this member has already added, so a
// package is honoured at most once on either side of the handshake.
type KeyPackageStore interface {
	SaveKeyPackage(ctx context.Context, rec KeyPackagePrivate) error

	// ConsumeKeyPackage removes and returns the private half matching the
	// package hash. A second consume of the same hash reports ok=false.
	ConsumeKeyPackage(ctx context.Context, hash [32]byte) (KeyPackagePrivate, bool, error)

	// MarkKeyPackageUsed records that this member committed an add built on
	// the package with the given hash.
	MarkKeyPackageUsed(ctx context.Context, hash [32]byte) error
	KeyPackageUsed(ctx context.Context, hash [32]byte) (bool, error)
}

// SnapshotStore persists group snapshots keyed by group identifier.
type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, snap GroupSnapshot) error
	LoadSnapshot(ctx context.Context, id GroupID) (GroupSnapshot, bool, error)
	ListSnapshots(ctx context.Context) ([]GroupSnapshot, error)
}
