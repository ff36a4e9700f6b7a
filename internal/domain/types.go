package domain

import (
	"encoding/hex"
	"fmt"
)

// GroupIDBytes is the canonical group identifier length.
const GroupIDBytes = 16

// GroupID is the canonical fixed-length group identifier. Callers may
// suggest an identifier at group creation, but the engine canonicalizes it
// and the returned GroupID is the one bound into every subsequent operation.
type GroupID [GroupIDBytes]byte

// String returns the hex form used on the wire and in storage keys.
func (id GroupID) String() string { return hex.EncodeToString(id[:]) }

// Short returns an abbreviated form for logs.
func (id GroupID) Short() string { return hex.EncodeToString(id[:4]) }

// IsZero reports whether the identifier is the reserved all-zero value.
func (id GroupID) IsZero() bool { return id == GroupID{} }

// ParseGroupID parses the hex form produced by String.
func ParseGroupID(s string) (GroupID, error) {
	var id GroupID
	b, err := hex.DecodeString(s)
	if err != nil {
		return id, fmt.Errorf("parse group id: %w", err)
	}
	if len(b) != GroupIDBytes {
		return id, fmt.Errorf("parse group id: want %d bytes, got %d", GroupIDBytes, len(b))
	}
	copy(id[:], b)
	if id.IsZero() {
		return id, fmt.Errorf("parse group id: zero identifier is reserved")
	}
	return id, nil
}

// Epoch is a monotonically increasing counter identifying one version of a
// group's membership and key state. A new group starts at epoch 0.
type Epoch uint64

// LeafIndex locates a member slot in the group's leaf arena.
type LeafIndex uint32

// Generation indexes a position in a per-sender message key chain.
type Generation uint32

// Credential binds human-readable member information to a leaf.
type Credential struct {
	Name string `json:"name"`
}

// Identity is the long-term signing credential of this installation.
// Exactly one identity exists per storage namespace.
type Identity struct {
	Name   string         `json:"name"`
	EdPub  Ed25519Public  `json:"ed_pub"`
	EdPriv Ed25519Private `json:"ed_priv"`
}

// Credential returns the credential advertised for this identity.
func (id Identity) Credential() Credential { return Credential{Name: id.Name} }

// LeafNode is one member slot in the group arena. A blank (inactive) slot
// keeps its position so that leaf indices stay stable across removals.
type LeafNode struct {
	SignatureKey  Ed25519Public `json:"sig_key"`
	EncryptionKey X25519Public  `json:"enc_key"`
	Credential    Credential    `json:"credential"`
	Active        bool          `json:"active"`
}
