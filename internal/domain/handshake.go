package domain

// Wire structures for handshake traffic. The deterministic binary encoding
// (and the to-be-signed prefixes the signatures cover) lives in
// internal/protocol/wire; these structs are the parsed form.

// Suite identifiers. The engine speaks exactly one suite, mirroring its
// single-ciphersuite deployment model.
const (
	WireVersion = 1

	// SuiteX25519ChaChaSHA256Ed25519 is the only supported cipher suite:
	// X25519 key agreement, ChaCha20-Poly1305 AEAD, HKDF-SHA256, Ed25519
	// signatures.
	SuiteX25519ChaChaSHA256Ed25519 uint16 = 0x0001
)

// KeyPackage is a signed, single-use public key bundle a prospective member
// advertises so an existing member can add them to a group. The init key is
// the X25519 key the Welcome's joiner secret is sealed to; it becomes the
// new leaf's encryption key.
type KeyPackage struct {
	Version      uint8
	Suite        uint16
	PackageID    [16]byte
	InitKey      X25519Public
	SignatureKey Ed25519Public
	Credential   Credential
	NotBefore    int64
	NotAfter     int64
	Signature    []byte
}

// KeyPackagePrivate is the locally retained half of a minted key package:
// the init private key needed to open a Welcome addressed to it. It is
// consumed (deleted) the moment such a Welcome is processed.
type KeyPackagePrivate struct {
	Hash       [32]byte      `json:"hash"` // SHA-256 of the key package wire bytes
	PackageID  [16]byte      `json:"package_id"`
	InitPriv   X25519Private `json:"init_priv"`
	CreatedUTC int64         `json:"created_utc"`
}

// ProposalType discriminates membership-change proposals inside a Commit.
type ProposalType uint8

const (
	ProposalAdd ProposalType = iota + 1
	ProposalRemove
	ProposalUpdate
)

// Proposal is one pending membership or key change. Proposals travel only
// inside the Commit that applies them.
type Proposal struct {
	Type ProposalType

	// Add carries the joiner's validated key package.
	Add *KeyPackage

	// Removed is the leaf being blanked for ProposalRemove.
	Removed LeafIndex

	// NewEncryptionKey replaces the sender's leaf encryption key for
	// ProposalUpdate.
	NewEncryptionKey *X25519Public
}

// SealedSecret is an asymmetric sealed box addressed to one leaf: an
// ephemeral X25519 public key plus the AEAD box it opens.
type SealedSecret struct {
	Recipient LeafIndex
	Ephemeral X25519Public
	Box       []byte
}

// Commit describes and authenticates one epoch transition: the bundled
// proposals, the commit secret sealed to every surviving pre-commit member,
// the resulting tree hash, and the confirmation tag proving the sender
// derived the same post-transition state.
type Commit struct {
	GroupID         GroupID
	BaseEpoch       Epoch // the epoch this commit was built on; it produces BaseEpoch+1
	Sender          LeafIndex
	Proposals       []Proposal
	Path            []SealedSecret
	TreeHash        [32]byte
	ConfirmationTag []byte
	Signature       []byte
}

// Welcome admits one newly added member. It is self-contained: the full
// public leaf arena travels inside it so the joiner needs no prior epoch
// history, and the joiner secret is sealed to the key package's init key.
type Welcome struct {
	GroupID         GroupID
	Epoch           Epoch
	KeyPackageHash  [32]byte
	Sealed          SealedSecret
	Leaves          []LeafNode
	JoinerLeaf      LeafIndex
	CommitterLeaf   LeafIndex
	ConfirmationTag []byte
	Signature       []byte
}

// MessageHeader tags every application ciphertext with the coordinates a
// receiver needs to locate the matching key derivation path.
type MessageHeader struct {
	GroupID    GroupID
	Epoch      Epoch
	Sender     LeafIndex
	Generation Generation
}

// Message is one application ciphertext: the header (also bound as AEAD
// associated data) and the sealed body.
type Message struct {
	Header MessageHeader
	Body   []byte
}
