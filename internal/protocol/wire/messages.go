package wire

import (
	"crypto/sha256"
	"fmt"

	"conclave/internal/domain"
)

// KeyPackageHash identifies a key package by the SHA-256 of its exact wire
// bytes. Both sides of the handshake hash the same bytes, so the identifier
// survives transport unchanged.
func KeyPackageHash(wireBytes []byte) [32]byte {
	return sha256.Sum256(wireBytes)
}

// EncodeKeyPackage renders kp in wire form, signature included.
func EncodeKeyPackage(kp domain.KeyPackage) []byte {
	w := newWriter(160)
	keyPackageTBS(w, kp)
	w.varBytes(kp.Signature)
	return w.b
}

// KeyPackageTBS returns the prefix the key package signature covers.
func KeyPackageTBS(kp domain.KeyPackage) []byte {
	w := newWriter(160)
	keyPackageTBS(w, kp)
	return w.b
}

func keyPackageTBS(w *writer, kp domain.KeyPackage) {
	w.u8(uint8(TypeKeyPackage))
	w.u8(kp.Version)
	w.u16(kp.Suite)
	w.raw(kp.PackageID[:])
	w.raw(kp.InitKey.Slice())
	w.raw(kp.SignatureKey.Slice())
	w.str(kp.Credential.Name)
	w.i64(kp.NotBefore)
	w.i64(kp.NotAfter)
}

// DecodeKeyPackage parses wire bytes produced by EncodeKeyPackage.
func DecodeKeyPackage(b []byte) (domain.KeyPackage, error) {
	var kp domain.KeyPackage
	r := newReader(b, TypeKeyPackage)
	kp.Version = r.version(domain.WireVersion)
	kp.Suite = r.u16()
	kp.PackageID = r.arr16()
	kp.InitKey = r.arr32()
	kp.SignatureKey = r.arr32()
	kp.Credential.Name = r.str()
	kp.NotBefore = r.i64()
	kp.NotAfter = r.i64()
	kp.Signature = r.varBytes(MaxWireBytes)
	if err := r.done(); err != nil {
		return domain.KeyPackage{}, err
	}
	return kp, nil
}

// EncodeCommit renders c in wire form, signature included.
func EncodeCommit(c domain.Commit) []byte {
	w := newWriter(512)
	commitTBS(w, c)
	w.varBytes(c.Signature)
	return w.b
}

// CommitTBS returns the prefix the commit signature covers. The
// confirmation tag is inside it, so the signature binds the sender to the
// post-commit state as well as the transition itself.
func CommitTBS(c domain.Commit) []byte {
	w := newWriter(512)
	commitTBS(w, c)
	return w.b
}

func commitTBS(w *writer, c domain.Commit) {
	w.u8(uint8(TypeCommit))
	w.u8(domain.WireVersion)
	w.raw(c.GroupID[:])
	w.u64(uint64(c.BaseEpoch))
	w.u32(uint32(c.Sender))
	w.u32(uint32(len(c.Proposals)))
	for _, p := range c.Proposals {
		encodeProposal(w, p)
	}
	w.u32(uint32(len(c.Path)))
	for _, s := range c.Path {
		encodeSealedSecret(w, s)
	}
	w.raw(c.TreeHash[:])
	w.varBytes(c.ConfirmationTag)
}

// DecodeCommit parses wire bytes produced by EncodeCommit.
func DecodeCommit(b []byte) (domain.Commit, error) {
	var c domain.Commit
	r := newReader(b, TypeCommit)
	r.version(domain.WireVersion)
	c.GroupID = r.arr16()
	c.BaseEpoch = domain.Epoch(r.u64())
	c.Sender = domain.LeafIndex(r.u32())
	for i, n := 0, r.count(); i < n; i++ {
		c.Proposals = append(c.Proposals, decodeProposal(r))
	}
	for i, n := 0, r.count(); i < n; i++ {
		c.Path = append(c.Path, decodeSealedSecret(r))
	}
	c.TreeHash = r.arr32()
	c.ConfirmationTag = r.varBytes(MaxWireBytes)
	c.Signature = r.varBytes(MaxWireBytes)
	if err := r.done(); err != nil {
		return domain.Commit{}, err
	}
	return c, nil
}

func encodeProposal(w *writer, p domain.Proposal) {
	w.u8(uint8(p.Type))
	switch p.Type {
	case domain.ProposalAdd:
		var kp []byte
		if p.Add != nil {
			kp = EncodeKeyPackage(*p.Add)
		}
		w.varBytes(kp)
	case domain.ProposalRemove:
		w.u32(uint32(p.Removed))
	case domain.ProposalUpdate:
		var k domain.X25519Public
		if p.NewEncryptionKey != nil {
			k = *p.NewEncryptionKey
		}
		w.raw(k.Slice())
	}
}

func decodeProposal(r *reader) domain.Proposal {
	var p domain.Proposal
	p.Type = domain.ProposalType(r.u8())
	switch p.Type {
	case domain.ProposalAdd:
		blob := r.varBytes(MaxWireBytes)
		if r.err != nil {
			return p
		}
		kp, err := DecodeKeyPackage(blob)
		if err != nil {
			r.fail(fmt.Errorf("embedded key package: %w", err))
			return p
		}
		p.Add = &kp
	case domain.ProposalRemove:
		p.Removed = domain.LeafIndex(r.u32())
	case domain.ProposalUpdate:
		k := domain.X25519Public(r.arr32())
		p.NewEncryptionKey = &k
	default:
		r.fail(fmt.Errorf("%w: proposal type %d", ErrMalformed, p.Type))
	}
	return p
}

func encodeSealedSecret(w *writer, s domain.SealedSecret) {
	w.u32(uint32(s.Recipient))
	w.raw(s.Ephemeral.Slice())
	w.varBytes(s.Box)
}

func decodeSealedSecret(r *reader) domain.SealedSecret {
	var s domain.SealedSecret
	s.Recipient = domain.LeafIndex(r.u32())
	s.Ephemeral = r.arr32()
	s.Box = r.varBytes(MaxWireBytes)
	return s
}

// EncodeWelcome renders wel in wire form, signature included.
func EncodeWelcome(wel domain.Welcome) []byte {
	w := newWriter(512)
	welcomeTBS(w, wel)
	w.varBytes(wel.Signature)
	return w.b
}

// WelcomeTBS returns the prefix the welcome signature covers.
func WelcomeTBS(wel domain.Welcome) []byte {
	w := newWriter(512)
	welcomeTBS(w, wel)
	return w.b
}

func welcomeTBS(w *writer, wel domain.Welcome) {
	w.u8(uint8(TypeWelcome))
	w.u8(domain.WireVersion)
	w.raw(wel.GroupID[:])
	w.u64(uint64(wel.Epoch))
	w.raw(wel.KeyPackageHash[:])
	encodeSealedSecret(w, wel.Sealed)
	w.u32(uint32(len(wel.Leaves)))
	for _, l := range wel.Leaves {
		encodeLeaf(w, l)
	}
	w.u32(uint32(wel.JoinerLeaf))
	w.u32(uint32(wel.CommitterLeaf))
	w.varBytes(wel.ConfirmationTag)
}

// DecodeWelcome parses wire bytes produced by EncodeWelcome.
func DecodeWelcome(b []byte) (domain.Welcome, error) {
	var wel domain.Welcome
	r := newReader(b, TypeWelcome)
	r.version(domain.WireVersion)
	wel.GroupID = r.arr16()
	wel.Epoch = domain.Epoch(r.u64())
	wel.KeyPackageHash = r.arr32()
	wel.Sealed = decodeSealedSecret(r)
	for i, n := 0, r.count(); i < n; i++ {
		wel.Leaves = append(wel.Leaves, decodeLeaf(r))
	}
	wel.JoinerLeaf = domain.LeafIndex(r.u32())
	wel.CommitterLeaf = domain.LeafIndex(r.u32())
	wel.ConfirmationTag = r.varBytes(MaxWireBytes)
	wel.Signature = r.varBytes(MaxWireBytes)
	if err := r.done(); err != nil {
		return domain.Welcome{}, err
	}
	return wel, nil
}

func encodeLeaf(w *writer, l domain.LeafNode) {
	w.raw(l.SignatureKey.Slice())
	w.raw(l.EncryptionKey.Slice())
	w.str(l.Credential.Name)
	w.flag(l.Active)
}

func decodeLeaf(r *reader) domain.LeafNode {
	var l domain.LeafNode
	l.SignatureKey = r.arr32()
	l.EncryptionKey = r.arr32()
	l.Credential.Name = r.str()
	l.Active = r.flag()
	return l
}

// HeaderBytes is the canonical 32-byte header image: AEAD associated data
// for the message body and KDF context for its key and nonce.
func HeaderBytes(h domain.MessageHeader) []byte {
	w := newWriter(32)
	w.raw(h.GroupID[:])
	w.u64(uint64(h.Epoch))
	w.u32(uint32(h.Sender))
	w.u32(uint32(h.Generation))
	return w.b
}

// EncodeMessage renders m in wire form.
func EncodeMessage(m domain.Message) []byte {
	w := newWriter(64 + len(m.Body))
	w.u8(uint8(TypeMessage))
	w.u8(domain.WireVersion)
	w.raw(HeaderBytes(m.Header))
	w.varBytes(m.Body)
	return w.b
}

// DecodeMessage parses wire bytes produced by EncodeMessage.
func DecodeMessage(b []byte) (domain.Message, error) {
	var m domain.Message
	r := newReader(b, TypeMessage)
	r.version(domain.WireVersion)
	m.Header.GroupID = r.arr16()
	m.Header.Epoch = domain.Epoch(r.u64())
	m.Header.Sender = domain.LeafIndex(r.u32())
	m.Header.Generation = domain.Generation(r.u32())
	m.Body = r.varBytes(MaxWireBytes)
	if err := r.done(); err != nil {
		return domain.Message{}, err
	}
	return m, nil
}
