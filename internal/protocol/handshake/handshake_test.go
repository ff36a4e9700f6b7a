package handshake

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"conclave/internal/crypto"
	"conclave/internal/domain"
	"conclave/internal/protocol/tree"
	"conclave/internal/protocol/wire"
)

func newIdentity(t *testing.T, name string) domain.Identity {
	t.Helper()
	priv, pub, err := crypto.GenerateEd25519()
	if err != nil {
		t.Fatalf("generate identity: %v", err)
	}
	return domain.Identity{Name: name, EdPub: pub, EdPriv: priv}
}

// admit runs the full add flow over the wire codec: builder commits, joiner
// joins from the re-decoded welcome. It returns the joiner's state and the
// re-decoded commit for other members.
func admit(t *testing.T, st *tree.State, builder, joiner domain.Identity) (*tree.State, *tree.State, domain.Commit) {
	t.Helper()

	_, kpPriv, kpRaw, err := NewKeyPackage(joiner, time.Now())
	if err != nil {
		t.Fatalf("mint key package: %v", err)
	}
	kp, err := wire.DecodeKeyPackage(kpRaw)
	if err != nil {
		t.Fatalf("decode key package: %v", err)
	}
	res, err := BuildAdd(st, builder, kp, time.Now())
	if err != nil {
		t.Fatalf("build add: %v", err)
	}

	commit, err := wire.DecodeCommit(wire.EncodeCommit(res.Commit))
	if err != nil {
		t.Fatalf("commit round trip: %v", err)
	}
	welcome, err := wire.DecodeWelcome(wire.EncodeWelcome(res.Welcome))
	if err != nil {
		t.Fatalf("welcome round trip: %v", err)
	}

	joined, err := Join(welcome, joiner, kpPriv.InitPriv)
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	return res.Next, joined, commit
}

func TestAddThenJoinConverges(t *testing.T) {
	alice := newIdentity(t, "alice")
	bob := newIdentity(t, "bob")

	st, err := tree.NewGroup("team", alice)
	if err != nil {
		t.Fatalf("new group: %v", err)
	}
	aliceSt, bobSt, _ := admit(t, st, alice, bob)

	if aliceSt.Epoch() != 1 || bobSt.Epoch() != 1 {
		t.Fatalf("epochs = %d/%d, want 1/1", aliceSt.Epoch(), bobSt.Epoch())
	}
	if !bytes.Equal(aliceSt.ConfirmationTag(), bobSt.ConfirmationTag()) {
		t.Fatal("adder and joiner diverged")
	}
	if bobSt.OwnLeaf() != 1 || aliceSt.OwnLeaf() != 0 {
		t.Fatalf("leaves = %d/%d, want 1/0", bobSt.OwnLeaf(), aliceSt.OwnLeaf())
	}
	if !bytes.Equal(aliceSt.EncryptionSecret(), bobSt.EncryptionSecret()) {
		t.Fatal("members hold different encryption secrets")
	}
}

func TestApplyConvergesExistingMembers(t *testing.T) {
	alice := newIdentity(t, "alice")
	bob := newIdentity(t, "bob")
	carol := newIdentity(t, "carol")

	st, err := tree.NewGroup("team", alice)
	if err != nil {
		t.Fatalf("new group: %v", err)
	}
	aliceSt, bobSt, _ := admit(t, st, alice, bob)
	aliceSt, carolSt, commit := admit(t, aliceSt, alice, carol)

	bobSt, err = Apply(bobSt, commit)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}

	for _, s := range []*tree.State{bobSt, carolSt} {
		if !bytes.Equal(aliceSt.ConfirmationTag(), s.ConfirmationTag()) {
			t.Fatal("members diverged after add commit")
		}
	}
	if got := len(bobSt.ActiveLeaves()); got != 3 {
		t.Fatalf("bob sees %d active leaves, want 3", got)
	}
}

func TestApplyClassifiesWrongEpochs(t *testing.T) {
	alice := newIdentity(t, "alice")
	bob := newIdentity(t, "bob")
	carol := newIdentity(t, "carol")
	dave := newIdentity(t, "dave")

	st, err := tree.NewGroup("team", alice)
	if err != nil {
		t.Fatalf("new group: %v", err)
	}
	aliceSt, bobSt, _ := admit(t, st, alice, bob)
	aliceSt, _, commitCarol := admit(t, aliceSt, alice, carol)
	_, _, commitDave := admit(t, aliceSt, alice, dave)

	// Delivered out of order: the later commit refers to an epoch bob has
	// not reached.
	if _, err := Apply(bobSt, commitDave); !errors.Is(err, domain.ErrEpochMismatch) {
		t.Fatalf("future commit: got %v, want ErrEpochMismatch", err)
	}

	bobSt, err = Apply(bobSt, commitCarol)
	if err != nil {
		t.Fatalf("apply carol: %v", err)
	}
	// Redelivery of an already applied commit.
	if _, err := Apply(bobSt, commitCarol); !errors.Is(err, domain.ErrStaleEpoch) {
		t.Fatalf("replayed commit: got %v, want ErrStaleEpoch", err)
	}

	if _, err := Apply(bobSt, commitDave); err != nil {
		t.Fatalf("apply dave after catching up: %v", err)
	}
}

func TestApplyRejectsTampering(t *testing.T) {
	alice := newIdentity(t, "alice")
	bob := newIdentity(t, "bob")
	carol := newIdentity(t, "carol")

	st, err := tree.NewGroup("team", alice)
	if err != nil {
		t.Fatalf("new group: %v", err)
	}
	aliceSt, bobSt, _ := admit(t, st, alice, bob)
	_, _, commit := admit(t, aliceSt, alice, carol)

	badSig := commit
	badSig.Signature = append([]byte(nil), commit.Signature...)
	badSig.Signature[0] ^= 0x01
	if _, err := Apply(bobSt, badSig); !errors.Is(err, domain.ErrInvalidCommit) {
		t.Fatalf("tampered signature: got %v, want ErrInvalidCommit", err)
	}

	badHash := commit
	badHash.TreeHash[0] ^= 0x01
	if _, err := Apply(bobSt, badHash); !errors.Is(err, domain.ErrInvalidCommit) {
		t.Fatalf("tampered tree hash: got %v, want ErrInvalidCommit", err)
	}

	badSender := commit
	badSender.Sender = 9
	if _, err := Apply(bobSt, badSender); !errors.Is(err, domain.ErrInvalidCommit) {
		t.Fatalf("unknown sender: got %v, want ErrInvalidCommit", err)
	}
}

func TestRemoveLocksOutTheRemoved(t *testing.T) {
	alice := newIdentity(t, "alice")
	bob := newIdentity(t, "bob")
	carol := newIdentity(t, "carol")

	st, err := tree.NewGroup("team", alice)
	if err != nil {
		t.Fatalf("new group: %v", err)
	}
	aliceSt, bobSt, _ := admit(t, st, alice, bob)
	aliceSt, carolSt, commitCarol := admit(t, aliceSt, alice, carol)
	bobSt, err = Apply(bobSt, commitCarol)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}

	res, err := BuildRemove(aliceSt, alice, carolSt.OwnLeaf())
	if err != nil {
		t.Fatalf("build remove: %v", err)
	}
	commit, err := wire.DecodeCommit(wire.EncodeCommit(res.Commit))
	if err != nil {
		t.Fatalf("commit round trip: %v", err)
	}

	bobSt, err = Apply(bobSt, commit)
	if err != nil {
		t.Fatalf("survivor apply: %v", err)
	}
	if !bytes.Equal(res.Next.ConfirmationTag(), bobSt.ConfirmationTag()) {
		t.Fatal("survivors diverged after remove")
	}
	if leaf, _ := bobSt.Leaf(carolSt.OwnLeaf()); leaf.Active {
		t.Fatal("removed leaf still active for survivors")
	}

	if _, err := Apply(carolSt, commit); !errors.Is(err, domain.ErrRemovedFromGroup) {
		t.Fatalf("removed member: got %v, want ErrRemovedFromGroup", err)
	}
}

func TestUpdateRotatesCommitterLeaf(t *testing.T) {
	alice := newIdentity(t, "alice")
	bob := newIdentity(t, "bob")

	st, err := tree.NewGroup("team", alice)
	if err != nil {
		t.Fatalf("new group: %v", err)
	}
	aliceSt, bobSt, _ := admit(t, st, alice, bob)
	beforeLeaf, _ := aliceSt.Leaf(bobSt.OwnLeaf())

	res, err := BuildUpdate(bobSt, bob)
	if err != nil {
		t.Fatalf("build update: %v", err)
	}
	commit, err := wire.DecodeCommit(wire.EncodeCommit(res.Commit))
	if err != nil {
		t.Fatalf("commit round trip: %v", err)
	}
	aliceSt, err = Apply(aliceSt, commit)
	if err != nil {
		t.Fatalf("apply update: %v", err)
	}

	if !bytes.Equal(aliceSt.ConfirmationTag(), res.Next.ConfirmationTag()) {
		t.Fatal("members diverged after update")
	}
	afterLeaf, _ := aliceSt.Leaf(bobSt.OwnLeaf())
	if afterLeaf.EncryptionKey == beforeLeaf.EncryptionKey {
		t.Fatal("update did not rotate the leaf key")
	}
}

func TestJoinRejectsForeignWelcome(t *testing.T) {
	alice := newIdentity(t, "alice")
	bob := newIdentity(t, "bob")
	mallory := newIdentity(t, "mallory")

	st, err := tree.NewGroup("team", alice)
	if err != nil {
		t.Fatalf("new group: %v", err)
	}
	_, kpPriv, kpRaw, err := NewKeyPackage(bob, time.Now())
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	kp, err := wire.DecodeKeyPackage(kpRaw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	res, err := BuildAdd(st, alice, kp, time.Now())
	if err != nil {
		t.Fatalf("build add: %v", err)
	}

	if _, err := Join(res.Welcome, mallory, kpPriv.InitPriv); !errors.Is(err, domain.ErrInvalidWelcome) {
		t.Fatalf("wrong identity: got %v, want ErrInvalidWelcome", err)
	}

	otherPriv, _, err := crypto.GenerateX25519()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if _, err := Join(res.Welcome, bob, otherPriv); !errors.Is(err, domain.ErrInvalidWelcome) {
		t.Fatalf("wrong init key: got %v, want ErrInvalidWelcome", err)
	}

	tampered := res.Welcome
	tampered.ConfirmationTag = append([]byte(nil), res.Welcome.ConfirmationTag...)
	tampered.ConfirmationTag[0] ^= 0x01
	if _, err := Join(tampered, bob, kpPriv.InitPriv); !errors.Is(err, domain.ErrInvalidWelcome) {
		t.Fatalf("tampered tag: got %v, want ErrInvalidWelcome", err)
	}
}

func TestValidateKeyPackageWindowAndSignature(t *testing.T) {
	bob := newIdentity(t, "bob")

	_, _, kpRaw, err := NewKeyPackage(bob, time.Now())
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	kp, err := wire.DecodeKeyPackage(kpRaw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if err := ValidateKeyPackage(kp, time.Now()); err != nil {
		t.Fatalf("fresh package invalid: %v", err)
	}

	if err := ValidateKeyPackage(kp, time.Now().Add(-24*time.Hour)); !errors.Is(err, domain.ErrInvalidKeyPackage) {
		t.Fatalf("premature use: got %v, want ErrInvalidKeyPackage", err)
	}
	if err := ValidateKeyPackage(kp, time.Now().Add(31*24*time.Hour)); !errors.Is(err, domain.ErrInvalidKeyPackage) {
		t.Fatalf("expired use: got %v, want ErrInvalidKeyPackage", err)
	}

	forged := kp
	forged.Credential.Name = "mallory"
	if err := ValidateKeyPackage(forged, time.Now()); !errors.Is(err, domain.ErrInvalidKeyPackage) {
		t.Fatalf("forged credential: got %v, want ErrInvalidKeyPackage", err)
	}
}
