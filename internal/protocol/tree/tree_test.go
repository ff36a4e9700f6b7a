package tree

import (
	"bytes"
	"testing"

	"conclave/internal/crypto"
	"conclave/internal/domain"
)

func testIdentity(t *testing.T, name string) domain.Identity {
	t.Helper()
	priv, pub, err := crypto.GenerateEd25519()
	if err != nil {
		t.Fatalf("generate identity: %v", err)
	}
	return domain.Identity{Name: name, EdPub: pub, EdPriv: priv}
}

func testKeyPackage(t *testing.T, name string) *domain.KeyPackage {
	t.Helper()
	_, edPub, err := crypto.GenerateEd25519()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	_, xPub, err := crypto.GenerateX25519()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	return &domain.KeyPackage{
		Version:      domain.WireVersion,
		Suite:        domain.SuiteX25519ChaChaSHA256Ed25519,
		InitKey:      xPub,
		SignatureKey: edPub,
		Credential:   domain.Credential{Name: name},
	}
}

func freshCommitSecret() []byte {
	return bytes.Repeat([]byte{0x5A}, 32)
}

// replica clones a state the way a restart does.
func replica(t *testing.T, s *State) *State {
	t.Helper()
	snap := s.Snapshot()
	r, err := FromSnapshot(snap)
	if err != nil {
		t.Fatalf("replica: %v", err)
	}
	return r
}

func TestCanonicalGroupIDAdoptsValidHex(t *testing.T) {
	const hex = "00112233445566778899aabbccddeeff"
	id, err := CanonicalGroupID(hex)
	if err != nil {
		t.Fatalf("canonical: %v", err)
	}
	if id.String() != hex {
		t.Fatalf("valid suggestion not adopted: got %s", id)
	}
}

func TestCanonicalGroupIDHashesEverythingElse(t *testing.T) {
	for _, suggestion := range []string{"", "team chat", "deadbeef", "00000000000000000000000000000000"} {
		a, err := CanonicalGroupID(suggestion)
		if err != nil {
			t.Fatalf("canonical(%q): %v", suggestion, err)
		}
		if a.IsZero() {
			t.Fatalf("canonical(%q) produced the reserved zero id", suggestion)
		}
		b, err := CanonicalGroupID(suggestion)
		if err != nil {
			t.Fatalf("canonical(%q): %v", suggestion, err)
		}
		if a == b {
			t.Fatalf("canonical(%q) is not salted: %s twice", suggestion, a)
		}
	}
}

func TestNewGroupStartsAtEpochZero(t *testing.T) {
	s, err := NewGroup("team", testIdentity(t, "alice"))
	if err != nil {
		t.Fatalf("new group: %v", err)
	}
	if s.Epoch() != 0 {
		t.Fatalf("epoch = %d, want 0", s.Epoch())
	}
	if got := len(s.ActiveLeaves()); got != 1 {
		t.Fatalf("active leaves = %d, want 1", got)
	}
	if len(s.ConfirmationTag()) != 32 {
		t.Fatalf("confirmation tag length %d", len(s.ConfirmationTag()))
	}
}

func TestNewGroupSecretsAreFresh(t *testing.T) {
	a, err := NewGroup("same", testIdentity(t, "alice"))
	if err != nil {
		t.Fatalf("new group: %v", err)
	}
	b, err := NewGroup("same", testIdentity(t, "alice"))
	if err != nil {
		t.Fatalf("new group: %v", err)
	}
	if bytes.Equal(a.EncryptionSecret(), b.EncryptionSecret()) {
		t.Fatal("two creations share an encryption secret")
	}
}

func TestAdvanceConvergesAcrossReplicas(t *testing.T) {
	s, err := NewGroup("team", testIdentity(t, "alice"))
	if err != nil {
		t.Fatalf("new group: %v", err)
	}
	r := replica(t, s)

	proposals := []domain.Proposal{{Type: domain.ProposalAdd, Add: testKeyPackage(t, "bob")}}
	secret := freshCommitSecret()

	n1, _, err := s.Advance(s.OwnLeaf(), proposals, secret, nil)
	if err != nil {
		t.Fatalf("advance committer: %v", err)
	}
	n2, _, err := r.Advance(s.OwnLeaf(), proposals, secret, nil)
	if err != nil {
		t.Fatalf("advance replica: %v", err)
	}

	if !bytes.Equal(n1.ConfirmationTag(), n2.ConfirmationTag()) {
		t.Fatal("replicas diverged on confirmation tag")
	}
	if n1.TreeHash() != n2.TreeHash() {
		t.Fatal("replicas diverged on tree hash")
	}
	if !bytes.Equal(n1.EncryptionSecret(), n2.EncryptionSecret()) {
		t.Fatal("replicas diverged on encryption secret")
	}
}

func TestAdvanceRotatesEverySecret(t *testing.T) {
	s, err := NewGroup("team", testIdentity(t, "alice"))
	if err != nil {
		t.Fatalf("new group: %v", err)
	}
	next, _, err := s.Advance(s.OwnLeaf(), []domain.Proposal{{Type: domain.ProposalAdd, Add: testKeyPackage(t, "bob")}}, freshCommitSecret(), nil)
	if err != nil {
		t.Fatalf("advance: %v", err)
	}
	if next.Epoch() != s.Epoch()+1 {
		t.Fatalf("epoch = %d, want %d", next.Epoch(), s.Epoch()+1)
	}
	if bytes.Equal(next.EncryptionSecret(), s.EncryptionSecret()) {
		t.Fatal("encryption secret survived the epoch change")
	}
	if bytes.Equal(next.ConfirmationTag(), s.ConfirmationTag()) {
		t.Fatal("confirmation tag survived the epoch change")
	}
}

func TestAddReusesLeftmostBlank(t *testing.T) {
	s, err := NewGroup("team", testIdentity(t, "alice"))
	if err != nil {
		t.Fatalf("new group: %v", err)
	}
	s, _, err = s.Advance(s.OwnLeaf(), []domain.Proposal{{Type: domain.ProposalAdd, Add: testKeyPackage(t, "bob")}}, freshCommitSecret(), nil)
	if err != nil {
		t.Fatalf("add bob: %v", err)
	}
	s, _, err = s.Advance(s.OwnLeaf(), []domain.Proposal{{Type: domain.ProposalAdd, Add: testKeyPackage(t, "carol")}}, freshCommitSecret(), nil)
	if err != nil {
		t.Fatalf("add carol: %v", err)
	}

	s, _, err = s.Advance(s.OwnLeaf(), []domain.Proposal{{Type: domain.ProposalRemove, Removed: 1}}, freshCommitSecret(), nil)
	if err != nil {
		t.Fatalf("remove bob: %v", err)
	}
	if leaf, _ := s.Leaf(1); leaf.Active {
		t.Fatal("removed leaf still active")
	}
	if got := s.NextFreeLeaf(); got != 1 {
		t.Fatalf("next free leaf = %d, want the blank at 1", got)
	}

	s, _, err = s.Advance(s.OwnLeaf(), []domain.Proposal{{Type: domain.ProposalAdd, Add: testKeyPackage(t, "dave")}}, freshCommitSecret(), nil)
	if err != nil {
		t.Fatalf("add dave: %v", err)
	}
	leaf, ok := s.Leaf(1)
	if !ok || !leaf.Active || leaf.Credential.Name != "dave" {
		t.Fatalf("blank not reused: leaf 1 = %+v", leaf)
	}
	if got := len(s.Leaves()); got != 3 {
		t.Fatalf("arena grew to %d leaves, want 3", got)
	}
}

func TestUpdateRotatesSenderKey(t *testing.T) {
	s, err := NewGroup("team", testIdentity(t, "alice"))
	if err != nil {
		t.Fatalf("new group: %v", err)
	}
	before, _ := s.Leaf(s.OwnLeaf())

	newPriv, newPub, err := crypto.GenerateX25519()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	next, _, err := s.Advance(s.OwnLeaf(), []domain.Proposal{{Type: domain.ProposalUpdate, NewEncryptionKey: &newPub}}, freshCommitSecret(), &newPriv)
	if err != nil {
		t.Fatalf("advance: %v", err)
	}

	after, _ := next.Leaf(next.OwnLeaf())
	if after.EncryptionKey == before.EncryptionKey {
		t.Fatal("leaf encryption key did not rotate")
	}
	if after.SignatureKey != before.SignatureKey {
		t.Fatal("leaf signature key rotated on update")
	}
	if next.LeafPriv() != newPriv {
		t.Fatal("own leaf private key not replaced")
	}
}

func TestAdvanceRejectsBadProposalSets(t *testing.T) {
	s, err := NewGroup("team", testIdentity(t, "alice"))
	if err != nil {
		t.Fatalf("new group: %v", err)
	}

	if _, _, err := s.Advance(s.OwnLeaf(), nil, freshCommitSecret(), nil); err == nil {
		t.Fatal("empty proposal set accepted")
	}
	if _, _, err := s.Advance(s.OwnLeaf(), []domain.Proposal{
		{Type: domain.ProposalAdd, Add: testKeyPackage(t, "bob")},
		{Type: domain.ProposalAdd, Add: testKeyPackage(t, "carol")},
	}, freshCommitSecret(), nil); err == nil {
		t.Fatal("double add accepted")
	}
	if _, _, err := s.Advance(s.OwnLeaf(), []domain.Proposal{
		{Type: domain.ProposalRemove, Removed: s.OwnLeaf()},
	}, freshCommitSecret(), nil); err == nil {
		t.Fatal("self-remove accepted")
	}
	if _, _, err := s.Advance(s.OwnLeaf(), []domain.Proposal{
		{Type: domain.ProposalRemove, Removed: 7},
	}, freshCommitSecret(), nil); err == nil {
		t.Fatal("out-of-range remove accepted")
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	s, err := NewGroup("team", testIdentity(t, "alice"))
	if err != nil {
		t.Fatalf("new group: %v", err)
	}
	s, _, err = s.Advance(s.OwnLeaf(), []domain.Proposal{{Type: domain.ProposalAdd, Add: testKeyPackage(t, "bob")}}, freshCommitSecret(), nil)
	if err != nil {
		t.Fatalf("advance: %v", err)
	}

	r := replica(t, s)
	if r.Epoch() != s.Epoch() || r.GroupID() != s.GroupID() || r.OwnLeaf() != s.OwnLeaf() {
		t.Fatal("replica coordinates differ")
	}
	if !bytes.Equal(r.ConfirmationTag(), s.ConfirmationTag()) {
		t.Fatal("replica confirmation tag differs")
	}
}

func TestFromSnapshotRejectsPublicOnlyRecords(t *testing.T) {
	s, err := NewGroup("team", testIdentity(t, "alice"))
	if err != nil {
		t.Fatalf("new group: %v", err)
	}
	snap := s.Snapshot()
	snap.Secrets = nil
	if _, err := FromSnapshot(snap); err == nil {
		t.Fatal("public-only snapshot restored")
	}
}
