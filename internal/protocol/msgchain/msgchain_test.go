package msgchain

import (
	"bytes"
	"crypto/rand"
	"errors"
	"fmt"
	"testing"

	"conclave/internal/domain"
)

func testGroupID(t *testing.T) domain.GroupID {
	t.Helper()
	var gid domain.GroupID
	if _, err := rand.Read(gid[:]); err != nil {
		t.Fatalf("rand: %v", err)
	}
	gid[0] = 1
	return gid
}

func testSecret(t *testing.T) []byte {
	t.Helper()
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		t.Fatalf("rand: %v", err)
	}
	return secret
}

// testPair builds chains for a two-member group: alice at leaf 0, bob at
// leaf 1, both starting at epoch 1.
func testPair(t *testing.T, cfg Config) (domain.GroupID, *Chains, *Chains) {
	t.Helper()
	gid := testGroupID(t)
	secret := testSecret(t)
	senders := []domain.LeafIndex{0, 1}
	alice := New(cfg, 1, 0, secret, senders)
	bob := New(cfg, 1, 1, secret, senders)
	return gid, alice, bob
}

func TestSealOpenInOrder(t *testing.T) {
	gid, alice, bob := testPair(t, Config{})

	for i := 0; i < 3; i++ {
		want := []byte(fmt.Sprintf("from alice %d", i))
		m, err := alice.Seal(gid, want)
		if err != nil {
			t.Fatalf("seal %d: %v", i, err)
		}
		if m.Header.Generation != domain.Generation(i) {
			t.Fatalf("generation = %d, want %d", m.Header.Generation, i)
		}
		got, err := bob.Open(gid, m)
		if err != nil {
			t.Fatalf("open %d: %v", i, err)
		}
		if !bytes.Equal(got, want) {
			t.Fatalf("open %d = %q, want %q", i, got, want)
		}
	}

	want := []byte("from bob")
	m, err := bob.Seal(gid, want)
	if err != nil {
		t.Fatalf("seal reply: %v", err)
	}
	got, err := alice.Open(gid, m)
	if err != nil {
		t.Fatalf("open reply: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("open reply = %q, want %q", got, want)
	}
}

func TestOutOfOrderWithinSkipWindow(t *testing.T) {
	gid, alice, bob := testPair(t, Config{})

	var msgs []domain.Message
	for i := 0; i < 4; i++ {
		m, err := alice.Seal(gid, []byte(fmt.Sprintf("msg %d", i)))
		if err != nil {
			t.Fatalf("seal %d: %v", i, err)
		}
		msgs = append(msgs, m)
	}

	for _, i := range []int{3, 1, 0, 2} {
		got, err := bob.Open(gid, msgs[i])
		if err != nil {
			t.Fatalf("open %d: %v", i, err)
		}
		want := fmt.Sprintf("msg %d", i)
		if string(got) != want {
			t.Fatalf("open %d = %q, want %q", i, got, want)
		}
	}
	if n := len(bob.recv[0].skipped); n != 0 {
		t.Fatalf("skipped cache holds %d keys after full delivery", n)
	}
}

func TestReplayRejected(t *testing.T) {
	gid, alice, bob := testPair(t, Config{})

	m0, err := alice.Seal(gid, []byte("once"))
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	if _, err := bob.Open(gid, m0); err != nil {
		t.Fatalf("first open: %v", err)
	}
	if _, err := bob.Open(gid, m0); !errors.Is(err, domain.ErrReplayOrOutOfWindow) {
		t.Fatalf("replay err = %v, want ErrReplayOrOutOfWindow", err)
	}

	// Same for a generation consumed out of the skipped cache.
	m1, err := alice.Seal(gid, []byte("skipped"))
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	m2, err := alice.Seal(gid, []byte("ahead"))
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	if _, err := bob.Open(gid, m2); err != nil {
		t.Fatalf("open ahead: %v", err)
	}
	if _, err := bob.Open(gid, m1); err != nil {
		t.Fatalf("open cached: %v", err)
	}
	if _, err := bob.Open(gid, m1); !errors.Is(err, domain.ErrReplayOrOutOfWindow) {
		t.Fatalf("cached replay err = %v, want ErrReplayOrOutOfWindow", err)
	}
}

func TestOwnMessageRejected(t *testing.T) {
	gid, alice, _ := testPair(t, Config{})

	m, err := alice.Seal(gid, []byte("to the group"))
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	if _, err := alice.Open(gid, m); !errors.Is(err, domain.ErrReplayOrOutOfWindow) {
		t.Fatalf("own open err = %v, want ErrReplayOrOutOfWindow", err)
	}
}

func TestWrongGroupRejected(t *testing.T) {
	gid, alice, bob := testPair(t, Config{})

	m, err := alice.Seal(gid, []byte("hello"))
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	other := testGroupID(t)
	if _, err := bob.Open(other, m); !errors.Is(err, domain.ErrCryptoFailure) {
		t.Fatalf("wrong group err = %v, want ErrCryptoFailure", err)
	}
}

func TestFutureEpochRejected(t *testing.T) {
	gid, alice, bob := testPair(t, Config{})

	alice.Advance(2, testSecret(t), []domain.LeafIndex{0, 1})
	m, err := alice.Seal(gid, []byte("from the future"))
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	if _, err := bob.Open(gid, m); !errors.Is(err, domain.ErrEpochMismatch) {
		t.Fatalf("future epoch err = %v, want ErrEpochMismatch", err)
	}
}

func TestPastEpochWindow(t *testing.T) {
	gid, alice, bob := testPair(t, Config{})
	senders := []domain.LeafIndex{0, 1}

	early, err := alice.Seal(gid, []byte("epoch 1 first"))
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	late, err := alice.Seal(gid, []byte("epoch 1 second"))
	if err != nil {
		t.Fatalf("seal: %v", err)
	}

	for epoch := domain.Epoch(2); epoch <= 3; epoch++ {
		secret := testSecret(t)
		alice.Advance(epoch, secret, senders)
		bob.Advance(epoch, secret, senders)
	}

	// Epoch 1 sits at the edge of the default two-epoch window.
	got, err := bob.Open(gid, early)
	if err != nil {
		t.Fatalf("open within window: %v", err)
	}
	if string(got) != "epoch 1 first" {
		t.Fatalf("open within window = %q", got)
	}

	secret := testSecret(t)
	alice.Advance(4, secret, senders)
	bob.Advance(4, secret, senders)

	if _, err := bob.Open(gid, late); !errors.Is(err, domain.ErrReplayOrOutOfWindow) {
		t.Fatalf("beyond window err = %v, want ErrReplayOrOutOfWindow", err)
	}
}

func TestSkipBoundEnforced(t *testing.T) {
	gid, alice, bob := testPair(t, Config{MaxSkip: 3})

	var msgs []domain.Message
	for i := 0; i < 6; i++ {
		m, err := alice.Seal(gid, []byte(fmt.Sprintf("msg %d", i)))
		if err != nil {
			t.Fatalf("seal %d: %v", i, err)
		}
		msgs = append(msgs, m)
	}

	if _, err := bob.Open(gid, msgs[5]); !errors.Is(err, domain.ErrReplayOrOutOfWindow) {
		t.Fatalf("far skip err = %v, want ErrReplayOrOutOfWindow", err)
	}
	// Generation 3 is exactly MaxSkip ahead of the head and still lands.
	if _, err := bob.Open(gid, msgs[3]); err != nil {
		t.Fatalf("open at bound: %v", err)
	}
}

func TestTamperedMessageLeavesStateIntact(t *testing.T) {
	gid, alice, bob := testPair(t, Config{})

	m0, err := alice.Seal(gid, []byte("first"))
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	m1, err := alice.Seal(gid, []byte("second"))
	if err != nil {
		t.Fatalf("seal: %v", err)
	}

	bent := m0
	bent.Body = append([]byte(nil), m0.Body...)
	bent.Body[0] ^= 0x01
	if _, err := bob.Open(gid, bent); !errors.Is(err, domain.ErrCryptoFailure) {
		t.Fatalf("tampered body err = %v, want ErrCryptoFailure", err)
	}

	// A lying generation forces a scratch ratchet that must not stick.
	lying := m1
	lying.Header.Generation = 7
	if _, err := bob.Open(gid, lying); !errors.Is(err, domain.ErrCryptoFailure) {
		t.Fatalf("lying header err = %v, want ErrCryptoFailure", err)
	}
	if next := bob.recv[0].next; next != 0 {
		t.Fatalf("failed open advanced head to %d", next)
	}
	if n := len(bob.recv[0].skipped); n != 0 {
		t.Fatalf("failed open cached %d keys", n)
	}

	// The authentic messages still open.
	if _, err := bob.Open(gid, m0); err != nil {
		t.Fatalf("open after tamper: %v", err)
	}
	if _, err := bob.Open(gid, m1); err != nil {
		t.Fatalf("open after tamper: %v", err)
	}
}

func TestSkippedCacheEviction(t *testing.T) {
	gid, alice, bob := testPair(t, Config{MaxCached: 2})

	var msgs []domain.Message
	for i := 0; i < 4; i++ {
		m, err := alice.Seal(gid, []byte(fmt.Sprintf("msg %d", i)))
		if err != nil {
			t.Fatalf("seal %d: %v", i, err)
		}
		msgs = append(msgs, m)
	}

	// Opening generation 3 first caches 0..2, which overflows the cap.
	if _, err := bob.Open(gid, msgs[3]); err != nil {
		t.Fatalf("open head: %v", err)
	}
	if n := len(bob.recv[0].skipped); n != 2 {
		t.Fatalf("cache holds %d keys, cap 2", n)
	}

	opened := 0
	for i := 0; i < 3; i++ {
		_, err := bob.Open(gid, msgs[i])
		switch {
		case err == nil:
			opened++
		case errors.Is(err, domain.ErrReplayOrOutOfWindow):
		default:
			t.Fatalf("open %d: %v", i, err)
		}
	}
	if opened != 2 {
		t.Fatalf("opened %d of the skipped messages, want 2", opened)
	}
}

func TestCloneIsolation(t *testing.T) {
	gid, alice, bob := testPair(t, Config{})

	m, err := alice.Seal(gid, []byte("hello"))
	if err != nil {
		t.Fatalf("seal: %v", err)
	}

	clone := bob.Clone()
	if _, err := clone.Open(gid, m); err != nil {
		t.Fatalf("clone open: %v", err)
	}
	// The original never saw the message and opens it fresh.
	if _, err := bob.Open(gid, m); err != nil {
		t.Fatalf("original open after clone consumed: %v", err)
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	gid, alice, bob := testPair(t, Config{})

	var msgs []domain.Message
	for i := 0; i < 4; i++ {
		m, err := alice.Seal(gid, []byte(fmt.Sprintf("msg %d", i)))
		if err != nil {
			t.Fatalf("seal %d: %v", i, err)
		}
		msgs = append(msgs, m)
	}
	// Leaves generations 0 and 2 cached, 1 and 3 consumed.
	if _, err := bob.Open(gid, msgs[3]); err != nil {
		t.Fatalf("open 3: %v", err)
	}
	if _, err := bob.Open(gid, msgs[1]); err != nil {
		t.Fatalf("open 1: %v", err)
	}
	reply, err := bob.Seal(gid, []byte("reply 0"))
	if err != nil {
		t.Fatalf("seal reply: %v", err)
	}
	if _, err := alice.Open(gid, reply); err != nil {
		t.Fatalf("open reply: %v", err)
	}

	sec := &domain.SnapshotSecrets{}
	bob.FillSnapshot(sec)
	snap := domain.GroupSnapshot{
		Version: domain.SnapshotVersion,
		GroupID: gid,
		Epoch:   bob.Epoch(),
		OwnLeaf: 1,
		Secrets: sec,
	}

	restored, err := Restore(Config{}, snap)
	if err != nil {
		t.Fatalf("restore: %v", err)
	}

	// Cached skipped keys survive the round trip.
	for _, i := range []int{0, 2} {
		got, err := restored.Open(gid, msgs[i])
		if err != nil {
			t.Fatalf("restored open %d: %v", i, err)
		}
		if string(got) != fmt.Sprintf("msg %d", i) {
			t.Fatalf("restored open %d = %q", i, got)
		}
	}
	// Consumed generations do not.
	for _, i := range []int{1, 3} {
		if _, err := restored.Open(gid, msgs[i]); !errors.Is(err, domain.ErrReplayOrOutOfWindow) {
			t.Fatalf("restored open %d err = %v, want ErrReplayOrOutOfWindow", i, err)
		}
	}

	// The sending chain resumes at the next unconsumed generation.
	next, err := restored.Seal(gid, []byte("reply 1"))
	if err != nil {
		t.Fatalf("restored seal: %v", err)
	}
	if next.Header.Generation != 1 {
		t.Fatalf("restored generation = %d, want 1", next.Header.Generation)
	}
	if _, err := alice.Open(gid, next); err != nil {
		t.Fatalf("open restored reply: %v", err)
	}
}

func TestSnapshotKeepsPastWindow(t *testing.T) {
	gid, alice, bob := testPair(t, Config{})
	senders := []domain.LeafIndex{0, 1}

	old, err := alice.Seal(gid, []byte("before the commit"))
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	secret := testSecret(t)
	alice.Advance(2, secret, senders)
	bob.Advance(2, secret, senders)

	sec := &domain.SnapshotSecrets{}
	bob.FillSnapshot(sec)
	restored, err := Restore(Config{}, domain.GroupSnapshot{
		Version: domain.SnapshotVersion,
		GroupID: gid,
		Epoch:   bob.Epoch(),
		OwnLeaf: 1,
		Secrets: sec,
	})
	if err != nil {
		t.Fatalf("restore: %v", err)
	}

	got, err := restored.Open(gid, old)
	if err != nil {
		t.Fatalf("open past epoch after restore: %v", err)
	}
	if string(got) != "before the commit" {
		t.Fatalf("open past epoch = %q", got)
	}
}

func TestRestoreRejectsMalformedSecrets(t *testing.T) {
	gid, _, bob := testPair(t, Config{})

	if _, err := Restore(Config{}, domain.GroupSnapshot{GroupID: gid}); err == nil {
		t.Fatal("restore accepted a public-only snapshot")
	}

	sec := &domain.SnapshotSecrets{}
	bob.FillSnapshot(sec)
	sec.Send.Key = sec.Send.Key[:16]
	if _, err := Restore(Config{}, domain.GroupSnapshot{GroupID: gid, Secrets: sec}); err == nil {
		t.Fatal("restore accepted a truncated chain key")
	}
}
