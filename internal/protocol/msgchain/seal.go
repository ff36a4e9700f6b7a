package msgchain

import (
	"fmt"

	"conclave/internal/crypto"
	"conclave/internal/domain"
	"conclave/internal/protocol/wire"
	"conclave/internal/util/memzero"
)

// Seal encrypts plaintext at this member's next generation and ratchets
// the sending chain past it. The consumed key is never retained, so a
// sealed generation is beyond reach of any later state compromise.
func (c *Chains) Seal(gid domain.GroupID, plaintext []byte) (domain.Message, error) {
	if len(c.send.key) == 0 {
		return domain.Message{}, fmt.Errorf("%w: sending chain uninitialised", domain.ErrCryptoFailure)
	}

	header := domain.MessageHeader{GroupID: gid, Epoch: c.epoch, Sender: c.ownLeaf, Generation: c.send.next}
	hb := wire.HeaderBytes(header)

	key, nonce := messageKey(c.send.key, hb)
	body, err := crypto.AEADSeal(key, nonce, plaintext, hb)
	memzero.Zero(key)
	if err != nil {
		return domain.Message{}, fmt.Errorf("%w: seal: %v", domain.ErrCryptoFailure, err)
	}

	old := c.send.key
	c.send.key = nextKey(old)
	memzero.Zero(old)
	c.send.next++

	return domain.Message{Header: header, Body: body}, nil
}

// Open decrypts a message from another member, serving the current epoch,
// the retained past window, and out-of-order generations within the skip
// window. State advances only after the AEAD accepts: a failed open leaves
// every chain and cached key exactly as it was.
func (c *Chains) Open(gid domain.GroupID, m domain.Message) ([]byte, error) {
	h := m.Header
	if h.GroupID != gid {
		return nil, fmt.Errorf("%w: message for group %s", domain.ErrCryptoFailure, h.GroupID.Short())
	}
	if h.Epoch > c.epoch {
		return nil, fmt.Errorf("%w: message epoch %d, local epoch %d", domain.ErrEpochMismatch, h.Epoch, c.epoch)
	}
	if h.Sender == c.ownLeaf {
		// Sending consumed these generations; no receive chain exists.
		return nil, fmt.Errorf("%w: own message", domain.ErrReplayOrOutOfWindow)
	}

	recv := c.recv
	if h.Epoch < c.epoch {
		recv = nil
		for _, pe := range c.past {
			if pe.epoch == h.Epoch {
				recv = pe.recv
				break
			}
		}
		if recv == nil {
			return nil, fmt.Errorf("%w: epoch %d outside retained window", domain.ErrReplayOrOutOfWindow, h.Epoch)
		}
	}
	rc, ok := recv[h.Sender]
	if !ok {
		return nil, fmt.Errorf("%w: no chain for sender leaf %d", domain.ErrCryptoFailure, h.Sender)
	}

	hb := wire.HeaderBytes(h)

	// Behind the head: either a cached skipped key or a replay.
	if h.Generation < rc.next {
		cached, ok := rc.skipped[h.Generation]
		if !ok {
			return nil, fmt.Errorf("%w: generation %d already consumed", domain.ErrReplayOrOutOfWindow, h.Generation)
		}
		key, nonce := messageKey(cached, hb)
		pt, err := crypto.AEADOpen(key, nonce, m.Body, hb)
		memzero.Zero(key)
		if err != nil {
			return nil, fmt.Errorf("%w: open: %v", domain.ErrCryptoFailure, err)
		}
		memzero.Zero(cached)
		delete(rc.skipped, h.Generation)
		return pt, nil
	}

	// At or ahead of the head: ratchet forward on scratch state.
	if h.Generation-rc.next > domain.Generation(c.cfg.MaxSkip) {
		return nil, fmt.Errorf("%w: generation %d too far ahead of %d", domain.ErrReplayOrOutOfWindow, h.Generation, rc.next)
	}
	ck := append([]byte(nil), rc.key...)
	var scratch map[domain.Generation][]byte
	for g := rc.next; g < h.Generation; g++ {
		if scratch == nil {
			scratch = make(map[domain.Generation][]byte)
		}
		scratch[g] = ck
		ck = nextKey(ck)
	}
	key, nonce := messageKey(ck, hb)
	pt, err := crypto.AEADOpen(key, nonce, m.Body, hb)
	memzero.Zero(key)
	if err != nil {
		memzero.Zero(ck)
		memzero.Map(scratch)
		return nil, fmt.Errorf("%w: open: %v", domain.ErrCryptoFailure, err)
	}

	// Commit: cache the skipped generations, move the head past this one.
	for g, k := range scratch {
		if len(rc.skipped) >= c.cfg.MaxCached {
			for evict := range rc.skipped {
				memzero.Zero(rc.skipped[evict])
				delete(rc.skipped, evict)
				break
			}
		}
		rc.skipped[g] = k
	}
	memzero.Zero(rc.key)
	rc.key = nextKey(ck)
	memzero.Zero(ck)
	rc.next = h.Generation + 1

	return pt, nil
}
