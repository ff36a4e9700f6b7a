package msgchain

import (
	"encoding/binary"

	"conclave/internal/crypto"
	"conclave/internal/domain"
	"conclave/internal/util/memzero"
)

const (
	// DefaultMaxSkip bounds how far ahead of a chain head a single message
	// may reach.
	DefaultMaxSkip = 1000

	// DefaultMaxCached bounds the skipped keys cached per sender chain.
	DefaultMaxCached = 1000

	// DefaultPastEpochs is how many superseded epochs stay decryptable.
	DefaultPastEpochs = 2

	chainKeyBytes = 32
)

// Config tunes the out-of-order tolerance windows.
type Config struct {
	MaxSkip    uint32
	MaxCached  int
	PastEpochs int
}

func (c Config) withDefaults() Config {
	if c.MaxSkip == 0 {
		c.MaxSkip = DefaultMaxSkip
	}
	if c.MaxCached == 0 {
		c.MaxCached = DefaultMaxCached
	}
	if c.PastEpochs == 0 {
		c.PastEpochs = DefaultPastEpochs
	}
	return c
}

// chain is one hash-ratchet head: the key producing generation next.
type chain struct {
	key  []byte
	next domain.Generation
}

func (c chain) clone() chain {
	return chain{key: append([]byte(nil), c.key...), next: c.next}
}

// recvChain is a receiving head plus its cached skipped keys.
type recvChain struct {
	chain
	skipped map[domain.Generation][]byte
}

func (r *recvChain) clone() *recvChain {
	out := &recvChain{chain: r.chain.clone(), skipped: make(map[domain.Generation][]byte, len(r.skipped))}
	for g, k := range r.skipped {
		out.skipped[g] = append([]byte(nil), k...)
	}
	return out
}

func (r *recvChain) wipe() {
	memzero.Zero(r.key)
	memzero.Map(r.skipped)
}

// epochRecv is the receive-only remnant of a superseded epoch.
type epochRecv struct {
	epoch domain.Epoch
	recv  map[domain.LeafIndex]*recvChain
}

// Chains is the message key state of one group member: the sending chain
// for the current epoch, receiving chains for every other active leaf, and
// a bounded window of past-epoch receive state.
type Chains struct {
	cfg     Config
	epoch   domain.Epoch
	ownLeaf domain.LeafIndex
	send    chain
	recv    map[domain.LeafIndex]*recvChain
	past    []*epochRecv
}

// New derives fresh chains for an epoch. senders is the epoch's active leaf
// set; the encryption secret is not retained.
func New(cfg Config, epoch domain.Epoch, ownLeaf domain.LeafIndex, encryptionSecret []byte, senders []domain.LeafIndex) *Chains {
	c := &Chains{
		cfg:     cfg.withDefaults(),
		epoch:   epoch,
		ownLeaf: ownLeaf,
		recv:    make(map[domain.LeafIndex]*recvChain),
	}
	for _, leaf := range senders {
		root := senderRoot(encryptionSecret, leaf)
		if leaf == ownLeaf {
			c.send = chain{key: root}
			continue
		}
		c.recv[leaf] = &recvChain{chain: chain{key: root}, skipped: make(map[domain.Generation][]byte)}
	}
	return c
}

// Advance retires the current epoch's receive state into the past window
// and derives chains for the next epoch. The sending chain of the old epoch
// is dropped outright: this member will never send under it again.
func (c *Chains) Advance(epoch domain.Epoch, encryptionSecret []byte, senders []domain.LeafIndex) {
	memzero.Zero(c.send.key)

	if c.cfg.PastEpochs > 0 && len(c.recv) > 0 {
		c.past = append([]*epochRecv{{epoch: c.epoch, recv: c.recv}}, c.past...)
	}
	for len(c.past) > c.cfg.PastEpochs {
		last := c.past[len(c.past)-1]
		for _, rc := range last.recv {
			rc.wipe()
		}
		c.past = c.past[:len(c.past)-1]
	}

	c.epoch = epoch
	c.send = chain{}
	c.recv = make(map[domain.LeafIndex]*recvChain)
	for _, leaf := range senders {
		root := senderRoot(encryptionSecret, leaf)
		if leaf == c.ownLeaf {
			c.send = chain{key: root}
			continue
		}
		c.recv[leaf] = &recvChain{chain: chain{key: root}, skipped: make(map[domain.Generation][]byte)}
	}
}

// Clone deep-copies the chains so a caller can mutate tentatively and
// discard on failure.
func (c *Chains) Clone() *Chains {
	out := &Chains{
		cfg:     c.cfg,
		epoch:   c.epoch,
		ownLeaf: c.ownLeaf,
		send:    c.send.clone(),
		recv:    make(map[domain.LeafIndex]*recvChain, len(c.recv)),
	}
	for leaf, rc := range c.recv {
		out.recv[leaf] = rc.clone()
	}
	for _, pe := range c.past {
		cp := &epochRecv{epoch: pe.epoch, recv: make(map[domain.LeafIndex]*recvChain, len(pe.recv))}
		for leaf, rc := range pe.recv {
			cp.recv[leaf] = rc.clone()
		}
		out.past = append(out.past, cp)
	}
	return out
}

// Wipe zeroes every key this state holds.
func (c *Chains) Wipe() {
	memzero.Zero(c.send.key)
	for _, rc := range c.recv {
		rc.wipe()
	}
	for _, pe := range c.past {
		for _, rc := range pe.recv {
			rc.wipe()
		}
	}
}

// Epoch returns the epoch the sending chain belongs to.
func (c *Chains) Epoch() domain.Epoch { return c.epoch }

// NextGeneration returns the generation the next Seal will use.
func (c *Chains) NextGeneration() domain.Generation { return c.send.next }

// senderRoot anchors one leaf's chain for one epoch.
func senderRoot(encryptionSecret []byte, leaf domain.LeafIndex) []byte {
	var idx [4]byte
	binary.BigEndian.PutUint32(idx[:], uint32(leaf))
	return crypto.ExpandWithLabel(encryptionSecret, "sender", idx[:], chainKeyBytes)
}

// nextKey ratchets a chain head forward one generation.
func nextKey(chainKey []byte) []byte {
	return crypto.ExpandWithLabel(chainKey, "next", nil, chainKeyBytes)
}

// messageKey derives the AEAD key and nonce for one generation, bound to
// the full message header.
func messageKey(chainKey, header []byte) (key, nonce []byte) {
	return crypto.ExpandWithLabel(chainKey, "key", header, crypto.AEADKeyBytes),
		crypto.ExpandWithLabel(chainKey, "nonce", header, crypto.AEADNonceBytes)
}
