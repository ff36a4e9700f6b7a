// Package msgchain turns an epoch's encryption secret into per-sender
// message key chains and seals application traffic with them.
//
// Each active leaf owns one hash chain per epoch, rooted at
// ExpandWithLabel(encryptionSecret, "sender", leaf). Generation g's key and
// nonce derive from the chain head and the message header; the head then
// ratchets forward, so a key exists only between derivation and first use.
// Out-of-order delivery is served by a bounded cache of skipped keys, and a
// short window of past epochs keeps receive-only chains alive across a
// commit so stragglers still decrypt.
//
// Failed opens never advance anything: keys derive into scratch state that
// is merged back only after the AEAD accepts, so a forged header cannot
// burn generations an honest sender still needs.
//
// Chains is NOT safe for concurrent use. Callers serialise per group, and
// clone before mutating when they may need to roll back.
package msgchain
