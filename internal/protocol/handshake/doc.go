// Package handshake builds and processes the membership messages that move
// a group between epochs: commits (add, remove, update) and welcomes.
//
// A committer advances its own state, seals the commit secret to every
// surviving member, and signs the result. Receivers replay the proposals,
// unseal their copy of the commit secret, and accept the new epoch only if
// their confirmation tag matches the committer's. A removed member never
// appears in the sealed path, so it cannot follow the group past the epoch
// that dropped it.
//
// Welcomes carry the full post-commit leaf arena plus the joiner secret
// sealed to the joiner's key package, so a new member enters with no prior
// history.
//
// All failures map onto the sentinel taxonomy in internal/domain; callers
// classify with errors.Is.
package handshake
