// Package engine implements the session facade: the single boundary
// through which embedders mint the identity, drive group membership, and
// seal or open application messages.
//
// The engine composes the protocol core with the group registry and the
// stores. Every mutating operation persists its successor state before the
// in-memory session advances, so a persistence failure never strands
// protocol state; it only refuses the operation.
package engine
