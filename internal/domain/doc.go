// Package domain holds the shared types of the group session engine:
// identifiers, key material, handshake and message wire structures, the
// persisted snapshot model, store interfaces, and the error taxonomy every
// caller-facing failure maps onto.
//
// The package has no behaviour beyond small accessors; protocol logic lives
// under internal/protocol and orchestration under internal/engine.
package domain
