// Package wire is the deterministic binary codec for everything the engine
// sends or stores verbatim: key packages, commits, welcomes, and application
// messages.
//
// Every object is framed as
//
//	1 byte: type (TypeKeyPackage..TypeMessage)
//	1 byte: format version
//	N bytes: fields, fixed-width big endian, length-prefixed where variable
//
// Encoding is canonical: the same value always produces the same bytes, so
// signatures can cover a re-encoding of the parsed fields (the *TBS helpers)
// and hashes of wire bytes identify objects stably.
//
// Decoding never trusts a length prefix beyond MaxWireBytes and rejects
// trailing bytes, so a blob either parses completely or not at all.
package wire
