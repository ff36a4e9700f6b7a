// Package registry tracks live group sessions.
//
// Each group is guarded by its own mutex, so operations on one group are
// serialized while distinct groups proceed in parallel. Every successful
// mutation persists the successor session before swapping it in, and a
// persistence failure discards the successor instead: in-memory state
// never runs ahead of disk.
//
// Removal archives: the stored snapshot is overwritten with a public-only
// record, which keeps the group listable but never again restorable.
package registry
