// Package tree owns the per-group membership and key state: the leaf arena,
// the epoch counter, and the secrets of the current epoch.
//
// # Model
//
// A group is a flat arena of leaves, one per member ever added. Removing a
// member blanks its leaf in place; adding reuses the leftmost blank before
// growing the arena, so a leaf index identifies the same member for as long
// as that member is present.
//
// Each epoch has its own secret family, chained by the key schedule:
//
//	joinerSecret     = Extract(salt: initSecret[n], ikm: commitSecret)
//	epochSecret[n+1] = ExpandWithLabel(joinerSecret, "epoch", groupContext[n+1])
//	initSecret       = ExpandWithLabel(epochSecret, "init", nil)
//	confirmationKey  = ExpandWithLabel(epochSecret, "confirm", nil)
//	encryptionSecret = ExpandWithLabel(epochSecret, "message", nil)
//
// The commit secret is sampled fresh by whoever commits, so each epoch mixes
// new entropy (healing) with the previous init secret (continuity): only
// parties holding epoch n state and the commit secret reach epoch n+1. The
// group context binds the group identifier, the epoch number, and a hash of
// the whole leaf arena, so two groups that ever differ in membership can
// never share an epoch secret.
//
// # Transitions
//
// State is immutable: NewGroup, FromJoin, FromSnapshot, and Advance all
// return fresh values and never touch prior epochs. Callers that replace a
// state should Wipe the superseded one once nothing can roll back to it.
package tree
