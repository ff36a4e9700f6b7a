// Package commands defines the conclave CLI and wires dependencies for
// subcommands.
//
// Commands
//
//   - init        Create the local identity and first key package
//   - keypackage  Mint a fresh single-use key package
//   - create      Start a new group
//   - add         Add a member from their key package
//   - remove      Remove a member by leaf index
//   - rotate      Rotate your own leaf key
//   - apply       Apply a commit received from another member
//   - join        Join a group from a welcome
//   - send        Encrypt a message to a group
//   - recv        Decrypt a message from a group
//   - groups      List known groups
//   - info        Show a group's epoch and roster
//   - checkpoint  Persist every live group
//
// # Implementation
//
// The root command reads configuration from the environment, layers the
// persistent flags on top, and builds the full dependency graph (store,
// registry, engine) before any subcommand runs. Handshake and message
// artifacts travel as hex strings; arguments reading "-" come from stdin,
// so artifacts can be piped between members.
package commands
