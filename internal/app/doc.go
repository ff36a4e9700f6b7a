// Package app wires application dependencies for the CLI.
//
// It builds the concrete store backend, the group registry, and the engine
// from Config, exposing the service interfaces via the App struct for
// commands to use.
package app
