// Package client runs one registration session per configured server over
// a shared instance registry.
//
// Each session keeps its own acknowledged baseline, so the same registry
// content can be at different stages of synchronization with different
// servers. Registry changes are fanned out to every session by the
// registry itself; the client wires sessions to their transports, restores
// and persists registry snapshots, and records session state to disk.
package client
