// Package persistence stores client state across restarts.
//
// Two files are kept. The state file is JSON and records the session of
// each server (location, acknowledged listing, state) for diagnostics and
// for the CLI status command. The snapshot file holds the registry content:
// a four-byte magic "REG\x01" followed by a CBOR body. Files with any other
// magic are rejected.
package persistence
