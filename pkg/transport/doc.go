// Package transport carries CoAP datagrams over UDP.
//
// A [Conn] is a connected UDP socket towards one management server. Its
// read loop hands every received datagram to a handler, normally the
// session's exchange driver. A [Server] is the listening side, used by
// tests and tools that play the server role.
//
// Datagrams larger than the configured maximum are truncated by the
// socket read and dropped.
package transport
