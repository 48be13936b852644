// Package log provides structured protocol logging for the registration
// client.
//
// This package defines the Logger interface and Event types for capturing
// protocol-level events at multiple layers (transport, exchange, session).
// It is separate from operational logging (slog): protocol capture provides
// a complete machine-readable trace of every datagram, request, response and
// state transition.
//
// # Basic Usage
//
//	// For development: log to console via slog
//	cfg.ProtocolLogger = log.NewSlogAdapter(slog.Default())
//
//	// For production: write to binary file
//	cfg.ProtocolLogger, _ = log.NewFileLogger("/var/log/lwm2m/client.rlog")
//
//	// Both
//	cfg.ProtocolLogger = log.NewMultiLogger(console, file)
//
// # Event Types
//
//   - Transport: raw datagrams (DatagramEvent)
//   - Exchange: decoded CoAP messages, retransmissions, strays (MessageEvent)
//   - Session: registration state transitions (StateChangeEvent)
//
// Errors at any layer have a dedicated ErrorEventData payload.
//
// # File Format
//
// Log files are a stream of CBOR-encoded events with integer keys.
// Use Reader to iterate over a file, optionally with a Filter.
package log
