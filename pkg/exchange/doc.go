// Package exchange implements the reliable request/response layer for
// registration requests.
//
// The Driver is the only component that touches the network. For each
// request it:
//
//  1. Assigns a fresh 8-byte token and the next message id
//  2. Sends the request as Confirmable
//  3. Retransmits with exponential backoff until acknowledged or the retry
//     budget is exhausted
//  4. Matches the response by message id (piggybacked ACK, Reset) or by
//     token (separate response after an empty ACK)
//
// # Retransmission
//
// The initial timeout is a random value between AckTimeout and
// AckTimeout*AckRandomFactor. Each retransmission doubles it:
//
//	attempt:  0    1    2    3     4
//	timeout:  2-3s 4-6s 8-12s 16-24s 32-48s   (defaults)
//
// After MaxRetransmit retransmissions without an acknowledgement the
// exchange resolves with ErrExchangeTimeout.
//
// # Strays
//
// Responses that match no outstanding exchange (unknown token or message
// id, duplicates, late responses for cancelled exchanges) are dropped and
// recorded as stray protocol events. They never reach the caller.
package exchange
