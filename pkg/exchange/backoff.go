package exchange

import (
	"math/rand"
	"sync"
	"time"
)

// Retransmission defaults (RFC 7252 section 4.8).
const (
	// DefaultAckTimeout is the base acknowledgement timeout.
	DefaultAckTimeout = 2 * time.Second

	// DefaultAckRandomFactor scales the initial timeout randomly.
	DefaultAckRandomFactor = 1.5

	// DefaultMaxRetransmit is the number of retransmissions before giving up.
	DefaultMaxRetransmit = 4

	// DefaultExchangeLifetime bounds the wait for a separate response
	// after an empty acknowledgement.
	DefaultExchangeLifetime = 247 * time.Second

	// backoffMultiplier is the factor by which the timeout grows.
	backoffMultiplier = 2.0
)

// Backoff calculates retransmission timeouts.
//
// The random factor is drawn once per exchange; subsequent timeouts double
// the randomized initial value.
type Backoff struct {
	mu sync.Mutex

	// Current timeout before randomization
	current time.Duration

	// Configuration
	initial      time.Duration
	randomFactor float64

	// Randomization applied to every timeout of this exchange
	scale float64

	// Attempt counter
	attempts int

	rng *rand.Rand
}

// NewBackoff creates a backoff calculator. A random factor below 1 is
// treated as 1 (no randomization).
func NewBackoff(initial time.Duration, randomFactor float64, rng *rand.Rand) *Backoff {
	if initial <= 0 {
		initial = DefaultAckTimeout
	}
	if randomFactor < 1 {
		randomFactor = 1
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	b := &Backoff{
		initial:      initial,
		randomFactor: randomFactor,
		rng:          rng,
	}
	b.reset()
	return b
}

// Next returns the next timeout and advances the backoff.
func (b *Backoff) Next() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	timeout := time.Duration(float64(b.current) * b.scale)
	b.attempts++
	b.current = time.Duration(float64(b.current) * backoffMultiplier)
	return timeout
}

// Reset restarts the sequence with a freshly drawn random factor.
func (b *Backoff) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.reset()
}

func (b *Backoff) reset() {
	b.current = b.initial
	b.attempts = 0
	b.scale = 1 + b.rng.Float64()*(b.randomFactor-1)
}

// Attempts returns the number of timeouts handed out since the last reset.
func (b *Backoff) Attempts() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.attempts
}

// MaxTransmitSpan returns the time from the first transmission to the last
// retransmission for the worst-case random factor.
func MaxTransmitSpan(ackTimeout time.Duration, randomFactor float64, maxRetransmit int) time.Duration {
	if randomFactor < 1 {
		randomFactor = 1
	}
	return time.Duration(float64(ackTimeout) * float64((int(1)<<maxRetransmit)-1) * randomFactor)
}
