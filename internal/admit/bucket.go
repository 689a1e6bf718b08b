// Package admit rate-limits inbound audio chunks per session with a token
// bucket. The bucket is deliberately simple: non-blocking, fractional
// refill, and no background goroutine. Refill happens lazily on each Allow
// call from the elapsed wall time.
package admit

import (
	"sync"
	"time"
)

// Bucket is a token bucket. The zero value is unusable; use [NewBucket].
// Safe for concurrent use, though each session normally owns one bucket and
// calls it from a single goroutine.
type Bucket struct {
	mu       sync.Mutex
	rate     float64 // tokens added per second
	capacity float64
	tokens   float64
	last     time.Time

	now func() time.Time // test seam
}

// NewBucket returns a full bucket refilling at rate tokens per second up to
// capacity. Non-positive arguments are clamped to 1.
func NewBucket(rate float64, capacity int) *Bucket {
	if rate <= 0 {
		rate = 1
	}
	if capacity <= 0 {
		capacity = 1
	}
	return &Bucket{
		rate:     rate,
		capacity: float64(capacity),
		tokens:   float64(capacity),
		now:      time.Now,
	}
}

// Allow consumes one token if available and reports whether the caller may
// proceed. It never blocks.
func (b *Bucket) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	if !b.last.IsZero() {
		b.tokens += now.Sub(b.last).Seconds() * b.rate
		if b.tokens > b.capacity {
			b.tokens = b.capacity
		}
	}
	b.last = now

	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// Tokens returns the current token count, refilled to now. Intended for
// metrics and tests.
func (b *Bucket) Tokens() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	if !b.last.IsZero() {
		b.tokens += now.Sub(b.last).Seconds() * b.rate
		if b.tokens > b.capacity {
			b.tokens = b.capacity
		}
		b.last = now
	}
	return b.tokens
}
