// Package ratelimit guards outbound message rate per local sender.
//
// The limiter is a fixed window with reset-on-gap, not a true sliding
// window: the window start only moves when a send arrives at least one
// full window after it. Short bursts up to the threshold are allowed
// around each reset boundary. This matches the behavior the chat client
// has always had and is kept deliberately.
package ratelimit

import (
	"sync"
	"time"
)

const (
	// DefaultWindow bounds the burst interval.
	DefaultWindow = time.Second

	// DefaultLimit is the maximum sends per window.
	DefaultLimit = 5
)

// SendLimiter tracks send counts per actor within a fixed window.
type SendLimiter struct {
	mu      sync.Mutex
	window  time.Duration
	limit   int
	counts  map[string]*windowCounter
	nowFunc func() time.Time
}

type windowCounter struct {
	windowStart time.Time
	count       int
}

// NewSendLimiter creates a limiter with the given window and threshold.
func NewSendLimiter(window time.Duration, limit int) *SendLimiter {
	return &SendLimiter{
		window:  window,
		limit:   limit,
		counts:  make(map[string]*windowCounter),
		nowFunc: time.Now,
	}
}

// NewDefaultSendLimiter creates a limiter with the standard 1s / 5 send
// policy.
func NewDefaultSendLimiter() *SendLimiter {
	return NewSendLimiter(DefaultWindow, DefaultLimit)
}

// Allow records a send attempt for the actor and reports whether it is
// within the rate limit. Rejected attempts still count against the
// current window.
func (l *SendLimiter) Allow(actor string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.nowFunc()

	counter, exists := l.counts[actor]
	if !exists {
		l.counts[actor] = &windowCounter{windowStart: now, count: 1}
		return true
	}

	if now.Sub(counter.windowStart) >= l.window {
		counter.windowStart = now
		counter.count = 1
		return true
	}

	counter.count++
	return counter.count <= l.limit
}

// Reset clears the window for an actor.
func (l *SendLimiter) Reset(actor string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.counts, actor)
}
