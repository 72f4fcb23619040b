// Package ratelimit throttles MCP tool calls. Each tool gets a token bucket
// bounding its call rate and a cap on how many of its calls may run at once,
// since a single scoring call can keep every core busy for minutes.
package ratelimit

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

var (
	// ErrRateLimited is returned when a tool's bucket is empty.
	ErrRateLimited = errors.New("ratelimit: rate limit exceeded")

	// ErrBusy is returned when a tool already runs at its concurrency cap.
	ErrBusy = errors.New("ratelimit: too many calls in flight")
)

// Bucket is a token bucket. It is safe for concurrent use.
type Bucket struct {
	mu        sync.Mutex
	rate      float64 // tokens per second
	burst     int     // capacity, also the initial token count
	tokens    float64
	lastCheck time.Time
	nowFunc   func() time.Time
}

// NewBucket returns a full bucket refilling at rate tokens per second.
func NewBucket(rate float64, burst int) *Bucket {
	return &Bucket{rate: rate, burst: burst, tokens: float64(burst), nowFunc: time.Now}
}

// Take removes one token, reporting false if none is available.
func (b *Bucket) Take() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.nowFunc()
	if b.lastCheck.IsZero() {
		b.lastCheck = now
	}
	if elapsed := now.Sub(b.lastCheck).Seconds(); elapsed > 0 {
		b.tokens = min(b.tokens+b.rate*elapsed, float64(b.burst))
		b.lastCheck = now
	}

	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// Limit configures one tool.
type Limit struct {
	PerMinute   float64
	Burst       int
	MaxInFlight int // 0 means unbounded
}

type toolState struct {
	bucket   *Bucket
	inFlight chan struct{}
}

// Guard applies per-tool limits. Tools without a limit are never throttled.
type Guard struct {
	tools map[string]*toolState
}

// NewGuard builds a guard from per-tool limits.
func NewGuard(limits map[string]Limit) *Guard {
	g := &Guard{tools: make(map[string]*toolState, len(limits))}
	for name, l := range limits {
		st := &toolState{bucket: NewBucket(l.PerMinute/60, l.Burst)}
		if l.MaxInFlight > 0 {
			st.inFlight = make(chan struct{}, l.MaxInFlight)
		}
		g.tools[name] = st
	}
	return g
}

// DefaultLimits returns the limits of the observer MCP tools.
func DefaultLimits() map[string]Limit {
	return map[string]Limit{
		"observer_learnability": {PerMinute: 6, Burst: 2, MaxInFlight: 1},
		"observer_novelty":      {PerMinute: 6, Burst: 2, MaxInFlight: 1},
		"observer_scores":       {PerMinute: 60, Burst: 10},
	}
}

// Acquire admits one call of tool. On success the caller must call release
// when the call finishes.
func (g *Guard) Acquire(tool string) (release func(), err error) {
	st, ok := g.tools[tool]
	if !ok {
		return func() {}, nil
	}

	if st.inFlight != nil {
		select {
		case st.inFlight <- struct{}{}:
		default:
			return nil, fmt.Errorf("%w: %s", ErrBusy, tool)
		}
	}
	if !st.bucket.Take() {
		if st.inFlight != nil {
			<-st.inFlight
		}
		return nil, fmt.Errorf("%w for %s, please try again shortly", ErrRateLimited, tool)
	}

	if st.inFlight == nil {
		return func() {}, nil
	}
	var once sync.Once
	return func() { once.Do(func() { <-st.inFlight }) }, nil
}
