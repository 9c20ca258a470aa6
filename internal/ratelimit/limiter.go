package ratelimit

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// record is the counter for one key in its current window
type record struct {
	count   int
	resetAt time.Time
}

// Decision is the outcome of a single Check
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration
}

// Apply writes the quota headers every response carries
func (d Decision) Apply(h http.Header) {
	h.Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))
}

// Limiter is a process-local fixed-window counter. Windows are not
// coordinated across instances, so each replica enforces its own budget,
// and bursts of up to 2*max are possible across a window boundary.
type Limiter struct {
	mu      sync.Mutex
	records map[string]*record
	now     func() time.Time
}

// Option configures a Limiter
type Option func(*Limiter)

// WithClock replaces time.Now, mainly for tests
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		l.now = now
	}
}

// New creates an empty limiter
func New(opts ...Option) *Limiter {
	l := &Limiter{
		records: make(map[string]*record),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Check counts one request for key and reports whether it fits in the
// current window of length window allowing max requests.
func (l *Limiter) Check(key string, max int, window time.Duration) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	rec, exists := l.records[key]
	if !exists || now.After(rec.resetAt) {
		rec = &record{resetAt: now.Add(window)}
		l.records[key] = rec
	}
	rec.count++

	d := Decision{
		Allowed:   rec.count <= max,
		Limit:     max,
		Remaining: max - rec.count,
		ResetAt:   rec.resetAt,
	}
	if d.Remaining < 0 {
		d.Remaining = 0
	}
	if !d.Allowed {
		d.RetryAfter = rec.resetAt.Sub(now)
		// a denial at the exact reset instant still waits a whole second
		if d.RetryAfter < time.Second {
			d.RetryAfter = time.Second
		}
	}
	return d
}

// Peek reports the quota of key like Check without counting a request
func (l *Limiter) Peek(key string, max int, window time.Duration) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	d := Decision{Allowed: true, Limit: max, Remaining: max, ResetAt: now.Add(window)}
	if rec, ok := l.records[key]; ok && !now.After(rec.resetAt) {
		d.Remaining = max - rec.count
		if d.Remaining < 0 {
			d.Remaining = 0
		}
		d.ResetAt = rec.resetAt
	}
	return d
}

// Sweep drops every expired record and returns how many were removed
func (l *Limiter) Sweep() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	removed := 0
	for key, rec := range l.records {
		if now.After(rec.resetAt) {
			delete(l.records, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked keys
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}

// Run sweeps expired records every interval until ctx is cancelled
func (l *Limiter) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Sweep()
		}
	}
}
