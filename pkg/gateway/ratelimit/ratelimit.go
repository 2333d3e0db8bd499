// Package ratelimit bounds negotiation requests and concurrent sessions per
// subject.
package ratelimit

import (
	"math"
	"sync"
	"time"
)

type Config struct {
	// RPS and Burst bound session-creation requests per subject.
	RPS   float64
	Burst int

	MaxConcurrentSessions int

	// Operational bounds for the in-memory map (single-process only).
	MaxEntries int
	EntryTTL   time.Duration
}

type Limiter struct {
	cfg Config

	mu sync.Mutex
	m  map[string]*subjectLimiter
}

type subjectLimiter struct {
	mu sync.Mutex

	tb tokenBucket

	sessionSem chan struct{}

	lastSeen time.Time
}

type tokenBucket struct {
	rps      float64
	capacity float64

	tokens float64
	last   time.Time
}

func New(cfg Config) *Limiter {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 10_000
	}
	if cfg.EntryTTL <= 0 {
		cfg.EntryTTL = 30 * time.Minute
	}
	return &Limiter{
		cfg: cfg,
		m:   make(map[string]*subjectLimiter),
	}
}

// Permit is held for the lifetime of an admitted session.
type Permit struct {
	mu      sync.Mutex
	release func()
}

// Release returns the permit. Safe to call more than once.
func (p *Permit) Release() {
	if p == nil {
		return
	}
	p.mu.Lock()
	release := p.release
	p.release = nil
	p.mu.Unlock()
	if release != nil {
		release()
	}
}

type Decision struct {
	Allowed    bool
	RetryAfter int
	Permit     *Permit
}

// AcquireRequest charges one session-creation request against subject's
// token bucket.
func (l *Limiter) AcquireRequest(subject string, now time.Time) Decision {
	if l == nil {
		return Decision{Allowed: true}
	}
	sl := l.getOrCreate(keyFor(subject), now)
	sl.touch(now)

	if l.cfg.RPS > 0 && l.cfg.Burst > 0 {
		ok, retryAfter := sl.allowToken(now, l.cfg.RPS, l.cfg.Burst)
		if !ok {
			return Decision{Allowed: false, RetryAfter: retryAfter}
		}
	}
	return Decision{Allowed: true}
}

// AcquireSession admits one more concurrent session for subject. The permit
// must be released when the session ends.
func (l *Limiter) AcquireSession(subject string, now time.Time) Decision {
	if l == nil || l.cfg.MaxConcurrentSessions <= 0 {
		return Decision{Allowed: true, Permit: &Permit{release: func() {}}}
	}
	sl := l.getOrCreate(keyFor(subject), now)
	sl.touch(now)

	select {
	case sl.sessionSem <- struct{}{}:
		return Decision{
			Allowed: true,
			Permit:  &Permit{release: func() { <-sl.sessionSem }},
		}
	default:
		return Decision{Allowed: false, RetryAfter: 1}
	}
}

func keyFor(subject string) string {
	if subject == "" {
		return "anonymous"
	}
	return subject
}

func (l *Limiter) getOrCreate(key string, now time.Time) *subjectLimiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.m) >= l.cfg.MaxEntries {
		l.gcLocked(now)
	}

	if sl, ok := l.m[key]; ok {
		return sl
	}
	sl := &subjectLimiter{
		sessionSem: make(chan struct{}, max(1, l.cfg.MaxConcurrentSessions)),
		lastSeen:   now,
	}
	l.m[key] = sl
	return sl
}

// gcLocked drops idle entries. Entries holding session permits are kept so
// the concurrency cap survives eviction.
func (l *Limiter) gcLocked(now time.Time) {
	ttl := l.cfg.EntryTTL
	for k, v := range l.m {
		if len(v.sessionSem) > 0 {
			continue
		}
		v.mu.Lock()
		idle := now.Sub(v.lastSeen) > ttl
		v.mu.Unlock()
		if idle {
			delete(l.m, k)
		}
	}
}

func (sl *subjectLimiter) touch(now time.Time) {
	sl.mu.Lock()
	sl.lastSeen = now
	sl.mu.Unlock()
}

func (sl *subjectLimiter) allowToken(now time.Time, rps float64, burst int) (bool, int) {
	sl.mu.Lock()
	defer sl.mu.Unlock()

	capacity := float64(burst)
	if sl.tb.capacity == 0 {
		sl.tb = tokenBucket{
			rps:      rps,
			capacity: capacity,
			tokens:   capacity,
			last:     now,
		}
	}

	sl.tb.rps = rps
	sl.tb.capacity = capacity

	elapsed := now.Sub(sl.tb.last).Seconds()
	if elapsed > 0 {
		sl.tb.tokens = math.Min(sl.tb.capacity, sl.tb.tokens+(elapsed*sl.tb.rps))
		sl.tb.last = now
	}

	if sl.tb.tokens >= 1.0 {
		sl.tb.tokens -= 1.0
		return true, 0
	}

	needed := 1.0 - sl.tb.tokens
	retryAfter := int(math.Ceil(needed / sl.tb.rps))
	if retryAfter < 1 {
		retryAfter = 1
	}
	return false, retryAfter
}
