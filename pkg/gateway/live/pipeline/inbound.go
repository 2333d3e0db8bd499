package pipeline

import "time"

// InboundLimit caps inbound audio before it reaches transcription. Zero
// fields disable that dimension.
type InboundLimit struct {
	FramesPerSecond int
	BytesPerSecond  int64
	BurstSeconds    int
}

func (l InboundLimit) enabled() bool { return l.FramesPerSecond > 0 || l.BytesPerSecond > 0 }

// bucket is a token bucket refilled continuously at rate per second.
type bucket struct {
	rate   int64
	tokens int64
	max    int64
}

func newBucket(rate int64, burstSeconds int64) bucket {
	return bucket{rate: rate, tokens: rate * burstSeconds, max: rate * burstSeconds}
}

func (b *bucket) refill(elapsed time.Duration) {
	if b.rate <= 0 {
		return
	}
	if add := elapsed.Nanoseconds() * b.rate / int64(time.Second); add > 0 {
		b.tokens = min(b.tokens+add, b.max)
	}
}

func (b *bucket) has(n int64) bool { return b.rate <= 0 || b.tokens >= n }

func (b *bucket) take(n int64) {
	if b.rate > 0 {
		b.tokens -= n
	}
}

// inboundLimiter admits audio frames against frame and byte budgets. It is
// used from the transport input goroutine only.
type inboundLimiter struct {
	now    func() time.Time
	frames bucket
	bytes  bucket
	last   time.Time
}

// newInboundLimiter returns nil when lim is disabled; a nil limiter admits
// everything.
func newInboundLimiter(now func() time.Time, lim InboundLimit) *inboundLimiter {
	if !lim.enabled() {
		return nil
	}
	if now == nil {
		now = time.Now
	}
	burst := int64(lim.BurstSeconds)
	if burst <= 0 {
		burst = 1
	}
	return &inboundLimiter{
		now:    now,
		frames: newBucket(int64(lim.FramesPerSecond), burst),
		bytes:  newBucket(lim.BytesPerSecond, burst),
		last:   now(),
	}
}

func (l *inboundLimiter) Allow(frameBytes int) bool {
	if l == nil {
		return true
	}
	now := l.now()
	if elapsed := now.Sub(l.last); elapsed > 0 {
		l.frames.refill(elapsed)
		l.bytes.refill(elapsed)
		l.last = now
	}
	n := int64(max(frameBytes, 0))
	if !l.frames.has(1) || !l.bytes.has(n) {
		return false
	}
	l.frames.take(1)
	l.bytes.take(n)
	return true
}
