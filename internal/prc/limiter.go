package prc

import (
	"context"
	"sync"
	"time"
)

// Bucket is a fixed-window token bucket with a server-driven hard block.
//
// Tokens refill to capacity at the start of each window. A 429 response puts
// the bucket into a hard block during which no token is handed out, and the
// upstream's remaining-capacity header can only lower the local count.
type Bucket struct {
	capacity int
	window   time.Duration

	mu           sync.Mutex
	tokens       int
	windowEnd    time.Time
	blockedUntil time.Time
}

// NewBucket returns a full bucket.
func NewBucket(capacity int, window time.Duration) *Bucket {
	if capacity <= 0 {
		capacity = 1
	}
	if window <= 0 {
		window = time.Second
	}
	return &Bucket{capacity: capacity, window: window, tokens: capacity}
}

// Wait blocks until a token is available or ctx is done.
func (b *Bucket) Wait(ctx context.Context) error {
	for {
		delay := b.take(time.Now())
		if delay <= 0 {
			return nil
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// take consumes a token and returns 0, or returns how long to wait.
func (b *Bucket) take(now time.Time) time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	if now.Before(b.blockedUntil) {
		return b.blockedUntil.Sub(now)
	}
	if !now.Before(b.windowEnd) {
		b.tokens = b.capacity
		b.windowEnd = now.Add(b.window)
	}
	if b.tokens > 0 {
		b.tokens--
		return 0
	}
	return b.windowEnd.Sub(now)
}

// Observe lowers the local token count to the upstream's reported remaining
// capacity for the current window.
func (b *Bucket) Observe(remaining int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if remaining >= 0 && remaining < b.tokens {
		b.tokens = remaining
	}
}

// Block refuses tokens until now+d.
func (b *Bucket) Block(d time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	until := time.Now().Add(d)
	if until.After(b.blockedUntil) {
		b.blockedUntil = until
	}
}

// BlockedUntil returns the end of the current hard block, if any.
func (b *Bucket) BlockedUntil() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.blockedUntil
}

// serialQueue admits one holder at a time in strict arrival order.
type serialQueue struct {
	mu      sync.Mutex
	busy    bool
	waiters []chan struct{}
}

// acquire waits for the slot. The returned release func must be called once.
func (q *serialQueue) acquire(ctx context.Context) (func(), error) {
	q.mu.Lock()
	if !q.busy {
		q.busy = true
		q.mu.Unlock()
		return q.release, nil
	}
	ch := make(chan struct{})
	q.waiters = append(q.waiters, ch)
	q.mu.Unlock()

	select {
	case <-ch:
		return q.release, nil
	case <-ctx.Done():
		q.mu.Lock()
		for i, w := range q.waiters {
			if w == ch {
				q.waiters = append(q.waiters[:i], q.waiters[i+1:]...)
				q.mu.Unlock()
				return nil, ctx.Err()
			}
		}
		q.mu.Unlock()
		// Handed the slot concurrently with cancellation; pass it on.
		q.release()
		return nil, ctx.Err()
	}
}

func (q *serialQueue) release() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.waiters) == 0 {
		q.busy = false
		return
	}
	next := q.waiters[0]
	q.waiters = q.waiters[1:]
	close(next)
}

type keyState struct {
	bucket *Bucket
	queue  *serialQueue
}

// Limiters owns per-key rate-limit state. One instance is shared by every
// caller in the process.
type Limiters struct {
	capacity int
	window   time.Duration

	mu   sync.Mutex
	keys map[string]*keyState
}

// NewLimiters creates a registry whose buckets use the given capacity/window.
func NewLimiters(capacity int, window time.Duration) *Limiters {
	return &Limiters{capacity: capacity, window: window, keys: make(map[string]*keyState)}
}

func (l *Limiters) state(keyHash string) *keyState {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.keys[keyHash]
	if !ok {
		s = &keyState{bucket: NewBucket(l.capacity, l.window), queue: &serialQueue{}}
		l.keys[keyHash] = s
	}
	return s
}

// Bucket returns the bucket for a key hash.
func (l *Limiters) Bucket(keyHash string) *Bucket {
	return l.state(keyHash).bucket
}

// Acquire takes the key's serialization slot.
func (l *Limiters) Acquire(ctx context.Context, keyHash string) (func(), error) {
	return l.state(keyHash).queue.acquire(ctx)
}
