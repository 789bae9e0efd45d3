package discogs

import (
	"context"
	"sync"
	"time"

	"github.com/digsapp/digs/internal/domain"
)

const (
	// Discogs allows 60 requests/minute for authenticated users.
	defaultInitialTokens = 60
	defaultDrainInterval = time.Second
)

// Limiter is a token-bucket gate shared by every outbound Discogs request.
// The bucket is not refilled on a schedule; it is overwritten from the
// X-Discogs-Ratelimit-Remaining header of each response, compensating for
// requests still in flight that the server has not accounted for yet.
type Limiter struct {
	mu        sync.Mutex
	remaining int
	inFlight  int
	queue     []chan struct{}
	draining  bool
	interval  time.Duration
	closed    bool
	done      chan struct{}
}

// NewLimiter creates a limiter. Zero arguments fall back to the Discogs
// authenticated quota (60 tokens) and a 1s drain tick.
func NewLimiter(initialTokens int, drainInterval time.Duration) *Limiter {
	if initialTokens <= 0 {
		initialTokens = defaultInitialTokens
	}
	if drainInterval <= 0 {
		drainInterval = defaultDrainInterval
	}
	return &Limiter{
		remaining: initialTokens,
		interval:  drainInterval,
		done:      make(chan struct{}),
	}
}

// Acquire blocks until a request slot is available, the context is
// cancelled, or the limiter is closed. A granted slot must be returned
// with Release once the request completes.
func (l *Limiter) Acquire(ctx context.Context) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return domain.ErrLimiterClosed
	}
	if l.remaining >= 1 {
		l.remaining--
		l.inFlight++
		l.mu.Unlock()
		return nil
	}

	grant := make(chan struct{})
	l.queue = append(l.queue, grant)
	if !l.draining {
		l.draining = true
		go l.drain()
	}
	l.mu.Unlock()

	select {
	case <-grant:
		return nil
	case <-l.done:
		return domain.ErrLimiterClosed
	case <-ctx.Done():
		l.abandon(grant)
		return ctx.Err()
	}
}

// Release marks a request as completed (no longer in flight). Called on
// success and failure alike; quota accounting depends on it.
func (l *Limiter) Release() {
	l.mu.Lock()
	l.inFlight = max(0, l.inFlight-1)
	l.mu.Unlock()
}

// UpdateFromHeader overwrites the token estimate with the live value the
// server reported. Requests currently in flight (other than the one that
// carried the header) have not been counted by the server yet, so they are
// subtracted to avoid over-issuing into an already-consumed window.
func (l *Limiter) UpdateFromHeader(remaining int) {
	l.mu.Lock()
	otherInFlight := max(0, l.inFlight-1)
	l.remaining = max(0, remaining-otherInFlight)
	l.mu.Unlock()
}

// Close stops the drain loop and fails all queued waiters with
// ErrLimiterClosed. Used at shutdown and logout.
func (l *Limiter) Close() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	l.queue = nil
	l.inFlight = 0
	l.draining = false
	close(l.done)
	l.mu.Unlock()
}

// abandon removes a cancelled waiter, or hands its slot back if the grant
// raced the cancellation.
func (l *Limiter) abandon(grant chan struct{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, g := range l.queue {
		if g == grant {
			l.queue = append(l.queue[:i], l.queue[i+1:]...)
			return
		}
	}
	// Not queued anymore: the drain loop granted it concurrently.
	l.inFlight = max(0, l.inFlight-1)
}

// drain wakes every tick while waiters are queued. With tokens available
// it releases up to that many waiters; with nothing in flight it releases
// a single probe so the next response refreshes the quota; otherwise it
// waits for in-flight responses to update the count.
func (l *Limiter) drain() {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-l.done:
			return
		case <-ticker.C:
		}

		l.mu.Lock()
		if len(l.queue) == 0 {
			l.draining = false
			l.mu.Unlock()
			return
		}

		var count int
		switch {
		case l.remaining > 0:
			count = min(l.remaining, len(l.queue))
		case l.inFlight == 0:
			count = 1
		}

		for i := 0; i < count; i++ {
			grant := l.queue[0]
			l.queue = l.queue[1:]
			l.inFlight++
			close(grant)
		}
		l.remaining = max(l.remaining-count, 0)
		l.mu.Unlock()
	}
}
