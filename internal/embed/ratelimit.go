package embed

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// window is 60 seconds: both the request-count and token-count limits are
// enforced over the trailing minute, not a fixed calendar minute.
const window = 60 * time.Second

// slidingEntry records one acquired unit of capacity: when it was
// acquired, and how many tokens it consumed (1 for a pure request-count
// entry).
type slidingEntry struct {
	at     time.Time
	tokens int
}

// RateLimiter enforces a dual sliding-60s-window budget: at most RPM
// requests and at most TPM tokens in any trailing 60-second span. Requests
// and tokens are tracked in the same window rather than two independent
// ones, since a single call always consumes exactly one of each.
type RateLimiter struct {
	mu  sync.Mutex
	rpm int
	tpm int

	requests *list.List // of slidingEntry, oldest first
	tokens   *list.List // of slidingEntry, oldest first
	tokenSum int
}

// NewRateLimiter creates a limiter admitting at most rpm requests and tpm
// tokens per trailing 60-second window. A zero value disables that half
// of the check.
func NewRateLimiter(rpm, tpm int) *RateLimiter {
	return &RateLimiter{
		rpm:      rpm,
		tpm:      tpm,
		requests: list.New(),
		tokens:   list.New(),
	}
}

// Acquire blocks until admitting a request of the given token size would
// not exceed either limit, then records it. The algorithm on each attempt:
//  1. Prune entries older than the 60s window from both trackers.
//  2. If admitting now would stay within both the request-count and
//     token-sum limits, record the entry and return immediately.
//  3. Otherwise compute how long until the oldest blocking entry ages out
//     of the window and sleep for that long (or until ctx is cancelled),
//     then retry from step 1.
func (r *RateLimiter) Acquire(ctx context.Context, tokens int) error {
	for {
		wait, ok := r.tryAcquire(tokens)
		if ok {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// tryAcquire performs one attempt of the three-step algorithm. On success
// it records the entry and returns (0, true); on failure it returns the
// duration to wait before retrying and false.
func (r *RateLimiter) tryAcquire(tokens int) (time.Duration, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	r.prune(now)

	withinRequests := r.rpm <= 0 || r.requests.Len() < r.rpm
	withinTokens := r.tpm <= 0 || r.tokenSum+tokens <= r.tpm

	if withinRequests && withinTokens {
		r.requests.PushBack(slidingEntry{at: now})
		r.tokens.PushBack(slidingEntry{at: now, tokens: tokens})
		r.tokenSum += tokens
		return 0, true
	}

	return r.waitDuration(now), false
}

// prune drops entries older than the trailing window from both trackers.
func (r *RateLimiter) prune(now time.Time) {
	cutoff := now.Add(-window)
	for e := r.requests.Front(); e != nil; {
		next := e.Next()
		entry := e.Value.(slidingEntry)
		if entry.at.Before(cutoff) {
			r.requests.Remove(e)
		}
		e = next
	}
	for e := r.tokens.Front(); e != nil; {
		next := e.Next()
		entry := e.Value.(slidingEntry)
		if entry.at.Before(cutoff) {
			r.tokenSum -= entry.tokens
			r.tokens.Remove(e)
		}
		e = next
	}
}

// waitDuration returns how long until the single oldest blocking entry
// ages out of the window, across whichever tracker is currently over
// budget.
func (r *RateLimiter) waitDuration(now time.Time) time.Duration {
	var oldest time.Time
	if r.rpm > 0 && r.requests.Len() >= r.rpm {
		if front := r.requests.Front(); front != nil {
			oldest = front.Value.(slidingEntry).at
		}
	}
	if r.tpm > 0 {
		if front := r.tokens.Front(); front != nil {
			t := front.Value.(slidingEntry).at
			if oldest.IsZero() || t.Before(oldest) {
				oldest = t
			}
		}
	}
	if oldest.IsZero() {
		return time.Millisecond
	}
	wait := oldest.Add(window).Sub(now)
	if wait < 0 {
		return time.Millisecond
	}
	return wait
}

// Snapshot reports current usage within the trailing window, for
// observability.
func (r *RateLimiter) Snapshot() (requests, tokens int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.prune(time.Now())
	return r.requests.Len(), r.tokenSum
}
