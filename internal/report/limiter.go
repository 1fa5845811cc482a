package report

// limiter.go bounds concurrent manual refreshes with a semaphore. When every
// slot is busy a caller waits up to maxWait before ErrTooManyRefreshes.
// WaitForDrain blocks shutdown until in-flight refreshes finish.

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrTooManyRefreshes is returned when no slot frees up within the wait time.
var ErrTooManyRefreshes = errors.New("too many concurrent refreshes, please try again later")

// DefaultMaxConcurrentRefreshes is the default slot count.
const DefaultMaxConcurrentRefreshes = 4

// DefaultMaxRefreshWait is how long Acquire waits for a slot.
const DefaultMaxRefreshWait = 5 * time.Second

// RefreshLimiter is a counting semaphore for refreshes.
type RefreshLimiter struct {
	semaphore chan struct{}
	maxWait   time.Duration

	mu     sync.RWMutex
	active int
}

// NewRefreshLimiter allows at most maxConcurrent refreshes at once.
func NewRefreshLimiter(maxConcurrent int, maxWait time.Duration) *RefreshLimiter {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrentRefreshes
	}
	if maxWait <= 0 {
		maxWait = DefaultMaxRefreshWait
	}
	return &RefreshLimiter{
		semaphore: make(chan struct{}, maxConcurrent),
		maxWait:   maxWait,
	}
}

// Acquire takes a slot. The caller must Release it.
func (l *RefreshLimiter) Acquire(ctx context.Context) error {
	waitCtx, cancel := context.WithTimeout(ctx, l.maxWait)
	defer cancel()

	select {
	case l.semaphore <- struct{}{}:
		l.mu.Lock()
		l.active++
		l.mu.Unlock()
		return nil
	case <-waitCtx.Done():
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return ErrTooManyRefreshes
	}
}

// TryAcquire takes a slot without blocking.
func (l *RefreshLimiter) TryAcquire() bool {
	select {
	case l.semaphore <- struct{}{}:
		l.mu.Lock()
		l.active++
		l.mu.Unlock()
		return true
	default:
		return false
	}
}

// Release frees a slot taken by Acquire or TryAcquire.
func (l *RefreshLimiter) Release() {
	l.mu.Lock()
	l.active--
	l.mu.Unlock()
	<-l.semaphore
}

// ActiveCount returns the number of refreshes holding a slot.
func (l *RefreshLimiter) ActiveCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.active
}

// WaitForDrain blocks until no refresh holds a slot or ctx ends.
func (l *RefreshLimiter) WaitForDrain(ctx context.Context) error {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		if l.ActiveCount() == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// LimiterStatus is a point-in-time view of the limiter.
type LimiterStatus struct {
	Active        int `json:"active"`
	Available     int `json:"available"`
	MaxConcurrent int `json:"maxConcurrent"`
}

// Status reports current usage.
func (l *RefreshLimiter) Status() LimiterStatus {
	return LimiterStatus{
		Active:        l.ActiveCount(),
		Available:     cap(l.semaphore) - len(l.semaphore),
		MaxConcurrent: cap(l.semaphore),
	}
}
