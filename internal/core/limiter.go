package core

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrIngestBusy is returned when every ingest slot stays occupied for longer
// than the limiter's wait time. Clients should retry after a short delay.
var ErrIngestBusy = errors.New("too many concurrent ingests, please try again later")

const (
	DefaultMaxConcurrentIngests = 5
	DefaultMaxIngestWait        = 30 * time.Second
)

// IngestLimiter bounds the number of file ingests running at once.
// Parsing and bulk inserts are the only memory-heavy paths in the service,
// so this is the one place concurrency is capped.
type IngestLimiter struct {
	slots   chan struct{}
	maxWait time.Duration

	mu     sync.Mutex
	active int
	idle   chan struct{} // closed while active == 0
}

// NewIngestLimiter allows at most maxConcurrent ingests; callers wait up to maxWait for a slot.
func NewIngestLimiter(maxConcurrent int, maxWait time.Duration) *IngestLimiter {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrentIngests
	}
	if maxWait <= 0 {
		maxWait = DefaultMaxIngestWait
	}
	idle := make(chan struct{})
	close(idle)
	return &IngestLimiter{
		slots:   make(chan struct{}, maxConcurrent),
		maxWait: maxWait,
		idle:    idle,
	}
}

// Acquire takes a slot, returning ErrIngestBusy after maxWait or ctx's error
// if ctx ends first. Every successful Acquire must be paired with Release.
func (l *IngestLimiter) Acquire(ctx context.Context) error {
	timer := time.NewTimer(l.maxWait)
	defer timer.Stop()

	select {
	case l.slots <- struct{}{}:
		l.enter()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return ErrIngestBusy
	}
}

// TryAcquire takes a slot only if one is free right now.
func (l *IngestLimiter) TryAcquire() bool {
	select {
	case l.slots <- struct{}{}:
		l.enter()
		return true
	default:
		return false
	}
}

// Release frees a slot taken by Acquire or TryAcquire.
func (l *IngestLimiter) Release() {
	l.mu.Lock()
	l.active--
	if l.active == 0 {
		close(l.idle)
	}
	l.mu.Unlock()
	<-l.slots
}

func (l *IngestLimiter) enter() {
	l.mu.Lock()
	if l.active == 0 {
		l.idle = make(chan struct{})
	}
	l.active++
	l.mu.Unlock()
}

// Active returns the number of ingests in progress.
func (l *IngestLimiter) Active() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.active
}

// Capacity returns the maximum number of concurrent ingests.
func (l *IngestLimiter) Capacity() int { return cap(l.slots) }

// WaitForDrain blocks until no ingest is running or ctx ends.
// Used during shutdown so in-flight ingests can commit.
func (l *IngestLimiter) WaitForDrain(ctx context.Context) error {
	for {
		l.mu.Lock()
		idle := l.idle
		l.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-idle:
			if l.Active() == 0 {
				return nil
			}
		}
	}
}
