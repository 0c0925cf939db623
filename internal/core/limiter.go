package core

// limiter.go implements concurrency control for import sessions.
//
// Two independent limits apply:
//   - A semaphore caps the number of sessions running at once. When all
//     slots are taken, new sessions wait up to maxWait before failing with
//     ErrTooManyImports.
//   - A per-scope lock makes sessions for the same tenant and entity run one
//     after another. Natural-key lookup then upsert is not atomic, so two
//     batches writing the same scope must never interleave.
//
// WaitForDrain blocks until all active sessions finish, for graceful
// shutdown.

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrTooManyImports is returned when all import slots are occupied and the
// wait timeout expires. Clients should retry after a short delay.
var ErrTooManyImports = errors.New("too many concurrent imports, please try again later")

// DefaultMaxConcurrentImports is the default limit for parallel sessions.
const DefaultMaxConcurrentImports = 5

// DefaultMaxWaitTime is how long to wait for a slot before rejecting.
const DefaultMaxWaitTime = 30 * time.Second

// ImportLimiter bounds concurrent import sessions and serializes sessions
// that share a scope.
type ImportLimiter struct {
	semaphore chan struct{}
	maxWait   time.Duration

	mu     sync.RWMutex
	active int

	scopeMu sync.Mutex
	scopes  map[Scope]*scopeLock
}

type scopeLock struct {
	ch   chan struct{}
	refs int
}

// NewImportLimiter creates a limiter that allows at most maxConcurrent
// simultaneous sessions. Callers that cannot get a slot within maxWait
// receive ErrTooManyImports.
func NewImportLimiter(maxConcurrent int, maxWait time.Duration) *ImportLimiter {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrentImports
	}
	if maxWait <= 0 {
		maxWait = DefaultMaxWaitTime
	}

	return &ImportLimiter{
		semaphore: make(chan struct{}, maxConcurrent),
		maxWait:   maxWait,
		scopes:    make(map[Scope]*scopeLock),
	}
}

// Acquire attempts to acquire a session slot.
// Returns nil on success, ErrTooManyImports if the wait expires.
// The caller must call Release when the session completes.
func (l *ImportLimiter) Acquire(ctx context.Context) error {
	waitCtx, cancel := context.WithTimeout(ctx, l.maxWait)
	defer cancel()

	select {
	case l.semaphore <- struct{}{}:
		l.mu.Lock()
		l.active++
		l.mu.Unlock()
		return nil

	case <-waitCtx.Done():
		// Distinguish caller cancellation from our own timeout
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return ErrTooManyImports
	}
}

// Release releases a slot. Must be called exactly once per successful
// Acquire.
func (l *ImportLimiter) Release() {
	l.mu.Lock()
	l.active--
	l.mu.Unlock()

	<-l.semaphore
}

// LockScope blocks until no other session holds scope, or ctx is done.
// The returned function releases the scope and must be called once.
func (l *ImportLimiter) LockScope(ctx context.Context, scope Scope) (func(), error) {
	l.scopeMu.Lock()
	sl, ok := l.scopes[scope]
	if !ok {
		sl = &scopeLock{ch: make(chan struct{}, 1)}
		l.scopes[scope] = sl
	}
	sl.refs++
	l.scopeMu.Unlock()

	select {
	case sl.ch <- struct{}{}:
		return func() {
			<-sl.ch
			l.dropScope(scope, sl)
		}, nil
	case <-ctx.Done():
		l.dropScope(scope, sl)
		return nil, ctx.Err()
	}
}

func (l *ImportLimiter) dropScope(scope Scope, sl *scopeLock) {
	l.scopeMu.Lock()
	defer l.scopeMu.Unlock()

	sl.refs--
	if sl.refs == 0 {
		delete(l.scopes, scope)
	}
}

// ActiveCount returns the number of currently active sessions.
func (l *ImportLimiter) ActiveCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.active
}

// WaitForDrain blocks until all active sessions complete or ctx is done.
func (l *ImportLimiter) WaitForDrain(ctx context.Context) error {
	ticker := time.NewTicker(100 * time.Millisecond)
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

// ImportLimiterStatus is a snapshot of the limiter's state.
type ImportLimiterStatus struct {
	Active        int `json:"active"`
	Available     int `json:"available"`
	MaxConcurrent int `json:"max_concurrent"`
	// Scopes counts tenant/entity pairs that are held or waited on.
	Scopes int `json:"scopes"`
}

// Status returns the current limiter state for monitoring.
func (l *ImportLimiter) Status() ImportLimiterStatus {
	l.mu.RLock()
	active := l.active
	l.mu.RUnlock()

	l.scopeMu.Lock()
	scopes := len(l.scopes)
	l.scopeMu.Unlock()

	return ImportLimiterStatus{
		Active:        active,
		Available:     cap(l.semaphore) - len(l.semaphore),
		MaxConcurrent: cap(l.semaphore),
		Scopes:        scopes,
	}
}
