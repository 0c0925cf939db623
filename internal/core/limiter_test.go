package core

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestImportLimiter_Slots(t *testing.T) {
	limiter := NewImportLimiter(2, time.Second)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := limiter.Acquire(ctx); err != nil {
			t.Fatalf("Acquire %d failed: %v", i, err)
		}
	}

	status := limiter.Status()
	if status.Active != 2 || status.Available != 0 || status.MaxConcurrent != 2 {
		t.Errorf("Status() = %+v, want 2 active, 0 available of 2", status)
	}

	limiter.Release()
	limiter.Release()
	if got := limiter.ActiveCount(); got != 0 {
		t.Errorf("after Release, ActiveCount = %d, want 0", got)
	}
}

func TestImportLimiter_DefaultsForNonPositive(t *testing.T) {
	limiter := NewImportLimiter(0, 0)
	if got := limiter.Status().MaxConcurrent; got != DefaultMaxConcurrentImports {
		t.Errorf("MaxConcurrent = %d, want %d", got, DefaultMaxConcurrentImports)
	}
}

func TestImportLimiter_FullLimiter(t *testing.T) {
	limiter := NewImportLimiter(1, 50*time.Millisecond)
	if err := limiter.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	defer limiter.Release()

	t.Run("wait expires", func(t *testing.T) {
		if err := limiter.Acquire(context.Background()); !errors.Is(err, ErrTooManyImports) {
			t.Errorf("expected ErrTooManyImports, got %v", err)
		}
	})

	t.Run("caller cancels", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		if err := limiter.Acquire(ctx); !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	})
}

func TestImportLimiter_LockScopeSerializes(t *testing.T) {
	limiter := NewImportLimiter(4, time.Second)
	scope := Scope{Tenant: "acme", Entity: "inventory"}
	ctx := context.Background()

	unlock, err := limiter.LockScope(ctx, scope)
	if err != nil {
		t.Fatalf("LockScope failed: %v", err)
	}

	acquired := make(chan struct{})
	go func() {
		second, err := limiter.LockScope(ctx, scope)
		if err != nil {
			t.Errorf("second LockScope failed: %v", err)
			return
		}
		close(acquired)
		second()
	}()

	select {
	case <-acquired:
		t.Fatal("second LockScope acquired while scope was held")
	case <-time.After(50 * time.Millisecond):
	}

	unlock()

	select {
	case <-acquired:
	case <-time.After(500 * time.Millisecond):
		t.Fatal("second LockScope did not acquire after unlock")
	}
}

func TestImportLimiter_LockScopeIndependentScopes(t *testing.T) {
	limiter := NewImportLimiter(1, time.Second)
	held := Scope{Tenant: "acme", Entity: "inventory"}

	unlock, err := limiter.LockScope(context.Background(), held)
	if err != nil {
		t.Fatalf("LockScope failed: %v", err)
	}
	defer unlock()

	others := []Scope{
		{Tenant: "globex", Entity: "inventory"},
		{Tenant: "acme", Entity: "assets"},
	}
	for _, scope := range others {
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		release, err := limiter.LockScope(ctx, scope)
		cancel()
		if err != nil {
			t.Errorf("LockScope(%+v) blocked behind %+v: %v", scope, held, err)
			continue
		}
		release()
	}
}

func TestImportLimiter_LockScopeForgetsReleasedScopes(t *testing.T) {
	limiter := NewImportLimiter(1, time.Second)
	scope := Scope{Tenant: "acme", Entity: "contracts"}

	unlock, err := limiter.LockScope(context.Background(), scope)
	if err != nil {
		t.Fatalf("LockScope failed: %v", err)
	}
	if got := limiter.Status().Scopes; got != 1 {
		t.Errorf("Scopes while held = %d, want 1", got)
	}

	unlock()
	if got := limiter.Status().Scopes; got != 0 {
		t.Errorf("Scopes after unlock = %d, want 0", got)
	}
}

func TestImportLimiter_LockScopeContextCancelled(t *testing.T) {
	limiter := NewImportLimiter(1, time.Second)
	scope := Scope{Tenant: "acme", Entity: "assets"}

	unlock, err := limiter.LockScope(context.Background(), scope)
	if err != nil {
		t.Fatalf("LockScope failed: %v", err)
	}
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if _, err := limiter.LockScope(ctx, scope); err != context.DeadlineExceeded {
		t.Errorf("expected context.DeadlineExceeded, got %v", err)
	}
	// The waiter that gave up must not keep the scope entry alive.
	if got := limiter.Status().Scopes; got != 1 {
		t.Errorf("Scopes = %d, want 1", got)
	}
}

func TestImportLimiter_WaitForDrain(t *testing.T) {
	limiter := NewImportLimiter(1, time.Second)
	if err := limiter.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	drained := make(chan error, 1)
	go func() { drained <- limiter.WaitForDrain(context.Background()) }()

	select {
	case <-drained:
		t.Fatal("WaitForDrain returned while a session was active")
	case <-time.After(50 * time.Millisecond):
	}

	limiter.Release()

	select {
	case err := <-drained:
		if err != nil {
			t.Errorf("WaitForDrain returned error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("WaitForDrain did not return after Release")
	}
}
