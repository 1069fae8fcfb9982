package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"syscall"
	"testing"
	"time"
)

var errUnreachable = fmt.Errorf("dial tcp: %w", syscall.ECONNREFUSED)

func TestCircuitBreaker_ClosedState_PassesThrough(t *testing.T) {
	cb := NewCircuitBreaker(DefaultCircuitBreakerConfig())

	var calls int
	err := cb.Execute(context.Background(), func(_ context.Context) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
	if cb.State() != CircuitClosed {
		t.Errorf("expected closed state, got %s", cb.State())
	}
}

func TestCircuitBreaker_OpensAfterUnreachableThreshold(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 3, ResetTimeout: time.Minute})

	for i := 0; i < 3; i++ {
		_ = cb.Execute(context.Background(), func(_ context.Context) error { return errUnreachable })
	}
	if !cb.Open() {
		t.Fatalf("expected open state, got %s", cb.State())
	}

	err := cb.Execute(context.Background(), func(_ context.Context) error {
		t.Error("should not be called when circuit is open")
		return nil
	})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("expected ErrCircuitOpen, got %v", err)
	}
}

func TestCircuitBreaker_HTTPErrorsDoNotTrip(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 2})

	for i := 0; i < 5; i++ {
		_ = cb.Execute(context.Background(), func(_ context.Context) error {
			return &StatusError{StatusCode: 404}
		})
		_ = cb.Execute(context.Background(), func(_ context.Context) error {
			return NewTransientError(errors.New("http 429"), 429)
		})
	}
	if cb.State() != CircuitClosed {
		t.Errorf("reachable source should keep circuit closed, got %s", cb.State())
	}
}

func TestCircuitBreaker_SuccessResetsCounter(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 3})
	fail := func(_ context.Context) error { return errUnreachable }
	ok := func(_ context.Context) error { return nil }

	_ = cb.Execute(context.Background(), fail)
	_ = cb.Execute(context.Background(), fail)
	_ = cb.Execute(context.Background(), ok)
	_ = cb.Execute(context.Background(), fail)
	_ = cb.Execute(context.Background(), fail)

	if cb.State() != CircuitClosed {
		t.Errorf("expected closed state, got %s", cb.State())
	}
}

func TestCircuitBreaker_HalfOpenTrial(t *testing.T) {
	now := time.Now()
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1, ResetTimeout: 10 * time.Second})
	cb.nowFunc = func() time.Time { return now }

	_ = cb.Execute(context.Background(), func(_ context.Context) error { return errUnreachable })
	if !cb.Open() {
		t.Fatalf("expected open, got %s", cb.State())
	}

	now = now.Add(11 * time.Second)
	if cb.State() != CircuitHalfOpen {
		t.Fatalf("expected half-open after timeout, got %s", cb.State())
	}
	if err := cb.Execute(context.Background(), func(_ context.Context) error { return nil }); err != nil {
		t.Fatalf("trial should pass: %v", err)
	}
	if cb.State() != CircuitClosed {
		t.Errorf("expected closed after trial, got %s", cb.State())
	}
}

func TestCircuitBreaker_FailedTrialReopens(t *testing.T) {
	now := time.Now()
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 3, ResetTimeout: 10 * time.Second})
	cb.nowFunc = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		_ = cb.Execute(context.Background(), func(_ context.Context) error { return errUnreachable })
	}
	now = now.Add(11 * time.Second)

	_ = cb.Execute(context.Background(), func(_ context.Context) error { return errUnreachable })
	if !cb.Open() {
		t.Fatalf("a failed trial should reopen immediately, got %s", cb.State())
	}
	err := cb.Execute(context.Background(), func(_ context.Context) error {
		t.Error("should not be called before the next timeout")
		return nil
	})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("expected ErrCircuitOpen, got %v", err)
	}
}

func TestCircuitBreaker_SingleTrialInFlight(t *testing.T) {
	now := time.Now()
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1, ResetTimeout: time.Second})
	cb.nowFunc = func() time.Time { return now }
	_ = cb.Execute(context.Background(), func(_ context.Context) error { return errUnreachable })
	now = now.Add(2 * time.Second)

	release := make(chan struct{})
	started := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- cb.Execute(context.Background(), func(_ context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	err := cb.Execute(context.Background(), func(_ context.Context) error { return nil })
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("second call during trial should be rejected, got %v", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("trial failed: %v", err)
	}
	if cb.State() != CircuitClosed {
		t.Errorf("expected closed after trial, got %s", cb.State())
	}
}

func TestCircuitBreaker_ConcurrentAccess(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1000})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = cb.Execute(context.Background(), func(_ context.Context) error {
				if i%2 == 0 {
					return errUnreachable
				}
				return nil
			})
		}(i)
	}
	wg.Wait()

	if cb.State() != CircuitClosed {
		t.Errorf("expected closed state, got %s", cb.State())
	}
}

func TestCircuitState_String(t *testing.T) {
	if CircuitHalfOpen.String() != "half-open" {
		t.Errorf("unexpected string %q", CircuitHalfOpen.String())
	}
	if CircuitState(42).String() != "unknown" {
		t.Error("unexpected string for unknown state")
	}
}
