package circuitbreaker

import (
	"errors"
	"testing"
	"time"
)

var errBoom = errors.New("boom")

func failing() error { return errBoom }

func succeeding() error { return nil }

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	cb := New(3, 1, time.Minute)

	for i := 0; i < 3; i++ {
		if err := cb.Do(failing); !errors.Is(err, errBoom) {
			t.Fatalf("attempt %d: expected the request error, got %v", i, err)
		}
	}
	if cb.State() != Open {
		t.Fatalf("expected Open after 3 failures, got %s", cb.State())
	}

	if err := cb.Do(succeeding); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	cb := New(2, 1, time.Minute)

	if err := cb.Do(failing); !errors.Is(err, errBoom) {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := cb.Do(succeeding); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := cb.Do(failing); !errors.Is(err, errBoom) {
		t.Fatalf("unexpected error: %v", err)
	}
	if cb.State() != Closed {
		t.Fatalf("interleaved success should keep the circuit closed, got %s", cb.State())
	}
}

func TestBreakerRecoversThroughHalfOpen(t *testing.T) {
	cb := New(1, 2, 10*time.Millisecond)

	if err := cb.Do(failing); !errors.Is(err, errBoom) {
		t.Fatalf("unexpected error: %v", err)
	}
	if cb.State() != Open {
		t.Fatalf("expected Open, got %s", cb.State())
	}

	time.Sleep(20 * time.Millisecond)

	// First trial succeeds but one success is not enough to close.
	if err := cb.Do(succeeding); err != nil {
		t.Fatalf("trial request failed: %v", err)
	}
	if cb.State() != HalfOpen {
		t.Fatalf("expected HalfOpen after one success, got %s", cb.State())
	}

	if err := cb.Do(succeeding); err != nil {
		t.Fatalf("trial request failed: %v", err)
	}
	if cb.State() != Closed {
		t.Fatalf("expected Closed after two successes, got %s", cb.State())
	}
}

func TestBreakerReopensOnHalfOpenFailure(t *testing.T) {
	cb := New(1, 2, 10*time.Millisecond)

	if err := cb.Do(failing); !errors.Is(err, errBoom) {
		t.Fatalf("unexpected error: %v", err)
	}
	time.Sleep(20 * time.Millisecond)

	if err := cb.Do(failing); !errors.Is(err, errBoom) {
		t.Fatalf("unexpected error: %v", err)
	}
	if cb.State() != Open {
		t.Fatalf("half-open failure should reopen the circuit, got %s", cb.State())
	}
}
