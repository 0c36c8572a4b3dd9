package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

var errConflict = errors.New("order already taken")

func newTestBreaker(maxFailures int, timeout time.Duration) *CircuitBreaker {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	return New(Config{
		Name:        "orders",
		MaxFailures: maxFailures,
		Timeout:     timeout,
		MaxRequests: 1,
		IsFailure: func(err error) bool {
			return err != nil && !errors.Is(err, errConflict)
		},
	}, logger)
}

func fail(ctx context.Context) error    { return errors.New("connection refused") }
func succeed(ctx context.Context) error { return nil }

func TestOpensAfterMaxFailures(t *testing.T) {
	cb := newTestBreaker(3, time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := cb.Execute(ctx, fail); err == nil {
			t.Fatal("Expected failure")
		}
	}

	if cb.State() != StateOpen {
		t.Fatalf("Expected StateOpen, got %s", cb.State())
	}

	called := false
	err := cb.Execute(ctx, func(ctx context.Context) error {
		called = true
		return nil
	})
	if !errors.Is(err, ErrCircuitBreakerOpen) {
		t.Errorf("Expected ErrCircuitBreakerOpen, got %v", err)
	}
	if called {
		t.Error("Expected function not to be called while open")
	}
}

func TestHalfOpenClosesOnSuccess(t *testing.T) {
	cb := newTestBreaker(1, 50*time.Millisecond)
	ctx := context.Background()

	cb.Execute(ctx, fail)
	if cb.State() != StateOpen {
		t.Fatalf("Expected StateOpen, got %s", cb.State())
	}

	time.Sleep(60 * time.Millisecond)

	if err := cb.Execute(ctx, succeed); err != nil {
		t.Errorf("Expected success, got %v", err)
	}
	if cb.State() != StateClosed {
		t.Errorf("Expected StateClosed, got %s", cb.State())
	}
}

func TestHalfOpenReopensOnFailure(t *testing.T) {
	cb := newTestBreaker(1, 50*time.Millisecond)
	ctx := context.Background()

	cb.Execute(ctx, fail)
	time.Sleep(60 * time.Millisecond)
	cb.Execute(ctx, fail)

	if cb.State() != StateOpen {
		t.Errorf("Expected StateOpen, got %s", cb.State())
	}
}

func TestDeliberateErrorsDoNotTrip(t *testing.T) {
	cb := newTestBreaker(2, time.Minute)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		err := cb.Execute(ctx, func(ctx context.Context) error { return errConflict })
		if !errors.Is(err, errConflict) {
			t.Fatalf("Expected conflict error to pass through, got %v", err)
		}
	}

	if cb.State() != StateClosed {
		t.Errorf("Expected StateClosed, got %s", cb.State())
	}
	m := cb.Metrics()
	if m.TotalFailures != 0 {
		t.Errorf("Expected 0 failures, got %d", m.TotalFailures)
	}
	if m.TotalSuccesses != 5 {
		t.Errorf("Expected 5 successes, got %d", m.TotalSuccesses)
	}
}

func TestMetricsAreConsistentUnderConcurrency(t *testing.T) {
	cb := newTestBreaker(1000, time.Minute)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				cb.Execute(ctx, fail)
			} else {
				cb.Execute(ctx, succeed)
			}
		}(i)
	}
	wg.Wait()

	m := cb.Metrics()
	if m.TotalRequests != 50 {
		t.Errorf("Expected 50 requests, got %d", m.TotalRequests)
	}
	if m.TotalRequests != m.TotalFailures+m.TotalSuccesses {
		t.Errorf("Inconsistent metrics: requests=%d failures=%d successes=%d",
			m.TotalRequests, m.TotalFailures, m.TotalSuccesses)
	}
}

func TestStateChangeCallback(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	changes := make(chan State, 2)
	cb := New(Config{
		Name:        "assignments",
		MaxFailures: 1,
		Timeout:     time.Minute,
		OnStateChange: func(name string, from, to State) {
			changes <- to
		},
	}, logger)

	cb.Execute(context.Background(), fail)

	select {
	case to := <-changes:
		if to != StateOpen {
			t.Errorf("Expected transition to open, got %s", to)
		}
	case <-time.After(time.Second):
		t.Fatal("Expected state change callback")
	}
}

func TestReset(t *testing.T) {
	cb := newTestBreaker(1, time.Minute)
	cb.Execute(context.Background(), fail)
	cb.Reset()

	if cb.State() != StateClosed {
		t.Errorf("Expected StateClosed after reset, got %s", cb.State())
	}
}
