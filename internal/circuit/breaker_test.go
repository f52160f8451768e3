package circuit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

var errBackend = errors.New("backend unavailable")

func fail(context.Context) error { return errBackend }
func succeed(context.Context) error { return nil }

func TestState_String(t *testing.T) {
	t.Parallel()

	tests := []struct {
		state State
		want  string
	}{
		{StateClosed, "CLOSED"},
		{StateOpen, "OPEN"},
		{StateHalfOpen, "HALF_OPEN"},
		{State(999), "UNKNOWN"},
	}

	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", int(tt.state), got, tt.want)
		}
	}
}

func TestCircuitBreaker_TripsAfterConsecutiveFailures(t *testing.T) {
	t.Parallel()

	clock := &testClock{now: time.Unix(0, 0)}
	var transitions []State
	cb := NewCircuitBreaker("cold", Config{
		Timeout:     10 * time.Second,
		ReadyToTrip: ConsecutiveFailures(3),
		Clock:       clock.Now,
		OnStateChange: func(name string, from, to State) {
			transitions = append(transitions, to)
		},
	})

	for i := 0; i < 2; i++ {
		if err := cb.Execute(context.Background(), fail); !errors.Is(err, errBackend) {
			t.Fatalf("attempt %d: err = %v, want %v", i, err, errBackend)
		}
	}
	// a success in between resets the streak
	if err := cb.Execute(context.Background(), succeed); err != nil {
		t.Fatalf("success: %v", err)
	}
	for i := 0; i < 3; i++ {
		_ = cb.Execute(context.Background(), fail)
	}
	if cb.State() != StateOpen {
		t.Fatalf("state = %v, want OPEN", cb.State())
	}

	called := false
	err := cb.Execute(context.Background(), func(context.Context) error {
		called = true
		return nil
	})
	if !errors.Is(err, ErrOpenState) || called {
		t.Fatalf("open breaker: err = %v, called = %v", err, called)
	}

	clock.Advance(11 * time.Second)
	if cb.State() != StateHalfOpen {
		t.Fatalf("state = %v, want HALF_OPEN", cb.State())
	}
	if err := cb.Allow(); err != nil {
		t.Fatalf("first trial request: %v", err)
	}
	if err := cb.Allow(); !errors.Is(err, ErrTooManyRequests) {
		t.Fatalf("second trial request: err = %v, want %v", err, ErrTooManyRequests)
	}
	cb.Done(nil)
	if cb.State() != StateClosed {
		t.Fatalf("state = %v, want CLOSED", cb.State())
	}

	want := []State{StateOpen, StateHalfOpen, StateClosed}
	if len(transitions) != len(want) {
		t.Fatalf("transitions = %v, want %v", transitions, want)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Errorf("transition %d = %v, want %v", i, transitions[i], want[i])
		}
	}
}

func TestCircuitBreaker_FailedTrialReopens(t *testing.T) {
	t.Parallel()

	clock := &testClock{now: time.Unix(0, 0)}
	cb := NewCircuitBreaker("cold", Config{
		Timeout:     time.Second,
		ReadyToTrip: ConsecutiveFailures(1),
		Clock:       clock.Now,
	})

	_ = cb.Execute(context.Background(), fail)
	clock.Advance(2 * time.Second)
	_ = cb.Execute(context.Background(), fail)
	if cb.State() != StateOpen {
		t.Fatalf("state = %v, want OPEN", cb.State())
	}
}

func TestCircuitBreaker_IgnoresCanceledAndSuccessfulErrors(t *testing.T) {
	t.Parallel()

	notFound := errors.New("not found")
	cb := NewCircuitBreaker("cold", Config{
		ReadyToTrip:  ConsecutiveFailures(1),
		IsSuccessful: func(err error) bool { return err == nil || errors.Is(err, notFound) },
	})

	_ = cb.Execute(context.Background(), func(context.Context) error { return context.Canceled })
	_ = cb.Execute(context.Background(), func(context.Context) error { return notFound })
	if cb.State() != StateClosed {
		t.Fatalf("state = %v, want CLOSED", cb.State())
	}
	if c := cb.Counts(); c.TotalSuccesses != 2 || c.TotalFailures != 0 {
		t.Errorf("counts = %+v", c)
	}
}

func TestCircuitBreaker_IntervalClearsCounts(t *testing.T) {
	t.Parallel()

	clock := &testClock{now: time.Unix(0, 0)}
	cb := NewCircuitBreaker("cold", Config{
		Interval:    time.Minute,
		ReadyToTrip: ConsecutiveFailures(2),
		Clock:       clock.Now,
	})

	_ = cb.Execute(context.Background(), fail)
	clock.Advance(2 * time.Minute)
	_ = cb.Execute(context.Background(), fail)
	if cb.State() != StateClosed {
		t.Fatalf("state = %v, want CLOSED", cb.State())
	}
	if c := cb.Counts(); c.ConsecutiveFailures != 1 {
		t.Errorf("consecutive failures = %d, want 1", c.ConsecutiveFailures)
	}
}

func TestCircuitBreaker_Reset(t *testing.T) {
	t.Parallel()

	cb := NewCircuitBreaker("cold", Config{ReadyToTrip: ConsecutiveFailures(1)})
	_ = cb.Execute(context.Background(), fail)
	if cb.State() != StateOpen {
		t.Fatalf("state = %v, want OPEN", cb.State())
	}
	cb.Reset()
	if cb.State() != StateClosed {
		t.Fatalf("state = %v, want CLOSED", cb.State())
	}
	if cb.Name() != "cold" {
		t.Errorf("name = %q", cb.Name())
	}
}

func TestCircuitBreaker_ConcurrentAccess(t *testing.T) {
	t.Parallel()

	cb := NewCircuitBreaker("cold", Config{ReadyToTrip: ConsecutiveFailures(1000)})
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				_ = cb.Execute(context.Background(), succeed)
			} else {
				_ = cb.Execute(context.Background(), fail)
			}
		}(i)
	}
	wg.Wait()

	c := cb.Counts()
	if c.Requests != 50 || c.TotalSuccesses+c.TotalFailures != 50 {
		t.Errorf("counts = %+v", c)
	}
}
