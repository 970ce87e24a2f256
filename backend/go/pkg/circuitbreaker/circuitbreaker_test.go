package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

var errBackend = errors.New("backend down")

func fail() error    { return errBackend }
func succeed() error { return nil }

func TestBreakerOpensAfterThreshold(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	cb := New(2, 1, 10*time.Second, WithClock(clock.Now))

	for i := 0; i < 2; i++ {
		if err := cb.Do(fail); !errors.Is(err, errBackend) {
			t.Fatalf("call %d: expected backend error, got %v", i+1, err)
		}
	}
	if cb.State() != Open {
		t.Fatalf("expected Open, got %v", cb.State())
	}
	if err := cb.Do(succeed); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
}

func TestBreakerSuccessResetsFailures(t *testing.T) {
	cb := New(2, 1, time.Second)
	_ = cb.Do(fail)
	_ = cb.Do(succeed)
	_ = cb.Do(fail)
	if cb.State() != Closed {
		t.Fatalf("expected Closed, got %v", cb.State())
	}
}

func TestBreakerHalfOpenRecovery(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	var transitions []string
	cb := New(1, 2, 5*time.Second, WithClock(clock.Now), WithStateChange(func(from, to State) {
		transitions = append(transitions, from.String()+"->"+to.String())
	}))

	_ = cb.Do(fail)
	clock.Advance(5 * time.Second)
	if cb.State() != HalfOpen {
		t.Fatalf("expected Half-Open, got %v", cb.State())
	}
	if err := cb.Do(succeed); err != nil {
		t.Fatalf("probe 1: %v", err)
	}
	if cb.State() != HalfOpen {
		t.Fatalf("expected Half-Open after 1 success, got %v", cb.State())
	}
	if err := cb.Do(succeed); err != nil {
		t.Fatalf("probe 2: %v", err)
	}
	if cb.State() != Closed {
		t.Fatalf("expected Closed, got %v", cb.State())
	}

	want := []string{"Closed->Open", "Open->Half-Open", "Half-Open->Closed"}
	if len(transitions) != len(want) {
		t.Fatalf("transitions = %v, want %v", transitions, want)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Errorf("transition %d = %s, want %s", i, transitions[i], want[i])
		}
	}
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	cb := New(1, 1, time.Second, WithClock(clock.Now))
	_ = cb.Do(fail)
	clock.Advance(time.Second)
	_ = cb.Do(fail)
	if cb.State() != Open {
		t.Fatalf("expected Open, got %v", cb.State())
	}
}

func TestBreakerSingleProbe(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	cb := New(1, 1, time.Second, WithClock(clock.Now))
	_ = cb.Do(fail)
	clock.Advance(time.Second)

	release := make(chan struct{})
	started := make(chan struct{})
	done := make(chan error)
	go func() {
		done <- cb.Do(func() error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started
	if err := cb.Do(succeed); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("second concurrent probe: expected ErrCircuitOpen, got %v", err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("probe: %v", err)
	}
	if cb.State() != Closed {
		t.Fatalf("expected Closed, got %v", cb.State())
	}
}

func TestBreakerIgnoredErrors(t *testing.T) {
	cb := New(1, 1, time.Minute, IgnoreErrors(func(err error) bool {
		return errors.Is(err, context.Canceled)
	}))
	if err := cb.Do(func() error { return context.Canceled }); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if cb.State() != Closed {
		t.Fatalf("cancellation should not trip the breaker, got %v", cb.State())
	}
}
