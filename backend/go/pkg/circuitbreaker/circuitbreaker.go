package circuitbreaker

import (
	"errors"
	"sync"
	"time"
)

// State represents the state of the circuit breaker.
type State int

const (
	// Closed lets every call through.
	Closed State = iota
	// Open rejects calls until the timeout elapses.
	Open
	// HalfOpen admits a single probe call at a time.
	HalfOpen
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case Closed:
		return "Closed"
	case Open:
		return "Open"
	case HalfOpen:
		return "Half-Open"
	default:
		return "Unknown"
	}
}

var (
	// ErrCircuitOpen is returned when the breaker rejects a call.
	ErrCircuitOpen = errors.New("circuit breaker is open")
)

// CircuitBreaker is the interface for the circuit breaker pattern.
type CircuitBreaker interface {
	// Execute runs req unless the breaker rejects it.
	Execute(req func() (interface{}, error)) (interface{}, error)
	// Do is Execute for calls that only return an error.
	Do(req func() error) error
	// State returns the current state of the circuit breaker.
	State() State
}

// Option configures a breaker.
type Option func(*breaker)

// WithStateChange registers a callback fired after every transition.
// The callback runs outside the breaker lock.
func WithStateChange(fn func(from, to State)) Option {
	return func(b *breaker) { b.onChange = fn }
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(b *breaker) { b.now = now }
}

// IgnoreErrors marks errors that count as success, e.g. caller cancellation.
func IgnoreErrors(match func(error) bool) Option {
	return func(b *breaker) { b.ignore = match }
}

type breaker struct {
	failureThreshold uint32
	successThreshold uint32
	timeout          time.Duration

	mu        sync.Mutex
	state     State
	failures  uint32
	successes uint32
	openedAt  time.Time
	probing   bool

	now      func() time.Time
	onChange func(from, to State)
	ignore   func(error) bool
}

// New creates a breaker that opens after failureThreshold consecutive failures,
// waits timeout, then closes again after successThreshold successful probes.
func New(failureThreshold, successThreshold uint32, timeout time.Duration, opts ...Option) CircuitBreaker {
	if failureThreshold == 0 {
		failureThreshold = 1
	}
	if successThreshold == 0 {
		successThreshold = 1
	}
	b := &breaker{
		failureThreshold: failureThreshold,
		successThreshold: successThreshold,
		timeout:          timeout,
		state:            Closed,
		now:              time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *breaker) State() State {
	b.mu.Lock()
	c := b.advance()
	state := b.state
	b.mu.Unlock()
	b.notify(c)
	return state
}

func (b *breaker) Do(req func() error) error {
	_, err := b.Execute(func() (interface{}, error) { return nil, req() })
	return err
}

func (b *breaker) Execute(req func() (interface{}, error)) (interface{}, error) {
	probe, transition, err := b.admit()
	b.notify(transition)
	if err != nil {
		return nil, err
	}

	res, reqErr := req()

	failed := reqErr != nil && (b.ignore == nil || !b.ignore(reqErr))
	b.notify(b.record(probe, failed))
	return res, reqErr
}

type change struct{ from, to State }

func (b *breaker) notify(c *change) {
	if c != nil && b.onChange != nil {
		b.onChange(c.from, c.to)
	}
}

// advance moves Open to HalfOpen once the timeout has elapsed. Caller holds mu.
func (b *breaker) advance() *change {
	if b.state == Open && b.now().Sub(b.openedAt) >= b.timeout {
		return b.setState(HalfOpen)
	}
	return nil
}

func (b *breaker) admit() (probe bool, c *change, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c = b.advance()
	switch b.state {
	case Open:
		return false, c, ErrCircuitOpen
	case HalfOpen:
		if b.probing {
			return false, c, ErrCircuitOpen
		}
		b.probing = true
		return true, c, nil
	default:
		return false, c, nil
	}
}

func (b *breaker) record(probe, failed bool) *change {
	b.mu.Lock()
	defer b.mu.Unlock()

	if probe {
		b.probing = false
	}
	switch b.state {
	case HalfOpen:
		if failed {
			return b.trip()
		}
		b.successes++
		if b.successes >= b.successThreshold {
			return b.setState(Closed)
		}
	case Closed:
		if !failed {
			b.failures = 0
			return nil
		}
		b.failures++
		if b.failures >= b.failureThreshold {
			return b.trip()
		}
	}
	return nil
}

func (b *breaker) trip() *change {
	c := b.setState(Open)
	b.openedAt = b.now()
	return c
}

func (b *breaker) setState(to State) *change {
	from := b.state
	b.state = to
	b.failures = 0
	b.successes = 0
	if from == to {
		return nil
	}
	return &change{from: from, to: to}
}
