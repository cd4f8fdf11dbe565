// Package circuitbreaker stops calling plugin instances that keep failing.
// State is tracked per instance address and held in memory only.
package circuitbreaker

import (
	"errors"
	"sync"
	"time"
)

var ErrCircuitOpen = errors.New("circuit breaker is open")

type state int

const (
	stateClosed state = iota
	stateOpen
	stateHalfOpen
)

func (s state) String() string {
	switch s {
	case stateOpen:
		return "open"
	case stateHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

type instanceState struct {
	state               state
	consecutiveFailures int
	openedAt            time.Time
}

// CircuitBreaker opens after threshold consecutive failures against one
// address and lets a single probe through once cooldown has elapsed.
// A threshold below one disables it.
type CircuitBreaker struct {
	mu        sync.Mutex
	states    map[string]*instanceState
	threshold int
	cooldown  time.Duration
	now       func() time.Time
}

func New(threshold int, cooldown time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		states:    make(map[string]*instanceState),
		threshold: threshold,
		cooldown:  cooldown,
		now:       time.Now,
	}
}

// WithClock replaces the time source.
func (cb *CircuitBreaker) WithClock(now func() time.Time) *CircuitBreaker {
	cb.now = now
	return cb
}

func (cb *CircuitBreaker) Allow(address string) error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	s, ok := cb.states[address]
	if !ok {
		return nil
	}

	switch s.state {
	case stateOpen:
		if cb.now().Sub(s.openedAt) >= cb.cooldown {
			s.state = stateHalfOpen
			return nil
		}
		return ErrCircuitOpen
	case stateHalfOpen:
		return ErrCircuitOpen
	default:
		return nil
	}
}

func (cb *CircuitBreaker) RecordSuccess(address string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	// Healthy addresses are not tracked.
	delete(cb.states, address)
}

func (cb *CircuitBreaker) RecordFailure(address string) {
	if cb.threshold < 1 {
		return
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()

	s, ok := cb.states[address]
	if !ok {
		s = &instanceState{}
		cb.states[address] = s
	}

	s.consecutiveFailures++
	if s.state == stateHalfOpen || s.consecutiveFailures >= cb.threshold {
		s.state = stateOpen
		s.openedAt = cb.now()
	}
}

// State reports the breaker state of an address: closed, open or half_open.
func (cb *CircuitBreaker) State(address string) string {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if s, ok := cb.states[address]; ok {
		return s.state.String()
	}
	return stateClosed.String()
}
