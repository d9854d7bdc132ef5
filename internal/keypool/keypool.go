// Package keypool tracks API credentials as a ring with a monotonic failed set.
//
// State holds the pure transitions; Pool wraps a State in a mutex so concurrent
// fetch tasks can share one credential ring per run.
package keypool

import (
	"errors"
	"strings"
	"sync"
)

var (
	// ErrNoKeys is returned when a pool is built without any usable credential.
	ErrNoKeys = errors.New("no api keys configured")
	// ErrExhaustedKeys is returned once every credential has been marked failed.
	ErrExhaustedKeys = errors.New("all api keys exhausted")
)

// State is an immutable snapshot of the ring.
type State struct {
	keys   []string
	failed []bool
	cursor int
}

// NewState builds a State from keys, dropping blank entries.
func NewState(keys []string) (State, error) {
	clean := make([]string, 0, len(keys))
	for _, k := range keys {
		if k = strings.TrimSpace(k); k != "" {
			clean = append(clean, k)
		}
	}
	if len(clean) == 0 {
		return State{}, ErrNoKeys
	}
	return State{keys: clean, failed: make([]bool, len(clean))}, nil
}

// Size returns the number of credentials in the ring.
func (s State) Size() int { return len(s.keys) }

// Current scans forward from the cursor for the first key not marked failed.
func (s State) Current() (int, string, bool) {
	n := len(s.keys)
	for i := 0; i < n; i++ {
		idx := (s.cursor + i) % n
		if !s.failed[idx] {
			return idx, s.keys[idx], true
		}
	}
	return -1, "", false
}

// Rotate marks the current key failed and moves the cursor one past it.
// Rotating an exhausted state returns it unchanged.
func (s State) Rotate() State {
	idx, _, ok := s.Current()
	if !ok {
		return s
	}
	next := State{
		keys:   s.keys,
		failed: append([]bool(nil), s.failed...),
		cursor: (idx + 1) % len(s.keys),
	}
	next.failed[idx] = true
	return next
}

// Exhausted reports whether every key has failed.
func (s State) Exhausted() bool {
	_, _, ok := s.Current()
	return !ok
}

// FailedCount returns how many keys are marked failed.
func (s State) FailedCount() int {
	count := 0
	for _, f := range s.failed {
		if f {
			count++
		}
	}
	return count
}

// Pool is the mutex-guarded, shareable form of State.
type Pool struct {
	mu    sync.Mutex
	state State
}

// New constructs a Pool from configured keys.
func New(keys []string) (*Pool, error) {
	state, err := NewState(keys)
	if err != nil {
		return nil, err
	}
	return &Pool{state: state}, nil
}

// Current returns the active key or ErrExhaustedKeys.
func (p *Pool) Current() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, key, ok := p.state.Current()
	if !ok {
		return "", ErrExhaustedKeys
	}
	return key, nil
}

// Rotate fails the active key and returns its successor.
func (p *Pool) Rotate() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = p.state.Rotate()
	_, key, ok := p.state.Current()
	if !ok {
		return "", ErrExhaustedKeys
	}
	return key, nil
}

// RotateFrom fails key only if it is still the active key. Concurrent tasks
// that observed the same bad key then cause a single rotation between them.
func (p *Pool) RotateFrom(key string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, active, ok := p.state.Current(); ok && active == key {
		p.state = p.state.Rotate()
	}
	_, next, ok := p.state.Current()
	if !ok {
		return "", ErrExhaustedKeys
	}
	return next, nil
}

// Cursor returns the index of the active key, or -1 when exhausted.
func (p *Pool) Cursor() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	idx, _, _ := p.state.Current()
	return idx
}

// Size returns the number of keys.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state.Size()
}

// Exhausted reports whether no key remains usable.
func (p *Pool) Exhausted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state.Exhausted()
}

// Failed returns how many keys are marked failed.
func (p *Pool) Failed() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state.FailedCount()
}
