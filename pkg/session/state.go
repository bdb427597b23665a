package session

import (
	"fmt"
	"sync"
)

// State is a session lifecycle stage
type State int32

const (
	StateUninitialized State = iota
	StateInitializing
	StateReady
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// transitions lists every legal move. A handshake failure goes through
// Closing like any other shutdown.
var transitions = map[State][]State{
	StateUninitialized: {StateInitializing, StateClosing},
	StateInitializing:  {StateReady, StateClosing},
	StateReady:         {StateClosing},
	StateClosing:       {StateClosed},
}

func canTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// StateHook observes a transition. Hooks run synchronously, in registration
// order, outside the state lock.
type StateHook func(from, to State)

type stateMachine struct {
	mu      sync.RWMutex
	current State
	hooks   []StateHook
}

func (m *stateMachine) get() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

func (m *stateMachine) onChange(h StateHook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hooks = append(m.hooks, h)
}

// transition moves to next and reports whether it was legal
func (m *stateMachine) transition(next State) (State, bool) {
	m.mu.Lock()
	prev := m.current
	if !canTransition(prev, next) {
		m.mu.Unlock()
		return prev, false
	}
	m.current = next
	hooks := append([]StateHook(nil), m.hooks...)
	m.mu.Unlock()

	for _, h := range hooks {
		h(prev, next)
	}
	return prev, true
}

// transitionFrom moves to next only when the current state is from
func (m *stateMachine) transitionFrom(from, next State) bool {
	m.mu.Lock()
	if m.current != from || !canTransition(from, next) {
		m.mu.Unlock()
		return false
	}
	m.current = next
	hooks := append([]StateHook(nil), m.hooks...)
	m.mu.Unlock()

	for _, h := range hooks {
		h(from, next)
	}
	return true
}
