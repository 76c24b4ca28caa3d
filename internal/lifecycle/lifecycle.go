// Package lifecycle carries foreground/background transitions of the host
// application to the components that react to them.
package lifecycle

import (
	"fmt"
	"sync"
)

type State string

const (
	Foreground State = "foreground"
	Background State = "background"
)

func Parse(s string) (State, error) {
	switch State(s) {
	case Foreground, Background:
		return State(s), nil
	}
	return "", fmt.Errorf("unknown app state %q", s)
}

// Source delivers app state transitions.
type Source interface {
	Subscribe(fn func(State)) (cancel func())
}

// Manual is a Source fed by explicit Emit calls, from the control API, OS
// signals or tests.
type Manual struct {
	mu     sync.Mutex
	subs   map[int]func(State)
	nextID int
	state  State
}

func NewManual() *Manual {
	return &Manual{subs: make(map[int]func(State)), state: Foreground}
}

func (m *Manual) Subscribe(fn func(State)) (cancel func()) {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.subs[id] = fn
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		delete(m.subs, id)
		m.mu.Unlock()
	}
}

// Emit records s and delivers it to every subscriber in turn.
func (m *Manual) Emit(s State) {
	m.mu.Lock()
	m.state = s
	fns := make([]func(State), 0, len(m.subs))
	for _, fn := range m.subs {
		fns = append(fns, fn)
	}
	m.mu.Unlock()
	for _, fn := range fns {
		fn(s)
	}
}

// Current is the last emitted state.
func (m *Manual) Current() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}
