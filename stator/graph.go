// Package stator drives stateful entities through declared state graphs.
// A graph is a plain table of states plus an explicit transition set,
// validated up front; a background runner scans for due instances and
// invokes per-state handlers, while externally progressed states are only
// ever advanced through TransitionPerform.
package stator

import (
	"fmt"
	"time"

	"github.com/halvdan/waxwing/domain"
)

// StateDef declares the scheduling behaviour of a single state.
type StateDef struct {
	// Initial marks the state new instances start in. Exactly one per graph.
	Initial bool
	// ExternallyProgressed states are never picked up by the runner.
	ExternallyProgressed bool
	// TryInterval is the minimum delay between handler attempts.
	TryInterval time.Duration
	// DeleteAfter purges instances this long after entering the state.
	DeleteAfter time.Duration
}

// Handler advances one instance. It returns the next state name, or "" to
// stay in the current state and retry after the try interval.
type Handler func(id string) (string, error)

// Graph is a validated state graph bound to a storage table.
type Graph struct {
	name        string
	table       string
	states      map[string]StateDef
	transitions map[string]map[string]bool
	handlers    map[string]Handler
	initial     string
}

// NewGraph validates the state table: exactly one initial state, no
// scheduling config on externally progressed states.
func NewGraph(name, table string, states map[string]StateDef) (*Graph, error) {
	g := &Graph{
		name:        name,
		table:       table,
		states:      states,
		transitions: make(map[string]map[string]bool),
		handlers:    make(map[string]Handler),
	}
	for state, def := range states {
		if def.Initial {
			if g.initial != "" {
				return nil, fmt.Errorf("graph %s: more than one initial state (%s, %s)", name, g.initial, state)
			}
			g.initial = state
		}
		if def.ExternallyProgressed && def.TryInterval > 0 {
			return nil, fmt.Errorf("graph %s: state %s is externally progressed but has a try interval", name, state)
		}
	}
	if g.initial == "" {
		return nil, fmt.Errorf("graph %s: no initial state", name)
	}
	return g, nil
}

// AddTransition declares a directed edge between two known states.
func (g *Graph) AddTransition(from, to string) error {
	if _, ok := g.states[from]; !ok {
		return fmt.Errorf("graph %s: unknown state %s", g.name, from)
	}
	if _, ok := g.states[to]; !ok {
		return fmt.Errorf("graph %s: unknown state %s", g.name, to)
	}
	if g.transitions[from] == nil {
		g.transitions[from] = make(map[string]bool)
	}
	g.transitions[from][to] = true
	return nil
}

// OnState attaches the handler invoked for automatic progression of a state.
func (g *Graph) OnState(state string, handler Handler) error {
	def, ok := g.states[state]
	if !ok {
		return fmt.Errorf("graph %s: unknown state %s", g.name, state)
	}
	if def.ExternallyProgressed {
		return fmt.Errorf("graph %s: state %s is externally progressed, cannot have a handler", g.name, state)
	}
	g.handlers[state] = handler
	return nil
}

// CanTransition reports whether from→to is a declared edge.
func (g *Graph) CanTransition(from, to string) bool {
	return g.transitions[from][to]
}

func (g *Graph) Name() string    { return g.name }
func (g *Graph) Table() string   { return g.table }
func (g *Graph) Initial() string { return g.initial }

// AutomaticStates returns the states the runner schedules, i.e. those with a
// registered handler.
func (g *Graph) AutomaticStates() []string {
	var states []string
	for state := range g.handlers {
		states = append(states, state)
	}
	return states
}

// DeleteStates returns the states subject to the purge sweep.
func (g *Graph) DeleteStates() []string {
	var states []string
	for state, def := range g.states {
		if def.DeleteAfter > 0 {
			states = append(states, state)
		}
	}
	return states
}

func (g *Graph) stateDef(state string) (StateDef, error) {
	def, ok := g.states[state]
	if !ok {
		return StateDef{}, fmt.Errorf("graph %s: %w: unknown state %s", g.name, domain.ErrInvalidTransition, state)
	}
	return def, nil
}
