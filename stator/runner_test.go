package stator

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/halvdan/waxwing/domain"
)

// fakeStore is an in-memory Store for driving the runner directly.
type fakeStore struct {
	mu        sync.Mutex
	states    map[string]string
	attempted map[string]time.Time
	changed   map[string]time.Time
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		states:    make(map[string]string),
		attempted: make(map[string]time.Time),
		changed:   make(map[string]time.Time),
	}
}

func (s *fakeStore) put(id, state string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[id] = state
	s.changed[id] = time.Now().Add(-time.Hour)
}

func (s *fakeStore) ReadDueInstances(table, state string, cutoff time.Time, limit int) ([]Instance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []Instance
	for id, current := range s.states {
		if current != state {
			continue
		}
		if attempted, ok := s.attempted[id]; ok && attempted.After(cutoff) {
			continue
		}
		due = append(due, Instance{Id: id, State: current, StateChanged: s.changed[id]})
	}
	return due, nil
}

func (s *fakeStore) ClaimAttempt(table, id, state string, cutoff time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.states[id] != state {
		return false, nil
	}
	if attempted, ok := s.attempted[id]; ok && attempted.After(cutoff) {
		return false, nil
	}
	s.attempted[id] = time.Now()
	return true, nil
}

func (s *fakeStore) TransitionCAS(table, id, from, to string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.states[id] != from {
		return false, nil
	}
	s.states[id] = to
	s.changed[id] = time.Now()
	delete(s.attempted, id)
	return true, nil
}

func (s *fakeStore) ReadInstanceState(table, id string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.states[id]
	if !ok {
		return "", domain.ErrNotFound
	}
	return state, nil
}

func (s *fakeStore) PurgeOlderThan(table, state string, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var purged int64
	for id, current := range s.states {
		if current == state && s.changed[id].Before(cutoff) {
			delete(s.states, id)
			purged++
		}
	}
	return purged, nil
}

func testGraph(t *testing.T, handler Handler) *Graph {
	t.Helper()
	graph, err := NewGraph("test", "rows", map[string]StateDef{
		"outdated": {Initial: true, TryInterval: 300 * time.Second},
		"updated":  {ExternallyProgressed: true},
		"gone":     {DeleteAfter: time.Hour},
	})
	if err != nil {
		t.Fatalf("Failed to build graph: %v", err)
	}
	graph.AddTransition("outdated", "updated")
	graph.AddTransition("updated", "outdated")
	graph.AddTransition("updated", "gone")
	graph.OnState("outdated", handler)
	return graph
}

func TestRunOnceProgressesDueInstance(t *testing.T) {
	store := newFakeStore()
	store.put("p1", "outdated")

	calls := 0
	graph := testGraph(t, func(id string) (string, error) {
		calls++
		return "updated", nil
	})

	runner := NewRunner(store, time.Second, 2, graph)
	runner.runOnce(time.Now())

	if calls != 1 {
		t.Fatalf("Expected 1 handler call, got %d", calls)
	}
	state, _ := store.ReadInstanceState("rows", "p1")
	if state != "updated" {
		t.Errorf("Expected updated, got %s", state)
	}

	// A second pass must not re-invoke: the row left the automatic state
	runner.runOnce(time.Now())
	if calls != 1 {
		t.Errorf("Handler re-invoked after successful transition, calls=%d", calls)
	}
}

func TestRunOnceRespectsTryInterval(t *testing.T) {
	store := newFakeStore()
	store.put("p1", "outdated")

	calls := 0
	graph := testGraph(t, func(id string) (string, error) {
		calls++
		return "", errors.New("boom")
	})

	runner := NewRunner(store, time.Second, 2, graph)
	now := time.Now()
	runner.runOnce(now)
	if calls != 1 {
		t.Fatalf("Expected 1 handler call, got %d", calls)
	}

	// Still within the try interval: the fresh attempt timestamp gates it
	runner.runOnce(now.Add(time.Minute))
	if calls != 1 {
		t.Errorf("Failed instance retried before try interval elapsed, calls=%d", calls)
	}

	// After the interval the instance is due again
	runner.runOnce(now.Add(301 * time.Second))
	if calls != 2 {
		t.Errorf("Expected retry after try interval, calls=%d", calls)
	}
}

func TestHandlerStay(t *testing.T) {
	store := newFakeStore()
	store.put("p1", "outdated")

	graph := testGraph(t, func(id string) (string, error) {
		return "", nil
	})

	runner := NewRunner(store, time.Second, 1, graph)
	runner.runOnce(time.Now())

	state, _ := store.ReadInstanceState("rows", "p1")
	if state != "outdated" {
		t.Errorf("Returning empty state must stay, got %s", state)
	}
}

func TestUndeclaredHandlerTransitionIgnored(t *testing.T) {
	store := newFakeStore()
	store.put("p1", "outdated")

	graph := testGraph(t, func(id string) (string, error) {
		return "gone", nil
	})

	runner := NewRunner(store, time.Second, 1, graph)
	runner.runOnce(time.Now())

	state, _ := store.ReadInstanceState("rows", "p1")
	if state != "outdated" {
		t.Errorf("Undeclared transition must not be performed, got %s", state)
	}
}

func TestSweepDeletes(t *testing.T) {
	store := newFakeStore()
	store.put("p1", "gone")

	graph := testGraph(t, func(id string) (string, error) { return "", nil })
	runner := NewRunner(store, time.Second, 1, graph)

	// Entered an hour ago (via put), delete_after is one hour
	runner.runOnce(time.Now().Add(time.Hour))

	if _, err := store.ReadInstanceState("rows", "p1"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Expected purged instance, got err=%v", err)
	}
}

func TestTransitionPerform(t *testing.T) {
	store := newFakeStore()
	store.put("p1", "updated")

	graph := testGraph(t, func(id string) (string, error) { return "", nil })

	if err := TransitionPerform(store, graph, "p1", "outdated"); err != nil {
		t.Fatalf("Declared external transition failed: %v", err)
	}
	state, _ := store.ReadInstanceState("rows", "p1")
	if state != "outdated" {
		t.Errorf("Expected outdated, got %s", state)
	}

	// Same-target call is an idempotent no-op
	if err := TransitionPerform(store, graph, "p1", "outdated"); err != nil {
		t.Errorf("Transition to current state must be a no-op, got %v", err)
	}

	// outdated -> gone is not declared
	err := TransitionPerform(store, graph, "p1", "gone")
	if !errors.Is(err, domain.ErrInvalidTransition) {
		t.Errorf("Expected ErrInvalidTransition, got %v", err)
	}

	// Unknown target state
	err = TransitionPerform(store, graph, "p1", "nowhere")
	if !errors.Is(err, domain.ErrInvalidTransition) {
		t.Errorf("Expected ErrInvalidTransition for unknown state, got %v", err)
	}
}
