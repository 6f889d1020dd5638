package stator

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/halvdan/waxwing/domain"
)

var transitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "stator_transitions_total",
	Help: "Completed state transitions by graph and target state",
}, []string{"graph", "state"})

var handlerErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "stator_handler_errors_total",
	Help: "Handler failures by graph and state; failed instances retry after their try interval",
}, []string{"graph", "state"})

var dueInstancesGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Name: "stator_due_instances",
	Help: "Instances due for automatic progression at the last scan",
}, []string{"graph"})

var purgedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "stator_purged_total",
	Help: "Instances purged from delete-after states",
}, []string{"graph", "state"})

// Instance is one stateful row as seen by the runner.
type Instance struct {
	Id           string
	State        string
	StateChanged time.Time
}

// Store is the persistence contract the runner drives. Implementations must
// make ClaimAttempt and TransitionCAS atomic per row so that concurrent
// attempts on the same instance resolve to exactly one winner.
type Store interface {
	ReadDueInstances(table, state string, cutoff time.Time, limit int) ([]Instance, error)
	ClaimAttempt(table, id, state string, cutoff time.Time) (bool, error)
	TransitionCAS(table, id, from, to string) (bool, error)
	ReadInstanceState(table, id string) (string, error)
	PurgeOlderThan(table, state string, cutoff time.Time) (int64, error)
}

const scanBatchSize = 100

// Runner periodically scans all registered graphs for instances due for
// automatic progression and runs their handlers on a worker pool.
type Runner struct {
	store    Store
	graphs   []*Graph
	interval time.Duration
	workers  int
	stop     chan struct{}
	stopOnce sync.Once
}

func NewRunner(store Store, interval time.Duration, workers int, graphs ...*Graph) *Runner {
	if workers < 1 {
		workers = 1
	}
	return &Runner{
		store:    store,
		graphs:   graphs,
		interval: interval,
		workers:  workers,
		stop:     make(chan struct{}),
	}
}

// Start launches the scheduling loop in the background.
func (r *Runner) Start() {
	log.Printf("Stator: starting runner (%d graphs, %d workers, every %s)", len(r.graphs), r.workers, r.interval)

	ticker := time.NewTicker(r.interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				r.runOnce(time.Now())
			case <-r.stop:
				return
			}
		}
	}()
}

// Stop halts the scheduling loop. In-flight handlers finish.
func (r *Runner) Stop() {
	r.stopOnce.Do(func() { close(r.stop) })
}

type task struct {
	graph    *Graph
	state    string
	instance Instance
	cutoff   time.Time
}

// runOnce performs a single scheduling pass: scan, claim, run handlers,
// then sweep delete-after states.
func (r *Runner) runOnce(now time.Time) {
	var tasks []task

	for _, graph := range r.graphs {
		due := 0
		for _, state := range graph.AutomaticStates() {
			def, err := graph.stateDef(state)
			if err != nil {
				continue
			}
			cutoff := now.Add(-def.TryInterval)
			instances, err := r.store.ReadDueInstances(graph.Table(), state, cutoff, scanBatchSize)
			if err != nil {
				log.Printf("Stator: %s: failed to scan state %s: %v", graph.Name(), state, err)
				continue
			}
			due += len(instances)
			for _, instance := range instances {
				tasks = append(tasks, task{graph: graph, state: state, instance: instance, cutoff: cutoff})
			}
		}
		dueInstancesGauge.WithLabelValues(graph.Name()).Set(float64(due))
	}

	var wg sync.WaitGroup
	sem := make(chan struct{}, r.workers)
	for _, t := range tasks {
		wg.Add(1)
		sem <- struct{}{}
		go func(t task) {
			defer wg.Done()
			defer func() { <-sem }()
			r.runTask(t)
		}(t)
	}
	wg.Wait()

	r.sweepDeletes(now)
}

// runTask claims one instance and drives its handler. The claim is a CAS on
// (id, state, attempt timestamp), so two workers racing on the same row make
// exactly one handler run.
func (r *Runner) runTask(t task) {
	claimed, err := r.store.ClaimAttempt(t.graph.Table(), t.instance.Id, t.state, t.cutoff)
	if err != nil {
		log.Printf("Stator: %s: failed to claim %s: %v", t.graph.Name(), t.instance.Id, err)
		return
	}
	if !claimed {
		// Someone else got there first, or the row already moved on
		return
	}

	handler := t.graph.handlers[t.state]
	next, err := handler(t.instance.Id)
	if err != nil {
		// Stay in state; the instance is retried after the try interval
		handlerErrorsTotal.WithLabelValues(t.graph.Name(), t.state).Inc()
		log.Printf("Stator: %s: handler for %s/%s failed: %v", t.graph.Name(), t.state, t.instance.Id, err)
		return
	}
	if next == "" {
		// Handler chose to stay and try again later
		return
	}

	if !t.graph.CanTransition(t.state, next) {
		log.Printf("Stator: %s: handler returned undeclared transition %s -> %s for %s", t.graph.Name(), t.state, next, t.instance.Id)
		return
	}

	moved, err := r.store.TransitionCAS(t.graph.Table(), t.instance.Id, t.state, next)
	if err != nil {
		log.Printf("Stator: %s: failed to transition %s: %v", t.graph.Name(), t.instance.Id, err)
		return
	}
	if moved {
		transitionsTotal.WithLabelValues(t.graph.Name(), next).Inc()
	}
	// A failed CAS means the handler already progressed the row inside its
	// own transaction, or a concurrent external transition won; both are
	// fine to leave alone.
}

func (r *Runner) sweepDeletes(now time.Time) {
	for _, graph := range r.graphs {
		for _, state := range graph.DeleteStates() {
			def, err := graph.stateDef(state)
			if err != nil {
				continue
			}
			purged, err := r.store.PurgeOlderThan(graph.Table(), state, now.Add(-def.DeleteAfter))
			if err != nil {
				log.Printf("Stator: %s: failed to purge state %s: %v", graph.Name(), state, err)
				continue
			}
			if purged > 0 {
				purgedTotal.WithLabelValues(graph.Name(), state).Add(float64(purged))
				log.Printf("Stator: %s: purged %d instances from %s", graph.Name(), purged, state)
			}
		}
	}
}

// TransitionPerform progresses an instance from the outside, bypassing the
// scheduler. The edge must be declared; a concurrent transition that already
// landed on the target is a no-op.
func TransitionPerform(store Store, graph *Graph, id, target string) error {
	if _, err := graph.stateDef(target); err != nil {
		return err
	}

	current, err := store.ReadInstanceState(graph.Table(), id)
	if err != nil {
		return err
	}
	if current == target {
		return nil
	}
	if !graph.CanTransition(current, target) {
		return fmt.Errorf("graph %s: %w: %s -> %s", graph.Name(), domain.ErrInvalidTransition, current, target)
	}

	moved, err := store.TransitionCAS(graph.Table(), id, current, target)
	if err != nil {
		return err
	}
	if moved {
		transitionsTotal.WithLabelValues(graph.Name(), target).Inc()
		return nil
	}

	// Lost a race; if the row ended up in the target anyway treat it as done
	current, err = store.ReadInstanceState(graph.Table(), id)
	if err != nil {
		return err
	}
	if current == target {
		return nil
	}
	return fmt.Errorf("graph %s: %w: concurrent transition moved instance to %s", graph.Name(), domain.ErrInvalidTransition, current)
}
