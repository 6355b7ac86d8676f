// Package scheduler implements the Scheduler/Orchestrator: the single
// component that holds the counted-concurrency semaphore, drives the
// Dependency Resolver before picking the next feature to run, and owns
// every RunContext/CancellationHandle pair for the lifetime of its Agent
// Runner.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/automaker/automaker/internal/cancel"
	"github.com/automaker/automaker/internal/config"
	"github.com/automaker/automaker/internal/errs"
	"github.com/automaker/automaker/internal/eventbus"
	"github.com/automaker/automaker/internal/model"
	"github.com/automaker/automaker/internal/runner"
	"github.com/automaker/automaker/internal/store"
	"github.com/automaker/automaker/internal/worktree"
)

// activeRun tracks one in-flight Agent Runner invocation.
type activeRun struct {
	ctx    model.RunContext
	handle *cancel.Handle
	done   chan struct{}
}

// Scheduler orchestrates feature runs for a single project checkout.
type Scheduler struct {
	ProjectPath string

	Store    *store.Store
	Bus      *eventbus.Bus
	Worktree *worktree.Manager
	Runner   *runner.Runner
	Defaults config.Defaults

	sem chan struct{}

	mu      sync.Mutex
	running map[string]*activeRun

	loopCancel context.CancelFunc
	loopDone   chan struct{}
}

// New constructs a Scheduler. MaxConcurrency <= 0 falls back to 1 so the
// semaphore is never unbounded by accident.
func New(projectPath string, st *store.Store, bus *eventbus.Bus, wt *worktree.Manager, rn *runner.Runner, defaults config.Defaults) *Scheduler {
	slots := defaults.MaxConcurrency
	if slots <= 0 {
		slots = 1
	}
	return &Scheduler{
		ProjectPath: projectPath,
		Store:       st,
		Bus:         bus,
		Worktree:    wt,
		Runner:      rn,
		Defaults:    defaults,
		sem:         make(chan struct{}, slots),
		running:     map[string]*activeRun{},
	}
}

// RunSummary is the public view of one feature's scheduling state, returned
// by Status.
type RunSummary struct {
	FeatureID    string
	Status       model.Status
	Running      bool
	RunID        string
	Phase        model.Phase
	WorktreePath string
	StartedAt    time.Time
}

// Status reports the current on-disk status plus, if a run is active, its
// RunContext.
func (s *Scheduler) Status(featureID string) (RunSummary, error) {
	fl, err := store.Load(s.ProjectPath)
	if err != nil {
		return RunSummary{}, err
	}
	f, ok := fl.Get(featureID)
	if !ok {
		return RunSummary{}, &errs.NotFound{Kind: "feature", ID: featureID}
	}

	sum := RunSummary{FeatureID: featureID, Status: f.Status}
	s.mu.Lock()
	defer s.mu.Unlock()
	if run, ok := s.running[featureID]; ok {
		sum.Running = true
		sum.RunID = run.ctx.RunID
		sum.Phase = run.ctx.Phase
		sum.WorktreePath = run.ctx.WorktreePath
		sum.StartedAt = run.ctx.StartedAt
	}
	return sum, nil
}

// Snapshot is the point-in-time view of everything the Scheduler is doing.
type Snapshot struct {
	Running      []RunSummary
	RunningCount int
	CanStart     bool
}

// CanStart reports whether a new run would currently be admitted by the
// concurrency cap.
func (s *Scheduler) CanStart() bool {
	return len(s.sem) < cap(s.sem)
}

// StatusAll snapshots every active run without touching disk.
func (s *Scheduler) StatusAll() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{CanStart: len(s.sem) < cap(s.sem)}
	for id, run := range s.running {
		snap.Running = append(snap.Running, RunSummary{
			FeatureID:    id,
			Status:       model.StatusInProgress,
			Running:      true,
			RunID:        run.ctx.RunID,
			Phase:        run.ctx.Phase,
			WorktreePath: run.ctx.WorktreePath,
			StartedAt:    run.ctx.StartedAt,
		})
	}
	snap.RunningCount = len(snap.Running)
	return snap
}

// acquire reserves a concurrency slot, failing fast rather than queuing.
func (s *Scheduler) acquire() error {
	select {
	case s.sem <- struct{}{}:
		return nil
	default:
		return &errs.ConcurrencyLimit{Limit: cap(s.sem), Running: len(s.sem)}
	}
}

func (s *Scheduler) release() {
	select {
	case <-s.sem:
	default:
	}
}

func (s *Scheduler) register(featureID string, run *activeRun) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running[featureID] = run
}

func (s *Scheduler) unregister(featureID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.running, featureID)
}

// StopFeature cancels an in-flight run, if one exists. It is not an error to
// stop a feature with no active run.
func (s *Scheduler) StopFeature(featureID string) error {
	s.mu.Lock()
	run, ok := s.running[featureID]
	s.mu.Unlock()
	if !ok {
		return nil
	}
	run.handle.Cancel("stopped by user")
	return nil
}

func newRunID() string {
	return ulid.Make().String()
}
