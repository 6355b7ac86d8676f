package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/automaker/automaker/internal/depgraph"
	"github.com/automaker/automaker/internal/errs"
	"github.com/automaker/automaker/internal/model"
	"github.com/automaker/automaker/internal/store"
)

// pollInterval is how often StartLoop checks for newly-unblocked backlog
// features to start.
const pollInterval = 2 * time.Second

// StartLoop launches a background goroutine that repeatedly resolves the
// dependency order and starts any backlog feature with free capacity and no
// blocking dependencies. It is idempotent: calling it twice without an
// intervening StopLoop is a no-op.
func (s *Scheduler) StartLoop(ctx context.Context) {
	s.mu.Lock()
	if s.loopCancel != nil {
		s.mu.Unlock()
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	s.loopCancel = cancel
	s.loopDone = make(chan struct{})
	s.mu.Unlock()

	go func() {
		defer close(s.loopDone)
		finish := func() {
			s.Bus.Publish(model.NewEvent(model.EventComplete, LoopFeatureID).
				WithPasses(true).WithMessage("all features completed"))
			s.mu.Lock()
			if s.loopCancel != nil {
				s.loopCancel()
				s.loopCancel = nil
				s.loopDone = nil
			}
			s.mu.Unlock()
		}
		if s.tick(loopCtx) {
			finish()
			return
		}
		ticker := time.NewTicker(pollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C:
				if s.tick(loopCtx) {
					finish()
					return
				}
			}
		}
	}()
}

// LoopFeatureID is the event-bus key the autonomous loop publishes its own
// lifecycle events under, since they belong to no single feature.
const LoopFeatureID = "auto-mode"

// StopLoop cancels the background loop and waits for it to exit.
func (s *Scheduler) StopLoop() {
	s.mu.Lock()
	cancelFn := s.loopCancel
	done := s.loopDone
	s.loopCancel = nil
	s.loopDone = nil
	s.mu.Unlock()
	if cancelFn == nil {
		return
	}
	cancelFn()
	if done != nil {
		<-done
	}
}

// tick starts as many eligible backlog features as current capacity allows.
// It reports true once no backlog work remains and nothing is running, which
// ends the loop.
func (s *Scheduler) tick(ctx context.Context) bool {
	fl, err := store.Load(s.ProjectPath)
	if err != nil {
		return false
	}

	backlog := 0
	for _, f := range fl.Features {
		if f.Status == model.StatusBacklog || f.Status == model.StatusInProgress {
			backlog++
		}
	}
	if backlog == 0 {
		s.mu.Lock()
		idle := len(s.running) == 0
		s.mu.Unlock()
		return idle
	}

	// The resolver sort (dependencies, then priority, then disk order) always
	// applies; the toggle only controls whether blocked features are skipped.
	order := depgraph.Resolve(fl.Features).Ordered

	for _, f := range order {
		var start func(context.Context, string) error
		switch f.Status {
		case model.StatusBacklog:
			start = s.RunFeature
		case model.StatusInProgress:
			// A failed or crashed run left this in place; retry by resuming,
			// but never touch a feature with a live Runner.
			s.mu.Lock()
			_, live := s.running[f.ID]
			s.mu.Unlock()
			if live {
				continue
			}
			start = s.ResumeFeature
		default:
			continue
		}
		if s.Defaults.EnableDependencyBlocking {
			if blocking := depgraph.BlockingDependencies(f, fl.Features); len(blocking) > 0 {
				continue
			}
		}
		if err := start(ctx, f.ID); err != nil {
			var cl *errs.ConcurrencyLimit
			if errors.As(err, &cl) {
				return false
			}
			continue
		}
	}
	return false
}
