package scheduler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/automaker/automaker/internal/cancel"
	"github.com/automaker/automaker/internal/depgraph"
	"github.com/automaker/automaker/internal/errs"
	"github.com/automaker/automaker/internal/llm"
	"github.com/automaker/automaker/internal/model"
	"github.com/automaker/automaker/internal/runner"
	"github.com/automaker/automaker/internal/store"
)

// prepare loads the feature and resolves its worktree.
func (s *Scheduler) prepare(featureID string) (model.Feature, string, error) {
	fl, err := store.Load(s.ProjectPath)
	if err != nil {
		return model.Feature{}, "", err
	}
	f, ok := fl.Get(featureID)
	if !ok {
		return model.Feature{}, "", &errs.NotFound{Kind: "feature", ID: featureID}
	}

	res, err := s.Worktree.Ensure(s.ProjectPath, s.branchFor(f))
	if err != nil {
		return model.Feature{}, "", err
	}
	return f, res.Path, nil
}

// branchFor resolves a feature's target branch. Unassigned features run in
// the main worktree; only an explicit branchName gets isolation.
func (s *Scheduler) branchFor(f model.Feature) string {
	if f.BranchName != nil && *f.BranchName != "" {
		return *f.BranchName
	}
	return "main"
}

// RunFeature drives one backlog feature through a full Plan+Act+Verify run.
// On pass it lands in verified (waiting_approval when tests are skipped); on
// fail or cancellation it stays in_progress for the user or loop to retry.
func (s *Scheduler) RunFeature(ctx context.Context, featureID string) error {
	f, worktreePath, err := s.prepare(featureID)
	if err != nil {
		return err
	}
	if f.Status != model.StatusBacklog {
		return &errs.StateError{FeatureID: featureID, Status: string(f.Status), Op: "runFeature"}
	}
	if s.Defaults.EnableDependencyBlocking {
		fl, err := store.Load(s.ProjectPath)
		if err != nil {
			return err
		}
		if blocking := depgraph.BlockingDependencies(f, fl.Features); len(blocking) > 0 {
			return fmt.Errorf("scheduler: feature %s is blocked by unfinished dependencies: %v", featureID, blocking)
		}
	}
	return s.execute(ctx, f, worktreePath, runner.ModeRun, "")
}

// ResumeFeature re-runs a feature with the prompt phrased as continuing the
// work already in its worktree. Verified and completed features cannot be
// resumed; anything else can, including a feature left in_progress by an
// earlier failed run.
func (s *Scheduler) ResumeFeature(ctx context.Context, featureID string) error {
	f, worktreePath, err := s.prepare(featureID)
	if err != nil {
		return err
	}
	if f.Status == model.StatusVerified || f.Status == model.StatusCompleted {
		return &errs.StateError{FeatureID: featureID, Status: string(f.Status), Op: "resumeFeature"}
	}
	return s.execute(ctx, f, worktreePath, runner.ModeResume, "")
}

// FollowUpFeature injects an additional instruction (plus any attached
// reference images) and re-runs the Act loop against a feature already
// waiting for approval or verified. The feature is reset to in_progress and
// its justFinishedAt cleared for the new run.
func (s *Scheduler) FollowUpFeature(ctx context.Context, featureID, message string, images ...model.ImageRef) error {
	f, worktreePath, err := s.prepare(featureID)
	if err != nil {
		return err
	}
	if f.Status != model.StatusWaitingApproval && f.Status != model.StatusVerified {
		return &errs.StateError{FeatureID: featureID, Status: string(f.Status), Op: "followUpFeature"}
	}
	if len(images) > 0 {
		var b strings.Builder
		b.WriteString(message)
		b.WriteString("\n\nReference images:\n")
		for _, img := range images {
			fmt.Fprintf(&b, "- %s (%s)\n", img.Path, img.Filename)
		}
		message = b.String()
	}
	return s.execute(ctx, f, worktreePath, runner.ModeFollowUp, message)
}

// VerifyFeature runs the restricted-tool verification phase only. On an
// explicit success outcome the feature moves to verified; on fail it keeps
// its current status with the failure reason logged.
func (s *Scheduler) VerifyFeature(ctx context.Context, featureID string) error {
	f, worktreePath, err := s.prepare(featureID)
	if err != nil {
		return err
	}
	if f.Status != model.StatusWaitingApproval && f.Status != model.StatusInProgress {
		return &errs.StateError{FeatureID: featureID, Status: string(f.Status), Op: "verifyFeature"}
	}
	if err := s.acquire(); err != nil {
		return err
	}

	handle := cancel.NewHandle()
	runID := newRunID()
	rc := model.RunContext{RunID: runID, FeatureID: featureID, WorktreePath: worktreePath, Phase: model.PhaseVerification, StartedAt: time.Now().UTC()}
	run := &activeRun{ctx: rc, handle: handle, done: make(chan struct{})}
	s.register(featureID, run)

	logs := newLogState(s.ProjectPath, featureID, runID)
	logs.writePID()
	logs.writeLive(model.PhaseVerification, "verify_start", "")

	go func() {
		defer s.release()
		defer func() { close(run.done); s.unregister(featureID) }()

		runCtx, stop := s.runContext(ctx)
		defer stop()
		res, runErr := s.Runner.Run(runCtx, handle, f, worktreePath, runner.ModeVerify, "", runner.Config{
			MaxTurns: s.Defaults.VerifyMaxTurns,
			Model:    s.modelFor(f),
		})
		if runErr != nil {
			logs.writeFinal(false, runErr.Error(), runID, featureID)
			return
		}

		reason := ""
		if res.Outcome != nil {
			reason = res.Outcome.FailureReason
		}
		logs.writeFinal(res.Passes, reason, runID, featureID)
		if !res.Passes {
			return
		}
		_, _ = s.Store.Update(s.ProjectPath, featureID, func(ff *model.Feature) {
			ff.Status = model.StatusVerified
			now := time.Now().UTC()
			ff.JustFinishedAt = &now
		})
	}()

	return nil
}

// CommitFeature asks the LLM for a commit message, commits the feature's
// worktree, and flips waiting_approval to verified. Cancellation before the
// commit lands leaves the feature in waiting_approval so the user can retry.
func (s *Scheduler) CommitFeature(ctx context.Context, featureID string) error {
	f, worktreePath, err := s.prepare(featureID)
	if err != nil {
		return err
	}
	if f.Status != model.StatusWaitingApproval {
		return &errs.StateError{FeatureID: featureID, Status: string(f.Status), Op: "commitFeature"}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := s.commitMessage(ctx, f)
	sha, err := s.Worktree.Commit(worktreePath, msg)
	if err != nil {
		s.Bus.Publish(model.NewEvent(model.EventError, featureID).WithMessage(err.Error()))
		return err
	}
	s.Bus.Publish(model.NewEvent(model.EventTool, featureID).WithTool("git commit"))

	_, err = s.Store.Update(s.ProjectPath, featureID, func(ff *model.Feature) {
		ff.Status = model.StatusVerified
	})
	if err != nil {
		return err
	}
	done := "committed " + sha
	if sha == "" {
		done = "nothing to commit"
	}
	s.Bus.Publish(model.NewEvent(model.EventComplete, featureID).WithPasses(true).WithMessage(done))
	return nil
}

// commitMessage asks the configured model for a one-line message and falls
// back to the feature description when the transport has nothing to offer.
func (s *Scheduler) commitMessage(ctx context.Context, f model.Feature) string {
	req := llm.Request{
		Model: s.modelFor(f),
		System: "Write a single-line git commit message (under 72 characters) for the feature described by the user. " +
			"Reply with the message only.",
		Messages: []llm.Message{{Role: llm.RoleUser, Content: []llm.ContentBlock{{Type: llm.BlockText, Text: f.Description}}}},
	}
	if resp, err := s.Runner.Client.Complete(ctx, req); err == nil {
		for _, c := range resp.Content {
			if c.Type == llm.BlockText && strings.TrimSpace(c.Text) != "" {
				return strings.SplitN(strings.TrimSpace(c.Text), "\n", 2)[0]
			}
		}
	}
	line := strings.SplitN(strings.TrimSpace(f.Description), "\n", 2)[0]
	if line == "" {
		line = f.ID
	}
	return line
}

// MergeFeature merges a verified feature's branch to main and marks it
// completed. The Worktree Manager performs the actual git merge.
func (s *Scheduler) MergeFeature(ctx context.Context, featureID string) error {
	fl, err := store.Load(s.ProjectPath)
	if err != nil {
		return err
	}
	f, ok := fl.Get(featureID)
	if !ok {
		return &errs.NotFound{Kind: "feature", ID: featureID}
	}
	if f.Status != model.StatusVerified {
		return &errs.StateError{FeatureID: featureID, Status: string(f.Status), Op: "mergeFeature"}
	}

	if err := s.Worktree.MergeToMain(s.ProjectPath, s.branchFor(f)); err != nil {
		return err
	}
	_, err = s.Store.Update(s.ProjectPath, featureID, func(ff *model.Feature) {
		ff.Status = model.StatusCompleted
	})
	return err
}

// runContext overlays the configured wall-clock budget, when one is set, on
// the caller's context. The returned stop must be called when the run drains.
func (s *Scheduler) runContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if d := s.Defaults.RunTimeout.Duration; d > 0 {
		return context.WithTimeout(ctx, d)
	}
	return context.WithCancel(ctx)
}

func (s *Scheduler) modelFor(f model.Feature) string {
	if f.Model != "" {
		return f.Model
	}
	return s.Defaults.DefaultModel
}

// execute runs the Agent Runner for one Plan+Act+Verify pass, handling the
// concurrency slot, RunContext bookkeeping, crash-recovery log artifacts,
// and the resulting status transition.
func (s *Scheduler) execute(ctx context.Context, f model.Feature, worktreePath string, mode runner.Mode, followUp string) error {
	if err := s.acquire(); err != nil {
		return err
	}

	handle := cancel.NewHandle()
	runID := newRunID()
	rc := model.RunContext{RunID: runID, FeatureID: f.ID, WorktreePath: worktreePath, Phase: model.PhaseAction, StartedAt: time.Now().UTC()}
	run := &activeRun{ctx: rc, handle: handle, done: make(chan struct{})}
	s.register(f.ID, run)

	branch := s.branchFor(f)
	now := time.Now().UTC()
	if _, err := s.Store.Update(s.ProjectPath, f.ID, func(ff *model.Feature) {
		ff.Status = model.StatusInProgress
		ff.StartedAt = &now
		ff.JustFinishedAt = nil
		// worktreePath is only set for runs isolated on a non-main branch;
		// main-worktree runs leave both bindings as they were.
		if !model.IsMainBranch(branch) {
			b := branch
			ff.BranchName = &b
			wp := worktreePath
			ff.WorktreePath = &wp
		}
	}); err != nil {
		s.release()
		close(run.done)
		s.unregister(f.ID)
		return err
	}

	logs := newLogState(s.ProjectPath, f.ID, runID)
	logs.writePID()
	logs.writeLive(model.PhaseAction, "run_start", "")

	// Mirror the Runner's phase events into the RunContext so Status reports
	// the live phase rather than the phase the run started in.
	phaseSub := s.Bus.Subscribe(f.ID)
	go func() {
		for ev := range phaseSub.Events {
			if ev.Type == model.EventPhase && ev.Phase != nil {
				s.mu.Lock()
				run.ctx.Phase = *ev.Phase
				s.mu.Unlock()
			}
		}
	}()

	go func() {
		defer s.release()
		defer phaseSub.Cancel()
		defer func() { close(run.done); s.unregister(f.ID) }()

		runCtx, stop := s.runContext(ctx)
		defer stop()
		res, runErr := s.Runner.Run(runCtx, handle, f, worktreePath, mode, followUp, runner.Config{
			MaxTurns: s.Defaults.MaxTurns,
			Model:    s.modelFor(f),
		})

		// Failures and cancellation leave the feature in_progress so the user
		// or the loop can retry; status only advances on an explicit pass.
		if runErr != nil {
			logs.writeFinal(false, runErr.Error(), runID, f.ID)
			return
		}
		if !res.Passes {
			reason := "verification failed"
			if res.Outcome != nil && res.Outcome.FailureReason != "" {
				reason = res.Outcome.FailureReason
			}
			logs.writeFinal(false, reason, runID, f.ID)
			return
		}

		if _, commitErr := s.Worktree.Commit(worktreePath, fmt.Sprintf("automaker: %s", f.ID)); commitErr != nil {
			logs.writeFinal(false, commitErr.Error(), runID, f.ID)
			return
		}

		logs.writeFinal(true, "", runID, f.ID)
		successStatus := model.StatusVerified
		if f.SkipTests {
			successStatus = model.StatusWaitingApproval
		}
		_, _ = s.Store.Update(s.ProjectPath, f.ID, func(ff *model.Feature) {
			ff.Status = successStatus
			fin := time.Now().UTC()
			ff.JustFinishedAt = &fin
		})
	}()

	return nil
}
