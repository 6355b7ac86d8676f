package scheduler

import (
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/automaker/automaker/internal/config"
	"github.com/automaker/automaker/internal/eventbus"
	"github.com/automaker/automaker/internal/llm"
	"github.com/automaker/automaker/internal/model"
	"github.com/automaker/automaker/internal/runner"
	"github.com/automaker/automaker/internal/runtime"
	"github.com/automaker/automaker/internal/store"
	"github.com/automaker/automaker/internal/worktree"
)

func initTestRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	run := func(args ...string) {
		t.Helper()
		cmd := exec.Command("git", append([]string{"-C", dir}, args...)...)
		cmd.Env = append(os.Environ(),
			"GIT_AUTHOR_NAME=test", "GIT_AUTHOR_EMAIL=test@test",
			"GIT_COMMITTER_NAME=test", "GIT_COMMITTER_EMAIL=test@test",
		)
		out, err := cmd.CombinedOutput()
		if err != nil {
			t.Fatalf("git %v failed: %v\n%s", args, err, out)
		}
	}
	run("init", "-b", "main")
	run("config", "user.name", "test")
	run("config", "user.email", "test@test")
	if err := os.WriteFile(filepath.Join(dir, "initial.txt"), []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}
	run("add", "-A")
	run("commit", "-m", "initial")
	return dir
}

// textOnlyAdapter always replies with plain text and no tool calls, so the
// Agent Runner's loop exits after one turn.
type textOnlyAdapter struct{ text string }

func (a *textOnlyAdapter) Name() string { return "fake" }
func (a *textOnlyAdapter) Complete(ctx context.Context, req llm.Request) (llm.Response, error) {
	return llm.Response{}, nil
}
func (a *textOnlyAdapter) Stream(ctx context.Context, req llm.Request) (llm.Stream, error) {
	ch := make(chan llm.StreamEvent, 1)
	ch <- llm.StreamEvent{Type: llm.StreamDone, Response: &llm.Response{
		Content: []llm.ContentBlock{{Type: llm.BlockText, Text: a.text}},
	}}
	close(ch)
	return &fakeSchedStream{ch}, nil
}

type fakeSchedStream struct{ ch chan llm.StreamEvent }

func (s *fakeSchedStream) Events() <-chan llm.StreamEvent { return s.ch }
func (s *fakeSchedStream) Close() error                   { return nil }

// hangingAdapter blocks each Stream call until the caller's context is
// cancelled, standing in for a long LLM turn.
type hangingAdapter struct{}

func (a *hangingAdapter) Name() string { return "fake" }
func (a *hangingAdapter) Complete(ctx context.Context, req llm.Request) (llm.Response, error) {
	return llm.Response{}, nil
}
func (a *hangingAdapter) Stream(ctx context.Context, req llm.Request) (llm.Stream, error) {
	ch := make(chan llm.StreamEvent, 1)
	go func() {
		<-ctx.Done()
		ch <- llm.StreamEvent{Type: llm.StreamError, Err: ctx.Err()}
		close(ch)
	}()
	return &fakeSchedStream{ch}, nil
}

func newTestScheduler(t *testing.T, projectPath string, adapter llm.ProviderAdapter) *Scheduler {
	t.Helper()
	client := llm.NewClient()
	client.Register(adapter)
	bus := eventbus.New()
	rn := runner.New(client, bus)
	wt := worktree.NewManager(projectPath)
	st := store.New()
	defaults := config.Defaults{MaxConcurrency: 2, MaxTurns: 5, VerifyMaxTurns: 5, EnableDependencyBlocking: true}
	return New(projectPath, st, bus, wt, rn, defaults)
}

func waitForStatus(t *testing.T, s *Scheduler, featureID string, want model.Status, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		sum, err := s.Status(featureID)
		if err == nil && sum.Status == want && !sum.Running {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("feature %s did not reach status %s in time", featureID, want)
}

// waitForIdle waits until the feature has left backlog and has no live run,
// then reports its settled status. The run is registered before the status
// flips off backlog, so a non-backlog status with no live run means the run
// has fully drained.
func waitForIdle(t *testing.T, s *Scheduler, featureID string, timeout time.Duration) model.Status {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		sum, err := s.Status(featureID)
		if err == nil && !sum.Running && sum.Status != model.StatusBacklog {
			return sum.Status
		}
		time.Sleep(10 * time.Millisecond)
	}
	sum, _ := s.Status(featureID)
	return sum.Status
}

func writeSuccessOutcome(t *testing.T, dir string) {
	t.Helper()
	out := filepath.Join(dir, ".automaker")
	if err := os.MkdirAll(out, 0o755); err != nil {
		t.Fatal(err)
	}
	b, _ := json.Marshal(runtime.Outcome{Status: runtime.StatusSuccess, Notes: "tests pass"})
	if err := os.WriteFile(filepath.Join(out, "outcome.json"), b, 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestRunFeatureSkipTestsTransitionsToWaitingApproval(t *testing.T) {
	dir := initTestRepo(t)
	s := newTestScheduler(t, dir, &textOnlyAdapter{text: "implemented"})

	if _, err := s.Store.Create(dir, model.Feature{ID: "feature-1", Description: "do a thing", Status: model.StatusBacklog, SkipTests: true}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := s.RunFeature(context.Background(), "feature-1"); err != nil {
		t.Fatalf("RunFeature: %v", err)
	}
	waitForStatus(t, s, "feature-1", model.StatusWaitingApproval, 5*time.Second)
}

func TestRunFeaturePassingVerificationTransitionsToVerified(t *testing.T) {
	dir := initTestRepo(t)
	s := newTestScheduler(t, dir, &textOnlyAdapter{text: "implemented"})
	writeSuccessOutcome(t, dir)

	branch := "main" // run in the main worktree, where the outcome file sits
	if _, err := s.Store.Create(dir, model.Feature{ID: "feature-1", Description: "do a thing", Status: model.StatusBacklog, BranchName: &branch}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := s.RunFeature(context.Background(), "feature-1"); err != nil {
		t.Fatalf("RunFeature: %v", err)
	}
	waitForStatus(t, s, "feature-1", model.StatusVerified, 5*time.Second)

	sum, err := s.Status("feature-1")
	if err != nil {
		t.Fatal(err)
	}
	if sum.Status != model.StatusVerified {
		t.Fatalf("expected verified, got %s", sum.Status)
	}
}

func TestRunFeatureFailedVerificationStaysInProgress(t *testing.T) {
	dir := initTestRepo(t)
	s := newTestScheduler(t, dir, &textOnlyAdapter{text: "implemented"})

	branch := "main"
	if _, err := s.Store.Create(dir, model.Feature{ID: "feature-1", Description: "do a thing", Status: model.StatusBacklog, BranchName: &branch}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := s.RunFeature(context.Background(), "feature-1"); err != nil {
		t.Fatalf("RunFeature: %v", err)
	}
	if got := waitForIdle(t, s, "feature-1", 5*time.Second); got != model.StatusInProgress {
		t.Fatalf("expected feature to stay in_progress after a failed verification, got %s", got)
	}
}

func TestStopFeatureAbortsAndStaysInProgress(t *testing.T) {
	dir := initTestRepo(t)
	s := newTestScheduler(t, dir, &hangingAdapter{})

	if _, err := s.Store.Create(dir, model.Feature{ID: "feature-1", Description: "do a thing", Status: model.StatusBacklog}); err != nil {
		t.Fatal(err)
	}

	sub := s.Bus.Subscribe("feature-1")
	defer sub.Cancel()

	if err := s.RunFeature(context.Background(), "feature-1"); err != nil {
		t.Fatalf("RunFeature: %v", err)
	}
	time.Sleep(100 * time.Millisecond)
	if err := s.StopFeature("feature-1"); err != nil {
		t.Fatalf("StopFeature: %v", err)
	}

	deadline := time.After(2 * time.Second)
	var last model.ActivityEvent
	for {
		select {
		case ev := <-sub.Events:
			last = ev
			if ev.Type == model.EventComplete {
				if ev.Passes == nil || *ev.Passes || ev.Message == nil || *ev.Message != "aborted" {
					t.Fatalf("expected complete{passes:false, aborted}, got %+v", ev)
				}
				sum, err := s.Status("feature-1")
				if err != nil {
					t.Fatal(err)
				}
				if sum.Status != model.StatusInProgress {
					t.Fatalf("expected in_progress after abort, got %s", sum.Status)
				}
				return
			}
		case <-deadline:
			t.Fatalf("no terminal complete event after stop; last event %+v", last)
		}
	}
}

func TestCommitFeatureFlipsWaitingApprovalToVerified(t *testing.T) {
	dir := initTestRepo(t)
	s := newTestScheduler(t, dir, &textOnlyAdapter{text: "implemented"})

	branch := "main"
	wp := dir
	if _, err := s.Store.Create(dir, model.Feature{
		ID: "feature-1", Description: "add a widget", Status: model.StatusWaitingApproval,
		SkipTests: true, BranchName: &branch, WorktreePath: &wp,
	}); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "widget.txt"), []byte("w"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := s.CommitFeature(context.Background(), "feature-1"); err != nil {
		t.Fatalf("CommitFeature: %v", err)
	}

	sum, err := s.Status("feature-1")
	if err != nil {
		t.Fatal(err)
	}
	if sum.Status != model.StatusVerified {
		t.Fatalf("expected verified after commit, got %s", sum.Status)
	}

	out, err := exec.Command("git", "-C", dir, "ls-files", "widget.txt").Output()
	if err != nil {
		t.Fatal(err)
	}
	if len(out) == 0 {
		t.Fatal("expected widget.txt to be committed")
	}
}

func TestRunFeatureRejectsNonBacklog(t *testing.T) {
	dir := initTestRepo(t)
	s := newTestScheduler(t, dir, &textOnlyAdapter{text: "implemented"})
	if _, err := s.Store.Create(dir, model.Feature{ID: "feature-1", Status: model.StatusVerified}); err != nil {
		t.Fatal(err)
	}
	if err := s.RunFeature(context.Background(), "feature-1"); err == nil {
		t.Fatal("expected an error running a non-backlog feature")
	}
}

func TestConcurrencyLimitFailsFast(t *testing.T) {
	dir := initTestRepo(t)
	s := newTestScheduler(t, dir, &textOnlyAdapter{text: "implemented"})
	s.Defaults.MaxConcurrency = 1
	s.sem = make(chan struct{}, 1)
	s.sem <- struct{}{} // saturate the only slot

	if _, err := s.Store.Create(dir, model.Feature{ID: "feature-1", Status: model.StatusBacklog}); err != nil {
		t.Fatal(err)
	}
	err := s.RunFeature(context.Background(), "feature-1")
	if err == nil {
		t.Fatal("expected ConcurrencyLimit error")
	}
	if s.CanStart() {
		t.Fatal("CanStart should report false at the cap")
	}
}

func TestStartLoopEmptyBacklogCompletesImmediately(t *testing.T) {
	dir := initTestRepo(t)
	s := newTestScheduler(t, dir, &textOnlyAdapter{text: "implemented"})

	sub := s.Bus.Subscribe(LoopFeatureID)
	defer sub.Cancel()

	s.StartLoop(context.Background())

	select {
	case ev := <-sub.Events:
		if ev.Type != model.EventComplete || ev.Message == nil || *ev.Message != "all features completed" {
			t.Fatalf("expected the all-features-completed event, got %+v", ev)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("loop did not announce completion for an empty backlog")
	}
}
