package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/automaker/automaker/internal/config"
	"github.com/automaker/automaker/internal/eventbus"
	"github.com/automaker/automaker/internal/llm"
	"github.com/automaker/automaker/internal/model"
	"github.com/automaker/automaker/internal/runner"
	"github.com/automaker/automaker/internal/scheduler"
	"github.com/automaker/automaker/internal/store"
	"github.com/automaker/automaker/internal/worktree"
)

func initServerTestRepo(t *testing.T) string {
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
	return &fakeStream{ch}, nil
}

type fakeStream struct{ ch chan llm.StreamEvent }

func (s *fakeStream) Events() <-chan llm.StreamEvent { return s.ch }
func (s *fakeStream) Close() error                   { return nil }

// newTestServer creates a Server backed by a real git repo, a real Feature
// Store, and a Scheduler driving a scripted no-tool-call LLM adapter, wrapped
// in httptest.Server.
func newTestServer(t *testing.T) (*Server, *httptest.Server, string) {
	t.Helper()
	dir := initServerTestRepo(t)

	client := llm.NewClient()
	client.Register(&textOnlyAdapter{text: "implemented"})
	bus := eventbus.New()
	rn := runner.New(client, bus)
	wt := worktree.NewManager(dir)
	st := store.New()
	defaults := config.Defaults{MaxConcurrency: 2, MaxTurns: 5, VerifyMaxTurns: 5}
	sch := scheduler.New(dir, st, bus, wt, rn, defaults)

	srv := New(Config{Addr: ":0", ProjectPath: dir}, sch)
	ts := httptest.NewServer(srv.httpSrv.Handler)
	t.Cleanup(func() {
		ts.Close()
		srv.Shutdown()
	})
	return srv, ts, dir
}

func TestHealthEndpoint(t *testing.T) {
	_, ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func TestCreateAndGetFeature(t *testing.T) {
	_, ts, _ := newTestServer(t)

	body := strings.NewReader(`{"description":"do a thing"}`)
	resp, err := http.Post(ts.URL+"/features", "application/json", body)
	if err != nil {
		t.Fatalf("POST /features: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	var created model.Feature
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if created.ID == "" {
		t.Fatal("expected a minted feature id")
	}

	getResp, err := http.Get(ts.URL + "/features/" + created.ID)
	if err != nil {
		t.Fatalf("GET /features/{id}: %v", err)
	}
	defer getResp.Body.Close()
	if getResp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", getResp.StatusCode)
	}
}

func TestGetUnknownFeatureReturns404(t *testing.T) {
	_, ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/features/nonexistent")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestRunFeatureThenStatusReachesWaitingApproval(t *testing.T) {
	srv, ts, dir := newTestServer(t)

	if _, err := srv.scheduler.Store.Create(dir, model.Feature{ID: "feature-1", Description: "do a thing", Status: model.StatusBacklog, SkipTests: true}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	resp, err := http.Post(ts.URL+"/features/feature-1/run", "application/json", nil)
	if err != nil {
		t.Fatalf("POST run: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		statusResp, err := http.Get(ts.URL + "/features/feature-1/status")
		if err != nil {
			t.Fatalf("GET status: %v", err)
		}
		var fs FeatureStatusResponse
		_ = json.NewDecoder(statusResp.Body).Decode(&fs)
		statusResp.Body.Close()
		if fs.Status == string(model.StatusWaitingApproval) {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("feature did not reach waiting_approval in time")
}

func TestCrossOriginPostIsBlocked(t *testing.T) {
	_, ts, _ := newTestServer(t)

	req, err := http.NewRequest(http.MethodPost, ts.URL+"/features", strings.NewReader(`{"description":"x"}`))
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Origin", "https://evil.example.com")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", resp.StatusCode)
	}
}

func TestPatchFeatureUpdatesStatusAndPriority(t *testing.T) {
	srv, ts, dir := newTestServer(t)

	if _, err := srv.scheduler.Store.Create(dir, model.Feature{ID: "feature-2", Description: "tweak me", Status: model.StatusWaitingApproval}); err != nil {
		t.Fatal(err)
	}

	body := strings.NewReader(`{"status":"verified","priority":5}`)
	req, err := http.NewRequest(http.MethodPatch, ts.URL+"/features/feature-2", body)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("PATCH: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var updated model.Feature
	if err := json.NewDecoder(resp.Body).Decode(&updated); err != nil {
		t.Fatal(err)
	}
	if updated.Status != model.StatusVerified || updated.Priority != 5 {
		t.Fatalf("unexpected feature after patch: %+v", updated)
	}
	if updated.JustFinishedAt != nil {
		t.Fatal("a manual verify should clear justFinishedAt")
	}
}

func TestGlobalStatusReportsCapacity(t *testing.T) {
	_, ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/status")
	if err != nil {
		t.Fatalf("GET /status: %v", err)
	}
	defer resp.Body.Close()
	var snap StatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		t.Fatal(err)
	}
	if snap.RunningCount != 0 || !snap.CanStart {
		t.Fatalf("idle server should report zero running and canStart, got %+v", snap)
	}
}
