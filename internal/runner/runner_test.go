package runner

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/automaker/automaker/internal/cancel"
	"github.com/automaker/automaker/internal/eventbus"
	"github.com/automaker/automaker/internal/llm"
	"github.com/automaker/automaker/internal/model"
	"github.com/automaker/automaker/internal/runtime"
)

// fakeStream replays a fixed sequence of StreamEvents.
type fakeStream struct {
	events chan llm.StreamEvent
}

func newFakeStream(evs ...llm.StreamEvent) *fakeStream {
	ch := make(chan llm.StreamEvent, len(evs))
	for _, e := range evs {
		ch <- e
	}
	close(ch)
	return &fakeStream{events: ch}
}

func (s *fakeStream) Events() <-chan llm.StreamEvent { return s.events }
func (s *fakeStream) Close() error                   { return nil }

// scriptedAdapter returns one canned response per call to Stream, in order.
type scriptedAdapter struct {
	responses [][]llm.ContentBlock
	calls     int
}

func (a *scriptedAdapter) Name() string { return "fake" }

func (a *scriptedAdapter) Complete(ctx context.Context, req llm.Request) (llm.Response, error) {
	return llm.Response{}, nil
}

func (a *scriptedAdapter) Stream(ctx context.Context, req llm.Request) (llm.Stream, error) {
	if a.calls >= len(a.responses) {
		return newFakeStream(llm.StreamEvent{Type: llm.StreamDone, Response: &llm.Response{}}), nil
	}
	content := a.responses[a.calls]
	a.calls++
	return newFakeStream(llm.StreamEvent{Type: llm.StreamDone, Response: &llm.Response{Content: content}}), nil
}

func textBlock(s string) llm.ContentBlock {
	return llm.ContentBlock{Type: llm.BlockText, Text: s}
}

func toolUseBlock(id, name string, input map[string]any) llm.ContentBlock {
	return llm.ContentBlock{Type: llm.BlockToolUse, ToolUseID: id, ToolName: name, ToolInput: input}
}

func newTestRunner(adapter llm.ProviderAdapter) (*Runner, *eventbus.Bus) {
	client := llm.NewClient()
	client.Register(adapter)
	bus := eventbus.New()
	return New(client, bus), bus
}

func TestRunCompletesWithoutToolCalls(t *testing.T) {
	dir := t.TempDir()
	adapter := &scriptedAdapter{responses: [][]llm.ContentBlock{{textBlock("feature implemented")}}}
	r, _ := newTestRunner(adapter)

	f := model.Feature{ID: "feature-1", Description: "do the thing", Steps: []string{"step one"}}
	res, err := r.Run(context.Background(), cancel.NewHandle(), f, dir, ModeRun, "", Config{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.FinalText != "feature implemented" {
		t.Fatalf("unexpected final text: %q", res.FinalText)
	}

	if _, err := os.Stat(filepath.Join(dir, contextDir, "feature-1.md")); err != nil {
		t.Fatalf("expected context file to be written: %v", err)
	}
}

func TestRunExecutesToolCallThenFinishes(t *testing.T) {
	dir := t.TempDir()
	adapter := &scriptedAdapter{responses: [][]llm.ContentBlock{
		{toolUseBlock("call-1", "Write", map[string]any{"file_path": "out.txt", "content": "hi"})},
		{textBlock("done")},
	}}
	r, _ := newTestRunner(adapter)

	f := model.Feature{ID: "feature-2", Description: "write a file"}
	res, err := r.Run(context.Background(), cancel.NewHandle(), f, dir, ModeRun, "", Config{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.FinalText != "done" {
		t.Fatalf("unexpected final text: %q", res.FinalText)
	}
	raw, err := os.ReadFile(filepath.Join(dir, "out.txt"))
	if err != nil {
		t.Fatalf("expected tool to have written out.txt: %v", err)
	}
	if string(raw) != "hi" {
		t.Fatalf("unexpected file contents: %q", raw)
	}
}

func TestRunVerifyReadsOutcomeFile(t *testing.T) {
	dir := t.TempDir()
	outcomeDir := filepath.Join(dir, ".automaker")
	if err := os.MkdirAll(outcomeDir, 0o755); err != nil {
		t.Fatal(err)
	}
	outcome := runtime.Outcome{Status: runtime.StatusSuccess, Notes: "tests pass"}
	b, _ := json.Marshal(outcome)
	if err := os.WriteFile(filepath.Join(outcomeDir, "outcome.json"), b, 0o644); err != nil {
		t.Fatal(err)
	}

	adapter := &scriptedAdapter{responses: [][]llm.ContentBlock{{textBlock("verified")}}}
	r, _ := newTestRunner(adapter)

	f := model.Feature{ID: "feature-3", Description: "verify it"}
	res, err := r.Run(context.Background(), cancel.NewHandle(), f, dir, ModeVerify, "", Config{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Outcome == nil || res.Outcome.Status != runtime.StatusSuccess {
		t.Fatalf("expected decoded success outcome, got %+v", res.Outcome)
	}
}

func TestRunVerifyMissingOutcomeFileFails(t *testing.T) {
	dir := t.TempDir()
	adapter := &scriptedAdapter{responses: [][]llm.ContentBlock{{textBlock("verified, but forgot to write the file")}}}
	r, _ := newTestRunner(adapter)

	f := model.Feature{ID: "feature-4", Description: "verify it"}
	res, err := r.Run(context.Background(), cancel.NewHandle(), f, dir, ModeVerify, "", Config{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Outcome == nil || res.Outcome.Status != runtime.StatusFail {
		t.Fatalf("expected a fail outcome when outcome.json is missing, got %+v", res.Outcome)
	}
}

func TestRunSkipTestsPassesWithoutOutcome(t *testing.T) {
	dir := t.TempDir()
	adapter := &scriptedAdapter{responses: [][]llm.ContentBlock{{textBlock("done")}}}
	r, _ := newTestRunner(adapter)

	f := model.Feature{ID: "feature-5", Description: "no tests here", SkipTests: true}
	res, err := r.Run(context.Background(), cancel.NewHandle(), f, dir, ModeRun, "", Config{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.Passes {
		t.Fatal("skipTests run should pass on clean completion")
	}
	if res.Outcome != nil {
		t.Fatalf("skipTests run should not read an outcome, got %+v", res.Outcome)
	}
}

func TestRunPublishesPhasesInOrder(t *testing.T) {
	dir := t.TempDir()
	outcomeDir := filepath.Join(dir, ".automaker")
	if err := os.MkdirAll(outcomeDir, 0o755); err != nil {
		t.Fatal(err)
	}
	b, _ := json.Marshal(runtime.Outcome{Status: runtime.StatusSuccess})
	if err := os.WriteFile(filepath.Join(outcomeDir, "outcome.json"), b, 0o644); err != nil {
		t.Fatal(err)
	}

	adapter := &scriptedAdapter{responses: [][]llm.ContentBlock{
		{toolUseBlock("call-1", "Write", map[string]any{"file_path": "out.txt", "content": "hi"})},
		{textBlock("implemented")},
	}}
	r, bus := newTestRunner(adapter)
	sub := bus.Subscribe("feature-6")
	defer sub.Cancel()

	f := model.Feature{ID: "feature-6", Description: "do it"}
	res, err := r.Run(context.Background(), cancel.NewHandle(), f, dir, ModeRun, "", Config{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.Passes {
		t.Fatal("expected the run to pass with a success outcome on disk")
	}

	var types []model.EventType
	var phases []model.Phase
drain:
	for {
		select {
		case ev := <-sub.Events:
			types = append(types, ev.Type)
			if ev.Type == model.EventPhase && ev.Phase != nil {
				phases = append(phases, *ev.Phase)
			}
			if ev.Type == model.EventComplete {
				if ev.Passes == nil || !*ev.Passes {
					t.Fatalf("terminal complete should carry passes=true, got %+v", ev)
				}
				break drain
			}
		default:
			t.Fatalf("event stream ended before complete; saw %v", types)
		}
	}

	if len(types) == 0 || types[0] != model.EventStart {
		t.Fatalf("first event should be start, got %v", types)
	}
	wantPhases := []model.Phase{model.PhasePlanning, model.PhaseAction, model.PhaseVerification}
	if len(phases) != len(wantPhases) {
		t.Fatalf("expected phases %v, got %v", wantPhases, phases)
	}
	for i := range wantPhases {
		if phases[i] != wantPhases[i] {
			t.Fatalf("expected phases %v, got %v", wantPhases, phases)
		}
	}
	sawTool := false
	for _, typ := range types {
		if typ == model.EventTool {
			sawTool = true
		}
	}
	if !sawTool {
		t.Fatalf("expected a tool event in %v", types)
	}
}

func TestRunCancelledPublishesAbortedComplete(t *testing.T) {
	dir := t.TempDir()
	adapter := &scriptedAdapter{responses: [][]llm.ContentBlock{{textBlock("never reached")}}}
	r, bus := newTestRunner(adapter)
	sub := bus.Subscribe("feature-7")
	defer sub.Cancel()

	h := cancel.NewHandle()
	h.Cancel("user stop")

	f := model.Feature{ID: "feature-7", Description: "doomed"}
	_, err := r.Run(context.Background(), h, f, dir, ModeRun, "", Config{})
	if err == nil {
		t.Fatal("expected an error from a cancelled run")
	}

	var last model.ActivityEvent
	for {
		select {
		case ev := <-sub.Events:
			last = ev
			continue
		default:
		}
		break
	}
	if last.Type != model.EventComplete || last.Passes == nil || *last.Passes || last.Message == nil || *last.Message != "aborted" {
		t.Fatalf("last event should be complete{passes:false, aborted}, got %+v", last)
	}
}
