// Package runner implements the Agent Runner: the Plan/Act/Verify
// tool-calling loop that drives one LLM session against a feature's
// worktree. Each round streams a completion, executes any tool calls,
// feeds the results back, and repeats until the model stops calling tools
// or a turn/loop-detection limit fires.
package runner

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/automaker/automaker/internal/cancel"
	"github.com/automaker/automaker/internal/eventbus"
	"github.com/automaker/automaker/internal/llm"
	"github.com/automaker/automaker/internal/model"
	"github.com/automaker/automaker/internal/runtime"
	"github.com/automaker/automaker/internal/transport"
)

// Mode selects which phases the Runner executes.
type Mode string

const (
	ModeRun      Mode = "run"       // Plan + Act + Verify: implement description/steps in the worktree.
	ModeResume   Mode = "resume"    // Same as ModeRun, phrased as continuing earlier work.
	ModeFollowUp Mode = "follow_up" // Act + Verify, with an extra instruction injected first; no planning.
	ModeVerify   Mode = "verify"    // Verify only, against the reduced tool set; produces a runtime.Outcome.
)

// ErrAborted is returned when the run's cancellation handle fired. The last
// event published before returning it is complete{passes:false,"aborted"}.
var ErrAborted = errors.New("runner: aborted")

// defaultMaxTurns is 30 for action phases and 15 for verification.
func defaultMaxTurns(m Mode) int {
	if m == ModeVerify {
		return 15
	}
	return 30
}

// loopDetectionWindow bounds the repeated-call fingerprint history;
// malformedToolCallLimit trips the circuit breaker on consecutive bad calls.
const (
	loopDetectionWindow    = 10
	malformedToolCallLimit = 3
)

// Config overrides the Runner's defaults; a zero Config uses the default
// turn budgets and detection windows.
type Config struct {
	MaxTurns               int
	LoopDetectionWindow    int
	MalformedToolCallLimit int
	Model                  string
	Provider               string
}

func (c Config) withDefaults(mode Mode) Config {
	if c.MaxTurns <= 0 {
		c.MaxTurns = defaultMaxTurns(mode)
	}
	if c.LoopDetectionWindow <= 0 {
		c.LoopDetectionWindow = loopDetectionWindow
	}
	if c.MalformedToolCallLimit <= 0 {
		c.MalformedToolCallLimit = malformedToolCallLimit
	}
	return c
}

// Runner executes one run of the tool-calling loop for a single feature.
type Runner struct {
	Client *llm.Client
	Bus    *eventbus.Bus
}

// New constructs a Runner bound to the given LLM client and event bus.
func New(client *llm.Client, bus *eventbus.Bus) *Runner {
	return &Runner{Client: client, Bus: bus}
}

// Result is what Run returns on a clean (non-error) exit: the assistant's
// final free text, whether the run passed its verification, and the decoded
// Outcome when a verification step actually ran (nil for skipTests runs).
type Result struct {
	FinalText string
	Passes    bool
	Outcome   *runtime.Outcome
}

// Run drives the tool-calling loop to completion for one feature. followUp
// is only consulted when mode == ModeFollowUp; it is injected as the first
// user turn after the base prompt.
func (r *Runner) Run(ctx context.Context, handle *cancel.Handle, feature model.Feature, worktreePath string, mode Mode, followUp string, cfg Config) (Result, error) {
	cfg = cfg.withDefaults(mode)

	runCtx, stop := handle.Context(ctx)
	defer stop()

	toolNames := transport.AllowedToolNames
	phase := model.PhaseAction
	if mode == ModeVerify {
		toolNames = transport.VerifyToolNames
		phase = model.PhaseVerification
	}
	reg, err := transport.NewRegistry(toolNames)
	if err != nil {
		return Result{}, fmt.Errorf("runner: build tool registry: %w", err)
	}

	r.publish(model.NewEvent(model.EventStart, feature.ID))

	if mode == ModeRun || mode == ModeResume {
		r.publish(model.NewEvent(model.EventPhase, feature.ID).WithPhase(model.PhasePlanning))
	}

	contextPath, err := writeContextFile(worktreePath, feature)
	if err != nil {
		return Result{}, fmt.Errorf("runner: write context file: %w", err)
	}

	r.publish(model.NewEvent(model.EventPhase, feature.ID).WithPhase(phase))

	sys := buildSystemPrompt(mode, contextPath)
	userPrompt := buildUserPrompt(feature, mode)
	history := []llm.Message{{Role: llm.RoleUser, Content: []llm.ContentBlock{{Type: llm.BlockText, Text: userPrompt}}}}
	if mode == ModeFollowUp && strings.TrimSpace(followUp) != "" {
		history = append(history, llm.Message{Role: llm.RoleUser, Content: []llm.ContentBlock{{Type: llm.BlockText, Text: followUp}}})
	}

	tools := transport.SpecsFor(toolNames)

	var lastToolFP string
	toolRepeats := 0
	var lastMalformedFP string
	malformedRepeats := 0
	toolUseSeen := false

	for turn := 1; turn <= cfg.MaxTurns; turn++ {
		if runCtx.Err() != nil || handle.Fired() {
			return r.aborted(feature.ID)
		}

		req := llm.Request{
			Provider: cfg.Provider,
			Model:    cfg.Model,
			System:   sys,
			Messages: history,
			Tools:    tools,
		}

		stream, err := r.Client.Stream(runCtx, req)
		if err != nil {
			if runCtx.Err() != nil {
				return r.aborted(feature.ID)
			}
			r.publish(model.NewEvent(model.EventError, feature.ID).WithMessage(err.Error()))
			return Result{}, err
		}

		var resp *llm.Response
		var streamErr error
		for ev := range stream.Events() {
			switch ev.Type {
			case llm.StreamDelta:
				if ev.Delta.Type == llm.BlockText && strings.TrimSpace(ev.Delta.Text) != "" {
					r.publish(model.NewEvent(model.EventProgress, feature.ID).WithPhase(phase).WithMessage(ev.Delta.Text))
				}
			case llm.StreamDone:
				resp = ev.Response
			case llm.StreamError:
				streamErr = ev.Err
			}
		}
		_ = stream.Close()
		if runCtx.Err() != nil {
			return r.aborted(feature.ID)
		}
		if streamErr != nil {
			r.publish(model.NewEvent(model.EventError, feature.ID).WithMessage(streamErr.Error()))
			return Result{}, streamErr
		}
		if resp == nil {
			err := fmt.Errorf("runner: stream closed without a final response")
			r.publish(model.NewEvent(model.EventError, feature.ID).WithMessage(err.Error()))
			return Result{}, err
		}

		assistantMsg := llm.Message{Role: llm.RoleAssistant, Content: resp.Content}
		history = append(history, assistantMsg)
		if text := textOf(resp.Content); strings.TrimSpace(text) != "" {
			appendContextFile(worktreePath, contextPath, text)
		}

		calls := toolUseBlocks(resp.Content)
		if len(calls) == 0 {
			finalText := textOf(resp.Content)
			return r.finish(feature, finalText, mode, worktreePath)
		}

		if !toolUseSeen {
			toolUseSeen = true
			r.publish(model.NewEvent(model.EventProgress, feature.ID).WithPhase(phase).WithMessage("Starting implementation"))
		}

		if fp := callsFingerprint(calls); fp != "" {
			if fp == lastToolFP {
				toolRepeats++
			} else {
				lastToolFP = fp
				toolRepeats = 1
			}
			if toolRepeats >= cfg.LoopDetectionWindow {
				history = append(history, llm.Message{Role: llm.RoleUser, Content: []llm.ContentBlock{{
					Type: llm.BlockText,
					Text: "Loop detected: you are repeating the same tool calls. Stop and change approach.",
				}}})
				toolRepeats = 0
			}
		}

		results := make([]llm.ContentBlock, 0, len(calls))
		malformedThisRound := false
		for _, call := range calls {
			if runCtx.Err() != nil {
				return r.aborted(feature.ID)
			}
			argsJSON, _ := json.Marshal(call.ToolInput)
			res := reg.Execute(runCtx, worktreePath, call.ToolName, call.ToolUseID, argsJSON)
			r.publish(model.NewEvent(model.EventTool, feature.ID).WithPhase(phase).WithTool(call.ToolName).WithMessage(res.FullOutput))
			if res.IsError && strings.Contains(res.FullOutput, "schema validation failed") {
				malformedThisRound = true
			}
			results = append(results, llm.ContentBlock{
				Type:            llm.BlockToolResult,
				ToolResultForID: call.ToolUseID,
				ToolResultText:  res.Output,
				ToolResultError: res.IsError,
			})
		}
		history = append(history, llm.Message{Role: llm.RoleUser, Content: results})

		if malformedThisRound {
			fp := callsFingerprint(calls)
			if fp == lastMalformedFP {
				malformedRepeats++
			} else {
				lastMalformedFP = fp
				malformedRepeats = 1
			}
			if malformedRepeats >= cfg.MalformedToolCallLimit {
				err := fmt.Errorf("runner: repeated malformed tool calls (repeats=%d limit=%d)", malformedRepeats, cfg.MalformedToolCallLimit)
				r.publish(model.NewEvent(model.EventError, feature.ID).WithMessage(err.Error()))
				return Result{}, err
			}
		} else {
			lastMalformedFP = ""
			malformedRepeats = 0
		}
	}

	err = fmt.Errorf("runner: max turns reached (%d)", cfg.MaxTurns)
	r.publish(model.NewEvent(model.EventError, feature.ID).WithMessage(err.Error()))
	return Result{}, err
}

// aborted publishes the terminal cancellation event. No event follows it for
// this run.
func (r *Runner) aborted(featureID string) (Result, error) {
	r.publish(model.NewEvent(model.EventComplete, featureID).WithPasses(false).WithMessage("aborted"))
	return Result{}, ErrAborted
}

// finish resolves the run's pass/fail signal and publishes the terminal
// complete event. Runs that skip tests pass on clean completion; everything
// else answers with the verification outcome left in the worktree.
func (r *Runner) finish(feature model.Feature, finalText string, mode Mode, worktreePath string) (Result, error) {
	if mode != ModeVerify && feature.SkipTests {
		r.publish(model.NewEvent(model.EventComplete, feature.ID).WithPasses(true).WithMessage(finalText))
		return Result{FinalText: finalText, Passes: true}, nil
	}

	if mode != ModeVerify {
		r.publish(model.NewEvent(model.EventPhase, feature.ID).WithPhase(model.PhaseVerification))
	}
	outcome, err := readOutcome(worktreePath)
	if err != nil {
		r.publish(model.NewEvent(model.EventError, feature.ID).WithMessage(err.Error()))
		return Result{FinalText: finalText}, fmt.Errorf("runner: read verification outcome: %w", err)
	}
	passes := outcome.Status == runtime.StatusSuccess
	msg := finalText
	if !passes && outcome.FailureReason != "" {
		msg = outcome.FailureReason
	}
	r.publish(model.NewEvent(model.EventComplete, feature.ID).WithPasses(passes).WithMessage(msg))
	return Result{FinalText: finalText, Passes: passes, Outcome: &outcome}, nil
}

func (r *Runner) publish(e model.ActivityEvent) {
	if r == nil || r.Bus == nil {
		return
	}
	r.Bus.Publish(e)
}

// outcomeFileName is where the verification phase's prompt instructs the
// agent to leave its result, mirroring the scheduler's on-disk
// final.json/live.json convention for run-level state.
const outcomeFileName = ".automaker/outcome.json"

func readOutcome(worktreePath string) (runtime.Outcome, error) {
	raw, err := os.ReadFile(filepath.Join(worktreePath, outcomeFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return runtime.Outcome{Status: runtime.StatusFail, FailureReason: "verification did not produce " + outcomeFileName}, nil
		}
		return runtime.Outcome{}, err
	}
	return runtime.DecodeOutcomeJSON(raw)
}

func toolUseBlocks(content []llm.ContentBlock) []llm.ContentBlock {
	var out []llm.ContentBlock
	for _, c := range content {
		if c.Type == llm.BlockToolUse {
			out = append(out, c)
		}
	}
	return out
}

func textOf(content []llm.ContentBlock) string {
	var b strings.Builder
	for _, c := range content {
		if c.Type == llm.BlockText {
			b.WriteString(c.Text)
		}
	}
	return b.String()
}

func callsFingerprint(calls []llm.ContentBlock) string {
	if len(calls) == 0 {
		return ""
	}
	var b strings.Builder
	for _, c := range calls {
		argsJSON, _ := json.Marshal(c.ToolInput)
		sum := sha256.Sum256(argsJSON)
		b.WriteString(c.ToolName)
		b.WriteByte(':')
		b.WriteString(hex.EncodeToString(sum[:8]))
		b.WriteByte(';')
	}
	return b.String()
}
