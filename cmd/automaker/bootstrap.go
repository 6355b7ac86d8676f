package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/automaker/automaker/internal/config"
	"github.com/automaker/automaker/internal/eventbus"
	"github.com/automaker/automaker/internal/llm"
	"github.com/automaker/automaker/internal/llm/providers/anthropic"
	"github.com/automaker/automaker/internal/runner"
	"github.com/automaker/automaker/internal/scheduler"
	"github.com/automaker/automaker/internal/store"
	"github.com/automaker/automaker/internal/worktree"
)

// defaultsFileName is the optional per-project pipeline-defaults file
// config.LoadDefaults reads.
const defaultsFileName = "automaker.yaml"

// buildScheduler wires the process environment, the Anthropic LLM adapter,
// and every studio component into a ready-to-use Scheduler. Every subcommand
// needs the same wiring, so it lives here rather than inline per command.
func buildScheduler(projectPath string) (*scheduler.Scheduler, error) {
	env, err := config.LoadEnv()
	if err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}
	if env.AnthropicAPIKey == "" {
		return nil, fmt.Errorf("ANTHROPIC_API_KEY is required (set it in the environment or ~/.claude/settings.json)")
	}
	adapter := anthropic.New(env.AnthropicAPIKey, os.Getenv("ANTHROPIC_BASE_URL"))
	client := llm.NewClient()
	client.Register(adapter)

	defaults, err := config.LoadDefaults(filepath.Join(projectPath, defaultsFileName))
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", defaultsFileName, err)
	}

	bus := eventbus.New()
	rn := runner.New(client, bus)
	wt := worktree.NewManager(projectPath)
	st := store.New()

	sch := scheduler.New(projectPath, st, bus, wt, rn, defaults)
	return sch, nil
}

// resolveProjectPath defaults to the current working directory so the CLI
// operates on the repo it was invoked from.
func resolveProjectPath(flag string) (string, error) {
	if flag != "" {
		abs, err := filepath.Abs(flag)
		if err != nil {
			return "", err
		}
		return abs, nil
	}
	return os.Getwd()
}

// signalCancelContext returns a context canceled on SIGINT/SIGTERM.
func signalCancelContext() (context.Context, func()) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	stopCh := make(chan struct{})
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sigCh:
			cancel()
		case <-stopCh:
		}
	}()
	cleanup := func() {
		signal.Stop(sigCh)
		close(stopCh)
		cancel()
	}
	return ctx, cleanup
}
