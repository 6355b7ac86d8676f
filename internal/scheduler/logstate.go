package scheduler

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/automaker/automaker/internal/model"
)

// logState writes a run's on-disk artifacts: run.pid and final.json, which
// Recover reads back after a restart, plus live.json/progress.ndjson as a
// best-effort activity feed for humans tailing a run. One logState is
// created per run under .automaker/logs/<featureID>/<runID>/.
type logState struct {
	root      string
	runID     string
	featureID string
}

func logsRoot(projectPath, featureID, runID string) string {
	return filepath.Join(projectPath, ".automaker", "logs", featureID, runID)
}

func newLogState(projectPath, featureID, runID string) *logState {
	return &logState{root: logsRoot(projectPath, featureID, runID), runID: runID, featureID: featureID}
}

func (l *logState) writePID() {
	_ = os.MkdirAll(l.root, 0o755)
	_ = os.WriteFile(filepath.Join(l.root, "run.pid"), []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func (l *logState) writeLive(phase model.Phase, event, failureReason string) {
	_ = os.MkdirAll(l.root, 0o755)
	doc := map[string]any{
		"run_id":         l.runID,
		"event":          event,
		"phase":          string(phase),
		"ts":             time.Now().UTC().Format(time.RFC3339Nano),
		"failure_reason": failureReason,
	}
	b, err := json.Marshal(doc)
	if err != nil {
		return
	}
	_ = os.WriteFile(filepath.Join(l.root, "live.json"), b, 0o644)
	f, err := os.OpenFile(filepath.Join(l.root, "progress.ndjson"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return
	}
	defer func() { _ = f.Close() }()
	_, _ = f.Write(append(b, '\n'))
}

func (l *logState) writeFinal(success bool, failureReason, runID, featureID string) {
	status := "fail"
	if success {
		status = "success"
	}
	doc := map[string]any{
		"timestamp":      time.Now().UTC().Format(time.RFC3339Nano),
		"status":         status,
		"run_id":         runID,
		"feature_id":     featureID,
		"failure_reason": failureReason,
	}
	b, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return
	}
	_ = os.MkdirAll(l.root, 0o755)
	_ = os.WriteFile(filepath.Join(l.root, "final.json"), b, 0o644)
	_ = os.Remove(filepath.Join(l.root, "run.pid"))
}
