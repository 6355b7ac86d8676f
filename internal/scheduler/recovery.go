package scheduler

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"syscall"

	"github.com/automaker/automaker/internal/model"
	"github.com/automaker/automaker/internal/store"
)

// runRecord is the terminal state a run left in final.json, the read-side
// counterpart of logState.writeFinal.
type runRecord struct {
	Status        string `json:"status"`
	RunID         string `json:"run_id"`
	FeatureID     string `json:"feature_id"`
	FailureReason string `json:"failure_reason"`
}

// Recover sweeps every feature left in_progress on disk and reconciles it
// against its most recent run's logged state. Call this once at process
// startup, before StartLoop.
func (s *Scheduler) Recover() error {
	fl, err := store.Load(s.ProjectPath)
	if err != nil {
		return err
	}

	reset := func(id string, status model.Status) error {
		_, err := s.Store.Update(s.ProjectPath, id, func(ff *model.Feature) {
			ff.Status = status
		})
		return err
	}

	for _, f := range fl.Features {
		if f.Status != model.StatusInProgress {
			continue
		}
		runID := s.latestRunID(f.ID)
		if runID == "" {
			// No log artifacts at all: nothing to reconcile from, reset to
			// backlog so the feature isn't stuck forever.
			if err := reset(f.ID, model.StatusBacklog); err != nil {
				return err
			}
			continue
		}

		dir := logsRoot(s.ProjectPath, f.ID, runID)
		rec, terminal, err := loadRunRecord(dir)
		if err != nil {
			continue
		}

		switch {
		case terminal && rec.Status == "success":
			// The run finished but the process died before the status
			// transition landed; waiting_approval lets the user pick it up.
			if err := reset(f.ID, model.StatusWaitingApproval); err != nil {
				return err
			}
		case terminal:
			if err := reset(f.ID, model.StatusBacklog); err != nil {
				return err
			}
		case runOwnerAlive(dir):
			// A live process still owns this run; leave it alone.
		default:
			// The pid that held this run is gone and no terminal outcome was
			// recorded: it crashed mid-flight. Reset to backlog so the
			// Scheduler picks it back up.
			if err := reset(f.ID, model.StatusBacklog); err != nil {
				return err
			}
		}
	}
	return nil
}

// loadRunRecord reads a run's final.json. terminal is false when the run
// never recorded a terminal outcome (the file is absent).
func loadRunRecord(dir string) (runRecord, bool, error) {
	b, err := os.ReadFile(filepath.Join(dir, "final.json"))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return runRecord{}, false, nil
		}
		return runRecord{}, false, err
	}
	var rec runRecord
	if err := json.Unmarshal(b, &rec); err != nil {
		return runRecord{}, false, err
	}
	rec.Status = strings.ToLower(strings.TrimSpace(rec.Status))
	return rec, rec.Status == "success" || rec.Status == "fail", nil
}

// runOwnerAlive reads a run's pid file (the counterpart of
// logState.writePID, which writeFinal removes on a clean finish) and reports
// whether that process is still live.
func runOwnerAlive(dir string) bool {
	b, err := os.ReadFile(filepath.Join(dir, "run.pid"))
	if err != nil {
		return false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(b)))
	if err != nil || pid <= 0 {
		return false
	}
	return pidAlive(pid)
}

// pidAlive reports whether pid refers to a live, non-zombie process. A
// zombie still answers signal 0, so when procfs is available its stat line
// is consulted first; the state letter follows the ")" that closes the comm
// field.
func pidAlive(pid int) bool {
	if b, err := os.ReadFile(filepath.Join("/proc", strconv.Itoa(pid), "stat")); err == nil {
		line := string(b)
		if i := strings.LastIndexByte(line, ')'); i >= 0 && i+2 < len(line) {
			switch line[i+2] {
			case 'Z', 'X':
				return false
			}
		}
	}
	err := syscall.Kill(pid, 0)
	return err == nil || errors.Is(err, syscall.EPERM)
}

// latestRunID returns the lexicographically greatest run id under a
// feature's logs directory (ulids sort chronologically), or "" if none
// exist.
func (s *Scheduler) latestRunID(featureID string) string {
	dir := filepath.Join(s.ProjectPath, ".automaker", "logs", featureID)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() {
			ids = append(ids, e.Name())
		}
	}
	if len(ids) == 0 {
		return ""
	}
	sort.Strings(ids)
	return ids[len(ids)-1]
}
