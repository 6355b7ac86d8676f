// Package errs is the structured error taxonomy shared across the studio:
// Feature Store and Worktree Manager raise these, the Scheduler is the only
// component that turns them into user-facing events. Modeled on the
// classification style of internal/llm.Error (Provider/StatusCode/Retryable
// accessors on a typed error), generalized to the studio's own error kinds.
package errs

import (
	"fmt"
	"strings"
)

// NotFound means an unknown project, feature, or worktree was referenced.
type NotFound struct {
	Kind string // "project" | "feature" | "worktree"
	ID   string
}

func (e *NotFound) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.ID)
}

// ConcurrencyLimit is returned by runFeature when the concurrency cap is
// already saturated. Callers do not get queued; they must retry later.
type ConcurrencyLimit struct {
	Limit   int
	Running int
}

func (e *ConcurrencyLimit) Error() string {
	return fmt.Sprintf("concurrency limit reached: %d/%d runs active", e.Running, e.Limit)
}

// PersistenceError wraps an IO or rename failure while writing the feature
// list. In-memory state is never advanced on this error.
type PersistenceError struct {
	Op   string
	Path string
	Err  error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// SecurityError means a path fell outside the worktree allow-list, or a
// branch name failed `git check-ref-format`.
type SecurityError struct {
	Reason string
}

func (e *SecurityError) Error() string {
	return "security: " + e.Reason
}

// TransportKind classifies a TransportError the way the LLM transport's HTTP
// status is classified in internal/llm.
type TransportKind string

const (
	TransportAuth    TransportKind = "auth"
	TransportQuota   TransportKind = "quota"
	TransportNetwork TransportKind = "network"
	TransportServer  TransportKind = "server"
	TransportAborted TransportKind = "aborted"
	TransportOther   TransportKind = "other"
)

type TransportError struct {
	Kind    TransportKind
	Message string
	Cause   error
}

func (e *TransportError) Error() string {
	msg := fmt.Sprintf("transport error (%s): %s", e.Kind, e.Message)
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *TransportError) Unwrap() error { return e.Cause }

// Retryable mirrors the retry policy the transport layer already encodes for
// HTTP status classification: quota/server/network errors may be retried by the
// caller's own backoff, auth/aborted/other are not.
func (e *TransportError) Retryable() bool {
	switch e.Kind {
	case TransportQuota, TransportServer, TransportNetwork:
		return true
	default:
		return false
	}
}

// GitKind classifies a GitError by what went wrong in the subprocess.
type GitKind string

const (
	GitMissing  GitKind = "missing"
	GitDirty    GitKind = "dirty"
	GitConflict GitKind = "conflict"
	GitOther    GitKind = "other"
)

type GitError struct {
	Kind   GitKind
	Args   []string
	Stderr string
	Cause  error
}

func (e *GitError) Error() string {
	msg := fmt.Sprintf("git error (%s): %s", e.Kind, strings.Join(e.Args, " "))
	if e.Stderr != "" {
		msg += ": " + strings.TrimSpace(e.Stderr)
	}
	return msg
}

func (e *GitError) Unwrap() error { return e.Cause }

// ClassifyGitStderr maps raw git stderr into a GitKind, grounded on the
// substring patterns git itself emits for these conditions.
func ClassifyGitStderr(stderr string) GitKind {
	lower := strings.ToLower(stderr)
	switch {
	case strings.Contains(lower, "not a git repository"), strings.Contains(lower, "command not found"):
		return GitMissing
	case strings.Contains(lower, "conflict"), strings.Contains(lower, "would be overwritten by merge"):
		return GitConflict
	case strings.Contains(lower, "uncommitted changes"), strings.Contains(lower, "not clean"):
		return GitDirty
	default:
		return GitOther
	}
}

// StateError means the requested operation is invalid for the feature's
// current status (e.g. verifyFeature on a feature that is still backlog).
type StateError struct {
	FeatureID string
	Status    string
	Op        string
}

func (e *StateError) Error() string {
	return fmt.Sprintf("%s invalid for feature %s in status %s", e.Op, e.FeatureID, e.Status)
}
