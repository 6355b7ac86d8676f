// Package model holds the on-disk data types the Feature Store persists and
// the rest of the studio operates on: Feature, FeatureList, Worktree,
// RunContext, ActivityEvent, Project.
package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// Status is a Feature's lifecycle state. Exactly one at a time.
type Status string

const (
	StatusBacklog         Status = "backlog"
	StatusInProgress      Status = "in_progress"
	StatusWaitingApproval Status = "waiting_approval"
	StatusVerified        Status = "verified"
	StatusCompleted       Status = "completed"
)

func (s Status) Valid() bool {
	switch s {
	case StatusBacklog, StatusInProgress, StatusWaitingApproval, StatusVerified, StatusCompleted:
		return true
	default:
		return false
	}
}

// ThinkingLevel is the reasoning-effort enum attached to a Feature.
type ThinkingLevel string

const (
	ThinkingNone   ThinkingLevel = "none"
	ThinkingLow    ThinkingLevel = "low"
	ThinkingMedium ThinkingLevel = "medium"
	ThinkingHigh   ThinkingLevel = "high"
)

// ImageRef is one attached reference image for a feature's prompt.
type ImageRef struct {
	Path     string `json:"path"`
	Filename string `json:"filename"`
}

// Feature is the atomic unit of scheduled work. Field tags match the
// feature_list.json wire schema exactly; Extra preserves any field this
// version of the module does not know about so a round trip through load/save
// never drops data a newer client wrote.
type Feature struct {
	ID          string   `json:"id"`
	Category    string   `json:"category"`
	Description string   `json:"description"`
	Steps       []string `json:"steps"`

	Status Status `json:"status"`

	SkipTests     bool          `json:"skipTests"`
	Model         string        `json:"model"`
	ThinkingLevel ThinkingLevel `json:"thinkingLevel"`
	ImagePaths    []ImageRef    `json:"imagePaths"`

	BranchName   *string `json:"branchName"`
	WorktreePath *string `json:"worktreePath"`

	Priority     int      `json:"priority"`
	Dependencies []string `json:"dependencies"`

	StartedAt      *time.Time `json:"startedAt"`
	JustFinishedAt *time.Time `json:"justFinishedAt"`

	// Extra carries any unrecognized top-level fields so they round-trip
	// verbatim through load/save (forward compatibility, per the on-disk
	// contract). It never contains the keys already modeled above.
	Extra map[string]json.RawMessage `json:"-"`
}

// DefaultPriority is assigned to features whose priority was never set.
const DefaultPriority = 999

// legacyFeature mirrors Feature but additionally accepts the deprecated
// boolean `passes` field some older feature_list.json files carry instead of
// `status`. UnmarshalJSON migrates it away on load; MarshalJSON never writes
// it back out, per the "pick one encoding" decision recorded in DESIGN.md.
type legacyFeature struct {
	ID          string   `json:"id"`
	Category    string   `json:"category"`
	Description string   `json:"description"`
	Steps       []string `json:"steps"`

	Status *Status `json:"status"`
	Passes *bool   `json:"passes"`

	SkipTests     bool          `json:"skipTests"`
	Model         string        `json:"model"`
	ThinkingLevel ThinkingLevel `json:"thinkingLevel"`
	ImagePaths    []ImageRef    `json:"imagePaths"`

	BranchName   *string `json:"branchName"`
	WorktreePath *string `json:"worktreePath"`

	Priority     int      `json:"priority"`
	Dependencies []string `json:"dependencies"`

	StartedAt      *time.Time `json:"startedAt"`
	JustFinishedAt *time.Time `json:"justFinishedAt"`
}

var knownFeatureKeys = map[string]bool{
	"id": true, "category": true, "description": true, "steps": true,
	"status": true, "passes": true, "skipTests": true, "model": true,
	"thinkingLevel": true, "imagePaths": true, "branchName": true,
	"worktreePath": true, "priority": true, "dependencies": true,
	"startedAt": true, "justFinishedAt": true,
}

func (f *Feature) UnmarshalJSON(b []byte) error {
	var lf legacyFeature
	if err := json.Unmarshal(b, &lf); err != nil {
		return fmt.Errorf("decode feature: %w", err)
	}

	status := StatusBacklog
	switch {
	case lf.Status != nil && *lf.Status != "":
		status = *lf.Status
	case lf.Passes != nil:
		// Legacy passes/status dual-encoding: migrate on load, never persist
		// passes again.
		if *lf.Passes {
			status = StatusVerified
		} else {
			status = StatusInProgress
		}
	}

	*f = Feature{
		ID:             lf.ID,
		Category:       lf.Category,
		Description:    lf.Description,
		Steps:          lf.Steps,
		Status:         status,
		SkipTests:      lf.SkipTests,
		Model:          lf.Model,
		ThinkingLevel:  lf.ThinkingLevel,
		ImagePaths:     lf.ImagePaths,
		BranchName:     lf.BranchName,
		WorktreePath:   lf.WorktreePath,
		Priority:       lf.Priority,
		Dependencies:   lf.Dependencies,
		StartedAt:      lf.StartedAt,
		JustFinishedAt: lf.JustFinishedAt,
	}
	if f.Priority == 0 {
		f.Priority = DefaultPriority
	}
	if f.Dependencies == nil {
		f.Dependencies = []string{}
	}
	if f.Steps == nil {
		f.Steps = []string{}
	}
	if f.ImagePaths == nil {
		f.ImagePaths = []ImageRef{}
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	extra := map[string]json.RawMessage{}
	for k, v := range raw {
		if !knownFeatureKeys[k] {
			extra[k] = v
		}
	}
	if len(extra) > 0 {
		f.Extra = extra
	}
	return nil
}

func (f Feature) MarshalJSON() ([]byte, error) {
	type alias Feature
	out := map[string]json.RawMessage{}
	for k, v := range f.Extra {
		out[k] = v
	}

	base, err := json.Marshal(alias(f))
	if err != nil {
		return nil, err
	}
	var baseMap map[string]json.RawMessage
	if err := json.Unmarshal(base, &baseMap); err != nil {
		return nil, err
	}
	for k, v := range baseMap {
		out[k] = v
	}
	return json.Marshal(out)
}

// Running reports whether this feature has an active, non-droppable Runner
// per the in_progress+!skipTests invariant.
func (f Feature) Running() bool {
	return f.Status == StatusInProgress && !f.SkipTests
}
