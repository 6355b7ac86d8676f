package runtime

import (
	"encoding/json"
	"fmt"
	"strings"
)

// StageStatus is the terminal outcome of one Agent Runner phase (action or
// verification), as distinct from Feature.Status in internal/model, which is
// the longer-lived status persisted to feature_list.json.
type StageStatus string

const (
	StatusSuccess StageStatus = "success"
	StatusFail    StageStatus = "fail"
)

func ParseStageStatus(s string) (StageStatus, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "success", "ok", "pass", "verified":
		return StatusSuccess, nil
	case "fail", "failure", "error":
		return StatusFail, nil
	default:
		return "", fmt.Errorf("invalid stage status: %q", s)
	}
}

func (s StageStatus) Valid() bool {
	_, err := ParseStageStatus(string(s))
	return err == nil
}

// Outcome is the Agent Runner's view of how a phase ended, decoded from
// whatever JSON shape the agent left behind.
type Outcome struct {
	Status        StageStatus `json:"status"`
	Notes         string      `json:"notes,omitempty"`
	FailureReason string      `json:"failure_reason,omitempty"`
}

func (o Outcome) Canonicalize() (Outcome, error) {
	st, err := ParseStageStatus(string(o.Status))
	if err != nil {
		return Outcome{}, err
	}
	o.Status = st
	return o, nil
}

func (o Outcome) Validate() error {
	co, err := o.Canonicalize()
	if err != nil {
		return err
	}
	if co.Status == StatusFail && strings.TrimSpace(co.FailureReason) == "" {
		return fmt.Errorf("failure_reason must be non-empty when status=%q", co.Status)
	}
	return nil
}

// DecodeOutcomeJSON accepts the canonical shape plus a legacy boolean-"passes"
// shape, mirroring the passes/status dual-encoding the feature store itself
// migrates away from on load (see internal/model).
func DecodeOutcomeJSON(b []byte) (Outcome, error) {
	var o Outcome
	if err := json.Unmarshal(b, &o); err == nil && o.Status != "" {
		return o.Canonicalize()
	}

	var legacy struct {
		Passes        bool   `json:"passes"`
		Message       string `json:"message"`
		FailureReason string `json:"failure_reason"`
	}
	if err := json.Unmarshal(b, &legacy); err != nil {
		return Outcome{}, err
	}
	status := StatusFail
	if legacy.Passes {
		status = StatusSuccess
	}
	reason := legacy.FailureReason
	if reason == "" && status == StatusFail {
		reason = legacy.Message
	}
	o = Outcome{Status: status, Notes: legacy.Message, FailureReason: reason}
	return o.Canonicalize()
}
