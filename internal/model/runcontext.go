package model

import "time"

// RunContext is kept by the Scheduler for the lifetime of one active Runner.
// It does not round-trip to disk; it exists only in memory.
type RunContext struct {
	RunID           string
	FeatureID       string
	WorktreePath    string
	Phase           Phase
	StartedAt       time.Time
	ContextFilePath string
}
