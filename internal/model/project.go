package model

// Project is the Scheduler's handle on a working copy. Persistence of the
// project list itself is out of scope for this module.
type Project struct {
	ID         string
	Path       string
	BranchMain string
}
