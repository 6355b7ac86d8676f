package scheduler

import (
	"github.com/automaker/automaker/internal/errs"
	"github.com/automaker/automaker/internal/model"
	"github.com/automaker/automaker/internal/store"
)

// ListWorktrees reports every worktree registered for the project, enriched
// with commits-ahead and dirty state.
func (s *Scheduler) ListWorktrees() ([]model.Worktree, error) {
	return s.Worktree.List(s.ProjectPath)
}

// RemoveWorktree deletes the worktree bound to branchName. It refuses when a
// live run currently occupies that branch unless force is set; the run keeps
// exclusive ownership of its working directory until it drains.
func (s *Scheduler) RemoveWorktree(branchName string, force bool) error {
	if !force {
		fl, err := store.Load(s.ProjectPath)
		if err != nil {
			return err
		}
		s.mu.Lock()
		for id := range s.running {
			if f, ok := fl.Get(id); ok && s.branchFor(f) == branchName {
				s.mu.Unlock()
				return &errs.StateError{FeatureID: id, Status: string(model.StatusInProgress), Op: "removeWorktree"}
			}
		}
		s.mu.Unlock()
	}
	return s.Worktree.Remove(s.ProjectPath, branchName, force)
}
