package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/automaker/automaker/internal/errs"
	"github.com/automaker/automaker/internal/model"
	"github.com/automaker/automaker/internal/store"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "project": s.projectPath})
}

func (s *Server) handleListFeatures(w http.ResponseWriter, r *http.Request) {
	fl, err := store.Load(s.projectPath)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, fl.Features)
}

func (s *Server) handleCreateFeature(w http.ResponseWriter, r *http.Request) {
	var req CreateFeatureRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if req.Description == "" {
		writeError(w, http.StatusBadRequest, "description is required")
		return
	}

	f := model.Feature{
		ID:            req.ID,
		Category:      req.Category,
		Description:   req.Description,
		Steps:         req.Steps,
		SkipTests:     req.SkipTests,
		Model:         req.Model,
		ThinkingLevel: model.ThinkingLevel(req.ThinkingLevel),
		Priority:      req.Priority,
		Dependencies:  req.Dependencies,
	}
	created, err := s.scheduler.Store.Create(s.projectPath, f)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleGetFeature(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	fl, err := store.Load(s.projectPath)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	f, ok := fl.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("feature %s not found", id))
		return
	}
	writeJSON(w, http.StatusOK, f)
}

func (s *Server) handleDeleteFeature(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.scheduler.Store.Delete(s.projectPath, id); err != nil {
		writeSchedulerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleFeatureStatus(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	sum, err := s.scheduler.Status(id)
	if err != nil {
		writeSchedulerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, FeatureStatusResponse{
		FeatureID:    sum.FeatureID,
		Status:       string(sum.Status),
		Running:      sum.Running,
		RunID:        sum.RunID,
		Phase:        string(sum.Phase),
		WorktreePath: sum.WorktreePath,
		StartedAt:    sum.StartedAt,
	})
}

func (s *Server) handleFeatureEvents(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	writeEventStream(w, r, s.scheduler.Bus, id)
}

func (s *Server) handleRunFeature(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	// Runs outlive the request: they get the server's base context, not the
	// request's, so writing the 202 does not abort them.
	if err := s.scheduler.RunFeature(s.baseCtx, id); err != nil {
		writeSchedulerError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "running"})
}

func (s *Server) handleResumeFeature(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.scheduler.ResumeFeature(s.baseCtx, id); err != nil {
		writeSchedulerError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "running"})
}

func (s *Server) handleFollowUpFeature(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req FollowUpRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if req.Message == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}
	images := make([]model.ImageRef, 0, len(req.Images))
	for _, img := range req.Images {
		images = append(images, model.ImageRef{Path: img.Path, Filename: img.Filename})
	}
	if err := s.scheduler.FollowUpFeature(s.baseCtx, id, req.Message, images...); err != nil {
		writeSchedulerError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "running"})
}

func (s *Server) handleVerifyFeature(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.scheduler.VerifyFeature(s.baseCtx, id); err != nil {
		writeSchedulerError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "verifying"})
}

func (s *Server) handleCommitFeature(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.scheduler.CommitFeature(r.Context(), id); err != nil {
		writeSchedulerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "verified"})
}

func (s *Server) handleMergeFeature(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.scheduler.MergeFeature(r.Context(), id); err != nil {
		writeSchedulerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "completed"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	snap := s.scheduler.StatusAll()
	resp := StatusResponse{RunningCount: snap.RunningCount, CanStart: snap.CanStart}
	for _, run := range snap.Running {
		resp.Running = append(resp.Running, FeatureStatusResponse{
			FeatureID:    run.FeatureID,
			Status:       string(run.Status),
			Running:      true,
			RunID:        run.RunID,
			Phase:        string(run.Phase),
			WorktreePath: run.WorktreePath,
			StartedAt:    run.StartedAt,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleUpdateFeature applies a user-driven partial update: column drags
// (status changes), priority edits, description/steps rewrites. A feature
// with a live run is owned by the Scheduler and cannot be edited here.
func (s *Server) handleUpdateFeature(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if sum, err := s.scheduler.Status(id); err == nil && sum.Running {
		writeError(w, http.StatusConflict, fmt.Sprintf("feature %s has a live run; stop it first", id))
		return
	}
	var req UpdateFeatureRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if req.Status != nil && !model.Status(*req.Status).Valid() {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid status %q", *req.Status))
		return
	}

	updated, err := s.scheduler.Store.Update(s.projectPath, id, func(f *model.Feature) {
		if req.Status != nil {
			next := model.Status(*req.Status)
			if next != f.Status {
				switch next {
				case model.StatusBacklog:
					// Dragging back to backlog releases the worktree binding;
					// branchName is kept.
					f.WorktreePath = nil
					f.StartedAt = nil
					f.JustFinishedAt = nil
				case model.StatusVerified:
					f.JustFinishedAt = nil
				}
				f.Status = next
			}
		}
		if req.Category != nil {
			f.Category = *req.Category
		}
		if req.Description != nil {
			f.Description = *req.Description
		}
		if req.Steps != nil {
			f.Steps = *req.Steps
		}
		if req.SkipTests != nil {
			f.SkipTests = *req.SkipTests
		}
		if req.Model != nil {
			f.Model = *req.Model
		}
		if req.ThinkingLevel != nil {
			f.ThinkingLevel = model.ThinkingLevel(*req.ThinkingLevel)
		}
		if req.Priority != nil {
			f.Priority = *req.Priority
		}
		if req.Dependencies != nil {
			f.Dependencies = *req.Dependencies
		}
	})
	if err != nil {
		writeSchedulerError(w, err)
		return
	}
	if req.Category != nil && *req.Category != "" {
		_ = s.scheduler.Store.SaveCategory(s.projectPath, *req.Category)
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleStopFeature(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.scheduler.StopFeature(id); err != nil {
		writeSchedulerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopping"})
}

func (s *Server) handleListWorktrees(w http.ResponseWriter, r *http.Request) {
	wts, err := s.scheduler.ListWorktrees()
	if err != nil {
		writeSchedulerError(w, err)
		return
	}
	if wts == nil {
		wts = []model.Worktree{}
	}
	writeJSON(w, http.StatusOK, wts)
}

func (s *Server) handleRemoveWorktree(w http.ResponseWriter, r *http.Request) {
	branch := r.PathValue("branch")
	force := r.URL.Query().Get("force") == "true"
	if err := s.scheduler.RemoveWorktree(branch, force); err != nil {
		writeSchedulerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "removed"})
}

// --- Helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

// writeSchedulerError classifies a Scheduler/Store error per the studio's
// error taxonomy (internal/errs), mapping typed errors to HTTP status rather
// than returning a bare 500 for everything.
func writeSchedulerError(w http.ResponseWriter, err error) {
	switch e := err.(type) {
	case *errs.NotFound:
		writeError(w, http.StatusNotFound, e.Error())
	case *errs.StateError:
		writeError(w, http.StatusConflict, e.Error())
	case *errs.ConcurrencyLimit:
		writeError(w, http.StatusTooManyRequests, e.Error())
	case *errs.SecurityError:
		writeError(w, http.StatusForbidden, e.Error())
	case *errs.GitError:
		if e.Kind == errs.GitConflict {
			writeError(w, http.StatusConflict, e.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, e.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
