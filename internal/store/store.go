// Package store is the Feature Store: the durable, crash-safe source of
// truth for a project's feature list. It owns .automaker/feature_list.json
// and .automaker/categories.json exclusively; every other component reads
// through it.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/automaker/automaker/internal/errs"
	"github.com/automaker/automaker/internal/model"
)

const categoriesCap = 32

// Store is a per-process registry of per-project mutexes plus an in-memory
// read cache. It is safe for concurrent use by multiple goroutines across
// multiple projects.
type Store struct {
	mu       sync.Mutex
	projects map[string]*projectState
}

type projectState struct {
	mu    sync.Mutex
	cache *model.FeatureList
}

func New() *Store {
	return &Store{projects: map[string]*projectState{}}
}

func (s *Store) project(projectPath string) *projectState {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[projectPath]
	if !ok {
		p = &projectState{}
		s.projects[projectPath] = p
	}
	return p
}

func featureListPath(projectPath string) string {
	return filepath.Join(projectPath, ".automaker", "feature_list.json")
}

func categoriesPath(projectPath string) string {
	return filepath.Join(projectPath, ".automaker", "categories.json")
}

// Load reads the on-disk feature list, minting deterministic ids for any
// feature missing one so older files remain addressable. A missing file is
// not an error: it yields an empty list.
func Load(projectPath string) (*model.FeatureList, error) {
	path := featureListPath(projectPath)
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &model.FeatureList{}, nil
		}
		return nil, &errs.PersistenceError{Op: "load", Path: path, Err: err}
	}

	var features []model.Feature
	if len(b) > 0 {
		if err := json.Unmarshal(b, &features); err != nil {
			return nil, &errs.PersistenceError{Op: "load", Path: path, Err: err}
		}
	}

	loadTS := time.Now().UTC().Format("20060102T150405")
	for i := range features {
		if features[i].ID == "" {
			features[i].ID = fmt.Sprintf("feature-%d-%s", i, loadTS)
		}
	}
	return &model.FeatureList{Features: features}, nil
}

// save writes the full list to a temp sibling file then renames it into
// place; the rename is the durability point.
func save(projectPath string, fl *model.FeatureList) error {
	path := featureListPath(projectPath)
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return &errs.PersistenceError{Op: "save", Path: path, Err: err}
	}

	features := fl.Features
	if features == nil {
		features = []model.Feature{}
	}
	b, err := json.MarshalIndent(features, "", "  ")
	if err != nil {
		return &errs.PersistenceError{Op: "save", Path: path, Err: err}
	}

	tmp, err := os.CreateTemp(dir, ".feature_list-*.json.tmp")
	if err != nil {
		return &errs.PersistenceError{Op: "save", Path: path, Err: err}
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return &errs.PersistenceError{Op: "save", Path: path, Err: err}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return &errs.PersistenceError{Op: "save", Path: path, Err: err}
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return &errs.PersistenceError{Op: "save", Path: path, Err: err}
	}
	return nil
}

// reloadLocked reloads from disk under the project lock, so concurrent
// writers always read-modify-write against current truth even if the cache
// lags.
func (p *projectState) reloadLocked(projectPath string) (*model.FeatureList, error) {
	fl, err := Load(projectPath)
	if err != nil {
		return nil, err
	}
	p.cache = fl
	return fl, nil
}

// Update applies patch to an existing feature by id, under the project lock.
func (s *Store) Update(projectPath, featureID string, patch func(*model.Feature)) (model.Feature, error) {
	p := s.project(projectPath)
	p.mu.Lock()
	defer p.mu.Unlock()

	fl, err := p.reloadLocked(projectPath)
	if err != nil {
		return model.Feature{}, err
	}
	idx := fl.IndexOf(featureID)
	if idx < 0 {
		return model.Feature{}, &errs.NotFound{Kind: "feature", ID: featureID}
	}
	patch(&fl.Features[idx])
	if err := save(projectPath, fl); err != nil {
		return model.Feature{}, err
	}
	return fl.Features[idx], nil
}

// Create appends a new feature, minting an id if the caller left it blank.
func (s *Store) Create(projectPath string, f model.Feature) (model.Feature, error) {
	p := s.project(projectPath)
	p.mu.Lock()
	defer p.mu.Unlock()

	fl, err := p.reloadLocked(projectPath)
	if err != nil {
		return model.Feature{}, err
	}
	if f.ID == "" {
		f.ID = fmt.Sprintf("feature-%d-%s", len(fl.Features), time.Now().UTC().Format("20060102T150405"))
	}
	if f.Status == "" {
		f.Status = model.StatusBacklog
	}
	if f.Priority == 0 {
		f.Priority = model.DefaultPriority
	}
	fl.Features = append(fl.Features, f)
	if err := save(projectPath, fl); err != nil {
		return model.Feature{}, err
	}
	return f, nil
}

// Delete removes a feature by id. Deleting an unknown id is a no-op success,
// matching the idempotent discipline the rest of the store follows.
func (s *Store) Delete(projectPath, featureID string) error {
	p := s.project(projectPath)
	p.mu.Lock()
	defer p.mu.Unlock()

	fl, err := p.reloadLocked(projectPath)
	if err != nil {
		return err
	}
	idx := fl.IndexOf(featureID)
	if idx < 0 {
		return nil
	}
	fl.Features = append(fl.Features[:idx], fl.Features[idx+1:]...)
	return save(projectPath, fl)
}

// MoveBefore relocates featureID to sit immediately before anchorID in the
// on-disk order, which is authoritative for priority ties.
func (s *Store) MoveBefore(projectPath, featureID, anchorID string) error {
	p := s.project(projectPath)
	p.mu.Lock()
	defer p.mu.Unlock()

	fl, err := p.reloadLocked(projectPath)
	if err != nil {
		return err
	}
	srcIdx := fl.IndexOf(featureID)
	if srcIdx < 0 {
		return &errs.NotFound{Kind: "feature", ID: featureID}
	}
	anchorIdx := fl.IndexOf(anchorID)
	if anchorIdx < 0 {
		return &errs.NotFound{Kind: "feature", ID: anchorID}
	}

	moved := fl.Features[srcIdx]
	rest := append(fl.Features[:srcIdx:srcIdx], fl.Features[srcIdx+1:]...)
	anchorIdx = indexOf(rest, anchorID)
	out := make([]model.Feature, 0, len(rest)+1)
	out = append(out, rest[:anchorIdx]...)
	out = append(out, moved)
	out = append(out, rest[anchorIdx:]...)
	fl.Features = out
	return save(projectPath, fl)
}

func indexOf(features []model.Feature, id string) int {
	for i, f := range features {
		if f.ID == id {
			return i
		}
	}
	return -1
}

// SaveCategory appends name to the project's recently-used category list,
// bounded to the most recent categoriesCap entries, deduplicated with the
// newest occurrence kept.
func (s *Store) SaveCategory(projectPath, name string) error {
	p := s.project(projectPath)
	p.mu.Lock()
	defer p.mu.Unlock()

	path := categoriesPath(projectPath)
	var cats []string
	if b, err := os.ReadFile(path); err == nil {
		_ = json.Unmarshal(b, &cats)
	} else if !os.IsNotExist(err) {
		return &errs.PersistenceError{Op: "load categories", Path: path, Err: err}
	}

	out := make([]string, 0, len(cats)+1)
	out = append(out, name)
	for _, c := range cats {
		if c != name {
			out = append(out, c)
		}
	}
	if len(out) > categoriesCap {
		out = out[:categoriesCap]
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return &errs.PersistenceError{Op: "save categories", Path: path, Err: err}
	}
	b, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return &errs.PersistenceError{Op: "save categories", Path: path, Err: err}
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return &errs.PersistenceError{Op: "save categories", Path: path, Err: err}
	}
	if err := os.Rename(tmp, path); err != nil {
		return &errs.PersistenceError{Op: "save categories", Path: path, Err: err}
	}
	return nil
}
