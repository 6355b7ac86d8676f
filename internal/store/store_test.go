package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/automaker/automaker/internal/errs"
	"github.com/automaker/automaker/internal/model"
)

func TestLoad_MissingFileYieldsEmptyList(t *testing.T) {
	dir := t.TempDir()
	fl, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(fl.Features) != 0 {
		t.Fatalf("expected empty list, got %d features", len(fl.Features))
	}
}

func TestLoad_MintsMissingIDsDeterministically(t *testing.T) {
	dir := t.TempDir()
	writeRaw(t, dir, `[{"category":"Core","description":"d","status":"backlog"},{"id":"explicit","category":"Core","description":"d2","status":"backlog"}]`)

	fl, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if fl.Features[0].ID == "" {
		t.Fatalf("expected minted id, got empty")
	}
	if fl.Features[1].ID != "explicit" {
		t.Fatalf("expected explicit id preserved, got %q", fl.Features[1].ID)
	}
}

func TestCreateUpdateDelete_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	s := New()

	f, err := s.Create(dir, model.Feature{Category: "Core", Description: "add x"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if f.ID == "" {
		t.Fatalf("expected minted id on create")
	}
	if f.Status != model.StatusBacklog {
		t.Fatalf("expected default status backlog, got %q", f.Status)
	}

	updated, err := s.Update(dir, f.ID, func(feat *model.Feature) {
		feat.Status = model.StatusInProgress
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if updated.Status != model.StatusInProgress {
		t.Fatalf("expected in_progress, got %q", updated.Status)
	}

	reloaded, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got, ok := reloaded.Get(f.ID); !ok || got.Status != model.StatusInProgress {
		t.Fatalf("reload mismatch: %+v ok=%v", got, ok)
	}

	if err := s.Delete(dir, f.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	reloaded, _ = Load(dir)
	if _, ok := reloaded.Get(f.ID); ok {
		t.Fatalf("expected feature deleted")
	}
}

func TestUpdate_UnknownIDReturnsNotFound(t *testing.T) {
	dir := t.TempDir()
	s := New()
	_, err := s.Update(dir, "nope", func(f *model.Feature) {})
	var nf *errs.NotFound
	if !as(err, &nf) {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestMoveBefore_ReordersOnDiskList(t *testing.T) {
	dir := t.TempDir()
	s := New()
	a, _ := s.Create(dir, model.Feature{ID: "a", Category: "c", Description: "a"})
	_, _ = s.Create(dir, model.Feature{ID: "b", Category: "c", Description: "b"})
	c, _ := s.Create(dir, model.Feature{ID: "c", Category: "c", Description: "c"})

	if err := s.MoveBefore(dir, c.ID, a.ID); err != nil {
		t.Fatalf("MoveBefore: %v", err)
	}
	fl, _ := Load(dir)
	if fl.Features[0].ID != "c" {
		t.Fatalf("expected c first, got order: %v", ids(fl.Features))
	}
}

func TestSaveCategory_BoundedAndDeduplicated(t *testing.T) {
	dir := t.TempDir()
	s := New()
	for i := 0; i < categoriesCap+5; i++ {
		if err := s.SaveCategory(dir, "cat"); err != nil {
			t.Fatalf("SaveCategory: %v", err)
		}
	}
	b, err := os.ReadFile(categoriesPath(dir))
	if err != nil {
		t.Fatalf("read categories: %v", err)
	}
	var cats []string
	if err := json.Unmarshal(b, &cats); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(cats) != 1 {
		t.Fatalf("expected dedup to 1 entry, got %v", cats)
	}
}

func ids(fs []model.Feature) []string {
	out := make([]string, len(fs))
	for i, f := range fs {
		out[i] = f.ID
	}
	return out
}

func writeRaw(t *testing.T, dir, json string) {
	t.Helper()
	p := filepath.Join(dir, ".automaker", "feature_list.json")
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p, []byte(json), 0o644); err != nil {
		t.Fatal(err)
	}
}

func as(err error, target **errs.NotFound) bool {
	nf, ok := err.(*errs.NotFound)
	if !ok {
		return false
	}
	*target = nf
	return true
}
