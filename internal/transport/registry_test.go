package transport

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestExecuteWriteReadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	reg, err := NewRegistry(AllowedToolNames)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}

	writeArgs, _ := json.Marshal(map[string]any{"file_path": "hello.txt", "content": "hello world"})
	res := reg.Execute(context.Background(), dir, "Write", "call-1", writeArgs)
	if res.IsError {
		t.Fatalf("Write failed: %s", res.Output)
	}

	readArgs, _ := json.Marshal(map[string]any{"file_path": "hello.txt"})
	res = reg.Execute(context.Background(), dir, "Read", "call-2", readArgs)
	if res.IsError {
		t.Fatalf("Read failed: %s", res.Output)
	}
	if want := "hello world"; !contains(res.Output, want) {
		t.Fatalf("expected output to contain %q, got %q", want, res.Output)
	}
}

func TestExecuteEditRequiresUniqueMatch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "f.txt")
	if err := os.WriteFile(path, []byte("a b a"), 0o644); err != nil {
		t.Fatal(err)
	}
	reg, err := NewRegistry(AllowedToolNames)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}

	args, _ := json.Marshal(map[string]any{"file_path": "f.txt", "old_string": "a", "new_string": "x"})
	res := reg.Execute(context.Background(), dir, "Edit", "call-1", args)
	if !res.IsError {
		t.Fatal("expected ambiguous edit to fail")
	}

	argsAll, _ := json.Marshal(map[string]any{"file_path": "f.txt", "old_string": "a", "new_string": "x", "replace_all": true})
	res = reg.Execute(context.Background(), dir, "Edit", "call-2", argsAll)
	if res.IsError {
		t.Fatalf("expected replace_all edit to succeed: %s", res.Output)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := string(raw), "x b x"; got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestExecuteGlobFindsNestedFiles(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "a", "b"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "a", "b", "c.go"), []byte("package c"), 0o644); err != nil {
		t.Fatal(err)
	}
	reg, err := NewRegistry(AllowedToolNames)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	args, _ := json.Marshal(map[string]any{"pattern": "**/*.go"})
	res := reg.Execute(context.Background(), dir, "Glob", "call-1", args)
	if res.IsError {
		t.Fatalf("Glob failed: %s", res.Output)
	}
	if !contains(res.Output, "c.go") {
		t.Fatalf("expected match for c.go, got %q", res.Output)
	}
}

func TestExecuteRejectsSchemaViolation(t *testing.T) {
	dir := t.TempDir()
	reg, err := NewRegistry(AllowedToolNames)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	args, _ := json.Marshal(map[string]any{})
	res := reg.Execute(context.Background(), dir, "Read", "call-1", args)
	if !res.IsError {
		t.Fatal("expected missing required file_path to fail schema validation")
	}
}

func TestExecuteUnknownTool(t *testing.T) {
	dir := t.TempDir()
	reg, err := NewRegistry(VerifyToolNames)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	res := reg.Execute(context.Background(), dir, "WebFetch", "call-1", json.RawMessage(`{"url":"https://example.com"}`))
	if !res.IsError {
		t.Fatal("expected WebFetch to be unavailable under the verify-only allow-list")
	}
}

func contains(s, sub string) bool {
	return len(s) >= len(sub) && (func() bool {
		for i := 0; i+len(sub) <= len(s); i++ {
			if s[i:i+len(sub)] == sub {
				return true
			}
		}
		return false
	})()
}
