package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults_MissingFileYieldsBuiltins(t *testing.T) {
	d, err := LoadDefaults(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("LoadDefaults: %v", err)
	}
	if d.MaxConcurrency != 3 || d.MaxTurns != 30 {
		t.Fatalf("expected built-in defaults, got %+v", d)
	}
}

func TestLoadDefaults_OverridesFromYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "automaker.yaml")
	content := "maxConcurrency: 5\nmaxTurns: 40\nrunTimeout: 90s\ndefaultModel: opus\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	d, err := LoadDefaults(path)
	if err != nil {
		t.Fatalf("LoadDefaults: %v", err)
	}
	if d.MaxConcurrency != 5 || d.MaxTurns != 40 || d.DefaultModel != "opus" {
		t.Fatalf("expected overrides applied, got %+v", d)
	}
	if d.RunTimeout.Duration != 90*time.Second {
		t.Fatalf("expected runTimeout=90s, got %v", d.RunTimeout.Duration)
	}
}

func TestLoadEnv_SettingsFileOverridesProcessEnv(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("ANTHROPIC_API_KEY", "from-process-env")

	dir := filepath.Join(home, ".claude")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	settings := `{"env":{"ANTHROPIC_API_KEY":"from-settings-file","PORT":"4321"}}`
	if err := os.WriteFile(filepath.Join(dir, "settings.json"), []byte(settings), 0o644); err != nil {
		t.Fatal(err)
	}

	env, err := LoadEnv()
	if err != nil {
		t.Fatalf("LoadEnv: %v", err)
	}
	if env.AnthropicAPIKey != "from-settings-file" {
		t.Fatalf("expected settings file to win, got %q", env.AnthropicAPIKey)
	}
	if env.Port != 4321 {
		t.Fatalf("expected port from settings file, got %d", env.Port)
	}
}
