// Package config loads the studio's process environment and optional
// pipeline-defaults file: API keys and server settings from the environment
// merged with ~/.claude/settings.json, plus a YAML automaker.yaml for
// human-edited studio defaults.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration unmarshals YAML scalars like "30s" or "2m" via time.ParseDuration,
// matching the config-loading convention borrowed from the pack.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return d.Duration.String(), nil
}

// Defaults is the optional automaker.yaml pipeline-defaults file: a human-
// edited studio-level settings file, distinct from feature_list.json/
// categories.json which stay JSON per the on-disk feature schema.
type Defaults struct {
	MaxConcurrency int      `yaml:"maxConcurrency"`
	MaxTurns       int      `yaml:"maxTurns"`
	VerifyMaxTurns int      `yaml:"verifyMaxTurns"`
	DefaultModel   string   `yaml:"defaultModel"`
	RunTimeout     Duration `yaml:"runTimeout"`

	EnableDependencyBlocking bool `yaml:"enableDependencyBlocking"`
}

func defaultDefaults() Defaults {
	return Defaults{
		MaxConcurrency: 3,
		MaxTurns:       30,
		VerifyMaxTurns: 15,
		DefaultModel:   "claude",

		EnableDependencyBlocking: true,
	}
}

// LoadDefaults reads automaker.yaml at path, if present, applying it over
// sensible built-in defaults. A missing file is not an error.
func LoadDefaults(path string) (Defaults, error) {
	d := defaultDefaults()
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return d, nil
		}
		return d, fmt.Errorf("read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(b, &d); err != nil {
		return d, fmt.Errorf("parse %s: %w", path, err)
	}
	return d, nil
}

// ClaudeSettings is the subset of ~/.claude/settings.json this module reads:
// its env map is merged into child-process environments.
type ClaudeSettings struct {
	Env map[string]string `json:"env"`
}

func loadClaudeSettings(path string) (ClaudeSettings, error) {
	var s ClaudeSettings
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return s, err
	}
	if err := json.Unmarshal(b, &s); err != nil {
		return s, fmt.Errorf("parse %s: %w", path, err)
	}
	return s, nil
}

// Env is the resolved process environment: os.Environ() merged with
// ~/.claude/settings.json's env map (settings file wins over the ambient
// process environment, since it is the user's explicit studio config).
type Env struct {
	AnthropicAPIKey    string
	ClaudeOAuthToken   string
	GoogleAPIKey       string
	CORSOrigin         string
	Port               int
	ChildProcessExtras map[string]string
}

// LoadEnv reads the named process-env vars plus ~/.claude/settings.json, if
// present, and returns the merged result.
func LoadEnv() (Env, error) {
	home, _ := os.UserHomeDir()
	settingsPath := filepath.Join(home, ".claude", "settings.json")
	settings, err := loadClaudeSettings(settingsPath)
	if err != nil {
		return Env{}, err
	}

	lookup := func(key string) string {
		if v, ok := settings.Env[key]; ok && v != "" {
			return v
		}
		return os.Getenv(key)
	}

	port := 0
	if p := lookup("PORT"); p != "" {
		if n, err := strconv.Atoi(p); err == nil {
			port = n
		}
	}

	return Env{
		AnthropicAPIKey:    lookup("ANTHROPIC_API_KEY"),
		ClaudeOAuthToken:   lookup("CLAUDE_CODE_OAUTH_TOKEN"),
		GoogleAPIKey:       lookup("GOOGLE_API_KEY"),
		CORSOrigin:         lookup("CORS_ORIGIN"),
		Port:               port,
		ChildProcessExtras: settings.Env,
	}, nil
}
