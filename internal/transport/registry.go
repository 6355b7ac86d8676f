package transport

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// TruncationStrategy is how a tool's output is shortened before it is fed
// back to the model.
type TruncationStrategy string

const (
	TruncHeadTail TruncationStrategy = "head_tail"
	TruncTail     TruncationStrategy = "tail"
)

// OutputLimit bounds one tool's result size.
type OutputLimit struct {
	MaxChars int
	MaxLines int
	Strategy TruncationStrategy
}

// CallResult is what the Agent Runner turns into a tool_result content
// block. FullOutput is retained for the `tool` activity event so a UI can
// show the untruncated output even though the model only sees Output.
type CallResult struct {
	ToolName   string
	CallID     string
	Output     string
	FullOutput string
	IsError    bool
}

type executor func(ctx context.Context, cwd string, args map[string]any) (string, error)

// Registry compiles each tool's JSON Schema once and executes validated
// calls against a bound working directory (a feature's worktree).
type Registry struct {
	schemas map[string]*jsonschema.Schema
	exec    map[string]executor
	limits  map[string]OutputLimit
}

// NewRegistry compiles schemas for every tool named in names (typically
// AllowedToolNames or VerifyToolNames) and wires each to its builtin
// executor.
func NewRegistry(names []string) (*Registry, error) {
	r := &Registry{
		schemas: map[string]*jsonschema.Schema{},
		exec:    map[string]executor{},
		limits:  map[string]OutputLimit{},
	}
	for _, name := range names {
		spec, ok := Spec(name)
		if !ok {
			return nil, fmt.Errorf("transport: unknown tool %q", name)
		}
		schema, err := compileSchema(spec.InputSchema)
		if err != nil {
			return nil, fmt.Errorf("transport: compile schema for %s: %w", name, err)
		}
		fn, ok := builtinExecutors[name]
		if !ok {
			return nil, fmt.Errorf("transport: no executor registered for %s", name)
		}
		r.schemas[name] = schema
		r.exec[name] = fn
		r.limits[name] = defaultLimit(name)
	}
	return r, nil
}

func compileSchema(params map[string]any) (*jsonschema.Schema, error) {
	if params == nil {
		params = map[string]any{"type": "object", "properties": map[string]any{}}
	}
	b, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("schema.json", bytes.NewReader(b)); err != nil {
		return nil, err
	}
	return c.Compile("schema.json")
}

// Execute validates argsJSON against the tool's compiled schema, runs it
// with cwd as the working directory, and truncates the result: a warning
// marker plus head/tail or tail-only retention.
func (r *Registry) Execute(ctx context.Context, cwd, name, callID string, argsJSON json.RawMessage) CallResult {
	if strings.TrimSpace(callID) == "" {
		callID = "call_" + shortHash(argsJSON)
	}

	schema, ok := r.schemas[name]
	if !ok {
		return r.truncate(name, callID, fmt.Sprintf("unknown tool: %s", name), true, defaultLimit(name))
	}

	var args map[string]any
	if len(argsJSON) > 0 {
		if err := json.Unmarshal(argsJSON, &args); err != nil {
			return r.truncate(name, callID, fmt.Sprintf("invalid tool arguments JSON: %v", err), true, r.limits[name])
		}
	}
	if args == nil {
		args = map[string]any{}
	}

	if err := schema.Validate(args); err != nil {
		return r.truncate(name, callID, fmt.Sprintf("tool args schema validation failed: %v", err), true, r.limits[name])
	}

	out, err := r.exec[name](ctx, cwd, args)
	if err != nil {
		msg := out
		if strings.TrimSpace(msg) == "" {
			msg = err.Error()
		} else {
			msg = msg + "\n" + err.Error()
		}
		return r.truncate(name, callID, msg, true, r.limits[name])
	}
	return r.truncate(name, callID, out, false, r.limits[name])
}

func (r *Registry) truncate(toolName, callID, full string, isErr bool, lim OutputLimit) CallResult {
	out := truncateChars(full, lim.MaxChars, lim.Strategy)
	if lim.MaxLines > 0 {
		out = truncateLines(out, lim.MaxLines)
	}
	return CallResult{ToolName: toolName, CallID: callID, Output: out, FullOutput: full, IsError: isErr}
}

func truncateChars(s string, max int, strat TruncationStrategy) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	removed := len(s) - max
	switch strat {
	case TruncTail:
		marker := fmt.Sprintf("[WARNING: Tool output was truncated. First %d characters were removed. The full output is available in the event stream.]\n\n", removed)
		return marker + s[len(s)-max:]
	default:
		headCount := max / 2
		tailCount := max - headCount
		marker := fmt.Sprintf("\n\n[WARNING: Tool output was truncated. %d characters were removed from the middle. The full output is available in the event stream. If you need to see specific parts, re-run the tool with more targeted parameters.]\n\n", removed)
		return s[:headCount] + marker + s[len(s)-tailCount:]
	}
}

func truncateLines(s string, max int) string {
	lines := strings.Split(s, "\n")
	if len(lines) <= max {
		return s
	}
	headCount := max / 2
	tailCount := max - headCount
	omitted := len(lines) - headCount - tailCount
	marker := fmt.Sprintf("\n[... %d lines omitted ...]\n", omitted)
	head := strings.Join(lines[:headCount], "\n")
	tail := strings.Join(lines[len(lines)-tailCount:], "\n")
	return head + marker + tail
}

func defaultLimit(toolName string) OutputLimit {
	switch toolName {
	case "Read":
		return OutputLimit{MaxChars: 50_000, Strategy: TruncHeadTail}
	case "Bash":
		return OutputLimit{MaxChars: 30_000, MaxLines: 256, Strategy: TruncHeadTail}
	case "Grep":
		return OutputLimit{MaxChars: 20_000, MaxLines: 200, Strategy: TruncTail}
	case "Glob":
		return OutputLimit{MaxChars: 20_000, MaxLines: 500, Strategy: TruncTail}
	case "Edit":
		return OutputLimit{MaxChars: 10_000, Strategy: TruncTail}
	case "Write":
		return OutputLimit{MaxChars: 1_000, Strategy: TruncTail}
	case "WebFetch", "WebSearch":
		return OutputLimit{MaxChars: 20_000, Strategy: TruncHeadTail}
	default:
		return OutputLimit{MaxChars: 20_000, Strategy: TruncHeadTail}
	}
}

func shortHash(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:8])
}

// resolvePath joins a tool-supplied path against cwd unless it is already
// absolute.
func resolvePath(cwd, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(cwd, p)
}

var builtinExecutors = map[string]executor{
	"Read":      execRead,
	"Write":     execWrite,
	"Edit":      execEdit,
	"Glob":      execGlob,
	"Grep":      execGrep,
	"Bash":      execBash,
	"WebSearch": execWebSearch,
	"WebFetch":  execWebFetch,
}

func execRead(ctx context.Context, cwd string, args map[string]any) (string, error) {
	path := resolvePath(cwd, stringArg(args, "file_path"))
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	lines := strings.Split(string(raw), "\n")
	offset := intArg(args, "offset", 1)
	if offset < 1 {
		offset = 1
	}
	limit := intArg(args, "limit", len(lines))
	start := offset - 1
	if start > len(lines) {
		start = len(lines)
	}
	end := start + limit
	if end > len(lines) {
		end = len(lines)
	}
	var b strings.Builder
	for i := start; i < end; i++ {
		fmt.Fprintf(&b, "%6d\t%s\n", i+1, lines[i])
	}
	return b.String(), nil
}

func execWrite(ctx context.Context, cwd string, args map[string]any) (string, error) {
	path := resolvePath(cwd, stringArg(args, "file_path"))
	content := stringArg(args, "content")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", err
	}
	return fmt.Sprintf("wrote %d bytes to %s", len(content), path), nil
}

func execEdit(ctx context.Context, cwd string, args map[string]any) (string, error) {
	path := resolvePath(cwd, stringArg(args, "file_path"))
	oldStr := stringArg(args, "old_string")
	newStr := stringArg(args, "new_string")
	replaceAll, _ := args["replace_all"].(bool)

	raw, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	content := string(raw)
	count := strings.Count(content, oldStr)
	if count == 0 {
		return "", fmt.Errorf("old_string not found in %s", path)
	}
	if count > 1 && !replaceAll {
		return "", fmt.Errorf("old_string is not unique in %s (%d matches); pass replace_all or widen the match", path, count)
	}
	var updated string
	if replaceAll {
		updated = strings.ReplaceAll(content, oldStr, newStr)
	} else {
		updated = strings.Replace(content, oldStr, newStr, 1)
	}
	if err := os.WriteFile(path, []byte(updated), 0o644); err != nil {
		return "", err
	}
	return fmt.Sprintf("replaced %d occurrence(s) in %s", count, path), nil
}

func execGlob(ctx context.Context, cwd string, args map[string]any) (string, error) {
	pattern := stringArg(args, "pattern")
	root := resolvePath(cwd, stringArg(args, "path"))
	if root == "" {
		root = cwd
	}
	fsys := os.DirFS(root)
	matches, err := doublestar.Glob(fsys, pattern)
	if err != nil {
		return "", fmt.Errorf("glob %q: %w", pattern, err)
	}
	sort.Strings(matches)
	var b strings.Builder
	for _, m := range matches {
		fmt.Fprintln(&b, filepath.Join(root, m))
	}
	return b.String(), nil
}

func execGrep(ctx context.Context, cwd string, args map[string]any) (string, error) {
	pattern := stringArg(args, "pattern")
	root := resolvePath(cwd, stringArg(args, "path"))
	if root == "" {
		root = cwd
	}
	globFilter := stringArg(args, "glob")
	caseInsensitive, _ := args["case_insensitive"].(bool)

	expr := pattern
	if caseInsensitive {
		expr = "(?i)" + expr
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return "", fmt.Errorf("invalid pattern: %w", err)
	}

	var b strings.Builder
	walkErr := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if d.Name() == ".git" || d.Name() == ".worktrees" {
				return filepath.SkipDir
			}
			return nil
		}
		if globFilter != "" {
			rel, relErr := filepath.Rel(root, path)
			if relErr != nil {
				rel = path
			}
			if ok, _ := doublestar.Match(globFilter, rel); !ok {
				return nil
			}
		}
		raw, readErr := os.ReadFile(path)
		if readErr != nil {
			return nil
		}
		for i, line := range strings.Split(string(raw), "\n") {
			if re.MatchString(line) {
				fmt.Fprintf(&b, "%s:%d:%s\n", path, i+1, line)
			}
		}
		return nil
	})
	if walkErr != nil {
		return "", walkErr
	}
	return b.String(), nil
}

func execBash(ctx context.Context, cwd string, args map[string]any) (string, error) {
	command := stringArg(args, "command")
	timeoutMs := intArg(args, "timeout_ms", 120_000)

	runCtx := ctx
	var cancel context.CancelFunc
	if timeoutMs > 0 {
		runCtx, cancel = context.WithTimeout(ctx, time.Duration(timeoutMs)*time.Millisecond)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, "bash", "-c", command)
	cmd.Dir = cwd
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	runErr := cmd.Run()
	combined := out.String()
	if runCtx.Err() != nil {
		return combined, fmt.Errorf("command timed out: %w", runCtx.Err())
	}
	if runErr != nil {
		return combined, fmt.Errorf("command failed: %w", runErr)
	}
	return combined, nil
}

// No search backend or credential is configured in this environment, so
// both web tools stay registered (schema and truncation intact) but report
// unavailability instead of fetching.
func execWebSearch(ctx context.Context, cwd string, args map[string]any) (string, error) {
	return "", fmt.Errorf("WebSearch is not available in this environment")
}

func execWebFetch(ctx context.Context, cwd string, args map[string]any) (string, error) {
	return "", fmt.Errorf("WebFetch is not available in this environment")
}

func stringArg(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return s
}

func intArg(args map[string]any, key string, def int) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return def
	}
}
