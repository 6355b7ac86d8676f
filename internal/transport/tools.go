// Package transport implements the Agent Runner's tool bus: the concrete
// executors behind the allow-listed tools
// (Read, Write, Edit, Glob, Grep, Bash, WebSearch, WebFetch), each described
// by a compiled JSON Schema. Tool-use blocks the Agent Runner receives from
// the LLM transport are validated against these schemas before being
// executed, so a malformed call surfaces as a tool error
// instead of corrupting the worktree.
package transport

import "github.com/automaker/automaker/internal/llm"

// AllowedToolNames is the full allow-list used during the planning/action
// phases of a run.
var AllowedToolNames = []string{
	"Read", "Write", "Edit", "Glob", "Grep", "Bash", "WebSearch", "WebFetch",
}

// VerifyToolNames is the reduced allow-list used by verify-only runs:
// no WebSearch/WebFetch.
var VerifyToolNames = []string{
	"Read", "Write", "Edit", "Glob", "Grep", "Bash",
}

func objectSchema(required []string, props map[string]any) map[string]any {
	return map[string]any{
		"type":                 "object",
		"properties":           props,
		"required":             required,
		"additionalProperties": false,
	}
}

func strProp(desc string) map[string]any {
	return map[string]any{"type": "string", "description": desc}
}

func intProp(desc string) map[string]any {
	return map[string]any{"type": "integer", "description": desc}
}

func boolProp(desc string) map[string]any {
	return map[string]any{"type": "boolean", "description": desc}
}

// specs is the canonical tool descriptor table, keyed by name. Both the
// allow-list ToolSpecs sent to the provider and the Registry's schema
// validation are built from this single source.
var specs = map[string]llm.ToolSpec{
	"Read": {
		Name:        "Read",
		Description: "Read a file from the worktree, optionally by line range.",
		InputSchema: objectSchema([]string{"file_path"}, map[string]any{
			"file_path": strProp("path to the file, relative to cwd or absolute"),
			"offset":    intProp("first line to read (1-based)"),
			"limit":     intProp("maximum number of lines to read"),
		}),
	},
	"Write": {
		Name:        "Write",
		Description: "Write a file in the worktree, overwriting any existing contents.",
		InputSchema: objectSchema([]string{"file_path", "content"}, map[string]any{
			"file_path": strProp("path to the file, relative to cwd or absolute"),
			"content":   strProp("full file contents to write"),
		}),
	},
	"Edit": {
		Name:        "Edit",
		Description: "Replace an exact string occurrence in a file.",
		InputSchema: objectSchema([]string{"file_path", "old_string", "new_string"}, map[string]any{
			"file_path":   strProp("path to the file, relative to cwd or absolute"),
			"old_string":  strProp("exact text to replace"),
			"new_string":  strProp("replacement text"),
			"replace_all": boolProp("replace every occurrence instead of requiring a unique match"),
		}),
	},
	"Glob": {
		Name:        "Glob",
		Description: "Match files under the worktree by glob pattern (** supported).",
		InputSchema: objectSchema([]string{"pattern"}, map[string]any{
			"pattern": strProp("glob pattern, e.g. **/*.go"),
			"path":    strProp("directory to search under; defaults to cwd"),
		}),
	},
	"Grep": {
		Name:        "Grep",
		Description: "Search file contents by regular expression.",
		InputSchema: objectSchema([]string{"pattern"}, map[string]any{
			"pattern":          strProp("regular expression to search for"),
			"path":             strProp("directory or file to search; defaults to cwd"),
			"glob":             strProp("glob filter restricting which files are searched"),
			"case_insensitive": boolProp("match case-insensitively"),
		}),
	},
	"Bash": {
		Name:        "Bash",
		Description: "Run a shell command in the worktree.",
		InputSchema: objectSchema([]string{"command"}, map[string]any{
			"command":    strProp("shell command to execute"),
			"timeout_ms": intProp("maximum time to allow the command to run"),
		}),
	},
	"WebSearch": {
		Name:        "WebSearch",
		Description: "Search the web for a query and return a short list of results.",
		InputSchema: objectSchema([]string{"query"}, map[string]any{
			"query": strProp("search query"),
		}),
	},
	"WebFetch": {
		Name:        "WebFetch",
		Description: "Fetch a URL and return its text content.",
		InputSchema: objectSchema([]string{"url"}, map[string]any{
			"url": strProp("URL to fetch"),
		}),
	},
}

// Spec returns the tool descriptor for name, if known.
func Spec(name string) (llm.ToolSpec, bool) {
	s, ok := specs[name]
	return s, ok
}

// SpecsFor resolves a list of tool names (e.g. AllowedToolNames or
// VerifyToolNames) into the llm.ToolSpec slice a Request.Tools field expects.
func SpecsFor(names []string) []llm.ToolSpec {
	out := make([]llm.ToolSpec, 0, len(names))
	for _, n := range names {
		if s, ok := specs[n]; ok {
			out = append(out, s)
		}
	}
	return out
}
