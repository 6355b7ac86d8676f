package runner

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/zeebo/blake3"

	"github.com/automaker/automaker/internal/model"
)

// contextDir is where the Agent Runner writes the per-feature prompt
// context file inside a worktree, under the same .automaker/ directory as
// outcomeFileName.
const contextDir = ".automaker/context"

// writeContextFile renders the feature's description/steps into a markdown
// file inside the worktree and stamps it with a blake3 content fingerprint,
// so a resumed or re-entrant run can tell whether the feature definition
// changed since the context file was last written without re-hashing the
// full feature_list.json.
func writeContextFile(worktreePath string, f model.Feature) (string, error) {
	body := renderContextBody(f)
	h := blake3.New()
	_, _ = h.Write([]byte(body))
	sum := h.Sum(nil)

	var out strings.Builder
	fmt.Fprintf(&out, "<!-- fingerprint: blake3:%x -->\n", sum)
	out.WriteString(body)

	relPath := filepath.Join(contextDir, f.ID+".md")
	absPath := filepath.Join(worktreePath, relPath)
	if err := os.MkdirAll(filepath.Dir(absPath), 0o755); err != nil {
		return "", err
	}
	if _, err := os.Stat(absPath); err == nil {
		// The transcript already exists from an earlier run; append a fresh
		// run header instead of discarding prior turns.
		af, err := os.OpenFile(absPath, os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return "", err
		}
		defer func() { _ = af.Close() }()
		if _, err := fmt.Fprintf(af, "\n<!-- new run, fingerprint: blake3:%x -->\n", sum); err != nil {
			return "", err
		}
		return relPath, nil
	}
	if err := os.WriteFile(absPath, []byte(out.String()), 0o644); err != nil {
		return "", err
	}
	return relPath, nil
}

// appendContextFile adds a turn's assistant text to the transcript. The file
// is append-only after the header; failures are dropped so transcript IO
// never kills a run.
func appendContextFile(worktreePath, relPath, text string) {
	f, err := os.OpenFile(filepath.Join(worktreePath, relPath), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return
	}
	defer func() { _ = f.Close() }()
	_, _ = fmt.Fprintf(f, "\n---\n\n%s\n", text)
}

func renderContextBody(f model.Feature) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", f.ID)
	if f.Category != "" {
		fmt.Fprintf(&b, "Category: %s\n\n", f.Category)
	}
	b.WriteString("## Description\n\n")
	b.WriteString(f.Description)
	b.WriteString("\n\n")
	if len(f.Steps) > 0 {
		b.WriteString("## Steps\n\n")
		for i, s := range f.Steps {
			fmt.Fprintf(&b, "%d. %s\n", i+1, s)
		}
		b.WriteString("\n")
	}
	if len(f.Dependencies) > 0 {
		b.WriteString("## Dependencies\n\n")
		for _, d := range f.Dependencies {
			fmt.Fprintf(&b, "- %s\n", d)
		}
		b.WriteString("\n")
	}
	return b.String()
}
