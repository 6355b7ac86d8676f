package runner

import (
	"fmt"
	"strings"

	"github.com/automaker/automaker/internal/model"
)

func buildSystemPrompt(mode Mode, contextPath string) string {
	var b strings.Builder
	b.WriteString("You are an autonomous software engineer working inside a git worktree.\n")
	b.WriteString("Use the provided tools to read and modify files, search the codebase, and run commands.\n")
	b.WriteString(fmt.Sprintf("A context file describing this feature has been written to %s; read it first.\n", contextPath))

	switch mode {
	case ModeVerify:
		b.WriteString("\nYou are in VERIFICATION mode. Do not make further feature changes. ")
		b.WriteString("Run the project's build and test suite, inspect the diff already committed to this worktree, ")
		b.WriteString("and decide whether the feature's steps were satisfied. ")
		b.WriteString("When finished, write your conclusion as JSON to .automaker/outcome.json with this shape:\n")
		b.WriteString(`{"status":"success"|"fail","notes":"...","failure_reason":"... (required when status is fail)"}` + "\n")
	default:
		b.WriteString("\nImplement the feature's description and steps completely, committing working code as you go. ")
		b.WriteString("Once implemented, run the project's build and test suite, then record the result as JSON in .automaker/outcome.json with this shape:\n")
		b.WriteString(`{"status":"success"|"fail","notes":"...","failure_reason":"... (required when status is fail)"}` + "\n")
	}
	return b.String()
}

func buildUserPrompt(f model.Feature, mode Mode) string {
	var b strings.Builder
	if mode == ModeResume {
		b.WriteString("Continue working on the feature below. Earlier work already exists in this worktree; pick up where it left off rather than starting over.\n\n")
	}
	fmt.Fprintf(&b, "Feature: %s\n", f.ID)
	if f.Category != "" {
		fmt.Fprintf(&b, "Category: %s\n", f.Category)
	}
	fmt.Fprintf(&b, "\nDescription:\n%s\n", f.Description)
	if len(f.Steps) > 0 {
		b.WriteString("\nSteps:\n")
		for i, s := range f.Steps {
			fmt.Fprintf(&b, "%d. %s\n", i+1, s)
		}
	}
	if len(f.ImagePaths) > 0 {
		b.WriteString("\nReference images:\n")
		for _, img := range f.ImagePaths {
			fmt.Fprintf(&b, "- %s (%s)\n", img.Path, img.Filename)
		}
	}
	if mode == ModeVerify {
		b.WriteString("\nVerify that the above was correctly implemented in this worktree.\n")
	}
	return b.String()
}
