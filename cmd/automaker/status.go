package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/automaker/automaker/internal/store"
)

func cmdStatus(args []string) {
	var projectFlag string
	var jsonOut bool
	var positional []string

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--project":
			i++
			if i >= len(args) {
				fmt.Fprintln(os.Stderr, "--project requires a value")
				os.Exit(1)
			}
			projectFlag = args[i]
		case "--json":
			jsonOut = true
		default:
			positional = append(positional, args[i])
		}
	}
	if len(positional) > 1 {
		fmt.Fprintln(os.Stderr, "usage: automaker status [feature-id] [--project <dir>] [--json]")
		os.Exit(1)
	}

	projectPath, err := resolveProjectPath(projectFlag)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	fl, err := store.Load(projectPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if len(positional) == 1 {
		f, ok := fl.Get(positional[0])
		if !ok {
			fmt.Fprintf(os.Stderr, "feature %s not found\n", positional[0])
			os.Exit(1)
		}
		if jsonOut {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			_ = enc.Encode(f)
			return
		}
		fmt.Printf("feature=%s status=%s priority=%d\n", f.ID, f.Status, f.Priority)
		return
	}

	ordered := fl.SortedByPriority()
	if jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(ordered)
		return
	}
	for _, f := range ordered {
		fmt.Printf("feature=%s status=%s priority=%d\n", f.ID, f.Status, f.Priority)
	}
}
