package main

import (
	"fmt"
	"os"
)

func cmdRun(args []string) {
	featureID, projectFlag := parseFeatureArgs(args, "run")
	projectPath, err := resolveProjectPath(projectFlag)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	sch, err := buildScheduler(projectPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	ctx, cleanup := signalCancelContext()
	defer cleanup()

	if err := sch.RunFeature(ctx, featureID); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	pollUntilIdle(ctx, sch, featureID)
}

// parseFeatureArgs extracts the positional feature id plus the shared
// --project flag every single-feature subcommand accepts.
func parseFeatureArgs(args []string, cmdName string) (featureID, projectFlag string) {
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
		default:
			positional = append(positional, args[i])
		}
	}
	if len(positional) != 1 {
		fmt.Fprintf(os.Stderr, "usage: automaker %s <feature-id> [--project <dir>]\n", cmdName)
		os.Exit(1)
	}
	return positional[0], projectFlag
}
