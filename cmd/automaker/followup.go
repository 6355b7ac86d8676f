package main

import (
	"fmt"
	"os"
)

func cmdFollowUp(args []string) {
	var message string
	var projectFlag string
	var positional []string

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--message":
			i++
			if i >= len(args) {
				fmt.Fprintln(os.Stderr, "--message requires a value")
				os.Exit(1)
			}
			message = args[i]
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
	if len(positional) != 1 || message == "" {
		fmt.Fprintln(os.Stderr, "usage: automaker followup <feature-id> --message <text> [--project <dir>]")
		os.Exit(1)
	}
	featureID := positional[0]

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

	if err := sch.FollowUpFeature(ctx, featureID, message); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	pollUntilIdle(ctx, sch, featureID)
}
