package main

import (
	"fmt"
	"os"
)

func cmdCommit(args []string) {
	featureID, projectFlag := parseFeatureArgs(args, "commit")
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

	if err := sch.CommitFeature(ctx, featureID); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Printf("feature=%s status=verified\n", featureID)
}
