package main

import (
	"fmt"
	"os"
)

func cmdMerge(args []string) {
	featureID, projectFlag := parseFeatureArgs(args, "merge")
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

	if err := sch.MergeFeature(ctx, featureID); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Printf("feature=%s status=completed\n", featureID)
}
