package main

import (
	"fmt"
	"os"
)

func cmdResume(args []string) {
	featureID, projectFlag := parseFeatureArgs(args, "resume")
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

	if err := sch.ResumeFeature(ctx, featureID); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	pollUntilIdle(ctx, sch, featureID)
}
