package main

import (
	"fmt"
	"os"
)

func cmdVerify(args []string) {
	featureID, projectFlag := parseFeatureArgs(args, "verify")
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

	if err := sch.VerifyFeature(ctx, featureID); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	pollUntilIdle(ctx, sch, featureID)
}
