package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/automaker/automaker/internal/scheduler"
)

// pollUntilIdle blocks until the Scheduler reports the feature is no longer
// Running, printing its terminal status. There is no progress-push API on
// the CLI path (that's what `automaker serve`'s SSE endpoint is for), so a
// short poll loop stands in.
func pollUntilIdle(ctx context.Context, sch *scheduler.Scheduler, featureID string) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			fmt.Fprintln(os.Stderr, "interrupted")
			os.Exit(130)
		case <-ticker.C:
			sum, err := sch.Status(featureID)
			if err != nil {
				fmt.Fprintln(os.Stderr, err)
				os.Exit(1)
			}
			if !sum.Running {
				printStatus(sum)
				return
			}
		}
	}
}

func printStatus(sum scheduler.RunSummary) {
	fmt.Printf("feature=%s status=%s\n", sum.FeatureID, sum.Status)
}
