package main

import (
	"fmt"
	"net/http"
	"os"
)

// cmdStop asks a running `automaker serve` instance to cancel a feature's
// in-flight run. Every feature runs as a goroutine inside one shared server
// process: only that process's in-memory CancellationHandle can cancel a
// specific feature without taking down every other one, so stop goes over
// the HTTP surface the server already exposes at POST /features/{id}/stop
// rather than signaling a pid.
func cmdStop(args []string) {
	var addr string
	var projectFlag string
	var positional []string

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--addr":
			i++
			if i >= len(args) {
				fmt.Fprintln(os.Stderr, "--addr requires a value")
				os.Exit(1)
			}
			addr = args[i]
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
	_ = projectFlag // accepted for CLI symmetry with the other subcommands; the running server, not this process, owns the project.
	if len(positional) != 1 {
		fmt.Fprintln(os.Stderr, "usage: automaker stop <feature-id> [--addr <host:port>]")
		os.Exit(1)
	}
	featureID := positional[0]
	if addr == "" {
		addr = "127.0.0.1:8080"
	}

	url := fmt.Sprintf("http://%s/features/%s/stop", addr, featureID)
	resp, err := http.Post(url, "application/json", nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "reach automaker serve at %s: %v\n", addr, err)
		os.Exit(1)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		fmt.Fprintf(os.Stderr, "stop request failed: HTTP %d\n", resp.StatusCode)
		os.Exit(1)
	}
	fmt.Printf("feature=%s status=stopping\n", featureID)
}
