// Command automaker is the studio's CLI entrypoint: a small subcommand
// dispatcher delegating to one file per subcommand.
package main

import (
	"fmt"
	"os"
)

const version = "0.1.0"

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "--version", "-v", "version":
		fmt.Printf("automaker %s\n", version)
		os.Exit(0)
	case "serve":
		cmdServe(os.Args[2:])
	case "run":
		cmdRun(os.Args[2:])
	case "resume":
		cmdResume(os.Args[2:])
	case "followup":
		cmdFollowUp(os.Args[2:])
	case "verify":
		cmdVerify(os.Args[2:])
	case "commit":
		cmdCommit(os.Args[2:])
	case "merge":
		cmdMerge(os.Args[2:])
	case "stop":
		cmdStop(os.Args[2:])
	case "status":
		cmdStatus(os.Args[2:])
	default:
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage:")
	fmt.Fprintln(os.Stderr, "  automaker --version")
	fmt.Fprintln(os.Stderr, "  automaker serve [--addr <host:port>] [--project <dir>]")
	fmt.Fprintln(os.Stderr, "  automaker run <feature-id> [--project <dir>]")
	fmt.Fprintln(os.Stderr, "  automaker resume <feature-id> [--project <dir>]")
	fmt.Fprintln(os.Stderr, "  automaker followup <feature-id> --message <text> [--project <dir>]")
	fmt.Fprintln(os.Stderr, "  automaker verify <feature-id> [--project <dir>]")
	fmt.Fprintln(os.Stderr, "  automaker commit <feature-id> [--project <dir>]")
	fmt.Fprintln(os.Stderr, "  automaker merge <feature-id> [--project <dir>]")
	fmt.Fprintln(os.Stderr, "  automaker stop <feature-id> [--project <dir>]")
	fmt.Fprintln(os.Stderr, "  automaker status [feature-id] [--project <dir>] [--json]")
}
