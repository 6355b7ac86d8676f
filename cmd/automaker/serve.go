package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/automaker/automaker/internal/config"
	"github.com/automaker/automaker/internal/server"
)

func cmdServe(args []string) {
	var addr string
	var projectFlag string

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
			fmt.Fprintf(os.Stderr, "unknown arg: %s\n", args[i])
			os.Exit(1)
		}
	}

	projectPath, err := resolveProjectPath(projectFlag)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	env, err := config.LoadEnv()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if addr == "" {
		addr = "127.0.0.1:8080"
		if env.Port != 0 {
			addr = "127.0.0.1:" + strconv.Itoa(env.Port)
		}
	}

	sch, err := buildScheduler(projectPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if err := sch.Recover(); err != nil {
		fmt.Fprintf(os.Stderr, "crash-recovery sweep: %v\n", err)
		os.Exit(1)
	}

	ctx, cleanup := signalCancelContext()
	defer cleanup()
	sch.StartLoop(ctx)

	srv := server.New(server.Config{Addr: addr, ProjectPath: projectPath, CORSOrigin: env.CORSOrigin}, sch)
	go func() {
		<-ctx.Done()
		srv.Shutdown()
	}()

	if err := srv.ListenAndServe(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
