// Command sandbox-run executes one file of a project folder the way the IDE's
// run button would, and prints the captured output.
//
//	sandbox-run -dir ./demo -entry web/app.js
//	sandbox-run -dir ./demo -entry main.ts -timeout 500ms -json
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bytedance/sonic"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/sandbox/internal/infrastructure/logging"
	"github.com/GriffinCanCode/AgentOS/sandbox/internal/preview"
	"github.com/GriffinCanCode/AgentOS/sandbox/internal/project"
	"github.com/GriffinCanCode/AgentOS/sandbox/internal/router"
	"github.com/GriffinCanCode/AgentOS/sandbox/internal/sandbox"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("sandbox-run", flag.ContinueOnError)
	fs.SetOutput(stderr)
	dir := fs.String("dir", ".", "Project folder")
	entry := fs.String("entry", "", "File to run, relative to -dir")
	timeout := fs.Duration("timeout", sandbox.DefaultTimeout, "Isolated run deadline")
	asJSON := fs.Bool("json", false, "Print the result as JSON")
	verbose := fs.Bool("v", false, "Debug logging to stderr")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *entry == "" {
		fmt.Fprintln(stderr, "sandbox-run: -entry is required")
		fs.Usage()
		return 2
	}

	logger := logging.NewNop()
	if *verbose {
		l, err := logging.New(logging.Config{Level: "debug", Development: true})
		if err != nil {
			fmt.Fprintf(stderr, "sandbox-run: %v\n", err)
			return 1
		}
		logger = l
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	proj, err := project.Load(ctx, *dir, project.DefaultIgnore)
	if err != nil {
		fmt.Fprintf(stderr, "sandbox-run: %v\n", err)
		return 1
	}
	artifact, ok := proj.Find(*entry)
	if !ok {
		fmt.Fprintf(stderr, "sandbox-run: %s not found in %s\n", *entry, proj.Root)
		return 1
	}

	opts := preview.DefaultOptions()
	opts.LiveReload = false
	r, err := router.New(
		router.WithExecutor(sandbox.NewExecutor(
			sandbox.WithTimeout(*timeout),
			sandbox.WithLogger(logger.Component("sandbox")),
		)),
		router.WithPreviewOptions(opts),
		router.WithLogger(logger.Component("router")),
	)
	if err != nil {
		fmt.Fprintf(stderr, "sandbox-run: %v\n", err)
		return 1
	}
	defer func() { _ = r.Close() }()

	siblings := proj.Siblings(artifact)
	logger.Debug("Running entry",
		zap.String("path", artifact.Path),
		zap.String("strategy", string(r.Classify(artifact))),
		zap.Int("siblings", len(siblings)),
	)

	// the run has its own deadline; this only bounds a stuck preview load
	runCtx, cancel := context.WithTimeout(ctx, *timeout+10*time.Second)
	defer cancel()

	res, err := r.Execute(runCtx, artifact, siblings...)
	if err != nil {
		fmt.Fprintf(stderr, "sandbox-run: %v\n", err)
		return 1
	}

	if *asJSON {
		out, err := sonic.ConfigStd.MarshalIndent(res, "", "  ")
		if err != nil {
			fmt.Fprintf(stderr, "sandbox-run: %v\n", err)
			return 1
		}
		fmt.Fprintln(stdout, string(out))
	} else {
		for _, line := range res.Output {
			fmt.Fprintln(stdout, line)
		}
		if !res.Success {
			fmt.Fprintln(stderr, res.Error)
		}
		fmt.Fprintf(stderr, "%s run finished in %dms\n", res.Strategy, res.Duration.Milliseconds())
	}

	if !res.Success {
		return 1
	}
	return 0
}
