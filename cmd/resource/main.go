// Command resource implements the pipeline resource protocol.
//
// Install the binary as /opt/resource/check, /opt/resource/in and /opt/resource/out
// (copies or symlinks); the mode is taken from the program name. Otherwise pass the
// mode as the first argument:
//
//	resource [-in FILE] [-out FILE] <check|in|out> [WORKSPACE]
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/mattjoyce/concourse-resource/internal/config"
	"github.com/mattjoyce/concourse-resource/internal/dispatch"
	"github.com/mattjoyce/concourse-resource/internal/log"
	"github.com/mattjoyce/concourse-resource/internal/process"
	"github.com/mattjoyce/concourse-resource/internal/resource"
)

const version = "v0.1.0"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args, os.Stdin, os.Stdout, os.Stderr, os.Getenv)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, argv []string, stdin io.Reader, stdout, stderr io.Writer, getenv func(string) string) int {
	fs := flag.NewFlagSet(filepath.Base(argv[0]), flag.ContinueOnError)
	fs.SetOutput(stderr)
	inFile := fs.String("in", "", "Read the request from FILE instead of stdin")
	outFile := fs.String("out", "", "Write the response to FILE instead of stdout")
	showVersion := fs.Bool("version", false, "Print version and exit")
	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: %s [-in FILE] [-out FILE] <check|in|out> [WORKSPACE]\n", fs.Name())
		fs.PrintDefaults()
	}
	if err := fs.Parse(argv[1:]); err != nil {
		if err == flag.ErrHelp {
			return 0
		}
		return 2
	}
	if *showVersion {
		fmt.Fprintf(stderr, "resource %s\n", version)
		return 0
	}

	mode, workspaceDir, err := parseArgs(fs.Name(), fs.Args())
	if err != nil {
		fmt.Fprintf(stderr, "ERROR: %s\n", err)
		fs.Usage()
		return 2
	}

	logger, cfg, err := setupLogging(getenv, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "ERROR: %s\n", err)
		return 1
	}
	defer logger.Close()

	if *inFile != "" {
		f, err := os.Open(*inFile)
		if err != nil {
			fmt.Fprintf(stderr, "ERROR: %s\n", err)
			return 1
		}
		defer f.Close()
		stdin = f
	}
	out := &lazyFile{path: *outFile, fallback: stdout}
	defer out.Close()

	var res resource.Resource = &resource.Timestamp{}
	if cfg.Process.Exec {
		res = &resource.Exec{
			Runner:  process.New(log.WithComponent(logger.Logger, "process"), cfg.Process),
			Default: res,
			Logger:  log.WithComponent(logger.Logger, "exec"),
			Timeout: cfg.Process.Timeout,
		}
	}

	d := dispatch.New(res, logger.Logger, logger.Level)
	report := d.Run(ctx, dispatch.Invocation{
		Mode:      mode,
		Workspace: workspaceDir,
		Stdin:     stdin,
		Stdout:    out,
		Stderr:    stderr,
	})
	return report.ExitCode
}

// parseArgs picks the mode from the program name when it is check, in or out, and
// from the first positional argument otherwise.
func parseArgs(program string, args []string) (mode, workspaceDir string, err error) {
	switch program {
	case "check", "in", "out":
		mode = program
	default:
		if len(args) == 0 {
			return "", "", fmt.Errorf("missing mode")
		}
		mode, args = args[0], args[1:]
	}

	if len(args) > 1 {
		return "", "", fmt.Errorf("unexpected arguments: %v", args[1:])
	}
	if len(args) == 1 {
		workspaceDir = args[0]
	}
	return mode, workspaceDir, nil
}

// setupLogging resolves configuration from the environment and opens the log sink.
// A broken config file is reported on stderr and logging falls back to stderr.
func setupLogging(getenv func(string) string, stderr io.Writer) (*log.Logger, *config.Config, error) {
	cfg, cfgErr := config.FromEnv(getenv)
	if cfgErr != nil {
		fmt.Fprintf(stderr, "Error '%s': %v\n", getenv(config.EnvConfigPath), cfgErr)
	}

	l, err := log.New(cfg, stderr)
	if err != nil {
		return nil, nil, fmt.Errorf("setup logging: %w", err)
	}

	mainLog := log.WithComponent(l.Logger, "main")
	mainLog.Info("initializing resource", "version", version)
	if cfg.Path == "" {
		mainLog.Info("using default logging settings", "file", l.Path)
	} else {
		mainLog.Info("using logging settings", "config", cfg.Path)
	}
	if cfgErr != nil {
		mainLog.Warn("ignoring logging config", "error", cfgErr)
	}
	return l, cfg, nil
}

// lazyFile opens path on first write so a failed invocation leaves no output file.
type lazyFile struct {
	path     string
	fallback io.Writer
	f        *os.File
}

func (w *lazyFile) Write(p []byte) (int, error) {
	if w.path == "" {
		return w.fallback.Write(p)
	}
	if w.f == nil {
		f, err := os.Create(w.path)
		if err != nil {
			return 0, err
		}
		w.f = f
	}
	return w.f.Write(p)
}

func (w *lazyFile) Close() error {
	if w.f == nil {
		return nil
	}
	return w.f.Close()
}
