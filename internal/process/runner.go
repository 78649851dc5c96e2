package process

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"syscall"
	"time"
	"unicode/utf8"

	"github.com/mattjoyce/concourse-resource/internal/config"
	"github.com/mattjoyce/concourse-resource/internal/protocol"
)

const (
	// TimeoutExitCode is reported for processes terminated after their timeout.
	TimeoutExitCode = -1

	// maxLoggedOutput caps how much of stdout/stderr goes into debug logs.
	maxLoggedOutput = 4 * 1024

	// waitDelay bounds the wait for pipes held open by stray descendants once the
	// process itself has exited.
	waitDelay = 2 * time.Second
)

var (
	// ErrEncoding reports output that could not be decoded as UTF-8 text.
	ErrEncoding = errors.New("process output is not valid UTF-8")

	// ErrNonZeroExit is returned only when Runner.FailOnNonZero is set.
	ErrNonZeroExit = errors.New("process exited with non-zero status")
)

// sendSignal delivers signals to a started command; replaced in tests.
var sendSignal = signalGroup

// Outcome tells how a process run ended.
type Outcome int

const (
	Completed Outcome = iota
	TimedOut
)

func (o Outcome) String() string {
	switch o {
	case Completed:
		return "completed"
	case TimedOut:
		return "timed_out"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Result is the captured outcome of one command.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Outcome  Outcome
	PID      int
	Duration time.Duration
}

// TimedOut reports whether the process was terminated because of its timeout.
func (r Result) TimedOut() bool {
	return r.Outcome == TimedOut
}

// Runner executes commands with bounded wall-clock time.
type Runner struct {
	Logger *slog.Logger

	// Grace is the time between SIGTERM and SIGKILL on timeout. Zero kills immediately.
	Grace time.Duration

	// FailOnNonZero makes Run return ErrNonZeroExit for completed commands with a non-zero status.
	FailOnNonZero bool

	// Dir and Env are passed to exec.Cmd as-is.
	Dir string
	Env []string
}

// New returns a Runner configured from cfg.
func New(logger *slog.Logger, cfg config.ProcessConfig) *Runner {
	return &Runner{
		Logger:        logger,
		Grace:         cfg.Grace,
		FailOnNonZero: cfg.FailOnNonZero,
	}
}

// Run starts argv, writes input to its stdin, and waits up to timeout for it to exit.
// A timeout is not an error: the returned Result is tagged TimedOut instead.
// If ctx is cancelled the process is killed and ctx.Err() is returned.
func (r *Runner) Run(ctx context.Context, argv []string, input []byte, timeout time.Duration) (Result, error) {
	if len(argv) == 0 {
		return Result{}, fmt.Errorf("empty command")
	}
	logger := r.logger()

	// Don't use CommandContext - termination is managed here so output can be drained.
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = r.Dir
	cmd.Env = r.Env
	cmd.Stdin = bytes.NewReader(input)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.WaitDelay = waitDelay

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return Result{}, fmt.Errorf("start process %q: %w", argv[0], err)
	}
	pid := cmd.Process.Pid
	logger.Info("running process", "pid", pid, "argv", argv, "timeout", timeout)

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
	}()

	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	res := Result{PID: pid, Outcome: Completed}
	var err error
	select {
	case err = <-waitErr:
	case <-expired:
		logger.Warn("process killed after timeout", "pid", pid, "timeout", timeout)
		res.Outcome = TimedOut
		err = r.terminate(cmd, waitErr, logger)
	case <-ctx.Done():
		logger.Warn("process killed on cancellation", "pid", pid)
		if err := sendSignal(cmd, syscall.SIGKILL); err != nil {
			logger.Error("failed to send SIGKILL", "pid", pid, "error", err)
		}
		<-waitErr
		res.Duration = time.Since(start)
		return res, ctx.Err()
	}
	res.Duration = time.Since(start)

	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) && !errors.Is(err, exec.ErrWaitDelay) {
		return res, fmt.Errorf("wait for process %d: %w", pid, err)
	}

	if res.Outcome == TimedOut {
		res.ExitCode = TimeoutExitCode
	} else {
		res.ExitCode = cmd.ProcessState.ExitCode()
	}

	logger.Debug("process output", "pid", pid,
		"stdout", protocol.Truncate(stdout.String(), maxLoggedOutput),
		"stderr", protocol.Truncate(stderr.String(), maxLoggedOutput))

	if !utf8.Valid(stdout.Bytes()) {
		return res, fmt.Errorf("%w: stdout of pid %d", ErrEncoding, pid)
	}
	if !utf8.Valid(stderr.Bytes()) {
		return res, fmt.Errorf("%w: stderr of pid %d", ErrEncoding, pid)
	}
	res.Stdout = stdout.String()
	res.Stderr = stderr.String()

	switch {
	case res.Outcome == TimedOut:
		return res, nil
	case res.ExitCode != 0:
		logger.Warn("process failed", "pid", pid, "exit_code", res.ExitCode)
		if r.FailOnNonZero {
			return res, fmt.Errorf("%w: pid %d exited with %d", ErrNonZeroExit, pid, res.ExitCode)
		}
	default:
		logger.Debug("process finished", "pid", pid, "exit_code", 0, "duration", res.Duration)
	}

	return res, nil
}

// terminate stops a timed-out process and waits, unbounded, for it to be reaped.
func (r *Runner) terminate(cmd *exec.Cmd, waitErr <-chan error, logger *slog.Logger) error {
	if r.Grace > 0 {
		if err := sendSignal(cmd, syscall.SIGTERM); err != nil {
			logger.Error("failed to send SIGTERM", "error", err)
		}

		grace := time.NewTimer(r.Grace)
		defer grace.Stop()

		select {
		case err := <-waitErr:
			return err
		case <-grace.C:
			logger.Warn("process did not exit after SIGTERM, sending SIGKILL", "pid", cmd.Process.Pid)
		}
	}

	if err := sendSignal(cmd, syscall.SIGKILL); err != nil {
		logger.Error("failed to send SIGKILL", "error", err)
	}
	return <-waitErr
}

// signalGroup signals the whole process group so shell children go down too.
func signalGroup(cmd *exec.Cmd, sig syscall.Signal) error {
	if cmd.Process == nil {
		return nil
	}
	if err := syscall.Kill(-cmd.Process.Pid, sig); err != nil {
		return cmd.Process.Signal(sig)
	}
	return nil
}

func (r *Runner) logger() *slog.Logger {
	if r.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return r.Logger
}
