package process

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os/exec"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/concourse-resource/internal/config"
)

// logRecords decodes JSON log lines written by a test logger.
func logRecords(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var records []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var rec map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &rec))
		records = append(records, rec)
	}
	return records
}

func hasRecord(records []map[string]any, level, msg string) bool {
	for _, rec := range records {
		if rec["level"] == level && rec["msg"] == msg {
			return true
		}
	}
	return false
}

func newTestRunner() (*Runner, *bytes.Buffer) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	return &Runner{Logger: logger}, &buf
}

func TestRunCapturesOutput(t *testing.T) {
	r, _ := newTestRunner()

	res, err := r.Run(context.Background(), []string{"/bin/sh", "-c", "cat; echo oops >&2"}, []byte("hello\n"), 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, Completed, res.Outcome)
	assert.Equal(t, 0, res.ExitCode)
	assert.Equal(t, "hello\n", res.Stdout)
	assert.Equal(t, "oops\n", res.Stderr)
	assert.NotZero(t, res.PID)
}

func TestRunWithoutTimeout(t *testing.T) {
	r, _ := newTestRunner()

	res, err := r.Run(context.Background(), []string{"/bin/sh", "-c", "echo ok"}, nil, 0)
	require.NoError(t, err)
	assert.Equal(t, "ok\n", res.Stdout)
	assert.False(t, res.TimedOut())
}

func TestRunNonZeroExitIsNotAnError(t *testing.T) {
	r, logs := newTestRunner()

	res, err := r.Run(context.Background(), []string{"/bin/sh", "-c", "echo partial; exit 3"}, nil, 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 3, res.ExitCode)
	assert.Equal(t, "partial\n", res.Stdout)
	assert.True(t, hasRecord(logRecords(t, logs), "WARN", "process failed"))
}

func TestRunFailOnNonZero(t *testing.T) {
	r, _ := newTestRunner()
	r.FailOnNonZero = true

	res, err := r.Run(context.Background(), []string{"/bin/sh", "-c", "exit 7"}, nil, 5*time.Second)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNonZeroExit))
	assert.Equal(t, 7, res.ExitCode)

	_, err = r.Run(context.Background(), []string{"/bin/sh", "-c", "exit 0"}, nil, 5*time.Second)
	assert.NoError(t, err)
}

func TestRunTimeout(t *testing.T) {
	r, logs := newTestRunner()
	timeout := 200 * time.Millisecond

	start := time.Now()
	res, err := r.Run(context.Background(), []string{"/bin/sh", "-c", "echo started; sleep 10"}, nil, timeout)
	elapsed := time.Since(start)

	require.NoError(t, err, "timeout must not be escalated to an error")
	assert.True(t, res.TimedOut())
	assert.Equal(t, TimeoutExitCode, res.ExitCode)
	assert.Equal(t, "started\n", res.Stdout, "output buffered before termination is kept")
	assert.Less(t, elapsed, timeout+3*time.Second)

	records := logRecords(t, logs)
	assert.True(t, hasRecord(records, "WARN", "process killed after timeout"))
	for _, rec := range records {
		assert.NotEqual(t, "ERROR", rec["level"], "timeout must not log at error: %v", rec)
	}
}

func TestRunTimeoutWithGrace(t *testing.T) {
	r, logs := newTestRunner()
	r.Grace = 2 * time.Second

	script := `trap 'echo term; exit 0' TERM; while :; do sleep 0.05; done`
	res, err := r.Run(context.Background(), []string{"/bin/sh", "-c", script}, nil, 200*time.Millisecond)
	require.NoError(t, err)
	assert.True(t, res.TimedOut())
	assert.Equal(t, TimeoutExitCode, res.ExitCode)
	assert.Contains(t, res.Stdout, "term")
	assert.False(t, hasRecord(logRecords(t, logs), "WARN", "process did not exit after SIGTERM, sending SIGKILL"))
}

func TestRunContextCancel(t *testing.T) {
	r, _ := newTestRunner()
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err := r.Run(ctx, []string{"/bin/sh", "-c", "sleep 10"}, nil, 0)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRunContextCancelLogsKillFailure(t *testing.T) {
	orig := sendSignal
	t.Cleanup(func() { sendSignal = orig })
	sendSignal = func(cmd *exec.Cmd, sig syscall.Signal) error {
		_ = orig(cmd, sig)
		return errors.New("operation not permitted")
	}

	r, logs := newTestRunner()
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err := r.Run(ctx, []string{"/bin/sh", "-c", "sleep 10"}, nil, 0)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	records := logRecords(t, logs)
	assert.True(t, hasRecord(records, "ERROR", "failed to send SIGKILL"), "logs: %s", logs.String())
}

func TestRunEncodingError(t *testing.T) {
	r, _ := newTestRunner()

	_, err := r.Run(context.Background(), []string{"/bin/sh", "-c", `printf '\377\376'`}, nil, 5*time.Second)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrEncoding))
}

func TestRunStartErrors(t *testing.T) {
	r, _ := newTestRunner()

	_, err := r.Run(context.Background(), nil, nil, time.Second)
	assert.Error(t, err)

	_, err = r.Run(context.Background(), []string{"/nonexistent/binary"}, nil, time.Second)
	assert.Error(t, err)
}

func TestNewFromConfig(t *testing.T) {
	r := New(nil, config.ProcessConfig{Grace: time.Second, FailOnNonZero: true})
	assert.Equal(t, time.Second, r.Grace)
	assert.True(t, r.FailOnNonZero)

	res, err := r.Run(context.Background(), []string{"/bin/sh", "-c", "exit 0"}, nil, time.Second)
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)
}

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "completed", Completed.String())
	assert.Equal(t, "timed_out", TimedOut.String())
}
