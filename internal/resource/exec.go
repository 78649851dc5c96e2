package resource

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/mattjoyce/concourse-resource/internal/process"
	"github.com/mattjoyce/concourse-resource/internal/protocol"
)

// SourceKey is the one source key Exec reads; everything else in source is passed
// through untouched.
const SourceKey = "exec"

// Exec delegates operations to external commands named in the source:
//
//	source:
//	  exec:
//	    commands:
//	      check: [./bin/check]
//	      in:    [./bin/in]
//	      out:   [./bin/out]
//	    timeout: 30s
//
// Each command receives the request envelope on stdin and must print the response
// on stdout. in and out commands get the workspace as their last argument and run
// inside it. Operations without a command fall back to Default.
//
// A timed-out or non-zero command fails the operation; its stderr is logged.
// The resource binary only installs Exec when process.exec is enabled in its config file.
type Exec struct {
	Runner  *process.Runner
	Default Resource
	Logger  *slog.Logger

	// Timeout applies when the source sets none. Zero means no limit.
	Timeout time.Duration
}

var _ Resource = (*Exec)(nil)

type execRequest struct {
	Source  map[string]any `json:"source"`
	Params  map[string]any `json:"params,omitempty"`
	Version map[string]any `json:"version,omitempty"`
}

func (e *Exec) Check(ctx context.Context, source, version map[string]any) (protocol.CheckResponse, error) {
	argv, timeout, err := e.command(source, ModeCheck)
	if err != nil {
		return nil, err
	}
	if argv == nil {
		return e.Default.Check(ctx, source, version)
	}

	out, err := e.run(ctx, argv, "", execRequest{Source: source, Version: version}, timeout)
	if err != nil {
		return nil, err
	}

	var versions protocol.CheckResponse
	if err := json.Unmarshal(out, &versions); err != nil {
		return nil, fmt.Errorf("check command output is not a version list: %w", err)
	}
	if versions == nil {
		versions = protocol.CheckResponse{}
	}
	return versions, nil
}

func (e *Exec) Fetch(ctx context.Context, dir string, source, version, params map[string]any) (protocol.Result, error) {
	argv, timeout, err := e.command(source, ModeIn)
	if err != nil {
		return protocol.Result{}, err
	}
	if argv == nil {
		return e.Default.Fetch(ctx, dir, source, version, params)
	}

	out, err := e.run(ctx, append(argv, dir), dir, execRequest{Source: source, Version: version, Params: params}, timeout)
	if err != nil {
		return protocol.Result{}, err
	}
	return decodeResult(out, ModeIn)
}

func (e *Exec) Update(ctx context.Context, dir string, source, params map[string]any) (protocol.Result, error) {
	argv, timeout, err := e.command(source, ModeOut)
	if err != nil {
		return protocol.Result{}, err
	}
	if argv == nil {
		return e.Default.Update(ctx, dir, source, params)
	}

	out, err := e.run(ctx, append(argv, dir), dir, execRequest{Source: source, Params: params}, timeout)
	if err != nil {
		return protocol.Result{}, err
	}
	return decodeResult(out, ModeOut)
}

func (e *Exec) run(ctx context.Context, argv []string, dir string, req execRequest, timeout time.Duration) ([]byte, error) {
	input, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode command request: %w", err)
	}

	runner := *e.Runner
	runner.Dir = dir
	// Exit status is judged below, with stderr attached to the error.
	runner.FailOnNonZero = false

	res, err := runner.Run(ctx, argv, input, timeout)
	if err != nil {
		return nil, err
	}
	if res.Stderr != "" {
		e.logger().Info("command stderr", "argv", argv, "stderr", protocol.Truncate(res.Stderr, 4096))
	}
	if res.TimedOut() {
		return nil, fmt.Errorf("command %q timed out after %v", argv[0], timeout)
	}
	if res.ExitCode != 0 {
		return nil, fmt.Errorf("command %q exited with %d: %s", argv[0], res.ExitCode, protocol.Truncate(res.Stderr, 512))
	}
	return bytes.TrimSpace([]byte(res.Stdout)), nil
}

// command reads source.exec.commands.<mode>. A nil argv means the mode has no
// command; source.exec.timeout is only read when it has one.
func (e *Exec) command(source map[string]any, mode Mode) ([]string, time.Duration, error) {
	settings, ok := source[SourceKey].(map[string]any)
	if !ok {
		return nil, 0, nil
	}
	commands, ok := settings["commands"].(map[string]any)
	if !ok {
		return nil, 0, nil
	}
	raw, ok := commands[string(mode)]
	if !ok || raw == nil {
		return nil, 0, nil
	}

	list, ok := raw.([]any)
	if !ok || len(list) == 0 {
		return nil, 0, fmt.Errorf("source.exec.commands.%s must be a non-empty list of strings", mode)
	}
	argv := make([]string, 0, len(list))
	for _, item := range list {
		s, ok := item.(string)
		if !ok {
			return nil, 0, fmt.Errorf("source.exec.commands.%s must be a non-empty list of strings", mode)
		}
		argv = append(argv, s)
	}

	timeout := e.Timeout
	if raw, ok := settings["timeout"]; ok && raw != nil {
		s, isString := raw.(string)
		if !isString {
			return nil, 0, fmt.Errorf("source.exec.timeout must be a duration string, got %T", raw)
		}
		d, err := time.ParseDuration(s)
		if err != nil {
			return nil, 0, fmt.Errorf("invalid source.exec.timeout: %w", err)
		}
		timeout = d
	}
	return argv, timeout, nil
}

func decodeResult(out []byte, mode Mode) (protocol.Result, error) {
	var res protocol.Result
	if err := json.Unmarshal(out, &res); err != nil {
		return protocol.Result{}, fmt.Errorf("%s command output is not a result object: %w", mode, err)
	}
	if len(res.Version) == 0 {
		return protocol.Result{}, fmt.Errorf("%s command returned no version", mode)
	}
	if res.Metadata == nil {
		res.Metadata = protocol.Metadata{}
	}
	return res, nil
}

func (e *Exec) logger() *slog.Logger {
	if e.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return e.Logger
}
