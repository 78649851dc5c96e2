package dispatch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/mattjoyce/concourse-resource/internal/log"
	"github.com/mattjoyce/concourse-resource/internal/protocol"
	"github.com/mattjoyce/concourse-resource/internal/resource"
	"github.com/mattjoyce/concourse-resource/internal/workspace"
)

// maxLoggedInput caps the request body attached to error logs.
const maxLoggedInput = 2048

// State is a step of a single invocation.
type State string

const (
	StateStart           State = "start"
	StateParsing         State = "parsing"
	StateParseFailed     State = "parse_failed"
	StateValidated       State = "validated"
	StateDispatching     State = "dispatching"
	StateOperationFailed State = "operation_failed"
	StateCompleted       State = "completed"
)

// Invocation describes one process run.
type Invocation struct {
	Mode      string
	Workspace string
	Stdin     io.Reader
	Stdout    io.Writer
	Stderr    io.Writer
}

// Report is the outcome of Run.
type Report struct {
	State    State
	ExitCode int
	Err      error
}

// Dispatcher routes requests to a resource.
type Dispatcher struct {
	resource resource.Resource
	logger   *slog.Logger
	level    *slog.LevelVar
	newID    func() string
}

// New creates a Dispatcher. level may be nil; when set it is lowered to DEBUG for
// requests whose source has debug enabled.
func New(res resource.Resource, logger *slog.Logger, level *slog.LevelVar) *Dispatcher {
	if logger == nil {
		logger = log.Discard()
	}
	return &Dispatcher{
		resource: res,
		logger:   log.WithComponent(logger, "dispatch"),
		level:    level,
		newID:    uuid.NewString,
	}
}

// Run performs a full invocation: read stdin, dispatch, write stdout.
func (d *Dispatcher) Run(ctx context.Context, inv Invocation) Report {
	logger := log.WithInvocation(d.logger, d.newID()).With("command", inv.Mode)
	report := Report{State: StateStart}

	// logged marks errors that dispatch already recorded at ERROR; the input is
	// then attached at DEBUG only.
	fail := func(state State, err error, input []byte, logged bool) Report {
		level := slog.LevelError
		if logged {
			level = slog.LevelDebug
		}
		logger.Log(ctx, level, "invocation failed",
			"state", state,
			"error", err,
			"input", protocol.Truncate(string(input), maxLoggedInput))
		if inv.Stderr != nil {
			fmt.Fprintf(inv.Stderr, "ERROR: %s\n", err)
		}
		return Report{State: state, ExitCode: protocol.ExitCode(err), Err: err}
	}

	report.State = StateParsing
	data, err := io.ReadAll(inv.Stdin)
	if err != nil {
		return fail(StateParseFailed, fmt.Errorf("%w: failed to read stdin: %v", protocol.ErrMalformedInput, err), nil, false)
	}
	req, err := protocol.ParseRequest(data)
	if err != nil {
		return fail(StateParseFailed, err, data, false)
	}
	if _, err := resource.ParseMode(inv.Mode); err != nil {
		return fail(StateParseFailed, err, data, false)
	}
	report.State = StateValidated
	logger.Debug("request parsed", "state", report.State)

	report.State = StateDispatching
	resp, err := d.dispatch(ctx, logger, inv.Mode, req, inv.Workspace)
	if err != nil {
		return fail(StateOperationFailed, err, data, true)
	}

	out, err := protocol.MarshalResponse(resp)
	if err != nil {
		return fail(StateOperationFailed, fmt.Errorf("%w: %w", protocol.ErrOperationFailure, err), data, false)
	}
	logger.Debug("response", "body", string(out))
	if _, err := inv.Stdout.Write(out); err != nil {
		return fail(StateOperationFailed, fmt.Errorf("%w: write response: %w", protocol.ErrOperationFailure, err), data, false)
	}

	report.State = StateCompleted
	logger.Info("invocation completed")
	return report
}

// Dispatch validates mode and workspace and invokes the matching operation.
// The returned value is a protocol.CheckResponse for check and a protocol.Result otherwise.
func (d *Dispatcher) Dispatch(ctx context.Context, mode string, req *protocol.Request, workspacePath string) (any, error) {
	return d.dispatch(ctx, d.logger.With("command", mode), mode, req, workspacePath)
}

func (d *Dispatcher) dispatch(ctx context.Context, logger *slog.Logger, mode string, req *protocol.Request, workspacePath string) (any, error) {
	if req.Debug() && d.level != nil {
		d.level.Set(slog.LevelDebug)
	}
	logger.Debug("dispatching",
		"source", req.Source,
		"params", req.Params,
		"version", req.Version,
		"folder", workspacePath)

	m, err := resource.ParseMode(mode)
	if err != nil {
		logger.Error("invalid command", "error", err)
		return nil, err
	}

	if m == resource.ModeCheck {
		versions, err := d.resource.Check(ctx, req.Source, req.Version)
		if err != nil {
			return nil, d.operationFailed(logger, m, err)
		}
		if versions == nil {
			versions = protocol.CheckResponse{}
		}
		return versions, nil
	}

	if strings.TrimSpace(workspacePath) == "" {
		logger.Error("workspace folder not provided")
		return nil, protocol.ErrWorkspaceRequired
	}

	var res protocol.Result
	switch m {
	case resource.ModeIn:
		ws, err := workspace.Prepare(workspacePath)
		if err != nil {
			logger.Error("workspace unavailable", "error", err)
			return nil, err
		}
		res, err = d.resource.Fetch(ctx, ws.Dir, req.Source, req.Version, req.Params)
		if err != nil {
			return nil, d.operationFailed(logger, m, err)
		}
	case resource.ModeOut:
		ws, err := workspace.Enter(workspacePath)
		if err != nil {
			logger.Error("workspace unavailable", "error", err)
			return nil, err
		}
		res, err = d.resource.Update(ctx, ws.Dir, req.Source, req.Params)
		if err != nil {
			return nil, d.operationFailed(logger, m, err)
		}
	}

	if res.Version == nil {
		res.Version = protocol.Version{}
	}
	if res.Metadata == nil {
		res.Metadata = protocol.Metadata{}
	}
	return res, nil
}

func (d *Dispatcher) operationFailed(logger *slog.Logger, mode resource.Mode, err error) error {
	logger.Error(fmt.Sprintf("exception running '%s'", mode), "error", err)
	return fmt.Errorf("%w: running '%s': %w", protocol.ErrOperationFailure, mode, err)
}
