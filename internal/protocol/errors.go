package protocol

import "errors"

var (
	// ErrOperationFailure wraps errors returned by a resource's check, in or out logic.
	ErrOperationFailure = errors.New("operation failed")

	// ErrMalformedInput reports stdin that is not a JSON object, or a section that is not an object.
	ErrMalformedInput = errors.New("malformed input")

	// ErrWorkspaceRequired reports an in/out invocation without a workspace path.
	ErrWorkspaceRequired = errors.New("workspace folder not provided")

	// ErrWorkspaceUnavailable reports a workspace path that does not exist or cannot be entered.
	ErrWorkspaceUnavailable = errors.New("workspace unavailable")

	// ErrInvalidOperation reports an unknown mode token.
	ErrInvalidOperation = errors.New("invalid command")
)

// Exit codes per error kind. The engine only distinguishes zero from non-zero.
const (
	ExitOK                   = 0
	ExitOperationFailure     = 1
	ExitMalformedInput       = 2
	ExitWorkspaceRequired    = 3
	ExitWorkspaceUnavailable = 4
	ExitInvalidOperation     = 5
)

// ExitCode maps err to a process exit status.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, ErrMalformedInput):
		return ExitMalformedInput
	case errors.Is(err, ErrWorkspaceRequired):
		return ExitWorkspaceRequired
	case errors.Is(err, ErrWorkspaceUnavailable):
		return ExitWorkspaceUnavailable
	case errors.Is(err, ErrInvalidOperation):
		return ExitInvalidOperation
	default:
		return ExitOperationFailure
	}
}
