// Package dispatch runs one resource invocation end to end.
//
// An invocation reads the request envelope from stdin, routes it to the check, in
// or out operation of a resource.Resource, and writes the JSON response to stdout.
//
// Invocation states:
//   - Start → Parsing → ParseFailed (terminal) | Validated
//     (malformed input and unknown modes both end in ParseFailed)
//   - Validated → Dispatching → OperationFailed (terminal) | Completed (terminal)
//
// Error handling:
//   - Malformed stdin → ErrMalformedInput, nothing on stdout
//   - in/out without a workspace → ErrWorkspaceRequired, checked before the operation runs
//   - out with a workspace that cannot be entered → ErrWorkspaceUnavailable
//   - Unknown mode → ErrInvalidOperation
//   - Operation error → logged once at ERROR, returned wrapped in ErrOperationFailure
//
// On failure the message goes to stderr prefixed with "ERROR: " and the exit code
// comes from protocol.ExitCode. Stdout is written exactly once, and only on success.
// Nothing is retried.
package dispatch
