// Package process runs external commands on behalf of resource implementations.
//
// A Runner executes one command per call, feeds it the given input, and captures
// stdout and stderr in memory. Calls block until the command exits.
//
// Timeout handling:
//   - A zero timeout means no limit
//   - When the timeout expires, the process group receives SIGTERM, and SIGKILL
//     once the grace period (default: none) has passed
//   - Output buffered up to termination is still collected
//   - The result is tagged TimedOut and logged as a warning; no error is returned
//
// Exit status:
//   - Non-zero exit codes are logged as warnings and returned in the Result
//   - Runner.FailOnNonZero turns them into ErrNonZeroExit for callers that want it
//   - Output that is not valid UTF-8 fails the call with ErrEncoding
package process
