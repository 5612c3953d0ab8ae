package gateway

import "errors"

// Error taxonomy for gateway calls. Callers branch on these with errors.Is;
// the wrapped cause carries transport detail.
var (
	// ErrStartFailed indicates the remote round start errored or timed out.
	// Recoverable: the round stays NotStarted and may be started again.
	ErrStartFailed = errors.New("gateway: round start failed")

	// ErrSubmitFailed indicates the remote submit errored after exhausting
	// the bounded retry policy.
	ErrSubmitFailed = errors.New("gateway: round submit failed")

	// ErrInvariantViolation indicates the remote returned a malformed or
	// incomplete response. Treated as a submit failure: fail closed, never
	// guess a score.
	ErrInvariantViolation = errors.New("gateway: malformed response")
)
