// Package gateway is the client for the remote evaluation service that
// issues round material, durations and scores.
package gateway

import (
	"context"
	"encoding/json"
)

// StartRoundResponse is the gateway's answer to a round start call.
// Payload carries questions, the problem statement or the interviewer's
// opening message; it is opaque to the orchestrator and passed through to
// the caller untouched.
type StartRoundResponse struct {
	RoundID         string          `json:"round_id"`
	DurationSeconds int             `json:"duration_seconds"`
	Payload         json.RawMessage `json:"payload,omitempty"`
}

// EvaluationResult is the gateway's verdict on submitted work. Score is
// 0-100; Detail is opaque and forwarded to reporting.
type EvaluationResult struct {
	Score  float64         `json:"score"`
	Detail json.RawMessage `json:"evaluation_detail,omitempty"`
}

// SyncExchange is the gateway's optional reply to a best-effort progress
// sync (e.g. the interviewer's next chat message, a code run result).
type SyncExchange struct {
	Reply json.RawMessage `json:"reply,omitempty"`
}

// Client is the evaluation gateway boundary. All scoring happens behind it;
// the orchestrator never inspects payloads.
type Client interface {
	// CreateSession registers a session with the gateway.
	CreateSession(ctx context.Context, candidateID, pipelineType string) (string, error)

	// StartRound begins a round and returns its ID, server-issued duration
	// and opaque material. Failures wrap ErrStartFailed.
	StartRound(ctx context.Context, sessionID, roundKind string) (*StartRoundResponse, error)

	// SubmitRound submits accumulated working data for scoring. The gateway
	// must tolerate partial or empty working data. Failures wrap
	// ErrSubmitFailed after the bounded retry policy is exhausted.
	SubmitRound(ctx context.Context, roundID string, workingData json.RawMessage) (*EvaluationResult, error)

	// CompleteRound finalizes round kinds that iterate through checkpoint
	// submits (conversational and diagram rounds).
	CompleteRound(ctx context.Context, roundID string) (*EvaluationResult, error)

	// SyncProgress pushes partial working data. Best-effort: rate limited,
	// never retried, and errors are reported but must not block progression.
	SyncProgress(ctx context.Context, roundID string, workingData json.RawMessage) (*SyncExchange, error)

	// RecordSessionOutcome persists the session's terminal status and overall
	// score. Write-only; callers retry asynchronously on failure.
	RecordSessionOutcome(ctx context.Context, sessionID, status string, overallScore float64) error
}
