// Package session owns the assessment session lifecycle: round sequencing,
// gating on pass thresholds, retries, progress aggregation and outcome
// recording. One logical thread of control drives each session; at most one
// round is ever active per session.
package session

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/fyrsmithlabs/assessd/internal/pipeline"
	"github.com/fyrsmithlabs/assessd/internal/round"
)

var (
	// ErrSessionNotFound means no session exists with the given ID.
	ErrSessionNotFound = errors.New("session: not found")

	// ErrRoundNotFound means no active or recent round matches the ID.
	ErrRoundNotFound = errors.New("session: round not found")

	// ErrNoActiveRound means the operation needs an active round and the
	// session has none.
	ErrNoActiveRound = errors.New("session: no active round")

	// ErrSessionTerminal means the session already completed or was
	// abandoned.
	ErrSessionTerminal = errors.New("session: already terminal")

	// ErrRetryNotAllowed means the failed round's policy forbids retry or
	// the attempt limit is exhausted.
	ErrRetryNotAllowed = errors.New("session: retry not allowed")
)

// State is a session lifecycle state.
type State int

const (
	StateCreated State = iota
	StateInProgress
	StateCompleted
	StateAbandoned
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateInProgress:
		return "in_progress"
	case StateCompleted:
		return "completed"
	case StateAbandoned:
		return "abandoned"
	default:
		return "unknown"
	}
}

// Terminal reports whether the state ends the session.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateAbandoned
}

// Outcome status strings recorded against the persistence collaborator.
const (
	OutcomeCompleted     = "completed"
	OutcomeDidNotAdvance = "did_not_advance"
	OutcomeAbandoned     = "abandoned"
)

// session is the mutable per-session record. Guarded by its own mutex;
// remote calls never happen while it is held.
type session struct {
	mu sync.Mutex

	id           string
	candidateID  string
	pipelineType pipeline.Type
	sequence     []round.Kind
	index        int
	results      []round.Result
	state        State
	// didNotAdvance marks a session completed early by a failed
	// non-retryable round.
	didNotAdvance bool
	current       *round.Machine
	createdAt     time.Time
}

// resultFor returns the recorded result for a kind, if any.
func (s *session) resultFor(kind round.Kind) *round.Result {
	for i := range s.results {
		if s.results[i].Kind == kind {
			return &s.results[i]
		}
	}
	return nil
}

// upsertResult records a result, replacing an earlier attempt's entry for
// the same kind while keeping completion order for first-time entries.
func (s *session) upsertResult(r round.Result) {
	for i := range s.results {
		if s.results[i].Kind == r.Kind {
			s.results[i] = r
			return
		}
	}
	s.results = append(s.results, r)
}

// RoundStatus is one round's view in a snapshot.
type RoundStatus struct {
	Kind    round.Kind `json:"kind"`
	Title   string     `json:"title"`
	State   string     `json:"state"`
	Score   *float64   `json:"score,omitempty"`
	Passed  *bool      `json:"passed,omitempty"`
	Attempt int        `json:"attempt,omitempty"`
}

// Snapshot is an immutable view of a session for callers.
type Snapshot struct {
	SessionID         string        `json:"session_id"`
	CandidateID       string        `json:"candidate_id"`
	PipelineType      pipeline.Type `json:"pipeline_type"`
	State             string        `json:"state"`
	CurrentIndex      int           `json:"current_index"`
	Rounds            []RoundStatus `json:"rounds"`
	CompletionPercent float64       `json:"completion_percent"`
	OverallScore      float64       `json:"overall_score"`
	DidNotAdvance     bool          `json:"did_not_advance,omitempty"`
	RemainingSeconds  int64         `json:"remaining_seconds"`
	CreatedAt         time.Time     `json:"created_at"`
}

// RoundInfo describes a just-started round for the caller.
type RoundInfo struct {
	RoundID          string          `json:"round_id"`
	Kind             round.Kind      `json:"kind"`
	Title            string          `json:"title"`
	Attempt          int             `json:"attempt"`
	RemainingSeconds int64           `json:"remaining_seconds"`
	Payload          json.RawMessage `json:"payload,omitempty"`
}
