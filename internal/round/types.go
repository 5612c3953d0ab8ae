// Package round implements the per-round lifecycle: kinds, working data,
// handlers for each round family, and the state machine that drives a single
// round from start through evaluation or expiry.
package round

import (
	"encoding/json"
	"fmt"
	"time"
)

// Kind identifies a round kind. Values double as config keys and as the
// round-kind segment of gateway URLs.
type Kind string

const (
	KindCoding             Kind = "coding"
	KindLiveCoding         Kind = "live_coding"
	KindSystemDesign       Kind = "system_design"
	KindAptitude           Kind = "aptitude"
	KindCoreCompetency     Kind = "core_competency"
	KindTechnicalInterview Kind = "technical_interview"
	KindHRInterview        Kind = "hr_interview"
	KindQuantitative       Kind = "quantitative"
	KindSQL                Kind = "sql"
	KindCaseStudy          Kind = "case_study"
	KindDomainInterview    Kind = "domain_interview"
)

// Kinds lists every known round kind.
func Kinds() []Kind {
	return []Kind{
		KindCoding, KindLiveCoding, KindSystemDesign,
		KindAptitude, KindCoreCompetency, KindTechnicalInterview, KindHRInterview,
		KindQuantitative, KindSQL, KindCaseStudy, KindDomainInterview,
	}
}

// ParseKind validates a round-kind string.
func ParseKind(s string) (Kind, error) {
	for _, k := range Kinds() {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown round kind %q", s)
}

func (k Kind) String() string { return string(k) }

// State is a round lifecycle state.
type State int

const (
	StateNotStarted State = iota
	StateActive
	StateSubmitting
	StateEvaluated
	StateExpired
)

func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "not_started"
	case StateActive:
		return "active"
	case StateSubmitting:
		return "submitting"
	case StateEvaluated:
		return "evaluated"
	case StateExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// Terminal reports whether the state ends the round.
func (s State) Terminal() bool {
	return s == StateEvaluated || s == StateExpired
}

// Result is the immutable outcome of one round. Never mutated after creation.
type Result struct {
	Kind        Kind            `json:"kind"`
	Score       float64         `json:"score"`
	Passed      bool            `json:"passed"`
	Detail      json.RawMessage `json:"detail,omitempty"`
	CompletedAt time.Time       `json:"completed_at"`

	// Synthetic marks a score-0 result fabricated after an exhausted
	// submit, as opposed to a score the gateway actually issued.
	Synthetic bool `json:"synthetic,omitempty"`
}

// WorkingData is a candidate's accumulated in-round work, kind-tagged so
// callers above the handler layer never inspect payload internals.
type WorkingData struct {
	Kind    Kind            `json:"kind"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// AnswerSheet is the payload for objective-test rounds, keyed by question ID.
type AnswerSheet struct {
	Answers map[string]json.RawMessage `json:"answers"`
}

// CodeBuffer is the payload for code-submission rounds.
type CodeBuffer struct {
	Language string `json:"language,omitempty"`
	Source   string `json:"source"`
}

// TextResponse is the payload for free-text-analysis rounds.
type TextResponse struct {
	Text string `json:"text"`
}

// ChatMessage is one turn of a collaborative-chat round.
type ChatMessage struct {
	Role    string    `json:"role"`
	Content string    `json:"content"`
	SentAt  time.Time `json:"sent_at,omitempty"`
}

// Transcript is the payload for collaborative-chat rounds.
type Transcript struct {
	Messages []ChatMessage `json:"messages"`
}

// DiagramGraph is the payload for structured-diagram rounds.
type DiagramGraph struct {
	Nodes json.RawMessage `json:"nodes,omitempty"`
	Edges json.RawMessage `json:"edges,omitempty"`
}
