// Package pipeline declares the fixed pipeline shapes: which round kinds
// each pipeline type runs, in what order, and human-readable metadata for
// each kind. Pure data, no remote calls, no gating logic.
package pipeline

import (
	"fmt"

	"github.com/fyrsmithlabs/assessd/internal/round"
)

// Type identifies a pipeline shape, selected by employer type.
type Type string

const (
	// TypeObjective runs hands-on technical rounds (product employers).
	TypeObjective Type = "objective-pipeline"
	// TypeHybrid mixes tests and interviews (service employers).
	TypeHybrid Type = "hybrid-pipeline"
	// TypeAnalytical runs data-focused rounds (analyst employers).
	TypeAnalytical Type = "analytical-pipeline"
)

func (t Type) String() string { return string(t) }

// Types lists every known pipeline type.
func Types() []Type {
	return []Type{TypeObjective, TypeHybrid, TypeAnalytical}
}

// ParseType validates a pipeline-type string.
func ParseType(s string) (Type, error) {
	for _, t := range Types() {
		if string(t) == s {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown pipeline type %q", s)
}

var sequences = map[Type][]round.Kind{
	TypeObjective: {
		round.KindCoding,
		round.KindLiveCoding,
		round.KindSystemDesign,
	},
	TypeHybrid: {
		round.KindAptitude,
		round.KindCoreCompetency,
		round.KindTechnicalInterview,
		round.KindHRInterview,
	},
	TypeAnalytical: {
		round.KindQuantitative,
		round.KindSQL,
		round.KindCaseStudy,
		round.KindDomainInterview,
	},
}

// SequenceFor returns the ordered round kinds for a pipeline type. The
// returned slice is a copy.
func SequenceFor(t Type) ([]round.Kind, error) {
	seq, ok := sequences[t]
	if !ok {
		return nil, fmt.Errorf("unknown pipeline type %q", t)
	}
	out := make([]round.Kind, len(seq))
	copy(out, seq)
	return out, nil
}

// Metadata carries display information for a round kind.
type Metadata struct {
	Kind  round.Kind `json:"kind"`
	Title string     `json:"title"`
	Brief string     `json:"brief"`
}

var metadata = map[round.Kind]Metadata{
	round.KindCoding: {
		Kind: round.KindCoding, Title: "Coding Challenge",
		Brief: "Timed programming problems judged against hidden test cases.",
	},
	round.KindLiveCoding: {
		Kind: round.KindLiveCoding, Title: "Live Coding",
		Brief: "Pair-programming session with an interviewer.",
	},
	round.KindSystemDesign: {
		Kind: round.KindSystemDesign, Title: "System Design",
		Brief: "Architecture whiteboard with components and data flows.",
	},
	round.KindAptitude: {
		Kind: round.KindAptitude, Title: "Aptitude Test",
		Brief: "Timed multiple-choice reasoning questions.",
	},
	round.KindCoreCompetency: {
		Kind: round.KindCoreCompetency, Title: "Core Competency Test",
		Brief: "Role-specific knowledge assessment.",
	},
	round.KindTechnicalInterview: {
		Kind: round.KindTechnicalInterview, Title: "Technical Interview",
		Brief: "Conversational deep-dive with a technical interviewer.",
	},
	round.KindHRInterview: {
		Kind: round.KindHRInterview, Title: "HR Interview",
		Brief: "Behavioral and situational questions.",
	},
	round.KindQuantitative: {
		Kind: round.KindQuantitative, Title: "Quantitative Test",
		Brief: "Timed numerical and statistical reasoning.",
	},
	round.KindSQL: {
		Kind: round.KindSQL, Title: "SQL Test",
		Brief: "Queries written against a provided schema.",
	},
	round.KindCaseStudy: {
		Kind: round.KindCaseStudy, Title: "Case Study",
		Brief: "Written analysis of a business scenario.",
	},
	round.KindDomainInterview: {
		Kind: round.KindDomainInterview, Title: "Domain Interview",
		Brief: "Conversational assessment of domain expertise.",
	},
}

// MetadataFor returns display metadata for a round kind.
func MetadataFor(k round.Kind) (Metadata, error) {
	md, ok := metadata[k]
	if !ok {
		return Metadata{}, fmt.Errorf("no metadata for round kind %q", k)
	}
	return md, nil
}
