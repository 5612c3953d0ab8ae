package session

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/fyrsmithlabs/assessd/internal/pipeline"
	"github.com/fyrsmithlabs/assessd/internal/round"
)

func TestCompletionPercent(t *testing.T) {
	assert.Zero(t, completionPercent(nil, 0))
	assert.Zero(t, completionPercent(nil, 4))
	results := []round.Result{{Kind: round.KindAptitude, Score: 70}}
	assert.Equal(t, 25.0, completionPercent(results, 4))
	results = append(results, round.Result{Kind: round.KindCoreCompetency, Score: 50})
	assert.Equal(t, 50.0, completionPercent(results, 4))
}

func TestOverallScoreExcludesUnattempted(t *testing.T) {
	assert.Zero(t, overallScore(nil))

	// A single scored round out of many is not dragged down by zeros.
	results := []round.Result{{Kind: round.KindCoding, Score: 90}}
	assert.Equal(t, 90.0, overallScore(results))

	results = append(results, round.Result{Kind: round.KindSystemDesign, Score: 70})
	assert.Equal(t, 80.0, overallScore(results))
}

func TestIsPipelineComplete(t *testing.T) {
	seq, _ := pipeline.SequenceFor(pipeline.TypeObjective)

	s := &session{sequence: seq}
	assert.False(t, isPipelineComplete(s))

	s.didNotAdvance = true
	assert.True(t, isPipelineComplete(s))

	s = &session{sequence: seq, index: len(seq) - 1}
	assert.False(t, isPipelineComplete(s))
	s.results = []round.Result{{Kind: seq[len(seq)-1], Score: 80, Passed: true}}
	assert.True(t, isPipelineComplete(s))
}
