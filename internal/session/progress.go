package session

import "github.com/fyrsmithlabs/assessd/internal/round"

// completionPercent is the share of rounds with any recorded result.
func completionPercent(results []round.Result, sequenceLen int) float64 {
	if sequenceLen == 0 {
		return 0
	}
	return 100 * float64(len(results)) / float64(sequenceLen)
}

// overallScore is the arithmetic mean across recorded results only; rounds
// not yet attempted are excluded, not counted as zero.
func overallScore(results []round.Result) float64 {
	if len(results) == 0 {
		return 0
	}
	var sum float64
	for _, r := range results {
		sum += r.Score
	}
	return sum / float64(len(results))
}

// isPipelineComplete reports whether the pipeline can no longer advance:
// either the last round passed, or a failure-terminal round occurred.
func isPipelineComplete(s *session) bool {
	if s.didNotAdvance {
		return true
	}
	if s.index != len(s.sequence)-1 {
		return false
	}
	last := s.resultFor(s.sequence[s.index])
	return last != nil && last.Passed
}
