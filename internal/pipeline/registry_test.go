package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/assessd/internal/round"
)

func TestSequenceFor(t *testing.T) {
	tests := []struct {
		pipeline Type
		want     []round.Kind
	}{
		{TypeObjective, []round.Kind{round.KindCoding, round.KindLiveCoding, round.KindSystemDesign}},
		{TypeHybrid, []round.Kind{round.KindAptitude, round.KindCoreCompetency, round.KindTechnicalInterview, round.KindHRInterview}},
		{TypeAnalytical, []round.Kind{round.KindQuantitative, round.KindSQL, round.KindCaseStudy, round.KindDomainInterview}},
	}
	for _, tt := range tests {
		t.Run(string(tt.pipeline), func(t *testing.T) {
			seq, err := SequenceFor(tt.pipeline)
			require.NoError(t, err)
			assert.Equal(t, tt.want, seq)
		})
	}
}

func TestSequenceForUnknown(t *testing.T) {
	_, err := SequenceFor(Type("mystery-pipeline"))
	assert.Error(t, err)
}

func TestSequenceForReturnsCopy(t *testing.T) {
	seq, err := SequenceFor(TypeObjective)
	require.NoError(t, err)
	seq[0] = round.KindSQL

	again, err := SequenceFor(TypeObjective)
	require.NoError(t, err)
	assert.Equal(t, round.KindCoding, again[0])
}

func TestParseType(t *testing.T) {
	p, err := ParseType("hybrid-pipeline")
	require.NoError(t, err)
	assert.Equal(t, TypeHybrid, p)

	_, err = ParseType("nope")
	assert.Error(t, err)
}

func TestMetadataCoversEveryKindInEveryPipeline(t *testing.T) {
	for _, p := range Types() {
		seq, err := SequenceFor(p)
		require.NoError(t, err)
		for _, k := range seq {
			md, err := MetadataFor(k)
			require.NoError(t, err)
			assert.NotEmpty(t, md.Title)
			assert.NotEmpty(t, md.Brief)
		}
	}
}
