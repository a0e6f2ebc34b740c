package state

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Milix-M/DeepReSearch/pkg/schema"
)

// --- Parameter range invariant ---

func TestResearchParameters_RangeValidation(t *testing.T) {
	tests := []struct {
		name       string
		queries    int
		iterations int
		wantErr    bool
	}{
		{"both at lower boundary", 1, 1, false},
		{"both at upper boundary", 5, 5, false},
		{"mid range", 3, 2, false},
		{"queries below range", 0, 3, true},
		{"queries above range", 6, 3, true},
		{"iterations below range", 3, 0, true},
		{"iterations above range", 3, 6, true},
		{"both out of range", -1, 99, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := NewResearchParameters(tt.queries, tt.iterations, "because")
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, schema.ErrCodeValidation, schema.ErrorCode(err))
				assert.Nil(t, p)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.queries, p.SearchQueriesPerSection)
			assert.Equal(t, tt.iterations, p.SearchIterations)
		})
	}
}

func TestResearchParameters_ValidationNeverClamps(t *testing.T) {
	p := &ResearchParameters{SearchQueriesPerSection: 9, SearchIterations: 2}
	err := p.Validate()
	require.Error(t, err)
	// The value is reported, not silently coerced into range.
	assert.Equal(t, 9, p.SearchQueriesPerSection)

	agentErr, ok := err.(*schema.AgentError)
	require.True(t, ok)
	assert.Contains(t, agentErr.Message, "search_queries_per_section")
}

// --- Plan structural validation ---

func TestResearchPlanDocument_Validate(t *testing.T) {
	valid := ResearchPlanDocument{
		ResearchPlan: ResearchPlan{
			Purpose: "map the field",
			Sections: []PlanSection{
				{Title: "History", Focus: "origins", KeyQuestions: []string{"when?"}},
			},
			Structure: ReportStructure{Introduction: "intro", Conclusion: "outro"},
		},
		MetaAnalysis: "solid coverage",
	}
	require.NoError(t, valid.Validate())

	t.Run("missing purpose", func(t *testing.T) {
		doc := valid
		doc.ResearchPlan.Purpose = ""
		err := doc.Validate()
		require.Error(t, err)
		assert.Equal(t, schema.ErrCodeValidation, schema.ErrorCode(err))
	})

	t.Run("no sections", func(t *testing.T) {
		doc := valid
		doc.ResearchPlan.Sections = nil
		require.Error(t, doc.Validate())
	})

	t.Run("untitled section", func(t *testing.T) {
		doc := valid
		doc.ResearchPlan.Sections = []PlanSection{{Focus: "?"}}
		require.Error(t, doc.Validate())
	})
}

// --- Analysis confidence range ---

func TestAnalysis_ConfidenceValidation(t *testing.T) {
	tests := []struct {
		name       string
		confidence int
		wantErr    bool
	}{
		{"lower boundary", 1, false},
		{"upper boundary", 10, false},
		{"below range", 0, true},
		{"above range", 11, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := &Analysis{KeyInsights: []KeyInsight{
				{Insight: "something", Confidence: tt.confidence, SourceIndication: "result 1"},
			}}
			err := a.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, schema.ErrCodeValidation, schema.ErrorCode(err))
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestAnalysis_EmptyInsightsValid(t *testing.T) {
	a := &Analysis{Summary: "nothing found yet"}
	require.NoError(t, a.Validate())
}
