package hitl

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Milix-M/DeepReSearch/pkg/schema"
)

func TestDefault_MatchesPlanJudgementPause(t *testing.T) {
	p := Default()

	tests := []struct {
		name  string
		pause schema.PauseDescriptor
		want  bool
	}{
		{
			name:  "prompt wording",
			pause: schema.PauseDescriptor{ID: "anything", Prompt: "調査計画を編集しますか？ (y/n)"},
			want:  true,
		},
		{
			name:  "id suffix",
			pause: schema.PauseDescriptor{ID: "t1_research_plan_human_judge", Prompt: nil},
			want:  true,
		},
		{
			name:  "unrelated pause",
			pause: schema.PauseDescriptor{ID: "t1_other_step", Prompt: "処理を続行します"},
			want:  false,
		},
		{
			name:  "non-string prompt falls back to id",
			pause: schema.PauseDescriptor{ID: "t1_research_plan_human_judge", Prompt: map[string]any{"q": 1}},
			want:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, p.Matches(tt.pause))
		})
	}
}

func TestNew_EmptySpecGivesDefault(t *testing.T) {
	p, err := New("")
	require.NoError(t, err)
	assert.True(t, p.Matches(schema.PauseDescriptor{ID: "x", Prompt: "編集しますか"}))
}

func TestNew_PerEngineSpecs(t *testing.T) {
	tests := []struct {
		name string
		spec string
	}{
		{"expr", `expr:id contains "judge"`},
		{"cel", `cel:id.contains("judge")`},
		{"jq", `jq:.id | contains("judge")`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := New(tt.spec)
			require.NoError(t, err)
			assert.True(t, p.Matches(schema.PauseDescriptor{ID: "t1_human_judge"}))
			assert.False(t, p.Matches(schema.PauseDescriptor{ID: "t1_other"}))
		})
	}
}

func TestNew_RejectsMalformedSpecs(t *testing.T) {
	tests := []struct {
		name string
		spec string
	}{
		{"no separator", "expr"},
		{"empty expression", "expr:   "},
		{"unknown engine", `python:True`},
		{"bad expression", `expr:id contains`},
		{"bad jq", `jq:.[unclosed`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.spec)
			require.Error(t, err)
			assert.Equal(t, schema.ErrCodeValidation, schema.ErrorCode(err))
		})
	}
}
