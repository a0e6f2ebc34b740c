package state

import (
	"fmt"

	"github.com/Milix-M/DeepReSearch/pkg/schema"
)

// Bounds for the numeric research parameters and insight confidence.
const (
	ParameterMin = 1
	ParameterMax = 5

	ConfidenceMin = 1
	ConfidenceMax = 10
)

// ResearchParameters are the numeric knobs derived from the user query.
// Both counters must stay in [ParameterMin, ParameterMax]; out-of-range
// values fail construction rather than being clamped.
type ResearchParameters struct {
	SearchQueriesPerSection int    `json:"search_queries_per_section"`
	SearchIterations        int    `json:"search_iterations"`
	Reasoning               string `json:"reasoning"`
}

// Validate enforces the parameter ranges.
func (p *ResearchParameters) Validate() error {
	var result schema.ValidationResult
	checkRange(&result, "search_queries_per_section", p.SearchQueriesPerSection, ParameterMin, ParameterMax)
	checkRange(&result, "search_iterations", p.SearchIterations, ParameterMin, ParameterMax)
	return result.ToError()
}

// NewResearchParameters constructs validated parameters.
func NewResearchParameters(queriesPerSection, iterations int, reasoning string) (*ResearchParameters, error) {
	p := &ResearchParameters{
		SearchQueriesPerSection: queriesPerSection,
		SearchIterations:        iterations,
		Reasoning:               reasoning,
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// PlanSection is one section of the research plan.
type PlanSection struct {
	Title        string   `json:"title"`
	Focus        string   `json:"focus"`
	KeyQuestions []string `json:"key_questions"`
}

// ReportStructure frames the final report around the researched sections.
type ReportStructure struct {
	Introduction string `json:"introduction"`
	Conclusion   string `json:"conclusion"`
}

// ResearchPlan is the multi-section plan produced by the planning step.
type ResearchPlan struct {
	Purpose   string          `json:"purpose"`
	Sections  []PlanSection   `json:"sections"`
	Structure ReportStructure `json:"structure"`
}

// ResearchPlanDocument wraps the plan with the planner's meta analysis.
// This is the value a human edit may replace; any replacement re-enters
// through CanonicalizePlan and is never trusted as-is.
type ResearchPlanDocument struct {
	ResearchPlan ResearchPlan `json:"research_plan"`
	MetaAnalysis string       `json:"meta_analysis"`
}

// Validate enforces the structural soundness of the plan.
func (d *ResearchPlanDocument) Validate() error {
	var result schema.ValidationResult
	if d.ResearchPlan.Purpose == "" {
		result.AddError("research_plan.purpose", "required", "purpose must not be empty")
	}
	if len(d.ResearchPlan.Sections) == 0 {
		result.AddError("research_plan.sections", "required", "plan must contain at least one section")
	}
	for i, section := range d.ResearchPlan.Sections {
		if section.Title == "" {
			result.AddError(
				fmt.Sprintf("research_plan.sections[%d].title", i),
				"required", "section title must not be empty")
		}
	}
	return result.ToError()
}

// KeyInsight is one evidence-backed finding with a confidence score.
type KeyInsight struct {
	Insight          string `json:"insight"`
	Confidence       int    `json:"confidence"`
	SourceIndication string `json:"source_indication"`
}

// ImprovedQuery is a follow-up query suggestion with its rationale.
type ImprovedQuery struct {
	Query     string `json:"query"`
	Rationale string `json:"rationale"`
}

// Analysis is the reflection over one round of search results.
type Analysis struct {
	KeyInsights     []KeyInsight    `json:"key_insights"`
	InformationGaps []string        `json:"information_gaps"`
	Contradictions  []string        `json:"contradictions"`
	ImprovedQueries []ImprovedQuery `json:"improved_queries"`
	Summary         string          `json:"summary"`
}

// Validate enforces the confidence range on every insight.
func (a *Analysis) Validate() error {
	var result schema.ValidationResult
	for i, insight := range a.KeyInsights {
		checkRange(&result,
			fmt.Sprintf("key_insights[%d].confidence", i),
			insight.Confidence, ConfidenceMin, ConfidenceMax)
	}
	return result.ToError()
}

func checkRange(result *schema.ValidationResult, path string, value, min, max int) {
	if value < min || value > max {
		result.AddError(path, "out_of_range",
			fmt.Sprintf("%s must be in [%d,%d], got %d", path, min, max, value))
	}
}
