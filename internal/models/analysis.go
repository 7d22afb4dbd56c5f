package models

import "time"

// RiskLevel is the AI gate's risk classification for a report.
type RiskLevel string

const (
	RiskLow    RiskLevel = "LOW"
	RiskMedium RiskLevel = "MEDIUM"
	RiskHigh   RiskLevel = "HIGH"
	// RiskUnknown marks a degraded result recorded under the fallback policy.
	RiskUnknown RiskLevel = "UNKNOWN"
)

// Valid reports whether r is a storable risk level.
func (r RiskLevel) Valid() bool {
	switch r {
	case RiskLow, RiskMedium, RiskHigh, RiskUnknown:
		return true
	}
	return false
}

// CategoryFeedback is a per-category score and comment from the AI gate.
type CategoryFeedback struct {
	Score    float64 `json:"score"`
	Feedback string  `json:"feedback"`
}

// AnalysisResult is the immutable record of one scoring pass.
// A report accumulates one row per cycle; the report's AIAnalysisRef
// points at the most recent. Rows are never mutated after creation and
// survive deletion of the report (audit retention).
type AnalysisResult struct {
	ID       string
	ReportID string
	Cycle    int

	Score            *float64 // nil for degraded (fallback) results
	IsPass           bool
	RiskLevel        RiskLevel
	Suggestions      []string
	ImprovementAreas []string
	PositiveAspects  []string
	RiskAssessment   string
	DetailedFeedback map[string]CategoryFeedback

	Provider              string
	Model                 string
	PromptTemplateVersion string
	LatencyMS             int64
	FailureClass          string // "", "transport", "timeout", "parse"

	CreatedAt time.Time
}
