package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"reportflow/internal/models"
)

// ScoringRequest is the structured prompt sent to the scoring provider.
type ScoringRequest struct {
	ReportID              string `json:"reportId"`
	OwnerID               string `json:"ownerId"`
	PeriodLabel           string `json:"periodLabel"`
	ContentSummary        string `json:"contentSummary"`
	PromptTemplateVersion string `json:"promptTemplateVersion"`
	Provider              string `json:"provider"`
	Model                 string `json:"model"`
}

// ScoringResponse is a schema-validated scoring result. Instances are only
// produced by ParseScoringResponse, so downstream code never sees
// out-of-range scores or unknown risk levels.
type ScoringResponse struct {
	OverallScore     float64                            `json:"overallScore"`
	IsPass           bool                               `json:"isPass"`
	RiskLevel        models.RiskLevel                   `json:"riskLevel"`
	Suggestions      []string                           `json:"suggestions"`
	ImprovementAreas []string                           `json:"improvementAreas"`
	PositiveAspects  []string                           `json:"positiveAspects"`
	RiskAssessment   string                             `json:"riskAssessment"`
	DetailedFeedback map[string]models.CategoryFeedback `json:"detailedFeedback"`
}

// Gateway sends a scoring request to the external AI provider. It is a black
// box with latency and failure modes; implementations wrap provider errors
// as ErrTransport and must return ParseError (via ParseScoringResponse) for
// malformed output.
type Gateway interface {
	Score(ctx context.Context, req ScoringRequest) (*ScoringResponse, error)
}

// GatewayFunc adapts a function to the Gateway interface (used in tests).
type GatewayFunc func(ctx context.Context, req ScoringRequest) (*ScoringResponse, error)

func (f GatewayFunc) Score(ctx context.Context, req ScoringRequest) (*ScoringResponse, error) {
	return f(ctx, req)
}

// ErrTransport marks a provider/network failure as opposed to a schema one.
var ErrTransport = errors.New("scoring transport failure")

// ParseError marks a response that arrived but violated the required schema.
// Missing fields and out-of-range values are parse failures, not transport
// failures.
type ParseError struct {
	Reason string
}

func (e *ParseError) Error() string {
	return "scoring parse failure: " + e.Reason
}

// rawScoringResponse uses pointers so required-but-absent fields are
// detectable after unmarshal.
type rawScoringResponse struct {
	OverallScore     *float64                           `json:"overallScore"`
	IsPass           *bool                              `json:"isPass"`
	RiskLevel        *string                            `json:"riskLevel"`
	Suggestions      []string                           `json:"suggestions"`
	ImprovementAreas []string                           `json:"improvementAreas"`
	PositiveAspects  []string                           `json:"positiveAspects"`
	RiskAssessment   string                             `json:"riskAssessment"`
	DetailedFeedback map[string]models.CategoryFeedback `json:"detailedFeedback"`
}

// ParseScoringResponse validates raw provider output against the required
// schema and returns a typed response. Any violation yields a *ParseError.
func ParseScoringResponse(data []byte) (*ScoringResponse, error) {
	var raw rawScoringResponse
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, &ParseError{Reason: fmt.Sprintf("invalid JSON: %v", err)}
	}

	if raw.OverallScore == nil {
		return nil, &ParseError{Reason: "missing required field overallScore"}
	}
	if *raw.OverallScore < 0 || *raw.OverallScore > 100 {
		return nil, &ParseError{Reason: fmt.Sprintf("overallScore %v outside [0,100]", *raw.OverallScore)}
	}
	if raw.IsPass == nil {
		return nil, &ParseError{Reason: "missing required field isPass"}
	}
	if raw.RiskLevel == nil {
		return nil, &ParseError{Reason: "missing required field riskLevel"}
	}
	risk := models.RiskLevel(*raw.RiskLevel)
	switch risk {
	case models.RiskLow, models.RiskMedium, models.RiskHigh:
	default:
		return nil, &ParseError{Reason: fmt.Sprintf("riskLevel %q not in {LOW,MEDIUM,HIGH}", *raw.RiskLevel)}
	}

	return &ScoringResponse{
		OverallScore:     *raw.OverallScore,
		IsPass:           *raw.IsPass,
		RiskLevel:        risk,
		Suggestions:      raw.Suggestions,
		ImprovementAreas: raw.ImprovementAreas,
		PositiveAspects:  raw.PositiveAspects,
		RiskAssessment:   raw.RiskAssessment,
		DetailedFeedback: raw.DetailedFeedback,
	}, nil
}
