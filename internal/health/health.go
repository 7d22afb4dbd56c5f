package health

import (
	"strings"

	"reportflow/internal/models"
)

// Completeness is the breakdown of a report's pre-submission readiness.
// It is a local heuristic, separate from the AI gate: cheap enough to show
// on every edit, and a submit-time warning when the total is low.
type Completeness struct {
	Total     int `json:"total"`     // 0-100
	Substance int `json:"substance"` // word count
	Structure int `json:"structure"` // recognizable sections
	Planning  int `json:"planning"`  // mentions next steps / plans
	Metadata  int `json:"metadata"`  // title + period label present
}

// Scorer computes report completeness scores.
type Scorer struct{}

// NewScorer creates a completeness scorer.
func NewScorer() *Scorer {
	return &Scorer{}
}

// sectionMarkers are phrases a structured weekly report tends to contain.
var sectionMarkers = []string{
	"done", "completed", "progress", "blocker", "issue", "risk", "next week", "plan",
}

// planMarkers indicate the report looks forward, not just back.
var planMarkers = []string{"next week", "plan", "upcoming", "will ", "todo", "to do"}

// Score rates a report's completeness on a 0-100 scale.
// Weights: substance 40, structure 25, planning 20, metadata 15.
func (s *Scorer) Score(r *models.Report) Completeness {
	var c Completeness
	content := strings.ToLower(r.Content)

	words := len(strings.Fields(content))
	switch {
	case words >= 150:
		c.Substance = 40
	case words >= 50:
		c.Substance = 25
	case words > 0:
		c.Substance = 10
	}

	found := 0
	for _, marker := range sectionMarkers {
		if strings.Contains(content, marker) {
			found++
		}
	}
	switch {
	case found >= 4:
		c.Structure = 25
	case found >= 2:
		c.Structure = 15
	case found >= 1:
		c.Structure = 5
	}

	for _, marker := range planMarkers {
		if strings.Contains(content, marker) {
			c.Planning = 20
			break
		}
	}

	if r.Title != "" {
		c.Metadata += 8
	}
	if r.PeriodLabel != "" {
		c.Metadata += 7
	}

	c.Total = c.Substance + c.Structure + c.Planning + c.Metadata
	return c
}
