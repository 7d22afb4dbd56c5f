package analysis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"reportflow/internal/models"
	"reportflow/internal/store"
	"reportflow/internal/workflow"
)

// ErrDuplicateAnalysis means Analyze was invoked a second time for the same
// report cycle. Logged as a bug signal, never retried.
var ErrDuplicateAnalysis = errors.New("duplicate analysis")

// Outcome is the completion notification for one analysis pass.
type Outcome struct {
	Report *models.Report
	Result *models.AnalysisResult
	Err    error
}

// Config selects the provider and bounds the scoring call.
type Config struct {
	Provider              string
	Model                 string
	PromptTemplateVersion string
	Timeout               time.Duration
}

// Orchestrator bridges report submission to the AI quality gate. It holds no
// report state of its own; the store is the single source of truth and all
// status writes go through the state machine.
//
// Exactly one analysis per report cycle is permitted. The fallback policy
// guarantees forward progress: any transport, timeout, or parse failure is
// converted into a degraded AnalysisResult and an AI_REJECTED transition
// with an explanatory reason, never a report wedged in AI_ANALYZING.
type Orchestrator struct {
	store   store.Store
	gateway Gateway
	machine *workflow.Machine
	cfg     Config

	mu       sync.Mutex
	inflight map[string]int // report ID -> cycle being analyzed
}

// NewOrchestrator creates an orchestrator.
func NewOrchestrator(s store.Store, g Gateway, m *workflow.Machine, cfg Config) *Orchestrator {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Orchestrator{
		store:    s,
		gateway:  g,
		machine:  m,
		cfg:      cfg,
		inflight: make(map[string]int),
	}
}

// Analyze starts the scoring pass for a report already in AI_ANALYZING.
// It returns immediately; the scoring call and the resulting transition run
// on a background goroutine. The returned channel receives exactly one
// Outcome and is then closed, so callers can await completion without
// polling. External clients observe progress through the report status.
func (o *Orchestrator) Analyze(ctx context.Context, reportID string) (<-chan Outcome, error) {
	r, err := o.store.GetReport(ctx, reportID)
	if err != nil {
		return nil, err
	}
	if r.Status != models.StatusAIAnalyzing {
		return nil, fmt.Errorf("report %s is %s, analysis for cycle %d already concluded: %w",
			r.ID, r.Status, r.Cycle, ErrDuplicateAnalysis)
	}

	o.mu.Lock()
	if cycle, ok := o.inflight[r.ID]; ok && cycle == r.Cycle {
		o.mu.Unlock()
		slog.Error("duplicate analysis invocation", "report", r.ID, "cycle", r.Cycle)
		return nil, fmt.Errorf("report %s cycle %d already in flight: %w", r.ID, r.Cycle, ErrDuplicateAnalysis)
	}
	o.inflight[r.ID] = r.Cycle
	o.mu.Unlock()

	done := make(chan Outcome, 1)
	go func() {
		defer close(done)
		defer o.finish(r.ID, r.Cycle)
		done <- o.run(context.WithoutCancel(ctx), r)
	}()
	return done, nil
}

// finish clears the in-flight marker for a completed pass. A resubmission can
// register the next cycle before a finished pass's cleanup runs, so only the
// cycle this pass registered is cleared.
func (o *Orchestrator) finish(reportID string, cycle int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if c, ok := o.inflight[reportID]; ok && c == cycle {
		delete(o.inflight, reportID)
	}
}

// run performs one full scoring pass: gateway call, result persistence, and
// the AI-gate transition.
func (o *Orchestrator) run(ctx context.Context, r *models.Report) Outcome {
	req := ScoringRequest{
		ReportID:              r.ID,
		OwnerID:               r.OwnerID,
		PeriodLabel:           r.PeriodLabel,
		ContentSummary:        r.Content,
		PromptTemplateVersion: o.cfg.PromptTemplateVersion,
		Provider:              o.cfg.Provider,
		Model:                 o.cfg.Model,
	}

	callCtx, cancel := context.WithTimeout(ctx, o.cfg.Timeout)
	defer cancel()

	start := time.Now()
	resp, err := o.gateway.Score(callCtx, req)
	latency := time.Since(start)

	result := &models.AnalysisResult{
		ReportID:              r.ID,
		Cycle:                 r.Cycle,
		Provider:              o.cfg.Provider,
		Model:                 o.cfg.Model,
		PromptTemplateVersion: o.cfg.PromptTemplateVersion,
		LatencyMS:             latency.Milliseconds(),
	}

	var event workflow.Event
	var reason string

	if err != nil {
		// Fallback policy: degrade, reject with a reason, keep moving.
		result.RiskLevel = models.RiskUnknown
		result.FailureClass = classifyFailure(err)
		event = workflow.EventAIReject
		reason = fallbackReason(result.FailureClass, err)
		slog.Warn("scoring call failed, applying fallback",
			"report", r.ID, "cycle", r.Cycle, "class", result.FailureClass, "error", err)
	} else {
		score := resp.OverallScore
		result.Score = &score
		result.IsPass = resp.IsPass
		result.RiskLevel = resp.RiskLevel
		result.Suggestions = resp.Suggestions
		result.ImprovementAreas = resp.ImprovementAreas
		result.PositiveAspects = resp.PositiveAspects
		result.RiskAssessment = resp.RiskAssessment
		result.DetailedFeedback = resp.DetailedFeedback

		if resp.IsPass {
			event = workflow.EventAIApprove
		} else {
			event = workflow.EventAIReject
			reason = rejectionReason(resp)
		}
	}

	persistErr := o.store.CreateAnalysisResult(ctx, result)
	if persistErr != nil {
		// Same fallback as a gateway failure: the report must not sit in
		// AI_ANALYZING because the result row could not be written.
		slog.Error("persist analysis result failed", "report", r.ID, "cycle", r.Cycle, "error", persistErr)
		event = workflow.EventAIReject
		reason = "automated review unavailable: analysis record could not be saved; a reviewer may force-submit this report"
	} else {
		r.AIAnalysisRef = result.ID
	}

	updated, err := o.machine.Transition(ctx, r, event, models.Actor{ID: "ai-gate", Role: models.RoleSystem}, reason)
	if err != nil {
		// A resubmission race can invalidate our version; the stored report
		// wins and this pass's transition is abandoned.
		slog.Warn("AI-gate transition failed", "report", r.ID, "event", event, "error", err)
		return Outcome{Report: r, Result: result, Err: err}
	}

	if persistErr != nil {
		return Outcome{Report: updated, Result: result, Err: fmt.Errorf("persist analysis result: %w", persistErr)}
	}

	slog.Info("analysis complete", "report", updated.ID, "status", updated.Status,
		"cycle", updated.Cycle, "latency_ms", result.LatencyMS)
	return Outcome{Report: updated, Result: result}
}

// classifyFailure buckets a gateway error into the failure taxonomy.
func classifyFailure(err error) string {
	var parseErr *ParseError
	switch {
	case errors.As(err, &parseErr):
		return "parse"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "transport"
	}
}

// fallbackReason builds the system-authored rejection reason for a failed
// scoring call, so a reviewer understands why and can force the report
// forward.
func fallbackReason(class string, err error) string {
	switch class {
	case "timeout":
		return "automated review unavailable: scoring call timed out; a reviewer may force-submit this report"
	case "parse":
		return fmt.Sprintf("automated review unavailable: provider returned a malformed result (%v); a reviewer may force-submit this report", err)
	default:
		return fmt.Sprintf("automated review unavailable: scoring call failed (%v); a reviewer may force-submit this report", err)
	}
}

// rejectionReason summarizes a valid failing score into the report's
// rejection reason.
func rejectionReason(resp *ScoringResponse) string {
	var b strings.Builder
	fmt.Fprintf(&b, "automated review scored %.0f/100 (risk %s)", resp.OverallScore, resp.RiskLevel)
	if resp.RiskAssessment != "" {
		b.WriteString(": ")
		b.WriteString(resp.RiskAssessment)
	}
	if len(resp.ImprovementAreas) > 0 {
		b.WriteString("; improve: ")
		b.WriteString(strings.Join(resp.ImprovementAreas, "; "))
	}
	return b.String()
}
