package workflow

import (
	"context"
	"fmt"
	"log/slog"

	"reportflow/internal/models"
	"reportflow/internal/store"
)

// Decision is a human reviewer's verdict on a report.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

// Handler validates incoming human decisions and drives the state machine.
// It re-reads the report immediately before each transition so the
// compare-and-swap runs against the freshest version; a lost race surfaces
// as store.ErrVersionConflict for the caller to re-fetch and re-render.
type Handler struct {
	store   store.Store
	machine *Machine
}

// NewHandler creates a decision handler.
func NewHandler(s store.Store, m *Machine) *Handler {
	return &Handler{store: s, machine: m}
}

// Machine exposes the underlying state machine (used by the orchestrator).
func (h *Handler) Machine() *Machine {
	return h.machine
}

// Decide applies an approve/reject decision from a human reviewer. The tier
// is implied by the report's current status. A tier-1 approval escalates to
// the tier-2 queue in the same call; a tier-2 approval finalizes. Each hop
// is validated against the transition table.
func (h *Handler) Decide(ctx context.Context, reportID string, actor models.Actor, decision Decision, reason string) (*models.Report, error) {
	r, err := h.store.GetReport(ctx, reportID)
	if err != nil {
		return nil, err
	}

	var event, chain Event
	switch {
	case r.Status == models.StatusAdminReviewing && decision == DecisionApprove:
		event, chain = EventAdminApprove, EventEscalate
	case r.Status == models.StatusAdminReviewing && decision == DecisionReject:
		event = EventAdminReject
	case r.Status == models.StatusSuperAdminReviewing && decision == DecisionApprove:
		event, chain = EventSuperAdminApprove, EventFinalize
	case r.Status == models.StatusSuperAdminReviewing && decision == DecisionReject:
		event = EventSuperAdminReject
	default:
		return nil, fmt.Errorf("no %s decision from %s: %w", decision, r.Status, ErrIllegalTransition)
	}

	r, err = h.machine.Transition(ctx, r, event, actor, reason)
	if err != nil {
		return nil, err
	}

	if chain != "" {
		r, err = h.machine.Transition(ctx, r, chain, actor, "")
		if err != nil {
			// The approval landed; the escalation hop losing a race is a bug
			// signal worth surfacing rather than papering over.
			return nil, fmt.Errorf("escalate after approval: %w", err)
		}
	}
	return r, nil
}

// Advance moves an AI-approved report into the tier-1 review queue.
func (h *Handler) Advance(ctx context.Context, reportID string, actor models.Actor) (*models.Report, error) {
	r, err := h.store.GetReport(ctx, reportID)
	if err != nil {
		return nil, err
	}
	return h.machine.Transition(ctx, r, EventAdvance, actor, "")
}

// ForceSubmit is the explicit human override past a failed AI gate: tier-1
// only, AI_REJECTED only, straight to ADMIN_REVIEWING with no second AI pass.
func (h *Handler) ForceSubmit(ctx context.Context, reportID string, actor models.Actor) (*models.Report, error) {
	r, err := h.store.GetReport(ctx, reportID)
	if err != nil {
		return nil, err
	}
	r, err = h.machine.Transition(ctx, r, EventForceSubmit, actor, "")
	if err != nil {
		return nil, err
	}
	slog.Info("force-submit override", "report", r.ID, "actor", actor.ID, "cycle", r.Cycle)
	return r, nil
}

// Submit moves a draft into the AI gate. The caller is responsible for
// starting the analysis once the report is marked AI_ANALYZING.
func (h *Handler) Submit(ctx context.Context, reportID string, actor models.Actor) (*models.Report, error) {
	r, err := h.store.GetReport(ctx, reportID)
	if err != nil {
		return nil, err
	}
	return h.machine.Transition(ctx, r, EventSubmit, actor, "")
}

// Resubmit starts a fresh approval cycle from any rejected state: reviewer
// refs and the analysis ref are cleared, the cycle counter bumps, and the
// report re-enters the AI gate.
func (h *Handler) Resubmit(ctx context.Context, reportID string, actor models.Actor) (*models.Report, error) {
	r, err := h.store.GetReport(ctx, reportID)
	if err != nil {
		return nil, err
	}
	return h.machine.Transition(ctx, r, EventResubmit, actor, "")
}
