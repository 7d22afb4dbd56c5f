package workflow

import (
	"context"
	"fmt"
	"time"

	"reportflow/internal/models"
	"reportflow/internal/store"
)

// Event is a requested workflow transition.
type Event string

const (
	EventSubmit            Event = "submit"
	EventAIApprove         Event = "ai_approve"
	EventAIReject          Event = "ai_reject"
	EventAdvance           Event = "advance" // AI_APPROVED -> ADMIN_REVIEWING, explicit
	EventAdminApprove      Event = "admin_approve"
	EventAdminReject       Event = "admin_reject"
	EventEscalate          Event = "escalate" // ADMIN_APPROVED -> SUPER_ADMIN_REVIEWING
	EventSuperAdminApprove Event = "super_admin_approve"
	EventSuperAdminReject  Event = "super_admin_reject"
	EventFinalize          Event = "finalize" // SUPER_ADMIN_APPROVED -> FINAL_APPROVED
	EventForceSubmit       Event = "force_submit"
	EventResubmit          Event = "resubmit"
)

// transitionKey identifies one edge of the state graph.
type transitionKey struct {
	from  models.ApprovalStatus
	event Event
}

// transitionRule is the target state plus the single role authorized to
// drive the edge. Keeping authorization in the same table as legality
// prevents the two from drifting apart.
type transitionRule struct {
	to            models.ApprovalStatus
	role          models.Role
	requireReason bool
	newCycle      bool
}

var transitions = map[transitionKey]transitionRule{
	{models.StatusDraft, EventSubmit}: {to: models.StatusAIAnalyzing, role: models.RoleOwner},

	{models.StatusAIAnalyzing, EventAIApprove}: {to: models.StatusAIApproved, role: models.RoleSystem},
	{models.StatusAIAnalyzing, EventAIReject}:  {to: models.StatusAIRejected, role: models.RoleSystem, requireReason: true},

	{models.StatusAIApproved, EventAdvance}:     {to: models.StatusAdminReviewing, role: models.RoleAdmin},
	{models.StatusAIRejected, EventForceSubmit}: {to: models.StatusAdminReviewing, role: models.RoleAdmin},
	{models.StatusAIRejected, EventResubmit}:    {to: models.StatusAIAnalyzing, role: models.RoleOwner, newCycle: true},

	{models.StatusAdminReviewing, EventAdminApprove}: {to: models.StatusAdminApproved, role: models.RoleAdmin},
	{models.StatusAdminReviewing, EventAdminReject}:  {to: models.StatusAdminRejected, role: models.RoleAdmin, requireReason: true},
	{models.StatusAdminApproved, EventEscalate}:      {to: models.StatusSuperAdminReviewing, role: models.RoleAdmin},
	{models.StatusAdminRejected, EventResubmit}:      {to: models.StatusAIAnalyzing, role: models.RoleOwner, newCycle: true},

	{models.StatusSuperAdminReviewing, EventSuperAdminApprove}: {to: models.StatusSuperAdminApproved, role: models.RoleSuperAdmin},
	{models.StatusSuperAdminReviewing, EventSuperAdminReject}:  {to: models.StatusSuperAdminRejected, role: models.RoleSuperAdmin, requireReason: true},
	{models.StatusSuperAdminApproved, EventFinalize}:           {to: models.StatusFinalApproved, role: models.RoleSuperAdmin},
	{models.StatusSuperAdminRejected, EventResubmit}:           {to: models.StatusAIAnalyzing, role: models.RoleOwner, newCycle: true},
}

// Machine is the single authority for workflow transitions. Reports are
// mutated only through Transition; nothing else writes workflow fields.
type Machine struct {
	store store.Store
}

// NewMachine creates a state machine backed by the given store.
func NewMachine(s store.Store) *Machine {
	return &Machine{store: s}
}

// Transition validates the requested event against the transition table,
// the actor's role, and the report's version, then persists the new state
// with a compare-and-swap. The returned report carries the incremented
// version. On any error the stored report is unchanged.
//
// The input report is the caller's read snapshot; its Version field is the
// expected version for the swap.
func (m *Machine) Transition(ctx context.Context, r *models.Report, event Event, actor models.Actor, reason string) (*models.Report, error) {
	rule, ok := transitions[transitionKey{r.Status, event}]
	if !ok {
		return nil, fmt.Errorf("%s from %s: %w", event, r.Status, ErrIllegalTransition)
	}
	if actor.Role != rule.role {
		return nil, fmt.Errorf("role %s cannot %s: %w", actor.Role, event, ErrUnauthorized)
	}
	if rule.requireReason && reason == "" {
		return nil, fmt.Errorf("%s: %w", event, ErrReasonRequired)
	}
	// Owners may only act on their own reports.
	if actor.Role == models.RoleOwner && actor.ID != r.OwnerID {
		return nil, fmt.Errorf("actor %s does not own report %s: %w", actor.ID, r.ID, ErrUnauthorized)
	}

	next := *r
	next.Status = rule.to
	expectedVersion := r.Version

	switch event {
	case EventSubmit:
		now := time.Now().UTC()
		next.SubmittedAt = &now
	case EventAdminApprove:
		next.Tier1ReviewerRef = actor.ID
		next.RejectionReason = ""
	case EventAdminReject:
		next.Tier1ReviewerRef = actor.ID
		next.RejectionReason = reason
	case EventSuperAdminApprove:
		next.Tier2ReviewerRef = actor.ID
		next.RejectionReason = ""
	case EventSuperAdminReject:
		next.Tier2ReviewerRef = actor.ID
		next.RejectionReason = reason
	case EventAIReject:
		next.RejectionReason = reason
	case EventAIApprove:
		next.RejectionReason = ""
	case EventForceSubmit:
		// Human override past the AI gate; keep the AI reason for the record.
		next.Tier1ReviewerRef = actor.ID
	}

	if rule.newCycle {
		now := time.Now().UTC()
		next.Cycle++
		next.SubmittedAt = &now
		next.AIAnalysisRef = ""
		next.Tier1ReviewerRef = ""
		next.Tier2ReviewerRef = ""
		next.RejectionReason = ""
	}

	if err := m.store.TransitionReport(ctx, &next, expectedVersion); err != nil {
		return nil, err
	}
	return &next, nil
}
