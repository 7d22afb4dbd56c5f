package models

import "time"

// ApprovalStatus represents where a report sits in the approval pipeline.
type ApprovalStatus string

const (
	StatusDraft               ApprovalStatus = "DRAFT"
	StatusAIAnalyzing         ApprovalStatus = "AI_ANALYZING"
	StatusAIApproved          ApprovalStatus = "AI_APPROVED"
	StatusAIRejected          ApprovalStatus = "AI_REJECTED"
	StatusAdminReviewing      ApprovalStatus = "ADMIN_REVIEWING"
	StatusAdminApproved       ApprovalStatus = "ADMIN_APPROVED"
	StatusAdminRejected       ApprovalStatus = "ADMIN_REJECTED"
	StatusSuperAdminReviewing ApprovalStatus = "SUPER_ADMIN_REVIEWING"
	StatusSuperAdminApproved  ApprovalStatus = "SUPER_ADMIN_APPROVED"
	StatusSuperAdminRejected  ApprovalStatus = "SUPER_ADMIN_REJECTED"
	StatusFinalApproved       ApprovalStatus = "FINAL_APPROVED"
)

// AllStatuses is the closed set of legal report statuses.
var AllStatuses = []ApprovalStatus{
	StatusDraft,
	StatusAIAnalyzing,
	StatusAIApproved,
	StatusAIRejected,
	StatusAdminReviewing,
	StatusAdminApproved,
	StatusAdminRejected,
	StatusSuperAdminReviewing,
	StatusSuperAdminApproved,
	StatusSuperAdminRejected,
	StatusFinalApproved,
}

// Valid reports whether s is a member of the status enumeration.
func (s ApprovalStatus) Valid() bool {
	for _, known := range AllStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transition is possible.
func (s ApprovalStatus) Terminal() bool {
	return s == StatusFinalApproved
}

// Rejected reports whether s is one of the recoverable rejection states.
func (s ApprovalStatus) Rejected() bool {
	switch s {
	case StatusAIRejected, StatusAdminRejected, StatusSuperAdminRejected:
		return true
	}
	return false
}

// Role identifies who is acting on a report.
type Role string

const (
	RoleOwner      Role = "owner"
	RoleAdmin      Role = "admin"       // tier-1 reviewer
	RoleSuperAdmin Role = "super_admin" // tier-2 reviewer
	RoleSystem     Role = "system"      // the AI gate
)

// Actor is the identity attached to a transition request.
type Actor struct {
	ID   string
	Role Role
}

// Report is the approvable unit tracked by the workflow.
type Report struct {
	ID          string
	OwnerID     string
	Title       string
	PeriodLabel string // e.g. "2026-W34"
	Content     string // free-form payload, opaque to the workflow

	Status  ApprovalStatus
	Cycle   int   // approval cycle, bumped on resubmission
	Version int64 // optimistic concurrency counter

	AIAnalysisRef    string // latest AnalysisResult ID, "" until an AI pass completes
	Tier1ReviewerRef string
	Tier2ReviewerRef string
	RejectionReason  string

	CreatedAt   time.Time
	UpdatedAt   time.Time
	SubmittedAt *time.Time
}
