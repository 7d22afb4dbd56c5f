package store

import (
	"context"
	"errors"

	"reportflow/internal/models"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// ErrVersionConflict is returned when a compare-and-swap write loses a race:
// the stored version no longer matches the version the caller read.
var ErrVersionConflict = errors.New("version conflict")

// ReportListFilter specifies filters for listing reports.
type ReportListFilter struct {
	OwnerID  string
	Statuses []models.ApprovalStatus
}

// Store defines the persistence interface for reportflow.
type Store interface {
	// Reports
	CreateReport(ctx context.Context, r *models.Report) error
	GetReport(ctx context.Context, id string) (*models.Report, error)
	ListReports(ctx context.Context, filter ReportListFilter) ([]*models.Report, error)
	UpdateReportContent(ctx context.Context, r *models.Report) error
	DeleteReport(ctx context.Context, id string) error

	// TransitionReport persists the workflow fields of r (status, cycle,
	// reviewer refs, analysis ref, rejection reason, submitted-at) guarded
	// by expectedVersion. On success the stored version is incremented and
	// r.Version is updated to match. Returns ErrVersionConflict when the
	// stored version differs, with no mutation.
	TransitionReport(ctx context.Context, r *models.Report, expectedVersion int64) error

	// Analysis results (append-only)
	CreateAnalysisResult(ctx context.Context, res *models.AnalysisResult) error
	GetAnalysisResult(ctx context.Context, id string) (*models.AnalysisResult, error)
	ListAnalysisResults(ctx context.Context, reportID string) ([]*models.AnalysisResult, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
