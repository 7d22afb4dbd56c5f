package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reportflow/internal/models"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db")

	s, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)

	err = s.Migrate(context.Background())
	require.NoError(t, err)

	t.Cleanup(func() { s.Close() })
	return s
}

func TestNewSQLiteStore_CreatesDirectory(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "subdir", "test.db")

	s, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer s.Close()

	_, err = os.Stat(filepath.Join(dir, "subdir"))
	assert.NoError(t, err, "should create parent directory")
}

func TestMigrate_Idempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Running migrate again should be a no-op
	err := s.Migrate(ctx)
	assert.NoError(t, err)
}

// --- Report CRUD ---

func TestReportCRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Create
	r := &models.Report{
		OwnerID:     "alice",
		Title:       "Week 34 report",
		PeriodLabel: "2026-W34",
		Content:     "Shipped the importer. Next week: migration tooling.",
	}
	err := s.CreateReport(ctx, r)
	require.NoError(t, err)
	assert.NotEmpty(t, r.ID)
	assert.Equal(t, models.StatusDraft, r.Status)
	assert.Equal(t, 1, r.Cycle)
	assert.Equal(t, int64(0), r.Version)
	assert.False(t, r.CreatedAt.IsZero())

	// Get
	got, err := s.GetReport(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, r.Title, got.Title)
	assert.Equal(t, r.OwnerID, got.OwnerID)
	assert.Equal(t, r.Content, got.Content)
	assert.Nil(t, got.SubmittedAt)

	// Update content
	got.Content = "Shipped the importer and fixed the flaky sync."
	err = s.UpdateReportContent(ctx, got)
	require.NoError(t, err)

	got2, err := s.GetReport(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, got.Content, got2.Content)

	// List
	reports, err := s.ListReports(ctx, ReportListFilter{})
	require.NoError(t, err)
	assert.Len(t, reports, 1)

	reports, err = s.ListReports(ctx, ReportListFilter{OwnerID: "alice"})
	require.NoError(t, err)
	assert.Len(t, reports, 1)

	reports, err = s.ListReports(ctx, ReportListFilter{OwnerID: "nobody"})
	require.NoError(t, err)
	assert.Len(t, reports, 0)

	// Delete
	err = s.DeleteReport(ctx, r.ID)
	require.NoError(t, err)

	_, err = s.GetReport(ctx, r.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetReport_NotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetReport(context.Background(), "no-such-id")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateReportContent_NotFound(t *testing.T) {
	s := newTestStore(t)

	err := s.UpdateReportContent(context.Background(), &models.Report{ID: "no-such-id"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListReports_StatusFilter(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	draft := &models.Report{OwnerID: "alice", Title: "draft", PeriodLabel: "2026-W34"}
	require.NoError(t, s.CreateReport(ctx, draft))

	reviewing := &models.Report{OwnerID: "bob", Title: "in review", PeriodLabel: "2026-W34", Status: models.StatusAdminReviewing}
	require.NoError(t, s.CreateReport(ctx, reviewing))

	reports, err := s.ListReports(ctx, ReportListFilter{
		Statuses: []models.ApprovalStatus{models.StatusAdminReviewing},
	})
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, reviewing.ID, reports[0].ID)

	reports, err = s.ListReports(ctx, ReportListFilter{
		Statuses: []models.ApprovalStatus{models.StatusDraft, models.StatusAdminReviewing},
	})
	require.NoError(t, err)
	assert.Len(t, reports, 2)
}

func TestListReports_QueueOrdering(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	older := time.Now().UTC().Add(-2 * time.Hour)
	newer := time.Now().UTC().Add(-1 * time.Hour)

	second := &models.Report{OwnerID: "bob", Title: "second", PeriodLabel: "2026-W34",
		Status: models.StatusAdminReviewing, SubmittedAt: &newer}
	require.NoError(t, s.CreateReport(ctx, second))

	first := &models.Report{OwnerID: "alice", Title: "first", PeriodLabel: "2026-W34",
		Status: models.StatusAdminReviewing, SubmittedAt: &older}
	require.NoError(t, s.CreateReport(ctx, first))

	unsubmitted := &models.Report{OwnerID: "carol", Title: "draft", PeriodLabel: "2026-W34"}
	require.NoError(t, s.CreateReport(ctx, unsubmitted))

	reports, err := s.ListReports(ctx, ReportListFilter{})
	require.NoError(t, err)
	require.Len(t, reports, 3)
	assert.Equal(t, first.ID, reports[0].ID, "oldest submission first")
	assert.Equal(t, second.ID, reports[1].ID)
	assert.Equal(t, unsubmitted.ID, reports[2].ID, "unsubmitted drafts last")
}

// --- Transitions ---

func TestTransitionReport_VersionIncrement(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	r := &models.Report{OwnerID: "alice", Title: "r", PeriodLabel: "2026-W34"}
	require.NoError(t, s.CreateReport(ctx, r))

	now := time.Now().UTC()
	r.Status = models.StatusAIAnalyzing
	r.SubmittedAt = &now
	err := s.TransitionReport(ctx, r, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), r.Version)

	got, err := s.GetReport(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusAIAnalyzing, got.Status)
	assert.Equal(t, int64(1), got.Version)
	require.NotNil(t, got.SubmittedAt)
}

func TestTransitionReport_VersionConflict(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	r := &models.Report{OwnerID: "alice", Title: "r", PeriodLabel: "2026-W34"}
	require.NoError(t, s.CreateReport(ctx, r))

	// First writer wins.
	fresh := *r
	fresh.Status = models.StatusAIAnalyzing
	require.NoError(t, s.TransitionReport(ctx, &fresh, 0))

	// Second writer holds a stale version.
	stale := *r
	stale.Status = models.StatusAIAnalyzing
	err := s.TransitionReport(ctx, &stale, 0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrVersionConflict))

	// The stored report reflects only the first write.
	got, err := s.GetReport(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Version)
}

func TestTransitionReport_NotFound(t *testing.T) {
	s := newTestStore(t)

	r := &models.Report{ID: "no-such-id", Status: models.StatusAIAnalyzing}
	err := s.TransitionReport(context.Background(), r, 0)
	assert.ErrorIs(t, err, ErrNotFound)
}

// --- Analysis results ---

func TestAnalysisResults_AppendOnly(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	r := &models.Report{OwnerID: "alice", Title: "r", PeriodLabel: "2026-W34"}
	require.NoError(t, s.CreateReport(ctx, r))

	score := 82.0
	res := &models.AnalysisResult{
		ReportID:  r.ID,
		Cycle:     1,
		Score:     &score,
		IsPass:    true,
		RiskLevel: models.RiskLow,
		Suggestions: []string{
			"add concrete numbers to the progress section",
		},
		PositiveAspects: []string{"clear next-week plan"},
		RiskAssessment:  "Solid report with minor gaps.",
		DetailedFeedback: map[string]models.CategoryFeedback{
			"completeness": {Score: 85, Feedback: "covers all areas"},
		},
		Provider:              "anthropic",
		Model:                 "claude-haiku-4-5-20251001",
		PromptTemplateVersion: "v1",
		LatencyMS:             412,
	}
	require.NoError(t, s.CreateAnalysisResult(ctx, res))
	assert.NotEmpty(t, res.ID)

	got, err := s.GetAnalysisResult(ctx, res.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Score)
	assert.Equal(t, score, *got.Score)
	assert.True(t, got.IsPass)
	assert.Equal(t, models.RiskLow, got.RiskLevel)
	assert.Equal(t, res.Suggestions, got.Suggestions)
	assert.Equal(t, res.DetailedFeedback, got.DetailedFeedback)
	assert.Equal(t, int64(412), got.LatencyMS)

	// A degraded result with no score stores NULL, not zero.
	degraded := &models.AnalysisResult{
		ReportID:     r.ID,
		Cycle:        2,
		RiskLevel:    models.RiskUnknown,
		FailureClass: "timeout",
		Provider:     "anthropic",
		Model:        "claude-haiku-4-5-20251001",
	}
	require.NoError(t, s.CreateAnalysisResult(ctx, degraded))

	got, err = s.GetAnalysisResult(ctx, degraded.ID)
	require.NoError(t, err)
	assert.Nil(t, got.Score)
	assert.Equal(t, "timeout", got.FailureClass)

	list, err := s.ListAnalysisResults(ctx, r.ID)
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func TestAnalysisResults_SurviveReportDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	r := &models.Report{OwnerID: "alice", Title: "r", PeriodLabel: "2026-W34"}
	require.NoError(t, s.CreateReport(ctx, r))

	res := &models.AnalysisResult{ReportID: r.ID, Cycle: 1, RiskLevel: models.RiskLow, Provider: "anthropic"}
	require.NoError(t, s.CreateAnalysisResult(ctx, res))

	require.NoError(t, s.DeleteReport(ctx, r.ID))

	// Audit history is retained.
	list, err := s.ListAnalysisResults(ctx, r.ID)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestGetAnalysisResult_NotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetAnalysisResult(context.Background(), "no-such-id")
	assert.ErrorIs(t, err, ErrNotFound)
}
