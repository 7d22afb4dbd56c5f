package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"reportflow/internal/models"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements Store using modernc.org/sqlite (pure Go, no CGO).
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at the given path.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	// Ensure parent directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// SQLite only supports one concurrent writer. Limiting to a single
	// connection serializes all DB access through Go's connection pool,
	// preventing "database is locked" errors from concurrent HTTP requests.
	db.SetMaxOpenConns(1)

	// Enable WAL mode for concurrent reads
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	// Set busy timeout so concurrent writes wait instead of failing immediately
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// boolToInt converts a bool to 0 or 1 for SQLite storage.
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// newULID generates a new ULID string.
func newULID() string {
	entropy := rand.New(rand.NewSource(time.Now().UnixNano()))
	return ulid.MustNew(ulid.Timestamp(time.Now()), ulid.Monotonic(entropy, 0)).String()
}

// Migrate runs all embedded SQL migration files in order.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	// Create migrations tracking table
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		filename TEXT PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT (datetime('now'))
	)`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}

	// Sort by filename
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		name := entry.Name()

		// Check if already applied
		var count int
		err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations WHERE filename = ?", name).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %s: %w", name, err)
		}
		if count > 0 {
			continue
		}

		data, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}

		if _, err := s.db.ExecContext(ctx, string(data)); err != nil {
			return fmt.Errorf("apply migration %s: %w", name, err)
		}

		if _, err := s.db.ExecContext(ctx, "INSERT INTO schema_migrations (filename) VALUES (?)", name); err != nil {
			return fmt.Errorf("record migration %s: %w", name, err)
		}
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Reports ---

const reportColumns = `id, owner_id, title, period_label, content, status, cycle, version, ai_analysis_ref, tier1_reviewer_ref, tier2_reviewer_ref, rejection_reason, created_at, updated_at, submitted_at`

func (s *SQLiteStore) CreateReport(ctx context.Context, r *models.Report) error {
	if r.ID == "" {
		r.ID = newULID()
	}
	if r.Status == "" {
		r.Status = models.StatusDraft
	}
	if r.Cycle == 0 {
		r.Cycle = 1
	}
	now := time.Now().UTC()
	r.CreatedAt = now
	r.UpdatedAt = now

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO reports (`+reportColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.OwnerID, r.Title, r.PeriodLabel, r.Content,
		string(r.Status), r.Cycle, r.Version,
		r.AIAnalysisRef, r.Tier1ReviewerRef, r.Tier2ReviewerRef, r.RejectionReason,
		r.CreatedAt, r.UpdatedAt, r.SubmittedAt,
	)
	if err != nil {
		return fmt.Errorf("create report: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetReport(ctx context.Context, id string) (*models.Report, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+reportColumns+` FROM reports WHERE id = ?`, id)
	r, err := scanReport(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("report %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get report: %w", err)
	}
	return r, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReport(row rowScanner) (*models.Report, error) {
	r := &models.Report{}
	var status string
	var submittedAt sql.NullTime

	err := row.Scan(&r.ID, &r.OwnerID, &r.Title, &r.PeriodLabel, &r.Content,
		&status, &r.Cycle, &r.Version,
		&r.AIAnalysisRef, &r.Tier1ReviewerRef, &r.Tier2ReviewerRef, &r.RejectionReason,
		&r.CreatedAt, &r.UpdatedAt, &submittedAt)
	if err != nil {
		return nil, err
	}

	r.Status = models.ApprovalStatus(status)
	if submittedAt.Valid {
		r.SubmittedAt = &submittedAt.Time
	}
	return r, nil
}

func (s *SQLiteStore) ListReports(ctx context.Context, filter ReportListFilter) ([]*models.Report, error) {
	query := `SELECT ` + reportColumns + ` FROM reports`
	var conditions []string
	var args []any

	if filter.OwnerID != "" {
		conditions = append(conditions, "owner_id = ?")
		args = append(args, filter.OwnerID)
	}
	if len(filter.Statuses) > 0 {
		placeholders := make([]string, len(filter.Statuses))
		for i, st := range filter.Statuses {
			placeholders[i] = "?"
			args = append(args, string(st))
		}
		conditions = append(conditions, "status IN ("+strings.Join(placeholders, ", ")+")")
	}

	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	// Queue ordering: oldest submission first, unsubmitted drafts last.
	query += " ORDER BY submitted_at IS NULL, submitted_at ASC, created_at ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list reports: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var reports []*models.Report
	for rows.Next() {
		r, err := scanReport(rows)
		if err != nil {
			return nil, fmt.Errorf("scan report: %w", err)
		}
		reports = append(reports, r)
	}
	return reports, rows.Err()
}

// UpdateReportContent writes the editable fields only. Workflow fields are
// owned by TransitionReport.
func (s *SQLiteStore) UpdateReportContent(ctx context.Context, r *models.Report) error {
	r.UpdatedAt = time.Now().UTC()
	result, err := s.db.ExecContext(ctx,
		`UPDATE reports SET title=?, period_label=?, content=?, updated_at=? WHERE id=?`,
		r.Title, r.PeriodLabel, r.Content, r.UpdatedAt, r.ID,
	)
	if err != nil {
		return fmt.Errorf("update report: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("report %s: %w", r.ID, ErrNotFound)
	}
	return nil
}

func (s *SQLiteStore) DeleteReport(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM reports WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete report: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("report %s: %w", id, ErrNotFound)
	}
	return nil
}

func (s *SQLiteStore) TransitionReport(ctx context.Context, r *models.Report, expectedVersion int64) error {
	now := time.Now().UTC()
	result, err := s.db.ExecContext(ctx,
		`UPDATE reports SET status=?, cycle=?, ai_analysis_ref=?, tier1_reviewer_ref=?, tier2_reviewer_ref=?, rejection_reason=?, submitted_at=?, updated_at=?, version=version+1
		WHERE id=? AND version=?`,
		string(r.Status), r.Cycle,
		r.AIAnalysisRef, r.Tier1ReviewerRef, r.Tier2ReviewerRef, r.RejectionReason,
		r.SubmittedAt, now,
		r.ID, expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("transition report: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		// Distinguish a lost race from a missing row.
		var count int
		if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM reports WHERE id = ?", r.ID).Scan(&count); err == nil && count == 0 {
			return fmt.Errorf("report %s: %w", r.ID, ErrNotFound)
		}
		return fmt.Errorf("report %s at version %d: %w", r.ID, expectedVersion, ErrVersionConflict)
	}
	r.Version = expectedVersion + 1
	r.UpdatedAt = now
	return nil
}

// --- Analysis results ---

const analysisColumns = `id, report_id, cycle, score, is_pass, risk_level, suggestions, improvement_areas, positive_aspects, risk_assessment, detailed_feedback, provider, model, prompt_template_version, latency_ms, failure_class, created_at`

func (s *SQLiteStore) CreateAnalysisResult(ctx context.Context, res *models.AnalysisResult) error {
	if res.ID == "" {
		res.ID = newULID()
	}
	res.CreatedAt = time.Now().UTC()

	suggestions := marshalStrings(res.Suggestions)
	improvements := marshalStrings(res.ImprovementAreas)
	positives := marshalStrings(res.PositiveAspects)
	feedback, err := json.Marshal(res.DetailedFeedback)
	if err != nil || res.DetailedFeedback == nil {
		feedback = []byte("{}")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO analysis_results (`+analysisColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		res.ID, res.ReportID, res.Cycle,
		res.Score, boolToInt(res.IsPass), string(res.RiskLevel),
		suggestions, improvements, positives,
		res.RiskAssessment, string(feedback),
		res.Provider, res.Model, res.PromptTemplateVersion,
		res.LatencyMS, res.FailureClass, res.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("create analysis result: %w", err)
	}
	return nil
}

func marshalStrings(v []string) string {
	data, err := json.Marshal(v)
	if err != nil || v == nil {
		return "[]"
	}
	return string(data)
}

func (s *SQLiteStore) GetAnalysisResult(ctx context.Context, id string) (*models.AnalysisResult, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+analysisColumns+` FROM analysis_results WHERE id = ?`, id)
	res, err := scanAnalysisResult(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("analysis result %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get analysis result: %w", err)
	}
	return res, nil
}

func (s *SQLiteStore) ListAnalysisResults(ctx context.Context, reportID string) ([]*models.AnalysisResult, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+analysisColumns+` FROM analysis_results WHERE report_id = ? ORDER BY created_at DESC`, reportID)
	if err != nil {
		return nil, fmt.Errorf("list analysis results: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var results []*models.AnalysisResult
	for rows.Next() {
		res, err := scanAnalysisResult(rows)
		if err != nil {
			return nil, fmt.Errorf("scan analysis result: %w", err)
		}
		results = append(results, res)
	}
	return results, rows.Err()
}

func scanAnalysisResult(row rowScanner) (*models.AnalysisResult, error) {
	res := &models.AnalysisResult{}
	var riskLevel string
	var score sql.NullFloat64
	var isPass int
	var suggestions, improvements, positives, feedback string

	err := row.Scan(&res.ID, &res.ReportID, &res.Cycle,
		&score, &isPass, &riskLevel,
		&suggestions, &improvements, &positives,
		&res.RiskAssessment, &feedback,
		&res.Provider, &res.Model, &res.PromptTemplateVersion,
		&res.LatencyMS, &res.FailureClass, &res.CreatedAt)
	if err != nil {
		return nil, err
	}

	if score.Valid {
		res.Score = &score.Float64
	}
	res.IsPass = isPass != 0
	res.RiskLevel = models.RiskLevel(riskLevel)
	_ = json.Unmarshal([]byte(suggestions), &res.Suggestions)
	_ = json.Unmarshal([]byte(improvements), &res.ImprovementAreas)
	_ = json.Unmarshal([]byte(positives), &res.PositiveAspects)
	_ = json.Unmarshal([]byte(feedback), &res.DetailedFeedback)
	return res, nil
}
