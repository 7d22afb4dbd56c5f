package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reportflow/internal/analysis"
	"reportflow/internal/models"
	"reportflow/internal/store"
	"reportflow/internal/workflow"
)

// setupTestServer builds a full server over a temp database with a stubbed
// scoring gateway.
func setupTestServer(t *testing.T, gateway analysis.Gateway) (*Server, store.Store) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")

	s, err := store.NewSQLiteStore(dbPath)
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Close() })

	machine := workflow.NewMachine(s)
	handler := workflow.NewHandler(s, machine)
	queue := workflow.NewQueue(s)
	orchestrator := analysis.NewOrchestrator(s, gateway, machine, analysis.Config{
		Provider: "anthropic", Model: "test-model", PromptTemplateVersion: "v1",
		Timeout: 5 * time.Second,
	})

	return NewServer(s, handler, queue, orchestrator), s
}

func passGateway(score float64, pass bool) analysis.GatewayFunc {
	return func(ctx context.Context, req analysis.ScoringRequest) (*analysis.ScoringResponse, error) {
		return &analysis.ScoringResponse{
			OverallScore: score,
			IsPass:       pass,
			RiskLevel:    models.RiskLow,
		}, nil
	}
}

func doJSON(t *testing.T, router http.Handler, method, path, body string, actor *models.Actor) *httptest.ResponseRecorder {
	t.Helper()
	var reqBody *bytes.Buffer
	if body != "" {
		reqBody = bytes.NewBufferString(body)
	} else {
		reqBody = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, path, reqBody)
	if actor != nil {
		req.Header.Set("X-Actor-Id", actor.ID)
		req.Header.Set("X-Actor-Role", string(actor.Role))
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

var (
	ownerActor      = models.Actor{ID: "alice", Role: models.RoleOwner}
	adminActor      = models.Actor{ID: "adam", Role: models.RoleAdmin}
	superAdminActor = models.Actor{ID: "sue", Role: models.RoleSuperAdmin}
	systemActor     = models.Actor{ID: "ai-gate", Role: models.RoleSystem}
)

func createTestReport(t *testing.T, router http.Handler) models.Report {
	t.Helper()
	body := `{"Title":"Week 34 report","PeriodLabel":"2026-W34","Content":"Shipped the importer. Next week: migration tooling."}`
	w := doJSON(t, router, "POST", "/api/v1/reports", body, &ownerActor)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var r models.Report
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &r))
	return r
}

func TestReportCRUD_API(t *testing.T) {
	srv, _ := setupTestServer(t, passGateway(80, true))
	router := srv.Router()

	r := createTestReport(t, router)
	assert.NotEmpty(t, r.ID)
	assert.Equal(t, "alice", r.OwnerID)
	assert.Equal(t, models.StatusDraft, r.Status)

	// Get includes the completeness breakdown.
	w := doJSON(t, router, "GET", "/api/v1/reports/"+r.ID, "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	var got struct {
		models.Report
		Completeness struct {
			Total int `json:"total"`
		} `json:"completeness"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, r.ID, got.ID)
	assert.Greater(t, got.Completeness.Total, 0)

	// Update content while in DRAFT.
	w = doJSON(t, router, "PUT", "/api/v1/reports/"+r.ID, `{"content":"Rewrote the summary. Next week: tests."}`, &ownerActor)
	assert.Equal(t, http.StatusOK, w.Code)

	// List
	w = doJSON(t, router, "GET", "/api/v1/reports", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	var reports []*models.Report
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &reports))
	assert.Len(t, reports, 1)

	// Delete
	w = doJSON(t, router, "DELETE", "/api/v1/reports/"+r.ID, "", &adminActor)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = doJSON(t, router, "GET", "/api/v1/reports/"+r.ID, "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCreateReport_RequiresOwner(t *testing.T) {
	srv, _ := setupTestServer(t, passGateway(80, true))
	router := srv.Router()

	w := doJSON(t, router, "POST", "/api/v1/reports", `{"Title":"no owner"}`, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSubmit_RunsAIGate(t *testing.T) {
	srv, s := setupTestServer(t, passGateway(85, true))
	router := srv.Router()

	r := createTestReport(t, router)

	w := doJSON(t, router, "PUT", "/api/v1/reports/"+r.ID+"/submit", "", &ownerActor)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var submitted models.Report
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &submitted))
	assert.Equal(t, models.StatusAIAnalyzing, submitted.Status)

	// The scoring pass runs in the background; the passing stub should land
	// the report in AI_APPROVED.
	require.Eventually(t, func() bool {
		got, err := s.GetReport(context.Background(), r.ID)
		return err == nil && got.Status == models.StatusAIApproved
	}, 3*time.Second, 10*time.Millisecond)

	// The analysis record is exposed.
	w = doJSON(t, router, "GET", "/api/v1/reports/"+r.ID+"/analysis", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	var results []*models.AnalysisResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &results))
	require.Len(t, results, 1)
	require.NotNil(t, results[0].Score)
	assert.Equal(t, 85.0, *results[0].Score)
}

func TestSubmit_WrongActor(t *testing.T) {
	srv, _ := setupTestServer(t, passGateway(85, true))
	router := srv.Router()

	r := createTestReport(t, router)

	mallory := models.Actor{ID: "mallory", Role: models.RoleOwner}
	w := doJSON(t, router, "PUT", "/api/v1/reports/"+r.ID+"/submit", "", &mallory)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = doJSON(t, router, "PUT", "/api/v1/reports/"+r.ID+"/submit", "", &adminActor)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestSubmit_NotFound(t *testing.T) {
	srv, _ := setupTestServer(t, passGateway(85, true))
	router := srv.Router()

	w := doJSON(t, router, "PUT", "/api/v1/reports/no-such-id/submit", "", &ownerActor)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestUpdateReport_LockedDuringReview(t *testing.T) {
	srv, s := setupTestServer(t, passGateway(85, true))
	router := srv.Router()
	ctx := context.Background()

	r := createTestReport(t, router)

	stored, err := s.GetReport(ctx, r.ID)
	require.NoError(t, err)
	stored.Status = models.StatusAdminReviewing
	require.NoError(t, s.TransitionReport(ctx, stored, 0))

	w := doJSON(t, router, "PUT", "/api/v1/reports/"+r.ID, `{"content":"sneaky edit"}`, &ownerActor)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDecisionEndpoints(t *testing.T) {
	srv, s := setupTestServer(t, passGateway(85, true))
	router := srv.Router()
	ctx := context.Background()

	setStatus := func(t *testing.T, id string, status models.ApprovalStatus) {
		t.Helper()
		stored, err := s.GetReport(ctx, id)
		require.NoError(t, err)
		stored.Status = status
		require.NoError(t, s.TransitionReport(ctx, stored, stored.Version))
	}

	t.Run("admin approve escalates", func(t *testing.T) {
		r := createTestReport(t, router)
		setStatus(t, r.ID, models.StatusAdminReviewing)

		w := doJSON(t, router, "PUT", "/api/v1/reports/"+r.ID+"/admin-approve", "", &adminActor)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		var updated models.Report
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &updated))
		assert.Equal(t, models.StatusSuperAdminReviewing, updated.Status)
	})

	t.Run("admin reject requires reason", func(t *testing.T) {
		r := createTestReport(t, router)
		setStatus(t, r.ID, models.StatusAdminReviewing)

		w := doJSON(t, router, "PUT", "/api/v1/reports/"+r.ID+"/admin-reject", "", &adminActor)
		assert.Equal(t, http.StatusBadRequest, w.Code)

		w = doJSON(t, router, "PUT", "/api/v1/reports/"+r.ID+"/admin-reject", `{"reason":"missing blockers"}`, &adminActor)
		require.Equal(t, http.StatusOK, w.Code)

		var updated models.Report
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &updated))
		assert.Equal(t, models.StatusAdminRejected, updated.Status)
		assert.Equal(t, "missing blockers", updated.RejectionReason)
	})

	t.Run("super admin approve finalizes", func(t *testing.T) {
		r := createTestReport(t, router)
		setStatus(t, r.ID, models.StatusSuperAdminReviewing)

		w := doJSON(t, router, "PUT", "/api/v1/reports/"+r.ID+"/super-admin-approve", "", &superAdminActor)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		var updated models.Report
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &updated))
		assert.Equal(t, models.StatusFinalApproved, updated.Status)
	})

	t.Run("wrong role gets 403", func(t *testing.T) {
		r := createTestReport(t, router)
		setStatus(t, r.ID, models.StatusSuperAdminReviewing)

		w := doJSON(t, router, "PUT", "/api/v1/reports/"+r.ID+"/super-admin-approve", "", &adminActor)
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("wrong state gets 400", func(t *testing.T) {
		r := createTestReport(t, router)

		w := doJSON(t, router, "PUT", "/api/v1/reports/"+r.ID+"/admin-approve", "", &adminActor)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestForceSubmitEndpoint(t *testing.T) {
	srv, s := setupTestServer(t, passGateway(30, false))
	router := srv.Router()
	ctx := context.Background()

	r := createTestReport(t, router)

	stored, err := s.GetReport(ctx, r.ID)
	require.NoError(t, err)
	stored.Status = models.StatusAIRejected
	stored.RejectionReason = "automated review scored 30/100"
	require.NoError(t, s.TransitionReport(ctx, stored, 0))

	// Owners cannot override the gate.
	w := doJSON(t, router, "PUT", "/api/v1/reports/"+r.ID+"/force-submit", "", &ownerActor)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = doJSON(t, router, "PUT", "/api/v1/reports/"+r.ID+"/force-submit", "", &adminActor)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var updated models.Report
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &updated))
	assert.Equal(t, models.StatusAdminReviewing, updated.Status)
	assert.Equal(t, "adam", updated.Tier1ReviewerRef)
}

func TestAIDecisionEndpoints_IdempotentAfterConclusion(t *testing.T) {
	srv, s := setupTestServer(t, passGateway(85, true))
	router := srv.Router()
	ctx := context.Background()

	r := createTestReport(t, router)

	stored, err := s.GetReport(ctx, r.ID)
	require.NoError(t, err)
	stored.Status = models.StatusAIApproved
	require.NoError(t, s.TransitionReport(ctx, stored, 0))

	// A late duplicate callback is a no-op, not an error.
	w := doJSON(t, router, "PUT", "/api/v1/reports/"+r.ID+"/ai-approve", "", &systemActor)
	require.Equal(t, http.StatusOK, w.Code)

	var updated models.Report
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &updated))
	assert.Equal(t, models.StatusAIApproved, updated.Status)
	assert.Equal(t, int64(1), updated.Version, "no second transition recorded")
}

func TestQueueEndpoint(t *testing.T) {
	srv, s := setupTestServer(t, passGateway(85, true))
	router := srv.Router()
	ctx := context.Background()

	r := createTestReport(t, router)
	stored, err := s.GetReport(ctx, r.ID)
	require.NoError(t, err)
	stored.Status = models.StatusAdminReviewing
	require.NoError(t, s.TransitionReport(ctx, stored, 0))

	w := doJSON(t, router, "GET", "/api/v1/queue?role=admin", "", &adminActor)
	require.Equal(t, http.StatusOK, w.Code)

	var reports []*models.Report
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &reports))
	require.Len(t, reports, 1)
	assert.Equal(t, r.ID, reports[0].ID)

	// Empty queue returns [], not null.
	w = doJSON(t, router, "GET", "/api/v1/queue?role=super_admin", "", &superAdminActor)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, "[]", w.Body.String())

	// Roles without a queue are refused.
	w = doJSON(t, router, "GET", "/api/v1/queue?role=owner", "", &ownerActor)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestFullWorkflow_EndToEnd(t *testing.T) {
	srv, s := setupTestServer(t, passGateway(85, true))
	router := srv.Router()

	r := createTestReport(t, router)

	// Submit and wait for the AI gate.
	w := doJSON(t, router, "PUT", "/api/v1/reports/"+r.ID+"/submit", "", &ownerActor)
	require.Equal(t, http.StatusOK, w.Code)
	require.Eventually(t, func() bool {
		got, err := s.GetReport(context.Background(), r.ID)
		return err == nil && got.Status == models.StatusAIApproved
	}, 3*time.Second, 10*time.Millisecond)

	// Tier-1 pulls it into review and approves.
	w = doJSON(t, router, "PUT", "/api/v1/reports/"+r.ID+"/advance", "", &adminActor)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = doJSON(t, router, "PUT", "/api/v1/reports/"+r.ID+"/admin-approve", "", &adminActor)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	// Tier-2 approves; the report is final.
	w = doJSON(t, router, "PUT", "/api/v1/reports/"+r.ID+"/super-admin-approve", "", &superAdminActor)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var final models.Report
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &final))
	assert.Equal(t, models.StatusFinalApproved, final.Status)
	assert.Equal(t, "adam", final.Tier1ReviewerRef)
	assert.Equal(t, "sue", final.Tier2ReviewerRef)
	assert.Equal(t, 1, final.Cycle)
}

func TestRejectionAndResubmitCycle(t *testing.T) {
	srv, s := setupTestServer(t, passGateway(30, false))
	router := srv.Router()

	r := createTestReport(t, router)

	w := doJSON(t, router, "PUT", "/api/v1/reports/"+r.ID+"/submit", "", &ownerActor)
	require.Equal(t, http.StatusOK, w.Code)

	// The failing stub rejects the report with a reason.
	require.Eventually(t, func() bool {
		got, err := s.GetReport(context.Background(), r.ID)
		return err == nil && got.Status == models.StatusAIRejected
	}, 3*time.Second, 10*time.Millisecond)

	got, err := s.GetReport(context.Background(), r.ID)
	require.NoError(t, err)
	assert.Contains(t, got.RejectionReason, "scored 30/100")

	// Rejected reports are editable again.
	w = doJSON(t, router, "PUT", "/api/v1/reports/"+r.ID, `{"content":"Much more detail. Next week: concrete plan."}`, &ownerActor)
	assert.Equal(t, http.StatusOK, w.Code)

	// Resubmission starts cycle 2.
	w = doJSON(t, router, "PUT", "/api/v1/reports/"+r.ID+"/resubmit", "", &ownerActor)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resubmitted models.Report
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resubmitted))
	assert.Equal(t, models.StatusAIAnalyzing, resubmitted.Status)
	assert.Equal(t, 2, resubmitted.Cycle)
	assert.Empty(t, resubmitted.RejectionReason)
}

func TestCORSPreflight(t *testing.T) {
	srv, _ := setupTestServer(t, passGateway(85, true))
	router := srv.Router()

	req := httptest.NewRequest("OPTIONS", "/api/v1/reports", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}
