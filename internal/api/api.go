package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"reportflow/internal/analysis"
	"reportflow/internal/health"
	"reportflow/internal/models"
	"reportflow/internal/store"
	"reportflow/internal/workflow"
)

// Server provides the REST API handlers.
type Server struct {
	store        store.Store
	handler      *workflow.Handler
	queue        *workflow.Queue
	orchestrator *analysis.Orchestrator
	scorer       *health.Scorer
}

// NewServer creates a new API server.
func NewServer(s store.Store, h *workflow.Handler, q *workflow.Queue, o *analysis.Orchestrator) *Server {
	return &Server{
		store:        s,
		handler:      h,
		queue:        q,
		orchestrator: o,
		scorer:       health.NewScorer(),
	}
}

// Router returns an http.Handler for the API routes.
func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/reports", s.listReports)
	mux.HandleFunc("POST /api/v1/reports", s.createReport)
	mux.HandleFunc("GET /api/v1/reports/{id}", s.getReport)
	mux.HandleFunc("PUT /api/v1/reports/{id}", s.updateReport)
	mux.HandleFunc("DELETE /api/v1/reports/{id}", s.deleteReport)

	mux.HandleFunc("GET /api/v1/reports/{id}/analysis", s.listAnalysis)

	mux.HandleFunc("PUT /api/v1/reports/{id}/submit", s.submitReport)
	mux.HandleFunc("PUT /api/v1/reports/{id}/resubmit", s.resubmitReport)
	mux.HandleFunc("PUT /api/v1/reports/{id}/ai-approve", s.aiDecision(workflow.EventAIApprove))
	mux.HandleFunc("PUT /api/v1/reports/{id}/ai-reject", s.aiDecision(workflow.EventAIReject))
	mux.HandleFunc("PUT /api/v1/reports/{id}/advance", s.advanceReport)
	mux.HandleFunc("PUT /api/v1/reports/{id}/admin-approve", s.decide(workflow.DecisionApprove))
	mux.HandleFunc("PUT /api/v1/reports/{id}/admin-reject", s.decide(workflow.DecisionReject))
	mux.HandleFunc("PUT /api/v1/reports/{id}/super-admin-approve", s.decide(workflow.DecisionApprove))
	mux.HandleFunc("PUT /api/v1/reports/{id}/super-admin-reject", s.decide(workflow.DecisionReject))
	mux.HandleFunc("PUT /api/v1/reports/{id}/force-submit", s.forceSubmitReport)

	mux.HandleFunc("GET /api/v1/queue", s.reviewQueue)

	return corsMiddleware(mux)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Actor-Id, X-Actor-Role")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeWorkflowError maps the typed workflow/store errors onto HTTP status
// codes so the UI can disambiguate without string matching.
func writeWorkflowError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, store.ErrVersionConflict):
		writeError(w, http.StatusConflict, "this item was just updated, please refresh")
	case errors.Is(err, workflow.ErrUnauthorized):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, workflow.ErrIllegalTransition), errors.Is(err, workflow.ErrReasonRequired):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, analysis.ErrDuplicateAnalysis):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// actorFrom extracts the acting identity from request headers. Authentication
// is an external collaborator; these headers are trusted upstream input.
func actorFrom(r *http.Request) models.Actor {
	return models.Actor{
		ID:   r.Header.Get("X-Actor-Id"),
		Role: models.Role(r.Header.Get("X-Actor-Role")),
	}
}

// reasonBody is the JSON body for reject endpoints.
type reasonBody struct {
	Reason string `json:"reason"`
}

func readReason(r *http.Request) string {
	if r.Body == nil || r.ContentLength == 0 {
		return ""
	}
	var body reasonBody
	_ = json.NewDecoder(r.Body).Decode(&body)
	return body.Reason
}

// --- Reports ---

type reportResponse struct {
	*models.Report
	Completeness health.Completeness `json:"completeness"`
}

func (s *Server) listReports(w http.ResponseWriter, r *http.Request) {
	filter := store.ReportListFilter{OwnerID: r.URL.Query().Get("owner")}
	if st := r.URL.Query().Get("status"); st != "" {
		status := models.ApprovalStatus(st)
		if !status.Valid() {
			writeError(w, http.StatusBadRequest, "unknown status: "+st)
			return
		}
		filter.Statuses = []models.ApprovalStatus{status}
	}
	reports, err := s.store.ListReports(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, reports)
}

func (s *Server) createReport(w http.ResponseWriter, r *http.Request) {
	var rep models.Report
	if err := json.NewDecoder(r.Body).Decode(&rep); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if rep.OwnerID == "" {
		rep.OwnerID = actorFrom(r).ID
	}
	if rep.OwnerID == "" {
		writeError(w, http.StatusBadRequest, "owner is required")
		return
	}
	rep.Status = models.StatusDraft
	if err := s.store.CreateReport(r.Context(), &rep); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, rep)
}

func (s *Server) getReport(w http.ResponseWriter, r *http.Request) {
	rep, err := s.store.GetReport(r.Context(), r.PathValue("id"))
	if err != nil {
		writeWorkflowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, reportResponse{Report: rep, Completeness: s.scorer.Score(rep)})
}

func (s *Server) updateReport(w http.ResponseWriter, r *http.Request) {
	rep, err := s.store.GetReport(r.Context(), r.PathValue("id"))
	if err != nil {
		writeWorkflowError(w, err)
		return
	}

	// Content is editable while the owner still holds the report.
	switch rep.Status {
	case models.StatusDraft, models.StatusAIRejected, models.StatusAdminRejected, models.StatusSuperAdminRejected:
	default:
		writeError(w, http.StatusBadRequest, "report is in review and cannot be edited")
		return
	}

	var patch struct {
		Title       *string `json:"title"`
		PeriodLabel *string `json:"period_label"`
		Content     *string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if patch.Title != nil {
		rep.Title = *patch.Title
	}
	if patch.PeriodLabel != nil {
		rep.PeriodLabel = *patch.PeriodLabel
	}
	if patch.Content != nil {
		rep.Content = *patch.Content
	}

	if err := s.store.UpdateReportContent(r.Context(), rep); err != nil {
		writeWorkflowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (s *Server) deleteReport(w http.ResponseWriter, r *http.Request) {
	// Administrative action; analysis history is retained.
	if err := s.store.DeleteReport(r.Context(), r.PathValue("id")); err != nil {
		writeWorkflowError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) listAnalysis(w http.ResponseWriter, r *http.Request) {
	results, err := s.store.ListAnalysisResults(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if results == nil {
		results = []*models.AnalysisResult{}
	}
	writeJSON(w, http.StatusOK, results)
}

// --- Workflow transitions ---

func (s *Server) submitReport(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	rep, err := s.handler.Submit(r.Context(), id, actorFrom(r))
	if err != nil {
		writeWorkflowError(w, err)
		return
	}

	// The scoring pass runs in the background; submission returns as soon as
	// the report is marked AI_ANALYZING.
	if _, err := s.orchestrator.Analyze(r.Context(), id); err != nil {
		slog.Error("schedule analysis", "report", id, "error", err)
	}
	writeJSON(w, http.StatusOK, rep)
}

func (s *Server) resubmitReport(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	rep, err := s.handler.Resubmit(r.Context(), id, actorFrom(r))
	if err != nil {
		writeWorkflowError(w, err)
		return
	}
	if _, err := s.orchestrator.Analyze(r.Context(), id); err != nil {
		slog.Error("schedule analysis", "report", id, "error", err)
	}
	writeJSON(w, http.StatusOK, rep)
}

// aiDecision serves the system-only AI gate endpoints. A call that arrives
// after the report has already left AI_ANALYZING is an idempotent no-op.
func (s *Server) aiDecision(event workflow.Event) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rep, err := s.store.GetReport(r.Context(), r.PathValue("id"))
		if err != nil {
			writeWorkflowError(w, err)
			return
		}
		if rep.Status != models.StatusAIAnalyzing {
			writeJSON(w, http.StatusOK, rep)
			return
		}
		updated, err := s.handler.Machine().Transition(r.Context(), rep, event, actorFrom(r), readReason(r))
		if err != nil {
			writeWorkflowError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, updated)
	}
}

func (s *Server) advanceReport(w http.ResponseWriter, r *http.Request) {
	rep, err := s.handler.Advance(r.Context(), r.PathValue("id"), actorFrom(r))
	if err != nil {
		writeWorkflowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (s *Server) decide(decision workflow.Decision) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rep, err := s.handler.Decide(r.Context(), r.PathValue("id"), actorFrom(r), decision, readReason(r))
		if err != nil {
			writeWorkflowError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, rep)
	}
}

func (s *Server) forceSubmitReport(w http.ResponseWriter, r *http.Request) {
	rep, err := s.handler.ForceSubmit(r.Context(), r.PathValue("id"), actorFrom(r))
	if err != nil {
		writeWorkflowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

// --- Review queue ---

func (s *Server) reviewQueue(w http.ResponseWriter, r *http.Request) {
	role := models.Role(r.URL.Query().Get("role"))
	statusFilter := models.ApprovalStatus(r.URL.Query().Get("status"))

	reports, err := s.queue.ListFor(r.Context(), role, statusFilter)
	if err != nil {
		writeWorkflowError(w, err)
		return
	}
	if reports == nil {
		reports = []*models.Report{}
	}
	writeJSON(w, http.StatusOK, reports)
}
