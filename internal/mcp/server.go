package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"reportflow/internal/models"
	"reportflow/internal/store"
	"reportflow/internal/workflow"
)

// Server wraps the reportflow data layer and exposes it as MCP tools, so an
// agent can inspect queues and act as a reviewer.
type Server struct {
	store   store.Store
	handler *workflow.Handler
	queue   *workflow.Queue
}

// NewServer creates the MCP server wrapper with all required dependencies.
func NewServer(s store.Store, h *workflow.Handler, q *workflow.Queue) *Server {
	return &Server{store: s, handler: h, queue: q}
}

// MCPServer returns a configured mcp-go server with all tools registered.
func (s *Server) MCPServer() *server.MCPServer {
	srv := server.NewMCPServer("reportflow", "1.0.0", server.WithToolCapabilities(true))

	srv.AddTool(s.listReportsTool())
	srv.AddTool(s.getReportTool())
	srv.AddTool(s.reviewQueueTool())
	srv.AddTool(s.decideTool())
	srv.AddTool(s.forceSubmitTool())
	srv.AddTool(s.getAnalysisTool())

	return srv
}

// ServeStdio starts the stdio transport, blocking until ctx is cancelled.
func (s *Server) ServeStdio(ctx context.Context) error {
	srv := s.MCPServer()
	stdioServer := server.NewStdioServer(srv)
	return stdioServer.Listen(ctx, os.Stdin, os.Stdout)
}

// reportOut is the compact report shape returned by tools.
type reportOut struct {
	ID              string `json:"id"`
	Owner           string `json:"owner"`
	Title           string `json:"title"`
	Period          string `json:"period"`
	Status          string `json:"status"`
	Cycle           int    `json:"cycle"`
	Version         int64  `json:"version"`
	RejectionReason string `json:"rejection_reason,omitempty"`
}

func toReportOut(r *models.Report) reportOut {
	return reportOut{
		ID:              r.ID,
		Owner:           r.OwnerID,
		Title:           r.Title,
		Period:          r.PeriodLabel,
		Status:          string(r.Status),
		Cycle:           r.Cycle,
		Version:         r.Version,
		RejectionReason: r.RejectionReason,
	}
}

func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// ---------------------------------------------------------------------------
// Tool definitions and handlers
// ---------------------------------------------------------------------------

// rf_list_reports
func (s *Server) listReportsTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("rf_list_reports",
		mcp.WithDescription("List reports. Returns a JSON array with id, owner, title, period, status, cycle, and version."),
		mcp.WithString("status", mcp.Description("Filter by approval status, e.g. ADMIN_REVIEWING")),
		mcp.WithString("owner", mcp.Description("Filter by owner ID")),
	)
	return tool, s.handleListReports
}

func (s *Server) handleListReports(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	filter := store.ReportListFilter{OwnerID: request.GetString("owner", "")}
	if st := request.GetString("status", ""); st != "" {
		status := models.ApprovalStatus(st)
		if !status.Valid() {
			return mcp.NewToolResultError(fmt.Sprintf("unknown status: %s", st)), nil
		}
		filter.Statuses = []models.ApprovalStatus{status}
	}

	reports, err := s.store.ListReports(ctx, filter)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list reports: %v", err)), nil
	}

	out := make([]reportOut, len(reports))
	for i, r := range reports {
		out[i] = toReportOut(r)
	}
	return marshalResult(out)
}

// rf_get_report
func (s *Server) getReportTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("rf_get_report",
		mcp.WithDescription("Get one report including its content and workflow fields."),
		mcp.WithString("report_id", mcp.Required(), mcp.Description("Report ID")),
	)
	return tool, s.handleGetReport
}

func (s *Server) handleGetReport(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("report_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: report_id"), nil
	}
	r, err := s.store.GetReport(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("report not found: %s", id)), nil
	}

	result := map[string]any{
		"report":  toReportOut(r),
		"content": r.Content,
		"reviewers": map[string]string{
			"tier1": r.Tier1ReviewerRef,
			"tier2": r.Tier2ReviewerRef,
		},
		"ai_analysis_ref": r.AIAnalysisRef,
	}
	return marshalResult(result)
}

// rf_review_queue
func (s *Server) reviewQueueTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("rf_review_queue",
		mcp.WithDescription("List reports awaiting a decision for a reviewer role (admin or super_admin), oldest submission first."),
		mcp.WithString("role", mcp.Required(), mcp.Description("Reviewer role: admin or super_admin")),
	)
	return tool, s.handleReviewQueue
}

func (s *Server) handleReviewQueue(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	role, err := request.RequireString("role")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: role"), nil
	}
	reports, err := s.queue.ListFor(ctx, models.Role(role), "")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list queue: %v", err)), nil
	}
	out := make([]reportOut, len(reports))
	for i, r := range reports {
		out[i] = toReportOut(r)
	}
	return marshalResult(out)
}

// rf_decide
func (s *Server) decideTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("rf_decide",
		mcp.WithDescription("Apply a reviewer decision to a report. The tier is implied by the report's current status. Rejections require a reason."),
		mcp.WithString("report_id", mcp.Required(), mcp.Description("Report ID")),
		mcp.WithString("decision", mcp.Required(), mcp.Description("approve or reject")),
		mcp.WithString("actor_id", mcp.Required(), mcp.Description("Reviewer identity")),
		mcp.WithString("role", mcp.Required(), mcp.Description("Reviewer role: admin or super_admin")),
		mcp.WithString("reason", mcp.Description("Rejection reason (required for reject)")),
	)
	return tool, s.handleDecide
}

func (s *Server) handleDecide(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("report_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: report_id"), nil
	}
	decision, err := request.RequireString("decision")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: decision"), nil
	}
	actorID, err := request.RequireString("actor_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: actor_id"), nil
	}
	role, err := request.RequireString("role")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: role"), nil
	}
	if decision != string(workflow.DecisionApprove) && decision != string(workflow.DecisionReject) {
		return mcp.NewToolResultError("decision must be 'approve' or 'reject'"), nil
	}

	actor := models.Actor{ID: actorID, Role: models.Role(role)}
	r, err := s.handler.Decide(ctx, id, actor, workflow.Decision(decision), request.GetString("reason", ""))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("decision failed: %v", err)), nil
	}
	return marshalResult(toReportOut(r))
}

// rf_force_submit
func (s *Server) forceSubmitTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("rf_force_submit",
		mcp.WithDescription("Override a failed AI gate: move an AI_REJECTED report directly into the tier-1 review queue. Admin only."),
		mcp.WithString("report_id", mcp.Required(), mcp.Description("Report ID")),
		mcp.WithString("actor_id", mcp.Required(), mcp.Description("Admin identity, recorded with the override")),
	)
	return tool, s.handleForceSubmit
}

func (s *Server) handleForceSubmit(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("report_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: report_id"), nil
	}
	actorID, err := request.RequireString("actor_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: actor_id"), nil
	}

	actor := models.Actor{ID: actorID, Role: models.RoleAdmin}
	r, err := s.handler.ForceSubmit(ctx, id, actor)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("force-submit failed: %v", err)), nil
	}
	return marshalResult(toReportOut(r))
}

// rf_get_analysis
func (s *Server) getAnalysisTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("rf_get_analysis",
		mcp.WithDescription("Get the AI analysis history for a report, most recent first."),
		mcp.WithString("report_id", mcp.Required(), mcp.Description("Report ID")),
	)
	return tool, s.handleGetAnalysis
}

func (s *Server) handleGetAnalysis(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("report_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: report_id"), nil
	}
	results, err := s.store.ListAnalysisResults(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list analysis results: %v", err)), nil
	}

	type analysisOut struct {
		ID           string   `json:"id"`
		Cycle        int      `json:"cycle"`
		Score        *float64 `json:"score"`
		IsPass       bool     `json:"is_pass"`
		RiskLevel    string   `json:"risk_level"`
		FailureClass string   `json:"failure_class,omitempty"`
		Provider     string   `json:"provider"`
		Model        string   `json:"model"`
		LatencyMS    int64    `json:"latency_ms"`
	}
	out := make([]analysisOut, len(results))
	for i, res := range results {
		out[i] = analysisOut{
			ID:           res.ID,
			Cycle:        res.Cycle,
			Score:        res.Score,
			IsPass:       res.IsPass,
			RiskLevel:    string(res.RiskLevel),
			FailureClass: res.FailureClass,
			Provider:     res.Provider,
			Model:        res.Model,
			LatencyMS:    res.LatencyMS,
		}
	}
	return marshalResult(out)
}
