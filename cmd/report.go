package cmd

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"reportflow/internal/health"
	"reportflow/internal/models"
	"reportflow/internal/output"
	"reportflow/internal/store"
	"reportflow/internal/workflow"
)

var (
	reportOwner   string
	reportTitle   string
	reportPeriod  string
	reportContent string
	reportFile    string
	reportStatus  string
	reportActor   string
	reportRole    string
	reportReason  string
	reportWait    bool
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Create, inspect, and move reports through approval",
}

var reportListCmd = &cobra.Command{
	Use:   "list",
	Short: "List reports",
	RunE: func(cmd *cobra.Command, args []string) error {
		return reportListRun(cmd)
	},
}

var reportShowCmd = &cobra.Command{
	Use:   "show <report-id>",
	Short: "Show one report with workflow details and analysis history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return reportShowRun(cmd, args[0])
	},
}

var reportCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a draft report",
	RunE: func(cmd *cobra.Command, args []string) error {
		return reportCreateRun(cmd)
	},
}

var reportSubmitCmd = &cobra.Command{
	Use:   "submit <report-id>",
	Short: "Submit a draft to the AI quality gate",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return reportSubmitRun(cmd, args[0], false)
	},
}

var reportResubmitCmd = &cobra.Command{
	Use:   "resubmit <report-id>",
	Short: "Start a fresh approval cycle for a rejected report",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return reportSubmitRun(cmd, args[0], true)
	},
}

var reportApproveCmd = &cobra.Command{
	Use:   "approve <report-id>",
	Short: "Approve a report at the tier implied by its status",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return reportDecideRun(cmd, args[0], workflow.DecisionApprove)
	},
}

var reportRejectCmd = &cobra.Command{
	Use:   "reject <report-id>",
	Short: "Reject a report at the tier implied by its status (requires --reason)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return reportDecideRun(cmd, args[0], workflow.DecisionReject)
	},
}

var reportAdvanceCmd = &cobra.Command{
	Use:   "advance <report-id>",
	Short: "Move an AI-approved report into the tier-1 review queue",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return reportAdvanceRun(cmd, args[0])
	},
}

var reportForceSubmitCmd = &cobra.Command{
	Use:   "force-submit <report-id>",
	Short: "Admin override: push an AI-rejected report into tier-1 review",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return reportForceSubmitRun(cmd, args[0])
	},
}

func init() {
	reportListCmd.Flags().StringVar(&reportOwner, "owner", "", "Filter by owner ID")
	reportListCmd.Flags().StringVar(&reportStatus, "status", "", "Filter by approval status")

	reportCreateCmd.Flags().StringVar(&reportOwner, "owner", "", "Owner ID (required)")
	reportCreateCmd.Flags().StringVar(&reportTitle, "title", "", "Report title (required)")
	reportCreateCmd.Flags().StringVar(&reportPeriod, "period", "", "Period label, e.g. 2026-W35 (required)")
	reportCreateCmd.Flags().StringVar(&reportContent, "content", "", "Report content")
	reportCreateCmd.Flags().StringVar(&reportFile, "file", "", "Read content from file ('-' for stdin)")
	_ = reportCreateCmd.MarkFlagRequired("owner")
	_ = reportCreateCmd.MarkFlagRequired("title")
	_ = reportCreateCmd.MarkFlagRequired("period")

	for _, c := range []*cobra.Command{reportSubmitCmd, reportResubmitCmd} {
		c.Flags().StringVar(&reportActor, "actor", "", "Acting owner ID (defaults to the report owner)")
		c.Flags().BoolVar(&reportWait, "wait", true, "Wait for the AI gate verdict")
	}

	for _, c := range []*cobra.Command{reportApproveCmd, reportRejectCmd} {
		c.Flags().StringVar(&reportActor, "actor", "", "Reviewer ID (required)")
		c.Flags().StringVar(&reportRole, "role", "admin", "Reviewer role: admin or super_admin")
		_ = c.MarkFlagRequired("actor")
	}
	reportRejectCmd.Flags().StringVar(&reportReason, "reason", "", "Rejection reason (required)")
	_ = reportRejectCmd.MarkFlagRequired("reason")

	reportAdvanceCmd.Flags().StringVar(&reportActor, "actor", "", "Admin ID (required)")
	_ = reportAdvanceCmd.MarkFlagRequired("actor")

	reportForceSubmitCmd.Flags().StringVar(&reportActor, "actor", "", "Admin ID, recorded with the override (required)")
	_ = reportForceSubmitCmd.MarkFlagRequired("actor")

	reportCmd.AddCommand(reportListCmd)
	reportCmd.AddCommand(reportShowCmd)
	reportCmd.AddCommand(reportCreateCmd)
	reportCmd.AddCommand(reportSubmitCmd)
	reportCmd.AddCommand(reportResubmitCmd)
	reportCmd.AddCommand(reportApproveCmd)
	reportCmd.AddCommand(reportRejectCmd)
	reportCmd.AddCommand(reportAdvanceCmd)
	reportCmd.AddCommand(reportForceSubmitCmd)
	rootCmd.AddCommand(reportCmd)
}

func reportListRun(cmd *cobra.Command) error {
	s, err := getStore()
	if err != nil {
		return err
	}

	filter := store.ReportListFilter{OwnerID: reportOwner}
	if reportStatus != "" {
		status := models.ApprovalStatus(strings.ToUpper(reportStatus))
		if !status.Valid() {
			return fmt.Errorf("unknown status: %s", reportStatus)
		}
		filter.Statuses = []models.ApprovalStatus{status}
	}

	reports, err := s.ListReports(cmd.Context(), filter)
	if err != nil {
		return err
	}
	if len(reports) == 0 {
		ui.Info("No reports found")
		return nil
	}

	scorer := health.NewScorer()
	table := ui.Table([]string{"ID", "OWNER", "PERIOD", "TITLE", "STATUS", "CYCLE", "SCORE"})
	for _, r := range reports {
		_ = table.Append([]string{
			r.ID,
			r.OwnerID,
			r.PeriodLabel,
			truncate(r.Title, 40),
			output.StatusColor(string(r.Status)),
			fmt.Sprintf("%d", r.Cycle),
			output.ScoreColor(scorer.Score(r).Total),
		})
	}
	return table.Render()
}

func reportShowRun(cmd *cobra.Command, id string) error {
	s, err := getStore()
	if err != nil {
		return err
	}

	r, err := s.GetReport(cmd.Context(), id)
	if err != nil {
		return err
	}

	c := health.NewScorer().Score(r)

	fmt.Fprintf(ui.Out, "%s  %s\n", output.Cyan(r.ID), r.Title)
	fmt.Fprintf(ui.Out, "  Owner:    %s\n", r.OwnerID)
	fmt.Fprintf(ui.Out, "  Period:   %s\n", r.PeriodLabel)
	fmt.Fprintf(ui.Out, "  Status:   %s (cycle %d, version %d)\n", output.StatusColor(string(r.Status)), r.Cycle, r.Version)
	fmt.Fprintf(ui.Out, "  Complete: %s/100 (substance %d, structure %d, planning %d, metadata %d)\n",
		output.ScoreColor(c.Total), c.Substance, c.Structure, c.Planning, c.Metadata)
	if r.SubmittedAt != nil {
		fmt.Fprintf(ui.Out, "  Submitted: %s\n", r.SubmittedAt.Format("2006-01-02 15:04"))
	}
	if r.Tier1ReviewerRef != "" {
		fmt.Fprintf(ui.Out, "  Tier-1:   %s\n", r.Tier1ReviewerRef)
	}
	if r.Tier2ReviewerRef != "" {
		fmt.Fprintf(ui.Out, "  Tier-2:   %s\n", r.Tier2ReviewerRef)
	}
	if r.RejectionReason != "" {
		fmt.Fprintf(ui.Out, "  Rejected: %s\n", output.Red(r.RejectionReason))
	}

	results, err := s.ListAnalysisResults(cmd.Context(), r.ID)
	if err != nil {
		return err
	}
	if len(results) > 0 {
		fmt.Fprintln(ui.Out)
		fmt.Fprintln(ui.Out, "  AI analysis history:")
		for _, res := range results {
			verdict := output.Red("FAIL")
			if res.IsPass {
				verdict = output.Green("PASS")
			}
			score := "-"
			if res.Score != nil {
				score = fmt.Sprintf("%.0f", *res.Score)
			}
			line := fmt.Sprintf("    cycle %d  %s  score %s  risk %s  %s/%s  %dms",
				res.Cycle, verdict, score, res.RiskLevel, res.Provider, res.Model, res.LatencyMS)
			if res.FailureClass != "" {
				line += fmt.Sprintf("  (%s failure)", res.FailureClass)
			}
			fmt.Fprintln(ui.Out, line)
		}
	}

	if verbose && r.Content != "" {
		fmt.Fprintln(ui.Out)
		fmt.Fprintln(ui.Out, r.Content)
	}
	return nil
}

func reportCreateRun(cmd *cobra.Command) error {
	s, err := getStore()
	if err != nil {
		return err
	}

	content := reportContent
	if reportFile != "" {
		var data []byte
		var err error
		if reportFile == "-" {
			data, err = os.ReadFile("/dev/stdin")
		} else {
			data, err = os.ReadFile(reportFile)
		}
		if err != nil {
			return fmt.Errorf("read content: %w", err)
		}
		content = string(data)
	}

	r := &models.Report{
		OwnerID:     reportOwner,
		Title:       reportTitle,
		PeriodLabel: reportPeriod,
		Content:     content,
	}

	if dryRun {
		ui.DryRunMsg("Would create draft %q for %s (%s)", r.Title, r.OwnerID, r.PeriodLabel)
		return nil
	}

	if err := s.CreateReport(cmd.Context(), r); err != nil {
		return err
	}

	c := health.NewScorer().Score(r)
	ui.Success("Created draft %s (completeness %s/100)", r.ID, output.ScoreColor(c.Total))
	if c.Total < 50 {
		ui.Warning("Report looks thin; consider adding sections before submitting")
	}
	return nil
}

func reportSubmitRun(cmd *cobra.Command, id string, resubmit bool) error {
	s, handler, _, orchestrator, err := buildWorkflow()
	if err != nil {
		return err
	}

	r, err := s.GetReport(cmd.Context(), id)
	if err != nil {
		return err
	}

	actor := models.Actor{ID: reportActor, Role: models.RoleOwner}
	if actor.ID == "" {
		actor.ID = r.OwnerID
	}

	if dryRun {
		verb := "submit"
		if resubmit {
			verb = "resubmit"
		}
		ui.DryRunMsg("Would %s %s as %s", verb, id, actor.ID)
		return nil
	}

	if resubmit {
		r, err = handler.Resubmit(cmd.Context(), id, actor)
	} else {
		c := health.NewScorer().Score(r)
		if c.Total < 50 {
			ui.Warning("Completeness is %d/100; the AI gate may reject this report", c.Total)
		}
		r, err = handler.Submit(cmd.Context(), id, actor)
	}
	if err != nil {
		return err
	}
	ui.Info("Report %s is in the AI gate (cycle %d)", r.ID, r.Cycle)

	outcomes, err := orchestrator.Analyze(cmd.Context(), r.ID)
	if err != nil {
		return fmt.Errorf("start analysis: %w", err)
	}
	if !reportWait {
		return nil
	}

	ui.VerboseLog("Waiting for AI verdict")
	outcome := <-outcomes
	if outcome.Err != nil {
		return fmt.Errorf("analysis: %w", outcome.Err)
	}

	res := outcome.Result
	score := "-"
	if res.Score != nil {
		score = fmt.Sprintf("%.0f", *res.Score)
	}
	if res.IsPass {
		ui.Success("AI gate passed: score %s, risk %s", score, res.RiskLevel)
	} else {
		ui.Warning("AI gate rejected: score %s, risk %s", score, res.RiskLevel)
		if outcome.Report.RejectionReason != "" {
			fmt.Fprintf(ui.Out, "  %s\n", outcome.Report.RejectionReason)
		}
		for _, area := range res.ImprovementAreas {
			fmt.Fprintf(ui.Out, "  - %s\n", area)
		}
	}
	fmt.Fprintf(ui.Out, "  Status: %s\n", output.StatusColor(string(outcome.Report.Status)))
	return nil
}

func reportDecideRun(cmd *cobra.Command, id string, decision workflow.Decision) error {
	_, handler, _, _, err := buildWorkflow()
	if err != nil {
		return err
	}

	actor := models.Actor{ID: reportActor, Role: models.Role(reportRole)}

	if dryRun {
		ui.DryRunMsg("Would %s %s as %s (%s)", decision, id, actor.ID, actor.Role)
		return nil
	}

	r, err := handler.Decide(cmd.Context(), id, actor, decision, reportReason)
	if err != nil {
		if errors.Is(err, store.ErrVersionConflict) {
			return fmt.Errorf("the report changed while you were deciding; re-check and try again: %w", err)
		}
		return err
	}

	ui.Success("Report %s is now %s", r.ID, output.StatusColor(string(r.Status)))
	return nil
}

func reportAdvanceRun(cmd *cobra.Command, id string) error {
	_, handler, _, _, err := buildWorkflow()
	if err != nil {
		return err
	}

	actor := models.Actor{ID: reportActor, Role: models.RoleAdmin}
	if dryRun {
		ui.DryRunMsg("Would advance %s into tier-1 review as %s", id, actor.ID)
		return nil
	}

	r, err := handler.Advance(cmd.Context(), id, actor)
	if err != nil {
		return err
	}
	ui.Success("Report %s is now %s", r.ID, output.StatusColor(string(r.Status)))
	return nil
}

func reportForceSubmitRun(cmd *cobra.Command, id string) error {
	_, handler, _, _, err := buildWorkflow()
	if err != nil {
		return err
	}

	actor := models.Actor{ID: reportActor, Role: models.RoleAdmin}
	if dryRun {
		ui.DryRunMsg("Would force-submit %s past the AI gate as %s", id, actor.ID)
		return nil
	}

	r, err := handler.ForceSubmit(cmd.Context(), id, actor)
	if err != nil {
		return err
	}
	ui.Success("Override recorded; report %s is now %s", r.ID, output.StatusColor(string(r.Status)))
	return nil
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max-3]) + "..."
}
