package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"reportflow/internal/models"
	"reportflow/internal/output"
)

var (
	queueRole   string
	queueFilter string
)

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Show the review queue for a reviewer role",
	Long: `Show the reports awaiting a decision, oldest submission first.

Admins see AI-approved reports plus those already in tier-1 review;
super admins see reports escalated into tier-2 review.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return queueRun(cmd)
	},
}

func init() {
	queueCmd.Flags().StringVar(&queueRole, "role", "admin", "Reviewer role: admin or super_admin")
	queueCmd.Flags().StringVar(&queueFilter, "status", "", "Narrow to a single status within the role's queue")
	rootCmd.AddCommand(queueCmd)
}

func queueRun(cmd *cobra.Command) error {
	_, _, queue, _, err := buildWorkflow()
	if err != nil {
		return err
	}

	reports, err := queue.ListFor(cmd.Context(), models.Role(queueRole), models.ApprovalStatus(strings.ToUpper(queueFilter)))
	if err != nil {
		return err
	}
	if len(reports) == 0 {
		ui.Info("Queue is empty")
		return nil
	}

	table := ui.Table([]string{"ID", "OWNER", "PERIOD", "TITLE", "STATUS", "CYCLE", "SUBMITTED"})
	for _, r := range reports {
		submitted := "-"
		if r.SubmittedAt != nil {
			submitted = r.SubmittedAt.Format("2006-01-02 15:04")
		}
		_ = table.Append([]string{
			r.ID,
			r.OwnerID,
			r.PeriodLabel,
			truncate(r.Title, 40),
			output.StatusColor(string(r.Status)),
			fmt.Sprintf("%d", r.Cycle),
			submitted,
		})
	}
	return table.Render()
}
