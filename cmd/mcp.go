package cmd

import (
	"github.com/spf13/cobra"

	"reportflow/internal/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP stdio server for agent integration",
	Long: `Start an MCP (Model Context Protocol) server on stdio.

This lets an agent inspect review queues and act as a reviewer.
Configure in Claude Code with:

  {
    "mcpServers": {
      "reportflow": { "command": "reportflow", "args": ["mcp"] }
    }
  }

Available tools: rf_list_reports, rf_get_report, rf_review_queue,
rf_decide, rf_force_submit, rf_get_analysis`,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, handler, queue, _, err := buildWorkflow()
		if err != nil {
			return err
		}

		srv := mcp.NewServer(s, handler, queue)
		return srv.ServeStdio(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}
