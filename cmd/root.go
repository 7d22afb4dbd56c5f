package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"reportflow/internal/analysis"
	"reportflow/internal/llm"
	"reportflow/internal/output"
	"reportflow/internal/store"
	"reportflow/internal/workflow"
)

// Package-level shared dependencies, initialized in cobra.OnInitialize.
var (
	ui        *output.UI
	dataStore store.Store

	verbose bool
	dryRun  bool

	buildVersion = "dev"
	buildCommit  = "none"
	buildDate    = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "reportflow",
	Short: "Weekly report approval workflow",
	Long: `reportflow tracks weekly work reports through a layered approval
pipeline: an automated AI quality gate followed by up to two tiers of
human review. It provides a CLI, a REST API, and an MCP server.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	DisableAutoGenTag: true,
}

// Execute is the main entry point called from main.go.
func Execute(version, commit, date string) {
	buildVersion = version
	buildCommit = commit
	buildDate = date

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig, initDeps)

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().BoolVarP(&dryRun, "dry-run", "n", false, "Show what would happen without making changes")
	rootCmd.PersistentFlags().String("config", "", "Config file (default ~/.config/reportflow/config.yaml)")

	rootCmd.AddCommand(versionCmd)
}

func initConfig() {
	// If --config is explicitly set, use that file
	if cfgFile, _ := rootCmd.PersistentFlags().GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: cannot find home directory: %v\n", err)
			os.Exit(1)
		}

		configDir := filepath.Join(home, ".config", "reportflow")
		viper.AddConfigPath(configDir)
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("REPORTFLOW")
	viper.AutomaticEnv()

	home, _ := os.UserHomeDir()
	defaultConfigDir := filepath.Join(home, ".config", "reportflow")

	viper.SetDefault("state_dir", defaultConfigDir)
	viper.SetDefault("db_path", filepath.Join(defaultConfigDir, "reportflow.db"))
	viper.SetDefault("anthropic.api_key", "")
	viper.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	viper.SetDefault("scoring.provider", "anthropic")
	viper.SetDefault("scoring.timeout_seconds", 30)
	viper.SetDefault("scoring.prompt_version", "v1")

	// Read config file if it exists (optional)
	_ = viper.ReadInConfig()
}

func initDeps() {
	ui = output.New()
	ui.Verbose = verbose
	ui.DryRun = dryRun

	// The store is initialized lazily so config/version commands run
	// without a db.
}

// getStore returns the shared store, initializing it on first call.
func getStore() (store.Store, error) {
	if dataStore != nil {
		return dataStore, nil
	}

	dbPath := viper.GetString("db_path")
	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := s.Migrate(rootCmd.Context()); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	dataStore = s
	return dataStore, nil
}

// scoringConfig builds the orchestrator config from viper.
func scoringConfig() analysis.Config {
	return analysis.Config{
		Provider:              viper.GetString("scoring.provider"),
		Model:                 viper.GetString("anthropic.model"),
		PromptTemplateVersion: viper.GetString("scoring.prompt_version"),
		Timeout:               time.Duration(viper.GetInt("scoring.timeout_seconds")) * time.Second,
	}
}

// buildWorkflow wires the state machine, decision handler, queue, and
// orchestrator over the shared store.
func buildWorkflow() (store.Store, *workflow.Handler, *workflow.Queue, *analysis.Orchestrator, error) {
	s, err := getStore()
	if err != nil {
		return nil, nil, nil, nil, err
	}

	machine := workflow.NewMachine(s)
	handler := workflow.NewHandler(s, machine)
	queue := workflow.NewQueue(s)

	gateway := llm.NewClient(viper.GetString("anthropic.api_key"), viper.GetString("anthropic.model"))
	orchestrator := analysis.NewOrchestrator(s, gateway, machine, scoringConfig())

	return s, handler, queue, orchestrator, nil
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(ui.Out, "reportflow %s (commit %s, built %s)\n", buildVersion, buildCommit, buildDate)
	},
}
