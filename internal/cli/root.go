// Package cli provides the command-line interface for marepo.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"time"

	"github.com/spf13/cobra"

	"github.com/jacobsvennevik/marepo/internal/client"
	"github.com/jacobsvennevik/marepo/internal/config"
	"github.com/jacobsvennevik/marepo/internal/metrics"
	"github.com/jacobsvennevik/marepo/internal/mode"
	"github.com/jacobsvennevik/marepo/internal/pipeline"
	"github.com/jacobsvennevik/marepo/internal/upload"
)

var (
	// Version is set at build time.
	Version = "0.1.0"

	// Global flags
	verbose  bool
	mockFlag bool

	// Global config and shared components
	cfg       config.Config
	logger    *slog.Logger
	closeLog  func() error
	collector *metrics.Collector
	apiClient *client.Client
	selector  mode.Selector
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "marepo",
	Short: "Upload course documents and set up study projects",
	Long: `Marepo uploads syllabi and other course documents for analysis and
walks you through setting up a study project from the results.

Set MAREPO_MOCK=true (or pass --mock) to run against deterministic mock
results instead of the backend.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Skip setup for version and help commands
		if cmd.Name() == "version" || cmd.Name() == "help" {
			return nil
		}

		cfg = config.Load()
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}

		level := cfg.LogLevel
		if verbose {
			level = slog.LevelDebug
		}
		logger, closeLog = config.SetupLogger(cfg.LogFile, level)
		slog.SetDefault(logger)

		collector = metrics.NewCollector()
		apiClient = client.New(cfg.APIBaseURL,
			client.WithToken(cfg.APIToken),
			client.WithTimeout(cfg.ClientTimeout),
		)

		// The flag pins mock mode; otherwise the environment is consulted on
		// every operation.
		if mockFlag {
			selector = mode.Static(true)
		} else {
			selector = mode.FromEnv(os.Getenv)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if verbose && collector != nil {
			printMetrics(cmd, collector.Snapshot())
		}
		if closeLog != nil {
			if err := closeLog(); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: failed to close log file: %v\n", err)
			}
		}
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// Cancelling ctx stops any running analysis.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output and timing summary")
	rootCmd.PersistentFlags().BoolVar(&mockFlag, "mock", false, "use deterministic mock analysis")

	// Add subcommands
	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(projectCmd)
}

func newPolicy() upload.Policy {
	return upload.NewPolicy(cfg.AllowedExtensions, cfg.MaxUploadBytes)
}

func newPoller() *pipeline.Poller {
	return &pipeline.Poller{
		Backend:     apiClient,
		Mode:        selector,
		Interval:    cfg.PollInterval,
		MaxAttempts: cfg.PollMaxAttempts,
		Logger:      logger,
		Metrics:     collector,
	}
}

func newOrchestrator() *pipeline.Orchestrator {
	return pipeline.NewOrchestrator(pipeline.Options{
		Policy:       newPolicy(),
		Backend:      apiClient,
		Mode:         selector,
		Poller:       newPoller(),
		MockDelayMin: cfg.MockDelayMin,
		MockDelayMax: cfg.MockDelayMax,
		Logger:       logger,
		Metrics:      collector,
	})
}

// printMetrics writes the per-operation timing summary.
func printMetrics(cmd *cobra.Command, snap metrics.Snapshot) {
	w := cmd.ErrOrStderr()
	if len(snap.Operations) == 0 && len(snap.Counters) == 0 {
		return
	}
	fmt.Fprintf(w, "\nTimings (%s):\n", time.Duration(snap.UptimeSeconds*float64(time.Second)).Round(time.Millisecond))

	ops := make([]string, 0, len(snap.Operations))
	for op := range snap.Operations {
		ops = append(ops, op)
	}
	slices.Sort(ops)
	for _, op := range ops {
		s := snap.Operations[op]
		fmt.Fprintf(w, "  %-20s %3d calls  %3d errors  avg %6.0fms  max %5dms\n",
			op, s.Count, s.Errors, s.AvgTimeMs, s.MaxTimeMs)
	}

	names := make([]string, 0, len(snap.Counters))
	for name := range snap.Counters {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		fmt.Fprintf(w, "  %-20s %d\n", name, snap.Counters[name])
	}
}
