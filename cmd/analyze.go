package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Rom0219/EDR-ringdown-search/internal/app"
)

var (
	// Analyze command flags
	analyzeCatalog       string
	analyzeOutputFile    string
	analyzeOutputDir     string
	analyzeEvents        []string
	analyzeDetectors     []string
	analyzeMaxConcurrent int
	analyzeUnitTimeout   time.Duration
	analyzeStorePath     string
	analyzeMetricsLog    string
	analyzeQuiet         bool
)

// analyzeCmd runs the full pipeline over a catalog
var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Run the GR versus EDR comparison over an event catalog",
	Long: `Run ringdown extraction and model comparison for every enabled
(event, detector) unit of a catalog.

Each unit is whitened, its ringdown window located, and fitted with the GR
and EDR templates. A failure in one unit is recorded and never stops the
others. Per-unit records are written to the output directory and the run
summary with aggregate statistics is printed or written to --output-file.

Examples:
  # Analyse every enabled unit of a catalog
  ringdown analyze --catalog catalog.yaml

  # Only GW150914 on both detectors, results as YAML
  ringdown analyze --catalog catalog.yaml --events GW150914 -o yaml

  # Keep results in SQLite and emit per-unit metrics
  ringdown analyze --catalog catalog.yaml --store results/ringdown.sqlite3 --metrics-log metrics.log

  # Tight per-unit timeout with more workers
  ringdown analyze --catalog catalog.yaml --concurrent 8 --unit-timeout 30s`,
	RunE: runAnalyze,
}

func init() {
	rootCmd.AddCommand(analyzeCmd)

	analyzeCmd.Flags().StringVarP(&analyzeCatalog, "catalog", "c", "",
		"event catalog file (YAML or JSON)")
	analyzeCmd.Flags().StringVarP(&analyzeOutputFile, "output-file", "f", "",
		"write the run summary to this file instead of stdout")
	analyzeCmd.Flags().StringVar(&analyzeOutputDir, "output-dir", "",
		"directory for per-unit records (default from config output.dir)")
	analyzeCmd.Flags().StringSliceVar(&analyzeEvents, "events", nil,
		"only analyse these events")
	analyzeCmd.Flags().StringSliceVar(&analyzeDetectors, "detectors", nil,
		"only analyse these detectors (H1, L1, V1)")
	analyzeCmd.Flags().IntVar(&analyzeMaxConcurrent, "concurrent", 0,
		"maximum units analysed at once (default from config)")
	analyzeCmd.Flags().DurationVar(&analyzeUnitTimeout, "unit-timeout", 0,
		"time limit per unit (default from config)")
	analyzeCmd.Flags().StringVar(&analyzeStorePath, "store", "",
		"persist records in this SQLite database")
	analyzeCmd.Flags().StringVar(&analyzeMetricsLog, "metrics-log", "",
		"write per-unit metrics to this file")
	analyzeCmd.Flags().BoolVarP(&analyzeQuiet, "quiet", "q", false,
		"suppress informational logging")

	analyzeCmd.MarkFlagRequired("catalog")
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	appCtx := &app.Context{
		CatalogFile:   analyzeCatalog,
		OutputFile:    analyzeOutputFile,
		OutputDir:     analyzeOutputDir,
		Events:        analyzeEvents,
		Detectors:     analyzeDetectors,
		MaxConcurrent: analyzeMaxConcurrent,
		UnitTimeout:   analyzeUnitTimeout,
		StorePath:     analyzeStorePath,
		MetricsLog:    analyzeMetricsLog,
		Verbose:       verbose,
		Quiet:         analyzeQuiet,
	}
	if cmd.Flags().Changed("output") {
		appCtx.OutputFormat = outputFormat
	}

	ringdownApp, err := app.NewRingdownApp(appCtx)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := ringdownApp.Run(ctx); err != nil {
		return fmt.Errorf("analysis failed: %w", err)
	}
	return nil
}
