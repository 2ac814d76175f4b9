package cmd

import (
	"fmt"
	"os"

	"github.com/RyanBlaney/latency-benchmark-common/logging"
	"github.com/spf13/cobra"

	"github.com/Rom0219/EDR-ringdown-search/configs"
	"github.com/Rom0219/EDR-ringdown-search/internal/app"
	"github.com/Rom0219/EDR-ringdown-search/internal/pipeline"
	"github.com/Rom0219/EDR-ringdown-search/internal/ringdown"
	"github.com/Rom0219/EDR-ringdown-search/internal/store"
)

var (
	summarizeDir          string
	summarizeStore        string
	summarizeMinAmplitude float64
	summarizeMaxShift     float64
	summarizeReliable     bool
	summarizeOutputFile   string
)

// summarizeCmd aggregates previously written unit records
var summarizeCmd = &cobra.Command{
	Use:   "summarize",
	Short: "Aggregate EDR parameters over stored unit records",
	Long: `Read unit records from a results directory or the SQLite store and
report aggregate statistics of the EDR amplitude and fractional shifts over
the reliable units, plus model preference and failure counts.

A unit is reliable when it succeeded, is not degenerate, its EDR amplitude is
at least --min-amplitude and both fractional shifts are below --max-shift.

Examples:
  # Summarise the per-unit JSON files of the last run
  ringdown summarize --dir results

  # Summarise the store, listing only reliable units as a table
  ringdown summarize --store results/ringdown.sqlite3 --reliable -o table`,
	RunE: runSummarize,
}

func init() {
	rootCmd.AddCommand(summarizeCmd)

	summarizeCmd.Flags().StringVar(&summarizeDir, "dir", "", "directory of <event>_<detector>.json records (default from config output.dir)")
	summarizeCmd.Flags().StringVar(&summarizeStore, "store", "", "read records from this SQLite database instead of a directory")
	summarizeCmd.Flags().Float64Var(&summarizeMinAmplitude, "min-amplitude", 0, "minimum EDR amplitude (default from config)")
	summarizeCmd.Flags().Float64Var(&summarizeMaxShift, "max-shift", 0, "maximum |fractional shift| (default from config)")
	summarizeCmd.Flags().BoolVar(&summarizeReliable, "reliable", false, "list the reliable units instead of the aggregate")
	summarizeCmd.Flags().StringVarP(&summarizeOutputFile, "output-file", "f", "", "write to this file instead of stdout")
}

func runSummarize(cmd *cobra.Command, args []string) error {
	config, err := configs.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	records, err := loadSummaryRecords(config)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return fmt.Errorf("no unit records found")
	}

	minAmplitude := config.Reliability.MinAmplitude
	if summarizeMinAmplitude > 0 {
		minAmplitude = summarizeMinAmplitude
	}
	maxShift := config.Reliability.MaxShift
	if summarizeMaxShift > 0 {
		maxShift = summarizeMaxShift
	}

	calc := pipeline.NewMetricsCalculator(minAmplitude, maxShift, logging.NewDefaultLogger())

	var data any
	if summarizeReliable {
		reliable := calc.Reliable(records)
		if config.OutputFormat == "csv" || config.OutputFormat == "table" {
			data = app.RecordRows(reliable)
		} else {
			data = reliable
		}
	} else {
		data = calc.Summarize(records)
	}

	formatted, err := app.FormatOutput(data, config.OutputFormat, config.Output.Pretty)
	if err != nil {
		return err
	}
	if summarizeOutputFile != "" {
		return app.WriteToFile(summarizeOutputFile, formatted)
	}
	_, err = os.Stdout.Write(formatted)
	return err
}

func loadSummaryRecords(config *configs.Config) ([]*ringdown.UnitRecord, error) {
	if summarizeStore != "" {
		db, err := store.NewDBClientWithPath(summarizeStore)
		if err != nil {
			return nil, fmt.Errorf("failed to open result store: %w", err)
		}
		defer db.Close()
		return db.ListRecords()
	}

	dir := summarizeDir
	if dir == "" {
		dir = config.Output.Dir
	}
	return app.LoadRecordsFromDir(dir)
}
