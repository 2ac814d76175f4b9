package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/RyanBlaney/latency-benchmark-common/logging"
	"github.com/Rom0219/EDR-ringdown-search/internal/ringdown"
	"github.com/Rom0219/EDR-ringdown-search/pkg/compare"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// RecordSink receives every finished unit record
type RecordSink interface {
	SaveRecord(record *ringdown.UnitRecord) error
}

// RunnerConfig controls the worker pool
type RunnerConfig struct {
	MaxConcurrent int
	UnitTimeout   time.Duration
	RunTimeout    time.Duration
	// OutputDir receives <key>.json and <key>_comparison.txt; empty disables per-unit files
	OutputDir string
}

// DefaultRunnerConfig returns the default worker pool settings
func DefaultRunnerConfig() *RunnerConfig {
	return &RunnerConfig{
		MaxConcurrent: 4,
		UnitTimeout:   2 * time.Minute,
		RunTimeout:    30 * time.Minute,
	}
}

// Orchestrator runs analysis units on a bounded worker pool
type Orchestrator struct {
	config *RunnerConfig
	engine *ringdown.AnalysisEngine
	sink   RecordSink
	logger logging.Logger
}

// NewOrchestrator creates a new orchestrator. sink may be nil.
func NewOrchestrator(config *RunnerConfig, engine *ringdown.AnalysisEngine, sink RecordSink, logger logging.Logger) *Orchestrator {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	if config == nil {
		config = DefaultRunnerConfig()
	}
	if engine == nil {
		engine = ringdown.NewAnalysisEngine(&ringdown.EngineConfig{Logger: logger})
	}

	return &Orchestrator{
		config: config,
		engine: engine,
		sink:   sink,
		logger: logger.WithFields(logging.Fields{"component": "orchestrator"}),
	}
}

// Run analyses every unit. Unit failures are isolated into their records; Run only fails
// when there is nothing to do.
func (o *Orchestrator) Run(ctx context.Context, units []*ringdown.Unit) (*ringdown.RunSummary, error) {
	if len(units) == 0 {
		return nil, fmt.Errorf("no units to analyse")
	}

	startTime := time.Now()
	runID := uuid.NewString()

	o.logger.Info("Starting ringdown run", logging.Fields{
		"run_id":         runID,
		"units":          len(units),
		"max_concurrent": o.config.MaxConcurrent,
		"unit_timeout":   o.config.UnitTimeout.String(),
	})

	runCtx := ctx
	if o.config.RunTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, o.config.RunTimeout)
		defer cancel()
	}

	if o.config.OutputDir != "" {
		if err := os.MkdirAll(o.config.OutputDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create output directory: %w", err)
		}
	}

	var (
		mu      sync.Mutex
		records = make(map[string]*ringdown.UnitRecord, len(units))
	)

	var group errgroup.Group
	if o.config.MaxConcurrent > 0 {
		group.SetLimit(o.config.MaxConcurrent)
	}

	for _, unit := range units {
		group.Go(func() error {
			record := o.runUnit(runCtx, unit)
			record.RunID = runID
			o.persist(record)

			mu.Lock()
			records[record.Key()] = record
			mu.Unlock()
			return nil
		})
	}
	_ = group.Wait()

	endTime := time.Now()
	summary := &ringdown.RunSummary{
		RunID:         runID,
		StartTime:     startTime,
		EndTime:       endTime,
		TotalDuration: endTime.Sub(startTime),
		Records:       records,
	}
	o.calculateSummaryMetrics(summary)

	o.logger.Info("Ringdown run completed", logging.Fields{
		"run_id":           runID,
		"total_duration_s": summary.TotalDuration.Seconds(),
		"successful_units": summary.SuccessfulUnits,
		"failed_units":     summary.FailedUnits,
		"degenerate_units": summary.DegenerateUnits,
		"edr_favored":      summary.EDRFavored,
	})

	return summary, nil
}

func (o *Orchestrator) runUnit(ctx context.Context, unit *ringdown.Unit) *ringdown.UnitRecord {
	unitCtx := ctx
	if o.config.UnitTimeout > 0 {
		var cancel context.CancelFunc
		unitCtx, cancel = context.WithTimeout(ctx, o.config.UnitTimeout)
		defer cancel()
	}
	return o.engine.AnalyzeUnit(unitCtx, unit)
}

// persist writes the per-unit files and forwards the record to the sink. Failures are logged.
func (o *Orchestrator) persist(record *ringdown.UnitRecord) {
	if o.config.OutputDir != "" {
		if err := WriteUnitOutputs(o.config.OutputDir, record); err != nil {
			o.logger.Error(err, "Failed to write unit outputs", logging.Fields{"unit": record.Key()})
		}
	}
	if o.sink != nil {
		if err := o.sink.SaveRecord(record); err != nil {
			o.logger.Error(err, "Failed to store unit record", logging.Fields{"unit": record.Key()})
		}
	}
}

// WriteUnitOutputs writes <key>.json and <key>_comparison.txt into dir
func WriteUnitOutputs(dir string, record *ringdown.UnitRecord) error {
	key := record.Key()

	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode record: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, key+".json"), data, 0644); err != nil {
		return fmt.Errorf("failed to write record: %w", err)
	}

	file, err := os.Create(filepath.Join(dir, key+"_comparison.txt"))
	if err != nil {
		return fmt.Errorf("failed to create comparison report: %w", err)
	}
	defer file.Close()

	if report := record.TextReport(); report != nil {
		return report.Write(file)
	}
	_, err = fmt.Fprintf(file, "Ringdown model comparison: %s / %s\n\nAnalysis failed (%s): %s\n",
		record.Event, record.Detector, record.ErrorKind, record.Message)
	return err
}

// calculateSummaryMetrics fills the run-level counters
func (o *Orchestrator) calculateSummaryMetrics(summary *ringdown.RunSummary) {
	for _, record := range summary.Records {
		if !record.OK {
			summary.FailedUnits++
			continue
		}
		summary.SuccessfulUnits++
		if record.Degenerate {
			summary.DegenerateUnits++
		}
		if record.Comparison == nil {
			continue
		}
		switch record.Comparison.FavoredModel {
		case compare.ModelEDR:
			summary.EDRFavored++
		case compare.ModelGR:
			summary.GRFavored++
		}
	}
}

// SortedRecords returns the summary records ordered by key
func SortedRecords(summary *ringdown.RunSummary) []*ringdown.UnitRecord {
	records := make([]*ringdown.UnitRecord, 0, len(summary.Records))
	for _, r := range summary.Records {
		records = append(records, r)
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].Key() < records[j].Key()
	})
	return records
}
