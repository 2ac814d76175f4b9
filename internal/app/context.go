package app

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"syscall"
	"time"

	"github.com/RyanBlaney/latency-benchmark-common/logging"
	"github.com/RyanBlaney/latency-benchmark-common/output"
	"github.com/Rom0219/EDR-ringdown-search/configs"
	"github.com/Rom0219/EDR-ringdown-search/internal/pipeline"
	"github.com/Rom0219/EDR-ringdown-search/internal/ringdown"
	"github.com/Rom0219/EDR-ringdown-search/internal/store"
	"github.com/Rom0219/EDR-ringdown-search/pkg/common"
	"github.com/tunein/go-logging/v7/pkg/logger"
	"github.com/tunein/go-logging/v7/pkg/logger/logtypes"
	"github.com/tunein/go-logging/v7/pkg/rootcollector"
	"github.com/tunein/go-logging/v7/pkg/rootlogger"
)

// Context holds the application context and configuration
type Context struct {
	// CLI arguments
	CatalogFile   string // Event catalog (required)
	OutputFile    string
	OutputFormat  string
	OutputDir     string
	Events        []string
	Detectors     []string
	MaxConcurrent int
	UnitTimeout   time.Duration
	Verbose       bool
	Quiet         bool
	StorePath     string // non-empty enables the SQLite store
	MetricsLog    string // non-empty enables per-unit metrics

	// Runtime context
	Logger  logging.Logger
	Config  *configs.Config
	Catalog *ringdown.Catalog
}

// RingdownApp handles the analysis application lifecycle
type RingdownApp struct {
	ctx     *Context
	config  *configs.Config
	catalog *ringdown.Catalog
	logger  logging.Logger
}

// NewRingdownApp creates a new ringdown application
func NewRingdownApp(ctx *Context) (*RingdownApp, error) {
	logger := setupLogging(ctx)
	ctx.Logger = logger

	config, catalog, err := loadAndMergeConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	ctx.Config = config
	ctx.Catalog = catalog

	logger.Debug("Ringdown application initialized", logging.Fields{
		"catalog_file":  ctx.CatalogFile,
		"output_format": config.OutputFormat,
		"events":        len(catalog.GetEnabledEvents()),
		"modes":         config.Models.Modes,
	})

	return &RingdownApp{
		ctx:     ctx,
		config:  config,
		catalog: catalog,
		logger:  logger,
	}, nil
}

// Run analyses every selected unit and writes the run summary
func (app *RingdownApp) Run(ctx context.Context) error {
	units := app.selectUnits()
	if len(units) == 0 {
		return fmt.Errorf("no enabled units match the selection")
	}

	engineConfig, err := EngineConfigFrom(app.config, app.logger)
	if err != nil {
		return err
	}
	engine := ringdown.NewAnalysisEngine(engineConfig)

	var sink pipeline.RecordSink
	if app.config.Store.Enabled {
		db, err := store.NewDBClientWithPath(app.config.Store.Path)
		if err != nil {
			return fmt.Errorf("failed to open result store: %w", err)
		}
		defer db.Close()
		sink = db
	}

	orchestrator := pipeline.NewOrchestrator(RunnerConfigFrom(app.config), engine, sink, app.logger)
	summary, err := orchestrator.Run(ctx, units)
	if err != nil {
		return fmt.Errorf("ringdown run failed: %w", err)
	}

	records := pipeline.SortedRecords(summary)
	aggregate := pipeline.NewMetricsCalculator(app.config.Reliability.MinAmplitude,
		app.config.Reliability.MaxShift, app.logger).Summarize(records)

	if err := app.outputResults(summary, records, aggregate); err != nil {
		return fmt.Errorf("failed to output results: %w", err)
	}

	app.collectUnitMetrics(records)

	if summary.FailedUnits > 0 && summary.SuccessfulUnits == 0 {
		return fmt.Errorf("all %d units failed", summary.FailedUnits)
	}

	return nil
}

// selectUnits applies the event and detector filters to the catalog units
func (app *RingdownApp) selectUnits() []*ringdown.Unit {
	events := toSet(app.ctx.Events, strings.ToUpper)
	detectors := toSet(app.ctx.Detectors, common.NormalizeDetector)

	var units []*ringdown.Unit
	for _, unit := range app.catalog.Units() {
		if len(events) > 0 && !events[strings.ToUpper(unit.Event)] {
			continue
		}
		if len(detectors) > 0 && !detectors[unit.Detector] {
			continue
		}
		units = append(units, unit)
	}
	return units
}

func toSet(values []string, normalize func(string) string) map[string]bool {
	set := make(map[string]bool, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			set[normalize(v)] = true
		}
	}
	return set
}

// setupLogging configures logging based on context
func setupLogging(ctx *Context) logging.Logger {
	if ctx.Quiet || !ctx.Verbose {
		logging.SetLevel(logging.InfoLevel)
	}
	return logging.NewDefaultLogger()
}

// loadAndMergeConfig loads the application config and the catalog and applies CLI overrides
func loadAndMergeConfig(ctx *Context) (*configs.Config, *ringdown.Catalog, error) {
	config, err := configs.LoadConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load base configuration: %w", err)
	}

	if ctx.CatalogFile == "" {
		return nil, nil, fmt.Errorf("catalog file is required")
	}
	catalog, err := LoadCatalogFromFile(ctx.CatalogFile)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load catalog: %w", err)
	}
	if catalog.DataDir == "" {
		catalog.DataDir = config.DataDir
	}

	mergeConfig(config, ctx)

	if err := configs.ValidateConfig(config); err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := catalog.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid catalog: %w", err)
	}

	return config, catalog, nil
}

// mergeConfig overrides configuration values with CLI flags
func mergeConfig(config *configs.Config, ctx *Context) {
	if ctx.OutputFormat != "" {
		config.OutputFormat = ctx.OutputFormat
	}
	if ctx.OutputDir != "" {
		config.Output.Dir = ctx.OutputDir
	}
	if ctx.MaxConcurrent > 0 {
		config.Runner.MaxConcurrent = ctx.MaxConcurrent
	}
	if ctx.UnitTimeout > 0 {
		config.Runner.UnitTimeout = ctx.UnitTimeout
	}
	if ctx.StorePath != "" {
		config.Store.Enabled = true
		config.Store.Path = ctx.StorePath
	}
	config.Verbose = config.Verbose || ctx.Verbose
}

// outputResults handles all result output
func (app *RingdownApp) outputResults(summary *ringdown.RunSummary, records []*ringdown.UnitRecord, aggregate *pipeline.AggregateMetrics) error {
	var data any
	switch app.config.OutputFormat {
	case "csv", "table":
		data = RecordRows(records)
	default:
		outputData := map[string]any{
			"run_summary": cleanRunSummary(summary),
			"aggregate":   aggregate,
			"timestamp":   time.Now(),
			"configuration": map[string]any{
				"normalization": app.config.Whitening.Normalization,
				"gr_variant":    app.config.Models.GRVariant,
				"edr_variant":   app.config.Models.EDRVariant,
				"modes":         app.config.Models.Modes,
				"tie_tolerance": app.config.Models.TieTolerance,
				"unit_timeout":  app.config.Runner.UnitTimeout.Seconds(),
			},
		}
		if app.config.Output.IncludeRecords || app.config.Verbose {
			outputData["records"] = records
		}
		data = outputData
	}

	formatted, err := FormatOutput(data, app.config.OutputFormat, app.config.Output.Pretty)
	if err != nil {
		return err
	}

	if app.ctx.OutputFile != "" {
		if err := WriteToFile(app.ctx.OutputFile, formatted); err != nil {
			return err
		}
		app.logger.Debug("Results written to file", logging.Fields{
			"output_file": app.ctx.OutputFile,
			"size_bytes":  len(formatted),
		})
		return nil
	}

	_, err = os.Stdout.Write(formatted)
	return err
}

// FormatOutput renders data with the formatter for format (json by default)
func FormatOutput(data any, format string, pretty bool) ([]byte, error) {
	var formatter output.Formatter
	switch format {
	case "json":
		formatter = &output.JSONFormatter{}
	case "yaml":
		formatter = &output.YAMLFormatter{}
	case "csv":
		formatter = &output.CSVFormatter{}
	case "table":
		formatter = &output.TableFormatter{}
	default:
		formatter = &output.JSONFormatter{}
	}

	formatted, err := formatter.Format(data, pretty)
	if err != nil {
		// Bayes factors overflow to +Inf for large ΔBIC, which JSON cannot carry
		if strings.Contains(err.Error(), "unsupported value") {
			formatted, err = formatter.Format(sanitizeForJSON(data), pretty)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to format output data: %w", err)
		}
	}
	return formatted, nil
}

// WriteToFile writes data to path, creating its directory
func WriteToFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write output file: %w", err)
	}
	return nil
}

// RecordRows flattens records into one row per unit for tabular formats
func RecordRows(records []*ringdown.UnitRecord) []map[string]any {
	rows := make([]map[string]any, 0, len(records))
	for _, r := range records {
		row := map[string]any{
			"unit":       r.Key(),
			"ok":         r.OK,
			"degenerate": r.Degenerate,
			"converged":  r.Converged,
			"elapsed":    common.FormatElapsed(r.Duration),
		}
		if r.GR != nil {
			row["gr_f0"] = r.GR.F0
			row["gr_tau"] = r.GR.Tau
		}
		if r.EDR != nil {
			row["edr_A"] = r.EDR.A
			row["delta_omega_ratio"] = r.EDR.DeltaOmegaRatio
			row["delta_tau_ratio"] = r.EDR.DeltaTauRatio
		}
		if r.Comparison != nil {
			row["delta_BIC"] = r.Comparison.DeltaBIC
			row["favored_model"] = string(r.Comparison.FavoredModel)
		}
		if !r.OK {
			row["error_kind"] = r.ErrorKind
		}
		rows = append(rows, row)
	}
	return rows
}

// collectUnitMetrics sends per-unit metrics to rootcollector when a metrics log is configured
func (app *RingdownApp) collectUnitMetrics(records []*ringdown.UnitRecord) {
	if app.ctx.MetricsLog == "" || len(records) == 0 {
		return
	}

	err := rootlogger.Configure(logger.LogOptions{
		Out:          app.ctx.MetricsLog,
		ReopenSignal: syscall.SIGHUP,
		Level:        logtypes.InfoLevel,
	})
	if err != nil {
		app.logger.Error(err, "Failed configuring metrics writer")
		return
	}

	for _, record := range records {
		tags := []string{
			"event:" + record.Event,
			"detector:" + record.Detector,
		}

		status := "ok"
		if !record.OK {
			status = "failed"
		} else if record.Degenerate {
			status = "degenerate"
		}
		rootcollector.Metric("ringdown.unit.duration.milliseconds", record.Duration.Milliseconds(),
			append(tags, "status:"+status))

		if record.Comparison == nil {
			continue
		}
		tags = append(tags, "favored:"+string(record.Comparison.FavoredModel))
		// ΔBIC in thousandths because the collector takes integers
		rootcollector.Metric("ringdown.comparison.delta_bic.milli",
			int64(math.Round(common.Finite(record.Comparison.DeltaBIC)*1000)), tags)
	}
}

// cleanRunSummary drops the records from the run-level view
func cleanRunSummary(summary *ringdown.RunSummary) map[string]any {
	return map[string]any{
		"run_id":           summary.RunID,
		"start_time":       summary.StartTime,
		"end_time":         summary.EndTime,
		"total_duration":   summary.TotalDuration.Seconds(),
		"elapsed":          common.FormatElapsed(summary.TotalDuration),
		"successful_units": summary.SuccessfulUnits,
		"failed_units":     summary.FailedUnits,
		"degenerate_units": summary.DegenerateUnits,
		"gr_favored":       summary.GRFavored,
		"edr_favored":      summary.EDRFavored,
	}
}

// sanitizeForJSON recursively replaces infinite and NaN values in any data structure
func sanitizeForJSON(data any) any {
	switch v := data.(type) {
	case float64:
		return common.Finite(v)
	case map[string]any:
		result := make(map[string]any, len(v))
		for k, val := range v {
			result[k] = sanitizeForJSON(val)
		}
		return result
	case []any:
		result := make([]any, len(v))
		for i, val := range v {
			result[i] = sanitizeForJSON(val)
		}
		return result
	default:
		return sanitizeWithReflection(data)
	}
}

// sanitizeWithReflection walks structs, slices and maps, keyed by their JSON names
func sanitizeWithReflection(data any) any {
	if data == nil {
		return nil
	}

	val := reflect.ValueOf(data)
	if val.Kind() == reflect.Ptr {
		if val.IsNil() {
			return nil
		}
		val = val.Elem()
	}

	switch val.Kind() {
	case reflect.Struct:
		if t, ok := val.Interface().(time.Time); ok {
			return t
		}
		result := make(map[string]any)
		typ := val.Type()
		for i := 0; i < val.NumField(); i++ {
			field := val.Field(i)
			fieldType := typ.Field(i)
			if !field.CanInterface() {
				continue
			}

			name := fieldType.Name
			jsonTag := fieldType.Tag.Get("json")
			if jsonTag == "-" {
				continue
			}
			if parts := strings.Split(jsonTag, ","); parts[0] != "" {
				name = parts[0]
			}
			result[name] = sanitizeForJSON(field.Interface())
		}
		return result
	case reflect.Slice:
		if val.IsNil() {
			return nil
		}
		result := make([]any, val.Len())
		for i := 0; i < val.Len(); i++ {
			result[i] = sanitizeForJSON(val.Index(i).Interface())
		}
		return result
	case reflect.Map:
		result := make(map[string]any)
		for _, key := range val.MapKeys() {
			result[fmt.Sprintf("%v", key.Interface())] = sanitizeForJSON(val.MapIndex(key).Interface())
		}
		return result
	case reflect.Float64, reflect.Float32:
		return common.Finite(val.Float())
	default:
		return val.Interface()
	}
}
