package app

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/RyanBlaney/latency-benchmark-common/logging"
	"github.com/Rom0219/EDR-ringdown-search/configs"
	"github.com/Rom0219/EDR-ringdown-search/internal/pipeline"
	"github.com/Rom0219/EDR-ringdown-search/internal/ringdown"
	"github.com/Rom0219/EDR-ringdown-search/pkg/dsp"
	"github.com/Rom0219/EDR-ringdown-search/pkg/estimator"
	"github.com/Rom0219/EDR-ringdown-search/pkg/templates"
	"gopkg.in/yaml.v3"
)

// LoadCatalogFromFile loads the event catalog, dispatching on the file extension
func LoadCatalogFromFile(filePath string) (*ringdown.Catalog, error) {
	if _, err := os.Stat(filePath); os.IsNotExist(err) {
		return nil, fmt.Errorf("catalog file does not exist: %s", filePath)
	}

	ext := filepath.Ext(filePath)
	switch ext {
	case ".yaml", ".yml":
		return loadCatalogFromYAML(filePath)
	case ".json":
		return loadCatalogFromJSON(filePath)
	default:
		// Try YAML first, then JSON
		if cfg, err := loadCatalogFromYAML(filePath); err == nil {
			return cfg, nil
		}
		return loadCatalogFromJSON(filePath)
	}
}

func loadCatalogFromYAML(filePath string) (*ringdown.Catalog, error) {
	data, err := readFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read YAML catalog file: %w", err)
	}

	var catalog ringdown.Catalog
	if err := yaml.Unmarshal(data, &catalog); err != nil {
		return nil, fmt.Errorf("failed to parse YAML catalog: %w", err)
	}

	catalog.ApplyNames()
	return &catalog, nil
}

func loadCatalogFromJSON(filePath string) (*ringdown.Catalog, error) {
	data, err := readFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read JSON catalog file: %w", err)
	}

	var catalog ringdown.Catalog
	if err := json.Unmarshal(data, &catalog); err != nil {
		return nil, fmt.Errorf("failed to parse JSON catalog: %w", err)
	}

	catalog.ApplyNames()
	return &catalog, nil
}

func readFile(filePath string) ([]byte, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return io.ReadAll(file)
}

// WriteCatalog writes a catalog as YAML or JSON depending on the extension
func WriteCatalog(filePath string, catalog *ringdown.Catalog) error {
	var (
		data []byte
		err  error
	)
	switch filepath.Ext(filePath) {
	case ".json":
		data, err = json.MarshalIndent(catalog, "", "  ")
	default:
		data, err = yaml.Marshal(catalog)
	}
	if err != nil {
		return fmt.Errorf("failed to encode catalog: %w", err)
	}

	if dir := filepath.Dir(filePath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create catalog directory: %w", err)
		}
	}
	return os.WriteFile(filePath, data, 0644)
}

// exampleEvent is one row of the built-in event table
type exampleEvent struct {
	name string
	mass float64
	spin float64
	gps  float64
}

// Remnant masses (solar masses), spins and merger GPS times of confident detections
var exampleEvents = []exampleEvent{
	{"GW150914", 68, 0.67, 1126259462.4},
	{"GW151226", 20.5, 0.74, 1135136350.6},
	{"GW170104", 49, 0.66, 1167559936.6},
	{"GW170608", 19, 0.74, 1180922494.5},
	{"GW170729", 80, 0.81, 1185389807.3},
	{"GW170814", 54.5, 0.74, 1186741861.5},
	{"GW190412", 34, 0.67, 1239082262.2},
	{"GW190521", 142, 0.72, 1242442967.4},
	{"GW190814", 25, 0.91, 1249852257.0},
}

// GenerateExampleCatalog returns the built-in event table with H1 and L1 GWOSC ASCII paths
func GenerateExampleCatalog(dataDir string) *ringdown.Catalog {
	catalog := &ringdown.Catalog{
		Version:     "1.0",
		Description: "Ringdown analysis catalog: remnant parameters and strain segments per detector",
		UpdatedAt:   time.Now().UTC().Truncate(time.Second),
		DataDir:     dataDir,
		Events:      make(map[string]*ringdown.EventConfig, len(exampleEvents)),
	}

	for _, ev := range exampleEvents {
		detectors := make(map[string]*ringdown.DetectorData)
		for _, det := range []string{"H1", "L1"} {
			detectors[det] = &ringdown.DetectorData{
				Path:    fmt.Sprintf("%s_%s.txt", ev.name, det),
				Format:  "gwosc",
				Enabled: true,
			}
		}
		catalog.Events[strings.ToLower(ev.name)] = &ringdown.EventConfig{
			Name:      ev.name,
			GPS:       ev.gps,
			Mass:      ev.mass,
			Spin:      ev.spin,
			Detectors: detectors,
			Enabled:   true,
		}
	}

	return catalog
}

// EngineConfigFrom converts the application configuration into an engine configuration
func EngineConfigFrom(cfg *configs.Config, logger logging.Logger) (*ringdown.EngineConfig, error) {
	modes, err := templates.ParseModes(cfg.Models.Modes)
	if err != nil {
		return nil, fmt.Errorf("invalid modes: %w", err)
	}
	grVariant, err := templates.ParseVariant(cfg.Models.GRVariant)
	if err != nil {
		return nil, fmt.Errorf("invalid GR variant: %w", err)
	}
	if grVariant.IsEDR() {
		return nil, fmt.Errorf("GR variant must be gr_single or gr_multi, got %s", grVariant)
	}
	edrVariant, err := templates.ParseVariant(cfg.Models.EDRVariant)
	if err != nil {
		return nil, fmt.Errorf("invalid EDR variant: %w", err)
	}
	if !edrVariant.IsEDR() {
		return nil, fmt.Errorf("EDR variant must be edr_single or edr_multi, got %s", edrVariant)
	}

	w := cfg.Whitening
	whitening := &dsp.WhitenConfig{
		PSDSegmentLength: w.PSDSegmentLength,
		Overlap:          w.Overlap,
		Normalization:    dsp.Normalization(w.Normalization),
		Floor:            w.Floor,
		Detrend:          w.Detrend,
		HighpassFreq:     w.HighpassFreq,
		Notches:          w.Notches,
		NotchQ:           w.NotchQ,
	}
	if err := whitening.Validate(); err != nil {
		return nil, fmt.Errorf("invalid whitening configuration: %w", err)
	}

	l := cfg.Locator
	locator := &dsp.LocatorConfig{
		HalfWidths:       l.HalfWidths,
		MinSearchSamples: l.MinSearchSamples,
		FitDuration:      l.FitDuration,
		MinWindowSamples: l.MinWindowSamples,
	}

	e := cfg.Estimator
	est := estimator.DefaultConfig()
	est.FrequencyBand = [2]float64{e.FrequencyMin, e.FrequencyMax}
	est.FallbackFrequency = e.FallbackFrequency
	est.FallbackDampingTime = e.FallbackDampingTime
	est.InitialOnset = e.InitialOnset
	est.AmplitudeScale = e.AmplitudeScale
	est.ShapeRange = [2]float64{e.ShapeRangeMin, e.ShapeRangeMax}
	est.ShiftBound = e.ShiftBound
	est.MaxOnsetOffset = e.MaxOnsetOffset
	est.AmplitudeFloor = e.AmplitudeFloor
	if e.MaxIterations > 0 {
		est.MaxIterations = e.MaxIterations
	}
	if e.MaxEvaluations > 0 {
		est.MaxEvaluations = e.MaxEvaluations
	}
	if err := est.Validate(); err != nil {
		return nil, fmt.Errorf("invalid estimator configuration: %w", err)
	}

	return &ringdown.EngineConfig{
		Whitening:     whitening,
		Locator:       locator,
		Estimator:     est,
		TieTolerance:  cfg.Models.TieTolerance,
		Modes:         modes,
		GRVariant:     grVariant,
		EDRVariant:    edrVariant,
		FitEDRMulti:   cfg.Models.FitEDRMulti,
		SkipWhitening: w.Skip,
		Logger:        logger,
	}, nil
}

// RunnerConfigFrom converts the application configuration into worker pool settings
func RunnerConfigFrom(cfg *configs.Config) *pipeline.RunnerConfig {
	runner := &pipeline.RunnerConfig{
		MaxConcurrent: cfg.Runner.MaxConcurrent,
		UnitTimeout:   cfg.Runner.UnitTimeout,
		RunTimeout:    cfg.Runner.RunTimeout,
	}
	if cfg.Output.WriteUnitFiles {
		runner.OutputDir = cfg.Output.Dir
	}
	return runner
}

// LoadRecordsFromDir reads every <event>_<detector>.json record in dir
func LoadRecordsFromDir(dir string) ([]*ringdown.UnitRecord, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	sort.Strings(paths)

	var records []*ringdown.UnitRecord
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read record %s: %w", path, err)
		}

		var record ringdown.UnitRecord
		if err := json.Unmarshal(data, &record); err != nil {
			return nil, fmt.Errorf("failed to parse record %s: %w", path, err)
		}
		// Skip JSON files that are not unit records (e.g. a run summary)
		if record.Event == "" || record.Detector == "" {
			continue
		}
		records = append(records, &record)
	}

	return records, nil
}
