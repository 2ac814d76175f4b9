package pipeline

import (
	"math"
	"sort"

	"github.com/RyanBlaney/latency-benchmark-common/logging"
	"github.com/Rom0219/EDR-ringdown-search/internal/ringdown"
	"github.com/Rom0219/EDR-ringdown-search/pkg/compare"
	"gonum.org/v1/gonum/stat"
)

// Reliability filter defaults: boundary-clamped EDR fits sit at |shift| = 0.5
const (
	DefaultMinAmplitude = 0.03
	DefaultMaxShift     = 0.48
)

// MetricsCalculator aggregates unit records into run-level statistics
type MetricsCalculator struct {
	logger       logging.Logger
	minAmplitude float64
	maxShift     float64
}

// NewMetricsCalculator creates a new metrics calculator. Non-positive thresholds use the defaults.
func NewMetricsCalculator(minAmplitude, maxShift float64, logger logging.Logger) *MetricsCalculator {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	if minAmplitude <= 0 {
		minAmplitude = DefaultMinAmplitude
	}
	if maxShift <= 0 {
		maxShift = DefaultMaxShift
	}

	return &MetricsCalculator{
		logger:       logger.WithFields(logging.Fields{"component": "metrics"}),
		minAmplitude: minAmplitude,
		maxShift:     maxShift,
	}
}

// ParameterStats represents statistical measures of one fitted parameter
type ParameterStats struct {
	Mean   float64 `json:"mean" yaml:"mean"`
	Median float64 `json:"median" yaml:"median"`
	Min    float64 `json:"min" yaml:"min"`
	Max    float64 `json:"max" yaml:"max"`
	StdDev float64 `json:"std_dev" yaml:"std_dev"`
	Count  int     `json:"count" yaml:"count"`
}

// AggregateMetrics summarises the reliable units of a run
type AggregateMetrics struct {
	TotalUnits      int `json:"total_units" yaml:"total_units"`
	SuccessfulUnits int `json:"successful_units" yaml:"successful_units"`
	ReliableUnits   int `json:"reliable_units" yaml:"reliable_units"`

	Amplitude       *ParameterStats `json:"A" yaml:"A"`
	DeltaOmegaRatio *ParameterStats `json:"delta_omega_ratio" yaml:"delta_omega_ratio"`
	DeltaTauRatio   *ParameterStats `json:"delta_tau_ratio" yaml:"delta_tau_ratio"`
	DeltaBIC        *ParameterStats `json:"delta_BIC" yaml:"delta_BIC"`

	FavoredModels     map[compare.Model]int `json:"favored_models" yaml:"favored_models"`
	ErrorDistribution map[string]int        `json:"error_distribution" yaml:"error_distribution"`
	ReliableKeys      []string              `json:"reliable_keys" yaml:"reliable_keys"`
}

// Reliable returns the records that pass the reliability filter, sorted by key
func (mc *MetricsCalculator) Reliable(records []*ringdown.UnitRecord) []*ringdown.UnitRecord {
	var reliable []*ringdown.UnitRecord
	for _, r := range records {
		if r != nil && r.Reliable(mc.minAmplitude, mc.maxShift) {
			reliable = append(reliable, r)
		}
	}
	sort.Slice(reliable, func(i, j int) bool {
		return reliable[i].Key() < reliable[j].Key()
	})
	return reliable
}

// Summarize computes aggregate statistics over reliable records. Not-ok and degenerate
// units only contribute to the counts and the error distribution.
func (mc *MetricsCalculator) Summarize(records []*ringdown.UnitRecord) *AggregateMetrics {
	metrics := &AggregateMetrics{
		TotalUnits:        len(records),
		FavoredModels:     make(map[compare.Model]int),
		ErrorDistribution: make(map[string]int),
	}

	for _, r := range records {
		if r == nil {
			continue
		}
		if !r.OK {
			metrics.ErrorDistribution[categorizeError(r)]++
			continue
		}
		metrics.SuccessfulUnits++
		if r.Degenerate {
			metrics.ErrorDistribution["degenerate"]++
		}
	}

	reliable := mc.Reliable(records)
	metrics.ReliableUnits = len(reliable)

	var amps, dOmega, dTau, dBIC []float64
	for _, r := range reliable {
		amps = append(amps, r.EDR.A)
		dOmega = append(dOmega, r.EDR.DeltaOmegaRatio)
		dTau = append(dTau, r.EDR.DeltaTauRatio)
		if r.Comparison != nil {
			dBIC = append(dBIC, r.Comparison.DeltaBIC)
			metrics.FavoredModels[r.Comparison.FavoredModel]++
		}
		metrics.ReliableKeys = append(metrics.ReliableKeys, r.Key())
	}

	metrics.Amplitude = mc.calculateStats(amps)
	metrics.DeltaOmegaRatio = mc.calculateStats(dOmega)
	metrics.DeltaTauRatio = mc.calculateStats(dTau)
	metrics.DeltaBIC = mc.calculateStats(dBIC)

	mc.logger.Debug("Aggregate metrics calculated", logging.Fields{
		"total_units":      metrics.TotalUnits,
		"successful_units": metrics.SuccessfulUnits,
		"reliable_units":   metrics.ReliableUnits,
	})

	return metrics
}

// calculateStats calculates statistical measures for a dataset
func (mc *MetricsCalculator) calculateStats(data []float64) *ParameterStats {
	if len(data) == 0 {
		return &ParameterStats{}
	}

	sorted := make([]float64, len(data))
	copy(sorted, data)
	sort.Float64s(sorted)

	stats := &ParameterStats{
		Mean:   stat.Mean(sorted, nil),
		Median: mc.percentile(sorted, 50),
		Min:    sorted[0],
		Max:    sorted[len(sorted)-1],
		Count:  len(sorted),
		StdDev: math.Sqrt(stat.PopVariance(sorted, nil)),
	}

	return mc.sanitizeStats(stats)
}

// sanitizeStats replaces non-finite values so the output stays encodable
func (mc *MetricsCalculator) sanitizeStats(stats *ParameterStats) *ParameterStats {
	for _, v := range []*float64{&stats.Mean, &stats.Median, &stats.Min, &stats.Max, &stats.StdDev} {
		if math.IsNaN(*v) || math.IsInf(*v, 0) {
			*v = 0
		}
	}
	return stats
}

// percentile interpolates linearly between closest ranks of sorted data, so the
// median of an odd-length set is its middle element
func (mc *MetricsCalculator) percentile(sortedData []float64, p float64) float64 {
	if len(sortedData) == 0 {
		return 0
	}
	if len(sortedData) == 1 {
		return sortedData[0]
	}

	index := (p / 100.0) * float64(len(sortedData)-1)
	lower := int(math.Floor(index))
	upper := int(math.Ceil(index))
	if upper >= len(sortedData) {
		return sortedData[len(sortedData)-1]
	}

	weight := index - float64(lower)
	return sortedData[lower]*(1-weight) + sortedData[upper]*weight
}

// categorizeError buckets a failed record by its error kind
func categorizeError(r *ringdown.UnitRecord) string {
	if r.ErrorKind != "" {
		return r.ErrorKind
	}
	return "other"
}
