package configs

import (
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Default mains lines and violin-mode notches removed before whitening
var defaultNotches = []float64{60, 120, 180, 300, 331.9}

// setDefaults sets default configuration values for all components
func setDefaults(v *viper.Viper) {
	setWhiteningDefaults(v)
	setLocatorDefaults(v)
	setEstimatorDefaults(v)

	// Models
	if !v.IsSet("models.gr_variant") {
		v.Set("models.gr_variant", "gr_single")
	}
	if !v.IsSet("models.edr_variant") {
		v.Set("models.edr_variant", "edr_single")
	}
	if !v.IsSet("models.modes") {
		v.Set("models.modes", []string{"22"})
	}
	if !v.IsSet("models.fit_edr_multi") {
		v.Set("models.fit_edr_multi", false)
	}
	if !v.IsSet("models.tie_tolerance") {
		v.Set("models.tie_tolerance", 0.0)
	}

	// Runner
	if !v.IsSet("runner.max_concurrent") {
		v.Set("runner.max_concurrent", 4)
	}
	if !v.IsSet("runner.unit_timeout") {
		v.Set("runner.unit_timeout", 2*time.Minute)
	}
	if !v.IsSet("runner.run_timeout") {
		v.Set("runner.run_timeout", 30*time.Minute)
	}

	// Reliability filter
	if !v.IsSet("reliability.min_amplitude") {
		v.Set("reliability.min_amplitude", 0.03)
	}
	if !v.IsSet("reliability.max_shift") {
		v.Set("reliability.max_shift", 0.48)
	}

	// Output
	if !v.IsSet("output.dir") {
		v.Set("output.dir", "results")
	}
	if !v.IsSet("output.write_unit_files") {
		v.Set("output.write_unit_files", true)
	}
	if !v.IsSet("output.pretty") {
		v.Set("output.pretty", true)
	}
	if !v.IsSet("output.include_records") {
		v.Set("output.include_records", true)
	}

	// Store
	if !v.IsSet("store.enabled") {
		v.Set("store.enabled", false)
	}
	if !v.IsSet("store.path") {
		v.Set("store.path", filepath.Join("results", "ringdown.sqlite3"))
	}
}

func setWhiteningDefaults(v *viper.Viper) {
	if !v.IsSet("whitening.psd_segment_length") {
		v.Set("whitening.psd_segment_length", 2.0)
	}
	if !v.IsSet("whitening.overlap") {
		v.Set("whitening.overlap", 0.5)
	}
	if !v.IsSet("whitening.normalization") {
		v.Set("whitening.normalization", "half_psd")
	}
	if !v.IsSet("whitening.floor") {
		v.Set("whitening.floor", 1e-60)
	}
	if !v.IsSet("whitening.detrend") {
		v.Set("whitening.detrend", true)
	}
	if !v.IsSet("whitening.highpass_freq") {
		v.Set("whitening.highpass_freq", 15.0)
	}
	if !v.IsSet("whitening.notches") {
		v.Set("whitening.notches", defaultNotches)
	}
	if !v.IsSet("whitening.notch_q") {
		v.Set("whitening.notch_q", 30.0)
	}
	if !v.IsSet("whitening.skip") {
		v.Set("whitening.skip", false)
	}
}

func setLocatorDefaults(v *viper.Viper) {
	if !v.IsSet("locator.half_widths") {
		v.Set("locator.half_widths", []float64{0.02, 0.05})
	}
	if !v.IsSet("locator.min_search_samples") {
		v.Set("locator.min_search_samples", 10)
	}
	if !v.IsSet("locator.fit_duration") {
		v.Set("locator.fit_duration", 0.08)
	}
	if !v.IsSet("locator.min_window_samples") {
		v.Set("locator.min_window_samples", 30)
	}
}

func setEstimatorDefaults(v *viper.Viper) {
	est := GetDefaultEstimatorConfig()
	defaults := map[string]any{
		"estimator.frequency_min":         est.FrequencyMin,
		"estimator.frequency_max":         est.FrequencyMax,
		"estimator.fallback_frequency":    est.FallbackFrequency,
		"estimator.fallback_damping_time": est.FallbackDampingTime,
		"estimator.initial_onset":         est.InitialOnset,
		"estimator.amplitude_scale":       est.AmplitudeScale,
		"estimator.shape_range_min":       est.ShapeRangeMin,
		"estimator.shape_range_max":       est.ShapeRangeMax,
		"estimator.shift_bound":           est.ShiftBound,
		"estimator.max_onset_offset":      est.MaxOnsetOffset,
		"estimator.amplitude_floor":       est.AmplitudeFloor,
		"estimator.max_iterations":        est.MaxIterations,
		"estimator.max_evaluations":       est.MaxEvaluations,
	}
	for key, value := range defaults {
		if !v.IsSet(key) {
			v.Set(key, value)
		}
	}
}

// GetDefaultConfig returns a Config struct with all default values set
func GetDefaultConfig() *Config {
	home, _ := os.UserHomeDir()

	return &Config{
		Verbose:      false,
		LogLevel:     "info",
		OutputFormat: "json",
		ConfigDir:    filepath.Join(home, ".config", "ringdown"),
		DataDir:      filepath.Join(home, ".local", "share", "ringdown"),

		Whitening:   GetDefaultWhiteningConfig(),
		Locator:     GetDefaultLocatorConfig(),
		Estimator:   GetDefaultEstimatorConfig(),
		Models:      GetDefaultModelsConfig(),
		Runner:      GetDefaultRunnerConfig(),
		Reliability: GetDefaultReliabilityConfig(),
		Output:      GetDefaultOutputConfig(),
		Store:       GetDefaultStoreConfig(),
	}
}

// GetDefaultWhiteningConfig returns whitening with detrend, 15 Hz high-pass and line notches
func GetDefaultWhiteningConfig() WhiteningConfig {
	notches := make([]float64, len(defaultNotches))
	copy(notches, defaultNotches)

	return WhiteningConfig{
		PSDSegmentLength: 2.0,
		Overlap:          0.5,
		Normalization:    "half_psd",
		Floor:            1e-60,
		Detrend:          true,
		HighpassFreq:     15,
		Notches:          notches,
		NotchQ:           30,
	}
}

// GetDefaultLocatorConfig returns default peak search settings
func GetDefaultLocatorConfig() LocatorConfig {
	return LocatorConfig{
		HalfWidths:       []float64{0.02, 0.05},
		MinSearchSamples: 10,
		FitDuration:      0.08,
		MinWindowSamples: 30,
	}
}

// GetDefaultEstimatorConfig returns default fit settings
func GetDefaultEstimatorConfig() EstimatorConfig {
	return EstimatorConfig{
		FrequencyMin:        100,
		FrequencyMax:        3000,
		FallbackFrequency:   1500,
		FallbackDampingTime: 0.01,
		InitialOnset:        0.01,
		AmplitudeScale:      10,
		ShapeRangeMin:       0.5,
		ShapeRangeMax:       1.5,
		ShiftBound:          0.5,
		MaxOnsetOffset:      0.05,
		AmplitudeFloor:      1e-6,
		MaxIterations:       2000,
		MaxEvaluations:      20000,
	}
}

// GetDefaultModelsConfig returns the single-mode 22 comparison
func GetDefaultModelsConfig() ModelsConfig {
	return ModelsConfig{
		GRVariant:    "gr_single",
		EDRVariant:   "edr_single",
		Modes:        []string{"22"},
		TieTolerance: 0,
	}
}

// MultiModeModelsConfig returns the 22+33+21 comparison with field mapping
func MultiModeModelsConfig() ModelsConfig {
	return ModelsConfig{
		GRVariant:    "gr_multi",
		EDRVariant:   "edr_multi",
		Modes:        []string{"22", "33", "21"},
		FitEDRMulti:  true,
		TieTolerance: 0,
	}
}

// GetDefaultRunnerConfig returns default worker pool settings
func GetDefaultRunnerConfig() RunnerConfig {
	return RunnerConfig{
		MaxConcurrent: 4,
		UnitTimeout:   2 * time.Minute,
		RunTimeout:    30 * time.Minute,
	}
}

// GetDefaultReliabilityConfig returns the aggregate filter thresholds
func GetDefaultReliabilityConfig() ReliabilityConfig {
	return ReliabilityConfig{
		MinAmplitude: 0.03,
		MaxShift:     0.48,
	}
}

// GetDefaultOutputConfig returns default output settings
func GetDefaultOutputConfig() OutputConfig {
	return OutputConfig{
		Dir:            "results",
		WriteUnitFiles: true,
		Pretty:         true,
		IncludeRecords: true,
	}
}

// GetDefaultStoreConfig returns the disabled store at its default path
func GetDefaultStoreConfig() StoreConfig {
	return StoreConfig{
		Enabled: false,
		Path:    filepath.Join("results", "ringdown.sqlite3"),
	}
}
