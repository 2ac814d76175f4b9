package configs

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	// Application settings
	Verbose      bool   `mapstructure:"verbose" json:"verbose" yaml:"verbose"`
	LogLevel     string `mapstructure:"log_level" json:"log_level" yaml:"log_level"`
	OutputFormat string `mapstructure:"output_format" json:"output_format" yaml:"output_format"`
	ConfigDir    string `mapstructure:"config_dir" json:"config_dir" yaml:"config_dir"`
	DataDir      string `mapstructure:"data_dir" json:"data_dir" yaml:"data_dir"`

	// Signal conditioning
	Whitening WhiteningConfig `mapstructure:"whitening" json:"whitening" yaml:"whitening"`

	// Ringdown window search
	Locator LocatorConfig `mapstructure:"locator" json:"locator" yaml:"locator"`

	// Bounded least-squares fit
	Estimator EstimatorConfig `mapstructure:"estimator" json:"estimator" yaml:"estimator"`

	// Templates compared and the selection rule
	Models ModelsConfig `mapstructure:"models" json:"models" yaml:"models"`

	// Worker pool
	Runner RunnerConfig `mapstructure:"runner" json:"runner" yaml:"runner"`

	// Aggregate reliability filter
	Reliability ReliabilityConfig `mapstructure:"reliability" json:"reliability" yaml:"reliability"`

	// Output configuration
	Output OutputConfig `mapstructure:"output" json:"output" yaml:"output"`

	// Result store
	Store StoreConfig `mapstructure:"store" json:"store" yaml:"store"`
}

// WhiteningConfig contains PSD estimation and whitening settings
type WhiteningConfig struct {
	PSDSegmentLength float64   `mapstructure:"psd_segment_length" json:"psd_segment_length" yaml:"psd_segment_length"`
	Overlap          float64   `mapstructure:"overlap" json:"overlap" yaml:"overlap"`
	Normalization    string    `mapstructure:"normalization" json:"normalization" yaml:"normalization"`
	Floor            float64   `mapstructure:"floor" json:"floor" yaml:"floor"`
	Detrend          bool      `mapstructure:"detrend" json:"detrend" yaml:"detrend"`
	HighpassFreq     float64   `mapstructure:"highpass_freq" json:"highpass_freq" yaml:"highpass_freq"`
	Notches          []float64 `mapstructure:"notches" json:"notches" yaml:"notches"`
	NotchQ           float64   `mapstructure:"notch_q" json:"notch_q" yaml:"notch_q"`
	Skip             bool      `mapstructure:"skip" json:"skip" yaml:"skip"`
}

// LocatorConfig contains peak search settings
type LocatorConfig struct {
	HalfWidths       []float64 `mapstructure:"half_widths" json:"half_widths" yaml:"half_widths"`
	MinSearchSamples int       `mapstructure:"min_search_samples" json:"min_search_samples" yaml:"min_search_samples"`
	FitDuration      float64   `mapstructure:"fit_duration" json:"fit_duration" yaml:"fit_duration"`
	MinWindowSamples int       `mapstructure:"min_window_samples" json:"min_window_samples" yaml:"min_window_samples"`
}

// EstimatorConfig contains initial guess, bound and optimizer settings
type EstimatorConfig struct {
	FrequencyMin        float64 `mapstructure:"frequency_min" json:"frequency_min" yaml:"frequency_min"`
	FrequencyMax        float64 `mapstructure:"frequency_max" json:"frequency_max" yaml:"frequency_max"`
	FallbackFrequency   float64 `mapstructure:"fallback_frequency" json:"fallback_frequency" yaml:"fallback_frequency"`
	FallbackDampingTime float64 `mapstructure:"fallback_damping_time" json:"fallback_damping_time" yaml:"fallback_damping_time"`
	InitialOnset        float64 `mapstructure:"initial_onset" json:"initial_onset" yaml:"initial_onset"`
	AmplitudeScale      float64 `mapstructure:"amplitude_scale" json:"amplitude_scale" yaml:"amplitude_scale"`
	ShapeRangeMin       float64 `mapstructure:"shape_range_min" json:"shape_range_min" yaml:"shape_range_min"`
	ShapeRangeMax       float64 `mapstructure:"shape_range_max" json:"shape_range_max" yaml:"shape_range_max"`
	ShiftBound          float64 `mapstructure:"shift_bound" json:"shift_bound" yaml:"shift_bound"`
	MaxOnsetOffset      float64 `mapstructure:"max_onset_offset" json:"max_onset_offset" yaml:"max_onset_offset"`
	AmplitudeFloor      float64 `mapstructure:"amplitude_floor" json:"amplitude_floor" yaml:"amplitude_floor"`
	MaxIterations       int     `mapstructure:"max_iterations" json:"max_iterations" yaml:"max_iterations"`
	MaxEvaluations      int     `mapstructure:"max_evaluations" json:"max_evaluations" yaml:"max_evaluations"`
}

// ModelsConfig selects the compared templates
type ModelsConfig struct {
	GRVariant    string   `mapstructure:"gr_variant" json:"gr_variant" yaml:"gr_variant"`
	EDRVariant   string   `mapstructure:"edr_variant" json:"edr_variant" yaml:"edr_variant"`
	Modes        []string `mapstructure:"modes" json:"modes" yaml:"modes"`
	FitEDRMulti  bool     `mapstructure:"fit_edr_multi" json:"fit_edr_multi" yaml:"fit_edr_multi"`
	TieTolerance float64  `mapstructure:"tie_tolerance" json:"tie_tolerance" yaml:"tie_tolerance"`
}

// RunnerConfig contains concurrency and timeout settings
type RunnerConfig struct {
	MaxConcurrent int           `mapstructure:"max_concurrent" json:"max_concurrent" yaml:"max_concurrent"`
	UnitTimeout   time.Duration `mapstructure:"unit_timeout" json:"unit_timeout" yaml:"unit_timeout"`
	RunTimeout    time.Duration `mapstructure:"run_timeout" json:"run_timeout" yaml:"run_timeout"`
}

// ReliabilityConfig contains the aggregate filter thresholds
type ReliabilityConfig struct {
	MinAmplitude float64 `mapstructure:"min_amplitude" json:"min_amplitude" yaml:"min_amplitude"`
	MaxShift     float64 `mapstructure:"max_shift" json:"max_shift" yaml:"max_shift"`
}

// OutputConfig contains output settings
type OutputConfig struct {
	Dir            string `mapstructure:"dir" json:"dir" yaml:"dir"`
	WriteUnitFiles bool   `mapstructure:"write_unit_files" json:"write_unit_files" yaml:"write_unit_files"`
	Pretty         bool   `mapstructure:"pretty" json:"pretty" yaml:"pretty"`
	IncludeRecords bool   `mapstructure:"include_records" json:"include_records" yaml:"include_records"`
}

// StoreConfig contains the SQLite result store settings
type StoreConfig struct {
	Enabled bool   `mapstructure:"enabled" json:"enabled" yaml:"enabled"`
	Path    string `mapstructure:"path" json:"path" yaml:"path"`
}

// LoadConfig loads configuration from viper
func LoadConfig() (*Config, error) {
	return LoadConfigWith(viper.GetViper())
}

// LoadConfigWith loads configuration from a viper instance after applying defaults
func LoadConfigWith(v *viper.Viper) (*Config, error) {
	setDefaults(v)

	config := &Config{}
	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("unable to decode configuration: %w", err)
	}

	return config, nil
}

// ValidateConfig validates the configuration
func ValidateConfig(config *Config) error {
	if config.Whitening.PSDSegmentLength <= 0 {
		return fmt.Errorf("whitening psd segment length must be positive")
	}

	if config.Whitening.Overlap < 0 || config.Whitening.Overlap >= 1 {
		return fmt.Errorf("whitening overlap must be in [0, 1)")
	}

	switch config.Whitening.Normalization {
	case "half_psd", "psd":
	default:
		return fmt.Errorf("invalid whitening normalization: %s (must be half_psd or psd)", config.Whitening.Normalization)
	}

	if config.Locator.FitDuration <= 0 {
		return fmt.Errorf("locator fit duration must be positive")
	}

	if len(config.Locator.HalfWidths) == 0 {
		return fmt.Errorf("at least one locator half-width is required")
	}

	if config.Estimator.FrequencyMax <= config.Estimator.FrequencyMin {
		return fmt.Errorf("estimator frequency band is empty")
	}

	if config.Estimator.ShiftBound <= 0 || config.Estimator.ShiftBound >= 1 {
		return fmt.Errorf("estimator shift bound must be in (0, 1)")
	}

	if config.Runner.MaxConcurrent <= 0 {
		return fmt.Errorf("max concurrent units must be positive")
	}

	if config.Runner.UnitTimeout <= 0 {
		return fmt.Errorf("unit timeout must be positive")
	}

	if config.Models.TieTolerance < 0 {
		return fmt.Errorf("tie tolerance cannot be negative")
	}

	if config.Store.Enabled && config.Store.Path == "" {
		return fmt.Errorf("store path is required when the store is enabled")
	}

	return nil
}
