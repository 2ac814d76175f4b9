package ringdown

import (
	"fmt"
	"math"
	"path/filepath"
	"sort"
	"time"

	"github.com/Rom0219/EDR-ringdown-search/pkg/common"
	"github.com/Rom0219/EDR-ringdown-search/pkg/compare"
	"github.com/Rom0219/EDR-ringdown-search/pkg/estimator"
	"github.com/Rom0219/EDR-ringdown-search/pkg/field"
)

// Catalog lists the events and detector segments to analyse (separate file from the app config)
type Catalog struct {
	Version     string    `json:"version" yaml:"version"`
	Description string    `json:"description" yaml:"description"`
	UpdatedAt   time.Time `json:"updated_at" yaml:"updated_at"`

	// DataDir resolves relative detector paths
	DataDir string `json:"data_dir,omitempty" yaml:"data_dir,omitempty"`

	Events map[string]*EventConfig `json:"events" yaml:"events"`
}

// EventConfig describes one transient and its remnant
type EventConfig struct {
	Name string `json:"name" yaml:"name"`
	// GPS is the nominal reference time of the merger
	GPS float64 `json:"gps" yaml:"gps"`
	// Mass is the remnant mass in solar masses
	Mass float64 `json:"mass" yaml:"mass"`
	// Spin is the dimensionless remnant spin
	Spin      float64                  `json:"spin" yaml:"spin"`
	Detectors map[string]*DetectorData `json:"detectors" yaml:"detectors"`
	Enabled   bool                     `json:"enabled" yaml:"enabled"`
}

// DetectorData points at the strain segment recorded by one detector
type DetectorData struct {
	Path       string  `json:"path" yaml:"path"`
	Format     string  `json:"format,omitempty" yaml:"format,omitempty"`
	SampleRate float64 `json:"sample_rate,omitempty" yaml:"sample_rate,omitempty"`
	Channel    int     `json:"channel,omitempty" yaml:"channel,omitempty"`
	Enabled    bool    `json:"enabled" yaml:"enabled"`
}

// Validate validates the catalog
func (c *Catalog) Validate() error {
	if len(c.Events) == 0 {
		return fmt.Errorf("at least one event is required")
	}

	for name, event := range c.Events {
		if err := c.validateEvent(event); err != nil {
			return fmt.Errorf("invalid event %s: %w", name, err)
		}
	}

	return nil
}

func (c *Catalog) validateEvent(event *EventConfig) error {
	if event == nil {
		return fmt.Errorf("event definition is empty")
	}
	if event.Name == "" {
		return fmt.Errorf("event name is required")
	}
	if event.Mass <= 0 {
		return fmt.Errorf("remnant mass must be positive")
	}
	if event.Spin < 0 || event.Spin >= 1 {
		return fmt.Errorf("remnant spin must be in [0, 1)")
	}
	if len(event.Detectors) == 0 {
		return fmt.Errorf("at least one detector is required")
	}

	for det, data := range event.Detectors {
		if data == nil || data.Path == "" {
			return fmt.Errorf("detector %s: data path is required", det)
		}
		if data.SampleRate < 0 {
			return fmt.Errorf("detector %s: sample rate must not be negative", det)
		}
	}

	return nil
}

// ApplyNames fills empty event names from their catalog keys
func (c *Catalog) ApplyNames() {
	for key, event := range c.Events {
		if event != nil && event.Name == "" {
			event.Name = key
		}
	}
}

// GetEnabledEvents returns the enabled events keyed by catalog name
func (c *Catalog) GetEnabledEvents() map[string]*EventConfig {
	enabled := make(map[string]*EventConfig)
	for name, event := range c.Events {
		if event.Enabled {
			enabled[name] = event
		}
	}
	return enabled
}

// Units expands enabled events into (event, detector) units in a stable order
func (c *Catalog) Units() []*Unit {
	var units []*Unit
	for _, event := range c.GetEnabledEvents() {
		for det, data := range event.Detectors {
			if !data.Enabled {
				continue
			}
			path := data.Path
			if c.DataDir != "" && !filepath.IsAbs(path) {
				path = filepath.Join(c.DataDir, path)
			}
			units = append(units, &Unit{
				Event:         event.Name,
				Detector:      common.NormalizeDetector(det),
				ReferenceTime: event.GPS,
				Mass:          event.Mass,
				Spin:          event.Spin,
				DataPath:      path,
				Format:        data.Format,
				SampleRate:    data.SampleRate,
				Channel:       data.Channel,
			})
		}
	}

	sort.Slice(units, func(i, j int) bool {
		return units[i].Key() < units[j].Key()
	})
	return units
}

// Unit is one (event, detector) analysis
type Unit struct {
	Event         string
	Detector      string
	ReferenceTime float64
	Mass          float64
	Spin          float64

	// DataPath is read when Segment is nil
	DataPath   string
	Format     string
	SampleRate float64
	Channel    int
	Segment    *common.Segment
}

// Key returns "<event>_<detector>"
func (u *Unit) Key() string {
	return common.UnitKey(u.Event, u.Detector)
}

// GRSummary is the flattened GR fit in a unit record
type GRSummary struct {
	A    float64 `json:"A" yaml:"A"`
	F0   float64 `json:"f0" yaml:"f0"`
	Tau  float64 `json:"tau" yaml:"tau"`
	Phi  float64 `json:"phi" yaml:"phi"`
	T0   float64 `json:"t0" yaml:"t0"`
	LogL float64 `json:"logL" yaml:"logL"`
	AIC  float64 `json:"AIC" yaml:"AIC"`
	BIC  float64 `json:"BIC" yaml:"BIC"`
	SNR  float64 `json:"snr" yaml:"snr"`
}

// EDRSummary is the flattened EDR fit in a unit record
type EDRSummary struct {
	A               float64 `json:"A" yaml:"A"`
	DeltaOmegaRatio float64 `json:"delta_omega_ratio" yaml:"delta_omega_ratio"`
	DeltaTauRatio   float64 `json:"delta_tau_ratio" yaml:"delta_tau_ratio"`
	Phi             float64 `json:"phi" yaml:"phi"`
	T0              float64 `json:"t0" yaml:"t0"`
	LogL            float64 `json:"logL" yaml:"logL"`
	AIC             float64 `json:"AIC" yaml:"AIC"`
	BIC             float64 `json:"BIC" yaml:"BIC"`
	SNR             float64 `json:"snr" yaml:"snr"`
}

// ComparisonSummary is the model selection outcome in a unit record
type ComparisonSummary struct {
	LRT          float64       `json:"LRT" yaml:"LRT"`
	DeltaBIC     float64       `json:"delta_BIC" yaml:"delta_BIC"`
	BayesFactor  float64       `json:"bayes_factor" yaml:"bayes_factor"`
	FavoredModel compare.Model `json:"favored_model" yaml:"favored_model"`
}

// UnitRecord is the tagged result of one unit. Failed units carry OK=false and a message.
type UnitRecord struct {
	RunID    string `json:"run_id" yaml:"run_id"`
	Event    string `json:"event" yaml:"event"`
	Detector string `json:"detector" yaml:"detector"`

	GR         *GRSummary         `json:"gr,omitempty" yaml:"gr,omitempty"`
	EDR        *EDRSummary        `json:"edr,omitempty" yaml:"edr,omitempty"`
	Comparison *ComparisonSummary `json:"comparison,omitempty" yaml:"comparison,omitempty"`
	Field      *field.Parameters  `json:"field,omitempty" yaml:"field,omitempty"`

	OK         bool   `json:"ok" yaml:"ok"`
	Degenerate bool   `json:"degenerate" yaml:"degenerate"`
	Converged  bool   `json:"converged" yaml:"converged"`
	Message    string `json:"message,omitempty" yaml:"message,omitempty"`
	ErrorKind  string `json:"error_kind,omitempty" yaml:"error_kind,omitempty"`

	PeakTime  float64       `json:"peak_time,omitempty" yaml:"peak_time,omitempty"`
	Timestamp time.Time     `json:"timestamp" yaml:"timestamp"`
	Duration  time.Duration `json:"duration_ns" yaml:"duration_ns"`

	// Full fits for the text report; not serialised
	GRFit       *estimator.FitResult `json:"-" yaml:"-"`
	EDRFit      *estimator.FitResult `json:"-" yaml:"-"`
	EDRMultiFit *estimator.FitResult `json:"-" yaml:"-"`
	Report      *compare.Report      `json:"-" yaml:"-"`
}

// Key returns "<event>_<detector>"
func (r *UnitRecord) Key() string {
	return common.UnitKey(r.Event, r.Detector)
}

// Reliable reports whether the record may enter aggregate statistics
func (r *UnitRecord) Reliable(minAmplitude, maxShift float64) bool {
	if !r.OK || r.Degenerate || r.EDR == nil {
		return false
	}
	if r.EDR.A < minAmplitude {
		return false
	}
	return math.Abs(r.EDR.DeltaOmegaRatio) < maxShift && math.Abs(r.EDR.DeltaTauRatio) < maxShift
}

// RunSummary is the outcome of a full catalog run
type RunSummary struct {
	RunID           string                 `json:"run_id" yaml:"run_id"`
	StartTime       time.Time              `json:"start_time" yaml:"start_time"`
	EndTime         time.Time              `json:"end_time" yaml:"end_time"`
	TotalDuration   time.Duration          `json:"total_duration_ns" yaml:"total_duration_ns"`
	SuccessfulUnits int                    `json:"successful_units" yaml:"successful_units"`
	FailedUnits     int                    `json:"failed_units" yaml:"failed_units"`
	DegenerateUnits int                    `json:"degenerate_units" yaml:"degenerate_units"`
	EDRFavored      int                    `json:"edr_favored" yaml:"edr_favored"`
	GRFavored       int                    `json:"gr_favored" yaml:"gr_favored"`
	Records         map[string]*UnitRecord `json:"records" yaml:"records"`
}
