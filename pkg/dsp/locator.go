package dsp

import (
	"math"

	"github.com/RyanBlaney/latency-benchmark-common/logging"
	"github.com/Rom0219/EDR-ringdown-search/pkg/common"
)

// LocatorConfig controls the peak search and the fit window
type LocatorConfig struct {
	HalfWidths       []float64 `json:"half_widths"`  // seconds, tried in increasing order
	MinSearchSamples int       `json:"min_search_samples"`
	FitDuration      float64   `json:"fit_duration"` // seconds after the peak
	MinWindowSamples int       `json:"min_window_samples"`
}

// DefaultLocatorConfig returns the default locator parameters
func DefaultLocatorConfig() *LocatorConfig {
	return &LocatorConfig{
		HalfWidths:       []float64{0.02, 0.05},
		MinSearchSamples: 10,
		FitDuration:      0.08,
		MinWindowSamples: 30,
	}
}

// Locator finds the ringdown peak near a reference time and cuts the fit window
type Locator struct {
	config *LocatorConfig
	logger logging.Logger
}

// NewLocator creates a segment locator
func NewLocator(config *LocatorConfig, logger logging.Logger) *Locator {
	if config == nil {
		config = DefaultLocatorConfig()
	}
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	return &Locator{
		config: config,
		logger: logger.WithFields(logging.Fields{"component": "locator"}),
	}
}

// Locate returns the window [peak, peak+FitDuration] re-based to zero, where the peak
// is the largest |h| within the first half-width around tRef holding enough samples
func (l *Locator) Locate(seg *common.Segment, tRef float64) (*common.RingdownWindow, error) {
	if err := seg.Validate(); err != nil {
		return nil, err
	}

	peak := -1
	usedHalfWidth := 0.0
	for _, hw := range l.config.HalfWidths {
		lo, hi := l.indexRange(seg, tRef-hw, tRef+hw)
		if hi-lo < l.config.MinSearchSamples {
			continue
		}

		peak = lo
		for i := lo; i < hi; i++ {
			if math.Abs(seg.Samples[i]) > math.Abs(seg.Samples[peak]) {
				peak = i
			}
		}
		usedHalfWidth = hw
		break
	}

	if peak < 0 {
		return nil, common.Errorf(common.KindPeakNotFound, "locate",
			"fewer than %d samples within %v s of t=%.4f", l.config.MinSearchSamples, l.config.HalfWidths, tRef)
	}

	peakTime := seg.TimeAt(peak)
	span := int(math.Floor(l.config.FitDuration*seg.SampleRate+1e-9)) + 1
	end := min(peak+span, len(seg.Samples))

	samples := make([]float64, end-peak)
	copy(samples, seg.Samples[peak:end])

	window := common.NewRingdownWindow(samples, seg.SampleRate)
	window.PeakTime = peakTime
	window.PeakIndex = peak
	window.PeakOffset = peakTime - tRef

	if err := window.Validate(l.config.MinWindowSamples); err != nil {
		return nil, err
	}

	l.logger.Debug("Located ringdown window", logging.Fields{
		"t_ref":       tRef,
		"peak_time":   peakTime,
		"peak_offset": window.PeakOffset,
		"half_width":  usedHalfWidth,
		"samples":     window.Len(),
	})

	return window, nil
}

// indexRange returns [lo, hi) of samples with time in [t0, t1)
func (l *Locator) indexRange(seg *common.Segment, t0, t1 float64) (int, int) {
	lo := int(math.Ceil((t0 - seg.Start) * seg.SampleRate))
	hi := int(math.Ceil((t1 - seg.Start) * seg.SampleRate))
	lo = max(lo, 0)
	hi = min(hi, len(seg.Samples))
	if hi < lo {
		hi = lo
	}
	return lo, hi
}
