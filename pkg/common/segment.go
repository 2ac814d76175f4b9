package common

import (
	"fmt"
	"math"
)

// Segment is a uniformly sampled real time series
type Segment struct {
	Samples    []float64 `json:"samples"`
	SampleRate float64   `json:"sample_rate"`
	// Start is the absolute time of the first sample (GPS seconds), zero when relative
	Start float64 `json:"start"`
}

// NewSegment creates a validated segment
func NewSegment(samples []float64, sampleRate, start float64) (*Segment, error) {
	seg := &Segment{
		Samples:    samples,
		SampleRate: sampleRate,
		Start:      start,
	}
	if err := seg.Validate(); err != nil {
		return nil, err
	}
	return seg, nil
}

// Validate checks the segment invariants
func (s *Segment) Validate() error {
	if s == nil {
		return Errorf(KindInvalidInput, "segment", "segment is nil")
	}
	if !(s.SampleRate > 0) || math.IsInf(s.SampleRate, 0) {
		return Errorf(KindInvalidInput, "segment", "sample rate must be positive, got %v", s.SampleRate)
	}
	if len(s.Samples) < 2 {
		return Errorf(KindInsufficientSamples, "segment", "segment needs at least 2 samples, got %d", len(s.Samples))
	}
	return nil
}

// Len returns the number of samples
func (s *Segment) Len() int {
	return len(s.Samples)
}

// Duration returns the segment length in seconds
func (s *Segment) Duration() float64 {
	return float64(len(s.Samples)) / s.SampleRate
}

// TimeAt returns the absolute time of sample i
func (s *Segment) TimeAt(i int) float64 {
	return s.Start + float64(i)/s.SampleRate
}

// RingdownWindow is the part of a segment starting at the ringdown peak,
// re-based so that Times[0] == 0
type RingdownWindow struct {
	Samples    []float64 `json:"samples"`
	Times      []float64 `json:"times"`
	SampleRate float64   `json:"sample_rate"`
	// PeakTime is the absolute time of the peak in the parent segment
	PeakTime float64 `json:"peak_time"`
	// PeakIndex is the index of the peak sample in the parent segment
	PeakIndex int `json:"peak_index"`
	// PeakOffset is PeakTime relative to the nominal reference time
	PeakOffset float64 `json:"peak_offset"`
}

// NewRingdownWindow builds a window from raw samples sampled at sampleRate
func NewRingdownWindow(samples []float64, sampleRate float64) *RingdownWindow {
	times := make([]float64, len(samples))
	for i := range times {
		times[i] = float64(i) / sampleRate
	}
	return &RingdownWindow{
		Samples:    samples,
		Times:      times,
		SampleRate: sampleRate,
	}
}

// Len returns the number of samples in the window
func (w *RingdownWindow) Len() int {
	return len(w.Samples)
}

// Duration returns the time span covered by the window
func (w *RingdownWindow) Duration() float64 {
	if len(w.Times) == 0 {
		return 0
	}
	return w.Times[len(w.Times)-1]
}

// Validate checks that the window is usable for fitting
func (w *RingdownWindow) Validate(minSamples int) error {
	if w == nil {
		return Errorf(KindInvalidInput, "window", "window is nil")
	}
	if len(w.Samples) != len(w.Times) {
		return Errorf(KindInvalidInput, "window", "samples/times length mismatch: %d != %d", len(w.Samples), len(w.Times))
	}
	if len(w.Samples) < minSamples {
		return NewAnalysisError(KindWindowTooShort, "window",
			fmt.Sprintf("window has %d samples, need at least %d", len(w.Samples), minSamples), nil)
	}
	return nil
}
