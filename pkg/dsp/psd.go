package dsp

import (
	"fmt"
	"math"
	"math/cmplx"

	"github.com/Rom0219/EDR-ringdown-search/pkg/common"
	"github.com/mjibson/go-dsp/fft"
	"github.com/mjibson/go-dsp/window"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/interp"
	"gonum.org/v1/gonum/stat"
)

// PSDEstimate is a one-sided power spectral density on an ascending frequency grid
type PSDEstimate struct {
	Frequencies []float64 `json:"frequencies"`
	Power       []float64 `json:"power"`
	Segments    int       `json:"segments"`
}

// Welch estimates the one-sided PSD of samples by averaging Hann-windowed periodograms
// of segmentLength-sample sub-segments overlapping by the given fraction.
func Welch(samples []float64, sampleRate float64, segmentLength int, overlap float64) (*PSDEstimate, error) {
	if segmentLength < 2 {
		return nil, common.Errorf(common.KindInvalidInput, "psd", "segment length must be at least 2 samples, got %d", segmentLength)
	}
	if len(samples) < segmentLength {
		return nil, common.Errorf(common.KindInsufficientSamples, "psd",
			"segment has %d samples, need at least one PSD sub-segment of %d", len(samples), segmentLength)
	}
	if overlap < 0 || overlap >= 1 {
		return nil, common.Errorf(common.KindInvalidInput, "psd", "overlap must be in [0, 1), got %v", overlap)
	}

	step := segmentLength - int(math.Round(overlap*float64(segmentLength)))
	if step < 1 {
		step = 1
	}
	numSegments := 1 + (len(samples)-segmentLength)/step

	win := window.Hann(segmentLength)
	windowPower := floats.Dot(win, win)
	scale := 1 / (sampleRate * windowPower)

	bins := segmentLength/2 + 1
	power := make([]float64, bins)
	buf := make([]float64, segmentLength)

	for s := range numSegments {
		offset := s * step
		copy(buf, samples[offset:offset+segmentLength])

		mean := stat.Mean(buf, nil)
		for i := range buf {
			buf[i] = (buf[i] - mean) * win[i]
		}

		coeffs := fft.FFTReal(buf)
		for k := range bins {
			p := cmplx.Abs(coeffs[k])
			p *= p * scale
			// one-sided: fold negative frequencies except DC and Nyquist
			if k != 0 && !(segmentLength%2 == 0 && k == segmentLength/2) {
				p *= 2
			}
			power[k] += p
		}
	}

	floats.Scale(1/float64(numSegments), power)

	return &PSDEstimate{
		Frequencies: OneSidedFrequencies(segmentLength, sampleRate),
		Power:       power,
		Segments:    numSegments,
	}, nil
}

// Interpolate evaluates the PSD at freqs by linear interpolation, clamping
// to the end values outside the estimated range and to floor from below.
func (p *PSDEstimate) Interpolate(freqs []float64, floor float64) ([]float64, error) {
	if len(p.Frequencies) != len(p.Power) {
		return nil, fmt.Errorf("psd frequencies/power length mismatch: %d != %d", len(p.Frequencies), len(p.Power))
	}
	if len(p.Frequencies) < 2 {
		return nil, fmt.Errorf("psd needs at least 2 bins, got %d", len(p.Frequencies))
	}

	var pl interp.PiecewiseLinear
	if err := pl.Fit(p.Frequencies, p.Power); err != nil {
		return nil, fmt.Errorf("failed to fit psd interpolant: %w", err)
	}

	lo := p.Frequencies[0]
	hi := p.Frequencies[len(p.Frequencies)-1]

	out := make([]float64, len(freqs))
	for i, f := range freqs {
		v := pl.Predict(common.Clamp(f, lo, hi))
		if !(v > floor) {
			v = floor
		}
		out[i] = v
	}
	return out, nil
}
