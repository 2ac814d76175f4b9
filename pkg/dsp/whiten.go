package dsp

import (
	"fmt"
	"math"

	"github.com/RyanBlaney/latency-benchmark-common/logging"
	"github.com/Rom0219/EDR-ringdown-search/pkg/common"
	"github.com/mjibson/go-dsp/fft"
	"gonum.org/v1/gonum/stat"
)

// Normalization selects how whitened bins are scaled
type Normalization string

const (
	// NormalizationHalfPSD divides by sqrt(PSD·fs/2); white input comes out with unit variance
	NormalizationHalfPSD Normalization = "half_psd"
	// NormalizationPSD divides by sqrt(PSD·fs)
	NormalizationPSD Normalization = "psd"
)

// WhitenConfig holds whitening parameters
type WhitenConfig struct {
	PSDSegmentLength float64       `json:"psd_segment_length"` // seconds
	Overlap          float64       `json:"overlap"`            // fraction of a sub-segment
	Normalization    Normalization `json:"normalization"`
	Floor            float64       `json:"floor"`
	Detrend          bool          `json:"detrend"`
	HighpassFreq     float64       `json:"highpass_freq"` // Hz, 0 disables
	Notches          []float64     `json:"notches"`       // Hz
	NotchQ           float64       `json:"notch_q"`
}

// DefaultWhitenConfig returns the plain whitening setup without line removal
func DefaultWhitenConfig() *WhitenConfig {
	return &WhitenConfig{
		PSDSegmentLength: 2.0,
		Overlap:          0.5,
		Normalization:    NormalizationHalfPSD,
		Floor:            1e-60,
		NotchQ:           30,
	}
}

// Validate checks the whitening configuration
func (c *WhitenConfig) Validate() error {
	if c.PSDSegmentLength <= 0 {
		return fmt.Errorf("psd segment length must be positive")
	}
	if c.Overlap < 0 || c.Overlap >= 1 {
		return fmt.Errorf("overlap must be in [0, 1)")
	}
	switch c.Normalization {
	case NormalizationHalfPSD, NormalizationPSD:
	default:
		return fmt.Errorf("unknown normalization: %q", c.Normalization)
	}
	if c.Floor <= 0 {
		return fmt.Errorf("psd floor must be positive")
	}
	if len(c.Notches) > 0 && c.NotchQ <= 0 {
		return fmt.Errorf("notch Q must be positive")
	}
	return nil
}

// Whitener flattens the noise spectrum of a segment
type Whitener struct {
	config *WhitenConfig
	logger logging.Logger
}

// NewWhitener creates a whitener
func NewWhitener(config *WhitenConfig, logger logging.Logger) *Whitener {
	if config == nil {
		config = DefaultWhitenConfig()
	}
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	return &Whitener{
		config: config,
		logger: logger.WithFields(logging.Fields{"component": "whitener"}),
	}
}

// Whiten divides the spectrum of seg by the ASD estimated from seg itself
func (w *Whitener) Whiten(seg *common.Segment) (*common.Segment, error) {
	return w.WhitenWithReference(seg, seg)
}

// WhitenWithReference whitens seg using the PSD of ref. The output has the
// length, rate and origin of seg.
func (w *Whitener) WhitenWithReference(seg, ref *common.Segment) (*common.Segment, error) {
	if err := seg.Validate(); err != nil {
		return nil, err
	}
	if err := ref.Validate(); err != nil {
		return nil, err
	}
	if err := w.config.Validate(); err != nil {
		return nil, common.NewAnalysisError(common.KindInvalidInput, "whiten", "invalid configuration", err)
	}
	if ref.SampleRate != seg.SampleRate {
		return nil, common.Errorf(common.KindInvalidInput, "whiten",
			"reference sample rate %v differs from segment rate %v", ref.SampleRate, seg.SampleRate)
	}

	fs := seg.SampleRate
	nperseg := int(math.Round(w.config.PSDSegmentLength * fs))
	if len(seg.Samples) < nperseg {
		return nil, common.Errorf(common.KindInsufficientSamples, "whiten",
			"segment has %d samples, shorter than one PSD sub-segment (%d)", len(seg.Samples), nperseg)
	}

	data := w.prepare(seg.Samples)
	refData := data
	if ref != seg {
		refData = w.prepare(ref.Samples)
	}

	psd, err := Welch(refData, fs, nperseg, w.config.Overlap)
	if err != nil {
		return nil, err
	}

	n := len(data)
	freqs := make([]float64, n)
	for k := range n {
		// |f| of bin k, negative frequencies mirrored
		freqs[k] = float64(min(k, n-k)) * fs / float64(n)
	}

	power, err := psd.Interpolate(freqs, w.config.Floor)
	if err != nil {
		return nil, common.NewAnalysisError(common.KindInvalidInput, "whiten", "psd interpolation failed", err)
	}

	norm := fs / 2
	if w.config.Normalization == NormalizationPSD {
		norm = fs
	}

	coeffs := fft.FFTReal(data)
	masked := 0
	for k := range coeffs {
		if w.rejected(freqs[k]) {
			coeffs[k] = 0
			masked++
			continue
		}
		coeffs[k] /= complex(math.Sqrt(power[k]*norm), 0)
	}

	inverse := fft.IFFT(coeffs)
	out := make([]float64, n)
	for i, c := range inverse {
		out[i] = real(c)
	}

	w.logger.Debug("Whitened segment", logging.Fields{
		"samples":       n,
		"psd_segments":  psd.Segments,
		"psd_bins":      len(psd.Power),
		"masked_bins":   masked,
		"psd_flatness":  SpectralFlatness(psd.Power[1:]),
		"normalization": w.config.Normalization,
	})

	return &common.Segment{Samples: out, SampleRate: fs, Start: seg.Start}, nil
}

func (w *Whitener) prepare(samples []float64) []float64 {
	out := make([]float64, len(samples))
	copy(out, samples)
	if w.config.Detrend {
		Detrend(out)
	}
	return out
}

// rejected reports whether the highpass or a notch removes frequency f
func (w *Whitener) rejected(f float64) bool {
	if w.config.HighpassFreq > 0 && f < w.config.HighpassFreq {
		return true
	}
	for _, f0 := range w.config.Notches {
		if math.Abs(f-f0) <= f0/(2*w.config.NotchQ) {
			return true
		}
	}
	return false
}

// Detrend removes the least-squares line from x in place
func Detrend(x []float64) {
	if len(x) < 2 {
		return
	}
	idx := make([]float64, len(x))
	for i := range idx {
		idx[i] = float64(i)
	}
	alpha, beta := stat.LinearRegression(idx, x, nil, false)
	for i := range x {
		x[i] -= alpha + beta*idx[i]
	}
}
