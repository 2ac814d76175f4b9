package dsp

import (
	"math"
	"math/cmplx"

	"github.com/RyanBlaney/latency-benchmark-common/logging"
	"github.com/mjibson/go-dsp/fft"
	"gonum.org/v1/gonum/floats"
)

// SpectralAnalyzer provides the FFT helpers shared by the whitener and the estimator
type SpectralAnalyzer struct {
	sampleRate float64
	logger     logging.Logger
}

// Spectrum holds a one-sided magnitude spectrum
type Spectrum struct {
	Frequencies    []float64 `json:"frequencies"`
	Magnitude      []float64 `json:"magnitude"`
	FreqResolution float64   `json:"freq_resolution"`
}

// NewSpectralAnalyzer creates a new spectral analyzer
func NewSpectralAnalyzer(sampleRate float64, logger logging.Logger) *SpectralAnalyzer {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	return &SpectralAnalyzer{
		sampleRate: sampleRate,
		logger: logger.WithFields(logging.Fields{
			"component":   "spectral_analyzer",
			"sample_rate": sampleRate,
		}),
	}
}

// FFT computes the FFT of a real signal using mjibson/go-dsp
func (sa *SpectralAnalyzer) FFT(x []float64) []complex128 {
	if len(x) == 0 {
		return []complex128{}
	}
	return fft.FFTReal(x)
}

// FrequencyBins returns the n/2+1 one-sided bin frequencies of an n-point FFT
func (sa *SpectralAnalyzer) FrequencyBins(n int) []float64 {
	return OneSidedFrequencies(n, sa.sampleRate)
}

// MagnitudeSpectrum computes the one-sided magnitude spectrum of x
func (sa *SpectralAnalyzer) MagnitudeSpectrum(x []float64) *Spectrum {
	if len(x) == 0 {
		return &Spectrum{}
	}

	coeffs := sa.FFT(x)
	bins := len(x)/2 + 1
	mags := make([]float64, bins)
	for i := range bins {
		mags[i] = cmplx.Abs(coeffs[i])
	}

	return &Spectrum{
		Frequencies:    sa.FrequencyBins(len(x)),
		Magnitude:      mags,
		FreqResolution: sa.sampleRate / float64(len(x)),
	}
}

// PeakFrequency returns the frequency of the largest magnitude bin inside [fmin, fmax]
// after a Tukey(taper) window. ok is false when the band holds no bins.
func (sa *SpectralAnalyzer) PeakFrequency(x []float64, fmin, fmax, taper float64) (float64, bool) {
	if len(x) < 2 {
		return 0, false
	}

	w := Tukey(len(x), taper)
	tapered := make([]float64, len(x))
	floats.MulTo(tapered, x, w)

	spectrum := sa.MagnitudeSpectrum(tapered)

	best := -1
	for i, f := range spectrum.Frequencies {
		if f < fmin || f > fmax {
			continue
		}
		if best < 0 || spectrum.Magnitude[i] > spectrum.Magnitude[best] {
			best = i
		}
	}
	if best < 0 {
		sa.logger.Debug("No spectral bins in search band", logging.Fields{
			"fmin":       fmin,
			"fmax":       fmax,
			"resolution": spectrum.FreqResolution,
		})
		return 0, false
	}
	return spectrum.Frequencies[best], true
}

// OneSidedFrequencies returns k*fs/n for k = 0..n/2
func OneSidedFrequencies(n int, sampleRate float64) []float64 {
	if n <= 0 {
		return nil
	}
	bins := n/2 + 1
	freqs := make([]float64, bins)
	for k := range bins {
		freqs[k] = float64(k) * sampleRate / float64(n)
	}
	return freqs
}

// AnalyticEnvelope returns |x + i·H(x)| computed with the FFT Hilbert transform
func AnalyticEnvelope(x []float64) []float64 {
	n := len(x)
	if n == 0 {
		return nil
	}

	coeffs := fft.FFTReal(x)

	// keep DC (and Nyquist for even n), double positive frequencies, drop negative ones
	for k := 1; k < n; k++ {
		switch {
		case 2*k < n:
			coeffs[k] *= 2
		case 2*k == n:
		default:
			coeffs[k] = 0
		}
	}

	analytic := fft.IFFT(coeffs)
	env := make([]float64, n)
	for i, c := range analytic {
		env[i] = cmplx.Abs(c)
	}
	return env
}

// TransientEnvelope is the analytic envelope of a one-shot signal. The input is zero-padded
// to twice its length first so a sharp onset cannot wrap around into the tail.
func TransientEnvelope(x []float64) []float64 {
	n := len(x)
	if n == 0 {
		return nil
	}
	padded := make([]float64, 2*n)
	copy(padded, x)
	return AnalyticEnvelope(padded)[:n]
}

// Tukey returns a tapered cosine window of length n. alpha = 0 gives a rectangular
// window and alpha = 1 a Hann window.
func Tukey(n int, alpha float64) []float64 {
	w := make([]float64, n)
	if n == 1 {
		w[0] = 1
		return w
	}
	if alpha <= 0 {
		for i := range w {
			w[i] = 1
		}
		return w
	}
	alpha = math.Min(alpha, 1)

	width := alpha * float64(n-1) / 2
	for i := range n {
		x := float64(i)
		switch {
		case x < width:
			w[i] = 0.5 * (1 + math.Cos(math.Pi*(x/width-1)))
		case x > float64(n-1)-width:
			w[i] = 0.5 * (1 + math.Cos(math.Pi*((x-float64(n-1))/width+1)))
		default:
			w[i] = 1
		}
	}
	return w
}

// SpectralFlatness computes the ratio of geometric to arithmetic mean of a
// power spectrum. White spectra approach 1.
func SpectralFlatness(spectrum []float64) float64 {
	if len(spectrum) == 0 {
		return 0
	}

	logSum := 0.0
	count := 0
	for _, p := range spectrum {
		if p > 1e-300 {
			logSum += math.Log(p)
			count++
		}
	}
	if count == 0 {
		return 0
	}

	geometricMean := math.Exp(logSum / float64(count))
	arithmeticMean := floats.Sum(spectrum) / float64(len(spectrum))
	if arithmeticMean == 0 {
		return 0
	}
	return geometricMean / arithmeticMean
}
