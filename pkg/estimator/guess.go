package estimator

import (
	"math"

	"github.com/RyanBlaney/latency-benchmark-common/logging"
	"github.com/Rom0219/EDR-ringdown-search/pkg/common"
	"github.com/Rom0219/EDR-ringdown-search/pkg/dsp"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Guess holds data-driven starting values for the dominant mode
type Guess struct {
	Amplitude   float64 `json:"amplitude"`
	Frequency   float64 `json:"frequency"`
	DampingTime float64 `json:"damping_time"`
	Phase       float64 `json:"phase"`
	Onset       float64 `json:"onset"`
	// FrequencyFallback and DampingFallback are set when the heuristics had too little to work with
	FrequencyFallback bool `json:"frequency_fallback"`
	DampingFallback   bool `json:"damping_fallback"`
}

// InitialGuess derives starting values from the window: the transient envelope for the
// amplitude, the tapered spectrum peak for the frequency and a log-envelope slope for
// the damping time
func (e *Estimator) InitialGuess(window *common.RingdownWindow) Guess {
	cfg := e.config
	guess := Guess{
		Frequency:   cfg.FallbackFrequency,
		DampingTime: cfg.FallbackDampingTime,
		Phase:       0,
		Onset:       common.Clamp(cfg.InitialOnset, 0, cfg.MaxOnsetOffset),
	}

	if window.Len() == 0 {
		guess.FrequencyFallback = true
		guess.DampingFallback = true
		return guess
	}

	env := dsp.TransientEnvelope(window.Samples)
	guess.Amplitude = floats.Max(env)

	analyzer := dsp.NewSpectralAnalyzer(window.SampleRate, e.logger)
	if f, ok := analyzer.PeakFrequency(window.Samples, cfg.FrequencyBand[0], cfg.FrequencyBand[1], cfg.TaperAlpha); ok {
		guess.Frequency = f
	} else {
		guess.FrequencyFallback = true
	}

	if tau, ok := e.decayFromEnvelope(env, window.Times, guess.Amplitude); ok {
		guess.DampingTime = tau
	} else {
		guess.DampingFallback = true
	}

	e.logger.Debug("Initial guess", logging.Fields{
		"amplitude":          guess.Amplitude,
		"frequency":          guess.Frequency,
		"damping_time":       guess.DampingTime,
		"onset":              guess.Onset,
		"frequency_fallback": guess.FrequencyFallback,
		"damping_fallback":   guess.DampingFallback,
	})

	return guess
}

// decayFromEnvelope fits ln(env) = a + b·t over samples above a fraction of the maximum
// and returns τ = -1/b
func (e *Estimator) decayFromEnvelope(env, times []float64, peak float64) (float64, bool) {
	threshold := e.config.EnvelopeFraction * peak

	xs := make([]float64, 0, len(env))
	ys := make([]float64, 0, len(env))
	for i, v := range env {
		if v > threshold && v > 0 {
			xs = append(xs, times[i])
			ys = append(ys, math.Log(v))
		}
	}
	if len(xs) < e.config.MinEnvelopeSamples {
		return 0, false
	}

	_, slope := stat.LinearRegression(xs, ys, nil, false)
	if !(slope < 0) {
		return 0, false
	}
	return -1 / slope, true
}
