package templates

import (
	"fmt"
	"math"
)

// SolarMassSeconds is G·M_sun/c³ in seconds
const SolarMassSeconds = 4.925491e-6

// Mode labels a quasi-normal mode by its (l, m) indices
type Mode string

const (
	Mode22 Mode = "22"
	Mode33 Mode = "33"
	Mode21 Mode = "21"
)

// Baseline is the GR frequency and damping time of one mode
type Baseline struct {
	Mode        Mode    `json:"mode"`
	Frequency   float64 `json:"frequency"`    // Hz
	DampingTime float64 `json:"damping_time"` // s
}

// BaselineFunc returns the GR frequency and damping time of a mode for a remnant of the
// given mass (solar masses) and dimensionless spin
type BaselineFunc func(mass, spin float64, mode Mode) (freq, tau float64, err error)

type qnmFit struct {
	f1, f2, f3 float64
	q1, q2, q3 float64
}

// fundamental-overtone fits for Kerr quasi-normal modes
var qnmFits = map[Mode]qnmFit{
	Mode22: {f1: 1.5251, f2: -1.1568, f3: 0.1292, q1: 0.7000, q2: 1.4187, q3: -0.4990},
	Mode33: {f1: 1.8956, f2: -1.3043, f3: 0.1818, q1: 0.9000, q2: 2.3430, q3: -0.4810},
	Mode21: {f1: 0.6000, f2: -0.2339, f3: 0.4175, q1: -0.3000, q2: 2.3561, q3: -0.2277},
}

// FreqTau evaluates the phenomenological Kerr QNM fits:
// f = (f1 + f2(1-χ)^f3) / (2πM), Q = q1 + q2(1-χ)^q3, τ = Q/(πf)
func FreqTau(mass, spin float64, mode Mode) (float64, float64, error) {
	fit, ok := qnmFits[mode]
	if !ok {
		return 0, 0, fmt.Errorf("unsupported mode: %q", mode)
	}
	if !(mass > 0) {
		return 0, 0, fmt.Errorf("remnant mass must be positive, got %v", mass)
	}
	if spin < 0 || spin >= 1 {
		return 0, 0, fmt.Errorf("remnant spin must be in [0, 1), got %v", spin)
	}

	m := mass * SolarMassSeconds
	x := 1 - spin
	freq := (fit.f1 + fit.f2*math.Pow(x, fit.f3)) / (2 * math.Pi * m)
	q := fit.q1 + fit.q2*math.Pow(x, fit.q3)
	if !(freq > 0) || !(q > 0) {
		return 0, 0, fmt.Errorf("mode %s has no physical QNM for spin %v", mode, spin)
	}
	return freq, q / (math.Pi * freq), nil
}

// Baselines evaluates fn for every mode. A nil fn uses FreqTau.
func Baselines(fn BaselineFunc, mass, spin float64, modes []Mode) ([]Baseline, error) {
	if fn == nil {
		fn = FreqTau
	}
	baselines := make([]Baseline, 0, len(modes))
	for _, mode := range modes {
		freq, tau, err := fn(mass, spin, mode)
		if err != nil {
			return nil, fmt.Errorf("baseline for mode %s: %w", mode, err)
		}
		baselines = append(baselines, Baseline{Mode: mode, Frequency: freq, DampingTime: tau})
	}
	return baselines, nil
}

// ParseModes parses mode labels such as "22" or "(3,3)"
func ParseModes(labels []string) ([]Mode, error) {
	modes := make([]Mode, 0, len(labels))
	for _, label := range labels {
		clean := make([]rune, 0, 2)
		for _, r := range label {
			if r >= '0' && r <= '9' {
				clean = append(clean, r)
			}
		}
		mode := Mode(clean)
		if _, ok := qnmFits[mode]; !ok {
			return nil, fmt.Errorf("unsupported mode: %q", label)
		}
		modes = append(modes, mode)
	}
	return modes, nil
}
