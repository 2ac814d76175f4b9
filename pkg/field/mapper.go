// Package field maps EDR multi-mode fit parameters onto the phenomenological
// field description used in the reports. The mapping is a heuristic summary of the
// fractional shifts and has no first-principles derivation behind it.
package field

import (
	"fmt"
	"math"

	"github.com/Rom0219/EDR-ringdown-search/pkg/templates"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// CouplingFloor is the dominant amplitude below which mode coupling is reported as zero
const CouplingFloor = 1e-6

// Parameters is the field description derived from an EDR fit
type Parameters struct {
	SpiralIntensity     float64 `json:"spiral_intensity"`
	RadialScale         float64 `json:"radial_scale"`
	EffectiveViscosity  float64 `json:"effective_viscosity"`
	MultipoleAnisotropy float64 `json:"multipole_anisotropy"`
	ModeCoupling        float64 `json:"mode_coupling"`
}

// ModeShifts holds the fitted amplitude and fractional shifts of one mode
type ModeShifts struct {
	Amplitude       float64
	DeltaOmegaRatio float64
	DeltaTauRatio   float64
}

// Map derives field parameters from per-mode shifts. Mode 0 is the dominant mode.
func Map(modes []ModeShifts) (*Parameters, error) {
	if len(modes) == 0 {
		return nil, fmt.Errorf("at least one mode is required")
	}

	dOmega := make([]float64, len(modes))
	dTau := make([]float64, len(modes))
	amps := make([]float64, len(modes))
	for i, m := range modes {
		dOmega[i] = m.DeltaOmegaRatio
		dTau[i] = m.DeltaTauRatio
		amps[i] = m.Amplitude
	}

	meanTau := stat.Mean(dTau, nil)
	anisotropy := stat.PopVariance(dOmega, nil)

	coupling := 0.0
	if math.Abs(amps[0]) > CouplingFloor && len(amps) > 1 {
		coupling = floats.Sum(amps[1:]) / amps[0]
	}

	return &Parameters{
		SpiralIntensity:     1 + dOmega[0],
		RadialScale:         1 - meanTau,
		EffectiveViscosity:  -meanTau,
		MultipoleAnisotropy: anisotropy,
		ModeCoupling:        coupling,
	}, nil
}

// FromParams extracts per-mode shifts from an EDR parameter vector and maps them
func FromParams(tmpl *templates.Template, params []float64) (*Parameters, error) {
	if !tmpl.Variant.IsEDR() {
		return nil, fmt.Errorf("field mapping needs an EDR fit, got %s", tmpl.Variant)
	}
	if err := tmpl.Validate(params); err != nil {
		return nil, err
	}

	modes := make([]ModeShifts, tmpl.NumModes())
	for i := range modes {
		modes[i] = ModeShifts{
			Amplitude:       params[tmpl.AmpIndex(i)],
			DeltaOmegaRatio: params[tmpl.ShapeIndex(i)],
			DeltaTauRatio:   params[tmpl.ShapeIndex(i)+1],
		}
	}
	return Map(modes)
}
