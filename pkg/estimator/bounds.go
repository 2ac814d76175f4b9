package estimator

import (
	"math"

	"github.com/Rom0219/EDR-ringdown-search/pkg/templates"
)

// Bounds is a box constraint on a parameter vector
type Bounds struct {
	Lower []float64 `json:"lower"`
	Upper []float64 `json:"upper"`
}

// boundsFor builds the parameter box for a template given the starting amplitude
func (e *Estimator) boundsFor(tmpl *templates.Template, amp0 float64) Bounds {
	cfg := e.config
	n := tmpl.NumParams()
	b := Bounds{Lower: make([]float64, n), Upper: make([]float64, n)}

	ampMax := math.Max(cfg.AmplitudeScale*amp0, cfg.AmplitudeFloor)

	for i, base := range tmpl.Baselines {
		b.Lower[tmpl.AmpIndex(i)] = 0
		b.Upper[tmpl.AmpIndex(i)] = ampMax

		x, y := tmpl.ShapeIndex(i), tmpl.ShapeIndex(i)+1
		if tmpl.Variant.IsEDR() {
			b.Lower[x], b.Upper[x] = -cfg.ShiftBound, cfg.ShiftBound
			b.Lower[y], b.Upper[y] = -cfg.ShiftBound, cfg.ShiftBound
		} else {
			b.Lower[x], b.Upper[x] = cfg.ShapeRange[0]*base.Frequency, cfg.ShapeRange[1]*base.Frequency
			b.Lower[y], b.Upper[y] = cfg.ShapeRange[0]*base.DampingTime, cfg.ShapeRange[1]*base.DampingTime
		}

		b.Lower[tmpl.PhaseIndex(i)] = -cfg.PhaseBound
		b.Upper[tmpl.PhaseIndex(i)] = cfg.PhaseBound
	}

	b.Lower[tmpl.OnsetIndex()] = 0
	b.Upper[tmpl.OnsetIndex()] = cfg.MaxOnsetOffset
	return b
}

// Clamp projects x into the box
func (b Bounds) Clamp(x []float64) []float64 {
	out := make([]float64, len(x))
	for i, v := range x {
		out[i] = math.Min(math.Max(v, b.Lower[i]), b.Upper[i])
	}
	return out
}

// Contains reports whether x lies inside the box
func (b Bounds) Contains(x []float64) bool {
	for i, v := range x {
		if v < b.Lower[i] || v > b.Upper[i] {
			return false
		}
	}
	return true
}

// the optimizer works on unconstrained u with x = lo + (hi-lo)(1+sin u)/2

// toUnbounded maps x to u, nudging points on the boundary slightly inside
func (b Bounds) toUnbounded(x []float64) []float64 {
	u := make([]float64, len(x))
	for i, v := range x {
		width := b.Upper[i] - b.Lower[i]
		if width <= 0 {
			continue
		}
		r := 2*(v-b.Lower[i])/width - 1
		r = math.Min(math.Max(r, -1+1e-9), 1-1e-9)
		u[i] = math.Asin(r)
	}
	return u
}

// toBounded maps u back into the box
func (b Bounds) toBounded(dst, u []float64) {
	for i, v := range u {
		width := b.Upper[i] - b.Lower[i]
		if width <= 0 {
			dst[i] = b.Lower[i]
			continue
		}
		dst[i] = b.Lower[i] + width*(1+math.Sin(v))/2
	}
}

// chain converts a gradient with respect to x into one with respect to u
func (b Bounds) chain(grad, u []float64) {
	for i, v := range u {
		width := b.Upper[i] - b.Lower[i]
		if width <= 0 {
			grad[i] = 0
			continue
		}
		grad[i] *= width * math.Cos(v) / 2
	}
}
