package templates

import (
	"fmt"
	"math"
)

// Variant tags the ringdown model family
type Variant string

const (
	GRSingle  Variant = "gr_single"
	GRMulti   Variant = "gr_multi"
	EDRSingle Variant = "edr_single"
	EDRMulti  Variant = "edr_multi"
)

// ParseVariant validates a variant name
func ParseVariant(s string) (Variant, error) {
	switch v := Variant(s); v {
	case GRSingle, GRMulti, EDRSingle, EDRMulti:
		return v, nil
	default:
		return "", fmt.Errorf("unknown template variant: %q", s)
	}
}

// IsEDR reports whether the variant is parameterized by fractional shifts
func (v Variant) IsEDR() bool {
	return v == EDRSingle || v == EDRMulti
}

// IsMulti reports whether the variant sums several modes
func (v Variant) IsMulti() bool {
	return v == GRMulti || v == EDRMulti
}

// Template evaluates a ringdown model. Parameter vectors for M modes are laid out as
//
//	[A_1..A_M, x_1, y_1, ..., x_M, y_M, φ_1..φ_M, t0]
//
// with (x, y) = (f0, τ) for GR and (δω/ω, δτ/τ) for EDR. All modes share t0.
type Template struct {
	Variant   Variant    `json:"variant"`
	Baselines []Baseline `json:"baselines"`
}

// NewTemplate creates a template. Single-mode variants use the first baseline only.
func NewTemplate(variant Variant, baselines []Baseline) (*Template, error) {
	if _, err := ParseVariant(string(variant)); err != nil {
		return nil, err
	}
	if len(baselines) == 0 {
		return nil, fmt.Errorf("%s template needs at least one baseline mode", variant)
	}
	if !variant.IsMulti() {
		baselines = baselines[:1]
	}
	for _, b := range baselines {
		if !(b.Frequency > 0) || !(b.DampingTime > 0) {
			return nil, fmt.Errorf("baseline for mode %s must have positive frequency and damping time", b.Mode)
		}
	}

	bs := make([]Baseline, len(baselines))
	copy(bs, baselines)
	return &Template{Variant: variant, Baselines: bs}, nil
}

// NumModes returns M
func (t *Template) NumModes() int {
	return len(t.Baselines)
}

// NumParams returns the parameter vector length 4M+1
func (t *Template) NumParams() int {
	return 4*t.NumModes() + 1
}

// AmpIndex returns the index of A_i
func (t *Template) AmpIndex(i int) int { return i }

// ShapeIndex returns the index of x_i; y_i follows it
func (t *Template) ShapeIndex(i int) int { return t.NumModes() + 2*i }

// PhaseIndex returns the index of φ_i
func (t *Template) PhaseIndex(i int) int { return 3*t.NumModes() + i }

// OnsetIndex returns the index of t0
func (t *Template) OnsetIndex() int { return 4 * t.NumModes() }

// ParamNames returns a name per parameter slot
func (t *Template) ParamNames() []string {
	m := t.NumModes()
	names := make([]string, t.NumParams())

	x, y := "f0", "tau"
	if t.Variant.IsEDR() {
		x, y = "delta_omega_ratio", "delta_tau_ratio"
	}

	suffix := func(i int) string {
		if !t.Variant.IsMulti() {
			return ""
		}
		return "_" + string(t.Baselines[i].Mode)
	}

	for i := range m {
		names[t.AmpIndex(i)] = "A" + suffix(i)
		names[t.ShapeIndex(i)] = x + suffix(i)
		names[t.ShapeIndex(i)+1] = y + suffix(i)
		names[t.PhaseIndex(i)] = "phi" + suffix(i)
	}
	names[t.OnsetIndex()] = "t0"
	return names
}

// ModeParams resolves the physical amplitude, frequency, damping time and phase of mode i
func (t *Template) ModeParams(params []float64, i int) (amp, freq, tau, phase float64) {
	amp = params[t.AmpIndex(i)]
	x := params[t.ShapeIndex(i)]
	y := params[t.ShapeIndex(i)+1]
	phase = params[t.PhaseIndex(i)]

	if t.Variant.IsEDR() {
		b := t.Baselines[i]
		return amp, b.Frequency * (1 + x), b.DampingTime * (1 - y), phase
	}
	return amp, x, y, phase
}

// Validate checks a parameter vector against the template
func (t *Template) Validate(params []float64) error {
	if len(params) != t.NumParams() {
		return fmt.Errorf("%s template expects %d parameters, got %d", t.Variant, t.NumParams(), len(params))
	}
	for i := range t.NumModes() {
		_, freq, tau, _ := t.ModeParams(params, i)
		if !(tau > 0) {
			return fmt.Errorf("mode %d damping time must be positive, got %v", i, tau)
		}
		if math.IsNaN(freq) {
			return fmt.Errorf("mode %d frequency is NaN", i)
		}
	}
	return nil
}

// Evaluate returns the template at each time. Values are zero for t < t0.
func (t *Template) Evaluate(params, times []float64) ([]float64, error) {
	if err := t.Validate(params); err != nil {
		return nil, err
	}
	out := make([]float64, len(times))
	t.EvaluateInto(out, params, times)
	return out, nil
}

// EvaluateInto writes the template into dst without validating params
func (t *Template) EvaluateInto(dst, params, times []float64) {
	t0 := params[t.OnsetIndex()]
	for k := range dst {
		dst[k] = 0
	}
	for i := range t.NumModes() {
		amp, freq, tau, phase := t.ModeParams(params, i)
		for k, tt := range times {
			s := tt - t0
			if s < 0 {
				continue
			}
			dst[k] += amp * math.Exp(-s/tau) * math.Sin(2*math.Pi*freq*s+phase)
		}
	}
}

// Objective returns ½Σ(d-h)²
func (t *Template) Objective(params, times, data []float64) float64 {
	model := make([]float64, len(times))
	t.EvaluateInto(model, params, times)
	sum := 0.0
	for k := range data {
		r := data[k] - model[k]
		sum += r * r
	}
	return 0.5 * sum
}

// ObjectiveGradient writes the gradient of ½Σ(d-h)² into grad and returns the objective
func (t *Template) ObjectiveGradient(grad, params, times, data []float64) float64 {
	model := make([]float64, len(times))
	t.EvaluateInto(model, params, times)

	residual := make([]float64, len(times))
	obj := 0.0
	for k := range data {
		residual[k] = data[k] - model[k]
		obj += residual[k] * residual[k]
	}

	for i := range grad {
		grad[i] = 0
	}

	t0 := params[t.OnsetIndex()]
	for i := range t.NumModes() {
		amp, freq, tau, phase := t.ModeParams(params, i)

		var dA, dF, dTau, dPhi, dT0 float64
		for k, tt := range times {
			s := tt - t0
			if s < 0 {
				continue
			}
			e := math.Exp(-s / tau)
			arg := 2*math.Pi*freq*s + phase
			sn, cs := math.Sincos(arg)
			r := residual[k]

			// ∂(½r²)/∂p = -r·∂h/∂p
			dA -= r * e * sn
			dF -= r * amp * e * cs * 2 * math.Pi * s
			dTau -= r * amp * e * sn * s / (tau * tau)
			dPhi -= r * amp * e * cs
			dT0 -= r * amp * (e*sn/tau - e*cs*2*math.Pi*freq)
		}

		grad[t.AmpIndex(i)] = dA
		grad[t.PhaseIndex(i)] = dPhi
		grad[t.OnsetIndex()] += dT0

		if t.Variant.IsEDR() {
			b := t.Baselines[i]
			grad[t.ShapeIndex(i)] = b.Frequency * dF
			grad[t.ShapeIndex(i)+1] = -b.DampingTime * dTau
		} else {
			grad[t.ShapeIndex(i)] = dF
			grad[t.ShapeIndex(i)+1] = dTau
		}
	}

	return 0.5 * obj
}
