package templates

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testTimes(n int, fs float64) []float64 {
	times := make([]float64, n)
	for i := range times {
		times[i] = float64(i) / fs
	}
	return times
}

func testBaselines() []Baseline {
	return []Baseline{
		{Mode: Mode22, Frequency: 251.2, DampingTime: 0.0039},
		{Mode: Mode33, Frequency: 390.0, DampingTime: 0.0037},
	}
}

func testParams(tmpl *Template, rng *rand.Rand) []float64 {
	params := make([]float64, tmpl.NumParams())
	for i := range tmpl.NumModes() {
		params[tmpl.AmpIndex(i)] = 0.5 + rng.Float64()
		if tmpl.Variant.IsEDR() {
			params[tmpl.ShapeIndex(i)] = rng.Float64()*0.4 - 0.2
			params[tmpl.ShapeIndex(i)+1] = rng.Float64()*0.4 - 0.2
		} else {
			params[tmpl.ShapeIndex(i)] = 200 + 200*rng.Float64()
			params[tmpl.ShapeIndex(i)+1] = 0.002 + 0.004*rng.Float64()
		}
		params[tmpl.PhaseIndex(i)] = rng.Float64()*2 - 1
	}
	params[tmpl.OnsetIndex()] = 0.004 + 0.01*rng.Float64()
	return params
}

func allTemplates(t *testing.T) []*Template {
	var out []*Template
	for _, v := range []Variant{GRSingle, GRMulti, EDRSingle, EDRMulti} {
		tmpl, err := NewTemplate(v, testBaselines())
		require.NoError(t, err)
		out = append(out, tmpl)
	}
	return out
}

func TestParamLayout(t *testing.T) {
	single, err := NewTemplate(GRSingle, testBaselines())
	require.NoError(t, err)
	assert.Equal(t, 5, single.NumParams())
	assert.Equal(t, []string{"A", "f0", "tau", "phi", "t0"}, single.ParamNames())

	multi, err := NewTemplate(EDRMulti, testBaselines())
	require.NoError(t, err)
	assert.Equal(t, 9, multi.NumParams())
	assert.Equal(t, []string{
		"A_22", "A_33",
		"delta_omega_ratio_22", "delta_tau_ratio_22",
		"delta_omega_ratio_33", "delta_tau_ratio_33",
		"phi_22", "phi_33", "t0",
	}, multi.ParamNames())
}

func TestCausality(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	times := testTimes(328, 4096)

	for _, tmpl := range allTemplates(t) {
		params := testParams(tmpl, rng)
		t0 := params[tmpl.OnsetIndex()]

		h, err := tmpl.Evaluate(params, times)
		require.NoError(t, err)

		nonzero := false
		for k, tt := range times {
			if tt < t0 {
				assert.Equal(t, 0.0, h[k], "%s at t=%v", tmpl.Variant, tt)
			} else if h[k] != 0 {
				nonzero = true
			}
		}
		assert.True(t, nonzero, tmpl.Variant)
	}
}

func TestEDRWithZeroShiftsEqualsGR(t *testing.T) {
	times := testTimes(328, 4096)
	baselines := testBaselines()

	gr, err := NewTemplate(GRMulti, baselines)
	require.NoError(t, err)
	edr, err := NewTemplate(EDRMulti, baselines)
	require.NoError(t, err)

	grParams := []float64{1, 0.3, 251.2, 0.0039, 390.0, 0.0037, 0.2, -0.4, 0.008}
	edrParams := []float64{1, 0.3, 0, 0, 0, 0, 0.2, -0.4, 0.008}

	a, err := gr.Evaluate(grParams, times)
	require.NoError(t, err)
	b, err := edr.Evaluate(edrParams, times)
	require.NoError(t, err)
	assert.InDeltaSlice(t, a, b, 1e-12)
}

func TestEDRShiftsScaleFrequencyAndDamping(t *testing.T) {
	edr, err := NewTemplate(EDRSingle, testBaselines())
	require.NoError(t, err)

	_, freq, tau, _ := edr.ModeParams([]float64{1, 0.1, 0.2, 0, 0}, 0)
	assert.InDelta(t, 251.2*1.1, freq, 1e-9)
	assert.InDelta(t, 0.0039*0.8, tau, 1e-12)
}

func TestGRSingleMatchesClosedForm(t *testing.T) {
	tmpl, err := NewTemplate(GRSingle, testBaselines())
	require.NoError(t, err)

	times := []float64{0, 0.005, 0.01, 0.02}
	h, err := tmpl.Evaluate([]float64{2, 250, 0.004, 0.3, 0.005}, times)
	require.NoError(t, err)

	assert.Equal(t, 0.0, h[0])
	assert.InDelta(t, 2*math.Sin(0.3), h[1], 1e-12)
	s := 0.015
	assert.InDelta(t, 2*math.Exp(-s/0.004)*math.Sin(2*math.Pi*250*s+0.3), h[3], 1e-12)
}

func TestGradientMatchesFiniteDifference(t *testing.T) {
	rng := rand.New(rand.NewSource(9))
	times := testTimes(200, 4096)

	for _, tmpl := range allTemplates(t) {
		params := testParams(tmpl, rng)
		// keep t0 off the sample grid so the objective is smooth around it
		params[tmpl.OnsetIndex()] = 10.5 / 4096

		data := make([]float64, len(times))
		for k := range data {
			data[k] = rng.NormFloat64()
		}

		grad := make([]float64, len(params))
		tmpl.ObjectiveGradient(grad, params, times, data)

		for j := range params {
			step := 1e-6 * math.Max(1, math.Abs(params[j]))
			if j == tmpl.OnsetIndex() {
				step = 1e-8
			}
			plus := append([]float64(nil), params...)
			minus := append([]float64(nil), params...)
			plus[j] += step
			minus[j] -= step

			numeric := (tmpl.Objective(plus, times, data) - tmpl.Objective(minus, times, data)) / (2 * step)
			assert.InDelta(t, numeric, grad[j], 1e-4*math.Max(1, math.Abs(numeric)),
				"%s %s", tmpl.Variant, tmpl.ParamNames()[j])
		}
	}
}

func TestObjectiveGradientReturnsObjective(t *testing.T) {
	tmpl, err := NewTemplate(GRSingle, testBaselines())
	require.NoError(t, err)
	times := testTimes(100, 4096)
	data := make([]float64, len(times))
	params := []float64{1, 250, 0.004, 0, 0.001}

	grad := make([]float64, 5)
	assert.InDelta(t, tmpl.Objective(params, times, data), tmpl.ObjectiveGradient(grad, params, times, data), 1e-12)
}

func TestEvaluateRejectsBadParams(t *testing.T) {
	tmpl, err := NewTemplate(EDRSingle, testBaselines())
	require.NoError(t, err)

	_, err = tmpl.Evaluate([]float64{1, 0, 0}, testTimes(10, 4096))
	assert.Error(t, err)

	_, err = tmpl.Evaluate([]float64{1, 0, 1.5, 0, 0}, testTimes(10, 4096))
	assert.Error(t, err)

	_, err = NewTemplate("kerr", testBaselines())
	assert.Error(t, err)
	_, err = NewTemplate(GRSingle, nil)
	assert.Error(t, err)
}

func TestFreqTauGW150914(t *testing.T) {
	freq, tau, err := FreqTau(68, 0.67, Mode22)
	require.NoError(t, err)
	assert.InDelta(t, 248.4, freq, 1.0)
	assert.InDelta(t, 0.00406, tau, 0.00005)

	f33, _, err := FreqTau(68, 0.67, Mode33)
	require.NoError(t, err)
	assert.Greater(t, f33, freq)

	_, _, err = FreqTau(68, 1.2, Mode22)
	assert.Error(t, err)
	_, _, err = FreqTau(-1, 0.5, Mode22)
	assert.Error(t, err)
	_, _, err = FreqTau(68, 0.5, "44")
	assert.Error(t, err)
}

func TestBaselinesWithCustomFunc(t *testing.T) {
	fixed := func(mass, spin float64, mode Mode) (float64, float64, error) {
		return 100, 0.01, nil
	}
	bs, err := Baselines(fixed, 60, 0.7, []Mode{Mode22, Mode33})
	require.NoError(t, err)
	assert.Equal(t, []Baseline{
		{Mode: Mode22, Frequency: 100, DampingTime: 0.01},
		{Mode: Mode33, Frequency: 100, DampingTime: 0.01},
	}, bs)

	modes, err := ParseModes([]string{"22", "(3,3)"})
	require.NoError(t, err)
	assert.Equal(t, []Mode{Mode22, Mode33}, modes)
}
