package compare

import (
	"bytes"
	"math"
	"math/rand"
	"testing"

	"github.com/Rom0219/EDR-ringdown-search/pkg/estimator"
	"github.com/Rom0219/EDR-ringdown-search/pkg/templates"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fitWithModel(variant templates.Variant, model []float64, k int) *estimator.FitResult {
	return &estimator.FitResult{
		Variant: variant,
		Params:  make([]float64, k),
		Model:   model,
	}
}

func TestScoreCriteria(t *testing.T) {
	data := []float64{1, 2, 3, 4}
	model := []float64{1, 2, 2, 4}

	score, err := Score(data, model, 5)
	require.NoError(t, err)
	assert.Equal(t, -0.5, score.LogL)
	assert.Equal(t, 5, score.K)
	assert.InDelta(t, 2*5-2*score.LogL, score.AIC, 1e-12)
	assert.InDelta(t, 5*math.Log(4)-2*score.LogL, score.BIC, 1e-12)

	_, err = Score(data, model[:3], 5)
	assert.Error(t, err)
	_, err = Score(nil, nil, 5)
	assert.Error(t, err)
}

func TestCompareConsistency(t *testing.T) {
	rng := rand.New(rand.NewSource(17))
	n := 328

	data := make([]float64, n)
	grModel := make([]float64, n)
	edrModel := make([]float64, n)
	for i := range data {
		data[i] = rng.NormFloat64()
		grModel[i] = data[i] + 0.3*rng.NormFloat64()
		edrModel[i] = data[i] + 0.2*rng.NormFloat64()
	}

	gr := fitWithModel(templates.GRSingle, grModel, 5)
	edr := fitWithModel(templates.EDRMulti, edrModel, 9)

	report, err := Compare(data, gr, edr)
	require.NoError(t, err)

	assert.Equal(t, n, report.N)
	assert.InDelta(t, 2*float64(report.GR.K)-2*report.GR.LogL, report.GR.AIC, 1e-9)
	assert.InDelta(t, 2*float64(report.EDR.K)-2*report.EDR.LogL, report.EDR.AIC, 1e-9)
	assert.InDelta(t, float64(report.EDR.K)*math.Log(float64(n))-2*report.EDR.LogL, report.EDR.BIC, 1e-9)
	assert.InDelta(t, 2*(report.EDR.LogL-report.GR.LogL), report.LRT, 1e-9)
	assert.InDelta(t, report.GR.BIC-report.EDR.BIC, report.DeltaBIC, 1e-9)
	assert.InDelta(t, math.Exp(report.DeltaBIC/2), report.BayesFactor, 1e-9*report.BayesFactor)
}

func TestBayesFactorSignConsistency(t *testing.T) {
	rng := rand.New(rand.NewSource(2024))
	comparator := NewComparator(0)

	for trial := range 200 {
		n := 50 + rng.Intn(400)
		gr := ModelScore{LogL: -rng.Float64() * 500, K: 5}
		edr := ModelScore{LogL: -rng.Float64() * 500, K: 5 + 4*rng.Intn(2)}
		gr.BIC = float64(gr.K)*math.Log(float64(n)) - 2*gr.LogL
		edr.BIC = float64(edr.K)*math.Log(float64(n)) - 2*edr.LogL

		report := comparator.FromScores(n, gr, edr)

		if report.BayesFactor > 1 {
			assert.Greater(t, report.DeltaBIC, 0.0, "trial %d", trial)
			assert.Equal(t, ModelEDR, report.Favored, "trial %d", trial)
		} else {
			assert.Equal(t, ModelGR, report.Favored, "trial %d", trial)
		}
	}
}

func TestScoreFewerParametersNeverWorse(t *testing.T) {
	data := []float64{0.3, -0.1, 0.7, 0.2, -0.5, 0.05, 0.4, -0.2}
	model := []float64{0.25, -0.1, 0.6, 0.25, -0.45, 0.0, 0.4, -0.1}

	tests := []struct {
		name        string
		fewer, more int
	}{
		{"single vs single", 5, 5},
		{"single vs multi", 5, 9},
		{"two vs three modes", 9, 13},
		{"one extra parameter", 4, 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			small, err := Score(data, model, tt.fewer)
			require.NoError(t, err)
			large, err := Score(data, model, tt.more)
			require.NoError(t, err)

			assert.Equal(t, small.LogL, large.LogL)
			assert.LessOrEqual(t, small.AIC, large.AIC)
			assert.LessOrEqual(t, small.BIC, large.BIC)
		})
	}
}

func TestStrictRuleFavorsAnyBayesFactorAboveOne(t *testing.T) {
	gr := ModelScore{K: 5, BIC: 30}
	edr := ModelScore{K: 5, BIC: 30 - 5e-7}

	report := NewComparator(0).FromScores(100, gr, edr)
	assert.Greater(t, report.BayesFactor, 1.0)
	assert.Equal(t, ModelEDR, report.Favored)

	// negative tolerances fall back to the strict rule
	report = NewComparator(-1).FromScores(100, gr, edr)
	assert.Equal(t, 0.0, report.TieTolerance)
	assert.Equal(t, ModelEDR, report.Favored)

	// an explicit margin keeps GR for improvements within it
	report = NewComparator(1e-6).FromScores(100, gr, edr)
	assert.Equal(t, ModelGR, report.Favored)
}

func TestCompareIdempotent(t *testing.T) {
	data := []float64{0.5, -0.2, 0.1, 0.8, -0.4}
	gr := fitWithModel(templates.GRSingle, []float64{0.4, -0.1, 0.1, 0.7, -0.3}, 5)
	edr := fitWithModel(templates.EDRSingle, []float64{0.5, -0.2, 0.0, 0.8, -0.5}, 5)

	a, err := Compare(data, gr, edr)
	require.NoError(t, err)
	b, err := Compare(data, gr, edr)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestTieFavorsGR(t *testing.T) {
	data := []float64{1, 2, 3}
	same := []float64{1, 2, 3}

	report, err := Compare(data, fitWithModel(templates.GRSingle, same, 5), fitWithModel(templates.EDRSingle, same, 5))
	require.NoError(t, err)
	assert.Equal(t, 0.0, report.DeltaBIC)
	assert.Equal(t, 1.0, report.BayesFactor)
	assert.Equal(t, ModelGR, report.Favored)

	// any strict improvement moves the preference to EDR
	edrModel := []float64{1, 2, 3 - 1e-5}
	report, err = Compare(data, fitWithModel(templates.GRSingle, []float64{1, 2, 3 - 2e-5}, 5), fitWithModel(templates.EDRSingle, edrModel, 5))
	require.NoError(t, err)
	assert.Greater(t, report.DeltaBIC, 0.0)
	assert.Equal(t, ModelEDR, report.Favored)
}

func TestCompareRequiresBothFits(t *testing.T) {
	_, err := Compare([]float64{1}, nil, fitWithModel(templates.EDRSingle, []float64{1}, 5))
	assert.Error(t, err)
}

func TestTextReport(t *testing.T) {
	gr := &estimator.FitResult{
		Variant:    templates.GRSingle,
		Params:     []float64{1, 251.2, 0.0039, 0.3, 0.008},
		ParamNames: []string{"A", "f0", "tau", "phi", "t0"},
		Converged:  true,
		Status:     "GradientThreshold",
	}
	edr := &estimator.FitResult{
		Variant:    templates.EDRSingle,
		Params:     []float64{1, 0, 0, 0.3, 0.008},
		ParamNames: []string{"A", "delta_omega_ratio", "delta_tau_ratio", "phi", "t0"},
	}
	report := NewComparator(0).FromScores(328, ModelScore{K: 5}, ModelScore{K: 5})

	var buf bytes.Buffer
	tr := &TextReport{Event: "GW150914", Detector: "H1", GR: gr, EDR: edr, Report: report, Notes: []string{"synthetic"}}
	require.NoError(t, tr.Write(&buf))

	out := buf.String()
	assert.Contains(t, out, "GW150914 / H1")
	assert.Contains(t, out, "Delta Omega Ratio")
	assert.Contains(t, out, "Favored model")
	assert.Contains(t, out, "GR")
	assert.Contains(t, out, "synthetic")
}
