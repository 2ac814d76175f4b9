package estimator

import (
	"context"
	"math"
	"math/rand"
	"testing"

	"github.com/Rom0219/EDR-ringdown-search/pkg/common"
	"github.com/Rom0219/EDR-ringdown-search/pkg/templates"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

const fs = 4096.0

type EstimatorTestSuite struct {
	suite.Suite
	estimator *Estimator
	baselines []templates.Baseline
}

func (s *EstimatorTestSuite) SetupTest() {
	s.estimator = New(nil, nil)
	s.baselines = []templates.Baseline{
		{Mode: templates.Mode22, Frequency: 248.4, DampingTime: 0.00406},
		{Mode: templates.Mode33, Frequency: 390.0, DampingTime: 0.0039},
	}
}

func TestEstimatorSuite(t *testing.T) {
	suite.Run(t, new(EstimatorTestSuite))
}

// windowSamples spans 0.08 s at fs
var windowSamples = int(math.Floor(0.08*fs)) + 1

// synthWindow returns a 0.08 s window holding a GR-single ringdown plus seeded noise
func synthWindow(amp, freq, tau, phase, onset, sigma float64, seed int64) *common.RingdownWindow {
	n := windowSamples
	rng := rand.New(rand.NewSource(seed))
	samples := make([]float64, n)
	for i := range samples {
		t := float64(i) / fs
		if s := t - onset; s >= 0 {
			samples[i] = amp * math.Exp(-s/tau) * math.Sin(2*math.Pi*freq*s+phase)
		}
		samples[i] += sigma * rng.NormFloat64()
	}
	return common.NewRingdownWindow(samples, fs)
}

func (s *EstimatorTestSuite) TestGRParameterRecovery() {
	window := synthWindow(1.0, 250, 0.004, 0, 0.01, 0.05, 42)
	tmpl, err := templates.NewTemplate(templates.GRSingle, s.baselines)
	s.Require().NoError(err)

	fit, err := s.estimator.Fit(context.Background(), window, tmpl)
	s.Require().NotNil(fit)
	if err != nil {
		s.Require().ErrorIs(err, common.ErrOptimizerDidNotConverge)
	}

	f0, ok := fit.Param("f0")
	s.Require().True(ok)
	tau, _ := fit.Param("tau")
	amp, _ := fit.Param("A")
	t0, _ := fit.Param("t0")

	s.InDelta(250, f0, 250*0.02)
	s.InDelta(0.004, tau, 0.004*0.10)
	s.InDelta(1.0, amp, 0.2)
	s.InDelta(0.01, t0, 0.002)
	// unit-variance SNR of a near-perfect fit is the template norm
	norm := 0.0
	for _, v := range fit.Model {
		norm += v * v
	}
	s.InDelta(math.Sqrt(norm), fit.SNR, 0.2)
	s.Greater(fit.SNR, 1.0)
	s.False(fit.Degenerate)
	s.Len(fit.Model, window.Len())
	s.Len(fit.Residual, window.Len())
	s.True(fit.Bounds.Contains(fit.Params))
}

func (s *EstimatorTestSuite) TestEDRRecoversShifts() {
	base := s.baselines[0]
	window := synthWindow(1.0, base.Frequency*1.1, base.DampingTime*0.9, 0.5, 0.006, 0.01, 3)
	tmpl, err := templates.NewTemplate(templates.EDRSingle, s.baselines)
	s.Require().NoError(err)

	fit, err := s.estimator.Fit(context.Background(), window, tmpl)
	s.Require().NotNil(fit)
	if err != nil {
		s.Require().ErrorIs(err, common.ErrOptimizerDidNotConverge)
	}

	dw, _ := fit.Param("delta_omega_ratio")
	dt, _ := fit.Param("delta_tau_ratio")
	s.InDelta(0.1, dw, 0.02)
	s.InDelta(0.1, dt, 0.05)
}

func (s *EstimatorTestSuite) TestPerfectFitReachesZeroObjective() {
	base := s.baselines[0]
	window := synthWindow(1.0, base.Frequency, base.DampingTime, 0.3, 0.008, 0, 0)

	for _, variant := range []templates.Variant{templates.GRSingle, templates.EDRSingle} {
		tmpl, err := templates.NewTemplate(variant, s.baselines)
		s.Require().NoError(err)

		fit, err := s.estimator.Fit(context.Background(), window, tmpl)
		s.Require().NotNil(fit, variant)
		if err != nil {
			s.Require().ErrorIs(err, common.ErrOptimizerDidNotConverge)
		}
		s.Less(fit.Objective, 1e-12, variant)
	}
}

func (s *EstimatorTestSuite) TestMultiModeFit() {
	tmpl, err := templates.NewTemplate(templates.EDRMulti, s.baselines)
	s.Require().NoError(err)

	params := []float64{1, 0.3, 0.02, -0.05, 0, 0, 0.4, 1.0, 0.005}
	window := common.NewRingdownWindow(make([]float64, windowSamples), fs)
	tmpl.EvaluateInto(window.Samples, params, window.Times)

	fit, err := s.estimator.Fit(context.Background(), window, tmpl)
	s.Require().NotNil(fit)
	if err != nil {
		s.Require().ErrorIs(err, common.ErrOptimizerDidNotConverge)
	}

	s.Len(fit.Params, 9)
	energy := 0.0
	for _, v := range window.Samples {
		energy += v * v
	}
	// the fit must explain nearly all of the signal energy
	s.Less(fit.Objective, 0.01*0.5*energy)
	s.InDelta(0.02, fit.Params[2], 0.03)
}

func (s *EstimatorTestSuite) TestDeterministic() {
	window := synthWindow(1.0, 250, 0.004, 0.2, 0.01, 0.1, 8)
	tmpl, err := templates.NewTemplate(templates.GRSingle, s.baselines)
	s.Require().NoError(err)

	a, errA := s.estimator.Fit(context.Background(), window, tmpl)
	b, errB := s.estimator.Fit(context.Background(), window, tmpl)
	s.Require().NotNil(a)
	s.Require().NotNil(b)
	s.Equal(errA == nil, errB == nil)
	s.Equal(a.Params, b.Params)
	s.Equal(a.Objective, b.Objective)
}

func (s *EstimatorTestSuite) TestDegenerateFit() {
	window := common.NewRingdownWindow(make([]float64, 328), fs)
	tmpl, err := templates.NewTemplate(templates.GRSingle, s.baselines)
	s.Require().NoError(err)

	fit, err := s.estimator.Fit(context.Background(), window, tmpl)
	s.Require().ErrorIs(err, common.ErrDegenerateFit)
	s.Require().NotNil(fit)
	s.True(fit.Degenerate)
	s.False(common.IsFatal(err))
}

func (s *EstimatorTestSuite) TestTimeout() {
	window := synthWindow(1.0, 250, 0.004, 0, 0.01, 0.05, 1)
	tmpl, err := templates.NewTemplate(templates.GRSingle, s.baselines)
	s.Require().NoError(err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	fit, err := s.estimator.Fit(ctx, window, tmpl)
	s.Nil(fit)
	s.ErrorIs(err, common.ErrOptimizerTimeout)
}

func TestInitialGuessHeuristics(t *testing.T) {
	est := New(nil, nil)
	window := synthWindow(2.0, 300, 0.005, 0, 0, 0, 0)

	guess := est.InitialGuess(window)
	assert.InDelta(t, 2.0, guess.Amplitude, 0.3)
	assert.InDelta(t, 300, guess.Frequency, 25)
	assert.InDelta(t, 0.005, guess.DampingTime, 0.0015)
	assert.Equal(t, 0.01, guess.Onset)
	assert.False(t, guess.FrequencyFallback)
	assert.False(t, guess.DampingFallback)
}

func TestInitialGuessFallbacks(t *testing.T) {
	est := New(nil, nil)
	window := common.NewRingdownWindow(make([]float64, 64), fs)

	guess := est.InitialGuess(window)
	assert.Equal(t, 0.01, guess.DampingTime)
	assert.True(t, guess.DampingFallback)

	cfg := DefaultConfig()
	cfg.FrequencyBand = [2]float64{5000, 6000}
	guess = New(cfg, nil).InitialGuess(synthWindow(1, 250, 0.004, 0, 0, 0, 0))
	assert.Equal(t, 1500.0, guess.Frequency)
	assert.True(t, guess.FrequencyFallback)
}

func TestBoundsReparameterization(t *testing.T) {
	b := Bounds{Lower: []float64{0, -0.5, 1}, Upper: []float64{10, 0.5, 1}}
	x := []float64{2.5, 0.5, 1}

	u := b.toUnbounded(x)
	back := make([]float64, 3)
	b.toBounded(back, u)
	assert.InDelta(t, 2.5, back[0], 1e-9)
	assert.InDelta(t, 0.5, back[1], 1e-8)
	assert.Equal(t, 1.0, back[2])

	for _, v := range []float64{-100, -1, 0, 3, 100} {
		b.toBounded(back, []float64{v, v, v})
		assert.True(t, b.Contains(back))
	}
}

func TestBoundsForVariants(t *testing.T) {
	est := New(nil, nil)
	baselines := []templates.Baseline{{Mode: templates.Mode22, Frequency: 200, DampingTime: 0.004}}

	gr, err := templates.NewTemplate(templates.GRSingle, baselines)
	require.NoError(t, err)
	b := est.boundsFor(gr, 2)
	assert.InDeltaSlice(t, []float64{0, 100, 0.002, -2 * math.Pi, 0}, b.Lower, 1e-12)
	assert.InDeltaSlice(t, []float64{20, 300, 0.006, 2 * math.Pi, 0.05}, b.Upper, 1e-12)

	edr, err := templates.NewTemplate(templates.EDRSingle, baselines)
	require.NoError(t, err)
	b = est.boundsFor(edr, 0)
	assert.Equal(t, []float64{0, -0.5, -0.5, -2 * math.Pi, 0}, b.Lower)
	assert.Equal(t, []float64{1e-6, 0.5, 0.5, 2 * math.Pi, 0.05}, b.Upper)
}

func TestBasisFitExact(t *testing.T) {
	n := 200
	times := make([]float64, n)
	data := make([]float64, n)
	for i := range times {
		times[i] = float64(i) / fs
		if s := times[i] - 0.002; s >= 0 {
			data[i] = 0.7 * math.Exp(-s/0.003) * math.Sin(2*math.Pi*300*s-1.1)
		}
	}
	energy := 0.0
	for _, v := range data {
		energy += v * v
	}

	amp, phase, obj, ok := basisFit(data, times, 0.002, 300, 0.003, energy)
	require.True(t, ok)
	assert.InDelta(t, 0.7, amp, 1e-9)
	assert.InDelta(t, -1.1, phase, 1e-9)
	assert.InDelta(t, 0, obj, 1e-12)
}
