package estimator

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/RyanBlaney/latency-benchmark-common/logging"
	"github.com/Rom0219/EDR-ringdown-search/pkg/common"
	"github.com/Rom0219/EDR-ringdown-search/pkg/templates"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/optimize"
)

// Config holds estimator parameters
type Config struct {
	FrequencyBand       [2]float64 `json:"frequency_band"` // Hz, spectral peak search
	FallbackFrequency   float64    `json:"fallback_frequency"`
	FallbackDampingTime float64    `json:"fallback_damping_time"`
	TaperAlpha          float64    `json:"taper_alpha"`
	EnvelopeFraction    float64    `json:"envelope_fraction"`
	MinEnvelopeSamples  int        `json:"min_envelope_samples"`
	InitialOnset        float64    `json:"initial_onset"`

	AmplitudeScale float64    `json:"amplitude_scale"` // upper amplitude bound in units of the envelope max
	ShapeRange     [2]float64 `json:"shape_range"`     // GR f0 and τ bounds relative to the baseline
	ShiftBound     float64    `json:"shift_bound"`     // EDR |δω/ω|, |δτ/τ| bound
	PhaseBound     float64    `json:"phase_bound"`
	MaxOnsetOffset float64    `json:"max_onset_offset"`

	AmplitudeFloor      float64 `json:"amplitude_floor"`
	SubdominantFraction float64 `json:"subdominant_fraction"`

	ScanOnsetStep     float64 `json:"scan_onset_step"`     // s
	ScanFrequencyStep float64 `json:"scan_frequency_step"` // in FFT bins of the window
	ScanDampingPoints int     `json:"scan_damping_points"`

	MaxIterations     int     `json:"max_iterations"`
	MaxEvaluations    int     `json:"max_evaluations"`
	GradientThreshold float64 `json:"gradient_threshold"`
}

// DefaultConfig returns the default estimator configuration
func DefaultConfig() *Config {
	return &Config{
		FrequencyBand:       [2]float64{100, 3000},
		FallbackFrequency:   1500,
		FallbackDampingTime: 0.01,
		TaperAlpha:          0.2,
		EnvelopeFraction:    0.1,
		MinEnvelopeSamples:  10,
		InitialOnset:        0.01,
		AmplitudeScale:      10,
		ShapeRange:          [2]float64{0.5, 1.5},
		ShiftBound:          0.5,
		PhaseBound:          2 * math.Pi,
		MaxOnsetOffset:      0.05,
		AmplitudeFloor:      1e-6,
		SubdominantFraction: 0.1,
		ScanOnsetStep:       0.001,
		ScanFrequencyStep:   0.5,
		ScanDampingPoints:   9,
		MaxIterations:       2000,
		MaxEvaluations:      20000,
		GradientThreshold:   1e-10,
	}
}

// Validate checks the estimator configuration
func (c *Config) Validate() error {
	if c.FrequencyBand[0] < 0 || c.FrequencyBand[1] <= c.FrequencyBand[0] {
		return fmt.Errorf("invalid frequency band %v", c.FrequencyBand)
	}
	if c.FallbackFrequency <= 0 || c.FallbackDampingTime <= 0 {
		return fmt.Errorf("fallback frequency and damping time must be positive")
	}
	if c.ShapeRange[0] <= 0 || c.ShapeRange[1] <= c.ShapeRange[0] {
		return fmt.Errorf("invalid shape range %v", c.ShapeRange)
	}
	if c.ShiftBound <= 0 || c.ShiftBound >= 1 {
		return fmt.Errorf("shift bound must be in (0, 1)")
	}
	if c.MaxOnsetOffset < 0 {
		return fmt.Errorf("max onset offset must be non-negative")
	}
	if c.ScanOnsetStep <= 0 || c.ScanFrequencyStep <= 0 || c.ScanDampingPoints < 1 {
		return fmt.Errorf("scan steps must be positive")
	}
	if c.AmplitudeScale <= 0 || c.AmplitudeFloor <= 0 {
		return fmt.Errorf("amplitude scale and floor must be positive")
	}
	return nil
}

// FitResult is the outcome of fitting one template to one window
type FitResult struct {
	Variant      templates.Variant `json:"variant"`
	Params       []float64         `json:"params"`
	ParamNames   []string          `json:"param_names"`
	InitialGuess []float64         `json:"initial_guess"`
	Bounds       Bounds            `json:"bounds"`
	Model        []float64         `json:"-"`
	Residual     []float64         `json:"-"`
	Objective    float64           `json:"objective"`
	Converged    bool              `json:"converged"`
	Degenerate   bool              `json:"degenerate"`
	Status       string            `json:"status"`
	Iterations   int               `json:"iterations"`
	Evaluations  int               `json:"evaluations"`
	SNR          float64           `json:"snr"`
	Duration     time.Duration     `json:"duration"`
}

// Param returns a parameter by name
func (r *FitResult) Param(name string) (float64, bool) {
	for i, n := range r.ParamNames {
		if n == name {
			return r.Params[i], true
		}
	}
	return 0, false
}

// Estimator fits ringdown templates to windows by bounded least squares
type Estimator struct {
	config *Config
	logger logging.Logger
}

// New creates an estimator
func New(config *Config, logger logging.Logger) *Estimator {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	return &Estimator{
		config: config,
		logger: logger.WithFields(logging.Fields{"component": "estimator"}),
	}
}

// Config returns the estimator configuration
func (e *Estimator) Config() *Config {
	return e.config
}

type candidate struct {
	params    []float64
	objective float64
	status    optimize.Status
	converged bool
}

// Fit minimizes ½Σ(d-h)² over the template parameters inside their bounds. A result is
// returned together with OptimizerDidNotConverge or DegenerateFit; OptimizerTimeout and
// input errors return no result.
func (e *Estimator) Fit(ctx context.Context, window *common.RingdownWindow, tmpl *templates.Template) (*FitResult, error) {
	start := time.Now()

	if err := e.config.Validate(); err != nil {
		return nil, common.NewAnalysisError(common.KindInvalidInput, "fit", "invalid estimator configuration", err)
	}
	if tmpl == nil {
		return nil, common.Errorf(common.KindInvalidInput, "fit", "template is nil")
	}
	if err := window.Validate(2); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, common.NewAnalysisError(common.KindOptimizerTimeout, "fit", "context done before fitting", err)
	}

	logger := e.logger.WithFields(logging.Fields{
		"variant": tmpl.Variant,
		"modes":   tmpl.NumModes(),
		"samples": window.Len(),
	})

	guess := e.InitialGuess(window)
	bounds := e.boundsFor(tmpl, guess.Amplitude)

	initial := e.nominalStart(tmpl, guess, bounds)

	scanned, err := e.scanStart(ctx, tmpl, window, bounds, guess)
	if err != nil {
		return nil, common.NewAnalysisError(common.KindOptimizerTimeout, "fit", "context done during grid scan", err)
	}

	best := candidate{
		params:    scanned,
		objective: tmpl.Objective(scanned, window.Times, window.Samples),
		status:    optimize.NotTerminated,
	}

	problem := e.problem(ctx, tmpl, window, bounds)
	iterations, evaluations := 0, 0

	methods := []struct {
		name   string
		method optimize.Method
	}{
		{"nelder_mead", &optimize.NelderMead{}},
		{"bfgs", &optimize.BFGS{}},
	}

	for _, m := range methods {
		u0 := bounds.toUnbounded(best.params)
		result, err := optimize.Minimize(problem, u0, e.settings(), m.method)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, common.NewAnalysisError(common.KindOptimizerTimeout, "fit",
				fmt.Sprintf("context done during %s", m.name), ctxErr)
		}
		if result == nil {
			logger.Warn("Optimizer returned no result", logging.Fields{"method": m.name, "error": err})
			continue
		}

		iterations += result.Stats.MajorIterations
		evaluations += result.Stats.FuncEvaluations

		x := make([]float64, len(u0))
		bounds.toBounded(x, result.Location.X)
		obj := tmpl.Objective(x, window.Times, window.Samples)
		converged := err == nil && successful(result.Status)

		logger.Debug("Local optimization finished", logging.Fields{
			"method":     m.name,
			"status":     result.Status.String(),
			"objective":  obj,
			"iterations": result.Stats.MajorIterations,
			"error":      errString(err),
		})

		if obj <= best.objective {
			best = candidate{params: x, objective: obj, status: result.Status, converged: converged || best.converged}
		} else if converged {
			best.converged = true
		}
	}

	fit := e.buildResult(tmpl, window, best, bounds, initial)
	fit.Iterations = iterations
	fit.Evaluations = evaluations
	fit.Duration = time.Since(start)

	logger.Debug("Fit completed", logging.Fields{
		"objective":  fit.Objective,
		"converged":  fit.Converged,
		"degenerate": fit.Degenerate,
		"snr":        fit.SNR,
		"duration":   fit.Duration.String(),
	})

	if fit.Degenerate {
		return fit, common.Errorf(common.KindDegenerateFit, "fit",
			"%s dominant amplitude %.3g below floor %.3g", tmpl.Variant, fit.Params[tmpl.AmpIndex(0)], e.config.AmplitudeFloor)
	}
	if !fit.Converged {
		return fit, common.Errorf(common.KindOptimizerDidNotConverge, "fit",
			"%s optimizer stopped with status %s", tmpl.Variant, fit.Status)
	}
	return fit, nil
}

// nominalStart is the heuristic parameter vector before the grid scan
func (e *Estimator) nominalStart(tmpl *templates.Template, guess Guess, bounds Bounds) []float64 {
	params := make([]float64, tmpl.NumParams())
	for i, base := range tmpl.Baselines {
		amp := guess.Amplitude
		if i > 0 {
			amp *= e.config.SubdominantFraction
		}
		params[tmpl.AmpIndex(i)] = amp
		if !tmpl.Variant.IsEDR() {
			params[tmpl.ShapeIndex(i)] = base.Frequency
			params[tmpl.ShapeIndex(i)+1] = base.DampingTime
		}
		params[tmpl.PhaseIndex(i)] = guess.Phase
	}
	params[tmpl.OnsetIndex()] = guess.Onset
	return bounds.Clamp(params)
}

func (e *Estimator) problem(ctx context.Context, tmpl *templates.Template, window *common.RingdownWindow, bounds Bounds) optimize.Problem {
	n := tmpl.NumParams()
	x := make([]float64, n)

	return optimize.Problem{
		Func: func(u []float64) float64 {
			bounds.toBounded(x, u)
			return tmpl.Objective(x, window.Times, window.Samples)
		},
		Grad: func(grad, u []float64) {
			bounds.toBounded(x, u)
			tmpl.ObjectiveGradient(grad, x, window.Times, window.Samples)
			bounds.chain(grad, u)
		},
		Status: func() (optimize.Status, error) {
			if err := ctx.Err(); err != nil {
				return optimize.Failure, err
			}
			return optimize.NotTerminated, nil
		},
	}
}

func (e *Estimator) settings() *optimize.Settings {
	return &optimize.Settings{
		GradientThreshold: e.config.GradientThreshold,
		MajorIterations:   e.config.MaxIterations,
		FuncEvaluations:   e.config.MaxEvaluations,
		Converger: &optimize.FunctionConverge{
			Absolute:   1e-14,
			Relative:   1e-12,
			Iterations: 200,
		},
	}
}

func (e *Estimator) buildResult(tmpl *templates.Template, window *common.RingdownWindow, best candidate,
	bounds Bounds, initial []float64) *FitResult {

	model := make([]float64, window.Len())
	tmpl.EvaluateInto(model, best.params, window.Times)

	residual := make([]float64, window.Len())
	floats.SubTo(residual, window.Samples, model)

	snr := 0.0
	if hh := floats.Dot(model, model); hh > 0 {
		snr = floats.Dot(window.Samples, model) / math.Sqrt(hh)
	}

	status := best.status.String()
	if best.status == optimize.NotTerminated {
		status = "GridScan"
	}

	return &FitResult{
		Variant:      tmpl.Variant,
		Params:       best.params,
		ParamNames:   tmpl.ParamNames(),
		InitialGuess: initial,
		Bounds:       bounds,
		Model:        model,
		Residual:     residual,
		Objective:    0.5 * floats.Dot(residual, residual),
		Converged:    best.converged,
		Degenerate:   best.params[tmpl.AmpIndex(0)] < e.config.AmplitudeFloor,
		Status:       status,
		SNR:          snr,
	}
}

func successful(status optimize.Status) bool {
	switch status {
	case optimize.Success, optimize.FunctionConvergence, optimize.GradientThreshold,
		optimize.StepConvergence, optimize.FunctionThreshold, optimize.MethodConverge:
		return true
	default:
		return false
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
