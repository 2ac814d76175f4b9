package ringdown

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/RyanBlaney/latency-benchmark-common/logging"
	"github.com/Rom0219/EDR-ringdown-search/pkg/common"
	"github.com/Rom0219/EDR-ringdown-search/pkg/compare"
	"github.com/Rom0219/EDR-ringdown-search/pkg/dsp"
	"github.com/Rom0219/EDR-ringdown-search/pkg/estimator"
	"github.com/Rom0219/EDR-ringdown-search/pkg/field"
	"github.com/Rom0219/EDR-ringdown-search/pkg/strain"
	"github.com/Rom0219/EDR-ringdown-search/pkg/templates"
)

// AnalysisEngine runs the whiten, locate, fit and compare chain for one unit at a time
type AnalysisEngine struct {
	logger        logging.Logger
	whitener      *dsp.Whitener
	locator       *dsp.Locator
	estimator     *estimator.Estimator
	comparator    *compare.Comparator
	modes         []templates.Mode
	grVariant     templates.Variant
	edrVariant    templates.Variant
	fitEDRMulti   bool
	baseline      templates.BaselineFunc
	skipWhitening bool
}

// EngineConfig contains configuration for the analysis engine
type EngineConfig struct {
	Whitening    *dsp.WhitenConfig
	Locator      *dsp.LocatorConfig
	Estimator    *estimator.Config
	TieTolerance float64

	// Modes used by multi-mode templates; the first is the dominant mode
	Modes      []templates.Mode
	GRVariant  templates.Variant
	EDRVariant templates.Variant
	// FitEDRMulti adds an EDR-multi fit feeding the field mapping
	FitEDRMulti bool

	Baseline      templates.BaselineFunc
	SkipWhitening bool
	Logger        logging.Logger
}

// DefaultEngineConfig returns the single-mode GR vs EDR comparison on the 22 mode
func DefaultEngineConfig() *EngineConfig {
	return &EngineConfig{
		Whitening:    dsp.DefaultWhitenConfig(),
		Locator:      dsp.DefaultLocatorConfig(),
		Estimator:    estimator.DefaultConfig(),
		TieTolerance: compare.DefaultTieTolerance,
		Modes:        []templates.Mode{templates.Mode22},
		GRVariant:    templates.GRSingle,
		EDRVariant:   templates.EDRSingle,
	}
}

// NewAnalysisEngine creates a new analysis engine
func NewAnalysisEngine(config *EngineConfig) *AnalysisEngine {
	defaults := DefaultEngineConfig()
	if config == nil {
		config = defaults
	}

	logger := config.Logger
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}

	whitening := config.Whitening
	if whitening == nil {
		whitening = defaults.Whitening
	}
	locator := config.Locator
	if locator == nil {
		locator = defaults.Locator
	}
	estCfg := config.Estimator
	if estCfg == nil {
		estCfg = defaults.Estimator
	}
	modes := config.Modes
	if len(modes) == 0 {
		modes = defaults.Modes
	}
	grVariant := config.GRVariant
	if grVariant == "" {
		grVariant = defaults.GRVariant
	}
	edrVariant := config.EDRVariant
	if edrVariant == "" {
		edrVariant = defaults.EDRVariant
	}
	baseline := config.Baseline
	if baseline == nil {
		baseline = templates.FreqTau
	}

	return &AnalysisEngine{
		logger:        logger.WithFields(logging.Fields{"component": "analysis_engine"}),
		whitener:      dsp.NewWhitener(whitening, logger),
		locator:       dsp.NewLocator(locator, logger),
		estimator:     estimator.New(estCfg, logger),
		comparator:    compare.NewComparator(config.TieTolerance),
		modes:         modes,
		grVariant:     grVariant,
		edrVariant:    edrVariant,
		fitEDRMulti:   config.FitEDRMulti,
		baseline:      baseline,
		skipWhitening: config.SkipWhitening,
	}
}

// AnalyzeUnit analyses one (event, detector) unit. It never returns an error: failures
// are recorded on the returned record with OK=false.
func (e *AnalysisEngine) AnalyzeUnit(ctx context.Context, unit *Unit) *UnitRecord {
	start := time.Now()
	record := &UnitRecord{
		Event:     unit.Event,
		Detector:  unit.Detector,
		Timestamp: start,
	}

	logger := e.logger.WithFields(logging.Fields{
		"event":    unit.Event,
		"detector": unit.Detector,
	})
	logger.Debug("Starting unit analysis", logging.Fields{
		"t_ref": unit.ReferenceTime,
		"mass":  unit.Mass,
		"spin":  unit.Spin,
		"path":  unit.DataPath,
	})

	fitted, err := e.analyze(ctx, unit)
	if fitted != nil {
		fitted.Event = record.Event
		fitted.Detector = record.Detector
		fitted.Timestamp = record.Timestamp
		record = fitted
	}
	record.Duration = time.Since(start)

	if err != nil {
		record.OK = false
		record.Message = err.Error()
		if kind, ok := common.KindOf(err); ok {
			record.ErrorKind = string(kind)
		}
		logger.Error(err, "Unit analysis failed", logging.Fields{
			"error_kind":  record.ErrorKind,
			"duration_ms": record.Duration.Milliseconds(),
		})
		return record
	}

	logger.Info("Unit analysis completed", logging.Fields{
		"favored_model": record.Comparison.FavoredModel,
		"delta_bic":     record.Comparison.DeltaBIC,
		"converged":     record.Converged,
		"degenerate":    record.Degenerate,
		"duration_ms":   record.Duration.Milliseconds(),
	})

	return record
}

func (e *AnalysisEngine) analyze(ctx context.Context, unit *Unit) (*UnitRecord, error) {
	seg, err := e.loadSegment(unit)
	if err != nil {
		return nil, err
	}

	baselines, err := templates.Baselines(e.baseline, unit.Mass, unit.Spin, e.modes)
	if err != nil {
		return nil, common.NewAnalysisError(common.KindInvalidInput, "baseline", "cannot compute QNM baselines", err)
	}

	if !e.skipWhitening {
		seg, err = e.whitener.Whiten(seg)
		if err != nil {
			return nil, err
		}
	}

	window, err := e.locator.Locate(seg, unit.ReferenceTime)
	if err != nil {
		return nil, err
	}

	record, err := e.FitWindow(ctx, window, baselines)
	if record != nil {
		record.PeakTime = window.PeakTime
	}
	return record, err
}

func (e *AnalysisEngine) loadSegment(unit *Unit) (*common.Segment, error) {
	if unit.Segment != nil {
		if err := unit.Segment.Validate(); err != nil {
			return nil, common.NewAnalysisError(common.KindDataUnavailable, "load", "invalid in-memory segment", err)
		}
		return unit.Segment, nil
	}
	if unit.DataPath == "" {
		return nil, common.Errorf(common.KindDataUnavailable, "load", "no segment or data path for %s", unit.Key())
	}

	loader := strain.NewLoader(strain.Options{
		SampleRate: unit.SampleRate,
		Channel:    unit.Channel,
		Format:     strain.Format(unit.Format),
	}, e.logger)
	return loader.Load(unit.DataPath)
}

// FitWindow fits the GR and EDR templates to a located window and compares them.
// Non-convergence and degenerate fits are flagged on the record; any other error is returned
// with whatever partial record exists.
func (e *AnalysisEngine) FitWindow(ctx context.Context, window *common.RingdownWindow, baselines []templates.Baseline) (*UnitRecord, error) {
	grTmpl, err := templates.NewTemplate(e.grVariant, baselines)
	if err != nil {
		return nil, common.NewAnalysisError(common.KindInvalidInput, "template", "cannot build GR template", err)
	}
	edrTmpl, err := templates.NewTemplate(e.edrVariant, baselines)
	if err != nil {
		return nil, common.NewAnalysisError(common.KindInvalidInput, "template", "cannot build EDR template", err)
	}

	record := &UnitRecord{OK: true, Converged: true}
	var notes []string

	grFit, err := e.fit(ctx, window, grTmpl, record, &notes)
	if err != nil {
		return record, err
	}
	edrFit, err := e.fit(ctx, window, edrTmpl, record, &notes)
	if err != nil {
		return record, err
	}

	report, err := e.comparator.Compare(window.Samples, grFit, edrFit)
	if err != nil {
		return record, common.NewAnalysisError(common.KindInvalidInput, "compare", "cannot compare fits", err)
	}

	record.GRFit = grFit
	record.EDRFit = edrFit
	record.Report = report
	record.GR = grSummary(grTmpl, grFit, report.GR)
	record.EDR = edrSummary(edrTmpl, edrFit, report.EDR)
	record.Comparison = &ComparisonSummary{
		LRT:          report.LRT,
		DeltaBIC:     report.DeltaBIC,
		// exp(ΔBIC/2) overflows for strongly separated models
		BayesFactor:  math.Min(report.BayesFactor, math.MaxFloat64),
		FavoredModel: report.Favored,
	}

	switch {
	case edrTmpl.Variant.IsMulti():
		record.Field = e.mapField(edrTmpl, edrFit, &notes)
	case e.fitEDRMulti && len(baselines) > 1:
		multiTmpl, err := templates.NewTemplate(templates.EDRMulti, baselines)
		if err != nil {
			return record, common.NewAnalysisError(common.KindInvalidInput, "template", "cannot build EDR-multi template", err)
		}
		multiFit, err := e.fit(ctx, window, multiTmpl, record, &notes)
		if err != nil {
			return record, err
		}
		record.EDRMultiFit = multiFit
		record.Field = e.mapField(multiTmpl, multiFit, &notes)
	}

	if len(notes) > 0 {
		record.Message = strings.Join(notes, "; ")
	}
	return record, nil
}

// fit runs the estimator and folds non-fatal outcomes into the record flags
func (e *AnalysisEngine) fit(ctx context.Context, window *common.RingdownWindow, tmpl *templates.Template,
	record *UnitRecord, notes *[]string) (*estimator.FitResult, error) {
	result, err := e.estimator.Fit(ctx, window, tmpl)
	if err == nil {
		return result, nil
	}
	if common.IsFatal(err) || result == nil {
		record.OK = false
		return nil, err
	}

	switch {
	case errors.Is(err, common.ErrDegenerateFit):
		record.Degenerate = true
	case errors.Is(err, common.ErrOptimizerDidNotConverge):
		record.Converged = false
	}
	*notes = append(*notes, err.Error())

	e.logger.Warn("Fit flagged", logging.Fields{
		"variant": tmpl.Variant,
		"error":   err.Error(),
	})
	return result, nil
}

func (e *AnalysisEngine) mapField(tmpl *templates.Template, fit *estimator.FitResult, notes *[]string) *field.Parameters {
	params, err := field.FromParams(tmpl, fit.Params)
	if err != nil {
		*notes = append(*notes, fmt.Sprintf("field mapping skipped: %v", err))
		return nil
	}
	return params
}

func grSummary(tmpl *templates.Template, fit *estimator.FitResult, score compare.ModelScore) *GRSummary {
	amp, freq, tau, phase := tmpl.ModeParams(fit.Params, 0)
	return &GRSummary{
		A:    amp,
		F0:   freq,
		Tau:  tau,
		Phi:  phase,
		T0:   fit.Params[tmpl.OnsetIndex()],
		LogL: score.LogL,
		AIC:  score.AIC,
		BIC:  score.BIC,
		SNR:  fit.SNR,
	}
}

func edrSummary(tmpl *templates.Template, fit *estimator.FitResult, score compare.ModelScore) *EDRSummary {
	return &EDRSummary{
		A:               fit.Params[tmpl.AmpIndex(0)],
		DeltaOmegaRatio: fit.Params[tmpl.ShapeIndex(0)],
		DeltaTauRatio:   fit.Params[tmpl.ShapeIndex(0)+1],
		Phi:             fit.Params[tmpl.PhaseIndex(0)],
		T0:              fit.Params[tmpl.OnsetIndex()],
		LogL:            score.LogL,
		AIC:             score.AIC,
		BIC:             score.BIC,
		SNR:             fit.SNR,
	}
}

// TextReport builds the human-readable comparison for a successful record
func (r *UnitRecord) TextReport() *compare.TextReport {
	if r.Report == nil || r.GRFit == nil || r.EDRFit == nil {
		return nil
	}

	var notes []string
	if r.Degenerate {
		notes = append(notes, "degenerate fit: excluded from aggregates")
	}
	if !r.Converged {
		notes = append(notes, "optimizer did not fully converge")
	}
	if r.Message != "" {
		notes = append(notes, r.Message)
	}
	if r.Field != nil {
		notes = append(notes, fmt.Sprintf("field: spiral=%.4g radial=%.4g viscosity=%.4g anisotropy=%.4g coupling=%.4g",
			r.Field.SpiralIntensity, r.Field.RadialScale, r.Field.EffectiveViscosity,
			r.Field.MultipoleAnisotropy, r.Field.ModeCoupling))
	}

	return &compare.TextReport{
		Event:    r.Event,
		Detector: r.Detector,
		GR:       r.GRFit,
		EDR:      r.EDRFit,
		Report:   r.Report,
		Notes:    notes,
	}
}
