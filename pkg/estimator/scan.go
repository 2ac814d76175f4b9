package estimator

import (
	"context"
	"math"
	"sort"

	"github.com/Rom0219/EDR-ringdown-search/pkg/common"
	"github.com/Rom0219/EDR-ringdown-search/pkg/templates"
)

// scanNode is the best linear fit of one damped sinusoid at a fixed (t0, f, τ)
type scanNode struct {
	onset, freq, tau float64
	amp, phase       float64
	objective        float64
}

// basisFit solves the 2x2 least squares problem for d ≈ e^{-s/τ}(α sin 2πfs + β cos 2πfs)
// and returns A = hypot(α, β), φ = atan2(β, α) and ½Σr²
func basisFit(data, times []float64, onset, freq, tau, dataEnergy float64) (amp, phase, objective float64, ok bool) {
	var sss, ssc, scc, sds, sdc float64
	for k, tt := range times {
		s := tt - onset
		if s < 0 {
			continue
		}
		e := math.Exp(-s / tau)
		sn, cs := math.Sincos(2 * math.Pi * freq * s)
		bs, bc := e*sn, e*cs
		sss += bs * bs
		ssc += bs * bc
		scc += bc * bc
		sds += data[k] * bs
		sdc += data[k] * bc
	}

	det := sss*scc - ssc*ssc
	if !(det > 1e-12*(sss*scc)) || sss == 0 {
		return 0, 0, 0, false
	}

	alpha := (sds*scc - sdc*ssc) / det
	beta := (sdc*sss - sds*ssc) / det
	objective = 0.5 * (dataEnergy - (alpha*sds + beta*sdc))
	return math.Hypot(alpha, beta), math.Atan2(beta, alpha), math.Max(objective, 0), true
}

// gridValues returns count points evenly spaced over [lo, hi] merged with extra values inside it
func gridValues(lo, hi float64, count int, extra ...float64) []float64 {
	vals := make([]float64, 0, count+len(extra))
	if count < 2 || hi <= lo {
		vals = append(vals, lo)
	} else {
		for i := range count {
			vals = append(vals, lo+(hi-lo)*float64(i)/float64(count-1))
		}
	}
	for _, v := range extra {
		if v >= lo && v <= hi {
			vals = append(vals, v)
		}
	}
	sort.Float64s(vals)
	return vals
}

// geometricValues returns count points evenly spaced in log over [lo, hi] merged with extra values
func geometricValues(lo, hi float64, count int, extra ...float64) []float64 {
	vals := make([]float64, 0, count+len(extra))
	if count < 2 || hi <= lo || lo <= 0 {
		vals = append(vals, lo)
	} else {
		ratio := math.Log(hi / lo)
		for i := range count {
			vals = append(vals, lo*math.Exp(ratio*float64(i)/float64(count-1)))
		}
	}
	for _, v := range extra {
		if v >= lo && v <= hi {
			vals = append(vals, v)
		}
	}
	sort.Float64s(vals)
	return vals
}

// scanStart searches onset, frequency and damping time of the dominant mode on a fixed grid
// and fills subdominant modes by linear fits to the remaining residual. The result is a
// full parameter vector inside the bounds.
func (e *Estimator) scanStart(ctx context.Context, tmpl *templates.Template, window *common.RingdownWindow,
	bounds Bounds, guess Guess) ([]float64, error) {

	cfg := e.config
	data := window.Samples
	times := window.Times
	base := tmpl.Baselines[0]

	dataEnergy := 0.0
	for _, v := range data {
		dataEnergy += v * v
	}

	xi, yi := tmpl.ShapeIndex(0), tmpl.ShapeIndex(0)+1
	fLo, fHi := bounds.Lower[xi], bounds.Upper[xi]
	tLo, tHi := bounds.Lower[yi], bounds.Upper[yi]
	if tmpl.Variant.IsEDR() {
		fLo, fHi = base.Frequency*(1+fLo), base.Frequency*(1+fHi)
		// δτ/τ enters as 1-y, so the upper shift gives the shortest damping time
		tLo, tHi = base.DampingTime*(1-bounds.Upper[yi]), base.DampingTime*(1-bounds.Lower[yi])
	}

	resolution := window.SampleRate / float64(max(window.Len(), 1))
	freqCount := int(math.Ceil((fHi-fLo)/(cfg.ScanFrequencyStep*resolution))) + 1
	freqs := gridValues(fLo, fHi, freqCount, base.Frequency, guess.Frequency)
	taus := geometricValues(tLo, tHi, cfg.ScanDampingPoints, base.DampingTime, guess.DampingTime)

	onsetHi := math.Min(bounds.Upper[tmpl.OnsetIndex()], window.Duration())
	onsetCount := int(math.Floor(onsetHi/cfg.ScanOnsetStep)) + 1
	onsets := make([]float64, 0, onsetCount+1)
	for i := range onsetCount {
		onsets = append(onsets, float64(i)*cfg.ScanOnsetStep)
	}
	if guess.Onset <= onsetHi {
		onsets = append(onsets, guess.Onset)
	}
	sort.Float64s(onsets)

	best := scanNode{objective: math.Inf(1)}
	for _, onset := range onsets {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for _, f := range freqs {
			for _, tau := range taus {
				amp, phase, obj, ok := basisFit(data, times, onset, f, tau, dataEnergy)
				if !ok || obj >= best.objective {
					continue
				}
				best = scanNode{onset: onset, freq: f, tau: tau, amp: amp, phase: phase, objective: obj}
			}
		}
	}

	params := make([]float64, tmpl.NumParams())
	if math.IsInf(best.objective, 1) {
		best = scanNode{onset: guess.Onset, freq: base.Frequency, tau: base.DampingTime, amp: guess.Amplitude}
	}

	params[tmpl.OnsetIndex()] = best.onset
	params[tmpl.AmpIndex(0)] = best.amp
	params[tmpl.PhaseIndex(0)] = best.phase
	if tmpl.Variant.IsEDR() {
		params[xi] = best.freq/base.Frequency - 1
		params[yi] = 1 - best.tau/base.DampingTime
	} else {
		params[xi] = best.freq
		params[yi] = best.tau
	}

	if tmpl.NumModes() > 1 {
		e.fillSubdominant(tmpl, window, params, guess)
	}

	return bounds.Clamp(params), nil
}

// fillSubdominant starts each further mode at its baseline shape with the amplitude and
// phase of a linear fit to the residual of the modes before it
func (e *Estimator) fillSubdominant(tmpl *templates.Template, window *common.RingdownWindow, params []float64, guess Guess) {
	onset := params[tmpl.OnsetIndex()]

	residual := make([]float64, window.Len())
	single, _ := templates.NewTemplate(templates.GRSingle, tmpl.Baselines[:1])
	model := make([]float64, window.Len())

	amp0, f0, tau0, phi0 := tmpl.ModeParams(params, 0)
	single.EvaluateInto(model, []float64{amp0, f0, tau0, phi0, onset}, window.Times)
	for k := range residual {
		residual[k] = window.Samples[k] - model[k]
	}

	for i := 1; i < tmpl.NumModes(); i++ {
		base := tmpl.Baselines[i]
		if tmpl.Variant.IsEDR() {
			params[tmpl.ShapeIndex(i)] = 0
			params[tmpl.ShapeIndex(i)+1] = 0
		} else {
			params[tmpl.ShapeIndex(i)] = base.Frequency
			params[tmpl.ShapeIndex(i)+1] = base.DampingTime
		}

		energy := 0.0
		for _, v := range residual {
			energy += v * v
		}

		amp, phase, _, ok := basisFit(residual, window.Times, onset, base.Frequency, base.DampingTime, energy)
		if !ok {
			amp, phase = e.config.SubdominantFraction*guess.Amplitude, 0
		}
		params[tmpl.AmpIndex(i)] = amp
		params[tmpl.PhaseIndex(i)] = phase

		single.EvaluateInto(model, []float64{amp, base.Frequency, base.DampingTime, phase, onset}, window.Times)
		for k := range residual {
			residual[k] -= model[k]
		}
	}
}
