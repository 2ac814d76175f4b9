package ringdown

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/Rom0219/EDR-ringdown-search/pkg/common"
	"github.com/Rom0219/EDR-ringdown-search/pkg/compare"
	"github.com/Rom0219/EDR-ringdown-search/pkg/templates"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testRate = 4096.0

func fixedBaseline(freq, tau float64) templates.BaselineFunc {
	return func(mass, spin float64, mode templates.Mode) (float64, float64, error) {
		return freq, tau, nil
	}
}

// ringdownSegment returns a noise-free segment with a GR ringdown starting at onset (absolute time)
func ringdownSegment(start, duration, onset, freq, tau float64) *common.Segment {
	n := int(duration * testRate)
	samples := make([]float64, n)
	for i := range samples {
		s := start + float64(i)/testRate - onset
		if s >= 0 {
			samples[i] = math.Exp(-s/tau) * math.Sin(2*math.Pi*freq*s)
		}
	}
	return &common.Segment{Samples: samples, SampleRate: testRate, Start: start}
}

func TestFitWindowPerfectGRSignalFavorsGR(t *testing.T) {
	const (
		amp   = 1.0
		f0    = 251.2
		tau   = 0.0039
		phase = 0.3
		onset = 0.008
	)
	baselines := []templates.Baseline{{Mode: templates.Mode22, Frequency: f0, DampingTime: tau}}

	n := int(math.Floor(0.08*testRate)) + 1
	samples := make([]float64, n)
	for i := range samples {
		if s := float64(i)/testRate - onset; s >= 0 {
			samples[i] = amp * math.Exp(-s/tau) * math.Sin(2*math.Pi*f0*s+phase)
		}
	}
	window := common.NewRingdownWindow(samples, testRate)

	engine := NewAnalysisEngine(nil)
	record, err := engine.FitWindow(context.Background(), window, baselines)
	require.NoError(t, err)
	require.NotNil(t, record)

	assert.True(t, record.OK)
	assert.False(t, record.Degenerate)
	require.NotNil(t, record.GR)
	require.NotNil(t, record.EDR)
	require.NotNil(t, record.Comparison)

	assert.InDelta(t, 0, record.GR.LogL, 1e-6)
	assert.InDelta(t, 0, record.EDR.LogL, 1e-6)
	assert.InDelta(t, f0, record.GR.F0, 0.5)
	assert.InDelta(t, tau, record.GR.Tau, 1e-5)
	assert.InDelta(t, 0, record.EDR.DeltaOmegaRatio, 1e-3)
	assert.InDelta(t, 0, record.EDR.DeltaTauRatio, 1e-3)
	assert.InDelta(t, 0, record.Comparison.DeltaBIC, 1e-6)
	assert.Equal(t, compare.ModelGR, record.Comparison.FavoredModel)
	assert.Nil(t, record.Field)
}

func TestAnalyzeUnitInMemorySegment(t *testing.T) {
	engine := NewAnalysisEngine(&EngineConfig{
		Baseline:      fixedBaseline(250, 0.004),
		SkipWhitening: true,
	})

	unit := &Unit{
		Event:         "GW_TEST",
		Detector:      "H1",
		ReferenceTime: 100.5,
		Mass:          68,
		Spin:          0.67,
		Segment:       ringdownSegment(100, 1, 100.5, 250, 0.004),
	}

	record := engine.AnalyzeUnit(context.Background(), unit)
	require.NotNil(t, record)
	require.True(t, record.OK, record.Message)

	assert.Equal(t, "GW_TEST", record.Event)
	assert.Equal(t, "H1", record.Detector)
	assert.Equal(t, "GW_TEST_H1", record.Key())
	assert.InDelta(t, 100.5, record.PeakTime, 0.005)
	assert.InDelta(t, 0, record.Comparison.DeltaBIC, 1e-6)
	assert.InDelta(t, 250, record.GR.F0, 250*0.02)
	assert.Positive(t, record.Duration)

	report := record.TextReport()
	require.NotNil(t, report)
	assert.Equal(t, "GW_TEST", report.Event)
}

func TestAnalyzeUnitWithMultiModeField(t *testing.T) {
	engine := NewAnalysisEngine(&EngineConfig{
		Modes:         []templates.Mode{templates.Mode22, templates.Mode33},
		FitEDRMulti:   true,
		SkipWhitening: true,
	})

	unit := &Unit{
		Event:         "GW150914",
		Detector:      "L1",
		ReferenceTime: 10.25,
		Mass:          68,
		Spin:          0.67,
		Segment:       ringdownSegment(10, 0.5, 10.25, 248, 0.004),
	}

	record := engine.AnalyzeUnit(context.Background(), unit)
	require.True(t, record.OK, record.Message)
	require.NotNil(t, record.EDRMultiFit)
	require.NotNil(t, record.Field)
	assert.InDelta(t, 1+record.EDRMultiFit.Params[2], record.Field.SpiralIntensity, 1e-12)
}

func TestAnalyzeUnitFailuresAreRecorded(t *testing.T) {
	engine := NewAnalysisEngine(&EngineConfig{SkipWhitening: true})

	tests := []struct {
		name string
		unit *Unit
		kind common.ErrorKind
	}{
		{
			name: "missing data",
			unit: &Unit{Event: "E", Detector: "H1", Mass: 60, Spin: 0.7, DataPath: "/nonexistent/segment.txt"},
			kind: common.KindDataUnavailable,
		},
		{
			name: "no source",
			unit: &Unit{Event: "E", Detector: "H1", Mass: 60, Spin: 0.7},
			kind: common.KindDataUnavailable,
		},
		{
			name: "peak outside segment",
			unit: &Unit{
				Event: "E", Detector: "L1", Mass: 60, Spin: 0.7, ReferenceTime: 50,
				Segment: ringdownSegment(0, 1, 0.5, 250, 0.004),
			},
			kind: common.KindPeakNotFound,
		},
		{
			name: "invalid remnant",
			unit: &Unit{
				Event: "E", Detector: "L1", Mass: -1, Spin: 0.7, ReferenceTime: 0.5,
				Segment: ringdownSegment(0, 1, 0.5, 250, 0.004),
			},
			kind: common.KindInvalidInput,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			record := engine.AnalyzeUnit(context.Background(), tt.unit)
			require.NotNil(t, record)
			assert.False(t, record.OK)
			assert.NotEmpty(t, record.Message)
			assert.Equal(t, string(tt.kind), record.ErrorKind)
			assert.Nil(t, record.TextReport())
		})
	}
}

func TestAnalyzeUnitTimeout(t *testing.T) {
	engine := NewAnalysisEngine(&EngineConfig{SkipWhitening: true, Baseline: fixedBaseline(250, 0.004)})

	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	<-ctx.Done()

	record := engine.AnalyzeUnit(ctx, &Unit{
		Event: "E", Detector: "H1", Mass: 60, Spin: 0.7, ReferenceTime: 0.5,
		Segment: ringdownSegment(0, 1, 0.5, 250, 0.004),
	})
	assert.False(t, record.OK)
	assert.Equal(t, string(common.KindOptimizerTimeout), record.ErrorKind)
}
