package common

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnalysisErrorMatchesSentinel(t *testing.T) {
	err := Errorf(KindPeakNotFound, "locate", "no samples near %.3f", 12.5)
	wrapped := fmt.Errorf("unit GW150914_H1: %w", err)

	assert.True(t, errors.Is(wrapped, ErrPeakNotFound))
	assert.False(t, errors.Is(wrapped, ErrWindowTooShort))

	kind, ok := KindOf(wrapped)
	require.True(t, ok)
	assert.Equal(t, KindPeakNotFound, kind)
	assert.Equal(t, "locate: no samples near 12.500", err.Error())
}

func TestAnalysisErrorUnwrapsCause(t *testing.T) {
	cause := errors.New("open data.txt: no such file")
	err := NewAnalysisError(KindDataUnavailable, "load", "cannot read segment", cause)

	assert.True(t, errors.Is(err, ErrDataUnavailable))
	assert.True(t, errors.Is(err, cause))
	assert.Contains(t, err.Error(), "no such file")
}

func TestIsFatal(t *testing.T) {
	assert.False(t, IsFatal(nil))
	assert.False(t, IsFatal(Errorf(KindOptimizerDidNotConverge, "fit", "iteration limit")))
	assert.False(t, IsFatal(Errorf(KindDegenerateFit, "fit", "amplitude collapsed")))
	assert.True(t, IsFatal(Errorf(KindOptimizerTimeout, "fit", "deadline exceeded")))
	assert.True(t, IsFatal(ErrInsufficientSamples))
}

func TestKindOfPlainSentinel(t *testing.T) {
	kind, ok := KindOf(fmt.Errorf("whiten: %w", ErrInsufficientSamples))
	require.True(t, ok)
	assert.Equal(t, KindInsufficientSamples, kind)

	_, ok = KindOf(errors.New("other"))
	assert.False(t, ok)
}

func TestSegmentValidate(t *testing.T) {
	_, err := NewSegment([]float64{1}, 4096, 0)
	assert.ErrorIs(t, err, ErrInsufficientSamples)

	_, err = NewSegment([]float64{1, 2, 3}, 0, 0)
	assert.ErrorIs(t, err, ErrInvalidInput)

	seg, err := NewSegment([]float64{1, 2, 3, 4}, 4, 100)
	require.NoError(t, err)
	assert.Equal(t, 1.0, seg.Duration())
	assert.Equal(t, 100.75, seg.TimeAt(3))
}

func TestRingdownWindowValidate(t *testing.T) {
	w := NewRingdownWindow(make([]float64, 20), 4096)
	assert.Equal(t, 0.0, w.Times[0])
	assert.ErrorIs(t, w.Validate(30), ErrWindowTooShort)
	assert.NoError(t, w.Validate(10))
}

func TestUnitKey(t *testing.T) {
	assert.Equal(t, "GW150914_H1", UnitKey("GW150914", "H1"))
	assert.Equal(t, "GW_1_L1", UnitKey("GW 1", "L1"))
	assert.Equal(t, "H1", NormalizeDetector("hanford"))
}

func TestFormatElapsed(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{-time.Second, "0ms"},
		{850 * time.Millisecond, "850ms"},
		{12400 * time.Millisecond, "12.4s"},
		{3*time.Minute + 7*time.Second, "3m07s"},
		{time.Hour + 2*time.Minute + 30*time.Second, "1h02m"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatElapsed(tt.in))
	}
}
