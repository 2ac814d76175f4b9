package common

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a per-unit analysis failure
type ErrorKind string

const (
	KindDataUnavailable         ErrorKind = "DATA_UNAVAILABLE"
	KindInsufficientSamples     ErrorKind = "INSUFFICIENT_SAMPLES"
	KindPeakNotFound            ErrorKind = "PEAK_NOT_FOUND"
	KindWindowTooShort          ErrorKind = "WINDOW_TOO_SHORT"
	KindOptimizerDidNotConverge ErrorKind = "OPTIMIZER_DID_NOT_CONVERGE"
	KindDegenerateFit           ErrorKind = "DEGENERATE_FIT"
	KindOptimizerTimeout        ErrorKind = "OPTIMIZER_TIMEOUT"
	KindInvalidInput            ErrorKind = "INVALID_INPUT"
)

// Sentinels for errors.Is matching; AnalysisError unwraps to the sentinel of its kind.
var (
	ErrDataUnavailable         = errors.New("data unavailable")
	ErrInsufficientSamples     = errors.New("insufficient samples")
	ErrPeakNotFound            = errors.New("peak not found")
	ErrWindowTooShort          = errors.New("window too short")
	ErrOptimizerDidNotConverge = errors.New("optimizer did not converge")
	ErrDegenerateFit           = errors.New("degenerate fit")
	ErrOptimizerTimeout        = errors.New("optimizer timeout")
	ErrInvalidInput            = errors.New("invalid input")
)

var sentinels = map[ErrorKind]error{
	KindDataUnavailable:         ErrDataUnavailable,
	KindInsufficientSamples:     ErrInsufficientSamples,
	KindPeakNotFound:            ErrPeakNotFound,
	KindWindowTooShort:          ErrWindowTooShort,
	KindOptimizerDidNotConverge: ErrOptimizerDidNotConverge,
	KindDegenerateFit:           ErrDegenerateFit,
	KindOptimizerTimeout:        ErrOptimizerTimeout,
	KindInvalidInput:            ErrInvalidInput,
}

// AnalysisError represents a failure in one stage of a ringdown analysis
type AnalysisError struct {
	Kind    ErrorKind `json:"kind"`
	Stage   string    `json:"stage"`
	Message string    `json:"message"`
	Cause   error     `json:"-"`
}

func (e *AnalysisError) Error() string {
	msg := e.Message
	if e.Stage != "" {
		msg = e.Stage + ": " + msg
	}
	if e.Cause != nil {
		return msg + ": " + e.Cause.Error()
	}
	return msg
}

// Is reports whether target is the sentinel for this error's kind
func (e *AnalysisError) Is(target error) bool {
	return sentinels[e.Kind] == target
}

func (e *AnalysisError) Unwrap() error {
	return e.Cause
}

// NewAnalysisError creates a new analysis error
func NewAnalysisError(kind ErrorKind, stage, message string, cause error) *AnalysisError {
	return &AnalysisError{
		Kind:    kind,
		Stage:   stage,
		Message: message,
		Cause:   cause,
	}
}

// Errorf creates an analysis error with a formatted message
func Errorf(kind ErrorKind, stage, format string, args ...any) *AnalysisError {
	return NewAnalysisError(kind, stage, fmt.Sprintf(format, args...), nil)
}

// KindOf returns the kind of the first AnalysisError in err's chain
func KindOf(err error) (ErrorKind, bool) {
	var ae *AnalysisError
	if errors.As(err, &ae) {
		return ae.Kind, true
	}
	for kind, sentinel := range sentinels {
		if errors.Is(err, sentinel) {
			return kind, true
		}
	}
	return "", false
}

// IsFatal reports whether err aborts the unit. Non-convergence and degenerate fits
// keep their results and are only flagged.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	return !errors.Is(err, ErrOptimizerDidNotConverge) && !errors.Is(err, ErrDegenerateFit)
}
