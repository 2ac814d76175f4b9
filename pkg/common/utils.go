package common

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// UnitKey returns the output key of an analysis unit, e.g. "GW150914_H1"
func UnitKey(event, detector string) string {
	return fmt.Sprintf("%s_%s", SanitizeName(event), SanitizeName(detector))
}

// SanitizeName makes a name safe for use in file names
func SanitizeName(s string) string {
	s = strings.TrimSpace(s)
	replacer := strings.NewReplacer("/", "-", "\\", "-", " ", "_", ":", "-")
	return replacer.Replace(s)
}

// NormalizeDetector normalizes detector names to their short upper-case form
func NormalizeDetector(detector string) string {
	detector = strings.ToUpper(strings.TrimSpace(detector))

	switch detector {
	case "HANFORD", "LHO":
		return "H1"
	case "LIVINGSTON", "LLO":
		return "L1"
	case "VIRGO":
		return "V1"
	default:
		return detector
	}
}

// FormatElapsed renders a fit or run duration: "850ms", "12.4s", "3m07s", "1h02m"
func FormatElapsed(d time.Duration) string {
	switch {
	case d < 0:
		return "0ms"
	case d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	case d < time.Minute:
		return fmt.Sprintf("%.1fs", d.Seconds())
	case d < time.Hour:
		return fmt.Sprintf("%dm%02ds", int(d/time.Minute), int(d%time.Minute/time.Second))
	default:
		return fmt.Sprintf("%dh%02dm", int(d/time.Hour), int(d%time.Hour/time.Minute))
	}
}

// Finite replaces NaN and Inf with zero so values survive JSON encoding
func Finite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

// Clamp limits v to [lo, hi]
func Clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
