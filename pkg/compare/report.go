package compare

import (
	"fmt"
	"io"
	"strings"

	"github.com/Rom0219/EDR-ringdown-search/pkg/estimator"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var titleCaser = cases.Title(language.English)

// TextReport carries everything printed in the human-readable comparison
type TextReport struct {
	Event    string
	Detector string
	GR       *estimator.FitResult
	EDR      *estimator.FitResult
	Report   *Report
	Notes    []string
}

// Write renders the report as aligned plain text
func (tr *TextReport) Write(w io.Writer) error {
	var b strings.Builder

	fmt.Fprintf(&b, "Ringdown model comparison: %s / %s\n", tr.Event, tr.Detector)
	b.WriteString(strings.Repeat("=", 50) + "\n\n")

	writeFit(&b, "GR", tr.GR, tr.Report.GR)
	writeFit(&b, "EDR", tr.EDR, tr.Report.EDR)

	b.WriteString("Comparison\n")
	b.WriteString(strings.Repeat("-", 50) + "\n")
	fmt.Fprintf(&b, "  %-22s %d\n", "Samples", tr.Report.N)
	fmt.Fprintf(&b, "  %-22s %.6g\n", "LRT", tr.Report.LRT)
	fmt.Fprintf(&b, "  %-22s %.6g\n", "Delta BIC (GR - EDR)", tr.Report.DeltaBIC)
	fmt.Fprintf(&b, "  %-22s %.6g\n", "Bayes factor", tr.Report.BayesFactor)
	fmt.Fprintf(&b, "  %-22s %s\n", "Favored model", tr.Report.Favored)

	if len(tr.Notes) > 0 {
		b.WriteString("\nNotes\n")
		for _, note := range tr.Notes {
			fmt.Fprintf(&b, "  - %s\n", note)
		}
	}

	_, err := io.WriteString(w, b.String())
	return err
}

func writeFit(b *strings.Builder, label string, fit *estimator.FitResult, score ModelScore) {
	fmt.Fprintf(b, "%s fit (%s)\n", label, fit.Variant)
	b.WriteString(strings.Repeat("-", 50) + "\n")
	for i, name := range fit.ParamNames {
		fmt.Fprintf(b, "  %-22s %.6g\n", paramLabel(name), fit.Params[i])
	}
	fmt.Fprintf(b, "  %-22s %.6g\n", "logL", score.LogL)
	fmt.Fprintf(b, "  %-22s %.6g\n", "AIC", score.AIC)
	fmt.Fprintf(b, "  %-22s %.6g\n", "BIC", score.BIC)
	fmt.Fprintf(b, "  %-22s %.3f\n", "SNR", fit.SNR)
	fmt.Fprintf(b, "  %-22s %t (%s)\n", "Converged", fit.Converged, fit.Status)
	b.WriteString("\n")
}

// paramLabel turns "delta_omega_ratio_22" into "Delta Omega Ratio 22"
func paramLabel(name string) string {
	switch name {
	case "A", "t0", "f0":
		return name
	}
	return titleCaser.String(strings.ReplaceAll(name, "_", " "))
}
