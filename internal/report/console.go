package report

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/Alias1177/Macroscope/models"
)

// Console renders a report as a plain-text terminal dashboard. It is a
// ReportSink; the engine's output stays semantic and all formatting
// happens here.
type Console struct {
	w io.Writer
}

// NewConsole creates a console adapter writing to w.
func NewConsole(w io.Writer) *Console {
	return &Console{w: w}
}

// Publish writes the dashboard.
func (c *Console) Publish(_ context.Context, report *models.Report) error {
	rule := strings.Repeat("=", 95)

	fmt.Fprintf(c.w, "%s\n%s\n", rule, report.Title)
	fmt.Fprintf(c.w, "Generated: %s\n%s\n", report.GeneratedAt.Format("2006-01-02 15:04:05"), rule)

	for _, section := range report.Sections {
		fmt.Fprintf(c.w, "\n[%s] %s (weight %.0f%%)\n", section.Key, section.Title, section.Weight*100)
		fmt.Fprintf(c.w, "  %-28s | %-14s | %-8s | %-8s | %s\n", "indicator", "ticker", "z-score", "bias", "status")
		fmt.Fprintf(c.w, "  %s\n", strings.Repeat("-", 90))

		for _, item := range section.Indicators {
			z := "-"
			bias := "-"
			if item.HasData() {
				z = fmt.Sprintf("%+.2f", item.RiskZ)
				bias = models.FormatBias(item.Bias)
			}
			fmt.Fprintf(c.w, "  %-28s | %-14s | %-8s | %-8s | %s\n",
				item.Name, item.Ticker, z, bias, item.Status)
		}
	}

	a := report.Assessment
	fmt.Fprintf(c.w, "\n%s\n", rule)
	if len(a.Insights) > 0 {
		fmt.Fprintln(c.w, "Signals:")
		for _, insight := range a.Insights {
			fmt.Fprintf(c.w, "  %s\n", insight)
		}
		fmt.Fprintln(c.w)
	}

	if a.VetoTriggered() {
		fmt.Fprintf(c.w, "CIRCUIT BREAKER: %s\n", strings.Join(a.TriggeredVetoes, " + "))
	}
	fmt.Fprintf(c.w, "Weighted risk score: %.2f / 10.0\n", a.WeightedScore)
	fmt.Fprintf(c.w, "Overall level: %s (%s)\n", a.OverallLabel, a.OverallLevel)
	fmt.Fprintf(c.w, "Advice: %s\n%s\n", a.Advice, rule)

	return nil
}
