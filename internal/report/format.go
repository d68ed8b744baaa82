package report

import (
	"fmt"
	"strings"
	"time"

	"amoreport/internal/models"
)

const dateLayout = "2006-01-02"

// Format renders the revenue summary: a dated header, a blank line and one
// "Owner <id>: revenue <amount>" line per owner. Empty input yields the
// header alone.
func Format(revenue models.RevenueByOwner, day time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Revenue report for %s:\n", day.Format(dateLayout))
	if len(revenue) == 0 {
		return b.String()
	}

	b.WriteString("\n")
	for _, owner := range revenue.Owners() {
		fmt.Fprintf(&b, "Owner %s: revenue %s\n", owner, revenue[owner].String())
	}
	return b.String()
}

// FormatNoData is sent when the CRM answered but nothing was sold that day.
func FormatNoData(day time.Time) string {
	return fmt.Sprintf("No revenue recorded for %s.", day.Format(dateLayout))
}

// FormatFailure is the generic notice for a run that could not produce a report.
func FormatFailure(day time.Time) string {
	return fmt.Sprintf("Could not produce the revenue report for %s.", day.Format(dateLayout))
}
