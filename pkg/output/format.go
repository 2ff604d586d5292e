// Package output renders comparison reports on standard output, either as
// padded tables for reading or as CSV for piping into other tools.
package output

import (
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/civicbudget/tax-forecast/internal/compare"
	"github.com/civicbudget/tax-forecast/pkg/constants"
	"github.com/civicbudget/tax-forecast/pkg/fiscal"
)

const amountWidth = 16

// PrettyFormat outputs a human-readable rather than machine-readable table,
// with grouped-digit dollar amounts. Missing cells print blank.
func PrettyFormat(title string, r *compare.Report) {
	p := message.NewPrinter(language.English)

	taxWidth := len("Tax")
	kindWidth := len("Kind")
	for _, row := range r.Rows {
		if len(row.Tax) > taxWidth {
			taxWidth = len(row.Tax)
		}
		if len(row.Kind) > kindWidth {
			kindWidth = len(row.Kind)
		}
	}

	fmt.Printf("--- %s ---\n", title)
	header := fmt.Sprintf("%-*s | %-*s", taxWidth, "Tax", kindWidth, "Kind")
	for _, label := range dateLabels(r) {
		header += fmt.Sprintf(" | %*s", amountWidth, label)
	}
	fmt.Println(header)
	fmt.Println(separator(header))

	for _, row := range r.Rows {
		line := fmt.Sprintf("%-*s | %-*s", taxWidth, row.Tax, kindWidth, row.Kind)
		for _, d := range r.Dates {
			cell := ""
			if v, ok := row.Values[d]; ok {
				cell = dollars(p, v)
			}
			line += fmt.Sprintf(" | %*s", amountWidth, cell)
		}
		fmt.Println(line)
	}
	fmt.Printf("\n")
}

// CsvFormat outputs in comma-separated value format.
func CsvFormat(r *compare.Report) {
	fmt.Printf(`"tax","kind"`)
	for _, label := range dateLabels(r) {
		fmt.Printf(`,"%s"`, label)
	}
	fmt.Printf("\n")

	for _, row := range r.Rows {
		fmt.Printf(`"%s","%s"`, row.Tax, row.Kind)
		for _, d := range r.Dates {
			if v, ok := row.Values[d]; ok {
				fmt.Printf(`,"%.2f"`, v)
			} else {
				fmt.Printf(`,""`)
			}
		}
		fmt.Printf("\n")
	}
}

// dateLabels renders the report's date axis for column headers.
func dateLabels(r *compare.Report) []string {
	labels := make([]string, len(r.Dates))
	for i, d := range r.Dates {
		labels[i] = dateLabel(d, r.Rollup)
	}
	return labels
}

func dateLabel(d time.Time, ru compare.Rollup) string {
	switch ru {
	case compare.RollupFiscalYear:
		return fmt.Sprintf("FY%d", fiscal.Year(d))
	case compare.RollupQuarter:
		return fmt.Sprintf("%dQ%d", d.Year(), (int(d.Month())-1)/constants.MonthsPerQuarter+1)
	}
	return d.Format(constants.DateTimeLayout)
}

// dollars formats a grouped-digit dollar amount with the sign ahead of the
// dollar sign.
func dollars(p *message.Printer, v float64) string {
	if v < 0 {
		return p.Sprintf("-$%.0f", -v)
	}
	return p.Sprintf("$%.0f", v)
}

// separator draws the rule under a header: label characters become
// underscores, pipes and spacing stay put.
func separator(header string) string {
	return strings.Map(func(c rune) rune {
		switch c {
		case ' ', '|':
			return c
		}
		return '_'
	}, header)
}
