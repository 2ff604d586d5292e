// Package fiscal provides fiscal-calendar and period-grid utilities. The
// fiscal year runs July 1 through June 30 and is named for the calendar year
// it ends in. All period dates are month-start aligned in UTC.
package fiscal

import (
	"fmt"
	"time"

	"github.com/civicbudget/tax-forecast/pkg/constants"
	"github.com/civicbudget/tax-forecast/pkg/errs"
)

// DateTimeLayout is the period format expected in config files and is also
// the output date format.
const DateTimeLayout = constants.DateTimeLayout

// Freq is the sampling frequency of a period series.
type Freq int

const (
	// Monthly periods start on the first of each month.
	Monthly Freq = iota
	// Quarterly periods start on the first of January, April, July, October.
	Quarterly
)

// ParseFreq converts a configuration string into a Freq.
func ParseFreq(s string) (Freq, error) {
	switch s {
	case "monthly", "M":
		return Monthly, nil
	case "quarterly", "Q":
		return Quarterly, nil
	}
	return Monthly, errs.NewConfigurationError("frequency", s, "monthly", "quarterly")
}

// String returns the configuration spelling of the frequency.
func (f Freq) String() string {
	if f == Quarterly {
		return "quarterly"
	}
	return "monthly"
}

// Months returns the number of months per period.
func (f Freq) Months() int {
	if f == Quarterly {
		return constants.MonthsPerQuarter
	}
	return 1
}

// PeriodsPerYear returns the number of periods in one yearly cycle.
func (f Freq) PeriodsPerYear() int {
	return constants.MonthsPerYear / f.Months()
}

// Date builds the month-start date for a calendar year and month.
func Date(year int, month time.Month) time.Time {
	return time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
}

// MustParse parses a date string using the given layout and panics on error.
// This is intended for use in tests where the date string is known to be valid.
func MustParse(layout, dateStr string) time.Time {
	t, err := time.Parse(layout, dateStr)
	if err != nil {
		panic(err)
	}
	return t.UTC()
}

// PeriodStart truncates a date to the start of its period.
func PeriodStart(t time.Time, f Freq) time.Time {
	if f == Quarterly {
		return QuarterStart(t)
	}
	return Date(t.Year(), t.Month())
}

// QuarterStart truncates a date to the start of its calendar quarter.
// Fiscal quarters share the same boundaries because the fiscal year starts
// on July 1.
func QuarterStart(t time.Time) time.Time {
	m := (int(t.Month())-1)/constants.MonthsPerQuarter*constants.MonthsPerQuarter + 1
	return Date(t.Year(), time.Month(m))
}

// Year returns the fiscal year a date falls in. July onward belongs to the
// following calendar year's fiscal year.
func Year(t time.Time) int {
	if int(t.Month()) >= constants.FiscalYearStartMonth {
		return t.Year() + 1
	}
	return t.Year()
}

// CalendarYear returns the calendar year for a (fiscal year, month) pair.
func CalendarYear(fiscalYear int, month time.Month) int {
	if int(month) >= constants.FiscalYearStartMonth {
		return fiscalYear - 1
	}
	return fiscalYear
}

// Offset returns the date n periods after t at the given frequency.
func Offset(t time.Time, n int, f Freq) time.Time {
	return PeriodStart(t, f).AddDate(0, n*f.Months(), 0)
}

// PeriodsBetween returns the number of whole periods from a to b at the
// given frequency. The result is negative when b precedes a.
func PeriodsBetween(a, b time.Time, f Freq) int {
	a = PeriodStart(a, f)
	b = PeriodStart(b, f)
	months := (b.Year()-a.Year())*constants.MonthsPerYear + int(b.Month()) - int(a.Month())
	return months / f.Months()
}

// Range builds the period-start grid from start through stop inclusive.
func Range(start, stop time.Time, f Freq) []time.Time {
	var dates []time.Time
	for t := PeriodStart(start, f); !t.After(stop); t = Offset(t, 1, f) {
		dates = append(dates, t)
	}
	return dates
}

// InferFreq determines the frequency of a date index. It returns a
// DataAlignmentError unless the gaps between consecutive dates are uniformly
// one month or uniformly three months.
func InferFreq(dates []time.Time) (Freq, error) {
	if len(dates) < 2 {
		return Monthly, &errs.DataAlignmentError{
			Op:     "fiscal.InferFreq",
			Detail: fmt.Sprintf("need at least 2 dates to infer a frequency, got %d", len(dates)),
		}
	}

	gap := monthsBetween(dates[0], dates[1])
	for i := 1; i < len(dates)-1; i++ {
		g := monthsBetween(dates[i], dates[i+1])
		if g != gap {
			return Monthly, &errs.DataAlignmentError{
				Op: "fiscal.InferFreq",
				Detail: fmt.Sprintf("non-regular date index: gap %s -> %s is %d months but gap %s -> %s is %d months",
					dates[0].Format(DateTimeLayout), dates[1].Format(DateTimeLayout), gap,
					dates[i].Format(DateTimeLayout), dates[i+1].Format(DateTimeLayout), g),
			}
		}
	}

	switch gap {
	case 1:
		return Monthly, nil
	case constants.MonthsPerQuarter:
		return Quarterly, nil
	}
	return Monthly, &errs.DataAlignmentError{
		Op:     "fiscal.InferFreq",
		Detail: fmt.Sprintf("unsupported period of %d months, supported periods are 1 (monthly) and 3 (quarterly)", gap),
	}
}

func monthsBetween(a, b time.Time) int {
	return (b.Year()-a.Year())*constants.MonthsPerYear + int(b.Month()) - int(a.Month())
}

// Window is an inclusive date range.
type Window struct {
	Start time.Time
	Stop  time.Time
}

// Contains reports whether a date falls inside the window.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && !t.After(w.Stop)
}

// Periods returns the number of periods the window spans at the given
// frequency, inclusive of both endpoints.
func (w Window) Periods(f Freq) int {
	return PeriodsBetween(w.Start, w.Stop, f) + 1
}

func (w Window) String() string {
	return fmt.Sprintf("[%s, %s]", w.Start.Format(DateTimeLayout), w.Stop.Format(DateTimeLayout))
}
