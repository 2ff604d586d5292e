package compare

import (
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/civicbudget/tax-forecast/internal/forecast"
	"github.com/civicbudget/tax-forecast/pkg/constants"
	"github.com/civicbudget/tax-forecast/pkg/errs"
	"github.com/civicbudget/tax-forecast/pkg/fiscal"
)

// Rollup selects the time aggregation applied to a report's date axis.
type Rollup int

const (
	// RollupNone keeps the native frequency of the runs.
	RollupNone Rollup = iota
	// RollupQuarter sums months into fiscal quarters. A quarter missing
	// a month on the axis is nulled rather than partially summed.
	RollupQuarter
	// RollupFiscalYear sums periods into fiscal years, with the same
	// nulling rule for incomplete years.
	RollupFiscalYear
)

// String names the rollup for sheet titles and log fields.
func (r Rollup) String() string {
	switch r {
	case RollupNone:
		return "none"
	case RollupQuarter:
		return "quarter"
	case RollupFiscalYear:
		return "fiscal-year"
	}
	return fmt.Sprintf("rollup(%d)", int(r))
}

// Options narrow and aggregate the comparison reports.
type Options struct {
	Start  time.Time // drop dates before Start when nonzero
	Rollup Rollup
}

// Comparison lines up every scenario's forecast against the actuals: per
// tax, one actual row (from the first scenario) and one row per scenario
// holding its forecast totals. Baseline rows are dropped.
func (a *Aggregator) Comparison(opts Options) (*Report, error) {
	out := &Report{Rollup: opts.Rollup}
	axis := make(map[time.Time]struct{})
	for i, sc := range a.scenarios {
		sum, err := a.summarizeWith(sc.Name, opts)
		if err != nil {
			return nil, err
		}
		for _, d := range sum.Dates {
			axis[d] = struct{}{}
		}
		for _, row := range sum.Rows {
			switch row.Kind {
			case KindBaseline:
				continue
			case KindActual:
				if i > 0 {
					continue
				}
			case KindForecast:
				row.Kind = sc.Name
			}
			out.Rows = append(out.Rows, row)
		}
	}
	out.Dates = sortedDates(axis)
	sortRows(out.Rows)

	a.logger.Debug("built comparison",
		zap.String("op", "compare.Aggregator.Comparison"),
		zap.String("rollup", opts.Rollup.String()),
		zap.Int("rows", len(out.Rows)),
	)
	return out, nil
}

// NormalizedComparison divides each scenario forecast (and, for the first
// scenario, the actuals) by the baseline, per tax and date. Cells where the
// baseline is missing or zero are missing.
func (a *Aggregator) NormalizedComparison(opts Options) (*Report, error) {
	out := &Report{Rollup: opts.Rollup}
	axis := make(map[time.Time]struct{})
	for i, sc := range a.scenarios {
		sum, err := a.summarizeWith(sc.Name, opts)
		if err != nil {
			return nil, err
		}
		for _, d := range sum.Dates {
			axis[d] = struct{}{}
		}

		baselines := make(map[string]map[time.Time]float64)
		for _, row := range sum.Rows {
			if row.Kind == KindBaseline {
				baselines[row.Tax] = row.Values
			}
		}
		for _, row := range sum.Rows {
			if row.Kind == KindBaseline || (row.Kind == KindActual && i > 0) {
				continue
			}
			base := baselines[row.Tax]
			vals := make(map[time.Time]float64)
			for d, v := range row.Values {
				if b, ok := base[d]; ok && b != 0 {
					vals[d] = v / b
				}
			}
			kind := row.Kind
			if kind == KindForecast {
				kind = sc.Name
			}
			out.Rows = append(out.Rows, Row{Tax: row.Tax, Kind: kind, Values: vals})
		}
	}
	out.Dates = sortedDates(axis)
	sortRows(out.Rows)

	a.logger.Debug("built normalized comparison",
		zap.String("op", "compare.Aggregator.NormalizedComparison"),
		zap.String("rollup", opts.Rollup.String()),
		zap.Int("rows", len(out.Rows)),
	)
	return out, nil
}

// CumulativeShortfalls accumulates forecast minus baseline per tax over the
// report dates, one row per scenario, plus actual-minus-baseline rows from
// the first scenario restricted to dates where every tax has reported
// actuals. Dates where either operand is missing leave a gap but do not
// reset the running sum.
func (a *Aggregator) CumulativeShortfalls(opts Options) (*Report, error) {
	out := &Report{Rollup: opts.Rollup}
	axis := make(map[time.Time]struct{})
	for i, sc := range a.scenarios {
		sum, err := a.summarizeWith(sc.Name, opts)
		if err != nil {
			return nil, err
		}
		for _, d := range sum.Dates {
			axis[d] = struct{}{}
		}

		for _, tax := range sum.Taxes() {
			fc, _ := sum.Find(tax, KindForecast)
			base, _ := sum.Find(tax, KindBaseline)
			out.Rows = append(out.Rows, Row{
				Tax:    tax,
				Kind:   sc.Name,
				Values: cumulativeDiff(sum.Dates, fc.Values, base.Values),
			})
		}
		if i == 0 {
			good := datesWithAllActuals(sum)
			for _, tax := range sum.Taxes() {
				act, _ := sum.Find(tax, KindActual)
				base, _ := sum.Find(tax, KindBaseline)
				out.Rows = append(out.Rows, Row{
					Tax:    tax,
					Kind:   KindActual,
					Values: cumulativeDiff(good, act.Values, base.Values),
				})
			}
		}
	}
	out.Dates = sortedDates(axis)
	sortRows(out.Rows)

	a.logger.Debug("built cumulative shortfalls",
		zap.String("op", "compare.Aggregator.CumulativeShortfalls"),
		zap.String("rollup", opts.Rollup.String()),
		zap.Int("rows", len(out.Rows)),
	)
	return out, nil
}

// AssumptionsMatrix recovers the decline each scenario implies relative to
// the baseline, per tax: 1 - forecast/baseline. With a quarter or fiscal
// year rollup the ratio is taken between period sums, so the implied
// decline is revenue-weighted rather than an average of monthly ratios.
func (a *Aggregator) AssumptionsMatrix(opts Options) (*Report, error) {
	out := &Report{Rollup: opts.Rollup}
	axis := make(map[time.Time]struct{})
	for _, sc := range a.scenarios {
		for _, run := range sc.Runs {
			fvals := totalsByDate(run.Forecast)
			bvals := totalsByDate(run.Baseline)

			set := make(map[time.Time]struct{})
			for d := range fvals {
				if opts.Start.IsZero() || !d.Before(opts.Start) {
					set[d] = struct{}{}
				}
			}
			for d := range bvals {
				if opts.Start.IsZero() || !d.Before(opts.Start) {
					set[d] = struct{}{}
				}
			}

			groups := make(map[time.Time][]time.Time)
			for _, d := range sortedDates(set) {
				k := rollupKey(d, opts.Rollup)
				groups[k] = append(groups[k], d)
			}

			vals := make(map[time.Time]float64)
			for k, members := range groups {
				axis[k] = struct{}{}
				var fsum, bsum float64
				var fn, bn int
				for _, d := range members {
					if v, ok := fvals[d]; ok {
						fsum += v
						fn++
					}
					if v, ok := bvals[d]; ok {
						bsum += v
						bn++
					}
				}
				if fn > 0 && bn > 0 && bsum != 0 {
					vals[k] = 1 - fsum/bsum
				}
			}
			out.Rows = append(out.Rows, Row{Tax: run.Tax, Kind: sc.Name, Values: vals})
		}
	}
	out.Dates = sortedDates(axis)
	sortRows(out.Rows)

	a.logger.Debug("built assumptions matrix",
		zap.String("op", "compare.Aggregator.AssumptionsMatrix"),
		zap.String("rollup", opts.Rollup.String()),
		zap.Int("rows", len(out.Rows)),
	)
	return out, nil
}

// summarizeWith summarizes a scenario and applies the report options.
func (a *Aggregator) summarizeWith(scenario string, opts Options) (*Report, error) {
	sum, err := a.Summarize(scenario)
	if err != nil {
		return nil, err
	}
	return rollupReport(trimReport(sum, opts.Start), opts.Rollup)
}

// trimReport drops dates before start. A zero start keeps everything.
func trimReport(r *Report, start time.Time) *Report {
	if start.IsZero() {
		return r
	}
	out := &Report{Rollup: r.Rollup}
	for _, d := range r.Dates {
		if !d.Before(start) {
			out.Dates = append(out.Dates, d)
		}
	}
	for _, row := range r.Rows {
		vals := make(map[time.Time]float64)
		for d, v := range row.Values {
			if !d.Before(start) {
				vals[d] = v
			}
		}
		out.Rows = append(out.Rows, Row{Tax: row.Tax, Kind: row.Kind, Values: vals})
	}
	return out
}

// rollupReport sums the report's rows into quarter or fiscal-year groups.
// Groups that do not cover every period on the axis are nulled: a quarter
// built from two months would understate revenue, not report it.
func rollupReport(r *Report, ru Rollup) (*Report, error) {
	if ru == RollupNone {
		return r, nil
	}
	freq, err := fiscal.InferFreq(r.Dates)
	if err != nil {
		return nil, err
	}

	var want int
	switch ru {
	case RollupQuarter:
		want = constants.MonthsPerQuarter / freq.Months()
	case RollupFiscalYear:
		want = freq.PeriodsPerYear()
	default:
		return nil, errs.NewConfigurationError("report rollup", ru.String())
	}

	groups := make(map[time.Time][]time.Time)
	var keys []time.Time
	for _, d := range r.Dates {
		k := rollupKey(d, ru)
		if _, ok := groups[k]; !ok {
			keys = append(keys, k)
		}
		groups[k] = append(groups[k], d)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Before(keys[j]) })

	out := &Report{Dates: keys, Rollup: ru}
	for _, row := range r.Rows {
		vals := make(map[time.Time]float64)
		for _, k := range keys {
			members := groups[k]
			if len(members) != want {
				continue
			}
			var sum float64
			var n int
			for _, d := range members {
				if v, ok := row.Values[d]; ok {
					sum += v
					n++
				}
			}
			if n > 0 {
				vals[k] = sum
			}
		}
		out.Rows = append(out.Rows, Row{Tax: row.Tax, Kind: row.Kind, Values: vals})
	}
	return out, nil
}

// rollupKey maps a date to its group start under a rollup.
func rollupKey(d time.Time, ru Rollup) time.Time {
	switch ru {
	case RollupQuarter:
		return fiscal.QuarterStart(d)
	case RollupFiscalYear:
		return fiscal.Date(fiscal.Year(d)-1, time.July)
	}
	return d
}

// cumulativeDiff accumulates minuend minus subtrahend along dates. Dates
// where either side is missing are skipped without resetting the sum.
func cumulativeDiff(dates []time.Time, minuend, subtrahend map[time.Time]float64) map[time.Time]float64 {
	vals := make(map[time.Time]float64)
	var running float64
	for _, d := range dates {
		m, mok := minuend[d]
		s, sok := subtrahend[d]
		if !mok || !sok {
			continue
		}
		running += m - s
		vals[d] = running
	}
	return vals
}

// datesWithAllActuals returns the axis dates where every tax, including the
// cross-tax total, reports an actual value.
func datesWithAllActuals(r *Report) []time.Time {
	var dates []time.Time
	for _, d := range r.Dates {
		all := true
		for _, row := range r.Rows {
			if row.Kind != KindActual {
				continue
			}
			if _, ok := row.Values[d]; !ok {
				all = false
				break
			}
		}
		if all {
			dates = append(dates, d)
		}
	}
	return dates
}

// sortRows orders rows by tax with the cross-tax total last, then by kind.
func sortRows(rows []Row) {
	sort.SliceStable(rows, func(i, j int) bool {
		ri, rj := rows[i], rows[j]
		if (ri.Tax == TotalTax) != (rj.Tax == TotalTax) {
			return rj.Tax == TotalTax
		}
		if ri.Tax != rj.Tax {
			return ri.Tax < rj.Tax
		}
		return ri.Kind < rj.Kind
	})
}

func totalsByDate(t *forecast.Table) map[time.Time]float64 {
	vals := make(map[time.Time]float64, t.Len())
	for _, d := range t.Dates() {
		if v, ok := t.TotalAt(d); ok {
			vals[d] = v
		}
	}
	return vals
}
