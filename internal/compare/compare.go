// Package compare aggregates per-tax forecast runs into cross-scenario
// reports: scenario summaries, comparisons against the baseline, cumulative
// shortfalls and the implied-decline assumptions matrix, each at the native
// frequency or rolled up to fiscal quarters or fiscal years.
package compare

import (
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/civicbudget/tax-forecast/internal/forecast"
	"github.com/civicbudget/tax-forecast/pkg/errs"
	"github.com/civicbudget/tax-forecast/pkg/series"
)

// Row kinds in a scenario summary. Comparison reports replace KindForecast
// with the scenario name, so scenario names must not collide with these.
const (
	KindActual   = "actual"
	KindBaseline = "baseline"
	KindForecast = "forecast"
)

// TotalTax labels the cross-tax sum rows appended to every report.
const TotalTax = "total"

// TaxRun bundles one tax's series under a single scenario: the observed
// revenue, the calibrated baseline and the scenario-adjusted forecast.
type TaxRun struct {
	Tax      string
	Actuals  *series.Series
	Baseline *forecast.Table
	Forecast *forecast.Table
}

// Scenario is a named set of per-tax runs.
type Scenario struct {
	Name string
	Runs []TaxRun
}

// Row is one labeled line of a report. Kind is one of the Kind constants
// or a scenario name. Dates with no value are absent from Values.
type Row struct {
	Tax    string
	Kind   string
	Values map[time.Time]float64
}

// Report is an ordered grid of rows over a shared date axis. When the
// rollup is RollupQuarter or RollupFiscalYear the dates are group starts
// (quarter starts, or July 1 of the year before the fiscal year).
type Report struct {
	Dates  []time.Time
	Rollup Rollup
	Rows   []Row
}

// Find returns the row for a tax and kind.
func (r *Report) Find(tax, kind string) (Row, bool) {
	for _, row := range r.Rows {
		if row.Tax == tax && row.Kind == kind {
			return row, true
		}
	}
	return Row{}, false
}

// Value returns the cell for a tax, kind and date. The second return is
// false when the row does not exist or the cell is missing.
func (r *Report) Value(tax, kind string, date time.Time) (float64, bool) {
	row, ok := r.Find(tax, kind)
	if !ok {
		return 0, false
	}
	v, ok := row.Values[date]
	return v, ok
}

// Taxes returns the distinct tax labels in row order.
func (r *Report) Taxes() []string {
	var taxes []string
	seen := make(map[string]bool)
	for _, row := range r.Rows {
		if !seen[row.Tax] {
			seen[row.Tax] = true
			taxes = append(taxes, row.Tax)
		}
	}
	return taxes
}

// Aggregator builds comparison reports across scenarios. Scenarios are
// ordered by name and must cover the same taxes; rows derived from actuals
// are emitted once, from the first scenario.
type Aggregator struct {
	scenarios []Scenario
	logger    *zap.Logger
}

// NewAggregator validates and orders the scenarios to compare.
func NewAggregator(scenarios []Scenario, logger *zap.Logger) (*Aggregator, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(scenarios) == 0 {
		return nil, errs.NewConfigurationError("comparison scenarios", "(none)")
	}

	ordered := make([]Scenario, len(scenarios))
	copy(ordered, scenarios)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Name < ordered[j].Name })

	seen := make(map[string]bool)
	var taxes []string
	for i, sc := range ordered {
		switch sc.Name {
		case "", KindActual, KindBaseline, KindForecast, TotalTax:
			return nil, errs.NewConfigurationError("scenario name (reserved)", sc.Name)
		}
		if seen[sc.Name] {
			return nil, errs.NewConfigurationError("duplicate scenario name", sc.Name)
		}
		seen[sc.Name] = true

		if len(sc.Runs) == 0 {
			return nil, errs.NewConfigurationError("scenario "+sc.Name, "(no tax runs)")
		}
		runs := make([]TaxRun, len(sc.Runs))
		copy(runs, sc.Runs)
		sort.Slice(runs, func(a, b int) bool { return runs[a].Tax < runs[b].Tax })

		names := make([]string, 0, len(runs))
		for _, run := range runs {
			if run.Tax == "" || run.Tax == TotalTax {
				return nil, errs.NewConfigurationError("tax name (reserved)", run.Tax)
			}
			if run.Actuals == nil || run.Baseline == nil || run.Forecast == nil {
				return nil, errs.NewConfigurationError("tax run missing series", run.Tax)
			}
			names = append(names, run.Tax)
		}
		for k := 1; k < len(names); k++ {
			if names[k] == names[k-1] {
				return nil, errs.NewConfigurationError("duplicate tax in scenario "+sc.Name, names[k])
			}
		}
		if i == 0 {
			taxes = names
		} else if !equalStrings(taxes, names) {
			return nil, &errs.ConfigurationError{
				Setting: "scenario " + sc.Name + " taxes",
				Value:   strings.Join(names, ", "),
				Allowed: taxes,
			}
		}
		ordered[i] = Scenario{Name: sc.Name, Runs: runs}
	}

	logger.Debug("aggregator ready",
		zap.String("op", "compare.NewAggregator"),
		zap.Int("scenarios", len(ordered)),
		zap.Int("taxes", len(taxes)),
	)
	return &Aggregator{scenarios: ordered, logger: logger}, nil
}

// ScenarioNames returns the scenario names in comparison order.
func (a *Aggregator) ScenarioNames() []string {
	names := make([]string, len(a.scenarios))
	for i, sc := range a.scenarios {
		names[i] = sc.Name
	}
	return names
}

// Summarize lays out one scenario as rows of (tax, kind) over the union of
// all run dates, with actual, baseline and forecast rows per tax and a
// cross-tax total row per kind. Total cells that sum to zero are treated as
// missing rather than reported as zero revenue.
func (a *Aggregator) Summarize(scenario string) (*Report, error) {
	sc, err := a.scenarioByName(scenario)
	if err != nil {
		return nil, err
	}

	axis := make(map[time.Time]struct{})
	for _, run := range sc.Runs {
		for _, d := range run.Actuals.Dates() {
			axis[d] = struct{}{}
		}
		for _, d := range run.Baseline.Dates() {
			axis[d] = struct{}{}
		}
		for _, d := range run.Forecast.Dates() {
			axis[d] = struct{}{}
		}
	}

	report := &Report{Dates: sortedDates(axis)}
	for _, run := range sc.Runs {
		act := Row{Tax: run.Tax, Kind: KindActual, Values: make(map[time.Time]float64)}
		base := Row{Tax: run.Tax, Kind: KindBaseline, Values: make(map[time.Time]float64)}
		fc := Row{Tax: run.Tax, Kind: KindForecast, Values: make(map[time.Time]float64)}
		for _, d := range report.Dates {
			if v, ok := run.Actuals.Total(d); ok {
				act.Values[d] = v
			}
			if v, ok := run.Baseline.TotalAt(d); ok {
				base.Values[d] = v
			}
			if v, ok := run.Forecast.TotalAt(d); ok {
				fc.Values[d] = v
			}
		}
		report.Rows = append(report.Rows, act, base, fc)
	}

	for _, kind := range []string{KindActual, KindBaseline, KindForecast} {
		total := Row{Tax: TotalTax, Kind: kind, Values: make(map[time.Time]float64)}
		for _, d := range report.Dates {
			var sum float64
			var n int
			for _, row := range report.Rows {
				if row.Tax == TotalTax || row.Kind != kind {
					continue
				}
				if v, ok := row.Values[d]; ok {
					sum += v
					n++
				}
			}
			if n > 0 && sum != 0 {
				total.Values[d] = sum
			}
		}
		report.Rows = append(report.Rows, total)
	}

	a.logger.Debug("summarized scenario",
		zap.String("op", "compare.Aggregator.Summarize"),
		zap.String("scenario", scenario),
		zap.Int("rows", len(report.Rows)),
		zap.Int("periods", len(report.Dates)),
	)
	return report, nil
}

func (a *Aggregator) scenarioByName(name string) (Scenario, error) {
	for _, sc := range a.scenarios {
		if sc.Name == name {
			return sc, nil
		}
	}
	return Scenario{}, errs.NewConfigurationError("scenario", name, a.ScenarioNames()...)
}

func sortedDates(set map[time.Time]struct{}) []time.Time {
	dates := make([]time.Time, 0, len(set))
	for d := range set {
		dates = append(dates, d)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })
	return dates
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
