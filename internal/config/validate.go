package config

import (
	"fmt"
	"time"

	"github.com/civicbudget/tax-forecast/internal/scenario"
	"github.com/civicbudget/tax-forecast/internal/seasonal"
	"github.com/civicbudget/tax-forecast/pkg/constants"
	"github.com/civicbudget/tax-forecast/pkg/fiscal"
	"github.com/civicbudget/tax-forecast/pkg/mathutil"
)

// blendTolerance is how far blend weights may drift from summing to 1
// before the configuration draws a warning.
const blendTolerance = constants.RelativeTolerance

// reservedNames collide with the row kinds the comparison reports emit.
var reservedNames = []string{"actual", "baseline", "forecast", "total"}

// ValidateConfiguration performs general validation of the configuration
// and returns warnings. Hard failures (unparseable dates, unknown strategy
// kinds at build time) surface as errors from ParseDates and the pipeline;
// everything here is advisory.
func (conf *Configuration) ValidateConfiguration() []string {
	var warnings []string

	warnings = append(warnings, conf.validateTaxes()...)
	warnings = append(warnings, conf.validateScenarios()...)

	if len(warnings) == 0 {
		return nil
	}
	return warnings
}

func (conf *Configuration) validateTaxes() []string {
	var warnings []string

	if len(conf.Taxes) == 0 {
		warnings = append(warnings, "No taxes configured")
	}

	seen := make(map[string]bool)
	for i, tax := range conf.Taxes {
		if tax.Name == "" {
			warnings = append(warnings, fmt.Sprintf("Tax entry %d has no name", i+1))
			continue
		}
		if seen[tax.Name] {
			warnings = append(warnings, "Tax '"+tax.Name+"' appears more than once")
		}
		seen[tax.Name] = true

		for _, reserved := range reservedNames {
			if tax.Name == reserved {
				warnings = append(warnings, "Tax name '"+tax.Name+"' is reserved for comparison rows")
			}
		}

		if tax.Collections == "" {
			warnings = append(warnings, "Tax '"+tax.Name+"' has no collections file")
		}

		if tax.Frequency != "" {
			if _, err := fiscal.ParseFreq(tax.Frequency); err != nil {
				warnings = append(warnings, fmt.Sprintf("Tax '%s': %s", tax.Name, err))
			}
		}
		if tax.Seasonality.Mode != "" {
			if _, err := seasonal.ParseMode(tax.Seasonality.Mode); err != nil {
				warnings = append(warnings, fmt.Sprintf("Tax '%s': %s", tax.Name, err))
			}
		}

		if len(tax.RateBlend) > 0 {
			sum := 0.0
			for _, weight := range tax.RateBlend {
				sum += weight
			}
			if !mathutil.WithinTolerance(sum, 1, blendTolerance) {
				warnings = append(warnings, fmt.Sprintf("Tax '%s' rate blend weights sum to %g, expected 1", tax.Name, sum))
			}
		}

		if tax.RateBlend != nil && tax.Rates == "" {
			warnings = append(warnings, "Tax '"+tax.Name+"' has a rate blend but no rates file")
		}
		if tax.Deduction != nil && tax.Deduction.Annual <= 0 {
			warnings = append(warnings, fmt.Sprintf("Tax '%s' deduction has non-positive annual amount %g", tax.Name, tax.Deduction.Annual))
		}
	}

	return warnings
}

func (conf *Configuration) validateScenarios() []string {
	var warnings []string

	active := 0
	seen := make(map[string]bool)
	for _, sc := range conf.Scenarios {
		if sc.Active {
			active++
		}
		if seen[sc.Name] {
			warnings = append(warnings, "Scenario '"+sc.Name+"' appears more than once")
		}
		seen[sc.Name] = true
		for _, reserved := range reservedNames {
			if sc.Name == reserved {
				warnings = append(warnings, "Scenario name '"+sc.Name+"' is reserved for comparison rows")
			}
		}

		covered := make(map[string]bool)
		for _, a := range sc.Assumptions {
			covered[a.Tax] = true
			warnings = append(warnings, conf.validateAssumption(sc.Name, a)...)
		}
		if !sc.Active {
			continue
		}
		for _, tax := range conf.Taxes {
			if tax.Name != "" && !covered[tax.Name] {
				warnings = append(warnings, "Scenario '"+sc.Name+"' has no assumptions for tax '"+tax.Name+"'")
			}
		}
	}

	if len(conf.Scenarios) > 0 && active == 0 {
		warnings = append(warnings, "No active scenarios configured")
	}

	return warnings
}

func (conf *Configuration) validateAssumption(scenarioName string, a Assumption) []string {
	var warnings []string
	label := fmt.Sprintf("Scenario '%s' tax '%s'", scenarioName, a.Tax)

	if _, ok := conf.TaxByName(a.Tax); !ok {
		warnings = append(warnings, fmt.Sprintf("Scenario '%s' has assumptions for unknown tax '%s'", scenarioName, a.Tax))
	}
	if a.Revision == "" {
		warnings = append(warnings, label+" assumption has no revision")
	}

	switch a.Kind {
	case scenario.KindOffsets, scenario.KindGroupOffsets, scenario.KindFiscalYears,
		scenario.KindSectorRecovery, scenario.KindSectorLevels:
	default:
		warnings = append(warnings, fmt.Sprintf("%s has unknown strategy kind '%s'", label, a.Kind))
		return warnings
	}

	periods, ok := conf.assumptionPeriods(a)
	if ok {
		switch a.Kind {
		case scenario.KindOffsets:
			if len(a.Declines) != periods {
				warnings = append(warnings, fmt.Sprintf("%s has %d declines for a %d-period window", label, len(a.Declines), periods))
			}
		case scenario.KindGroupOffsets:
			for group, declines := range a.GroupDeclines {
				if len(declines) != periods {
					warnings = append(warnings, fmt.Sprintf("%s group '%s' has %d declines for a %d-period window", label, group, len(declines), periods))
				}
			}
		case scenario.KindSectorLevels:
			for sector, levels := range a.Levels {
				if len(levels) != periods {
					warnings = append(warnings, fmt.Sprintf("%s sector '%s' has %d levels for a %d-period window", label, sector, len(levels), periods))
				}
			}
		}
	}

	if a.Kind == scenario.KindSectorRecovery {
		if a.Plateau < 0 {
			warnings = append(warnings, fmt.Sprintf("%s has negative plateau %d", label, a.Plateau))
		}
		for group, rate := range a.RecoveryRates {
			if rate < 0 || rate > 1 {
				warnings = append(warnings, fmt.Sprintf("%s recovery rate for group '%s' is %g, outside [0, 1]", label, group, rate))
			}
		}
		for sector, drop := range a.Drops {
			if drop < 0 || drop > 1 {
				warnings = append(warnings, fmt.Sprintf("%s drop for sector '%s' is %g, outside [0, 1]", label, sector, drop))
			}
		}
	}

	return warnings
}

// assumptionPeriods derives the number of scenario periods an assumption
// spans, working from the raw strings so validation can run before
// ParseDates.
func (conf *Configuration) assumptionPeriods(a Assumption) (int, bool) {
	start := a.Start
	if start == "" {
		start = conf.Common.ScenarioStart
	}
	stop := a.Stop
	if stop == "" {
		stop = conf.Common.ScenarioStop
	}
	if start == "" || stop == "" {
		return 0, false
	}
	from, err := time.Parse(DateTimeLayout, start)
	if err != nil {
		return 0, false
	}
	to, err := time.Parse(DateTimeLayout, stop)
	if err != nil || to.Before(from) {
		return 0, false
	}

	freq := fiscal.Monthly
	if tax, ok := conf.TaxByName(a.Tax); ok && tax.Frequency != "" {
		if parsed, err := fiscal.ParseFreq(tax.Frequency); err == nil {
			freq = parsed
		}
	}
	return fiscal.Window{Start: from, Stop: to}.Periods(freq), true
}
