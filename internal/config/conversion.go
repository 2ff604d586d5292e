// Package config defines conversion utilities for configuration objects.
package config

import (
	"github.com/civicbudget/tax-forecast/internal/baseline"
	"github.com/civicbudget/tax-forecast/internal/scenario"
	"github.com/civicbudget/tax-forecast/internal/seasonal"
	"github.com/civicbudget/tax-forecast/internal/source"
	"github.com/civicbudget/tax-forecast/internal/transform"
	"github.com/civicbudget/tax-forecast/pkg/series"
)

// ToCollectionOptions converts the tax's loading adjustments to
// source.CollectionOptions. ParseDates must have run.
func (tax *Tax) ToCollectionOptions() source.CollectionOptions {
	opts := source.CollectionOptions{Start: tax.StartDate}
	for _, shift := range tax.Accruals {
		opts.Accruals = append(opts.Accruals, source.AccrualShift{
			Amount: shift.Amount,
			From:   shift.FromDate,
			To:     shift.ToDate,
		})
	}
	if tax.Deduction != nil {
		opts.Deduction = &source.Deduction{
			Annual:  tax.Deduction.Annual,
			StartFY: tax.Deduction.StartFiscalYear,
		}
	}
	return opts
}

// ToBlend converts the tax's rate blend to a source.Blend, nil when the
// rate file carries a single rate column.
func (tax *Tax) ToBlend() source.Blend {
	if len(tax.RateBlend) == 0 {
		return nil
	}
	blend := make(source.Blend, len(tax.RateBlend))
	for column, weight := range tax.RateBlend {
		blend[column] = weight
	}
	return blend
}

// ToSeasonalOptions converts the tax's fitting options to seasonal.Options.
// Zero values stay zero; the model fills in its defaults.
func (tax *Tax) ToSeasonalOptions() seasonal.Options {
	return seasonal.Options{
		Mode:               seasonal.Mode(tax.Seasonality.Mode),
		FourierOrder:       tax.Seasonality.FourierOrder,
		MaxChangepoints:    tax.Seasonality.MaxChangepoints,
		ChangepointPenalty: tax.Seasonality.ChangepointPenalty,
		IntervalWidth:      tax.Seasonality.IntervalWidth,
	}
}

// ToTargets converts the tax's calibration section to baseline.Targets,
// nil when the tax is not calibrated. Configured growth rates are percent
// figures from the five-year plan; the pipeline works in fractions.
func (tax *Tax) ToTargets() *baseline.Targets {
	if tax.Calibration == nil {
		return nil
	}
	targets := &baseline.Targets{
		AnchorYear:  tax.Calibration.AnchorYear,
		AnchorTotal: tax.Calibration.AnchorTotal,
	}
	if len(tax.Calibration.GrowthRates) > 0 {
		targets.GrowthRates = make(map[int]float64, len(tax.Calibration.GrowthRates))
		for year, percent := range tax.Calibration.GrowthRates {
			targets.GrowthRates[year] = percent / 100
		}
	}
	return targets
}

// ToInputs assembles the baseline pipeline inputs for this tax from the
// loaded source data.
func (tax *Tax) ToInputs(actuals *series.Series, history []transform.SectorRecord, rates *transform.RateTable) baseline.Inputs {
	return baseline.Inputs{
		Tax:               tax.Name,
		Actuals:           actuals,
		SectorHistory:     history,
		SectorsByMonth:    tax.SectorsByMonth,
		IgnoreSectors:     tax.IgnoreSectors,
		UseSubsectors:     tax.UseSubsectors,
		Rates:             rates,
		Freq:              tax.Freq,
		FitWindow:         tax.FitWindow,
		ForecastStop:      tax.ForecastStopDate,
		Seasonal:          tax.ToSeasonalOptions(),
		Targets:           tax.ToTargets(),
		Crosswalk:         tax.Crosswalk,
		CrosswalkAfterFit: tax.CrosswalkAfterFit,
		ExtraFitParams:    tax.ExtraFitParams,
	}
}

// ToAssumptions converts the configured assumption to its scenario engine
// form. The window travels separately: strategies are built against it.
func (a *Assumption) ToAssumptions() scenario.Assumptions {
	return scenario.Assumptions{
		Kind:               a.Kind,
		Declines:           a.Declines,
		GroupDeclines:      a.GroupDeclines,
		FiscalYearDeclines: a.FiscalYearDeclines,
		Drops:              a.Drops,
		RecoveryRates:      a.RecoveryRates,
		Plateau:            a.Plateau,
		Levels:             a.Levels,
		Groups:             a.Groups,
	}
}

// TaxByName finds a configured tax by name.
func (conf *Configuration) TaxByName(name string) (*Tax, bool) {
	for i := range conf.Taxes {
		if conf.Taxes[i].Name == name {
			return &conf.Taxes[i], true
		}
	}
	return nil, false
}

// ActiveScenarios returns the scenarios flagged active, in config order.
func (conf *Configuration) ActiveScenarios() []Scenario {
	var active []Scenario
	for _, sc := range conf.Scenarios {
		if sc.Active {
			active = append(active, sc)
		}
	}
	return active
}

// AssumptionFor finds the scenario's assumption for a tax, if any.
func (s *Scenario) AssumptionFor(tax string) (*Assumption, bool) {
	for i := range s.Assumptions {
		if s.Assumptions[i].Tax == tax {
			return &s.Assumptions[i], true
		}
	}
	return nil, false
}
