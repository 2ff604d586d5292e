package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/civicbudget/tax-forecast/internal/baseline"
	"github.com/civicbudget/tax-forecast/internal/compare"
	"github.com/civicbudget/tax-forecast/internal/config"
	"github.com/civicbudget/tax-forecast/internal/report"
	"github.com/civicbudget/tax-forecast/internal/scenario"
	"github.com/civicbudget/tax-forecast/internal/source"
	"github.com/civicbudget/tax-forecast/internal/transform"
	"github.com/civicbudget/tax-forecast/pkg/constants"
	"github.com/civicbudget/tax-forecast/pkg/errs"
	"github.com/civicbudget/tax-forecast/pkg/output"
)

// runRun is the root command: fit every configured tax's baseline, apply
// every active scenario, write the per-tax tables and the comparison
// workbook, and print the fiscal-year comparison on stdout.
func runRun(cmd *cobra.Command, args []string) error {
	conf, logger, err := setup()
	if err != nil {
		return err
	}
	defer logger.Sync()

	format, err := outputFormat(conf)
	if err != nil {
		return err
	}

	scenarios, err := forecastScenarios(conf, logger, true)
	if err != nil {
		logger.Error("forecast run failed",
			zap.String("op", "cli.runRun"),
			zap.Error(err),
		)
		return err
	}

	return writeComparison(conf, logger, scenarios, format)
}

// forecastScenarios runs the full pipeline for every configured tax under
// every active scenario. When writeFiles is set the per-tax actuals,
// baseline and forecast CSVs are written under the output directory.
func forecastScenarios(conf *config.Configuration, logger *zap.Logger, writeFiles bool) ([]compare.Scenario, error) {
	active := conf.ActiveScenarios()
	if len(active) == 0 {
		return nil, errs.NewConfigurationError("active scenarios", "(none)")
	}

	loader := source.NewLoader(logger)
	cache := baseline.NewCache(conf.CacheDir(), logger)
	if flagClean {
		if err := cache.Clean(); err != nil {
			return nil, err
		}
	}
	pipe := baseline.NewPipeline(nil, cache, flagFresh, logger)
	engine := scenario.NewEngine(logger)
	writer := report.NewWriter(conf.OutputDir(), logger)

	out := make([]compare.Scenario, len(active))
	for i := range active {
		out[i].Name = active[i].Name
	}

	for i := range conf.Taxes {
		tax := &conf.Taxes[i]
		result, err := fitBaseline(conf, loader, pipe, tax)
		if err != nil {
			return nil, err
		}
		if writeFiles {
			if err := writer.WriteActuals(tax.Name, result.ActualRevenue, result.ActualBase); err != nil {
				return nil, err
			}
			if err := writer.WriteBaseline(tax.Name, result.RevenueTable, result.BaseTable); err != nil {
				return nil, err
			}
		}

		var reapplier *scenario.SeasonalReapplier
		if tax.ReapplySeasonality {
			reapplier, err = scenario.NewSeasonalReapplier(result.RevenueTable, result.ActualRevenue, tax.CutoffDate, logger)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", tax.Name, err)
			}
		}

		for j := range active {
			sc := &active[j]
			a, ok := sc.AssumptionFor(tax.Name)
			if !ok {
				return nil, errs.NewConfigurationError(
					fmt.Sprintf("assumptions for tax %q in scenario %q", tax.Name, sc.Name), "(none)")
			}
			strat, err := a.ToAssumptions().Build(a.Window, tax.Freq)
			if err != nil {
				return nil, fmt.Errorf("scenario %q tax %q: %w", sc.Name, tax.Name, err)
			}
			adjusted, err := engine.Run(result.RevenueTable, a.Window, strat)
			if err != nil {
				return nil, fmt.Errorf("scenario %q tax %q: %w", sc.Name, tax.Name, err)
			}
			if reapplier != nil {
				adjusted, err = reapplier.Apply(adjusted, a.Window.Start)
				if err != nil {
					return nil, fmt.Errorf("scenario %q tax %q: %w", sc.Name, tax.Name, err)
				}
			}
			if writeFiles {
				if err := writer.WriteForecast(tax.Name, sc.Name, adjusted); err != nil {
					return nil, err
				}
			}
			out[j].Runs = append(out[j].Runs, compare.TaxRun{
				Tax:      tax.Name,
				Actuals:  result.ActualRevenue,
				Baseline: result.RevenueTable,
				Forecast: adjusted,
			})
		}

		logger.Info("forecast tax under all scenarios",
			zap.String("op", "cli.forecastScenarios"),
			zap.String("tax", tax.Name),
			zap.Int("scenarios", len(active)),
			zap.Bool("cacheHit", result.CacheHit),
		)
	}

	return out, nil
}

// fitBaseline loads one tax's source data and runs the baseline pipeline.
func fitBaseline(conf *config.Configuration, loader *source.Loader, pipe *baseline.Pipeline, tax *config.Tax) (*baseline.Result, error) {
	actuals, err := loader.Collections(conf.DataPath(tax.Collections), tax.ToCollectionOptions())
	if err != nil {
		return nil, fmt.Errorf("%s: %w", tax.Name, err)
	}

	var history []transform.SectorRecord
	if tax.Sectors != "" && !tax.IgnoreSectors {
		if history, err = loader.SectorCollections(conf.DataPath(tax.Sectors)); err != nil {
			return nil, fmt.Errorf("%s: %w", tax.Name, err)
		}
	}

	var rates *transform.RateTable
	if tax.Rates != "" {
		if rates, err = loader.Rates(conf.DataPath(tax.Rates), tax.Name, tax.ToBlend()); err != nil {
			return nil, fmt.Errorf("%s: %w", tax.Name, err)
		}
	}

	result, err := pipe.Run(tax.ToInputs(actuals, history, rates))
	if err != nil {
		return nil, err
	}
	return result, nil
}

// writeComparison builds the cross-scenario aggregator, writes the
// comparison workbook, and prints the fiscal-year reports on stdout.
func writeComparison(conf *config.Configuration, logger *zap.Logger, scenarios []compare.Scenario, format string) error {
	agg, err := compare.NewAggregator(scenarios, logger)
	if err != nil {
		return err
	}

	writer := report.NewWriter(conf.OutputDir(), logger)
	if err := writer.WriteWorkbook(agg, conf.Common.ScenarioWindow.Start); err != nil {
		return err
	}
	logger.Info("wrote comparison workbook",
		zap.String("op", "cli.writeComparison"),
		zap.String("path", writer.Dir()+"/"+report.WorkbookName),
	)

	opts := compare.Options{
		Start:  conf.Common.ScenarioWindow.Start,
		Rollup: compare.RollupFiscalYear,
	}
	comparison, err := agg.Comparison(opts)
	if err != nil {
		return err
	}
	shortfalls, err := agg.CumulativeShortfalls(opts)
	if err != nil {
		return err
	}

	switch format {
	case constants.OutputFormatCSV:
		output.CsvFormat(comparison)
		output.CsvFormat(shortfalls)
	default:
		output.PrettyFormat("Scenario Comparison (fiscal years)", comparison)
		output.PrettyFormat("Cumulative Shortfalls vs Baseline (fiscal years)", shortfalls)
	}
	return nil
}
