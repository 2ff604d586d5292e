package cli

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/civicbudget/tax-forecast/internal/baseline"
	"github.com/civicbudget/tax-forecast/internal/report"
	"github.com/civicbudget/tax-forecast/internal/source"
	"github.com/civicbudget/tax-forecast/pkg/errs"
	"github.com/civicbudget/tax-forecast/pkg/fiscal"
	"github.com/civicbudget/tax-forecast/pkg/format"
)

var baselineCmd = &cobra.Command{
	Use:   "baseline <tax>",
	Short: "Fit one tax's baseline and report fit quality",
	Long:  "Run the baseline pipeline for a single tax, write its actuals and fitted tables, and print the fit metrics and calibration factors.",
	Args:  cobra.ExactArgs(1),
	RunE:  runBaseline,
}

func init() {
	rootCmd.AddCommand(baselineCmd)
}

func runBaseline(cmd *cobra.Command, args []string) error {
	conf, logger, err := setup()
	if err != nil {
		return err
	}
	defer logger.Sync()

	name := args[0]
	tax, ok := conf.TaxByName(name)
	if !ok {
		allowed := make([]string, len(conf.Taxes))
		for i, t := range conf.Taxes {
			allowed[i] = t.Name
		}
		return errs.NewConfigurationError("tax name", name, allowed...)
	}

	loader := source.NewLoader(logger)
	cache := baseline.NewCache(conf.CacheDir(), logger)
	if flagClean {
		if err := cache.Clean(); err != nil {
			return err
		}
	}
	pipe := baseline.NewPipeline(nil, cache, flagFresh, logger)

	result, err := fitBaseline(conf, loader, pipe, tax)
	if err != nil {
		logger.Error("baseline fit failed",
			zap.String("op", "cli.runBaseline"),
			zap.String("tax", name),
			zap.Error(err),
		)
		return err
	}

	writer := report.NewWriter(conf.OutputDir(), logger)
	if err := writer.WriteActuals(tax.Name, result.ActualRevenue, result.ActualBase); err != nil {
		return err
	}
	if err := writer.WriteBaseline(tax.Name, result.RevenueTable, result.BaseTable); err != nil {
		return err
	}

	printBaseline(result)
	return nil
}

// printBaseline renders one fitted baseline's quality summary.
func printBaseline(r *baseline.Result) {
	fmt.Printf("--- Baseline: %s ---\n", r.Tax)
	fmt.Printf("Frequency:   %s\n", r.Freq)
	if r.ActualRevenue.HasSectors() {
		fmt.Printf("Sectors:     %s\n", strings.Join(r.ActualRevenue.Sectors(), ", "))
	}
	fitSource := "fitted"
	if r.CacheHit {
		fitSource = "cache"
	}
	fmt.Printf("Fit source:  %s (%s)\n", fitSource, r.CachePath)
	fmt.Printf("Fit periods: %d\n", r.Metrics.N)
	fmt.Printf("MAE:         %s\n", format.Currency(r.Metrics.MAE))
	fmt.Printf("MAPE:        %s\n", format.Percent(r.Metrics.MAPE))
	fmt.Printf("RMSE:        %s\n", format.Currency(r.Metrics.RMSE))

	if len(r.Factors) > 0 {
		years := make([]int, 0, len(r.Factors))
		for year := range r.Factors {
			years = append(years, year)
		}
		sort.Ints(years)
		fmt.Println("Calibration factors:")
		for _, year := range years {
			fmt.Printf("  FY%d: %.6f\n", year, r.Factors[year])
		}
	}

	totals := make(map[int]float64)
	for _, d := range r.RevenueTable.Dates() {
		if v, ok := r.RevenueTable.TotalAt(d); ok {
			totals[fiscal.Year(d)] += v
		}
	}
	years := make([]int, 0, len(totals))
	for year := range totals {
		years = append(years, year)
	}
	sort.Ints(years)
	fmt.Println("Forecast fiscal-year totals:")
	for _, year := range years {
		fmt.Printf("  FY%d: %s\n", year, format.Millions(totals[year]))
	}
	fmt.Printf("\n")
}
