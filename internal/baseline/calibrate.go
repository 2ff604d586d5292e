package baseline

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/civicbudget/tax-forecast/internal/forecast"
	"github.com/civicbudget/tax-forecast/pkg/errs"
	"github.com/civicbudget/tax-forecast/pkg/fiscal"
	"github.com/civicbudget/tax-forecast/pkg/series"
)

// Targets holds the authoritative figures a raw forecast is calibrated to:
// the anchor fiscal year's adopted total and, optionally, known growth
// rates for later fiscal years from the adopted five-year plan.
type Targets struct {
	AnchorYear  int
	AnchorTotal float64
	GrowthRates map[int]float64
}

// Factors maps fiscal years to multiplicative corrections. Years absent
// from the map are uncorrected (factor 1).
type Factors map[int]float64

// Calibrator reconciles a raw statistical forecast with the adopted budget:
// the anchor year is scaled to match its known total exactly, later years
// are scaled so their implied growth matches the known rates, and the
// per-year steps compose as a cumulative product in year order.
type Calibrator struct {
	logger *zap.Logger
}

// NewCalibrator creates a Calibrator.
func NewCalibrator(logger *zap.Logger) *Calibrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Calibrator{logger: logger}
}

// Fit derives the correction factors. revenue is the raw forecast in
// revenue units; base is the same forecast in tax-base units, used for
// implied growth so statutory rate changes do not contaminate the growth
// comparison. The two tables coincide for taxes without a rate table.
func (c *Calibrator) Fit(revenue, base *forecast.Table, targets Targets) (Factors, error) {
	revSums := fiscalYearTotals(revenue)
	anchorSum, ok := revSums[targets.AnchorYear]
	if !ok || anchorSum == 0 {
		return nil, &errs.DataAlignmentError{
			Op: "baseline.Calibrate",
			Detail: fmt.Sprintf("anchor fiscal year %d has no forecast total, forecast covers fiscal years %s",
				targets.AnchorYear, coveredYears(revSums)),
		}
	}

	steps := map[int]float64{targets.AnchorYear: targets.AnchorTotal / anchorSum}

	if len(targets.GrowthRates) > 0 {
		growth := impliedGrowth(fiscalYearTotals(base))
		for fy, known := range targets.GrowthRates {
			if fy <= targets.AnchorYear {
				c.logger.Warn("growth rate at or before the anchor year is ignored",
					zap.String("op", "baseline.Calibrate"),
					zap.Int("fiscalYear", fy),
					zap.Int("anchorYear", targets.AnchorYear),
				)
				continue
			}
			g, ok := growth[fy]
			if !ok {
				c.logger.Warn("growth rate outside the forecast horizon is ignored",
					zap.String("op", "baseline.Calibrate"),
					zap.Int("fiscalYear", fy),
				)
				continue
			}
			steps[fy] = (1 + known) / (1 + g)
		}
	}

	// The anchor correction is a level shift: it persists through every
	// later fiscal year of the forecast, refined by the growth steps.
	years := make([]int, 0, len(revSums))
	for fy := range revSums {
		if fy >= targets.AnchorYear {
			years = append(years, fy)
		}
	}
	sort.Ints(years)

	factors := make(Factors, len(years))
	cum := 1.0
	for _, fy := range years {
		if step, ok := steps[fy]; ok {
			cum *= step
		}
		factors[fy] = cum
	}

	c.logger.Debug("derived calibration factors",
		zap.String("op", "baseline.Calibrate"),
		zap.Int("anchorYear", targets.AnchorYear),
		zap.Int("calibratedYears", len(factors)),
	)
	return factors, nil
}

// Transform applies the factors to the point estimate and bounds of every
// date whose fiscal year has a factor. The trend and seasonal components
// stay as fitted so the decomposition keeps describing the model.
func (c *Calibrator) Transform(t *forecast.Table, f Factors) *forecast.Table {
	sectors := t.Sectors()
	var out *forecast.Table
	if t.HasSectors() {
		out = forecast.NewWithSectors(sectors)
	} else {
		sectors = []string{series.NoSector}
		out = forecast.New()
	}

	for _, d := range t.Dates() {
		factor, ok := f[fiscal.Year(d)]
		if !ok {
			factor = 1
		}
		for _, sector := range sectors {
			b, ok := t.At(d, sector)
			if !ok {
				continue
			}
			b.Total *= factor
			b.Lower *= factor
			b.Upper *= factor
			out.Set(d, sector, b)
		}
	}
	return out
}

// fiscalYearTotals sums the table's point estimates by fiscal year.
func fiscalYearTotals(t *forecast.Table) map[int]float64 {
	sums := make(map[int]float64)
	for _, d := range t.Dates() {
		if v, ok := t.TotalAt(d); ok {
			sums[fiscal.Year(d)] += v
		}
	}
	return sums
}

// impliedGrowth computes year-over-year growth for every fiscal year whose
// predecessor is also covered.
func impliedGrowth(sums map[int]float64) map[int]float64 {
	growth := make(map[int]float64)
	for fy, sum := range sums {
		prev, ok := sums[fy-1]
		if !ok || prev == 0 {
			continue
		}
		growth[fy] = (sum - prev) / prev
	}
	return growth
}

func coveredYears(sums map[int]float64) string {
	years := make([]int, 0, len(sums))
	for fy := range sums {
		years = append(years, fy)
	}
	sort.Ints(years)
	parts := make([]string, len(years))
	for i, fy := range years {
		parts[i] = strconv.Itoa(fy)
	}
	return strings.Join(parts, ", ")
}
