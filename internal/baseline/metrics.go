package baseline

import (
	"math"

	"github.com/civicbudget/tax-forecast/internal/forecast"
	"github.com/civicbudget/tax-forecast/pkg/series"
)

// FitMetrics summarizes fitted-versus-actual error over the fit window.
// MAPE is a fraction, not a percentage.
type FitMetrics struct {
	MAE  float64
	MAPE float64
	RMSE float64
	N    int
}

// MeasureFit compares fitted point-estimate totals against actual totals
// for the dates both carry. Dates with a zero actual are skipped for MAPE
// only.
func MeasureFit(fitted *forecast.Table, actuals *series.Series) FitMetrics {
	var m FitMetrics
	var sumAbs, sumSq, sumPct float64
	var nPct int

	for _, d := range actuals.Dates() {
		actual, ok := actuals.Total(d)
		if !ok {
			continue
		}
		fit, ok := fitted.TotalAt(d)
		if !ok {
			continue
		}
		diff := fit - actual
		sumAbs += math.Abs(diff)
		sumSq += diff * diff
		if actual != 0 {
			sumPct += math.Abs(diff / actual)
			nPct++
		}
		m.N++
	}
	if m.N == 0 {
		return m
	}

	m.MAE = sumAbs / float64(m.N)
	m.RMSE = math.Sqrt(sumSq / float64(m.N))
	if nPct > 0 {
		m.MAPE = sumPct / float64(nPct)
	}
	return m
}
