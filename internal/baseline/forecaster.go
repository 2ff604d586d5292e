// Package baseline produces each tax's baseline forecast: a seasonal trend
// model fitted to pre-pandemic collections in tax-base units, converted back
// to revenue, and calibrated to authoritative fiscal-year figures. Fitting
// is the expensive stage and is cached on disk keyed by the fit parameters.
package baseline

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/civicbudget/tax-forecast/internal/forecast"
	"github.com/civicbudget/tax-forecast/internal/seasonal"
	"github.com/civicbudget/tax-forecast/pkg/errs"
	"github.com/civicbudget/tax-forecast/pkg/fiscal"
	"github.com/civicbudget/tax-forecast/pkg/series"
)

// Predictor projects a fitted model over the first total periods of its
// grid.
type Predictor interface {
	Predict(total int) seasonal.Components
}

// Fitter fits a seasonal model to one column of history. The pipeline's
// cache sits in front of it: a cache hit means FitColumn is never called.
type Fitter interface {
	FitColumn(y []float64, periodsPerYear int, opts seasonal.Options) (Predictor, error)
}

// ModelFitter is the production Fitter backed by the seasonal package.
type ModelFitter struct{}

// FitColumn implements Fitter.
func (ModelFitter) FitColumn(y []float64, periodsPerYear int, opts seasonal.Options) (Predictor, error) {
	return seasonal.Fit(y, periodsPerYear, opts)
}

// Forecaster fits one independent model per column of a history series and
// predicts from the history start through a stop date at the history's own
// frequency.
type Forecaster struct {
	fitter Fitter
	opts   seasonal.Options
	logger *zap.Logger
}

// NewForecaster creates a Forecaster. A nil fitter uses the seasonal
// package directly.
func NewForecaster(fitter Fitter, opts seasonal.Options, logger *zap.Logger) *Forecaster {
	if fitter == nil {
		fitter = ModelFitter{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Forecaster{fitter: fitter, opts: opts.Normalized(), logger: logger}
}

// FitPredict fits the history and returns a table covering the fitted window
// and the horizon through stop, inclusive. The history must have an
// unambiguous frequency and complete columns.
func (f *Forecaster) FitPredict(history *series.Series, stop time.Time) (*forecast.Table, error) {
	if history == nil || history.Len() == 0 {
		return nil, &errs.MissingHistoryError{Detail: "history series is empty"}
	}
	freq, err := fiscal.InferFreq(history.Dates())
	if err != nil {
		return nil, err
	}
	stop = fiscal.PeriodStart(stop, freq)
	if stop.Before(history.Last()) {
		return nil, &errs.DataAlignmentError{
			Op: "baseline.FitPredict",
			Detail: fmt.Sprintf("forecast stop %s precedes history end %s",
				stop.Format(fiscal.DateTimeLayout), history.Last().Format(fiscal.DateTimeLayout)),
		}
	}

	grid := fiscal.Range(history.First(), stop, freq)
	histDates := history.Dates()
	periodsPerYear := freq.PeriodsPerYear()
	if history.Len() < 2*periodsPerYear {
		f.logger.Warn("history shorter than two seasonal cycles, forecast quality degrades",
			zap.String("op", "baseline.FitPredict"),
			zap.Int("periods", history.Len()),
			zap.Int("periodsPerCycle", periodsPerYear),
		)
	}

	sectors := history.Sectors()
	var out *forecast.Table
	if history.HasSectors() {
		out = forecast.NewWithSectors(sectors)
	} else {
		sectors = []string{series.NoSector}
		out = forecast.New()
	}

	for _, sector := range sectors {
		y := make([]float64, len(histDates))
		for i, d := range histDates {
			v, ok := history.ValueAt(d, sector)
			if !ok {
				return nil, &errs.DataAlignmentError{
					Op: "baseline.FitPredict",
					Detail: fmt.Sprintf("history value missing at %s for sector %q, columns must be complete",
						d.Format(fiscal.DateTimeLayout), sector),
				}
			}
			y[i] = v
		}

		model, err := f.fitter.FitColumn(y, periodsPerYear, f.opts)
		if err != nil {
			if sector == series.NoSector {
				return nil, fmt.Errorf("fit: %w", err)
			}
			return nil, fmt.Errorf("fit sector %q: %w", sector, err)
		}

		c := model.Predict(len(grid))
		for i, d := range grid {
			out.Set(d, sector, forecast.Bands{
				Total:    c.Total[i],
				Lower:    c.Lower[i],
				Upper:    c.Upper[i],
				Trend:    c.Trend[i],
				Seasonal: c.Seasonal[i],
			})
		}
	}

	f.logger.Debug("fitted seasonal models",
		zap.String("op", "baseline.FitPredict"),
		zap.Int("columns", len(sectors)),
		zap.Int("historyPeriods", history.Len()),
		zap.Int("horizonPeriods", len(grid)-history.Len()),
	)
	return out, nil
}
