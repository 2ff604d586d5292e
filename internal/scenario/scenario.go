// Package scenario adjusts a baseline revenue forecast for a named
// pandemic scenario. A scenario owns one decline strategy per tax: a
// function from (date, sector) to the fraction of baseline revenue lost,
// declared entirely in configuration and versioned by an explicit revision
// string. The engine multiplies the baseline by (1 - decline) inside the
// scenario window and passes everything outside the window through.
package scenario

import (
	"time"

	"go.uber.org/zap"

	"github.com/civicbudget/tax-forecast/internal/forecast"
	"github.com/civicbudget/tax-forecast/pkg/errs"
	"github.com/civicbudget/tax-forecast/pkg/fiscal"
	"github.com/civicbudget/tax-forecast/pkg/series"
)

// DeclineStrategy yields the fraction of baseline revenue lost at a date,
// optionally varying by sector. Negative fractions mean growth. Strategies
// carry their own window and must reject dates outside it rather than
// clamping.
type DeclineStrategy interface {
	DeclineFor(date time.Time, sector string) (float64, error)
}

// Leveler yields absolute revenue levels that replace the baseline instead
// of scaling it. Strategies backed by externally modeled revenue paths
// implement this instead of DeclineStrategy.
type Leveler interface {
	LevelFor(date time.Time, sector string) (float64, error)
}

// Engine applies a strategy to a baseline table over a scenario window.
type Engine struct {
	logger *zap.Logger
}

// NewEngine creates an Engine.
func NewEngine(logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{logger: logger}
}

// Apply produces the scenario-adjusted forecast: for every table date
// inside the window, the point estimate and both bounds are multiplied by
// (1 - decline); dates outside the window keep their baseline values. The
// trend and seasonal components are never adjusted. The result is a fresh
// table.
func (e *Engine) Apply(baseline *forecast.Table, window fiscal.Window, strat DeclineStrategy) (*forecast.Table, error) {
	return e.apply(baseline, window, func(d time.Time, sector string, b forecast.Bands) (forecast.Bands, error) {
		decline, err := strat.DeclineFor(d, sector)
		if err != nil {
			return b, err
		}
		f := 1 - decline
		b.Total *= f
		b.Lower *= f
		b.Upper *= f
		return b, nil
	})
}

// ApplyLevels produces the scenario-adjusted forecast from absolute revenue
// levels: inside the window the level replaces the point estimate, and the
// bounds are rescaled to keep their relative width around it. Dates outside
// the window keep their baseline values.
func (e *Engine) ApplyLevels(baseline *forecast.Table, window fiscal.Window, levels Leveler) (*forecast.Table, error) {
	return e.apply(baseline, window, func(d time.Time, sector string, b forecast.Bands) (forecast.Bands, error) {
		level, err := levels.LevelFor(d, sector)
		if err != nil {
			return b, err
		}
		if b.Total != 0 {
			ratio := level / b.Total
			b.Lower *= ratio
			b.Upper *= ratio
		} else {
			b.Lower = level
			b.Upper = level
		}
		b.Total = level
		return b, nil
	})
}

func (e *Engine) apply(baseline *forecast.Table, window fiscal.Window, adjust func(time.Time, string, forecast.Bands) (forecast.Bands, error)) (*forecast.Table, error) {
	if baseline == nil || baseline.Len() == 0 {
		return nil, &errs.MissingHistoryError{Detail: "baseline forecast is empty"}
	}

	sectors := baseline.Sectors()
	var out *forecast.Table
	if baseline.HasSectors() {
		out = forecast.NewWithSectors(sectors)
	} else {
		sectors = []string{series.NoSector}
		out = forecast.New()
	}

	adjusted := 0
	for _, d := range baseline.Dates() {
		inWindow := window.Contains(d)
		for _, sector := range sectors {
			b, ok := baseline.At(d, sector)
			if !ok {
				continue
			}
			if inWindow {
				var err error
				if b, err = adjust(d, sector, b); err != nil {
					return nil, err
				}
			}
			out.Set(d, sector, b)
		}
		if inWindow {
			adjusted++
		}
	}

	e.logger.Debug("applied scenario adjustments",
		zap.String("op", "scenario.Engine.Apply"),
		zap.String("window", window.String()),
		zap.Int("adjustedPeriods", adjusted),
		zap.Int("totalPeriods", baseline.Len()),
	)
	return out, nil
}
