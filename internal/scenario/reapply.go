package scenario

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/civicbudget/tax-forecast/internal/forecast"
	"github.com/civicbudget/tax-forecast/pkg/errs"
	"github.com/civicbudget/tax-forecast/pkg/fiscal"
	"github.com/civicbudget/tax-forecast/pkg/series"
)

// SeasonalReapplier restores seasonal shape to a scenario-adjusted
// forecast. Level-based scenario paths are typically smooth annual figures;
// multiplying by (1 + seasonal/trend) reintroduces the baseline's
// within-year pattern, and a per-sector trend factor rescales for the
// model's systematic over- or under-shoot, measured as the mean
// trend-to-actuals ratio over fourth-calendar-quarter periods up to a
// cutoff.
type SeasonalReapplier struct {
	cutoff  time.Time
	factors map[string]float64
	logger  *zap.Logger
}

// NewSeasonalReapplier measures the per-sector trend factors from a
// baseline forecast and the actuals it was fitted to. The baseline and
// actuals must share sector columns.
func NewSeasonalReapplier(baseline *forecast.Table, actuals *series.Series, cutoff time.Time, logger *zap.Logger) (*SeasonalReapplier, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if baseline == nil || baseline.Len() == 0 {
		return nil, &errs.MissingHistoryError{Detail: "baseline forecast is empty"}
	}
	if actuals == nil || actuals.Len() == 0 {
		return nil, &errs.MissingHistoryError{Detail: "no actuals to measure the trend factor against"}
	}

	sectors := baseline.Sectors()
	if !baseline.HasSectors() {
		sectors = []string{series.NoSector}
	}

	factors := make(map[string]float64, len(sectors))
	for _, sector := range sectors {
		var sum float64
		var n int
		for _, d := range actuals.Dates() {
			if d.After(cutoff) || fiscal.QuarterStart(d).Month() != time.October {
				continue
			}
			v, ok := actuals.ValueAt(d, sector)
			if !ok || v == 0 {
				continue
			}
			b, ok := baseline.At(d, sector)
			if !ok {
				continue
			}
			sum += b.Trend / v
			n++
		}
		if n == 0 {
			return nil, &errs.MissingHistoryError{
				Detail: fmt.Sprintf("no fourth-quarter actuals before %s to measure the trend factor for sector %q",
					cutoff.Format(fiscal.DateTimeLayout), sector),
			}
		}
		factors[sector] = sum / float64(n)
	}

	logger.Debug("measured trend factors",
		zap.String("op", "scenario.NewSeasonalReapplier"),
		zap.Int("sectors", len(factors)),
		zap.String("cutoff", cutoff.Format(fiscal.DateTimeLayout)),
	)
	return &SeasonalReapplier{cutoff: cutoff, factors: factors, logger: logger}, nil
}

// Apply scales every value on or after from by
// (1 + seasonal/trend) * trendFactor for its sector. Values before from
// pass through unchanged. The table must carry a nonzero trend wherever it
// is scaled.
func (r *SeasonalReapplier) Apply(t *forecast.Table, from time.Time) (*forecast.Table, error) {
	if t == nil || t.Len() == 0 {
		return nil, &errs.MissingHistoryError{Detail: "forecast to reseasonalize is empty"}
	}

	sectors := t.Sectors()
	var out *forecast.Table
	if t.HasSectors() {
		out = forecast.NewWithSectors(sectors)
	} else {
		sectors = []string{series.NoSector}
		out = forecast.New()
	}

	for _, d := range t.Dates() {
		for _, sector := range sectors {
			b, ok := t.At(d, sector)
			if !ok {
				continue
			}
			if d.Before(from) {
				out.Set(d, sector, b)
				continue
			}
			tf, ok := r.factors[sector]
			if !ok {
				return nil, &errs.DataAlignmentError{
					Op: "scenario.SeasonalReapplier.Apply",
					Detail: fmt.Sprintf("sector %q has no measured trend factor, factors cover %s",
						sector, strings.Join(factorSectors(r.factors), ", ")),
				}
			}
			if b.Trend == 0 {
				return nil, &errs.DataAlignmentError{
					Op:     "scenario.SeasonalReapplier.Apply",
					Detail: fmt.Sprintf("zero trend at %s for sector %q, cannot form the seasonal ratio", d.Format(fiscal.DateTimeLayout), sector),
				}
			}
			f := (1 + b.Seasonal/b.Trend) * tf
			b.Total *= f
			b.Lower *= f
			b.Upper *= f
			out.Set(d, sector, b)
		}
	}
	return out, nil
}

func factorSectors(factors map[string]float64) []string {
	keys := make([]string, 0, len(factors))
	for k := range factors {
		if k == series.NoSector {
			k = "(none)"
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
