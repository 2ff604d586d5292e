package series

import (
	"time"

	"github.com/civicbudget/tax-forecast/pkg/constants"
	"github.com/civicbudget/tax-forecast/pkg/fiscal"
)

// AggregateToQuarters resamples a monthly series into quarters, summing the
// values in each 3-month bin and labeling the bin by its quarter start. A
// quarter with fewer than three contributing months is missing from the
// output, not a partial sum: a boundary quarter must never be silently
// undercounted.
func AggregateToQuarters(s *Series) *Series {
	out := s.emptyLike()

	type bin struct {
		months int
		totals map[string]float64
	}
	bins := make(map[time.Time]*bin)

	for _, d := range s.Dates() {
		q := fiscal.QuarterStart(d)
		b, ok := bins[q]
		if !ok {
			b = &bin{totals: make(map[string]float64)}
			bins[q] = b
		}
		b.months++
		for sector, v := range s.values[d] {
			b.totals[sector] += v
		}
	}

	for q, b := range bins {
		if b.months != constants.MonthsPerQuarter {
			continue
		}
		for sector, v := range b.totals {
			out.Set(q, sector, v)
		}
	}
	return out
}
