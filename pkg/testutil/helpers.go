// Package testutil provides common helpers for building series and table
// fixtures in tests.
package testutil

import (
	"time"

	"github.com/civicbudget/tax-forecast/internal/forecast"
	"github.com/civicbudget/tax-forecast/pkg/series"
)

// Months returns n consecutive month starts beginning at start.
func Months(start time.Time, n int) []time.Time {
	dates := make([]time.Time, n)
	for i := range dates {
		dates[i] = start.AddDate(0, i, 0)
	}
	return dates
}

// MonthSeries builds a plain series holding values on consecutive months
// beginning at start.
func MonthSeries(start time.Time, values ...float64) *series.Series {
	s := series.New()
	for i, v := range values {
		s.Set(start.AddDate(0, i, 0), series.NoSector, v)
	}
	return s
}

// SectorSeries builds a sector-keyed series from per-sector values on
// consecutive months beginning at start.
func SectorSeries(start time.Time, bySector map[string][]float64) *series.Series {
	sectors := make([]string, 0, len(bySector))
	for sector := range bySector {
		sectors = append(sectors, sector)
	}
	s := series.NewWithSectors(sectors)
	for sector, values := range bySector {
		for i, v := range values {
			s.Set(start.AddDate(0, i, 0), sector, v)
		}
	}
	return s
}

// FlatTable builds a plain table holding the same point estimate on n
// consecutive months beginning at start, with a symmetric ten percent
// interval and the trend equal to the estimate.
func FlatTable(start time.Time, n int, total float64) *forecast.Table {
	t := forecast.New()
	for _, d := range Months(start, n) {
		t.Set(d, series.NoSector, forecast.Bands{
			Total: total,
			Lower: total * 0.9,
			Upper: total * 1.1,
			Trend: total,
		})
	}
	return t
}
