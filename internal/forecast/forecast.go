// Package forecast defines the data structures related to a fitted forecast
// and includes the deterministic CSV codec used for caching and outputs.
package forecast

import (
	"sort"
	"time"

	"github.com/civicbudget/tax-forecast/pkg/errs"
	"github.com/civicbudget/tax-forecast/pkg/series"
)

// Bands holds the parallel values a forecast carries for one date (and
// sector): the point estimate, the credible-interval bounds, and the fitted
// trend and seasonal decomposition. Seasonal is in absolute units (the
// seasonal fraction multiplied by the trend).
type Bands struct {
	Total    float64
	Lower    float64
	Upper    float64
	Trend    float64
	Seasonal float64
}

// Scale returns the bands with every component multiplied by f. Unit
// conversions use this; calibration scales only the point estimate and
// bounds.
func (b Bands) Scale(f float64) Bands {
	return Bands{
		Total:    b.Total * f,
		Lower:    b.Lower * f,
		Upper:    b.Upper * f,
		Trend:    b.Trend * f,
		Seasonal: b.Seasonal * f,
	}
}

// Table is a per-date (and optionally per-sector) forecast produced by the
// trend forecaster. Tables are immutable by convention once produced:
// operations return copies.
type Table struct {
	dates   []time.Time
	sectors []string
	rows    map[time.Time]map[string]Bands
}

// New creates an empty plain table.
func New() *Table {
	return &Table{rows: make(map[time.Time]map[string]Bands)}
}

// NewWithSectors creates an empty sector-keyed table.
func NewWithSectors(sectors []string) *Table {
	t := New()
	t.sectors = append(t.sectors, sectors...)
	sort.Strings(t.sectors)
	return t
}

// HasSectors reports whether the table is sector-keyed.
func (t *Table) HasSectors() bool {
	return len(t.sectors) > 0
}

// Sectors returns the sorted sector names, empty for a plain table.
func (t *Table) Sectors() []string {
	out := make([]string, len(t.sectors))
	copy(out, t.sectors)
	return out
}

// Dates returns the sorted dates present in the table.
func (t *Table) Dates() []time.Time {
	out := make([]time.Time, len(t.dates))
	copy(out, t.dates)
	return out
}

// Len returns the number of dates present.
func (t *Table) Len() int {
	return len(t.dates)
}

// First returns the earliest date, or the zero time for an empty table.
func (t *Table) First() time.Time {
	if len(t.dates) == 0 {
		return time.Time{}
	}
	return t.dates[0]
}

// Last returns the latest date, or the zero time for an empty table.
func (t *Table) Last() time.Time {
	if len(t.dates) == 0 {
		return time.Time{}
	}
	return t.dates[len(t.dates)-1]
}

// Set stores the bands for a date. Use sector series.NoSector for a plain
// table. Setting a sector not declared at construction extends the sector
// list.
func (t *Table) Set(date time.Time, sector string, b Bands) {
	date = date.UTC()
	row, ok := t.rows[date]
	if !ok {
		row = make(map[string]Bands)
		t.rows[date] = row
		t.insertDate(date)
	}
	if sector != series.NoSector && !t.hasSector(sector) {
		t.sectors = append(t.sectors, sector)
		sort.Strings(t.sectors)
	}
	row[sector] = b
}

// At returns the bands for a date and sector. The second return is false
// when the cell is missing.
func (t *Table) At(date time.Time, sector string) (Bands, bool) {
	row, ok := t.rows[date.UTC()]
	if !ok {
		return Bands{}, false
	}
	b, ok := row[sector]
	return b, ok
}

// TotalAt returns the point estimate at a date summed across sectors (or
// the plain value). The second return is false when the date is missing.
func (t *Table) TotalAt(date time.Time) (float64, bool) {
	row, ok := t.rows[date.UTC()]
	if !ok || len(row) == 0 {
		return 0, false
	}
	total := 0.0
	for _, b := range row {
		total += b.Total
	}
	return total, true
}

// Window returns a copy restricted to dates within [start, stop] inclusive.
func (t *Table) Window(start, stop time.Time) *Table {
	out := t.emptyLike()
	for _, d := range t.dates {
		if d.Before(start) || d.After(stop) {
			continue
		}
		for sector, b := range t.rows[d] {
			out.Set(d, sector, b)
		}
	}
	return out
}

// Clone returns a deep copy.
func (t *Table) Clone() *Table {
	out := t.emptyLike()
	for _, d := range t.dates {
		for sector, b := range t.rows[d] {
			out.Set(d, sector, b)
		}
	}
	return out
}

// SumSectors collapses a sector-keyed table into a plain table whose bands
// are summed across sectors per date.
func (t *Table) SumSectors() *Table {
	out := New()
	for _, d := range t.dates {
		var sum Bands
		for _, b := range t.rows[d] {
			sum.Total += b.Total
			sum.Lower += b.Lower
			sum.Upper += b.Upper
			sum.Trend += b.Trend
			sum.Seasonal += b.Seasonal
		}
		out.Set(d, series.NoSector, sum)
	}
	return out
}

// TotalSeries extracts the point estimates as a series, sector-keyed when
// the table is.
func (t *Table) TotalSeries() *series.Series {
	var out *series.Series
	if t.HasSectors() {
		out = series.NewWithSectors(t.sectors)
	} else {
		out = series.New()
	}
	for _, d := range t.dates {
		for sector, b := range t.rows[d] {
			out.Set(d, sector, b.Total)
		}
	}
	return out
}

// Regroup combines sector columns into coarser groups: each group's bands
// are the sum of its member sectors' bands. Sectors not named by any group
// are dropped from the result. A group member absent from the table is a
// configuration error.
func (t *Table) Regroup(groups map[string][]string) (*Table, error) {
	names := make([]string, 0, len(groups))
	for name := range groups {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		for _, member := range groups[name] {
			if !t.hasSector(member) {
				return nil, errs.NewConfigurationError("crosswalk sector", member, t.sectors...)
			}
		}
	}

	out := NewWithSectors(names)
	for _, d := range t.dates {
		row := t.rows[d]
		for _, name := range names {
			var sum Bands
			for _, member := range groups[name] {
				b := row[member]
				sum.Total += b.Total
				sum.Lower += b.Lower
				sum.Upper += b.Upper
				sum.Trend += b.Trend
				sum.Seasonal += b.Seasonal
			}
			out.Set(d, name, sum)
		}
	}
	return out, nil
}

func (t *Table) emptyLike() *Table {
	if t.HasSectors() {
		return NewWithSectors(t.sectors)
	}
	return New()
}

func (t *Table) hasSector(name string) bool {
	i := sort.SearchStrings(t.sectors, name)
	return i < len(t.sectors) && t.sectors[i] == name
}

func (t *Table) insertDate(date time.Time) {
	i := sort.Search(len(t.dates), func(i int) bool { return !t.dates[i].Before(date) })
	t.dates = append(t.dates, time.Time{})
	copy(t.dates[i+1:], t.dates[i:])
	t.dates[i] = date
}
