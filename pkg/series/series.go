// Package series defines the ordered period series the pipeline transforms.
// A Series is either plain (one value per date) or sector-keyed (one value
// per date per sector); downstream code distinguishes the two through
// Sectors, which is empty for a plain series. A date absent from a series is
// missing, never zero.
package series

import (
	"sort"
	"time"

	"github.com/civicbudget/tax-forecast/pkg/errs"
)

// NoSector is the sector key used internally for plain series values.
const NoSector = ""

// Series is an ordered mapping from period-start date to a value, or to
// per-sector values.
type Series struct {
	dates   []time.Time
	sectors []string
	values  map[time.Time]map[string]float64
}

// New creates an empty plain series.
func New() *Series {
	return &Series{values: make(map[time.Time]map[string]float64)}
}

// NewWithSectors creates an empty sector-keyed series. The sector list is
// copied and sorted.
func NewWithSectors(sectors []string) *Series {
	s := New()
	s.sectors = append(s.sectors, sectors...)
	sort.Strings(s.sectors)
	return s
}

// HasSectors reports whether the series is sector-keyed.
func (s *Series) HasSectors() bool {
	return len(s.sectors) > 0
}

// Sectors returns the sorted sector names, empty for a plain series.
func (s *Series) Sectors() []string {
	out := make([]string, len(s.sectors))
	copy(out, s.sectors)
	return out
}

// Dates returns the sorted dates present in the series.
func (s *Series) Dates() []time.Time {
	out := make([]time.Time, len(s.dates))
	copy(out, s.dates)
	return out
}

// Len returns the number of dates present.
func (s *Series) Len() int {
	return len(s.dates)
}

// First returns the earliest date, or the zero time for an empty series.
func (s *Series) First() time.Time {
	if len(s.dates) == 0 {
		return time.Time{}
	}
	return s.dates[0]
}

// Last returns the latest date, or the zero time for an empty series.
func (s *Series) Last() time.Time {
	if len(s.dates) == 0 {
		return time.Time{}
	}
	return s.dates[len(s.dates)-1]
}

// Set stores a value for a date. Use sector NoSector for a plain series.
// Setting a sector not declared at construction extends the sector list.
func (s *Series) Set(date time.Time, sector string, v float64) {
	date = date.UTC()
	row, ok := s.values[date]
	if !ok {
		row = make(map[string]float64)
		s.values[date] = row
		s.insertDate(date)
	}
	if sector != NoSector && !s.hasSector(sector) {
		s.sectors = append(s.sectors, sector)
		sort.Strings(s.sectors)
	}
	row[sector] = v
}

// ValueAt returns the value for a date and sector. Use sector NoSector for a
// plain series. The second return is false when the value is missing.
func (s *Series) ValueAt(date time.Time, sector string) (float64, bool) {
	row, ok := s.values[date.UTC()]
	if !ok {
		return 0, false
	}
	v, ok := row[sector]
	return v, ok
}

// Total returns the value at a date summed across sectors (or the plain
// value). The second return is false when the date is missing entirely.
func (s *Series) Total(date time.Time) (float64, bool) {
	row, ok := s.values[date.UTC()]
	if !ok || len(row) == 0 {
		return 0, false
	}
	total := 0.0
	for _, v := range row {
		total += v
	}
	return total, true
}

// Window returns a copy restricted to dates within [start, stop] inclusive.
func (s *Series) Window(start, stop time.Time) *Series {
	out := s.emptyLike()
	for _, d := range s.dates {
		if d.Before(start) || d.After(stop) {
			continue
		}
		for sector, v := range s.values[d] {
			out.Set(d, sector, v)
		}
	}
	return out
}

// SumSectors collapses a sector-keyed series into a plain series of per-date
// totals. A plain series is returned unchanged (as a copy).
func (s *Series) SumSectors() *Series {
	out := New()
	for _, d := range s.dates {
		if t, ok := s.Total(d); ok {
			out.Set(d, NoSector, t)
		}
	}
	return out
}

// Clone returns a deep copy.
func (s *Series) Clone() *Series {
	out := s.emptyLike()
	for _, d := range s.dates {
		for sector, v := range s.values[d] {
			out.Set(d, sector, v)
		}
	}
	return out
}

// Add stores the sum of the existing value (zero when missing) and v.
func (s *Series) Add(date time.Time, sector string, v float64) {
	cur, _ := s.ValueAt(date, sector)
	s.Set(date, sector, cur+v)
}

// Regroup combines sector columns into coarser groups: each group's value is
// the sum of its member sectors' values. Sectors not named by any group are
// dropped from the result. A group member absent from the series is a
// configuration error.
func (s *Series) Regroup(groups map[string][]string) (*Series, error) {
	names := make([]string, 0, len(groups))
	for name := range groups {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		for _, member := range groups[name] {
			if !s.hasSector(member) {
				return nil, errs.NewConfigurationError("crosswalk sector", member, s.sectors...)
			}
		}
	}

	out := NewWithSectors(names)
	for _, d := range s.dates {
		row := s.values[d]
		for _, name := range names {
			sum := 0.0
			for _, member := range groups[name] {
				sum += row[member]
			}
			out.Set(d, name, sum)
		}
	}
	return out, nil
}

func (s *Series) emptyLike() *Series {
	if s.HasSectors() {
		return NewWithSectors(s.sectors)
	}
	return New()
}

func (s *Series) hasSector(name string) bool {
	i := sort.SearchStrings(s.sectors, name)
	return i < len(s.sectors) && s.sectors[i] == name
}

func (s *Series) insertDate(date time.Time) {
	i := sort.Search(len(s.dates), func(i int) bool { return !s.dates[i].Before(date) })
	s.dates = append(s.dates, time.Time{})
	copy(s.dates[i+1:], s.dates[i:])
	s.dates[i] = date
}
