package transform

import (
	"fmt"
	"sort"
	"time"

	"github.com/civicbudget/tax-forecast/pkg/errs"
	"github.com/civicbudget/tax-forecast/pkg/fiscal"
	"github.com/civicbudget/tax-forecast/pkg/series"
)

// SectorRecord is one observation of sector-level collections, used to fit
// historical sector shares.
type SectorRecord struct {
	FiscalYear int
	Month      time.Month // zero when the history is annual
	Sector     string
	Total      float64
}

// shareKey identifies a time bin shares are grouped by. month is zero when
// grouping is by fiscal year only.
type shareKey struct {
	fiscalYear int
	month      time.Month
}

// start returns the calendar date the bin begins, for ordering bins
// chronologically. Annual bins start at the fiscal year's July.
func (k shareKey) start() time.Time {
	if k.month == 0 {
		return fiscal.Date(k.fiscalYear-1, time.July)
	}
	return fiscal.Date(fiscal.CalendarYear(k.fiscalYear, k.month), k.month)
}

// SectorShares maps time bins to per-sector shares of the bin total.
// Observed bins sum to one across sectors by construction. Bins that were
// never observed are imputed on lookup: first from the fiscal-year grouping,
// then per sector from the nearest observed bin, renormalized.
type SectorShares struct {
	byMonth bool
	sectors []string
	bins    []shareKey // chronological
	shares  map[shareKey]map[string]float64
	annual  map[int]map[string]float64
}

// FitShares computes each sector's historical share of its time bin's
// total. Bins group by fiscal year, and additionally by month when byMonth
// is true. A history with no usable bins is a MissingHistoryError: failing
// beats silently disaggregating with zero shares.
func FitShares(records []SectorRecord, byMonth bool) (*SectorShares, error) {
	binSums := make(map[shareKey]map[string]float64)
	binTotals := make(map[shareKey]float64)
	annualSums := make(map[int]map[string]float64)
	annualTotals := make(map[int]float64)
	sectorSet := make(map[string]struct{})

	for _, r := range records {
		if byMonth && r.Month == 0 {
			return nil, errs.NewConfigurationError(
				"sector history record for fiscal year "+fmt.Sprint(r.FiscalYear),
				"no month", "months 1 through 12 when grouping monthly")
		}
		key := shareKey{fiscalYear: r.FiscalYear}
		if byMonth {
			key.month = r.Month
		}
		if binSums[key] == nil {
			binSums[key] = make(map[string]float64)
		}
		binSums[key][r.Sector] += r.Total
		binTotals[key] += r.Total

		if annualSums[r.FiscalYear] == nil {
			annualSums[r.FiscalYear] = make(map[string]float64)
		}
		annualSums[r.FiscalYear][r.Sector] += r.Total
		annualTotals[r.FiscalYear] += r.Total

		sectorSet[r.Sector] = struct{}{}
	}

	ss := &SectorShares{
		byMonth: byMonth,
		shares:  make(map[shareKey]map[string]float64),
		annual:  make(map[int]map[string]float64),
	}
	for sector := range sectorSet {
		ss.sectors = append(ss.sectors, sector)
	}
	sort.Strings(ss.sectors)

	for key, sums := range binSums {
		total := binTotals[key]
		if total == 0 {
			continue
		}
		row := make(map[string]float64, len(sums))
		for sector, sum := range sums {
			row[sector] = sum / total
		}
		ss.shares[key] = row
		ss.bins = append(ss.bins, key)
	}
	sort.Slice(ss.bins, func(i, j int) bool {
		return ss.bins[i].start().Before(ss.bins[j].start())
	})

	for fy, sums := range annualSums {
		total := annualTotals[fy]
		if total == 0 {
			continue
		}
		row := make(map[string]float64, len(sums))
		for sector, sum := range sums {
			row[sector] = sum / total
		}
		ss.annual[fy] = row
	}

	if len(ss.bins) == 0 {
		return nil, &errs.MissingHistoryError{
			Detail: fmt.Sprintf("sector history has no usable time bins (%d records, all zero-total)", len(records)),
		}
	}
	return ss, nil
}

// Sectors returns the sorted sector names the shares cover.
func (ss *SectorShares) Sectors() []string {
	out := make([]string, len(ss.sectors))
	copy(out, ss.sectors)
	return out
}

// ByMonth reports whether bins carry months.
func (ss *SectorShares) ByMonth() bool {
	return ss.byMonth
}

// Observed reports whether the exact time bin was present in the history.
func (ss *SectorShares) Observed(fiscalYear int, month time.Month) bool {
	key := shareKey{fiscalYear: fiscalYear}
	if ss.byMonth {
		key.month = month
	}
	_, ok := ss.shares[key]
	return ok
}

// SharesFor returns the per-sector shares for a time bin. month is ignored
// when the shares group by fiscal year only. An unobserved bin falls back to
// the fiscal-year grouping, then to a per-sector fill from the most recent
// prior observed bin (the earliest observed bin when the target predates all
// observations), renormalized to sum to one.
func (ss *SectorShares) SharesFor(fiscalYear int, month time.Month) map[string]float64 {
	key := shareKey{fiscalYear: fiscalYear}
	if ss.byMonth {
		key.month = month
	}
	if row, ok := ss.shares[key]; ok {
		return copyRow(row)
	}
	if ss.byMonth {
		if row, ok := ss.annual[fiscalYear]; ok {
			return copyRow(row)
		}
	}

	target := key.start()
	row := make(map[string]float64, len(ss.sectors))
	for _, sector := range ss.sectors {
		row[sector] = ss.fillShare(sector, target)
	}
	normalizeRow(row)
	return row
}

// fillShare walks the chronological bins and returns the sector's share from
// the most recent bin at or before target, or from the earliest bin carrying
// the sector when target predates them all.
func (ss *SectorShares) fillShare(sector string, target time.Time) float64 {
	value := 0.0
	found := false
	for _, bin := range ss.bins {
		share, ok := ss.shares[bin][sector]
		if !ok {
			continue
		}
		if bin.start().After(target) {
			if !found {
				value, found = share, true
			}
			break
		}
		value, found = share, true
	}
	return value
}

// Disaggregate spreads each value of a plain aggregate series across sectors
// using the fitted shares. The per-date sector sum reproduces the aggregate
// value up to floating point.
func Disaggregate(aggregate *series.Series, shares *SectorShares) (*series.Series, error) {
	if shares == nil || len(shares.bins) == 0 {
		return nil, &errs.MissingHistoryError{Detail: "no sector share bins fitted"}
	}
	if aggregate.HasSectors() {
		return nil, &errs.DataAlignmentError{
			Op: "transform.Disaggregate",
			Detail: fmt.Sprintf("aggregate series already carries %d sectors, expected a plain series",
				len(aggregate.Sectors())),
		}
	}

	out := series.NewWithSectors(shares.Sectors())
	for _, d := range aggregate.Dates() {
		v, ok := aggregate.ValueAt(d, series.NoSector)
		if !ok {
			continue
		}
		row := shares.SharesFor(fiscal.Year(d), d.Month())
		for sector, share := range row {
			out.Set(d, sector, v*share)
		}
	}
	return out, nil
}

func copyRow(row map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(row))
	for sector, share := range row {
		out[sector] = share
	}
	return out
}

func normalizeRow(row map[string]float64) {
	sum := 0.0
	for _, share := range row {
		sum += share
	}
	if sum == 0 {
		return
	}
	for sector, share := range row {
		row[sector] = share / sum
	}
}
