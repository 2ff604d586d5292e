// Package source loads tax collections, sector history and rate tables
// from CSV files into the pipeline's input types. Loading is where the
// bookkeeping corrections live: accrual shifts between months, recurring
// deductions and statutory rate blending all happen here, so everything
// downstream sees corrected series.
package source

import (
	"encoding/csv"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/civicbudget/tax-forecast/internal/transform"
	"github.com/civicbudget/tax-forecast/pkg/constants"
	"github.com/civicbudget/tax-forecast/pkg/errs"
	"github.com/civicbudget/tax-forecast/pkg/fiscal"
	"github.com/civicbudget/tax-forecast/pkg/series"
)

// Loader reads the CSV inputs for one or more taxes.
type Loader struct {
	logger *zap.Logger
}

// NewLoader builds a Loader. A nil logger disables logging.
func NewLoader(logger *zap.Logger) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{logger: logger}
}

// AccrualShift moves a fixed amount from one month of the actuals to
// another, correcting collections booked in the wrong period (the BIRT and
// net-profits April payments that landed in July).
type AccrualShift struct {
	Amount float64
	From   time.Time // month debited
	To     time.Time // month credited
}

// Deduction subtracts a recurring annual amount from the collections,
// spread evenly over the months of each fiscal year at or after StartFY,
// and across sectors when the series carries them. The sales tax uses this
// for the school-district share.
type Deduction struct {
	Annual  float64
	StartFY int
}

// CollectionOptions adjust a collections load.
type CollectionOptions struct {
	Start     time.Time // drop rows before Start when nonzero
	Accruals  []AccrualShift
	Deduction *Deduction
}

// Collections reads monthly collections laid out as fiscal_year,month,total
// rows, where month is the calendar month and the row date follows from the
// fiscal year. Repeated (fiscal_year, month) rows accumulate, so a tax
// assembled from several components (wage plus earnings) can be
// concatenated into one file. Rows with an empty total are skipped.
func (l *Loader) Collections(path string, opts CollectionOptions) (*series.Series, error) {
	const op = "source.Collections"

	rows, header, err := readCSV(path)
	if err != nil {
		return nil, err
	}
	idx, err := columnIndex(path, header, "fiscal_year", "month", "total")
	if err != nil {
		return nil, err
	}

	s := series.New()
	for i, row := range rows {
		line := i + 2
		if strings.TrimSpace(row[idx["total"]]) == "" {
			continue
		}
		fy, err := parseInt(op, path, line, "fiscal_year", row[idx["fiscal_year"]])
		if err != nil {
			return nil, err
		}
		month, err := parseInt(op, path, line, "month", row[idx["month"]])
		if err != nil {
			return nil, err
		}
		if month < 1 || month > constants.MonthsPerYear {
			return nil, &errs.DataAlignmentError{
				Op:     op,
				Detail: fmt.Sprintf("%s line %d: month %d outside 1 through 12", path, line, month),
			}
		}
		total, err := parseFloat(op, path, line, "total", row[idx["total"]])
		if err != nil {
			return nil, err
		}

		d := fiscal.Date(fiscal.CalendarYear(fy, time.Month(month)), time.Month(month))
		if !opts.Start.IsZero() && d.Before(opts.Start) {
			continue
		}
		s.Add(d, series.NoSector, total)
	}
	if s.Len() == 0 {
		return nil, &errs.MissingHistoryError{Detail: "no usable collections rows in " + path}
	}

	if err := applyAccruals(s, opts.Accruals); err != nil {
		return nil, err
	}
	applyDeduction(s, opts.Deduction)

	l.logger.Debug("loaded collections",
		zap.String("op", op),
		zap.String("path", path),
		zap.Int("months", s.Len()),
		zap.String("first", s.First().Format(fiscal.DateTimeLayout)),
		zap.String("last", s.Last().Format(fiscal.DateTimeLayout)),
	)
	return s, nil
}

// SectorCollections reads sector history rows laid out as
// fiscal_year,sector,total with an optional month column for monthly bins.
// Rows with an empty total are skipped; a blank month marks an annual bin.
func (l *Loader) SectorCollections(path string) ([]transform.SectorRecord, error) {
	const op = "source.SectorCollections"

	rows, header, err := readCSV(path)
	if err != nil {
		return nil, err
	}
	idx, err := columnIndex(path, header, "fiscal_year", "sector", "total")
	if err != nil {
		return nil, err
	}
	monthCol, hasMonth := indexOf(header, "month")

	var records []transform.SectorRecord
	for i, row := range rows {
		line := i + 2
		if strings.TrimSpace(row[idx["total"]]) == "" {
			continue
		}
		fy, err := parseInt(op, path, line, "fiscal_year", row[idx["fiscal_year"]])
		if err != nil {
			return nil, err
		}
		sector := strings.TrimSpace(row[idx["sector"]])
		if sector == "" {
			return nil, &errs.DataAlignmentError{
				Op:     op,
				Detail: fmt.Sprintf("%s line %d: empty sector name", path, line),
			}
		}
		total, err := parseFloat(op, path, line, "total", row[idx["total"]])
		if err != nil {
			return nil, err
		}

		var month time.Month
		if hasMonth && strings.TrimSpace(row[monthCol]) != "" {
			m, err := parseInt(op, path, line, "month", row[monthCol])
			if err != nil {
				return nil, err
			}
			if m < 1 || m > constants.MonthsPerYear {
				return nil, &errs.DataAlignmentError{
					Op:     op,
					Detail: fmt.Sprintf("%s line %d: month %d outside 1 through 12", path, line, m),
				}
			}
			month = time.Month(m)
		}
		records = append(records, transform.SectorRecord{
			FiscalYear: fy,
			Month:      month,
			Sector:     sector,
			Total:      total,
		})
	}
	if len(records) == 0 {
		return nil, &errs.MissingHistoryError{Detail: "no usable sector rows in " + path}
	}

	l.logger.Debug("loaded sector history",
		zap.String("op", op),
		zap.String("path", path),
		zap.Int("rows", len(records)),
	)
	return records, nil
}

// Blend maps rate column names to weights; the effective rate is the
// weighted sum of the named columns. An empty blend reads a single "rate"
// column. The weights mirror the statutory splits: 0.6/0.4
// resident/nonresident for wage, 0.515/0.485 for net profits and 0.75/0.25
// net-income/gross-receipts for BIRT.
type Blend map[string]float64

// Rates reads a per-fiscal-year rate table, blending split rate columns
// when a blend is given.
func (l *Loader) Rates(path, tax string, blend Blend) (*transform.RateTable, error) {
	const op = "source.Rates"

	rows, header, err := readCSV(path)
	if err != nil {
		return nil, err
	}

	cols := make([]string, 0, len(blend))
	for col := range blend {
		cols = append(cols, col)
	}
	sort.Strings(cols)
	if len(cols) == 0 {
		cols = []string{"rate"}
	}

	idx, err := columnIndex(path, header, append([]string{"fiscal_year"}, cols...)...)
	if err != nil {
		return nil, err
	}

	rates := make(map[int]float64)
	for i, row := range rows {
		line := i + 2
		fy, err := parseInt(op, path, line, "fiscal_year", row[idx["fiscal_year"]])
		if err != nil {
			return nil, err
		}
		if _, ok := rates[fy]; ok {
			return nil, &errs.DataAlignmentError{
				Op:     op,
				Detail: fmt.Sprintf("%s line %d: duplicate fiscal year %d", path, line, fy),
			}
		}
		var rate float64
		for _, col := range cols {
			v, err := parseFloat(op, path, line, col, row[idx[col]])
			if err != nil {
				return nil, err
			}
			w := 1.0
			if len(blend) > 0 {
				w = blend[col]
			}
			rate += w * v
		}
		rates[fy] = rate
	}
	if len(rates) == 0 {
		return nil, &errs.MissingHistoryError{Detail: "no usable rate rows in " + path}
	}

	l.logger.Debug("loaded rates",
		zap.String("op", op),
		zap.String("path", path),
		zap.String("tax", tax),
		zap.Int("fiscalYears", len(rates)),
	)
	return transform.NewRateTable(tax, rates), nil
}

func applyAccruals(s *series.Series, shifts []AccrualShift) error {
	for _, sh := range shifts {
		from, ok := s.ValueAt(sh.From, series.NoSector)
		if !ok {
			return &errs.DataAlignmentError{
				Op: "source.Collections",
				Detail: fmt.Sprintf("accrual shift debits %s but the collections have no value there",
					sh.From.Format(fiscal.DateTimeLayout)),
			}
		}
		to, ok := s.ValueAt(sh.To, series.NoSector)
		if !ok {
			return &errs.DataAlignmentError{
				Op: "source.Collections",
				Detail: fmt.Sprintf("accrual shift credits %s but the collections have no value there",
					sh.To.Format(fiscal.DateTimeLayout)),
			}
		}
		s.Set(sh.From, series.NoSector, from-sh.Amount)
		s.Set(sh.To, series.NoSector, to+sh.Amount)
	}
	return nil
}

func applyDeduction(s *series.Series, d *Deduction) {
	if d == nil {
		return
	}
	monthly := d.Annual / float64(constants.MonthsPerYear)
	sectors := []string{series.NoSector}
	if s.HasSectors() {
		sectors = s.Sectors()
		monthly /= float64(len(sectors))
	}
	for _, dt := range s.Dates() {
		if fiscal.Year(dt) < d.StartFY {
			continue
		}
		for _, sector := range sectors {
			if v, ok := s.ValueAt(dt, sector); ok {
				s.Set(dt, sector, v-monthly)
			}
		}
	}
}

// readCSV loads a CSV file and returns its data rows and normalized
// (lowercased, trimmed) header.
func readCSV(path string) ([][]string, []string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.TrimLeadingSpace = true
	all, err := r.ReadAll()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if len(all) == 0 {
		return nil, nil, &errs.MissingHistoryError{Detail: "empty data file " + path}
	}

	header := make([]string, len(all[0]))
	for i, h := range all[0] {
		header[i] = strings.ToLower(strings.TrimSpace(h))
	}
	return all[1:], header, nil
}

func columnIndex(path string, header []string, required ...string) (map[string]int, error) {
	idx := make(map[string]int, len(header))
	for i, h := range header {
		idx[h] = i
	}
	var missing []string
	for _, col := range required {
		if _, ok := idx[col]; !ok {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return nil, &errs.ConfigurationError{
			Setting: "columns in " + path,
			Value:   "missing " + strings.Join(missing, ", "),
			Allowed: header,
		}
	}
	return idx, nil
}

func indexOf(header []string, col string) (int, bool) {
	for i, h := range header {
		if h == col {
			return i, true
		}
	}
	return 0, false
}

func parseInt(op, path string, line int, col, v string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, &errs.DataAlignmentError{
			Op:     op,
			Detail: fmt.Sprintf("%s line %d: column %s holds non-integer value %q", path, line, col, v),
		}
	}
	return n, nil
}

func parseFloat(op, path string, line int, col, v string) (float64, error) {
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return 0, &errs.DataAlignmentError{
			Op:     op,
			Detail: fmt.Sprintf("%s line %d: column %s holds non-numeric value %q", path, line, col, v),
		}
	}
	return f, nil
}
