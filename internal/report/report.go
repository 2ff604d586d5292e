// Package report writes the run outputs: per-tax CSVs for actuals,
// baselines and scenario forecasts under the output directory, and the
// multi-sheet scenario comparison workbook.
package report

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"go.uber.org/zap"

	"github.com/civicbudget/tax-forecast/internal/forecast"
	"github.com/civicbudget/tax-forecast/pkg/constants"
	"github.com/civicbudget/tax-forecast/pkg/series"
)

// Subdirectories of the output directory, one per output kind.
const (
	ActualsDir   = "actuals"
	BaselineDir  = "baseline"
	ForecastsDir = "forecasts"
)

// WorkbookName is the comparison workbook file written at the output root.
const WorkbookName = "scenario-comparison.xlsx"

// seriesHeader is the tidy layout actual series are persisted in. The
// sector column is empty for plain series.
var seriesHeader = []string{"date", "sector", "value"}

// Writer persists run outputs under a single output directory.
type Writer struct {
	dir    string
	logger *zap.Logger
}

// NewWriter creates a writer rooted at dir. Directories are created as
// files are written.
func NewWriter(dir string, logger *zap.Logger) *Writer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Writer{dir: dir, logger: logger}
}

// Dir returns the output directory.
func (w *Writer) Dir() string { return w.dir }

// WriteActuals writes the observed revenue and tax-base series for a tax
// to actuals/<tax>-revenue.csv and actuals/<tax>-tax-base.csv.
func (w *Writer) WriteActuals(tax string, revenue, base *series.Series) error {
	if err := w.writeSeries(filepath.Join(ActualsDir, tax+"-revenue.csv"), revenue); err != nil {
		return err
	}
	if err := w.writeSeries(filepath.Join(ActualsDir, tax+"-tax-base.csv"), base); err != nil {
		return err
	}
	w.logger.Debug("wrote actuals",
		zap.String("op", "report.Writer.WriteActuals"),
		zap.String("tax", tax),
	)
	return nil
}

// WriteBaseline writes the fitted baseline tables for a tax to
// baseline/<tax>-revenue.csv and baseline/<tax>-tax-base.csv.
func (w *Writer) WriteBaseline(tax string, revenue, base *forecast.Table) error {
	if err := w.writeTable(filepath.Join(BaselineDir, tax+"-revenue.csv"), revenue); err != nil {
		return err
	}
	if err := w.writeTable(filepath.Join(BaselineDir, tax+"-tax-base.csv"), base); err != nil {
		return err
	}
	w.logger.Debug("wrote baseline",
		zap.String("op", "report.Writer.WriteBaseline"),
		zap.String("tax", tax),
	)
	return nil
}

// WriteForecast writes a scenario-adjusted revenue table to
// forecasts/<tax>-<scenario>-revenue.csv.
func (w *Writer) WriteForecast(tax, scenario string, table *forecast.Table) error {
	name := fmt.Sprintf("%s-%s-revenue.csv", tax, scenario)
	if err := w.writeTable(filepath.Join(ForecastsDir, name), table); err != nil {
		return err
	}
	w.logger.Debug("wrote forecast",
		zap.String("op", "report.Writer.WriteForecast"),
		zap.String("tax", tax),
		zap.String("scenario", scenario),
	)
	return nil
}

// writeTable persists a forecast table at a path relative to the output
// directory, in the same tidy layout the cache uses.
func (w *Writer) writeTable(rel string, t *forecast.Table) error {
	fh, err := w.create(rel)
	if err != nil {
		return err
	}
	if err := t.WriteCSV(fh); err != nil {
		fh.Close()
		return fmt.Errorf("write output %s: %w", rel, err)
	}
	if err := fh.Close(); err != nil {
		return fmt.Errorf("close output %s: %w", rel, err)
	}
	return nil
}

// writeSeries persists a series at a path relative to the output directory.
func (w *Writer) writeSeries(rel string, s *series.Series) error {
	fh, err := w.create(rel)
	if err != nil {
		return err
	}

	cw := csv.NewWriter(fh)
	if err := cw.Write(seriesHeader); err != nil {
		fh.Close()
		return fmt.Errorf("write header for %s: %w", rel, err)
	}

	sectors := s.Sectors()
	if !s.HasSectors() {
		sectors = []string{series.NoSector}
	}
	record := make([]string, len(seriesHeader))
	for _, d := range s.Dates() {
		for _, sector := range sectors {
			v, ok := s.ValueAt(d, sector)
			if !ok {
				continue
			}
			record[0] = d.Format(constants.DateTimeLayout)
			record[1] = sector
			record[2] = strconv.FormatFloat(v, 'g', -1, 64)
			if err := cw.Write(record); err != nil {
				fh.Close()
				return fmt.Errorf("write row for %s: %w", rel, err)
			}
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		fh.Close()
		return fmt.Errorf("flush output %s: %w", rel, err)
	}
	if err := fh.Close(); err != nil {
		return fmt.Errorf("close output %s: %w", rel, err)
	}
	return nil
}

// create opens a fresh output file, creating its directory first.
func (w *Writer) create(rel string) (*os.File, error) {
	path := filepath.Join(w.dir, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create output dir for %s: %w", rel, err)
	}
	fh, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create output %s: %w", rel, err)
	}
	return fh, nil
}
