package report

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
	"unicode"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/civicbudget/tax-forecast/internal/compare"
	"github.com/civicbudget/tax-forecast/pkg/constants"
	"github.com/civicbudget/tax-forecast/pkg/fiscal"
)

// WriteWorkbook builds the scenario comparison workbook: one tidy data
// sheet per scenario, then comparison, normalized-comparison and cumulative
// shortfall grids. Monthly runs get both a monthly and a fiscal-quarter
// sheet per grid; quarterly runs only the quarterly one. Dates before start
// are dropped from the grids.
func (w *Writer) WriteWorkbook(agg *compare.Aggregator, start time.Time) error {
	f := excelize.NewFile()
	defer f.Close()

	for _, name := range agg.ScenarioNames() {
		sum, err := agg.Summarize(name)
		if err != nil {
			return err
		}
		if err := writeTidySheet(f, capitalize(name)+" Data", sum); err != nil {
			return err
		}
	}

	grids := []struct {
		sheet string
		build func(compare.Options) (*compare.Report, error)
	}{
		{"Comparison", agg.Comparison},
		{"Norm. Comparison", agg.NormalizedComparison},
		{"Total Shortfalls", agg.CumulativeShortfalls},
	}
	for _, g := range grids {
		native, err := g.build(compare.Options{Start: start})
		if err != nil {
			return err
		}
		freq, err := fiscal.InferFreq(native.Dates)
		if err != nil {
			return fmt.Errorf("workbook sheet %s: %w", g.sheet, err)
		}
		if freq != fiscal.Monthly {
			if err := writeGridSheet(f, g.sheet+" (Quarterly)", native); err != nil {
				return err
			}
			continue
		}
		if err := writeGridSheet(f, g.sheet+" (Monthly)", native); err != nil {
			return err
		}
		quarterly, err := g.build(compare.Options{Start: start, Rollup: compare.RollupQuarter})
		if err != nil {
			return err
		}
		if err := writeGridSheet(f, g.sheet+" (Quarterly)", quarterly); err != nil {
			return err
		}
	}

	if err := f.DeleteSheet("Sheet1"); err != nil {
		return fmt.Errorf("drop default sheet: %w", err)
	}

	if err := os.MkdirAll(w.dir, 0755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	path := filepath.Join(w.dir, WorkbookName)
	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("save workbook %s: %w", path, err)
	}

	w.logger.Info("wrote comparison workbook",
		zap.String("op", "report.Writer.WriteWorkbook"),
		zap.String("path", path),
		zap.Strings("scenarios", agg.ScenarioNames()),
	)
	return nil
}

// writeTidySheet lays a scenario summary out long: one row per present
// (date, tax, kind) cell, ordered by date then report row order.
func writeTidySheet(f *excelize.File, sheet string, sum *compare.Report) error {
	if _, err := f.NewSheet(sheet); err != nil {
		return fmt.Errorf("create sheet %s: %w", sheet, err)
	}
	if err := setRow(f, sheet, 1, []interface{}{"date", "tax", "kind", "total"}); err != nil {
		return err
	}

	row := 2
	for _, d := range sum.Dates {
		for _, r := range sum.Rows {
			v, ok := r.Values[d]
			if !ok {
				continue
			}
			cells := []interface{}{d.Format(constants.DateTimeLayout), r.Tax, r.Kind, v}
			if err := setRow(f, sheet, row, cells); err != nil {
				return err
			}
			row++
		}
	}
	return f.SetColWidth(sheet, "A", "C", 14)
}

// writeGridSheet lays a report out wide: tax and kind label columns, then
// one column per date. Missing cells stay blank.
func writeGridSheet(f *excelize.File, sheet string, r *compare.Report) error {
	if _, err := f.NewSheet(sheet); err != nil {
		return fmt.Errorf("create sheet %s: %w", sheet, err)
	}

	header := make([]interface{}, 0, len(r.Dates)+2)
	header = append(header, "tax", "kind")
	for _, d := range r.Dates {
		header = append(header, d.Format(constants.DateTimeLayout))
	}
	if err := setRow(f, sheet, 1, header); err != nil {
		return err
	}

	for i, row := range r.Rows {
		cells := make([]interface{}, 0, len(r.Dates)+2)
		cells = append(cells, row.Tax, row.Kind)
		for _, d := range r.Dates {
			if v, ok := row.Values[d]; ok {
				cells = append(cells, v)
			} else {
				cells = append(cells, nil)
			}
		}
		if err := setRow(f, sheet, i+2, cells); err != nil {
			return err
		}
	}
	return f.SetColWidth(sheet, "A", "B", 18)
}

// setRow writes one row of cells, skipping nils so missing values stay
// blank rather than zero.
func setRow(f *excelize.File, sheet string, row int, cells []interface{}) error {
	for i, v := range cells {
		if v == nil {
			continue
		}
		cell, err := excelize.CoordinatesToCellName(i+1, row)
		if err != nil {
			return fmt.Errorf("cell (%d, %d) on %s: %w", i+1, row, sheet, err)
		}
		if err := f.SetCellValue(sheet, cell, v); err != nil {
			return fmt.Errorf("set %s!%s: %w", sheet, cell, err)
		}
	}
	return nil
}

// capitalize uppercases the first rune for sheet titles.
func capitalize(s string) string {
	r := []rune(s)
	if len(r) == 0 {
		return s
	}
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}
