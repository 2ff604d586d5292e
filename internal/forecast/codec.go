package forecast

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/civicbudget/tax-forecast/pkg/constants"
	"github.com/civicbudget/tax-forecast/pkg/series"
)

// csvHeader is the tidy layout a table is persisted in. Row order is date
// then sector, and floats use the shortest exact representation, so writing
// the same table twice produces byte-identical files. The cache layer
// depends on that.
var csvHeader = []string{"date", "sector", "total", "lower", "upper", "trend", "seasonal"}

// WriteCSV persists the table in the deterministic tidy layout.
func (t *Table) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	record := make([]string, len(csvHeader))
	for _, d := range t.dates {
		sectors := t.sectors
		if !t.HasSectors() {
			sectors = []string{series.NoSector}
		}
		for _, sector := range sectors {
			b, ok := t.rows[d][sector]
			if !ok {
				continue
			}
			record[0] = d.Format(constants.DateTimeLayout)
			record[1] = sector
			record[2] = formatFloat(b.Total)
			record[3] = formatFloat(b.Lower)
			record[4] = formatFloat(b.Upper)
			record[5] = formatFloat(b.Trend)
			record[6] = formatFloat(b.Seasonal)
			if err := cw.Write(record); err != nil {
				return fmt.Errorf("write row for %s: %w", record[0], err)
			}
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadCSV loads a table previously written by WriteCSV.
func ReadCSV(r io.Reader) (*Table, error) {
	cr := csv.NewReader(r)
	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	if strings.Join(header, ",") != strings.Join(csvHeader, ",") {
		return nil, fmt.Errorf("unexpected forecast table header %q, want %q",
			strings.Join(header, ","), strings.Join(csvHeader, ","))
	}

	t := New()
	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row: %w", err)
		}

		date, err := time.Parse(constants.DateTimeLayout, record[0])
		if err != nil {
			return nil, fmt.Errorf("parse date %q: %w", record[0], err)
		}

		var b Bands
		fields := []*float64{&b.Total, &b.Lower, &b.Upper, &b.Trend, &b.Seasonal}
		for i, dst := range fields {
			v, err := strconv.ParseFloat(record[i+2], 64)
			if err != nil {
				return nil, fmt.Errorf("parse %s for %s: %w", csvHeader[i+2], record[0], err)
			}
			*dst = v
		}
		t.Set(date.UTC(), record[1], b)
	}
	return t, nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
