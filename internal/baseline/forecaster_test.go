package baseline

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/civicbudget/tax-forecast/internal/seasonal"
	"github.com/civicbudget/tax-forecast/pkg/errs"
	"github.com/civicbudget/tax-forecast/pkg/series"
)

func date(year, month int) time.Time {
	return time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)
}

// monthlyRevenue builds a plain monthly series with a linear trend and a
// yearly cycle, n months starting July 2014.
func monthlyRevenue(n int) *series.Series {
	s := series.New()
	start := date(2014, 7)
	for i := 0; i < n; i++ {
		v := 1e6 + 5000*float64(i) + 80000*math.Sin(2*math.Pi*float64(i)/12)
		s.Set(start.AddDate(0, i, 0), series.NoSector, v)
	}
	return s
}

func TestFitPredictCoversHistoryAndHorizon(t *testing.T) {
	history := monthlyRevenue(69) // 2014-07 through 2020-03
	f := NewForecaster(nil, seasonal.Options{}, nil)

	tbl, err := f.FitPredict(history, date(2025, 6))
	if err != nil {
		t.Fatalf("FitPredict() error = %v", err)
	}

	if !tbl.First().Equal(date(2014, 7)) {
		t.Errorf("FitPredict() first date = %v, expected 2014-07", tbl.First())
	}
	if !tbl.Last().Equal(date(2025, 6)) {
		t.Errorf("FitPredict() last date = %v, expected 2025-06", tbl.Last())
	}
	wantLen := 131 + 1 // 2014-07 through 2025-06 inclusive
	if tbl.Len() != wantLen {
		t.Errorf("FitPredict() length = %d, expected %d", tbl.Len(), wantLen)
	}

	for _, d := range tbl.Dates() {
		b, ok := tbl.At(d, series.NoSector)
		if !ok {
			t.Fatalf("FitPredict() missing bands at %s", d.Format("2006-01"))
		}
		if b.Lower > b.Total || b.Total > b.Upper {
			t.Errorf("FitPredict() bounds at %s do not bracket total: [%v, %v] around %v",
				d.Format("2006-01"), b.Lower, b.Upper, b.Total)
		}
	}
}

func TestFitPredictTracksHistory(t *testing.T) {
	history := monthlyRevenue(69)
	f := NewForecaster(nil, seasonal.Options{}, nil)

	tbl, err := f.FitPredict(history, date(2021, 6))
	if err != nil {
		t.Fatalf("FitPredict() error = %v", err)
	}

	// The synthetic history is exactly trend plus one Fourier term, so the
	// fit should reproduce it closely.
	for _, d := range history.Dates() {
		want, _ := history.ValueAt(d, series.NoSector)
		got, ok := tbl.At(d, series.NoSector)
		if !ok {
			t.Fatalf("FitPredict() missing fitted value at %s", d.Format("2006-01"))
		}
		if math.Abs(got.Total-want) > 0.001*want {
			t.Errorf("FitPredict() fitted total at %s = %v, expected within 0.1%% of %v",
				d.Format("2006-01"), got.Total, want)
		}
	}
}

func TestFitPredictPerSectorColumns(t *testing.T) {
	s := series.NewWithSectors([]string{"Construction", "Retail Trade"})
	start := date(2015, 1)
	for i := 0; i < 48; i++ {
		d := start.AddDate(0, i, 0)
		s.Set(d, "Construction", 400+2*float64(i))
		s.Set(d, "Retail Trade", 900+5*float64(i))
	}

	f := NewForecaster(nil, seasonal.Options{}, nil)
	tbl, err := f.FitPredict(s, date(2019, 12))
	if err != nil {
		t.Fatalf("FitPredict() error = %v", err)
	}
	if !tbl.HasSectors() {
		t.Fatalf("FitPredict() dropped sector columns")
	}

	at := date(2019, 6) // 6 months past history end
	construction, ok := tbl.At(at, "Construction")
	if !ok {
		t.Fatalf("FitPredict() missing Construction at 2019-06")
	}
	retail, ok := tbl.At(at, "Retail Trade")
	if !ok {
		t.Fatalf("FitPredict() missing Retail Trade at 2019-06")
	}
	wantConstruction := 400 + 2*float64(53)
	wantRetail := 900 + 5*float64(53)
	if math.Abs(construction.Total-wantConstruction) > 1 {
		t.Errorf("FitPredict() Construction at 2019-06 = %v, expected about %v", construction.Total, wantConstruction)
	}
	if math.Abs(retail.Total-wantRetail) > 1 {
		t.Errorf("FitPredict() Retail Trade at 2019-06 = %v, expected about %v", retail.Total, wantRetail)
	}
}

func TestFitPredictRejectsBadInputs(t *testing.T) {
	irregular := series.New()
	irregular.Set(date(2019, 1), series.NoSector, 1)
	irregular.Set(date(2019, 2), series.NoSector, 2)
	irregular.Set(date(2019, 5), series.NoSector, 3)

	sparse := series.NewWithSectors([]string{"Construction", "Retail Trade"})
	for i := 0; i < 36; i++ {
		d := date(2015, 1).AddDate(0, i, 0)
		sparse.Set(d, "Construction", 10)
		if !d.Equal(date(2016, 4)) {
			sparse.Set(d, "Retail Trade", 20)
		}
	}

	tests := []struct {
		name      string
		history   *series.Series
		stop      time.Time
		wantAlign bool
	}{
		{name: "irregular index", history: irregular, stop: date(2020, 12), wantAlign: true},
		{name: "stop before history end", history: monthlyRevenue(36), stop: date(2015, 1), wantAlign: true},
		{name: "incomplete sector column", history: sparse, stop: date(2020, 12), wantAlign: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := NewForecaster(nil, seasonal.Options{}, nil)
			_, err := f.FitPredict(tt.history, tt.stop)
			if err == nil {
				t.Fatalf("FitPredict() error = nil, expected error")
			}
			if tt.wantAlign {
				var alignErr *errs.DataAlignmentError
				if !errors.As(err, &alignErr) {
					t.Errorf("FitPredict() error type = %T, expected *errs.DataAlignmentError", err)
				}
			}
		})
	}
}

func TestFitPredictEmptyHistory(t *testing.T) {
	f := NewForecaster(nil, seasonal.Options{}, nil)
	_, err := f.FitPredict(series.New(), date(2021, 6))
	if err == nil {
		t.Fatalf("FitPredict(empty) error = nil, expected error")
	}
	var missErr *errs.MissingHistoryError
	if !errors.As(err, &missErr) {
		t.Errorf("FitPredict(empty) error type = %T, expected *errs.MissingHistoryError", err)
	}
}

func TestMeasureFit(t *testing.T) {
	history := monthlyRevenue(48)
	f := NewForecaster(nil, seasonal.Options{}, nil)
	tbl, err := f.FitPredict(history, date(2019, 6))
	if err != nil {
		t.Fatalf("FitPredict() error = %v", err)
	}

	m := MeasureFit(tbl, history)
	if m.N != 48 {
		t.Errorf("MeasureFit().N = %d, expected 48", m.N)
	}
	if m.MAE < 0 || m.RMSE < m.MAE {
		t.Errorf("MeasureFit() MAE = %v, RMSE = %v, expected 0 <= MAE <= RMSE", m.MAE, m.RMSE)
	}
	if m.MAPE < 0 || m.MAPE > 0.01 {
		t.Errorf("MeasureFit().MAPE = %v, expected a tight fit below 1%%", m.MAPE)
	}
}

func TestMeasureFitNoOverlap(t *testing.T) {
	history := monthlyRevenue(48)
	f := NewForecaster(nil, seasonal.Options{}, nil)
	tbl, err := f.FitPredict(history, date(2019, 6))
	if err != nil {
		t.Fatalf("FitPredict() error = %v", err)
	}

	other := series.New()
	other.Set(date(2030, 1), series.NoSector, 1)
	m := MeasureFit(tbl, other)
	if m.N != 0 || m.MAE != 0 {
		t.Errorf("MeasureFit() with no overlap = %+v, expected zero metrics", m)
	}
}
