package transform

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/civicbudget/tax-forecast/pkg/errs"
	"github.com/civicbudget/tax-forecast/pkg/mathutil"
	"github.com/civicbudget/tax-forecast/pkg/series"
)

// monthlyHistory builds sector records for every month of the given fiscal
// years, with sector weights that vary by calendar month so imputation
// choices are visible in the results.
func monthlyHistory(fiscalYears ...int) []SectorRecord {
	var records []SectorRecord
	for _, fy := range fiscalYears {
		for m := 1; m <= 12; m++ {
			month := time.Month((m+5)%12 + 1) // July first
			records = append(records,
				SectorRecord{FiscalYear: fy, Month: month, Sector: "Construction", Total: 100 + float64(month)},
				SectorRecord{FiscalYear: fy, Month: month, Sector: "Retail Trade", Total: 300 - float64(month)},
				SectorRecord{FiscalYear: fy, Month: month, Sector: "Hotels", Total: 50 + 2*float64(month)},
			)
		}
	}
	return records
}

func TestFitSharesObservedBinsSumToOne(t *testing.T) {
	ss, err := FitShares(monthlyHistory(2019, 2020), true)
	if err != nil {
		t.Fatalf("FitShares() error = %v", err)
	}

	for _, fy := range []int{2019, 2020} {
		for m := time.January; m <= time.December; m++ {
			if !ss.Observed(fy, m) {
				t.Fatalf("Observed(%d, %v) = false, expected observed bin", fy, m)
			}
			row := ss.SharesFor(fy, m)
			sum := 0.0
			for _, share := range row {
				sum += share
			}
			if math.Abs(sum-1) > 1e-9 {
				t.Errorf("SharesFor(%d, %v) sums to %v, expected 1 within 1e-9", fy, m, sum)
			}
		}
	}
}

func TestSharesForMatchesHistory(t *testing.T) {
	ss, err := FitShares(monthlyHistory(2020), true)
	if err != nil {
		t.Fatalf("FitShares() error = %v", err)
	}

	m := time.March
	total := (100 + float64(m)) + (300 - float64(m)) + (50 + 2*float64(m))
	row := ss.SharesFor(2020, m)
	want := (100 + float64(m)) / total
	if !mathutil.WithinRelativeTolerance(row["Construction"], want, 1e-12) {
		t.Errorf("SharesFor(2020, March)[Construction] = %v, expected %v", row["Construction"], want)
	}
}

func TestSharesFiscalYearFallback(t *testing.T) {
	// FY2020 history covers only July through September.
	var records []SectorRecord
	for _, m := range []time.Month{time.July, time.August, time.September} {
		records = append(records,
			SectorRecord{FiscalYear: 2020, Month: m, Sector: "Construction", Total: 100},
			SectorRecord{FiscalYear: 2020, Month: m, Sector: "Retail Trade", Total: 300},
		)
	}
	ss, err := FitShares(records, true)
	if err != nil {
		t.Fatalf("FitShares() error = %v", err)
	}

	if ss.Observed(2020, time.March) {
		t.Fatalf("Observed(2020, March) = true, expected missing bin")
	}
	row := ss.SharesFor(2020, time.March)
	if !mathutil.WithinRelativeTolerance(row["Construction"], 0.25, 1e-12) {
		t.Errorf("SharesFor(2020, March)[Construction] = %v, expected fiscal-year share 0.25", row["Construction"])
	}
	if !mathutil.WithinRelativeTolerance(row["Retail Trade"], 0.75, 1e-12) {
		t.Errorf("SharesFor(2020, March)[Retail Trade] = %v, expected fiscal-year share 0.75", row["Retail Trade"])
	}
}

func TestSharesForwardFillFromMostRecent(t *testing.T) {
	// History stops at FY2020; a FY2022 bin must take the latest observed
	// shares.
	records := []SectorRecord{
		{FiscalYear: 2019, Month: time.December, Sector: "Construction", Total: 10},
		{FiscalYear: 2019, Month: time.December, Sector: "Retail Trade", Total: 90},
		{FiscalYear: 2020, Month: time.February, Sector: "Construction", Total: 40},
		{FiscalYear: 2020, Month: time.February, Sector: "Retail Trade", Total: 60},
	}
	ss, err := FitShares(records, true)
	if err != nil {
		t.Fatalf("FitShares() error = %v", err)
	}

	row := ss.SharesFor(2022, time.January)
	if !mathutil.WithinRelativeTolerance(row["Construction"], 0.4, 1e-12) {
		t.Errorf("SharesFor(2022, January)[Construction] = %v, expected most recent share 0.4", row["Construction"])
	}
}

func TestSharesLeadingGapUsesEarliest(t *testing.T) {
	records := []SectorRecord{
		{FiscalYear: 2019, Month: time.December, Sector: "Construction", Total: 10},
		{FiscalYear: 2019, Month: time.December, Sector: "Retail Trade", Total: 90},
		{FiscalYear: 2020, Month: time.February, Sector: "Construction", Total: 40},
		{FiscalYear: 2020, Month: time.February, Sector: "Retail Trade", Total: 60},
	}
	ss, err := FitShares(records, true)
	if err != nil {
		t.Fatalf("FitShares() error = %v", err)
	}

	// FY2015 predates all observations; the earliest bin (December FY2019)
	// supplies the shares.
	row := ss.SharesFor(2015, time.January)
	if !mathutil.WithinRelativeTolerance(row["Construction"], 0.1, 1e-12) {
		t.Errorf("SharesFor(2015, January)[Construction] = %v, expected earliest share 0.1", row["Construction"])
	}
}

func TestFitSharesEmptyHistory(t *testing.T) {
	_, err := FitShares(nil, true)
	if err == nil {
		t.Fatalf("FitShares(nil) error = nil, expected error")
	}
	var missErr *errs.MissingHistoryError
	if !errors.As(err, &missErr) {
		t.Errorf("FitShares(nil) error type = %T, expected *errs.MissingHistoryError", err)
	}
}

func TestFitSharesAnnualGrouping(t *testing.T) {
	records := []SectorRecord{
		{FiscalYear: 2019, Sector: "Construction", Total: 20},
		{FiscalYear: 2019, Sector: "Retail Trade", Total: 80},
	}
	ss, err := FitShares(records, false)
	if err != nil {
		t.Fatalf("FitShares() error = %v", err)
	}
	if ss.ByMonth() {
		t.Fatalf("ByMonth() = true, expected annual grouping")
	}

	// Month is ignored for annual shares.
	row := ss.SharesFor(2019, time.August)
	if !mathutil.WithinRelativeTolerance(row["Retail Trade"], 0.8, 1e-12) {
		t.Errorf("SharesFor(2019, August)[Retail Trade] = %v, expected 0.8", row["Retail Trade"])
	}
}

func TestDisaggregateConservation(t *testing.T) {
	ss, err := FitShares(monthlyHistory(2019, 2020), true)
	if err != nil {
		t.Fatalf("FitShares() error = %v", err)
	}

	aggregate := series.New()
	aggregate.Set(date(2019, 7), series.NoSector, 1234567.89) // observed bin
	aggregate.Set(date(2020, 8), series.NoSector, 7654321.01) // FY2021, imputed
	aggregate.Set(date(2021, 1), series.NoSector, 42.42)      // FY2021, imputed

	got, err := Disaggregate(aggregate, ss)
	if err != nil {
		t.Fatalf("Disaggregate() error = %v", err)
	}
	if !got.HasSectors() {
		t.Fatalf("Disaggregate() returned a plain series, expected sectors")
	}

	for _, d := range aggregate.Dates() {
		want, _ := aggregate.ValueAt(d, series.NoSector)
		sum, ok := got.Total(d)
		if !ok {
			t.Fatalf("Disaggregate() missing %s", d.Format("2006-01"))
		}
		if !mathutil.WithinRelativeTolerance(sum, want, 1e-9) {
			t.Errorf("Disaggregate() sector sum at %s = %v, expected %v within 1e-9", d.Format("2006-01"), sum, want)
		}
	}
}

func TestDisaggregateRejectsSectoredAggregate(t *testing.T) {
	ss, err := FitShares(monthlyHistory(2020), true)
	if err != nil {
		t.Fatalf("FitShares() error = %v", err)
	}

	sectored := series.NewWithSectors([]string{"Construction"})
	sectored.Set(date(2020, 1), "Construction", 5)

	_, err = Disaggregate(sectored, ss)
	if err == nil {
		t.Fatalf("Disaggregate(sectored) error = nil, expected error")
	}
	var alignErr *errs.DataAlignmentError
	if !errors.As(err, &alignErr) {
		t.Errorf("Disaggregate(sectored) error type = %T, expected *errs.DataAlignmentError", err)
	}
}

func TestDisaggregateWithoutShares(t *testing.T) {
	aggregate := series.New()
	aggregate.Set(date(2020, 1), series.NoSector, 5)

	_, err := Disaggregate(aggregate, nil)
	if err == nil {
		t.Fatalf("Disaggregate(nil shares) error = nil, expected error")
	}
	var missErr *errs.MissingHistoryError
	if !errors.As(err, &missErr) {
		t.Errorf("Disaggregate(nil shares) error type = %T, expected *errs.MissingHistoryError", err)
	}
}
