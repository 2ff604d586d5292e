package baseline

import (
	"bytes"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/civicbudget/tax-forecast/internal/seasonal"
	"github.com/civicbudget/tax-forecast/internal/transform"
	"github.com/civicbudget/tax-forecast/pkg/errs"
	"github.com/civicbudget/tax-forecast/pkg/fiscal"
	"github.com/civicbudget/tax-forecast/pkg/series"
)

// countingFitter counts model fits so tests can assert the cache prevented
// refitting.
type countingFitter struct {
	inner Fitter
	calls int
}

func (f *countingFitter) FitColumn(y []float64, periodsPerYear int, opts seasonal.Options) (Predictor, error) {
	f.calls++
	return f.inner.FitColumn(y, periodsPerYear, opts)
}

func pipelineInputs() Inputs {
	return Inputs{
		Tax:          "wage",
		Actuals:      monthlyRevenue(69), // 2014-07 through 2020-03
		Freq:         fiscal.Monthly,
		FitWindow:    fiscal.Window{Start: date(2014, 7), Stop: date(2020, 3)},
		ForecastStop: date(2021, 6),
	}
}

// sectorHistory yields two sectors with constant 40/60 shares covering
// every month from July 2014 through June 2020.
func sectorHistory() []transform.SectorRecord {
	var recs []transform.SectorRecord
	for fy := 2015; fy <= 2020; fy++ {
		for m := 1; m <= 12; m++ {
			recs = append(recs,
				transform.SectorRecord{FiscalYear: fy, Month: time.Month(m), Sector: "Construction", Total: 40},
				transform.SectorRecord{FiscalYear: fy, Month: time.Month(m), Sector: "Retail Trade", Total: 60},
			)
		}
	}
	return recs
}

func TestPipelineCachesFits(t *testing.T) {
	dir := t.TempDir()
	counter := &countingFitter{inner: ModelFitter{}}
	p := NewPipeline(counter, NewCache(dir, nil), false, nil)
	in := pipelineInputs()

	first, err := p.Run(in)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if first.CacheHit {
		t.Errorf("Run() first pass reported a cache hit on an empty cache")
	}
	if counter.calls != 1 {
		t.Errorf("Run() first pass fit %d models, expected 1", counter.calls)
	}
	firstBytes, err := os.ReadFile(first.CachePath)
	if err != nil {
		t.Fatalf("ReadFile(%s) error = %v", first.CachePath, err)
	}

	second, err := p.Run(in)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !second.CacheHit {
		t.Errorf("Run() second pass missed the cache")
	}
	if counter.calls != 1 {
		t.Errorf("Run() second pass refit the model, total fits = %d, expected 1", counter.calls)
	}
	secondBytes, err := os.ReadFile(second.CachePath)
	if err != nil {
		t.Fatalf("ReadFile(%s) error = %v", second.CachePath, err)
	}
	if !bytes.Equal(firstBytes, secondBytes) {
		t.Errorf("Run() second pass changed the cache file")
	}

	// A cached run reproduces the fitted run exactly: the cache codec
	// round-trips every float.
	probe := date(2021, 1)
	want, _ := first.RevenueTable.At(probe, series.NoSector)
	got, ok := second.RevenueTable.At(probe, series.NoSector)
	if !ok {
		t.Fatalf("Run() second pass missing bands at 2021-01")
	}
	if got != want {
		t.Errorf("Run() cached bands at 2021-01 = %+v, expected %+v", got, want)
	}

	// fresh forces a refit; the rewritten cache file is byte-identical
	// because fitting is deterministic.
	refitCounter := &countingFitter{inner: ModelFitter{}}
	freshPipe := NewPipeline(refitCounter, NewCache(dir, nil), true, nil)
	third, err := freshPipe.Run(in)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if third.CacheHit {
		t.Errorf("Run() with fresh=true reported a cache hit")
	}
	if refitCounter.calls != 1 {
		t.Errorf("Run() with fresh=true fit %d models, expected 1", refitCounter.calls)
	}
	thirdBytes, err := os.ReadFile(third.CachePath)
	if err != nil {
		t.Fatalf("ReadFile(%s) error = %v", third.CachePath, err)
	}
	if !bytes.Equal(firstBytes, thirdBytes) {
		t.Errorf("Run() refit produced different cache bytes")
	}
}

func TestPipelineCacheSeparatesParameters(t *testing.T) {
	dir := t.TempDir()
	counter := &countingFitter{inner: ModelFitter{}}
	p := NewPipeline(counter, NewCache(dir, nil), false, nil)

	in := pipelineInputs()
	narrow, err := p.Run(in)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	in.Seasonal.IntervalWidth = 0.95
	wide, err := p.Run(in)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if wide.CacheHit {
		t.Errorf("Run() with a different interval width hit the narrow-interval cache entry")
	}
	if counter.calls != 2 {
		t.Errorf("Run() fit %d models, expected 2", counter.calls)
	}
	if narrow.CachePath == wide.CachePath {
		t.Errorf("Run() used one cache file %s for both interval widths", narrow.CachePath)
	}

	matches, err := filepath.Glob(filepath.Join(dir, "wage-baseline-*.csv"))
	if err != nil {
		t.Fatalf("Glob() error = %v", err)
	}
	if len(matches) != 2 {
		t.Errorf("cache holds %d files, expected 2", len(matches))
	}
}

func TestPipelineDisaggregates(t *testing.T) {
	counter := &countingFitter{inner: ModelFitter{}}
	p := NewPipeline(counter, nil, false, nil)
	in := pipelineInputs()
	in.SectorHistory = sectorHistory()
	in.SectorsByMonth = true

	res, err := p.Run(in)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if !res.ActualRevenue.HasSectors() {
		t.Fatalf("Run() did not disaggregate the actuals")
	}
	if counter.calls != 2 {
		t.Errorf("Run() fit %d models, expected one per sector", counter.calls)
	}

	// Disaggregation conserves each period's total.
	for _, d := range in.Actuals.Dates() {
		want, _ := in.Actuals.ValueAt(d, series.NoSector)
		got, ok := res.ActualRevenue.Total(d)
		if !ok {
			t.Fatalf("Run() lost period %s during disaggregation", d.Format("2006-01"))
		}
		if math.Abs(got-want) > 1e-9*want {
			t.Errorf("Run() sector total at %s = %v, expected %v", d.Format("2006-01"), got, want)
		}
	}

	// Constant 40/60 shares show up directly.
	v, _ := res.ActualRevenue.ValueAt(date(2019, 7), "Construction")
	total, _ := in.Actuals.ValueAt(date(2019, 7), series.NoSector)
	if math.Abs(v-0.4*total) > 1e-9*total {
		t.Errorf("Run() Construction at 2019-07 = %v, expected %v", v, 0.4*total)
	}
}

func TestPipelineIgnoreSectors(t *testing.T) {
	counter := &countingFitter{inner: ModelFitter{}}
	p := NewPipeline(counter, nil, false, nil)
	in := pipelineInputs()
	in.SectorHistory = sectorHistory()
	in.SectorsByMonth = true
	in.IgnoreSectors = true

	res, err := p.Run(in)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.ActualRevenue.HasSectors() {
		t.Errorf("Run() disaggregated despite IgnoreSectors")
	}
	if counter.calls != 1 {
		t.Errorf("Run() fit %d models, expected 1", counter.calls)
	}
}

func TestPipelineRateRoundTrip(t *testing.T) {
	rated := pipelineInputs()
	rated.Rates = transform.NewRateTable("wage", map[int]float64{
		2015: 0.05, 2016: 0.05, 2017: 0.05, 2018: 0.05, 2019: 0.05, 2020: 0.05, 2021: 0.05,
	})
	unrated := pipelineInputs()

	ratedRes, err := NewPipeline(nil, nil, false, nil).Run(rated)
	if err != nil {
		t.Fatalf("Run() with rates error = %v", err)
	}
	unratedRes, err := NewPipeline(nil, nil, false, nil).Run(unrated)
	if err != nil {
		t.Fatalf("Run() without rates error = %v", err)
	}

	// The tax-base actuals are the revenue actuals divided by the rate.
	baseV, _ := ratedRes.ActualBase.ValueAt(date(2019, 7), series.NoSector)
	revV, _ := ratedRes.ActualRevenue.ValueAt(date(2019, 7), series.NoSector)
	if math.Abs(baseV*0.05-revV) > 1e-9*revV {
		t.Errorf("Run() tax base at 2019-07 = %v, expected revenue %v over the 5%% rate", baseV, revV)
	}

	// A constant rate cancels out: the revenue forecast matches a fit on
	// revenue directly.
	for _, d := range ratedRes.RevenueTable.Dates() {
		got, _ := ratedRes.RevenueTable.At(d, series.NoSector)
		want, _ := unratedRes.RevenueTable.At(d, series.NoSector)
		if math.Abs(got.Total-want.Total) > 1e-9*math.Abs(want.Total) {
			t.Errorf("Run() revenue total at %s = %v, expected %v", d.Format("2006-01"), got.Total, want.Total)
		}
	}
}

func TestPipelineCalibrates(t *testing.T) {
	in := pipelineInputs()
	in.Targets = &Targets{
		AnchorYear:  2020,
		AnchorTotal: 14000000,
		GrowthRates: map[int]float64{2021: 0.03},
	}

	res, err := NewPipeline(nil, nil, false, nil).Run(in)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if got := fySum(res.RevenueTable, 2020); math.Abs(got-14000000) > 1e-9*14000000 {
		t.Errorf("Run() calibrated FY2020 total = %v, expected 14000000", got)
	}
	growth := fySum(res.RevenueTable, 2021)/fySum(res.RevenueTable, 2020) - 1
	if math.Abs(growth-0.03) > 1e-9 {
		t.Errorf("Run() calibrated FY2021 growth = %v, expected 0.03", growth)
	}
	if len(res.Factors) != 2 {
		t.Errorf("Run() produced %d factors, expected 2", len(res.Factors))
	}
}

func TestPipelineQuarterly(t *testing.T) {
	in := Inputs{
		Tax:          "birt",
		Actuals:      monthlyRevenue(72), // 2014-07 through 2020-06
		Freq:         fiscal.Quarterly,
		FitWindow:    fiscal.Window{Start: date(2014, 7), Stop: date(2020, 6)},
		ForecastStop: date(2021, 6),
	}
	counter := &countingFitter{inner: ModelFitter{}}

	res, err := NewPipeline(counter, nil, false, nil).Run(in)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if counter.calls != 1 {
		t.Errorf("Run() fit %d models, expected 1", counter.calls)
	}

	if got := res.ActualRevenue.Len(); got != 24 {
		t.Errorf("Run() aggregated actuals length = %d, expected 24 quarters", got)
	}
	if !res.BaseTable.First().Equal(date(2014, 7)) {
		t.Errorf("Run() forecast starts %v, expected 2014-07", res.BaseTable.First())
	}
	if !res.BaseTable.Last().Equal(date(2021, 4)) {
		t.Errorf("Run() forecast ends %v, expected the 2021-04 quarter", res.BaseTable.Last())
	}
	if got := res.BaseTable.Len(); got != 28 {
		t.Errorf("Run() forecast length = %d, expected 28 quarters", got)
	}
}

func TestPipelineCrosswalkAfterFitPreservesCache(t *testing.T) {
	dir := t.TempDir()
	counter := &countingFitter{inner: ModelFitter{}}
	p := NewPipeline(counter, NewCache(dir, nil), false, nil)

	in := pipelineInputs()
	in.SectorHistory = sectorHistory()
	in.SectorsByMonth = true

	if _, err := p.Run(in); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if counter.calls != 2 {
		t.Fatalf("Run() fit %d models, expected 2", counter.calls)
	}

	// Regrouping after the fit reuses the fine-grained cache entry.
	grouped := in
	grouped.Crosswalk = map[string][]string{"All Industries": {"Construction", "Retail Trade"}}
	grouped.CrosswalkAfterFit = true

	res, err := p.Run(grouped)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !res.CacheHit {
		t.Errorf("Run() with an after-fit crosswalk missed the cache")
	}
	if counter.calls != 2 {
		t.Errorf("Run() refit despite the after-fit crosswalk, total fits = %d", counter.calls)
	}
	if got := res.BaseTable.Sectors(); len(got) != 1 || got[0] != "All Industries" {
		t.Errorf("Run() regrouped sectors = %v, expected [All Industries]", got)
	}
	if got := res.ActualRevenue.Sectors(); len(got) != 1 || got[0] != "All Industries" {
		t.Errorf("Run() regrouped actuals sectors = %v, expected [All Industries]", got)
	}

	// Regrouping before the fit changes what the models see, so it keys
	// its own cache entry.
	before := grouped
	before.CrosswalkAfterFit = false
	res, err = p.Run(before)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.CacheHit {
		t.Errorf("Run() with a before-fit crosswalk hit the ungrouped cache entry")
	}
	if counter.calls != 3 {
		t.Errorf("Run() fit %d models, expected 3 (one more for the grouped column)", counter.calls)
	}
}

func TestPipelineRejectsBadInputs(t *testing.T) {
	quarterSpaced := series.New()
	for i := 0; i < 20; i++ {
		quarterSpaced.Set(date(2015, 1).AddDate(0, 3*i, 0), series.NoSector, 100+float64(i))
	}

	t.Run("empty actuals", func(t *testing.T) {
		in := pipelineInputs()
		in.Actuals = series.New()
		_, err := NewPipeline(nil, nil, false, nil).Run(in)
		var missErr *errs.MissingHistoryError
		if !errors.As(err, &missErr) {
			t.Errorf("Run() error = %v, expected *errs.MissingHistoryError", err)
		}
	})

	t.Run("fit window outside actuals", func(t *testing.T) {
		in := pipelineInputs()
		in.FitWindow = fiscal.Window{Start: date(2030, 1), Stop: date(2031, 1)}
		_, err := NewPipeline(nil, nil, false, nil).Run(in)
		var missErr *errs.MissingHistoryError
		if !errors.As(err, &missErr) {
			t.Errorf("Run() error = %v, expected *errs.MissingHistoryError", err)
		}
	})

	t.Run("frequency mismatch", func(t *testing.T) {
		in := pipelineInputs()
		in.Actuals = quarterSpaced
		in.FitWindow = fiscal.Window{Start: date(2015, 1), Stop: date(2019, 10)}
		_, err := NewPipeline(nil, nil, false, nil).Run(in)
		var alignErr *errs.DataAlignmentError
		if !errors.As(err, &alignErr) {
			t.Errorf("Run() error = %v, expected *errs.DataAlignmentError", err)
		}
	})
}
