package scenario

import (
	"errors"
	"math"
	"testing"

	"github.com/civicbudget/tax-forecast/internal/forecast"
	"github.com/civicbudget/tax-forecast/pkg/errs"
	"github.com/civicbudget/tax-forecast/pkg/fiscal"
	"github.com/civicbudget/tax-forecast/pkg/series"
)

// flatBaseline builds a plain monthly baseline of identical bands covering
// 2020-01 through 2021-12.
func flatBaseline(total float64) *forecast.Table {
	t := forecast.New()
	for i := 0; i < 24; i++ {
		t.Set(date(2020, 1).AddDate(0, i, 0), series.NoSector, forecast.Bands{
			Total:    total,
			Lower:    total - total/10,
			Upper:    total + total/10,
			Trend:    total - total/20,
			Seasonal: total / 20,
		})
	}
	return t
}

func TestEngineApplyHalvesBaseline(t *testing.T) {
	baseline := flatBaseline(100e6)
	w := pandemicWindow()
	declines := rep(0, 21)
	declines[0] = 0.5
	strat, err := NewOffsetSchedule(w, fiscal.Monthly, declines)
	if err != nil {
		t.Fatalf("NewOffsetSchedule() error = %v", err)
	}

	adjusted, err := NewEngine(nil).Apply(baseline, w, strat)
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}

	got, _ := adjusted.At(date(2020, 4), series.NoSector)
	if got.Total != 50e6 {
		t.Errorf("Apply() total at offset 0 = %v, expected 50e6", got.Total)
	}
	if got.Lower != 45e6 || got.Upper != 55e6 {
		t.Errorf("Apply() bounds at offset 0 = [%v, %v], expected [45e6, 55e6]", got.Lower, got.Upper)
	}
	if got.Trend != 95e6 || got.Seasonal != 5e6 {
		t.Errorf("Apply() changed trend or seasonal: %+v", got)
	}
}

func TestEngineApplyExponentialRecovery(t *testing.T) {
	baseline := flatBaseline(100e6)
	w := pandemicWindow()
	strat, err := NewSectorGroupRecovery(w, fiscal.Monthly,
		map[string]float64{series.NoSector: 0.5},
		nil,
		map[string]float64{DefaultGroup: 0.15},
		0)
	if err != nil {
		t.Fatalf("NewSectorGroupRecovery() error = %v", err)
	}

	adjusted, err := NewEngine(nil).Apply(baseline, w, strat)
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}

	// offset 3: decline = 0.5 * 0.85^3 = 0.3071, so $100M becomes $69.29M.
	got, _ := adjusted.At(date(2020, 7), series.NoSector)
	if math.Abs(got.Total-69293750) > 1 {
		t.Errorf("Apply() total at offset 3 = %v, expected 69293750", got.Total)
	}
}

func TestEngineApplyPassesThroughOutsideWindow(t *testing.T) {
	baseline := flatBaseline(100e6)
	w := pandemicWindow()
	strat, err := NewOffsetSchedule(w, fiscal.Monthly, rep(0.5, 21))
	if err != nil {
		t.Fatalf("NewOffsetSchedule() error = %v", err)
	}

	adjusted, err := NewEngine(nil).Apply(baseline, w, strat)
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if adjusted.Len() != baseline.Len() {
		t.Fatalf("Apply() length = %d, expected %d", adjusted.Len(), baseline.Len())
	}

	for _, d := range []int{1, 2, 3} { // 2020-01 through 2020-03, before the window
		dd := date(2020, d)
		got, _ := adjusted.At(dd, series.NoSector)
		want, _ := baseline.At(dd, series.NoSector)
		if got != want {
			t.Errorf("Apply() altered pre-window bands at %s: %+v", dd.Format("2006-01"), got)
		}
	}

	inWindow, _ := adjusted.At(date(2020, 4), series.NoSector)
	if inWindow.Total != 50e6 {
		t.Errorf("Apply() total inside window = %v, expected 50e6", inWindow.Total)
	}
}

func TestEngineApplySectorDeclines(t *testing.T) {
	baseline := forecast.NewWithSectors([]string{"Hotels", "Utilities"})
	for i := 0; i < 21; i++ {
		d := date(2020, 4).AddDate(0, i, 0)
		baseline.Set(d, "Hotels", forecast.Bands{Total: 100, Lower: 90, Upper: 110})
		baseline.Set(d, "Utilities", forecast.Bands{Total: 200, Lower: 180, Upper: 220})
	}
	w := pandemicWindow()

	strat, err := NewGroupOffsetSchedule(w, fiscal.Monthly,
		map[string]string{"Hotels": "impacted"},
		map[string][]float64{
			"impacted": rep(0.5, 21),
			"default":  rep(0.1, 21),
		})
	if err != nil {
		t.Fatalf("NewGroupOffsetSchedule() error = %v", err)
	}

	adjusted, err := NewEngine(nil).Apply(baseline, w, strat)
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}

	hotels, _ := adjusted.At(date(2020, 6), "Hotels")
	if hotels.Total != 50 {
		t.Errorf("Apply() Hotels total = %v, expected 50", hotels.Total)
	}
	utilities, _ := adjusted.At(date(2020, 6), "Utilities")
	if utilities.Total != 180 {
		t.Errorf("Apply() Utilities total = %v, expected 180", utilities.Total)
	}
}

func TestEngineApplyLevels(t *testing.T) {
	baseline := forecast.NewWithSectors([]string{"Leisure & Hospitality"})
	w := fiscal.Window{Start: date(2021, 1), Stop: date(2022, 4)}
	for i := 0; i < 6; i++ {
		d := date(2021, 1).AddDate(0, 3*i, 0)
		baseline.Set(d, "Leisure & Hospitality", forecast.Bands{
			Total: 100, Lower: 80, Upper: 120, Trend: 95, Seasonal: 5,
		})
	}

	levels, err := NewSectorLevelSchedule(w, fiscal.Quarterly, map[string][]float64{
		"Leisure & Hospitality": {50, 55, 60, 65, 70, 75},
	})
	if err != nil {
		t.Fatalf("NewSectorLevelSchedule() error = %v", err)
	}

	adjusted, err := NewEngine(nil).ApplyLevels(baseline, w, levels)
	if err != nil {
		t.Fatalf("ApplyLevels() error = %v", err)
	}

	got, _ := adjusted.At(date(2021, 4), "Leisure & Hospitality")
	if got.Total != 55 {
		t.Errorf("ApplyLevels() total = %v, expected the second quarter level 55", got.Total)
	}
	// Bounds keep their relative width: 80/100 and 120/100 of the level.
	if math.Abs(got.Lower-44) > 1e-9 || math.Abs(got.Upper-66) > 1e-9 {
		t.Errorf("ApplyLevels() bounds = [%v, %v], expected [44, 66]", got.Lower, got.Upper)
	}
	if got.Trend != 95 || got.Seasonal != 5 {
		t.Errorf("ApplyLevels() changed trend or seasonal: %+v", got)
	}
}

func TestEngineRunDispatch(t *testing.T) {
	baseline := flatBaseline(100)
	w := pandemicWindow()

	decline, err := Assumptions{Kind: KindOffsets, Declines: rep(0.5, 21)}.Build(w, fiscal.Monthly)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	adjusted, err := NewEngine(nil).Run(baseline, w, decline)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if got, _ := adjusted.At(date(2020, 4), series.NoSector); got.Total != 50 {
		t.Errorf("Run() declined total = %v, expected 50", got.Total)
	}

	if _, err := NewEngine(nil).Run(baseline, w, Strategy{}); err == nil {
		t.Errorf("Run() with an unbuilt strategy error = nil, expected error")
	}
}

func TestEngineApplyEmptyBaseline(t *testing.T) {
	w := pandemicWindow()
	strat, err := NewOffsetSchedule(w, fiscal.Monthly, rep(0.1, 21))
	if err != nil {
		t.Fatalf("NewOffsetSchedule() error = %v", err)
	}
	_, err = NewEngine(nil).Apply(forecast.New(), w, strat)
	var missErr *errs.MissingHistoryError
	if !errors.As(err, &missErr) {
		t.Errorf("Apply() error = %v, expected *errs.MissingHistoryError", err)
	}
}

func TestEngineApplyPropagatesStrategyErrors(t *testing.T) {
	baseline := forecast.NewWithSectors([]string{"Breweries"})
	for i := 0; i < 21; i++ {
		baseline.Set(date(2020, 4).AddDate(0, i, 0), "Breweries", forecast.Bands{Total: 10})
	}
	w := pandemicWindow()

	strat, err := NewSectorGroupRecovery(w, fiscal.Monthly,
		map[string]float64{"Restaurants": 0.5},
		nil,
		map[string]float64{DefaultGroup: 0.25},
		0)
	if err != nil {
		t.Fatalf("NewSectorGroupRecovery() error = %v", err)
	}

	_, err = NewEngine(nil).Apply(baseline, w, strat)
	var confErr *errs.ConfigurationError
	if !errors.As(err, &confErr) {
		t.Errorf("Apply() error = %v, expected the strategy's *errs.ConfigurationError", err)
	}
}
