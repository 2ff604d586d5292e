package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/civicbudget/tax-forecast/internal/scenario"
	"github.com/civicbudget/tax-forecast/pkg/fiscal"
)

const exampleConfigPath = "../../config.yaml.example"

func loadExample(t *testing.T) *Configuration {
	t.Helper()
	conf, err := LoadConfiguration(exampleConfigPath)
	if err != nil {
		t.Fatalf("LoadConfiguration(%s) error = %v", exampleConfigPath, err)
	}
	return conf
}

func scenarioByName(t *testing.T, conf *Configuration, name string) *Scenario {
	t.Helper()
	for i := range conf.Scenarios {
		if conf.Scenarios[i].Name == name {
			return &conf.Scenarios[i]
		}
	}
	t.Fatalf("scenario %q not found in the example config", name)
	return nil
}

func TestLoadExampleConfiguration(t *testing.T) {
	conf := loadExample(t)

	wantTaxes := []string{"wage", "sales", "rtt", "birt", "soda", "parking", "amusement", "npt"}
	if len(conf.Taxes) != len(wantTaxes) {
		t.Fatalf("len(Taxes) = %d, expected %d", len(conf.Taxes), len(wantTaxes))
	}
	for i, name := range wantTaxes {
		if conf.Taxes[i].Name != name {
			t.Errorf("Taxes[%d].Name = %q, expected %q", i, conf.Taxes[i].Name, name)
		}
	}

	if len(conf.Scenarios) != 4 {
		t.Fatalf("len(Scenarios) = %d, expected 4", len(conf.Scenarios))
	}
	if active := conf.ActiveScenarios(); len(active) != 2 ||
		active[0].Name != "moderate" || active[1].Name != "severe" {
		t.Errorf("ActiveScenarios() = %v, expected moderate and severe", active)
	}

	wage, _ := conf.TaxByName("wage")
	if !wage.ReapplySeasonality {
		t.Errorf("wage ReapplySeasonality = false, expected true")
	}
	if wage.RateBlend["rate_resident"] != 0.6 || wage.RateBlend["rate_nonresident"] != 0.4 {
		t.Errorf("wage rate blend = %v, expected the resident/nonresident split", wage.RateBlend)
	}
	if wage.Calibration == nil || wage.Calibration.AnchorTotal != 2195818000 {
		t.Fatalf("wage calibration = %+v, expected the FY2020 adopted total", wage.Calibration)
	}
	if wage.Calibration.GrowthRates[2021] != 4.5 || wage.Calibration.GrowthRates[2025] != 4.0 {
		t.Errorf("wage growth rates = %v, expected the five-year plan percentages", wage.Calibration.GrowthRates)
	}
	if len(wage.Crosswalk) != 0 {
		t.Errorf("wage crosswalk = %v, expected none in the shipped config", wage.Crosswalk)
	}

	sales, _ := conf.TaxByName("sales")
	if !sales.SectorsByMonth {
		t.Errorf("sales SectorsByMonth = false, expected true")
	}
	if sales.Deduction == nil || sales.Deduction.Annual != 120000000 || sales.Deduction.StartFiscalYear != 2015 {
		t.Errorf("sales deduction = %+v, expected 120000000 a year from FY2015", sales.Deduction)
	}
	if sales.Calibration != nil {
		t.Errorf("sales calibration = %+v, expected none", sales.Calibration)
	}

	rtt, _ := conf.TaxByName("rtt")
	if rtt.Calibration == nil || rtt.Calibration.GrowthRates[2025] != -4.59 {
		t.Errorf("rtt calibration = %+v, expected the FY2025 decline", rtt.Calibration)
	}

	birt, _ := conf.TaxByName("birt")
	if !birt.IgnoreSectors {
		t.Errorf("birt IgnoreSectors = false, expected true")
	}
	if len(birt.Accruals) != 1 || birt.Accruals[0].Amount != 261024311 {
		t.Errorf("birt accruals = %+v, expected the July-to-April shift", birt.Accruals)
	}
	if birt.RateBlend["rate_net_income"] != 0.75 || birt.RateBlend["rate_gross_receipts"] != 0.25 {
		t.Errorf("birt rate blend = %v, expected the net-income/gross-receipts split", birt.RateBlend)
	}

	amusement, _ := conf.TaxByName("amusement")
	if amusement.Calibration == nil || amusement.Calibration.AnchorTotal != 25490000 {
		t.Fatalf("amusement calibration = %+v, expected the anchor-only block", amusement.Calibration)
	}
	if len(amusement.Calibration.GrowthRates) != 0 {
		t.Errorf("amusement growth rates = %v, expected none", amusement.Calibration.GrowthRates)
	}

	npt, _ := conf.TaxByName("npt")
	if len(npt.Accruals) != 1 || npt.Accruals[0].Amount != 10737282 {
		t.Errorf("npt accruals = %+v, expected the July-to-April shift", npt.Accruals)
	}
}

func TestExampleConfigurationValidatesClean(t *testing.T) {
	conf := loadExample(t)
	if warnings := conf.ValidateConfiguration(); len(warnings) != 0 {
		t.Errorf("ValidateConfiguration() = %v, expected no warnings", warnings)
	}
}

func TestExampleConfigurationParseDates(t *testing.T) {
	conf := loadExample(t)
	if err := conf.ParseDates(); err != nil {
		t.Fatalf("ParseDates() error = %v", err)
	}

	soda, _ := conf.TaxByName("soda")
	if !soda.StartDate.Equal(time.Date(2017, time.January, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("soda StartDate = %v, expected 2017-01", soda.StartDate)
	}

	wage, _ := conf.TaxByName("wage")
	if !wage.CutoffDate.Equal(time.Date(2020, time.March, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("wage CutoffDate = %v, expected 2020-03", wage.CutoffDate)
	}
	if got := conf.DataPath(wage.Collections); got != filepath.Join("data", "collections/wage.csv") {
		t.Errorf("DataPath(wage) = %q, expected it under the data dir", got)
	}

	// Every decline schedule must line up with the scenario window.
	moderate := scenarioByName(t, conf, "moderate")
	for _, a := range moderate.Assumptions {
		periods := a.Window.Periods(fiscal.Monthly)
		if periods != 21 {
			t.Errorf("assumption %s window = %d periods, expected 21", a.Tax, periods)
		}
		if a.Kind == scenario.KindOffsets && len(a.Declines) != periods {
			t.Errorf("assumption %s has %d declines for %d periods", a.Tax, len(a.Declines), periods)
		}
	}
}

// The severe scenario must never be gentler than the moderate one, in
// either the April tables or the June revision.
func TestExampleSevereAtLeastModerate(t *testing.T) {
	conf := loadExample(t)

	pairs := []struct{ mild, harsh string }{
		{"moderate", "severe"},
		{"moderate-revised", "severe-revised"},
	}
	for _, pair := range pairs {
		t.Run(pair.harsh, func(t *testing.T) {
			mild := scenarioByName(t, conf, pair.mild)
			harsh := scenarioByName(t, conf, pair.harsh)
			for _, ma := range mild.Assumptions {
				ha, ok := harsh.AssumptionFor(ma.Tax)
				if !ok {
					t.Errorf("%s has no %s assumption", pair.harsh, ma.Tax)
					continue
				}
				switch ma.Kind {
				case scenario.KindOffsets:
					if len(ha.Declines) != len(ma.Declines) {
						t.Fatalf("%s %s has %d declines, %s has %d",
							pair.harsh, ma.Tax, len(ha.Declines), pair.mild, len(ma.Declines))
					}
					for i := range ma.Declines {
						if ha.Declines[i] < ma.Declines[i] {
							t.Errorf("%s decline %d: %s %v < %s %v",
								ma.Tax, i, pair.harsh, ha.Declines[i], pair.mild, ma.Declines[i])
						}
					}
				case scenario.KindGroupOffsets:
					for group, declines := range ma.GroupDeclines {
						harshDeclines := ha.GroupDeclines[group]
						if len(harshDeclines) != len(declines) {
							t.Fatalf("%s group %s has %d declines, expected %d",
								pair.harsh, group, len(harshDeclines), len(declines))
						}
						for i := range declines {
							if harshDeclines[i] < declines[i] {
								t.Errorf("%s group %s decline %d: %v < %v",
									ma.Tax, group, i, harshDeclines[i], declines[i])
							}
						}
					}
				case scenario.KindFiscalYears:
					for fy, decline := range ma.FiscalYearDeclines {
						if ha.FiscalYearDeclines[fy] < decline {
							t.Errorf("%s FY%d: %s %v < %s %v",
								ma.Tax, fy, pair.harsh, ha.FiscalYearDeclines[fy], pair.mild, decline)
						}
					}
				case scenario.KindSectorRecovery:
					if ha.Plateau < ma.Plateau {
						t.Errorf("%s plateau: %s %d < %s %d",
							ma.Tax, pair.harsh, ha.Plateau, pair.mild, ma.Plateau)
					}
					for sector, drop := range ma.Drops {
						if ha.Drops[sector] < drop {
							t.Errorf("%s drop for %s: %s %v < %s %v",
								ma.Tax, sector, pair.harsh, ha.Drops[sector], pair.mild, drop)
						}
					}
					for group, rate := range ma.RecoveryRates {
						if ha.RecoveryRates[group] > rate {
							t.Errorf("%s recovery for %s: %s %v > %s %v",
								ma.Tax, group, pair.harsh, ha.RecoveryRates[group], pair.mild, rate)
						}
					}
				default:
					t.Errorf("%s has unexpected kind %q", ma.Tax, ma.Kind)
				}
			}
		})
	}
}
