// Package config defines the data structures related to configuration and
// includes functions for loading and parsing the config.
package config

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	"github.com/civicbudget/tax-forecast/pkg/constants"
	"github.com/civicbudget/tax-forecast/pkg/errs"
	"github.com/civicbudget/tax-forecast/pkg/fiscal"
)

// DateTimeLayout is the period format expected in config files and is also
// the output date format.
const DateTimeLayout = constants.DateTimeLayout

// Configuration holds all configuration for tax-forecast.
type Configuration struct {
	Common    Common
	Taxes     []Tax
	Scenarios []Scenario
	Logging   LoggingConfig `yaml:"logging,omitempty"`
	Output    OutputConfig  `yaml:"output,omitempty"`
}

// LoggingConfig holds logging configuration options
type LoggingConfig struct {
	Level      string `yaml:"level,omitempty"`      // debug, info, warn, error
	Format     string `yaml:"format,omitempty"`     // json, console
	OutputFile string `yaml:"outputFile,omitempty"` // optional file output
}

// OutputConfig holds output format configuration options
type OutputConfig struct {
	Format string `yaml:"format,omitempty"` // pretty, csv
}

// Common holds the directories and date windows shared by all taxes.
// Every window can be overridden per tax; the scenario window can be
// overridden per assumption.
type Common struct {
	DataDir   string
	OutputDir string
	CacheDir  string

	FitStart      string
	FitStop       string
	ForecastStop  string
	ScenarioStart string
	ScenarioStop  string

	// Parsed forms, filled by ParseDates.
	FitWindow        fiscal.Window
	ScenarioWindow   fiscal.Window
	ForecastStopDate time.Time
}

// Tax describes one tax type: where its collections live, how revenue
// converts to tax base, and how the baseline is fitted and calibrated.
type Tax struct {
	Name        string
	Frequency   string // monthly or quarterly, defaults to monthly
	Collections string // monthly collections CSV, relative to dataDir
	Start       string // drop collections before this month

	Sectors        string // sector collection history CSV, enables disaggregation
	SectorsByMonth bool   // sector history carries per-month rows
	IgnoreSectors  bool   // keep the aggregate even when sector history exists
	UseSubsectors  bool   // fit shares at the subsector level

	Rates     string             // statutory rate CSV, empty means revenue == tax base
	RateBlend map[string]float64 // rate column -> weight for blended rates

	Accruals  []AccrualShift
	Deduction *Deduction

	Crosswalk         map[string][]string // group label -> member sectors
	CrosswalkAfterFit bool

	ReapplySeasonality bool
	SeasonalityCutoff  string // last month of actuals trusted for trend factors

	FitStart     string // override Common
	FitStop      string // override Common
	ForecastStop string // override Common

	Seasonality    Seasonality
	Calibration    *Calibration
	ExtraFitParams map[string]string // joins the fit cache key

	// Parsed forms, filled by ParseDates.
	Freq             fiscal.Freq
	StartDate        time.Time
	FitWindow        fiscal.Window
	ForecastStopDate time.Time
	CutoffDate       time.Time
}

// AccrualShift moves a fixed amount between two months of the loaded
// collections, correcting revenue accrued to the wrong period.
type AccrualShift struct {
	Amount float64
	From   string
	To     string

	// Parsed forms, filled by ParseDates.
	FromDate time.Time
	ToDate   time.Time
}

// Deduction subtracts a recurring annual amount from the collections
// starting at a fiscal year, for shares passed through to other bodies.
type Deduction struct {
	Annual          float64
	StartFiscalYear int
}

// Seasonality holds per-tax fitting options; zero values fall back to the
// model defaults.
type Seasonality struct {
	Mode               string // additive or multiplicative
	FourierOrder       int
	MaxChangepoints    int
	ChangepointPenalty float64
	IntervalWidth      float64
}

// Calibration pins the fitted baseline to adopted budget figures: the
// anchor fiscal year's known total plus optional growth rates for later
// fiscal years from the five-year plan.
type Calibration struct {
	AnchorYear  int
	AnchorTotal float64
	GrowthRates map[int]float64 // percent, e.g. 4.5 for 4.5% growth
}

// Scenario holds the per-tax assumption tables for one named scenario.
type Scenario struct {
	Name        string
	Active      bool
	Assumptions []Assumption
}

// Assumption is one tax's decline strategy within a scenario. Kind selects
// the strategy variant and only that variant's fields need to be set.
// Revision names the vintage of the table so later revisions of the same
// scenario stay distinguishable.
type Assumption struct {
	Tax      string
	Kind     string // offsets, group-offsets, fiscal-years, sector-recovery, sector-levels
	Revision string

	Declines           []float64
	GroupDeclines      map[string][]float64
	FiscalYearDeclines map[int]float64
	Drops              map[string]float64
	RecoveryRates      map[string]float64
	Plateau            int
	Levels             map[string][]float64
	Groups             map[string]string // sector -> group label, "default" fallback

	Start string // override the common scenario window
	Stop  string

	// Parsed form, filled by ParseDates.
	Window fiscal.Window
}

// LoadConfiguration takes a file path as input and loads the YAML-formatted
// configuration there.
func LoadConfiguration(configPath string) (*Configuration, error) {
	viper.SetConfigFile(configPath)
	viper.AutomaticEnv()

	viper.SetConfigType("yml")

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file, %s", err)
	}

	var configuration Configuration
	err := viper.Unmarshal(&configuration)
	if err != nil {
		return nil, fmt.Errorf("unable to decode into struct, %s", err)
	}

	return &configuration, nil
}

// DataPath resolves a data file reference against the configured data
// directory. Absolute paths pass through untouched.
func (conf *Configuration) DataPath(name string) string {
	if name == "" || filepath.IsAbs(name) || conf.Common.DataDir == "" {
		return name
	}
	return filepath.Join(conf.Common.DataDir, name)
}

// OutputDir returns the configured output directory or the default.
func (conf *Configuration) OutputDir() string {
	if conf.Common.OutputDir != "" {
		return conf.Common.OutputDir
	}
	return constants.DefaultOutputDir
}

// CacheDir returns the configured fit cache directory or the default.
func (conf *Configuration) CacheDir() string {
	if conf.Common.CacheDir != "" {
		return conf.Common.CacheDir
	}
	return constants.DefaultCacheDir
}

// ParseDates parses every date string in the configuration into its
// time.Time form and derives the per-tax and per-assumption windows,
// applying the Common values wherever a tax or assumption does not
// override them.
func (conf *Configuration) ParseDates() error {
	var err error
	conf.Common.ForecastStopDate, err = parseMonth("forecastStop", conf.Common.ForecastStop)
	if err != nil {
		return err
	}
	conf.Common.FitWindow, err = parseWindow("fit window", conf.Common.FitStart, conf.Common.FitStop, fiscal.Window{}, false)
	if err != nil {
		return err
	}
	conf.Common.ScenarioWindow, err = parseWindow("scenario window", conf.Common.ScenarioStart, conf.Common.ScenarioStop, fiscal.Window{}, false)
	if err != nil {
		return err
	}

	for i := range conf.Taxes {
		if err := conf.Taxes[i].formWindows(conf.Common); err != nil {
			return err
		}
	}

	for i, scenario := range conf.Scenarios {
		for j := range scenario.Assumptions {
			err := conf.Scenarios[i].Assumptions[j].formWindow(scenario.Name, conf.Common)
			if err != nil {
				return err
			}
		}
	}

	return nil
}

// formWindows parses the tax's own date strings and fills the parsed
// fields, falling back to the Common windows where the tax does not
// override them.
func (tax *Tax) formWindows(common Common) error {
	var err error
	tax.Freq, err = parseFrequency(tax.Frequency)
	if err != nil {
		return fmt.Errorf("tax %q: %w", tax.Name, err)
	}

	tax.StartDate, err = parseMonth("start", tax.Start)
	if err != nil {
		return fmt.Errorf("tax %q: %w", tax.Name, err)
	}

	tax.FitWindow, err = parseWindow("fit window", tax.FitStart, tax.FitStop, common.FitWindow, true)
	if err != nil {
		return fmt.Errorf("tax %q: %w", tax.Name, err)
	}

	stop, err := parseMonth("forecastStop", tax.ForecastStop)
	if err != nil {
		return fmt.Errorf("tax %q: %w", tax.Name, err)
	}
	if stop.IsZero() {
		stop = common.ForecastStopDate
	}
	if stop.IsZero() {
		return errs.NewConfigurationError(fmt.Sprintf("forecastStop for tax %q", tax.Name), "")
	}
	tax.ForecastStopDate = stop

	cutoff, err := parseMonth("seasonalityCutoff", tax.SeasonalityCutoff)
	if err != nil {
		return fmt.Errorf("tax %q: %w", tax.Name, err)
	}
	if cutoff.IsZero() {
		// The trusted actuals end where the fit window ends.
		cutoff = tax.FitWindow.Stop
	}
	tax.CutoffDate = cutoff

	for i := range tax.Accruals {
		if err := tax.Accruals[i].formDates(tax.Name); err != nil {
			return err
		}
	}

	return nil
}

// formDates parses the accrual shift's month references.
func (shift *AccrualShift) formDates(tax string) error {
	var err error
	shift.FromDate, err = parseMonth("accrual from", shift.From)
	if err != nil {
		return fmt.Errorf("tax %q: %w", tax, err)
	}
	shift.ToDate, err = parseMonth("accrual to", shift.To)
	if err != nil {
		return fmt.Errorf("tax %q: %w", tax, err)
	}
	if shift.FromDate.IsZero() || shift.ToDate.IsZero() {
		return errs.NewConfigurationError(
			fmt.Sprintf("accrual shift for tax %q", tax),
			fmt.Sprintf("from %q to %q", shift.From, shift.To))
	}
	return nil
}

// formWindow parses the assumption's window, falling back to the common
// scenario window when the assumption does not carry its own.
func (a *Assumption) formWindow(scenarioName string, common Common) error {
	w, err := parseWindow("scenario window", a.Start, a.Stop, common.ScenarioWindow, true)
	if err != nil {
		return fmt.Errorf("scenario %q tax %q: %w", scenarioName, a.Tax, err)
	}
	if w.Start.IsZero() || w.Stop.IsZero() {
		return errs.NewConfigurationError(
			fmt.Sprintf("scenario window for scenario %q tax %q", scenarioName, a.Tax),
			fmt.Sprintf("start %q stop %q", a.Start, a.Stop))
	}
	a.Window = w
	return nil
}

// parseMonth parses one yyyy-mm reference; empty input stays the zero time.
func parseMonth(setting, value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(DateTimeLayout, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse %s %q: %w", setting, value, err)
	}
	return t, nil
}

// parseWindow parses a start/stop pair into a window. Either bound falls
// back to the given default window's bound when empty; required windows
// with a missing bound, and windows that end before they start, are
// configuration errors.
func parseWindow(setting, start, stop string, def fiscal.Window, required bool) (fiscal.Window, error) {
	w := def
	var err error
	if start != "" {
		w.Start, err = parseMonth(setting+" start", start)
		if err != nil {
			return fiscal.Window{}, err
		}
	}
	if stop != "" {
		w.Stop, err = parseMonth(setting+" stop", stop)
		if err != nil {
			return fiscal.Window{}, err
		}
	}
	if w.Start.IsZero() && w.Stop.IsZero() && !required {
		return w, nil
	}
	if w.Start.IsZero() || w.Stop.IsZero() {
		return fiscal.Window{}, errs.NewConfigurationError(setting, fmt.Sprintf("start %q stop %q", start, stop))
	}
	if w.Stop.Before(w.Start) {
		return fiscal.Window{}, errs.NewConfigurationError(setting, w.String())
	}
	return w, nil
}

// parseFrequency maps the configured frequency onto fiscal.Freq, with
// monthly as the default.
func parseFrequency(value string) (fiscal.Freq, error) {
	if value == "" {
		return fiscal.Monthly, nil
	}
	return fiscal.ParseFreq(value)
}
