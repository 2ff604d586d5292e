// Package constants provides shared constants for the tax-forecast application.
package constants

// DateTimeLayout is the period format expected in config files and is also the
// output date format. Periods are month-start aligned (quarter starts are
// month starts too).
const DateTimeLayout = "2006-01"

// Fiscal calendar constants
const (
	// MonthsPerYear is the number of months in a year
	MonthsPerYear = 12

	// MonthsPerQuarter is the number of months in a quarter
	MonthsPerQuarter = 3

	// FiscalYearStartMonth is the calendar month a fiscal year begins (July)
	FiscalYearStartMonth = 7
)

// Model fitting defaults
const (
	// DefaultFourierOrder is the default order of the yearly seasonal cycle
	DefaultFourierOrder = 10

	// DefaultChangepointCap is the maximum number of trend changepoints
	DefaultChangepointCap = 25

	// DefaultChangepointFraction scales the changepoint count with the
	// number of observations before the cap applies
	DefaultChangepointFraction = 0.7

	// DefaultIntervalWidth is the default credible interval width
	DefaultIntervalWidth = 0.80

	// DefaultChangepointPenalty is the default ridge penalty applied to
	// trend slope changes
	DefaultChangepointPenalty = 10.0
)

// Output format constants
const (
	// OutputFormatPretty is the human-readable output format
	OutputFormatPretty = "pretty"

	// OutputFormatCSV is the CSV output format
	OutputFormatCSV = "csv"
)

// Configuration file constants
const (
	// DefaultConfigFile is the default configuration file name
	DefaultConfigFile = "config.yaml"

	// ExampleConfigFile is the example configuration file name
	ExampleConfigFile = "config.yaml.example"
)

// Default directory layout
const (
	// DefaultCacheDir is where fitted baselines are cached
	DefaultCacheDir = "cache"

	// DefaultOutputDir is where forecast tables and reports are written
	DefaultOutputDir = "output"
)

// Validation constants
const (
	// RelativeTolerance is the relative tolerance for round-trip and
	// conservation checks
	RelativeTolerance = 1e-9
)
