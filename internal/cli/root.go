// Package cli wires the forecast pipeline into cobra commands: run (the
// full tax-by-scenario forecast), baseline (one tax's fit and quality
// metrics) and compare (rebuild the comparison outputs from cached fits).
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/civicbudget/tax-forecast/internal/config"
	"github.com/civicbudget/tax-forecast/pkg/constants"
	"github.com/civicbudget/tax-forecast/pkg/errs"
)

var (
	flagConfig       string
	flagLogLevel     string
	flagOutputFormat string
	flagFresh        bool
	flagClean        bool
)

var rootCmd = &cobra.Command{
	Use:           "tax-forecast",
	Short:         "Municipal tax revenue forecasts under pandemic scenarios",
	Long:          "Fit seasonal baselines to tax collections, apply scenario decline and recovery assumptions, and compare the resulting revenue paths.",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runRun,
}

// Execute is the main entry point called from main.go.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", constants.DefaultConfigFile, "path to configuration file")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "log level override (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&flagOutputFormat, "output-format", "", "stdout summary format override (pretty, csv)")
	rootCmd.PersistentFlags().BoolVar(&flagFresh, "fresh", false, "refit baselines even when a cached fit exists")
	rootCmd.PersistentFlags().BoolVar(&flagClean, "clean", false, "remove cached fits before running")
}

// setup is the shared startup path: load and validate the configuration,
// build the logger, and parse every configured date.
func setup() (*config.Configuration, *zap.Logger, error) {
	conf, err := config.LoadConfiguration(flagConfig)
	if err != nil {
		return nil, nil, err
	}

	logger, err := initializeLogger(conf.Logging, flagLogLevel)
	if err != nil {
		return nil, nil, err
	}

	for _, warning := range conf.ValidateConfiguration() {
		logger.Warn("Configuration warning: "+warning,
			zap.String("op", "cli.setup"),
		)
	}

	if err := conf.ParseDates(); err != nil {
		logger.Error("failed to parse configured dates",
			zap.String("op", "cli.setup"),
			zap.Error(err),
		)
		return nil, nil, err
	}

	return conf, logger, nil
}

// outputFormat resolves the stdout summary format: the CLI flag wins over
// the config, and the default is the pretty table.
func outputFormat(conf *config.Configuration) (string, error) {
	format := conf.Output.Format
	if flagOutputFormat != "" {
		format = flagOutputFormat
	}
	if format == "" {
		format = constants.OutputFormatPretty
	}
	switch format {
	case constants.OutputFormatPretty, constants.OutputFormatCSV:
		return format, nil
	}
	return "", errs.NewConfigurationError("output format", format,
		constants.OutputFormatPretty, constants.OutputFormatCSV)
}
