package cli

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var compareCmd = &cobra.Command{
	Use:   "compare",
	Short: "Rebuild the scenario comparison outputs",
	Long:  "Re-run every active scenario against the cached baseline fits and rebuild the comparison workbook and stdout reports, without rewriting the per-tax tables.",
	RunE:  runCompare,
}

func init() {
	rootCmd.AddCommand(compareCmd)
}

func runCompare(cmd *cobra.Command, args []string) error {
	conf, logger, err := setup()
	if err != nil {
		return err
	}
	defer logger.Sync()

	format, err := outputFormat(conf)
	if err != nil {
		return err
	}

	scenarios, err := forecastScenarios(conf, logger, false)
	if err != nil {
		logger.Error("comparison rebuild failed",
			zap.String("op", "cli.runCompare"),
			zap.Error(err),
		)
		return err
	}

	return writeComparison(conf, logger, scenarios, format)
}
