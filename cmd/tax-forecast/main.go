// tax-forecast fits seasonal baselines to municipal tax collections,
// applies pandemic scenario assumptions and writes the resulting revenue
// forecasts and comparisons.
package main

import "github.com/civicbudget/tax-forecast/internal/cli"

func main() {
	cli.Execute()
}
