// Command ophir is the backtest lab CLI: a single pinned backtest (run), the
// two-phase grid search (optimize), and the results server (serve).
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	flagSpec   string
	flagReload bool
)

func main() {
	root := &cobra.Command{
		Use:           "ophir",
		Short:         "Signal-driven long/short backtesting lab",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&flagSpec, "spec", "s", "run.yaml", "run definition YAML")
	root.PersistentFlags().BoolVar(&flagReload, "reload", false, "bypass the table cache and reload from sqlite")

	root.AddCommand(newRunCmd(), newOptimizeCmd(), newServeCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
