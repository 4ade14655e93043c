package commands

import (
	"github.com/spf13/cobra"
)

var (
	// Global flags
	env      string
	logLevel string
	jsonOut  bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "aqiguard",
	Short: "aqiguard - AQI forecast and self-check engine",
	Long: `aqiguard Unified CLI

Quantile AQI forecasts for Guangzhou districts, walk-forward
backtests of the forecaster, and consistency checks of the stored
observations against tianqi.2345.com.

Usage:
  go run ./cmd/aqiguard [command]

Examples:
  go run ./cmd/aqiguard api
  go run ./cmd/aqiguard forecast --area 天河区
  go run ./cmd/aqiguard backtest --area 广州 --days 30
  go run ./cmd/aqiguard consistency --sample 5
  go run ./cmd/aqiguard selfcheck --area 天河区
  go run ./cmd/aqiguard scheduler start`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&env, "env", "", "environment override (development|staging|production)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level override (debug|info|warn|error)")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "print reports as JSON")
}
