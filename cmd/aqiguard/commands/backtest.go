package commands

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/spf13/cobra"

	"github.com/wonny/aqiguard/internal/api/handlers"
	"github.com/wonny/aqiguard/internal/backtest"
	"github.com/wonny/aqiguard/internal/contracts"
)

var (
	backtestArea      string
	backtestDays      int
	backtestThreshold float64
)

// backtestCmd represents the backtest command
var backtestCmd = &cobra.Command{
	Use:   "backtest",
	Short: "Run the walk-forward forecast backtest",
	Long: `Replay one-day-ahead P50 predictions over the last N stored days
and report MAPE against the realized AQI.

Defaults come from the acceptance bounds (ACCEPTANCE_BACKTEST_DAYS,
ACCEPTANCE_MAPE_THRESHOLD).

Examples:
  go run ./cmd/aqiguard backtest
  go run ./cmd/aqiguard backtest --area 海珠区 --days 14 --threshold 0.3`,
	RunE: runBacktest,
}

func init() {
	rootCmd.AddCommand(backtestCmd)
	backtestCmd.Flags().StringVar(&backtestArea, "area", handlers.DefaultArea, "district name or city-wide alias")
	backtestCmd.Flags().IntVar(&backtestDays, "days", 0, "evaluation window in days (default from config)")
	backtestCmd.Flags().Float64Var(&backtestThreshold, "threshold", 0, "MAPE pass threshold (default from config)")
}

func runBacktest(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	config := backtest.Config{
		Area:      backtestArea,
		Days:      a.cfg.Acceptance.BacktestDays,
		Threshold: a.cfg.Acceptance.MAPEThreshold,
	}
	if backtestDays > 0 {
		config.Days = backtestDays
	}
	if backtestThreshold > 0 {
		config.Threshold = backtestThreshold
	}

	history, err := a.store.Read(ctx, backtestArea, contracts.Date{}, contracts.Date{})
	if err != nil {
		return fmt.Errorf("read history: %w", err)
	}

	report, err := a.engine.Run(ctx, config, history)
	if err != nil {
		return err
	}
	a.metrics.RecordBacktest(backtestArea, report.MAPE, report.Pass)

	if jsonOut {
		return printJSON(report)
	}
	printBacktest(report)
	return nil
}

func printBacktest(report *contracts.ForecastEval) {
	PrintDoubleSeparator()
	fmt.Printf("  Walk-forward backtest : %s, last %d days\n", report.Area, report.BacktestDays)
	PrintSeparator()
	widths := []int{12, 8, 8, 8}
	PrintTableHeader([]string{"Date", "Real", "Pred", "APE"}, widths)
	for _, p := range report.Points {
		ape := "-"
		if p.Real != 0 {
			ape = formatPercent(math.Abs(p.Pred-p.Real) / math.Abs(p.Real))
		}
		PrintTableRow([]string{
			p.Date.String(),
			fmt.Sprintf("%.1f", p.Real),
			fmt.Sprintf("%.1f", p.Pred),
			ape,
		}, widths)
	}
	PrintSeparator()
	PrintKeyValue("MAPE", formatOptionalPercent(report.MAPE), 10)
	PrintKeyValue("Threshold", formatPercent(report.Threshold), 10)
	PrintKeyValue("Excluded", fmt.Sprintf("%d", report.Excluded), 10)
	PrintKeyValue("Skipped", fmt.Sprintf("%d", report.Skipped), 10)
	printVerdict(report.Pass, "backtest")
}
