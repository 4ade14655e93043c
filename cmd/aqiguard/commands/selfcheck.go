package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/wonny/aqiguard/internal/api/handlers"
	"github.com/wonny/aqiguard/internal/contracts"
)

var (
	selfCheckArea        string
	selfCheckAcceptance  bool
	selfCheckVacuousPass bool
)

// selfCheckCmd represents the selfcheck command
var selfCheckCmd = &cobra.Command{
	Use:   "selfcheck",
	Short: "Run backtest and consistency check as one gate",
	Long: `Run the walk-forward backtest and the web consistency check
concurrently. The gate is ok only when both pass. Exit code is 1 when
the gate fails.

--acceptance switches to the system-level bounds (30 days, MAPE <= 0.7)
used by the daily scheduled run.

Examples:
  go run ./cmd/aqiguard selfcheck
  go run ./cmd/aqiguard selfcheck --area 天河区 --acceptance`,
	RunE: runSelfCheck,
}

func init() {
	rootCmd.AddCommand(selfCheckCmd)
	selfCheckCmd.Flags().StringVar(&selfCheckArea, "area", handlers.DefaultArea, "district name or city-wide alias")
	selfCheckCmd.Flags().BoolVar(&selfCheckAcceptance, "acceptance", false, "use the acceptance bounds")
	selfCheckCmd.Flags().BoolVar(&selfCheckVacuousPass, "vacuous-pass", false, "pass the web check when no lookup was valid")
}

func runSelfCheck(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Minute)
	defer cancel()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	config := handlers.DefaultQualityDefaults(a.cfg).SelfCheck
	config.Area = selfCheckArea
	config.VacuousPass = selfCheckVacuousPass
	if selfCheckAcceptance {
		config.BacktestDays = a.cfg.Acceptance.BacktestDays
		config.Threshold = a.cfg.Acceptance.MAPEThreshold
		config.WebErrorLimit = a.cfg.Acceptance.WebErrorLimit
	}

	report, err := a.orchestrator.Run(ctx, config)
	if err != nil {
		return err
	}

	if jsonOut {
		if err := printJSON(report); err != nil {
			return err
		}
	} else {
		printSelfCheck(report)
	}

	if !report.OK {
		return fmt.Errorf("self-check failed for %s", report.Area)
	}
	return nil
}

func printSelfCheck(report *contracts.SelfCheckReport) {
	PrintDoubleSeparator()
	fmt.Printf("  Self-check : %s\n", report.Area)
	PrintKeyValue("Run ID", report.RunID, 16)
	PrintSeparator()

	if eval := report.ForecastEval; eval != nil {
		PrintKeyValue("Forecast MAPE", formatOptionalPercent(eval.MAPE), 16)
		PrintKeyValue("Threshold", formatPercent(eval.Threshold), 16)
		PrintKeyValue("Points", fmt.Sprintf("%d", len(eval.Points)), 16)
		PrintKeyValue("Forecast pass", fmt.Sprintf("%t", eval.Pass), 16)
	} else {
		PrintKeyValue("Forecast eval", "not run", 16)
	}
	PrintSeparator()

	if web := report.WebConsistency; web != nil {
		PrintKeyValue("Web error rate", formatPercent(web.ErrorRate), 16)
		PrintKeyValue("Limit", formatPercent(web.Limit), 16)
		PrintKeyValue("Valid/sampled", fmt.Sprintf("%d/%d", web.Valid, web.SampleSize), 16)
		PrintKeyValue("Web status", string(web.Status), 16)
	} else {
		PrintKeyValue("Web consistency", "not run", 16)
	}

	if report.Error != "" {
		PrintWarning(report.Error)
	}
	printVerdict(report.OK, "self-check")
}
