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
	consistencyArea        string
	consistencySample      int
	consistencyRecentDays  int
	consistencyLimit       float64
	consistencyVacuousPass bool
)

// consistencyCmd represents the consistency command
var consistencyCmd = &cobra.Command{
	Use:   "consistency",
	Short: "Check stored records against tianqi.2345.com",
	Long: `Draw random stored records and compare AQI and temperatures with
the authoritative history pages. Unavailable lookups are replaced by
further draws up to three times the sample size.

Examples:
  go run ./cmd/aqiguard consistency
  go run ./cmd/aqiguard consistency --area 天河区 --sample 10 --recent-days 0`,
	RunE: runConsistency,
}

func init() {
	rootCmd.AddCommand(consistencyCmd)
	consistencyCmd.Flags().StringVar(&consistencyArea, "area", "", "district name; empty samples every district")
	consistencyCmd.Flags().IntVar(&consistencySample, "sample", 0, "records to validate (default 5)")
	consistencyCmd.Flags().IntVar(&consistencyRecentDays, "recent-days", -1, "sampling window in days, 0 for all records (default 7)")
	consistencyCmd.Flags().Float64Var(&consistencyLimit, "limit", -1, "error rate limit (default 0.05)")
	consistencyCmd.Flags().BoolVar(&consistencyVacuousPass, "vacuous-pass", false, "pass when no lookup was valid")
}

func runConsistency(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	config := handlers.DefaultQualityDefaults(a.cfg).Consistency
	config.Area = consistencyArea
	config.VacuousPass = consistencyVacuousPass
	if consistencySample > 0 {
		config.SampleSize = consistencySample
	}
	if consistencyRecentDays >= 0 {
		config.RecentDays = consistencyRecentDays
	}
	if consistencyLimit >= 0 {
		config.Limit = consistencyLimit
	}

	report, err := a.checker.Check(ctx, config)
	if err != nil {
		return err
	}

	if jsonOut {
		return printJSON(report)
	}
	printConsistency(report)
	return nil
}

func printConsistency(report *contracts.ConsistencyReport) {
	PrintDoubleSeparator()
	fmt.Println("  Web consistency check")
	PrintSeparator()
	widths := []int{10, 12, 12, 12, 12, 6}
	PrintTableHeader([]string{"Area", "Date", "AQI db/web", "Max db/web", "Min db/web", "OK"}, widths)
	for _, item := range report.Items {
		ok := "-"
		if item.Valid {
			ok = "yes"
			if !item.OK {
				ok = "NO"
			}
		}
		PrintTableRow([]string{
			item.Area,
			item.Date.String(),
			pair(item.DBAQI, item.WebAQI),
			pair(item.DBMaxTemp, item.WebMaxTemp),
			pair(item.DBMinTemp, item.WebMinTemp),
			ok,
		}, widths)
		if !item.Valid && item.Reason != "" {
			fmt.Printf("    ↳ %s\n", item.Reason)
		}
	}
	PrintSeparator()
	PrintKeyValue("Sampled", fmt.Sprintf("%d", report.SampleSize), 10)
	PrintKeyValue("Evaluated", fmt.Sprintf("%d", report.Evaluated), 10)
	PrintKeyValue("Valid", fmt.Sprintf("%d", report.Valid), 10)
	PrintKeyValue("Failed", fmt.Sprintf("%d", report.FailCount), 10)
	PrintKeyValue("Error rate", formatPercent(report.ErrorRate), 10)
	PrintKeyValue("Limit", formatPercent(report.Limit), 10)
	PrintKeyValue("Status", string(report.Status), 10)
	printVerdict(report.Pass, "consistency")
}

func pair(db float64, web *float64) string {
	if web == nil {
		return fmt.Sprintf("%.0f/-", db)
	}
	return fmt.Sprintf("%.0f/%.0f", db, *web)
}
