package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/wonny/aqiguard/internal/api/handlers"
	"github.com/wonny/aqiguard/internal/contracts"
	"github.com/wonny/aqiguard/internal/forecast"
)

var (
	forecastArea  string
	forecastStart string
	forecastEnd   string
)

// forecastCmd represents the forecast command
var forecastCmd = &cobra.Command{
	Use:   "forecast",
	Short: "Print the 7-day P10/P50/P90 AQI forecast",
	Long: `Fit the quantile forecaster on stored history and print the next 7 days.

--start / --end bound the training window (inclusive). The forecast
starts the day after the last stored day inside the window.

Examples:
  go run ./cmd/aqiguard forecast --area 天河区
  go run ./cmd/aqiguard forecast --area 广州 --end 2024-05-31 --json`,
	RunE: runForecast,
}

func init() {
	rootCmd.AddCommand(forecastCmd)
	forecastCmd.Flags().StringVar(&forecastArea, "area", handlers.DefaultArea, "district name or city-wide alias")
	forecastCmd.Flags().StringVar(&forecastStart, "start", "", "training window start (YYYY-MM-DD)")
	forecastCmd.Flags().StringVar(&forecastEnd, "end", "", "training window end (YYYY-MM-DD)")
}

func runForecast(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	start, err := parseOptionalDate(forecastStart)
	if err != nil {
		return err
	}
	end, err := parseOptionalDate(forecastEnd)
	if err != nil {
		return err
	}

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	history, err := a.store.Read(ctx, forecastArea, start, end)
	if err != nil {
		return fmt.Errorf("read history: %w", err)
	}

	began := time.Now()
	result, err := a.forecaster.Forecast(ctx, forecast.Request{Area: forecastArea, History: history})
	a.metrics.RecordForecast(time.Since(began), err)
	if err != nil {
		return err
	}

	if jsonOut {
		return printJSON(result)
	}
	printForecast(result)
	return nil
}

func printForecast(result *contracts.ForecastResult) {
	PrintDoubleSeparator()
	fmt.Printf("  7-day AQI forecast : %s (as of %s)\n", result.Area, result.AsOf)
	PrintSeparator()
	widths := []int{12, 8, 8, 8, 10}
	PrintTableHeader([]string{"Date", "P10", "P50", "P90", "Level"}, widths)
	for _, p := range result.Forecast {
		PrintTableRow([]string{
			p.Date.String(),
			fmt.Sprintf("%.1f", p.AQIP10),
			fmt.Sprintf("%.1f", p.AQIP50),
			fmt.Sprintf("%.1f", p.AQIP90),
			p.Level,
		}, widths)
	}
	PrintSeparator()
	fmt.Printf("  train samples: %d, lags: %d\n", result.ModelInfo.TrainSamples, result.ModelInfo.Lags)
}

func parseOptionalDate(s string) (contracts.Date, error) {
	if s == "" {
		return contracts.Date{}, nil
	}
	return contracts.ParseDate(s)
}
