package commands

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/wonny/aqiguard/internal/contracts"
	"github.com/wonny/aqiguard/internal/external/tianqi"
)

// dbCmd groups database maintenance commands
var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Database maintenance",
	Long: `Database maintenance commands.

Examples:
  go run ./cmd/aqiguard db check
  go run ./cmd/aqiguard db migrate
  go run ./cmd/aqiguard db import --month 2024-05 --area 天河区`,
}

var dbCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Check database connectivity and pool statistics",
	RunE:  runDBCheck,
}

var dbMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the weather_data table if missing",
	RunE:  runDBMigrate,
}

var (
	importMonth string
	importAreas []string
)

var dbImportCmd = &cobra.Command{
	Use:   "import",
	Short: "Import one month of history pages into the store",
	Long: `Fetch the tianqi.2345.com month page of each district and upsert
its complete rows. Rows without AQI or temperatures are skipped.`,
	RunE: runDBImport,
}

func init() {
	rootCmd.AddCommand(dbCmd)
	dbCmd.AddCommand(dbCheckCmd)
	dbCmd.AddCommand(dbMigrateCmd)
	dbCmd.AddCommand(dbImportCmd)

	dbImportCmd.Flags().StringVar(&importMonth, "month", "", "month to import (YYYY-MM, default current month)")
	dbImportCmd.Flags().StringSliceVar(&importAreas, "area", nil, "districts to import (default all)")
}

func runDBCheck(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	a, err := newApp(ctx)
	if err != nil {
		PrintError(err.Error())
		return err
	}
	defer a.Close()

	PrintDoubleSeparator()
	fmt.Println("  Database connection check")
	PrintSeparator()
	PrintKeyValue("URL", maskPassword(a.cfg.Database.URL), 12)

	status, err := a.db.HealthCheck(ctx)
	if err != nil {
		PrintError(fmt.Sprintf("ping failed: %v", err))
		return err
	}
	PrintKeyValue("Ping", status.ResponseTime.String(), 12)
	PrintKeyValue("Pool", fmt.Sprintf("%d/%d conns (%d idle)", status.Stats.TotalConns, status.Stats.MaxConns, status.Stats.IdleConns), 12)

	latest, err := a.store.LatestDate(ctx, "")
	if err != nil {
		PrintError(fmt.Sprintf("weather_data not readable: %v", err))
		return err
	}
	if latest.IsZero() {
		PrintWarning("weather_data has no rows with AQI")
	} else {
		PrintKeyValue("Latest day", latest.String(), 12)
	}

	if a.redis.Enabled() {
		PrintSuccess("Redis enabled")
	} else {
		PrintInfo("Redis disabled")
	}
	PrintSuccess("Database OK")
	return nil
}

func runDBMigrate(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.store.EnsureSchema(ctx); err != nil {
		PrintError(err.Error())
		return err
	}
	PrintSuccess("weather_data schema ready")
	return nil
}

func runDBImport(cmd *cobra.Command, args []string) error {
	year, month, err := parseMonth(importMonth)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	areas := importAreas
	if len(areas) == 0 {
		for area := range tianqi.AreaCodes {
			areas = append(areas, area)
		}
		sort.Strings(areas)
	}

	total := 0
	for i, area := range areas {
		rows, err := a.source.FetchMonth(ctx, area, year, month)
		if err != nil {
			PrintError(fmt.Sprintf("%s: %v", area, err))
			continue
		}
		records := tianqi.Records(area, rows)
		if err := a.store.SaveRecords(ctx, records); err != nil {
			return fmt.Errorf("save %s: %w", area, err)
		}
		total += len(records)
		PrintProgress("Import", fmt.Sprintf("%s %04d-%02d: %d of %d rows", area, year, month, len(records), len(rows)), i+1, len(areas))
	}

	PrintSuccess(fmt.Sprintf("Imported %d records", total))
	return nil
}

// parseMonth parses "YYYY-MM"; empty means the current month
func parseMonth(s string) (int, int, error) {
	if s == "" {
		today := contracts.Today()
		return today.Year(), int(today.Month()), nil
	}
	d, err := contracts.ParseDate(s + "-01")
	if err != nil {
		return 0, 0, fmt.Errorf("invalid month %q, want YYYY-MM", s)
	}
	return d.Year(), int(d.Month()), nil
}

var urlPassword = regexp.MustCompile(`://([^:/@]+):(.*)@`)

// maskPassword hides the password of a connection URL
func maskPassword(url string) string {
	if !strings.Contains(url, "@") {
		return url
	}
	return urlPassword.ReplaceAllString(url, "://$1:****@")
}
