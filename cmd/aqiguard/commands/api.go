package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/wonny/aqiguard/internal/api"
	"github.com/wonny/aqiguard/internal/api/handlers"
)

// apiCmd represents the api command
var apiCmd = &cobra.Command{
	Use:   "api",
	Short: "Start the HTTP API server",
	Long: `Start the aqiguard REST API server.

Routes:
  GET  /api/analysis/forecast_7d
  POST /api/predict/aqi_7d
  GET  /api/quality/forecast_eval
  GET  /api/quality/web_consistency
  GET  /api/analysis/selfcheck
  GET  /health, /metrics

Example:
  go run ./cmd/aqiguard api
  go run ./cmd/aqiguard api --with-scheduler`,
	RunE: runAPIServer,
}

var withScheduler bool

func init() {
	rootCmd.AddCommand(apiCmd)
	apiCmd.Flags().BoolVar(&withScheduler, "with-scheduler", false, "also run the daily self-check scheduler")
}

func runAPIServer(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	a.log.WithFields(map[string]interface{}{
		"env":      a.cfg.Env,
		"port":     a.cfg.Port,
		"redis":    a.redis.Enabled(),
		"metrics":  a.metrics != nil,
		"tianqi":   a.cfg.Tianqi.BaseURL,
		"schedule": withScheduler,
	}).Info("Starting aqiguard API")

	forecastHandler := handlers.NewForecastHandler(
		a.store, a.forecaster, a.forecastCache(), a.cfg.Redis.ForecastCacheTTL, a.metrics, a.log,
	)
	qualityHandler := handlers.NewQualityHandler(
		a.store, a.engine, a.checker, a.orchestrator,
		handlers.DefaultQualityDefaults(a.cfg), a.metrics, a.log,
	)

	router := api.NewRouter(forecastHandler, qualityHandler, a.metrics, a.log)
	server := api.New(a.cfg, a.log, router)

	if withScheduler {
		sched, err := newSelfCheckScheduler(a)
		if err != nil {
			return err
		}
		sched.Start()
		defer sched.Stop()
	}

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Start()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("api server: %w", err)
		}
		return nil
	case <-quit:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		a.log.WithError(err).Error("Server forced to shutdown")
		return err
	}

	a.log.Info("Server exited")
	return nil
}
