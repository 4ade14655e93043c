package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/wonny/aqiguard/internal/scheduler"
	"github.com/wonny/aqiguard/internal/scheduler/jobs"
)

// schedulerCmd represents the scheduler command
var schedulerCmd = &cobra.Command{
	Use:   "scheduler",
	Short: "Scheduler management",
	Long: `Manage the daily self-check scheduler.

The selfcheck job runs the combined gate with the acceptance bounds
for every area in SELFCHECK_AREAS on SELFCHECK_SCHEDULE.

Examples:
  go run ./cmd/aqiguard scheduler start
  go run ./cmd/aqiguard scheduler list
  go run ./cmd/aqiguard scheduler run selfcheck`,
}

var schedulerStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the scheduler daemon",
	RunE:  runSchedulerStart,
}

var schedulerListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered jobs",
	RunE:  runSchedulerList,
}

var schedulerRunCmd = &cobra.Command{
	Use:   "run [job_name]",
	Short: "Run a job immediately",
	Args:  cobra.ExactArgs(1),
	RunE:  runSchedulerRun,
}

func init() {
	rootCmd.AddCommand(schedulerCmd)
	schedulerCmd.AddCommand(schedulerStartCmd)
	schedulerCmd.AddCommand(schedulerListCmd)
	schedulerCmd.AddCommand(schedulerRunCmd)
}

// newSelfCheckScheduler registers every job on a new scheduler
func newSelfCheckScheduler(a *app) (*scheduler.Scheduler, error) {
	sched := scheduler.New(a.log)
	if err := sched.AddJob(jobs.NewSelfCheckJob(a.orchestrator, a.cfg, a.log)); err != nil {
		return nil, fmt.Errorf("register selfcheck job: %w", err)
	}
	return sched, nil
}

func runSchedulerStart(cmd *cobra.Command, args []string) error {
	a, err := newApp(context.Background())
	if err != nil {
		return err
	}
	defer a.Close()

	sched, err := newSelfCheckScheduler(a)
	if err != nil {
		return err
	}
	sched.Start()
	PrintSuccess(fmt.Sprintf("Scheduler started (%d jobs)", len(sched.GetAllJobs())))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	sched.Stop()
	PrintInfo("Scheduler stopped")
	return nil
}

func runSchedulerList(cmd *cobra.Command, args []string) error {
	a, err := newApp(context.Background())
	if err != nil {
		return err
	}
	defer a.Close()

	sched, err := newSelfCheckScheduler(a)
	if err != nil {
		return err
	}

	widths := []int{16, 20, 10}
	PrintTableHeader([]string{"Job", "Schedule", "Runs"}, widths)
	for name, stats := range sched.GetJobStats() {
		PrintTableRow([]string{name, stats.Schedule, fmt.Sprintf("%d", stats.TotalRuns)}, widths)
	}
	return nil
}

func runSchedulerRun(cmd *cobra.Command, args []string) error {
	a, err := newApp(context.Background())
	if err != nil {
		return err
	}
	defer a.Close()

	sched, err := newSelfCheckScheduler(a)
	if err != nil {
		return err
	}

	result, err := sched.RunJobNow(args[0])
	if err != nil {
		PrintError(err.Error())
		return err
	}
	if !result.Success {
		PrintError(fmt.Sprintf("%s failed after %s: %s", result.JobName, result.Duration, result.Error))
		return fmt.Errorf("job %s failed", result.JobName)
	}
	PrintSuccess(fmt.Sprintf("%s completed in %s", result.JobName, result.Duration))
	return nil
}
