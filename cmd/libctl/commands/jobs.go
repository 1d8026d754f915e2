package commands

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/tbourn/go-circulation-backend/cmd/libctl/output"
	"github.com/tbourn/go-circulation-backend/internal/services"
)

var (
	jobForce  bool
	runsJob   string
	runsLimit int
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Run or inspect maintenance jobs",
	Long: `Trigger the maintenance jobs by hand, for example from cron when the server
runs with JOBS_ENABLED=false.

A job that is already running (in this process) is reported as a conflict.
Credit recovery runs at most once per calendar month unless --force is given.`,
}

var jobsExpiryCmd = &cobra.Command{
	Use:   "expiry",
	Short: "Expire allocated holds whose pickup window has passed",
	RunE: func(cmd *cobra.Command, _ []string) error {
		core := services.NewCore(db)
		res, err := core.Maintenance.ScanReservationExpiry(cmd.Context(), operatorIdentity(), services.RunOptions{Trigger: services.TriggerCLI})
		if err != nil {
			return err
		}
		return printJobResult(cmd.OutOrStdout(), res)
	},
}

var jobsRecoveryCmd = &cobra.Command{
	Use:   "recovery",
	Short: "Grant the monthly credit recovery to every reader below the maximum",
	RunE: func(cmd *cobra.Command, _ []string) error {
		core := services.NewCore(db)
		res, err := core.Maintenance.MonthlyCreditRecovery(cmd.Context(), operatorIdentity(), services.RunOptions{
			Trigger: services.TriggerCLI,
			Force:   jobForce,
		})
		if err != nil {
			return err
		}
		return printJobResult(cmd.OutOrStdout(), res)
	},
}

var jobsRunsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recent job runs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		core := services.NewCore(db)
		runs, err := core.Maintenance.ListRuns(cmd.Context(), operatorIdentity(), runsJob, runsLimit)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if jsonOutput {
			return writeJSON(out, runs)
		}
		if len(runs) == 0 {
			output.Muted(out, "no job runs recorded")
			return nil
		}
		rows := make([][]string, 0, len(runs))
		for _, r := range runs {
			rows = append(rows, []string{
				strconv.FormatUint(r.ID, 10),
				r.Job,
				r.StartedAt.Format(time.RFC3339),
				r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond).String(),
				strconv.Itoa(r.Affected),
				strconv.Itoa(r.Failed),
				r.Trigger,
			})
		}
		output.Section(out, "Job runs")
		return output.Table(out, []string{"ID", "JOB", "STARTED", "TOOK", "AFFECTED", "FAILED", "TRIGGER"}, rows)
	},
}

// operatorIdentity is the system identity, with --operator recorded as actor.
func operatorIdentity() services.Identity {
	id := services.SystemIdentity()
	if operator != "" {
		id.ActorID = operator
	}
	return id
}

func printJobResult(w io.Writer, res *services.JobResult) error {
	if jsonOutput {
		return writeJSON(w, res)
	}
	if res.Skipped {
		output.Warning(w, "%s skipped: already ran this month (use --force to run again)", res.Job)
		return nil
	}
	took := res.FinishedAt.Sub(res.StartedAt).Round(time.Millisecond)
	output.Success(w, "%s: %d affected, %d failed (%s)", res.Job, res.Affected, res.Failed, took)
	if res.Failed > 0 {
		output.Error(w, "%d item(s) failed; see the server log for details", res.Failed)
		return fmt.Errorf("%s: %d failures", res.Job, res.Failed)
	}
	return nil
}

func init() {
	jobsRecoveryCmd.Flags().BoolVar(&jobForce, "force", false, "Run even if recovery already ran this month")
	jobsRunsCmd.Flags().StringVar(&runsJob, "job", "", "Filter by job name (reservation-expiry, credit-recovery)")
	jobsRunsCmd.Flags().IntVar(&runsLimit, "limit", 20, "Maximum runs to show (1-100)")

	jobsCmd.AddCommand(jobsExpiryCmd, jobsRecoveryCmd, jobsRunsCmd)
	rootCmd.AddCommand(jobsCmd)
}
