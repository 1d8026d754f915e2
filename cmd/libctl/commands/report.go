package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/tbourn/go-circulation-backend/cmd/libctl/output"
	"github.com/tbourn/go-circulation-backend/internal/reports"
)

var (
	reportLimit int
	damageSince string
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Print circulation reports",
	Long: `Read-only reports over the circulation tables: overdue loans, the damage
log and a summary of copies, loans, reservations and readers.

Use --json for machine-readable output.`,
}

var reportOverdueCmd = &cobra.Command{
	Use:   "overdue",
	Short: "Active loans past their due date, most overdue first",
	RunE: func(cmd *cobra.Command, _ []string) error {
		r, err := reports.New(db)
		if err != nil {
			return err
		}
		rows, err := r.Overdue(cmd.Context(), time.Now().UTC(), reportLimit)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if jsonOutput {
			return writeJSON(out, rows)
		}
		if len(rows) == 0 {
			output.Success(out, "no overdue loans")
			return nil
		}
		table := make([][]string, 0, len(rows))
		for _, l := range rows {
			table = append(table, []string{
				strconv.FormatUint(l.BorrowID, 10),
				l.ReaderID,
				strconv.Itoa(l.Credit),
				l.Barcode,
				l.Title,
				l.DueAt.Format(time.DateOnly),
				strconv.Itoa(l.OverdueDays),
			})
		}
		output.Section(out, fmt.Sprintf("Overdue loans (%d)", len(rows)))
		return output.Table(out, []string{"LOAN", "READER", "CREDIT", "BARCODE", "TITLE", "DUE", "DAYS"}, table)
	},
}

var reportDamageCmd = &cobra.Command{
	Use:   "damage",
	Short: "Damage log entries, newest first",
	RunE: func(cmd *cobra.Command, _ []string) error {
		var since time.Time
		if damageSince != "" {
			t, err := time.Parse(time.DateOnly, damageSince)
			if err != nil {
				return fmt.Errorf("--since: %w", err)
			}
			since = t
		}
		r, err := reports.New(db)
		if err != nil {
			return err
		}
		rows, err := r.Damage(cmd.Context(), since, reportLimit)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if jsonOutput {
			return writeJSON(out, rows)
		}
		if len(rows) == 0 {
			output.Muted(out, "no damage reported")
			return nil
		}
		table := make([][]string, 0, len(rows))
		for _, d := range rows {
			table = append(table, []string{
				d.CreatedAt.Format(time.RFC3339),
				d.Barcode,
				d.Title,
				d.Reason,
				d.Operator,
			})
		}
		output.Section(out, fmt.Sprintf("Damage log (%d)", len(rows)))
		return output.Table(out, []string{"WHEN", "BARCODE", "TITLE", "REASON", "OPERATOR"}, table)
	},
}

var reportSummaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Counts of copies, loans, reservations and readers",
	RunE: func(cmd *cobra.Command, _ []string) error {
		r, err := reports.New(db)
		if err != nil {
			return err
		}
		s, err := r.Summary(cmd.Context(), time.Now().UTC())
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if jsonOutput {
			return writeJSON(out, s)
		}

		output.Section(out, "Copies")
		statuses := make([]string, 0, len(s.CopiesByStatus))
		for st := range s.CopiesByStatus {
			statuses = append(statuses, st)
		}
		sort.Strings(statuses)
		copies := make([][]string, 0, len(statuses))
		for _, st := range statuses {
			copies = append(copies, []string{output.CopyStatusIcon(st) + " " + st, strconv.FormatInt(s.CopiesByStatus[st], 10)})
		}
		if err := output.Table(out, []string{"STATUS", "COUNT"}, copies); err != nil {
			return err
		}

		fmt.Fprintln(out)
		output.Section(out, "Circulation")
		return output.Table(out, []string{"METRIC", "COUNT"}, [][]string{
			{"active loans", strconv.FormatInt(s.ActiveLoans, 10)},
			{"overdue loans", strconv.FormatInt(s.OverdueLoans, 10)},
			{"queued reservations", strconv.FormatInt(s.QueuedReservations, 10)},
			{"allocated holds", strconv.FormatInt(s.AllocatedHolds, 10)},
			{"readers", strconv.FormatInt(s.Readers, 10)},
			{"readers below borrow threshold", strconv.FormatInt(s.ReadersBelowBorrow, 10)},
		})
	},
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func init() {
	reportCmd.PersistentFlags().IntVar(&reportLimit, "limit", 100, "Maximum rows (1-1000)")
	reportDamageCmd.Flags().StringVar(&damageSince, "since", "", "Only entries on or after this date (YYYY-MM-DD)")

	reportCmd.AddCommand(reportOverdueCmd, reportDamageCmd, reportSummaryCmd)
	rootCmd.AddCommand(reportCmd)
}
