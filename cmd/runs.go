package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/profile-collector/internal/model"
	"github.com/sells-group/profile-collector/internal/monitoring"
	"github.com/sells-group/profile-collector/internal/resilience"
	"github.com/sells-group/profile-collector/internal/store"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect collection run history",
	Long:  "Commands for listing and viewing persisted collection runs.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := rootCmd.PersistentPreRunE(cmd, args); err != nil {
			return err
		}
		// The embedded store is the default place runs are kept.
		if cfg.Store.Driver == "" {
			cfg.Store.Driver = "sqlite"
		}
		return cfg.Validate("runs")
	},
}

// -- runs list --

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List collection runs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		source, _ := cmd.Flags().GetString("source")
		state, _ := cmd.Flags().GetString("state")
		limit, _ := cmd.Flags().GetInt("limit")

		runs, err := st.ListRuns(ctx, store.RunFilter{
			Source: source,
			State:  model.RunState(state),
			Limit:  limit,
		})
		if err != nil {
			return eris.Wrap(err, "runs list")
		}

		if len(runs) == 0 {
			fmt.Fprintln(os.Stderr, "No runs found.")
			return nil
		}

		formatRunsList(os.Stdout, runs)
		return nil
	},
}

// -- runs show --

// runDetail is the JSON document printed by runs show.
type runDetail struct {
	*model.Run
	Failures []resilience.Failure `json:"failures,omitempty"`
	Records  []store.StoredRecord `json:"records,omitempty"`
}

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show full details of a run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		run, err := st.GetRun(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "runs show")
		}
		detail := runDetail{Run: run}

		if detail.Failures, err = st.ListFailures(ctx, run.ID); err != nil {
			return eris.Wrap(err, "runs show: failures")
		}
		if n, _ := cmd.Flags().GetInt("records"); n > 0 {
			if detail.Records, err = st.ListRecords(ctx, run.ID, n); err != nil {
				return eris.Wrap(err, "runs show: records")
			}
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(detail)
	},
}

// -- runs check --

var runsCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Evaluate recent runs and send health alerts",
	Long:  "Summarizes runs inside the lookback window per source and posts alerts to the configured webhook. With --watch the check repeats until interrupted.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		checker := newChecker(st)
		if watch, _ := cmd.Flags().GetBool("watch"); watch {
			checker.Run(ctx)
			return nil
		}

		snap, alerts, err := checker.Check(ctx)
		if err != nil {
			return eris.Wrap(err, "runs check")
		}
		formatHealth(os.Stdout, snap, alerts)
		return nil
	},
}

func newChecker(runs monitoring.RunLister) *monitoring.Checker {
	mc := cfg.Monitoring
	collector := monitoring.NewCollector(runs, time.Duration(mc.StallMinutes)*time.Minute)
	return monitoring.NewChecker(collector, monitoring.NewAlerter(mc), mc)
}

// formatHealth writes the per-source summary followed by any alerts.
func formatHealth(out io.Writer, snap *monitoring.MetricsSnapshot, alerts []monitoring.Alert) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "SOURCE\tRUNS\tDONE\tPARTIAL\tSTALLED\tACCEPTED\tFAILED\tFAIL RATE")
	for _, h := range snap.Sources {
		_, _ = fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\t%d\t%d\t%.1f%%\n",
			h.Source, h.Runs, h.Done, h.Partial, h.Stalled, h.Accepted, h.Failed, h.FailRate*100)
	}
	_ = w.Flush()

	if len(alerts) == 0 {
		_, _ = fmt.Fprintf(out, "\nNo alerts in the last %dh.\n", snap.LookbackHours)
		return
	}
	_, _ = fmt.Fprintln(out)
	for _, a := range alerts {
		_, _ = fmt.Fprintf(out, "[%s] %s\n", a.Severity, a.Message)
	}
}

func init() {
	runsListCmd.Flags().String("source", "", "filter by source (leetcode, github, stackoverflow)")
	runsListCmd.Flags().String("state", "", "filter by run state (listing, detail_fetch, done, ...)")
	runsListCmd.Flags().Int("limit", 50, "max number of runs to display")

	runsShowCmd.Flags().Int("records", 0, "include the first N records of the run")

	runsCmd.AddCommand(runsListCmd)
	runsCheckCmd.Flags().Bool("watch", false, "repeat the check every monitoring.check_interval_secs")

	runsCmd.AddCommand(runsShowCmd)
	runsCmd.AddCommand(runsCheckCmd)
	rootCmd.AddCommand(runsCmd)
}

// formatRunsList writes a tabular list of runs to w.
func formatRunsList(out io.Writer, runs []model.Run) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tSOURCE\tSTATE\tACCEPTED\tFAILED\tPARTIAL\tCREATED\tDURATION")
	_, _ = fmt.Fprintln(w, "--\t------\t-----\t--------\t------\t-------\t-------\t--------")

	for _, r := range runs {
		dur := r.UpdatedAt.Sub(r.CreatedAt).Round(time.Second).String()
		partial := ""
		if r.Stats.Partial {
			partial = "yes"
		}

		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\t%s\t%s\n",
			truncateID(r.ID),
			r.Source,
			r.State,
			r.Stats.Accepted,
			r.Stats.Failed,
			partial,
			r.CreatedAt.Format("2006-01-02 15:04"),
			dur,
		)
	}
	_ = w.Flush()
}

// truncateID returns the first 8 characters of a UUID for compact display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
