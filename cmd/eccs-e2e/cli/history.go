package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/majorcontext/eccs-e2e/internal/config"
	"github.com/majorcontext/eccs-e2e/internal/history"
	"github.com/majorcontext/eccs-e2e/internal/id"
	"github.com/majorcontext/eccs-e2e/internal/log"
	"github.com/majorcontext/eccs-e2e/internal/scenario"
	"github.com/majorcontext/eccs-e2e/internal/ui"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recorded runs",
	Long:  `Every target run is recorded with its step results. Use the subcommands to inspect or prune them.`,
}

var historyLimit int

var historyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent runs, newest first",
	Args:  cobra.NoArgs,
	RunE:  listHistory,
}

var historyShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show the steps of a run",
	Args:  cobra.ExactArgs(1),
	RunE:  showHistory,
}

var historyOlderThan time.Duration

var historyPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete runs older than a cutoff",
	Args:  cobra.NoArgs,
	RunE:  pruneHistory,
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.AddCommand(historyListCmd, historyShowCmd, historyPruneCmd)
	historyListCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "maximum number of runs to show (0 for all)")
	historyPruneCmd.Flags().DurationVar(&historyOlderThan, "older-than", 30*24*time.Hour, "delete runs that started before this long ago")
}

func listHistory(cmd *cobra.Command, args []string) error {
	store, err := openHistory(config.Dir())
	if err != nil {
		return err
	}
	defer store.Close()

	runs, err := store.List(historyLimit)
	if err != nil {
		return err
	}
	if jsonOut {
		return writeRunsJSON(cmd.OutOrStdout(), runs)
	}
	return printRunList(cmd.OutOrStdout(), runs)
}

func printRunList(w io.Writer, runs []history.Run) error {
	if len(runs) == 0 {
		fmt.Fprintln(w, "No runs recorded")
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN ID\tTARGET\tCONTRACT\tSTATUS\tSTEPS\tDURATION\tSTARTED")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			r.ID,
			r.Target,
			r.Contract,
			statusLabel(r.Status),
			stepCounts(r),
			formatDuration(r.Duration()),
			formatAge(r.Started),
		)
	}
	return tw.Flush()
}

func showHistory(cmd *cobra.Command, args []string) error {
	if !id.Valid("run", args[0]) {
		return fmt.Errorf("invalid run ID %q", args[0])
	}
	store, err := openHistory(config.Dir())
	if err != nil {
		return err
	}
	defer store.Close()

	run, err := store.Get(args[0])
	if errors.Is(err, history.ErrNotFound) {
		return fmt.Errorf("run %s not found", args[0])
	}
	if err != nil {
		return err
	}
	if jsonOut {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(run)
	}
	return printRun(cmd.OutOrStdout(), run)
}

func printRun(w io.Writer, r *history.Run) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Run:\t%s\n", r.ID)
	fmt.Fprintf(tw, "Target:\t%s (%s, contract %s)\n", r.Target, r.Binary, r.Contract)
	fmt.Fprintf(tw, "Endpoint:\t%s\n", r.Endpoint)
	fmt.Fprintf(tw, "Status:\t%s\n", statusLabel(r.Status))
	fmt.Fprintf(tw, "Started:\t%s\n", r.Started.Local().Format(time.DateTime))
	fmt.Fprintf(tw, "Duration:\t%s\n", formatDuration(r.Duration()))
	if r.Error != "" {
		fmt.Fprintf(tw, "Error:\t%s\n", r.Error)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	if len(r.Steps) == 0 {
		return nil
	}

	fmt.Fprintln(w)
	tw = tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "STEP\tSTATUS\tDURATION\tDETAIL")
	for _, s := range r.Steps {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", s.Name, statusLabel(s.Status), formatDuration(s.Duration), s.Detail)
	}
	return tw.Flush()
}

func pruneHistory(cmd *cobra.Command, args []string) error {
	if historyOlderThan <= 0 {
		return fmt.Errorf("--older-than must be positive")
	}
	store, err := openHistory(config.Dir())
	if err != nil {
		return err
	}
	defer store.Close()

	n, err := store.Prune(time.Now().Add(-historyOlderThan))
	if err != nil {
		return err
	}
	log.Info("history pruned", "deleted", n, "older_than", historyOlderThan)
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d run(s)\n", n)
	return nil
}

func statusLabel(s scenario.Status) string {
	switch s {
	case scenario.StatusPassed:
		return ui.Green(string(s))
	case scenario.StatusSkipped:
		return ui.Yellow(string(s))
	default:
		return ui.Red(string(s))
	}
}

func stepCounts(r history.Run) string {
	if r.Status == history.StatusError {
		return "-"
	}
	s := fmt.Sprintf("%d passed", r.Passed)
	if r.Failed > 0 {
		s += fmt.Sprintf(", %d failed", r.Failed)
	}
	if r.Skipped > 0 {
		s += fmt.Sprintf(", %d skipped", r.Skipped)
	}
	return s
}
