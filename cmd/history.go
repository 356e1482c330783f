package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"labparse/internal/analysis"
	"labparse/internal/export"
	"labparse/internal/logger"
	"labparse/internal/store"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Inspect the runs stored with 'labparse parse --save'",
	Long: `Inspect the run history database (LABPARSE_DB_PATH, default
~/.labparse/history.db).

The report and trends subcommands aggregate the readings of every stored run
into one result: repeated readings of the same biomarker, date and value are
kept once, and patient details come from the most recent run that has them.`,
	Example: `  labparse history list
  labparse history show 0b6f7c1e-...
  labparse history report
  labparse history trends -o trends.json
  labparse history delete 0b6f7c1e-...`,
}

var historyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored runs",
	Args:  cobra.NoArgs,
	RunE:  runHistoryList,
}

var historyShowCmd = &cobra.Command{
	Use:   "show [run-id]",
	Short: "Print the JSON result of one stored run",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistoryShow,
}

var historyReportCmd = &cobra.Command{
	Use:   "report",
	Short: "Render the summary report across all stored runs",
	Args:  cobra.NoArgs,
	RunE:  runHistoryReport,
}

var historyTrendsCmd = &cobra.Command{
	Use:   "trends",
	Short: "Compute trends across all stored runs",
	Args:  cobra.NoArgs,
	RunE:  runHistoryTrends,
}

var historyDeleteCmd = &cobra.Command{
	Use:   "delete [run-id]",
	Short: "Delete a stored run",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistoryDelete,
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.AddCommand(historyListCmd, historyShowCmd, historyReportCmd, historyTrendsCmd, historyDeleteCmd)

	for _, c := range []*cobra.Command{historyShowCmd, historyReportCmd, historyTrendsCmd} {
		c.Flags().StringP("output", "o", "", "Output file path (default: stdout)")
	}
	historyCmd.PersistentFlags().Int("timeout", 60, "Database timeout in seconds")
}

// withStore opens the history database for the duration of fn.
func withStore(log zerolog.Logger, fn func(st *store.Store) error) error {
	cfg, err := loadConfig(log)
	if err != nil {
		return err
	}
	st, err := openStore(cfg, log)
	if err != nil {
		return err
	}
	defer st.Close()
	return fn(st)
}

func runHistoryList(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("history")
	timeoutSecs, _ := cmd.Flags().GetInt("timeout")

	return withStore(log, func(st *store.Store) error {
		ctx, cancel := createContextWithTimeout(timeoutSecs, log)
		defer cancel()

		runs, err := st.ListRuns(ctx)
		if err != nil {
			return handleParseError(err, log)
		}
		if len(runs) == 0 {
			fmt.Println("No stored runs.")
			return nil
		}

		fmt.Printf("%-36s  %-19s  %8s  %-12s  %s\n", "ID", "CREATED", "READINGS", "REPORT DATE", "SOURCE")
		fmt.Println(strings.Repeat("-", 100))
		for _, r := range runs {
			fmt.Printf("%-36s  %-19s  %8d  %-12s  %s\n",
				r.ID, r.CreatedAt.Local().Format("2006-01-02 15:04:05"), r.Readings, r.Metadata.ReportDate, r.Source)
		}
		return nil
	})
}

func runHistoryShow(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("history")
	timeoutSecs, _ := cmd.Flags().GetInt("timeout")
	outputPath, _ := cmd.Flags().GetString("output")

	return withStore(log, func(st *store.Store) error {
		ctx, cancel := createContextWithTimeout(timeoutSecs, log)
		defer cancel()

		result, err := st.LoadRun(ctx, args[0])
		if err != nil {
			return handleParseError(err, log)
		}
		return writeOutput(outputPath, log, func(w io.Writer) error {
			return export.WriteJSON(w, result)
		})
	})
}

func runHistoryReport(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("history")
	timeoutSecs, _ := cmd.Flags().GetInt("timeout")
	outputPath, _ := cmd.Flags().GetString("output")

	return withStore(log, func(st *store.Store) error {
		ctx, cancel := createContextWithTimeout(timeoutSecs, log)
		defer cancel()

		result, err := st.LoadHistory(ctx)
		if err != nil {
			return handleParseError(err, log)
		}
		return writeOutput(outputPath, log, func(w io.Writer) error {
			_, err := io.WriteString(w, analysis.SummaryReport(result))
			return err
		})
	})
}

func runHistoryTrends(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("history")
	timeoutSecs, _ := cmd.Flags().GetInt("timeout")
	outputPath, _ := cmd.Flags().GetString("output")

	return withStore(log, func(st *store.Store) error {
		ctx, cancel := createContextWithTimeout(timeoutSecs, log)
		defer cancel()

		result, err := st.LoadHistory(ctx)
		if err != nil {
			return handleParseError(err, log)
		}
		trends := analysis.Trends(result)
		if len(trends) == 0 {
			fmt.Fprintln(os.Stderr, "No biomarker has two or more readings.")
		}
		return writeOutput(outputPath, log, func(w io.Writer) error {
			return export.WriteJSON(w, trends)
		})
	})
}

func runHistoryDelete(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("history")
	timeoutSecs, _ := cmd.Flags().GetInt("timeout")

	return withStore(log, func(st *store.Store) error {
		ctx, cancel := createContextWithTimeout(timeoutSecs, log)
		defer cancel()

		if err := st.DeleteRun(ctx, args[0]); err != nil {
			return handleParseError(err, log)
		}
		fmt.Printf("Deleted run %s\n", args[0])
		return nil
	})
}
