package commands

import (
	"strconv"
	"time"

	"score-cloud/internal/rollup"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var rollupMonth string

var rollupCmd = &cobra.Command{
	Use:   "rollup",
	Short: "Build the monthly report from the daily snapshots",
	Long: `Folds every daily snapshot of the target month into a ranked monthly report,
renders it as JSON, HTML, and CSV, and feeds the per-user statistics back into
the monthly dataset. Without --month the previous month is used on the first
of a month, the current month otherwise.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		month := rollupMonth
		if month == "" {
			month = cfg.TargetMonth
		}
		if month == "" {
			month = rollup.DefaultTargetMonth(time.Now())
		}

		store := newStore()
		builder := rollup.NewBuilder(newSnapshotStore(store), cfg.DailyLimit)

		report, err := builder.Build(month)
		if err != nil {
			return err
		}

		renderer := rollup.NewRenderer(store, cfg.MonthlyDir, cfg.DailyLimit)
		if err := renderer.Write(report); err != nil {
			return err
		}

		updated, err := rollup.ApplyToDataset(newDatasetStore(store), report)
		if err != nil {
			return err
		}

		writeGitHubOutput(map[string]string{
			"month":       report.YearMonth,
			"total_users": strconv.Itoa(report.TotalUsers),
			"data_days":   strconv.Itoa(report.DataDays),
		})

		log.Info().
			Str("month", report.YearMonth).
			Int("users", report.TotalUsers).
			Int("datasetUpdated", updated).
			Msg("Monthly rollup finished")
		return nil
	},
}

func init() {
	rollupCmd.Flags().StringVar(&rollupMonth, "month", "", "target month formatted YYYY-MM")
	rootCmd.AddCommand(rollupCmd)
}
