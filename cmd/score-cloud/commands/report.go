package commands

import (
	"fmt"

	"score-cloud/internal/report"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Render the HTML report for the target date's snapshot",
	RunE: func(cmd *cobra.Command, args []string) error {
		store := newStore()

		snap, err := newSnapshotStore(store).Load(cfg.TargetDate)
		if err != nil {
			return err
		}
		if snap == nil {
			return fmt.Errorf("no snapshot exists for %s, run fetch first", cfg.TargetDate)
		}

		writer := report.NewWriter(store, cfg.ReportDir, cfg.DailyLimit)
		if err := writer.Write(snap); err != nil {
			return err
		}

		log.Info().Str("date", snap.Date).Msg("Daily report rendered")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(reportCmd)
}
