package commands

import (
	"os"
	"strconv"

	"score-cloud/internal/harvest"
	"score-cloud/internal/scoreapi"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var fetchForce bool

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Harvest today's scores for every known user",
	Long: `Looks up the daily score of every rostered user against the remote ranking
API, writes the day's snapshot, and merges the results into the monthly
dataset. A date that already has a snapshot is skipped unless --force is set.`,
	Run: func(cmd *cobra.Command, args []string) {
		if err := cfg.ValidateRemote(); err != nil {
			log.Error().Err(err).Msg("Cannot start harvest")
			os.Exit(harvest.ExitFatal)
		}

		store := newStore()
		runner := harvest.NewRunner(
			scoreapi.NewClient(cfg.Remote),
			newDatasetStore(store),
			newSnapshotStore(store),
			harvest.Config{
				DailyLimit:   cfg.DailyLimit,
				RequestDelay: cfg.Remote.RequestDelay,
				ExtraUsers:   cfg.ExtraUsers,
				UserListFile: cfg.UserListFile,
				APIBase:      cfg.Remote.BaseURL,
			},
		)

		force := fetchForce || cfg.ForceUpdate
		outcome, err := runner.Run(cfg.TargetDate, force)
		if err != nil {
			log.Error().Err(err).Str("date", cfg.TargetDate).Msg("Harvest failed")
			os.Exit(harvest.ExitFatal)
		}

		writeGitHubOutput(map[string]string{
			"date":          outcome.Date,
			"skipped":       strconv.FormatBool(outcome.Skipped),
			"total_users":   strconv.Itoa(outcome.TotalUsers),
			"success_count": strconv.Itoa(outcome.SuccessCount),
			"fail_count":    strconv.Itoa(outcome.FailCount),
			"exceed_count":  strconv.Itoa(outcome.ExceedCount),
		})

		if code := outcome.ExitCode(); code != harvest.ExitOK {
			log.Warn().Int("exitCode", code).Msg("Harvest finished with partial failures")
			os.Exit(code)
		}
		log.Info().Str("date", outcome.Date).Int("users", outcome.TotalUsers).Msg("Harvest finished")
	},
}

func init() {
	fetchCmd.Flags().BoolVar(&fetchForce, "force", false, "replace an existing snapshot for the target date")
	rootCmd.AddCommand(fetchCmd)
}
