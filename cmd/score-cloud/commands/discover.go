package commands

import (
	"os"
	"time"

	"score-cloud/internal/harvest"
	"score-cloud/internal/scoreapi"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "List every person visible in the remote rankings",
	Long: `Pages through the department and organization rankings for the target date
and saves the deduplicated roster to discovered-users.json. Useful for
bootstrapping the user list.`,
	Run: func(cmd *cobra.Command, args []string) {
		if err := cfg.ValidateRemote(); err != nil {
			log.Error().Err(err).Msg("Cannot start discovery")
			os.Exit(harvest.ExitFatal)
		}

		client := scoreapi.NewClient(cfg.Remote)
		users, err := client.DiscoverRoster(cfg.TargetDate)
		if err != nil {
			log.Error().Err(err).Msg("Discovery failed")
			os.Exit(harvest.ExitFatal)
		}

		if err := harvest.SaveDiscoveredUsers(newStore(), users, time.Now()); err != nil {
			log.Error().Err(err).Msg("Failed to save discovered users")
			os.Exit(harvest.ExitFatal)
		}

		log.Info().Int("users", len(users)).Str("date", cfg.TargetDate).Msg("Discovery finished")
	},
}

func init() {
	rootCmd.AddCommand(discoverCmd)
}
