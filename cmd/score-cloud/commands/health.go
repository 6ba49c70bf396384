package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"score-cloud/internal/health"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check that the harvesting pipeline is alive",
	Long: `Verifies that today's snapshot exists and that the scheduled harvest
workflow is not failing repeatedly. The exit code encodes the result:
0 healthy, 1 missing snapshot, 2 failing workflow, 3 check error.`,
	Run: func(cmd *cobra.Command, args []string) {
		checker := health.NewChecker(newSnapshotStore(newStore()), health.Config{
			Owner: cfg.GitHubOwner,
			Repo:  cfg.GitHubRepo,
			Token: cfg.GitHubToken,
		})

		result, err := checker.Check()
		if err != nil {
			log.Error().Err(err).Msg("Health check could not run")
			os.Exit(health.StatusCheckError)
		}
		encoded, _ := json.MarshalIndent(result, "", "  ")
		fmt.Println(string(encoded))

		status := result.Status()
		if status != health.StatusHealthy {
			log.Warn().Int("status", status).Msg("Pipeline degraded")
			os.Exit(status)
		}
		log.Info().Msg("Pipeline healthy")
	},
}

func init() {
	rootCmd.AddCommand(healthCmd)
}
