package commands

import (
	"fmt"
	"os"

	"score-cloud/internal/config"
	"score-cloud/internal/dataset"
	"score-cloud/internal/logging"
	"score-cloud/internal/objstore"
	"score-cloud/internal/summary"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	// Version, Commit, and BuildDate are set at build time via ldflags.
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"

	verbose bool
	cfg     *config.AppConfig
)

var rootCmd = &cobra.Command{
	Use:   "score-cloud",
	Short: "score-cloud harvests and aggregates per-person daily scores",
	Long: `A harvesting pipeline that collects per-person daily scores from a remote
ranking API, folds them into monthly datasets, and renders daily and monthly
reports. Data lives in a local directory or a GitHub repository.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logging.Init(verbose)

		var err error
		cfg, err = config.Load()
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to load configuration")
		}

		log.Info().
			Str("version", Version).
			Str("commit", Commit).
			Str("buildDate", BuildDate).
			Msg("score-cloud starting")
	},
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose logging")
}

// newStore picks the object store backend: GitHub when a repository is
// configured, the local filesystem otherwise.
func newStore() objstore.Store {
	if cfg.GitHubOwner != "" && cfg.GitHubRepo != "" {
		log.Info().Str("owner", cfg.GitHubOwner).Str("repo", cfg.GitHubRepo).Msg("Using GitHub object store")
		return objstore.NewGitHubStore(objstore.GitHubConfig{
			Owner:  cfg.GitHubOwner,
			Repo:   cfg.GitHubRepo,
			Branch: cfg.GitHubBranch,
			Token:  cfg.GitHubToken,
		})
	}
	log.Info().Msg("Using local filesystem object store")
	return objstore.NewFSStore(".")
}

func newDatasetStore(store objstore.Store) *dataset.Store {
	return dataset.NewStore(store, cfg.DataDir, cfg.DailyLimit)
}

func newSnapshotStore(store objstore.Store) *summary.Store {
	return summary.NewStore(store, cfg.SummaryDir)
}

// writeGitHubOutput appends key=value pairs to the file GitHub Actions
// designates via GITHUB_OUTPUT. Outside of Actions this is a no-op.
func writeGitHubOutput(pairs map[string]string) {
	path := os.Getenv("GITHUB_OUTPUT")
	if path == "" {
		return
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		log.Warn().Err(err).Msg("Cannot open GITHUB_OUTPUT file")
		return
	}
	defer f.Close()
	for key, value := range pairs {
		fmt.Fprintf(f, "%s=%s\n", key, value)
	}
}
