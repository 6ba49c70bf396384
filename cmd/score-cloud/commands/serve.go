package commands

import (
	"score-cloud/internal/httpapi"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the dataset API over HTTP",
	Long: `Exposes score uploads and month queries over HTTP, plus /healthz and
Prometheus metrics on /metrics.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		addr := serveAddr
		if addr == "" {
			addr = cfg.HTTPAddr
		}

		server := httpapi.NewServer(newDatasetStore(newStore()))
		if err := server.ListenAndServe(addr); err != nil {
			log.Error().Err(err).Msg("HTTP server stopped")
			return err
		}
		return nil
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (defaults to HTTP_ADDR)")
	rootCmd.AddCommand(serveCmd)
}
