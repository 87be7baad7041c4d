package cmd

import (
	"github.com/spf13/cobra"
)

// newServeCmd creates the 'serve' subcommand, which runs the HTTP API until SIGINT or SIGTERM.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Starts the HTTP API",
		Long: `Serves /img, /json and /url/{site} together with health, readiness and Prometheus
endpoints. The listen port comes from server.port or the PORT environment variable.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			return appInstance.Run(cmd.Context())
		},
	}
}
