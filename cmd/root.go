// Package cmd defines and implements the CLI commands for the geticon executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/snapbooks-app/geticon/internal/cache"
	"github.com/snapbooks-app/geticon/internal/config"
	"github.com/snapbooks-app/geticon/internal/icon"
	"github.com/snapbooks-app/geticon/internal/server"
)

// version is stamped at build time with -ldflags "-X github.com/snapbooks-app/geticon/cmd.version=...".
var version = "dev"

// appKeyType is the key for storing the App in the context.
type appKeyType struct{}

// App defines the application interface that commands use, so tests can inject a fake.
type App interface {
	Run(ctx context.Context) error
	Resolve(ctx context.Context, request icon.Request) (cache.Entry, error)
	Close(ctx context.Context) error
}

// newApp is the application factory. It's a variable so tests can replace it.
var newApp = func(ctx context.Context, cfg config.Config) (App, error) {
	return server.Build(ctx, cfg, version)
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	var cfgFile string

	cmd := &cobra.Command{
		Use:   "geticon",
		Short: "Finds the best icon for a website.",
		Long: `geticon discovers every icon a website declares (favicon.ico, link tags, the web app
manifest, browserconfig.xml and the Open Graph image), checks that each one actually
decodes, and returns the highest quality match for the requested size.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,

		// Runs before the subcommand's RunE: load config and build the application.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			appInstance, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKeyType{}, appInstance))
			return nil
		},

		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			if appInstance, ok := cmd.Context().Value(appKeyType{}).(App); ok && appInstance != nil {
				return appInstance.Close(context.WithoutCancel(cmd.Context()))
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to a YAML config file (env vars with the GETICON_ prefix override it)")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newResolveCmd())

	return cmd
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKeyType{}).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}
