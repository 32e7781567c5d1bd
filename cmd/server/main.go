// Package main is the storefront chat entry point
// Commands: serve (default), sweep, purge, migrate
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"storefront-chat/internal/config"
)

// Version is set at build time via -ldflags "-X main.Version=v1.0.0"
var Version = "dev"

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "storefront-chat",
		Short:         "Messenger and Instagram storefront assistant",
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}

	root.AddCommand(serveCmd())
	root.AddCommand(sweepCmd())
	root.AddCommand(purgeCmd())
	root.AddCommand(migrateCmd())
	root.AddCommand(versionCmd())
	return root
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("storefront-chat %s\n", Version)
		},
	}
}

// loadConfig reads the environment and installs the process logger
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	setupLogger(cfg.App)
	return cfg, nil
}

// setupLogger: JSON in production, text otherwise; level from LOG_LEVEL
func setupLogger(app config.AppConfig) {
	opts := &slog.HandlerOptions{Level: app.SlogLevel()}
	var h slog.Handler
	if app.IsProduction() {
		h = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		h = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(h).With("service", "storefront-chat"))
}
