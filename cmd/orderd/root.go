package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tradeforge/orderd/internal/config"
)

// Version is set at build time via -ldflags.
var Version = "dev"

var configPath string

var rootCmd = &cobra.Command{
	Use:   "orderd",
	Short: "Order ingestion and bulk submission service",
	Long: `orderd accepts batches of draft orders, persists them with a durable
lifecycle status, and bulk-submits eligible orders to the trade execution
service, reconciling per-order outcomes back to local state.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "",
		"path to YAML config file (defaults + ORDERD_* env otherwise)")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(versionCmd)
}

func loadConfig() (*config.Config, error) {
	return config.Load(configPath)
}

func newLogger() (*zap.Logger, error) {
	return zap.NewProduction()
}
