package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/tradeforge/orderd/internal/storage/postgres"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		log, err := newLogger()
		if err != nil {
			return err
		}
		defer func() { _ = log.Sync() }()

		ctx := context.Background()
		store, err := postgres.Open(ctx, cfg, log)
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()

		if err := store.Migrate(ctx); err != nil {
			return err
		}
		log.Info("migrations applied")
		return nil
	},
}
