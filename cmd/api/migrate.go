package main

import (
	"fmt"

	"sentimatrix-automation/config"
	pgStorage "sentimatrix-automation/internal/adapter/storage/postgres"
	"sentimatrix-automation/pkg/logger"

	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the database schema and exit",
	Args:  cobra.NoArgs,
	RunE: func(c *cobra.Command, _ []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		log := logger.New(cfg.Log.Level, cfg.Log.Pretty)

		pool, err := pgStorage.NewPool(c.Context(), cfg.Database, log)
		if err != nil {
			return fmt.Errorf("connect to postgres: %w", err)
		}
		defer pool.Close()

		if err := pgStorage.Migrate(c.Context(), pool); err != nil {
			return err
		}
		log.Info().Msg("schema applied")
		return nil
	},
}
