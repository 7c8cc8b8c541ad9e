package main

import (
	"mealmate/internal/infra/mysql"

	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		defer logger.Sync()

		db, err := mysql.Open(cfg.MySQL, logger)
		if err != nil {
			return err
		}
		if err := mysql.Migrate(db); err != nil {
			return err
		}
		logger.Info("migrations applied")
		return nil
	},
}
