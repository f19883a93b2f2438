package cmd

import (
	"github.com/goldstake/stakebridge/internal/config"
	"github.com/goldstake/stakebridge/pkg/postgres"
	"github.com/goldstake/stakebridge/pkg/postgres/migrations"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the database if needed and apply all migrations",
	Run: func(cmd *cobra.Command, args []string) {
		bindCommandFlags(cmd)
		cfg := config.NewConfig()

		l := newLogger(cfg)

		rawDb, grm, err := postgres.NewGormFromConfig(&cfg.DatabaseConfig)
		if err != nil {
			l.Fatal("Failed to setup postgres connection", zap.Error(err))
		}

		migrator := migrations.NewMigrator(rawDb, grm, l)
		if err = migrator.MigrateAll(); err != nil {
			l.Fatal("Failed to migrate", zap.Error(err))
		}
		l.Sugar().Infow("Migrations complete")
	},
}
