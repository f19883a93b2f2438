package cmd

import (
	"context"
	"fmt"

	"github.com/goldstake/stakebridge/internal/config"
	"github.com/goldstake/stakebridge/pkg/rewards"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var rolloverCmd = &cobra.Command{
	Use:   "rollover",
	Short: "Snapshot accrued rewards for every account and optionally end the active pool",
	Run: func(cmd *cobra.Command, args []string) {
		bindCommandFlags(cmd)
		cfg := config.NewConfig()

		l := newLogger(cfg)

		mode, err := rewards.ParseRolloverMode(viper.GetString(config.KebabToSnakeCase(config.RolloverMode)))
		if err != nil {
			l.Sugar().Fatalw("Invalid rollover mode", zap.Error(err))
		}

		deps := setupDependencies(cfg, l)
		defer deps.alerts.Close()

		engine := rewards.NewEngine(deps.store, deps.alerts, deps.metricsSink, l, cfg)
		summary, err := engine.Rollover(context.Background(), mode)
		if err != nil {
			l.Sugar().Errorw("Rollover failed", zap.Error(err))
		}
		if summary != nil {
			fmt.Printf("Pool: %d\nAccounts: %d\nFailed: %d\nPoolEnded: %v\n",
				summary.PoolId, summary.Accounts, summary.Failed, summary.PoolEnded)
		}
	},
}
