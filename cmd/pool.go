package cmd

import (
	"fmt"
	"time"

	"github.com/goldstake/stakebridge/internal/config"
	"github.com/goldstake/stakebridge/pkg/rewards"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var poolCmd = &cobra.Command{
	Use:   "pool",
	Short: "Manage reward pools",
}

var poolCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Open a new active reward pool for the configured token pair",
	Run: func(cmd *cobra.Command, args []string) {
		bindCommandFlags(cmd)
		cfg := config.NewConfig()

		l := newLogger(cfg)

		startsAt := time.Now().UTC()
		if raw := viper.GetString(config.KebabToSnakeCase(config.PoolStartsAt)); raw != "" {
			t, err := time.Parse(time.RFC3339, raw)
			if err != nil {
				l.Sugar().Fatalw("Invalid start time", zap.String("startsAt", raw), zap.Error(err))
			}
			startsAt = t.UTC()
		}

		totalReward, err := decimal.NewFromString(viper.GetString(config.KebabToSnakeCase(config.PoolTotalReward)))
		if err != nil {
			l.Sugar().Fatalw("Invalid total reward", zap.Error(err))
		}

		deps := setupDependencies(cfg, l)
		defer deps.alerts.Close()

		engine := rewards.NewEngine(deps.store, deps.alerts, deps.metricsSink, l, cfg)
		pool, err := engine.CreateRewardPool(startsAt, viper.GetInt(config.KebabToSnakeCase(config.PoolDurationDays)), totalReward)
		if err != nil {
			l.Sugar().Fatalw("Failed to create reward pool", zap.Error(err))
		}
		fmt.Printf("Created pool %d (%s/%s) from %s to %s\n",
			pool.Id, pool.StakeToken, pool.RewardToken,
			pool.PeriodStart.Format(time.RFC3339), pool.PeriodEnd().Format(time.RFC3339))
	},
}
