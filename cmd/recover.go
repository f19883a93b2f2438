package cmd

import (
	"context"
	"fmt"

	"github.com/goldstake/stakebridge/internal/config"
	"github.com/goldstake/stakebridge/pkg/bridge"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var recoverCmd = &cobra.Command{
	Use:   "recover",
	Short: "Replay recent ledger history into the database and exit",
	Run: func(cmd *cobra.Command, args []string) {
		bindCommandFlags(cmd)
		cfg := config.NewConfig()
		ctx := context.Background()

		l := newLogger(cfg)
		deps := setupDependencies(cfg, l)
		defer deps.alerts.Close()

		b := bridge.NewBridgeFromConfig(cfg, deps.store, deps.ledgerClient, deps.alerts, deps.metricsSink, l)
		if err := b.Rates.Refresh(); err != nil {
			l.Sugar().Warnw("Failed to load exchange rates", zap.Error(err))
		}

		summary, err := b.Recovery.RecoverFromCheckpoint(ctx)
		if err != nil {
			l.Sugar().Errorw("Recovery failed", zap.Error(err))
		}
		fmt.Printf("Inspected: %d\nReplayed: %d\nSkipped: %d\nIgnored: %d\nFailed: %d\n",
			summary.Inspected, summary.Replayed, summary.Skipped, summary.Ignored, summary.Failed)
	},
}
