package cmd

import (
	"context"
	"time"

	"github.com/goldstake/stakebridge/internal/config"
	"github.com/goldstake/stakebridge/internal/metrics/prometheus"
	"github.com/goldstake/stakebridge/internal/shutdown"
	"github.com/goldstake/stakebridge/pkg/alert"
	"github.com/goldstake/stakebridge/pkg/bridge"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the bridge",
	Run: func(cmd *cobra.Command, args []string) {
		bindCommandFlags(cmd)
		cfg := config.NewConfig()
		ctx := context.Background()

		l := newLogger(cfg)
		deps := setupDependencies(cfg, l)

		prometheusShutdown := make(chan bool)
		if cfg.PrometheusConfig.Enabled {
			ps := prometheus.NewPrometheusServer(&prometheus.PrometheusServerConfig{
				Port: cfg.PrometheusConfig.Port,
			}, l)
			if err := ps.Start(prometheusShutdown); err != nil {
				l.Sugar().Fatalw("Failed to start prometheus server", zap.Error(err))
			}
		}

		b := bridge.NewBridgeFromConfig(cfg, deps.store, deps.ledgerClient, deps.alerts, deps.metricsSink, l)

		// Start the bridge in a goroutine so that we can listen for a shutdown signal
		stopped := make(chan struct{})
		go func() {
			defer close(stopped)
			if err := b.Start(ctx); err != nil {
				deps.alerts.Close()
				l.Sugar().Fatalw("Failed to start bridge", zap.Error(err))
			}
		}()

		l.Sugar().Info("Started bridge")

		gracefulShutdown := shutdown.CreateGracefulShutdownChannel()

		done := make(chan bool)
		shutdown.ListenForShutdown(gracefulShutdown, done, func() {
			l.Sugar().Info("Shutting down...")
			deps.alerts.Notify(alert.Level_Info, "Bridge shutting down")
			if cfg.PrometheusConfig.Enabled {
				prometheusShutdown <- true
			}
			b.ShutdownChan <- true
			<-stopped
			if err := deps.ledgerClient.Close(); err != nil {
				l.Sugar().Errorw("Failed to close ledger client", zap.Error(err))
			}
			deps.alerts.Close()
			deps.metricsSink.Close()
		}, cfg.LedgerConfig.FinalityTimeout+time.Second*5, l)
	},
}
