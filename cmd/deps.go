package cmd

import (
	"github.com/goldstake/stakebridge/internal/config"
	"github.com/goldstake/stakebridge/internal/logger"
	"github.com/goldstake/stakebridge/internal/metrics"
	"github.com/goldstake/stakebridge/pkg/alert"
	"github.com/goldstake/stakebridge/pkg/clients/xrpl"
	"github.com/goldstake/stakebridge/pkg/postgres"
	"github.com/goldstake/stakebridge/pkg/postgres/migrations"
	pgStorage "github.com/goldstake/stakebridge/pkg/storage/postgres"
	"go.uber.org/zap"
)

type dependencies struct {
	logger       *zap.Logger
	metricsSink  *metrics.MetricsSink
	store        *pgStorage.PostgresSettlementStore
	ledgerClient *xrpl.Client
	alerts       *alert.DiscordSink
}

func newLogger(cfg *config.Config) *zap.Logger {
	l, _ := logger.NewLogger(&logger.LoggerConfig{Debug: cfg.Debug, Json: cfg.JsonLogs})
	return l
}

// setupDependencies validates the config, opens and migrates the database and builds the shared clients.
func setupDependencies(cfg *config.Config, l *zap.Logger) *dependencies {
	if err := cfg.Validate(); err != nil {
		l.Sugar().Fatalw("Invalid configuration", zap.Error(err))
	}

	metricsClients, err := metrics.InitMetricsSinksFromConfig(cfg, l)
	if err != nil {
		l.Sugar().Fatalw("Failed to setup metrics sink", zap.Error(err))
	}

	sink, err := metrics.NewMetricsSink(&metrics.MetricsSinkConfig{}, metricsClients)
	if err != nil {
		l.Sugar().Fatalw("Failed to setup metrics sink", zap.Error(err))
	}

	rawDb, grm, err := postgres.NewGormFromConfig(&cfg.DatabaseConfig)
	if err != nil {
		l.Fatal("Failed to setup postgres connection", zap.Error(err))
	}

	migrator := migrations.NewMigrator(rawDb, grm, l)
	if err = migrator.MigrateAll(); err != nil {
		l.Fatal("Failed to migrate", zap.Error(err))
	}

	alerts := alert.NewDiscordSink(&alert.DiscordSinkConfig{
		Webhooks: map[alert.Level]string{
			alert.Level_Info:  cfg.AlertsConfig.InfoWebhookUrl,
			alert.Level_Warn:  cfg.AlertsConfig.WarnWebhookUrl,
			alert.Level_Error: cfg.AlertsConfig.ErrorWebhookUrl,
		},
		RatePerSecond: cfg.AlertsConfig.RatePerSecond,
	}, l)

	return &dependencies{
		logger:       l,
		metricsSink:  sink,
		store:        pgStorage.NewPostgresSettlementStore(grm, l),
		ledgerClient: xrpl.NewClient(xrpl.ConvertGlobalConfigToXrplConfig(&cfg.LedgerConfig), l),
		alerts:       alerts,
	}
}
