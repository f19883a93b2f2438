package prometheus

import (
	"testing"
	"time"

	"github.com/goldstake/stakebridge/internal/logger"
	"github.com/goldstake/stakebridge/internal/metrics/metricsTypes"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
)

func setup(t *testing.T) (*PrometheusMetricsClient, *prometheus.Registry) {
	l, _ := logger.NewLogger(&logger.LoggerConfig{Debug: false})
	registry := prometheus.NewRegistry()
	client, err := NewPrometheusMetricsClient(&PrometheusMetricsConfig{
		Metrics:    metricsTypes.MetricTypes,
		Registerer: registry,
	}, l)
	if err != nil {
		t.Fatal(err)
	}
	return client, registry
}

func find(t *testing.T, registry *prometheus.Registry, name string) bool {
	families, err := registry.Gather()
	if err != nil {
		t.Fatal(err)
	}
	for _, f := range families {
		if f.GetName() == name {
			return true
		}
	}
	return false
}

func Test_PrometheusMetricsClient(t *testing.T) {
	t.Run("Should record every registered metric type under the namespace", func(t *testing.T) {
		client, registry := setup(t)

		assert.Nil(t, client.Incr(metricsTypes.Metric_Incr_SettlementRequest, []metricsTypes.MetricsLabel{
			{Name: "queue", Value: "swap"},
			{Name: "outcome", Value: "completed"},
		}, 1))
		assert.Nil(t, client.Gauge(metricsTypes.Metric_Gauge_SettlementStale, 2, []metricsTypes.MetricsLabel{
			{Name: "queue", Value: "claim"},
		}))
		assert.Nil(t, client.Timing(metricsTypes.Metric_Timing_TransferDuration, 1500*time.Millisecond, []metricsTypes.MetricsLabel{
			{Name: "queue", Value: "unstake"},
		}))

		assert.True(t, find(t, registry, "stakebridge_settlement_request"))
		assert.True(t, find(t, registry, "stakebridge_settlement_stale"))
		assert.True(t, find(t, registry, "stakebridge_settlement_transfer_duration"))
	})
	t.Run("Should return an error instead of panicking on mismatched labels", func(t *testing.T) {
		client, _ := setup(t)
		err := client.Incr(metricsTypes.Metric_Incr_IntakePayment, []metricsTypes.MetricsLabel{{Name: "queue", Value: "swap"}}, 1)
		assert.NotNil(t, err)
	})
	t.Run("Should ignore unknown metric names", func(t *testing.T) {
		client, _ := setup(t)
		assert.Nil(t, client.Incr("not_registered", nil, 1))
	})
	t.Run("Should fail when the registry already holds the metrics", func(t *testing.T) {
		l, _ := logger.NewLogger(&logger.LoggerConfig{Debug: false})
		registry := prometheus.NewRegistry()
		cfg := func() *PrometheusMetricsConfig {
			return &PrometheusMetricsConfig{Metrics: metricsTypes.MetricTypes, Registerer: registry}
		}
		_, err := NewPrometheusMetricsClient(cfg(), l)
		assert.Nil(t, err)
		_, err = NewPrometheusMetricsClient(cfg(), l)
		assert.NotNil(t, err)
	})
}
