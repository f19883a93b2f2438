package metrics

import (
	"testing"
	"time"

	"github.com/goldstake/stakebridge/internal/metrics/metricsTypes"
	"github.com/stretchr/testify/assert"
)

type recordingClient struct {
	incrs   map[string]float64
	gauges  map[string]float64
	timings map[string]time.Duration
	labels  []metricsTypes.MetricsLabel
}

func newRecordingClient() *recordingClient {
	return &recordingClient{
		incrs:   map[string]float64{},
		gauges:  map[string]float64{},
		timings: map[string]time.Duration{},
	}
}

func (r *recordingClient) Incr(name string, labels []metricsTypes.MetricsLabel, value float64) error {
	r.incrs[name] += value
	r.labels = labels
	return nil
}

func (r *recordingClient) Gauge(name string, value float64, labels []metricsTypes.MetricsLabel) error {
	r.gauges[name] = value
	r.labels = labels
	return nil
}

func (r *recordingClient) Timing(name string, value time.Duration, labels []metricsTypes.MetricsLabel) error {
	r.timings[name] = value
	r.labels = labels
	return nil
}

func Test_MetricsSink(t *testing.T) {
	t.Run("Should fan out to every client with default labels first", func(t *testing.T) {
		a := newRecordingClient()
		b := newRecordingClient()
		sink, err := NewMetricsSink(&MetricsSinkConfig{
			DefaultLabels: []metricsTypes.MetricsLabel{{Name: "env", Value: "test"}},
		}, []metricsTypes.IMetricsClient{a, b})
		assert.Nil(t, err)

		assert.Nil(t, sink.Incr(metricsTypes.Metric_Incr_IntakePayment, []metricsTypes.MetricsLabel{{Name: "kind", Value: "stake"}}, 1))
		assert.Nil(t, sink.Gauge(metricsTypes.Metric_Gauge_SettlementStale, 3, []metricsTypes.MetricsLabel{{Name: "queue", Value: "swap"}}))
		assert.Nil(t, sink.Timing(metricsTypes.Metric_Timing_TransferDuration, time.Second, nil))

		for _, c := range []*recordingClient{a, b} {
			assert.Equal(t, float64(1), c.incrs[metricsTypes.Metric_Incr_IntakePayment])
			assert.Equal(t, float64(3), c.gauges[metricsTypes.Metric_Gauge_SettlementStale])
			assert.Equal(t, time.Second, c.timings[metricsTypes.Metric_Timing_TransferDuration])
			assert.Equal(t, []metricsTypes.MetricsLabel{{Name: "env", Value: "test"}}, c.labels)
		}
	})
	t.Run("Should be a no-op without clients", func(t *testing.T) {
		sink, err := NewMetricsSink(&MetricsSinkConfig{}, nil)
		assert.Nil(t, err)
		assert.Nil(t, sink.Incr("anything", nil, 1))
	})
}
