package dogstatsd

import (
	"testing"
	"time"

	"github.com/DataDog/datadog-go/v5/statsd"
	"github.com/goldstake/stakebridge/internal/logger"
	"github.com/goldstake/stakebridge/internal/metrics/metricsTypes"
	"github.com/stretchr/testify/assert"
)

type call struct {
	name  string
	tags  []string
	rate  float64
	value interface{}
}

type recordingStatsd struct {
	statsd.NoOpClient
	calls []call
}

func (r *recordingStatsd) Count(name string, value int64, tags []string, rate float64) error {
	r.calls = append(r.calls, call{name: name, tags: tags, rate: rate, value: value})
	return nil
}

func (r *recordingStatsd) Gauge(name string, value float64, tags []string, rate float64) error {
	r.calls = append(r.calls, call{name: name, tags: tags, rate: rate, value: value})
	return nil
}

func (r *recordingStatsd) Timing(name string, value time.Duration, tags []string, rate float64) error {
	r.calls = append(r.calls, call{name: name, tags: tags, rate: rate, value: value})
	return nil
}

func Test_DogStatsdMetricsClient(t *testing.T) {
	l, _ := logger.NewLogger(&logger.LoggerConfig{Debug: false})

	t.Run("Should send labels as name:value tags", func(t *testing.T) {
		rec := &recordingStatsd{}
		client := NewDogStatsdMetricsClientWithClient(rec, 0.5, l)

		assert.Nil(t, client.Incr(metricsTypes.Metric_Incr_IntakePayment, []metricsTypes.MetricsLabel{
			{Name: "kind", Value: "stake"},
			{Name: "outcome", Value: "staked"},
		}, 1))
		assert.Nil(t, client.Timing(metricsTypes.Metric_Timing_TransferDuration, time.Second, nil))

		assert.Len(t, rec.calls, 2)
		assert.Equal(t, []string{"kind:stake", "outcome:staked"}, rec.calls[0].tags)
		assert.Equal(t, int64(1), rec.calls[0].value)
		assert.Equal(t, 0.5, rec.calls[0].rate)
		assert.Equal(t, time.Second, rec.calls[1].value)
		assert.Empty(t, rec.calls[1].tags)
	})
	t.Run("Should clamp an out of range sample rate to 1", func(t *testing.T) {
		rec := &recordingStatsd{}
		client := NewDogStatsdMetricsClientWithClient(rec, 3, l)
		assert.Nil(t, client.Gauge(metricsTypes.Metric_Gauge_SettlementStale, 4, nil))
		assert.Equal(t, float64(1), rec.calls[0].rate)
	})
}
