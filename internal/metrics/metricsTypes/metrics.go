package metricsTypes

import "time"

type IMetricsClient interface {
	Incr(name string, labels []MetricsLabel, value float64) error
	Gauge(name string, value float64, labels []MetricsLabel) error
	Timing(name string, value time.Duration, labels []MetricsLabel) error
}

type MetricsLabel struct {
	Name  string
	Value string
}

type MetricsType string

var (
	MetricsType_Incr   MetricsType = "incr"
	MetricsType_Gauge  MetricsType = "gauge"
	MetricsType_Timing MetricsType = "timing"
)

type MetricsTypeConfig struct {
	Name   string
	Help   string
	Labels []string
}

var (
	Metric_Incr_IntakePayment     = "intake_payment"
	Metric_Incr_SettlementRequest = "settlement_request"
	Metric_Incr_RecoveryReplayed  = "recovery_replayed"

	Metric_Gauge_SettlementStale  = "settlement_stale"
	Metric_Gauge_RolloverAccounts = "rewards_rollover_accounts"

	Metric_Timing_TransferDuration = "settlement_transfer_duration"
)

var MetricTypes = map[MetricsType][]MetricsTypeConfig{
	MetricsType_Incr: {
		MetricsTypeConfig{
			Name:   Metric_Incr_IntakePayment,
			Help:   "Inbound payments classified, by kind and outcome",
			Labels: []string{"kind", "outcome"},
		},
		MetricsTypeConfig{
			Name:   Metric_Incr_SettlementRequest,
			Help:   "Settlement requests finalized, by queue and outcome",
			Labels: []string{"queue", "outcome"},
		},
		MetricsTypeConfig{
			Name:   Metric_Incr_RecoveryReplayed,
			Help:   "History entries inspected by recovery, by outcome",
			Labels: []string{"outcome"},
		},
	},
	MetricsType_Gauge: {
		MetricsTypeConfig{
			Name:   Metric_Gauge_SettlementStale,
			Help:   "Requests found stuck in processing by the last sweep",
			Labels: []string{"queue"},
		},
		MetricsTypeConfig{
			Name:   Metric_Gauge_RolloverAccounts,
			Help:   "Accounts snapshotted by the last reward rollover",
			Labels: []string{"mode"},
		},
	},
	MetricsType_Timing: {
		MetricsTypeConfig{
			Name:   Metric_Timing_TransferDuration,
			Help:   "Outbound transfer submit and finality wait, in milliseconds",
			Labels: []string{"queue"},
		},
	},
}
