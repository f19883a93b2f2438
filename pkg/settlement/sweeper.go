package settlement

import (
	"context"
	"fmt"
	"time"

	"github.com/goldstake/stakebridge/internal/config"
	"github.com/goldstake/stakebridge/internal/metrics"
	"github.com/goldstake/stakebridge/internal/metrics/metricsTypes"
	"github.com/goldstake/stakebridge/pkg/alert"
	"github.com/goldstake/stakebridge/pkg/storage"
	"go.uber.org/zap"
)

const FailReason_StaleProcessing = "stale_processing"

type SweeperConfig struct {
	Queues       []storage.Queue
	LeaseTimeout time.Duration
	Action       config.StaleAction
	Interval     time.Duration
}

func SweeperConfigFromGlobalConfig(cfg *config.Config) *SweeperConfig {
	return &SweeperConfig{
		Queues:       []storage.Queue{storage.Queue_Swap, storage.Queue_Unstake, storage.Queue_Claim},
		LeaseTimeout: cfg.SettlementConfig.LeaseTimeout,
		Action:       cfg.GetStaleAction(),
		Interval:     cfg.SettlementConfig.SweepInterval,
	}
}

// Sweeper resolves requests left in processing past their lease, e.g. after a crash mid transfer.
type Sweeper struct {
	config      *SweeperConfig
	store       storage.SettlementStore
	alerts      alert.Sink
	metricsSink *metrics.MetricsSink
	logger      *zap.Logger
	clock       func() time.Time
}

func NewSweeper(cfg *SweeperConfig, store storage.SettlementStore, alerts alert.Sink, ms *metrics.MetricsSink, l *zap.Logger) *Sweeper {
	return &Sweeper{
		config:      cfg,
		store:       store,
		alerts:      alerts,
		metricsSink: ms,
		logger:      l,
		clock:       func() time.Time { return time.Now().UTC() },
	}
}

func (s *Sweeper) SetClock(clock func() time.Time) {
	s.clock = clock
}

func (s *Sweeper) isStale(req *storage.SettlementRequest, now time.Time) bool {
	started := req.UpdatedAt
	if req.ProcessingStartedAt != nil {
		started = *req.ProcessingStartedAt
	}
	return now.Sub(started) > s.config.LeaseTimeout
}

// Sweep fails or requeues every stale processing row and returns how many rows it resolved.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	now := s.clock()
	total := 0

	for _, queue := range s.config.Queues {
		if ctx.Err() != nil {
			return total, ctx.Err()
		}
		requests, err := s.store.ListProcessing(queue)
		if err != nil {
			return total, err
		}

		swept := 0
		for _, req := range requests {
			if !s.isStale(req, now) {
				continue
			}
			var ok bool
			if s.config.Action == config.StaleAction_Requeue {
				ok, err = s.store.RequeueProcessing(queue, req.Id, now)
			} else {
				ok, err = s.store.MarkFailed(nil, queue, req.Id, FailReason_StaleProcessing, now)
			}
			if err != nil {
				return total, err
			}
			if !ok {
				continue
			}
			swept++
			s.logger.Sugar().Warnw("Swept stale request",
				zap.String("queue", string(queue)),
				zap.Uint64("id", req.Id),
				zap.String("account", req.Account),
				zap.String("action", string(s.config.Action)),
			)
		}

		_ = s.metricsSink.Gauge(metricsTypes.Metric_Gauge_SettlementStale, float64(swept), []metricsTypes.MetricsLabel{
			{Name: "queue", Value: string(queue)},
		})
		if swept > 0 {
			s.alerts.Notify(alert.Level_Error, fmt.Sprintf("%d %s requests were stuck in processing for over %s (action: %s)", swept, queue, s.config.LeaseTimeout, s.config.Action))
		}
		total += swept
	}
	return total, nil
}

func (s *Sweeper) Run(ctx context.Context) {
	interval := s.config.Interval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil {
				s.logger.Sugar().Errorw("Failed to sweep stale requests", zap.Error(err))
			}
		}
	}
}
