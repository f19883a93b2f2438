package rewards

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goldstake/stakebridge/internal/config"
	"github.com/goldstake/stakebridge/internal/metrics"
	"github.com/goldstake/stakebridge/internal/metrics/metricsTypes"
	"github.com/goldstake/stakebridge/internal/types/numbers"
	"github.com/goldstake/stakebridge/pkg/alert"
	"github.com/goldstake/stakebridge/pkg/postgres/helpers"
	"github.com/goldstake/stakebridge/pkg/storage"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var ErrNoActivePool = errors.New("no active reward pool")

type RolloverMode string

const (
	RolloverMode_End      RolloverMode = "end"
	RolloverMode_Snapshot RolloverMode = "snapshot"
)

func ParseRolloverMode(mode string) (RolloverMode, error) {
	switch RolloverMode(mode) {
	case RolloverMode_End, RolloverMode_Snapshot:
		return RolloverMode(mode), nil
	}
	return "", fmt.Errorf("invalid rollover mode '%s', expected 'end' or 'snapshot'", mode)
}

type RolloverSummary struct {
	PoolId      uint64
	Accounts    int
	Failed      int
	PoolEnded   bool
	SnapshotsAt time.Time
}

type Engine struct {
	store        storage.SettlementStore
	globalConfig *config.Config
	alerts       alert.Sink
	metricsSink  *metrics.MetricsSink
	logger       *zap.Logger
	clock        func() time.Time
}

func NewEngine(
	store storage.SettlementStore,
	alerts alert.Sink,
	ms *metrics.MetricsSink,
	l *zap.Logger,
	cfg *config.Config,
) *Engine {
	return &Engine{
		store:        store,
		globalConfig: cfg,
		alerts:       alerts,
		metricsSink:  ms,
		logger:       l,
		clock:        func() time.Time { return time.Now().UTC() },
	}
}

// SetClock replaces the wall clock used for accrual windows.
func (e *Engine) SetClock(clock func() time.Time) {
	e.clock = clock
}

func (e *Engine) Now() time.Time {
	return e.clock()
}

func (e *Engine) stakeToken() string {
	return e.globalConfig.TokensConfig.StakeCurrency
}

func (e *Engine) rewardToken() string {
	return e.globalConfig.TokensConfig.RewardCurrency
}

// ComputeReward returns the claimable reward of account at now under pool, truncated to six places.
// A nil pool means nothing accrues beyond what is already pocketed.
func ComputeReward(account *storage.StakeAccount, pool *storage.RewardPool, apr decimal.Decimal, now time.Time) decimal.Decimal {
	if pool == nil || !account.StakedAmount.IsPositive() {
		return account.PocketReward
	}

	start := pool.PeriodStart
	if account.UpdatedAt.After(start) {
		start = account.UpdatedAt
	}
	if account.LastClaimAt != nil && account.LastClaimAt.After(start) {
		start = *account.LastClaimAt
	}
	end := pool.PeriodEnd()
	if now.Before(end) {
		end = now
	}

	seconds := int64(end.Sub(start) / time.Second)
	if seconds <= 0 {
		return account.PocketReward
	}
	return numbers.Truncate(account.PocketReward.Add(numbers.Accrue(account.StakedAmount, apr, seconds)))
}

// AccumulatedReward computes the claimable reward of account using the active pool visible to tx.
// It never writes.
func (e *Engine) AccumulatedReward(tx *gorm.DB, account *storage.StakeAccount, now time.Time) (decimal.Decimal, error) {
	pool, err := e.store.GetActiveRewardPool(tx, e.stakeToken(), e.rewardToken())
	if err != nil {
		return decimal.Zero, err
	}
	return ComputeReward(account, pool, e.globalConfig.RewardsConfig.Apr, now), nil
}

// AccumulatedRewardForAddress is the read path used by status queries. Unknown accounts have no reward.
func (e *Engine) AccumulatedRewardForAddress(address string) (decimal.Decimal, error) {
	account, err := e.store.GetStakeAccount(nil, address)
	if err != nil {
		return decimal.Zero, err
	}
	if account == nil {
		return decimal.Zero, nil
	}
	return e.AccumulatedReward(nil, account, e.Now())
}

// SnapshotAccount folds the reward accrued so far into the pocket and restarts the window at now.
// Callers must hold the account row lock in tx.
func (e *Engine) SnapshotAccount(tx *gorm.DB, account *storage.StakeAccount, now time.Time) error {
	reward, err := e.AccumulatedReward(tx, account, now)
	if err != nil {
		return err
	}
	account.PocketReward = reward
	account.UpdatedAt = now
	return nil
}

// Rollover snapshots every account's reward. In end mode the active pool is closed afterwards.
// Each account commits on its own; a re-run only accrues from each account's new baseline.
func (e *Engine) Rollover(ctx context.Context, mode RolloverMode) (*RolloverSummary, error) {
	pool, err := e.store.GetActiveRewardPool(nil, e.stakeToken(), e.rewardToken())
	if err != nil {
		return nil, err
	}
	if pool == nil {
		e.alerts.Notify(alert.Level_Error, fmt.Sprintf("Reward rollover (%s) failed: no active pool for %s/%s", mode, e.stakeToken(), e.rewardToken()))
		return nil, ErrNoActivePool
	}

	accounts, err := e.store.ListStakeAccounts()
	if err != nil {
		return nil, err
	}

	now := e.Now()
	summary := &RolloverSummary{PoolId: pool.Id, SnapshotsAt: now}

	for _, a := range accounts {
		if ctx.Err() != nil {
			return summary, ctx.Err()
		}
		_, err := helpers.WrapTxAndCommit(func(tx *gorm.DB) (interface{}, error) {
			account, err := e.store.LockStakeAccount(tx, a.Address, now)
			if err != nil {
				return nil, err
			}
			if err := e.SnapshotAccount(tx, account, now); err != nil {
				return nil, err
			}
			return nil, e.store.SaveStakeAccount(tx, account)
		}, e.store.GetDb(), nil)
		if err != nil {
			summary.Failed++
			e.logger.Sugar().Errorw("Failed to snapshot account reward",
				zap.String("address", a.Address),
				zap.Error(err),
			)
			continue
		}
		summary.Accounts++
	}

	if summary.Failed > 0 {
		e.alerts.Notify(alert.Level_Error, fmt.Sprintf("Reward rollover (%s): %d of %d accounts failed, pool left active", mode, summary.Failed, len(accounts)))
		return summary, fmt.Errorf("%d accounts failed to snapshot", summary.Failed)
	}

	if mode == RolloverMode_End {
		if err := e.store.EndRewardPool(nil, pool.Id, now); err != nil {
			return summary, err
		}
		summary.PoolEnded = true
	}

	if e.metricsSink != nil {
		_ = e.metricsSink.Gauge(metricsTypes.Metric_Gauge_RolloverAccounts, float64(summary.Accounts), []metricsTypes.MetricsLabel{
			{Name: "mode", Value: string(mode)},
		})
	}
	e.logger.Sugar().Infow("Reward rollover complete",
		zap.String("mode", string(mode)),
		zap.Uint64("poolId", pool.Id),
		zap.Int("accounts", summary.Accounts),
		zap.Bool("poolEnded", summary.PoolEnded),
	)
	e.alerts.Notify(alert.Level_Info, fmt.Sprintf("Reward rollover (%s) complete for %d accounts", mode, summary.Accounts))
	return summary, nil
}

// CreateRewardPool opens a new active pool for the configured token pair.
func (e *Engine) CreateRewardPool(periodStart time.Time, durationDays int, totalReward decimal.Decimal) (*storage.RewardPool, error) {
	if durationDays <= 0 {
		return nil, fmt.Errorf("duration must be at least one day")
	}
	pool := &storage.RewardPool{
		StakeToken:   e.stakeToken(),
		RewardToken:  e.rewardToken(),
		PeriodStart:  periodStart.UTC(),
		DurationDays: durationDays,
		TotalReward:  totalReward,
		Status:       storage.PoolStatus_Active,
		CreatedAt:    e.Now(),
	}
	return e.store.CreateRewardPool(nil, pool)
}
