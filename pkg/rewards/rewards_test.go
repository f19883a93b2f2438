package rewards

import (
	"context"
	"testing"
	"time"

	"github.com/goldstake/stakebridge/internal/logger"
	"github.com/goldstake/stakebridge/internal/metrics"
	"github.com/goldstake/stakebridge/internal/tests"
	"github.com/goldstake/stakebridge/pkg/alert"
	"github.com/goldstake/stakebridge/pkg/storage"
	pgStorage "github.com/goldstake/stakebridge/pkg/storage/postgres"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

var periodStart = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func setup(t *testing.T) (*Engine, *pgStorage.PostgresSettlementStore, *alert.LogSink) {
	l, _ := logger.NewLogger(&logger.LoggerConfig{Debug: false})
	grm, err := tests.GetSqliteDatabase(l)
	if err != nil {
		t.Fatal(err)
	}
	store := pgStorage.NewPostgresSettlementStore(grm, l)
	sink := alert.NewLogSink(l)
	ms, _ := metrics.NewMetricsSink(&metrics.MetricsSinkConfig{}, nil)
	return NewEngine(store, sink, ms, l, tests.GetConfig()), store, sink
}

func seedAccount(t *testing.T, store *pgStorage.PostgresSettlementStore, address string, staked string, updatedAt time.Time) *storage.StakeAccount {
	tx := store.GetDb().Begin()
	account, err := store.LockStakeAccount(tx, address, updatedAt)
	if err != nil {
		t.Fatal(err)
	}
	account.StakedAmount = decimal.RequireFromString(staked)
	account.UpdatedAt = updatedAt
	if err := store.SaveStakeAccount(tx, account); err != nil {
		t.Fatal(err)
	}
	if err := tx.Commit().Error; err != nil {
		t.Fatal(err)
	}
	return account
}

func Test_ComputeReward(t *testing.T) {
	apr := decimal.RequireFromString("0.72")
	pool := &storage.RewardPool{PeriodStart: periodStart, DurationDays: 30, Status: storage.PoolStatus_Active}

	t.Run("Should accrue one day of 100 staked at 72% apr", func(t *testing.T) {
		account := &storage.StakeAccount{
			StakedAmount: decimal.NewFromInt(100),
			PocketReward: decimal.Zero,
			UpdatedAt:    periodStart,
		}
		reward := ComputeReward(account, pool, apr, periodStart.Add(24*time.Hour))
		assert.Equal(t, "0.19726", reward.String())
	})
	t.Run("Should return the pocket reward without a pool", func(t *testing.T) {
		account := &storage.StakeAccount{
			StakedAmount: decimal.NewFromInt(100),
			PocketReward: decimal.RequireFromString("1.5"),
			UpdatedAt:    periodStart,
		}
		reward := ComputeReward(account, nil, apr, periodStart.Add(24*time.Hour))
		assert.Equal(t, "1.5", reward.String())
	})
	t.Run("Should stop accruing at the end of the period", func(t *testing.T) {
		account := &storage.StakeAccount{
			StakedAmount: decimal.NewFromInt(100),
			PocketReward: decimal.Zero,
			UpdatedAt:    periodStart,
		}
		atEnd := ComputeReward(account, pool, apr, pool.PeriodEnd())
		later := ComputeReward(account, pool, apr, pool.PeriodEnd().Add(48*time.Hour))
		assert.True(t, atEnd.Equal(later))
		assert.Equal(t, "5.917808", atEnd.String())
	})
	t.Run("Should start the window at the last claim", func(t *testing.T) {
		claimedAt := periodStart.Add(24 * time.Hour)
		account := &storage.StakeAccount{
			StakedAmount: decimal.NewFromInt(100),
			PocketReward: decimal.Zero,
			LastClaimAt:  &claimedAt,
			UpdatedAt:    periodStart,
		}
		reward := ComputeReward(account, pool, apr, claimedAt.Add(24*time.Hour))
		assert.Equal(t, "0.19726", reward.String())
	})
	t.Run("Should not accrue before the period starts", func(t *testing.T) {
		account := &storage.StakeAccount{
			StakedAmount: decimal.NewFromInt(100),
			PocketReward: decimal.Zero,
			UpdatedAt:    periodStart.Add(-72 * time.Hour),
		}
		reward := ComputeReward(account, pool, apr, periodStart.Add(-24*time.Hour))
		assert.True(t, reward.IsZero())
	})
	t.Run("Should never decrease as time passes", func(t *testing.T) {
		account := &storage.StakeAccount{
			StakedAmount: decimal.RequireFromString("12.345678"),
			PocketReward: decimal.RequireFromString("0.1"),
			UpdatedAt:    periodStart,
		}
		prev := decimal.Zero
		for h := 0; h < 24*40; h += 7 {
			reward := ComputeReward(account, pool, apr, periodStart.Add(time.Duration(h)*time.Hour))
			assert.True(t, reward.GreaterThanOrEqual(prev))
			prev = reward
		}
	})
}

func Test_Engine(t *testing.T) {
	t.Run("Should refuse to create a second active pool", func(t *testing.T) {
		engine, _, _ := setup(t)
		engine.SetClock(func() time.Time { return periodStart })

		pool, err := engine.CreateRewardPool(periodStart, 30, decimal.NewFromInt(1000))
		assert.Nil(t, err)
		assert.Equal(t, storage.PoolStatus_Active, pool.Status)

		_, err = engine.CreateRewardPool(periodStart, 30, decimal.NewFromInt(1000))
		assert.ErrorIs(t, err, storage.ErrActivePoolExists)
	})
	t.Run("Should fail rollover without an active pool", func(t *testing.T) {
		engine, _, sink := setup(t)
		_, err := engine.Rollover(context.Background(), RolloverMode_End)
		assert.ErrorIs(t, err, ErrNoActivePool)
		assert.Equal(t, 1, sink.Count())
	})
	t.Run("Should snapshot accounts and keep the pool in snapshot mode", func(t *testing.T) {
		engine, store, _ := setup(t)
		engine.SetClock(func() time.Time { return periodStart })
		_, err := engine.CreateRewardPool(periodStart, 30, decimal.NewFromInt(1000))
		assert.Nil(t, err)
		seedAccount(t, store, "rAlice", "100", periodStart)

		now := periodStart.Add(24 * time.Hour)
		engine.SetClock(func() time.Time { return now })

		summary, err := engine.Rollover(context.Background(), RolloverMode_Snapshot)
		assert.Nil(t, err)
		assert.Equal(t, 1, summary.Accounts)
		assert.False(t, summary.PoolEnded)

		account, err := store.GetStakeAccount(nil, "rAlice")
		assert.Nil(t, err)
		assert.Equal(t, "0.19726", account.PocketReward.String())
		assert.True(t, account.UpdatedAt.Equal(now))

		// a second run at the same instant adds nothing
		_, err = engine.Rollover(context.Background(), RolloverMode_Snapshot)
		assert.Nil(t, err)
		reward, err := engine.AccumulatedRewardForAddress("rAlice")
		assert.Nil(t, err)
		assert.Equal(t, "0.19726", reward.String())

		pool, err := store.GetActiveRewardPool(nil, "GPC", "RLUSD")
		assert.Nil(t, err)
		assert.NotNil(t, pool)
	})
	t.Run("Should end the pool in end mode and freeze rewards", func(t *testing.T) {
		engine, store, _ := setup(t)
		engine.SetClock(func() time.Time { return periodStart })
		_, err := engine.CreateRewardPool(periodStart, 30, decimal.NewFromInt(1000))
		assert.Nil(t, err)
		seedAccount(t, store, "rBob", "100", periodStart)

		now := periodStart.Add(24 * time.Hour)
		engine.SetClock(func() time.Time { return now })

		summary, err := engine.Rollover(context.Background(), RolloverMode_End)
		assert.Nil(t, err)
		assert.True(t, summary.PoolEnded)

		pool, err := store.GetActiveRewardPool(nil, "GPC", "RLUSD")
		assert.Nil(t, err)
		assert.Nil(t, pool)

		engine.SetClock(func() time.Time { return now.Add(72 * time.Hour) })
		reward, err := engine.AccumulatedRewardForAddress("rBob")
		assert.Nil(t, err)
		assert.Equal(t, "0.19726", reward.String())
	})
	t.Run("Should report zero for an unknown account", func(t *testing.T) {
		engine, _, _ := setup(t)
		reward, err := engine.AccumulatedRewardForAddress("rNobody")
		assert.Nil(t, err)
		assert.True(t, reward.IsZero())
	})
}

func Test_ParseRolloverMode(t *testing.T) {
	t.Run("Should accept end and snapshot", func(t *testing.T) {
		m, err := ParseRolloverMode("end")
		assert.Nil(t, err)
		assert.Equal(t, RolloverMode_End, m)
		m, err = ParseRolloverMode("snapshot")
		assert.Nil(t, err)
		assert.Equal(t, RolloverMode_Snapshot, m)
	})
	t.Run("Should reject anything else", func(t *testing.T) {
		_, err := ParseRolloverMode("close")
		assert.NotNil(t, err)
	})
}
