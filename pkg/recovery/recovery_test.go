package recovery

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/goldstake/stakebridge/internal/logger"
	"github.com/goldstake/stakebridge/internal/metrics"
	"github.com/goldstake/stakebridge/internal/tests"
	"github.com/goldstake/stakebridge/pkg/alert"
	"github.com/goldstake/stakebridge/pkg/exchangeRate"
	"github.com/goldstake/stakebridge/pkg/intake"
	"github.com/goldstake/stakebridge/pkg/ledger"
	"github.com/goldstake/stakebridge/pkg/ledger/ledgertest"
	"github.com/goldstake/stakebridge/pkg/rewards"
	"github.com/goldstake/stakebridge/pkg/storage"
	pgStorage "github.com/goldstake/stakebridge/pkg/storage/postgres"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

const user = "rUser111111111111111111111111111"

var now = time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

func setup(t *testing.T) (*Recovery, *intake.Classifier, *pgStorage.PostgresSettlementStore, *ledgertest.FakeClient, *alert.LogSink) {
	l, _ := logger.NewLogger(&logger.LoggerConfig{Debug: false})
	grm, err := tests.GetSqliteDatabase(l)
	if err != nil {
		t.Fatal(err)
	}
	cfg := tests.GetConfig()
	store := pgStorage.NewPostgresSettlementStore(grm, l)
	sink := alert.NewLogSink(l)
	ms, _ := metrics.NewMetricsSink(&metrics.MetricsSinkConfig{}, nil)
	engine := rewards.NewEngine(store, sink, ms, l, cfg)
	engine.SetClock(func() time.Time { return now })
	rates := exchangeRate.NewCache(store, []string{cfg.GetRatePair()}, l)
	rates.Set(cfg.GetRatePair(), decimal.RequireFromString("0.05"))
	fake := ledgertest.NewFakeClient()

	classifier := intake.NewClassifier(store, fake, rates, engine, sink, ms, l, cfg)
	r := NewRecovery(store, fake, classifier, sink, ms, l, cfg)
	r.SetClock(func() time.Time { return now })
	return r, classifier, store, fake, sink
}

func stake(hash string, amount string, date time.Time) *ledger.Payment {
	return &ledger.Payment{
		Hash:            hash,
		TransactionType: ledger.TransactionType_Payment,
		Account:         user,
		Destination:     tests.StakePoolAddress,
		Currency:        "GPC",
		Issuer:          tests.StakeIssuer,
		Amount:          decimal.RequireFromString(amount),
		Date:            date,
		Validated:       true,
		Result:          ledger.ResultSuccess,
	}
}

func other(hash string, date time.Time) *ledger.Payment {
	return &ledger.Payment{
		Hash:            hash,
		TransactionType: "TrustSet",
		Account:         user,
		Date:            date,
		Validated:       true,
	}
}

func Test_Recover(t *testing.T) {
	t.Run("Should replay only unrecorded payments since the cutoff", func(t *testing.T) {
		r, classifier, store, fake, _ := setup(t)

		live := stake("LIVE", "5", now.Add(-2*time.Hour))
		_, err := classifier.ClassifyIncomingPayment(context.Background(), live)
		assert.Nil(t, err)

		fake.AddHistory(tests.StakePoolAddress,
			stake("MISSED", "3", now.Add(-time.Hour)),
			live,
			stake("ANCIENT", "100", now.Add(-72*time.Hour)),
		)

		summary, err := r.Recover(context.Background(), now.Add(-24*time.Hour), 5)
		assert.Nil(t, err)
		assert.Equal(t, 1, summary.Replayed)
		assert.Equal(t, 1, summary.Skipped)
		assert.Equal(t, 3, summary.Inspected)

		account, err := store.GetStakeAccount(nil, user)
		assert.Nil(t, err)
		assert.Equal(t, "8", account.StakedAmount.String())

		exists, err := store.TransactionRecordExists("ANCIENT")
		assert.Nil(t, err)
		assert.False(t, exists)
	})
	t.Run("Should be safe to run repeatedly", func(t *testing.T) {
		r, _, store, fake, _ := setup(t)
		fake.AddHistory(tests.StakePoolAddress, stake("A", "2", now.Add(-time.Minute)), stake("B", "2", now.Add(-2*time.Minute)))

		for i := 0; i < 3; i++ {
			_, err := r.Recover(context.Background(), time.Time{}, 5)
			assert.Nil(t, err)
		}
		account, err := store.GetStakeAccount(nil, user)
		assert.Nil(t, err)
		assert.Equal(t, "4", account.StakedAmount.String())
	})
	t.Run("Should stop after the per address limit across pages", func(t *testing.T) {
		r, _, store, fake, _ := setup(t)
		for i := 0; i < 30; i++ {
			fake.AddHistory(tests.StakePoolAddress, stake(fmt.Sprintf("H%02d", i), "1", now.Add(-time.Duration(i)*time.Minute)))
		}

		summary, err := r.Recover(context.Background(), time.Time{}, 25)
		assert.Nil(t, err)
		assert.Equal(t, 25, summary.Inspected)
		assert.Equal(t, 25, summary.Replayed)

		account, err := store.GetStakeAccount(nil, user)
		assert.Nil(t, err)
		assert.Equal(t, "25", account.StakedAmount.String())

		checkpoint, err := store.GetRecoveryCheckpoint(tests.StakePoolAddress)
		assert.Nil(t, err)
		assert.Nil(t, checkpoint)
	})
	t.Run("Should keep paging past a page without payments", func(t *testing.T) {
		r, _, store, fake, _ := setup(t)
		r.globalConfig.RecoveryConfig.PageSize = 2
		fake.AddHistory(tests.StakePoolAddress,
			other("TRUST1", now.Add(-time.Minute)),
			other("TRUST2", now.Add(-2*time.Minute)),
			stake("BEHIND", "4", now.Add(-3*time.Minute)),
		)

		summary, err := r.Recover(context.Background(), time.Time{}, 5)
		assert.Nil(t, err)
		assert.Equal(t, 2, fake.FetchCalls[tests.StakePoolAddress])
		assert.Equal(t, 1, summary.Replayed)

		exists, err := store.TransactionRecordExists("BEHIND")
		assert.Nil(t, err)
		assert.True(t, exists)

		checkpoint, err := store.GetRecoveryCheckpoint(tests.StakePoolAddress)
		assert.Nil(t, err)
		assert.True(t, checkpoint.ScannedFrom.Equal(now))
	})
	t.Run("Should count dropped transactions toward the limit", func(t *testing.T) {
		r, _, store, fake, _ := setup(t)
		r.globalConfig.RecoveryConfig.PageSize = 2
		fake.AddHistory(tests.StakePoolAddress,
			other("TRUST1", now.Add(-time.Minute)),
			other("TRUST2", now.Add(-2*time.Minute)),
			stake("BEYOND", "4", now.Add(-3*time.Minute)),
		)

		summary, err := r.Recover(context.Background(), time.Time{}, 2)
		assert.Nil(t, err)
		assert.Equal(t, 1, fake.FetchCalls[tests.StakePoolAddress])
		assert.Equal(t, 0, summary.Replayed)

		checkpoint, err := store.GetRecoveryCheckpoint(tests.StakePoolAddress)
		assert.Nil(t, err)
		assert.Nil(t, checkpoint)
	})
	t.Run("Should not replay a rejected swap twice", func(t *testing.T) {
		r, _, store, fake, sink := setup(t)
		fake.AddHistory(tests.SwapPoolAddress, &ledger.Payment{
			Hash:            "SWAPX",
			TransactionType: ledger.TransactionType_Payment,
			Account:         user,
			Destination:     tests.SwapPoolAddress,
			Currency:        "GPC",
			Issuer:          tests.StakeIssuer,
			Amount:          decimal.NewFromInt(5),
			Date:            now,
			Validated:       true,
		})

		_, err := r.Recover(context.Background(), time.Time{}, 5)
		assert.Nil(t, err)
		summary, err := r.Recover(context.Background(), time.Time{}, 5)
		assert.Nil(t, err)
		assert.Equal(t, 1, summary.Skipped)
		assert.Equal(t, 1, sink.Count())

		req, err := store.GetLatestRequest(storage.Queue_Swap, user)
		assert.Nil(t, err)
		assert.Equal(t, storage.RequestStatus_Failed, req.Status)
	})
	t.Run("Should record a checkpoint and resume from it", func(t *testing.T) {
		r, _, store, fake, _ := setup(t)
		fake.AddHistory(tests.StakePoolAddress, stake("OLD", "1", now.Add(-48*time.Hour)))

		_, err := r.RecoverFromCheckpoint(context.Background())
		assert.Nil(t, err)
		checkpoint, err := store.GetRecoveryCheckpoint(tests.StakePoolAddress)
		assert.Nil(t, err)
		assert.True(t, checkpoint.ScannedFrom.Equal(now))

		// a second pass a day later only looks back to the checkpoint
		later := now.Add(24 * time.Hour)
		r.SetClock(func() time.Time { return later })
		fake.History[tests.StakePoolAddress] = []*ledger.Payment{
			stake("NEW", "2", later.Add(-time.Hour)),
			stake("OLDER", "7", now.Add(-time.Hour)),
		}
		summary, err := r.RecoverFromCheckpoint(context.Background())
		assert.Nil(t, err)
		assert.Equal(t, 1, summary.Replayed)

		account, err := store.GetStakeAccount(nil, user)
		assert.Nil(t, err)
		assert.Equal(t, "3", account.StakedAmount.String())

		checkpoint, err = store.GetRecoveryCheckpoint(tests.StakePoolAddress)
		assert.Nil(t, err)
		assert.True(t, checkpoint.ScannedFrom.Equal(later))
	})
	t.Run("Should keep the checkpoint when the limit stops the scan short of it", func(t *testing.T) {
		r, _, store, fake, _ := setup(t)
		assert.Nil(t, store.SaveRecoveryCheckpoint(&storage.RecoveryCheckpoint{
			Address:     tests.StakePoolAddress,
			ScannedFrom: now.Add(-24 * time.Hour),
			CompletedAt: now.Add(-24 * time.Hour),
		}))
		for i := 0; i < 8; i++ {
			fake.AddHistory(tests.StakePoolAddress, stake(fmt.Sprintf("R%02d", i), "1", now.Add(-time.Duration(i+1)*time.Hour)))
		}

		summary, err := r.RecoverFromCheckpoint(context.Background())
		assert.Nil(t, err)
		assert.Equal(t, 5, summary.Replayed)

		checkpoint, err := store.GetRecoveryCheckpoint(tests.StakePoolAddress)
		assert.Nil(t, err)
		assert.True(t, checkpoint.ScannedFrom.Equal(now.Add(-24*time.Hour)))
	})
	t.Run("Should treat an old non payment entry as reaching the checkpoint", func(t *testing.T) {
		r, _, store, fake, _ := setup(t)
		assert.Nil(t, store.SaveRecoveryCheckpoint(&storage.RecoveryCheckpoint{
			Address:     tests.StakePoolAddress,
			ScannedFrom: now.Add(-time.Hour),
			CompletedAt: now.Add(-time.Hour),
		}))
		fake.AddHistory(tests.StakePoolAddress,
			stake("RECENT", "1", now.Add(-time.Minute)),
			other("TRUST", now.Add(-2*time.Hour)),
			stake("STALE", "1", now.Add(-3*time.Hour)),
		)
		r.globalConfig.RecoveryConfig.PageSize = 2

		summary, err := r.RecoverFromCheckpoint(context.Background())
		assert.Nil(t, err)
		assert.Equal(t, 1, summary.Replayed)
		assert.Equal(t, 1, fake.FetchCalls[tests.StakePoolAddress])

		checkpoint, err := store.GetRecoveryCheckpoint(tests.StakePoolAddress)
		assert.Nil(t, err)
		assert.True(t, checkpoint.ScannedFrom.Equal(now))
	})
}
