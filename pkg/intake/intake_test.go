package intake

import (
	"context"
	"testing"
	"time"

	"github.com/goldstake/stakebridge/internal/config"
	"github.com/goldstake/stakebridge/internal/logger"
	"github.com/goldstake/stakebridge/internal/metrics"
	"github.com/goldstake/stakebridge/internal/tests"
	"github.com/goldstake/stakebridge/pkg/alert"
	"github.com/goldstake/stakebridge/pkg/exchangeRate"
	"github.com/goldstake/stakebridge/pkg/ledger"
	"github.com/goldstake/stakebridge/pkg/ledger/ledgertest"
	"github.com/goldstake/stakebridge/pkg/rewards"
	"github.com/goldstake/stakebridge/pkg/storage"
	pgStorage "github.com/goldstake/stakebridge/pkg/storage/postgres"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

const user = "rUser111111111111111111111111111"

var now = time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	classifier *Classifier
	store      *pgStorage.PostgresSettlementStore
	fake       *ledgertest.FakeClient
	rates      *exchangeRate.Cache
	alerts     *alert.LogSink
	engine     *rewards.Engine
	cfg        *config.Config
}

func setup(t *testing.T) *fixture {
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

	return &fixture{
		classifier: NewClassifier(store, fake, rates, engine, sink, ms, l, cfg),
		store:      store,
		fake:       fake,
		rates:      rates,
		alerts:     sink,
		engine:     engine,
		cfg:        cfg,
	}
}

func stakePayment(hash string, amount string) *ledger.Payment {
	return &ledger.Payment{
		Hash:            hash,
		TransactionType: ledger.TransactionType_Payment,
		Account:         user,
		Destination:     tests.StakePoolAddress,
		Currency:        "GPC",
		Issuer:          tests.StakeIssuer,
		Amount:          decimal.RequireFromString(amount),
		Validated:       true,
		Result:          ledger.ResultSuccess,
	}
}

func swapPayment(hash string, currency string, issuer string, amount string) *ledger.Payment {
	return &ledger.Payment{
		Hash:            hash,
		TransactionType: ledger.TransactionType_Payment,
		Account:         user,
		Destination:     tests.SwapPoolAddress,
		Currency:        currency,
		Issuer:          issuer,
		Amount:          decimal.RequireFromString(amount),
		Validated:       true,
		Result:          ledger.ResultSuccess,
	}
}

func Test_StakePath(t *testing.T) {
	t.Run("Should credit truncated stakes cumulatively", func(t *testing.T) {
		f := setup(t)

		outcome, err := f.classifier.ClassifyIncomingPayment(context.Background(), stakePayment("HASH1", "10.1234569"))
		assert.Nil(t, err)
		assert.Equal(t, Outcome_Staked, outcome)

		outcome, err = f.classifier.ClassifyIncomingPayment(context.Background(), stakePayment("HASH2", "2.0000001"))
		assert.Nil(t, err)
		assert.Equal(t, Outcome_Staked, outcome)

		account, err := f.store.GetStakeAccount(nil, user)
		assert.Nil(t, err)
		assert.Equal(t, "12.123456", account.StakedAmount.String())

		exists, err := f.store.TransactionRecordExists("HASH1")
		assert.Nil(t, err)
		assert.True(t, exists)
	})
	t.Run("Should reject stakes below the minimum without writing", func(t *testing.T) {
		f := setup(t)

		outcome, err := f.classifier.ClassifyIncomingPayment(context.Background(), stakePayment("HASH1", "0.999999"))
		assert.Nil(t, err)
		assert.Equal(t, Outcome_StakeRejected, outcome)
		assert.Equal(t, 1, f.alerts.Count())

		account, err := f.store.GetStakeAccount(nil, user)
		assert.Nil(t, err)
		assert.Nil(t, account)
		exists, err := f.store.TransactionRecordExists("HASH1")
		assert.Nil(t, err)
		assert.False(t, exists)
	})
	t.Run("Should apply a replayed hash only once", func(t *testing.T) {
		f := setup(t)

		_, err := f.classifier.ClassifyIncomingPayment(context.Background(), stakePayment("HASH1", "5"))
		assert.Nil(t, err)
		_, err = f.classifier.ClassifyIncomingPayment(context.Background(), stakePayment("HASH1", "5"))
		assert.ErrorIs(t, err, ErrAlreadyProcessed)

		account, err := f.store.GetStakeAccount(nil, user)
		assert.Nil(t, err)
		assert.Equal(t, "5", account.StakedAmount.String())
	})
	t.Run("Should fold accrued reward into the pocket before changing principal", func(t *testing.T) {
		f := setup(t)
		periodStart := now.Add(-48 * time.Hour)
		f.engine.SetClock(func() time.Time { return periodStart })
		_, err := f.engine.CreateRewardPool(periodStart, 30, decimal.NewFromInt(1000))
		assert.Nil(t, err)

		_, err = f.classifier.ClassifyIncomingPayment(context.Background(), stakePayment("HASH1", "100"))
		assert.Nil(t, err)

		f.engine.SetClock(func() time.Time { return periodStart.Add(24 * time.Hour) })
		_, err = f.classifier.ClassifyIncomingPayment(context.Background(), stakePayment("HASH2", "100"))
		assert.Nil(t, err)

		account, err := f.store.GetStakeAccount(nil, user)
		assert.Nil(t, err)
		assert.Equal(t, "200", account.StakedAmount.String())
		assert.Equal(t, "0.19726", account.PocketReward.String())
	})
	t.Run("Should ignore counterfeit issuers and unvalidated payments", func(t *testing.T) {
		f := setup(t)

		p := stakePayment("HASH1", "5")
		p.Issuer = "rFakeIssuer"
		outcome, err := f.classifier.ClassifyIncomingPayment(context.Background(), p)
		assert.Nil(t, err)
		assert.Equal(t, Outcome_Ignored, outcome)

		p = stakePayment("HASH2", "5")
		p.Validated = false
		outcome, err = f.classifier.ClassifyIncomingPayment(context.Background(), p)
		assert.Nil(t, err)
		assert.Equal(t, Outcome_Ignored, outcome)

		p = stakePayment("HASH3", "5")
		p.Result = "tecPATH_DRY"
		outcome, err = f.classifier.ClassifyIncomingPayment(context.Background(), p)
		assert.Nil(t, err)
		assert.Equal(t, Outcome_Ignored, outcome)
	})
}

func Test_SwapPath(t *testing.T) {
	t.Run("Should queue reward to stake swaps at floor(amount / rate)", func(t *testing.T) {
		f := setup(t)
		f.fake.AddTrustLine(user, "GPC", tests.StakeIssuer)

		outcome, err := f.classifier.ClassifyIncomingPayment(context.Background(), swapPayment("SWAP1", "RLUSD", tests.RewardIssuer, "1.234567"))
		assert.Nil(t, err)
		assert.Equal(t, Outcome_SwapQueued, outcome)

		req, err := f.store.GetLatestRequest(storage.Queue_Swap, user)
		assert.Nil(t, err)
		assert.Equal(t, storage.RequestStatus_Pending, req.Status)
		assert.Equal(t, "GPC", req.SendToken)
		assert.Equal(t, "24.69134", req.SendAmount.String())

		exists, err := f.store.TransactionRecordExists("SWAP1")
		assert.Nil(t, err)
		assert.True(t, exists)
	})
	t.Run("Should queue stake to reward swaps at floor(amount * rate - fee)", func(t *testing.T) {
		f := setup(t)
		f.fake.AddTrustLine(user, "RLUSD", tests.RewardIssuer)

		outcome, err := f.classifier.ClassifyIncomingPayment(context.Background(), swapPayment("SWAP1", "GPC", tests.StakeIssuer, "10"))
		assert.Nil(t, err)
		assert.Equal(t, Outcome_SwapQueued, outcome)

		req, err := f.store.GetLatestRequest(storage.Queue_Swap, user)
		assert.Nil(t, err)
		assert.Equal(t, "RLUSD", req.SendToken)
		assert.Equal(t, "0.45", req.SendAmount.String())
	})

	rejections := []struct {
		name      string
		payment   *ledger.Payment
		trustLine bool
		rate      string
		reason    string
	}{
		{"Should reject reward to stake without a stake token trust line", swapPayment("S", "RLUSD", tests.RewardIssuer, "5"), false, "0.05", "no_gpc_trustline"},
		{"Should reject reward to stake below the minimum swap", swapPayment("S", "RLUSD", tests.RewardIssuer, "0.09"), true, "0.05", FailReason_AmountTooSmall},
		{"Should reject reward to stake with a zero rate", swapPayment("S", "RLUSD", tests.RewardIssuer, "5"), true, "0", FailReason_InvalidExchangeRate},
		{"Should reject stake to reward without a reward token trust line", swapPayment("S", "GPC", tests.StakeIssuer, "5"), false, "0.05", "no_rlusd_trustline"},
		{"Should reject stake to reward above the maximum", swapPayment("S", "GPC", tests.StakeIssuer, "1000.000001"), true, "0.05", FailReason_OutOfRangeAmount},
		{"Should reject stake to reward below the minimum", swapPayment("S", "GPC", tests.StakeIssuer, "0.05"), true, "0.05", FailReason_OutOfRangeAmount},
		{"Should reject stake to reward when the fee eats the amount", swapPayment("S", "GPC", tests.StakeIssuer, "1"), true, "0.05", FailReason_AmountTooSmall},
	}
	for _, r := range rejections {
		t.Run(r.name, func(t *testing.T) {
			f := setup(t)
			if r.trustLine {
				f.fake.AddTrustLine(user, "GPC", tests.StakeIssuer)
				f.fake.AddTrustLine(user, "RLUSD", tests.RewardIssuer)
			}
			f.rates.Set(f.cfg.GetRatePair(), decimal.RequireFromString(r.rate))

			outcome, err := f.classifier.ClassifyIncomingPayment(context.Background(), r.payment)
			assert.Nil(t, err)
			assert.Equal(t, Outcome_SwapRejected, outcome)
			assert.Equal(t, 1, f.alerts.Count())

			req, err := f.store.GetLatestRequest(storage.Queue_Swap, user)
			assert.Nil(t, err)
			assert.Equal(t, storage.RequestStatus_Failed, req.Status)
			assert.Equal(t, r.reason, *req.FailReason)
			assert.True(t, req.SendAmount.IsZero())

			exists, err := f.store.TransactionRecordExists("S")
			assert.Nil(t, err)
			assert.False(t, exists)
		})
	}

	t.Run("Should not record a rejected swap twice", func(t *testing.T) {
		f := setup(t)
		_, err := f.classifier.ClassifyIncomingPayment(context.Background(), swapPayment("S", "GPC", tests.StakeIssuer, "5"))
		assert.Nil(t, err)
		_, err = f.classifier.ClassifyIncomingPayment(context.Background(), swapPayment("S", "GPC", tests.StakeIssuer, "5"))
		assert.ErrorIs(t, err, ErrAlreadyProcessed)
		assert.Equal(t, 1, f.alerts.Count())
	})
}
