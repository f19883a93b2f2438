package intake

import (
	"context"
	"fmt"
	"strings"

	"github.com/goldstake/stakebridge/internal/config"
	"github.com/goldstake/stakebridge/internal/metrics"
	"github.com/goldstake/stakebridge/internal/metrics/metricsTypes"
	"github.com/goldstake/stakebridge/internal/types/numbers"
	"github.com/goldstake/stakebridge/pkg/alert"
	"github.com/goldstake/stakebridge/pkg/exchangeRate"
	"github.com/goldstake/stakebridge/pkg/ledger"
	"github.com/goldstake/stakebridge/pkg/postgres/helpers"
	"github.com/goldstake/stakebridge/pkg/rewards"
	"github.com/goldstake/stakebridge/pkg/storage"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ErrAlreadyProcessed is returned when the ledger hash of a payment has already been recorded.
var ErrAlreadyProcessed = errors.New("ledger transaction already processed")

type Outcome string

const (
	Outcome_Ignored       Outcome = "ignored"
	Outcome_Staked        Outcome = "staked"
	Outcome_StakeRejected Outcome = "stake_rejected"
	Outcome_SwapQueued    Outcome = "swap_queued"
	Outcome_SwapRejected  Outcome = "swap_rejected"
)

const (
	FailReason_AmountTooSmall      = "amount_too_small"
	FailReason_OutOfRangeAmount    = "out_of_range_amount"
	FailReason_InvalidExchangeRate = "invalid_exchange_rate"
)

// FailReason_NoTrustLine returns the rejection reason for a sender missing a trust line for currency.
func FailReason_NoTrustLine(currency string) string {
	return fmt.Sprintf("no_%s_trustline", strings.ToLower(currency))
}

// Classifier turns validated inbound payments into durable stake credits and swap requests.
type Classifier struct {
	store        storage.SettlementStore
	ledgerClient ledger.Client
	rates        exchangeRate.Source
	rewards      *rewards.Engine
	alerts       alert.Sink
	metricsSink  *metrics.MetricsSink
	logger       *zap.Logger
	globalConfig *config.Config
}

func NewClassifier(
	store storage.SettlementStore,
	ledgerClient ledger.Client,
	rates exchangeRate.Source,
	rewardsEngine *rewards.Engine,
	alerts alert.Sink,
	ms *metrics.MetricsSink,
	l *zap.Logger,
	cfg *config.Config,
) *Classifier {
	return &Classifier{
		store:        store,
		ledgerClient: ledgerClient,
		rates:        rates,
		rewards:      rewardsEngine,
		alerts:       alerts,
		metricsSink:  ms,
		logger:       l,
		globalConfig: cfg,
	}
}

// WatchedAddresses are the pool accounts whose inbound payments are classified.
func (c *Classifier) WatchedAddresses() []string {
	return []string{c.globalConfig.PoolsConfig.StakeAddress, c.globalConfig.PoolsConfig.SwapAddress}
}

func (c *Classifier) isStakeToken(p *ledger.Payment) bool {
	return p.Currency == c.globalConfig.TokensConfig.StakeCurrency && p.Issuer == c.globalConfig.TokensConfig.StakeIssuer
}

func (c *Classifier) isRewardToken(p *ledger.Payment) bool {
	return p.Currency == c.globalConfig.TokensConfig.RewardCurrency && p.Issuer == c.globalConfig.TokensConfig.RewardIssuer
}

// HandlePayment adapts ClassifyIncomingPayment to a ledger.PaymentHandler.
func (c *Classifier) HandlePayment(ctx context.Context, payment *ledger.Payment) error {
	_, err := c.ClassifyIncomingPayment(ctx, payment)
	return err
}

// ClassifyIncomingPayment routes one validated inbound payment by destination and delivered currency.
// Payments that are not ours to handle are ignored without error. A payment whose hash was already
// recorded returns ErrAlreadyProcessed and changes nothing.
func (c *Classifier) ClassifyIncomingPayment(ctx context.Context, payment *ledger.Payment) (Outcome, error) {
	if payment == nil || !payment.Validated || !payment.IsSuccess() {
		return Outcome_Ignored, nil
	}
	if payment.TransactionType != "" && payment.TransactionType != ledger.TransactionType_Payment {
		return Outcome_Ignored, nil
	}

	var outcome Outcome
	var err error
	var kind string
	switch {
	case payment.Destination == c.globalConfig.PoolsConfig.StakeAddress && c.isStakeToken(payment):
		kind = "stake"
		outcome, err = c.handleStake(ctx, payment)
	case payment.Destination == c.globalConfig.PoolsConfig.SwapAddress && (c.isRewardToken(payment) || c.isStakeToken(payment)):
		kind = "swap"
		outcome, err = c.handleSwap(ctx, payment)
	default:
		c.logger.Sugar().Debugw("Ignoring payment",
			zap.String("hash", payment.Hash),
			zap.String("destination", payment.Destination),
			zap.String("currency", payment.Currency),
			zap.String("issuer", payment.Issuer),
		)
		return Outcome_Ignored, nil
	}

	label := string(outcome)
	if err != nil {
		label = "error"
		if errors.Is(err, ErrAlreadyProcessed) {
			label = "duplicate"
		}
	}
	_ = c.metricsSink.Incr(metricsTypes.Metric_Incr_IntakePayment, []metricsTypes.MetricsLabel{
		{Name: "kind", Value: kind},
		{Name: "outcome", Value: label},
	}, 1)
	return outcome, err
}

func (c *Classifier) handleStake(ctx context.Context, payment *ledger.Payment) (Outcome, error) {
	amount := numbers.Truncate(payment.Amount)
	minStake := c.globalConfig.LimitsConfig.MinStake

	if amount.LessThan(minStake) {
		msg := fmt.Sprintf("Stake rejected: %s sent %s %s, minimum is %s", payment.Account, amount, payment.Currency, minStake)
		c.logger.Sugar().Warnw("Stake below minimum",
			zap.String("hash", payment.Hash),
			zap.String("account", payment.Account),
			zap.String("amount", amount.String()),
		)
		c.alerts.Notify(alert.Level_Warn, msg)
		return Outcome_StakeRejected, nil
	}

	now := c.rewards.Now()
	_, err := helpers.WrapTxAndCommit(func(tx *gorm.DB) (interface{}, error) {
		err := c.store.InsertTransactionRecord(tx, &storage.TransactionRecord{
			Address:   payment.Account,
			Type:      storage.TransactionType_Stake,
			Amount:    amount,
			Symbol:    payment.Currency,
			TxHash:    payment.Hash,
			CreatedAt: now,
		})
		if err != nil {
			if errors.Is(err, storage.ErrDuplicateTransaction) {
				return nil, ErrAlreadyProcessed
			}
			return nil, err
		}

		account, err := c.store.LockStakeAccount(tx, payment.Account, now)
		if err != nil {
			return nil, err
		}
		if err := c.rewards.SnapshotAccount(tx, account, now); err != nil {
			return nil, err
		}
		account.StakedAmount = numbers.Truncate(account.StakedAmount.Add(amount))
		return nil, c.store.SaveStakeAccount(tx, account)
	}, c.store.GetDb(), nil)
	if err != nil {
		if errors.Is(err, ErrAlreadyProcessed) {
			return Outcome_Ignored, err
		}
		c.alerts.Notify(alert.Level_Error, fmt.Sprintf("Failed to record stake %s from %s: %v", payment.Hash, payment.Account, err))
		return Outcome_Ignored, errors.Wrapf(err, "failed to record stake %s", payment.Hash)
	}

	c.logger.Sugar().Infow("Stake recorded",
		zap.String("hash", payment.Hash),
		zap.String("account", payment.Account),
		zap.String("amount", amount.String()),
	)
	return Outcome_Staked, nil
}

type swapQuote struct {
	receiveToken  string
	receiveAmount decimal.Decimal
	sendToken     string
	sendAmount    decimal.Decimal
	failReason    string
}

// quoteSwap applies the eligibility checks in order and computes the outgoing amount.
func (c *Classifier) quoteSwap(ctx context.Context, payment *ledger.Payment) (*swapQuote, error) {
	tokens := c.globalConfig.TokensConfig
	limits := c.globalConfig.LimitsConfig
	amount := numbers.Truncate(payment.Amount)

	q := &swapQuote{
		receiveToken:  payment.Currency,
		receiveAmount: amount,
		sendAmount:    decimal.Zero,
	}

	if c.isRewardToken(payment) {
		q.sendToken = tokens.StakeCurrency
		ok, err := c.ledgerClient.HasTrustLine(ctx, payment.Account, tokens.StakeCurrency, tokens.StakeIssuer)
		if err != nil {
			return nil, errors.Wrap(err, "failed to check stake token trust line")
		}
		if !ok {
			q.failReason = FailReason_NoTrustLine(tokens.StakeCurrency)
			return q, nil
		}
		if amount.LessThan(limits.MinSwap) {
			q.failReason = FailReason_AmountTooSmall
			return q, nil
		}
		rate, ok := c.rates.CurrentRate(c.globalConfig.GetRatePair())
		if !ok {
			q.failReason = FailReason_InvalidExchangeRate
			return q, nil
		}
		out := numbers.ConvertRewardToStake(amount, rate)
		if !out.IsPositive() {
			q.failReason = FailReason_AmountTooSmall
			return q, nil
		}
		q.sendAmount = out
		return q, nil
	}

	q.sendToken = tokens.RewardCurrency
	ok, err := c.ledgerClient.HasTrustLine(ctx, payment.Account, tokens.RewardCurrency, tokens.RewardIssuer)
	if err != nil {
		return nil, errors.Wrap(err, "failed to check reward token trust line")
	}
	if !ok {
		q.failReason = FailReason_NoTrustLine(tokens.RewardCurrency)
		return q, nil
	}
	if amount.LessThan(limits.MinSwap) || amount.GreaterThan(limits.MaxSwapOut) {
		q.failReason = FailReason_OutOfRangeAmount
		return q, nil
	}
	rate, ok := c.rates.CurrentRate(c.globalConfig.GetRatePair())
	if !ok {
		q.failReason = FailReason_InvalidExchangeRate
		return q, nil
	}
	out := numbers.ConvertStakeToReward(amount, rate, limits.SwapFee)
	if !out.IsPositive() {
		q.failReason = FailReason_AmountTooSmall
		return q, nil
	}
	q.sendAmount = out
	return q, nil
}

func (c *Classifier) handleSwap(ctx context.Context, payment *ledger.Payment) (Outcome, error) {
	q, err := c.quoteSwap(ctx, payment)
	if err != nil {
		c.alerts.Notify(alert.Level_Error, fmt.Sprintf("Swap %s from %s could not be evaluated: %v", payment.Hash, payment.Account, err))
		return Outcome_Ignored, err
	}

	now := c.rewards.Now()
	hash := payment.Hash
	req := &storage.SwapRequest{
		SettlementRequest: storage.SettlementRequest{
			Account:    payment.Account,
			SendToken:  q.sendToken,
			SendAmount: q.sendAmount,
			Status:     storage.RequestStatus_Pending,
			CreatedAt:  now,
			UpdatedAt:  now,
		},
		ReceiveToken:  q.receiveToken,
		ReceiveAmount: q.receiveAmount,
		SourceTxHash:  &hash,
	}

	if q.failReason != "" {
		reason := q.failReason
		req.Status = storage.RequestStatus_Failed
		req.FailReason = &reason
		if err := c.store.InsertSwapRequest(nil, req); err != nil {
			if errors.Is(err, storage.ErrDuplicateTransaction) {
				return Outcome_Ignored, ErrAlreadyProcessed
			}
			return Outcome_Ignored, errors.Wrapf(err, "failed to record rejected swap %s", payment.Hash)
		}
		c.logger.Sugar().Warnw("Swap rejected",
			zap.String("hash", payment.Hash),
			zap.String("account", payment.Account),
			zap.String("reason", reason),
		)
		c.alerts.Notify(alert.Level_Warn, fmt.Sprintf("Swap failed: %s (%s, %s %s)", reason, payment.Account, q.receiveAmount, q.receiveToken))
		return Outcome_SwapRejected, nil
	}

	_, err = helpers.WrapTxAndCommit(func(tx *gorm.DB) (interface{}, error) {
		if err := c.store.InsertSwapRequest(tx, req); err != nil {
			return nil, err
		}
		return nil, c.store.InsertTransactionRecord(tx, &storage.TransactionRecord{
			Address:   payment.Account,
			Type:      storage.TransactionType_SwapIn,
			Amount:    q.receiveAmount,
			Symbol:    q.receiveToken,
			TxHash:    payment.Hash,
			CreatedAt: now,
		})
	}, c.store.GetDb(), nil)
	if err != nil {
		if errors.Is(err, storage.ErrDuplicateTransaction) {
			return Outcome_Ignored, ErrAlreadyProcessed
		}
		c.alerts.Notify(alert.Level_Error, fmt.Sprintf("Swap failed for %s: %v", payment.Account, err))
		return Outcome_Ignored, errors.Wrapf(err, "failed to record swap %s", payment.Hash)
	}

	c.logger.Sugar().Infow("Swap queued",
		zap.String("hash", payment.Hash),
		zap.String("account", payment.Account),
		zap.String("receive", fmt.Sprintf("%s %s", q.receiveAmount, q.receiveToken)),
		zap.String("send", fmt.Sprintf("%s %s", q.sendAmount, q.sendToken)),
	)
	return Outcome_SwapQueued, nil
}
