package authorization

import (
	"context"
	"fmt"
	"time"

	"github.com/goldstake/stakebridge/internal/config"
	"github.com/goldstake/stakebridge/internal/types/numbers"
	"github.com/goldstake/stakebridge/pkg/postgres/helpers"
	"github.com/goldstake/stakebridge/pkg/rewards"
	"github.com/goldstake/stakebridge/pkg/storage"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	ErrAuthorizationMismatch = errors.New("requester and signer do not match")
	ErrIntentNotFound        = errors.New("no pending authorization for this session")
	ErrIntentConsumed        = errors.New("authorization already used")
	ErrInvalidAmount         = errors.New("invalid amount")
	ErrInvalidAction         = errors.New("invalid action")
	ErrInsufficientStake     = errors.New("insufficient staking balance")
	ErrInsufficientReward    = errors.New("insufficient claimable reward")
	ErrBelowMinimumFee       = errors.New("claimable reward does not cover the claim fee")
)

// ClaimAll is the only amount accepted for claims; it resolves to the whole accumulated reward.
var ClaimAll = decimal.NewFromInt(-1)

// VerifiedAuthorization is emitted by the external signing exchange once a signature is confirmed.
type VerifiedAuthorization struct {
	SessionId     string
	SignerAccount string
}

type Result struct {
	Action    storage.IntentAction
	Account   string
	RequestId uint64
	Amount    decimal.Decimal
}

// Gate records authorization intents and turns verified ones into settlement requests.
type Gate struct {
	store        storage.SettlementStore
	rewards      *rewards.Engine
	logger       *zap.Logger
	globalConfig *config.Config
}

func NewGate(store storage.SettlementStore, rewardsEngine *rewards.Engine, l *zap.Logger, cfg *config.Config) *Gate {
	return &Gate{
		store:        store,
		rewards:      rewardsEngine,
		logger:       l,
		globalConfig: cfg,
	}
}

// RequestAuthorization validates a user request and stores a pending intent bound to the signing
// session. Claims must pass ClaimAll, which is resolved to the current accumulated reward.
func (g *Gate) RequestAuthorization(
	ctx context.Context,
	account string,
	action storage.IntentAction,
	amount decimal.Decimal,
	sessionId string,
) (*storage.AuthorizationIntent, error) {
	if sessionId == "" {
		sessionId = uuid.NewString()
	}
	now := g.rewards.Now()

	switch action {
	case storage.IntentAction_Unstake:
		amount = numbers.Truncate(amount)
		if !amount.IsPositive() {
			return nil, ErrInvalidAmount
		}
		stake, err := g.store.GetStakeAccount(nil, account)
		if err != nil {
			return nil, err
		}
		if stake == nil || amount.GreaterThan(stake.StakedAmount) {
			return nil, ErrInsufficientStake
		}
	case storage.IntentAction_Claim:
		if !amount.Equal(ClaimAll) {
			return nil, errors.Wrap(ErrInvalidAmount, "claims only accept -1")
		}
		reward, err := g.rewards.AccumulatedRewardForAddress(account)
		if err != nil {
			return nil, err
		}
		fee := g.globalConfig.LimitsConfig.ClaimFee
		if reward.LessThan(fee) || !numbers.Truncate(reward.Sub(fee)).IsPositive() {
			return nil, ErrBelowMinimumFee
		}
		amount = reward
	default:
		return nil, ErrInvalidAction
	}

	intent := &storage.AuthorizationIntent{
		Account:   account,
		Nonce:     uuid.NewString(),
		Action:    action,
		Amount:    amount,
		SessionId: sessionId,
		Status:    storage.IntentStatus_Pending,
		CreatedAt: now,
	}
	if err := g.store.InsertAuthorizationIntent(nil, intent); err != nil {
		return nil, err
	}
	g.logger.Sugar().Infow("Authorization requested",
		zap.String("account", account),
		zap.String("action", string(action)),
		zap.String("amount", amount.String()),
		zap.String("sessionId", sessionId),
	)
	return intent, nil
}

// OnVerifiedAuthorization consumes the pending intent of the session and, in the same transaction,
// reserves the balance and queues the outbound transfer. Any failure leaves no partial state.
func (g *Gate) OnVerifiedAuthorization(ctx context.Context, v *VerifiedAuthorization) (*Result, error) {
	now := g.rewards.Now()

	res, err := helpers.WrapTxAndCommit(func(tx *gorm.DB) (*Result, error) {
		intent, err := g.store.LockPendingIntent(tx, v.SessionId)
		if err != nil {
			return nil, err
		}
		if intent == nil {
			return nil, ErrIntentNotFound
		}
		if intent.Account != v.SignerAccount {
			return nil, ErrAuthorizationMismatch
		}
		ok, err := g.store.MarkIntentVerified(tx, intent.Id, now)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, ErrIntentConsumed
		}

		account, err := g.store.LockStakeAccount(tx, intent.Account, now)
		if err != nil {
			return nil, err
		}

		switch intent.Action {
		case storage.IntentAction_Unstake:
			return g.reserveUnstake(tx, intent, account, now)
		case storage.IntentAction_Claim:
			return g.reserveClaim(tx, intent, account, now)
		}
		return nil, ErrInvalidAction
	}, g.store.GetDb(), nil)
	if err != nil {
		g.logger.Sugar().Warnw("Authorization rejected",
			zap.String("sessionId", v.SessionId),
			zap.String("signer", v.SignerAccount),
			zap.Error(err),
		)
		return nil, err
	}

	g.logger.Sugar().Infow("Authorization verified",
		zap.String("account", res.Account),
		zap.String("action", string(res.Action)),
		zap.Uint64("requestId", res.RequestId),
		zap.String("amount", res.Amount.String()),
	)
	return res, nil
}

func (g *Gate) reserveUnstake(tx *gorm.DB, intent *storage.AuthorizationIntent, account *storage.StakeAccount, now time.Time) (*Result, error) {
	amount := numbers.Truncate(intent.Amount)
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	if amount.GreaterThan(account.StakedAmount) {
		return nil, ErrInsufficientStake
	}

	if err := g.rewards.SnapshotAccount(tx, account, now); err != nil {
		return nil, err
	}
	account.StakedAmount = account.StakedAmount.Sub(amount)
	if err := g.store.SaveStakeAccount(tx, account); err != nil {
		return nil, err
	}

	req := &storage.UnstakeRequest{
		SettlementRequest: storage.SettlementRequest{
			Account:    intent.Account,
			SendToken:  g.globalConfig.TokensConfig.StakeCurrency,
			SendAmount: amount,
			Status:     storage.RequestStatus_Pending,
			CreatedAt:  now,
			UpdatedAt:  now,
		},
	}
	if err := g.store.InsertUnstakeRequest(tx, req); err != nil {
		return nil, err
	}
	return &Result{Action: intent.Action, Account: intent.Account, RequestId: req.Id, Amount: amount}, nil
}

func (g *Gate) reserveClaim(tx *gorm.DB, intent *storage.AuthorizationIntent, account *storage.StakeAccount, now time.Time) (*Result, error) {
	fee := g.globalConfig.LimitsConfig.ClaimFee

	reward, err := g.rewards.AccumulatedReward(tx, account, now)
	if err != nil {
		return nil, err
	}
	if intent.Amount.GreaterThan(reward) {
		return nil, errors.Wrapf(ErrInsufficientReward, "requested %s, available %s", intent.Amount, reward)
	}
	if !intent.Amount.GreaterThan(fee) {
		return nil, ErrBelowMinimumFee
	}
	payout := numbers.Truncate(intent.Amount.Sub(fee))
	if !payout.IsPositive() {
		return nil, ErrBelowMinimumFee
	}

	req := &storage.ClaimRequest{
		SettlementRequest: storage.SettlementRequest{
			Account:    intent.Account,
			SendToken:  g.globalConfig.TokensConfig.RewardCurrency,
			SendAmount: payout,
			Status:     storage.RequestStatus_Pending,
			CreatedAt:  now,
			UpdatedAt:  now,
		},
	}
	if err := g.store.InsertClaimRequest(tx, req); err != nil {
		return nil, err
	}

	claimedAt := now
	account.PocketReward = decimal.Zero
	account.LastClaimAt = &claimedAt
	account.UpdatedAt = now
	if err := g.store.SaveStakeAccount(tx, account); err != nil {
		return nil, fmt.Errorf("failed to reset reward: %w", err)
	}
	return &Result{Action: intent.Action, Account: intent.Account, RequestId: req.Id, Amount: payout}, nil
}
