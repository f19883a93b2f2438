package settlement

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/goldstake/stakebridge/internal/config"
	"github.com/goldstake/stakebridge/internal/metrics"
	"github.com/goldstake/stakebridge/internal/metrics/metricsTypes"
	"github.com/goldstake/stakebridge/pkg/alert"
	"github.com/goldstake/stakebridge/pkg/ledger"
	"github.com/goldstake/stakebridge/pkg/postgres/helpers"
	"github.com/goldstake/stakebridge/pkg/storage"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ErrTickInProgress is returned when a tick of the same queue is still running in this process.
var ErrTickInProgress = errors.New("settlement tick already in progress")

const FailReason_UnknownToken = "unknown_token"

type ProcessorConfig struct {
	Queue         storage.Queue
	SenderAddress string
	SenderSecret  string
	RecordType    storage.TransactionType
	Interval      time.Duration
}

// ProcessorConfigsFromGlobalConfig returns one processor configuration per queue. Swaps pay out of the
// swap pool, unstakes and claims out of the stake pool.
func ProcessorConfigsFromGlobalConfig(cfg *config.Config) []*ProcessorConfig {
	return []*ProcessorConfig{
		{
			Queue:         storage.Queue_Swap,
			SenderAddress: cfg.PoolsConfig.SwapAddress,
			SenderSecret:  cfg.PoolsConfig.SwapSecret,
			RecordType:    storage.TransactionType_SwapOut,
			Interval:      cfg.SettlementConfig.SwapInterval,
		},
		{
			Queue:         storage.Queue_Unstake,
			SenderAddress: cfg.PoolsConfig.StakeAddress,
			SenderSecret:  cfg.PoolsConfig.StakeSecret,
			RecordType:    storage.TransactionType_Unstake,
			Interval:      cfg.SettlementConfig.UnstakeInterval,
		},
		{
			Queue:         storage.Queue_Claim,
			SenderAddress: cfg.PoolsConfig.StakeAddress,
			SenderSecret:  cfg.PoolsConfig.StakeSecret,
			RecordType:    storage.TransactionType_Claim,
			Interval:      cfg.SettlementConfig.ClaimInterval,
		},
	}
}

// Processor settles the requests of one queue, oldest first, one per tick.
type Processor struct {
	config       *ProcessorConfig
	store        storage.SettlementStore
	ledgerClient ledger.Client
	alerts       alert.Sink
	metricsSink  *metrics.MetricsSink
	logger       *zap.Logger
	globalConfig *config.Config
	clock        func() time.Time

	// held for a whole tick so that a slow transfer never overlaps the next tick
	mu sync.Mutex
}

func NewProcessor(
	cfg *ProcessorConfig,
	store storage.SettlementStore,
	ledgerClient ledger.Client,
	alerts alert.Sink,
	ms *metrics.MetricsSink,
	l *zap.Logger,
	gCfg *config.Config,
) *Processor {
	return &Processor{
		config:       cfg,
		store:        store,
		ledgerClient: ledgerClient,
		alerts:       alerts,
		metricsSink:  ms,
		logger:       l.With(zap.String("queue", string(cfg.Queue))),
		globalConfig: gCfg,
		clock:        func() time.Time { return time.Now().UTC() },
	}
}

func (p *Processor) SetClock(clock func() time.Time) {
	p.clock = clock
}

func (p *Processor) Queue() storage.Queue {
	return p.config.Queue
}

func (p *Processor) issuerFor(token string) (string, bool) {
	tokens := p.globalConfig.TokensConfig
	switch token {
	case tokens.StakeCurrency:
		return tokens.StakeIssuer, true
	case tokens.RewardCurrency:
		return tokens.RewardIssuer, true
	}
	return "", false
}

// claim selects the oldest pending request under a row lock and flips it to processing. It returns
// nil when the queue is empty or another worker won the row.
func (p *Processor) claim() (*storage.SettlementRequest, error) {
	return helpers.WrapTxAndCommit(func(tx *gorm.DB) (*storage.SettlementRequest, error) {
		req, err := p.store.SelectOldestPending(tx, p.config.Queue)
		if err != nil {
			return nil, err
		}
		if req == nil {
			return nil, nil
		}
		ok, err := p.store.MarkProcessing(tx, p.config.Queue, req.Id, p.clock())
		if err != nil {
			return nil, err
		}
		if !ok {
			p.logger.Sugar().Infow("Request already claimed", zap.Uint64("id", req.Id))
			return nil, nil
		}
		return req, nil
	}, p.store.GetDb(), nil)
}

// Tick settles at most one request. The returned request is nil when there was nothing to do.
func (p *Processor) Tick(ctx context.Context) (*storage.SettlementRequest, error) {
	if !p.mu.TryLock() {
		return nil, ErrTickInProgress
	}
	defer p.mu.Unlock()

	req, err := p.claim()
	if err != nil {
		return nil, errors.Wrap(err, "failed to claim pending request")
	}
	if req == nil {
		return nil, nil
	}

	p.logger.Sugar().Infow("Processing request",
		zap.Uint64("id", req.Id),
		zap.String("account", req.Account),
		zap.String("amount", req.SendAmount.String()),
		zap.String("token", req.SendToken),
	)

	issuer, ok := p.issuerFor(req.SendToken)
	if !ok {
		return req, p.fail(req, FailReason_UnknownToken)
	}

	// the transfer outlives shutdown; the client's finality timeout bounds it
	start := time.Now()
	result, err := p.ledgerClient.SubmitTransfer(context.WithoutCancel(ctx), &ledger.TransferRequest{
		Sender:       p.config.SenderAddress,
		SenderSecret: p.config.SenderSecret,
		Destination:  req.Account,
		Currency:     req.SendToken,
		Issuer:       issuer,
		Amount:       req.SendAmount,
	})
	_ = p.metricsSink.Timing(metricsTypes.Metric_Timing_TransferDuration, time.Since(start), []metricsTypes.MetricsLabel{
		{Name: "queue", Value: string(p.config.Queue)},
	})

	if err != nil {
		return req, p.fail(req, err.Error())
	}
	if !result.Success {
		reason := result.FailureCode
		if reason == "" {
			reason = "unknown ledger error"
		}
		return req, p.fail(req, reason)
	}
	return req, p.complete(req, result.Hash)
}

func (p *Processor) complete(req *storage.SettlementRequest, hash string) error {
	now := p.clock()
	_, err := helpers.WrapTxAndCommit(func(tx *gorm.DB) (interface{}, error) {
		ok, err := p.store.MarkCompleted(tx, p.config.Queue, req.Id, now)
		if err != nil {
			return nil, err
		}
		if !ok {
			p.alerts.Notify(alert.Level_Error, fmt.Sprintf("%s request %d was paid (%s) but is no longer processing", p.config.Queue, req.Id, hash))
		}
		return nil, p.store.InsertTransactionRecord(tx, &storage.TransactionRecord{
			Address:   req.Account,
			Type:      p.config.RecordType,
			Amount:    req.SendAmount,
			Symbol:    req.SendToken,
			TxHash:    hash,
			CreatedAt: now,
		})
	}, p.store.GetDb(), nil)
	if err != nil {
		p.alerts.Notify(alert.Level_Error, fmt.Sprintf("%s request %d was paid (%s) but could not be finalized: %v", p.config.Queue, req.Id, hash, err))
		return errors.Wrapf(err, "failed to finalize %s request %d", p.config.Queue, req.Id)
	}

	p.incr("completed")
	p.logger.Sugar().Infow("Request completed",
		zap.Uint64("id", req.Id),
		zap.String("account", req.Account),
		zap.String("hash", hash),
	)
	return nil
}

func (p *Processor) fail(req *storage.SettlementRequest, reason string) error {
	ok, err := p.store.MarkFailed(nil, p.config.Queue, req.Id, reason, p.clock())
	if err != nil {
		p.alerts.Notify(alert.Level_Error, fmt.Sprintf("%s request %d failed (%s) and could not be marked: %v", p.config.Queue, req.Id, reason, err))
		return errors.Wrapf(err, "failed to mark %s request %d failed", p.config.Queue, req.Id)
	}
	if !ok {
		p.logger.Sugar().Warnw("Request left processing before it could be failed", zap.Uint64("id", req.Id))
	}

	p.incr("failed")
	p.logger.Sugar().Errorw("Request failed",
		zap.Uint64("id", req.Id),
		zap.String("account", req.Account),
		zap.String("reason", reason),
	)

	level := alert.Level_Warn
	if p.config.Queue != storage.Queue_Swap {
		// the balance was already reserved when the request was created
		level = alert.Level_Error
	}
	p.alerts.Notify(level, fmt.Sprintf("%s request %d for %s (%s %s) failed: %s", p.config.Queue, req.Id, req.Account, req.SendAmount, req.SendToken, reason))
	return nil
}

func (p *Processor) incr(outcome string) {
	_ = p.metricsSink.Incr(metricsTypes.Metric_Incr_SettlementRequest, []metricsTypes.MetricsLabel{
		{Name: "queue", Value: string(p.config.Queue)},
		{Name: "outcome", Value: outcome},
	}, 1)
}

// Run ticks the processor at its configured interval until ctx is done.
func (p *Processor) Run(ctx context.Context) {
	interval := p.config.Interval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	p.logger.Sugar().Infow("Starting settlement processor", zap.Duration("interval", interval))
	for {
		select {
		case <-ctx.Done():
			p.logger.Sugar().Infow("Stopping settlement processor")
			return
		case <-ticker.C:
			if _, err := p.Tick(ctx); err != nil && !errors.Is(err, ErrTickInProgress) {
				p.logger.Sugar().Errorw("Settlement tick failed", zap.Error(err))
			}
		}
	}
}
