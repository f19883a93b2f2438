package bridge

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/goldstake/stakebridge/internal/config"
	"github.com/goldstake/stakebridge/internal/metrics"
	"github.com/goldstake/stakebridge/pkg/alert"
	"github.com/goldstake/stakebridge/pkg/exchangeRate"
	"github.com/goldstake/stakebridge/pkg/intake"
	"github.com/goldstake/stakebridge/pkg/ledger"
	"github.com/goldstake/stakebridge/pkg/listener"
	"github.com/goldstake/stakebridge/pkg/recovery"
	"github.com/goldstake/stakebridge/pkg/rewards"
	"github.com/goldstake/stakebridge/pkg/settlement"
	"github.com/goldstake/stakebridge/pkg/storage"
	"go.uber.org/zap"
)

type Bridge struct {
	Logger       *zap.Logger
	GlobalConfig *config.Config
	Storage      storage.SettlementStore
	LedgerClient ledger.Client
	Alerts       alert.Sink
	Rates        *exchangeRate.Cache
	Listener     *listener.Listener
	Processors   []*settlement.Processor
	Sweeper      *settlement.Sweeper
	Recovery     *recovery.Recovery
	ShutdownChan chan bool

	shouldShutdown *atomic.Bool
}

func NewBridge(
	gCfg *config.Config,
	s storage.SettlementStore,
	lc ledger.Client,
	alerts alert.Sink,
	rates *exchangeRate.Cache,
	lst *listener.Listener,
	processors []*settlement.Processor,
	sweeper *settlement.Sweeper,
	r *recovery.Recovery,
	l *zap.Logger,
) *Bridge {
	shouldShutdown := &atomic.Bool{}
	shouldShutdown.Store(false)
	return &Bridge{
		Logger:         l,
		GlobalConfig:   gCfg,
		Storage:        s,
		LedgerClient:   lc,
		Alerts:         alerts,
		Rates:          rates,
		Listener:       lst,
		Processors:     processors,
		Sweeper:        sweeper,
		Recovery:       r,
		ShutdownChan:   make(chan bool),
		shouldShutdown: shouldShutdown,
	}
}

// NewBridgeFromConfig wires every component of the bridge around a store and a ledger client.
func NewBridgeFromConfig(
	gCfg *config.Config,
	s storage.SettlementStore,
	lc ledger.Client,
	alerts alert.Sink,
	ms *metrics.MetricsSink,
	l *zap.Logger,
) *Bridge {
	rewardsEngine := rewards.NewEngine(s, alerts, ms, l, gCfg)
	rates := exchangeRate.NewCache(s, []string{gCfg.GetRatePair()}, l)
	classifier := intake.NewClassifier(s, lc, rates, rewardsEngine, alerts, ms, l, gCfg)
	r := recovery.NewRecovery(s, lc, classifier, alerts, ms, l, gCfg)

	processors := make([]*settlement.Processor, 0, 3)
	for _, pc := range settlement.ProcessorConfigsFromGlobalConfig(gCfg) {
		processors = append(processors, settlement.NewProcessor(pc, s, lc, alerts, ms, l, gCfg))
	}
	sweeper := settlement.NewSweeper(settlement.SweeperConfigFromGlobalConfig(gCfg), s, alerts, ms, l)

	return NewBridge(gCfg, s, lc, alerts, rates, listener.NewListener(lc, classifier, r, l), processors, sweeper, r, l)
}

// CheckPools verifies that both pool accounts exist and can hold both tokens.
func (b *Bridge) CheckPools(ctx context.Context) error {
	pools := b.GlobalConfig.PoolsConfig
	tokens := b.GlobalConfig.TokensConfig
	for _, address := range []string{pools.StakeAddress, pools.SwapAddress} {
		for _, token := range [][2]string{
			{tokens.StakeCurrency, tokens.StakeIssuer},
			{tokens.RewardCurrency, tokens.RewardIssuer},
		} {
			ok, err := b.LedgerClient.HasTrustLine(ctx, address, token[0], token[1])
			if err != nil {
				return fmt.Errorf("failed to check pool %s: %w", address, err)
			}
			if !ok {
				return fmt.Errorf("pool %s has no %s trust line", address, token[0])
			}
		}
	}
	return nil
}

// Start runs every worker until ctx is done or a shutdown is signalled.
func (b *Bridge) Start(ctx context.Context) error {
	b.Logger.Info("Starting bridge")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		for range b.ShutdownChan {
			b.Logger.Sugar().Infow("Received shutdown signal")
			b.shouldShutdown.Store(true)
			cancel()
		}
	}()

	if err := b.CheckPools(ctx); err != nil {
		b.Alerts.Notify(alert.Level_Error, fmt.Sprintf("Bridge failed to start: %v", err))
		return err
	}

	if err := b.Rates.Refresh(); err != nil {
		b.Logger.Sugar().Warnw("Failed to load exchange rates", zap.Error(err))
	}

	if b.GlobalConfig.RecoveryConfig.OnBoot {
		if _, err := b.Recovery.RecoverFromCheckpoint(ctx); err != nil {
			b.Logger.Sugar().Errorw("Boot recovery failed", zap.Error(err))
		}
	}

	var wg sync.WaitGroup
	run := func(fn func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn()
		}()
	}

	run(func() { b.Rates.Run(ctx, b.GlobalConfig.ExchangeRateConfig.RefreshInterval) })
	for _, p := range b.Processors {
		p := p
		run(func() { p.Run(ctx) })
	}
	run(func() { b.Sweeper.Run(ctx) })
	if interval := b.GlobalConfig.RecoveryConfig.Interval; interval > 0 {
		run(func() { b.Recovery.Run(ctx, interval) })
	}
	run(func() {
		if err := b.Listener.Start(ctx); err != nil {
			b.Logger.Sugar().Errorw("Listener stopped", zap.Error(err))
		}
	})

	b.Alerts.Notify(alert.Level_Info, "Bridge started")
	<-ctx.Done()
	wg.Wait()
	b.Logger.Sugar().Infow("Bridge stopped")
	return nil
}

func (b *Bridge) ShuttingDown() bool {
	return b.shouldShutdown.Load()
}
