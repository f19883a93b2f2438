package listener

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/goldstake/stakebridge/pkg/intake"
	"github.com/goldstake/stakebridge/pkg/ledger"
	"github.com/goldstake/stakebridge/pkg/recovery"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Listener feeds the live ledger stream of the watched addresses into the classifier.
type Listener struct {
	ledgerClient ledger.Client
	classifier   *intake.Classifier
	recovery     *recovery.Recovery
	logger       *zap.Logger

	recovering atomic.Bool
	wg         sync.WaitGroup
}

func NewListener(ledgerClient ledger.Client, classifier *intake.Classifier, r *recovery.Recovery, l *zap.Logger) *Listener {
	return &Listener{
		ledgerClient: ledgerClient,
		classifier:   classifier,
		recovery:     r,
		logger:       l,
	}
}

// Start blocks until ctx is done. Every reconnect schedules a recovery pass, at most one at a time.
func (l *Listener) Start(ctx context.Context) error {
	addresses := l.classifier.WatchedAddresses()
	l.logger.Sugar().Infow("Listening for payments", zap.Strings("addresses", addresses))

	err := l.ledgerClient.Listen(ctx, addresses, l.handlePayment, func() {
		l.triggerRecovery(ctx)
	})
	l.wg.Wait()
	return err
}

func (l *Listener) handlePayment(ctx context.Context, payment *ledger.Payment) error {
	outcome, err := l.classifier.ClassifyIncomingPayment(ctx, payment)
	if err != nil {
		if errors.Is(err, intake.ErrAlreadyProcessed) {
			l.logger.Sugar().Debugw("Payment already processed", zap.String("hash", payment.Hash))
			return nil
		}
		l.logger.Sugar().Errorw("Failed to classify payment",
			zap.String("hash", payment.Hash),
			zap.Error(err),
		)
		return err
	}
	l.logger.Sugar().Debugw("Classified payment",
		zap.String("hash", payment.Hash),
		zap.String("outcome", string(outcome)),
	)
	return nil
}

func (l *Listener) triggerRecovery(ctx context.Context) {
	if l.recovery == nil || !l.recovering.CompareAndSwap(false, true) {
		return
	}
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		defer l.recovering.Store(false)
		if _, err := l.recovery.RecoverFromCheckpoint(ctx); err != nil {
			l.logger.Sugar().Errorw("Recovery after reconnect failed", zap.Error(err))
		}
	}()
}
