package recovery

import (
	"context"
	"fmt"
	"time"

	"github.com/goldstake/stakebridge/internal/config"
	"github.com/goldstake/stakebridge/internal/metrics"
	"github.com/goldstake/stakebridge/internal/metrics/metricsTypes"
	"github.com/goldstake/stakebridge/pkg/alert"
	"github.com/goldstake/stakebridge/pkg/intake"
	"github.com/goldstake/stakebridge/pkg/ledger"
	"github.com/goldstake/stakebridge/pkg/storage"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// CheckpointMargin is subtracted from a stored checkpoint so that payments validated while the previous
// pass was running are scanned again.
const CheckpointMargin = 10 * time.Minute

type Summary struct {
	Inspected int
	Replayed  int
	Skipped   int
	Ignored   int
	Failed    int
}

func (s *Summary) add(o *Summary) {
	s.Inspected += o.Inspected
	s.Replayed += o.Replayed
	s.Skipped += o.Skipped
	s.Ignored += o.Ignored
	s.Failed += o.Failed
}

// Recovery replays ledger history that the live listener may have missed through the classifier.
type Recovery struct {
	store        storage.SettlementStore
	ledgerClient ledger.Client
	classifier   *intake.Classifier
	alerts       alert.Sink
	metricsSink  *metrics.MetricsSink
	logger       *zap.Logger
	globalConfig *config.Config
	clock        func() time.Time
}

func NewRecovery(
	store storage.SettlementStore,
	ledgerClient ledger.Client,
	classifier *intake.Classifier,
	alerts alert.Sink,
	ms *metrics.MetricsSink,
	l *zap.Logger,
	cfg *config.Config,
) *Recovery {
	return &Recovery{
		store:        store,
		ledgerClient: ledgerClient,
		classifier:   classifier,
		alerts:       alerts,
		metricsSink:  ms,
		logger:       l,
		globalConfig: cfg,
		clock:        func() time.Time { return time.Now().UTC() },
	}
}

func (r *Recovery) SetClock(clock func() time.Time) {
	r.clock = clock
}

// Recover scans every watched address for payments at or after since, inspecting at most
// limitPerAddress history entries per address.
func (r *Recovery) Recover(ctx context.Context, since time.Time, limitPerAddress int) (*Summary, error) {
	total := &Summary{}
	for _, address := range r.classifier.WatchedAddresses() {
		s, err := r.recoverAddress(ctx, address, since, limitPerAddress)
		total.add(s)
		if err != nil {
			return total, err
		}
	}
	r.logSummary(since, total)
	return total, nil
}

// RecoverFromCheckpoint runs a pass using the configured since, or each address's stored checkpoint
// when none is configured. Addresses that have never been scanned are scanned without a lower bound.
func (r *Recovery) RecoverFromCheckpoint(ctx context.Context) (*Summary, error) {
	limit := r.globalConfig.RecoveryConfig.LimitPerAddress
	if !r.globalConfig.RecoveryConfig.Since.IsZero() {
		return r.Recover(ctx, r.globalConfig.RecoveryConfig.Since, limit)
	}

	total := &Summary{}
	for _, address := range r.classifier.WatchedAddresses() {
		checkpoint, err := r.store.GetRecoveryCheckpoint(address)
		if err != nil {
			return total, err
		}
		since := time.Time{}
		if checkpoint != nil {
			since = checkpoint.ScannedFrom.Add(-CheckpointMargin)
		}
		s, err := r.recoverAddress(ctx, address, since, limit)
		total.add(s)
		if err != nil {
			return total, err
		}
	}
	r.logSummary(time.Time{}, total)
	return total, nil
}

func (r *Recovery) logSummary(since time.Time, s *Summary) {
	r.logger.Sugar().Infow("Recovery pass complete",
		zap.Time("since", since),
		zap.Int("inspected", s.Inspected),
		zap.Int("replayed", s.Replayed),
		zap.Int("skipped", s.Skipped),
		zap.Int("ignored", s.Ignored),
		zap.Int("failed", s.Failed),
	)
}

func (r *Recovery) recoverAddress(ctx context.Context, address string, since time.Time, limit int) (*Summary, error) {
	summary := &Summary{}
	passStart := r.clock()
	pageSize := r.globalConfig.RecoveryConfig.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}

	// covered means the scan reached since or the start of history; only then may the checkpoint move
	var cursor interface{}
	scanned := 0
	covered := false
	for scanned < limit {
		if ctx.Err() != nil {
			return summary, ctx.Err()
		}
		remaining := limit - scanned
		if remaining > pageSize {
			remaining = pageSize
		}

		page, err := r.ledgerClient.FetchHistory(ctx, address, cursor, remaining)
		if err != nil {
			r.alerts.Notify(alert.Level_Error, fmt.Sprintf("Recovery could not fetch history for %s: %v", address, err))
			return summary, errors.Wrapf(err, "failed to fetch history for %s", address)
		}

		for _, payment := range page.Payments {
			summary.Inspected++
			if !since.IsZero() && payment.Date.Before(since) {
				// history is newest first
				covered = true
				break
			}
			r.replay(ctx, payment, summary)
		}

		// an empty page that still carries a cursor spends one unit so the scan terminates
		scanned += max(page.Scanned, len(page.Payments), 1)

		if covered || (!since.IsZero() && !page.Oldest.IsZero() && page.Oldest.Before(since)) {
			covered = true
			break
		}
		if page.Cursor == nil {
			covered = true
			break
		}
		cursor = page.Cursor
	}

	if !covered {
		r.logger.Sugar().Warnw("Recovery stopped at the per address limit",
			zap.String("address", address),
			zap.Int("scanned", scanned),
			zap.Time("since", since),
		)
		return summary, nil
	}

	if summary.Failed == 0 {
		err := r.store.SaveRecoveryCheckpoint(&storage.RecoveryCheckpoint{
			Address:     address,
			ScannedFrom: passStart,
			CompletedAt: r.clock(),
		})
		if err != nil {
			return summary, err
		}
	}
	return summary, nil
}

func (r *Recovery) replay(ctx context.Context, payment *ledger.Payment, summary *Summary) {
	if !payment.Validated || payment.TransactionType != ledger.TransactionType_Payment {
		summary.Ignored++
		return
	}

	recorded, err := r.store.TransactionRecordExists(payment.Hash)
	if err == nil && !recorded {
		recorded, err = r.store.SwapSourceExists(payment.Hash)
	}
	if err != nil {
		r.failed(payment, err, summary)
		return
	}
	if recorded {
		summary.Skipped++
		return
	}

	outcome, err := r.classifier.ClassifyIncomingPayment(ctx, payment)
	switch {
	case errors.Is(err, intake.ErrAlreadyProcessed):
		summary.Skipped++
	case err != nil:
		r.failed(payment, err, summary)
	case outcome == intake.Outcome_Ignored:
		summary.Ignored++
	default:
		summary.Replayed++
		r.incr("replayed")
		r.logger.Sugar().Infow("Replayed missed payment",
			zap.String("hash", payment.Hash),
			zap.String("account", payment.Account),
			zap.String("outcome", string(outcome)),
		)
	}
}

func (r *Recovery) failed(payment *ledger.Payment, err error, summary *Summary) {
	summary.Failed++
	r.incr("failed")
	r.logger.Sugar().Errorw("Failed to replay payment",
		zap.String("hash", payment.Hash),
		zap.Error(err),
	)
	r.alerts.Notify(alert.Level_Error, fmt.Sprintf("Recovery failed for %s: %v", payment.Hash, err))
}

func (r *Recovery) incr(outcome string) {
	_ = r.metricsSink.Incr(metricsTypes.Metric_Incr_RecoveryReplayed, []metricsTypes.MetricsLabel{
		{Name: "outcome", Value: outcome},
	}, 1)
}

// Run repeats RecoverFromCheckpoint at interval until ctx is done.
func (r *Recovery) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.RecoverFromCheckpoint(ctx); err != nil {
				r.logger.Sugar().Errorw("Recovery pass failed", zap.Error(err))
			}
		}
	}
}
