package exchangeRate

import (
	"context"
	"sync"
	"time"

	"github.com/goldstake/stakebridge/pkg/storage"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Source serves the latest known rate for a pair. ok is false when no usable rate is known.
type Source interface {
	CurrentRate(pair string) (rate decimal.Decimal, ok bool)
}

// Cache keeps the latest oracle rate per pair in memory, reloading it from the exchange_rates table.
type Cache struct {
	store  storage.SettlementStore
	logger *zap.Logger
	pairs  []string

	mu    sync.RWMutex
	rates map[string]decimal.Decimal
}

func NewCache(store storage.SettlementStore, pairs []string, l *zap.Logger) *Cache {
	return &Cache{
		store:  store,
		logger: l,
		pairs:  pairs,
		rates:  make(map[string]decimal.Decimal),
	}
}

func (c *Cache) CurrentRate(pair string) (decimal.Decimal, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	rate, ok := c.rates[pair]
	if !ok || !rate.IsPositive() {
		return decimal.Zero, false
	}
	return rate, true
}

func (c *Cache) Set(pair string, rate decimal.Decimal) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rates[pair] = rate
}

// Refresh reloads every tracked pair. A pair with no stored rate keeps its previous value.
func (c *Cache) Refresh() error {
	for _, pair := range c.pairs {
		rate, err := c.store.GetLatestExchangeRate(pair)
		if err != nil {
			return err
		}
		if rate == nil {
			c.logger.Sugar().Warnw("No exchange rate stored", zap.String("pair", pair))
			continue
		}
		c.Set(pair, rate.Rate)
		c.logger.Sugar().Debugw("Refreshed exchange rate",
			zap.String("pair", pair),
			zap.String("rate", rate.Rate.String()),
			zap.Time("updatedAt", rate.UpdatedAt),
		)
	}
	return nil
}

func (c *Cache) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.Refresh(); err != nil {
				c.logger.Sugar().Errorw("Failed to refresh exchange rates", zap.Error(err))
			}
		}
	}
}
