package exchange

import (
	"context"
	"errors"
	"time"

	"github.com/jpillora/backoff"
	"go.uber.org/zap"

	"github.com/skalibog/smcscan/internal/storage"
	"github.com/skalibog/smcscan/pkg/logger"
)

// DataCollector фоновый сборщик рыночных данных
type DataCollector interface {
	Start(ctx context.Context) error
	Stop()
}

// CandleCollector периодически забирает свечи сигнального таймфрейма
// и архивирует их в хранилище для диагностики и истории
type CandleCollector struct {
	client   *BinanceClient
	store    storage.Storage
	symbols  []string
	interval string
	lookback int
	stopCh   chan struct{}
}

// NewCandleCollector создает новый сборщик свечей
func NewCandleCollector(client *BinanceClient, store storage.Storage, symbols []string, interval string, lookback int) *CandleCollector {
	if lookback <= 0 {
		lookback = 100
	}
	return &CandleCollector{
		client:   client,
		store:    store,
		symbols:  symbols,
		interval: interval,
		lookback: lookback,
		stopCh:   make(chan struct{}),
	}
}

// Start запускает цикл сбора. Блокируется до отмены контекста или Stop.
func (c *CandleCollector) Start(ctx context.Context) error {
	period := IntervalDuration(c.interval)
	if period == 0 {
		period = time.Minute
	}

	// Начальная загрузка сразу, дальше по закрытию свечи
	c.collect(ctx)

	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.collect(ctx)
		case <-c.stopCh:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Stop останавливает сборщик
func (c *CandleCollector) Stop() {
	close(c.stopCh)
}

// collect забирает свечи по всем символам с экспоненциальным backoff на отказах
func (c *CandleCollector) collect(ctx context.Context) {
	b := &backoff.Backoff{
		Min:    500 * time.Millisecond,
		Max:    10 * time.Second,
		Factor: 2,
		Jitter: true,
	}

	for _, symbol := range c.symbols {
		for attempt := 0; attempt < 3; attempt++ {
			candles, err := c.client.GetCandles(ctx, symbol, c.interval, c.lookback)
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return
				}
				logger.Warn("Сборщик: свечи недоступны, повтор",
					zap.String("symbol", symbol),
					zap.Int("attempt", attempt+1),
					zap.Error(err))
				select {
				case <-time.After(b.Duration()):
					continue
				case <-ctx.Done():
					return
				}
			}

			if err := c.store.SaveCandles(ctx, candles); err != nil {
				logger.Warn("Сборщик: ошибка записи свечей",
					zap.String("symbol", symbol), zap.Error(err))
			}
			b.Reset()
			break
		}
	}
}
