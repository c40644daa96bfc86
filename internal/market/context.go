package market

import (
	"context"
	"fmt"
	"time"

	"github.com/skalibog/smcscan/internal/config"
	"github.com/skalibog/smcscan/pkg/models"
)

// CandleSource поставщик закрытых свечей. Реализуется биржевым клиентом,
// в тестах подменяется заглушкой.
type CandleSource interface {
	GetCandles(ctx context.Context, symbol, interval string, limit int) ([]*models.Candle, error)
}

// Context снимок рыночных данных одного символа на момент оценки.
// Конвейер гейтов работает только с этим снимком и никогда не ходит
// за данными сам.
type Context struct {
	Symbol         string
	BiasSeries     []*models.Candle // старший ТФ
	BiasTimeframe  string
	FallbackSeries []*models.Candle // запасной ТФ для NEUTRAL
	FallbackTF     string
	SignalSeries   []*models.Candle // ТФ детекции паттерна
	ConfirmSeries  []*models.Candle // ТФ подтверждения входа
	EvaluationTime time.Time
}

// Builder собирает рыночный снимок из источника свечей
type Builder struct {
	source  CandleSource
	trading config.TradingConfig
	watch   config.WatchConfig
}

// NewBuilder создает новый сборщик рыночных снимков
func NewBuilder(source CandleSource, trading config.TradingConfig, watch config.WatchConfig) *Builder {
	return &Builder{
		source:  source,
		trading: trading,
		watch:   watch,
	}
}

// Build загружает все серии символа. Любая недоступность данных
// возвращается как есть: сканер пропускает тик без частичной оценки.
func (b *Builder) Build(ctx context.Context, symbol string) (*Context, error) {
	biasSeries, err := b.source.GetCandles(ctx, symbol, b.trading.BiasTimeframe, b.trading.BiasLookback)
	if err != nil {
		return nil, fmt.Errorf("серия %s %s: %w", symbol, b.trading.BiasTimeframe, err)
	}

	var fallback []*models.Candle
	if b.trading.BiasFallback != "" && b.trading.BiasFallback != b.trading.BiasTimeframe {
		fallback, err = b.source.GetCandles(ctx, symbol, b.trading.BiasFallback, b.trading.BiasLookback)
		if err != nil {
			return nil, fmt.Errorf("серия %s %s: %w", symbol, b.trading.BiasFallback, err)
		}
	}

	signalSeries, err := b.source.GetCandles(ctx, symbol, b.trading.SignalTimeframe, b.trading.SignalLookback)
	if err != nil {
		return nil, fmt.Errorf("серия %s %s: %w", symbol, b.trading.SignalTimeframe, err)
	}

	confirmSeries, err := b.source.GetCandles(ctx, symbol, b.watch.ConfirmTimeframe, b.watch.ConfirmLookback)
	if err != nil {
		return nil, fmt.Errorf("серия %s %s: %w", symbol, b.watch.ConfirmTimeframe, err)
	}

	return &Context{
		Symbol:         symbol,
		BiasSeries:     biasSeries,
		BiasTimeframe:  b.trading.BiasTimeframe,
		FallbackSeries: fallback,
		FallbackTF:     b.trading.BiasFallback,
		SignalSeries:   signalSeries,
		ConfirmSeries:  confirmSeries,
		EvaluationTime: time.Now().UTC(),
	}, nil
}
