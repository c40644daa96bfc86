package scanner

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/skalibog/smcscan/internal/config"
	"github.com/skalibog/smcscan/internal/exchange"
	"github.com/skalibog/smcscan/internal/gates"
	"github.com/skalibog/smcscan/internal/market"
	"github.com/skalibog/smcscan/internal/watchlist"
	"github.com/skalibog/smcscan/pkg/logger"
	"github.com/skalibog/smcscan/pkg/models"
)

// SignalStore журнал кандидатов, промоутнутых в обход наблюдения
type SignalStore interface {
	SaveSignal(ctx context.Context, candidate *models.SetupCandidate) error
}

// Scanner периодически оценивает символы конвейером гейтов.
// Символы с живым наблюдением пропускаются: их переоценивает менеджер.
type Scanner struct {
	trading  config.TradingConfig
	watch    config.WatchConfig
	builder  *market.Builder
	pipeline *gates.Pipeline
	manager  *watchlist.Manager
	emitter  watchlist.Emitter
	store    SignalStore
	stopCh   chan struct{}
}

// NewScanner создает сканер рынка
func NewScanner(trading config.TradingConfig, watchCfg config.WatchConfig,
	builder *market.Builder, pipeline *gates.Pipeline, manager *watchlist.Manager,
	emitter watchlist.Emitter, store SignalStore) *Scanner {
	return &Scanner{
		trading:  trading,
		watch:    watchCfg,
		builder:  builder,
		pipeline: pipeline,
		manager:  manager,
		emitter:  emitter,
		store:    store,
		stopCh:   make(chan struct{}),
	}
}

// Start запускает циклы сканирования и переоценки наблюдения.
// Блокируется до отмены контекста либо Stop.
func (s *Scanner) Start(ctx context.Context) {
	scanTicker := time.NewTicker(time.Duration(s.trading.ScanIntervalSeconds) * time.Second)
	watchTicker := time.NewTicker(time.Duration(s.watch.CheckIntervalSeconds) * time.Second)
	defer scanTicker.Stop()
	defer watchTicker.Stop()

	logger.Info("Сканер запущен",
		zap.Strings("symbols", s.trading.Symbols),
		zap.Int("scan_interval_sec", s.trading.ScanIntervalSeconds),
		zap.Int("watch_interval_sec", s.watch.CheckIntervalSeconds))

	s.scanAll(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-scanTicker.C:
			s.scanAll(ctx)
		case <-watchTicker.C:
			s.manager.Sweep(ctx)
		}
	}
}

// Stop останавливает сканер
func (s *Scanner) Stop() {
	close(s.stopCh)
}

func (s *Scanner) scanAll(ctx context.Context) {
	for _, symbol := range s.trading.Symbols {
		if s.manager.Active(symbol) {
			continue
		}
		s.scanSymbol(ctx, symbol)
	}
}

func (s *Scanner) scanSymbol(ctx context.Context, symbol string) {
	mctx, err := s.builder.Build(ctx, symbol)
	if err != nil {
		// Недоступность данных: штатный пропуск тика, не инцидент
		if errors.Is(err, exchange.ErrDataUnavailable) {
			logger.Warn("Данные недоступны, символ пропущен",
				zap.String("symbol", symbol), zap.Error(err))
			return
		}
		logger.Error("Ошибка сборки рыночного снимка",
			zap.String("symbol", symbol), zap.Error(err))
		return
	}

	switch out := s.pipeline.Evaluate(mctx, 0).(type) {
	case gates.Reject:
		logger.Debug("Сетап отклонен",
			zap.String("symbol", symbol),
			zap.Int("gate", out.Gate),
			zap.String("reason", out.Reason))

	case gates.Watch:
		s.manager.Upsert(ctx, out, biasFor(out.Candidate.Direction))

	case gates.Signal:
		// Достижимо только при накопленном подтверждении, на первой
		// оценке подтверждения нет, но разбор закрытого типа полный
		c := out.Candidate
		logger.Info("Сетап подтвержден без наблюдения",
			zap.String("symbol", symbol),
			zap.Float64("entry", c.EntryPrice))
		if err := s.store.SaveSignal(ctx, &c); err != nil {
			logger.Error("Ошибка сохранения сигнала", zap.Error(err))
		}
		order := models.TradeOrder{
			Symbol:     c.Symbol,
			Direction:  c.Direction,
			EntryPrice: c.EntryPrice,
			StopLoss:   c.StopLoss,
			TakeProfit: c.TakeProfit,
			EntryMode:  c.EntryMode,
		}
		if err := s.emitter.Emit(ctx, order); err != nil {
			logger.Error("Ошибка выставления заявки",
				zap.String("symbol", symbol), zap.Error(err))
		}
	}
}

// biasFor конвертирует направление сделки в настрой
func biasFor(d models.Direction) models.Bias {
	if d == models.DirectionShort {
		return models.BiasShort
	}
	return models.BiasLong
}
