package watchlist

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/skalibog/smcscan/internal/analysis/structure"
	"github.com/skalibog/smcscan/internal/config"
	"github.com/skalibog/smcscan/internal/gates"
	"github.com/skalibog/smcscan/internal/market"
	"github.com/skalibog/smcscan/pkg/logger"
	"github.com/skalibog/smcscan/pkg/models"
)

// Emitter принимает промоутнутые кандидаты
type Emitter interface {
	Emit(ctx context.Context, order models.TradeOrder) error
}

// EventStore журнал переходов наблюдения и промоутнутых сигналов
type EventStore interface {
	SaveWatchEvent(ctx context.Context, item *models.WatchlistItem, event string) error
	SaveSignal(ctx context.Context, candidate *models.SetupCandidate) error
}

// entry элемент реестра с собственным замком и меткой последней
// учтенной свечи подтверждения
type entry struct {
	mu          sync.Mutex
	item        *models.WatchlistItem
	lastConfirm time.Time
}

// Manager владеет списком наблюдения. Все мутации элементов проходят
// только через него; переходы статусов строго монотонны.
type Manager struct {
	mu      sync.RWMutex
	entries map[string]*entry

	watch     config.WatchConfig
	builder   *market.Builder
	pipeline  *gates.Pipeline
	structure *structure.Analyzer
	store     EventStore
	emitter   Emitter
}

// NewManager создает менеджер списка наблюдения
func NewManager(watchCfg config.WatchConfig, strategyCfg config.StrategyConfig,
	builder *market.Builder, pipeline *gates.Pipeline, store EventStore, emitter Emitter) *Manager {
	return &Manager{
		entries:   make(map[string]*entry),
		watch:     watchCfg,
		builder:   builder,
		pipeline:  pipeline,
		structure: structure.NewAnalyzer(strategyCfg),
		store:     store,
		emitter:   emitter,
	}
}

// Active сообщает, есть ли у символа живой элемент наблюдения.
// Сканер пропускает такие символы: повторной оценкой занимается Sweep.
func (m *Manager) Active(symbol string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[symbol]
	return ok && !e.item.Status.Terminal()
}

// Upsert ставит кандидата под наблюдение. На символ существует не более
// одного живого элемента: повторный кандидат обновляет его на месте,
// накопленный счетчик свечей не сбрасывается.
func (m *Manager) Upsert(ctx context.Context, outcome gates.Watch, bias models.Bias) {
	m.mu.Lock()
	defer m.mu.Unlock()

	symbol := outcome.Candidate.Symbol
	if e, ok := m.entries[symbol]; ok && !e.item.Status.Terminal() {
		e.mu.Lock()
		// Причина наблюдения не откатывается: готовый сетап с замороженными
		// уровнями не принимает частичного кандидата без уровней
		if e.item.Status == models.WatchStatusComplete && outcome.Reason.Kind != models.WatchSetupComplete {
			e.mu.Unlock()
			logger.Debug("Обновление отклонено: сетап уже завершен",
				zap.String("symbol", symbol), zap.String("reason", outcome.Reason.String()))
			return
		}
		e.item.Candidate = outcome.Candidate
		e.item.Reason = outcome.Reason
		if outcome.Reason.Kind == models.WatchSetupComplete && e.item.Status == models.WatchStatusForming {
			e.item.Status = models.WatchStatusComplete
			e.item.HTFBiasAtEntry = bias
		}
		e.mu.Unlock()
		logger.Debug("Элемент наблюдения обновлен",
			zap.String("symbol", symbol), zap.String("reason", outcome.Reason.String()))
		return
	}

	status := models.WatchStatusForming
	if outcome.Reason.Kind == models.WatchSetupComplete {
		status = models.WatchStatusComplete
	}

	item := &models.WatchlistItem{
		Symbol:          symbol,
		Candidate:       outcome.Candidate,
		Status:          status,
		Reason:          outcome.Reason,
		MaxWatchCandles: m.watch.MaxWatchCandles,
		HTFBiasAtEntry:  bias,
		CreatedAt:       time.Now().UTC(),
	}
	m.entries[symbol] = &entry{item: item, lastConfirm: item.CreatedAt}

	logger.Info("Символ поставлен под наблюдение",
		zap.String("symbol", symbol),
		zap.String("status", string(status)),
		zap.String("reason", outcome.Reason.String()))
	m.saveEvent(ctx, item, "created")
}

// Close вручную снимает символ с наблюдения
func (m *Manager) Close(ctx context.Context, symbol string) error {
	m.mu.Lock()
	e, ok := m.entries[symbol]
	if ok {
		delete(m.entries, symbol)
	}
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("символ %s не находится под наблюдением", symbol)
	}

	e.mu.Lock()
	if !e.item.Status.Terminal() {
		e.item.Status = models.WatchStatusExpired
		e.item.ExpireReason = "закрыт вручную"
	}
	e.mu.Unlock()

	logger.Info("Наблюдение снято вручную", zap.String("symbol", symbol))
	m.saveEvent(ctx, e.item, "closed")
	return nil
}

// Items возвращает снимок живых элементов
func (m *Manager) Items() []models.WatchlistItem {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]models.WatchlistItem, 0, len(m.entries))
	for _, e := range m.entries {
		e.mu.Lock()
		if !e.item.Status.Terminal() {
			out = append(out, *e.item)
		}
		e.mu.Unlock()
	}
	return out
}

// Sweep переоценивает все живые элементы. Гибридная валидация:
// готовый сетап (Complete) проверяется только на инвалидацию и никогда
// не перегоняется через гейты 2-4, его уровни заморожены; формирующийся
// (Forming) перегоняется через конвейер целиком.
func (m *Manager) Sweep(ctx context.Context) {
	m.mu.RLock()
	snapshot := make([]*entry, 0, len(m.entries))
	for _, e := range m.entries {
		snapshot = append(snapshot, e)
	}
	m.mu.RUnlock()

	for _, e := range snapshot {
		e.mu.Lock()
		if e.item.Status.Terminal() {
			e.mu.Unlock()
			continue
		}
		m.sweepOne(ctx, e)
		e.mu.Unlock()
	}
	m.prune()
}

func (m *Manager) sweepOne(ctx context.Context, e *entry) {
	item := e.item

	mctx, err := m.builder.Build(ctx, item.Symbol)
	if err != nil {
		// Данные недоступны: тик пропускается без инвалидации
		logger.Warn("Наблюдение пропускает тик",
			zap.String("symbol", item.Symbol), zap.Error(err))
		return
	}

	// Новые закрытые свечи подтверждения с прошлого тика
	fresh := freshCandles(mctx.ConfirmSeries, e.lastConfirm)
	if len(fresh) > 0 {
		e.lastConfirm = fresh[len(fresh)-1].CloseTime
	}

	switch item.Status {
	case models.WatchStatusComplete:
		m.sweepComplete(ctx, item, mctx, fresh)
	case models.WatchStatusForming:
		m.sweepForming(ctx, item, mctx, len(fresh))
	}
}

// sweepComplete проверяет готовый сетап только на инвалидацию:
// касание стопа до исполнения и разворот настроя старшего ТФ
func (m *Manager) sweepComplete(ctx context.Context, item *models.WatchlistItem, mctx *market.Context, fresh []*models.Candle) {
	c := item.Candidate

	for _, candle := range fresh {
		touched := (c.Direction == models.DirectionLong && candle.Low <= c.StopLoss) ||
			(c.Direction == models.DirectionShort && candle.High >= c.StopLoss)
		if touched {
			m.expire(ctx, item, fmt.Sprintf("цена коснулась стопа %.8g до исполнения входа", c.StopLoss))
			return
		}
	}

	bias := m.currentBias(mctx)
	if bias != models.BiasNeutral && item.HTFBiasAtEntry != models.BiasNeutral && bias != item.HTFBiasAtEntry {
		m.expire(ctx, item, fmt.Sprintf("настрой старшего ТФ развернулся: %s -> %s", item.HTFBiasAtEntry, bias))
		return
	}

	item.CandlesWatched += len(fresh)
	if item.CandlesWatched >= m.watch.RequiredConfirmCandles {
		m.promote(ctx, item)
		return
	}
	if item.CandlesWatched >= item.MaxWatchCandles {
		m.expire(ctx, item, "исчерпан лимит свечей наблюдения")
	}
}

// sweepForming перегоняет формирующийся сетап через конвейер целиком
func (m *Manager) sweepForming(ctx context.Context, item *models.WatchlistItem, mctx *market.Context, freshCount int) {
	item.CandlesWatched += freshCount
	if item.CandlesWatched >= item.MaxWatchCandles {
		m.expire(ctx, item, "сетап не завершился за лимит свечей наблюдения")
		return
	}

	switch out := m.pipeline.Evaluate(mctx, item.CandlesWatched).(type) {
	case gates.Reject:
		m.expire(ctx, item, fmt.Sprintf("гейт %d: %s", out.Gate, out.Reason))
	case gates.Watch:
		item.Candidate = out.Candidate
		item.Reason = out.Reason
		if out.Reason.Kind == models.WatchSetupComplete {
			item.Status = models.WatchStatusComplete
			item.HTFBiasAtEntry = m.currentBias(mctx)
			logger.Info("Сетап завершен, ждем подтверждения",
				zap.String("symbol", item.Symbol),
				zap.Float64("entry", out.Candidate.EntryPrice))
			m.saveEvent(ctx, item, "completed")
		}
	case gates.Signal:
		item.Candidate = out.Candidate
		m.promote(ctx, item)
	}
}

// promote переводит элемент в Promoted и передает кандидата эмиттеру
func (m *Manager) promote(ctx context.Context, item *models.WatchlistItem) {
	item.Status = models.WatchStatusPromoted
	c := item.Candidate

	logger.Info("Сетап подтвержден, кандидат передан эмиттеру",
		zap.String("symbol", c.Symbol),
		zap.String("direction", string(c.Direction)),
		zap.Float64("entry", c.EntryPrice),
		zap.Float64("stop_loss", c.StopLoss),
		zap.Float64("take_profit", c.TakeProfit))

	if err := m.store.SaveSignal(ctx, &c); err != nil {
		logger.Error("Ошибка сохранения сигнала", zap.Error(err))
	}
	m.saveEvent(ctx, item, "promoted")

	order := models.TradeOrder{
		Symbol:     c.Symbol,
		Direction:  c.Direction,
		EntryPrice: c.EntryPrice,
		StopLoss:   c.StopLoss,
		TakeProfit: c.TakeProfit,
		EntryMode:  c.EntryMode,
	}
	if err := m.emitter.Emit(ctx, order); err != nil {
		logger.Error("Ошибка выставления заявки",
			zap.String("symbol", c.Symbol), zap.Error(err))
	}
}

// expire переводит элемент в Expired с причиной
func (m *Manager) expire(ctx context.Context, item *models.WatchlistItem, reason string) {
	item.Status = models.WatchStatusExpired
	item.ExpireReason = reason
	logger.Info("Наблюдение прекращено",
		zap.String("symbol", item.Symbol), zap.String("reason", reason))
	m.saveEvent(ctx, item, "expired")
}

// currentBias считает текущий настрой с учетом запасного ТФ
func (m *Manager) currentBias(mctx *market.Context) models.Bias {
	bias := m.structure.CurrentBias(mctx.BiasSeries)
	if bias == models.BiasNeutral && len(mctx.FallbackSeries) > 0 {
		bias = m.structure.CurrentBias(mctx.FallbackSeries)
	}
	return bias
}

// prune удаляет терминальные элементы из реестра
func (m *Manager) prune() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for symbol, e := range m.entries {
		e.mu.Lock()
		terminal := e.item.Status.Terminal()
		e.mu.Unlock()
		if terminal {
			delete(m.entries, symbol)
		}
	}
}

func (m *Manager) saveEvent(ctx context.Context, item *models.WatchlistItem, event string) {
	if err := m.store.SaveWatchEvent(ctx, item, event); err != nil {
		logger.Error("Ошибка записи события наблюдения",
			zap.String("symbol", item.Symbol), zap.Error(err))
	}
}

// freshCandles возвращает свечи, закрывшиеся после отметки since
func freshCandles(candles []*models.Candle, since time.Time) []*models.Candle {
	var out []*models.Candle
	for _, c := range candles {
		if c.CloseTime.After(since) {
			out = append(out, c)
		}
	}
	return out
}
