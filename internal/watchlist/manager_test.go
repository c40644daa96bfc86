package watchlist

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skalibog/smcscan/internal/config"
	"github.com/skalibog/smcscan/internal/gates"
	"github.com/skalibog/smcscan/internal/market"
	"github.com/skalibog/smcscan/pkg/models"
)

// testStrategy пороги под короткую серию: требования к ATR и объему
// отключены, серия не прогревает их окна
func testStrategy() config.StrategyConfig {
	return config.StrategyConfig{
		MinSLDistancePct:                 0.001,
		MaxSLDistancePct:                 0.05,
		SLBufferPct:                      0.002,
		DefaultTPRatio:                   2.0,
		DisplacementMinSizePct:           0.5,
		DisplacementMinBodyRatio:         0.6,
		DisplacementMaxCandlesAfterSweep: 2,
		SwingLookback:                    2,
		BOSMinDisplacement:               0.001,
		LiquidityEqualTolerance:          0.005,
		LiquidityMinTouches:              2,
		FVGMinSizePct:                    0.001,
		MaxEntryPremiumLevel:             65,
		MinEntryPremiumLevel:             35,
		BiasMode:                         config.BiasModeStructure,
	}
}

func testWatchCfg() config.WatchConfig {
	return config.WatchConfig{
		ConfirmTimeframe:       "5m",
		ConfirmLookback:        50,
		RequiredConfirmCandles: 2,
		MaxWatchCandles:        12,
		CheckIntervalSeconds:   60,
	}
}

func testTrading() config.TradingConfig {
	return config.TradingConfig{
		Symbols:         []string{"BTCUSDT"},
		BiasTimeframe:   "4h",
		BiasFallback:    "1h",
		SignalTimeframe: "15m",
		BiasLookback:    200,
		SignalLookback:  150,
	}
}

func candle(o, h, l, c float64) *models.Candle {
	return &models.Candle{Open: o, High: h, Low: l, Close: c, Volume: 1000}
}

func bullishBiasSeries() []*models.Candle {
	var out []*models.Candle
	for k := 0; k < 4; k++ {
		b := 100.0 + 5*float64(k)
		out = append(out,
			candle(b, b+1.5, b-0.2, b+1.4),
			candle(b+1.4, b+3.0, b+1.2, b+2.9),
			candle(b+2.9, b+4.5, b+2.7, b+4.4),
			candle(b+4.4, b+6.0, b+4.2, b+5.8),
			candle(b+5.8, b+5.9, b+4.6, b+4.8),
			candle(b+4.8, b+4.9, b+4.0, b+4.2),
		)
	}
	return out
}

func bearishBiasSeries() []*models.Candle {
	var out []*models.Candle
	for k := 0; k < 4; k++ {
		b := 100.0 - 5*float64(k)
		out = append(out,
			candle(b, b+0.2, b-1.5, b-1.4),
			candle(b-1.4, b-1.2, b-3.0, b-2.9),
			candle(b-2.9, b-2.7, b-4.5, b-4.4),
			candle(b-4.4, b-4.2, b-6.0, b-5.8),
			candle(b-5.8, b-4.6, b-5.9, b-4.8),
			candle(b-4.8, b-4.0, b-4.9, b-4.2),
		)
	}
	return out
}

func longSetupSeries() []*models.Candle {
	return []*models.Candle{
		candle(101.8, 102.0, 101.0, 101.2),
		candle(101.2, 101.5, 100.6, 100.8),
		candle(100.8, 101.0, 100.3, 100.5),
		candle(100.5, 100.7, 100.1, 100.3),
		candle(100.3, 100.5, 100.0, 100.4),
		candle(100.4, 101.2, 100.2, 101.0),
		candle(101.0, 101.8, 100.9, 101.6),
		candle(101.6, 102.8, 101.4, 102.6),
		candle(102.6, 102.7, 101.9, 102.1),
		candle(102.1, 102.3, 101.3, 101.5),
		candle(101.5, 101.6, 99.7, 100.6),
		candle(100.6, 102.4, 100.5, 102.3),
		candle(102.3, 103.4, 102.2, 103.2),
		candle(103.2, 103.6, 102.9, 103.4),
	}
}

func flatSeries(n int) []*models.Candle {
	out := make([]*models.Candle, n)
	for i := range out {
		out[i] = candle(100, 100.5, 99.5, 100.2)
	}
	return out
}

// confirmCandles свечи подтверждения, закрытые после отметки after
func confirmCandles(after time.Time, bodies ...[4]float64) []*models.Candle {
	out := make([]*models.Candle, len(bodies))
	for i, b := range bodies {
		c := candle(b[0], b[1], b[2], b[3])
		c.OpenTime = after.Add(time.Duration(i)*5*time.Minute + time.Second)
		c.CloseTime = c.OpenTime.Add(5 * time.Minute)
		out[i] = c
	}
	return out
}

// fakeSource отдает серии по таймфрейму, серии подменяются между тиками
type fakeSource struct {
	series map[string][]*models.Candle
}

func (f *fakeSource) GetCandles(_ context.Context, _ string, interval string, _ int) ([]*models.Candle, error) {
	return f.series[interval], nil
}

// fakeStore запоминает события переходов и промоутнутые сигналы
type fakeStore struct {
	events  []string
	items   []models.WatchlistItem
	signals []models.SetupCandidate
}

func (f *fakeStore) SaveWatchEvent(_ context.Context, item *models.WatchlistItem, event string) error {
	f.events = append(f.events, event)
	f.items = append(f.items, *item)
	return nil
}

func (f *fakeStore) SaveSignal(_ context.Context, c *models.SetupCandidate) error {
	f.signals = append(f.signals, *c)
	return nil
}

type fakeEmitter struct {
	orders []models.TradeOrder
}

func (f *fakeEmitter) Emit(_ context.Context, order models.TradeOrder) error {
	f.orders = append(f.orders, order)
	return nil
}

type fixture struct {
	manager *Manager
	source  *fakeSource
	store   *fakeStore
	emitter *fakeEmitter
}

func newFixture(watchCfg config.WatchConfig) *fixture {
	source := &fakeSource{series: map[string][]*models.Candle{
		"4h":  bullishBiasSeries(),
		"1h":  bullishBiasSeries(),
		"15m": longSetupSeries(),
		"5m":  nil,
	}}
	store := &fakeStore{}
	emitter := &fakeEmitter{}

	strategyCfg := testStrategy()
	builder := market.NewBuilder(source, testTrading(), watchCfg)
	pipeline := gates.NewPipeline(strategyCfg, watchCfg)
	manager := NewManager(watchCfg, strategyCfg, builder, pipeline, store, emitter)

	return &fixture{manager: manager, source: source, store: store, emitter: emitter}
}

func completeCandidate() models.SetupCandidate {
	return models.SetupCandidate{
		Symbol:     "BTCUSDT",
		Direction:  models.DirectionLong,
		EntryPrice: 101.9,
		StopLoss:   99.5006,
		TakeProfit: 106.6988,
		EntryMode:  models.EntryModeLimit,
		CreatedAt:  time.Now().UTC(),
	}
}

func completeWatch() gates.Watch {
	return gates.Watch{
		Candidate: completeCandidate(),
		Reason:    models.WatchReason{Kind: models.WatchSetupComplete},
	}
}

func TestUpsertSingleItemPerSymbol(t *testing.T) {
	f := newFixture(testWatchCfg())
	ctx := context.Background()

	f.manager.Upsert(ctx, completeWatch(), models.BiasLong)
	f.manager.Upsert(ctx, completeWatch(), models.BiasLong)

	items := f.manager.Items()
	require.Len(t, items, 1)
	assert.Equal(t, models.WatchStatusComplete, items[0].Status)
	assert.True(t, f.manager.Active("BTCUSDT"))
}

// Причина наблюдения не откатывается: обновление готового сетапа
// частичным кандидатом без уровней игнорируется, промоушен происходит
// с исходными уровнями.
func TestUpsertCompleteIgnoresAwaitingGateRefresh(t *testing.T) {
	cfg := testWatchCfg()
	cfg.RequiredConfirmCandles = 1
	f := newFixture(cfg)
	ctx := context.Background()
	now := time.Now().UTC()

	f.manager.Upsert(ctx, completeWatch(), models.BiasLong)

	partial := gates.Watch{
		Candidate: models.SetupCandidate{
			Symbol:    "BTCUSDT",
			Direction: models.DirectionLong,
			EntryMode: models.EntryModeLimit,
			CreatedAt: now,
		},
		Reason: models.WatchReason{Kind: models.WatchAwaitingGate, Gate: 3},
	}
	f.manager.Upsert(ctx, partial, models.BiasLong)

	items := f.manager.Items()
	require.Len(t, items, 1)
	assert.Equal(t, models.WatchStatusComplete, items[0].Status)
	assert.Equal(t, models.WatchSetupComplete, items[0].Reason.Kind)
	assert.InDelta(t, 101.9, items[0].Candidate.EntryPrice, 1e-9)
	assert.InDelta(t, 99.5006, items[0].Candidate.StopLoss, 1e-9)

	// Промоушен после спокойной свечи подтверждения несет исходные уровни
	f.source.series["5m"] = confirmCandles(now,
		[4]float64{102.0, 102.5, 101.5, 102.2})
	f.manager.Sweep(ctx)

	require.Len(t, f.emitter.orders, 1)
	assert.InDelta(t, 101.9, f.emitter.orders[0].EntryPrice, 1e-9)
	assert.InDelta(t, 99.5006, f.emitter.orders[0].StopLoss, 1e-9)
	assert.InDelta(t, 106.6988, f.emitter.orders[0].TakeProfit, 1e-9)
}

// Готовый сетап никогда не перегоняется через детекцию: порча сигнальной
// серии после завершения не меняет его судьбу, промоушен происходит
// с исходными уровнями.
func TestCompleteIgnoresSignalSeriesMutation(t *testing.T) {
	f := newFixture(testWatchCfg())
	ctx := context.Background()
	now := time.Now().UTC()

	f.manager.Upsert(ctx, completeWatch(), models.BiasLong)

	// Импульсная свеча исчезла из окна: полный прогон дал бы Reject
	f.source.series["15m"] = flatSeries(30)
	// Две спокойные свечи подтверждения без касания стопа
	f.source.series["5m"] = confirmCandles(now,
		[4]float64{102.0, 102.5, 101.5, 102.2},
		[4]float64{102.2, 102.8, 101.8, 102.6})

	f.manager.Sweep(ctx)

	require.Len(t, f.emitter.orders, 1)
	order := f.emitter.orders[0]
	assert.InDelta(t, 101.9, order.EntryPrice, 1e-9)
	assert.InDelta(t, 99.5006, order.StopLoss, 1e-9)
	assert.InDelta(t, 106.6988, order.TakeProfit, 1e-9)
	assert.Equal(t, models.EntryModeLimit, order.EntryMode)
	assert.Contains(t, f.store.events, "promoted")
	assert.False(t, f.manager.Active("BTCUSDT"))
}

func TestCompleteExpiresOnStopTouch(t *testing.T) {
	f := newFixture(testWatchCfg())
	ctx := context.Background()
	now := time.Now().UTC()

	f.manager.Upsert(ctx, completeWatch(), models.BiasLong)
	// Лоу свечи подтверждения пробивает стоп до исполнения входа
	f.source.series["5m"] = confirmCandles(now,
		[4]float64{102.0, 102.1, 99.4, 99.6})

	f.manager.Sweep(ctx)

	assert.Empty(t, f.emitter.orders)
	require.Contains(t, f.store.events, "expired")
	last := f.store.items[len(f.store.items)-1]
	assert.Equal(t, models.WatchStatusExpired, last.Status)
	assert.Contains(t, last.ExpireReason, "стоп")
}

func TestCompleteExpiresOnBiasFlip(t *testing.T) {
	f := newFixture(testWatchCfg())
	ctx := context.Background()
	now := time.Now().UTC()

	f.manager.Upsert(ctx, completeWatch(), models.BiasLong)
	f.source.series["4h"] = bearishBiasSeries()
	f.source.series["5m"] = confirmCandles(now,
		[4]float64{102.0, 102.5, 101.5, 102.2})

	f.manager.Sweep(ctx)

	assert.Empty(t, f.emitter.orders)
	require.Contains(t, f.store.events, "expired")
	last := f.store.items[len(f.store.items)-1]
	assert.Contains(t, last.ExpireReason, "развернулся")
}

func TestCompleteExpiresOnBiasFlipShortSide(t *testing.T) {
	f := newFixture(testWatchCfg())
	ctx := context.Background()
	now := time.Now().UTC()

	// SHORT-сетап при медвежьем настрое, настрой разворачивается вверх
	f.source.series["4h"] = bearishBiasSeries()
	w := completeWatch()
	w.Candidate.Direction = models.DirectionShort
	w.Candidate.StopLoss = 104.5
	w.Candidate.TakeProfit = 98.0
	f.manager.Upsert(ctx, w, models.BiasShort)

	f.source.series["4h"] = bullishBiasSeries()
	f.source.series["5m"] = confirmCandles(now,
		[4]float64{102.0, 102.5, 101.5, 102.2})

	f.manager.Sweep(ctx)

	assert.Empty(t, f.emitter.orders)
	require.Contains(t, f.store.events, "expired")
}

func TestPromoteWithSingleConfirmCandle(t *testing.T) {
	cfg := testWatchCfg()
	cfg.RequiredConfirmCandles = 1
	f := newFixture(cfg)
	ctx := context.Background()
	now := time.Now().UTC()

	f.manager.Upsert(ctx, completeWatch(), models.BiasLong)
	f.source.series["5m"] = confirmCandles(now,
		[4]float64{102.0, 102.5, 101.5, 102.2})

	f.manager.Sweep(ctx)

	require.Len(t, f.emitter.orders, 1)
	assert.InDelta(t, 101.9, f.emitter.orders[0].EntryPrice, 1e-9)
	require.Len(t, f.store.signals, 1)
}

func TestFormingExpiresOnReject(t *testing.T) {
	f := newFixture(testWatchCfg())
	ctx := context.Background()
	now := time.Now().UTC()

	forming := gates.Watch{
		Candidate: models.SetupCandidate{
			Symbol:    "BTCUSDT",
			Direction: models.DirectionLong,
			EntryMode: models.EntryModeLimit,
			CreatedAt: now,
		},
		Reason: models.WatchReason{Kind: models.WatchAwaitingGate, Gate: 3},
	}
	f.manager.Upsert(ctx, forming, models.BiasLong)

	// Импульс в окне так и не появился, полный прогон дает Reject
	f.source.series["15m"] = flatSeries(30)
	f.source.series["5m"] = confirmCandles(now,
		[4]float64{102.0, 102.5, 101.5, 102.2})

	f.manager.Sweep(ctx)

	require.Contains(t, f.store.events, "expired")
	assert.False(t, f.manager.Active("BTCUSDT"))
}

func TestFormingCompletesAndStaysComplete(t *testing.T) {
	f := newFixture(testWatchCfg())
	ctx := context.Background()
	now := time.Now().UTC()

	forming := gates.Watch{
		Candidate: models.SetupCandidate{
			Symbol:    "BTCUSDT",
			Direction: models.DirectionLong,
			EntryMode: models.EntryModeLimit,
			CreatedAt: now,
		},
		Reason: models.WatchReason{Kind: models.WatchAwaitingGate, Gate: 3},
	}
	f.manager.Upsert(ctx, forming, models.BiasLong)

	// Полный сетап дозрел: переход Forming -> Complete
	f.manager.Sweep(ctx)
	items := f.manager.Items()
	require.Len(t, items, 1)
	assert.Equal(t, models.WatchStatusComplete, items[0].Status)
	assert.Equal(t, models.WatchSetupComplete, items[0].Reason.Kind)
	assert.InDelta(t, 101.9, items[0].Candidate.EntryPrice, 1e-9)
	assert.Contains(t, f.store.events, "completed")

	// Порча сигнальной серии больше не возвращает элемент в Forming
	f.source.series["15m"] = flatSeries(30)
	f.manager.Sweep(ctx)

	items = f.manager.Items()
	require.Len(t, items, 1)
	assert.Equal(t, models.WatchStatusComplete, items[0].Status)
}

func TestCompleteExpiresAfterMaxWatchCandles(t *testing.T) {
	cfg := testWatchCfg()
	cfg.RequiredConfirmCandles = 5
	cfg.MaxWatchCandles = 2
	f := newFixture(cfg)
	ctx := context.Background()
	now := time.Now().UTC()

	f.manager.Upsert(ctx, completeWatch(), models.BiasLong)
	f.source.series["5m"] = confirmCandles(now,
		[4]float64{102.0, 102.5, 101.5, 102.2},
		[4]float64{102.2, 102.8, 101.8, 102.6},
		[4]float64{102.6, 103.0, 102.2, 102.8})

	f.manager.Sweep(ctx)

	assert.Empty(t, f.emitter.orders)
	require.Contains(t, f.store.events, "expired")
	last := f.store.items[len(f.store.items)-1]
	assert.Contains(t, last.ExpireReason, "лимит")
}

func TestManualClose(t *testing.T) {
	f := newFixture(testWatchCfg())
	ctx := context.Background()

	f.manager.Upsert(ctx, completeWatch(), models.BiasLong)
	require.True(t, f.manager.Active("BTCUSDT"))

	require.NoError(t, f.manager.Close(ctx, "BTCUSDT"))
	assert.False(t, f.manager.Active("BTCUSDT"))
	assert.Contains(t, f.store.events, "closed")

	assert.Error(t, f.manager.Close(ctx, "ETHUSDT"))
}
