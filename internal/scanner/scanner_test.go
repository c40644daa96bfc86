package scanner

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skalibog/smcscan/internal/config"
	"github.com/skalibog/smcscan/internal/exchange"
	"github.com/skalibog/smcscan/internal/gates"
	"github.com/skalibog/smcscan/internal/market"
	"github.com/skalibog/smcscan/internal/watchlist"
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
		Symbols:             []string{"BTCUSDT"},
		BiasTimeframe:       "4h",
		BiasFallback:        "1h",
		SignalTimeframe:     "15m",
		BiasLookback:        200,
		SignalLookback:      150,
		ScanIntervalSeconds: 60,
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

type fakeSource struct {
	series map[string][]*models.Candle
	err    error
	calls  int
}

func (f *fakeSource) GetCandles(_ context.Context, _ string, interval string, _ int) ([]*models.Candle, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.series[interval], nil
}

type fakeStore struct {
	signals []models.SetupCandidate
}

func (f *fakeStore) SaveSignal(_ context.Context, c *models.SetupCandidate) error {
	f.signals = append(f.signals, *c)
	return nil
}

func (f *fakeStore) SaveWatchEvent(_ context.Context, _ *models.WatchlistItem, _ string) error {
	return nil
}

type fakeEmitter struct {
	orders []models.TradeOrder
}

func (f *fakeEmitter) Emit(_ context.Context, order models.TradeOrder) error {
	f.orders = append(f.orders, order)
	return nil
}

func newScanner(source *fakeSource) (*Scanner, *watchlist.Manager, *fakeEmitter) {
	strategyCfg := testStrategy()
	watchCfg := testWatchCfg()
	builder := market.NewBuilder(source, testTrading(), watchCfg)
	pipeline := gates.NewPipeline(strategyCfg, watchCfg)
	store := &fakeStore{}
	emitter := &fakeEmitter{}
	manager := watchlist.NewManager(watchCfg, strategyCfg, builder, pipeline, store, emitter)
	s := NewScanner(testTrading(), watchCfg, builder, pipeline, manager, emitter, store)
	return s, manager, emitter
}

func TestScanPutsCompleteSetupUnderWatch(t *testing.T) {
	source := &fakeSource{series: map[string][]*models.Candle{
		"4h": bullishBiasSeries(), "1h": bullishBiasSeries(),
		"15m": longSetupSeries(), "5m": nil,
	}}
	s, manager, emitter := newScanner(source)

	s.scanAll(context.Background())

	assert.True(t, manager.Active("BTCUSDT"))
	// Промоушен делает менеджер, прямой эмиссии на первой оценке нет
	assert.Empty(t, emitter.orders)
}

func TestScanSkipsWatchedSymbol(t *testing.T) {
	source := &fakeSource{series: map[string][]*models.Candle{
		"4h": bullishBiasSeries(), "1h": bullishBiasSeries(),
		"15m": longSetupSeries(), "5m": nil,
	}}
	s, manager, _ := newScanner(source)

	s.scanAll(context.Background())
	require.True(t, manager.Active("BTCUSDT"))

	// Символ под наблюдением не оценивается повторно
	calls := source.calls
	s.scanAll(context.Background())
	assert.Equal(t, calls, source.calls)
}

func TestScanSkipsOnDataUnavailable(t *testing.T) {
	source := &fakeSource{err: fmt.Errorf("%w: таймаут", exchange.ErrDataUnavailable)}
	s, manager, emitter := newScanner(source)

	s.scanAll(context.Background())

	assert.False(t, manager.Active("BTCUSDT"))
	assert.Empty(t, emitter.orders)
}
