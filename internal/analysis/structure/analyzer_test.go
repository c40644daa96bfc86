package structure

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skalibog/smcscan/internal/config"
	"github.com/skalibog/smcscan/pkg/models"
)

func testStrategy() config.StrategyConfig {
	return config.StrategyConfig{
		SwingLookback:      2,
		BOSMinDisplacement: 0.001,
		BiasMode:           config.BiasModeStructure,
		BiasEMAPeriod:      5,
	}
}

func candle(o, h, l, c float64) *models.Candle {
	return &models.Candle{Open: o, High: h, Low: l, Close: c, Volume: 1000}
}

// zigzagUp серия восходящих блоков: четыре свечи роста, две отката.
// Свинг-хаи и свинг-лои растут от блока к блоку.
func zigzagUp(blocks int) []*models.Candle {
	var out []*models.Candle
	for k := 0; k < blocks; k++ {
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

func zigzagDown(blocks int) []*models.Candle {
	var out []*models.Candle
	for k := 0; k < blocks; k++ {
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

func flatSeries(n int) []*models.Candle {
	out := make([]*models.Candle, n)
	for i := range out {
		out[i] = candle(100, 100.5, 99.5, 100.2)
	}
	return out
}

func TestFindSwingPoints(t *testing.T) {
	a := NewAnalyzer(testStrategy())
	highs, lows := a.FindSwingPoints(zigzagUp(4))

	require.Len(t, highs, 4)
	// Последний лоу серии не подтвержден: справа не хватает баров
	require.Len(t, lows, 3)
	assert.Equal(t, 106.0, highs[0].Price)
	assert.Equal(t, 121.0, highs[3].Price)
	assert.Equal(t, 104.0, lows[0].Price)
	assert.Equal(t, 114.0, lows[2].Price)
}

func TestDetectMarketStructureBullish(t *testing.T) {
	a := NewAnalyzer(testStrategy())
	ms := a.DetectMarketStructure(zigzagUp(4))

	assert.Equal(t, TrendBullish, ms.Trend)
	require.NotEmpty(t, ms.Events)
	for _, e := range ms.Events {
		assert.True(t, e.Bullish)
	}
	require.NotNil(t, ms.LastSwingHigh)
	assert.Equal(t, 121.0, ms.LastSwingHigh.Price)
}

func TestDetectMarketStructureBearish(t *testing.T) {
	a := NewAnalyzer(testStrategy())
	ms := a.DetectMarketStructure(zigzagDown(4))

	assert.Equal(t, TrendBearish, ms.Trend)
	for _, e := range ms.Events {
		assert.False(t, e.Bullish)
	}
}

func TestDetectMarketStructureNeutralOnFlat(t *testing.T) {
	a := NewAnalyzer(testStrategy())
	ms := a.DetectMarketStructure(flatSeries(30))
	assert.Equal(t, TrendNeutral, ms.Trend)
	assert.Empty(t, ms.Events)
}

func TestPremiumDiscountExtendsToFreshExtremes(t *testing.T) {
	a := NewAnalyzer(testStrategy())
	candles := zigzagUp(4)
	// Свежий максимум после последнего подтвержденного свинга
	candles = append(candles, candle(119.2, 125.0, 119.0, 124.5))

	ms := a.DetectMarketStructure(candles)
	dr := a.PremiumDiscount(candles, ms)
	require.NotNil(t, dr)

	assert.Equal(t, 125.0, dr.High)
	assert.Equal(t, 114.0, dr.Low)
	assert.InDelta(t, 119.5, dr.Equilibrium, 1e-9)
}

func TestDealingRangeLevelClamped(t *testing.T) {
	dr := &DealingRange{High: 110, Low: 100}
	assert.InDelta(t, 50.0, dr.Level(105), 1e-9)
	assert.Equal(t, 0.0, dr.Level(95))
	assert.Equal(t, 100.0, dr.Level(120))
}

func TestEvaluateBiasPrimary(t *testing.T) {
	a := NewAnalyzer(testStrategy())
	res := a.EvaluateBias(zigzagUp(4), "4h", nil, "1h")

	assert.Equal(t, models.BiasLong, res.Bias)
	assert.Equal(t, "4h", res.Timeframe)
}

func TestEvaluateBiasFallback(t *testing.T) {
	a := NewAnalyzer(testStrategy())
	res := a.EvaluateBias(flatSeries(30), "4h", zigzagDown(4), "1h")

	assert.Equal(t, models.BiasShort, res.Bias)
	assert.Equal(t, "1h", res.Timeframe)
}

func TestEvaluateBiasNeutralWhenBothFlat(t *testing.T) {
	a := NewAnalyzer(testStrategy())
	res := a.EvaluateBias(flatSeries(30), "4h", flatSeries(30), "1h")
	assert.Equal(t, models.BiasNeutral, res.Bias)
}

func TestCurrentBiasEMAMode(t *testing.T) {
	cfg := testStrategy()
	cfg.BiasMode = config.BiasModeEMA
	a := NewAnalyzer(cfg)

	rising := make([]*models.Candle, 30)
	for i := range rising {
		p := 100.0 + float64(i)
		rising[i] = candle(p, p+1, p-0.5, p+0.8)
	}
	assert.Equal(t, models.BiasLong, a.CurrentBias(rising))

	falling := make([]*models.Candle, 30)
	for i := range falling {
		p := 130.0 - float64(i)
		falling[i] = candle(p, p+0.5, p-1, p-0.8)
	}
	assert.Equal(t, models.BiasShort, a.CurrentBias(falling))
}

func TestSessionAt(t *testing.T) {
	// Вторник, лондонский киллзон
	london := time.Date(2026, 1, 6, 8, 0, 0, 0, time.UTC)
	info := SessionAt(london)
	assert.Equal(t, "LONDON_KILLZONE", info.Name)
	assert.True(t, info.Killzone)
	assert.Equal(t, "HIGH", info.Quality)

	// Суббота: киллзон не действует, качество понижено
	saturday := time.Date(2026, 1, 10, 8, 0, 0, 0, time.UTC)
	info = SessionAt(saturday)
	assert.False(t, info.Killzone)
	assert.Equal(t, "MEDIUM", info.Quality)

	// Поздний вечер буднего дня
	night := time.Date(2026, 1, 6, 22, 0, 0, 0, time.UTC)
	assert.Equal(t, "OFF_HOURS", SessionAt(night).Name)
}
