package structure

import (
	"github.com/markcheno/go-talib"

	"github.com/skalibog/smcscan/internal/config"
	"github.com/skalibog/smcscan/pkg/models"
)

// Trend структурный тренд серии
type Trend string

const (
	TrendBullish       Trend = "BULLISH"
	TrendBearish       Trend = "BEARISH"
	TrendNeutral       Trend = "NEUTRAL"
	TrendWeakeningBull Trend = "WEAKENING_BULL"
	TrendWeakeningBear Trend = "WEAKENING_BEAR"
)

// SwingPoint свинг-экстремум, найденный фрактальным методом
type SwingPoint struct {
	Index    int
	Price    float64
	Internal bool // трехбарный фрактал, используется при нехватке мажорных
}

// StructureEvent слом структуры: BOS либо CHoCH
type StructureEvent struct {
	Index     int
	Bullish   bool
	CHoCH     bool
	Price     float64
	PrevPrice float64
}

// MarketStructure результат структурного анализа серии
type MarketStructure struct {
	Trend         Trend
	SwingHighs    []SwingPoint
	SwingLows     []SwingPoint
	Events        []StructureEvent
	LastSwingHigh *SwingPoint
	LastSwingLow  *SwingPoint
}

// DealingRange активный диапазон: последние свинги, расширенные
// экстремумами, поставленными позже них
type DealingRange struct {
	High        float64
	Low         float64
	Equilibrium float64
}

// Level возвращает положение цены в диапазоне: 0 = low, 100 = high
func (d *DealingRange) Level(price float64) float64 {
	if d.High <= d.Low {
		return 0
	}
	level := (price - d.Low) / (d.High - d.Low) * 100
	if level < 0 {
		return 0
	}
	if level > 100 {
		return 100
	}
	return level
}

// BiasResult результат определения настроя старшего таймфрейма
type BiasResult struct {
	Bias      models.Bias
	Trend     Trend
	Timeframe string
	Structure *MarketStructure
}

// Analyzer реализует структурный анализ серии свечей
type Analyzer struct {
	config config.StrategyConfig
}

// NewAnalyzer создает новый структурный анализатор
func NewAnalyzer(cfg config.StrategyConfig) *Analyzer {
	return &Analyzer{
		config: cfg,
	}
}

// FindSwingPoints ищет свинг-экстремумы фрактальным методом.
// Мажорные фракталы по swing_lookback; трехбарные добираются,
// только когда мажорных меньше двух.
func (a *Analyzer) FindSwingPoints(candles []*models.Candle) (highs, lows []SwingPoint) {
	lookback := a.config.SwingLookback
	n := len(candles)
	if n < lookback*2+1 {
		return nil, nil
	}

	isHigh := func(i, lb int) bool {
		for j := 1; j <= lb; j++ {
			if candles[i].High <= candles[i-j].High || candles[i].High <= candles[i+j].High {
				return false
			}
		}
		return true
	}
	isLow := func(i, lb int) bool {
		for j := 1; j <= lb; j++ {
			if candles[i].Low >= candles[i-j].Low || candles[i].Low >= candles[i+j].Low {
				return false
			}
		}
		return true
	}

	for i := lookback; i < n-lookback; i++ {
		if isHigh(i, lookback) {
			highs = append(highs, SwingPoint{Index: i, Price: candles[i].High})
		}
		if isLow(i, lookback) {
			lows = append(lows, SwingPoint{Index: i, Price: candles[i].Low})
		}
	}

	// Трехбарные фракталы при нехватке мажорных
	if len(highs) < 2 || len(lows) < 2 {
		for i := 1; i < n-1; i++ {
			if isHigh(i, 1) && !nearAny(highs, i) {
				highs = append(highs, SwingPoint{Index: i, Price: candles[i].High, Internal: true})
			}
			if isLow(i, 1) && !nearAny(lows, i) {
				lows = append(lows, SwingPoint{Index: i, Price: candles[i].Low, Internal: true})
			}
		}
		sortByIndex(highs)
		sortByIndex(lows)
	}

	return highs, lows
}

// nearAny сообщает, есть ли уже свинг в пределах двух баров от i
func nearAny(points []SwingPoint, i int) bool {
	for _, p := range points {
		d := p.Index - i
		if d < 0 {
			d = -d
		}
		if d <= 2 {
			return true
		}
	}
	return false
}

func sortByIndex(points []SwingPoint) {
	for i := 1; i < len(points); i++ {
		for j := i; j > 0 && points[j].Index < points[j-1].Index; j-- {
			points[j], points[j-1] = points[j-1], points[j]
		}
	}
}

// DetectMarketStructure определяет тренд по сломам структуры (BOS/CHoCH)
func (a *Analyzer) DetectMarketStructure(candles []*models.Candle) *MarketStructure {
	highs, lows := a.FindSwingPoints(candles)
	minDisp := a.config.BOSMinDisplacement
	n := len(candles)

	var events []StructureEvent
	lastBullish := false
	haveDir := false

	// Higher highs: бычьи сломы
	for i := 1; i < len(highs); i++ {
		prev, curr := highs[i-1], highs[i]
		if curr.Index >= n || prev.Price <= 0 {
			continue
		}
		closeAtBreak := candles[curr.Index].Close
		displacement := (closeAtBreak - prev.Price) / prev.Price
		if curr.Price > prev.Price && displacement >= minDisp {
			events = append(events, StructureEvent{
				Index:     curr.Index,
				Bullish:   true,
				CHoCH:     haveDir && !lastBullish,
				Price:     curr.Price,
				PrevPrice: prev.Price,
			})
			lastBullish = true
			haveDir = true
		}
	}

	// Lower lows: медвежьи сломы
	for i := 1; i < len(lows); i++ {
		prev, curr := lows[i-1], lows[i]
		if curr.Index >= n || prev.Price <= 0 {
			continue
		}
		closeAtBreak := candles[curr.Index].Close
		displacement := (prev.Price - closeAtBreak) / prev.Price
		if curr.Price < prev.Price && displacement >= minDisp {
			events = append(events, StructureEvent{
				Index:     curr.Index,
				Bullish:   false,
				CHoCH:     haveDir && lastBullish,
				Price:     curr.Price,
				PrevPrice: prev.Price,
			})
			lastBullish = false
			haveDir = true
		}
	}

	// События в порядке появления
	for i := 1; i < len(events); i++ {
		for j := i; j > 0 && events[j].Index < events[j-1].Index; j-- {
			events[j], events[j-1] = events[j-1], events[j]
		}
	}

	ms := &MarketStructure{
		Trend:      TrendNeutral,
		SwingHighs: highs,
		SwingLows:  lows,
		Events:     events,
	}
	if len(highs) > 0 {
		ms.LastSwingHigh = &highs[len(highs)-1]
	}
	if len(lows) > 0 {
		ms.LastSwingLow = &lows[len(lows)-1]
	}

	if len(events) > 0 {
		last := events[len(events)-1]
		if last.Bullish {
			ms.Trend = TrendBullish
		} else {
			ms.Trend = TrendBearish
		}

		// Ослабление: CHoCH против тренда после последнего BOS по тренду
		lastBOSIdx, lastCounterCHoCH := -1, -1
		for _, e := range events {
			if e.CHoCH {
				if (ms.Trend == TrendBullish && !e.Bullish) || (ms.Trend == TrendBearish && e.Bullish) {
					lastCounterCHoCH = e.Index
				}
			} else if (ms.Trend == TrendBullish && e.Bullish) || (ms.Trend == TrendBearish && !e.Bullish) {
				lastBOSIdx = e.Index
			}
		}
		if lastCounterCHoCH > lastBOSIdx && lastBOSIdx >= 0 {
			if ms.Trend == TrendBullish {
				ms.Trend = TrendWeakeningBull
			} else {
				ms.Trend = TrendWeakeningBear
			}
		}
	}

	return ms
}

// PremiumDiscount строит активный диапазон по последним свингам.
// Свежие экстремумы после свингов расширяют диапазон: импульсная нога
// тоже часть диапазона, хотя свинг на ней еще не подтвержден.
func (a *Analyzer) PremiumDiscount(candles []*models.Candle, ms *MarketStructure) *DealingRange {
	if ms == nil {
		ms = a.DetectMarketStructure(candles)
	}
	if ms.LastSwingHigh == nil || ms.LastSwingLow == nil || len(candles) == 0 {
		return nil
	}

	high := ms.LastSwingHigh.Price
	for i := ms.LastSwingHigh.Index + 1; i < len(candles); i++ {
		if candles[i].High > high {
			high = candles[i].High
		}
	}
	low := ms.LastSwingLow.Price
	for i := ms.LastSwingLow.Index + 1; i < len(candles); i++ {
		if candles[i].Low < low {
			low = candles[i].Low
		}
	}
	if high <= low {
		return nil
	}

	return &DealingRange{
		High:        high,
		Low:         low,
		Equilibrium: (high + low) / 2,
	}
}

// EvaluateBias определяет настрой: сначала основной ТФ, при NEUTRAL запасной
func (a *Analyzer) EvaluateBias(primary []*models.Candle, primaryTF string, fallback []*models.Candle, fallbackTF string) BiasResult {
	series := []struct {
		candles []*models.Candle
		tf      string
	}{
		{primary, primaryTF},
		{fallback, fallbackTF},
	}

	for _, s := range series {
		if len(s.candles) < 20 {
			continue
		}
		ms := a.DetectMarketStructure(s.candles)
		bias := biasFromTrend(ms.Trend)
		if bias != models.BiasNeutral {
			return BiasResult{
				Bias:      bias,
				Trend:     ms.Trend,
				Timeframe: s.tf,
				Structure: ms,
			}
		}
	}

	return BiasResult{Bias: models.BiasNeutral, Trend: TrendNeutral}
}

// CurrentBias считает текущий настрой для проверки разворота.
// Индикатор конфигурируем: structure (BOS/CHoCH) либо ema (close против EMA).
func (a *Analyzer) CurrentBias(candles []*models.Candle) models.Bias {
	if len(candles) == 0 {
		return models.BiasNeutral
	}

	if a.config.BiasMode == config.BiasModeEMA {
		period := a.config.BiasEMAPeriod
		if len(candles) < period+1 {
			return models.BiasNeutral
		}
		closes := make([]float64, len(candles))
		for i, c := range candles {
			closes[i] = c.Close
		}
		ema := talib.Ema(closes, period)
		last := closes[len(closes)-1]
		lastEMA := ema[len(ema)-1]
		switch {
		case last > lastEMA:
			return models.BiasLong
		case last < lastEMA:
			return models.BiasShort
		default:
			return models.BiasNeutral
		}
	}

	ms := a.DetectMarketStructure(candles)
	return biasFromTrend(ms.Trend)
}

// biasFromTrend конвертирует структурный тренд в торговый настрой.
// Ослабевающий тренд торгуется против себя (ранний разворот).
func biasFromTrend(t Trend) models.Bias {
	switch t {
	case TrendBullish, TrendWeakeningBear:
		return models.BiasLong
	case TrendBearish, TrendWeakeningBull:
		return models.BiasShort
	default:
		return models.BiasNeutral
	}
}
