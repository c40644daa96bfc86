package displacement

import (
	"github.com/markcheno/go-talib"

	"github.com/skalibog/smcscan/internal/config"
	"github.com/skalibog/smcscan/pkg/models"
)

const atrPeriod = 14

// Analyzer ищет импульсные свечи и имбалансы после снятия ликвидности
type Analyzer struct {
	config config.StrategyConfig
}

// NewAnalyzer создает новый анализатор импульса
func NewAnalyzer(cfg config.StrategyConfig) *Analyzer {
	return &Analyzer{
		config: cfg,
	}
}

// DetectDisplacement ищет импульсную свечу не позже чем через
// displacement_max_candles_after_sweep свечей после снятия.
// Свеча обязана идти в направлении сделки и проходить все пороги:
// доля тела, размер в процентах, кратность ATR, объем против среднего.
// При нескольких кандидатах в окне берется свеча с большим sizePct.
func (a *Analyzer) DetectDisplacement(candles []*models.Candle, sweep *models.SweepEvent) *models.DisplacementEvent {
	n := len(candles)
	if sweep == nil || n == 0 {
		return nil
	}

	atr := a.atrSeries(candles)
	volSMA := a.volumeSMA(candles)

	maxAfter := a.config.DisplacementMaxCandlesAfterSweep
	var best *models.DisplacementEvent
	for i := sweep.CandleIndex + 1; i < n && i <= sweep.CandleIndex+maxAfter; i++ {
		ev := a.displacementAt(candles, i, sweep, atr, volSMA)
		if ev != nil && (best == nil || ev.SizePct > best.SizePct) {
			best = ev
		}
	}
	return best
}

func (a *Analyzer) displacementAt(candles []*models.Candle, i int, sweep *models.SweepEvent, atr, volSMA []float64) *models.DisplacementEvent {
	c := candles[i]

	// Направление импульса совпадает с направлением сделки
	if sweep.Direction == models.DirectionLong && !c.Bullish() {
		return nil
	}
	if sweep.Direction == models.DirectionShort && c.Bullish() {
		return nil
	}

	rng := c.Range()
	if rng <= 0 || c.Open <= 0 {
		return nil
	}

	bodyRatio := c.Body() / rng
	if bodyRatio < a.config.DisplacementMinBodyRatio {
		return nil
	}

	sizePct := c.Body() / c.Open * 100
	if sizePct < a.config.DisplacementMinSizePct {
		return nil
	}

	// Ненулевой порог требует вычислимой базовой линии: серия короче
	// окна ATR или объема не освобождает свечу от проверки
	atrMultiple, atrOK := ratioVs(atr, i, c.Body())
	if a.config.DisplacementATRMultiplier > 0 &&
		(!atrOK || atrMultiple < a.config.DisplacementATRMultiplier) {
		return nil
	}

	volumeRatio, volOK := ratioVs(volSMA, i, c.Volume)
	if a.config.VolumeRatioMin > 0 &&
		(!volOK || volumeRatio < a.config.VolumeRatioMin) {
		return nil
	}

	return &models.DisplacementEvent{
		OriginIndex:       i,
		SizePct:           sizePct,
		BodyRatio:         bodyRatio,
		ATRMultiple:       atrMultiple,
		CandlesAfterSweep: i - sweep.CandleIndex,
		VolumeRatio:       volumeRatio,
	}
}

// ratioVs отношение величины к базовой линии в точке i.
// false, если линия в этой точке не вычислена.
func ratioVs(base []float64, i int, v float64) (float64, bool) {
	if i >= len(base) || base[i] <= 0 {
		return 0, false
	}
	return v / base[i], true
}

// LocateFVG ищет трехсвечный имбаланс, оставленный импульсом.
// Смотрим окна, в которые импульсная свеча входит средней либо крайней.
// Имбаланс должен быть достаточного размера и не перекрыт ценой до CE.
func (a *Analyzer) LocateFVG(candles []*models.Candle, disp *models.DisplacementEvent, direction models.Direction) *models.FairValueGap {
	n := len(candles)
	if disp == nil || n < 3 {
		return nil
	}

	for _, mid := range []int{disp.OriginIndex, disp.OriginIndex + 1, disp.OriginIndex - 1} {
		if mid-1 < 0 || mid+1 >= n {
			continue
		}
		fvg := a.fvgAt(candles, mid, direction)
		if fvg == nil {
			continue
		}
		if fvg.SizePct() < a.config.FVGMinSizePct {
			continue
		}
		if a.filledToCE(candles, fvg, direction) {
			continue
		}
		return fvg
	}
	return nil
}

// fvgAt проверяет трехсвечное окно со средней свечой mid
func (a *Analyzer) fvgAt(candles []*models.Candle, mid int, direction models.Direction) *models.FairValueGap {
	first, third := candles[mid-1], candles[mid+1]

	if direction == models.DirectionLong {
		// Бычий имбаланс: лоу третьей выше хая первой
		if third.Low > first.High {
			return &models.FairValueGap{
				Upper:              third.Low,
				Lower:              first.High,
				Direction:          models.DirectionLong,
				FormingCandleIndex: mid,
			}
		}
		return nil
	}

	if third.High < first.Low {
		return &models.FairValueGap{
			Upper:              first.Low,
			Lower:              third.High,
			Direction:          models.DirectionShort,
			FormingCandleIndex: mid,
		}
	}
	return nil
}

// filledToCE сообщает, дошла ли цена до середины имбаланса после его
// формирования. Такой имбаланс уже отработан и входом не служит.
func (a *Analyzer) filledToCE(candles []*models.Candle, fvg *models.FairValueGap, direction models.Direction) bool {
	ce := fvg.CE()
	for i := fvg.FormingCandleIndex + 2; i < len(candles); i++ {
		if direction == models.DirectionLong && candles[i].Low <= ce {
			return true
		}
		if direction == models.DirectionShort && candles[i].High >= ce {
			return true
		}
	}
	return false
}

func (a *Analyzer) atrSeries(candles []*models.Candle) []float64 {
	if len(candles) <= atrPeriod {
		return nil
	}
	highs := make([]float64, len(candles))
	lows := make([]float64, len(candles))
	closes := make([]float64, len(candles))
	for i, c := range candles {
		highs[i], lows[i], closes[i] = c.High, c.Low, c.Close
	}
	return talib.Atr(highs, lows, closes, atrPeriod)
}

func (a *Analyzer) volumeSMA(candles []*models.Candle) []float64 {
	const period = 20
	if len(candles) <= period {
		return nil
	}
	vols := make([]float64, len(candles))
	for i, c := range candles {
		vols[i] = c.Volume
	}
	return talib.Sma(vols, period)
}
