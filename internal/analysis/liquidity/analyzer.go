package liquidity

import (
	"math"

	"github.com/skalibog/smcscan/internal/analysis/structure"
	"github.com/skalibog/smcscan/internal/config"
	"github.com/skalibog/smcscan/pkg/models"
)

// Pool скопление ликвидности: равные экстремумы в пределах допуска
type Pool struct {
	Price   float64
	Above   bool // true = buy-side (над ценой), false = sell-side
	Touches int
	Swept   bool
	LastIdx int
}

// Analyzer ищет снятия ликвидности и скопления равных экстремумов
type Analyzer struct {
	config config.StrategyConfig
}

// NewAnalyzer создает новый анализатор ликвидности
func NewAnalyzer(cfg config.StrategyConfig) *Analyzer {
	return &Analyzer{
		config: cfg,
	}
}

// FindPools группирует свинг-экстремумы в скопления равных уровней
func (a *Analyzer) FindPools(candles []*models.Candle, ms *structure.MarketStructure) []Pool {
	tol := a.config.LiquidityEqualTolerance
	minTouches := a.config.LiquidityMinTouches

	var pools []Pool
	pools = append(pools, a.groupLevels(ms.SwingHighs, tol, minTouches, true)...)
	pools = append(pools, a.groupLevels(ms.SwingLows, tol, minTouches, false)...)

	// Отмечаем снятые уровни
	for i := range pools {
		p := &pools[i]
		for j := p.LastIdx + 1; j < len(candles); j++ {
			if p.Above && candles[j].High > p.Price {
				p.Swept = true
				break
			}
			if !p.Above && candles[j].Low < p.Price {
				p.Swept = true
				break
			}
		}
	}

	return pools
}

func (a *Analyzer) groupLevels(points []structure.SwingPoint, tol float64, minTouches int, above bool) []Pool {
	var pools []Pool
	used := make([]bool, len(points))

	for i := range points {
		if used[i] {
			continue
		}
		group := []structure.SwingPoint{points[i]}
		used[i] = true
		for j := i + 1; j < len(points); j++ {
			if used[j] || points[i].Price == 0 {
				continue
			}
			if math.Abs(points[j].Price-points[i].Price)/points[i].Price <= tol {
				group = append(group, points[j])
				used[j] = true
			}
		}
		if len(group) < minTouches {
			continue
		}

		sum, lastIdx := 0.0, 0
		for _, g := range group {
			sum += g.Price
			if g.Index > lastIdx {
				lastIdx = g.Index
			}
		}
		pools = append(pools, Pool{
			Price:   sum / float64(len(group)),
			Above:   above,
			Touches: len(group),
			LastIdx: lastIdx,
		})
	}

	return pools
}

// DetectSweep ищет снятие ликвидности под направление сделки.
// LONG: вынос под свинг-лоу с возвратом закрытия выше уровня;
// SHORT: вынос над свинг-хаем с возвратом ниже. Возврат должен
// состояться не позже чем через 2 свечи после прокола, а само снятие
// обязано оставлять окно для импульса в пределах серии.
func (a *Analyzer) DetectSweep(candles []*models.Candle, ms *structure.MarketStructure, direction models.Direction) *models.SweepEvent {
	n := len(candles)
	if n < 3 {
		return nil
	}

	var levels []structure.SwingPoint
	if direction == models.DirectionLong {
		levels = ms.SwingLows
	} else {
		levels = ms.SwingHighs
	}

	var candidates []*models.SweepEvent
	maxAfter := a.config.DisplacementMaxCandlesAfterSweep

	for _, lv := range levels {
		for i := lv.Index + 1; i < n; i++ {
			ev := a.sweepAt(candles, i, lv, direction)
			if ev == nil {
				continue
			}
			// Окно импульса еще открыто
			if n-1-ev.CandleIndex > maxAfter+2 {
				continue
			}
			candidates = append(candidates, ev)
		}
	}

	if len(candidates) == 0 {
		return nil
	}

	// Берется самое свежее снятие, при равенстве с лучшим проколом
	best := candidates[0]
	for _, c := range candidates[1:] {
		if c.CandleIndex > best.CandleIndex ||
			(c.CandleIndex == best.CandleIndex && c.WickRatio > best.WickRatio) {
			best = c
		}
	}
	return best
}

// sweepAt проверяет, образует ли свеча i снятие уровня lv.
// Фитиль и его доля берутся со свечи прокола, а CandleIndex указывает
// на свечу возврата: окно импульса открывается после подтверждения.
func (a *Analyzer) sweepAt(candles []*models.Candle, i int, lv structure.SwingPoint, direction models.Direction) *models.SweepEvent {
	c := candles[i]
	n := len(candles)

	if direction == models.DirectionLong {
		if c.Low >= lv.Price {
			return nil
		}
		// Возврат закрытия над уровень: сама свеча либо одна из двух следующих
		closeIdx := -1
		for j := i; j < n && j <= i+2; j++ {
			if candles[j].Close > lv.Price {
				closeIdx = j
				break
			}
		}
		if closeIdx < 0 {
			return nil
		}
		rng := c.Range()
		if rng <= 0 {
			return nil
		}
		wick := math.Min(c.Open, c.Close) - c.Low
		return &models.SweepEvent{
			SweptLevel:  lv.Price,
			WickPrice:   c.Low,
			Direction:   models.DirectionLong,
			CandleIndex: closeIdx,
			WickRatio:   wick / rng,
			SwingIndex:  lv.Index,
		}
	}

	if c.High <= lv.Price {
		return nil
	}
	closeIdx := -1
	for j := i; j < n && j <= i+2; j++ {
		if candles[j].Close < lv.Price {
			closeIdx = j
			break
		}
	}
	if closeIdx < 0 {
		return nil
	}
	rng := c.Range()
	if rng <= 0 {
		return nil
	}
	wick := c.High - math.Max(c.Open, c.Close)
	return &models.SweepEvent{
		SweptLevel:  lv.Price,
		WickPrice:   c.High,
		Direction:   models.DirectionShort,
		CandleIndex: closeIdx,
		WickRatio:   wick / rng,
		SwingIndex:  lv.Index,
	}
}

// SelectTakeProfit выбирает тейк по противоположной ликвидности:
// ближайшее неснятое скопление за ценой входа, без фильтра по RR.
// При отсутствии скоплений тейк строится по default_tp_ratio от стопа.
func (a *Analyzer) SelectTakeProfit(entry, stopLoss float64, direction models.Direction, pools []Pool) float64 {
	risk := math.Abs(entry - stopLoss)
	fallback := entry + risk*a.config.DefaultTPRatio
	if direction == models.DirectionShort {
		fallback = entry - risk*a.config.DefaultTPRatio
	}
	if risk <= 0 {
		return fallback
	}

	best := 0.0
	found := false
	for _, p := range pools {
		if p.Swept {
			continue
		}
		if direction == models.DirectionLong {
			// Цель LONG: несвятая buy-side ликвидность над входом
			if !p.Above || p.Price <= entry {
				continue
			}
			if !found || p.Price < best {
				best, found = p.Price, true
			}
		} else {
			if p.Above || p.Price >= entry {
				continue
			}
			if !found || p.Price > best {
				best, found = p.Price, true
			}
		}
	}

	if found {
		return best
	}
	return fallback
}
