package gates

import (
	"fmt"

	"github.com/skalibog/smcscan/internal/analysis/displacement"
	"github.com/skalibog/smcscan/internal/analysis/liquidity"
	"github.com/skalibog/smcscan/internal/analysis/structure"
	"github.com/skalibog/smcscan/internal/config"
	"github.com/skalibog/smcscan/internal/market"
	"github.com/skalibog/smcscan/pkg/models"
)

// Pipeline упорядоченный конвейер гейтов. Оценка детерминирована:
// один и тот же снимок рынка всегда дает один и тот же исход.
type Pipeline struct {
	config       config.StrategyConfig
	watch        config.WatchConfig
	structure    *structure.Analyzer
	liquidity    *liquidity.Analyzer
	displacement *displacement.Analyzer
}

// NewPipeline создает конвейер с анализаторами под общие пороги
func NewPipeline(strategyCfg config.StrategyConfig, watchCfg config.WatchConfig) *Pipeline {
	return &Pipeline{
		config:       strategyCfg,
		watch:        watchCfg,
		structure:    structure.NewAnalyzer(strategyCfg),
		liquidity:    liquidity.NewAnalyzer(strategyCfg),
		displacement: displacement.NewAnalyzer(strategyCfg),
	}
}

// Evaluate прогоняет снимок рынка через все гейты по порядку.
// confirmed: число закрытых свечей подтверждения, уже накопленных
// наблюдением (0 при первой оценке). Сеть недоступна изнутри.
func (p *Pipeline) Evaluate(mctx *market.Context, confirmed int) Outcome {
	var passed []string

	// Гейт 1: сессия. Крипторынок круглосуточный, метка справочная
	// и ничего не блокирует.
	session := structure.SessionAt(mctx.EvaluationTime)
	passed = append(passed, GateNames[GateSession-1])

	// Настрой старшего ТФ задает направление до поиска снятия.
	// Без направления искать нечего.
	bias := p.structure.EvaluateBias(mctx.BiasSeries, mctx.BiasTimeframe, mctx.FallbackSeries, mctx.FallbackTF)
	if bias.Bias == models.BiasNeutral {
		return Reject{Gate: GateSweep, Reason: "нет настроя старшего таймфрейма"}
	}
	direction := models.DirectionLong
	if bias.Bias == models.BiasShort {
		direction = models.DirectionShort
	}

	signalMS := p.structure.DetectMarketStructure(mctx.SignalSeries)

	// Гейт 2: снятие ликвидности
	sweep := p.liquidity.DetectSweep(mctx.SignalSeries, signalMS, direction)
	if sweep == nil {
		return Reject{Gate: GateSweep, Reason: "снятие ликвидности не найдено"}
	}
	passed = append(passed, GateNames[GateSweep-1])

	// Гейт 3: импульс после снятия
	disp := p.displacement.DetectDisplacement(mctx.SignalSeries, sweep)
	if disp == nil {
		// Окно импульса еще открыто: наблюдаем, иначе отбрасываем
		if p.windowOpen(sweep.CandleIndex, len(mctx.SignalSeries), p.config.DisplacementMaxCandlesAfterSweep) {
			return Watch{
				Candidate: p.partialCandidate(mctx, direction, session, passed, sweep, nil, nil),
				Reason:    models.WatchReason{Kind: models.WatchAwaitingGate, Gate: GateDisplacement},
			}
		}
		return Reject{Gate: GateDisplacement, Reason: "импульс после снятия не найден"}
	}
	passed = append(passed, GateNames[GateDisplacement-1])

	// Гейт 4: имбаланс, оставленный импульсом
	fvg := p.displacement.LocateFVG(mctx.SignalSeries, disp, direction)
	if fvg == nil {
		// Имбаланс может закрыться следующей свечой после импульса
		if disp.OriginIndex >= len(mctx.SignalSeries)-2 {
			return Watch{
				Candidate: p.partialCandidate(mctx, direction, session, passed, sweep, disp, nil),
				Reason:    models.WatchReason{Kind: models.WatchAwaitingGate, Gate: GateFVG},
			}
		}
		return Reject{Gate: GateFVG, Reason: "имбаланс импульса не найден"}
	}
	passed = append(passed, GateNames[GateFVG-1])

	// Гейт 5: построение входа. Вход всегда лимитный по CE имбаланса.
	entry := fvg.CE()

	// Фильтр premium/discount по цене входа: LONG не покупается дорого,
	// SHORT не продается дешево
	if dr := p.structure.PremiumDiscount(mctx.SignalSeries, signalMS); dr != nil {
		level := dr.Level(entry)
		if direction == models.DirectionLong && level > p.config.MaxEntryPremiumLevel {
			return Reject{Gate: GateEntry, Reason: fmt.Sprintf(
				"вход LONG в premium-зоне (%.1f%% > %.1f%%)", level, p.config.MaxEntryPremiumLevel)}
		}
		if direction == models.DirectionShort && level < p.config.MinEntryPremiumLevel {
			return Reject{Gate: GateEntry, Reason: fmt.Sprintf(
				"вход SHORT в discount-зоне (%.1f%% < %.1f%%)", level, p.config.MinEntryPremiumLevel)}
		}
	}
	passed = append(passed, GateNames[GateEntry-1])

	// Гейт 6: стоп за фитилем снятия с буфером, тейк по противоположной
	// ликвидности. Дистанция стопа строго в границах: вне границ отказ,
	// границы никогда не подгоняют стоп под себя.
	var stopLoss float64
	if direction == models.DirectionLong {
		stopLoss = sweep.WickPrice * (1 - p.config.SLBufferPct)
	} else {
		stopLoss = sweep.WickPrice * (1 + p.config.SLBufferPct)
	}

	if direction == models.DirectionLong && stopLoss >= entry {
		return Reject{Gate: GateRisk, Reason: "стоп не ниже цены входа"}
	}
	if direction == models.DirectionShort && stopLoss <= entry {
		return Reject{Gate: GateRisk, Reason: "стоп не выше цены входа"}
	}

	pools := p.liquidity.FindPools(mctx.SignalSeries, signalMS)
	takeProfit := p.liquidity.SelectTakeProfit(entry, stopLoss, direction, pools)

	candidate := models.SetupCandidate{
		Symbol:       mctx.Symbol,
		Direction:    direction,
		EntryPrice:   entry,
		StopLoss:     stopLoss,
		TakeProfit:   takeProfit,
		EntryMode:    models.EntryModeLimit,
		Session:      session.Name,
		Sweep:        *sweep,
		Displacement: *disp,
		FVG:          *fvg,
		CreatedAt:    mctx.EvaluationTime,
	}

	dist := candidate.SLDistancePct()
	if dist < p.config.MinSLDistancePct {
		return Reject{Gate: GateRisk, Reason: fmt.Sprintf(
			"дистанция стопа %.4f%% меньше минимума %.4f%%", dist*100, p.config.MinSLDistancePct*100)}
	}
	if dist > p.config.MaxSLDistancePct {
		return Reject{Gate: GateRisk, Reason: fmt.Sprintf(
			"дистанция стопа %.4f%% больше максимума %.4f%%", dist*100, p.config.MaxSLDistancePct*100)}
	}
	passed = append(passed, GateNames[GateRisk-1])

	// Гейт 7: решение. Без накопленного подтверждения сетап уходит
	// в наблюдение, промоушен делает менеджер списка.
	passed = append(passed, GateNames[GateDecision-1])
	candidate.SatisfiedGates = passed

	if confirmed >= p.watch.RequiredConfirmCandles {
		return Signal{Candidate: candidate}
	}
	return Watch{
		Candidate: candidate,
		Reason:    models.WatchReason{Kind: models.WatchSetupComplete},
	}
}

// windowOpen сообщает, может ли импульс еще появиться после снятия
func (p *Pipeline) windowOpen(sweepIdx, seriesLen, maxAfter int) bool {
	return seriesLen-1-sweepIdx < maxAfter
}

// partialCandidate собирает кандидата для незавершенного сетапа.
// Уровни входа еще не построены и остаются нулевыми.
func (p *Pipeline) partialCandidate(mctx *market.Context, direction models.Direction, session structure.SessionInfo,
	passed []string, sweep *models.SweepEvent, disp *models.DisplacementEvent, fvg *models.FairValueGap) models.SetupCandidate {

	c := models.SetupCandidate{
		Symbol:         mctx.Symbol,
		Direction:      direction,
		EntryMode:      models.EntryModeLimit,
		SatisfiedGates: append([]string(nil), passed...),
		Session:        session.Name,
		CreatedAt:      mctx.EvaluationTime,
	}
	if sweep != nil {
		c.Sweep = *sweep
	}
	if disp != nil {
		c.Displacement = *disp
	}
	if fvg != nil {
		c.FVG = *fvg
	}
	return c
}
