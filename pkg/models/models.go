package models

import (
	"strconv"
	"time"
)

// Candle представляет закрытую свечу
type Candle struct {
	Symbol    string
	Interval  string
	OpenTime  time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
	CloseTime time.Time
}

// Body возвращает абсолютный размер тела свечи
func (c *Candle) Body() float64 {
	body := c.Close - c.Open
	if body < 0 {
		body = -body
	}
	return body
}

// Range возвращает полный диапазон свечи
func (c *Candle) Range() float64 {
	return c.High - c.Low
}

// Bullish сообщает, закрылась ли свеча выше открытия
func (c *Candle) Bullish() bool {
	return c.Close > c.Open
}

// Direction направление сделки
type Direction string

const (
	DirectionLong  Direction = "LONG"
	DirectionShort Direction = "SHORT"
)

// Bias настрой старшего таймфрейма
type Bias string

const (
	BiasLong    Bias = "LONG"
	BiasShort   Bias = "SHORT"
	BiasNeutral Bias = "NEUTRAL"
)

// SweepEvent представляет снятие ликвидности за прежний экстремум.
// Снятие считается состоявшимся свечой возврата: закрытие вернулось
// за уровень не позже чем через 2 свечи после прокола.
type SweepEvent struct {
	SweptLevel  float64   // снятый swing high/low
	WickPrice   float64   // экстремум фитиля свечи прокола
	Direction   Direction // LONG = снят swing low, SHORT = снят swing high
	CandleIndex int       // индекс свечи возврата, от нее отсчитывается окно импульса
	WickRatio   float64   // доля фитиля в диапазоне свечи прокола
	SwingIndex  int       // индекс снятого свинга
}

// DisplacementEvent представляет импульсную свечу после свипа
type DisplacementEvent struct {
	OriginIndex       int     // индекс импульсной свечи
	SizePct           float64 // размер тела относительно цены
	BodyRatio         float64 // тело / диапазон
	ATRMultiple       float64 // тело / ATR(14)
	CandlesAfterSweep int     // дистанция от свечи-свипа
	VolumeRatio       float64 // объем / средний объем за 20 баров
}

// FairValueGap трехсвечный дисбаланс, оставленный импульсом
type FairValueGap struct {
	Upper              float64
	Lower              float64
	Direction          Direction
	FormingCandleIndex int // индекс средней свечи
}

// CE возвращает Consequent Encroachment, середину гэпа
func (f FairValueGap) CE() float64 {
	return (f.Upper + f.Lower) / 2
}

// SizePct возвращает размер гэпа относительно его середины
func (f FairValueGap) SizePct() float64 {
	ce := f.CE()
	if ce <= 0 {
		return 0
	}
	return (f.Upper - f.Lower) / ce
}

// EntryMode режим входа. Единственное допустимое значение LIMIT.
type EntryMode string

// EntryModeLimit лимитный вход по CE гэпа. Рыночного входа не существует.
const EntryModeLimit EntryMode = "LIMIT"

// SetupCandidate кандидат на сделку, собранный конвейером гейтов
type SetupCandidate struct {
	Symbol         string
	Direction      Direction
	EntryPrice     float64 // всегда CE displacement-FVG
	StopLoss       float64 // фитиль свипа с буфером
	TakeProfit     float64 // ближайший противоположный пул ликвидности
	EntryMode      EntryMode
	SatisfiedGates []string // имена пройденных гейтов по порядку
	Session        string   // метка сессии (только диагностика)
	Sweep          SweepEvent
	Displacement   DisplacementEvent
	FVG            FairValueGap
	CreatedAt      time.Time
}

// SLDistancePct возвращает дистанцию стопа относительно цены входа
func (c SetupCandidate) SLDistancePct() float64 {
	if c.EntryPrice <= 0 {
		return 0
	}
	dist := c.EntryPrice - c.StopLoss
	if dist < 0 {
		dist = -dist
	}
	return dist / c.EntryPrice
}

// WatchStatus статус элемента списка наблюдения
type WatchStatus string

const (
	WatchStatusForming  WatchStatus = "FORMING"  // ранние гейты еще не пройдены
	WatchStatusComplete WatchStatus = "COMPLETE" // структура готова, ждем подтверждения
	WatchStatusPromoted WatchStatus = "PROMOTED" // передан эмиттеру (терминальный)
	WatchStatusExpired  WatchStatus = "EXPIRED"  // инвалидирован или истек (терминальный)
)

// Terminal сообщает, является ли статус конечным
func (s WatchStatus) Terminal() bool {
	return s == WatchStatusPromoted || s == WatchStatusExpired
}

// WatchReasonKind дискриминант причины наблюдения: явное типизированное
// состояние, гибридная валидация ветвится по нему.
type WatchReasonKind string

const (
	// WatchAwaitingGate структура еще формируется, гейты перегоняются целиком
	WatchAwaitingGate WatchReasonKind = "AWAITING_GATE"
	// WatchSetupComplete структура готова, допустимы только проверки инвалидации
	WatchSetupComplete WatchReasonKind = "SETUP_COMPLETE"
)

// WatchReason типизированная причина нахождения в списке наблюдения
type WatchReason struct {
	Kind WatchReasonKind
	Gate int // номер первого непройденного гейта при Kind == WatchAwaitingGate
}

// String возвращает человекочитаемую форму (только для логов)
func (r WatchReason) String() string {
	if r.Kind == WatchSetupComplete {
		return "setup-complete"
	}
	return "awaiting-gate-" + strconv.Itoa(r.Gate)
}

// WatchlistItem элемент списка наблюдения. Мутируется только менеджером.
type WatchlistItem struct {
	Symbol          string
	Candidate       SetupCandidate
	Status          WatchStatus
	Reason          WatchReason
	CandlesWatched  int
	MaxWatchCandles int
	HTFBiasAtEntry  Bias
	CreatedAt       time.Time
	ExpireReason    string // заполняется при переходе в Expired
}

// TradeOrder контракт эмиттера: параметры лимитной заявки
type TradeOrder struct {
	Symbol     string
	Direction  Direction
	EntryPrice float64
	StopLoss   float64
	TakeProfit float64
	EntryMode  EntryMode // всегда LIMIT
}
