package exchange

import (
	"context"
	"fmt"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/skalibog/smcscan/pkg/logger"
	"github.com/skalibog/smcscan/pkg/models"
)

// TradeEmitter принимает промоутнутые кандидаты. Ядро гарантирует, что
// entry/SL/TP выведены структурно и entry_mode всегда LIMIT.
type TradeEmitter interface {
	Emit(ctx context.Context, order models.TradeOrder) error
}

// BinanceLimitEmitter выставляет лимитную заявку по CE гэпа плюс
// защитные стоп- и тейк-заявки на Binance Futures
type BinanceLimitEmitter struct {
	client   *futures.Client
	quantity decimal.Decimal
}

// NewBinanceLimitEmitter создает эмиттер лимитных заявок
func NewBinanceLimitEmitter(client *BinanceClient, quantity float64) *BinanceLimitEmitter {
	return &BinanceLimitEmitter{
		client:   client.futures,
		quantity: decimal.NewFromFloat(quantity),
	}
}

// Emit выставляет заявки. MARKET-пути не существует: заявка всегда лимитная.
func (e *BinanceLimitEmitter) Emit(ctx context.Context, order models.TradeOrder) error {
	if order.EntryMode != models.EntryModeLimit {
		return fmt.Errorf("эмиттер принимает только LIMIT-заявки, получено %q", order.EntryMode)
	}

	side := futures.SideTypeBuy
	closeSide := futures.SideTypeSell
	if order.Direction == models.DirectionShort {
		side = futures.SideTypeSell
		closeSide = futures.SideTypeBuy
	}

	entry := decimal.NewFromFloat(order.EntryPrice)
	sl := decimal.NewFromFloat(order.StopLoss)
	tp := decimal.NewFromFloat(order.TakeProfit)

	// Лимитный вход по CE
	_, err := e.client.NewCreateOrderService().
		Symbol(order.Symbol).
		Side(side).
		Type(futures.OrderTypeLimit).
		TimeInForce(futures.TimeInForceTypeGTC).
		Quantity(e.quantity.String()).
		Price(entry.String()).
		Do(ctx)
	if err != nil {
		return fmt.Errorf("ошибка выставления лимитной заявки %s: %w", order.Symbol, err)
	}

	// Защитный стоп на фитиле свипа
	_, err = e.client.NewCreateOrderService().
		Symbol(order.Symbol).
		Side(closeSide).
		Type(futures.OrderTypeStopMarket).
		StopPrice(sl.String()).
		ClosePosition(true).
		Do(ctx)
	if err != nil {
		return fmt.Errorf("ошибка выставления стоп-заявки %s: %w", order.Symbol, err)
	}

	// Тейк на противоположном пуле ликвидности
	_, err = e.client.NewCreateOrderService().
		Symbol(order.Symbol).
		Side(closeSide).
		Type(futures.OrderTypeTakeProfitMarket).
		StopPrice(tp.String()).
		ClosePosition(true).
		Do(ctx)
	if err != nil {
		return fmt.Errorf("ошибка выставления тейк-заявки %s: %w", order.Symbol, err)
	}

	logger.Info("Лимитная заявка выставлена",
		zap.String("symbol", order.Symbol),
		zap.String("direction", string(order.Direction)),
		zap.String("entry", entry.String()),
		zap.String("sl", sl.String()),
		zap.String("tp", tp.String()))

	return nil
}
