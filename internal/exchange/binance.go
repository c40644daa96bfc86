package exchange

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/futures"

	"github.com/skalibog/smcscan/internal/config"
	"github.com/skalibog/smcscan/pkg/models"
)

// ErrDataUnavailable возвращается, когда биржа не отдала свечи за отведенный
// таймаут. Для вызывающего это транзиентный отказ: тик пропускается без
// изменения состояния, повтор на следующем тике.
var ErrDataUnavailable = errors.New("данные недоступны")

// BinanceClient клиент для взаимодействия с Binance Futures
type BinanceClient struct {
	futures *futures.Client
	timeout time.Duration
}

// NewBinanceClient создает новый клиент Binance
func NewBinanceClient(cfg config.BinanceConfig, dataTimeout time.Duration) (*BinanceClient, error) {
	futuresClient := binance.NewFuturesClient(cfg.APIKey, cfg.APISecret)
	if cfg.Testnet {
		futures.UseTestnet = true
	}
	if dataTimeout <= 0 {
		dataTimeout = 10 * time.Second
	}

	return &BinanceClient{
		futures: futuresClient,
		timeout: dataTimeout,
	}, nil
}

// GetCandles получает закрытые исторические свечи в порядке возрастания времени.
// Дыры в серии или таймаут превращаются в ErrDataUnavailable.
func (c *BinanceClient) GetCandles(ctx context.Context, symbol, interval string, limit int) ([]*models.Candle, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	klines, err := c.futures.NewKlinesService().
		Symbol(symbol).
		Interval(interval).
		Limit(limit).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: ошибка получения свечей %s %s: %v", ErrDataUnavailable, symbol, interval, err)
	}

	candles := make([]*models.Candle, 0, len(klines))
	for _, k := range klines {
		candle, err := parseKline(symbol, interval, k)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDataUnavailable, err)
		}
		candles = append(candles, candle)
	}

	if err := checkContinuity(candles, interval); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDataUnavailable, err)
	}

	return candles, nil
}

// parseKline конвертирует свечу биржи во внутреннюю модель
func parseKline(symbol, interval string, k *futures.Kline) (*models.Candle, error) {
	open, err := strconv.ParseFloat(k.Open, 64)
	if err != nil {
		return nil, fmt.Errorf("ошибка парсинга open: %w", err)
	}
	high, err := strconv.ParseFloat(k.High, 64)
	if err != nil {
		return nil, fmt.Errorf("ошибка парсинга high: %w", err)
	}
	low, err := strconv.ParseFloat(k.Low, 64)
	if err != nil {
		return nil, fmt.Errorf("ошибка парсинга low: %w", err)
	}
	closePrice, err := strconv.ParseFloat(k.Close, 64)
	if err != nil {
		return nil, fmt.Errorf("ошибка парсинга close: %w", err)
	}
	volume, err := strconv.ParseFloat(k.Volume, 64)
	if err != nil {
		return nil, fmt.Errorf("ошибка парсинга volume: %w", err)
	}

	return &models.Candle{
		Symbol:    symbol,
		Interval:  interval,
		OpenTime:  time.Unix(k.OpenTime/1000, 0).UTC(),
		Open:      open,
		High:      high,
		Low:       low,
		Close:     closePrice,
		Volume:    volume,
		CloseTime: time.Unix(k.CloseTime/1000, 0).UTC(),
	}, nil
}

// checkContinuity проверяет возрастание времени и отсутствие дыр в серии
func checkContinuity(candles []*models.Candle, interval string) error {
	step := IntervalDuration(interval)
	for i := 1; i < len(candles); i++ {
		prev, curr := candles[i-1], candles[i]
		if !curr.OpenTime.After(prev.OpenTime) {
			return fmt.Errorf("свечи не упорядочены по времени: %s после %s", curr.OpenTime, prev.OpenTime)
		}
		if step > 0 && curr.OpenTime.Sub(prev.OpenTime) != step {
			return fmt.Errorf("дыра в серии %s: %s -> %s", interval, prev.OpenTime, curr.OpenTime)
		}
	}
	return nil
}

// IntervalDuration конвертирует строковый интервал в duration
func IntervalDuration(interval string) time.Duration {
	switch interval {
	case "1m":
		return time.Minute
	case "3m":
		return 3 * time.Minute
	case "5m":
		return 5 * time.Minute
	case "15m":
		return 15 * time.Minute
	case "30m":
		return 30 * time.Minute
	case "1h":
		return time.Hour
	case "2h":
		return 2 * time.Hour
	case "4h":
		return 4 * time.Hour
	case "6h":
		return 6 * time.Hour
	case "8h":
		return 8 * time.Hour
	case "12h":
		return 12 * time.Hour
	case "1d":
		return 24 * time.Hour
	case "1w":
		return 7 * 24 * time.Hour
	default:
		return 0
	}
}
