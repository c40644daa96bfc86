// internal/storage/influxdb.go
package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/skalibog/smcscan/internal/config"
	"github.com/skalibog/smcscan/pkg/models"
)

// Storage интерфейс для работы с хранилищем данных
type Storage interface {
	// Свечи
	SaveCandles(ctx context.Context, candles []*models.Candle) error
	GetCandles(ctx context.Context, symbol, interval string, limit int) ([]*models.Candle, error)

	// Промоутнутые сигналы
	SaveSignal(ctx context.Context, candidate *models.SetupCandidate) error
	GetSignalHistory(ctx context.Context, symbol string, limit int) ([]*models.SetupCandidate, error)

	// События списка наблюдения (создание, переходы, экспирация)
	SaveWatchEvent(ctx context.Context, item *models.WatchlistItem, event string) error

	Close()
}

// InfluxDBStorage реализует интерфейс Storage с использованием InfluxDB
type InfluxDBStorage struct {
	client   influxdb2.Client
	queryAPI api.QueryAPI
	writeAPI api.WriteAPI
	org      string
	bucket   string
}

// NewInfluxDBStorage создает новое хранилище InfluxDB
func NewInfluxDBStorage(cfg config.StorageConfig) (*InfluxDBStorage, error) {
	client := influxdb2.NewClient(cfg.URL, cfg.Token)

	// Проверка соединения
	health, err := client.Health(context.Background())
	if err != nil {
		return nil, fmt.Errorf("ошибка соединения с InfluxDB: %w", err)
	}
	if health == nil || health.Status != "pass" {
		return nil, fmt.Errorf("InfluxDB не в состоянии 'pass': %+v", health)
	}

	queryAPI := client.QueryAPI(cfg.Organization)
	writeAPI := client.WriteAPI(cfg.Organization, cfg.Bucket)

	return &InfluxDBStorage{
		client:   client,
		queryAPI: queryAPI,
		writeAPI: writeAPI,
		org:      cfg.Organization,
		bucket:   cfg.Bucket,
	}, nil
}

// Close закрывает соединение с базой данных
func (s *InfluxDBStorage) Close() {
	s.writeAPI.Flush()
	s.client.Close()
}

// SaveCandles сохраняет пачку свечей
func (s *InfluxDBStorage) SaveCandles(ctx context.Context, candles []*models.Candle) error {
	for _, candle := range candles {
		point := influxdb2.NewPoint(
			"candles",
			map[string]string{
				"symbol":   candle.Symbol,
				"interval": candle.Interval,
			},
			map[string]interface{}{
				"open":   candle.Open,
				"high":   candle.High,
				"low":    candle.Low,
				"close":  candle.Close,
				"volume": candle.Volume,
			},
			candle.OpenTime,
		)
		s.writeAPI.WritePoint(point)
	}

	s.writeAPI.Flush()
	return nil
}

// GetCandles получает исторические свечи в порядке возрастания времени
func (s *InfluxDBStorage) GetCandles(ctx context.Context, symbol, interval string, limit int) ([]*models.Candle, error) {
	// Формируем Flux-запрос
	query := fmt.Sprintf(`
		from(bucket: "%s")
			|> range(start: -30d)
			|> filter(fn: (r) => r._measurement == "candles")
			|> filter(fn: (r) => r.symbol == "%s")
			|> filter(fn: (r) => r.interval == "%s")
			|> pivot(rowKey:["_time"], columnKey: ["_field"], valueColumn: "_value")
			|> sort(columns: ["_time"], desc: true)
			|> limit(n: %d)
	`, s.bucket, symbol, interval, limit)

	result, err := s.queryAPI.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("ошибка запроса свечей: %w", err)
	}

	var candles []*models.Candle
	for result.Next() {
		record := result.Record()

		timestamp := record.Time()
		open, _ := record.ValueByKey("open").(float64)
		high, _ := record.ValueByKey("high").(float64)
		low, _ := record.ValueByKey("low").(float64)
		closePrice, _ := record.ValueByKey("close").(float64)
		volume, _ := record.ValueByKey("volume").(float64)

		candle := &models.Candle{
			Symbol:    symbol,
			Interval:  interval,
			OpenTime:  timestamp,
			Open:      open,
			High:      high,
			Low:       low,
			Close:     closePrice,
			Volume:    volume,
		}

		candles = append(candles, candle)
	}

	if result.Err() != nil {
		return nil, fmt.Errorf("ошибка при обработке результатов: %w", result.Err())
	}

	// Запрос отдает убывание времени, разворачиваем в возрастание
	for i, j := 0, len(candles)-1; i < j; i, j = i+1, j-1 {
		candles[i], candles[j] = candles[j], candles[i]
	}

	return candles, nil
}

// SaveSignal сохраняет промоутнутый кандидат
func (s *InfluxDBStorage) SaveSignal(ctx context.Context, candidate *models.SetupCandidate) error {
	point := influxdb2.NewPoint(
		"signals",
		map[string]string{
			"symbol":    candidate.Symbol,
			"direction": string(candidate.Direction),
		},
		map[string]interface{}{
			"entry":       candidate.EntryPrice,
			"stop_loss":   candidate.StopLoss,
			"take_profit": candidate.TakeProfit,
			"entry_mode":  string(candidate.EntryMode),
			"session":     candidate.Session,
			"gates":       strings.Join(candidate.SatisfiedGates, ","),
		},
		candidate.CreatedAt,
	)

	s.writeAPI.WritePoint(point)
	s.writeAPI.Flush()

	return nil
}

// GetSignalHistory получает историю сигналов
func (s *InfluxDBStorage) GetSignalHistory(ctx context.Context, symbol string, limit int) ([]*models.SetupCandidate, error) {
	query := fmt.Sprintf(`
		from(bucket: "%s")
			|> range(start: -30d)
			|> filter(fn: (r) => r._measurement == "signals")
			|> filter(fn: (r) => r.symbol == "%s")
			|> pivot(rowKey:["_time"], columnKey: ["_field"], valueColumn: "_value")
			|> sort(columns: ["_time"], desc: true)
			|> limit(n: %d)
	`, s.bucket, symbol, limit)

	result, err := s.queryAPI.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("ошибка запроса истории сигналов: %w", err)
	}

	var signals []*models.SetupCandidate
	for result.Next() {
		record := result.Record()

		entry, _ := record.ValueByKey("entry").(float64)
		sl, _ := record.ValueByKey("stop_loss").(float64)
		tp, _ := record.ValueByKey("take_profit").(float64)
		direction, _ := record.ValueByKey("direction").(string)
		gates, _ := record.ValueByKey("gates").(string)

		candidate := &models.SetupCandidate{
			Symbol:     symbol,
			Direction:  models.Direction(direction),
			EntryPrice: entry,
			StopLoss:   sl,
			TakeProfit: tp,
			EntryMode:  models.EntryModeLimit,
			CreatedAt:  record.Time(),
		}
		if gates != "" {
			candidate.SatisfiedGates = strings.Split(gates, ",")
		}

		signals = append(signals, candidate)
	}

	if result.Err() != nil {
		return nil, fmt.Errorf("ошибка при обработке результатов: %w", result.Err())
	}

	return signals, nil
}

// SaveWatchEvent сохраняет переход элемента списка наблюдения
func (s *InfluxDBStorage) SaveWatchEvent(ctx context.Context, item *models.WatchlistItem, event string) error {
	point := influxdb2.NewPoint(
		"watch_events",
		map[string]string{
			"symbol": item.Symbol,
			"event":  event,
		},
		map[string]interface{}{
			"status":          string(item.Status),
			"reason":          item.Reason.String(),
			"candles_watched": item.CandlesWatched,
			"expire_reason":   item.ExpireReason,
			"entry":           item.Candidate.EntryPrice,
			"stop_loss":       item.Candidate.StopLoss,
		},
		time.Now(),
	)

	s.writeAPI.WritePoint(point)
	s.writeAPI.Flush()

	return nil
}
