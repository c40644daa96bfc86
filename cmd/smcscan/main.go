package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/skalibog/smcscan/internal/config"
	"github.com/skalibog/smcscan/internal/exchange"
	"github.com/skalibog/smcscan/internal/gates"
	"github.com/skalibog/smcscan/internal/market"
	"github.com/skalibog/smcscan/internal/scanner"
	"github.com/skalibog/smcscan/internal/storage"
	"github.com/skalibog/smcscan/internal/watchlist"
	"github.com/skalibog/smcscan/pkg/logger"
)

func main() {
	logger.Init()
	defer logger.GetLogger().Sync()

	// Обработка флагов командной строки
	configPath := flag.String("config", "config.yaml", "путь к файлу конфигурации")
	flag.Parse()

	// Проверяем наличие файла конфигурации
	logger.Info("Проверка наличия файла конфигурации", zap.String("path", *configPath))
	if _, err := os.Stat(*configPath); os.IsNotExist(err) {
		logger.Fatal("Файл конфигурации не найден", zap.String("path", *configPath))
	}

	// Загружаем конфигурацию. Некорректные пороги фатальны:
	// процесс не доживает до первой оценки рынка.
	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("Ошибка загрузки конфигурации", zap.Error(err))
	}

	// Создаем контекст с возможностью отмены через горутину
	ctx, cancel := context.WithCancel(context.Background())

	// Настраиваем обработку сигналов завершения
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Println("\nЗавершение работы...")
		cancel()
		time.Sleep(5 * time.Second) // Даем горутинам время на завершение
		os.Exit(0)
	}()

	// Инициализируем хранилище
	store, err := storage.NewInfluxDBStorage(cfg.Storage)
	if err != nil {
		logger.Fatal("Ошибка инициализации хранилища", zap.Error(err))
	}
	defer store.Close()

	// Инициализируем клиент биржи
	client, err := exchange.NewBinanceClient(cfg.Binance, time.Duration(cfg.Trading.DataTimeoutSeconds)*time.Second)
	if err != nil {
		logger.Fatal("Ошибка инициализации клиента биржи", zap.Error(err))
	}

	// Архиватор свечей сигнального ТФ в отдельной горутине
	collector := exchange.NewCandleCollector(client, store,
		cfg.Trading.Symbols, cfg.Trading.SignalTimeframe, cfg.Trading.SignalLookback)
	go func() {
		defer collector.Stop()
		if err := collector.Start(ctx); err != nil {
			logger.Warn("Ошибка запуска сборщика свечей", zap.Error(err))
		}
	}()

	// Собираем конвейер: снимки рынка, гейты, наблюдение, эмиттер
	builder := market.NewBuilder(client, cfg.Trading, cfg.Watch)
	pipeline := gates.NewPipeline(cfg.Strategy, cfg.Watch)
	emitter := exchange.NewBinanceLimitEmitter(client, cfg.Trading.OrderQuantity)
	manager := watchlist.NewManager(cfg.Watch, cfg.Strategy, builder, pipeline, store, emitter)

	scan := scanner.NewScanner(cfg.Trading, cfg.Watch, builder, pipeline, manager, emitter, store)

	// Сканер в основном потоке (блокирующий вызов)
	scan.Start(ctx)
}
