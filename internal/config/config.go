package config

import (
	"fmt"
	"os"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gopkg.in/yaml.v2"

	"github.com/skalibog/smcscan/pkg/logger"
)

// Config представляет полную конфигурацию приложения
type Config struct {
	Binance  BinanceConfig  `yaml:"binance"`
	Trading  TradingConfig  `yaml:"trading"`
	Strategy StrategyConfig `yaml:"strategy"`
	Watch    WatchConfig    `yaml:"watch"`
	Storage  StorageConfig  `yaml:"storage"`
}

// BinanceConfig содержит настройки подключения к Binance
type BinanceConfig struct {
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
	Testnet   bool   `yaml:"testnet"`
}

// TradingConfig содержит настройки сканирования рынка
type TradingConfig struct {
	Symbols             []string `yaml:"symbols"`
	BiasTimeframe       string   `yaml:"bias_timeframe"`          // старший ТФ для тренда (4h)
	BiasFallback        string   `yaml:"bias_fallback_timeframe"` // запасной ТФ при NEUTRAL (1h)
	SignalTimeframe     string   `yaml:"signal_timeframe"`        // ТФ детекции паттерна (15m)
	BiasLookback        int      `yaml:"bias_lookback"`
	SignalLookback      int      `yaml:"signal_lookback"`
	ScanIntervalSeconds int      `yaml:"scan_interval_seconds"`
	DataTimeoutSeconds  int      `yaml:"data_timeout_seconds"`
	OrderQuantity       float64  `yaml:"order_quantity"` // размер лимитной заявки в базовой валюте
}

// StrategyConfig пороговые значения конвейера гейтов.
// Значения по умолчанию в коде отсутствуют, все обязаны приходить из файла.
type StrategyConfig struct {
	// Risk-bound гейт
	MinSLDistancePct float64 `yaml:"min_sl_distance_pct"`
	MaxSLDistancePct float64 `yaml:"max_sl_distance_pct"`
	SLBufferPct      float64 `yaml:"sl_buffer_pct"`
	DefaultTPRatio   float64 `yaml:"default_tp_ratio"`

	// Displacement гейт
	DisplacementMinSizePct           float64 `yaml:"displacement_min_size_pct"`
	DisplacementMinBodyRatio         float64 `yaml:"displacement_min_body_ratio"`
	DisplacementATRMultiplier        float64 `yaml:"displacement_atr_multiplier"`
	DisplacementMaxCandlesAfterSweep int     `yaml:"displacement_max_candles_after_sweep"`
	VolumeRatioMin                   float64 `yaml:"volume_ratio_min"`

	// Структура и ликвидность
	SwingLookback           int     `yaml:"swing_lookback"`
	BOSMinDisplacement      float64 `yaml:"bos_min_displacement"`
	LiquidityEqualTolerance float64 `yaml:"liquidity_equal_tolerance"`
	LiquidityMinTouches     int     `yaml:"liquidity_min_touches"`
	FVGMinSizePct           float64 `yaml:"fvg_min_size_pct"`

	// Premium/Discount фильтр входа
	MaxEntryPremiumLevel float64 `yaml:"max_entry_premium_level"` // LONG запрещен выше этого уровня
	MinEntryPremiumLevel float64 `yaml:"min_entry_premium_level"` // SHORT запрещен ниже этого уровня

	// Индикатор HTF bias для проверки разворота: "structure" или "ema"
	BiasMode      string `yaml:"bias_mode"`
	BiasEMAPeriod int    `yaml:"bias_ema_period"`
}

// WatchConfig настройки списка наблюдения
type WatchConfig struct {
	ConfirmTimeframe       string `yaml:"confirm_timeframe"`
	ConfirmLookback        int    `yaml:"confirm_lookback"`
	RequiredConfirmCandles int    `yaml:"required_confirm_candles"`
	MaxWatchCandles        int    `yaml:"max_watch_candles"`
	CheckIntervalSeconds   int    `yaml:"watch_check_interval_seconds"`
}

// StorageConfig настройки хранения данных
type StorageConfig struct {
	URL          string `yaml:"url"`
	Token        string `yaml:"token"`
	Organization string `yaml:"organization"`
	Bucket       string `yaml:"bucket"`
}

// BiasMode допустимые режимы индикатора разворота
const (
	BiasModeStructure = "structure"
	BiasModeEMA       = "ema"
)

// Load загружает конфигурацию из файла и валидирует ее
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения файла конфигурации: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("ошибка разбора файла конфигурации: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("конфигурация некорректна: %w", err)
	}

	logger.Info("Загружена конфигурация",
		zap.String("path", path),
		zap.Strings("symbols", config.Trading.Symbols))
	return &config, nil
}

// Validate проверяет согласованность порогов. Ошибка здесь фатальна:
// процесс обязан остановиться до первой оценки рынка.
func (c *Config) Validate() error {
	var errs error

	s := c.Strategy
	if s.MinSLDistancePct > s.MaxSLDistancePct {
		errs = multierr.Append(errs, fmt.Errorf(
			"min_sl_distance_pct (%v) больше max_sl_distance_pct (%v)",
			s.MinSLDistancePct, s.MaxSLDistancePct))
	}

	pcts := map[string]float64{
		"min_sl_distance_pct":       s.MinSLDistancePct,
		"max_sl_distance_pct":       s.MaxSLDistancePct,
		"sl_buffer_pct":             s.SLBufferPct,
		"displacement_min_size_pct": s.DisplacementMinSizePct,
		"fvg_min_size_pct":          s.FVGMinSizePct,
		"liquidity_equal_tolerance": s.LiquidityEqualTolerance,
		"bos_min_displacement":      s.BOSMinDisplacement,
	}
	for name, v := range pcts {
		if v < 0 {
			errs = multierr.Append(errs, fmt.Errorf("%s отрицателен (%v)", name, v))
		}
	}

	if s.DisplacementMinBodyRatio < 0 || s.DisplacementMinBodyRatio > 1 {
		errs = multierr.Append(errs, fmt.Errorf(
			"displacement_min_body_ratio вне диапазона [0,1]: %v", s.DisplacementMinBodyRatio))
	}
	if s.DisplacementATRMultiplier < 0 {
		errs = multierr.Append(errs, fmt.Errorf(
			"displacement_atr_multiplier отрицателен (%v)", s.DisplacementATRMultiplier))
	}
	if s.VolumeRatioMin < 0 {
		errs = multierr.Append(errs, fmt.Errorf("volume_ratio_min отрицателен (%v)", s.VolumeRatioMin))
	}
	if s.DisplacementMaxCandlesAfterSweep < 1 {
		errs = multierr.Append(errs, fmt.Errorf(
			"displacement_max_candles_after_sweep должен быть >= 1 (%d)", s.DisplacementMaxCandlesAfterSweep))
	}
	if s.SwingLookback < 2 {
		errs = multierr.Append(errs, fmt.Errorf("swing_lookback должен быть >= 2 (%d)", s.SwingLookback))
	}

	switch s.BiasMode {
	case BiasModeStructure:
	case BiasModeEMA:
		if s.BiasEMAPeriod < 2 {
			errs = multierr.Append(errs, fmt.Errorf(
				"bias_ema_period должен быть >= 2 при bias_mode=ema (%d)", s.BiasEMAPeriod))
		}
	default:
		errs = multierr.Append(errs, fmt.Errorf("неизвестный bias_mode: %q", s.BiasMode))
	}

	w := c.Watch
	if w.ConfirmTimeframe == "" {
		errs = multierr.Append(errs, fmt.Errorf("confirm_timeframe не задан"))
	}
	if w.RequiredConfirmCandles < 1 {
		errs = multierr.Append(errs, fmt.Errorf(
			"required_confirm_candles должен быть >= 1 (%d)", w.RequiredConfirmCandles))
	}
	if w.MaxWatchCandles < 1 {
		errs = multierr.Append(errs, fmt.Errorf("max_watch_candles должен быть >= 1 (%d)", w.MaxWatchCandles))
	}
	if w.CheckIntervalSeconds < 1 {
		errs = multierr.Append(errs, fmt.Errorf(
			"watch_check_interval_seconds должен быть >= 1 (%d)", w.CheckIntervalSeconds))
	}

	t := c.Trading
	if len(t.Symbols) == 0 {
		errs = multierr.Append(errs, fmt.Errorf("список symbols пуст"))
	}
	if t.BiasTimeframe == "" || t.SignalTimeframe == "" {
		errs = multierr.Append(errs, fmt.Errorf("bias_timeframe и signal_timeframe обязательны"))
	}
	if t.ScanIntervalSeconds < 1 {
		errs = multierr.Append(errs, fmt.Errorf("scan_interval_seconds должен быть >= 1 (%d)", t.ScanIntervalSeconds))
	}

	return errs
}
