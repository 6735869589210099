// internal/config/config.go
package config

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/YaganovValera/analytics-system/services/trade-buckets/internal/aggregator"
	httpserver "github.com/YaganovValera/analytics-system/services/trade-buckets/internal/http"
	"github.com/YaganovValera/analytics-system/services/trade-buckets/pkg/backoff"
)

/*
   --------------------------------------------------------------------------
   СТРУКТУРЫ
   --------------------------------------------------------------------------
*/

// Config: все настройки сервиса.
type Config struct {
	ServiceName    string            `mapstructure:"service_name"`
	ServiceVersion string            `mapstructure:"service_version"`
	Binance        BinanceConfig     `mapstructure:"binance"`
	Aggregator     aggregator.Config `mapstructure:"aggregator"`
	HTTP           httpserver.Config `mapstructure:"http"`
	Kafka          KafkaConfig       `mapstructure:"kafka"`
	Telemetry      Telemetry         `mapstructure:"telemetry"`
	Logging        Logging           `mapstructure:"logging"`
}

// BinanceConfig хранит настройки для WS Binance.
type BinanceConfig struct {
	WSURL            string         `mapstructure:"ws_url"`
	Symbols          []string       `mapstructure:"symbols"`
	BufferSize       int            `mapstructure:"buffer_size"`
	ReadTimeout      time.Duration  `mapstructure:"read_timeout"`
	SubscribeTimeout time.Duration  `mapstructure:"subscribe_timeout"`
	ReconnectDelay   time.Duration  `mapstructure:"reconnect_delay"`
	ErrorDelay       time.Duration  `mapstructure:"error_delay"`
	Backoff          backoff.Config `mapstructure:"backoff"`
}

// KafkaConfig хранит настройки публикации выданных сделок.
type KafkaConfig struct {
	Enabled        bool           `mapstructure:"enabled"`
	Brokers        []string       `mapstructure:"brokers"`
	Topic          string         `mapstructure:"topic"`
	Timeout        time.Duration  `mapstructure:"timeout"`
	Acks           string         `mapstructure:"acks"`
	Compression    string         `mapstructure:"compression"`
	FlushFrequency time.Duration  `mapstructure:"flush_frequency"`
	FlushMessages  int            `mapstructure:"flush_messages"`
	QueueSize      int            `mapstructure:"queue_size"`
	Backoff        backoff.Config `mapstructure:"backoff"`
}

// Telemetry хранит настройки OpenTelemetry.
type Telemetry struct {
	Enabled      bool    `mapstructure:"enabled"`
	OTLPEndpoint string  `mapstructure:"otel_endpoint"`
	Insecure     bool    `mapstructure:"insecure"`
	SamplerRatio float64 `mapstructure:"sampler_ratio"`
}

// Logging хранит настройки логгера.
type Logging struct {
	Level   string `mapstructure:"level"`
	DevMode bool   `mapstructure:"dev_mode"`
}

/*
   --------------------------------------------------------------------------
   LOADER
   --------------------------------------------------------------------------
*/

const envPrefix = "TRADEBUCKETS"

func setDefaults(v *viper.Viper) {
	v.SetDefault("service_name", "trade-buckets")
	v.SetDefault("service_version", "v1.0.0")

	// Binance
	v.SetDefault("binance.ws_url", "wss://stream.binance.com:9443/ws")
	v.SetDefault("binance.symbols", []string{"trxusdt", "aevousdt"})
	v.SetDefault("binance.buffer_size", 100)
	v.SetDefault("binance.read_timeout", "30s")
	v.SetDefault("binance.subscribe_timeout", "5s")
	v.SetDefault("binance.reconnect_delay", "1s")
	v.SetDefault("binance.error_delay", "1s")
	v.SetDefault("binance.backoff.initial_interval", "1s")
	v.SetDefault("binance.backoff.max_interval", "30s")
	v.SetDefault("binance.backoff.max_elapsed_time", "0s")

	// Aggregator
	v.SetDefault("aggregator.timezone", aggregator.DefaultTimezone)
	v.SetDefault("aggregator.threshold_usd", aggregator.DefaultThresholdUSD)
	v.SetDefault("aggregator.display_divisor", aggregator.DefaultDisplayDivisor)

	// HTTP
	v.SetDefault("http.port", 5000)
	v.SetDefault("http.read_timeout", "10s")
	v.SetDefault("http.write_timeout", "15s")
	v.SetDefault("http.idle_timeout", "60s")
	v.SetDefault("http.shutdown_timeout", "5s")
	v.SetDefault("http.trades_path", "/get_trades")
	v.SetDefault("http.metrics_path", "/metrics")
	v.SetDefault("http.healthz_path", "/healthz")
	v.SetDefault("http.readyz_path", "/readyz")
	v.SetDefault("http.poll_interval", "1s")
	v.SetDefault("http.cors_origins", []string{"*"})

	// Kafka
	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic", "trades.emitted")
	v.SetDefault("kafka.acks", "all")
	v.SetDefault("kafka.timeout", "15s")
	v.SetDefault("kafka.compression", "none")
	v.SetDefault("kafka.flush_frequency", "0s")
	v.SetDefault("kafka.flush_messages", 0)
	v.SetDefault("kafka.queue_size", 1024)
	v.SetDefault("kafka.backoff.max_elapsed_time", "30s")

	// Telemetry
	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.otel_endpoint", "otel-collector:4317")
	v.SetDefault("telemetry.insecure", true)
	v.SetDefault("telemetry.sampler_ratio", 1.0)

	// Logging
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.dev_mode", false)
}

// Load загружает и валидирует конфиг. Если path пустой, читаются только ENV и defaults.
// flags, если не nil, перекрывают значения файла (ключи по имени флага).
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	// ---------- 1) Defaults ----------
	setDefaults(v)

	// ---------- 2) ENV ----------
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// ---------- 3) Optional file ----------
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %q: %w", v.ConfigFileUsed(), err)
		}
	}

	// ---------- 4) Flags ----------
	if flags != nil {
		if err := bindFlags(v, flags); err != nil {
			return nil, err
		}
	}

	// ---------- 5) Decode ----------
	var cfg Config
	decodeHook := mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
		stringToBoolHook,
	)
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "mapstructure",
		Result:           &cfg,
		DecodeHook:       decodeHook,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return nil, fmt.Errorf("create decoder: %w", err)
	}
	if err := dec.Decode(v.AllSettings()); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	// ---------- 6) Validation ----------
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &cfg, nil
}

// bindFlags привязывает только явно заданные флаги, чтобы значения по
// умолчанию у флагов не перекрывали файл и ENV.
func bindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	var bindErr error
	fs.Visit(func(f *pflag.Flag) {
		key, ok := flagKeys[f.Name]
		if !ok || bindErr != nil {
			return
		}
		bindErr = v.BindPFlag(key, f)
	})
	if bindErr != nil {
		return fmt.Errorf("bind flags: %w", bindErr)
	}
	return nil
}

// flagKeys: имя CLI-флага -> ключ конфига.
var flagKeys = map[string]string{
	"symbols":   "binance.symbols",
	"port":      "http.port",
	"log-level": "logging.level",
	"dev":       "logging.dev_mode",
	"threshold": "aggregator.threshold_usd",
	"timezone":  "aggregator.timezone",
}

// stringToBoolHook разбирает true/false, иначе отдает исходные данные.
func stringToBoolHook(f, t reflect.Kind, data interface{}) (interface{}, error) {
	if f == reflect.String && t == reflect.Bool {
		return strconv.ParseBool(data.(string))
	}
	return data, nil
}

/*
   --------------------------------------------------------------------------
   VALIDATION
   --------------------------------------------------------------------------
*/

func (c *Config) Validate() error {
	// Service
	if c.ServiceName == "" {
		return fmt.Errorf("service_name is required")
	}
	if c.ServiceVersion == "" {
		return fmt.Errorf("service_version is required")
	}

	// Binance
	if c.Binance.WSURL == "" {
		return fmt.Errorf("binance.ws_url is required")
	}
	if !strings.HasPrefix(c.Binance.WSURL, "ws://") && !strings.HasPrefix(c.Binance.WSURL, "wss://") {
		return fmt.Errorf("binance.ws_url must start with ws:// or wss://")
	}
	c.Binance.Symbols = normalizeSymbols(c.Binance.Symbols)
	if len(c.Binance.Symbols) == 0 {
		return fmt.Errorf("binance.symbols must contain at least one entry")
	}
	if c.Binance.ReadTimeout <= 0 {
		return fmt.Errorf("binance.read_timeout must be > 0")
	}
	if c.Binance.SubscribeTimeout <= 0 {
		return fmt.Errorf("binance.subscribe_timeout must be > 0")
	}
	if c.Binance.ReconnectDelay <= 0 || c.Binance.ErrorDelay <= 0 {
		return fmt.Errorf("binance.reconnect_delay and binance.error_delay must be > 0")
	}

	// Aggregator
	if c.Aggregator.Timezone == "" {
		return fmt.Errorf("aggregator.timezone is required")
	}
	if _, err := time.LoadLocation(c.Aggregator.Timezone); err != nil {
		return fmt.Errorf("aggregator.timezone: %w", err)
	}
	if c.Aggregator.ThresholdUSD <= 0 {
		return fmt.Errorf("aggregator.threshold_usd must be > 0")
	}
	if c.Aggregator.DisplayDivisor <= 0 {
		return fmt.Errorf("aggregator.display_divisor must be > 0")
	}

	// HTTP
	if err := validateHTTP(&c.HTTP); err != nil {
		return err
	}

	// Kafka
	if c.Kafka.Enabled {
		if len(c.Kafka.Brokers) == 0 {
			return fmt.Errorf("kafka.brokers is required when kafka.enabled")
		}
		if c.Kafka.Topic == "" {
			return fmt.Errorf("kafka.topic is required when kafka.enabled")
		}
		switch strings.ToLower(c.Kafka.Acks) {
		case "all", "leader", "none":
		default:
			return fmt.Errorf("kafka.acks must be one of [all, leader, none]")
		}
		switch strings.ToLower(c.Kafka.Compression) {
		case "none", "gzip", "snappy", "lz4", "zstd":
		default:
			return fmt.Errorf("kafka.compression must be one of [none, gzip, snappy, lz4, zstd]")
		}
	}

	// Telemetry
	if c.Telemetry.Enabled && c.Telemetry.OTLPEndpoint == "" {
		return fmt.Errorf("telemetry.otel_endpoint is required when telemetry.enabled")
	}

	// Logging
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of [debug, info, warn, error]")
	}

	return nil
}

func validateHTTP(h *httpserver.Config) error {
	if h.Port <= 0 || h.Port > 65535 {
		return fmt.Errorf("http.port must be between 1 and 65535")
	}
	durations := map[string]time.Duration{
		"http.read_timeout":     h.ReadTimeout,
		"http.write_timeout":    h.WriteTimeout,
		"http.idle_timeout":     h.IdleTimeout,
		"http.shutdown_timeout": h.ShutdownTimeout,
		"http.poll_interval":    h.PollInterval,
	}
	for k, d := range durations {
		if d <= 0 {
			return fmt.Errorf("%s must be > 0", k)
		}
	}
	paths := map[string]string{
		"http.trades_path":  h.TradesPath,
		"http.metrics_path": h.MetricsPath,
		"http.healthz_path": h.HealthzPath,
		"http.readyz_path":  h.ReadyzPath,
	}
	for k, p := range paths {
		if !strings.HasPrefix(p, "/") {
			return fmt.Errorf("%s must start with '/'", k)
		}
	}
	return nil
}

// normalizeSymbols приводит тикеры к нижнему регистру и убирает дубликаты, сохраняя порядок.
func normalizeSymbols(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.ToLower(strings.TrimSpace(s))
		if s == "" {
			continue
		}
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

/*
   --------------------------------------------------------------------------
   DEBUG PRINT
   --------------------------------------------------------------------------
*/

// Print выводит текущий конфиг в JSON (удобно в DevMode).
func (c *Config) Print() {
	b, _ := json.MarshalIndent(c, "", "  ")
	fmt.Println("Loaded configuration:\n", string(b))
}
