// pkg/binance/config.go
package binance

import (
	"fmt"
	"strings"
	"time"

	"github.com/YaganovValera/analytics-system/services/trade-buckets/pkg/backoff"
)

// Config holds WebSocket configuration for one Binance connection.
type Config struct {
	URL              string         `mapstructure:"ws_url"`
	Streams          []string       `mapstructure:"streams"`
	BufferSize       int            `mapstructure:"buffer_size"`
	ReadTimeout      time.Duration  `mapstructure:"read_timeout"`
	SubscribeTimeout time.Duration  `mapstructure:"subscribe_timeout"`
	ReconnectDelay   time.Duration  `mapstructure:"reconnect_delay"`
	BackoffConfig    backoff.Config `mapstructure:"backoff"`
}

// applyDefaults applies fallback defaults if values are unset.
func (c *Config) applyDefaults() {
	if c.BufferSize <= 0 {
		c.BufferSize = 100
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 30 * time.Second
	}
	if c.SubscribeTimeout <= 0 {
		c.SubscribeTimeout = 5 * time.Second
	}
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = time.Second
	}
}

// validate checks config for required fields.
func (c *Config) validate() error {
	var errs []string
	if c.URL == "" {
		errs = append(errs, "URL is required")
	}
	if len(c.Streams) == 0 {
		errs = append(errs, "at least one stream is required")
	}
	if len(errs) > 0 {
		return fmt.Errorf("binance: invalid config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// TradeStream returns the raw trade stream name for a symbol, e.g. "trxusdt@trade".
func TradeStream(symbol string) string {
	return strings.ToLower(symbol) + "@trade"
}
