// internal/aggregator/aggregator.go
package aggregator

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
	_ "time/tzdata" // zoneinfo for containers without /usr/share/zoneinfo

	"github.com/YaganovValera/analytics-system/services/trade-buckets/internal/bucket"
	"github.com/YaganovValera/analytics-system/services/trade-buckets/internal/metrics"
	"github.com/YaganovValera/analytics-system/services/trade-buckets/pkg/logger"
)

const (
	DefaultTimezone       = "America/New_York"
	DefaultThresholdUSD   = 50000.0
	DefaultDisplayDivisor = 100000.0

	// LabelLayout is the format of a bucket second label.
	LabelLayout = "15:04:05"
)

// ErrInvalidTrade is returned by RecordTrade for input that cannot be bucketed.
var ErrInvalidTrade = errors.New("aggregator: invalid trade")

// Config holds aggregation parameters.
type Config struct {
	Timezone       string  `mapstructure:"timezone"`
	ThresholdUSD   float64 `mapstructure:"threshold_usd"`
	DisplayDivisor float64 `mapstructure:"display_divisor"`
}

func (c *Config) applyDefaults() {
	if c.Timezone == "" {
		c.Timezone = DefaultTimezone
	}
	if c.ThresholdUSD <= 0 {
		c.ThresholdUSD = DefaultThresholdUSD
	}
	if c.DisplayDivisor <= 0 {
		c.DisplayDivisor = DefaultDisplayDivisor
	}
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithClock replaces the wall clock, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) { a.now = now }
}

// WithStore makes the Aggregator use s instead of a fresh store.
func WithStore(s *bucket.Store) Option {
	return func(a *Aggregator) { a.store = s }
}

// Aggregator sums trades into per-second buckets and hands out matured ones.
type Aggregator struct {
	store     *bucket.Store
	loc       *time.Location
	threshold float64
	divisor   float64
	now       func() time.Time
	log       *logger.Logger
}

// New creates an Aggregator. The timezone is loaded from the embedded tzdata.
func New(cfg Config, log *logger.Logger, opts ...Option) (*Aggregator, error) {
	cfg.applyDefaults()
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("aggregator: load timezone %q: %w", cfg.Timezone, err)
	}
	a := &Aggregator{
		store:     bucket.NewStore(),
		loc:       loc,
		threshold: cfg.ThresholdUSD,
		divisor:   cfg.DisplayDivisor,
		now:       time.Now,
		log:       log.Named("aggregator"),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Location returns the reference location used for bucket labels.
func (a *Aggregator) Location() *time.Location { return a.loc }

// Label formats t as the second label in the reference location.
func (a *Aggregator) Label(t time.Time) string {
	return t.In(a.loc).Format(LabelLayout)
}

// RecordTrade adds price*quantity to the bucket of (symbol, second, side).
// It never blocks on I/O. Invalid input leaves the store untouched.
func (a *Aggregator) RecordTrade(symbol string, eventTimeMillis int64, price, quantity float64, isBuyerMaker bool) error {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if err := validateTrade(symbol, eventTimeMillis, price, quantity); err != nil {
		metrics.InvalidTrades.Inc()
		return err
	}

	key := bucket.Key{
		Symbol:       symbol,
		Second:       a.Label(time.UnixMilli(eventTimeMillis)),
		IsBuyerMaker: isBuyerMaker,
	}
	a.store.Add(key, price*quantity)

	metrics.TradesRecorded.WithLabelValues(symbol).Inc()
	metrics.OpenBuckets.Set(float64(a.store.Len()))
	return nil
}

func validateTrade(symbol string, ts int64, price, qty float64) error {
	switch {
	case symbol == "":
		return fmt.Errorf("%w: empty symbol", ErrInvalidTrade)
	case ts <= 0:
		return fmt.Errorf("%w: event time %d", ErrInvalidTrade, ts)
	case !finiteNonNegative(price):
		return fmt.Errorf("%w: price %v", ErrInvalidTrade, price)
	case !finiteNonNegative(qty):
		return fmt.Errorf("%w: quantity %v", ErrInvalidTrade, qty)
	}
	return nil
}

func finiteNonNegative(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v >= 0
}
