// pkg/backoff/backoff.go
package backoff

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/YaganovValera/analytics-system/services/trade-buckets/pkg/logger"
)

// Config holds parameters for exponential backoff retry.
type Config struct {
	InitialInterval     time.Duration `mapstructure:"initial_interval"`     // default: 1s
	RandomizationFactor float64       `mapstructure:"randomization_factor"` // default: 0.5
	Multiplier          float64       `mapstructure:"multiplier"`           // default: 2.0
	MaxInterval         time.Duration `mapstructure:"max_interval"`         // default: 30s
	MaxElapsedTime      time.Duration `mapstructure:"max_elapsed_time"`     // 0 = unlimited
	PerAttemptTimeout   time.Duration `mapstructure:"per_attempt_timeout"`  // 0 = unlimited
}

// RetryableFunc defines the operation to retry.
type RetryableFunc func(ctx context.Context) error

// ErrMaxRetries indicates retries exhausted.
type ErrMaxRetries struct {
	Err      error
	Attempts int
}

func (e *ErrMaxRetries) Error() string {
	return fmt.Sprintf("backoff: %d attempts failed: %v", e.Attempts, e.Err)
}
func (e *ErrMaxRetries) Unwrap() error { return e.Err }

// Permanent marks err as non-retryable: Execute stops right after it.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

var (
	retriesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "tradebuckets", Subsystem: "backoff", Name: "retries_total",
		Help: "Number of retry attempts",
	})
	failuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "tradebuckets", Subsystem: "backoff", Name: "failures_total",
		Help: "Number of operations giving up after retries",
	})
	successesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "tradebuckets", Subsystem: "backoff", Name: "successes_total",
		Help: "Number of operations succeeded (possibly after retries)",
	})
	delayHistogram = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "tradebuckets", Subsystem: "backoff", Name: "retry_delay_seconds",
		Help:    "Histogram of retry delays in seconds",
		Buckets: prometheus.DefBuckets,
	})

	registerOnce sync.Once
)

// RegisterMetrics registers the retry collectors exactly once.
// If r is nil, prometheus.DefaultRegisterer is used.
func RegisterMetrics(r prometheus.Registerer) {
	registerOnce.Do(func() {
		if r == nil {
			r = prometheus.DefaultRegisterer
		}
		for _, c := range []prometheus.Collector{retriesTotal, failuresTotal, successesTotal, delayHistogram} {
			if err := r.Register(c); err != nil {
				var are prometheus.AlreadyRegisteredError
				if !errors.As(err, &are) {
					panic(err)
				}
			}
		}
	})
}

func applyDefaults(cfg *Config) {
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = time.Second
	}
	if cfg.RandomizationFactor <= 0 {
		cfg.RandomizationFactor = 0.5
	}
	if cfg.Multiplier <= 0 {
		cfg.Multiplier = 2.0
	}
	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = 30 * time.Second
	}
}

// Execute runs fn with exponential backoff and collects metrics.
// Returns *ErrMaxRetries if all attempts fail or ctx is done.
func Execute(ctx context.Context, cfg Config, log *logger.Logger, fn RetryableFunc) error {
	RegisterMetrics(nil)
	applyDefaults(&cfg)

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = cfg.InitialInterval
	bo.RandomizationFactor = cfg.RandomizationFactor
	bo.Multiplier = cfg.Multiplier
	bo.MaxInterval = cfg.MaxInterval
	// zero disables the 15m library default
	bo.MaxElapsedTime = cfg.MaxElapsedTime
	bo.Reset()

	boCtx := backoff.WithContext(bo, ctx)
	attempts := 0

	operation := func() error {
		attempts++
		if cfg.PerAttemptTimeout > 0 {
			atCtx, cancel := context.WithTimeout(ctx, cfg.PerAttemptTimeout)
			defer cancel()
			return fn(atCtx)
		}
		return fn(ctx)
	}

	notify := func(err error, delay time.Duration) {
		retriesTotal.Inc()
		delayHistogram.Observe(delay.Seconds())
		log.Warn("backoff retry",
			zap.Error(err),
			zap.Duration("delay", delay),
			zap.Int("attempt", attempts),
		)
	}

	if err := backoff.RetryNotify(operation, boCtx, notify); err != nil {
		failuresTotal.Inc()
		log.Error("backoff give up",
			zap.Error(err),
			zap.Int("attempts", attempts),
		)
		return &ErrMaxRetries{Err: err, Attempts: attempts}
	}

	successesTotal.Inc()
	return nil
}
