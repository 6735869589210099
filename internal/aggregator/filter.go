// internal/aggregator/filter.go
package aggregator

import (
	"cmp"
	"fmt"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/YaganovValera/analytics-system/services/trade-buckets/internal/bucket"
	"github.com/YaganovValera/analytics-system/services/trade-buckets/internal/metrics"
)

const (
	TradeTypeBuy  = "BUY"
	TradeTypeSell = "SELL"
)

// EmittedTrade is a matured bucket as returned by /get_trades.
type EmittedTrade struct {
	TradeType string `json:"trade_type"`
	Symbol    string `json:"symbol"`
	Timestamp string `json:"timestamp"`
	USDSize   string `json:"usd_size"`
}

// CheckAndGetTrades drains every bucket whose second is strictly before the
// current second and whose notional exceeds the threshold.
//
// Labels are compared as strings, so buckets from 23:59:xx stay open after
// midnight until the clock passes their label again.
func (a *Aggregator) CheckAndGetTrades() []EmittedTrade {
	start := time.Now()
	defer func() { metrics.PollLatency.Observe(time.Since(start).Seconds()) }()

	nowLabel := a.Label(a.now())
	entries := a.store.DrainMatured(func(k bucket.Key, v float64) bool {
		return k.Second < nowLabel && v > a.threshold
	})

	out := make([]EmittedTrade, 0, len(entries))
	for _, e := range entries {
		t := EmittedTrade{
			TradeType: tradeType(e.Key.IsBuyerMaker),
			Symbol:    e.Key.Symbol,
			Timestamp: e.Key.Second,
			USDSize:   FormatUSDSize(e.Value, a.divisor),
		}
		metrics.TradesEmitted.WithLabelValues(t.TradeType).Inc()
		out = append(out, t)
	}
	slices.SortFunc(out, func(x, y EmittedTrade) int {
		return cmp.Or(
			cmp.Compare(x.Timestamp, y.Timestamp),
			cmp.Compare(x.Symbol, y.Symbol),
			cmp.Compare(x.TradeType, y.TradeType),
		)
	})

	metrics.OpenBuckets.Set(float64(a.store.Len()))
	if len(out) > 0 {
		a.log.Debug("matured buckets drained",
			zap.String("now", nowLabel),
			zap.Int("emitted", len(out)),
		)
	}
	return out
}

func tradeType(isBuyerMaker bool) string {
	if isBuyerMaker {
		return TradeTypeSell
	}
	return TradeTypeBuy
}

// FormatUSDSize renders v/divisor with two decimals, e.g. "$1.23m".
func FormatUSDSize(v, divisor float64) string {
	return fmt.Sprintf("$%.2fm", v/divisor)
}
