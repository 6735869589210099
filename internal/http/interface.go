package http

import (
	"github.com/YaganovValera/analytics-system/services/trade-buckets/internal/aggregator"
)

// TradeSource выдаёт созревшие бакеты. Реализуется aggregator.Aggregator.
type TradeSource interface {
	CheckAndGetTrades() []aggregator.EmittedTrade
}

// TradeSink получает копию каждого ответа /get_trades (например, publisher).
type TradeSink interface {
	Enqueue(trades []aggregator.EmittedTrade) int
}

// ReadyChecker возвращает nil, если сервис готов.
type ReadyChecker func() error
