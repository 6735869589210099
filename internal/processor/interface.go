package processor

import (
	"context"

	"github.com/YaganovValera/analytics-system/services/trade-buckets/pkg/binance"
)

// Processor определяет контракт на обработку сырых WS-сообщений.
type Processor interface {
	// Process разбирает одно сообщение и передаёт результат дальше.
	Process(ctx context.Context, raw binance.RawMessage) error
}

// TradeRecorder принимает проверенные сделки. Реализуется aggregator.Aggregator.
type TradeRecorder interface {
	RecordTrade(symbol string, eventTimeMillis int64, price, quantity float64, isBuyerMaker bool) error
}
