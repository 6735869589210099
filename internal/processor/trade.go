// internal/processor/trade.go
package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/YaganovValera/analytics-system/services/trade-buckets/internal/metrics"
	"github.com/YaganovValera/analytics-system/services/trade-buckets/pkg/binance"
	"github.com/YaganovValera/analytics-system/services/trade-buckets/pkg/logger"
)

const (
	EventTypeTrade    = "trade"
	EventTypeAggTrade = "aggTrade"
)

// ErrMalformedTrade marks a trade event that cannot be recorded.
var ErrMalformedTrade = errors.New("processor: malformed trade")

var tracer = otel.Tracer("trade-buckets/processor")

// TradeEvent is a normalized trade.
type TradeEvent struct {
	Symbol       string
	Price        float64
	Quantity     float64
	TradeTime    int64 // Unix ms
	IsBuyerMaker bool
}

type tradeProcessor struct {
	rec TradeRecorder
	log *logger.Logger
}

// NewTradeProcessor returns a Processor for trade and aggTrade events.
func NewTradeProcessor(rec TradeRecorder, log *logger.Logger) Processor {
	return &tradeProcessor{rec: rec, log: log.Named("trade")}
}

func (tp *tradeProcessor) Process(ctx context.Context, raw binance.RawMessage) error {
	ctx, span := tracer.Start(ctx, "Process",
		trace.WithAttributes(attribute.String("event.type", raw.Type)))
	defer span.End()

	evt, err := ParseTrade(raw.Data)
	if err != nil {
		metrics.ParseErrors.Inc()
		tp.log.WithContext(ctx).Debug("malformed trade",
			zap.ByteString("raw", raw.Data),
			zap.Error(err),
		)
		span.RecordError(err)
		return err
	}
	span.SetAttributes(attribute.String("symbol", evt.Symbol))

	if err := tp.rec.RecordTrade(evt.Symbol, evt.TradeTime, evt.Price, evt.Quantity, evt.IsBuyerMaker); err != nil {
		span.RecordError(err)
		return fmt.Errorf("record trade: %w", err)
	}
	return nil
}

// wireTrade covers the fields shared by trade and aggTrade payloads.
// Keys that differ only in case ("t"/"T", "m"/"M") get their own fields:
// encoding/json falls back to case-insensitive matching otherwise.
type wireTrade struct {
	EventType    string `json:"e"`
	EventTime    int64  `json:"E"`
	Symbol       string `json:"s"`
	TradeID      int64  `json:"t"`
	Price        string `json:"p"`
	Quantity     string `json:"q"`
	TradeTime    int64  `json:"T"`
	IsBuyerMaker bool   `json:"m"`
	Ignore       bool   `json:"M"`
}

// ParseTrade decodes a trade or aggTrade event, unwrapping the combined-stream
// envelope {"stream":...,"data":{...}} when present.
func ParseTrade(data []byte) (TradeEvent, error) {
	var env struct {
		Stream string          `json:"stream"`
		Data   json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return TradeEvent{}, fmt.Errorf("%w: %v", ErrMalformedTrade, err)
	}
	if env.Stream != "" && len(env.Data) > 0 {
		data = env.Data
	}

	var w wireTrade
	if err := json.Unmarshal(data, &w); err != nil {
		return TradeEvent{}, fmt.Errorf("%w: %v", ErrMalformedTrade, err)
	}
	switch w.EventType {
	case EventTypeTrade, EventTypeAggTrade:
	default:
		return TradeEvent{}, fmt.Errorf("%w: unexpected event type %q", ErrMalformedTrade, w.EventType)
	}

	symbol := strings.TrimSpace(w.Symbol)
	if symbol == "" {
		return TradeEvent{}, fmt.Errorf("%w: missing symbol", ErrMalformedTrade)
	}
	price, err := parseAmount("price", w.Price)
	if err != nil {
		return TradeEvent{}, err
	}
	qty, err := parseAmount("quantity", w.Quantity)
	if err != nil {
		return TradeEvent{}, err
	}
	ts := w.TradeTime
	if ts <= 0 {
		ts = w.EventTime
	}
	if ts <= 0 {
		return TradeEvent{}, fmt.Errorf("%w: missing trade time", ErrMalformedTrade)
	}

	return TradeEvent{
		Symbol:       symbol,
		Price:        price,
		Quantity:     qty,
		TradeTime:    ts,
		IsBuyerMaker: w.IsBuyerMaker,
	}, nil
}

func parseAmount(field, s string) (float64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %s=%q: %v", ErrMalformedTrade, field, s, err)
	}
	if d.IsNegative() {
		return 0, fmt.Errorf("%w: %s=%q is negative", ErrMalformedTrade, field, s)
	}
	v := d.InexactFloat64()
	if math.IsInf(v, 0) {
		return 0, fmt.Errorf("%w: %s=%q overflows float64", ErrMalformedTrade, field, s)
	}
	return v, nil
}
