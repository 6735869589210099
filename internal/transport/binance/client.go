// internal/transport/binance/client.go
package binance

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/YaganovValera/analytics-system/services/trade-buckets/pkg/binance"
)

var tracer = otel.Tracer("trade-buckets/transport/binance")

// StreamWithMetrics wraps the raw connector with tracing and metrics.
// Messages are forwarded with a blocking send, so a slow consumer applies
// backpressure to its own feed instead of losing events.
func StreamWithMetrics(ctx context.Context, symbol string, conn binance.Connector) (<-chan binance.RawMessage, error) {
	ctx, span := tracer.Start(ctx, "binance.stream")
	defer span.End()
	span.SetAttributes(attribute.String("symbol", symbol))

	stream, err := conn.Stream(ctx)
	if err != nil {
		IncError(symbol, "connect")
		span.RecordError(err)
		return nil, err
	}
	IncConnect(symbol, "ok")

	out := make(chan binance.RawMessage, cap(stream))
	go func() {
		defer close(out)
		for msg := range stream {
			IncMessage(symbol, msg.Type)
			select {
			case out <- msg:
			case <-ctx.Done():
				IncError(symbol, "cancelled")
				return
			}
		}
	}()
	return out, nil
}
