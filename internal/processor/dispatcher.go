package processor

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/YaganovValera/analytics-system/services/trade-buckets/internal/metrics"
	"github.com/YaganovValera/analytics-system/services/trade-buckets/pkg/binance"
	"github.com/YaganovValera/analytics-system/services/trade-buckets/pkg/logger"
)

// DefaultErrorDelay: пауза после ошибки обработки сообщения.
const DefaultErrorDelay = time.Second

var dispatcherTracer = otel.Tracer("trade-buckets/processor/dispatcher")

// DispatchRouter маршрутизирует входящие сообщения по типу события.
type DispatchRouter struct {
	processors map[string]Processor
	errorDelay time.Duration
	log        *logger.Logger
}

// NewRouter создает маршрутизатор. errorDelay <= 0 заменяется на DefaultErrorDelay.
func NewRouter(errorDelay time.Duration, log *logger.Logger) *DispatchRouter {
	if errorDelay <= 0 {
		errorDelay = DefaultErrorDelay
	}
	return &DispatchRouter{
		processors: make(map[string]Processor),
		errorDelay: errorDelay,
		log:        log.Named("router"),
	}
}

// Register добавляет обработчик для заданного типа событий.
// Вызывать до Run.
func (r *DispatchRouter) Register(eventType string, proc Processor) {
	r.processors[eventType] = proc
}

// Run читает in до его закрытия или отмены ctx.
// Ошибка обработки одного сообщения не останавливает цикл.
func (r *DispatchRouter) Run(ctx context.Context, in <-chan binance.RawMessage) error {
	ctx, span := dispatcherTracer.Start(ctx, "DispatchRouter.Run")
	defer span.End()

	for {
		var msg binance.RawMessage
		select {
		case <-ctx.Done():
			return nil
		case m, ok := <-in:
			if !ok {
				return nil
			}
			msg = m
		}
		metrics.EventsTotal.Inc()

		proc, ok := r.processors[msg.Type]
		if !ok {
			metrics.UnsupportedEvents.Inc()
			r.log.WithContext(ctx).Debug("unsupported event type",
				zap.String("event_type", msg.Type),
			)
			continue
		}

		if err := proc.Process(ctx, msg); err != nil {
			metrics.ProcessingErrors.Inc()
			r.log.WithContext(ctx).Warn("event processing failed",
				zap.String("event_type", msg.Type),
				zap.Duration("delay", r.errorDelay),
				zap.Error(err),
			)
			if !r.pause(ctx) {
				return nil
			}
		}
	}
}

func (r *DispatchRouter) pause(ctx context.Context) bool {
	t := time.NewTimer(r.errorDelay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
