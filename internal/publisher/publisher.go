// internal/publisher/publisher.go
package publisher

import (
	"context"
	"encoding/json"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/YaganovValera/analytics-system/services/trade-buckets/internal/aggregator"
	"github.com/YaganovValera/analytics-system/services/trade-buckets/internal/metrics"
	"github.com/YaganovValera/analytics-system/services/trade-buckets/pkg/kafka"
	"github.com/YaganovValera/analytics-system/services/trade-buckets/pkg/logger"
)

const DefaultQueueSize = 1024

var tracer = otel.Tracer("trade-buckets/publisher")

// Message: полезная нагрузка Kafka для одной выданной сделки.
type Message struct {
	aggregator.EmittedTrade
	EmittedAt time.Time `json:"emitted_at"`
}

// Publisher асинхронно публикует выданные сделки в Kafka.
type Publisher struct {
	producer kafka.Producer
	topic    string
	queue    chan Message
	now      func() time.Time
	log      *logger.Logger
}

// New создаёт Publisher. queueSize <= 0 заменяется на DefaultQueueSize.
func New(producer kafka.Producer, topic string, queueSize int, log *logger.Logger) *Publisher {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Publisher{
		producer: producer,
		topic:    topic,
		queue:    make(chan Message, queueSize),
		now:      time.Now,
		log:      log.Named("publisher"),
	}
}

// Enqueue ставит сделки в очередь без блокировки и возвращает число отброшенных.
func (p *Publisher) Enqueue(trades []aggregator.EmittedTrade) int {
	at := p.now().UTC()
	dropped := 0
	for _, t := range trades {
		select {
		case p.queue <- Message{EmittedTrade: t, EmittedAt: at}:
		default:
			dropped++
		}
	}
	if dropped > 0 {
		metrics.PublishDrops.Add(float64(dropped))
		p.log.Warn("publish queue full, trades dropped", zap.Int("dropped", dropped))
	}
	return dropped
}

// Run публикует сообщения из очереди до отмены ctx.
func (p *Publisher) Run(ctx context.Context) error {
	p.log.Info("publisher started", zap.String("topic", p.topic))
	for {
		select {
		case <-ctx.Done():
			p.log.Info("publisher stopped", zap.Int("pending", len(p.queue)))
			return nil
		case msg := <-p.queue:
			p.publish(ctx, msg)
		}
	}
}

func (p *Publisher) publish(ctx context.Context, msg Message) {
	ctx, span := tracer.Start(ctx, "Publish")
	defer span.End()
	span.SetAttributes(
		attribute.String("symbol", msg.Symbol),
		attribute.String("trade_type", msg.TradeType),
	)

	payload, err := json.Marshal(msg)
	if err != nil {
		metrics.PublishErrors.Inc()
		span.RecordError(err)
		p.log.WithContext(ctx).Error("marshal trade failed", zap.Error(err))
		return
	}

	start := time.Now()
	if err := p.producer.Publish(ctx, p.topic, []byte(msg.Symbol), payload); err != nil {
		metrics.PublishErrors.Inc()
		span.RecordError(err)
		p.log.WithContext(ctx).Error("publish trade failed",
			zap.String("symbol", msg.Symbol),
			zap.Error(err),
		)
		return
	}
	metrics.PublishLatency.Observe(time.Since(start).Seconds())
}
