// pkg/kafka/producer.go
package kafka

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/IBM/sarama"
	"github.com/dnwe/otelsarama"
	"go.uber.org/zap"

	"github.com/YaganovValera/analytics-system/services/trade-buckets/pkg/backoff"
	"github.com/YaganovValera/analytics-system/services/trade-buckets/pkg/logger"
)

// Config хранит настройки продьюсера.
type Config struct {
	Brokers        []string
	RequiredAcks   string // all | leader | none
	Timeout        time.Duration
	Compression    string // none | gzip | snappy | lz4 | zstd
	FlushFrequency time.Duration
	FlushMessages  int
	Backoff        backoff.Config
}

func (c *Config) applyDefaults() {
	if c.RequiredAcks == "" {
		c.RequiredAcks = "all"
	}
	if c.Compression == "" {
		c.Compression = "none"
	}
	if c.Timeout <= 0 {
		c.Timeout = 15 * time.Second
	}
}

func (c *Config) validate() error {
	if len(c.Brokers) == 0 {
		return fmt.Errorf("kafka: at least one broker is required")
	}
	return nil
}

func buildSaramaConfig(c Config) (*sarama.Config, error) {
	sc := sarama.NewConfig()
	sc.Producer.Return.Successes = true
	sc.Producer.Return.Errors = true
	sc.Producer.Timeout = c.Timeout
	sc.Producer.Flush.Frequency = c.FlushFrequency
	sc.Producer.Flush.Messages = c.FlushMessages

	switch strings.ToLower(c.RequiredAcks) {
	case "all":
		sc.Producer.RequiredAcks = sarama.WaitForAll
	case "leader":
		sc.Producer.RequiredAcks = sarama.WaitForLocal
	case "none":
		sc.Producer.RequiredAcks = sarama.NoResponse
	default:
		return nil, fmt.Errorf("kafka: unknown required acks %q", c.RequiredAcks)
	}

	switch strings.ToLower(c.Compression) {
	case "none":
		sc.Producer.Compression = sarama.CompressionNone
	case "gzip":
		sc.Producer.Compression = sarama.CompressionGZIP
	case "snappy":
		sc.Producer.Compression = sarama.CompressionSnappy
	case "lz4":
		sc.Producer.Compression = sarama.CompressionLZ4
	case "zstd":
		sc.Producer.Compression = sarama.CompressionZSTD
	default:
		return nil, fmt.Errorf("kafka: unknown compression %q", c.Compression)
	}
	return sc, nil
}

type kafkaProducer struct {
	client     sarama.Client
	prod       sarama.SyncProducer
	logger     *logger.Logger
	backoffCfg backoff.Config
}

// NewProducer подключается к брокерам (с backoff) и возвращает Producer,
// обёрнутый в otelsarama для трассировки.
func NewProducer(ctx context.Context, cfg Config, log *logger.Logger) (Producer, error) {
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	sc, err := buildSaramaConfig(cfg)
	if err != nil {
		return nil, err
	}
	log = log.Named("kafka-producer")

	var client sarama.Client
	connect := func(ctx context.Context) error {
		c, err := sarama.NewClient(cfg.Brokers, sc)
		if err != nil {
			return err
		}
		client = c
		return nil
	}
	if err := backoff.Execute(ctx, cfg.Backoff, log, connect); err != nil {
		return nil, fmt.Errorf("kafka connect: %w", err)
	}

	sp, err := sarama.NewSyncProducerFromClient(client)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	log.Info("kafka producer connected", zap.Strings("brokers", cfg.Brokers))

	return &kafkaProducer{
		client:     client,
		prod:       otelsarama.WrapSyncProducer(sc, sp),
		logger:     log,
		backoffCfg: cfg.Backoff,
	}, nil
}

func (p *kafkaProducer) Publish(ctx context.Context, topic string, key, value []byte) error {
	msg := &sarama.ProducerMessage{
		Topic: topic,
		Value: sarama.ByteEncoder(value),
	}
	if key != nil {
		msg.Key = sarama.ByteEncoder(key)
	}
	send := func(ctx context.Context) error {
		_, _, err := p.prod.SendMessage(msg)
		return err
	}
	if err := backoff.Execute(ctx, p.backoffCfg, p.logger, send); err != nil {
		return fmt.Errorf("kafka publish to %q: %w", topic, err)
	}
	return nil
}

func (p *kafkaProducer) Ping() error {
	if p.client == nil {
		return fmt.Errorf("kafka: client not initialized")
	}
	return p.client.RefreshMetadata()
}

func (p *kafkaProducer) Close() error {
	if err := p.prod.Close(); err != nil {
		return err
	}
	if p.client != nil && !p.client.Closed() {
		return p.client.Close()
	}
	return nil
}
