// internal/app/app.go
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/YaganovValera/analytics-system/services/trade-buckets/internal/aggregator"
	"github.com/YaganovValera/analytics-system/services/trade-buckets/internal/config"
	httpserver "github.com/YaganovValera/analytics-system/services/trade-buckets/internal/http"
	"github.com/YaganovValera/analytics-system/services/trade-buckets/internal/metrics"
	"github.com/YaganovValera/analytics-system/services/trade-buckets/internal/processor"
	"github.com/YaganovValera/analytics-system/services/trade-buckets/internal/publisher"
	transportBinance "github.com/YaganovValera/analytics-system/services/trade-buckets/internal/transport/binance"
	"github.com/YaganovValera/analytics-system/services/trade-buckets/pkg/backoff"
	pkgBinance "github.com/YaganovValera/analytics-system/services/trade-buckets/pkg/binance"
	"github.com/YaganovValera/analytics-system/services/trade-buckets/pkg/kafka"
	"github.com/YaganovValera/analytics-system/services/trade-buckets/pkg/logger"
	"github.com/YaganovValera/analytics-system/services/trade-buckets/pkg/telemetry"
)

const stateRefreshInterval = 5 * time.Second

// Run собирает сервис и блокирует до отмены ctx или фатальной ошибки.
func Run(ctx context.Context, cfg *config.Config, log *logger.Logger) error {
	metrics.Register(nil)
	transportBinance.RegisterMetrics(nil)
	backoff.RegisterMetrics(nil)

	// Трассировка (опционально)
	if cfg.Telemetry.Enabled {
		shutdownTracer, err := telemetry.InitTracer(ctx, telemetry.Config{
			Endpoint:       cfg.Telemetry.OTLPEndpoint,
			ServiceName:    cfg.ServiceName,
			ServiceVersion: cfg.ServiceVersion,
			Insecure:       cfg.Telemetry.Insecure,
			SamplerRatio:   cfg.Telemetry.SamplerRatio,
		}, log)
		if err != nil {
			return fmt.Errorf("init tracer: %w", err)
		}
		defer shutdownSafe(ctx, "telemetry", func() error { return shutdownTracer(context.Background()) }, log)
	}

	agg, err := aggregator.New(cfg.Aggregator, log)
	if err != nil {
		return fmt.Errorf("aggregator init: %w", err)
	}

	// Kafka (опционально)
	var (
		pub  *publisher.Publisher
		sink httpserver.TradeSink
		ping = func() error { return nil }
	)
	if cfg.Kafka.Enabled {
		prod, err := kafka.NewProducer(ctx, kafka.Config{
			Brokers:        cfg.Kafka.Brokers,
			RequiredAcks:   cfg.Kafka.Acks,
			Timeout:        cfg.Kafka.Timeout,
			Compression:    cfg.Kafka.Compression,
			FlushFrequency: cfg.Kafka.FlushFrequency,
			FlushMessages:  cfg.Kafka.FlushMessages,
			Backoff:        cfg.Kafka.Backoff,
		}, log)
		if err != nil {
			return fmt.Errorf("kafka producer init: %w", err)
		}
		defer shutdownSafe(ctx, "kafka-producer", prod.Close, log)
		pub = publisher.New(prod, cfg.Kafka.Topic, cfg.Kafka.QueueSize, log)
		sink = pub
		ping = prod.Ping
	}

	manager := transportBinance.NewWSManager()
	defer manager.StopAll()
	readiness := func() error {
		if err := manager.Ready(); err != nil {
			return err
		}
		if err := ping(); err != nil {
			return fmt.Errorf("kafka: %w", err)
		}
		return nil
	}

	srv, err := httpserver.NewServer(cfg.HTTP, httpserver.Deps{
		Trades:  agg,
		Sink:    sink,
		Ready:   readiness,
		Symbols: cfg.Binance.Symbols,
	}, log)
	if err != nil {
		return fmt.Errorf("http server init: %w", err)
	}

	// Коннекторы создаются до запуска, чтобы ошибки конфигурации не оставляли висящих горутин.
	conns := make(map[string]*pkgBinance.WSConnector, len(cfg.Binance.Symbols))
	for _, sym := range cfg.Binance.Symbols {
		conn, err := newConnector(cfg.Binance, sym, log)
		if err != nil {
			return err
		}
		conns[sym] = conn
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Start(ctx) })
	if pub != nil {
		g.Go(func() error { return pub.Run(ctx) })
	}

	// Один коннектор и один маршрутизатор на инструмент.
	for _, sym := range cfg.Binance.Symbols {
		symbol := strings.ToUpper(sym)
		stream, err := manager.Start(ctx, symbol, conns[sym])
		if err != nil {
			g.Go(func() error { return fmt.Errorf("binance stream %s: %w", sym, err) })
			break
		}

		flog := log.With(zap.String("symbol", symbol))
		tp := processor.NewTradeProcessor(agg, flog)
		router := processor.NewRouter(cfg.Binance.ErrorDelay, flog)
		router.Register(processor.EventTypeTrade, tp)
		router.Register(processor.EventTypeAggTrade, tp)
		g.Go(func() error {
			// без потребителя поток не нужен
			defer manager.Stop(symbol)
			return router.Run(ctx, stream)
		})
	}

	g.Go(func() error {
		t := time.NewTicker(stateRefreshInterval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-t.C:
				for sym, st := range manager.States() {
					if st != pkgBinance.StateStreaming {
						log.Debug("feed not streaming", zap.String("symbol", sym), zap.Stringer("state", st))
					}
				}
			}
		}
	})

	log.Info("trade-buckets started",
		zap.Strings("feeds", manager.Symbols()),
		zap.Int("http_port", cfg.HTTP.Port),
		zap.Bool("kafka", cfg.Kafka.Enabled),
	)

	if err := g.Wait(); err != nil {
		if errors.Is(err, context.Canceled) {
			log.Info("trade-buckets stopped by context")
			return nil
		}
		return err
	}
	return nil
}

func newConnector(bc config.BinanceConfig, sym string, log *logger.Logger) (*pkgBinance.WSConnector, error) {
	conn, err := pkgBinance.NewConnector(pkgBinance.Config{
		URL:              bc.WSURL,
		Streams:          []string{pkgBinance.TradeStream(sym)},
		BufferSize:       bc.BufferSize,
		ReadTimeout:      bc.ReadTimeout,
		SubscribeTimeout: bc.SubscribeTimeout,
		ReconnectDelay:   bc.ReconnectDelay,
		BackoffConfig:    bc.Backoff,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("binance connector %s: %w", sym, err)
	}
	return conn, nil
}

// shutdownSafe оборачивает вызов Close()/Shutdown() с логированием
func shutdownSafe(ctx context.Context, name string, fn func() error, log *logger.Logger) {
	log.WithContext(ctx).Info(fmt.Sprintf("%s: shutting down", name))
	if err := fn(); err != nil {
		log.WithContext(ctx).Error(fmt.Sprintf("%s shutdown error", name), zap.Error(err))
	} else {
		log.WithContext(ctx).Info(fmt.Sprintf("%s: shutdown complete", name))
	}
}
