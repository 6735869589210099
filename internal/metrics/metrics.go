package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	// EventsTotal: число RawMessage, принятых из WebSocket.
	EventsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "tradebuckets",
		Subsystem: "ws",
		Name:      "events_total",
		Help:      "Total number of events received from WebSocket",
	})

	// UnsupportedEvents: события без зарегистрированного обработчика.
	UnsupportedEvents = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "tradebuckets",
		Subsystem: "ws",
		Name:      "unsupported_events_total",
		Help:      "Events skipped because no processor handles their type",
	})

	// ParseErrors: сообщения, отброшенные как некорректные.
	ParseErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "tradebuckets",
		Subsystem: "processor",
		Name:      "parse_errors_total",
		Help:      "Total number of malformed trade events",
	})

	// ProcessingErrors: ошибки обработки, после которых выдерживается error_delay.
	ProcessingErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "tradebuckets",
		Subsystem: "processor",
		Name:      "errors_total",
		Help:      "Total number of event processing failures",
	})

	// TradesRecorded: сделки, учтённые в бакетах.
	TradesRecorded = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tradebuckets",
		Subsystem: "aggregator",
		Name:      "trades_recorded_total",
		Help:      "Trades added to buckets",
	}, []string{"symbol"})

	// InvalidTrades: сделки, отвергнутые агрегатором.
	InvalidTrades = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "tradebuckets",
		Subsystem: "aggregator",
		Name:      "invalid_trades_total",
		Help:      "Trades rejected by the aggregator",
	})

	// OpenBuckets: текущее число незакрытых бакетов.
	OpenBuckets = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "tradebuckets",
		Subsystem: "aggregator",
		Name:      "open_buckets",
		Help:      "Number of buckets currently held in memory",
	})

	// TradesEmitted: бакеты, выданные клиентам.
	TradesEmitted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tradebuckets",
		Subsystem: "aggregator",
		Name:      "trades_emitted_total",
		Help:      "Matured buckets returned to callers",
	}, []string{"trade_type"})

	// PollLatency: длительность CheckAndGetTrades.
	PollLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "tradebuckets",
		Subsystem: "aggregator",
		Name:      "poll_duration_seconds",
		Help:      "Duration of one maturity check and drain",
		Buckets:   prometheus.ExponentialBuckets(0.00001, 4, 10),
	})

	// PublishErrors: ошибки публикации в Kafka.
	PublishErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "tradebuckets",
		Subsystem: "kafka",
		Name:      "publish_errors_total",
		Help:      "Total number of errors when publishing to Kafka",
	})

	// PublishDrops: сделки, не попавшие в переполненную очередь публикации.
	PublishDrops = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "tradebuckets",
		Subsystem: "kafka",
		Name:      "queue_drops_total",
		Help:      "Emitted trades dropped because the publish queue was full",
	})

	// PublishLatency: задержка публикации одной сделки.
	PublishLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "tradebuckets",
		Subsystem: "kafka",
		Name:      "publish_latency_seconds",
		Help:      "Latency of publishing one emitted trade to Kafka (seconds)",
		Buckets:   prometheus.DefBuckets,
	})

	// HTTPRequests: запросы к HTTP-серверу.
	HTTPRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tradebuckets",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Total HTTP requests",
	}, []string{"path", "method", "code"})

	// HTTPDuration: длительность обработки HTTP-запросов.
	HTTPDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "tradebuckets",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "Request duration",
		Buckets:   prometheus.DefBuckets,
	}, []string{"path", "method"})
)

// Register регистрирует все метрики в заданном реестре.
// Можно вызвать без аргументов, чтобы зарегистрировать в DefaultRegisterer.
func Register(registerers ...prometheus.Registerer) {
	once.Do(func() {
		var reg prometheus.Registerer
		if len(registerers) > 0 && registerers[0] != nil {
			reg = registerers[0]
		} else {
			reg = prometheus.DefaultRegisterer
		}
		reg.MustRegister(
			EventsTotal,
			UnsupportedEvents,
			ParseErrors,
			ProcessingErrors,
			TradesRecorded,
			InvalidTrades,
			OpenBuckets,
			TradesEmitted,
			PollLatency,
			PublishErrors,
			PublishDrops,
			PublishLatency,
			HTTPRequests,
			HTTPDuration,
		)
	})
}
