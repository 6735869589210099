// internal/transport/binance/metrics.go
package binance

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	wsConnects = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tradebuckets", Subsystem: "binance", Name: "streams_total",
		Help: "Total feed streams started",
	}, []string{"symbol", "status"})

	wsErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tradebuckets", Subsystem: "binance", Name: "errors_total",
		Help: "Total categorized feed errors",
	}, []string{"symbol", "type"})

	wsMessages = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tradebuckets", Subsystem: "binance", Name: "messages_total",
		Help: "Total messages received from Binance WS",
	}, []string{"symbol", "type"})

	wsState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "tradebuckets", Subsystem: "binance", Name: "connector_state",
		Help: "Current connector state (0 idle, 1 connecting, 2 streaming, 3 backoff, 4 stopped)",
	}, []string{"symbol"})
)

// RegisterMetrics registers the transport collectors once; nil means the default registerer.
func RegisterMetrics(r prometheus.Registerer) {
	once.Do(func() {
		if r == nil {
			r = prometheus.DefaultRegisterer
		}
		collectors := []prometheus.Collector{wsConnects, wsErrors, wsMessages, wsState}
		for _, c := range collectors {
			_ = r.Register(c)
		}
	})
}

func IncConnect(symbol, status string)  { wsConnects.WithLabelValues(symbol, status).Inc() }
func IncError(symbol, errType string)   { wsErrors.WithLabelValues(symbol, errType).Inc() }
func IncMessage(symbol, msgType string) { wsMessages.WithLabelValues(symbol, msgType).Inc() }
func SetState(symbol string, state int) { wsState.WithLabelValues(symbol).Set(float64(state)) }
