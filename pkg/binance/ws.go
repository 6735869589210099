// pkg/binance/ws.go
package binance

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/YaganovValera/analytics-system/services/trade-buckets/pkg/backoff"
	"github.com/YaganovValera/analytics-system/services/trade-buckets/pkg/logger"
)

// WSConnector maintains one Binance WS connection with automatic reconnect.
//
// Lifecycle: Connecting (dial with exponential backoff) → Streaming (read loop)
// → Backoff (fixed ReconnectDelay after a drop) → Connecting ... until ctx is
// done, then Stopped.
type WSConnector struct {
	cfg         Config
	log         *logger.Logger
	dialer      *websocket.Dialer
	subscribeID atomic.Uint64
	state       atomic.Int32
}

var _ Connector = (*WSConnector)(nil)

// NewConnector creates a WSConnector.
func NewConnector(cfg Config, log *logger.Logger) (*WSConnector, error) {
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &WSConnector{
		cfg:    cfg,
		log:    log.Named("binance-ws").With(zap.Strings("streams", cfg.Streams)),
		dialer: websocket.DefaultDialer,
	}, nil
}

// State returns the current lifecycle phase.
func (c *WSConnector) State() State {
	return State(c.state.Load())
}

func (c *WSConnector) setState(s State) {
	if prev := State(c.state.Swap(int32(s))); prev != s {
		c.log.Debug("ws: state change", zap.Stringer("from", prev), zap.Stringer("to", s))
	}
}

// Stream starts reading and returns the RawMessage channel.
// The channel is closed once ctx is done.
func (c *WSConnector) Stream(ctx context.Context) (<-chan RawMessage, error) {
	ch := make(chan RawMessage, c.cfg.BufferSize)
	go c.run(ctx, ch)
	return ch, nil
}

func (c *WSConnector) run(ctx context.Context, ch chan<- RawMessage) {
	defer func() {
		c.setState(StateStopped)
		close(ch)
	}()

	for ctx.Err() == nil {
		c.setState(StateConnecting)
		conn, err := c.connect(ctx)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			c.log.Error("ws: failed to connect after retries", zap.Error(err))
			if !c.wait(ctx) {
				break
			}
			continue
		}

		c.setState(StateStreaming)
		c.log.Info("ws: streaming", zap.String("url", c.cfg.URL))
		if !c.readLoop(ctx, conn, ch) {
			break
		}

		if !c.wait(ctx) {
			break
		}
	}
	c.log.Info("ws: context cancelled, exiting")
}

// connect dials and subscribes; any failure is retried with backoff.
func (c *WSConnector) connect(ctx context.Context) (*websocket.Conn, error) {
	var conn *websocket.Conn
	err := backoff.Execute(ctx, c.cfg.BackoffConfig, c.log, func(ctxTry context.Context) error {
		cn, _, dialErr := c.dialer.DialContext(ctxTry, c.cfg.URL, nil)
		if dialErr != nil {
			return dialErr
		}
		if subErr := c.subscribe(cn); subErr != nil {
			_ = cn.Close()
			return subErr
		}
		conn = cn
		return nil
	})
	return conn, err
}

func (c *WSConnector) subscribe(conn *websocket.Conn) error {
	id := c.subscribeID.Add(1)
	req := map[string]interface{}{
		"method": "SUBSCRIBE",
		"params": c.cfg.Streams,
		"id":     id,
	}
	_ = conn.SetWriteDeadline(time.Now().Add(c.cfg.SubscribeTimeout))
	if err := conn.WriteJSON(req); err != nil {
		c.log.Warn("ws: subscribe failed", zap.Error(err), zap.Uint64("id", id))
		return err
	}
	return conn.SetWriteDeadline(time.Time{})
}

// readLoop reads until the connection drops. It returns false when ctx is done.
func (c *WSConnector) readLoop(ctx context.Context, conn *websocket.Conn, ch chan<- RawMessage) bool {
	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	_ = conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
	})

	go c.keepalive(connCtx, conn)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return false
			}
			c.log.Warn("ws: read error, reconnecting", zap.Error(err))
			return true
		}
		_ = conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))

		msg := RawMessage{Data: data, Type: classify(data)}
		select {
		case ch <- msg:
		case <-ctx.Done():
			return false
		}
	}
}

// keepalive pings periodically and closes conn once connCtx is done so that a
// blocked ReadMessage returns.
func (c *WSConnector) keepalive(connCtx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(c.cfg.ReadTimeout / 3)
	defer ticker.Stop()
	defer conn.Close()
	for {
		select {
		case <-connCtx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(time.Second)); err != nil {
				c.log.Warn("ws: ping failed", zap.Error(err))
			}
		}
	}
}

// wait sleeps ReconnectDelay in the Backoff state. It returns false when ctx is done.
func (c *WSConnector) wait(ctx context.Context) bool {
	c.setState(StateBackoff)
	t := time.NewTimer(c.cfg.ReconnectDelay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// classify returns the event type from the "e" field, looking into the
// combined-stream envelope {"stream":...,"data":{...}} when needed.
// "E" has its own field since encoding/json would otherwise fold it onto "e".
func classify(data []byte) string {
	var meta struct {
		Event     string `json:"e"`
		EventTime int64  `json:"E"`
		Data      struct {
			Event     string `json:"e"`
			EventTime int64  `json:"E"`
		} `json:"data"`
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return "unknown"
	}
	switch {
	case meta.Event != "":
		return meta.Event
	case meta.Data.Event != "":
		return meta.Data.Event
	default:
		return "unknown"
	}
}
