// internal/transport/binance/ws_manager.go
package binance

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/YaganovValera/analytics-system/services/trade-buckets/pkg/binance"
)

// ErrNoStreamingFeed возвращается из Ready, пока ни один поток не в состоянии Streaming.
var ErrNoStreamingFeed = errors.New("no feed is streaming")

type feed struct {
	conn   binance.Connector
	cancel context.CancelFunc
}

// WSManager управляет потоками по инструментам.
type WSManager struct {
	mu    sync.Mutex
	feeds map[string]*feed
}

func NewWSManager() *WSManager {
	return &WSManager{feeds: make(map[string]*feed)}
}

// Start запускает StreamWithMetrics для symbol с управляемым контекстом.
// Предыдущий поток того же инструмента завершается.
func (w *WSManager) Start(ctx context.Context, symbol string, conn binance.Connector) (<-chan binance.RawMessage, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if prev, ok := w.feeds[symbol]; ok {
		prev.cancel()
	}

	streamCtx, cancel := context.WithCancel(ctx)
	msgCh, err := StreamWithMetrics(streamCtx, symbol, conn)
	if err != nil {
		cancel()
		delete(w.feeds, symbol)
		return nil, err
	}
	w.feeds[symbol] = &feed{conn: conn, cancel: cancel}
	return msgCh, nil
}

// Stop завершает поток инструмента.
func (w *WSManager) Stop(symbol string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if f, ok := w.feeds[symbol]; ok {
		f.cancel()
		delete(w.feeds, symbol)
	}
}

// StopAll завершает все потоки.
func (w *WSManager) StopAll() {
	w.mu.Lock()
	defer w.mu.Unlock()

	for symbol, f := range w.feeds {
		f.cancel()
		delete(w.feeds, symbol)
	}
}

// States возвращает состояние коннектора по инструментам и обновляет gauge состояния.
func (w *WSManager) States() map[string]binance.State {
	w.mu.Lock()
	defer w.mu.Unlock()

	out := make(map[string]binance.State, len(w.feeds))
	for symbol, f := range w.feeds {
		st := f.conn.State()
		out[symbol] = st
		SetState(symbol, int(st))
	}
	return out
}

// Symbols возвращает отсортированный список инструментов.
func (w *WSManager) Symbols() []string {
	w.mu.Lock()
	defer w.mu.Unlock()

	out := make([]string, 0, len(w.feeds))
	for s := range w.feeds {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Ready возвращает nil, если хотя бы один поток в состоянии Streaming.
func (w *WSManager) Ready() error {
	for _, st := range w.States() {
		if st == binance.StateStreaming {
			return nil
		}
	}
	return ErrNoStreamingFeed
}
