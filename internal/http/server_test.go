package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/YaganovValera/analytics-system/services/trade-buckets/internal/aggregator"
	"github.com/YaganovValera/analytics-system/services/trade-buckets/pkg/logger"
)

type stubSource struct {
	batches [][]aggregator.EmittedTrade
	panics  bool
}

func (s *stubSource) CheckAndGetTrades() []aggregator.EmittedTrade {
	if s.panics {
		panic("store corrupted")
	}
	if len(s.batches) == 0 {
		return []aggregator.EmittedTrade{}
	}
	b := s.batches[0]
	s.batches = s.batches[1:]
	return b
}

type stubSink struct {
	mu  sync.Mutex
	got []aggregator.EmittedTrade
}

func (s *stubSink) Enqueue(trades []aggregator.EmittedTrade) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = append(s.got, trades...)
	return 0
}

func newTestServer(t *testing.T, deps Deps) http.Handler {
	t.Helper()
	s, err := NewServer(Config{Port: 0}, deps, logger.NewNop())
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	return s.Handler()
}

func do(h http.Handler, method, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func TestGetTrades_EmptyIsArray(t *testing.T) {
	h := newTestServer(t, Deps{Trades: &stubSource{}})
	rec := do(h, http.MethodGet, "/get_trades")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
	if body := strings.TrimSpace(rec.Body.String()); body != "[]" {
		t.Fatalf("body = %q; want []", body)
	}
}

func TestGetTrades_NilBecomesEmptyArray(t *testing.T) {
	h := newTestServer(t, Deps{Trades: &stubSource{batches: [][]aggregator.EmittedTrade{nil}}})
	if body := strings.TrimSpace(do(h, http.MethodGet, "/get_trades").Body.String()); body != "[]" {
		t.Fatalf("body = %q; want []", body)
	}
}

func TestGetTrades_ReturnsAndForwards(t *testing.T) {
	batch := []aggregator.EmittedTrade{
		{TradeType: "BUY", Symbol: "TRXUSDT", Timestamp: "10:00:00", USDSize: "$0.50m"},
	}
	sink := &stubSink{}
	h := newTestServer(t, Deps{Trades: &stubSource{batches: [][]aggregator.EmittedTrade{batch}}, Sink: sink})

	rec := do(h, http.MethodGet, "/get_trades")
	var got []map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	want := map[string]string{"trade_type": "BUY", "symbol": "TRXUSDT", "timestamp": "10:00:00", "usd_size": "$0.50m"}
	if len(got) != 1 {
		t.Fatalf("got %v", got)
	}
	for k, v := range want {
		if got[0][k] != v {
			t.Errorf("%s = %q; want %q", k, got[0][k], v)
		}
	}
	if len(sink.got) != 1 {
		t.Fatalf("sink received %d trades; want 1", len(sink.got))
	}

	// drained trades are not repeated
	if body := strings.TrimSpace(do(h, http.MethodGet, "/get_trades").Body.String()); body != "[]" {
		t.Fatalf("second poll body = %q", body)
	}
}

func TestGetTrades_MethodNotAllowed(t *testing.T) {
	h := newTestServer(t, Deps{Trades: &stubSource{}})
	if rec := do(h, http.MethodPost, "/get_trades"); rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d; want 405", rec.Code)
	}
}

func TestIndex_RendersDashboard(t *testing.T) {
	h := newTestServer(t, Deps{Trades: &stubSource{}, Symbols: []string{"trxusdt", "aevousdt"}})
	rec := do(h, http.MethodGet, "/")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{"TRXUSDT, AEVOUSDT", "get_trades", "polling every 1000 ms"} {
		if !strings.Contains(body, want) {
			t.Errorf("page does not contain %q", want)
		}
	}
	if rec := do(h, http.MethodGet, "/nope"); rec.Code != http.StatusNotFound {
		t.Errorf("unknown path status = %d; want 404", rec.Code)
	}
}

func TestHealthAndReadiness(t *testing.T) {
	var ready error = errors.New("no feed is streaming")
	h := newTestServer(t, Deps{Trades: &stubSource{}, Ready: func() error { return ready }})

	if rec := do(h, http.MethodGet, "/healthz"); rec.Code != http.StatusOK || rec.Body.String() != "OK" {
		t.Fatalf("healthz = %d %q", rec.Code, rec.Body.String())
	}
	rec := do(h, http.MethodGet, "/readyz")
	if rec.Code != http.StatusServiceUnavailable || !strings.Contains(rec.Body.String(), "no feed is streaming") {
		t.Fatalf("readyz = %d %q", rec.Code, rec.Body.String())
	}
	ready = nil
	if rec := do(h, http.MethodGet, "/readyz"); rec.Code != http.StatusOK {
		t.Fatalf("readyz = %d", rec.Code)
	}
	if rec := do(h, http.MethodGet, "/metrics"); rec.Code != http.StatusOK {
		t.Fatalf("metrics = %d", rec.Code)
	}
}

func TestMiddleware_RequestIDAndRecover(t *testing.T) {
	h := newTestServer(t, Deps{Trades: &stubSource{panics: true}})

	req := httptest.NewRequest(http.MethodGet, "/get_trades", nil)
	req.Header.Set("X-Request-ID", "req-42")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d; want 500", rec.Code)
	}
	if got := rec.Header().Get("X-Request-ID"); got != "req-42" {
		t.Fatalf("X-Request-ID = %q", got)
	}

	rec = do(h, http.MethodGet, "/healthz")
	if rec.Header().Get("X-Request-ID") == "" {
		t.Fatal("request id not generated")
	}
}

func TestMiddleware_CORS(t *testing.T) {
	h := newTestServer(t, Deps{Trades: &stubSource{}})
	req := httptest.NewRequest(http.MethodGet, "/get_trades", nil)
	req.Header.Set("Origin", "http://dashboard.local")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("Access-Control-Allow-Origin = %q", got)
	}
}

func TestNewServer_Validation(t *testing.T) {
	if _, err := NewServer(Config{}, Deps{}, logger.NewNop()); err == nil {
		t.Error("expected error without trade source")
	}
	if _, err := NewServer(Config{TradesPath: "trades"}, Deps{Trades: &stubSource{}}, logger.NewNop()); err == nil {
		t.Error("expected error for relative path")
	}
	if _, err := NewServer(Config{Port: 70000}, Deps{Trades: &stubSource{}}, logger.NewNop()); err == nil {
		t.Error("expected error for port out of range")
	}
}

func TestServer_StartAndShutdown(t *testing.T) {
	s, err := NewServer(Config{Port: 0, ShutdownTimeout: time.Second}, Deps{Trades: &stubSource{}}, logger.NewNop())
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Start: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestServer_OverHTTP(t *testing.T) {
	ts := httptest.NewServer(newTestServer(t, Deps{Trades: &stubSource{}}))
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/get_trades")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || strings.TrimSpace(string(b)) != "[]" {
		t.Fatalf("got %d %q", resp.StatusCode, b)
	}
}
