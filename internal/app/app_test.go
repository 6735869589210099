package app

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/YaganovValera/analytics-system/services/trade-buckets/internal/aggregator"
	"github.com/YaganovValera/analytics-system/services/trade-buckets/internal/config"
	"github.com/YaganovValera/analytics-system/services/trade-buckets/pkg/logger"
)

// feedServer accepts SUBSCRIBE, writes frames and keeps the connection open.
func feedServer(t *testing.T, frames []string) *httptest.Server {
	t.Helper()
	upg := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upg.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"result":null,"id":1}`))
		for _, f := range frames {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(f)); err != nil {
				return
			}
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

func getJSON(url string, v any) (int, error) {
	resp, err := http.Get(url)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if v != nil {
		if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
			return resp.StatusCode, err
		}
	}
	return resp.StatusCode, nil
}

func TestRun_EndToEnd(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Fatal(err)
	}
	now := time.Now().In(ny)
	if now.Hour() == 0 && now.Minute() == 0 && now.Second() < 2 {
		t.Skip("too close to midnight in New York")
	}
	// 00:00:00 is strictly before every other label of the day
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, ny).UnixMilli()

	frame := func(qty string, m bool) string {
		return fmt.Sprintf(`{"e":"trade","E":%d,"s":"TRXUSDT","t":12345,"p":"1.00000000","q":%q,"T":%d,"m":%t,"M":true}`,
			midnight+5, qty, midnight, m)
	}
	feed := feedServer(t, []string{
		frame("20000", false),
		`{"e":"trade","s":"TRXUSDT","p":"oops"}`,
		frame("20001", false),
		frame("10000", false),
		frame("100", true),
	})
	defer feed.Close()

	cfg, err := config.Load("", nil)
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	cfg.Binance.WSURL = "ws" + strings.TrimPrefix(feed.URL, "http")
	cfg.Binance.Symbols = []string{"trxusdt"}
	cfg.Binance.ErrorDelay = 10 * time.Millisecond
	cfg.HTTP.Port = freePort(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- Run(ctx, cfg, logger.NewNop()) }()

	base := fmt.Sprintf("http://127.0.0.1:%d", cfg.HTTP.Port)
	var emitted []aggregator.EmittedTrade
	deadline := time.Now().Add(5 * time.Second)
	for len(emitted) == 0 && time.Now().Before(deadline) {
		var batch []aggregator.EmittedTrade
		if code, err := getJSON(base+"/get_trades", &batch); err == nil && code == http.StatusOK {
			emitted = append(emitted, batch...)
		}
		time.Sleep(20 * time.Millisecond)
	}

	want := aggregator.EmittedTrade{TradeType: "BUY", Symbol: "TRXUSDT", Timestamp: "00:00:00", USDSize: "$0.50m"}
	if len(emitted) != 1 || emitted[0] != want {
		t.Fatalf("emitted %+v; want [%+v]", emitted, want)
	}

	if code, err := getJSON(base+"/readyz", nil); err != nil || code != http.StatusOK {
		t.Fatalf("readyz = %d, %v", code, err)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
