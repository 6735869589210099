package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/YaganovValera/analytics-system/services/trade-buckets/internal/aggregator"
	"github.com/YaganovValera/analytics-system/services/trade-buckets/pkg/logger"
)

type published struct {
	topic string
	key   string
	value []byte
}

type fakeProducer struct {
	mu   sync.Mutex
	msgs []published
	fail int
}

func (f *fakeProducer) Publish(_ context.Context, topic string, key, value []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail > 0 {
		f.fail--
		return errors.New("broker unavailable")
	}
	f.msgs = append(f.msgs, published{topic, string(key), value})
	return nil
}

func (f *fakeProducer) Ping() error  { return nil }
func (f *fakeProducer) Close() error { return nil }

func (f *fakeProducer) snapshot() []published {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]published(nil), f.msgs...)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

var sample = []aggregator.EmittedTrade{
	{TradeType: "BUY", Symbol: "TRXUSDT", Timestamp: "10:00:00", USDSize: "$0.50m"},
	{TradeType: "SELL", Symbol: "AEVOUSDT", Timestamp: "10:00:01", USDSize: "$1.23m"},
}

func TestPublisher_PublishesKeyedJSON(t *testing.T) {
	prod := &fakeProducer{}
	p := New(prod, "trades.emitted", 8, logger.NewNop())
	fixed := time.Date(2024, 3, 15, 14, 0, 1, 0, time.UTC)
	p.now = func() time.Time { return fixed }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	if dropped := p.Enqueue(sample); dropped != 0 {
		t.Fatalf("dropped = %d", dropped)
	}
	waitFor(t, func() bool { return len(prod.snapshot()) == 2 })

	msgs := prod.snapshot()
	if msgs[0].topic != "trades.emitted" || msgs[0].key != "TRXUSDT" || msgs[1].key != "AEVOUSDT" {
		t.Fatalf("unexpected routing: %+v", msgs)
	}
	var got map[string]string
	if err := json.Unmarshal(msgs[1].value, &got); err != nil {
		t.Fatalf("payload: %v", err)
	}
	want := map[string]string{
		"trade_type": "SELL",
		"symbol":     "AEVOUSDT",
		"timestamp":  "10:00:01",
		"usd_size":   "$1.23m",
		"emitted_at": "2024-03-15T14:00:01Z",
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("%s = %q; want %q", k, got[k], v)
		}
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func TestPublisher_EnqueueNeverBlocks(t *testing.T) {
	p := New(&fakeProducer{}, "t", 1, logger.NewNop())

	done := make(chan int, 1)
	go func() { done <- p.Enqueue(sample) }()
	select {
	case dropped := <-done:
		if dropped != 1 {
			t.Fatalf("dropped = %d; want 1", dropped)
		}
	case <-time.After(time.Second):
		t.Fatal("Enqueue blocked on a full queue")
	}
}

func TestPublisher_ContinuesAfterPublishError(t *testing.T) {
	prod := &fakeProducer{fail: 1}
	p := New(prod, "t", 8, logger.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = p.Run(ctx) }()

	p.Enqueue(sample)
	waitFor(t, func() bool { return len(prod.snapshot()) == 1 })
	if got := prod.snapshot()[0].key; got != "AEVOUSDT" {
		t.Fatalf("published %q; want the second trade after the first failed", got)
	}
}

func TestNew_DefaultQueueSize(t *testing.T) {
	p := New(&fakeProducer{}, "t", 0, logger.NewNop())
	if cap(p.queue) != DefaultQueueSize {
		t.Fatalf("queue cap = %d", cap(p.queue))
	}
}
