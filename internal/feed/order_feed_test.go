package feed

import (
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"levelbook/internal/book"
)

func TestMockFeedDispatch(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mock := NewMockFeed()

	statusCh := make(chan bool, 1)
	go mock.Run(ctx, func(c bool) { statusCh <- c })

	select {
	case c := <-statusCh:
		if !c {
			t.Fatal("expected connected status")
		}
	case <-time.After(time.Second):
		t.Fatal("no status")
	}

	var got []book.OrderEvent
	var snap bool
	err := mock.Attach(" aapl ", "DEX", func(events []book.OrderEvent, newSnapshot bool) {
		got = events
		snap = newSnapshot
	})
	if err != nil {
		t.Fatal(err)
	}

	mock.Publish("AAPL", "DEX", []book.OrderEvent{{Index: 1, Price: 10, Size: 2, Side: book.SideSell}}, true)

	if len(got) != 1 || got[0].Index != 1 || !snap {
		t.Fatalf("listener got %+v snapshot=%v", got, snap)
	}

	mock.Detach("AAPL", "DEX")
	got = nil
	mock.Publish("AAPL", "DEX", []book.OrderEvent{{Index: 2, Price: 11, Size: 1, Side: book.SideSell}}, false)
	if got != nil {
		t.Fatal("detached listener still invoked")
	}

	mock.Close()
}

func TestMockFeedKeysBySymbolAndSource(t *testing.T) {
	mock := NewMockFeed()
	defer mock.Close()

	var hits int
	if err := mock.Attach("MSFT", "DEX", func([]book.OrderEvent, bool) { hits++ }); err != nil {
		t.Fatal(err)
	}

	mock.Publish("MSFT", "OTHER", []book.OrderEvent{{Index: 1, Size: 1}}, false)
	if hits != 0 {
		t.Fatal("batch for another source delivered")
	}
	mock.Publish("MSFT", "DEX", []book.OrderEvent{{Index: 1, Size: 1}}, false)
	if hits != 1 {
		t.Fatalf("hits=%d, want 1", hits)
	}
}

func TestParseSide(t *testing.T) {
	cases := map[string]book.Side{
		"buy":  book.SideBuy,
		"BID":  book.SideBuy,
		"b":    book.SideBuy,
		"sell": book.SideSell,
		"ask":  book.SideSell,
		"S":    book.SideSell,
		"":     book.SideUndefined,
		"hold": book.SideUndefined,
	}
	for in, want := range cases {
		if got := parseSide(in); got != want {
			t.Fatalf("parseSide(%q)=%v, want %v", in, got, want)
		}
	}
}

func TestInboundDecoding(t *testing.T) {
	raw := []byte(`{
		"symbol": "aapl", "source": "DEX", "snapshot": true,
		"orders": [
			{"index": 7, "price": 100.5, "size": 3, "time": 1700000000, "side": "sell", "flags": 0},
			{"index": 8, "price": 99.5, "size": 4, "time": 1700000001, "side": "buy", "flags": 2}
		]
	}`)

	var msg inboundWS
	if err := json.Unmarshal(raw, &msg); err != nil {
		t.Fatal(err)
	}
	events := toEvents(msg.Orders)
	if len(events) != 2 {
		t.Fatalf("events=%d, want 2", len(events))
	}
	if events[0].Side != book.SideSell || events[0].Price != 100.5 {
		t.Fatalf("event[0]=%+v", events[0])
	}
	if events[1].Flags&book.EventFlagRemove == 0 {
		t.Fatal("remove flag lost in decoding")
	}
	if !msg.Snapshot {
		t.Fatal("snapshot flag lost")
	}
}

func TestInboundDataKeyFallback(t *testing.T) {
	raw := []byte(`{"symbol":"X","source":"S","data":[{"index":1,"price":5,"size":1,"side":"buy"}]}`)
	var msg inboundWS
	if err := json.Unmarshal(raw, &msg); err != nil {
		t.Fatal(err)
	}
	rows := msg.Orders
	if len(rows) == 0 {
		rows = msg.Data
	}
	if len(rows) != 1 {
		t.Fatalf("rows=%d, want 1 via data fallback", len(rows))
	}
}

func TestWSFeedAttachBeforeConnect(t *testing.T) {
	f := NewWSFeed(NewClient("http://127.0.0.1:1", slog.Default()), slog.Default())

	// No connection yet: attach just records the subscription.
	if err := f.Attach("tsla", "DEX", func([]book.OrderEvent, bool) {}); err != nil {
		t.Fatal(err)
	}
	f.mu.RLock()
	_, ok := f.listeners[subKey{symbol: "TSLA", source: "DEX"}]
	f.mu.RUnlock()
	if !ok {
		t.Fatal("subscription not recorded")
	}

	if err := f.Attach("  ", "DEX", nil); err == nil {
		t.Fatal("empty symbol must be rejected")
	}

	f.Detach("TSLA", "DEX")
	f.mu.RLock()
	n := len(f.listeners)
	f.mu.RUnlock()
	if n != 0 {
		t.Fatal("detach did not drop the subscription")
	}
}

func TestWSFeedDispatchRouting(t *testing.T) {
	f := NewWSFeed(NewClient("http://127.0.0.1:1", slog.Default()), slog.Default())

	var got []book.OrderEvent
	if err := f.Attach("NVDA", "DEX", func(events []book.OrderEvent, newSnapshot bool) {
		got = events
	}); err != nil {
		t.Fatal(err)
	}

	rows := []wireOrder{{Index: 3, Price: 10, Size: 1, Side: "sell"}}
	f.dispatch(inboundWS{Symbol: "nvda", Source: "DEX"}, rows)
	if len(got) != 1 || got[0].Index != 3 {
		t.Fatalf("dispatch missed: %+v", got)
	}

	got = nil
	f.dispatch(inboundWS{Symbol: "nvda", Source: "ELSEWHERE"}, rows)
	if got != nil {
		t.Fatal("batch routed to wrong subscription")
	}
}
