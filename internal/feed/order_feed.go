package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"levelbook/internal/book"

	"github.com/gorilla/websocket"
)

// Listener receives one batch of order events for a subscription, in
// delivery order. newSnapshot marks the start of a fresh book.
type Listener = book.BatchListener

// OrderFeed is the long-running side of a feed: connect, keep alive,
// reconnect. Attach/Detach (the book.Feed half) register who gets the
// batches.
type OrderFeed interface {
	book.Feed
	Run(ctx context.Context, onStatus func(connected bool))
	Errors() <-chan error
	Connected() bool
	Close()
}

type subKey struct {
	symbol string
	source string
}

// WSFeed implements OrderFeed against an order-stream gateway over a
// websocket, with reconnect & resubscribe. Batches dispatch synchronously on
// the read goroutine so the book sees them in wire order.
type WSFeed struct {
	client *Client
	log    *slog.Logger

	mu        sync.RWMutex
	listeners map[subKey]Listener
	connected bool

	errCh  chan error
	wsConn *websocket.Conn

	ctx    context.Context
	cancel context.CancelFunc
}

func NewWSFeed(client *Client, logger *slog.Logger) *WSFeed {
	return &WSFeed{
		client:    client,
		log:       logger,
		listeners: make(map[subKey]Listener),
		errCh:     make(chan error, 16),
	}
}

func (f *WSFeed) Connected() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.connected
}

func (f *WSFeed) setConnected(v bool) {
	f.mu.Lock()
	f.connected = v
	f.mu.Unlock()
}

func (f *WSFeed) Errors() <-chan error { return f.errCh }

// Attach registers a listener for the symbol/source order stream and, when
// already connected, subscribes immediately. Attaching a second listener for
// the same subscription replaces the first.
func (f *WSFeed) Attach(symbol, source string, listener Listener) error {
	canon := strings.ToUpper(strings.TrimSpace(symbol))
	if canon == "" {
		return fmt.Errorf("empty symbol")
	}
	key := subKey{symbol: canon, source: source}

	f.mu.Lock()
	f.listeners[key] = listener
	ws := f.wsConn
	f.mu.Unlock()

	if ws != nil {
		if err := f.subscribe(ws, key); err != nil {
			return fmt.Errorf("subscribe %s/%s: %w", canon, source, err)
		}
	}
	return nil
}

// Detach drops the listener and unsubscribes. After Detach returns no
// further batch is delivered for the subscription.
func (f *WSFeed) Detach(symbol, source string) {
	canon := strings.ToUpper(strings.TrimSpace(symbol))
	key := subKey{symbol: canon, source: source}

	f.mu.Lock()
	delete(f.listeners, key)
	ws := f.wsConn
	f.mu.Unlock()

	if ws != nil {
		_ = ws.WriteMessage(websocket.TextMessage, []byte(
			fmt.Sprintf("uns+%s+%s", key.symbol, key.source),
		))
	}
}

func (f *WSFeed) Close() {
	if f.cancel != nil {
		f.cancel()
	}
	f.mu.Lock()
	if f.wsConn != nil {
		_ = f.wsConn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "shutdown"))
		_ = f.wsConn.Close()
	}
	f.mu.Unlock()
	close(f.errCh)
}

// Run drives the connect/read/reconnect loop until ctx is done. onStatus is
// invoked on every connectivity transition.
func (f *WSFeed) Run(ctx context.Context, onStatus func(connected bool)) {
	if f.cancel != nil {
		return
	}
	f.ctx, f.cancel = context.WithCancel(ctx)

	backoff := time.Second
	for {
		select {
		case <-f.ctx.Done():
			return
		default:
		}

		// 1) Probe the gateway before dialing
		if err := f.client.Connect(f.ctx); err != nil {
			onStatus(false)
			f.setConnected(false)
			f.emitErr(fmt.Errorf("connect: %w", err))
			time.Sleep(backoff)
			backoff = minDuration(backoff*2, 30*time.Second)
			continue
		}

		// 2) Open the websocket
		ws, err := f.openWS()
		if err != nil {
			onStatus(false)
			f.setConnected(false)
			f.emitErr(fmt.Errorf("ws open: %w", err))
			time.Sleep(backoff)
			backoff = minDuration(backoff*2, 30*time.Second)
			continue
		}
		f.mu.Lock()
		f.wsConn = ws
		f.mu.Unlock()
		f.setConnected(true)
		onStatus(true)
		backoff = time.Second

		// 3) (Re)subscribe everything that is attached
		if err := f.resubscribe(ws); err != nil {
			f.emitErr(fmt.Errorf("subscribe: %w", err))
			_ = ws.Close()
			f.setConnected(false)
			onStatus(false)
			continue
		}

		// 4) Read pump
		if err := f.readLoop(ws); err != nil {
			onStatus(false)
			f.setConnected(false)
			f.emitErr(err)
			// loop will reconnect
		}
	}
}

func (f *WSFeed) openWS() (*websocket.Conn, error) {
	wsURL, err := f.client.WSURL()
	if err != nil {
		return nil, err
	}
	d := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	ws, _, err := d.DialContext(f.ctx, wsURL, nil)
	if err != nil {
		return nil, err
	}
	return ws, nil
}

func (f *WSFeed) subscribe(ws *websocket.Conn, key subKey) error {
	return ws.WriteMessage(websocket.TextMessage, []byte(
		fmt.Sprintf("sub+%s+%s", key.symbol, key.source),
	))
}

func (f *WSFeed) resubscribe(ws *websocket.Conn) error {
	f.mu.RLock()
	keys := make([]subKey, 0, len(f.listeners))
	for k := range f.listeners {
		keys = append(keys, k)
	}
	f.mu.RUnlock()

	for _, k := range keys {
		if err := f.subscribe(ws, k); err != nil {
			return err
		}
	}
	return nil
}

// wireOrder is one order record as the gateway encodes it.
type wireOrder struct {
	Index int64   `json:"index"`
	Price float64 `json:"price"`
	Size  float64 `json:"size"`
	Time  int64   `json:"time"`
	Side  string  `json:"side"`
	Flags uint32  `json:"flags"`
}

type inboundWS struct {
	Symbol   string      `json:"symbol"`
	Source   string      `json:"source"`
	Snapshot bool        `json:"snapshot"`
	Orders   []wireOrder `json:"orders"`
	Data     []wireOrder `json:"data"` // some gateway builds use "data" not "orders"
}

func parseSide(s string) book.Side {
	switch strings.ToLower(s) {
	case "buy", "bid", "b":
		return book.SideBuy
	case "sell", "ask", "s":
		return book.SideSell
	}
	return book.SideUndefined
}

func toEvents(rows []wireOrder) []book.OrderEvent {
	events := make([]book.OrderEvent, 0, len(rows))
	for _, r := range rows {
		events = append(events, book.OrderEvent{
			Index: r.Index,
			Price: r.Price,
			Size:  r.Size,
			Time:  r.Time,
			Side:  parseSide(r.Side),
			Flags: r.Flags,
		})
	}
	return events
}

func (f *WSFeed) readLoop(ws *websocket.Conn) error {
	defer func() {
		_ = ws.Close()
		f.mu.Lock()
		if f.wsConn == ws {
			f.wsConn = nil
		}
		f.mu.Unlock()
	}()

	ws.SetReadLimit(1 << 20)
	_ = ws.SetReadDeadline(time.Now().Add(60 * time.Second))
	ws.SetPongHandler(func(string) error {
		_ = ws.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	ticker := time.NewTicker(25 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-f.ctx.Done():
			return nil
		default:
		}

		// Keepalive ping
		select {
		case <-ticker.C:
			_ = ws.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(5*time.Second))
		default:
		}

		_, data, err := ws.ReadMessage()
		if err != nil {
			return fmt.Errorf("ws read: %w", err)
		}

		// Not a batch (ack/heartbeat): ignore
		var msg inboundWS
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		rows := msg.Orders
		if len(rows) == 0 {
			rows = msg.Data
		}
		if len(rows) == 0 && !msg.Snapshot {
			continue
		}

		f.dispatch(msg, rows)
	}
}

func (f *WSFeed) dispatch(msg inboundWS, rows []wireOrder) {
	key := subKey{symbol: strings.ToUpper(msg.Symbol), source: msg.Source}
	// The read lock is held across the listener call so that Detach, which
	// takes the write lock, waits for an in-flight batch to finish.
	f.mu.RLock()
	defer f.mu.RUnlock()
	listener := f.listeners[key]
	if listener == nil {
		return
	}
	listener(toEvents(rows), msg.Snapshot)
}

func (f *WSFeed) emitErr(err error) {
	select {
	case f.errCh <- err:
	default:
		// drop if buffer full
	}
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}

// ---------- Test/mock feed (handy for unit tests & demos) ----------

type MockFeed struct {
	mu        sync.Mutex
	listeners map[subKey]Listener
	attachErr error
	connected bool
	ctx       context.Context
	cancel    context.CancelFunc
	errors    chan error
}

func NewMockFeed() *MockFeed {
	return &MockFeed{
		listeners: make(map[subKey]Listener),
		connected: true,
		errors:    make(chan error, 10),
	}
}

func (m *MockFeed) Run(ctx context.Context, onStatus func(connected bool)) {
	m.ctx, m.cancel = context.WithCancel(ctx)
	go func() {
		onStatus(m.Connected())
		<-m.ctx.Done()
	}()
}

func (m *MockFeed) Attach(symbol, source string, listener Listener) error {
	if m.attachErr != nil {
		return m.attachErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners[subKey{symbol: strings.ToUpper(strings.TrimSpace(symbol)), source: source}] = listener
	return nil
}

func (m *MockFeed) Detach(symbol, source string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.listeners, subKey{symbol: strings.ToUpper(strings.TrimSpace(symbol)), source: source})
}

func (m *MockFeed) Errors() <-chan error { return m.errors }

func (m *MockFeed) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *MockFeed) Close() {
	if m.cancel != nil {
		m.cancel()
	}
	close(m.errors)
}

// Helpers for tests
func (m *MockFeed) Publish(symbol, source string, events []book.OrderEvent, newSnapshot bool) {
	m.mu.Lock()
	listener := m.listeners[subKey{symbol: strings.ToUpper(symbol), source: source}]
	m.mu.Unlock()
	if listener != nil {
		listener(events, newSnapshot)
	}
}

func (m *MockFeed) SendError(e error)   { m.errors <- e }
func (m *MockFeed) SetConnected(c bool) { m.mu.Lock(); m.connected = c; m.mu.Unlock() }
func (m *MockFeed) FailAttach(err error) { m.attachErr = err }
