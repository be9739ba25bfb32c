package book

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
)

// BatchListener receives one batch of order events in delivery order.
// newSnapshot marks the start of a fresh book.
type BatchListener func(events []OrderEvent, newSnapshot bool)

// Feed is the inbound side of the book: something that can deliver batches
// of order events for a (symbol, source) subscription. The real websocket
// feed and the mock both satisfy it.
type Feed interface {
	Attach(symbol, source string, listener BatchListener) error
	Detach(symbol, source string)
}

// Book aggregates per-order events for a single instrument into price
// levels and maintains the top-N visible window per side. One mutex guards
// everything; the feed callback holds it for the duration of a batch, and
// notification handlers run while it is held, so handlers must not block or
// re-enter the book.
type Book struct {
	mu     sync.Mutex
	symbol string
	source string
	depth  int

	asks    *side
	bids    *side
	orders  *orderIndex
	builder *deltaBuilder

	feed   Feed
	closed bool
	log    *slog.Logger

	onNewBook           func(PriceLevelSet)
	onBookUpdate        func(PriceLevelSet)
	onIncrementalChange func(ChangeSet)
}

// New builds a book for symbol/source truncated to the given number of
// levels per side (0 = unbounded) and attaches it to the feed. A failed
// attach fails construction.
func New(feed Feed, symbol, source string, levels int, logger *slog.Logger) (*Book, error) {
	canon := strings.ToUpper(strings.TrimSpace(symbol))
	if canon == "" {
		return nil, errors.New("empty symbol")
	}
	if levels < 0 {
		return nil, fmt.Errorf("negative levels number %d", levels)
	}
	if logger == nil {
		logger = slog.Default()
	}

	orders := newOrderIndex()
	b := &Book{
		symbol:  canon,
		source:  source,
		depth:   levels,
		asks:    newSide(askLess, levels),
		bids:    newSide(bidLess, levels),
		orders:  orders,
		builder: newDeltaBuilder(orders, logger),
		feed:    feed,
		log:     logger,
	}

	if err := feed.Attach(canon, source, b.processBatch); err != nil {
		return nil, fmt.Errorf("attach feed for %s/%s: %w", canon, source, err)
	}
	return b, nil
}

func (b *Book) Symbol() string { return b.symbol }
func (b *Book) Source() string { return b.source }
func (b *Book) Levels() int    { return b.depth }

// SetOnNewBook registers the full-snapshot handler. Last setter wins; nil
// unsets.
func (b *Book) SetOnNewBook(fn func(PriceLevelSet)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onNewBook = fn
}

// SetOnBookUpdate registers the full top-N view handler fired after each
// incremental batch.
func (b *Book) SetOnBookUpdate(fn func(PriceLevelSet)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onBookUpdate = fn
}

// SetOnIncrementalChange registers the per-batch change-set handler.
func (b *Book) SetOnIncrementalChange(fn func(ChangeSet)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onIncrementalChange = fn
}

// Close detaches the book from the feed and releases its containers. After
// Close returns no further handler will fire. Safe to call more than once.
func (b *Book) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	b.mu.Unlock()

	// Detach outside the lock: the feed may be delivering a batch right now
	// and its listener takes b.mu.
	b.feed.Detach(b.symbol, b.source)

	b.mu.Lock()
	defer b.mu.Unlock()
	b.asks.reset()
	b.bids.reset()
	b.orders.clear()
}

// processBatch is the feed listener. Batches are processed atomically in
// delivery order; all mutation completes before any handler is invoked, so
// a panicking handler cannot corrupt the book.
func (b *Book) processBatch(events []OrderEvent, newSnapshot bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}

	if newSnapshot {
		b.orders.clear()
		b.asks.reset()
		b.bids.reset()
	}

	if len(events) == 0 {
		if newSnapshot {
			b.fireNewBook(PriceLevelSet{Asks: []PriceLevel{}, Bids: []PriceLevel{}})
		}
		return
	}

	deltas := b.builder.build(events)
	changes := b.applyDeltas(deltas)

	if newSnapshot {
		b.fireNewBook(b.visibleLocked())
		return
	}
	b.fireIncrementalChange(changes)
	b.fireBookUpdate(b.visibleLocked())
}

// applyDeltas classifies each side's deltas against the pre-mutation state,
// then applies them in removal, addition, update order while maintaining the
// window cursors.
func (b *Book) applyDeltas(deltas levelDeltas) ChangeSet {
	askChanges, askViolations := b.asks.classify(deltas.asks)
	bidChanges, bidViolations := b.bids.classify(deltas.bids)
	for _, v := range askViolations {
		b.log.Warn("negative delta for absent ask level dropped",
			slog.String("symbol", b.symbol), slog.Float64("price", v.Price), slog.Float64("size", v.Size))
	}
	for _, v := range bidViolations {
		b.log.Warn("negative delta for absent bid level dropped",
			slog.String("symbol", b.symbol), slog.Float64("price", v.Price), slog.Float64("size", v.Size))
	}

	askAdds, askUpds, askRems := newChangeAcc(askLess), newChangeAcc(askLess), newChangeAcc(askLess)
	bidAdds, bidUpds, bidRems := newChangeAcc(bidLess), newChangeAcc(bidLess), newChangeAcc(bidLess)

	b.asks.apply(askChanges, askAdds, askUpds, askRems)
	b.bids.apply(bidChanges, bidAdds, bidUpds, bidRems)

	return ChangeSet{
		Additions: PriceLevelSet{Asks: askAdds.list(), Bids: bidAdds.list()},
		Updates:   PriceLevelSet{Asks: askUpds.list(), Bids: bidUpds.list()},
		Removals:  PriceLevelSet{Asks: askRems.list(), Bids: bidRems.list()},
	}
}

func (b *Book) visibleLocked() PriceLevelSet {
	return PriceLevelSet{Asks: b.asks.visible(), Bids: b.bids.visible()}
}

func (b *Book) fireNewBook(set PriceLevelSet) {
	if b.onNewBook != nil {
		b.invoke("onNewBook", func() { b.onNewBook(set) })
	}
}

func (b *Book) fireBookUpdate(set PriceLevelSet) {
	if b.onBookUpdate != nil {
		b.invoke("onBookUpdate", func() { b.onBookUpdate(set) })
	}
}

func (b *Book) fireIncrementalChange(cs ChangeSet) {
	if b.onIncrementalChange != nil {
		b.invoke("onIncrementalChange", func() { b.onIncrementalChange(cs) })
	}
}

// invoke isolates a handler fault: a panic is logged and the batch (and the
// handlers after it) carry on.
func (b *Book) invoke(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("book handler panicked",
				slog.String("handler", name),
				slog.String("symbol", b.symbol),
				slog.Any("panic", r))
		}
	}()
	fn()
}
