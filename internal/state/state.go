package state

import (
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"levelbook/internal/book"
)

// State is the shared service status: the active subscription, feed
// connectivity, and the most recent view the book emitted. The HTTP API and
// the websocket hub read it; the feed status callback and the book handlers
// write it.
type State struct {
	subMu  sync.RWMutex
	symbol string
	source string

	connected atomic.Bool
	batches   atomic.Int64

	bookMu     sync.RWMutex
	lastBook   book.PriceLevelSet
	lastUpdate time.Time
}

func NewState(symbol, source string) *State {
	s := &State{}
	s.symbol = canon(symbol)
	s.source = source
	return s
}

func canon(sym string) string {
	return strings.ToUpper(strings.TrimSpace(sym))
}

func (s *State) SetSubscription(symbol, source string) string {
	c := canon(symbol)
	s.subMu.Lock()
	defer s.subMu.Unlock()
	s.symbol = c
	s.source = source
	return c
}

func (s *State) Symbol() string {
	s.subMu.RLock()
	defer s.subMu.RUnlock()
	return s.symbol
}

func (s *State) Source() string {
	s.subMu.RLock()
	defer s.subMu.RUnlock()
	return s.source
}

func (s *State) SetConnected(v bool) { s.connected.Store(v) }
func (s *State) Connected() bool     { return s.connected.Load() }

// RecordBook stores the latest visible window and bumps the batch counter.
func (s *State) RecordBook(set book.PriceLevelSet, now time.Time) {
	s.batches.Add(1)
	s.bookMu.Lock()
	defer s.bookMu.Unlock()
	s.lastBook = set
	s.lastUpdate = now
}

func (s *State) Book() (book.PriceLevelSet, time.Time) {
	s.bookMu.RLock()
	defer s.bookMu.RUnlock()
	return s.lastBook, s.lastUpdate
}

func (s *State) Batches() int64 { return s.batches.Load() }
