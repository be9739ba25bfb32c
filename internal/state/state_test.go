package state

import (
	"testing"
	"time"

	"levelbook/internal/book"
)

func TestSymbolNormalization(t *testing.T) {
	s := NewState(" aapl ", "DEX")
	if got := s.Symbol(); got != "AAPL" {
		t.Fatalf("state symbol got %s want AAPL", got)
	}
	c := s.SetSubscription(" msft ", "NSDQ")
	if c != "MSFT" {
		t.Fatalf("canon got %s want MSFT", c)
	}
	if s.Source() != "NSDQ" {
		t.Fatalf("source got %s", s.Source())
	}
}

func TestConnectedFlag(t *testing.T) {
	s := NewState("AAPL", "DEX")
	if s.Connected() {
		t.Fatal("should start disconnected")
	}
	s.SetConnected(true)
	if !s.Connected() {
		t.Fatal("set failed")
	}
}

func TestRecordBook(t *testing.T) {
	s := NewState("AAPL", "DEX")

	now := time.Now()
	s.RecordBook(book.PriceLevelSet{
		Asks: []book.PriceLevel{{Price: 100, Size: 5}},
		Bids: []book.PriceLevel{{Price: 99, Size: 7}},
	}, now)

	set, at := s.Book()
	if len(set.Asks) != 1 || set.Asks[0].Price != 100 {
		t.Fatalf("stored book got %+v", set)
	}
	if !at.Equal(now) {
		t.Fatalf("update time got %v want %v", at, now)
	}
	if s.Batches() != 1 {
		t.Fatalf("batches got %d want 1", s.Batches())
	}

	s.RecordBook(book.PriceLevelSet{}, now.Add(time.Second))
	if s.Batches() != 2 {
		t.Fatalf("batches got %d want 2", s.Batches())
	}
}
