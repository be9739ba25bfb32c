package book

import (
	"math"
	"testing"
)

func TestIsRemoval(t *testing.T) {
	cases := []struct {
		name string
		ev   OrderEvent
		want bool
	}{
		{"remove flag", OrderEvent{Size: 5, Flags: EventFlagRemove}, true},
		{"zero size", OrderEvent{Size: 0}, true},
		{"nan size", OrderEvent{Size: math.NaN()}, true},
		{"live order", OrderEvent{Size: 5}, false},
		{"unrelated flag", OrderEvent{Size: 5, Flags: 0x01}, false},
	}
	for _, tc := range cases {
		if got := tc.ev.IsRemoval(); got != tc.want {
			t.Fatalf("%s: IsRemoval=%v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestSamePriceWithinEpsilon(t *testing.T) {
	if !samePrice(1e-16, 2e-16) {
		t.Fatal("prices within machine epsilon must be the same level")
	}
	if samePrice(100.0, 100.01) {
		t.Fatal("distinct prices must not collapse")
	}
	if samePrice(math.NaN(), 100) {
		t.Fatal("NaN never equals a finite price")
	}
}

func TestAskOrdering(t *testing.T) {
	lo := PriceLevel{Price: 100}
	hi := PriceLevel{Price: 101}
	end := invalidLevel()

	if !askLess(lo, hi) || askLess(hi, lo) {
		t.Fatal("asks must ascend by price")
	}
	if !askLess(hi, end) || askLess(end, hi) {
		t.Fatal("the invalid level must sort after every finite ask")
	}
	if askLess(lo, lo) {
		t.Fatal("askLess must be irreflexive")
	}
}

func TestBidOrdering(t *testing.T) {
	lo := PriceLevel{Price: 100}
	hi := PriceLevel{Price: 101}
	end := invalidLevel()

	if !bidLess(hi, lo) || bidLess(lo, hi) {
		t.Fatal("bids must descend by price")
	}
	if !bidLess(lo, end) || bidLess(end, lo) {
		t.Fatal("the invalid level must sort after every finite bid")
	}
}

func TestZeroLevel(t *testing.T) {
	if !zeroLevel(PriceLevel{Price: 10, Size: 0}) {
		t.Fatal("zero size is a dead level")
	}
	if !zeroLevel(PriceLevel{Price: 10, Size: 1e-17}) {
		t.Fatal("sub-epsilon size is a dead level")
	}
	if zeroLevel(PriceLevel{Price: 10, Size: 1}) {
		t.Fatal("live level flagged dead")
	}
}

func TestOrderIndexRoundTrip(t *testing.T) {
	ix := newOrderIndex()

	if _, ok := ix.lookup(1); ok {
		t.Fatal("lookup on empty index")
	}
	ix.upsert(OrderEntry{Index: 1, Price: 10, Size: 2, Side: SideSell})
	ix.upsert(OrderEntry{Index: 1, Price: 11, Size: 3, Side: SideSell})

	e, ok := ix.lookup(1)
	if !ok || e.Price != 11 || e.Size != 3 {
		t.Fatalf("upsert must overwrite, got %+v", e)
	}

	prior, ok := ix.remove(1)
	if !ok || prior.Price != 11 {
		t.Fatalf("remove must return the prior entry, got %+v", prior)
	}
	if _, ok := ix.remove(1); ok {
		t.Fatal("second remove must report absence")
	}

	ix.upsert(OrderEntry{Index: 2, Price: 12, Size: 1, Side: SideBuy})
	ix.clear()
	if ix.len() != 0 {
		t.Fatal("clear must empty the index")
	}
}
