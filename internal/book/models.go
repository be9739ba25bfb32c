package book

import (
	"math"
)

// Side of an order or price level.
type Side int8

const (
	SideUndefined Side = iota
	SideBuy
	SideSell
)

func (s Side) String() string {
	switch s {
	case SideBuy:
		return "buy"
	case SideSell:
		return "sell"
	}
	return "undefined"
}

// EventFlagRemove marks an order event as a removal regardless of its size.
const EventFlagRemove uint32 = 0x02

// OrderEvent is one raw record delivered by the feed. Index identifies the
// order; a removal may omit price/size, which is why the book remembers the
// last-known values per index.
type OrderEvent struct {
	Index int64   `json:"index"`
	Price float64 `json:"price"`
	Size  float64 `json:"size"`
	Time  int64   `json:"time"`
	Side  Side    `json:"side"`
	Flags uint32  `json:"flags"`
}

// IsRemoval reports whether this event removes the order: the remove flag,
// a zero size, or a NaN size all count.
func (e OrderEvent) IsRemoval() bool {
	return e.Flags&EventFlagRemove != 0 || e.Size == 0 || math.IsNaN(e.Size)
}

// PriceLevel is the aggregate of all live orders at one price on one side.
// Identity is the price alone; size and time are payload.
type PriceLevel struct {
	Price float64 `json:"price"`
	Size  float64 `json:"size"`
	Time  int64   `json:"time"`
}

// Valid reports whether the level carries a real price. The invalid level
// (NaN price, see invalidLevel) doubles as the end sentinel for the window
// cursor.
func (pl PriceLevel) Valid() bool { return !math.IsNaN(pl.Price) }

// PriceLevelSet is one view of both sides: asks ascending by price, bids
// descending.
type PriceLevelSet struct {
	Asks []PriceLevel `json:"asks"`
	Bids []PriceLevel `json:"bids"`
}

// ChangeSet describes what happened inside the visible window during one
// batch.
type ChangeSet struct {
	Additions PriceLevelSet `json:"additions"`
	Updates   PriceLevelSet `json:"updates"`
	Removals  PriceLevelSet `json:"removals"`
}

// epsilon is the IEEE double-precision machine epsilon. Two prices within
// epsilon are the same level; a level whose aggregate size is within epsilon
// of zero does not exist.
var epsilon = math.Nextafter(1, 2) - 1

func samePrice(p1, p2 float64) bool {
	return math.Abs(p1-p2) < epsilon
}

func zeroLevel(pl PriceLevel) bool {
	return math.Abs(pl.Size) < epsilon
}

func invalidLevel() PriceLevel {
	return PriceLevel{Price: math.NaN(), Size: math.NaN()}
}

// askLess orders asks ascending by price. An invalid (NaN) level sorts after
// every finite price, so it can stand in for the end of the container.
func askLess(a, b PriceLevel) bool {
	if samePrice(a.Price, b.Price) {
		return false
	}
	if math.IsNaN(a.Price) {
		return false
	}
	if math.IsNaN(b.Price) {
		return true
	}
	return a.Price < b.Price
}

// bidLess orders bids descending by price, with the same end sentinel rule.
func bidLess(a, b PriceLevel) bool {
	if samePrice(a.Price, b.Price) {
		return false
	}
	if math.IsNaN(a.Price) {
		return false
	}
	if math.IsNaN(b.Price) {
		return true
	}
	return a.Price > b.Price
}
