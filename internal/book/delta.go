package book

import (
	"log/slog"

	"github.com/google/btree"
)

// levelDeltas is a batch of per-order events consolidated into one signed
// size change per touched price, split by side. Asks ascend by price, bids
// descend.
type levelDeltas struct {
	asks []PriceLevel
	bids []PriceLevel
}

// deltaBuilder turns raw order events into price-level deltas, reading and
// writing the order index along the way.
type deltaBuilder struct {
	orders *orderIndex
	log    *slog.Logger
}

func newDeltaBuilder(orders *orderIndex, logger *slog.Logger) *deltaBuilder {
	return &deltaBuilder{orders: orders, log: logger}
}

// build processes events in delivered order. Multiple events touching the
// same (side, price) merge into a single delta summing the signed sizes and
// keeping the latest time; consolidated deltas that cancel out are dropped.
func (b *deltaBuilder) build(events []OrderEvent) levelDeltas {
	askAcc := btree.NewG(8, askLess)
	bidAcc := btree.NewG(8, bidLess)

	accumulate := func(side Side, change PriceLevel) {
		acc := askAcc
		if side == SideBuy {
			acc = bidAcc
		}
		if prior, ok := acc.Get(PriceLevel{Price: change.Price}); ok {
			change.Size += prior.Size
		}
		acc.ReplaceOrInsert(change)
	}

	for _, ev := range events {
		removal := ev.IsRemoval()
		prior, known := b.orders.lookup(ev.Index)

		switch {
		case !known && removal:
			// Removal of an order we never saw: nothing to subtract.
			continue
		case !known:
			if ev.Side == SideUndefined {
				b.log.Warn("order event without side dropped", slog.Int64("index", ev.Index))
				continue
			}
			accumulate(ev.Side, PriceLevel{Price: ev.Price, Size: ev.Size, Time: ev.Time})
			b.orders.upsert(OrderEntry{Index: ev.Index, Price: ev.Price, Size: ev.Size, Time: ev.Time, Side: ev.Side})
		case removal:
			accumulate(prior.Side, PriceLevel{Price: prior.Price, Size: -prior.Size, Time: ev.Time})
			b.orders.remove(prior.Index)
		default:
			if ev.Side == SideUndefined {
				b.log.Warn("order event without side dropped", slog.Int64("index", ev.Index))
				continue
			}
			if ev.Side != prior.Side {
				accumulate(prior.Side, PriceLevel{Price: prior.Price, Size: -prior.Size, Time: ev.Time})
			}
			accumulate(ev.Side, PriceLevel{Price: ev.Price, Size: ev.Size, Time: ev.Time})
			b.orders.upsert(OrderEntry{Index: ev.Index, Price: ev.Price, Size: ev.Size, Time: ev.Time, Side: ev.Side})
		}
	}

	return levelDeltas{asks: drain(askAcc), bids: drain(bidAcc)}
}

// drain lists the accumulated deltas in container order, skipping the ones
// that net out to nothing.
func drain(acc *btree.BTreeG[PriceLevel]) []PriceLevel {
	out := make([]PriceLevel, 0, acc.Len())
	acc.Ascend(func(pl PriceLevel) bool {
		if !zeroLevel(pl) {
			out = append(out, pl)
		}
		return true
	})
	return out
}
