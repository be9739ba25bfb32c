package book

import (
	"github.com/google/btree"
)

// side is one sorted half of the book plus a cursor to the last visible
// level. depth == 0 means unbounded: the cursor stays at end and every
// change is visible.
//
// The cursor is held as a price-level key (invalid price = end) and rebound
// by lookup after every mutation, so tree rebalancing can never leave it
// dangling. While the side holds fewer than depth levels the cursor tracks
// the worst level; every branch that reads it is guarded by a size test, so
// this is indistinguishable from an end sentinel until the side fills up.
type side struct {
	levels *btree.BTreeG[PriceLevel]
	less   func(a, b PriceLevel) bool
	last   PriceLevel
	depth  int
}

func newSide(less func(a, b PriceLevel) bool, depth int) *side {
	return &side{
		levels: btree.NewG(16, less),
		less:   less,
		last:   invalidLevel(),
		depth:  depth,
	}
}

func (s *side) reset() {
	s.levels.Clear(false)
	s.last = invalidLevel()
}

func (s *side) len() int { return s.levels.Len() }

func (s *side) get(price float64) (PriceLevel, bool) {
	return s.levels.Get(PriceLevel{Price: price})
}

// next returns the level strictly after k in side order.
func (s *side) next(k PriceLevel) (PriceLevel, bool) {
	var out PriceLevel
	var found bool
	s.levels.AscendGreaterOrEqual(k, func(pl PriceLevel) bool {
		if samePrice(pl.Price, k.Price) {
			return true
		}
		out, found = pl, true
		return false
	})
	return out, found
}

// prev returns the level strictly before k in side order.
func (s *side) prev(k PriceLevel) (PriceLevel, bool) {
	var out PriceLevel
	var found bool
	s.levels.DescendLessOrEqual(k, func(pl PriceLevel) bool {
		if samePrice(pl.Price, k.Price) {
			return true
		}
		out, found = pl, true
		return false
	})
	return out, found
}

// rebind re-pins the cursor after a mutation by looking the remembered key
// up again. A key that is gone (or invalid) collapses to end.
func (s *side) rebind(k PriceLevel) {
	if !k.Valid() {
		s.last = invalidLevel()
		return
	}
	if pl, ok := s.levels.Get(k); ok {
		s.last = pl
	} else {
		s.last = invalidLevel()
	}
}

// visible lists the first <=depth levels in side order (all of them when
// unbounded).
func (s *side) visible() []PriceLevel {
	out := make([]PriceLevel, 0, s.levels.Len())
	s.levels.Ascend(func(pl PriceLevel) bool {
		if s.depth > 0 && len(out) >= s.depth {
			return false
		}
		out = append(out, pl)
		return true
	})
	return out
}

// sideChanges is the classification of one batch's deltas against the
// current side state, before any mutation.
type sideChanges struct {
	additions []PriceLevel
	removals  []PriceLevel
	updates   []PriceLevel
}

// classify buckets each delta into addition/removal/update against the
// pre-mutation state. A negative delta with no existing level is a protocol
// violation; the caller drops it.
func (s *side) classify(deltas []PriceLevel) (sideChanges, []PriceLevel) {
	var ch sideChanges
	var violations []PriceLevel
	for _, d := range deltas {
		found, ok := s.get(d.Price)
		if !ok {
			if d.Size < 0 {
				violations = append(violations, d)
				continue
			}
			ch.additions = append(ch.additions, d)
			continue
		}
		merged := found
		merged.Size += d.Size
		merged.Time = d.Time
		if zeroLevel(merged) {
			ch.removals = append(ch.removals, found)
		} else {
			ch.updates = append(ch.updates, merged)
		}
	}
	return ch, violations
}

// apply mutates the side with the classified changes in removal, addition,
// update order, accumulating the window-relevant emissions.
func (s *side) apply(ch sideChanges, adds, upds, rems *changeAcc) {
	for _, x := range ch.removals {
		s.applyRemoval(x, rems, adds)
	}
	for _, x := range ch.additions {
		s.applyAddition(x, adds, rems)
	}
	for _, x := range ch.updates {
		s.applyUpdate(x, upds)
	}
}

// applyRemoval erases level x, emitting the removal when it was visible and
// the promotion of the first hidden level when one slides into the window.
func (s *side) applyRemoval(x PriceLevel, rems, adds *changeAcc) {
	if s.levels.Len() == 0 {
		return
	}

	if s.depth == 0 {
		rems.put(x)
		s.levels.Delete(x)
		s.last = invalidLevel()
		return
	}

	removed := s.levels.Len() <= s.depth
	if !removed {
		if nxt, ok := s.next(s.last); ok && s.less(x, nxt) {
			removed = true
		}
	}

	if removed {
		rems.put(x)
		if s.levels.Len() > s.depth {
			if nxt, ok := s.next(s.last); ok {
				adds.put(nxt)
			}
		}
	}

	newLast := invalidLevel()
	if removed {
		if nxt, ok := s.next(s.last); ok {
			newLast = nxt
		} else if s.last.Valid() {
			if s.less(x, s.last) {
				newLast = s.last
			} else if prv, ok := s.prev(s.last); ok {
				newLast = prv
			}
		}
	} else {
		newLast = s.last
	}

	s.levels.Delete(x)
	s.rebind(newLast)
}

// applyAddition inserts level x, emitting the addition when it lands inside
// the window and the demotion of the level it pushes out. A demotion that
// cancels an addition made earlier in the same batch is a no-op.
func (s *side) applyAddition(x PriceLevel, adds, rems *changeAcc) {
	if s.depth == 0 {
		adds.put(x)
		s.levels.ReplaceOrInsert(x)
		s.last = invalidLevel()
		return
	}

	added := s.levels.Len() < s.depth || s.less(x, s.last)
	if added {
		adds.put(x)
		if s.levels.Len() >= s.depth {
			toDemote := s.last
			if adds.has(toDemote) {
				adds.del(toDemote)
			} else {
				rems.put(toDemote)
			}
		}
	}

	newLast := s.last
	if added {
		newLast = x
		if s.last.Valid() && s.less(x, s.last) {
			if s.levels.Len() < s.depth {
				newLast = s.last
			} else if prv, ok := s.prev(s.last); ok && s.less(x, prv) {
				newLast = prv
			}
		}
	}

	s.levels.ReplaceOrInsert(x)
	s.rebind(newLast)
}

// applyUpdate replaces the payload of an existing level, emitting it only
// when the level sits inside the visible window.
func (s *side) applyUpdate(x PriceLevel, upds *changeAcc) {
	if s.depth == 0 {
		s.levels.ReplaceOrInsert(x)
		upds.put(x)
		s.last = invalidLevel()
		return
	}

	if _, ok := s.levels.Get(x); ok && !s.less(s.last, x) {
		upds.put(x)
	}

	newLast := s.last
	s.levels.ReplaceOrInsert(x)
	s.rebind(newLast)
}

// changeAcc collects emitted levels for one category on one side, deduped by
// price and kept in side order.
type changeAcc struct {
	t *btree.BTreeG[PriceLevel]
}

func newChangeAcc(less func(a, b PriceLevel) bool) *changeAcc {
	return &changeAcc{t: btree.NewG(8, less)}
}

func (c *changeAcc) put(pl PriceLevel) { c.t.ReplaceOrInsert(pl) }

func (c *changeAcc) has(pl PriceLevel) bool {
	return c.t.Has(PriceLevel{Price: pl.Price})
}

func (c *changeAcc) del(pl PriceLevel) {
	c.t.Delete(PriceLevel{Price: pl.Price})
}

func (c *changeAcc) list() []PriceLevel {
	out := make([]PriceLevel, 0, c.t.Len())
	c.t.Ascend(func(pl PriceLevel) bool {
		out = append(out, pl)
		return true
	})
	return out
}
