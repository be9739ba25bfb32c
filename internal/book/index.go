package book

// OrderEntry is the last-known state of a live order. Removal events often
// carry no price or size, so the book keeps these around to know what to
// subtract.
type OrderEntry struct {
	Index int64
	Price float64
	Size  float64
	Time  int64
	Side  Side
}

// orderIndex maps order index to its last-known entry. All access is
// serialized by the owning book's lock.
type orderIndex struct {
	entries map[int64]OrderEntry
}

func newOrderIndex() *orderIndex {
	return &orderIndex{entries: make(map[int64]OrderEntry)}
}

func (ix *orderIndex) lookup(index int64) (OrderEntry, bool) {
	e, ok := ix.entries[index]
	return e, ok
}

func (ix *orderIndex) upsert(e OrderEntry) {
	ix.entries[e.Index] = e
}

func (ix *orderIndex) remove(index int64) (OrderEntry, bool) {
	e, ok := ix.entries[index]
	if ok {
		delete(ix.entries, index)
	}
	return e, ok
}

func (ix *orderIndex) clear() {
	ix.entries = make(map[int64]OrderEntry)
}

func (ix *orderIndex) len() int { return len(ix.entries) }
