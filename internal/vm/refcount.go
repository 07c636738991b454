package vm

import (
	"github.com/gokernel/core/internal/ksync"
	"github.com/gokernel/core/internal/memory"
)

// PageRefTable is the global map from physical page to reference count
// used to decide when a shared (COW) page can finally be freed
// (spec.md §4.4 "Page reference counts"). It is one coarse-grained
// table guarded by a single spinlock, matching spec.md §9's guidance
// that such process-wide singletons get one lock rather than
// per-entry ones.
type PageRefTable struct {
	mu   ksync.Spinlock
	refs map[*memory.Page]*ksync.RefCount
}

// NewPageRefTable creates an empty table.
func NewPageRefTable() *PageRefTable {
	return &PageRefTable{refs: make(map[*memory.Page]*ksync.RefCount)}
}

// Inc records a new reference to pg, creating its entry at count 1 if
// pg has none yet (installPage calls it for every fresh page, so that
// entry stands for the page's first owner).
func (t *PageRefTable) Inc(pg *memory.Page) {
	unlock := ksync.Guard(&t.mu)
	defer unlock()
	rc, ok := t.refs[pg]
	if !ok {
		rc = ksync.NewRefCount(1)
		t.refs[pg] = rc
		return
	}
	rc.Inc()
}

// Dec drops one reference to pg, reporting whether it reached zero (the
// caller must then return pg to its pool). Once zero the table entry is
// removed, balancing the map against PagePool.TotalPages the way
// spec.md §8 property 9 requires.
func (t *PageRefTable) Dec(pg *memory.Page) (zero bool) {
	unlock := ksync.Guard(&t.mu)
	defer unlock()
	rc, ok := t.refs[pg]
	if !ok {
		// Never shared: this mapping owns the page outright.
		return true
	}
	if rc.Dec() {
		delete(t.refs, pg)
		return true
	}
	return false
}

// Count reports pg's current reference count, for tests. A page with no
// table entry has an implicit count of 1 (its sole owner).
func (t *PageRefTable) Count(pg *memory.Page) int64 {
	unlock := ksync.Guard(&t.mu)
	defer unlock()
	if rc, ok := t.refs[pg]; ok {
		return rc.Load()
	}
	return 1
}

// Len reports how many pages currently have a refcount entry (every
// page mapped through installPage, shared or not), for invariant checks.
func (t *PageRefTable) Len() int {
	unlock := ksync.Guard(&t.mu)
	defer unlock()
	return len(t.refs)
}
