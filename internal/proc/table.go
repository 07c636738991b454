package proc

import (
	"fmt"

	"github.com/gokernel/core/internal/ksync"
)

// Table is the global process pool: a fixed number of slots, each
// either free or holding one Process, guarded by a single spinlock
// (spec.md §4.6 "pops a free slot from the global procs pool").
type Table struct {
	mu    ksync.Spinlock
	slots []*Process
	free  []int // indices into slots currently unused
}

// NewTable creates a table with capacity slots.
func NewTable(capacity int) *Table {
	t := &Table{slots: make([]*Process, capacity)}
	for i := capacity - 1; i >= 0; i-- {
		t.free = append(t.free, i)
	}
	return t
}

// alloc pops a free slot and installs p there, recording p's slot.
// Returns an error if the table is exhausted (spec.md §7 "resource
// exhaustion ... panic in this kernel" — surfaced as an error here so
// the caller decides whether that panic happens).
func (t *Table) alloc(p *Process) error {
	unlock := ksync.Guard(&t.mu)
	defer unlock()

	if len(t.free) == 0 {
		return fmt.Errorf("proc: process table exhausted (capacity %d)", len(t.slots))
	}
	slot := t.free[len(t.free)-1]
	t.free = t.free[:len(t.free)-1]
	p.slot = slot
	t.slots[slot] = p
	return nil
}

// release returns p's slot to the free set.
func (t *Table) release(p *Process) {
	unlock := ksync.Guard(&t.mu)
	defer unlock()
	t.slots[p.slot] = nil
	t.free = append(t.free, p.slot)
}
