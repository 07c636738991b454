// Package vm implements per-process address spaces: page directories,
// sections, copy-on-write fork, page-fault handling and a simple swap
// area (spec.md C5). The teacher (gcsfuse) has no paging layer of its
// own, so this package is new territory built in its idiom: one
// sleeping lock per owned resource (here, per PageDirectory, mirroring
// FileInode.Mu), and a single coarse spinlock over the one genuinely
// shared table (the global page refcount map), mirroring fs.go's
// single fs.mu guarding fs.inodes.
package vm

import (
	"fmt"
	"sync"

	"github.com/gokernel/core/internal/memory"
	"github.com/gokernel/core/internal/metrics"
)

// SectionFlag is a bitmask of a section's attributes.
type SectionFlag uint32

const (
	FlagHeap SectionFlag = 1 << iota
	FlagSwap             // currently swapped out
	FlagRO                // read-only section; HandleFault does not consult it (COW is tracked per PTE)
	FlagText
	FlagData
)

// Section is a contiguous virtual-address range with uniform flags,
// optionally backed by a file (for TEXT/DATA sections loaded from an
// ELF image; spec.md §4.4).
type Section struct {
	mu sync.Mutex // guards the HEAP section's grow/shrink (spec.md "sbrk"); Flags are read and written under PageDirectory.mu

	Start, End uintptr
	Flags      SectionFlag

	BackingFile interface {
		ReadAt(p []byte, off int64) (int, error)
	}
	FileOffset int64
}

func (s *Section) contains(addr uintptr) bool { return addr >= s.Start && addr < s.End }

// pte is one page-table entry. When Valid, Page points at a resident
// physical page. When !Valid and swapped, SwapSlot names where the page
// lives on the swap device (spec.md §4.4 "stores the slot index in the
// PTE's upper bits" — modeled directly as a field rather than bit
// packing, since Go has no use for saving the extra word here).
type pte struct {
	Valid    bool
	RO       bool // copy-on-write: write faults must copy before writing
	Page     *memory.Page
	Swapped  bool
	SwapSlot uint64
}

// PageDirectory is one process's address space: an ordered list of
// sections and the page table mapping their resident pages.
type PageDirectory struct {
	mu       sync.Mutex // the address space's own sleeping lock (spec.md: "a lock")
	sections []*Section
	table    map[uintptr]*pte // keyed by page-aligned virtual address

	pages  *memory.PagePool
	refs   *PageRefTable
	swap   *SwapArea

	metrics *metrics.Kernel
}

// NewPageDirectory creates an empty address space drawing pages from
// pool, sharing refs for COW accounting and swap for pageout/pagein.
func NewPageDirectory(pool *memory.PagePool, refs *PageRefTable, swap *SwapArea) *PageDirectory {
	return &PageDirectory{
		table: make(map[uintptr]*pte),
		pages: pool,
		refs:  refs,
		swap:  swap,
	}
}

// SetMetrics attaches m so HandleFault/swapIn/swapOut report page-fault
// and swap traffic into it. Optional: an address space with no metrics
// attached (the default, and every unit test's PageDirectory) simply
// skips recording.
func (pd *PageDirectory) SetMetrics(m *metrics.Kernel) { pd.metrics = m }

// AddSection inserts a new section into the address space. Sections
// must not overlap; callers (ELF loader, sbrk) are responsible for
// choosing non-overlapping ranges.
func (pd *PageDirectory) AddSection(s *Section) error {
	pd.mu.Lock()
	defer pd.mu.Unlock()
	for _, existing := range pd.sections {
		if s.Start < existing.End && existing.Start < s.End {
			return fmt.Errorf("vm: section [%#x,%#x) overlaps existing [%#x,%#x)",
				s.Start, s.End, existing.Start, existing.End)
		}
	}
	pd.sections = append(pd.sections, s)
	return nil
}

// findSection returns the section enclosing addr, or nil.
func (pd *PageDirectory) findSection(addr uintptr) *Section {
	for _, s := range pd.sections {
		if s.contains(addr) {
			return s
		}
	}
	return nil
}

// heapSection returns the address space's unique HEAP section, or nil.
// spec.md §4.4 guarantees at most one.
func (pd *PageDirectory) heapSection() *Section {
	for _, s := range pd.sections {
		if s.Flags&FlagHeap != 0 {
			return s
		}
	}
	return nil
}

// pageAlign rounds addr down to the start of its containing page.
func pageAlign(addr uintptr) uintptr {
	return addr &^ (memory.PageSize - 1)
}

// installPage maps a fresh, referenced page at the page-aligned address
// containing addr.
func (pd *PageDirectory) installPage(addr uintptr, pg *memory.Page, ro bool) {
	pd.refs.Inc(pg)
	pd.table[pageAlign(addr)] = &pte{Valid: true, Page: pg, RO: ro}
}

// Unmap releases addr's page-table entry (if any), dereferencing its
// physical page and freeing it to the pool once unreferenced. Used by
// address-space teardown on process exit.
func (pd *PageDirectory) Unmap(addr uintptr) {
	pd.mu.Lock()
	defer pd.mu.Unlock()
	key := pageAlign(addr)
	e, ok := pd.table[key]
	if !ok {
		return
	}
	delete(pd.table, key)
	if e.Valid && e.Page != nil {
		if pd.refs.Dec(e.Page) {
			pd.pages.Put(e.Page)
		}
	}
}

// Destroy unmaps every page in the address space, for use on process
// exit (spec.md §4.6 "frees its page directory").
func (pd *PageDirectory) Destroy() {
	pd.mu.Lock()
	keys := make([]uintptr, 0, len(pd.table))
	for k := range pd.table {
		keys = append(keys, k)
	}
	pd.mu.Unlock()
	for _, k := range keys {
		pd.Unmap(k)
	}
}
