package vm

import (
	"context"
	"fmt"
)

// ErrNoSection is returned (and should cause the caller to kill the
// faulting process) when a fault address falls outside every section
// of the address space (spec.md §4.4 "Missing section -> kill the
// process").
var ErrNoSection = fmt.Errorf("vm: address not mapped by any section")

// HandleFault services a page fault at virtual address addr, per
// spec.md §4.4:
//   - no enclosing section: ErrNoSection (caller kills the process)
//   - section is SWAP-flagged: swap in every page of the section
//   - PTE absent: demand-allocate a fresh page
//   - PTE marked RO (copy-on-write): copy-on-write fault
func (pd *PageDirectory) HandleFault(ctx context.Context, addr uintptr) error {
	pd.mu.Lock()
	defer pd.mu.Unlock()
	pd.metrics.RecordPageFault()

	sect := pd.findSection(addr)
	if sect == nil {
		return ErrNoSection
	}

	if sect.Flags&FlagSwap != 0 {
		return pd.swapIn(ctx, sect)
	}

	key := pageAlign(addr)
	e, ok := pd.table[key]
	if !ok {
		pg, err := pd.pages.Get(ctx)
		if err != nil {
			return fmt.Errorf("vm: demand-fill at %#x: %w", addr, err)
		}
		pd.installPage(addr, pg, false)
		return nil
	}

	if e.RO {
		return pd.copyOnWrite(key, e)
	}

	// PTE present, not RO: nothing to service (stale/duplicate fault).
	return nil
}

// copyOnWrite duplicates e's page into a fresh, privately-owned page
// and installs it writable, dereferencing the shared original (spec.md
// §4.4 "allocate a new page, memcpy from the old, install writable,
// dereference the old"). Caller must hold pd.mu.
func (pd *PageDirectory) copyOnWrite(key uintptr, e *pte) error {
	old := e.Page
	pg, err := pd.pages.Get(context.Background())
	if err != nil {
		return fmt.Errorf("vm: COW at %#x: %w", key, err)
	}
	pg.Data = old.Data

	pd.table[key] = &pte{Valid: true, Page: pg}
	if pd.refs.Dec(old) {
		pd.pages.Put(old)
	}
	return nil
}

// Fork duplicates src into a new address space for a child process:
// every section is copied by reference, and every resident page
// becomes a shared, read-only (COW) mapping in both parent and child
// (spec.md S6 "COW fork"). Fork marks the parent's own PTEs RO in
// place on src.
func Fork(src *PageDirectory) *PageDirectory {
	src.mu.Lock()
	defer src.mu.Unlock()

	child := NewPageDirectory(src.pages, src.refs, src.swap)
	child.metrics = src.metrics
	for _, s := range src.sections {
		cp := *s
		child.sections = append(child.sections, &cp)
	}

	for addr, e := range src.table {
		if !e.Valid {
			// Swapped-out pages need no sharing: the child will fault
			// and swap in its own copy from the same backing section
			// metadata, matching spec.md's COW scope (resident pages
			// only).
			cpy := *e
			child.table[addr] = &cpy
			continue
		}
		e.RO = true
		src.refs.Inc(e.Page)
		child.table[addr] = &pte{Valid: true, Page: e.Page, RO: true}
	}
	return child
}
