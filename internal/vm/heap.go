package vm

import (
	"context"
	"fmt"

	"github.com/gokernel/core/internal/memory"
)

// Sbrk grows (delta > 0) or shrinks (delta < 0) the address space's
// unique HEAP section by delta bytes, under that section's own lock
// (spec.md §4.4 "sbrk grows/shrinks the (unique) HEAP section under
// that section's sleeping lock"). Returns the heap's address before the
// adjustment, matching the conventional sbrk(2) return value.
func (pd *PageDirectory) Sbrk(delta int) (uintptr, error) {
	pd.mu.Lock()
	sect := pd.heapSection()
	pd.mu.Unlock()
	if sect == nil {
		return 0, fmt.Errorf("vm: no heap section")
	}

	sect.mu.Lock()
	defer sect.mu.Unlock()

	oldEnd := sect.End
	newEnd := oldEnd + uintptr(delta)
	if delta < 0 && newEnd < sect.Start {
		return 0, fmt.Errorf("vm: sbrk(%d) would shrink heap below its start", delta)
	}

	if delta < 0 {
		pd.mu.Lock()
		for addr := pageAlign(newEnd); addr < oldEnd; addr += memory.PageSize {
			pd.unmapLocked(addr)
		}
		sect.End = newEnd
		pd.mu.Unlock()
		return oldEnd, nil
	}

	sect.End = newEnd
	return oldEnd, nil
}


// unmapLocked is Unmap without re-acquiring pd.mu, for callers (Sbrk)
// that already hold it.
func (pd *PageDirectory) unmapLocked(addr uintptr) {
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

// CopyOut copies src into the address space starting at virtual address
// dst, allocating destination pages lazily (demand-filling any
// unmapped page it touches) exactly as spec.md §4.4 describes — used to
// deliver syscall arguments/results and to load ELF segments.
func (pd *PageDirectory) CopyOut(ctx context.Context, dst uintptr, src []byte) error {
	for len(src) > 0 {
		pageOff := dst % memory.PageSize
		n := memory.PageSize - pageOff
		if uintptr(n) > uintptr(len(src)) {
			n = uintptr(len(src))
		}

		pd.mu.Lock()
		key := pageAlign(dst)
		e, ok := pd.table[key]
		if !ok {
			pg, err := pd.pages.Get(ctx)
			if err != nil {
				pd.mu.Unlock()
				return fmt.Errorf("vm: CopyOut allocating page at %#x: %w", dst, err)
			}
			pd.installPage(dst, pg, false)
			e = pd.table[key]
		}
		copy(e.Page.Data[pageOff:pageOff+n], src[:n])
		pd.mu.Unlock()

		dst += n
		src = src[n:]
	}
	return nil
}
