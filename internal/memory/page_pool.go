// Package memory implements the kernel's physical page allocator and
// the size-classed slab caches layered on top of it (spec.md C2).
//
// It is grounded on the teacher's internal/block.BlockPool: a
// channel-backed free list gated by a golang.org/x/sync/semaphore.Weighted
// that caps how many blocks (here, pages) may exist at once, reusing
// freed buffers before growing the pool.
package memory

import (
	"context"
	"fmt"

	"golang.org/x/sync/semaphore"

	"github.com/gokernel/core/internal/ksync"
)

// PageSize is the size in bytes of one physical page. Swap slots and
// COW mappings are always sized in whole pages.
const PageSize = 4096

// Page is one physical page's backing store.
type Page struct {
	id   uint64
	Data [PageSize]byte
}

// ID is a stable identifier used as the key into the global page
// refcount table in internal/vm; it does not change across Get/Put
// cycles of the page's slot.
func (p *Page) ID() uint64 { return p.id }

// PagePool is a bounded free-list allocator for physical pages.
type PagePool struct {
	maxPages  int64
	totalMu   ksync.Spinlock
	total     int64
	freeCh    chan *Page
	globalSem *semaphore.Weighted
	nextID    uint64
}

// NewPagePool creates a pool that will never hand out more than
// maxPages pages at once, additionally bounded by globalSem (shared
// across multiple pools/subsystems competing for the same physical
// memory budget, e.g. alongside the slab caches).
func NewPagePool(maxPages int64, globalSem *semaphore.Weighted) (*PagePool, error) {
	if maxPages <= 0 {
		return nil, fmt.Errorf("invalid configuration provided for PagePool, maxPages: %d", maxPages)
	}
	return &PagePool{
		maxPages:  maxPages,
		freeCh:    make(chan *Page, maxPages),
		globalSem: globalSem,
	}, nil
}

// Get returns a page, reusing a freed one if available, else growing
// the pool up to maxPages. Blocks if the pool and the global budget are
// both exhausted, mirroring spec.md's "resource exhaustion is a panic"
// rule for the cases the caller chooses not to wait on (see TryGet).
func (p *PagePool) Get(ctx context.Context) (*Page, error) {
	select {
	case pg := <-p.freeCh:
		clear(pg.Data[:])
		return pg, nil
	default:
	}

	if err := p.globalSem.Acquire(ctx, 1); err != nil {
		return nil, err
	}

	unlock := ksync.Guard(&p.totalMu)
	if p.total >= p.maxPages {
		unlock()
		p.globalSem.Release(1)
		// Fall back to waiting for a freed page.
		pg, ok := <-p.freeCh
		if !ok {
			return nil, fmt.Errorf("memory: page pool closed")
		}
		clear(pg.Data[:])
		return pg, nil
	}
	p.total++
	p.nextID++
	id := p.nextID
	unlock()

	return &Page{id: id}, nil
}

// TryGet is the non-blocking variant used by the page-fault handler,
// which must fail fast (killing the process) rather than sleep
// indefinitely inside a fault.
func (p *PagePool) TryGet() (*Page, bool) {
	select {
	case pg := <-p.freeCh:
		clear(pg.Data[:])
		return pg, true
	default:
	}

	if !p.globalSem.TryAcquire(1) {
		return nil, false
	}

	unlock := ksync.Guard(&p.totalMu)
	defer unlock()
	if p.total >= p.maxPages {
		p.globalSem.Release(1)
		return nil, false
	}
	p.total++
	p.nextID++
	return &Page{id: p.nextID}, true
}

// Put returns a page to the free list for reuse.
func (p *PagePool) Put(pg *Page) {
	select {
	case p.freeCh <- pg:
	default:
		// Pool already has maxPages worth of free entries queued; drop it
		// and shrink, releasing its slot in the global budget.
		unlock := ksync.Guard(&p.totalMu)
		p.total--
		unlock()
		p.globalSem.Release(1)
	}
}

// TotalPages reports how many pages are currently allocated from this
// pool (free or in use), for tests and metrics.
func (p *PagePool) TotalPages() int64 {
	unlock := ksync.Guard(&p.totalMu)
	defer unlock()
	return p.total
}
