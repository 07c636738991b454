package vm

import (
	"context"
	"fmt"

	"github.com/gokernel/core/internal/disk"
	"github.com/gokernel/core/internal/ksync"
	"github.com/gokernel/core/internal/memory"
)

// sectorsPerPage is how many disk sectors back one physical page
// (spec.md §4.4: "one slot = one page = PAGE_SIZE / BLOCK_SIZE
// consecutive blocks" — sized here directly in disk sectors since
// internal/vm has no dependency on internal/blockcache's block size).
const sectorsPerPage = memory.PageSize / disk.SectorSize

// SwapArea manages a fixed disk range reserved for paged-out user
// memory (spec.md §4.4, §6 "Swap" on-disk region). A bitmap tracks
// which page-sized slots are in use.
type SwapArea struct {
	mu        ksync.Spinlock
	dev       disk.BlockDevice
	startSec  uint64
	numSlots  uint64
	used      []bool
}

// NewSwapArea reserves numSlots page-sized slots starting at
// startSector on dev.
func NewSwapArea(dev disk.BlockDevice, startSector uint64, numSlots uint64) (*SwapArea, error) {
	need := startSector + numSlots*sectorsPerPage
	if need > dev.NumSectors() {
		return nil, fmt.Errorf("vm: swap area needs %d sectors, device has %d", need, dev.NumSectors())
	}
	return &SwapArea{dev: dev, startSec: startSector, numSlots: numSlots, used: make([]bool, numSlots)}, nil
}

// allocSlot finds and marks the first free slot.
func (sw *SwapArea) allocSlot() (uint64, error) {
	unlock := ksync.Guard(&sw.mu)
	defer unlock()
	for i, u := range sw.used {
		if !u {
			sw.used[i] = true
			return uint64(i), nil
		}
	}
	return 0, fmt.Errorf("vm: swap area exhausted (no free slot among %d)", sw.numSlots)
}

func (sw *SwapArea) freeSlot(slot uint64) {
	unlock := ksync.Guard(&sw.mu)
	defer unlock()
	sw.used[slot] = false
}

func (sw *SwapArea) sector(slot uint64) uint64 {
	return sw.startSec + slot*sectorsPerPage
}

// writeOut copies pg's contents into a freshly allocated swap slot and
// returns the slot index.
func (sw *SwapArea) writeOut(ctx context.Context, pg *memory.Page) (uint64, error) {
	slot, err := sw.allocSlot()
	if err != nil {
		return 0, err
	}
	base := sw.sector(slot)
	for i := uint64(0); i < sectorsPerPage; i++ {
		off := i * disk.SectorSize
		if err := sw.dev.WriteSector(ctx, base+i, pg.Data[off:off+disk.SectorSize]); err != nil {
			sw.freeSlot(slot)
			return 0, err
		}
	}
	return slot, nil
}

// readIn fills pg from the given swap slot and frees the slot.
func (sw *SwapArea) readIn(ctx context.Context, slot uint64, pg *memory.Page) error {
	base := sw.sector(slot)
	for i := uint64(0); i < sectorsPerPage; i++ {
		off := i * disk.SectorSize
		if err := sw.dev.ReadSector(ctx, base+i, pg.Data[off:off+disk.SectorSize]); err != nil {
			return err
		}
	}
	sw.freeSlot(slot)
	return nil
}

// SwapOut writes every resident page of sect to the swap device,
// clears its PTEs' Valid bit, stashes the slot index, and dereferences
// the in-memory page (spec.md §4.4 "swapout(section)"). Caller must
// hold pd.mu.
func (pd *PageDirectory) swapOut(ctx context.Context, sect *Section) error {
	for addr := pageAlign(sect.Start); addr < sect.End; addr += memory.PageSize {
		e, ok := pd.table[addr]
		if !ok || !e.Valid {
			continue
		}
		slot, err := pd.swap.writeOut(ctx, e.Page)
		if err != nil {
			return err
		}
		if pd.refs.Dec(e.Page) {
			pd.pages.Put(e.Page)
		}
		pd.table[addr] = &pte{Valid: false, Swapped: true, SwapSlot: slot}
		pd.metrics.RecordSwapOut()
	}
	sect.Flags |= FlagSwap
	return nil
}

// SwapOut is the exported, lock-acquiring entry point (e.g. for a
// memory-pressure daemon).
func (pd *PageDirectory) SwapOut(ctx context.Context, sect *Section) error {
	pd.mu.Lock()
	defer pd.mu.Unlock()
	return pd.swapOut(ctx, sect)
}

// swapIn reads back every swapped-out page of sect (spec.md §4.4
// "swapin" — "allocates a page, reads the bitmap slot, installs the PTE
// with VALID"). Caller must hold pd.mu.
func (pd *PageDirectory) swapIn(ctx context.Context, sect *Section) error {
	for addr := pageAlign(sect.Start); addr < sect.End; addr += memory.PageSize {
		e, ok := pd.table[addr]
		if !ok || !e.Swapped {
			continue
		}
		pg, err := pd.pages.Get(ctx)
		if err != nil {
			return err
		}
		if err := pd.swap.readIn(ctx, e.SwapSlot, pg); err != nil {
			pd.pages.Put(pg)
			return err
		}
		pd.installPage(addr, pg, false)
		pd.metrics.RecordSwapIn()
	}
	sect.Flags &^= FlagSwap
	return nil
}
