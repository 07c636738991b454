package blockcache

import "fmt"

// OpContext groups a bounded set of block writes into one atomic,
// crash-safe operation. Callers obtain one via Cache.BeginOp, write
// through blocks acquired from the same Cache, and finish with
// Cache.EndOp, which commits every dirtied block through the
// write-ahead log as a single unit.
type OpContext struct {
	cache     *Cache
	remaining int // budget left before OpMaxNumBlocks is exhausted
	order     []uint64
	dirty     map[uint64]*Block
}

func newOpContext(c *Cache) *OpContext {
	return &OpContext{
		cache:     c,
		remaining: OpMaxNumBlocks,
		dirty:     make(map[uint64]*Block),
	}
}

// Write marks b as modified within this operation. The block must have
// been acquired (and thus be locked by the caller) from the same Cache
// this OpContext was created from. Returns an error if the operation's
// block budget (OpMaxNumBlocks) is exhausted and b is not already
// tracked.
func (op *OpContext) Write(b *Block) error {
	if _, ok := op.dirty[b.BlockNo]; ok {
		return nil
	}
	if op.remaining <= 0 {
		return fmt.Errorf("blockcache: operation exceeds OpMaxNumBlocks=%d", OpMaxNumBlocks)
	}
	op.remaining--
	b.dirty = true
	op.dirty[b.BlockNo] = b
	op.order = append(op.order, b.BlockNo)
	return nil
}

// DirtyBlockNos reports, in the order they were first written, the
// physical block numbers touched by this operation.
func (op *OpContext) DirtyBlockNos() []uint64 {
	out := make([]uint64, len(op.order))
	copy(out, op.order)
	return out
}
