package blockcache

import (
	"context"
	"encoding/binary"
	"fmt"
	"sort"
	"sync"
)

// writeAheadLog implements spec.md §4.2's five-step commit protocol
// over a fixed on-disk region: block 0 holds the header (a count plus
// the physical block numbers it covers), blocks 1..LogMaxSize hold the
// staged copies of those blocks' new contents.
//
// Concurrent grouped operations are serialized on commitMu: spec.md's
// Non-goals explicitly exclude SMP-scalable lock-free structures, so one
// commit at a time is the intended design, not a shortcut.
type writeAheadLog struct {
	dev       dev
	commitMu  sync.Mutex
}

// dev is the minimal slice of disk.BlockDevice the log needs; kept as
// its own name to avoid importing the disk package twice in this file.
type dev = interface {
	ReadSector(ctx context.Context, sectorNo uint64, buf []byte) error
	WriteSector(ctx context.Context, sectorNo uint64, buf []byte) error
	NumSectors() uint64
}

type logHeader struct {
	N        uint32
	BlockNos [LogMaxSize]uint64
}

func (h *logHeader) marshal() []byte {
	buf := make([]byte, BlockSize)
	binary.LittleEndian.PutUint32(buf[0:4], h.N)
	for i := 0; i < LogMaxSize; i++ {
		binary.LittleEndian.PutUint64(buf[4+i*8:12+i*8], h.BlockNos[i])
	}
	return buf
}

func (h *logHeader) unmarshal(buf []byte) {
	h.N = binary.LittleEndian.Uint32(buf[0:4])
	for i := 0; i < LogMaxSize; i++ {
		h.BlockNos[i] = binary.LittleEndian.Uint64(buf[4+i*8 : 12+i*8])
	}
}

func newWriteAheadLog(d dev) (*writeAheadLog, error) {
	return &writeAheadLog{dev: d}, nil
}

func (w *writeAheadLog) readHeader(ctx context.Context) (logHeader, error) {
	buf := make([]byte, BlockSize)
	if err := readBlock(ctx, w.dev, 0, buf); err != nil {
		return logHeader{}, err
	}
	var h logHeader
	h.unmarshal(buf)
	return h, nil
}

func (w *writeAheadLog) writeHeader(ctx context.Context, h logHeader) error {
	return writeBlock(ctx, w.dev, 0, h.marshal())
}

// recover replays any committed-but-not-installed transaction found at
// boot. Header.N > 0 means step 2 (header write, the commit point) had
// completed before the crash, so the logged data must be installed to
// its home locations; N == 0 means either no transaction was in flight
// or installation already finished.
func (w *writeAheadLog) recover(c *Cache) error {
	ctx := context.Background()
	h, err := w.readHeader(ctx)
	if err != nil {
		return err
	}
	if h.N == 0 {
		return nil
	}
	if err := w.installFromLog(ctx, h); err != nil {
		return err
	}
	h.N = 0
	return w.writeHeader(ctx, h)
}

// installFromLog copies each logged block from its log-body slot to its
// home location (commit protocol step 3). h.BlockNos holds physical
// block numbers directly, since Block.BlockNo always is one.
func (w *writeAheadLog) installFromLog(ctx context.Context, h logHeader) error {
	buf := make([]byte, BlockSize)
	for i := 0; i < int(h.N); i++ {
		if err := readBlock(ctx, w.dev, uint64(1+i), buf); err != nil {
			return err
		}
		if err := writeBlock(ctx, w.dev, h.BlockNos[i], buf); err != nil {
			return err
		}
	}
	return nil
}

// commit runs the five-step protocol for the blocks named in op:
//  1. write each dirty block's new contents into the log body
//  2. write the header with N set — the point a crash makes this
//     transaction durable and replayable
//  3. install each block from the log to its home location
//  4. clear the header (N = 0) — the point a crash no longer needs replay
//  5. mark blocks clean, letting the caller's later Release make them
//     evictable again
func (c *Cache) commit(ctx context.Context, op *OpContext) error {
	if len(op.order) == 0 {
		return nil
	}
	if len(op.order) > LogMaxSize {
		return fmt.Errorf("blockcache: operation touches %d blocks, exceeds LogMaxSize=%d", len(op.order), LogMaxSize)
	}

	w := c.log
	w.commitMu.Lock()
	defer w.commitMu.Unlock()

	// spec.md §4.2 commit step 1: stage blocks "in ascending block-number
	// order", independent of the order callers happened to Write them in.
	ordered := make([]uint64, len(op.order))
	copy(ordered, op.order)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i] < ordered[j] })

	var h logHeader
	h.N = uint32(len(ordered))
	for i, blockNo := range ordered {
		h.BlockNos[i] = blockNo
		b := op.dirty[blockNo]
		if err := writeBlock(ctx, w.dev, uint64(1+i), b.Data[:]); err != nil {
			return fmt.Errorf("blockcache: staging block %d to log: %w", blockNo, err)
		}
	}

	if err := w.writeHeader(ctx, h); err != nil {
		return fmt.Errorf("blockcache: committing log header: %w", err)
	}

	if err := w.installFromLog(ctx, h); err != nil {
		return fmt.Errorf("blockcache: installing committed blocks: %w", err)
	}

	h.N = 0
	if err := w.writeHeader(ctx, h); err != nil {
		return fmt.Errorf("blockcache: clearing log header: %w", err)
	}

	for _, blockNo := range op.order {
		op.dirty[blockNo].dirty = false
	}
	c.metrics.RecordOpCommitted()
	return nil
}

// BeginOp starts a new grouped atomic operation against this cache,
// blocking (ignoring ctx cancellation, a non-alertable wait per spec.md
// §5 "Cancellation") until the log's admission semaphore has a slot
// free — spec.md §4.2's "begin_op waits on a counting semaphore that
// tracks how many more concurrent ops the log can admit."
func (c *Cache) BeginOp() *OpContext {
	_ = c.admission.Acquire(context.Background(), 1)
	c.metrics.RecordOpAdmitted()
	return newOpContext(c)
}

// EndOp commits every block dirtied within op, then returns its slot to
// the admission semaphore, waking anyone parked in BeginOp (spec.md
// §4.2 commit step 5, "wake waiters on the admission semaphore").
// Callers must still Release each block they individually Acquired.
func (c *Cache) EndOp(ctx context.Context, op *OpContext) error {
	err := c.commit(ctx, op)
	c.admission.Release(1)
	return err
}

// Sync implements spec.md §4.2's `sync(OpContext|null, Block*)`: with a
// non-nil op, b is recorded as dirty within op exactly like op.Write(b)
// (durable only once EndOp commits op through the write-ahead log). With
// op == nil, b is written straight to its home block number, bypassing
// the log entirely — grounded on original_source/src/fs/cache.c's
// cache_sync, whose `if (ctx == NULL) { device_write(block); return; }`
// branch this mirrors: a write-through for blocks that were never part
// of any transaction, durable on return but with no log entry to replay
// if a crash lands mid-write to a multi-sector block.
func (c *Cache) Sync(ctx context.Context, op *OpContext, b *Block) error {
	if op == nil {
		if err := writeBlock(ctx, c.dev, b.BlockNo, b.Data[:]); err != nil {
			return fmt.Errorf("blockcache: write-through block %d: %w", b.BlockNo, err)
		}
		b.dirty = false
		return nil
	}
	return op.Write(b)
}
