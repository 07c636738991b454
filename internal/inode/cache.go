package inode

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/gokernel/core/internal/blockcache"
)

// Cache is the in-memory inode table: a bounded set of Inode slots,
// each caching one on-disk entry and refcounted by lookup count,
// fronting the block cache that actually stores inode entries and
// their data blocks.
type Cache struct {
	mu    sync.Mutex
	bc    *blockcache.Cache
	table map[Num]*Inode

	inodeTableStart Num // first inode number stored on disk (0 is reserved/free)
	numInodes       uint32
}

// NewCache creates an inode cache fronting bc, with the on-disk inode
// table beginning at logical data block 0 and holding numInodes entries.
func NewCache(bc *blockcache.Cache, numInodes uint32) *Cache {
	return &Cache{
		bc:        bc,
		table:     make(map[Num]*Inode),
		numInodes: numInodes,
	}
}

// Get returns the cached in-memory Inode for num, incrementing its
// lookup count. The inode is not locked and its contents may not yet be
// loaded; call Lock before reading fields.
func (c *Cache) Get(num Num) *Inode {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ino, ok := c.table[num]; ok {
		ino.lc.inc()
		return ino
	}

	ino := newInode(num, func() {
		c.mu.Lock()
		delete(c.table, num)
		c.mu.Unlock()
	})
	c.table[num] = ino
	return ino
}

// Share duplicates a reference to an already-held inode, incrementing
// its lookup count (used when a caller hands the same inode to two
// independent owners, e.g. two open file descriptors).
func (c *Cache) Share(ino *Inode) *Inode {
	c.mu.Lock()
	ino.lc.inc()
	c.mu.Unlock()
	return ino
}

// Put releases one reference to ino, destroying its in-memory slot once
// the lookup count reaches zero. If the on-disk link count is also zero,
// the inode's blocks are freed as part of destruction.
func (c *Cache) Put(ctx context.Context, ino *Inode) error {
	c.mu.Lock()
	willDestroy := ino.lc.count == 1
	c.mu.Unlock()

	if willDestroy {
		if err := ino.Lock(ctx, c); err != nil {
			return err
		}
		if ino.valid && ino.entry.NumLink == 0 {
			if err := c.truncateAndFree(ctx, ino); err != nil {
				ino.Unlock()
				return err
			}
			ino.entry.Type = TypeFree
			ino.dirty = true
			if err := c.syncLocked(ctx, ino); err != nil {
				ino.Unlock()
				return err
			}
		}
		ino.Unlock()
	}

	c.mu.Lock()
	ino.lc.dec()
	c.mu.Unlock()
	return nil
}

// InitRoot allocates the filesystem root directory if it does not
// already exist (i.e. inode RootInodeNum is still free), giving it a
// link count of 1 to represent its conventional self-parentage so that
// Put's zero-link auto-free never reaps it. Safe to call on every boot;
// a no-op once the root exists.
func (c *Cache) InitRoot(ctx context.Context, op *blockcache.OpContext) error {
	entry, _, ok, err := c.readEntryRaw(ctx, RootInodeNum)
	if err != nil {
		return err
	}
	if ok && entry.Type != TypeFree {
		return nil
	}

	root, err := c.Alloc(ctx, op, TypeDir)
	if err != nil {
		return err
	}
	if root.Num != RootInodeNum {
		return fmt.Errorf("inode: first allocation returned %d, expected root inode %d", root.Num, RootInodeNum)
	}
	if err := root.Lock(ctx, c); err != nil {
		c.Put(ctx, root)
		return err
	}
	root.entry.NumLink = 1
	root.dirty = true
	err = c.Sync(ctx, op, root)
	root.Unlock()
	if putErr := c.Put(ctx, root); err == nil {
		err = putErr
	}
	return err
}

// Alloc finds a free on-disk inode of type t, marks it in-use, and
// returns a referenced in-memory Inode for it.
func (c *Cache) Alloc(ctx context.Context, op *blockcache.OpContext, t Type) (*Inode, error) {
	for n := uint32(1); n < c.numInodes; n++ {
		num := Num(n)
		entry, blockNo, ok, err := c.readEntryRaw(ctx, num)
		if err != nil {
			return nil, err
		}
		if !ok || entry.Type != TypeFree {
			continue
		}

		entry.Type = t
		entry.NumLink = 0
		entry.Size = 0
		entry.Addrs = [NumDirect + 1]uint32{}
		if err := c.writeEntryRaw(ctx, op, blockNo, num, entry); err != nil {
			return nil, err
		}

		ino := c.Get(num)
		if err := ino.Lock(ctx, c); err != nil {
			return nil, err
		}
		ino.entry = entry
		ino.valid = true
		ino.Unlock()
		return ino, nil
	}
	return nil, fmt.Errorf("inode: no free inodes")
}

// loadLocked reads num's on-disk entry into ino.entry. Caller must hold
// ino's lock.
func (c *Cache) loadLocked(ctx context.Context, ino *Inode) error {
	entry, _, ok, err := c.readEntryRaw(ctx, ino.Num)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("inode: %d out of range", ino.Num)
	}
	ino.entry = entry
	return nil
}

// Sync writes ino's in-memory entry back to its on-disk block if dirty,
// through op. Caller must hold ino's lock.
func (c *Cache) Sync(ctx context.Context, op *blockcache.OpContext, ino *Inode) error {
	if !ino.dirty {
		return nil
	}
	_, blockNo, ok, err := c.readEntryRaw(ctx, ino.Num)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("inode: %d out of range", ino.Num)
	}
	if err := c.writeEntryRaw(ctx, op, blockNo, ino.Num, ino.entry); err != nil {
		return err
	}
	ino.dirty = false
	return nil
}

// syncLocked is Sync with its own single-block operation, used from
// contexts (like Put's destruction path) that aren't already inside one.
func (c *Cache) syncLocked(ctx context.Context, ino *Inode) error {
	op := c.bc.BeginOp()
	if err := c.Sync(ctx, op, ino); err != nil {
		return err
	}
	return c.bc.EndOp(ctx, op)
}

func (c *Cache) inodeBlockAndOffset(num Num) (blockNo uint64, offset int) {
	idx := uint32(num)
	blockNo = uint64(idx / InodesPerBlock)
	offset = int(idx%InodesPerBlock) * onDiskEntrySize
	return
}

func (c *Cache) readEntryRaw(ctx context.Context, num Num) (OnDiskEntry, uint64, bool, error) {
	if uint32(num) == 0 || uint32(num) >= c.numInodes {
		return OnDiskEntry{}, 0, false, nil
	}
	blockNo, offset := c.inodeBlockAndOffset(num)
	b, err := c.bc.Acquire(ctx, blockNo)
	if err != nil {
		return OnDiskEntry{}, 0, false, err
	}
	defer c.bc.Release(b)

	entry := unmarshalEntry(b.Data[offset : offset+onDiskEntrySize])
	return entry, blockNo, true, nil
}

func (c *Cache) writeEntryRaw(ctx context.Context, op *blockcache.OpContext, blockNo uint64, num Num, entry OnDiskEntry) error {
	b, err := c.bc.Acquire(ctx, blockNo)
	if err != nil {
		return err
	}
	defer c.bc.Release(b)

	_, offset := c.inodeBlockAndOffset(num)
	marshalEntry(entry, b.Data[offset:offset+onDiskEntrySize])
	return op.Write(b)
}

func marshalEntry(e OnDiskEntry, buf []byte) {
	binary.LittleEndian.PutUint16(buf[0:2], uint16(e.Type))
	binary.LittleEndian.PutUint16(buf[2:4], e.NumLink)
	binary.LittleEndian.PutUint32(buf[4:8], e.Size)
	for i, a := range e.Addrs {
		off := 8 + i*4
		binary.LittleEndian.PutUint32(buf[off:off+4], a)
	}
}

func unmarshalEntry(buf []byte) OnDiskEntry {
	var e OnDiskEntry
	e.Type = Type(binary.LittleEndian.Uint16(buf[0:2]))
	e.NumLink = binary.LittleEndian.Uint16(buf[2:4])
	e.Size = binary.LittleEndian.Uint32(buf[4:8])
	for i := range e.Addrs {
		off := 8 + i*4
		e.Addrs[i] = binary.LittleEndian.Uint32(buf[off : off+4])
	}
	return e
}
