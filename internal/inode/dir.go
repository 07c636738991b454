package inode

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/gokernel/core/internal/blockcache"
)

// dirEntrySize is 4 bytes of inode number plus FileNameMaxLength bytes
// of name.
const dirEntrySize = 4 + FileNameMaxLength

// dirEntriesPerBlock is how many directory entries fit in one block.
const dirEntriesPerBlock = blockcache.BlockSize / dirEntrySize

// DirEntry is one slot in a directory's data: a name mapped to an inode
// number. An entry with InodeNum == 0 is free.
type DirEntry struct {
	InodeNum Num
	Name     string
}

func marshalDirEntry(e DirEntry, buf []byte) {
	binary.LittleEndian.PutUint32(buf[0:4], uint32(e.InodeNum))
	n := copy(buf[4:4+FileNameMaxLength], e.Name)
	for i := 4 + n; i < 4+FileNameMaxLength; i++ {
		buf[i] = 0
	}
}

func unmarshalDirEntry(buf []byte) DirEntry {
	num := Num(binary.LittleEndian.Uint32(buf[0:4]))
	end := 4
	for end < 4+FileNameMaxLength && buf[end] != 0 {
		end++
	}
	return DirEntry{InodeNum: num, Name: string(buf[4:end])}
}

// Lookup searches directory ino for name, returning the entry's inode
// number. Caller must hold ino's lock and ino must be a directory.
func (c *Cache) Lookup(ctx context.Context, ino *Inode, name string) (Num, error) {
	if ino.entry.Type != TypeDir {
		return 0, fmt.Errorf("inode: Lookup on non-directory inode %d", ino.Num)
	}
	if len(name) > FileNameMaxLength {
		return 0, fmt.Errorf("inode: name %q exceeds FileNameMaxLength", name)
	}

	found := Num(0)
	err := c.forEachDirBlock(ctx, ino, func(b *blockcache.Block) bool {
		for i := 0; i < dirEntriesPerBlock; i++ {
			off := i * dirEntrySize
			e := unmarshalDirEntry(b.Data[off : off+dirEntrySize])
			if e.InodeNum != 0 && e.Name == name {
				found = e.InodeNum
				return false
			}
		}
		return true
	})
	if err != nil {
		return 0, err
	}
	if found == 0 {
		return 0, fmt.Errorf("inode: %q not found", name)
	}
	return found, nil
}

// LinkDelta loads childNum, adjusts its on-disk link count by delta, and
// syncs it through op. Used by Insert/Remove to keep NumLink equal to
// the number of directory entries pointing at an inode.
func (c *Cache) LinkDelta(ctx context.Context, op *blockcache.OpContext, childNum Num, delta int) error {
	child := c.Get(childNum)
	if err := child.Lock(ctx, c); err != nil {
		c.Put(ctx, child)
		return err
	}
	newCount := int(child.entry.NumLink) + delta
	if newCount < 0 {
		child.Unlock()
		c.Put(ctx, child)
		return fmt.Errorf("inode: link count underflow on inode %d", childNum)
	}
	child.entry.NumLink = uint16(newCount)
	child.dirty = true
	err := c.Sync(ctx, op, child)
	child.Unlock()
	if putErr := c.Put(ctx, child); err == nil {
		err = putErr
	}
	return err
}

// Insert adds name -> childNum to directory ino, through op, and
// increments childNum's link count. Returns an error if name already
// exists.
func (c *Cache) Insert(ctx context.Context, op *blockcache.OpContext, ino *Inode, name string, childNum Num) error {
	if ino.entry.Type != TypeDir {
		return fmt.Errorf("inode: Insert on non-directory inode %d", ino.Num)
	}
	if len(name) > FileNameMaxLength {
		return fmt.Errorf("inode: name %q exceeds FileNameMaxLength", name)
	}
	if _, err := c.Lookup(ctx, ino, name); err == nil {
		return fmt.Errorf("inode: %q already exists", name)
	}
	if err := c.LinkDelta(ctx, op, childNum, 1); err != nil {
		return err
	}

	numBlocks := ino.entry.Size / blockcache.BlockSize
	for blockIdx := uint32(0); blockIdx < numBlocks; blockIdx++ {
		logical, err := c.blockMap(ctx, op, ino, blockIdx, true)
		if err != nil {
			return err
		}
		b, err := c.bc.Acquire(ctx, logical)
		if err != nil {
			return err
		}
		slot, ok := findFreeDirSlot(b)
		if ok {
			marshalDirEntry(DirEntry{InodeNum: childNum, Name: name}, b.Data[slot*dirEntrySize:(slot+1)*dirEntrySize])
			err := op.Write(b)
			c.bc.Release(b)
			return err
		}
		c.bc.Release(b)
	}

	// No free slot in existing blocks: grow the directory by one block.
	logical, err := c.blockMap(ctx, op, ino, numBlocks, true)
	if err != nil {
		return err
	}
	b, err := c.bc.Acquire(ctx, logical)
	if err != nil {
		return err
	}
	marshalDirEntry(DirEntry{InodeNum: childNum, Name: name}, b.Data[0:dirEntrySize])
	if err := op.Write(b); err != nil {
		c.bc.Release(b)
		return err
	}
	c.bc.Release(b)

	ino.entry.Size = (numBlocks + 1) * blockcache.BlockSize
	ino.dirty = true
	return nil
}

// Remove clears name's entry from directory ino, through op, and
// decrements the removed child's link count.
func (c *Cache) Remove(ctx context.Context, op *blockcache.OpContext, ino *Inode, name string) error {
	if ino.entry.Type != TypeDir {
		return fmt.Errorf("inode: Remove on non-directory inode %d", ino.Num)
	}

	var removedChild Num
	err := c.forEachDirBlockRW(ctx, op, ino, func(b *blockcache.Block) (bool, error) {
		for i := 0; i < dirEntriesPerBlock; i++ {
			off := i * dirEntrySize
			e := unmarshalDirEntry(b.Data[off : off+dirEntrySize])
			if e.InodeNum != 0 && e.Name == name {
				var zero [dirEntrySize]byte
				copy(b.Data[off:off+dirEntrySize], zero[:])
				if err := op.Write(b); err != nil {
					return false, err
				}
				removedChild = e.InodeNum
				return false, nil
			}
		}
		return true, nil
	})
	if err != nil {
		return err
	}
	if removedChild == 0 {
		return fmt.Errorf("inode: %q not found", name)
	}
	return c.LinkDelta(ctx, op, removedChild, -1)
}

// IsEmpty reports whether directory ino has any entries besides "." and
// "..".
func (c *Cache) IsEmpty(ctx context.Context, ino *Inode) (bool, error) {
	empty := true
	err := c.forEachDirBlock(ctx, ino, func(b *blockcache.Block) bool {
		for i := 0; i < dirEntriesPerBlock; i++ {
			off := i * dirEntrySize
			e := unmarshalDirEntry(b.Data[off : off+dirEntrySize])
			if e.InodeNum != 0 && e.Name != "." && e.Name != ".." {
				empty = false
				return false
			}
		}
		return true
	})
	return empty, err
}

func findFreeDirSlot(b *blockcache.Block) (int, bool) {
	for i := 0; i < dirEntriesPerBlock; i++ {
		off := i * dirEntrySize
		if binary.LittleEndian.Uint32(b.Data[off:off+4]) == 0 {
			return i, true
		}
	}
	return 0, false
}

func (c *Cache) forEachDirBlock(ctx context.Context, ino *Inode, fn func(b *blockcache.Block) bool) error {
	numBlocks := ino.entry.Size / blockcache.BlockSize
	for blockIdx := uint32(0); blockIdx < numBlocks; blockIdx++ {
		logical, err := c.blockMap(ctx, nil, ino, blockIdx, false)
		if err != nil {
			return err
		}
		b, err := c.bc.Acquire(ctx, logical)
		if err != nil {
			return err
		}
		cont := fn(b)
		c.bc.Release(b)
		if !cont {
			return nil
		}
	}
	return nil
}

func (c *Cache) forEachDirBlockRW(ctx context.Context, op *blockcache.OpContext, ino *Inode, fn func(b *blockcache.Block) (bool, error)) error {
	numBlocks := ino.entry.Size / blockcache.BlockSize
	for blockIdx := uint32(0); blockIdx < numBlocks; blockIdx++ {
		logical, err := c.blockMap(ctx, op, ino, blockIdx, false)
		if err != nil {
			return err
		}
		b, err := c.bc.Acquire(ctx, logical)
		if err != nil {
			return err
		}
		cont, err := fn(b)
		c.bc.Release(b)
		if err != nil {
			return err
		}
		if !cont {
			return nil
		}
	}
	return nil
}
