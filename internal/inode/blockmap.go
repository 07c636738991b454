package inode

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/gokernel/core/internal/blockcache"
)

// blockMap resolves the nth block (0-based) of ino's data to a logical
// block number in the block cache, allocating it (and, if needed, the
// single-indirect block) through op when alloc is true.
func (c *Cache) blockMap(ctx context.Context, op *blockcache.OpContext, ino *Inode, n uint32, alloc bool) (uint64, error) {
	if n < NumDirect {
		addr := ino.entry.Addrs[n]
		if addr == 0 {
			if !alloc {
				return 0, fmt.Errorf("inode: block %d not allocated", n)
			}
			logical, err := c.bc.Alloc(ctx, op)
			if err != nil {
				return 0, err
			}
			ino.entry.Addrs[n] = uint32(logical)
			ino.dirty = true
			return logical, nil
		}
		return uint64(addr), nil
	}

	n -= NumDirect
	if n >= NumIndirect {
		return 0, fmt.Errorf("inode: block offset %d exceeds MaxFileBlocks", n+NumDirect)
	}

	indirectAddr := ino.entry.Addrs[NumDirect]
	if indirectAddr == 0 {
		if !alloc {
			return 0, fmt.Errorf("inode: indirect block not allocated")
		}
		logical, err := c.bc.Alloc(ctx, op)
		if err != nil {
			return 0, err
		}
		ino.entry.Addrs[NumDirect] = uint32(logical)
		ino.dirty = true
		indirectAddr = uint32(logical)
	}

	ib, err := c.bc.Acquire(ctx, uint64(indirectAddr))
	if err != nil {
		return 0, err
	}
	defer c.bc.Release(ib)

	off := int(n) * 4
	addr := binary.LittleEndian.Uint32(ib.Data[off : off+4])
	if addr == 0 {
		if !alloc {
			return 0, fmt.Errorf("inode: block %d not allocated", n+NumDirect)
		}
		logical, err := c.bc.Alloc(ctx, op)
		if err != nil {
			return 0, err
		}
		binary.LittleEndian.PutUint32(ib.Data[off:off+4], uint32(logical))
		if err := op.Write(ib); err != nil {
			return 0, err
		}
		return logical, nil
	}
	return uint64(addr), nil
}

// Read copies up to len(buf) bytes of ino's data starting at off into
// buf, returning the number of bytes actually read (less than len(buf)
// at end of file). Caller must hold ino's lock.
func (c *Cache) Read(ctx context.Context, ino *Inode, off uint32, buf []byte) (int, error) {
	if off >= ino.entry.Size {
		return 0, nil
	}
	end := off + uint32(len(buf))
	if end > ino.entry.Size {
		end = ino.entry.Size
	}

	var total int
	for off < end {
		blockIdx := off / blockcache.BlockSize
		blockOff := off % blockcache.BlockSize
		n := end - off
		if n > blockcache.BlockSize-blockOff {
			n = blockcache.BlockSize - blockOff
		}

		logical, err := c.blockMap(ctx, nil, ino, blockIdx, false)
		if err != nil {
			return total, err
		}
		b, err := c.bc.Acquire(ctx, logical)
		if err != nil {
			return total, err
		}
		copy(buf[total:total+int(n)], b.Data[blockOff:blockOff+n])
		c.bc.Release(b)

		total += int(n)
		off += n
	}
	return total, nil
}

// Write copies buf into ino's data starting at off, growing the file
// (allocating blocks through op as needed) if the write extends past
// the current size. Caller must hold ino's lock.
func (c *Cache) Write(ctx context.Context, op *blockcache.OpContext, ino *Inode, off uint32, buf []byte) (int, error) {
	end := off + uint32(len(buf))
	if end > MaxFileBytes {
		return 0, fmt.Errorf("inode: write would exceed MaxFileBytes")
	}

	var total int
	for uint32(total) < uint32(len(buf)) {
		cur := off + uint32(total)
		blockIdx := cur / blockcache.BlockSize
		blockOff := cur % blockcache.BlockSize
		n := uint32(len(buf)) - uint32(total)
		if n > blockcache.BlockSize-blockOff {
			n = blockcache.BlockSize - blockOff
		}

		logical, err := c.blockMap(ctx, op, ino, blockIdx, true)
		if err != nil {
			return total, err
		}
		b, err := c.bc.Acquire(ctx, logical)
		if err != nil {
			return total, err
		}
		copy(b.Data[blockOff:blockOff+n], buf[total:total+int(n)])
		if err := op.Write(b); err != nil {
			c.bc.Release(b)
			return total, err
		}
		c.bc.Release(b)

		total += int(n)
	}

	if end > ino.entry.Size {
		ino.entry.Size = end
		ino.dirty = true
	}
	return total, nil
}

// truncateAndFree frees every data block (direct and indirect) owned by
// ino and resets its size to zero, through a fresh op scoped to this
// call (it runs from Put's destruction path, never nested under a
// caller-held op).
func (c *Cache) truncateAndFree(ctx context.Context, ino *Inode) error {
	op := c.bc.BeginOp()

	for i := 0; i < NumDirect; i++ {
		if ino.entry.Addrs[i] != 0 {
			if err := c.bc.Free(ctx, op, uint64(ino.entry.Addrs[i])); err != nil {
				return err
			}
			ino.entry.Addrs[i] = 0
		}
	}

	if indirectAddr := ino.entry.Addrs[NumDirect]; indirectAddr != 0 {
		ib, err := c.bc.Acquire(ctx, uint64(indirectAddr))
		if err != nil {
			return err
		}
		for i := 0; i < NumIndirect; i++ {
			off := i * 4
			addr := binary.LittleEndian.Uint32(ib.Data[off : off+4])
			if addr != 0 {
				if err := c.bc.Free(ctx, op, uint64(addr)); err != nil {
					c.bc.Release(ib)
					return err
				}
			}
		}
		c.bc.Release(ib)
		if err := c.bc.Free(ctx, op, uint64(indirectAddr)); err != nil {
			return err
		}
		ino.entry.Addrs[NumDirect] = 0
	}

	ino.entry.Size = 0
	ino.dirty = true
	return c.bc.EndOp(ctx, op)
}
