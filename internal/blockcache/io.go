package blockcache

import (
	"context"
	"fmt"

	"github.com/gokernel/core/internal/disk"
)

const sectorsPerBlock = BlockSize / disk.SectorSize

// readBlock fills buf (which must be BlockSize bytes) with the contents
// of the sectorsPerBlock sectors starting at blockNo*sectorsPerBlock.
func readBlock(ctx context.Context, dev disk.BlockDevice, blockNo uint64, buf []byte) error {
	if len(buf) != BlockSize {
		return fmt.Errorf("blockcache: read buffer must be %d bytes, got %d", BlockSize, len(buf))
	}
	base := blockNo * sectorsPerBlock
	for i := uint64(0); i < sectorsPerBlock; i++ {
		off := i * disk.SectorSize
		if err := dev.ReadSector(ctx, base+i, buf[off:off+disk.SectorSize]); err != nil {
			return err
		}
	}
	return nil
}

// writeBlock writes buf (BlockSize bytes) to the sectors backing
// blockNo. Each sector write is durable once it returns, but the block
// as a whole is only crash-safe once the caller has gone through the
// write-ahead log's commit protocol.
func writeBlock(ctx context.Context, dev disk.BlockDevice, blockNo uint64, buf []byte) error {
	if len(buf) != BlockSize {
		return fmt.Errorf("blockcache: write buffer must be %d bytes, got %d", BlockSize, len(buf))
	}
	base := blockNo * sectorsPerBlock
	for i := uint64(0); i < sectorsPerBlock; i++ {
		off := i * disk.SectorSize
		if err := dev.WriteSector(ctx, base+i, buf[off:off+disk.SectorSize]); err != nil {
			return err
		}
	}
	return nil
}
