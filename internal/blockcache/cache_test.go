package blockcache

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/gokernel/core/internal/disk"
)

// A device sized for a handful of data blocks beyond the fixed log and
// bitmap regions reserved by NewCache.
func newTestDevice(extraDataBlocks uint64) disk.BlockDevice {
	total := (logReservedBlocks + 1 + extraDataBlocks) * sectorsPerBlock
	return disk.NewMemoryDevice(total, nil)
}

type CacheTestSuite struct {
	suite.Suite
	ctx context.Context
	dev disk.BlockDevice
	c   *Cache
}

func TestCacheTestSuite(t *testing.T) {
	suite.Run(t, new(CacheTestSuite))
}

func (s *CacheTestSuite) SetupTest() {
	s.ctx = context.Background()
	s.dev = newTestDevice(64)
	c, err := NewCache(s.dev, 8)
	require.NoError(s.T(), err)
	s.c = c
}

func (s *CacheTestSuite) TestAcquireReleaseRoundTrip() {
	op := s.c.BeginOp()
	b, err := s.c.Acquire(s.ctx, 0)
	require.NoError(s.T(), err)

	b.Data[0] = 0x7A
	require.NoError(s.T(), op.Write(b))
	s.c.Release(b)

	require.NoError(s.T(), s.c.EndOp(s.ctx, op))

	b2, err := s.c.Acquire(s.ctx, 0)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), byte(0x7A), b2.Data[0])
	s.c.Release(b2)

	require.NoError(s.T(), s.c.CheckInvariants())
}

func (s *CacheTestSuite) TestCommittedWriteSurvivesFreshCacheOverSameDevice() {
	op := s.c.BeginOp()
	b, err := s.c.Acquire(s.ctx, 3)
	require.NoError(s.T(), err)
	b.Data[10] = 0x99
	require.NoError(s.T(), op.Write(b))
	s.c.Release(b)
	require.NoError(s.T(), s.c.EndOp(s.ctx, op))

	c2, err := NewCache(s.dev, 8)
	require.NoError(s.T(), err)

	b2, err := c2.Acquire(s.ctx, 3)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), byte(0x99), b2.Data[10])
	c2.Release(b2)
}

// TestSyncWithNilOpWritesThroughWithoutLog is spec.md §8 scenario S1
// ("write-through without ctx"): Sync(ctx, nil, b) must make b durable
// immediately, with no write-ahead-log entry at all, so the write
// survives a fresh Cache over the same device even though there is
// nothing for recovery to replay.
func (s *CacheTestSuite) TestSyncWithNilOpWritesThroughWithoutLog() {
	b, err := s.c.Acquire(s.ctx, 5)
	require.NoError(s.T(), err)
	for i := range b.Data {
		b.Data[i] = 0x11
	}
	require.NoError(s.T(), s.c.Sync(s.ctx, nil, b))
	s.c.Release(b)

	hdr, err := s.c.log.readHeader(s.ctx)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), uint32(0), hdr.N, "write-through must not touch the log header")

	// Simulate a reboot: a fresh Cache over the same device, whose
	// NewCache runs recovery but has nothing logged to replay.
	c2, err := NewCache(s.dev, 8)
	require.NoError(s.T(), err)

	b2, err := c2.Acquire(s.ctx, 5)
	require.NoError(s.T(), err)
	for i := range b2.Data {
		assert.Equal(s.T(), byte(0x11), b2.Data[i])
	}
	c2.Release(b2)
}

func (s *CacheTestSuite) TestOpRejectsMoreThanOpMaxNumBlocks() {
	op := s.c.BeginOp()
	for i := uint64(0); i < OpMaxNumBlocks; i++ {
		b, err := s.c.Acquire(s.ctx, i)
		require.NoError(s.T(), err)
		require.NoError(s.T(), op.Write(b))
		s.c.Release(b)
	}

	b, err := s.c.Acquire(s.ctx, OpMaxNumBlocks)
	require.NoError(s.T(), err)
	defer s.c.Release(b)

	assert.Error(s.T(), op.Write(b))
}

func (s *CacheTestSuite) TestEvictionSkipsDirtyBlocks() {
	// Fill the cache past capacity with dirty, unreleased-from-op but
	// released-from-acquire blocks; none should be silently dropped
	// before commit.
	op := s.c.BeginOp()
	var acquired []*Block
	for i := uint64(0); i < 8; i++ {
		b, err := s.c.Acquire(s.ctx, i)
		require.NoError(s.T(), err)
		require.NoError(s.T(), op.Write(b))
		acquired = append(acquired, b)
	}
	for _, b := range acquired {
		s.c.Release(b)
	}

	// Touch one more block beyond capacity; it should evict a clean
	// block, not a dirty one.
	b, err := s.c.Acquire(s.ctx, 20)
	require.NoError(s.T(), err)
	s.c.Release(b)

	require.NoError(s.T(), s.c.EndOp(s.ctx, op))
	require.NoError(s.T(), s.c.CheckInvariants())
}

func (s *CacheTestSuite) TestAllocAndFreeRoundTrip() {
	op := s.c.BeginOp()
	logical, err := s.c.Alloc(s.ctx, op)
	require.NoError(s.T(), err)
	require.NoError(s.T(), s.c.EndOp(s.ctx, op))

	b, err := s.c.Acquire(s.ctx, logical)
	require.NoError(s.T(), err)
	for _, by := range b.Data {
		assert.Equal(s.T(), byte(0), by)
	}
	s.c.Release(b)

	op2 := s.c.BeginOp()
	require.NoError(s.T(), s.c.Free(s.ctx, op2, logical))
	require.NoError(s.T(), s.c.EndOp(s.ctx, op2))

	// The freed block must be reused before Alloc grows further.
	op3 := s.c.BeginOp()
	reused, err := s.c.Alloc(s.ctx, op3)
	require.NoError(s.T(), err)
	require.NoError(s.T(), s.c.EndOp(s.ctx, op3))
	assert.Equal(s.T(), logical, reused)
}

func (s *CacheTestSuite) TestAllocFailsWhenDeviceFull() {
	// One op per Alloc, so the op's block budget is never what stops the
	// loop: only running out of data blocks can.
	var count int
	for {
		op := s.c.BeginOp()
		_, err := s.c.Alloc(s.ctx, op)
		require.NoError(s.T(), s.c.EndOp(s.ctx, op))
		if err != nil {
			assert.Contains(s.T(), err.Error(), "device full")
			break
		}
		count++
		if count > 1000 {
			s.T().Fatal("Alloc never reported device full")
		}
	}
}

func TestRecoveryReplaysCommittedHeaderLeftByCrash(t *testing.T) {
	ctx := context.Background()
	dev := newTestDevice(8)
	c, err := NewCache(dev, 4)
	require.NoError(t, err)

	// Manually simulate a crash between commit steps 2 and 4: write the
	// log body and a non-zero header directly, bypassing EndOp so the
	// header is never cleared.
	physical := c.dataBlockNo(0)
	var h logHeader
	h.N = 1
	h.BlockNos[0] = physical

	var staged [BlockSize]byte
	staged[5] = 0x55
	require.NoError(t, writeBlock(ctx, dev, 1, staged[:]))
	require.NoError(t, writeBlock(ctx, dev, 0, h.marshal()))

	c2, err := NewCache(dev, 4)
	require.NoError(t, err)

	b, err := c2.Acquire(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, byte(0x55), b.Data[5])
	c2.Release(b)

	hdr, err := c2.log.readHeader(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), hdr.N, "recovery must clear the header once replayed")
}
