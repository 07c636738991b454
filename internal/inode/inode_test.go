package inode

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/gokernel/core/internal/blockcache"
	"github.com/gokernel/core/internal/disk"
)

type InodeTestSuite struct {
	suite.Suite
	ctx context.Context
	bc  *blockcache.Cache
	c   *Cache
}

func TestInodeTestSuite(t *testing.T) {
	suite.Run(t, new(InodeTestSuite))
}

func (s *InodeTestSuite) SetupTest() {
	s.ctx = context.Background()
	extraDataBlocks := uint64(256)
	total := (31 /* logReservedBlocks */ + 1 + extraDataBlocks) * (blockcache.BlockSize / disk.SectorSize)
	dev := disk.NewMemoryDevice(total, nil)
	bc, err := blockcache.NewCache(dev, 64)
	require.NoError(s.T(), err)
	s.bc = bc
	s.c = NewCache(bc, 64)

	op := bc.BeginOp()
	require.NoError(s.T(), s.c.InitRoot(s.ctx, op))
	require.NoError(s.T(), bc.EndOp(s.ctx, op))
}

func (s *InodeTestSuite) TestAllocGetLockUnlock() {
	op := s.bc.BeginOp()
	ino, err := s.c.Alloc(s.ctx, op, TypeFile)
	require.NoError(s.T(), err)
	require.NoError(s.T(), s.bc.EndOp(s.ctx, op))

	require.NoError(s.T(), ino.Lock(s.ctx, s.c))
	assert.Equal(s.T(), TypeFile, ino.Type())
	assert.Equal(s.T(), uint32(0), ino.Size())
	ino.Unlock()

	require.NoError(s.T(), s.c.Put(s.ctx, ino))
}

func (s *InodeTestSuite) TestWriteThenReadRoundTrip() {
	op := s.bc.BeginOp()
	ino, err := s.c.Alloc(s.ctx, op, TypeFile)
	require.NoError(s.T(), err)
	require.NoError(s.T(), ino.Lock(s.ctx, s.c))

	data := []byte("hello kernel")
	n, err := s.c.Write(s.ctx, op, ino, 0, data)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), len(data), n)
	require.NoError(s.T(), s.c.Sync(s.ctx, op, ino))
	ino.Unlock()
	require.NoError(s.T(), s.bc.EndOp(s.ctx, op))

	require.NoError(s.T(), ino.Lock(s.ctx, s.c))
	assert.Equal(s.T(), uint32(len(data)), ino.Size())
	buf := make([]byte, len(data))
	n, err = s.c.Read(s.ctx, ino, 0, buf)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), data, buf[:n])
	ino.Unlock()

	require.NoError(s.T(), s.c.Put(s.ctx, ino))
}

func (s *InodeTestSuite) TestWriteAcrossMultipleBlocks() {
	op := s.bc.BeginOp()
	ino, err := s.c.Alloc(s.ctx, op, TypeFile)
	require.NoError(s.T(), err)
	require.NoError(s.T(), ino.Lock(s.ctx, s.c))

	data := make([]byte, blockcache.BlockSize*3+17)
	for i := range data {
		data[i] = byte(i)
	}
	_, err = s.c.Write(s.ctx, op, ino, 0, data)
	require.NoError(s.T(), err)
	require.NoError(s.T(), s.c.Sync(s.ctx, op, ino))
	ino.Unlock()
	require.NoError(s.T(), s.bc.EndOp(s.ctx, op))

	require.NoError(s.T(), ino.Lock(s.ctx, s.c))
	buf := make([]byte, len(data))
	n, err := s.c.Read(s.ctx, ino, 0, buf)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), data, buf[:n])
	ino.Unlock()

	require.NoError(s.T(), s.c.Put(s.ctx, ino))
}

func (s *InodeTestSuite) TestDirInsertLookupRemove() {
	op := s.bc.BeginOp()
	file, err := s.c.Alloc(s.ctx, op, TypeFile)
	require.NoError(s.T(), err)

	root := s.c.Get(RootInodeNum)
	require.NoError(s.T(), root.Lock(s.ctx, s.c))
	require.NoError(s.T(), s.c.Insert(s.ctx, op, root, "greeting.txt", file.Num))
	root.Unlock()
	require.NoError(s.T(), s.bc.EndOp(s.ctx, op))

	root2 := s.c.Get(RootInodeNum)
	require.NoError(s.T(), root2.Lock(s.ctx, s.c))
	found, err := s.c.Lookup(s.ctx, root2, "greeting.txt")
	require.NoError(s.T(), err)
	assert.Equal(s.T(), file.Num, found)
	root2.Unlock()

	op2 := s.bc.BeginOp()
	require.NoError(s.T(), root2.Lock(s.ctx, s.c))
	require.NoError(s.T(), s.c.Remove(s.ctx, op2, root2, "greeting.txt"))
	root2.Unlock()
	require.NoError(s.T(), s.bc.EndOp(s.ctx, op2))

	require.NoError(s.T(), root2.Lock(s.ctx, s.c))
	_, err = s.c.Lookup(s.ctx, root2, "greeting.txt")
	assert.Error(s.T(), err)
	root2.Unlock()

	require.NoError(s.T(), s.c.Put(s.ctx, root))
	require.NoError(s.T(), s.c.Put(s.ctx, root2))
	require.NoError(s.T(), s.c.Put(s.ctx, file))
}

func (s *InodeTestSuite) TestNameiResolvesNestedPath() {
	resolver := NewResolver(s.c)

	opA := s.bc.BeginOp()
	sub, err := s.c.Alloc(s.ctx, opA, TypeDir)
	require.NoError(s.T(), err)
	root := s.c.Get(RootInodeNum)
	require.NoError(s.T(), root.Lock(s.ctx, s.c))
	require.NoError(s.T(), s.c.Insert(s.ctx, opA, root, "sub", sub.Num))
	root.Unlock()
	require.NoError(s.T(), s.bc.EndOp(s.ctx, opA))

	opB := s.bc.BeginOp()
	leaf, err := s.c.Alloc(s.ctx, opB, TypeFile)
	require.NoError(s.T(), err)
	require.NoError(s.T(), sub.Lock(s.ctx, s.c))
	require.NoError(s.T(), s.c.Insert(s.ctx, opB, sub, "leaf.txt", leaf.Num))
	sub.Unlock()
	require.NoError(s.T(), s.bc.EndOp(s.ctx, opB))

	resolved, err := resolver.Namei(s.ctx, "/sub/leaf.txt")
	require.NoError(s.T(), err)
	assert.Equal(s.T(), leaf.Num, resolved.Num)

	require.NoError(s.T(), s.c.Put(s.ctx, resolved))
	require.NoError(s.T(), s.c.Put(s.ctx, root))
	require.NoError(s.T(), s.c.Put(s.ctx, sub))
	require.NoError(s.T(), s.c.Put(s.ctx, leaf))
}

func (s *InodeTestSuite) TestNameiAtResolvesRelativeToCwd() {
	resolver := NewResolver(s.c)

	opA := s.bc.BeginOp()
	sub, err := s.c.Alloc(s.ctx, opA, TypeDir)
	require.NoError(s.T(), err)
	root := s.c.Get(RootInodeNum)
	require.NoError(s.T(), root.Lock(s.ctx, s.c))
	require.NoError(s.T(), s.c.Insert(s.ctx, opA, root, "home", sub.Num))
	root.Unlock()
	require.NoError(s.T(), s.bc.EndOp(s.ctx, opA))

	opB := s.bc.BeginOp()
	leaf, err := s.c.Alloc(s.ctx, opB, TypeFile)
	require.NoError(s.T(), err)
	require.NoError(s.T(), sub.Lock(s.ctx, s.c))
	require.NoError(s.T(), s.c.Insert(s.ctx, opB, sub, "notes.txt", leaf.Num))
	sub.Unlock()
	require.NoError(s.T(), s.bc.EndOp(s.ctx, opB))

	// Resolving "notes.txt" against cwd=root fails (no such entry at
	// root), but against cwd=sub it finds the same inode an absolute
	// "/home/notes.txt" lookup would.
	_, err = resolver.NameiAt(s.ctx, RootInodeNum, "notes.txt")
	assert.Error(s.T(), err)

	relative, err := resolver.NameiAt(s.ctx, sub.Num, "notes.txt")
	require.NoError(s.T(), err)
	absolute, err := resolver.Namei(s.ctx, "/home/notes.txt")
	require.NoError(s.T(), err)
	assert.Equal(s.T(), absolute.Num, relative.Num)
	assert.Equal(s.T(), leaf.Num, relative.Num)

	require.NoError(s.T(), s.c.Put(s.ctx, relative))
	require.NoError(s.T(), s.c.Put(s.ctx, absolute))
	require.NoError(s.T(), s.c.Put(s.ctx, root))
	require.NoError(s.T(), s.c.Put(s.ctx, sub))
	require.NoError(s.T(), s.c.Put(s.ctx, leaf))
}

func (s *InodeTestSuite) TestLookupCountDestroysOnZero() {
	op := s.bc.BeginOp()
	ino, err := s.c.Alloc(s.ctx, op, TypeFile)
	require.NoError(s.T(), err)
	require.NoError(s.T(), s.bc.EndOp(s.ctx, op))

	num := ino.Num
	require.NoError(s.T(), s.c.Put(s.ctx, ino))

	s.c.mu.Lock()
	_, stillCached := s.c.table[num]
	s.c.mu.Unlock()
	assert.False(s.T(), stillCached)
}
