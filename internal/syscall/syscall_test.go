package syscall

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"golang.org/x/sync/semaphore"

	"github.com/gokernel/core/internal/blockcache"
	"github.com/gokernel/core/internal/clock"
	"github.com/gokernel/core/internal/disk"
	"github.com/gokernel/core/internal/inode"
	"github.com/gokernel/core/internal/memory"
	"github.com/gokernel/core/internal/proc"
	"github.com/gokernel/core/internal/sched"
	"github.com/gokernel/core/internal/vm"
)

type SyscallsTestSuite struct {
	suite.Suite
	ctx  context.Context
	sc   *Syscalls
	pm   *proc.Manager
	root *proc.Process
}

func TestSyscallsTestSuite(t *testing.T) {
	suite.Run(t, new(SyscallsTestSuite))
}

func (s *SyscallsTestSuite) SetupTest() {
	s.ctx = context.Background()

	dev := disk.NewMemoryDevice(1<<20, nil)
	bc, err := blockcache.NewCache(dev, 64)
	require.NoError(s.T(), err)
	ic := inode.NewCache(bc, 64)
	op := bc.BeginOp()
	require.NoError(s.T(), ic.InitRoot(s.ctx, op))
	require.NoError(s.T(), bc.EndOp(s.ctx, op))
	rootIno := ic.Get(inode.RootInodeNum)

	pages, err := memory.NewPagePool(64, semaphore.NewWeighted(64))
	require.NoError(s.T(), err)
	refs := vm.NewPageRefTable()

	scd := sched.New(1, clock.NewSimulatedClock(time.Unix(0, 0)))
	s.pm = proc.NewManager(scd, pages, refs, nil, 32)

	rp, err := s.pm.Boot(rootIno)
	require.NoError(s.T(), err)
	s.root = rp

	resolver := inode.NewResolver(ic)
	s.sc = New(bc, ic, resolver, s.pm)
}

func (s *SyscallsTestSuite) TestOpenCreateWriteReadRoundTrips() {
	fd, err := s.sc.Open(s.ctx, s.root, "/greeting", true)
	require.NoError(s.T(), err)
	s.GreaterOrEqual(fd, 0)

	n, err := s.sc.Write(s.ctx, s.root, fd, []byte("hello kernel"))
	require.NoError(s.T(), err)
	s.Equal(len("hello kernel"), n)

	require.NoError(s.T(), s.sc.Close(s.ctx, s.root, fd))

	fd2, err := s.sc.Open(s.ctx, s.root, "/greeting", false)
	require.NoError(s.T(), err)

	buf := make([]byte, 32)
	n, err = s.sc.Read(s.ctx, s.root, fd2, buf)
	require.NoError(s.T(), err)
	s.Equal("hello kernel", string(buf[:n]))
}

func (s *SyscallsTestSuite) TestOpenWithoutCreateOnMissingPathReturnsErrNoEnt() {
	_, err := s.sc.Open(s.ctx, s.root, "/nope", false)
	require.Error(s.T(), err)
	s.True(errors.Is(err, ErrNoEnt))
}

func (s *SyscallsTestSuite) TestOpenSecondTimeWithCreateStillSucceeds() {
	fd, err := s.sc.Open(s.ctx, s.root, "/a", true)
	require.NoError(s.T(), err)
	require.NoError(s.T(), s.sc.Close(s.ctx, s.root, fd))

	fd2, err := s.sc.Open(s.ctx, s.root, "/a", true)
	require.NoError(s.T(), err)
	s.NotEqual(-1, fd2)
}

func (s *SyscallsTestSuite) TestMknodThenOpenFindsDeviceInode() {
	require.NoError(s.T(), s.sc.Mknod(s.ctx, s.root, "/dev0"))

	fd, err := s.sc.Open(s.ctx, s.root, "/dev0", false)
	require.NoError(s.T(), err)
	s.GreaterOrEqual(fd, 0)
}

func (s *SyscallsTestSuite) TestReadOnBadFdReturnsErrBadFd() {
	_, err := s.sc.Read(s.ctx, s.root, 3, make([]byte, 4))
	require.Error(s.T(), err)
	s.True(errors.Is(err, ErrBadFd))
}

func (s *SyscallsTestSuite) TestCloseOnBadFdReturnsErrBadFd() {
	err := s.sc.Close(s.ctx, s.root, 5)
	require.Error(s.T(), err)
	s.True(errors.Is(err, ErrBadFd))
}

func (s *SyscallsTestSuite) TestSbrkGrowsHeap() {
	addr, err := s.sc.Sbrk(s.root, 4096)
	require.NoError(s.T(), err)
	s.NotZero(addr)
}

func (s *SyscallsTestSuite) TestForkSharesCwdAndOpenFds() {
	fd, err := s.sc.Open(s.ctx, s.root, "/shared", true)
	require.NoError(s.T(), err)

	child, err := s.sc.Fork(s.ctx, s.root, func(any) {}, nil)
	require.NoError(s.T(), err)

	s.NotNil(child.Fds[fd])
	s.Equal(s.root.Fds[fd].Ino.Num, child.Fds[fd].Ino.Num)
	s.Equal(s.root.Cwd.Num, child.Cwd.Num)
	s.NotEqual(s.root.Pid, child.Pid)
}

func (s *SyscallsTestSuite) TestExitWaitReapsChild() {
	release := make(chan struct{})
	child, err := s.sc.Fork(s.ctx, s.root, func(any) { <-release }, nil)
	require.NoError(s.T(), err)

	// Exit child explicitly before its entry returns, so StartProc's own
	// "exit if not already a zombie" cleanup goroutine is a no-op once
	// release is closed below.
	s.sc.Exit(child, 7)
	close(release)

	code, pid := s.sc.Wait(s.root)
	s.Equal(7, code)
	s.Equal(child.Pid, pid)
}

func (s *SyscallsTestSuite) TestKillUnknownPidErrors() {
	err := s.sc.Kill(s.root.Container, 999)
	require.Error(s.T(), err)
}
