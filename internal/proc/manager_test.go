package proc

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"golang.org/x/sync/semaphore"

	"github.com/gokernel/core/internal/blockcache"
	"github.com/gokernel/core/internal/clock"
	"github.com/gokernel/core/internal/disk"
	"github.com/gokernel/core/internal/inode"
	"github.com/gokernel/core/internal/memory"
	"github.com/gokernel/core/internal/sched"
	"github.com/gokernel/core/internal/vm"
)

type ManagerTestSuite struct {
	suite.Suite
	ctx  context.Context
	m    *Manager
	root *Process
}

func TestManagerTestSuite(t *testing.T) {
	suite.Run(t, new(ManagerTestSuite))
}

func (s *ManagerTestSuite) SetupTest() {
	s.ctx = context.Background()

	dev := disk.NewMemoryDevice(1<<20, nil)
	bc, err := blockcache.NewCache(dev, 64)
	require.NoError(s.T(), err)
	ic := inode.NewCache(bc, 64)
	op := bc.BeginOp()
	require.NoError(s.T(), ic.InitRoot(s.ctx, op))
	require.NoError(s.T(), bc.EndOp(s.ctx, op))
	root := ic.Get(inode.RootInodeNum)

	pages, err := memory.NewPagePool(64, semaphore.NewWeighted(64))
	require.NoError(s.T(), err)
	refs := vm.NewPageRefTable()

	sc := sched.New(1, clock.NewSimulatedClock(time.Unix(0, 0)))
	s.m = NewManager(sc, pages, refs, nil, 32)

	rp, err := s.m.Boot(root)
	require.NoError(s.T(), err)
	s.root = rp
}

func (s *ManagerTestSuite) TestCreateProcAllocatesDistinctAddressSpaces() {
	a, err := s.m.CreateProc(s.root.Container)
	require.NoError(s.T(), err)
	b, err := s.m.CreateProc(s.root.Container)
	require.NoError(s.T(), err)

	assert.NotSame(s.T(), a.PageDir, b.PageDir)
}

// TestForkExitWait exercises spec.md §8 scenario S5: parent creates a
// child, child exits with code 7, parent waits and observes it; a
// second wait returns -1.
func (s *ManagerTestSuite) TestForkExitWait() {
	done := make(chan struct{})
	child, err := s.m.CreateProc(s.root.Container)
	require.NoError(s.T(), err)

	s.m.StartProc(child, func(arg any) {
		s.m.Exit(child, 7)
		close(done)
	}, nil)

	<-done
	code, pid := s.m.Wait(s.root)
	assert.Equal(s.T(), 7, code)
	assert.Equal(s.T(), child.Pid, pid)

	code, pid = s.m.Wait(s.root)
	assert.Equal(s.T(), -1, pid, "a second wait with no further children must return -1")
	_ = code
}

func (s *ManagerTestSuite) TestWaitReturnsMinusOneWithNoChildren() {
	_, pid := s.m.Wait(s.root)
	assert.Equal(s.T(), -1, pid)
}

// TestOrphanReparenting exercises spec.md §8 property 7: after a
// process with a still-live child exits, that child's parent becomes
// the container's root process.
func (s *ManagerTestSuite) TestOrphanReparenting() {
	parent, err := s.m.CreateProc(s.root.Container)
	require.NoError(s.T(), err)
	started := make(chan struct{})
	s.m.StartProc(parent, func(arg any) { <-started }, nil)

	child, err := s.m.CreateProc(s.root.Container)
	require.NoError(s.T(), err)
	child.Parent = parent
	parent.liveChildren[child] = struct{}{}

	s.m.Exit(parent, 0)
	close(started)

	assert.Same(s.T(), s.root, child.Parent)
	_, hasChild := s.root.liveChildren[child]
	assert.True(s.T(), hasChild)
}

func (s *ManagerTestSuite) TestKillUnknownPidFails() {
	err := s.m.Kill(s.root.Container, 9999)
	assert.Error(s.T(), err)
}

func (s *ManagerTestSuite) TestKillSetsFlagAndWakesSleeper() {
	block := make(chan struct{})
	child, err := s.m.CreateProc(s.root.Container)
	require.NoError(s.T(), err)
	s.m.StartProc(child, func(arg any) { <-block }, nil)

	s.m.Sched.Lock.Lock()
	s.m.Sched.Retire(child.Process, sched.Sleeping)
	s.m.Sched.Lock.Unlock()

	require.NoError(s.T(), s.m.Kill(child.Container, child.Pid))
	assert.True(s.T(), child.Killed())
	assert.Equal(s.T(), sched.Runnable, child.State)

	close(block)
}

func (s *ManagerTestSuite) TestCreateContainerStartsRootProcess() {
	ran := make(chan struct{})
	c, err := s.m.CreateContainer(s.root.Container, func(arg any) {
		close(ran)
	}, nil)
	require.NoError(s.T(), err)
	<-ran
	assert.NotNil(s.T(), c.Root)
	assert.Same(s.T(), c.Root, c.Root.Parent)
}
