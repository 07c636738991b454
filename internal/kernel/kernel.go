// Package kernel wires the per-subsystem singletons (C1-C7) into one
// bootable instance, the way the teacher's fs.NewServer composes a
// bucket, cache, and inode table from a single cfg.Config.
package kernel

import (
	"context"
	"fmt"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/gokernel/core/cfg"
	"github.com/gokernel/core/internal/blockcache"
	"github.com/gokernel/core/internal/clock"
	"github.com/gokernel/core/internal/disk"
	"github.com/gokernel/core/internal/inode"
	"github.com/gokernel/core/internal/logger"
	"github.com/gokernel/core/internal/memory"
	"github.com/gokernel/core/internal/metrics"
	"github.com/gokernel/core/internal/proc"
	"github.com/gokernel/core/internal/sched"
	"github.com/gokernel/core/internal/vm"
)

// Kernel bundles every C1-C7 singleton plus the external collaborators
// (disk, clock, metrics) a running kerneld needs, mirroring the
// teacher's pattern of a single struct holding every long-lived
// dependency a request handler closes over.
type Kernel struct {
	Config  *cfg.Config
	Clock   clock.Clock
	Disk    disk.BlockDevice
	Cache   *blockcache.Cache
	Inodes  *inode.Cache
	Pages   *memory.PagePool
	Refs    *vm.PageRefTable
	Swap    *vm.SwapArea
	Sched   *sched.Scheduler
	Proc    *proc.Manager
	Metrics *metrics.Kernel

	// Root is the process standing in for PID 1, created by Boot.
	Root *proc.Process
}

// swapStartSector reserves the tail of the device for the swap area,
// the same "fixed region past the data blocks" layout spec.md's
// on-disk diagram shows for Swap.
func swapStartSector(c *cfg.Config) uint64 {
	sectorsPerPage := uint64(memory.PageSize / disk.SectorSize)
	need := c.Memory.SwapSlots * sectorsPerPage
	if need > c.Disk.NumSectors {
		return 0
	}
	return c.Disk.NumSectors - need
}

// New validates c, constructs every subsystem in dependency order, and
// boots the root process. It does not start the scheduler's idle
// loops; call Run for that.
func New(ctx context.Context, c *cfg.Config) (*Kernel, error) {
	if err := cfg.Validate(c); err != nil {
		return nil, err
	}

	logger.Init(logger.InitOptions{
		Format:     c.Logging.Format,
		Severity:   c.Logging.Severity,
		LogFile:    c.Logging.FilePath,
		MaxSizeMB:  c.Logging.MaxSizeMB,
		MaxBackups: c.Logging.MaxBackups,
	})

	m, err := metrics.New()
	if err != nil {
		return nil, fmt.Errorf("kernel: metrics: %w", err)
	}

	var limiter *rate.Limiter
	if c.Disk.RateLimitSectorsPerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(c.Disk.RateLimitSectorsPerSec), int(c.Disk.RateLimitSectorsPerSec))
	}

	var dev disk.BlockDevice
	if c.Disk.FilePath != "" {
		dev, err = disk.OpenFileDevice(c.Disk.FilePath, c.Disk.NumSectors, limiter)
		if err != nil {
			return nil, fmt.Errorf("kernel: disk: %w", err)
		}
	} else {
		dev = disk.NewMemoryDevice(c.Disk.NumSectors, limiter)
	}

	bc, err := blockcache.NewCache(dev, c.BlockCache.CapacityBlocks)
	if err != nil {
		return nil, fmt.Errorf("kernel: block cache: %w", err)
	}
	bc.SetMaxConcurrentOps(c.BlockCache.MaxConcurrentOps)
	bc.SetMetrics(m)

	ic := inode.NewCache(bc, uint32(c.BlockCache.CapacityBlocks))

	op := bc.BeginOp()
	if err := ic.InitRoot(ctx, op); err != nil {
		return nil, fmt.Errorf("kernel: init root inode: %w", err)
	}
	if err := bc.EndOp(ctx, op); err != nil {
		return nil, fmt.Errorf("kernel: committing root inode: %w", err)
	}
	rootInode := ic.Get(inode.RootInodeNum)

	pages, err := memory.NewPagePool(c.Memory.MaxPages, semaphore.NewWeighted(c.Memory.MaxPages))
	if err != nil {
		return nil, fmt.Errorf("kernel: page pool: %w", err)
	}
	refs := vm.NewPageRefTable()

	var swap *vm.SwapArea
	if c.Memory.SwapSlots > 0 {
		swap, err = vm.NewSwapArea(dev, swapStartSector(c), c.Memory.SwapSlots)
		if err != nil {
			return nil, fmt.Errorf("kernel: swap area: %w", err)
		}
	}

	clk := clock.Clock(clock.RealClock{})
	sc := sched.New(c.Scheduler.NumCPUs, clk)
	sc.SetMetrics(m)

	pm := proc.NewManager(sc, pages, refs, swap, c.Process.TableCapacity)
	pm.SetMetrics(m)
	root, err := pm.Boot(rootInode)
	if err != nil {
		return nil, fmt.Errorf("kernel: booting root process: %w", err)
	}

	return &Kernel{
		Config:  c,
		Clock:   clk,
		Disk:    dev,
		Cache:   bc,
		Inodes:  ic,
		Pages:   pages,
		Refs:    refs,
		Swap:    swap,
		Sched:   sc,
		Proc:    pm,
		Metrics: m,
		Root:    root,
	}, nil
}

// Run starts the per-CPU idle loops and blocks until ctx is canceled or
// one of them returns an error, the same shape as the teacher's
// fs.Server.Serve(ctx).
func (k *Kernel) Run(ctx context.Context) error {
	return k.Sched.RunIdleLoops(ctx)
}

// CheckInvariants re-validates the block cache and scheduler's
// structural invariants, exposed for `kerneld fsck` and test harnesses.
func (k *Kernel) CheckInvariants() error {
	if err := k.Cache.CheckInvariants(); err != nil {
		return fmt.Errorf("kernel: block cache: %w", err)
	}
	if err := k.Sched.CheckInvariants(); err != nil {
		return fmt.Errorf("kernel: scheduler: %w", err)
	}
	return nil
}

// Close releases any host resources (open file-backed device) held by
// the kernel.
func (k *Kernel) Close() error {
	if c, ok := k.Disk.(*disk.FileDevice); ok {
		return c.Close()
	}
	return nil
}
