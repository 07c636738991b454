package proc

import (
	"github.com/gokernel/core/internal/inode"
	"github.com/gokernel/core/internal/ksync"
	"github.com/gokernel/core/internal/memory"
	"github.com/gokernel/core/internal/metrics"
	"github.com/gokernel/core/internal/sched"
	"github.com/gokernel/core/internal/vm"
)

// Manager owns the global process table and the single process-tree
// lock guarding every parent/children/childExit mutation (spec.md §5
// "The process-tree (parent/children) is guarded by a single
// spinlock"). It is the entry point for every C7 operation.
type Manager struct {
	treeLock ksync.Spinlock

	Sched *sched.Scheduler
	table *Table

	pages *memory.PagePool
	refs  *vm.PageRefTable
	swap  *vm.SwapArea

	metrics *metrics.Kernel

	Root *Process
}

// SetMetrics attaches m so StartProc/Exit report process lifecycle
// counters into it. Optional: a manager with no metrics attached (the
// default, and every unit test's Manager) simply skips recording.
func (m *Manager) SetMetrics(k *metrics.Kernel) { m.metrics = k }

// NewManager wires a process manager to an already-constructed
// scheduler and the memory/swap collaborators each new address space
// needs.
func NewManager(s *sched.Scheduler, pages *memory.PagePool, refs *vm.PageRefTable, swap *vm.SwapArea, tableCapacity int) *Manager {
	return &Manager{
		Sched: s,
		table: NewTable(tableCapacity),
		pages: pages,
		refs:  refs,
		swap:  swap,
	}
}

// Boot creates the root process, entering root's own container, and
// records it as the manager's reaper-of-last-resort. Must be called
// once before any CreateProc.
func (m *Manager) Boot(rootInode *inode.Inode) (*Process, error) {
	c := newContainer(m.Sched.Root)
	p, err := m.CreateProc(c)
	if err != nil {
		return nil, err
	}
	p.Cwd = rootInode
	c.Root = p
	m.Root = p
	p.Parent = p // the root process is its own parent; exit() never targets it
	return p, nil
}
