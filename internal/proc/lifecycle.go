package proc

import (
	"fmt"

	"github.com/gokernel/core/internal/ksync"
	"github.com/gokernel/core/internal/sched"
	"github.com/gokernel/core/internal/vm"
)

// CreateProc pops a free global table slot, allocates a fresh address
// space, and places the new process in container (spec.md §4.6
// "create_proc"). The process is born with no parent; StartProc
// attaches it to the tree.
func (m *Manager) CreateProc(container *Container) (*Process, error) {
	p := newProcess(container)
	p.PageDir = vm.NewPageDirectory(m.pages, m.refs, m.swap)
	p.PageDir.SetMetrics(m.metrics)
	if err := m.table.alloc(p); err != nil {
		return nil, err
	}
	return p, nil
}

// ForkProc creates a new process sharing src's container, with a
// copy-on-write duplicate of src's address space (spec.md §6 "fork"),
// via vm.Fork instead of CreateProc's fresh vm.NewPageDirectory. The
// caller (internal/syscall, which also owns the inode cache) is
// responsible for duplicating src's Cwd and open Fds onto the returned
// process before starting it.
func (m *Manager) ForkProc(src *Process) (*Process, error) {
	p := newProcess(src.Container)
	p.PageDir = vm.Fork(src.PageDir)
	if err := m.table.alloc(p); err != nil {
		return nil, err
	}
	return p, nil
}

// EntryFunc is a process's initial user-mode function. Go's goroutines
// already provide the "initial kernel-context builder" the coroutine
// trampoline redesign note asks for, so StartProc launches entry
// directly on its own goroutine instead of hand-rolling a
// callee-saved-register bootstrap.
type EntryFunc func(arg any)

// StartProc attaches p to the process tree (defaulting to the
// container's root process if p has no parent yet), allocates it a
// local pid, marks it runnable, and launches entry(arg) on its own
// goroutine (spec.md §4.6 "start_proc"). If entry returns without p
// having called Exit itself, StartProc's goroutine exits it with code
// 0, mirroring a user program falling off the end of main.
func (m *Manager) StartProc(p *Process, entry EntryFunc, arg any) {
	unlockTree := ksync.Guard(&m.treeLock)
	if p.Parent == nil {
		p.Parent = p.Container.Root
		p.Parent.liveChildren[p] = struct{}{}
	}
	p.Pid = p.Container.attachPid(p)
	unlockTree()

	m.Sched.Activate(p.Process, false)
	m.metrics.RecordProcCreated()

	go func() {
		entry(arg)
		if p.State != sched.Zombie {
			m.Exit(p, 0)
		}
	}()
}

// Exit reparents p's children to its container's root process, records
// p's exit code, posts its parent's childExit semaphore, and retires p
// to ZOMBIE (spec.md §4.6 "exit"). Following spec.md §5's prescribed
// exception to the usual (scheduler, tree, cache, inode) lock order,
// Exit takes the tree lock, then the scheduler lock, then releases the
// tree lock before calling into the scheduler.
func (m *Manager) Exit(p *Process, code int) {
	m.treeLock.Lock()

	reaper := p.Container.Root
	for child := range p.liveChildren {
		child.Parent = reaper
		reaper.liveChildren[child] = struct{}{}
	}
	for child := range p.exitedChildren {
		child.Parent = reaper
		reaper.exitedChildren[child] = struct{}{}
		reaper.childExit.Post()
	}
	p.liveChildren = make(map[*Process]struct{})
	p.exitedChildren = make(map[*Process]struct{})
	p.exitCode = code

	if p.Parent != nil && p.Parent != p {
		delete(p.Parent.liveChildren, p)
		p.Parent.exitedChildren[p] = struct{}{}
		p.Parent.childExit.Post()
	}

	m.Sched.Lock.Lock()
	m.treeLock.Unlock()
	m.Sched.Retire(p.Process, sched.Zombie)
	m.Sched.Lock.Unlock()
	m.metrics.RecordProcExited()
}

// Wait blocks the calling process until one of its children exits,
// reaps it, and returns its exit code and local pid (spec.md §4.6
// "wait"). Returns pid -1 immediately if the caller has no live or
// already-exited children.
func (m *Manager) Wait(p *Process) (code int, pid int) {
	m.treeLock.Lock()
	if len(p.liveChildren) == 0 && len(p.exitedChildren) == 0 {
		m.treeLock.Unlock()
		return 0, -1
	}
	m.treeLock.Unlock()

	p.childExit.Wait()

	m.treeLock.Lock()
	var dead *Process
	for child := range p.exitedChildren {
		dead = child
		break
	}
	if dead == nil {
		m.treeLock.Unlock()
		return 0, -1
	}
	delete(p.exitedChildren, dead)
	m.treeLock.Unlock()

	dead.PageDir.Destroy()
	dead.Container.freePid(dead.Pid)
	m.table.release(dead)

	return dead.exitCode, dead.Pid
}

// Kill sets pid's killed flag and wakes it with an alertable activate,
// so the target observes the flag at its next scheduling point
// (spec.md §4.6 "kill"). Returns an error if pid is not live in
// container.
func (m *Manager) Kill(container *Container, pid int) error {
	m.treeLock.Lock()
	target, ok := container.lookupPid(pid)
	m.treeLock.Unlock()
	if !ok || target.State == sched.Zombie {
		return fmt.Errorf("proc: pid %d not live", pid)
	}
	target.killed = true
	m.Sched.Activate(target.Process, true)
	return nil
}

// CreateContainer allocates a container nested under parent, creates
// its root process, and starts entry(arg) in it (spec.md §4.6
// "create_container"). Every process later created inside the returned
// container inherits it directly or by reparenting through its root.
func (m *Manager) CreateContainer(parent *Container, entry EntryFunc, arg any) (*Container, error) {
	c := newContainer(sched.NewChildContainer(parent.Container))
	root, err := m.CreateProc(c)
	if err != nil {
		return nil, err
	}
	c.Root = root
	root.Parent = root
	root.Cwd = parent.Root.Cwd

	m.treeLock.Lock()
	root.Pid = c.attachPid(root)
	m.treeLock.Unlock()

	m.Sched.Activate(root.Process, false)
	m.metrics.RecordProcCreated()
	go func() {
		entry(arg)
		if root.State != sched.Zombie {
			m.Exit(root, 0)
		}
	}()
	return c, nil
}
