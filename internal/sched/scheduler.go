package sched

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/gokernel/core/internal/clock"
	"github.com/gokernel/core/internal/ksync"
	"github.com/gokernel/core/internal/metrics"
	"github.com/gokernel/core/internal/workerpool"
)

// Scheduler is the hierarchical fair scheduler over a tree of
// containers (spec.md C6). A single global spinlock guards every tree
// operation, matching spec.md §5's "The scheduler's run trees are
// guarded by the single scheduler spinlock."
type Scheduler struct {
	Lock ksync.Spinlock // exported: exit() and other C7 callers must interleave it with the tree lock per spec.md §5 ordering.

	Root *Container
	idle *Container
	cpus []*cpuState
	clk  clock.Clock

	metrics *metrics.Kernel
}

// SetMetrics attaches m so idle-loop sampling reports the root run
// queue's depth. Optional: a scheduler with no metrics attached (the
// default, and every unit test's Scheduler) simply skips recording.
func (s *Scheduler) SetMetrics(m *metrics.Kernel) { s.metrics = m }

type cpuState struct {
	running *Process
	idle    *Process
}

// New creates a scheduler with numCPUs per-CPU idle processes, ticking
// vruntime accounting from clk.
func New(numCPUs int, clk clock.Clock) *Scheduler {
	root := NewRootContainer()
	idleContainer := NewIdleContainer(root)

	s := &Scheduler{Root: root, idle: idleContainer, clk: clk}
	for i := 0; i < numCPUs; i++ {
		s.cpus = append(s.cpus, &cpuState{idle: NewIdleProcess(idleContainer)})
	}
	return s
}

// NumCPUs reports the number of simulated CPUs.
func (s *Scheduler) NumCPUs() int { return len(s.cpus) }

// PickNext chooses the next process to run on cpuID (spec.md §4.5
// "Pick next"): descend from the root container taking the leftmost
// tree entry at each level, recursing into groups; if the root's tree
// is empty, fall back to the CPU's dedicated idle process. Caller must
// hold s.Lock.
func (s *Scheduler) PickNext(cpuID int) *Process {
	e := descendLeftmost(s.Root)
	if e == nil {
		return s.cpus[cpuID].idle
	}
	return e
}

func descendLeftmost(c *Container) *Process {
	e := c.tree.min()
	if e == nil {
		return nil
	}
	if e.isGroup() {
		return descendLeftmost(e.(*Container))
	}
	return e.(*Process)
}

// ContextIn records that p has just been switched onto cpuID: its
// start timestamp, RUNNING state, and the CPU's running pointer
// (spec.md §4.5 "Update on context-in"). Caller must hold s.Lock.
func (s *Scheduler) ContextIn(cpuID int, p *Process) {
	p.start = s.clk.Now()
	p.State = Running
	s.cpus[cpuID].running = p
}

// ContextOut records that p is leaving the CPU, updating vruntime
// accounting for p and every ancestor container, and transitioning p to
// newState (spec.md §4.5 "Update on context-out"). Caller must hold
// s.Lock.
func (s *Scheduler) ContextOut(cpuID int, p *Process, newState State) {
	s.retire(p, newState)
	if s.cpus[cpuID].running == p {
		s.cpus[cpuID].running = nil
	}
}

// Retire is ContextOut's CPU-agnostic form: used by callers (process
// exit) that reschedule away from p without knowing which per-CPU
// running pointer currently references it — e.g. a kernel thread that
// calls `sched(ZOMBIE)` straight from exit() rather than from a timer
// trap. Caller must hold s.Lock.
func (s *Scheduler) Retire(p *Process, newState State) {
	s.retire(p, newState)
}

func (s *Scheduler) retire(p *Process, newState State) {
	if p.idle {
		p.State = newState
		return
	}

	oldKey := keyOf(p)
	delta := uint64(s.clk.Now().Sub(p.start))
	p.vr += delta
	if !p.Container.IsRoot() {
		p.Container.bumpVRuntime(delta)
	}
	s.metrics.RecordVRuntimeDelta(float64(delta) / float64(time.Millisecond))

	if p.inTree {
		// p.vr was just bumped above, so keyOf(p) no longer matches the
		// key p was inserted under: erase by the captured pre-bump key
		// (mirroring Container.bumpVRuntime's own oldKey/reinsertWithOldKey
		// pattern) rather than re-deriving a now-stale key from p itself.
		p.Container.tree.eraseWithOldKey(p, oldKey)
		p.inTree = false
		p.Container.deactivateIfEmpty()
	}

	p.State = newState
	if newState == Runnable {
		s.makeRunnable(p)
	}
}

// makeRunnable inserts p into its container's run tree and activates
// every ancestor container that was empty, per spec.md §4.5's
// "reinsert the process and recursively activate any ancestor container
// that was previously empty."
func (s *Scheduler) makeRunnable(p *Process) {
	if p.inTree {
		return
	}
	p.Container.tree.insert(p)
	p.inTree = true
	p.Container.activateInParent()
}

// Activate wakes p, implementing spec.md §4.5's "Activate (wake)" state
// table. alertableWake distinguishes a killed-process's early wakeup
// (spec.md §5 "Cancellation") from a normal semaphore post.
func (s *Scheduler) Activate(p *Process, alertableWake bool) bool {
	s.Lock.Lock()
	defer s.Lock.Unlock()

	switch p.State {
	case Running, Runnable:
		return false
	case Sleeping, Unused:
		p.State = Runnable
		s.makeRunnable(p)
		return true
	case DeepSleeping:
		if alertableWake {
			return false
		}
		p.State = Runnable
		s.makeRunnable(p)
		return true
	case Zombie:
		return false
	default:
		panic(fmt.Sprintf("sched: unknown process state %v", p.State))
	}
}

// Yield is the timer-driven preemption entry point (spec.md §4.5
// "Timer-driven yield"): it takes the scheduler lock and reschedules p
// as RUNNABLE, i.e. it is the outward-facing alias for
// ContextOut(cpuID, p, Runnable) a per-CPU timer interrupt calls.
func (s *Scheduler) Yield(cpuID int, p *Process) {
	s.Lock.Lock()
	defer s.Lock.Unlock()
	s.ContextOut(cpuID, p, Runnable)
}

// RunQueueLen reports how many entities currently sit directly in the
// root container's run tree, for metrics and fairness-property tests.
func (s *Scheduler) RunQueueLen() int {
	s.Lock.Lock()
	defer s.Lock.Unlock()
	return s.Root.tree.len()
}

// RunIdleLoops runs the per-CPU idle task (spec.md §4.5 "Idle") for
// every simulated CPU: each loop calls Yield on its idle process
// whenever PickNext would otherwise select it, standing in for the real
// kernel's wait-for-interrupt trap window.
//
// The actual loop bodies execute on a internal/workerpool.StaticWorkerPool
// sized to one priority worker per CPU (idle work must never queue
// behind itself), the same fixed-goroutine-pool discipline the teacher
// uses for bounded concurrent work. An errgroup supervises the pool
// from the caller's side: it propagates ctx cancellation to every idle
// loop and surfaces the first loop's error (if any) to the caller,
// mirroring the teacher's use of golang.org/x/sync/errgroup to
// supervise a fixed worker pool.
func (s *Scheduler) RunIdleLoops(ctx context.Context) error {
	pool, err := workerpool.NewStaticWorkerPool(uint32(len(s.cpus)), 0)
	if err != nil {
		return fmt.Errorf("sched: starting idle worker pool: %w", err)
	}
	defer pool.Stop()

	g, ctx := errgroup.WithContext(ctx)
	for cpuID := range s.cpus {
		cpuID := cpuID
		g.Go(func() error {
			done := make(chan struct{})
			pool.Submit(true, func() {
				defer close(done)
				s.idleLoop(ctx, cpuID)
			})
			select {
			case <-done:
				return nil
			case <-ctx.Done():
				return nil
			}
		})
	}
	return g.Wait()
}

// idleLoop is one CPU's idle task body: spin-check whether PickNext
// would choose this CPU's idle process, and if so, Yield it and then
// wait on clk.After(0), the wait-for-interrupt stand-in (it fires at
// once), unless ctx is canceled first.
func (s *Scheduler) idleLoop(ctx context.Context, cpuID int) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		s.Lock.Lock()
		next := s.PickNext(cpuID)
		s.metrics.RecordRunQueueLen(int64(s.Root.tree.len()))
		s.Lock.Unlock()
		if next != s.cpus[cpuID].idle {
			continue
		}
		s.Yield(cpuID, next)
		select {
		case <-ctx.Done():
			return
		case <-s.clk.After(0):
		}
	}
}
