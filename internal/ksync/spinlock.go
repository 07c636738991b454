// Package ksync provides the kernel's low-level synchronization
// primitives: spinlocks, sleeping semaphores and reference counts.
//
// These are the only primitives the rest of the kernel is allowed to
// build blocking or mutual exclusion on top of (spec.md §4.1, §5):
// spinlocks guard short non-preemptive critical sections and must never
// be held across a suspension point; semaphores are the sole mechanism
// for sleeping.
package ksync

import (
	"runtime"
	"sync/atomic"
)

// Spinlock is a test-and-set lock that busy-waits, yielding the
// scheduler (via runtime.Gosched, standing in for the architectural
// yield hint) between attempts instead of blocking.
type Spinlock struct {
	held atomic.Bool
}

// Lock spins until the lock is acquired.
func (s *Spinlock) Lock() {
	for !s.held.CompareAndSwap(false, true) {
		runtime.Gosched()
	}
}

// TryLock attempts to acquire the lock without spinning.
func (s *Spinlock) TryLock() bool {
	return s.held.CompareAndSwap(false, true)
}

// Unlock releases the lock. Unlocking an unheld lock is a programmer
// error and panics, matching the kernel's "invariant violation" error
// kind (spec.md §7).
func (s *Spinlock) Unlock() {
	if !s.held.CompareAndSwap(true, false) {
		panic("ksync: Unlock of unheld Spinlock")
	}
}

// Guard acquires sp and returns a function that releases it, so that a
// single `defer ksync.Guard(sp)()` guarantees release on every
// control-flow exit from the enclosing block (spec.md §4.1's
// "scoped-acquire idiom").
func Guard(sp *Spinlock) func() {
	sp.Lock()
	return sp.Unlock
}
