package ksync

import (
	"container/list"
	"sync"
)

// Semaphore is an integer counter with an intrusive FIFO waiter queue.
// It is the exclusive mechanism for kernel-mode blocking (spec.md
// §4.1): Post increments the count and wakes the oldest waiter if any
// are queued; Wait decrements, blocking the caller when the count is
// already zero.
//
// Two waiter disciplines are exposed per spec.md §5 "Cancellation":
//   - WaitAlertable returns early with false if the waiter's process is
//     killed while parked, without consuming a post.
//   - Wait (non-alertable) always eventually returns true; used by the
//     block cache's log-admission semaphore and by inode/block sleeping
//     locks, which must ignore killed state to preserve invariants.
type Semaphore struct {
	mu      sync.Mutex
	count   int64
	waiters *list.List // of *waiter
}

type waiter struct {
	ch      chan struct{}
	killed  func() bool
	removed bool
}

// NewSemaphore creates a semaphore with the given initial count.
func NewSemaphore(initial int64) *Semaphore {
	return &Semaphore{count: initial, waiters: list.New()}
}

// Post increments the count and wakes the oldest waiter, if any.
func (s *Semaphore) Post() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.count++
	s.wakeOneLocked()
}

// wakeOneLocked wakes the single oldest waiter eligible to consume a
// post, if the count allows it. Must be called with s.mu held.
func (s *Semaphore) wakeOneLocked() {
	for e := s.waiters.Front(); e != nil; e = e.Next() {
		w := e.Value.(*waiter)
		if w.removed {
			continue
		}
		if s.count <= 0 {
			return
		}
		s.count--
		w.removed = true
		close(w.ch)
		s.waiters.Remove(e)
		return
	}
}

// Wait blocks until a post is available, ignoring any cancellation
// signal. Always returns true.
func (s *Semaphore) Wait() bool {
	return s.wait(nil)
}

// WaitAlertable blocks until a post is available or killed reports
// true, whichever happens first. Returns false in the latter case
// without having consumed a post.
func (s *Semaphore) WaitAlertable(killed func() bool) bool {
	return s.wait(killed)
}

func (s *Semaphore) wait(killed func() bool) bool {
	s.mu.Lock()
	if s.count > 0 {
		s.count--
		s.mu.Unlock()
		return true
	}

	w := &waiter{ch: make(chan struct{}), killed: killed}
	elem := s.waiters.PushBack(w)
	s.mu.Unlock()

	if killed == nil {
		<-w.ch
		return true
	}

	// Poll-style alertable wait: a real kernel would register the
	// process on a wake list and re-check `killed` at every scheduling
	// point. Here we approximate that with a short-period check so a
	// kill is observed promptly without spinning the CPU.
	ticker := newAlertTicker()
	defer ticker.stop()
	for {
		select {
		case <-w.ch:
			return true
		case <-ticker.c:
			if killed() {
				s.mu.Lock()
				if !w.removed {
					w.removed = true
					s.waiters.Remove(elem)
					s.mu.Unlock()
					return false
				}
				s.mu.Unlock()
				// Lost the race with a concurrent Post; the post is ours.
				<-w.ch
				return true
			}
		}
	}
}

// Count returns the current count, for tests and invariant checks.
func (s *Semaphore) Count() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

// NumWaiters returns the number of parked waiters, for tests.
func (s *Semaphore) NumWaiters() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.waiters.Len()
}
