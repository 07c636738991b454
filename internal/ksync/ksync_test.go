package ksync

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSpinlockMutualExclusion(t *testing.T) {
	var sp Spinlock
	var counter int
	var wg sync.WaitGroup

	const goroutines = 50
	const iterations = 200
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < iterations; j++ {
				func() {
					defer Guard(&sp)()
					counter++
				}()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, goroutines*iterations, counter)
}

func TestSpinlockUnlockUnheldPanics(t *testing.T) {
	var sp Spinlock
	assert.Panics(t, func() { sp.Unlock() })
}

func TestSpinlockTryLock(t *testing.T) {
	var sp Spinlock
	require.True(t, sp.TryLock())
	assert.False(t, sp.TryLock())
	sp.Unlock()
	assert.True(t, sp.TryLock())
}

func TestSemaphorePostWait(t *testing.T) {
	sem := NewSemaphore(0)

	done := make(chan struct{})
	go func() {
		ok := sem.Wait()
		assert.True(t, ok)
		close(done)
	}()

	// Give the waiter a chance to park.
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, 1, sem.NumWaiters())

	sem.Post()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Wait did not unblock after Post")
	}
}

func TestSemaphoreWaitAlertableReturnsFalseWhenKilled(t *testing.T) {
	sem := NewSemaphore(0)
	var killed atomic.Bool

	result := make(chan bool, 1)
	go func() {
		result <- sem.WaitAlertable(killed.Load)
	}()

	time.Sleep(5 * time.Millisecond)
	killed.Store(true)

	select {
	case ok := <-result:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("WaitAlertable did not observe kill")
	}
	// No post was consumed.
	assert.Equal(t, int64(0), sem.Count())
}

func TestSemaphoreWaitAlertableSucceedsOnPost(t *testing.T) {
	sem := NewSemaphore(0)
	var killed atomic.Bool

	result := make(chan bool, 1)
	go func() {
		result <- sem.WaitAlertable(killed.Load)
	}()

	time.Sleep(5 * time.Millisecond)
	sem.Post()

	select {
	case ok := <-result:
		assert.True(t, ok)
	case <-time.After(time.Second):
		t.Fatal("WaitAlertable did not observe post")
	}
}

func TestSemaphoreNonBlockingWaitDecrementsImmediately(t *testing.T) {
	sem := NewSemaphore(1)
	assert.True(t, sem.Wait())
	assert.Equal(t, int64(0), sem.Count())
}

func TestRefCountConservation(t *testing.T) {
	rc := NewRefCount(0)
	rc.Inc()
	rc.Inc()
	assert.False(t, rc.Dec())
	assert.True(t, rc.Dec())
	assert.Equal(t, int64(0), rc.Load())
}
