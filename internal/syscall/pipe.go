package syscall

import "github.com/gokernel/core/internal/ksync"

// pipeCapacity bounds a Pipe's internal ring buffer, in bytes.
const pipeCapacity = 4096

// Pipe is an in-memory byte pipe connecting one writer to one reader,
// built from two counting semaphores the way spec.md §4.1 intends
// ksync.Semaphore to back any producer/consumer handoff: dataAvail
// counts readable bytes, spaceAvail counts free slots, and a spinlock
// guards the ring buffer itself.
//
// Unlike a real pipe, Read here fills the caller's buffer completely
// before returning (or blocks forever trying) rather than returning as
// soon as at least one byte is available; spec.md's syscall surface
// only needs a blocking byte conduit between two simulated processes,
// not partial-read semantics.
type Pipe struct {
	mu         ksync.Spinlock
	buf        [pipeCapacity]byte
	head, tail int

	dataAvail  *ksync.Semaphore
	spaceAvail *ksync.Semaphore
}

// NewPipe creates an empty pipe.
func NewPipe() *Pipe {
	return &Pipe{
		dataAvail:  ksync.NewSemaphore(0),
		spaceAvail: ksync.NewSemaphore(pipeCapacity),
	}
}

// Write copies all of buf into the pipe, blocking a byte at a time
// while the ring buffer is full.
func (pi *Pipe) Write(buf []byte) (int, error) {
	for _, b := range buf {
		pi.spaceAvail.Wait()
		unlock := ksync.Guard(&pi.mu)
		pi.buf[pi.tail] = b
		pi.tail = (pi.tail + 1) % pipeCapacity
		unlock()
		pi.dataAvail.Post()
	}
	return len(buf), nil
}

// Read fills buf completely from the pipe, blocking a byte at a time
// while the ring buffer is empty.
func (pi *Pipe) Read(buf []byte) (int, error) {
	for i := range buf {
		pi.dataAvail.Wait()
		unlock := ksync.Guard(&pi.mu)
		buf[i] = pi.buf[pi.head]
		pi.head = (pi.head + 1) % pipeCapacity
		unlock()
		pi.spaceAvail.Post()
	}
	return len(buf), nil
}

// Pipe creates a new in-memory pipe, matching spec.md §6's syscall
// surface entry of the same name; unlike a real pipe(2) it returns one
// object exposing both ends rather than a pair of fds, since this
// kernel's fd table is sized for inode-backed files (see
// proc.MaxOpenFiles), not pipe endpoints.
func (s *Syscalls) Pipe() *Pipe {
	return NewPipe()
}
