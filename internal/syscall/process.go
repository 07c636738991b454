package syscall

import (
	"context"

	"github.com/gokernel/core/internal/proc"
)

// Fork duplicates p into a new process sharing p's container, a
// copy-on-write duplicate of its address space, and references to its
// open fds and working directory, then starts it running entry(arg) on
// its own goroutine (spec.md §6 "fork"). Go has no instruction pointer
// to duplicate, so unlike a real fork the child does not resume at the
// caller's return address; entry stands in for whatever the caller
// would otherwise re-execute post-fork (see proc.EntryFunc).
func (s *Syscalls) Fork(ctx context.Context, p *proc.Process, entry proc.EntryFunc, arg any) (*proc.Process, error) {
	child, err := s.Proc.ForkProc(p)
	if err != nil {
		return nil, err
	}

	child.Cwd = s.Inodes.Share(p.Cwd)
	for i, fd := range p.Fds {
		if fd != nil {
			child.Fds[i] = &proc.FD{Ino: s.Inodes.Share(fd.Ino), Offset: fd.Offset}
		}
	}

	s.Proc.StartProc(child, entry, arg)
	return child, nil
}

// Exit records p's exit code and retires it to ZOMBIE (spec.md §6
// "exit").
func (s *Syscalls) Exit(p *proc.Process, code int) {
	s.Proc.Exit(p, code)
}

// Wait blocks p until one child exits, reaping it (spec.md §6 "wait").
func (s *Syscalls) Wait(p *proc.Process) (code int, pid int) {
	return s.Proc.Wait(p)
}

// Kill marks pid (looked up in container) killed and wakes it with an
// alertable activate (spec.md §6 "kill").
func (s *Syscalls) Kill(container *proc.Container, pid int) error {
	return s.Proc.Kill(container, pid)
}
