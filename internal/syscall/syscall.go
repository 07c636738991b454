// Package syscall is the thin user-facing surface scenarios and tests
// drive the kernel through: open/read/write/mknod/sbrk/pipe plus the C7
// process-lifecycle calls (fork/exit/wait/kill), each one a direct,
// error-translating call into internal/inode, internal/vm and
// internal/proc. It plays the role the teacher's fileSystem methods
// (fs/fs.go: CreateFile, OpenFile, ReadFile, WriteFile, Unlink) play
// for FUSE: the single place host-visible operations enter the kernel.
package syscall

import (
	"context"
	"fmt"
	"strings"

	"github.com/gokernel/core/internal/blockcache"
	"github.com/gokernel/core/internal/inode"
	"github.com/gokernel/core/internal/proc"
)

// Syscalls bundles the collaborators every syscall-surface call needs:
// the block cache (for BeginOp/EndOp grouping), the inode cache and its
// path resolver, and the process manager.
type Syscalls struct {
	Cache    *blockcache.Cache
	Inodes   *inode.Cache
	Resolver *inode.Resolver
	Proc     *proc.Manager
}

// New wires a Syscalls surface over an already-booted kernel's
// collaborators.
func New(bc *blockcache.Cache, ic *inode.Cache, resolver *inode.Resolver, pm *proc.Manager) *Syscalls {
	return &Syscalls{Cache: bc, Inodes: ic, Resolver: resolver, Proc: pm}
}

// translate maps an internal/inode error (always a plain fmt.Errorf,
// since that package has no reason to distinguish "user mistake" from
// "programmer mistake" on its own) onto the stable sentinel a syscall
// caller can match against. Unrecognized errors pass through wrapped,
// the same way an unexpected gcs.Error reaches a FUSE caller verbatim.
func translate(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "not found"):
		return fmt.Errorf("%w: %s", ErrNoEnt, msg)
	case strings.Contains(msg, "already exists"):
		return fmt.Errorf("%w: %s", ErrExist, msg)
	case strings.Contains(msg, "is not a directory"), strings.Contains(msg, "not absolute"):
		return fmt.Errorf("%w: %s", ErrNotDir, msg)
	case strings.Contains(msg, "exceed MaxFileBytes"), strings.Contains(msg, "no free inodes"):
		return fmt.Errorf("%w: %s", ErrNoSpace, msg)
	default:
		return err
	}
}

// allocFd finds p's first free file-descriptor slot.
func allocFd(p *proc.Process) (int, error) {
	for i, fd := range p.Fds {
		if fd == nil {
			return i, nil
		}
	}
	return 0, ErrTooManyFds
}

// Open resolves path relative to p's working directory and installs a
// fresh file descriptor for it in p's fd table, creating a zero-length
// regular file first if create is true and no entry exists (spec.md §6
// "Syscall surface": open). Returns the new fd.
func (s *Syscalls) Open(ctx context.Context, p *proc.Process, path string, create bool) (int, error) {
	ino, err := s.Resolver.NameiAt(ctx, p.Cwd.Num, path)
	if err != nil {
		if !create {
			return -1, translate(err)
		}
		ino, err = s.create(ctx, p, path, inode.TypeFile)
		if err != nil {
			return -1, err
		}
	}

	slot, err := allocFd(p)
	if err != nil {
		s.Inodes.Put(ctx, ino)
		return -1, err
	}
	p.Fds[slot] = &proc.FD{Ino: ino}
	return slot, nil
}

// create allocates a new inode of type t, links it into path's parent
// directory under its final component, and returns a referenced Inode
// for it — grounded on the teacher's CreateFile (fs/fs.go), generalized
// to any inode.Type so Mknod can share it.
func (s *Syscalls) create(ctx context.Context, p *proc.Process, path string, t inode.Type) (*inode.Inode, error) {
	parent, name, err := s.Resolver.NameiParentAt(ctx, p.Cwd.Num, path)
	if err != nil {
		return nil, translate(err)
	}
	defer s.Inodes.Put(ctx, parent)

	op := s.Cache.BeginOp()
	child, err := s.Inodes.Alloc(ctx, op, t)
	if err != nil {
		s.Cache.EndOp(ctx, op)
		return nil, translate(err)
	}

	if err := parent.Lock(ctx, s.Inodes); err != nil {
		s.Cache.EndOp(ctx, op)
		s.Inodes.Put(ctx, child)
		return nil, err
	}
	err = s.Inodes.Insert(ctx, op, parent, name, child.Num)
	parent.Unlock()
	if err != nil {
		s.Cache.EndOp(ctx, op)
		s.Inodes.Put(ctx, child)
		return nil, translate(err)
	}
	if err := s.Cache.EndOp(ctx, op); err != nil {
		s.Inodes.Put(ctx, child)
		return nil, err
	}
	return child, nil
}

// Mknod creates a device-file inode at path, matching spec.md §6's
// syscall surface entry of the same name; it does not open it.
func (s *Syscalls) Mknod(ctx context.Context, p *proc.Process, path string) error {
	ino, err := s.create(ctx, p, path, inode.TypeDevice)
	if err != nil {
		return err
	}
	return s.Inodes.Put(ctx, ino)
}

// Read copies up to len(buf) bytes from fd's current offset, advancing
// it by the number of bytes actually read.
func (s *Syscalls) Read(ctx context.Context, p *proc.Process, fd int, buf []byte) (int, error) {
	f, err := fdOf(p, fd)
	if err != nil {
		return 0, err
	}
	if err := f.Ino.Lock(ctx, s.Inodes); err != nil {
		return 0, err
	}
	defer f.Ino.Unlock()

	n, err := s.Inodes.Read(ctx, f.Ino, f.Offset, buf)
	f.Offset += uint32(n)
	if err != nil {
		return n, translate(err)
	}
	return n, nil
}

// Write appends buf to fd at its current offset, through a grouped
// atomic operation, advancing the offset by the number of bytes
// written.
func (s *Syscalls) Write(ctx context.Context, p *proc.Process, fd int, buf []byte) (int, error) {
	f, err := fdOf(p, fd)
	if err != nil {
		return 0, err
	}
	if err := f.Ino.Lock(ctx, s.Inodes); err != nil {
		return 0, err
	}
	defer f.Ino.Unlock()

	op := s.Cache.BeginOp()
	n, err := s.Inodes.Write(ctx, op, f.Ino, f.Offset, buf)
	if err != nil {
		s.Cache.EndOp(ctx, op)
		f.Offset += uint32(n)
		return n, translate(err)
	}
	if err := s.Cache.EndOp(ctx, op); err != nil {
		return n, err
	}
	f.Offset += uint32(n)
	return n, nil
}

// Close releases fd, dropping the inode's lookup-count reference.
func (s *Syscalls) Close(ctx context.Context, p *proc.Process, fd int) error {
	f, err := fdOf(p, fd)
	if err != nil {
		return err
	}
	p.Fds[fd] = nil
	return s.Inodes.Put(ctx, f.Ino)
}

func fdOf(p *proc.Process, fd int) (*proc.FD, error) {
	if fd < 0 || fd >= len(p.Fds) || p.Fds[fd] == nil {
		return nil, ErrBadFd
	}
	return p.Fds[fd], nil
}

// Sbrk grows or shrinks p's heap section, the direct syscall-surface
// alias for PageDirectory.Sbrk (spec.md §6 "sbrk").
func (s *Syscalls) Sbrk(p *proc.Process, delta int) (uintptr, error) {
	addr, err := p.PageDir.Sbrk(delta)
	if err != nil {
		return 0, fmt.Errorf("%w: %s", ErrNoMem, err)
	}
	return addr, nil
}
