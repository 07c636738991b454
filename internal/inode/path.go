package inode

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/singleflight"
)

// RootInodeNum is the fixed inode number of the filesystem root.
const RootInodeNum Num = 1

// Resolver walks pathnames to inode numbers, collapsing concurrent
// resolutions of the same path into one walk via singleflight the same
// way the teacher's gcsx package collapses concurrent identical object
// reads.
type Resolver struct {
	cache *Cache
	group singleflight.Group
}

// NewResolver creates a path resolver over cache.
func NewResolver(cache *Cache) *Resolver {
	return &Resolver{cache: cache}
}

// Namei resolves an absolute, slash-separated path to its inode number,
// returning a referenced Inode the caller must Put when done.
//
// The walk itself (the directory reads) is collapsed across concurrent
// callers resolving the same path via singleflight, but the singleflight
// result is just the resolved inode number: each caller still takes its
// own lookup-count reference via Cache.Get, so the shared walk never
// has to hand out a shared *Inode reference whose ownership would be
// ambiguous between waiters.
func (r *Resolver) Namei(ctx context.Context, path string) (*Inode, error) {
	return r.NameiAt(ctx, RootInodeNum, path)
}

// NameiAt resolves path to its inode number the same way Namei does,
// except a path that does not start with "/" is resolved relative to
// cwd instead of the filesystem root (spec.md §4.3: "Supports both
// absolute (starts from the root inode) and cwd-relative" resolution).
// The singleflight key includes cwd so two processes resolving the same
// relative string against different working directories never collapse
// into each other's walk.
func (r *Resolver) NameiAt(ctx context.Context, cwd Num, path string) (*Inode, error) {
	key := path
	if !strings.HasPrefix(path, "/") {
		key = fmt.Sprintf("%d:%s", cwd, path)
	}
	v, err, _ := r.group.Do(key, func() (interface{}, error) {
		return r.namei(ctx, cwd, path)
	})
	if err != nil {
		return nil, err
	}
	return r.cache.Get(v.(Num)), nil
}

// NameiParent resolves all but the last component of path, returning
// the parent directory's referenced Inode and the final component's
// name.
func (r *Resolver) NameiParent(ctx context.Context, path string) (*Inode, string, error) {
	return r.NameiParentAt(ctx, RootInodeNum, path)
}

// NameiParentAt is NameiAt's counterpart for resolving a path's parent
// directory: path's leading components are resolved relative to cwd
// exactly as NameiAt would.
func (r *Resolver) NameiParentAt(ctx context.Context, cwd Num, path string) (*Inode, string, error) {
	dir, base := splitPath(path)
	if base == "" {
		return nil, "", fmt.Errorf("inode: path %q has no final component", path)
	}
	parent, err := r.NameiAt(ctx, cwd, dir)
	if err != nil {
		return nil, "", err
	}
	return parent, base, nil
}

// splitPath splits path into its directory and final component. A
// path with no "/" has its directory component reported as "."
// (meaning "the resolution's own starting point" — root for an
// absolute path, cwd for a relative one), not "/": only an absolute
// path's directory component is ever "/".
func splitPath(path string) (dir, base string) {
	path = strings.TrimSuffix(path, "/")
	idx := strings.LastIndex(path, "/")
	if idx < 0 {
		return ".", path
	}
	if idx == 0 {
		return "/", path[1:]
	}
	return path[:idx], path[idx+1:]
}

func (r *Resolver) namei(ctx context.Context, cwd Num, path string) (Num, error) {
	if path == "" || path == "." {
		return cwd, nil
	}
	if path == "/" {
		return RootInodeNum, nil
	}

	start := cwd
	if strings.HasPrefix(path, "/") {
		start = RootInodeNum
	}
	cur := r.cache.Get(start)
	components := strings.Split(strings.Trim(path, "/"), "/")

	for i, name := range components {
		if name == "" {
			continue
		}
		if err := cur.Lock(ctx, r.cache); err != nil {
			r.cache.Put(ctx, cur)
			return 0, err
		}
		if cur.entry.Type != TypeDir {
			cur.Unlock()
			r.cache.Put(ctx, cur)
			return 0, fmt.Errorf("inode: %q is not a directory", strings.Join(components[:i], "/"))
		}

		childNum, err := r.cache.Lookup(ctx, cur, name)
		cur.Unlock()
		if err != nil {
			r.cache.Put(ctx, cur)
			return 0, fmt.Errorf("inode: resolving %q: %w", path, err)
		}

		if err := r.cache.Put(ctx, cur); err != nil {
			return 0, err
		}
		cur = r.cache.Get(childNum)
	}

	num := cur.Num
	if err := r.cache.Put(ctx, cur); err != nil {
		return 0, err
	}
	return num, nil
}
