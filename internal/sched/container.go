package sched

import "sync/atomic"

var nextEntityID atomic.Uint64

func allocEntityID() uint64 { return nextEntityID.Add(1) }

// Container is a node in the scheduler's tree: it owns a run tree
// ordered by the minimum vruntime of its constituents (spec.md §3
// "Container"). A Container is itself an Entity in its parent's tree,
// present there iff it has at least one runnable descendant
// (spec.md §4.5 "An entity is present in its parent container's ...
// run tree iff it has at least one runnable leaf below it").
type Container struct {
	id     uint64
	Parent *Container // the root container is its own parent
	tree   runTree
	vr     uint64
	inTree bool // whether this container currently sits in Parent's tree
	isIdle bool // the idle container is not CFS-managed: PickNext always
	// returns its designated per-CPU idle process directly rather than
	// descending through its tree.
}

// NewRootContainer creates the top-level container, parented to
// itself per spec.md §3.
func NewRootContainer() *Container {
	c := &Container{id: allocEntityID()}
	c.Parent = c
	return c
}

// NewChildContainer creates a container nested under parent
// (spec.md §4.6 "create_container").
func NewChildContainer(parent *Container) *Container {
	return &Container{id: allocEntityID(), Parent: parent}
}

// NewIdleContainer creates the non-CFS container holding per-CPU idle
// processes, parented to root but never entered via normal tree descent.
func NewIdleContainer(root *Container) *Container {
	return &Container{id: allocEntityID(), Parent: root, isIdle: true}
}

func (c *Container) schedID() uint64        { return c.id }
func (c *Container) vruntime() uint64       { return c.vr }
func (c *Container) addVRuntime(d uint64)   { c.vr += d }
func (c *Container) isGroup() bool          { return true }
func (c *Container) IsRoot() bool           { return c.Parent == c }

// activateInParent ensures c is present in c.Parent's run tree,
// recursively activating ancestors up to (but not including) the root,
// per spec.md §4.5 "Update on context-out ... recursively activate any
// ancestor container that was previously empty". Returns true if this
// call actually inserted c (i.e. c was not already present).
func (c *Container) activateInParent() bool {
	if c.IsRoot() || c.inTree {
		return false
	}
	c.Parent.tree.insert(c)
	c.inTree = true
	c.Parent.activateInParent()
	return true
}

// deactivateIfEmpty removes c from its parent's tree if c's own tree
// has become empty, recursing upward, mirroring activateInParent's
// symmetric counterpart (used when the last runnable entity under c
// stops being runnable).
func (c *Container) deactivateIfEmpty() {
	if c.IsRoot() || !c.inTree || !c.tree.empty() {
		return
	}
	c.Parent.tree.erase(c)
	c.inTree = false
	c.Parent.deactivateIfEmpty()
}

// bumpVRuntime adds delta to c's vruntime and, if c currently sits in
// its parent's tree, re-sorts it there — then recurses to the parent,
// exactly spec.md §4.5's "For each ancestor currently present in its
// parent's tree, erase-and-reinsert to maintain tree order."
func (c *Container) bumpVRuntime(delta uint64) {
	if c.IsRoot() {
		c.vr += delta
		return
	}
	oldKey := keyOf(c)
	c.vr += delta
	if c.inTree {
		c.Parent.tree.reinsertWithOldKey(c, oldKey)
	}
	c.Parent.bumpVRuntime(delta)
}
