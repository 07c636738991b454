package sched

import "fmt"

// CheckInvariants verifies that run-tree membership matches the
// "present iff runnable" rule (spec.md §4.5) and that the tree order
// matches each entry's current key, mirroring the teacher's
// CheckInvariants pattern: an ever-present test hook, not a production
// check. Caller must hold s.Lock (or call it from a test with no other
// goroutine touching the scheduler).
func (s *Scheduler) CheckInvariants() error {
	return checkContainer(s.Root)
}

func checkContainer(c *Container) error {
	prev := entityKey{}
	for i, e := range c.tree.entries {
		k := keyOf(e)
		if i > 0 && k.less(prev) {
			return fmt.Errorf("sched: container %d's run tree is out of order at index %d", c.id, i)
		}
		prev = k

		switch v := e.(type) {
		case *Process:
			if v.Container != c {
				return fmt.Errorf("sched: process %d present in container %d's tree but Container field points elsewhere", v.id, c.id)
			}
			if !v.inTree {
				return fmt.Errorf("sched: process %d present in run tree but inTree is false", v.id)
			}
			if v.State != Runnable && v.State != Running {
				return fmt.Errorf("sched: process %d present in run tree with state %s", v.id, v.State)
			}
		case *Container:
			if v.Parent != c {
				return fmt.Errorf("sched: container %d present in container %d's tree but Parent field points elsewhere", v.id, c.id)
			}
			if !v.inTree {
				return fmt.Errorf("sched: container %d present in run tree but inTree is false", v.id)
			}
			if v.tree.empty() {
				return fmt.Errorf("sched: container %d is present in its parent's tree but has an empty run tree", v.id)
			}
			if err := checkContainer(v); err != nil {
				return err
			}
		}
	}
	return nil
}
