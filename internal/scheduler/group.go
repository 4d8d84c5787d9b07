package scheduler

import "golang.org/x/sync/errgroup"

// Group runs a bounded set of members and joins all of them. A member's
// failure never cancels its siblings.
type Group struct {
	eg   errgroup.Group
	size int
}

// NewGroup returns a group admitting at most size concurrent members.
func NewGroup(size int) *Group {
	if size < 1 {
		size = 1
	}
	g := &Group{size: size}
	g.eg.SetLimit(size)
	return g
}

// Go starts fn, blocking while the group is full.
func (g *Group) Go(fn func()) {
	g.eg.Go(func() error {
		fn()
		return nil
	})
}

// Wait blocks until every member has returned.
func (g *Group) Wait() {
	_ = g.eg.Wait()
}

// Size returns the concurrency bound.
func (g *Group) Size() int { return g.size }
