// Package avl implements an intrusive, self-balancing (AVL) ordered multiset
// with detachable nodes. It is the substrate of the ordered index in ordset:
// staging a transaction moves nodes from one tree into another without
// allocating, which keeps the merge phase infallible.
//
// The tree accepts duplicates as far as the comparator is concerned; callers
// that need uniqueness (ordset keys entries by (identifier, generation)) make
// the comparator total over their records.
package avl

// CompareFunc is a three-way comparator: negative if a sorts before b, zero if
// they are equivalent, positive if a sorts after b.
type CompareFunc[T any] func(a, b T) int

// Tree is an ordered multiset of T. Not safe for concurrent use.
type Tree[T any] struct {
	root    *Node[T]
	compare CompareFunc[T]
	count   int
}

// New constructs an empty tree ordered by compare.
func New[T any](compare CompareFunc[T]) *Tree[T] {
	return &Tree[T]{compare: compare}
}

// Len returns the number of nodes in the tree.
func (t *Tree[T]) Len() int { return t.count }

// Compare returns the tree's comparator, so a sibling tree (e.g. a batch being
// prepared for a node-move merge) can be built with the same order.
func (t *Tree[T]) Compare() CompareFunc[T] { return t.compare }

// Root returns the root node, or nil for an empty tree.
func (t *Tree[T]) Root() *Node[T] { return t.root }

// First returns the smallest node, or nil.
func (t *Tree[T]) First() *Node[T] {
	if t.root == nil {
		return nil
	}
	return minimum(t.root)
}

// Last returns the largest node, or nil.
func (t *Tree[T]) Last() *Node[T] {
	if t.root == nil {
		return nil
	}
	return maximum(t.root)
}

// Clear drops every node. Dropped nodes keep their values and links; callers
// must not reuse them.
func (t *Tree[T]) Clear() {
	t.root = nil
	t.count = 0
}

// Insert allocates a node for value and links it in. Equivalent values keep
// insertion order (ties go right).
func (t *Tree[T]) Insert(value T) *Node[T] {
	n := &Node[T]{Value: value, height: 1}
	t.insertNode(n)
	return n
}

// InsertNode links an existing, detached node into the tree. The node's value
// is kept; its links are overwritten.
func (t *Tree[T]) InsertNode(n *Node[T]) {
	n.detach()
	t.insertNode(n)
}

func (t *Tree[T]) insertNode(n *Node[T]) {
	t.count++
	if t.root == nil {
		t.root = n
		return
	}
	cur := t.root
	for {
		if t.compare(n.Value, cur.Value) < 0 {
			if cur.left == nil {
				cur.left = n
				break
			}
			cur = cur.left
		} else {
			if cur.right == nil {
				cur.right = n
				break
			}
			cur = cur.right
		}
	}
	n.parent = cur
	t.rebalance(cur)
}

// Extract unlinks n from the tree without freeing it. n must belong to this tree.
func (t *Tree[T]) Extract(n *Node[T]) *Node[T] {
	t.count--
	if n.left != nil && n.right != nil {
		// Relink the in-order successor into n's position so n's value stays
		// attached to n (node identity matters to ordset's stage/rollback).
		s := minimum(n.right)
		fix := s.parent
		if fix == n {
			fix = s
		}
		t.transplant(s, s.right)
		s.left = n.left
		s.left.parent = s
		s.right = n.right
		if s.right != nil {
			s.right.parent = s
		}
		s.height = n.height
		t.transplant(n, s)
		t.rebalanceFrom(fix)
	} else {
		child := n.left
		if child == nil {
			child = n.right
		}
		fix := n.parent
		t.transplant(n, child)
		t.rebalanceFrom(fix)
	}
	n.detach()
	return n
}

// Merge moves every node of src into t, emptying src. No allocation happens;
// nodes are extracted from src and relinked under t's comparator.
func (t *Tree[T]) Merge(src *Tree[T]) {
	for src.root != nil {
		n := src.Extract(minimum(src.root))
		t.insertNode(n)
	}
}

// Find returns a node equivalent to the probe under cmp, or nil. cmp compares
// the probe against a stored value: negative if the probe sorts before it.
// With duplicates, the leftmost equivalent node is returned.
func (t *Tree[T]) Find(cmp func(T) int) *Node[T] {
	n := t.LowerBound(cmp)
	if n == nil || cmp(n.Value) != 0 {
		return nil
	}
	return n
}

// LowerBound returns the leftmost node the probe sorts before or equal to, or nil.
func (t *Tree[T]) LowerBound(cmp func(T) int) *Node[T] {
	var best *Node[T]
	cur := t.root
	for cur != nil {
		if cmp(cur.Value) <= 0 {
			best = cur
			cur = cur.left
		} else {
			cur = cur.right
		}
	}
	return best
}

// UpperBound returns the leftmost node the probe sorts strictly before, or nil.
func (t *Tree[T]) UpperBound(cmp func(T) int) *Node[T] {
	var best *Node[T]
	cur := t.root
	for cur != nil {
		if cmp(cur.Value) < 0 {
			best = cur
			cur = cur.left
		} else {
			cur = cur.right
		}
	}
	return best
}

// Ascend walks nodes in order starting at from (inclusive), invoking fn until
// it returns false or the walk runs off the end. A nil from starts at First.
func (t *Tree[T]) Ascend(from *Node[T], fn func(*Node[T]) bool) {
	n := from
	if n == nil {
		n = t.First()
	}
	for n != nil {
		if !fn(n) {
			return
		}
		n = n.Next()
	}
}

// transplant replaces the subtree rooted at u with the subtree rooted at v
// (v may be nil) in u's parent link.
func (t *Tree[T]) transplant(u, v *Node[T]) {
	switch {
	case u.parent == nil:
		t.root = v
	case u.parent.left == u:
		u.parent.left = v
	default:
		u.parent.right = v
	}
	if v != nil {
		v.parent = u.parent
	}
}

// rebalance walks from n to the root, restoring heights and AVL balance.
func (t *Tree[T]) rebalance(n *Node[T]) {
	for n != nil {
		n.updateHeight()
		switch bf := n.balance(); {
		case bf > 1:
			if n.left.balance() < 0 {
				t.rotateLeft(n.left)
			}
			n = t.rotateRight(n)
		case bf < -1:
			if n.right.balance() > 0 {
				t.rotateRight(n.right)
			}
			n = t.rotateLeft(n)
		}
		n = n.parent
	}
}

func (t *Tree[T]) rebalanceFrom(n *Node[T]) {
	if n != nil {
		t.rebalance(n)
	}
}

func (t *Tree[T]) rotateLeft(x *Node[T]) *Node[T] {
	y := x.right
	x.right = y.left
	if y.left != nil {
		y.left.parent = x
	}
	y.parent = x.parent
	switch {
	case x.parent == nil:
		t.root = y
	case x.parent.left == x:
		x.parent.left = y
	default:
		x.parent.right = y
	}
	y.left = x
	x.parent = y
	x.updateHeight()
	y.updateHeight()
	return y
}

func (t *Tree[T]) rotateRight(x *Node[T]) *Node[T] {
	y := x.left
	x.left = y.right
	if y.right != nil {
		y.right.parent = x
	}
	y.parent = x.parent
	switch {
	case x.parent == nil:
		t.root = y
	case x.parent.left == x:
		x.parent.left = y
	default:
		x.parent.right = y
	}
	y.right = x
	x.parent = y
	x.updateHeight()
	y.updateHeight()
	return y
}
