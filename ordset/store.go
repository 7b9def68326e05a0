// Package ordset implements the consistent ordered set: a versioned ordered
// index holding both committed entries and invisible pending writes, plus the
// optimistic transaction protocol (watch, stage, commit, rollback) on top.
// It is single-threaded by itself; the partitioned package adds locking.
package ordset

import (
	"cmp"
	"errors"
	"fmt"
	"math"
	"math/rand"

	"github.com/sharedcode/cset"
	"github.com/sharedcode/cset/avl"
)

// Options configures a Store. ID projects the ordering identifier out of an
// element; Compare is a three-way strict weak order over identifiers.
type Options[E, K any] struct {
	ID      func(E) K
	Compare func(K, K) int
}

// Store is an in-memory ordered set of elements with multi-entry optimistic
// transactions. Not safe for concurrent use; wrap it in the partitioned
// facade (or an external lock) for multi-threaded access.
type Store[E, K any] struct {
	id      cset.UUID
	options Options[E, K]

	// entries holds committed and pending records, ordered by (key, generation).
	entries      *avl.Tree[Entry[E, K]]
	generation   int64
	visibleCount int
}

// New constructs an empty store.
func New[E, K any](options Options[E, K]) (*Store[E, K], error) {
	if options.ID == nil || options.Compare == nil {
		return nil, fmt.Errorf("ordset: Options.ID and Options.Compare are required")
	}
	s := &Store[E, K]{
		id:      cset.NewUUID(),
		options: options,
	}
	s.entries = avl.New(func(a, b Entry[E, K]) int {
		if c := options.Compare(a.key, b.key); c != 0 {
			return c
		}
		return cmp.Compare(a.Generation, b.Generation)
	})
	return s, nil
}

// ID returns the store's diagnostic identity.
func (s *Store[E, K]) ID() cset.UUID {
	return s.id
}

// Size returns the number of visible entries. Maintained incrementally.
func (s *Store[E, K]) Size() int {
	return s.visibleCount
}

// Generation returns the store's current generation counter. Diagnostic.
func (s *Store[E, K]) Generation() int64 {
	return s.generation
}

// byKey probes the index by bare identifier; entries compare equal on key
// regardless of generation.
func (s *Store[E, K]) byKey(k K) func(Entry[E, K]) int {
	return func(e Entry[E, K]) int {
		return s.options.Compare(k, e.key)
	}
}

// byDated probes the index by (identifier, generation).
func (s *Store[E, K]) byDated(k K, generation int64) func(Entry[E, K]) int {
	return func(e Entry[E, K]) int {
		if c := s.options.Compare(k, e.key); c != 0 {
			return c
		}
		return cmp.Compare(generation, e.Generation)
	}
}

func (s *Store[E, K]) newGeneration() (int64, error) {
	if s.generation == math.MaxInt64 {
		return 0, cset.NewError(cset.SequenceNumberOverflow, fmt.Errorf("store %v generation counter saturated", s.id))
	}
	s.generation++
	return s.generation, nil
}

// wrapCallback maps a user callback failure to the Unknown error code,
// keeping the closed status set intact across the public API.
func wrapCallback(err error) error {
	if err == nil {
		return nil
	}
	return cset.NewError(cset.Unknown, err)
}

func invokeFound[E, K any](found FoundFunc[E, K], e Entry[E, K]) error {
	if found == nil {
		return nil
	}
	return wrapCallback(found(e))
}

func invokeMissing(missing MissingFunc) error {
	if missing == nil {
		return nil
	}
	return wrapCallback(missing())
}

// findVisible returns the node of the unique visible entry for k, or nil.
func (s *Store[E, K]) findVisible(k K) *avl.Node[Entry[E, K]] {
	n := s.entries.LowerBound(s.byKey(k))
	for n != nil && s.options.Compare(k, n.Value.key) == 0 {
		if n.Value.Visible {
			return n
		}
		n = n.Next()
	}
	return nil
}

// upperBoundVisible returns the node of the first visible entry with key
// strictly greater than k, or nil.
func (s *Store[E, K]) upperBoundVisible(k K) *avl.Node[Entry[E, K]] {
	n := s.entries.UpperBound(s.byKey(k))
	for n != nil && !n.Value.Visible {
		n = n.Next()
	}
	return n
}

// Find invokes found with the visible entry equal to k, or missing when there
// is none. Pending (invisible) entries are skipped. Each callback is invoked
// at most once.
func (s *Store[E, K]) Find(k K, found FoundFunc[E, K], missing MissingFunc) error {
	if n := s.findVisible(k); n != nil {
		return invokeFound(found, n.Value)
	}
	return invokeMissing(missing)
}

// UpperBound invokes found with the first visible entry whose key is strictly
// greater than k, or missing when no such entry exists.
func (s *Store[E, K]) UpperBound(k K, found FoundFunc[E, K], missing MissingFunc) error {
	if n := s.upperBoundVisible(k); n != nil {
		return invokeFound(found, n.Value)
	}
	return invokeMissing(missing)
}

// Upsert inserts element as the newest visible entry for its key and drops any
// older visible entry sharing the key. Equivalent to a one-entry committed
// transaction.
func (s *Store[E, K]) Upsert(element E) error {
	generation, err := s.newGeneration()
	if err != nil {
		return err
	}
	k := s.options.ID(element)
	node := s.entries.Insert(Entry[E, K]{
		Element:    element,
		key:        k,
		Generation: generation,
		Visible:    true,
	})
	s.visibleCount++
	s.dropVisibleBefore(k, node)
	return nil
}

// UpsertAll atomically applies a batch of elements, all stamped with one fresh
// generation. The batch is built into a temporary ordered set first and then
// merged node by node, so a failure while building leaves the index unchanged.
func (s *Store[E, K]) UpsertAll(elements []E) error {
	generation, err := s.newGeneration()
	if err != nil {
		return err
	}
	batch := avl.New(s.entries.Compare())
	for _, element := range elements {
		batch.Insert(Entry[E, K]{
			Element:    element,
			key:        s.options.ID(element),
			Generation: generation,
			Visible:    true,
		})
	}
	for batch.Root() != nil {
		n := batch.Extract(batch.First())
		s.entries.InsertNode(n)
		s.visibleCount++
		s.dropVisibleBefore(n.Value.key, n)
	}
	return nil
}

// dropVisibleBefore removes every visible entry for k that sorts before the
// freshly inserted winner node.
func (s *Store[E, K]) dropVisibleBefore(k K, winner *avl.Node[Entry[E, K]]) {
	n := s.entries.LowerBound(s.byKey(k))
	for n != nil && n != winner {
		next := n.Next()
		if n.Value.Visible {
			s.entries.Extract(n)
			s.visibleCount--
		}
		n = next
	}
}

// Range iterates visible entries with keys in the half-open interval [lo, hi)
// in ascending key order, invoking cb with each element.
func (s *Store[E, K]) Range(lo, hi K, cb func(E) error) error {
	n := s.entries.LowerBound(s.byKey(lo))
	for n != nil && s.options.Compare(hi, n.Value.key) > 0 {
		if n.Value.Visible {
			if err := cb(n.Value.Element); err != nil {
				return wrapCallback(err)
			}
		}
		n = n.Next()
	}
	return nil
}

// RangeUpdate iterates visible entries in [lo, hi) like Range but additionally
// stamps each visited entry with one fresh generation, refreshing its recency
// if the caller embeds an LRU-like ordering. cb receives a pointer and may
// mutate the element in place, provided the mutation keeps the identifier
// projection unchanged. Restamped entries are relinked so the (key,
// generation) order of the index stays coherent.
func (s *Store[E, K]) RangeUpdate(lo, hi K, cb func(*E) error) error {
	generation, err := s.newGeneration()
	if err != nil {
		return err
	}
	n := s.entries.LowerBound(s.byKey(lo))
	for n != nil && s.options.Compare(hi, n.Value.key) > 0 {
		next := n.Next()
		// Entries stamped by this very call can be re-encountered after
		// relinking; the generation check skips them.
		if n.Value.Visible && n.Value.Generation != generation {
			if err := cb(&n.Value.Element); err != nil {
				return wrapCallback(err)
			}
			s.entries.Extract(n)
			n.Value.Generation = generation
			s.entries.InsertNode(n)
		}
		n = next
	}
	return nil
}

// EraseRange removes every visible entry with key in [lo, hi). Pending
// (invisible) entries are left untouched. cb, when not nil, observes each
// removed element before removal.
func (s *Store[E, K]) EraseRange(lo, hi K, cb func(E) error) error {
	n := s.entries.LowerBound(s.byKey(lo))
	for n != nil && s.options.Compare(hi, n.Value.key) > 0 {
		next := n.Next()
		if n.Value.Visible {
			if cb != nil {
				if err := cb(n.Value.Element); err != nil {
					return wrapCallback(err)
				}
			}
			s.entries.Extract(n)
			s.visibleCount--
		}
		n = next
	}
	return nil
}

// EraseKey removes the visible entry for k, if any. Pending entries stay.
func (s *Store[E, K]) EraseKey(k K) error {
	n := s.entries.LowerBound(s.byKey(k))
	for n != nil && s.options.Compare(k, n.Value.key) == 0 {
		next := n.Next()
		if n.Value.Visible {
			s.entries.Extract(n)
			s.visibleCount--
		}
		n = next
	}
	return nil
}

// Clear drops all entries, visible and pending, and resets the generation
// counter. Outstanding transactions must be reset by their owners.
func (s *Store[E, K]) Clear() error {
	s.entries.Clear()
	s.generation = 0
	s.visibleCount = 0
	return nil
}

// SampleRange picks one visible entry from [lo, hi) uniformly at random and
// passes its element to cb. Two-pass: the first pass counts candidates, the
// second stops on the drawn index. cb is not invoked on an empty range.
func (s *Store[E, K]) SampleRange(lo, hi K, rng *rand.Rand, cb func(E) error) error {
	count := 0
	if err := s.Range(lo, hi, func(E) error {
		count++
		return nil
	}); err != nil {
		return err
	}
	if count == 0 {
		return nil
	}
	target := rng.Intn(count)
	index := 0
	var picked E
	if err := s.Range(lo, hi, func(element E) error {
		if index == target {
			picked = element
			return errStopIteration
		}
		index++
		return nil
	}); err != nil && !errors.Is(err, errStopIteration) {
		return err
	}
	return wrapCallback(cb(picked))
}

// errStopIteration is used internally to cut a Range walk short.
var errStopIteration = fmt.Errorf("stop iteration")

// SampleReservoir runs Vitter's Algorithm R over the visible entries of
// [lo, hi). seen is the running count of observed candidates and may span
// multiple invocations (e.g. across partitions); reservoir keeps a uniform
// min(len(reservoir), *seen)-subset of everything observed so far.
func (s *Store[E, K]) SampleReservoir(lo, hi K, rng *rand.Rand, seen *int, reservoir []E) error {
	capacity := len(reservoir)
	return s.Range(lo, hi, func(element E) error {
		if *seen < capacity {
			reservoir[*seen] = element
		} else {
			slot := rng.Intn(*seen + 1)
			if slot < capacity {
				reservoir[slot] = element
			}
		}
		*seen++
		return nil
	})
}

// compact finalizes a committed write for k: the entry carrying
// commitGeneration becomes visible, older visible entries for k are removed,
// and a surviving visible tombstone is elided. Pending entries of other
// in-flight transactions are untouched.
func (s *Store[E, K]) compact(k K, commitGeneration int64) {
	var lastVisible *avl.Node[Entry[E, K]]
	n := s.entries.LowerBound(s.byKey(k))
	for n != nil && s.options.Compare(k, n.Value.key) == 0 {
		next := n.Next()
		if !n.Value.Visible && n.Value.Generation == commitGeneration {
			n.Value.Visible = true
			s.visibleCount++
		}
		if n.Value.Visible {
			// Only the newest visible revision survives.
			if lastVisible != nil {
				s.entries.Extract(lastVisible)
				s.visibleCount--
			}
			lastVisible = n
		}
		n = next
	}
	if lastVisible != nil && lastVisible.Value.Deleted {
		s.entries.Extract(lastVisible)
		s.visibleCount--
	}
}

// findDated returns the node with matching (k, generation) regardless of
// visibility. Used by rollback and reset to pull staged entries back out.
func (s *Store[E, K]) findDated(k K, generation int64) *avl.Node[Entry[E, K]] {
	return s.entries.Find(s.byDated(k, generation))
}
