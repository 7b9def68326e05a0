package ordset

import (
	"fmt"

	"github.com/sharedcode/cset"
	"github.com/sharedcode/cset/avl"
)

type transactionState int

const (
	stateCreated transactionState = iota
	stateStaged
)

// Transaction buffers writes against a Store and applies them atomically with
// optimistic conflict detection. Lifecycle: created -> staged (Stage) ->
// created (Commit, Rollback or Reset). Not safe for concurrent use; the store
// must outlive the transaction.
type Transaction[E, K any] struct {
	id    cset.UUID
	store *Store[E, K]

	// changes holds this transaction's pending writes, at most one per key.
	// Entries here are always invisible and stamped with the transaction's
	// current generation.
	changes *avl.Tree[Entry[E, K]]
	// watches holds the conflict-detection snapshots keyed by K. After Stage
	// it doubles as the commit index: one record per injected entry, keyed so
	// Commit/Rollback/Reset can find them by (key, generation).
	watches    *avl.Tree[watchRecord[K]]
	generation int64
	state      transactionState
}

// Transaction allocates a fresh transaction stamped with a new generation.
func (s *Store[E, K]) Transaction() (*Transaction[E, K], error) {
	generation, err := s.newGeneration()
	if err != nil {
		return nil, err
	}
	t := &Transaction[E, K]{
		id:         cset.NewUUID(),
		store:      s,
		generation: generation,
	}
	t.changes = avl.New(func(a, b Entry[E, K]) int {
		return s.options.Compare(a.key, b.key)
	})
	t.watches = avl.New(func(a, b watchRecord[K]) int {
		return s.options.Compare(a.key, b.key)
	})
	return t, nil
}

// ID returns the transaction's diagnostic identity.
func (t *Transaction[E, K]) ID() cset.UUID {
	return t.id
}

// Generation returns the generation pending writes are stamped with.
func (t *Transaction[E, K]) Generation() int64 {
	return t.generation
}

// Staged reports whether the transaction is in the staged state.
func (t *Transaction[E, K]) Staged() bool {
	return t.state == stateStaged
}

// missingWatch encodes "key did not exist at watch time".
func (t *Transaction[E, K]) missingWatch() Watch {
	return Watch{Generation: t.generation, Deleted: true}
}

func (t *Transaction[E, K]) probeKey(k K) func(Entry[E, K]) int {
	return func(e Entry[E, K]) int {
		return t.store.options.Compare(k, e.key)
	}
}

func (t *Transaction[E, K]) probeWatch(k K) func(watchRecord[K]) int {
	return func(w watchRecord[K]) int {
		return t.store.options.Compare(k, w.key)
	}
}

func (t *Transaction[E, K]) recordWatch(k K, w Watch) {
	if n := t.watches.Find(t.probeWatch(k)); n != nil {
		n.Value.watch = w
		return
	}
	t.watches.Insert(watchRecord[K]{key: k, watch: w})
}

// Watch snapshots the current state of k in the shared index. Stage later
// fails with Consistency if the key changed in between. Watching the same key
// twice keeps the later snapshot.
func (t *Transaction[E, K]) Watch(k K) error {
	return t.store.Find(k,
		func(e Entry[E, K]) error {
			t.recordWatch(e.key, Watch{Generation: e.Generation, Deleted: e.Deleted})
			return nil
		},
		func() error {
			t.recordWatch(k, t.missingWatch())
			return nil
		})
}

// WatchEntry records a watch from an entry the caller already holds, skipping
// the index read.
func (t *Transaction[E, K]) WatchEntry(e Entry[E, K]) error {
	t.recordWatch(e.key, Watch{Generation: e.Generation, Deleted: e.Deleted})
	return nil
}

// Upsert records element as a pending write, overwriting any prior pending
// write or tombstone for the same key.
func (t *Transaction[E, K]) Upsert(element E) error {
	k := t.store.options.ID(element)
	if n := t.changes.Find(t.probeKey(k)); n != nil {
		n.Value.Element = element
		n.Value.key = k
		n.Value.Generation = t.generation
		n.Value.Deleted = false
		n.Value.Visible = false
		return nil
	}
	t.changes.Insert(Entry[E, K]{
		Element:    element,
		key:        k,
		Generation: t.generation,
	})
	return nil
}

// Erase records a tombstone for k, overwriting any prior pending write.
func (t *Transaction[E, K]) Erase(k K) error {
	if n := t.changes.Find(t.probeKey(k)); n != nil {
		n.Value.Generation = t.generation
		n.Value.Deleted = true
		n.Value.Visible = false
		return nil
	}
	t.changes.Insert(Entry[E, K]{
		key:        k,
		Generation: t.generation,
		Deleted:    true,
	})
	return nil
}

// Find resolves k with this transaction's pending writes shadowing the shared
// index: a pending write wins, a pending tombstone reads as missing, and an
// untouched key falls through to the store.
func (t *Transaction[E, K]) Find(k K, found FoundFunc[E, K], missing MissingFunc) error {
	if n := t.changes.Find(t.probeKey(k)); n != nil {
		if n.Value.Deleted {
			return invokeMissing(missing)
		}
		return invokeFound(found, n.Value)
	}
	return t.store.Find(k, found, missing)
}

// UpperBound resolves the first key strictly greater than k as seen through
// this transaction: pending writes merge into the shared order and pending
// tombstones mask shared entries. Masked shared entries force another probe
// with the masked key as the new seed, so a run of tombstones is stepped over
// one shared lookup at a time.
func (t *Transaction[E, K]) UpperBound(k K, found FoundFunc[E, K], missing MissingFunc) error {
	compare := t.store.options.Compare

	local := t.changes.UpperBound(t.probeKey(k))
	for local != nil && local.Value.Deleted {
		local = local.Next()
	}

	shared := t.store.upperBoundVisible(k)
	for {
		if shared == nil {
			if local == nil {
				return invokeMissing(missing)
			}
			return invokeFound(found, local.Value)
		}
		if local != nil && compare(local.Value.key, shared.Value.key) <= 0 {
			// The local change shadows an equal shared key and wins a smaller one.
			return invokeFound(found, local.Value)
		}
		if n := t.changes.Find(t.probeKey(shared.Value.key)); n != nil && n.Value.Deleted {
			// Deleted here; re-probe past the masked key.
			shared = t.store.upperBoundVisible(shared.Value.key)
			continue
		}
		return invokeFound(found, shared.Value)
	}
}

// Stage validates this transaction's watches against the shared index and, on
// success, injects the pending writes as invisible entries. Three phases:
// watch validation, commit-index preparation, and an allocation-free node
// merge. On a Consistency failure the transaction stays in created and the
// index is untouched.
func (t *Transaction[E, K]) Stage() error {
	if t.state == stateStaged {
		return cset.NewError(cset.OperationNotPermitted, fmt.Errorf("transaction %v is already staged", t.id))
	}

	// Phase 1: check for collisions on everything watched.
	for w := t.watches.First(); w != nil; w = w.Next() {
		record := w.Value
		violated := false
		err := t.store.Find(record.key,
			func(e Entry[E, K]) error {
				violated = e.Generation != record.watch.Generation || e.Deleted != record.watch.Deleted
				return nil
			},
			func() error {
				violated = t.missingWatch() != record.watch
				return nil
			})
		if err != nil {
			return err
		}
		if violated {
			return cset.NewError(cset.Consistency, fmt.Errorf("transaction %v: watched key changed", t.id))
		}
	}

	// Phase 2: repoint the watch set at the entries being injected, so commit,
	// rollback and reset can find them by (key, generation) without rescanning.
	t.watches.Clear()
	for c := t.changes.First(); c != nil; c = c.Next() {
		t.watches.Insert(watchRecord[K]{
			key:   c.Value.key,
			watch: Watch{Generation: t.generation, Deleted: c.Value.Deleted},
		})
	}

	// Phase 3: node-move merge, allocation-free. Injected entries stay
	// invisible until Commit flips them.
	t.store.entries.Merge(t.changes)
	t.state = stateStaged
	return nil
}

// Commit makes the staged entries visible and compacts older revisions per
// key. Infallible under the Stage contract.
func (t *Transaction[E, K]) Commit() error {
	if t.state != stateStaged {
		return cset.NewError(cset.OperationNotPermitted, fmt.Errorf("transaction %v: commit outside staged state", t.id))
	}
	for w := t.watches.First(); w != nil; w = w.Next() {
		t.store.compact(w.Value.key, w.Value.watch.Generation)
	}
	t.state = stateCreated
	return nil
}

// Rollback withdraws the staged entries from the shared index and returns
// them to this transaction's pending writes, restamped with a fresh
// generation. The transaction goes back to created with its changes intact.
func (t *Transaction[E, K]) Rollback() error {
	if t.state != stateStaged {
		return cset.NewError(cset.OperationNotPermitted, fmt.Errorf("transaction %v: rollback outside staged state", t.id))
	}
	for w := t.watches.First(); w != nil; w = w.Next() {
		if node := t.store.findDated(w.Value.key, w.Value.watch.Generation); node != nil {
			t.store.entries.Extract(node)
			t.changes.InsertNode(node)
		}
	}
	t.watches.Clear()
	t.state = stateCreated

	generation, err := t.store.newGeneration()
	if err != nil {
		return err
	}
	t.generation = generation
	// Changes are ordered by key alone, so restamping does not disturb them.
	for c := t.changes.First(); c != nil; c = c.Next() {
		c.Value.Generation = generation
	}
	return nil
}

// Reset discards all pending writes and watches from any state. A staged
// transaction's injected entries are withdrawn from the shared index and
// dropped. Reset is idempotent.
func (t *Transaction[E, K]) Reset() error {
	if t.state == stateStaged {
		for w := t.watches.First(); w != nil; w = w.Next() {
			if node := t.store.findDated(w.Value.key, w.Value.watch.Generation); node != nil {
				t.store.entries.Extract(node)
			}
		}
	}
	t.watches.Clear()
	t.changes.Clear()
	t.state = stateCreated

	generation, err := t.store.newGeneration()
	if err != nil {
		return err
	}
	t.generation = generation
	return nil
}
