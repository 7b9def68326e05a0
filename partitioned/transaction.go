package partitioned

import (
	"context"
	"fmt"

	"github.com/sharedcode/cset"
	"github.com/sharedcode/cset/ordset"
)

// Transaction aggregates one sub-transaction per partition. Key-routed
// operations touch a single partition; Stage, Commit, Rollback and Reset walk
// all of them through the exclusive try-lock loop, applying to each
// sub-transaction as its partition lock is acquired.
//
// Stage is the only lifecycle operation that can fail midway (a watch
// violation). Sub-transactions staged before the failure are left staged:
// staging is a checkpoint, and the caller decides between Rollback (affects
// only the partitions actually staged) and Reset (works from any state).
type Transaction[E, K any] struct {
	store      *Store[E, K]
	parts      [PartitionCount]*ordset.Transaction[E, K]
	generation int64
}

// Transaction opens a multi-partition transaction, allocating one
// sub-transaction per partition under that partition's exclusive lock.
func (s *Store[E, K]) Transaction() (*Transaction[E, K], error) {
	t := &Transaction[E, K]{store: s}
	for i := range s.parts {
		s.mutexes[i].Lock()
		sub, err := s.parts[i].Transaction()
		s.mutexes[i].Unlock()
		if err != nil {
			return nil, err
		}
		t.parts[i] = sub
	}
	t.generation = s.newGeneration()
	return t, nil
}

// Generation returns the wrapper-level generation stamped on this
// transaction. Diagnostic; per-partition generations drive conflict checks.
func (t *Transaction[E, K]) Generation() int64 {
	return t.generation
}

// Watch snapshots k's state in its partition, under that partition's shared lock.
func (t *Transaction[E, K]) Watch(k K) error {
	i := t.store.bucket(k)
	t.store.mutexes[i].RLock()
	defer t.store.mutexes[i].RUnlock()
	return t.parts[i].Watch(k)
}

// Upsert records a pending write. Pending state is transaction-local, so no
// partition lock is needed until Stage.
func (t *Transaction[E, K]) Upsert(element E) error {
	i := t.store.bucket(t.store.options.ID(element))
	return t.parts[i].Upsert(element)
}

// Erase records a pending tombstone for k.
func (t *Transaction[E, K]) Erase(k K) error {
	return t.parts[t.store.bucket(k)].Erase(k)
}

// Find resolves k through the owning sub-transaction's overlay, under the
// partition's shared lock.
func (t *Transaction[E, K]) Find(k K, found ordset.FoundFunc[E, K], missing ordset.MissingFunc) error {
	i := t.store.bucket(k)
	t.store.mutexes[i].RLock()
	defer t.store.mutexes[i].RUnlock()
	return t.parts[i].Find(k, found, missing)
}

// UpperBound resolves the first key strictly greater than k as seen through
// this transaction's overlays, across all partitions. Same scan-then-
// materialize shape as the store's UpperBound, with each partition's
// candidate produced by its sub-transaction.
func (t *Transaction[E, K]) UpperBound(ctx context.Context, k K, found ordset.FoundFunc[E, K], missing ordset.MissingFunc) error {
	s := t.store
	for restart := 0; restart < s.options.MaxRestarts; restart++ {
		best, err := s.scanUpperBound(ctx, func(partition int, probe func(ordset.Entry[E, K]) error) error {
			return t.parts[partition].UpperBound(k, probe, nil)
		})
		if err != nil {
			return err
		}
		if best == nil {
			return invokeMissing(missing)
		}
		i := s.bucket(*best)
		s.mutexes[i].RLock()
		vanished := false
		err = t.parts[i].Find(*best, found, func() error {
			vanished = true
			return nil
		})
		s.mutexes[i].RUnlock()
		if err != nil {
			return err
		}
		if !vanished {
			return nil
		}
	}
	return cset.NewError(cset.WouldBlock, fmt.Errorf("store %v: upper-bound restart budget exhausted", s.id))
}

// Stage stages every sub-transaction, each under its partition's exclusive
// lock as acquired by the try-lock loop. On a Consistency failure the walk
// stops; see the type comment for the partial-staging contract.
func (t *Transaction[E, K]) Stage(ctx context.Context) error {
	return t.store.forAll(ctx, true, func(partition int) error {
		return t.parts[partition].Stage()
	})
}

// Commit commits every sub-transaction. All of them must be staged.
func (t *Transaction[E, K]) Commit(ctx context.Context) error {
	return t.store.forAll(ctx, true, func(partition int) error {
		return t.parts[partition].Commit()
	})
}

// Rollback withdraws staged entries back into their sub-transactions. Only
// partitions actually in the staged state are touched, so Rollback is the
// designated cleanup after a midway Stage failure.
func (t *Transaction[E, K]) Rollback(ctx context.Context) error {
	err := t.store.forAll(ctx, true, func(partition int) error {
		if !t.parts[partition].Staged() {
			return nil
		}
		return t.parts[partition].Rollback()
	})
	if err != nil {
		return err
	}
	t.generation = t.store.newGeneration()
	return nil
}

// Reset discards every sub-transaction's pending state, from any state.
func (t *Transaction[E, K]) Reset(ctx context.Context) error {
	err := t.store.forAll(ctx, true, func(partition int) error {
		return t.parts[partition].Reset()
	})
	if err != nil {
		return err
	}
	t.generation = t.store.newGeneration()
	return nil
}
