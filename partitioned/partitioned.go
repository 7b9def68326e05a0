// Package partitioned shards the consistent ordered set across a fixed number
// of independently read/write-locked partitions, routed by a caller-supplied
// hash over identifiers. Single-key operations touch one partition; range and
// lifecycle operations coordinate all of them with bounded try-lock loops.
//
// Cross-partition reads trade consistency for performance: a Range observes a
// union of per-partition states taken while the acquire pass runs. Callers
// needing a consistent multi-key view use a Transaction.
package partitioned

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"

	"github.com/sharedcode/cset"
	"github.com/sharedcode/cset/ordset"
)

// PartitionCount is the fixed partition width. Kept a compile-time constant so
// the partition and mutex tables are flat arrays.
const PartitionCount = 16

const (
	defaultMaxLockPasses = 1024
	defaultMaxRestarts   = 16
)

// Options configures a partitioned Store. ID, Compare and Hash are required;
// keys that compare equal must hash equal. The budgets bound the try-lock
// loops (MaxLockPasses) and the scan-then-materialize retry of UpperBound
// (MaxRestarts); both surface WouldBlock when exhausted.
type Options[E, K any] struct {
	ID      func(E) K
	Compare func(K, K) int
	Hash    func(K) uint64

	MaxLockPasses int
	MaxRestarts   int
}

// Store is the partitioned facade over ordset.Store. Safe for concurrent use.
type Store[E, K any] struct {
	id      cset.UUID
	options Options[E, K]

	mutexes [PartitionCount]sync.RWMutex
	parts   [PartitionCount]*ordset.Store[E, K]

	// generation stamps multi-partition transactions, independent of the
	// per-partition counters. Diagnostic only.
	generation atomic.Int64
}

// New constructs a partitioned store with empty partitions.
func New[E, K any](options Options[E, K]) (*Store[E, K], error) {
	if options.ID == nil || options.Compare == nil || options.Hash == nil {
		return nil, fmt.Errorf("partitioned: Options.ID, Options.Compare and Options.Hash are required")
	}
	if options.MaxLockPasses <= 0 {
		options.MaxLockPasses = defaultMaxLockPasses
	}
	if options.MaxRestarts <= 0 {
		options.MaxRestarts = defaultMaxRestarts
	}
	s := &Store[E, K]{
		id:      cset.NewUUID(),
		options: options,
	}
	for i := range s.parts {
		part, err := ordset.New(ordset.Options[E, K]{ID: options.ID, Compare: options.Compare})
		if err != nil {
			return nil, err
		}
		s.parts[i] = part
	}
	return s, nil
}

// ID returns the store's diagnostic identity.
func (s *Store[E, K]) ID() cset.UUID {
	return s.id
}

// Generation returns the wrapper-level transaction generation. Diagnostic.
func (s *Store[E, K]) Generation() int64 {
	return s.generation.Load()
}

func (s *Store[E, K]) newGeneration() int64 {
	return s.generation.Add(1)
}

func (s *Store[E, K]) bucket(k K) int {
	return int(s.options.Hash(k) % PartitionCount)
}

// Size returns the number of visible entries across all partitions, counted
// with every partition share-locked.
func (s *Store[E, K]) Size(ctx context.Context) (int, error) {
	if err := s.lockAll(ctx, false); err != nil {
		return 0, err
	}
	defer s.unlockAll(false)
	total := 0
	for _, part := range s.parts {
		total += part.Size()
	}
	return total, nil
}

// Upsert routes element to its partition and applies a direct write there.
func (s *Store[E, K]) Upsert(element E) error {
	i := s.bucket(s.options.ID(element))
	s.mutexes[i].Lock()
	defer s.mutexes[i].Unlock()
	return s.parts[i].Upsert(element)
}

// UpsertAll applies a batch of elements across partitions atomically by
// running a multi-partition transaction underneath.
func (s *Store[E, K]) UpsertAll(ctx context.Context, elements []E) error {
	t, err := s.Transaction()
	if err != nil {
		return err
	}
	for _, element := range elements {
		if err := t.Upsert(element); err != nil {
			return err
		}
	}
	if err := t.Stage(ctx); err != nil {
		// Partial staging is possible; withdraw whatever went in.
		_ = t.Reset(ctx)
		return err
	}
	return t.Commit(ctx)
}

// Find resolves k inside its partition under a shared lock.
func (s *Store[E, K]) Find(k K, found ordset.FoundFunc[E, K], missing ordset.MissingFunc) error {
	i := s.bucket(k)
	s.mutexes[i].RLock()
	defer s.mutexes[i].RUnlock()
	return s.parts[i].Find(k, found, missing)
}

// EraseKey removes the visible entry for k, if any, inside its partition.
func (s *Store[E, K]) EraseKey(k K) error {
	i := s.bucket(k)
	s.mutexes[i].Lock()
	defer s.mutexes[i].Unlock()
	return s.parts[i].EraseKey(k)
}

// UpperBound resolves the first key strictly greater than k across all
// partitions. Two phases: with every partition share-locked, each partition
// reports its candidate (scanned concurrently through a TaskRunner) and the
// smallest wins; locks are dropped and the winner is materialized from its
// partition alone. If the winner disappeared in between (a concurrent erase
// committed), the whole procedure restarts, up to MaxRestarts times.
func (s *Store[E, K]) UpperBound(ctx context.Context, k K, found ordset.FoundFunc[E, K], missing ordset.MissingFunc) error {
	for restart := 0; restart < s.options.MaxRestarts; restart++ {
		best, err := s.scanUpperBound(ctx, func(partition int, probe func(ordset.Entry[E, K]) error) error {
			return s.parts[partition].UpperBound(k, probe, nil)
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
		err = s.parts[i].Find(*best, found, func() error {
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

// scanUpperBound holds shared locks on all partitions, collects one candidate
// key per partition via lookup, and returns the smallest. A nil result means
// no partition had a candidate.
func (s *Store[E, K]) scanUpperBound(ctx context.Context, lookup func(partition int, probe func(ordset.Entry[E, K]) error) error) (*K, error) {
	if err := s.lockAll(ctx, false); err != nil {
		return nil, err
	}
	defer s.unlockAll(false)

	var mu sync.Mutex
	var best *K
	runner := cset.NewTaskRunner(ctx, PartitionCount)
	for i := range s.parts {
		partition := i
		runner.Go(func() error {
			return lookup(partition, func(e ordset.Entry[E, K]) error {
				key := e.Key()
				mu.Lock()
				if best == nil || s.options.Compare(key, *best) < 0 {
					best = &key
				}
				mu.Unlock()
				return nil
			})
		})
	}
	if err := runner.Wait(); err != nil {
		return nil, err
	}
	return best, nil
}

// Range iterates visible entries with keys in [lo, hi) while all partitions
// are share-locked. Within a partition elements arrive in ascending key
// order; across partitions there is no global order and no single snapshot.
func (s *Store[E, K]) Range(ctx context.Context, lo, hi K, cb func(E) error) error {
	if err := s.lockAll(ctx, false); err != nil {
		return err
	}
	defer s.unlockAll(false)
	for _, part := range s.parts {
		if err := part.Range(lo, hi, cb); err != nil {
			return err
		}
	}
	return nil
}

// RangeUpdate is Range with all partitions exclusively locked; each visited
// entry is restamped with a fresh per-partition generation and may be mutated
// through the callback pointer.
func (s *Store[E, K]) RangeUpdate(ctx context.Context, lo, hi K, cb func(*E) error) error {
	if err := s.lockAll(ctx, true); err != nil {
		return err
	}
	defer s.unlockAll(true)
	for _, part := range s.parts {
		if err := part.RangeUpdate(lo, hi, cb); err != nil {
			return err
		}
	}
	return nil
}

// EraseRange removes visible entries with keys in [lo, hi) from every
// partition under exclusive locks.
func (s *Store[E, K]) EraseRange(ctx context.Context, lo, hi K, cb func(E) error) error {
	if err := s.lockAll(ctx, true); err != nil {
		return err
	}
	defer s.unlockAll(true)
	for _, part := range s.parts {
		if err := part.EraseRange(lo, hi, cb); err != nil {
			return err
		}
	}
	return nil
}

// Clear empties every partition under exclusive locks. Per-partition
// generation counters restart from zero; outstanding transactions must be
// reset by their owners.
func (s *Store[E, K]) Clear(ctx context.Context) error {
	if err := s.lockAll(ctx, true); err != nil {
		return err
	}
	defer s.unlockAll(true)
	for _, part := range s.parts {
		if err := part.Clear(); err != nil {
			return err
		}
	}
	return nil
}

// SampleRange draws one element from [lo, hi) out of a single randomly chosen
// partition. The assumption is that every partition holds a comparable share
// of the range; callers needing exactness sample a non-partitioned store.
func (s *Store[E, K]) SampleRange(lo, hi K, rng *rand.Rand, cb func(E) error) error {
	i := rng.Intn(PartitionCount)
	s.mutexes[i].RLock()
	defer s.mutexes[i].RUnlock()
	return s.parts[i].SampleRange(lo, hi, rng, cb)
}

// SampleReservoir feeds the visible entries of [lo, hi) from every partition
// through one shared reservoir (Vitter's Algorithm R). Partitions are visited
// under their own shared locks, one at a time; the union is not a single
// snapshot.
func (s *Store[E, K]) SampleReservoir(ctx context.Context, lo, hi K, rng *rand.Rand, seen *int, reservoir []E) error {
	return s.forAll(ctx, false, func(partition int) error {
		return s.parts[partition].SampleReservoir(lo, hi, rng, seen, reservoir)
	})
}

func invokeMissing(missing ordset.MissingFunc) error {
	if missing == nil {
		return nil
	}
	if err := missing(); err != nil {
		return cset.NewError(cset.Unknown, err)
	}
	return nil
}
