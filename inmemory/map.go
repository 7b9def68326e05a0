// Package inmemory offers a typed, ordered key/value view over the
// partitioned consistent set, usable like a concurrent sorted map with
// multi-key transactions. Keys order through the catch-all Compare (or a
// caller-supplied ComparerFunc) and hash through FNV-1a, mirroring how the
// partitions of the underlying store are routed.
package inmemory

import (
	"context"
	"fmt"
	"hash/fnv"

	"github.com/sharedcode/cset"
	"github.com/sharedcode/cset/ordset"
	"github.com/sharedcode/cset/partitioned"
)

type pair[TK comparable, TV any] = cset.KeyValuePair[TK, TV]

// Map is an ordered key/value facade over a partitioned store. Safe for
// concurrent use.
type Map[TK comparable, TV any] struct {
	store *partitioned.Store[pair[TK, TV], TK]
}

// NewMap constructs a Map ordered by the catch-all Compare.
func NewMap[TK comparable, TV any]() (*Map[TK, TV], error) {
	return NewMapWithComparer[TK, TV](func(a, b TK) int {
		return Compare(a, b)
	})
}

// NewMapWithComparer constructs a Map ordered by comparer.
func NewMapWithComparer[TK comparable, TV any](comparer ComparerFunc[TK]) (*Map[TK, TV], error) {
	store, err := partitioned.New(partitioned.Options[pair[TK, TV], TK]{
		ID:      func(p pair[TK, TV]) TK { return p.Key },
		Compare: comparer,
		Hash:    hashKey[TK],
	})
	if err != nil {
		return nil, err
	}
	return &Map[TK, TV]{store: store}, nil
}

// hashKey routes keys to partitions. Strings hash over their bytes; other key
// types hash over their default format, matching the Compare fallback.
func hashKey[TK comparable](k TK) uint64 {
	h := fnv.New64a()
	if s, ok := any(k).(string); ok {
		h.Write([]byte(s))
	} else {
		fmt.Fprintf(h, "%v", k)
	}
	return h.Sum64()
}

// Store exposes the underlying partitioned store for callers that need the
// lower-level surface (sampling, range updates, raw transactions).
func (m *Map[TK, TV]) Store() *partitioned.Store[pair[TK, TV], TK] {
	return m.store
}

// Set inserts or replaces the value for key.
func (m *Map[TK, TV]) Set(key TK, value TV) error {
	return m.store.Upsert(pair[TK, TV]{Key: key, Value: value})
}

// SetAll applies a batch of pairs atomically across partitions.
func (m *Map[TK, TV]) SetAll(ctx context.Context, pairs []cset.KeyValuePair[TK, TV]) error {
	return m.store.UpsertAll(ctx, pairs)
}

// Get returns the value for key and whether it was present.
func (m *Map[TK, TV]) Get(key TK) (TV, bool, error) {
	var value TV
	found := false
	err := m.store.Find(key, func(e ordset.Entry[pair[TK, TV], TK]) error {
		value = e.Element.Value
		found = true
		return nil
	}, nil)
	return value, found, err
}

// Next returns the smallest key strictly greater than key, with its value.
func (m *Map[TK, TV]) Next(ctx context.Context, key TK) (TK, TV, bool, error) {
	var nk TK
	var nv TV
	found := false
	err := m.store.UpperBound(ctx, key, func(e ordset.Entry[pair[TK, TV], TK]) error {
		nk = e.Element.Key
		nv = e.Element.Value
		found = true
		return nil
	}, nil)
	return nk, nv, found, err
}

// Delete removes key's entry, if present.
func (m *Map[TK, TV]) Delete(key TK) error {
	return m.store.EraseKey(key)
}

// Count returns the number of entries across all partitions.
func (m *Map[TK, TV]) Count(ctx context.Context) (int, error) {
	return m.store.Size(ctx)
}

// Each invokes fn for every pair with key in [lo, hi). Within a partition
// pairs arrive in ascending key order; across partitions there is no global
// order.
func (m *Map[TK, TV]) Each(ctx context.Context, lo, hi TK, fn func(TK, TV) error) error {
	return m.store.Range(ctx, lo, hi, func(p pair[TK, TV]) error {
		return fn(p.Key, p.Value)
	})
}

// Clear empties the map.
func (m *Map[TK, TV]) Clear(ctx context.Context) error {
	return m.store.Clear(ctx)
}

// Txn is a typed view over a multi-partition transaction.
type Txn[TK comparable, TV any] struct {
	m   *Map[TK, TV]
	txn *partitioned.Transaction[pair[TK, TV], TK]
}

// Begin opens a transaction against the map.
func (m *Map[TK, TV]) Begin() (*Txn[TK, TV], error) {
	txn, err := m.store.Transaction()
	if err != nil {
		return nil, err
	}
	return &Txn[TK, TV]{m: m, txn: txn}, nil
}

// Watch snapshots key for optimistic conflict detection at Stage time.
func (t *Txn[TK, TV]) Watch(key TK) error {
	return t.txn.Watch(key)
}

// Set records a pending write of key to value.
func (t *Txn[TK, TV]) Set(key TK, value TV) error {
	return t.txn.Upsert(pair[TK, TV]{Key: key, Value: value})
}

// Delete records a pending tombstone for key.
func (t *Txn[TK, TV]) Delete(key TK) error {
	return t.txn.Erase(key)
}

// Get resolves key with this transaction's pending writes shadowing the map.
func (t *Txn[TK, TV]) Get(key TK) (TV, bool, error) {
	var value TV
	found := false
	err := t.txn.Find(key, func(e ordset.Entry[pair[TK, TV], TK]) error {
		value = e.Element.Value
		found = true
		return nil
	}, nil)
	return value, found, err
}

// Stage validates watches and injects pending writes; Commit publishes them.
func (t *Txn[TK, TV]) Stage(ctx context.Context) error {
	return t.txn.Stage(ctx)
}

// Commit publishes staged writes.
func (t *Txn[TK, TV]) Commit(ctx context.Context) error {
	return t.txn.Commit(ctx)
}

// Rollback withdraws staged writes back into the transaction.
func (t *Txn[TK, TV]) Rollback(ctx context.Context) error {
	return t.txn.Rollback(ctx)
}

// Reset discards the transaction's pending state, from any state.
func (t *Txn[TK, TV]) Reset(ctx context.Context) error {
	return t.txn.Reset(ctx)
}
