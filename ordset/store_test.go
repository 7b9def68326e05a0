package ordset

import (
	"fmt"
	"math"
	"testing"

	"github.com/sharedcode/cset"
)

type kv = cset.KeyValuePair[int, string]

func newTestStore(t *testing.T) *Store[kv, int] {
	t.Helper()
	s, err := New(Options[kv, int]{
		ID:      func(p kv) int { return p.Key },
		Compare: func(a, b int) int { return a - b },
	})
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func mustGet(t *testing.T, s *Store[kv, int], k int) string {
	t.Helper()
	var v string
	found := false
	if err := s.Find(k, func(e Entry[kv, int]) error {
		v = e.Element.Value
		found = true
		return nil
	}, nil); err != nil {
		t.Fatal(err)
	}
	if !found {
		t.Fatalf("key %d missing", k)
	}
	return v
}

func mustMiss(t *testing.T, s *Store[kv, int], k int) {
	t.Helper()
	missed := false
	if err := s.Find(k, func(e Entry[kv, int]) error {
		t.Fatalf("key %d unexpectedly found: %v", k, e.Element)
		return nil
	}, func() error {
		missed = true
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	if !missed {
		t.Fatalf("neither callback fired for key %d", k)
	}
}

func rangeKeys(t *testing.T, s *Store[kv, int], lo, hi int) []string {
	t.Helper()
	var out []string
	if err := s.Range(lo, hi, func(p kv) error {
		out = append(out, p.Value)
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	return out
}

func TestUpsertFind(t *testing.T) {
	s := newTestStore(t)
	if err := s.Upsert(kv{Key: 7, Value: "42"}); err != nil {
		t.Fatal(err)
	}
	if got := mustGet(t, s, 7); got != "42" {
		t.Fatalf("find(7) = %q, want 42", got)
	}
	if s.Size() != 1 {
		t.Fatalf("Size() = %d, want 1", s.Size())
	}
	mustMiss(t, s, 8)
}

func TestUpsertReplaces(t *testing.T) {
	s := newTestStore(t)
	s.Upsert(kv{Key: 1, Value: "a"})
	s.Upsert(kv{Key: 1, Value: "b"})
	if got := mustGet(t, s, 1); got != "b" {
		t.Fatalf("find(1) = %q, want b", got)
	}
	if s.Size() != 1 {
		t.Fatalf("Size() = %d after replacing, want 1", s.Size())
	}
}

func TestUpsertAll(t *testing.T) {
	s := newTestStore(t)
	s.Upsert(kv{Key: 2, Value: "old"})
	err := s.UpsertAll([]kv{
		{Key: 1, Value: "a"},
		{Key: 2, Value: "b"},
		{Key: 3, Value: "c1"},
		{Key: 3, Value: "c2"}, // duplicate in one batch: last wins
	})
	if err != nil {
		t.Fatal(err)
	}
	if s.Size() != 3 {
		t.Fatalf("Size() = %d, want 3", s.Size())
	}
	if got := mustGet(t, s, 2); got != "b" {
		t.Fatalf("find(2) = %q, want b", got)
	}
	if got := mustGet(t, s, 3); got != "c2" {
		t.Fatalf("find(3) = %q, want c2", got)
	}
}

func TestUpperBound(t *testing.T) {
	s := newTestStore(t)
	for _, k := range []int{10, 20, 30} {
		s.Upsert(kv{Key: k, Value: fmt.Sprintf("v%d", k)})
	}
	var hit int
	found := false
	if err := s.UpperBound(15, func(e Entry[kv, int]) error {
		hit = e.Element.Key
		found = true
		return nil
	}, nil); err != nil {
		t.Fatal(err)
	}
	if !found || hit != 20 {
		t.Fatalf("UpperBound(15) = %d found=%v, want 20", hit, found)
	}
	missed := false
	if err := s.UpperBound(30, nil, func() error {
		missed = true
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	if !missed {
		t.Fatal("UpperBound(30) should miss")
	}
}

func TestRangeHalfOpen(t *testing.T) {
	s := newTestStore(t)
	for _, k := range []int{1, 2, 3, 4, 5} {
		s.Upsert(kv{Key: k, Value: fmt.Sprintf("v%d", k)})
	}
	got := rangeKeys(t, s, 2, 4)
	want := []string{"v2", "v3"}
	if len(got) != len(want) {
		t.Fatalf("range(2,4) = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("range(2,4) = %v, want %v", got, want)
		}
	}
}

func TestEraseRange(t *testing.T) {
	s := newTestStore(t)
	for _, k := range []int{1, 2, 3, 4} {
		s.Upsert(kv{Key: k, Value: fmt.Sprintf("v%d", k)})
	}
	var removed []int
	if err := s.EraseRange(2, 4, func(p kv) error {
		removed = append(removed, p.Key)
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	if len(removed) != 2 || removed[0] != 2 || removed[1] != 3 {
		t.Fatalf("removed %v, want [2 3]", removed)
	}
	if s.Size() != 2 {
		t.Fatalf("Size() = %d, want 2", s.Size())
	}
	mustMiss(t, s, 2)
	mustMiss(t, s, 3)
	mustGet(t, s, 1)
	mustGet(t, s, 4)
}

func TestEraseRangeLeavesPending(t *testing.T) {
	s := newTestStore(t)
	s.Upsert(kv{Key: 1, Value: "a"})
	txn, err := s.Transaction()
	if err != nil {
		t.Fatal(err)
	}
	txn.Upsert(kv{Key: 2, Value: "pending"})
	if err := txn.Stage(); err != nil {
		t.Fatal(err)
	}
	if err := s.EraseRange(0, 10, nil); err != nil {
		t.Fatal(err)
	}
	if s.Size() != 0 {
		t.Fatalf("Size() = %d, want 0", s.Size())
	}
	// The staged entry survived and still commits.
	if err := txn.Commit(); err != nil {
		t.Fatal(err)
	}
	if got := mustGet(t, s, 2); got != "pending" {
		t.Fatalf("find(2) = %q after commit", got)
	}
}

func TestEraseKey(t *testing.T) {
	s := newTestStore(t)
	s.Upsert(kv{Key: 1, Value: "a"})
	s.Upsert(kv{Key: 2, Value: "b"})
	if err := s.EraseKey(1); err != nil {
		t.Fatal(err)
	}
	mustMiss(t, s, 1)
	mustGet(t, s, 2)
	if s.Size() != 1 {
		t.Fatalf("Size() = %d, want 1", s.Size())
	}
}

func TestClearResetsGeneration(t *testing.T) {
	s := newTestStore(t)
	s.Upsert(kv{Key: 1, Value: "a"})
	if err := s.Clear(); err != nil {
		t.Fatal(err)
	}
	if s.Size() != 0 || s.Generation() != 0 {
		t.Fatalf("Size=%d Generation=%d after Clear", s.Size(), s.Generation())
	}
	mustMiss(t, s, 1)
}

func TestRangeUpdateStampsGenerations(t *testing.T) {
	s := newTestStore(t)
	for _, k := range []int{1, 2, 3} {
		s.Upsert(kv{Key: k, Value: "x"})
	}
	before := s.Generation()
	visits := 0
	if err := s.RangeUpdate(1, 4, func(p *kv) error {
		visits++
		p.Value = "touched"
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	if visits != 3 {
		t.Fatalf("visited %d entries, want 3", visits)
	}
	if s.Generation() != before+1 {
		t.Fatalf("generation %d, want %d", s.Generation(), before+1)
	}
	for _, k := range []int{1, 2, 3} {
		if got := mustGet(t, s, k); got != "touched" {
			t.Fatalf("find(%d) = %q", k, got)
		}
	}
	gen := s.Generation()
	seen := map[int]bool{}
	if err := s.Range(1, 4, func(p kv) error {
		seen[p.Key] = true
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	if len(seen) != 3 {
		t.Fatalf("range after RangeUpdate saw %d keys", len(seen))
	}
	// All restamped entries share the one fresh generation.
	for _, k := range []int{1, 2, 3} {
		s.Find(k, func(e Entry[kv, int]) error {
			if e.Generation != gen {
				t.Fatalf("key %d generation %d, want %d", k, e.Generation, gen)
			}
			return nil
		}, nil)
	}
}

func TestCallbackErrorMapsToUnknown(t *testing.T) {
	s := newTestStore(t)
	s.Upsert(kv{Key: 1, Value: "a"})
	boom := fmt.Errorf("boom")
	err := s.Find(1, func(Entry[kv, int]) error { return boom }, nil)
	if err == nil || cset.CodeOf(err) != cset.Unknown {
		t.Fatalf("err = %v, want Unknown", err)
	}
}

func TestGenerationOverflow(t *testing.T) {
	s := newTestStore(t)
	s.generation = math.MaxInt64
	err := s.Upsert(kv{Key: 1, Value: "a"})
	if cset.CodeOf(err) != cset.SequenceNumberOverflow {
		t.Fatalf("err = %v, want SequenceNumberOverflow", err)
	}
	if s.Size() != 0 {
		t.Fatal("failed upsert must leave the store unchanged")
	}
	if _, err := s.Transaction(); cset.CodeOf(err) != cset.SequenceNumberOverflow {
		t.Fatalf("Transaction err = %v, want SequenceNumberOverflow", err)
	}
}
