package ordset

import (
	"fmt"
	"math/rand"
	"testing"
)

func TestSampleRangeUniformPick(t *testing.T) {
	s := newTestStore(t)
	for k := 1; k <= 10; k++ {
		s.Upsert(kv{Key: k, Value: fmt.Sprintf("v%d", k)})
	}
	rng := rand.New(rand.NewSource(1))
	counts := map[string]int{}
	for i := 0; i < 500; i++ {
		if err := s.SampleRange(3, 8, rng, func(p kv) error {
			if p.Key < 3 || p.Key >= 8 {
				t.Fatalf("sampled out-of-range key %d", p.Key)
			}
			counts[p.Value]++
			return nil
		}); err != nil {
			t.Fatal(err)
		}
	}
	if len(counts) != 5 {
		t.Fatalf("saw %d distinct candidates over 500 draws, want all 5", len(counts))
	}
}

func TestSampleRangeEmpty(t *testing.T) {
	s := newTestStore(t)
	rng := rand.New(rand.NewSource(1))
	if err := s.SampleRange(1, 100, rng, func(p kv) error {
		t.Fatalf("callback invoked on an empty range: %v", p)
		return nil
	}); err != nil {
		t.Fatal(err)
	}
}

func TestSampleRangeSkipsPending(t *testing.T) {
	s := newTestStore(t)
	s.Upsert(kv{Key: 1, Value: "visible"})
	txn, _ := s.Transaction()
	txn.Upsert(kv{Key: 2, Value: "pending"})
	if err := txn.Stage(); err != nil {
		t.Fatal(err)
	}
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 20; i++ {
		if err := s.SampleRange(0, 10, rng, func(p kv) error {
			if p.Value != "visible" {
				t.Fatalf("sampled pending entry %v", p)
			}
			return nil
		}); err != nil {
			t.Fatal(err)
		}
	}
}

func TestSampleReservoirFillsThenReplaces(t *testing.T) {
	s := newTestStore(t)
	for k := 0; k < 100; k++ {
		s.Upsert(kv{Key: k, Value: fmt.Sprintf("v%d", k)})
	}
	rng := rand.New(rand.NewSource(3))
	reservoir := make([]kv, 8)
	seen := 0
	if err := s.SampleReservoir(0, 100, rng, &seen, reservoir); err != nil {
		t.Fatal(err)
	}
	if seen != 100 {
		t.Fatalf("seen = %d, want 100", seen)
	}
	distinct := map[int]bool{}
	for _, p := range reservoir {
		if p.Key < 0 || p.Key >= 100 {
			t.Fatalf("reservoir holds out-of-range key %d", p.Key)
		}
		distinct[p.Key] = true
	}
	if len(distinct) != 8 {
		t.Fatalf("reservoir holds %d distinct keys, want 8", len(distinct))
	}
}

func TestSampleReservoirSpansInvocations(t *testing.T) {
	s := newTestStore(t)
	for k := 0; k < 10; k++ {
		s.Upsert(kv{Key: k, Value: "x"})
	}
	rng := rand.New(rand.NewSource(5))
	reservoir := make([]kv, 4)
	seen := 0
	// The running count carries across calls, as the partitioned facade uses it.
	if err := s.SampleReservoir(0, 5, rng, &seen, reservoir); err != nil {
		t.Fatal(err)
	}
	if seen != 5 {
		t.Fatalf("seen = %d after first half, want 5", seen)
	}
	if err := s.SampleReservoir(5, 10, rng, &seen, reservoir); err != nil {
		t.Fatal(err)
	}
	if seen != 10 {
		t.Fatalf("seen = %d after both halves, want 10", seen)
	}
}

func TestSampleReservoirShortRange(t *testing.T) {
	s := newTestStore(t)
	s.Upsert(kv{Key: 1, Value: "only"})
	rng := rand.New(rand.NewSource(9))
	reservoir := make([]kv, 4)
	seen := 0
	if err := s.SampleReservoir(0, 10, rng, &seen, reservoir); err != nil {
		t.Fatal(err)
	}
	if seen != 1 {
		t.Fatalf("seen = %d, want 1", seen)
	}
	if reservoir[0].Value != "only" {
		t.Fatalf("reservoir[0] = %v", reservoir[0])
	}
}
