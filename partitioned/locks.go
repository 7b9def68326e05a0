package partitioned

import (
	"context"
	"fmt"
	"time"

	"github.com/sharedcode/cset"
)

// jitterUnit paces the try-lock loops between passes. Passes are cheap; the
// jitter exists to break symmetric contention between lockers.
const jitterUnit = 50 * time.Microsecond

// lockAll acquires every partition lock, shared or exclusive, with a try-lock
// loop: each pass visits the partitions in order, takes what it can, and
// retries the rest on the next pass. No locker waits on a lock while holding
// none-yet-acquired ones via blocking waits, so the wait graph stays acyclic.
// When the pass budget runs out everything acquired is released and WouldBlock
// is returned.
func (s *Store[E, K]) lockAll(ctx context.Context, exclusive bool) error {
	var held [PartitionCount]bool
	remaining := PartitionCount
	for pass := 0; pass < s.options.MaxLockPasses; pass++ {
		for i := range s.mutexes {
			if held[i] {
				continue
			}
			var ok bool
			if exclusive {
				ok = s.mutexes[i].TryLock()
			} else {
				ok = s.mutexes[i].TryRLock()
			}
			if ok {
				held[i] = true
				remaining--
			}
		}
		if remaining == 0 {
			return nil
		}
		if ctx.Err() != nil {
			break
		}
		cset.RandomSleepWithUnit(ctx, jitterUnit)
	}
	for i := range s.mutexes {
		if !held[i] {
			continue
		}
		if exclusive {
			s.mutexes[i].Unlock()
		} else {
			s.mutexes[i].RUnlock()
		}
	}
	return cset.NewError(cset.WouldBlock, fmt.Errorf("store %v: could not acquire all %d partitions", s.id, PartitionCount))
}

func (s *Store[E, K]) unlockAll(exclusive bool) {
	for i := range s.mutexes {
		if exclusive {
			s.mutexes[i].Unlock()
		} else {
			s.mutexes[i].RUnlock()
		}
	}
}

// forAll visits every partition exactly once, invoking fn on each while that
// partition's lock is held, releasing it before moving on. Partitions are
// visited in try-lock order, so no lock is held while waiting for another. A
// non-nil error from fn aborts the walk, leaving the remaining partitions
// unvisited (stage relies on this). Exhausting the pass budget returns
// WouldBlock.
func (s *Store[E, K]) forAll(ctx context.Context, exclusive bool, fn func(partition int) error) error {
	var done [PartitionCount]bool
	remaining := PartitionCount
	for pass := 0; pass < s.options.MaxLockPasses; pass++ {
		for i := range s.mutexes {
			if done[i] {
				continue
			}
			var ok bool
			if exclusive {
				ok = s.mutexes[i].TryLock()
			} else {
				ok = s.mutexes[i].TryRLock()
			}
			if !ok {
				continue
			}
			err := fn(i)
			if exclusive {
				s.mutexes[i].Unlock()
			} else {
				s.mutexes[i].RUnlock()
			}
			if err != nil {
				return err
			}
			done[i] = true
			remaining--
		}
		if remaining == 0 {
			return nil
		}
		if ctx.Err() != nil {
			break
		}
		cset.RandomSleepWithUnit(ctx, jitterUnit)
	}
	return cset.NewError(cset.WouldBlock, fmt.Errorf("store %v: could not visit all %d partitions", s.id, PartitionCount))
}
