package parallel

import (
	"sync/atomic"
	"testing"

	"github.com/pkg/errors"
)

func TestForEachVisitsAll(t *testing.T) {
	const n = 1000
	var seen [n]atomic.Int32
	var running, peak atomic.Int32
	ForEach(n, 4, func(i int) {
		r := running.Add(1)
		for {
			p := peak.Load()
			if r <= p || peak.CompareAndSwap(p, r) {
				break
			}
		}
		seen[i].Add(1)
		running.Add(-1)
	})
	for i := range seen {
		if seen[i].Load() != 1 {
			t.Fatalf("index %d visited %d times", i, seen[i].Load())
		}
	}
	if peak.Load() > 4 {
		t.Fatalf("limit exceeded: %d goroutines", peak.Load())
	}
}

func TestForEachErrLowestIndex(t *testing.T) {
	err := ForEachErr(10, 0, func(i int) error {
		if i == 3 || i == 7 {
			return errors.Errorf("failed %d", i)
		}
		return nil
	})
	if err == nil || err.Error() != "failed 3" {
		t.Fatalf("expected error of index 3, got %v", err)
	}
}

func TestLimit(t *testing.T) {
	if Limit() < 1 {
		t.Fatalf("limit must be positive, got %d", Limit())
	}
}
