package cryptutil

import (
	"encoding/binary"
	"sync"
	"testing"
)

func TestNonceGeneratorCounterIncrements(t *testing.T) {
	g := NewNonceGenerator()
	n0, err := g.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	n1, err := g.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	c0 := binary.BigEndian.Uint64(n0[:8])
	c1 := binary.BigEndian.Uint64(n1[:8])
	if c1 != c0+1 {
		t.Fatalf("counter did not increment monotonically: %d then %d", c0, c1)
	}
}

func TestNonceGeneratorConcurrentUseProducesDistinctCounters(t *testing.T) {
	g := NewNonceGenerator()
	const n = 200
	counters := make([]uint64, n)

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			nonce, err := g.Next()
			if err != nil {
				t.Errorf("Next: %v", err)
				return
			}
			counters[i] = binary.BigEndian.Uint64(nonce[:8])
		}(i)
	}
	wg.Wait()

	seen := make(map[uint64]bool, n)
	for _, c := range counters {
		if seen[c] {
			t.Fatalf("counter value %d used twice under concurrent use", c)
		}
		seen[c] = true
	}
}
