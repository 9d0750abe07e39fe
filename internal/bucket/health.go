package bucket

import (
	"fmt"
	"math/rand"
	"sync"
)

// Health tracks, per bucket index, a rolling count of consecutive
// failures observed by the download pipeline. It feeds ExcludedSet so
// that repeatedly-failing buckets are preferred for exclusion over a
// pure uniform sample — a supplement to spec.md §4.6's "sample a random
// excluded index set" step (see DESIGN.md, §9 open question).
type Health struct {
	mu       sync.Mutex
	failures []int // one counter per bucket index
}

// NewHealth returns a Health tracker for n buckets, all starting healthy.
func NewHealth(n int) *Health {
	return &Health{failures: make([]int, n)}
}

// RecordSuccess resets a bucket's failure streak.
func (h *Health) RecordSuccess(bucketIdx int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if bucketIdx >= 0 && bucketIdx < len(h.failures) {
		h.failures[bucketIdx] = 0
	}
}

// RecordFailure increments a bucket's failure streak.
func (h *Health) RecordFailure(bucketIdx int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if bucketIdx >= 0 && bucketIdx < len(h.failures) {
		h.failures[bucketIdx]++
	}
}

// ExcludedSet samples a set of `count` bucket indices to exclude from a
// download, weighting buckets with higher failure streaks towards
// exclusion. It rejects a count outside [0, len(buckets)] and otherwise
// always returns exactly `count` distinct indices.
func (h *Health) ExcludedSet(count int, rng *rand.Rand) (map[int]bool, error) {
	h.mu.Lock()
	weights := make([]int, len(h.failures))
	copy(weights, h.failures)
	h.mu.Unlock()

	if count < 0 || count > len(weights) {
		return nil, fmt.Errorf("bucket: excluded count %d invalid for %d buckets", count, len(weights))
	}

	type candidate struct {
		idx    int
		weight int
	}
	candidates := make([]candidate, len(weights))
	for i, w := range weights {
		candidates[i] = candidate{idx: i, weight: w + 1} // +1 so healthy buckets stay eligible
	}

	excluded := make(map[int]bool, count)
	for len(excluded) < count {
		total := 0
		for _, c := range candidates {
			if !excluded[c.idx] {
				total += c.weight
			}
		}
		if total <= 0 {
			break
		}
		r := rng.Intn(total)
		for _, c := range candidates {
			if excluded[c.idx] {
				continue
			}
			if r < c.weight {
				excluded[c.idx] = true
				break
			}
			r -= c.weight
		}
	}
	return excluded, nil
}
