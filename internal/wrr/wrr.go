// Package wrr provides weighted round-robin selection among a set of
// items. Reconstructed from call-site usage in the teacher's
// xds/pkg/balancer/edsbalancer/util.go (newRandomWRR = wrr.NewRandom,
// w.Add(item, weight), w.Next()); the upstream google.golang.org/grpc/internal/wrr
// package itself was not present in the retrieved example pack.
package wrr

import (
	"math/rand"
	"sync"
	"time"
)

// WRR picks from a weighted set of items. Implementations must be safe
// for concurrent use by multiple goroutines.
type WRR interface {
	// Add adds an item with the given weight to the set. A weight <= 0
	// is treated as 0: such an item is never picked while any item has a
	// positive weight; when every weight is 0, Next picks uniformly.
	Add(item any, weight int64)
	// Next returns an item from the set, proportionally to its weight.
	Next() any
}

type weightedItem struct {
	item   any
	weight int64
}

// randomWRR picks an item by drawing a uniform random point in
// [0, totalWeight) and walking the cumulative weight table — O(n) per
// pick, which is fine for the locality/endpoint counts LB policies deal
// with.
type randomWRR struct {
	mu     sync.Mutex
	rng    *rand.Rand
	items  []weightedItem
	total  int64
	random func() int64 // overridable for deterministic tests
}

// NewRandom returns a new random-pick WRR.
func NewRandom() WRR {
	r := &randomWRR{rng: rand.New(rand.NewSource(time.Now().UnixNano()))}
	r.random = func() int64 {
		if r.total <= 0 {
			return 0
		}
		return r.rng.Int63n(r.total)
	}
	return r
}

func (r *randomWRR) Add(item any, weight int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if weight < 0 {
		weight = 0
	}
	r.items = append(r.items, weightedItem{item: item, weight: weight})
	r.total += weight
}

func (r *randomWRR) Next() any {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.items) == 0 {
		return nil
	}
	if r.total <= 0 {
		// All weights are zero: fall back to uniform choice so a
		// degenerate config still picks something.
		return r.items[r.rng.Intn(len(r.items))].item
	}
	target := r.random()
	var cum int64
	for _, it := range r.items {
		cum += it.weight
		if target < cum {
			return it.item
		}
	}
	return r.items[len(r.items)-1].item
}
