package stats

import (
	"math/rand"
	"sync"

	"github.com/dgryski/go-wyhash"
)

// Rand supplies the random indexes a reservoir uses to pick eviction
// slots. It must be safe for concurrent use. Tests inject a deterministic
// implementation to make sampling decisions reproducible.
type Rand interface {
	// Int63n returns a uniformly distributed integer in [0, n).
	Int63n(n int64) int64
}

// NewRand returns a concurrency-safe Rand seeded with seed. Two Rands
// built from the same seed produce the same sequence.
func NewRand(seed uint64) Rand {
	return &lockedRand{r: rand.New(rand.NewSource(int64(seed)))}
}

// SeedFor derives a stable per-metric seed by hashing the metric name with
// the process seed. A fixed process seed therefore reproduces every
// reservoir's behavior across runs regardless of registration order.
func SeedFor(processSeed uint64, name string) uint64 {
	return wyhash.Hash([]byte(name), processSeed)
}

// defaultRand backs reservoirs whose callers did not inject a source. The
// seed varies per process start.
var defaultRand = NewRand(rand.Uint64())

// lockedRand guards a math/rand source, which is not safe for concurrent
// callers on its own.
type lockedRand struct {
	mu sync.Mutex
	r  *rand.Rand
}

func (l *lockedRand) Int63n(n int64) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.Int63n(n)
}
