package ptree

import (
	"sync"

	"github.com/cespare/xxhash/v2"
)

// bucket holds every basename sharing one xxhash bucket, the
// collision chain entries compare against.
type bucket struct {
	basename string
	paths    []string
}

// Basket is the "filename basket" of spec §4.5: a hash from basename
// to every tree location sharing that basename, giving O(1) average
// lookup when the parser resolves an #include "header" directive.
// Keyed by xxhash.Sum64String rather than the basename string itself,
// with an explicit basename comparison to resolve the rare bucket
// collision.
type Basket struct {
	mu      sync.RWMutex
	buckets map[uint64][]*bucket
}

func newBasket() *Basket {
	return &Basket{buckets: make(map[uint64][]*bucket)}
}

func (b *Basket) add(basename, path string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	h := xxhash.Sum64String(basename)
	for _, bk := range b.buckets[h] {
		if bk.basename == basename {
			bk.paths = append(bk.paths, path)
			return
		}
	}
	b.buckets[h] = append(b.buckets[h], &bucket{basename: basename, paths: []string{path}})
}

// Lookup returns every known path ending in basename, in discovery
// order. The slice is a fresh copy the caller owns.
func (b *Basket) Lookup(basename string) []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	h := xxhash.Sum64String(basename)
	for _, bk := range b.buckets[h] {
		if bk.basename == basename {
			out := make([]string, len(bk.paths))
			copy(out, bk.paths)
			return out
		}
	}
	return nil
}

// ParseState tracks where a file sits in the #include-cycle-safe
// parse memoization of spec §4.5.
type ParseState int

const (
	StateNew ParseState = iota
	StatePending
	StateDone
)

// IncludeTracker resolves #include "header" references against a
// Basket and memoizes each candidate file's parse state so mutually
// including headers terminate instead of looping forever.
type IncludeTracker struct {
	mu     sync.Mutex
	basket *Basket
	state  map[string]ParseState
}

func NewIncludeTracker(basket *Basket) *IncludeTracker {
	return &IncludeTracker{basket: basket, state: make(map[string]ParseState)}
}

// Resolve picks a candidate path for basename. When more than one
// tree location shares the basename, the first not already Done is
// preferred (disambiguation beyond that is left to the caller, which
// has directory-relative context this package does not).
func (t *IncludeTracker) Resolve(basename string) (path string, ok bool) {
	candidates := t.basket.Lookup(basename)
	if len(candidates) == 0 {
		return "", false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, c := range candidates {
		if t.state[c] != StateDone {
			return c, true
		}
	}
	return candidates[0], true
}

func (t *IncludeTracker) State(path string) ParseState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state[path]
}

func (t *IncludeTracker) SetState(path string, s ParseState) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state[path] = s
}
