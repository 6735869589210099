// internal/bucket/store.go
package bucket

import "sync"

// Key identifies one aggregation bucket.
type Key struct {
	Symbol       string
	Second       string // wall-clock second, "15:04:05"
	IsBuyerMaker bool
}

// Entry is a drained bucket.
type Entry struct {
	Key   Key
	Value float64
}

// Store accumulates notional values per Key.
//
// All methods are safe for concurrent use. Add and DrainMatured hold the lock
// only for bounded in-memory work, so an Add racing a drain of the same key
// lands either in the drained entry or in a fresh entry created after it.
type Store struct {
	mu      sync.Mutex
	buckets map[Key]float64
}

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{buckets: make(map[Key]float64)}
}

// Add adds amount to the value of key, creating the entry when absent.
func (s *Store) Add(key Key, amount float64) {
	s.mu.Lock()
	s.buckets[key] += amount
	s.mu.Unlock()
}

// DrainMatured removes and returns every entry for which matured reports true.
// Other entries are left untouched.
func (s *Store) DrainMatured(matured func(Key, float64) bool) []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Entry
	for k, v := range s.buckets {
		if matured(k, v) {
			out = append(out, Entry{Key: k, Value: v})
			delete(s.buckets, k)
		}
	}
	return out
}

// Value returns the accumulated value of key.
func (s *Store) Value(key Key) (float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.buckets[key]
	return v, ok
}

// Len returns the number of open buckets.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buckets)
}
