package capture

import (
	"slices"
	"sync"
)

// segmentQueue is an unbounded FIFO safe for concurrent use.
type segmentQueue struct {
	mu    sync.Mutex
	items []Segment
}

func (q *segmentQueue) Push(s Segment) {
	q.mu.Lock()
	q.items = append(q.items, s)
	q.mu.Unlock()
}

// Pop removes and returns the oldest segment. ok is false when empty.
func (q *segmentQueue) Pop() (s Segment, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return Segment{}, false
	}
	s = q.items[0]
	q.items[0] = Segment{}
	q.items = q.items[1:]
	return s, true
}

func (q *segmentQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *segmentQueue) Clear() {
	q.mu.Lock()
	q.items = nil
	q.mu.Unlock()
}

// pathSet is a grow-only set of segment paths.
type pathSet struct {
	mu    sync.Mutex
	paths map[string]struct{}
}

func newPathSet() *pathSet {
	return &pathSet{paths: make(map[string]struct{})}
}

// Add inserts p and reports whether it was absent.
func (s *pathSet) Add(p string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.paths[p]; ok {
		return false
	}
	s.paths[p] = struct{}{}
	return true
}

func (s *pathSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.paths)
}

// reorderCache holds downloaded segment bytes keyed by sequence until the
// merger consumes them.
type reorderCache struct {
	mu      sync.Mutex
	entries map[int64][]byte
}

func newReorderCache() *reorderCache {
	return &reorderCache{entries: make(map[int64][]byte)}
}

func (c *reorderCache) Put(seq int64, data []byte) {
	c.mu.Lock()
	c.entries[seq] = data
	c.mu.Unlock()
}

func (c *reorderCache) Get(seq int64) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	data, ok := c.entries[seq]
	return data, ok
}

func (c *reorderCache) Delete(seq int64) {
	c.mu.Lock()
	delete(c.entries, seq)
	c.mu.Unlock()
}

// Keys returns a snapshot of the cached sequence numbers in ascending order.
func (c *reorderCache) Keys() []int64 {
	c.mu.Lock()
	keys := make([]int64, 0, len(c.entries))
	for k := range c.entries {
		keys = append(keys, k)
	}
	c.mu.Unlock()
	slices.Sort(keys)
	return keys
}

func (c *reorderCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *reorderCache) Clear() {
	c.mu.Lock()
	c.entries = make(map[int64][]byte)
	c.mu.Unlock()
}

// latch is a one-shot event: Set may be called any number of times, only
// the first has an effect, and Done is closed from then on.
type latch struct {
	once sync.Once
	ch   chan struct{}
}

func newLatch() *latch {
	return &latch{ch: make(chan struct{})}
}

func (l *latch) Set() {
	l.once.Do(func() { close(l.ch) })
}

func (l *latch) Done() <-chan struct{} {
	return l.ch
}

func (l *latch) IsSet() bool {
	select {
	case <-l.ch:
		return true
	default:
		return false
	}
}
