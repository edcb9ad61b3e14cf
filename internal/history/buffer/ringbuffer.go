// Package buffer provides the bounded event ring used by every hot-store bucket.
package buffer

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/xtxerr/homehistory/internal/history/types"
)

// RingBuffer is a thread-safe circular buffer of events.
// All reads return copies; callers never see the backing array.
type RingBuffer struct {
	mu       sync.RWMutex
	data     []types.HistoricalEvent
	head     int64 // Next write position
	tail     int64 // Oldest data position
	count    int64
	capacity int64

	// Statistics
	pushCount  atomic.Int64
	evictCount atomic.Int64
	trimCount  atomic.Int64
}

// New creates a new RingBuffer with the given capacity.
func New(capacity int) *RingBuffer {
	if capacity <= 0 {
		capacity = 1024
	}
	return &RingBuffer{
		data:     make([]types.HistoricalEvent, capacity),
		capacity: int64(capacity),
	}
}

// PushOverwrite appends an event, evicting the oldest when full.
// Returns true if an event was evicted.
func (rb *RingBuffer) PushOverwrite(ev types.HistoricalEvent) bool {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	evicted := false
	if rb.count >= rb.capacity {
		rb.data[rb.tail%rb.capacity] = types.HistoricalEvent{}
		rb.tail++
		rb.count--
		rb.evictCount.Add(1)
		evicted = true
	}

	rb.data[rb.head%rb.capacity] = ev
	rb.head++
	rb.count++
	rb.pushCount.Add(1)

	return evicted
}

// Snapshot returns a copy of all events, oldest first.
func (rb *RingBuffer) Snapshot() []types.HistoricalEvent {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.copyRange(0, rb.count)
}

// Oldest returns a copy of up to n oldest events, oldest first.
func (rb *RingBuffer) Oldest(n int) []types.HistoricalEvent {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	count := int64(n)
	if count > rb.count {
		count = rb.count
	}
	return rb.copyRange(0, count)
}

// Newest returns a copy of up to n newest events, newest first.
func (rb *RingBuffer) Newest(n int) []types.HistoricalEvent {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	count := int64(n)
	if n <= 0 || count > rb.count {
		count = rb.count
	}

	result := make([]types.HistoricalEvent, 0, count)
	for i := rb.count - 1; i >= rb.count-count; i-- {
		result = append(result, rb.data[(rb.tail+i)%rb.capacity])
	}
	return result
}

// copyRange copies events [from, to) counted from the tail. Caller holds the lock.
func (rb *RingBuffer) copyRange(from, to int64) []types.HistoricalEvent {
	if to <= from {
		return nil
	}
	result := make([]types.HistoricalEvent, 0, to-from)
	for i := from; i < to; i++ {
		result = append(result, rb.data[(rb.tail+i)%rb.capacity])
	}
	return result
}

// RemoveIDs removes every event whose ID is in ids, preserving order.
// Returns the number of events removed.
func (rb *RingBuffer) RemoveIDs(ids map[string]struct{}) int {
	if len(ids) == 0 {
		return 0
	}

	rb.mu.Lock()
	defer rb.mu.Unlock()

	kept := make([]types.HistoricalEvent, 0, rb.count)
	for i := int64(0); i < rb.count; i++ {
		ev := rb.data[(rb.tail+i)%rb.capacity]
		if _, drop := ids[ev.ID]; !drop {
			kept = append(kept, ev)
		}
	}

	removed := int(rb.count) - len(kept)
	if removed == 0 {
		return 0
	}

	for i := range rb.data {
		rb.data[i] = types.HistoricalEvent{}
	}
	copy(rb.data, kept)
	rb.tail = 0
	rb.head = int64(len(kept))
	rb.count = int64(len(kept))
	rb.trimCount.Add(int64(removed))

	return removed
}

// Len returns the current number of events in the buffer.
func (rb *RingBuffer) Len() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return int(rb.count)
}

// Cap returns the capacity of the buffer.
func (rb *RingBuffer) Cap() int {
	return int(rb.capacity)
}

// Stats returns buffer statistics.
func (rb *RingBuffer) Stats() BufferStats {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	return BufferStats{
		Capacity:   int(rb.capacity),
		Count:      int(rb.count),
		UsageRatio: float64(rb.count) / float64(rb.capacity),
		PushCount:  rb.pushCount.Load(),
		EvictCount: rb.evictCount.Load(),
		TrimCount:  rb.trimCount.Load(),
	}
}

// BufferStats holds buffer statistics.
type BufferStats struct {
	Capacity   int
	Count      int
	UsageRatio float64
	PushCount  int64
	EvictCount int64 // dropped at the hard cap
	TrimCount  int64 // removed after migration
}

// Filter defines criteria for filtering events.
type Filter struct {
	Since time.Time // zero = no filter
	Until time.Time // zero = no filter
	Match func(*types.HistoricalEvent) bool
}

// Matches returns true if the event matches the filter.
func (f *Filter) Matches(ev *types.HistoricalEvent) bool {
	if !f.Since.IsZero() && ev.Timestamp.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && ev.Timestamp.After(f.Until) {
		return false
	}
	if f.Match != nil && !f.Match(ev) {
		return false
	}
	return true
}

// Query returns copies of events matching the filter, oldest first.
func (rb *RingBuffer) Query(filter Filter, limit int) []types.HistoricalEvent {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	if rb.count == 0 {
		return nil
	}

	maxResults := limit
	if maxResults <= 0 {
		maxResults = int(rb.count)
	}

	var results []types.HistoricalEvent
	for i := int64(0); i < rb.count && len(results) < maxResults; i++ {
		ev := &rb.data[(rb.tail+i)%rb.capacity]
		if filter.Matches(ev) {
			results = append(results, *ev)
		}
	}
	return results
}

// TimeRange returns the smallest and largest timestamps in the buffer.
// Returns zero times if the buffer is empty.
func (rb *RingBuffer) TimeRange() (oldest, newest time.Time) {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	for i := int64(0); i < rb.count; i++ {
		ts := rb.data[(rb.tail+i)%rb.capacity].Timestamp
		if oldest.IsZero() || ts.Before(oldest) {
			oldest = ts
		}
		if newest.IsZero() || ts.After(newest) {
			newest = ts
		}
	}
	return oldest, newest
}
