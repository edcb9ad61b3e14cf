// Package broadcast fans recorded events out to live subscribers.
//
// Delivery is best effort: Publish never blocks, and a subscriber whose
// channel is full misses the event. Consumers that need completeness
// must query instead.
package broadcast

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/xtxerr/homehistory/internal/history/metrics"
	"github.com/xtxerr/homehistory/internal/history/types"
)

// DefaultBufferSize is the per-subscriber channel capacity used when none is given.
const DefaultBufferSize = 256

// Config configures a Bus.
type Config struct {
	// BufferSize is the default channel capacity per subscription.
	BufferSize int

	// Recorder receives drop counts.
	Recorder metrics.Recorder

	// OnDrop is called when an event is dropped for a subscriber.
	OnDrop func(ev types.HistoricalEvent, subscriberID uint64)
}

// Bus is an in-memory, non-blocking broadcast channel.
type Bus struct {
	config Config

	mu     sync.RWMutex
	subs   map[uint64]*subscriber
	closed bool

	nextID    atomic.Uint64
	published atomic.Int64
	dropped   atomic.Int64
}

// New creates a new bus.
func New(config Config) *Bus {
	if config.BufferSize <= 0 {
		config.BufferSize = DefaultBufferSize
	}
	if config.Recorder == nil {
		config.Recorder = metrics.Noop{}
	}
	return &Bus{
		config: config,
		subs:   make(map[uint64]*subscriber),
	}
}

// subscriber is the bus side of a subscription. It never points back at
// the Subscription handle, so a dropped handle can be collected.
type subscriber struct {
	id      uint64
	kinds   map[types.CategoryKind]struct{} // empty = all
	events  chan types.HistoricalEvent
	dropped atomic.Int64
	once    sync.Once
}

func (s *subscriber) wants(kind types.CategoryKind) bool {
	if len(s.kinds) == 0 {
		return true
	}
	_, ok := s.kinds[kind]
	return ok
}

func (s *subscriber) closeChannel() {
	s.once.Do(func() { close(s.events) })
}

// Subscription is a live feed of events.
//
// Close cancels it. A handle that becomes unreachable without Close is
// cancelled after the next garbage collection, so keep the handle for as
// long as Events is read.
type Subscription struct {
	sub *subscriber
	bus *Bus
}

// ID returns the subscription identifier.
func (s *Subscription) ID() uint64 { return s.sub.id }

// Events returns the receive channel. It is closed when the subscription
// or the bus is closed.
func (s *Subscription) Events() <-chan types.HistoricalEvent { return s.sub.events }

// Dropped returns how many events this subscriber missed.
func (s *Subscription) Dropped() int64 { return s.sub.dropped.Load() }

// Close cancels the subscription.
func (s *Subscription) Close() {
	s.bus.unsubscribe(s.sub.id)
}

// Subscribe registers a new subscriber. buffer <= 0 uses the bus default.
// When kinds are given only events of those categories are delivered.
// Subscribing to a closed bus returns a subscription whose channel is
// already closed.
func (b *Bus) Subscribe(buffer int, kinds ...types.CategoryKind) *Subscription {
	if buffer <= 0 {
		buffer = b.config.BufferSize
	}

	sub := &subscriber{
		id:     b.nextID.Add(1),
		events: make(chan types.HistoricalEvent, buffer),
	}
	if len(kinds) > 0 {
		sub.kinds = make(map[types.CategoryKind]struct{}, len(kinds))
		for _, k := range kinds {
			sub.kinds[k] = struct{}{}
		}
	}
	handle := &Subscription{sub: sub, bus: b}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		sub.closeChannel()
		return handle
	}
	b.subs[sub.id] = sub
	runtime.AddCleanup(handle, b.unsubscribe, sub.id)
	return handle
}

func (b *Bus) unsubscribe(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if sub, ok := b.subs[id]; ok {
		delete(b.subs, id)
		sub.closeChannel()
	}
}

// Publish delivers ev to every interested subscriber without blocking.
// Returns the number of subscribers that received it.
func (b *Bus) Publish(ev types.HistoricalEvent) int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return 0
	}
	b.published.Add(1)

	kind := ev.Kind()
	delivered := 0
	for _, sub := range b.subs {
		if !sub.wants(kind) {
			continue
		}
		select {
		case sub.events <- ev:
			delivered++
		default:
			sub.dropped.Add(1)
			b.dropped.Add(1)
			b.config.Recorder.RecordBroadcastDrop(context.Background())
			if b.config.OnDrop != nil {
				b.config.OnDrop(ev, sub.id)
			}
		}
	}
	return delivered
}

// Close closes the bus and every subscription.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subs {
		delete(b.subs, id)
		sub.closeChannel()
	}
}

// Stats holds bus statistics.
type Stats struct {
	Subscribers int
	Published   int64
	Dropped     int64
}

// Stats returns bus statistics.
func (b *Bus) Stats() Stats {
	b.mu.RLock()
	n := len(b.subs)
	b.mu.RUnlock()
	return Stats{
		Subscribers: n,
		Published:   b.published.Load(),
		Dropped:     b.dropped.Load(),
	}
}
