// Package hot implements the in-memory tier: one bounded ring per device,
// per sensor, and shared rings for metrics, audit and everything else.
package hot

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	herrors "github.com/xtxerr/homehistory/internal/errors"
	"github.com/xtxerr/homehistory/internal/history/buffer"
	"github.com/xtxerr/homehistory/internal/history/config"
	"github.com/xtxerr/homehistory/internal/history/metrics"
	"github.com/xtxerr/homehistory/internal/history/types"
	"github.com/xtxerr/homehistory/internal/logging"
)

// BucketKind identifies the kind of ring an event lands in.
type BucketKind int

const (
	BucketDevice BucketKind = iota
	BucketSensor
	BucketMetric
	BucketAudit
	BucketOther
)

// String returns the bucket kind name.
func (k BucketKind) String() string {
	switch k {
	case BucketDevice:
		return "device"
	case BucketSensor:
		return "sensor"
	case BucketMetric:
		return "metric"
	case BucketAudit:
		return "audit"
	case BucketOther:
		return "other"
	default:
		return "unknown"
	}
}

// BucketKey addresses one ring. ID is empty for the shared rings.
type BucketKey struct {
	Kind BucketKind
	ID   string
}

func (k BucketKey) String() string {
	if k.ID == "" {
		return k.Kind.String()
	}
	return k.Kind.String() + ":" + k.ID
}

// KeyFor returns the bucket an event belongs to.
func KeyFor(ev *types.HistoricalEvent) (BucketKey, error) {
	switch c := ev.Category.(type) {
	case types.DeviceStateChange:
		return BucketKey{Kind: BucketDevice, ID: c.DeviceID}, nil
	case types.SensorData:
		return BucketKey{Kind: BucketSensor, ID: c.SensorID}, nil
	case types.MetricData:
		return BucketKey{Kind: BucketMetric}, nil
	case types.AuditData:
		return BucketKey{Kind: BucketAudit}, nil
	case types.DiscoveryData, types.ResponseCacheData:
		return BucketKey{Kind: BucketOther}, nil
	default:
		return BucketKey{}, fmt.Errorf("%w: %T", herrors.ErrUnknownCategory, ev.Category)
	}
}

// Store is the hot tier.
//
// The bucket map is guarded by mu; each ring has its own lock, so an insert
// holds the map write lock only when a bucket is created.
type Store struct {
	cfg     config.HotConfig
	mu      sync.RWMutex
	buckets map[BucketKey]*buffer.RingBuffer

	recorder metrics.Recorder
	logger   *slog.Logger

	inserted atomic.Int64
	evicted  atomic.Int64
	trimmed  atomic.Int64
}

// Option configures a Store.
type Option func(*Store)

// WithRecorder sets the metrics recorder.
func WithRecorder(r metrics.Recorder) Option {
	return func(s *Store) { s.recorder = r }
}

// New creates a hot store.
func New(cfg config.HotConfig, opts ...Option) *Store {
	s := &Store{
		cfg:      cfg,
		buckets:  make(map[BucketKey]*buffer.RingBuffer),
		recorder: metrics.Noop{},
		logger:   logging.Component("hot"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Capacity returns the hard cap of the bucket.
func (s *Store) Capacity(kind BucketKind) int {
	switch kind {
	case BucketDevice:
		return s.cfg.DeviceCapacity
	case BucketSensor:
		return s.cfg.SensorCapacity
	case BucketMetric:
		return s.cfg.MetricCapacity
	case BucketAudit:
		return s.cfg.AuditCapacity
	default:
		return s.cfg.OtherCapacity
	}
}

// Insert appends the event to its bucket. At the hard cap the oldest event
// in that bucket is dropped.
func (s *Store) Insert(ev types.HistoricalEvent) (BucketKey, error) {
	key, err := KeyFor(&ev)
	if err != nil {
		return BucketKey{}, err
	}

	if s.bucket(key, true).PushOverwrite(ev) {
		s.evicted.Add(1)
		s.recorder.RecordEviction(context.Background(), key.String())
		s.logger.Debug("hot bucket full, oldest event dropped", "bucket", key.String())
	}
	s.inserted.Add(1)
	return key, nil
}

// bucket returns the ring for key, creating it when create is set.
func (s *Store) bucket(key BucketKey, create bool) *buffer.RingBuffer {
	s.mu.RLock()
	rb, ok := s.buckets[key]
	s.mu.RUnlock()
	if ok || !create {
		return rb
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if rb, ok = s.buckets[key]; ok {
		return rb
	}
	rb = buffer.New(s.Capacity(key.Kind))
	s.buckets[key] = rb
	return rb
}

// rings returns a stable copy of the bucket map.
func (s *Store) rings() map[BucketKey]*buffer.RingBuffer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[BucketKey]*buffer.RingBuffer, len(s.buckets))
	for k, v := range s.buckets {
		out[k] = v
	}
	return out
}

// Keys returns all bucket keys, sorted for stable iteration.
func (s *Store) Keys() []BucketKey {
	rings := s.rings()
	keys := make([]BucketKey, 0, len(rings))
	for k := range rings {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Kind != keys[j].Kind {
			return keys[i].Kind < keys[j].Kind
		}
		return keys[i].ID < keys[j].ID
	})
	return keys
}

// Len returns the number of events in the bucket.
func (s *Store) Len(key BucketKey) int {
	rb := s.bucket(key, false)
	if rb == nil {
		return 0
	}
	return rb.Len()
}

// NeedsTiering reports whether the bucket is above the high watermark.
func (s *Store) NeedsTiering(key BucketKey) bool {
	rb := s.bucket(key, false)
	if rb == nil {
		return false
	}
	return float64(rb.Len()) > s.cfg.HighWatermark*float64(rb.Cap())
}

// BucketsNeedingTiering returns every bucket above the high watermark.
func (s *Store) BucketsNeedingTiering() []BucketKey {
	var out []BucketKey
	for _, key := range s.Keys() {
		if s.NeedsTiering(key) {
			out = append(out, key)
		}
	}
	return out
}

// MigrationCandidates returns a copy of the oldest events that must move
// out for the bucket to drop to the low watermark.
func (s *Store) MigrationCandidates(key BucketKey) []types.HistoricalEvent {
	rb := s.bucket(key, false)
	if rb == nil {
		return nil
	}
	keep := int(s.cfg.LowWatermark * float64(rb.Cap()))
	excess := rb.Len() - keep
	if excess <= 0 {
		return nil
	}
	return rb.Oldest(excess)
}

// Trim removes exactly the given events from the bucket. Events inserted
// after the candidates were taken are never touched.
func (s *Store) Trim(key BucketKey, events []types.HistoricalEvent) int {
	rb := s.bucket(key, false)
	if rb == nil || len(events) == 0 {
		return 0
	}
	ids := make(map[string]struct{}, len(events))
	for i := range events {
		ids[events[i].ID] = struct{}{}
	}
	n := rb.RemoveIDs(ids)
	s.trimmed.Add(int64(n))
	return n
}

// Snapshot returns a copy of the bucket, oldest first.
func (s *Store) Snapshot(key BucketKey) []types.HistoricalEvent {
	rb := s.bucket(key, false)
	if rb == nil {
		return nil
	}
	return rb.Snapshot()
}

// EventsByCategory returns copies of every event of the category, newest first.
func (s *Store) EventsByCategory(kind types.CategoryKind) []types.HistoricalEvent {
	match := func(ev *types.HistoricalEvent) bool { return ev.Kind() == kind }

	var out []types.HistoricalEvent
	for key, rb := range s.rings() {
		if !bucketHolds(key.Kind, kind) {
			continue
		}
		out = append(out, rb.Query(buffer.Filter{Match: match}, 0)...)
	}
	sortNewestFirst(out)
	return out
}

// EventsForEntity returns copies of the events about the given device or
// sensor, newest first.
func (s *Store) EventsForEntity(entityID string) []types.HistoricalEvent {
	var out []types.HistoricalEvent
	for _, kind := range []BucketKind{BucketDevice, BucketSensor} {
		if rb := s.bucket(BucketKey{Kind: kind, ID: entityID}, false); rb != nil {
			out = append(out, rb.Snapshot()...)
		}
	}
	sortNewestFirst(out)
	return out
}

// Recent returns the n newest events across all buckets.
func (s *Store) Recent(n int) []types.HistoricalEvent {
	var out []types.HistoricalEvent
	for _, rb := range s.rings() {
		out = append(out, rb.Newest(n)...)
	}
	sortNewestFirst(out)
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

// All returns a copy of every event in the hot tier, in no particular order.
func (s *Store) All() []types.HistoricalEvent {
	var out []types.HistoricalEvent
	for _, rb := range s.rings() {
		out = append(out, rb.Snapshot()...)
	}
	return out
}

// Query returns copies of events matching filter from the buckets that can
// hold any of the given categories (all buckets when none are given).
func (s *Store) Query(filter buffer.Filter, categories []types.CategoryKind) []types.HistoricalEvent {
	var out []types.HistoricalEvent
	for key, rb := range s.rings() {
		if len(categories) > 0 && !bucketHoldsAny(key.Kind, categories) {
			continue
		}
		out = append(out, rb.Query(filter, 0)...)
	}
	return out
}

// OldestTimestamp returns the oldest timestamp held in memory.
func (s *Store) OldestTimestamp() (time.Time, bool) {
	var oldest time.Time
	for _, rb := range s.rings() {
		ts, _ := rb.TimeRange()
		if ts.IsZero() {
			continue
		}
		if oldest.IsZero() || ts.Before(oldest) {
			oldest = ts
		}
	}
	return oldest, !oldest.IsZero()
}

// Stats holds hot store statistics.
type Stats struct {
	Buckets  int
	Events   int
	Inserted int64
	Evicted  int64
	Trimmed  int64
	ByKind   map[string]int
	Fullest  string
	MaxUsage float64

	// Oldest is the oldest event timestamp still in memory.
	Oldest time.Time
}

// Stats returns hot store statistics.
func (s *Store) Stats() Stats {
	st := Stats{
		Inserted: s.inserted.Load(),
		Evicted:  s.evicted.Load(),
		Trimmed:  s.trimmed.Load(),
		ByKind:   make(map[string]int),
	}
	for key, rb := range s.rings() {
		bs := rb.Stats()
		st.Buckets++
		st.Events += bs.Count
		st.ByKind[key.Kind.String()] += bs.Count
		if bs.UsageRatio > st.MaxUsage {
			st.MaxUsage = bs.UsageRatio
			st.Fullest = key.String()
		}
	}
	st.Oldest, _ = s.OldestTimestamp()
	return st
}

func bucketHolds(bucket BucketKind, kind types.CategoryKind) bool {
	switch kind {
	case types.CategoryDeviceState:
		return bucket == BucketDevice
	case types.CategorySensorReading:
		return bucket == BucketSensor
	case types.CategorySystemMetric:
		return bucket == BucketMetric
	case types.CategoryAuditEvent:
		return bucket == BucketAudit
	default:
		return bucket == BucketOther
	}
}

func bucketHoldsAny(bucket BucketKind, kinds []types.CategoryKind) bool {
	for _, k := range kinds {
		if bucketHolds(bucket, k) {
			return true
		}
	}
	return false
}

func sortNewestFirst(events []types.HistoricalEvent) {
	sort.SliceStable(events, func(i, j int) bool {
		if !events[i].Timestamp.Equal(events[j].Timestamp) {
			return events[i].Timestamp.After(events[j].Timestamp)
		}
		return events[i].ID > events[j].ID
	})
}
