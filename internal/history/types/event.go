package types

import (
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// HistoricalEvent is a single entry in the history log.
// Events are values; once built they are never mutated. The With* helpers
// return modified copies.
type HistoricalEvent struct {
	// ID is globally unique (UUIDv4 unless the producer supplies its own).
	ID string

	// Timestamp is a UTC instant. Arrival order is not guaranteed to be
	// timestamp order.
	Timestamp time.Time

	Category Category
	Source   Source

	// Metadata holds small free-form annotations.
	Metadata map[string]string
}

// NewEvent creates an event with a fresh ID stamped at the current UTC time.
func NewEvent(category Category, source Source) HistoricalEvent {
	return HistoricalEvent{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Category:  category,
		Source:    source,
	}
}

// At returns a copy of the event with the given timestamp (converted to UTC).
func (e HistoricalEvent) At(ts time.Time) HistoricalEvent {
	e.Timestamp = ts.UTC()
	return e
}

// WithID returns a copy of the event with the given ID.
func (e HistoricalEvent) WithID(id string) HistoricalEvent {
	e.ID = id
	return e
}

// WithMetadata returns a copy of the event with key set to value.
func (e HistoricalEvent) WithMetadata(key, value string) HistoricalEvent {
	md := make(map[string]string, len(e.Metadata)+1)
	for k, v := range e.Metadata {
		md[k] = v
	}
	md[key] = value
	e.Metadata = md
	return e
}

// Kind returns the category kind of the event.
func (e *HistoricalEvent) Kind() CategoryKind {
	return e.Category.Kind()
}

// HasMetadata reports whether the event carries the given metadata key.
func (e *HistoricalEvent) HasMetadata(key string) bool {
	_, ok := e.Metadata[key]
	return ok
}

// EntityID returns the identifier of the thing the event is about:
// the device, sensor, metric name, actor, discovered entity or cache key.
func (e *HistoricalEvent) EntityID() string {
	switch c := e.Category.(type) {
	case DeviceStateChange:
		return c.DeviceID
	case SensorData:
		return c.SensorID
	case MetricData:
		return c.MetricName
	case AuditData:
		return c.Actor
	case DiscoveryData:
		return c.EntityID
	case ResponseCacheData:
		return c.Key
	default:
		return ""
	}
}

// Room returns the room the event is associated with, or "".
func (e *HistoricalEvent) Room() string {
	switch c := e.Category.(type) {
	case DeviceStateChange:
		return c.Room
	case SensorData:
		return c.Room
	case MetricData, AuditData, DiscoveryData, ResponseCacheData:
		return ""
	default:
		return ""
	}
}

// Validate checks that the event can be stored.
func (e *HistoricalEvent) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("event id is required")
	}
	if e.Category == nil {
		return fmt.Errorf("event %s: category is required", e.ID)
	}
	if !e.Category.Kind().Valid() {
		return fmt.Errorf("event %s: invalid category", e.ID)
	}
	if e.Timestamp.IsZero() {
		return fmt.Errorf("event %s: timestamp is required", e.ID)
	}
	return nil
}

// eventWire is the JSON shape of a HistoricalEvent. The category is encoded
// as {"kind": "...", "data": {...}}.
type eventWire struct {
	ID        string            `json:"id"`
	Timestamp time.Time         `json:"timestamp"`
	Category  categoryWire      `json:"category"`
	Source    Source            `json:"source"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

type categoryWire struct {
	Kind CategoryKind    `json:"kind"`
	Data json.RawMessage `json:"data"`
}

// MarshalJSON implements json.Marshaler.
func (e HistoricalEvent) MarshalJSON() ([]byte, error) {
	if e.Category == nil {
		return nil, fmt.Errorf("event %s: nil category", e.ID)
	}
	data, err := json.Marshal(e.Category)
	if err != nil {
		return nil, fmt.Errorf("event %s: encode category: %w", e.ID, err)
	}
	return json.Marshal(eventWire{
		ID:        e.ID,
		Timestamp: e.Timestamp.UTC(),
		Category:  categoryWire{Kind: e.Category.Kind(), Data: data},
		Source:    e.Source,
		Metadata:  e.Metadata,
	})
}

// UnmarshalJSON implements json.Unmarshaler.
func (e *HistoricalEvent) UnmarshalJSON(b []byte) error {
	var w eventWire
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}

	category, err := decodeCategory(w.Category.Kind, w.Category.Data)
	if err != nil {
		return fmt.Errorf("event %s: %w", w.ID, err)
	}

	*e = HistoricalEvent{
		ID:        w.ID,
		Timestamp: w.Timestamp.UTC(),
		Category:  category,
		Source:    w.Source,
		Metadata:  w.Metadata,
	}
	return nil
}

func decodeCategory(kind CategoryKind, data []byte) (Category, error) {
	switch kind {
	case CategoryDeviceState:
		var c DeviceStateChange
		err := json.Unmarshal(data, &c)
		return c, err
	case CategorySensorReading:
		var c SensorData
		err := json.Unmarshal(data, &c)
		return c, err
	case CategorySystemMetric:
		var c MetricData
		err := json.Unmarshal(data, &c)
		return c, err
	case CategoryAuditEvent:
		var c AuditData
		err := json.Unmarshal(data, &c)
		return c, err
	case CategoryDiscoveryEvent:
		var c DiscoveryData
		err := json.Unmarshal(data, &c)
		return c, err
	case CategoryResponseCache:
		var c ResponseCacheData
		err := json.Unmarshal(data, &c)
		return c, err
	default:
		return nil, fmt.Errorf("unknown category kind %d", int(kind))
	}
}

// EventBatch is a collection of events for batch processing.
type EventBatch struct {
	Events []HistoricalEvent
}

// NewEventBatch creates a new batch with the given capacity.
func NewEventBatch(capacity int) *EventBatch {
	return &EventBatch{Events: make([]HistoricalEvent, 0, capacity)}
}

// Add appends an event to the batch.
func (b *EventBatch) Add(e HistoricalEvent) {
	b.Events = append(b.Events, e)
}

// Len returns the number of events in the batch.
func (b *EventBatch) Len() int {
	return len(b.Events)
}

// Clear resets the batch for reuse.
func (b *EventBatch) Clear() {
	b.Events = b.Events[:0]
}
