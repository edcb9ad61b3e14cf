package types

import (
	"testing"
	"time"

	"github.com/goccy/go-json"
)

func TestCategoryKindString(t *testing.T) {
	tests := []struct {
		kind     CategoryKind
		expected string
	}{
		{CategoryDeviceState, "device_state"},
		{CategorySensorReading, "sensor_reading"},
		{CategorySystemMetric, "system_metric"},
		{CategoryAuditEvent, "audit_event"},
		{CategoryDiscoveryEvent, "discovery_event"},
		{CategoryResponseCache, "response_cache"},
	}

	for _, tt := range tests {
		if tt.kind.String() != tt.expected {
			t.Errorf("expected %s, got %s", tt.expected, tt.kind.String())
		}
		parsed, err := ParseCategoryKind(tt.expected)
		if err != nil {
			t.Errorf("parse %s: %v", tt.expected, err)
		}
		if parsed != tt.kind {
			t.Errorf("parse %s: expected %v, got %v", tt.expected, tt.kind, parsed)
		}
	}

	if _, err := ParseCategoryKind("weather"); err == nil {
		t.Error("expected error for unknown category")
	}
}

func TestAllCategoryKinds(t *testing.T) {
	kinds := AllCategoryKinds()
	if len(kinds) != 6 {
		t.Fatalf("expected 6 kinds, got %d", len(kinds))
	}
	for _, k := range kinds {
		if !k.Valid() {
			t.Errorf("kind %v should be valid", k)
		}
	}
	if CategoryKind(42).Valid() {
		t.Error("kind 42 should be invalid")
	}
}

func TestParseSourceKind(t *testing.T) {
	for _, name := range []string{"device", "sensor", "system", "user", "automation", "api"} {
		k, err := ParseSourceKind(name)
		if err != nil {
			t.Errorf("parse %s: %v", name, err)
			continue
		}
		if k.String() != name {
			t.Errorf("expected %s, got %s", name, k.String())
		}
	}
	if _, err := ParseSourceKind("robot"); err == nil {
		t.Error("expected error for unknown source")
	}
}

func TestSourceString(t *testing.T) {
	if s := SystemSource().String(); s != "system" {
		t.Errorf("expected system, got %s", s)
	}
	if s := UserSource("alice").String(); s != "user:alice" {
		t.Errorf("expected user:alice, got %s", s)
	}
}

func TestEventJSONRoundTrip(t *testing.T) {
	ts := time.Date(2026, 1, 15, 10, 37, 45, 123000000, time.UTC)

	events := []HistoricalEvent{
		NewEvent(DeviceStateChange{
			DeviceID: "light-1", DeviceName: "Kitchen light", Room: "kitchen",
			PreviousValue: "off", NewValue: "on", TriggeredBy: "motion",
		}, DeviceSource("light-1")).At(ts),
		NewEvent(SensorData{
			SensorID: "temp-1", SensorName: "Hall temp", Value: 21.5,
			Unit: "C", SensorType: "temperature",
		}, SensorSource("temp-1")).At(ts),
		NewEvent(MetricData{
			MetricName: "cpu_usage", Value: 42, Unit: "%",
			Tags: map[string]string{"core": "0"},
		}, SystemSource()).At(ts),
		NewEvent(AuditData{
			Actor: "alice", Action: "unlock", Result: AuditPartial, Details: "front door",
		}, UserSource("alice")).At(ts).WithMetadata("ip", "10.0.0.2"),
		NewEvent(DiscoveryData{
			EntityType: "bulb", EntityID: "hue-7", Method: "mdns",
		}, AutomationSource("scan")).At(ts),
		NewEvent(ResponseCacheData{
			Key: "weather:today", Endpoint: "/v1/weather", StatusCode: 200, TTLSeconds: 300,
		}, APISource("weather")).At(ts),
	}

	for _, ev := range events {
		data, err := json.Marshal(ev)
		if err != nil {
			t.Fatalf("marshal %s: %v", ev.Kind(), err)
		}

		var decoded HistoricalEvent
		if err := json.Unmarshal(data, &decoded); err != nil {
			t.Fatalf("unmarshal %s: %v", ev.Kind(), err)
		}

		if decoded.ID != ev.ID {
			t.Errorf("%s: id mismatch", ev.Kind())
		}
		if !decoded.Timestamp.Equal(ev.Timestamp) {
			t.Errorf("%s: timestamp mismatch: %v vs %v", ev.Kind(), decoded.Timestamp, ev.Timestamp)
		}
		if decoded.Kind() != ev.Kind() {
			t.Errorf("%s: kind mismatch %s", ev.Kind(), decoded.Kind())
		}
		if decoded.Source != ev.Source {
			t.Errorf("%s: source mismatch", ev.Kind())
		}
		if decoded.EntityID() != ev.EntityID() {
			t.Errorf("%s: entity mismatch", ev.Kind())
		}
	}
}

func TestEventUnmarshalUnknownKind(t *testing.T) {
	raw := `{"id":"x","timestamp":"2026-01-15T10:00:00Z","category":{"kind":"weather","data":{}},"source":{"kind":"system"}}`
	var ev HistoricalEvent
	if err := json.Unmarshal([]byte(raw), &ev); err == nil {
		t.Error("expected error for unknown category kind")
	}
}

func TestEventAccessors(t *testing.T) {
	ev := NewEvent(SensorData{SensorID: "s1", Room: "attic"}, SensorSource("s1"))

	if ev.EntityID() != "s1" {
		t.Errorf("expected entity s1, got %s", ev.EntityID())
	}
	if ev.Room() != "attic" {
		t.Errorf("expected room attic, got %s", ev.Room())
	}
	if ev.HasMetadata("k") {
		t.Error("fresh event should have no metadata")
	}

	tagged := ev.WithMetadata("k", "v")
	if !tagged.HasMetadata("k") {
		t.Error("expected metadata key k")
	}
	if ev.HasMetadata("k") {
		t.Error("WithMetadata must not modify the original")
	}
	if err := tagged.Validate(); err != nil {
		t.Errorf("validate: %v", err)
	}

	var empty HistoricalEvent
	if err := empty.Validate(); err == nil {
		t.Error("expected validation error for empty event")
	}
}

func TestIntervalTruncate(t *testing.T) {
	ts := time.Date(2026, 1, 15, 10, 37, 45, 0, time.UTC)

	tests := []struct {
		interval Interval
		expected time.Time
	}{
		{IntervalMinute, time.Date(2026, 1, 15, 10, 37, 0, 0, time.UTC)},
		{IntervalFiveMinutes, time.Date(2026, 1, 15, 10, 35, 0, 0, time.UTC)},
		{IntervalFifteenMinutes, time.Date(2026, 1, 15, 10, 30, 0, 0, time.UTC)},
		{IntervalHour, time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)},
		{IntervalDay, time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		got := tt.interval.Truncate(ts)
		if !got.Equal(tt.expected) {
			t.Errorf("%s: expected %v, got %v", tt.interval, tt.expected, got)
		}
	}
}

func TestIntervalHourBuckets(t *testing.T) {
	a := IntervalHour.Truncate(time.Date(2026, 1, 15, 10, 5, 0, 0, time.UTC))
	b := IntervalHour.Truncate(time.Date(2026, 1, 15, 10, 55, 0, 0, time.UTC))
	c := IntervalHour.Truncate(time.Date(2026, 1, 15, 11, 1, 0, 0, time.UTC))

	if !a.Equal(b) {
		t.Errorf("10:05 and 10:55 should share a bucket: %v vs %v", a, b)
	}
	if a.Equal(c) {
		t.Error("11:01 should land in a separate bucket")
	}
	if c.Hour() != 11 || c.Minute() != 0 {
		t.Errorf("expected 11:00 bucket, got %v", c)
	}
}

func TestParseInterval(t *testing.T) {
	tests := []struct {
		input    string
		expected Interval
		hasError bool
	}{
		{"minute", IntervalMinute, false},
		{"5min", IntervalFiveMinutes, false},
		{"15min", IntervalFifteenMinutes, false},
		{"hour", IntervalHour, false},
		{"day", IntervalDay, false},
		{"week", IntervalMinute, true},
	}

	for _, tt := range tests {
		result, err := ParseInterval(tt.input)
		if tt.hasError && err == nil {
			t.Errorf("expected error for input %s", tt.input)
		}
		if !tt.hasError && err != nil {
			t.Errorf("unexpected error for input %s: %v", tt.input, err)
		}
		if !tt.hasError && result != tt.expected {
			t.Errorf("input %s: expected %s, got %s", tt.input, tt.expected, result)
		}
	}
}

func TestAggregatePointPercentiles(t *testing.T) {
	p := AggregatePoint{}
	if p.HasPercentiles() {
		t.Error("expected no percentiles")
	}
	p.SetPercentiles(1, 2, 3)
	if !p.HasPercentiles() || *p.P95 != 2 {
		t.Errorf("unexpected percentiles %+v", p)
	}
}

func TestEventBatch(t *testing.T) {
	batch := NewEventBatch(4)
	batch.Add(NewEvent(DiscoveryData{EntityID: "a"}, SystemSource()))
	batch.Add(NewEvent(DiscoveryData{EntityID: "b"}, SystemSource()))
	if batch.Len() != 2 {
		t.Errorf("expected 2, got %d", batch.Len())
	}
	batch.Clear()
	if batch.Len() != 0 {
		t.Error("expected empty batch after clear")
	}
}
