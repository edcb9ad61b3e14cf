package types

import "fmt"

// CategoryKind identifies the kind of payload an event carries.
// The string form is stable: it names cold-store files and index entries.
type CategoryKind int

const (
	// CategoryDeviceState is a change in a device's reported state.
	CategoryDeviceState CategoryKind = iota
	// CategorySensorReading is a single sensor measurement.
	CategorySensorReading
	// CategorySystemMetric is a gateway health metric (cpu, memory, latency).
	CategorySystemMetric
	// CategoryAuditEvent is a security-relevant action by an actor.
	CategoryAuditEvent
	// CategoryDiscoveryEvent is an entity found by a discovery scan.
	CategoryDiscoveryEvent
	// CategoryResponseCache records a cached upstream response.
	CategoryResponseCache
)

// String returns the wire name of the category.
func (k CategoryKind) String() string {
	switch k {
	case CategoryDeviceState:
		return "device_state"
	case CategorySensorReading:
		return "sensor_reading"
	case CategorySystemMetric:
		return "system_metric"
	case CategoryAuditEvent:
		return "audit_event"
	case CategoryDiscoveryEvent:
		return "discovery_event"
	case CategoryResponseCache:
		return "response_cache"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// Valid reports whether k is one of the defined categories.
func (k CategoryKind) Valid() bool {
	return k >= CategoryDeviceState && k <= CategoryResponseCache
}

// MarshalText implements encoding.TextMarshaler so kinds can be map keys.
func (k CategoryKind) MarshalText() ([]byte, error) {
	if !k.Valid() {
		return nil, fmt.Errorf("invalid category kind %d", int(k))
	}
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *CategoryKind) UnmarshalText(b []byte) error {
	parsed, err := ParseCategoryKind(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// ParseCategoryKind parses a wire name into a CategoryKind.
func ParseCategoryKind(s string) (CategoryKind, error) {
	switch s {
	case "device_state":
		return CategoryDeviceState, nil
	case "sensor_reading":
		return CategorySensorReading, nil
	case "system_metric":
		return CategorySystemMetric, nil
	case "audit_event":
		return CategoryAuditEvent, nil
	case "discovery_event":
		return CategoryDiscoveryEvent, nil
	case "response_cache":
		return CategoryResponseCache, nil
	default:
		return CategoryDeviceState, fmt.Errorf("unknown category: %s", s)
	}
}

// AllCategoryKinds returns every category in declaration order.
func AllCategoryKinds() []CategoryKind {
	return []CategoryKind{
		CategoryDeviceState,
		CategorySensorReading,
		CategorySystemMetric,
		CategoryAuditEvent,
		CategoryDiscoveryEvent,
		CategoryResponseCache,
	}
}

// Category is the payload of a HistoricalEvent. The set of implementations
// is closed; switch on the concrete type or on Kind().
type Category interface {
	Kind() CategoryKind
	isCategory()
}

// DeviceStateChange records a device moving from one state to another.
type DeviceStateChange struct {
	DeviceID      string `json:"device_id"`
	DeviceName    string `json:"device_name"`
	Room          string `json:"room,omitempty"`
	PreviousValue string `json:"previous_value"`
	NewValue      string `json:"new_value"`
	TriggeredBy   string `json:"triggered_by"`
}

// SensorData is a single sensor measurement.
type SensorData struct {
	SensorID   string  `json:"sensor_id"`
	SensorName string  `json:"sensor_name"`
	Value      float64 `json:"value"`
	Unit       string  `json:"unit"`
	SensorType string  `json:"sensor_type"`
	Room       string  `json:"room,omitempty"`
}

// MetricData is a gateway health metric sample.
type MetricData struct {
	MetricName string            `json:"metric_name"`
	Value      float64           `json:"value"`
	Unit       string            `json:"unit"`
	Tags       map[string]string `json:"tags,omitempty"`
}

// AuditResult is the outcome of an audited action.
type AuditResult string

const (
	AuditSuccess AuditResult = "success"
	AuditFailure AuditResult = "failure"
	AuditPartial AuditResult = "partial"
)

// AuditData records an action taken by an actor.
type AuditData struct {
	Actor   string      `json:"actor"`
	Action  string      `json:"action"`
	Result  AuditResult `json:"result"`
	Details string      `json:"details,omitempty"`
}

// DiscoveryData records an entity found by a discovery scan.
type DiscoveryData struct {
	EntityType string `json:"entity_type"`
	EntityID   string `json:"entity_id"`
	Method     string `json:"method"`
}

// ResponseCacheData records an upstream response that was cached.
type ResponseCacheData struct {
	Key        string `json:"key"`
	Endpoint   string `json:"endpoint"`
	StatusCode int    `json:"status_code"`
	TTLSeconds int64  `json:"ttl_seconds"`
}

func (DeviceStateChange) Kind() CategoryKind { return CategoryDeviceState }
func (SensorData) Kind() CategoryKind        { return CategorySensorReading }
func (MetricData) Kind() CategoryKind        { return CategorySystemMetric }
func (AuditData) Kind() CategoryKind         { return CategoryAuditEvent }
func (DiscoveryData) Kind() CategoryKind     { return CategoryDiscoveryEvent }
func (ResponseCacheData) Kind() CategoryKind { return CategoryResponseCache }

func (DeviceStateChange) isCategory() {}
func (SensorData) isCategory()        {}
func (MetricData) isCategory()        {}
func (AuditData) isCategory()         {}
func (DiscoveryData) isCategory()     {}
func (ResponseCacheData) isCategory() {}
