package types

import "fmt"

// SourceKind identifies what produced an event.
type SourceKind int

const (
	SourceDevice SourceKind = iota
	SourceSensor
	SourceSystem
	SourceUser
	SourceAutomation
	SourceAPI
)

// String returns the wire name of the source kind.
func (k SourceKind) String() string {
	switch k {
	case SourceDevice:
		return "device"
	case SourceSensor:
		return "sensor"
	case SourceSystem:
		return "system"
	case SourceUser:
		return "user"
	case SourceAutomation:
		return "automation"
	case SourceAPI:
		return "api"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (k SourceKind) MarshalText() ([]byte, error) {
	if k < SourceDevice || k > SourceAPI {
		return nil, fmt.Errorf("invalid source kind %d", int(k))
	}
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *SourceKind) UnmarshalText(b []byte) error {
	parsed, err := ParseSourceKind(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// ParseSourceKind parses a wire name into a SourceKind.
func ParseSourceKind(s string) (SourceKind, error) {
	switch s {
	case "device":
		return SourceDevice, nil
	case "sensor":
		return SourceSensor, nil
	case "system":
		return SourceSystem, nil
	case "user":
		return SourceUser, nil
	case "automation":
		return SourceAutomation, nil
	case "api":
		return SourceAPI, nil
	default:
		return SourceSystem, fmt.Errorf("unknown source: %s", s)
	}
}

// Source is the producer of an event. ID is empty for SourceSystem.
type Source struct {
	Kind SourceKind `json:"kind"`
	ID   string     `json:"id,omitempty"`
}

// String returns "kind" or "kind:id".
func (s Source) String() string {
	if s.ID == "" {
		return s.Kind.String()
	}
	return s.Kind.String() + ":" + s.ID
}

func DeviceSource(id string) Source     { return Source{Kind: SourceDevice, ID: id} }
func SensorSource(id string) Source     { return Source{Kind: SourceSensor, ID: id} }
func SystemSource() Source              { return Source{Kind: SourceSystem} }
func UserSource(id string) Source       { return Source{Kind: SourceUser, ID: id} }
func AutomationSource(id string) Source { return Source{Kind: SourceAutomation, ID: id} }
func APISource(id string) Source        { return Source{Kind: SourceAPI, ID: id} }
