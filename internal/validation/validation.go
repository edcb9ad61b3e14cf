// Package validation provides centralized input validation for recorded
// events and operator-supplied references.
package validation

import (
	"fmt"
	"strings"
	"time"

	herrors "github.com/xtxerr/homehistory/internal/errors"
	"github.com/xtxerr/homehistory/internal/history/types"
)

// =============================================================================
// Identifier Validation
// =============================================================================

// MaxMetadataEntries bounds the metadata map of one event.
const MaxMetadataEntries = 32

// IdentifierRules defines the validation rules for identifiers.
type IdentifierRules struct {
	MinLength int
	MaxLength int
}

// DefaultIdentifierRules returns the rules for event, entity and actor ids.
func DefaultIdentifierRules() IdentifierRules {
	return IdentifierRules{
		MinLength: 1,
		MaxLength: 255,
	}
}

// MetadataValueRules returns rules for metadata values, which may be empty.
func MetadataValueRules() IdentifierRules {
	return IdentifierRules{
		MinLength: 0,
		MaxLength: 1024,
	}
}

// ValidateIdentifier validates s according to the given rules.
func ValidateIdentifier(s string, rules IdentifierRules) error {
	if len(s) < rules.MinLength {
		if rules.MinLength == 1 {
			return fmt.Errorf("must not be empty")
		}
		return fmt.Errorf("too short: minimum %d characters required", rules.MinLength)
	}
	if len(s) > rules.MaxLength {
		return fmt.Errorf("too long: maximum %d characters allowed", rules.MaxLength)
	}

	for i, r := range s {
		if r < 32 || r == 127 {
			return fmt.Errorf("cannot contain control characters at position %d", i)
		}
	}

	return nil
}

// =============================================================================
// Event Validation
// =============================================================================

// ValidateEvent checks the structural invariants of ev and the identifiers
// it is bucketed and indexed by. The error matches ErrInvalidEvent.
func ValidateEvent(ev *types.HistoricalEvent) error {
	if err := ev.Validate(); err != nil {
		return herrors.Tag(herrors.ErrInvalidEvent, err)
	}

	rules := DefaultIdentifierRules()
	if err := ValidateIdentifier(ev.ID, rules); err != nil {
		return invalid("id", ev.ID, err)
	}

	// Device and sensor events get a hot bucket of their own.
	switch ev.Kind() {
	case types.CategoryDeviceState, types.CategorySensorReading, types.CategorySystemMetric:
		if err := ValidateIdentifier(ev.EntityID(), rules); err != nil {
			return invalid("entity", ev.EntityID(), err)
		}
	}

	if len(ev.Metadata) > MaxMetadataEntries {
		return fmt.Errorf("event %s: %d metadata entries, maximum %d: %w",
			ev.ID, len(ev.Metadata), MaxMetadataEntries, herrors.ErrInvalidEvent)
	}
	for k, v := range ev.Metadata {
		if err := ValidateIdentifier(k, rules); err != nil {
			return invalid("metadata key", k, err)
		}
		if err := ValidateIdentifier(v, MetadataValueRules()); err != nil {
			return invalid("metadata "+k, v, err)
		}
	}

	return nil
}

func invalid(field, value string, err error) error {
	return fmt.Errorf("invalid %s %q: %w: %w", field, value, err, herrors.ErrInvalidEvent)
}

// =============================================================================
// Partition Reference Validation
// =============================================================================

// PartitionRef names one archive file: a category and a UTC day.
type PartitionRef struct {
	Category types.CategoryKind
	Day      time.Time
}

// ParsePartitionRef parses a "category:YYYY-MM-DD" reference string.
func ParsePartitionRef(ref string) (*PartitionRef, error) {
	if ref == "" {
		return nil, fmt.Errorf("empty partition reference")
	}

	name, date, ok := strings.Cut(ref, ":")
	if !ok {
		return nil, fmt.Errorf("invalid partition reference format: expected 'category:YYYY-MM-DD', got '%s'", ref)
	}

	name = strings.TrimSpace(name)
	date = strings.TrimSpace(date)

	kind, err := types.ParseCategoryKind(name)
	if err != nil {
		return nil, fmt.Errorf("invalid category in partition reference: %w", err)
	}

	day, err := time.Parse("2006-01-02", date)
	if err != nil {
		return nil, fmt.Errorf("invalid day in partition reference '%s': %w", ref, err)
	}

	return &PartitionRef{
		Category: kind,
		Day:      day,
	}, nil
}

// String returns the string representation of the partition reference.
func (r *PartitionRef) String() string {
	return r.Category.String() + ":" + r.Day.Format("2006-01-02")
}
