package errors

import (
	"fmt"
	"io"
	"testing"
)

func TestClassification(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		storage    bool
		validation bool
		retriable  bool
	}{
		{"io", NewIO("write", "/tmp/x", io.ErrShortWrite), true, false, true},
		{"serialization", NewSerialization("/tmp/x", io.ErrUnexpectedEOF), true, false, false},
		{"compression", Tag(ErrCompression, io.EOF), true, false, true},
		{"config", NewValidation("retention", "must be positive"), false, true, false},
		{"missing", NewMissingField("data_dir"), false, true, false},
		{"state", fmt.Errorf("record: %w", ErrNotRunning), false, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if IsStorage(tt.err) != tt.storage {
				t.Errorf("IsStorage=%v, want %v", IsStorage(tt.err), tt.storage)
			}
			if IsValidation(tt.err) != tt.validation {
				t.Errorf("IsValidation=%v, want %v", IsValidation(tt.err), tt.validation)
			}
			if IsRetriable(tt.err) != tt.retriable {
				t.Errorf("IsRetriable=%v, want %v", IsRetriable(tt.err), tt.retriable)
			}
		})
	}
}

func TestTagKeepsCause(t *testing.T) {
	err := Tag(ErrCompression, io.ErrUnexpectedEOF)
	if !Is(err, io.ErrUnexpectedEOF) {
		t.Error("tagged error should keep its cause")
	}
	if Tag(ErrIO, nil) != nil {
		t.Error("tagging nil should return nil")
	}
}

func TestWrap(t *testing.T) {
	if Wrap(nil, "ctx") != nil {
		t.Error("wrap nil should return nil")
	}
	err := Wrapf(ErrIO, "store %s", "device_state")
	if !Is(err, ErrIO) {
		t.Error("wrapped error should match sentinel")
	}
	if err.Error() != "store device_state: i/o error" {
		t.Errorf("unexpected message %q", err.Error())
	}
}

func TestValidationErrors(t *testing.T) {
	v := NewValidationErrors()
	if v.Err() != nil {
		t.Error("empty collector should return nil")
	}

	v.AddField("hot.device_capacity", "must be positive")
	v.AddMissing("data_dir")

	err := v.Err()
	if err == nil {
		t.Fatal("expected error")
	}
	if !Is(err, ErrMissingField) || !Is(err, ErrInvalidConfig) {
		t.Error("collector should expose every collected error")
	}
	if !v.HasErrors() || len(v.Errors) != 2 {
		t.Errorf("expected 2 errors, got %d", len(v.Errors))
	}
}
