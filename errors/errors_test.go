package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestErrorClass_String(t *testing.T) {
	tests := []struct {
		class    ErrorClass
		expected string
	}{
		{ErrorTransient, "transient"},
		{ErrorInvalid, "invalid"},
		{ErrorFatal, "fatal"},
		{ErrorClass(999), "unknown"},
	}

	for _, test := range tests {
		t.Run(test.expected, func(t *testing.T) {
			result := test.class.String()
			if result != test.expected {
				t.Errorf("expected %s, got %s", test.expected, result)
			}
		})
	}
}

func TestKind_Class(t *testing.T) {
	tests := []struct {
		kind     Kind
		expected ErrorClass
	}{
		{KindConnection, ErrorTransient},
		{KindPersistence, ErrorTransient},
		{KindTransform, ErrorInvalid},
		{KindValidation, ErrorInvalid},
		{KindConfiguration, ErrorFatal},
		{KindUnknown, ErrorTransient},
	}

	for _, test := range tests {
		t.Run(test.kind.String(), func(t *testing.T) {
			if got := test.kind.Class(); got != test.expected {
				t.Errorf("expected %v, got %v", test.expected, got)
			}
		})
	}
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil error", nil, false},
		{"connection timeout", ErrConnectionTimeout, true},
		{"connection lost", ErrConnectionLost, true},
		{"no connection", ErrNoConnection, true},
		{"sink unavailable", ErrSinkUnavailable, true},
		{"context deadline exceeded", context.DeadlineExceeded, true},
		{"context canceled", context.Canceled, true},
		{"invalid data", ErrInvalidData, false},
		{"timeout in message", fmt.Errorf("operation timeout occurred"), true},
		{"network error", fmt.Errorf("network connection failed"), true},
		{"classified transient", &ClassifiedError{Class: ErrorTransient, Err: fmt.Errorf("test")}, true},
		{"classified fatal", &ClassifiedError{Class: ErrorFatal, Err: fmt.Errorf("test")}, false},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			result := IsTransient(test.err)
			if result != test.expected {
				t.Errorf("expected %v, got %v for error: %v", test.expected, result, test.err)
			}
		})
	}
}

func TestIsFatal(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil error", nil, false},
		{"invalid config", ErrInvalidConfig, true},
		{"missing config", ErrMissingConfig, true},
		{"resource exhausted", ErrResourceExhausted, true},
		{"connection timeout", ErrConnectionTimeout, false},
		{"invalid data", ErrInvalidData, false},
		{"fatal in message", fmt.Errorf("fatal system error occurred"), true},
		{"panic in message", fmt.Errorf("panic: system failure"), true},
		{"classified fatal", &ClassifiedError{Class: ErrorFatal, Err: fmt.Errorf("test")}, true},
		{"classified transient", &ClassifiedError{Class: ErrorTransient, Err: fmt.Errorf("test")}, false},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			result := IsFatal(test.err)
			if result != test.expected {
				t.Errorf("expected %v, got %v for error: %v", test.expected, result, test.err)
			}
		})
	}
}

func TestIsInvalid(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil error", nil, false},
		{"invalid data", ErrInvalidData, true},
		{"parsing failed", ErrParsingFailed, true},
		{"unknown format", ErrUnknownFormat, true},
		{"missing sensor id", ErrMissingSensorID, true},
		{"value not finite", ErrValueNotFinite, true},
		{"timestamp out of range", ErrTimestampOutOfRange, true},
		{"connection timeout", ErrConnectionTimeout, false},
		{"classified invalid", &ClassifiedError{Class: ErrorInvalid, Err: fmt.Errorf("test")}, true},
		{"classified transient", &ClassifiedError{Class: ErrorTransient, Err: fmt.Errorf("test")}, false},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			result := IsInvalid(test.err)
			if result != test.expected {
				t.Errorf("expected %v, got %v for error: %v", test.expected, result, test.err)
			}
		})
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected ErrorClass
	}{
		{"nil defaults transient", nil, ErrorTransient},
		{"unknown format is invalid", ErrUnknownFormat, ErrorInvalid},
		{"missing config is fatal", ErrMissingConfig, ErrorFatal},
		{"connection lost is transient", ErrConnectionLost, ErrorTransient},
		{"unknown error defaults transient", fmt.Errorf("weird failure"), ErrorTransient},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if got := Classify(test.err); got != test.expected {
				t.Errorf("expected %v, got %v", test.expected, got)
			}
		})
	}
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected Kind
	}{
		{"nil", nil, KindUnknown},
		{"sentinel connection", ErrReconnectExhausted, KindConnection},
		{"sentinel transform", ErrUnknownFormat, KindTransform},
		{"sentinel validation", ErrValueNotFinite, KindValidation},
		{"sentinel persistence", ErrSinkUnavailable, KindPersistence},
		{"sentinel configuration", ErrMissingConfig, KindConfiguration},
		{"plain error", fmt.Errorf("boom"), KindUnknown},
		{"wrapped sentinel", fmt.Errorf("outer: %w", ErrSinkUnavailable), KindPersistence},
		{"kind wrapper", WrapTransform(fmt.Errorf("bad json"), "Transformer", "Transform", "decode"), KindTransform},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if got := KindOf(test.err); got != test.expected {
				t.Errorf("expected %v, got %v", test.expected, got)
			}
		})
	}
}

func TestWrap(t *testing.T) {
	base := errors.New("dial refused")
	wrapped := Wrap(base, "Client", "Connect", "broker dial")

	expected := "Client.Connect: broker dial failed: dial refused"
	if wrapped.Error() != expected {
		t.Errorf("expected %q, got %q", expected, wrapped.Error())
	}
	if !errors.Is(wrapped, base) {
		t.Error("wrapped error should match base via errors.Is")
	}
	if Wrap(nil, "Client", "Connect", "broker dial") != nil {
		t.Error("wrapping nil should return nil")
	}
}

func TestWrapKind(t *testing.T) {
	base := errors.New("insert timeout")
	wrapped := WrapPersistence(base, "PostgresSink", "BulkInsert", "batch insert")

	var ce *ClassifiedError
	if !errors.As(wrapped, &ce) {
		t.Fatal("expected a ClassifiedError")
	}
	if ce.Kind != KindPersistence {
		t.Errorf("expected KindPersistence, got %v", ce.Kind)
	}
	if ce.Class != ErrorTransient {
		t.Errorf("expected ErrorTransient, got %v", ce.Class)
	}
	if ce.Component != "PostgresSink" {
		t.Errorf("expected component PostgresSink, got %s", ce.Component)
	}
	if !strings.Contains(wrapped.Error(), "PostgresSink.BulkInsert") {
		t.Errorf("expected component.method prefix, got %q", wrapped.Error())
	}
	if !errors.Is(wrapped, base) {
		t.Error("classification wrapper should preserve the error chain")
	}
	if !IsTransient(wrapped) {
		t.Error("persistence errors should classify as transient")
	}
}

func TestWrapValidationIsNotRetried(t *testing.T) {
	wrapped := WrapValidation(ErrMissingSensorID, "Validator", "Validate", "record check")

	if IsTransient(wrapped) {
		t.Error("validation errors must not classify as transient")
	}
	if !IsInvalid(wrapped) {
		t.Error("validation errors must classify as invalid")
	}
	if KindOf(wrapped) != KindValidation {
		t.Errorf("expected KindValidation, got %v", KindOf(wrapped))
	}
}
