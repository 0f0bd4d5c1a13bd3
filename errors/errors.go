package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorClass sorts failures by how the pipeline reacts to them: retry,
// reject, or stop.
type ErrorClass int

const (
	// ErrorTransient: temporary, retry may succeed.
	ErrorTransient ErrorClass = iota
	// ErrorInvalid: the input or configuration is wrong, retrying cannot help.
	ErrorInvalid
	// ErrorFatal: the process cannot continue usefully.
	ErrorFatal
)

func (ec ErrorClass) String() string {
	switch ec {
	case ErrorTransient:
		return "transient"
	case ErrorInvalid:
		return "invalid"
	case ErrorFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Kind identifies which stage of the pipeline produced an error. The kind
// determines the class: connection and persistence failures are transient
// (retryable), transform and validation failures are invalid (never retried),
// configuration failures are fatal.
type Kind int

const (
	// KindUnknown is the zero kind for errors the pipeline did not produce
	KindUnknown Kind = iota
	// KindConnection covers broker connectivity failures
	KindConnection
	// KindTransform covers payload decoding failures
	KindTransform
	// KindValidation covers unified record validation failures
	KindValidation
	// KindPersistence covers sink write failures
	KindPersistence
	// KindConfiguration covers invalid or missing configuration
	KindConfiguration
)

// String returns the string representation of Kind
func (k Kind) String() string {
	switch k {
	case KindConnection:
		return "connection"
	case KindTransform:
		return "transform"
	case KindValidation:
		return "validation"
	case KindPersistence:
		return "persistence"
	case KindConfiguration:
		return "configuration"
	default:
		return "unknown"
	}
}

// Class returns the error class implied by the kind.
func (k Kind) Class() ErrorClass {
	switch k {
	case KindConnection, KindPersistence:
		return ErrorTransient
	case KindTransform, KindValidation:
		return ErrorInvalid
	case KindConfiguration:
		return ErrorFatal
	default:
		return ErrorTransient
	}
}

// Sentinels for conditions several packages need to recognize.
var (
	// Component lifecycle
	ErrNotInitialized = errors.New("component not initialized")
	ErrAlreadyStarted = errors.New("component already started")
	ErrNotStarted     = errors.New("component not started")
	ErrAlreadyStopped = errors.New("component already stopped")
	ErrShuttingDown   = errors.New("component is shutting down")

	// Broker connection
	ErrNoConnection       = errors.New("no connection available")
	ErrConnectionLost     = errors.New("connection lost")
	ErrConnectionTimeout  = errors.New("connection timeout")
	ErrSubscriptionFailed = errors.New("subscription failed")
	ErrReconnectExhausted = errors.New("reconnect attempts exhausted")

	// Payload decoding
	ErrUnknownFormat  = errors.New("unknown payload format")
	ErrPayloadEmpty   = errors.New("empty payload")
	ErrParsingFailed  = errors.New("parsing failed")
	ErrChecksumFailed = errors.New("checksum validation failed")

	// Record validation
	ErrInvalidData         = errors.New("invalid data format")
	ErrMissingSensorID     = errors.New("missing sensor id")
	ErrValueNotFinite      = errors.New("value not finite")
	ErrTimestampOutOfRange = errors.New("timestamp out of range")

	// Persistence
	ErrSinkUnavailable = errors.New("sink unavailable")
	ErrSinkClosed      = errors.New("sink closed")

	// Configuration
	ErrInvalidConfig = errors.New("invalid configuration")
	ErrMissingConfig = errors.New("missing required configuration")

	// Resources
	ErrResourceExhausted = errors.New("resource exhausted")
	ErrBufferFull        = errors.New("buffer full")

	// Retry
	ErrMaxRetriesExceeded = errors.New("maximum retries exceeded")
	ErrRetryTimeout       = errors.New("retry timeout exceeded")
)

// ClassifiedError carries an error's class and kind along with where it
// happened. The Wrap* helpers build these; callers route on the class
// through IsTransient/IsInvalid/IsFatal.
type ClassifiedError struct {
	Class     ErrorClass
	Kind      Kind
	Err       error
	Message   string
	Component string
	Operation string
}

func (ce *ClassifiedError) Error() string {
	if ce.Message != "" {
		return ce.Message
	}
	return ce.Err.Error()
}

func (ce *ClassifiedError) Unwrap() error {
	return ce.Err
}

// messageHasAny reports whether the lowercased error text contains any of
// the given fragments. Fallback for errors that arrive unclassified from
// third-party code.
func messageHasAny(err error, fragments []string) bool {
	errStr := strings.ToLower(err.Error())
	for _, fragment := range fragments {
		if strings.Contains(errStr, fragment) {
			return true
		}
	}
	return false
}

var transientFragments = []string{
	"timeout",
	"connection",
	"network",
	"temporary",
	"unavailable",
	"busy",
	"retry",
}

var fatalFragments = []string{
	"fatal",
	"panic",
	"corrupted",
	"invalid config",
	"missing config",
	"out of memory",
	"disk full",
}

// IsTransient reports whether an error is worth retrying. Classified
// errors answer from their class; everything else is matched against the
// transient sentinels and then the message fragments.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ErrorTransient
	}

	if errors.Is(err, ErrConnectionTimeout) ||
		errors.Is(err, ErrConnectionLost) ||
		errors.Is(err, ErrNoConnection) ||
		errors.Is(err, ErrSinkUnavailable) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled) {
		return true
	}

	return messageHasAny(err, transientFragments)
}

// IsFatal reports whether an error should stop processing.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ErrorFatal
	}

	if errors.Is(err, ErrInvalidConfig) ||
		errors.Is(err, ErrMissingConfig) ||
		errors.Is(err, ErrResourceExhausted) {
		return true
	}

	return messageHasAny(err, fatalFragments)
}

// IsInvalid reports whether an error means the input itself is bad. No
// message-fragment fallback here: only explicit classification or the
// validation sentinels count, because treating a stray error as invalid
// parks data that a retry might have saved.
func IsInvalid(err error) bool {
	if err == nil {
		return false
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ErrorInvalid
	}

	return errors.Is(err, ErrInvalidData) ||
		errors.Is(err, ErrParsingFailed) ||
		errors.Is(err, ErrChecksumFailed) ||
		errors.Is(err, ErrUnknownFormat) ||
		errors.Is(err, ErrPayloadEmpty) ||
		errors.Is(err, ErrMissingSensorID) ||
		errors.Is(err, ErrValueNotFinite) ||
		errors.Is(err, ErrTimestampOutOfRange)
}

// Classify returns the error class, checking invalid before fatal before
// transient. Unknown errors come back transient so the caller retries
// rather than discards.
func Classify(err error) ErrorClass {
	if err == nil {
		return ErrorTransient
	}

	if IsInvalid(err) {
		return ErrorInvalid
	}
	if IsFatal(err) {
		return ErrorFatal
	}
	if IsTransient(err) {
		return ErrorTransient
	}

	return ErrorTransient
}

// KindOf returns the pipeline kind of an error, or KindUnknown when the
// error did not come from a classified pipeline stage.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) && ce.Kind != KindUnknown {
		return ce.Kind
	}

	switch {
	case errors.Is(err, ErrConnectionLost),
		errors.Is(err, ErrConnectionTimeout),
		errors.Is(err, ErrNoConnection),
		errors.Is(err, ErrSubscriptionFailed),
		errors.Is(err, ErrReconnectExhausted):
		return KindConnection
	case errors.Is(err, ErrUnknownFormat),
		errors.Is(err, ErrPayloadEmpty),
		errors.Is(err, ErrParsingFailed),
		errors.Is(err, ErrChecksumFailed):
		return KindTransform
	case errors.Is(err, ErrMissingSensorID),
		errors.Is(err, ErrValueNotFinite),
		errors.Is(err, ErrTimestampOutOfRange),
		errors.Is(err, ErrInvalidData):
		return KindValidation
	case errors.Is(err, ErrSinkUnavailable),
		errors.Is(err, ErrSinkClosed):
		return KindPersistence
	case errors.Is(err, ErrInvalidConfig),
		errors.Is(err, ErrMissingConfig):
		return KindConfiguration
	}

	return KindUnknown
}

func newClassified(class ErrorClass, kind Kind, err error, component, operation, message string) *ClassifiedError {
	return &ClassifiedError{
		Class:     class,
		Kind:      kind,
		Err:       err,
		Message:   message,
		Component: component,
		Operation: operation,
	}
}

// Wrap creates a standardized error with context following the pattern:
// "component.method: action failed: %w"
func Wrap(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s.%s: %s failed: %w", component, method, action, err)
}

// WrapTransient wraps an error as transient with context
func WrapTransient(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrappedErr := Wrap(err, component, method, action)
	return newClassified(ErrorTransient, KindUnknown, wrappedErr, component, method, wrappedErr.Error())
}

// WrapFatal wraps an error as fatal with context
func WrapFatal(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrappedErr := Wrap(err, component, method, action)
	return newClassified(ErrorFatal, KindUnknown, wrappedErr, component, method, wrappedErr.Error())
}

// WrapInvalid wraps an error as invalid with context
func WrapInvalid(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrappedErr := Wrap(err, component, method, action)
	return newClassified(ErrorInvalid, KindUnknown, wrappedErr, component, method, wrappedErr.Error())
}

// WrapKind wraps an error with a pipeline kind; the class follows the kind.
func WrapKind(err error, kind Kind, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrappedErr := Wrap(err, component, method, action)
	return newClassified(kind.Class(), kind, wrappedErr, component, method, wrappedErr.Error())
}

// WrapConnection wraps a broker connectivity error (transient)
func WrapConnection(err error, component, method, action string) error {
	return WrapKind(err, KindConnection, component, method, action)
}

// WrapTransform wraps a payload decoding error (invalid)
func WrapTransform(err error, component, method, action string) error {
	return WrapKind(err, KindTransform, component, method, action)
}

// WrapValidation wraps a record validation error (invalid)
func WrapValidation(err error, component, method, action string) error {
	return WrapKind(err, KindValidation, component, method, action)
}

// WrapPersistence wraps a sink write error (transient)
func WrapPersistence(err error, component, method, action string) error {
	return WrapKind(err, KindPersistence, component, method, action)
}

// WrapConfiguration wraps a configuration error (fatal)
func WrapConfiguration(err error, component, method, action string) error {
	return WrapKind(err, KindConfiguration, component, method, action)
}
