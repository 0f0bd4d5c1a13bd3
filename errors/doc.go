// Package errors provides standardized error handling patterns for sensorstream components.
//
// # Overview
//
// The errors package implements a three-class error classification system for the
// ingestion pipeline: Transient (temporary, retryable), Invalid (bad input,
// non-retryable), and Fatal (unrecoverable, stop processing).
//
// On top of the classes sits the pipeline error taxonomy, expressed as Kind:
//
//   - KindConnection: broker connectivity failures (transient)
//   - KindTransform: payload decoding failures (invalid)
//   - KindValidation: unified record validation failures (invalid)
//   - KindPersistence: sink write failures (transient)
//   - KindConfiguration: invalid or missing configuration (fatal)
//
// The dead-letter controller uses the class to decide between bounded retry
// (transient) and immediate parking (invalid), and the kind to label parked
// entries for operators.
//
// # Error Wrapping Pattern
//
// All error wrapping follows the standardized format:
//
//	"component.method: action failed: %w"
//
// Classification-aware wrappers set the class explicitly:
//
//	errors.WrapTransient(err, "Component", "Method", "action")
//	errors.WrapInvalid(err, "Component", "Method", "action")
//	errors.WrapFatal(err, "Component", "Method", "action")
//
// Taxonomy wrappers set both kind and class:
//
//	errors.WrapPersistence(err, "PostgresSink", "BulkInsert", "batch insert")
//	errors.WrapTransform(err, "Transformer", "Transform", "csv decode")
//
// The plain Wrap() adds context without changing classification.
//
// # Classification Checks
//
// Retry and quarantine decisions use the predicate functions:
//
//	if errors.IsTransient(err) {
//	    // requeue for bounded retry
//	} else if errors.IsInvalid(err) {
//	    // park in the dead-letter set, never retry
//	} else if errors.IsFatal(err) {
//	    // stop processing, escalate to operator
//	}
//
// Classification is preserved through error chains and integrates with the
// standard library's errors.Is(), errors.As(), and wrapping conventions.
// Context errors (context.DeadlineExceeded, context.Canceled) classify as
// Transient so context-based timeouts follow the same retry path as network
// timeouts.
//
// # Standard Error Variables
//
// Pre-defined error variables cover common conditions, organized by category:
// component lifecycle (ErrAlreadyStarted, ErrNotStarted), broker connection
// (ErrConnectionLost, ErrReconnectExhausted), payload decoding
// (ErrUnknownFormat, ErrParsingFailed), record validation (ErrMissingSensorID,
// ErrValueNotFinite), persistence (ErrSinkUnavailable), and configuration
// (ErrInvalidConfig, ErrMissingConfig). Use these instead of ad-hoc error
// strings so errors.Is checks work across package boundaries.
//
// # Thread Safety
//
// All classification and wrapping operations are thread-safe. Error variables
// are immutable and safe for concurrent access.
package errors
