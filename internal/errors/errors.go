// Package errors consolidates error definitions for gridcast.
//
// It provides sentinel errors for the four failure categories, category
// checking functions, an HTTP status mapping for the serving layer, and a
// collector for schema violations so a rejected publish batch reports every
// bad record rather than the first.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrInvalidFilter marks malformed or contradictory query parameters:
	// bad month ranges, unknown metrics, bad operators. Client-side, never
	// retried.
	ErrInvalidFilter = errors.New("invalid filter")

	// ErrInvalidData marks malformed raw input to summarization: empty draw
	// sets, negative or non-finite draw values.
	ErrInvalidData = errors.New("invalid data")

	// ErrSchemaViolation marks post-summarization validation failure. The
	// whole publish batch is rejected.
	ErrSchemaViolation = errors.New("schema violation")

	// ErrBackendUnavailable marks transient I/O or network failure reading
	// or writing a storage backend, after bounded retries were exhausted.
	ErrBackendUnavailable = errors.New("backend unavailable")

	// ErrNotFound is returned for unknown resources on the serving surface.
	ErrNotFound = errors.New("not found")

	// ErrNotAuthorized is returned when the shared API key check fails.
	ErrNotAuthorized = errors.New("not authorized")
)

// Is is a convenience wrapper for errors.Is.
var Is = errors.Is

// As is a convenience wrapper for errors.As.
var As = errors.As

// New is a convenience wrapper for errors.New.
var New = errors.New

// IsClientError reports whether err should be surfaced as a caller mistake
// rather than a server failure.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidFilter) ||
		errors.Is(err, ErrInvalidData) ||
		errors.Is(err, ErrSchemaViolation) ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrNotAuthorized)
}

// IsUnavailable reports whether err is a transient backend failure.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrBackendUnavailable)
}

// HTTPStatus maps an error to the status code the serving layer returns.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrInvalidFilter), errors.Is(err, ErrInvalidData),
		errors.Is(err, ErrSchemaViolation):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotAuthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrBackendUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted context.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// NewInvalidFilter creates an invalid-filter error naming the offending
// token.
func NewInvalidFilter(token, reason string) error {
	return fmt.Errorf("%q: %s: %w", token, reason, ErrInvalidFilter)
}

// NewInvalidData creates a data error with enough context to locate the bad
// input.
func NewInvalidData(gridID int64, month, reason string) error {
	return fmt.Errorf("grid %d month %s: %s: %w", gridID, month, reason, ErrInvalidData)
}

// SchemaViolations collects every violation found while validating a
// publish batch. A single violation rejects the entire batch.
type SchemaViolations struct {
	Violations []string
}

// Add records a violation for one record field.
func (v *SchemaViolations) Add(gridID int64, month, field, reason string) {
	v.Violations = append(v.Violations,
		fmt.Sprintf("grid %d month %s: %s: %s", gridID, month, field, reason))
}

// HasViolations reports whether any violation was recorded.
func (v *SchemaViolations) HasViolations() bool {
	return len(v.Violations) > 0
}

// Error implements the error interface, listing every violation.
func (v *SchemaViolations) Error() string {
	if len(v.Violations) == 0 {
		return "schema violation"
	}
	msg := fmt.Sprintf("schema validation failed with %d violations:", len(v.Violations))
	for _, viol := range v.Violations {
		msg += "\n  - " + viol
	}
	return msg
}

// Unwrap makes errors.Is(err, ErrSchemaViolation) hold for the collector.
func (v *SchemaViolations) Unwrap() error {
	return ErrSchemaViolation
}

// Err returns nil when no violations were recorded, otherwise the
// collector itself.
func (v *SchemaViolations) Err() error {
	if len(v.Violations) == 0 {
		return nil
	}
	return v
}
