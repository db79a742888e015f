package apperror

import (
	"errors"
	"fmt"
)

// ValidationError marks a malformed job, detected before any external call.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid job: %s", e.Reason)
}

// NotFoundError marks a contact reference that does not resolve to a phone
// number on record.
type NotFoundError struct {
	Ref string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("contact %q not found", e.Ref)
}

// UpstreamError wraps a rejection from the messaging provider or a storage
// backend. StatusCode is zero for network-level failures. Transient failures
// (5xx, network) are retry candidates; 4xx rejections are not.
type UpstreamError struct {
	Op         string
	StatusCode int
	Transient  bool
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("upstream %s failed (status %d): %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("upstream %s failed: %v", e.Op, e.Err)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// ConfigurationError marks missing or inconsistent startup configuration.
// It fails the process at construction time, never per-request.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration %s: %s", e.Field, e.Reason)
}

// Upstream builds an UpstreamError classified by HTTP status class. A zero
// status means the request never completed and is treated as transient.
func Upstream(op string, statusCode int, err error) *UpstreamError {
	return &UpstreamError{
		Op:         op,
		StatusCode: statusCode,
		Transient:  statusCode == 0 || statusCode >= 500,
		Err:        err,
	}
}

// IsTransient reports whether err is an upstream failure worth retrying.
func IsTransient(err error) bool {
	var ue *UpstreamError
	return errors.As(err, &ue) && ue.Transient
}

// TypeOf classifies err into a short label used for logs and metrics.
func TypeOf(err error) string {
	var (
		ve *ValidationError
		ne *NotFoundError
		ue *UpstreamError
		ce *ConfigurationError
	)
	switch {
	case errors.As(err, &ve):
		return "validation"
	case errors.As(err, &ne):
		return "not_found"
	case errors.As(err, &ue):
		return "upstream"
	case errors.As(err, &ce):
		return "configuration"
	default:
		return "system"
	}
}
