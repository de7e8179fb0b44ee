// Package apperr defines the error taxonomy shared by every component.
//
// Errors carry a Kind independent of transport so the HTTP layer, the query
// orchestrator and tests can branch on classification without string matching.
package apperr

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies an error independent of the transport that surfaces it.
type Kind int

const (
	// Internal is the zero value: an unexpected failure.
	Internal Kind = iota

	// InvalidInput indicates a client bug: empty query, out-of-range top_k,
	// malformed strategy override.
	InvalidInput

	// TenantMissing indicates the request lacks or cannot resolve a tenant.
	TenantMissing

	// NotFound indicates a referenced document or job does not exist for the
	// tenant.
	NotFound

	// AlreadyIndexed is informational: the indexing path saw a duplicate
	// content hash and resolved to the existing document.
	AlreadyIndexed

	// TemplateVariableMissing indicates a render call omitted a declared
	// template variable.
	TemplateVariableMissing

	// UnknownVariable indicates a render call supplied a variable the
	// template does not declare.
	UnknownVariable

	// ExternalUnavailable indicates a downstream store or service failed
	// after the retry budget was spent.
	ExternalUnavailable

	// ProviderUnavailable indicates the LLM provider transport failed.
	ProviderUnavailable

	// QuotaExceeded indicates the LLM provider rejected the call for quota.
	QuotaExceeded

	// ContextTooLong indicates the prompt exceeded the provider context window.
	ContextTooLong

	// ContentFiltered indicates the provider refused the content.
	ContentFiltered

	// GenerationFailed indicates the provider returned an unusable response,
	// such as an empty completion.
	GenerationFailed

	// ResponseShapeMismatch indicates the embedding service returned a count
	// or dimension that does not match the request.
	ResponseShapeMismatch

	// Cancelled indicates caller-initiated cancellation.
	Cancelled
)

// String returns the wire name of the kind.
func (k Kind) String() string {
	switch k {
	case InvalidInput:
		return "invalid_input"
	case TenantMissing:
		return "tenant_missing"
	case NotFound:
		return "not_found"
	case AlreadyIndexed:
		return "already_indexed"
	case TemplateVariableMissing:
		return "template_variable_missing"
	case UnknownVariable:
		return "unknown_variable"
	case ExternalUnavailable:
		return "external_unavailable"
	case ProviderUnavailable:
		return "provider_unavailable"
	case QuotaExceeded:
		return "quota_exceeded"
	case ContextTooLong:
		return "context_too_long"
	case ContentFiltered:
		return "content_filtered"
	case GenerationFailed:
		return "generation_failed"
	case ResponseShapeMismatch:
		return "response_shape_mismatch"
	case Cancelled:
		return "cancelled"
	default:
		return "internal"
	}
}

// Error is a classified error, optionally annotated with the pipeline step
// that produced it and a correlation id.
type Error struct {
	Kind          Kind
	Message       string
	Step          string
	CorrelationID string
	Err           error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Step != "" {
		return fmt.Sprintf("%s: %s: %s", e.Step, e.Kind, msg)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

// Unwrap returns the wrapped error.
func (e *Error) Unwrap() error { return e.Err }

// New creates a classified error.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

// Newf creates a classified error with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies an existing error. Returns nil if err is nil.
func Wrap(kind Kind, msg string, err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: msg, Err: err}
}

// WithStep annotates err with the pipeline step that produced it. If err is
// already classified the step is set on it (first writer wins); otherwise err
// is wrapped as Internal.
func WithStep(step string, err error) error {
	if err == nil {
		return nil
	}
	var ae *Error
	if errors.As(err, &ae) {
		if ae.Step == "" {
			ae.Step = step
		}
		return err
	}
	return &Error{Kind: Internal, Step: step, Err: err}
}

// KindOf extracts the Kind from an error chain. Plain context cancellation
// maps to Cancelled; anything unclassified maps to Internal.
func KindOf(err error) Kind {
	if err == nil {
		return Internal
	}
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return Cancelled
	}
	return Internal
}

// Is reports whether the error chain carries the given kind.
func Is(err error, kind Kind) bool {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind == kind
	}
	return false
}

// StepOf returns the step annotation of an error chain, or "".
func StepOf(err error) string {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Step
	}
	return ""
}
