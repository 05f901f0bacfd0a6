// Package domain provides the canonical types shared by the verification
// pipeline: the error taxonomy, the typed request variants, and the typed
// accessor layer over decoded JSON.
package domain

import (
	"fmt"
	"net/http"
)

// ErrorType represents the category of a pipeline error.
type ErrorType string

const (
	// ErrorTypeAuthentication indicates the request could not be proven to
	// originate from the platform. Terminal for the request.
	ErrorTypeAuthentication ErrorType = "authentication"

	// ErrorTypeValidation indicates the request authenticated but its payload
	// is structurally invalid.
	ErrorTypeValidation ErrorType = "validation"
)

// ErrorCode provides additional specificity beyond the error type.
type ErrorCode string

const (
	// Authentication error codes
	ErrorCodeUntrustedSource        ErrorCode = "untrusted_source"
	ErrorCodeInvalidCertificate     ErrorCode = "invalid_certificate"
	ErrorCodeSignatureMismatch      ErrorCode = "signature_mismatch"
	ErrorCodeTimestampOutOfRange    ErrorCode = "timestamp_out_of_range"
	ErrorCodeApplicationMismatch    ErrorCode = "application_mismatch"
	ErrorCodeCertificateFetchFailed ErrorCode = "certificate_fetch_failed"

	// Validation error codes
	ErrorCodeMissingRequiredField   ErrorCode = "missing_required_field"
	ErrorCodeMissingIntentName      ErrorCode = "missing_intent_name"
	ErrorCodeMissingSlots           ErrorCode = "missing_slots"
	ErrorCodeMalformedJSON          ErrorCode = "malformed_json"
	ErrorCodeMissingKey             ErrorCode = "missing_key"
	ErrorCodeTypeMismatch           ErrorCode = "type_mismatch"
	ErrorCodeUnsupportedRequestType ErrorCode = "unsupported_request_type"
)

// PipelineError is the canonical error returned by every stage of the
// verification pipeline. The Code alone is sufficient for a caller to make a
// correct accept/reject decision; Detail carries internal diagnostics for
// logging and is never serialized to clients.
type PipelineError struct {
	// Type is the category of error
	Type ErrorType `json:"type"`

	// Code is the specific error code
	Code ErrorCode `json:"code"`

	// Message is the human-readable error message
	Message string `json:"message"`

	// Param is the field that caused the error (if applicable)
	Param string `json:"param,omitempty"`

	// Detail is internal diagnostic context (e.g. which chain step failed).
	// Logged, never exposed to callers.
	Detail string `json:"-"`
}

// Error implements the error interface.
func (e *PipelineError) Error() string {
	if e.Param != "" {
		return fmt.Sprintf("%s (%s) %s: %s", e.Type, e.Code, e.Param, e.Message)
	}
	return fmt.Sprintf("%s (%s): %s", e.Type, e.Code, e.Message)
}

// HTTPStatusCode returns the appropriate HTTP status code for this error.
func (e *PipelineError) HTTPStatusCode() int {
	switch e.Type {
	case ErrorTypeAuthentication:
		return http.StatusUnauthorized
	case ErrorTypeValidation:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// NewPipelineError creates a new pipeline error.
func NewPipelineError(errType ErrorType, code ErrorCode, message string) *PipelineError {
	return &PipelineError{
		Type:    errType,
		Code:    code,
		Message: message,
	}
}

// WithParam adds a field name to the error.
func (e *PipelineError) WithParam(param string) *PipelineError {
	e.Param = param
	return e
}

// WithDetail attaches internal diagnostic context to the error.
func (e *PipelineError) WithDetail(detail string) *PipelineError {
	e.Detail = detail
	return e
}

// Convenience constructors for common errors

// ErrUntrustedSource indicates the certificate chain URL does not point at the
// platform's published signing-certificate location.
func ErrUntrustedSource(message string) *PipelineError {
	return NewPipelineError(ErrorTypeAuthentication, ErrorCodeUntrustedSource, message)
}

// ErrInvalidCertificate indicates the signing certificate failed chain,
// validity-interval, or domain-coverage checks.
func ErrInvalidCertificate(message string) *PipelineError {
	return NewPipelineError(ErrorTypeAuthentication, ErrorCodeInvalidCertificate, message)
}

// ErrSignatureMismatch indicates the detached signature does not verify over
// the raw request body under the certificate's key.
func ErrSignatureMismatch(message string) *PipelineError {
	return NewPipelineError(ErrorTypeAuthentication, ErrorCodeSignatureMismatch, message)
}

// ErrTimestampOutOfRange indicates the claimed request timestamp is outside
// the allowed skew window.
func ErrTimestampOutOfRange(message string) *PipelineError {
	return NewPipelineError(ErrorTypeAuthentication, ErrorCodeTimestampOutOfRange, message)
}

// ErrApplicationMismatch indicates the request targets a different application
// than the one configured.
func ErrApplicationMismatch(message string) *PipelineError {
	return NewPipelineError(ErrorTypeAuthentication, ErrorCodeApplicationMismatch, message)
}

// ErrCertificateFetchFailed indicates the signing-certificate document could
// not be retrieved. The caller may retry the whole pipeline.
func ErrCertificateFetchFailed(message string) *PipelineError {
	return NewPipelineError(ErrorTypeAuthentication, ErrorCodeCertificateFetchFailed, message)
}

// ErrMissingRequiredField creates a validation error for an absent
// variant-mandatory field.
func ErrMissingRequiredField(param string) *PipelineError {
	return NewPipelineError(ErrorTypeValidation, ErrorCodeMissingRequiredField, "required field is missing").
		WithParam(param)
}

// ErrMissingIntentName creates a validation error for an absent or blank
// intent name.
func ErrMissingIntentName(message string) *PipelineError {
	return NewPipelineError(ErrorTypeValidation, ErrorCodeMissingIntentName, message)
}

// ErrMissingSlots creates a validation error for an entirely absent slots
// collection. An empty slots list is valid; its absence is malformed input.
func ErrMissingSlots(message string) *PipelineError {
	return NewPipelineError(ErrorTypeValidation, ErrorCodeMissingSlots, message)
}

// ErrMalformedJSON creates a validation error for an undecodable body.
func ErrMalformedJSON(message string) *PipelineError {
	return NewPipelineError(ErrorTypeValidation, ErrorCodeMalformedJSON, message)
}

// ErrMissingKey creates a validation error for an absent document key.
func ErrMissingKey(param string) *PipelineError {
	return NewPipelineError(ErrorTypeValidation, ErrorCodeMissingKey, "expected key is missing").
		WithParam(param)
}

// ErrTypeMismatch creates a validation error for a document value of an
// unexpected type.
func ErrTypeMismatch(param, message string) *PipelineError {
	return NewPipelineError(ErrorTypeValidation, ErrorCodeTypeMismatch, message).
		WithParam(param)
}

// ErrUnsupportedRequestType creates a validation error for an unknown request
// discriminator.
func ErrUnsupportedRequestType(requestType string) *PipelineError {
	return NewPipelineError(ErrorTypeValidation, ErrorCodeUnsupportedRequestType,
		fmt.Sprintf("unsupported request type %q", requestType)).
		WithParam("request.type")
}
