package errors

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
)

// Sentinel values used across the pipeline. Handlers map these to HTTP
// statuses; the orchestrator maps provider-side sentinels to fallbacks.
var (
	// ErrInvalidInput marks a malformed or missing request payload.
	ErrInvalidInput = errors.New("invalid input")

	// ErrProviderUnavailable marks a provider that is misconfigured
	// (typically missing credentials) or unreachable.
	ErrProviderUnavailable = errors.New("provider unavailable")

	// ErrProviderRejected marks a provider that was reached but returned
	// an error response.
	ErrProviderRejected = errors.New("provider rejected request")

	// ErrProviderTimeout marks a provider call that exceeded its bound.
	// Treated the same as ErrProviderRejected for fallback purposes.
	ErrProviderTimeout = errors.New("provider timed out")

	// ErrMalformedOutput marks model output that could not be parsed even
	// after lenient recovery.
	ErrMalformedOutput = errors.New("malformed model output")

	// ErrNoTranscript marks the one terminal pipeline failure: no usable
	// transcript was produced, so nothing downstream can run.
	ErrNoTranscript = errors.New("no transcript produced")

	// ErrInternalError is the catch-all for everything else.
	ErrInternalError = errors.New("internal error")
)

// Error is a structured error carrying contextual fields and the location
// where it was created.
type Error struct {
	original error
	message  string
	fields   map[string]interface{}
	file     string
	line     int

	// Code is an optional error code for categorization
	Code string
}

// New creates a new structured error with the given message.
func New(message string, fields ...map[string]interface{}) *Error {
	_, file, line, _ := runtime.Caller(1)
	return &Error{
		original: errors.New(message),
		message:  message,
		fields:   firstFieldMap(fields),
		file:     file,
		line:     line,
	}
}

// Wrap wraps an existing error with additional context. Returns nil when
// err is nil so call sites can wrap unconditionally.
func Wrap(err error, message string, fields ...map[string]interface{}) *Error {
	if err == nil {
		return nil
	}
	_, file, line, _ := runtime.Caller(1)
	return &Error{
		original: err,
		message:  message,
		fields:   firstFieldMap(fields),
		file:     file,
		line:     line,
	}
}

func firstFieldMap(fields []map[string]interface{}) map[string]interface{} {
	if len(fields) > 0 && fields[0] != nil {
		return fields[0]
	}
	return make(map[string]interface{})
}

// WithField returns a copy of the error with one extra context field.
func (e *Error) WithField(key string, value interface{}) *Error {
	if e == nil {
		return nil
	}
	result := e.clone(len(e.fields) + 1)
	result.fields[key] = value
	return result
}

// WithFields returns a copy of the error with extra context fields.
func (e *Error) WithFields(fields map[string]interface{}) *Error {
	if e == nil {
		return nil
	}
	result := e.clone(len(e.fields) + len(fields))
	for k, v := range fields {
		result.fields[k] = v
	}
	return result
}

// WithCode returns a copy of the error carrying the given code.
func (e *Error) WithCode(code string) *Error {
	if e == nil {
		return nil
	}
	result := e.clone(len(e.fields))
	result.Code = code
	return result
}

func (e *Error) clone(fieldCap int) *Error {
	result := &Error{
		original: e.original,
		message:  e.message,
		fields:   make(map[string]interface{}, fieldCap),
		file:     e.file,
		line:     e.line,
		Code:     e.Code,
	}
	for k, v := range e.fields {
		result.fields[k] = v
	}
	return result
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil || e.original == nil {
		return ""
	}
	if e.message == "" {
		return e.original.Error()
	}
	if e.message == e.original.Error() {
		return e.message
	}
	return fmt.Sprintf("%s: %v", e.message, e.original)
}

// Unwrap implements the errors.Unwrap interface.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.original
}

// Is reports whether any error in err's tree matches target.
func (e *Error) Is(target error) bool {
	if e == nil || target == nil {
		return false
	}
	if errors.Is(e.original, target) {
		return true
	}
	return e == target
}

// Location returns the file:line where the error was created.
func (e *Error) Location() string {
	if e == nil {
		return ""
	}
	parts := strings.Split(e.file, "/")
	return fmt.Sprintf("%s:%d", parts[len(parts)-1], e.line)
}

// GetFields returns the error's context fields.
func (e *Error) GetFields() map[string]interface{} {
	if e == nil {
		return nil
	}
	return e.fields
}

// AsJSON returns the error in a JSON-friendly map format.
func (e *Error) AsJSON() map[string]interface{} {
	if e == nil {
		return nil
	}
	result := map[string]interface{}{
		"error": e.Error(),
	}
	if e.Code != "" {
		result["code"] = e.Code
	}
	if len(e.fields) > 0 {
		result["context"] = e.fields
	}
	return result
}

func newSentinel(sentinel error, code, message string, fields []map[string]interface{}) *Error {
	_, file, line, _ := runtime.Caller(2)
	return &Error{
		original: sentinel,
		message:  message,
		fields:   firstFieldMap(fields),
		file:     file,
		line:     line,
		Code:     code,
	}
}

// NewInvalidInput creates a new ErrInvalidInput error with additional context.
func NewInvalidInput(message string, fields ...map[string]interface{}) *Error {
	return newSentinel(ErrInvalidInput, "INVALID_INPUT", message, fields)
}

// NewProviderUnavailable creates a new ErrProviderUnavailable error.
func NewProviderUnavailable(message string, fields ...map[string]interface{}) *Error {
	return newSentinel(ErrProviderUnavailable, "PROVIDER_UNAVAILABLE", message, fields)
}

// NewProviderRejected creates a new ErrProviderRejected error.
func NewProviderRejected(message string, fields ...map[string]interface{}) *Error {
	return newSentinel(ErrProviderRejected, "PROVIDER_REJECTED", message, fields)
}

// NewProviderTimeout creates a new ErrProviderTimeout error.
func NewProviderTimeout(message string, fields ...map[string]interface{}) *Error {
	return newSentinel(ErrProviderTimeout, "PROVIDER_TIMEOUT", message, fields)
}

// NewMalformedOutput creates a new ErrMalformedOutput error.
func NewMalformedOutput(message string, fields ...map[string]interface{}) *Error {
	return newSentinel(ErrMalformedOutput, "MALFORMED_OUTPUT", message, fields)
}

// NewNoTranscript creates the terminal no-transcript error.
func NewNoTranscript(message string, fields ...map[string]interface{}) *Error {
	return newSentinel(ErrNoTranscript, "NO_TRANSCRIPT", message, fields)
}

// NewInternalError creates a new ErrInternalError with additional context.
func NewInternalError(message string, fields ...map[string]interface{}) *Error {
	return newSentinel(ErrInternalError, "INTERNAL_ERROR", message, fields)
}
