// Package errors provides the unified error taxonomy for element
// identification. Every failure class the fallback orchestrator has to
// distinguish is a Code here; none of them is fatal to the capture pipeline.
package errors

import "fmt"

// Code classifies an identification failure.
type Code int

const (
	CodeUnknown Code = iota
	// CodePermissionDenied means platform accessibility access is not granted.
	CodePermissionDenied
	// CodeTimeout means a query exceeded its deadline budget.
	CodeTimeout
	// CodeQueryFailure means the platform framework raised an exception-class
	// failure (invalid element reference, disposed element, COM error).
	CodeQueryFailure
	// CodeLowConfidence means a result was obtained but fell below the
	// acceptance threshold. Policy decision, not a hard failure.
	CodeLowConfidence
	// CodeNotFound means every identification source was exhausted.
	CodeNotFound
	// CodeUnsupported means the target application is known not to expose
	// an accessibility tree.
	CodeUnsupported
	// CodeVisionAPI means the vision-model service call failed.
	CodeVisionAPI
	// CodeConfigInvalid means a configuration value could not be applied.
	CodeConfigInvalid
	// CodePoolExhausted means no query worker was available.
	CodePoolExhausted
)

var codeNames = map[Code]string{
	CodeUnknown:          "UNKNOWN",
	CodePermissionDenied: "PERMISSION_DENIED",
	CodeTimeout:          "TIMEOUT",
	CodeQueryFailure:     "QUERY_FAILURE",
	CodeLowConfidence:    "LOW_CONFIDENCE",
	CodeNotFound:         "NOT_FOUND",
	CodeUnsupported:      "UNSUPPORTED",
	CodeVisionAPI:        "VISION_API_ERROR",
	CodeConfigInvalid:    "CONFIG_INVALID",
	CodePoolExhausted:    "POOL_EXHAUSTED",
}

func (c Code) String() string {
	if s, ok := codeNames[c]; ok {
		return s
	}
	return "UNKNOWN"
}

// AppError is the base error type with a structured code and metadata.
type AppError struct {
	Code     Code
	Message  string
	Metadata map[string]string
	Cause    error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	s := fmt.Sprintf("[%s] %s", e.Code.String(), e.Message)
	if len(e.Metadata) > 0 {
		s += fmt.Sprintf(" %v", e.Metadata)
	}
	if e.Cause != nil {
		s += fmt.Sprintf(" caused by: %v", e.Cause)
	}
	return s
}

// Unwrap returns the underlying cause for errors.Is/As.
func (e *AppError) Unwrap() error { return e.Cause }

// New creates a new AppError with the given code and message.
func New(code Code, msg string) *AppError {
	return &AppError{Code: code, Message: msg}
}

// Newf creates a new AppError with a formatted message.
func Newf(code Code, format string, args ...any) *AppError {
	return &AppError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap wraps an existing error with an AppError.
func Wrap(err error, code Code, msg string) *AppError {
	return &AppError{Code: code, Message: msg, Cause: err}
}

// Wrapf wraps an existing error with a formatted message.
func Wrapf(err error, code Code, format string, args ...any) *AppError {
	return &AppError{Code: code, Message: fmt.Sprintf(format, args...), Cause: err}
}

// WithMetadata adds metadata to an AppError.
func (e *AppError) WithMetadata(key, value string) *AppError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]string)
	}
	e.Metadata[key] = value
	return e
}

// CodeOf extracts the Code from an error chain, CodeUnknown if none.
func CodeOf(err error) Code {
	for err != nil {
		if appErr, ok := err.(*AppError); ok {
			return appErr.Code
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	return CodeUnknown
}

// IsCode checks if an error carries a specific code.
func IsCode(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}

// IsRetryable reports whether the failure is worth retrying in place.
// Accessibility failures never are (the orchestrator falls back instead);
// only transient vision-service failures qualify.
func IsRetryable(err error) bool {
	switch CodeOf(err) {
	case CodeVisionAPI, CodeTimeout:
		return true
	default:
		return false
	}
}
