package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorType represents the categories of extraction failures
type ErrorType int

const (
	ErrorTypeUnknown ErrorType = iota
	ErrorTypeDocument
	ErrorTypeSchema
	ErrorTypeQuery
	ErrorTypeBackendUnavailable
	ErrorTypeMalformedModelOutput
	ErrorTypeConfiguration
)

// Sentinels matched by errors.Is against any *Error of the same type.
var (
	ErrDocument             = stderrors.New("document error")
	ErrSchema               = stderrors.New("schema error")
	ErrQuery                = stderrors.New("query error")
	ErrBackendUnavailable   = stderrors.New("backend unavailable")
	ErrMalformedModelOutput = stderrors.New("malformed model output")
	ErrConfiguration        = stderrors.New("configuration error")
)

// String returns a string representation of the ErrorType
func (et ErrorType) String() string {
	switch et {
	case ErrorTypeDocument:
		return "DOCUMENT"
	case ErrorTypeSchema:
		return "SCHEMA"
	case ErrorTypeQuery:
		return "QUERY"
	case ErrorTypeBackendUnavailable:
		return "BACKEND_UNAVAILABLE"
	case ErrorTypeMalformedModelOutput:
		return "MALFORMED_MODEL_OUTPUT"
	case ErrorTypeConfiguration:
		return "CONFIGURATION"
	default:
		return "UNKNOWN"
	}
}

// IsFatal reports whether an error of this type aborts the whole request.
// Malformed model output is recovered per unit.
func (et ErrorType) IsFatal() bool {
	return et != ErrorTypeMalformedModelOutput
}

func (et ErrorType) sentinel() error {
	switch et {
	case ErrorTypeDocument:
		return ErrDocument
	case ErrorTypeSchema:
		return ErrSchema
	case ErrorTypeQuery:
		return ErrQuery
	case ErrorTypeBackendUnavailable:
		return ErrBackendUnavailable
	case ErrorTypeMalformedModelOutput:
		return ErrMalformedModelOutput
	case ErrorTypeConfiguration:
		return ErrConfiguration
	default:
		return nil
	}
}

// Error is an extraction failure with its category and optional provenance
type Error struct {
	Type     ErrorType `json:"type"`
	Message  string    `json:"message"`
	Cause    error     `json:"-"`
	FilePath string    `json:"file_path,omitempty"`
	Page     int       `json:"page,omitempty"`
}

// Error implements the error interface
func (e *Error) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Type, e.Message)
	if e.Page > 0 {
		msg = fmt.Sprintf("%s (page %d)", msg, e.Page)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches the sentinel for the error's type.
func (e *Error) Is(target error) bool {
	if s := e.Type.sentinel(); s != nil && target == s {
		return true
	}
	return false
}

// New creates a new Error
func New(errorType ErrorType, message string) *Error {
	return &Error{Type: errorType, Message: message}
}

// Newf creates a new Error with a formatted message
func Newf(errorType ErrorType, format string, args ...any) *Error {
	return &Error{Type: errorType, Message: fmt.Sprintf(format, args...)}
}

// Wrap wraps err as an Error of the given type
func Wrap(errorType ErrorType, message string, err error) *Error {
	return &Error{Type: errorType, Message: message, Cause: err}
}

// WithFile adds file path information to an existing Error
func (e *Error) WithFile(filePath string) *Error {
	e.FilePath = filePath
	return e
}

// WithPage adds page number information to an existing Error
func (e *Error) WithPage(page int) *Error {
	e.Page = page
	return e
}

// TypeOf returns the ErrorType of err, or ErrorTypeUnknown.
func TypeOf(err error) ErrorType {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Type
	}
	return ErrorTypeUnknown
}

func Document(format string, args ...any) *Error {
	return Newf(ErrorTypeDocument, format, args...)
}

func Schema(format string, args ...any) *Error {
	return Newf(ErrorTypeSchema, format, args...)
}

func Query(format string, args ...any) *Error {
	return Newf(ErrorTypeQuery, format, args...)
}

func Configuration(format string, args ...any) *Error {
	return Newf(ErrorTypeConfiguration, format, args...)
}

// BackendUnavailable wraps a transport or model failure.
func BackendUnavailable(err error, format string, args ...any) *Error {
	return Wrap(ErrorTypeBackendUnavailable, fmt.Sprintf(format, args...), err)
}
