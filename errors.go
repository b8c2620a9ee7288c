/*
Package dynarow – error types.

Every failure surfaced by this library is either an *Error carrying a
well-known code, or an untouched error from the underlying AWS SDK call.
*/
package dynarow

import "fmt"

// ErrorCode is a well-known error category string.
type ErrorCode string

const (
	ErrArgument              ErrorCode = "ArgumentError"
	ErrValidation            ErrorCode = "ValidationError"
	ErrMissingTableAttribute ErrorCode = "MissingTableAttribute"
	ErrInvalidSchemaField    ErrorCode = "InvalidSchemaField"
	ErrConditionFailed       ErrorCode = "ConditionFailed"
	ErrHashKeyExists         ErrorCode = "HashKeyExists"
	ErrTableNotActive        ErrorCode = "TableNotActive"
	ErrUnsupportedOperator   ErrorCode = "UnsupportedOperator"
	ErrRuntime               ErrorCode = "RuntimeError"
)

// Error is the library error type. It carries an optional Code, a free-form
// Context map for extra debugging data, and the wrapped cause if any.
type Error struct {
	Message string
	Code    ErrorCode
	Context map[string]any
	Cause   error
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("[%s] %s", e.Code, e.Message)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// NewError constructs an Error.
func NewError(msg string, opts ...func(*Error)) *Error {
	err := &Error{Message: msg}
	for _, o := range opts {
		o(err)
	}
	return err
}

// WithCode sets the error code.
func WithCode(c ErrorCode) func(*Error) {
	return func(e *Error) { e.Code = c }
}

// WithContext attaches a context map.
func WithContext(ctx map[string]any) func(*Error) {
	return func(e *Error) { e.Context = ctx }
}

// WithCause wraps an underlying error.
func WithCause(cause error) func(*Error) {
	return func(e *Error) { e.Cause = cause }
}

// NewArgError constructs an Error coded as an argument error.
func NewArgError(msg string) *Error {
	return &Error{Message: msg, Code: ErrArgument}
}

// CodeOf returns the ErrorCode carried by err, or "" for foreign errors.
func CodeOf(err error) ErrorCode {
	if e, ok := err.(*Error); ok {
		return e.Code
	}
	return ""
}

// IsCode reports whether err is a library error with the given code.
func IsCode(err error, code ErrorCode) bool {
	return CodeOf(err) == code
}

// IsConditionFailed reports whether err is a conditional-check rejection.
// HashKeyExists is a specialisation of ConditionFailed, so it matches too.
func IsConditionFailed(err error) bool {
	c := CodeOf(err)
	return c == ErrConditionFailed || c == ErrHashKeyExists
}
