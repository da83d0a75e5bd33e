// Package errors defines the structured errors returned across sagecell.
// Callers branch on Code; UserMessage is what a person sees.
package errors

import (
	stderrors "errors"
	"fmt"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
)

// ErrorCode classifies an Error.
type ErrorCode string

const (
	// Configuration
	ErrCodeConfigLoad    ErrorCode = "CONFIG_LOAD"
	ErrCodeConfigParse   ErrorCode = "CONFIG_PARSE"
	ErrCodeConfigInvalid ErrorCode = "CONFIG_INVALID"

	// Kernel session and socket
	ErrCodeConnect   ErrorCode = "CONNECT"
	ErrCodeTransport ErrorCode = "TRANSPORT"

	// Inbound envelopes and output fragments
	ErrCodeMalformedEnvelope ErrorCode = "MALFORMED_ENVELOPE"
	ErrCodeMalformedFragment ErrorCode = "MALFORMED_FRAGMENT"

	ErrCodeInternal     ErrorCode = "INTERNAL"
	ErrCodeInvalidInput ErrorCode = "INVALID_INPUT"
)

// ConnectNotice is the user-visible notice shown when the render server cannot be reached.
const ConnectNotice = "sagecell failed to connect to render server."

// Error is a coded error with optional context for logs and a separate
// message for people.
type Error struct {
	Code       ErrorCode
	Message    string
	Underlying error
	Context    map[string]any

	// Origin is the file:line that built the error.
	Origin      string
	Retryable   bool
	UserMessage string
	Remediation []string
}

func build(code ErrorCode, message string, cause error) *Error {
	return &Error{
		Code:       code,
		Message:    message,
		Underlying: cause,
		Context:    make(map[string]any),
		Origin:     origin(3),
	}
}

// New returns an Error with no cause.
func New(code ErrorCode, message string) *Error {
	return build(code, message, nil)
}

// Wrap attaches code and message to err. Wrap(nil, ...) is nil.
func Wrap(err error, code ErrorCode, message string) *Error {
	if err == nil {
		return nil
	}
	return build(code, message, err)
}

// Connect builds a ConnectError. A nil cause is allowed; handshake validation
// failures have no underlying error.
func Connect(cause error, message string) *Error {
	return build(ErrCodeConnect, message, cause).
		WithUserMessage(ConnectNotice).
		WithRemediation("check server_url and network access to the kernel server")
}

// Transport builds a TransportError for a mid-session socket failure.
func Transport(cause error, message string) *Error {
	return build(ErrCodeTransport, message, cause).WithUserMessage(ConnectNotice)
}

// WithContext records key in the error's context.
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// WithRetryable marks the error as retryable
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// WithUserMessage sets the human-friendly message returned to users.
func (e *Error) WithUserMessage(message string) *Error {
	e.UserMessage = message
	return e
}

// WithRemediation replaces the remediation tips.
func (e *Error) WithRemediation(tips ...string) *Error {
	if len(tips) > 0 {
		e.Remediation = append([]string(nil), tips...)
	}
	return e
}

// Error renders "[CODE] message {k: v, ...}: cause" with context keys sorted.
func (e *Error) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "[%s] %s", e.Code, e.Message)

	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		pairs := make([]string, len(keys))
		for i, k := range keys {
			pairs[i] = fmt.Sprintf("%s: %v", k, e.Context[k])
		}
		sb.WriteString(" {" + strings.Join(pairs, ", ") + "}")
	}
	if e.Underlying != nil {
		fmt.Fprintf(&sb, ": %v", e.Underlying)
	}
	return sb.String()
}

// Unwrap returns the underlying error for errors.Is/As
func (e *Error) Unwrap() error {
	return e.Underlying
}

// Is matches any *Error carrying the same code, so a sentinel such as
// &Error{Code: ErrCodeConnect} works with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code != "" && t.Code == e.Code
}

func origin(skip int) string {
	_, file, line, ok := runtime.Caller(skip)
	if !ok {
		return ""
	}
	return fmt.Sprintf("%s:%d", filepath.Base(file), line)
}

// As finds the first *Error in err's chain.
func As(err error) (*Error, bool) {
	var target *Error
	if err == nil || !stderrors.As(err, &target) {
		return nil, false
	}
	return target, true
}

// IsCode reports whether err's chain holds an *Error with code.
func IsCode(err error, code ErrorCode) bool {
	e, ok := As(err)
	return ok && e.Code == code
}

// GetCode returns err's code, ErrCodeInternal for foreign errors and "" for nil.
func GetCode(err error) ErrorCode {
	if err == nil {
		return ""
	}
	if e, ok := As(err); ok {
		return e.Code
	}
	return ErrCodeInternal
}

// IsRetryable checks if an error is retryable
func IsRetryable(err error) bool {
	e, ok := As(err)
	return ok && e.Retryable
}

// UserMessage returns the user-facing message for err, falling back to err.Error().
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	if e, ok := As(err); ok && e.UserMessage != "" {
		return e.UserMessage
	}
	return err.Error()
}
