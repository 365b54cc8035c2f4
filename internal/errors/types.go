// Package errors defines glimpse's structured error type and the parser that
// turns TeX compiler logs into actionable diagnostics.
//
// Every failure that crosses a package boundary is a *GlimpseError carrying an
// ErrorType (the taxonomy), a stable Code for programmatic handling, and a
// human-readable Message that is safe to show in the preview pane.
package errors

import (
	"errors"
	"fmt"
)

// ErrorType represents different categories of errors.
type ErrorType string

const (
	ErrorTypeValidation ErrorType = "validation"
	ErrorTypeNetwork    ErrorType = "network"
	ErrorTypeIO         ErrorType = "io"
	ErrorTypeRender     ErrorType = "render"
	ErrorTypeConfig     ErrorType = "config"
	ErrorTypeInternal   ErrorType = "internal"
)

// Error codes.
const (
	ErrCodeNotifyConnect = "ERR_NOTIFY_CONNECT"
	ErrCodeNotifyWrite   = "ERR_NOTIFY_WRITE"
	ErrCodePublish       = "ERR_PUBLISH"
	ErrCodeDecode        = "ERR_DECODE"
	ErrCodeIngressBind   = "ERR_INGRESS_BIND"
	ErrCodeServerBind    = "ERR_SERVER_BIND"
	ErrCodeSpawn         = "ERR_SPAWN"
	ErrCodeTypeset       = "ERR_TYPESET"
	ErrCodeConvert       = "ERR_CONVERT"
	ErrCodeEncoding      = "ERR_ENCODING"
	ErrCodeWorkspace     = "ERR_WORKSPACE"
	ErrCodeTimeout       = "ERR_TIMEOUT"
	ErrCodeRenderBusy    = "ERR_RENDER_BUSY"
	ErrCodeConfigDir     = "ERR_CONFIG_DIR"
	ErrCodeConfigInvalid = "ERR_CONFIG_INVALID"
	ErrCodeShutdown      = "ERR_SHUTDOWN"
	ErrCodeRequest       = "ERR_REQUEST"
	ErrCodeInput         = "ERR_INPUT"
	ErrCodeOutput        = "ERR_OUTPUT"
)

// GlimpseError is a structured error type with context.
type GlimpseError struct {
	Type        ErrorType
	Code        string
	Message     string
	Cause       error
	Context     map[string]interface{}
	Recoverable bool

	// Diagnostics holds parsed compiler diagnostics for ERR_TYPESET.
	Diagnostics []*Diagnostic
}

// Error returns the user-facing message, followed by the cause if any.
func (e *GlimpseError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying cause error.
func (e *GlimpseError) Unwrap() error {
	return e.Cause
}

// Is matches on Type and Code so callers can compare against sentinel values.
func (e *GlimpseError) Is(target error) bool {
	var t *GlimpseError
	if errors.As(target, &t) {
		return e.Type == t.Type && e.Code == t.Code
	}

	return false
}

// WithContext adds context information to the error.
func (e *GlimpseError) WithContext(key string, value interface{}) *GlimpseError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value

	return e
}

// WithDiagnostics attaches parsed compiler diagnostics.
func (e *GlimpseError) WithDiagnostics(diags []*Diagnostic) *GlimpseError {
	e.Diagnostics = diags
	return e
}

// NewValidationError creates a validation error.
func NewValidationError(code, message string, cause error) *GlimpseError {
	return &GlimpseError{
		Type:        ErrorTypeValidation,
		Code:        code,
		Message:     message,
		Cause:       cause,
		Recoverable: true,
	}
}

// NewNetworkError creates a network error.
func NewNetworkError(code, message string, cause error) *GlimpseError {
	return &GlimpseError{
		Type:        ErrorTypeNetwork,
		Code:        code,
		Message:     message,
		Cause:       cause,
		Recoverable: true,
	}
}

// NewRenderError creates a render pipeline error. Render errors are always
// recoverable: they are scoped to one request.
func NewRenderError(code, message string, cause error) *GlimpseError {
	return &GlimpseError{
		Type:        ErrorTypeRender,
		Code:        code,
		Message:     message,
		Cause:       cause,
		Recoverable: true,
	}
}

// NewIOError creates an I/O error.
func NewIOError(code, message string, cause error) *GlimpseError {
	return &GlimpseError{
		Type:    ErrorTypeIO,
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// NewConfigError creates a configuration error.
func NewConfigError(code, message string, cause error) *GlimpseError {
	return &GlimpseError{
		Type:    ErrorTypeConfig,
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// NewInternalError creates an internal error.
func NewInternalError(code, message string, cause error) *GlimpseError {
	return &GlimpseError{
		Type:    ErrorTypeInternal,
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// IsRenderError checks if an error came out of the render pipeline.
func IsRenderError(err error) bool {
	var ge *GlimpseError
	if errors.As(err, &ge) {
		return ge.Type == ErrorTypeRender
	}

	return false
}

// IsRecoverable checks if an error is recoverable.
func IsRecoverable(err error) bool {
	var ge *GlimpseError
	if errors.As(err, &ge) {
		return ge.Recoverable
	}

	return false
}

// CodeOf returns the code of the outermost GlimpseError in err's chain, or "".
func CodeOf(err error) string {
	var ge *GlimpseError
	if errors.As(err, &ge) {
		return ge.Code
	}
	return ""
}

// DiagnosticsOf returns the diagnostics attached anywhere in err's chain.
func DiagnosticsOf(err error) []*Diagnostic {
	for err != nil {
		var ge *GlimpseError
		if !errors.As(err, &ge) {
			return nil
		}
		if len(ge.Diagnostics) > 0 {
			return ge.Diagnostics
		}
		err = ge.Cause
	}
	return nil
}
