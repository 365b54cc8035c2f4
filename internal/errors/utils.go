package errors

import (
	"errors"
)

// Wrap wraps an error with additional context, creating a GlimpseError if the
// input is not already one.
func Wrap(err error, errType ErrorType, code, message string) *GlimpseError {
	if err == nil {
		return nil
	}

	var ge *GlimpseError
	if errors.As(err, &ge) {
		return &GlimpseError{
			Type:        errType,
			Code:        code,
			Message:     message,
			Cause:       ge,
			Context:     ge.Context,
			Recoverable: ge.Recoverable,
			Diagnostics: ge.Diagnostics,
		}
	}

	return &GlimpseError{
		Type:        errType,
		Code:        code,
		Message:     message,
		Cause:       err,
		Recoverable: errType == ErrorTypeValidation || errType == ErrorTypeRender || errType == ErrorTypeNetwork,
	}
}

// WrapNetwork wraps an error as a network error.
func WrapNetwork(err error, code, message string) *GlimpseError {
	return Wrap(err, ErrorTypeNetwork, code, message)
}

// WrapValidation wraps an error as a validation error.
func WrapValidation(err error, code, message string) *GlimpseError {
	return Wrap(err, ErrorTypeValidation, code, message)
}

// WrapIO wraps an error as an I/O error.
func WrapIO(err error, code, message string) *GlimpseError {
	ge := Wrap(err, ErrorTypeIO, code, message)
	if ge != nil {
		ge.Recoverable = false
	}
	return ge
}

// WrapConfig wraps an error as a configuration error.
func WrapConfig(err error, code, message string) *GlimpseError {
	ge := Wrap(err, ErrorTypeConfig, code, message)
	if ge != nil {
		ge.Recoverable = false
	}
	return ge
}

// WrapInternal wraps an error as an internal error.
func WrapInternal(err error, code, message string) *GlimpseError {
	ge := Wrap(err, ErrorTypeInternal, code, message)
	if ge != nil {
		ge.Recoverable = false
	}
	return ge
}

// GetErrorContext returns the context map of the first GlimpseError in the
// chain, or nil.
func GetErrorContext(err error) map[string]interface{} {
	var ge *GlimpseError
	if errors.As(err, &ge) {
		return ge.Context
	}
	return nil
}
