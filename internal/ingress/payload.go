package ingress

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/conneroisu/glimpse/internal/errors"
)

// UpdatePayload is one editor snapshot. It is forwarded to the event bus
// unchanged.
type UpdatePayload struct {
	Content    string `json:"content"`
	CursorLine uint32 `json:"cursorLine"`
	FileName   string `json:"fileName"`
}

// updateRequest distinguishes absent fields from zero values.
type updateRequest struct {
	Content    *string `json:"content" validate:"required"`
	CursorLine *uint32 `json:"cursorLine" validate:"required"`
	FileName   *string `json:"fileName" validate:"required"`
}

var validate = newValidator()

// newValidator reports fields by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// DecodeError is a rejected request body together with the status to
// answer it with.
type DecodeError struct {
	Status int
	Err    *errors.GlimpseError
}

func (e *DecodeError) Error() string { return e.Err.Error() }

func (e *DecodeError) Unwrap() error { return e.Err }

func decodeFailure(status int, message string, cause error) *DecodeError {
	return &DecodeError{
		Status: status,
		Err:    errors.NewValidationError(errors.ErrCodeDecode, message, cause),
	}
}

// Decode parses exactly one UpdatePayload from r. All three fields must be
// present; content may be empty and cursorLine may be 0. Unknown fields are
// ignored, trailing data is not.
func Decode(r io.Reader) (UpdatePayload, error) {
	dec := json.NewDecoder(r)

	var req updateRequest
	if err := dec.Decode(&req); err != nil {
		var maxBytes *http.MaxBytesError
		var typeErr *json.UnmarshalTypeError
		switch {
		case stderrors.As(err, &maxBytes):
			return UpdatePayload{}, decodeFailure(http.StatusRequestEntityTooLarge,
				fmt.Sprintf("request body exceeds %d bytes", maxBytes.Limit), nil)
		case stderrors.As(err, &typeErr):
			return UpdatePayload{}, decodeFailure(http.StatusUnprocessableEntity,
				fmt.Sprintf("field %q must be %s", typeErr.Field, typeErr.Type), err)
		case stderrors.Is(err, io.EOF):
			return UpdatePayload{}, decodeFailure(http.StatusBadRequest, "request body is empty", nil)
		default:
			return UpdatePayload{}, decodeFailure(http.StatusBadRequest, "request body is not valid JSON", err)
		}
	}

	if err := dec.Decode(&struct{}{}); !stderrors.Is(err, io.EOF) {
		var maxBytes *http.MaxBytesError
		if stderrors.As(err, &maxBytes) {
			return UpdatePayload{}, decodeFailure(http.StatusRequestEntityTooLarge,
				fmt.Sprintf("request body exceeds %d bytes", maxBytes.Limit), nil)
		}
		return UpdatePayload{}, decodeFailure(http.StatusBadRequest, "unexpected data after JSON object", err)
	}

	if err := validate.Struct(&req); err != nil {
		var fieldErrs validator.ValidationErrors
		if stderrors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			return UpdatePayload{}, decodeFailure(http.StatusUnprocessableEntity,
				fmt.Sprintf("missing field %q", fieldErrs[0].Field()), nil)
		}
		return UpdatePayload{}, decodeFailure(http.StatusUnprocessableEntity, "invalid payload", err)
	}

	return UpdatePayload{
		Content:    *req.Content,
		CursorLine: *req.CursorLine,
		FileName:   *req.FileName,
	}, nil
}

// acceptableContentType allows a missing Content-Type for curl-style
// clients; anything explicit must be JSON.
func acceptableContentType(header string) bool {
	if header == "" {
		return true
	}
	mediaType, _, err := mime.ParseMediaType(header)
	return err == nil && mediaType == "application/json"
}
