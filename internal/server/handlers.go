package server

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/conneroisu/glimpse/internal/errors"
	"github.com/conneroisu/glimpse/internal/renderer"
)

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

type renderRequest struct {
	ID          string  `json:"id"`
	Tex         *string `json:"tex" validate:"required"`
	DisplayMode bool    `json:"displayMode"`
}

type renderResponse struct {
	ID  string `json:"id"`
	SVG string `json:"svg"`
}

type renderErrorResponse struct {
	ID          string               `json:"id"`
	Error       string               `json:"error"`
	Code        string               `json:"code,omitempty"`
	Diagnostics []*errors.Diagnostic `json:"diagnostics,omitempty"`
}

type lineClickedRequest struct {
	LineNumber *uint32 `json:"lineNumber" validate:"required"`
}

type statusResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// decodeBody reads one JSON object into dst and returns the status to
// answer with when it cannot.
func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) (int, error) {
	r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxBodyBytes)

	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var maxBytes *http.MaxBytesError
		var typeErr *json.UnmarshalTypeError
		switch {
		case stderrors.As(err, &maxBytes):
			return http.StatusRequestEntityTooLarge, fmt.Errorf("request body exceeds %d bytes", maxBytes.Limit)
		case stderrors.As(err, &typeErr):
			return http.StatusUnprocessableEntity, fmt.Errorf("field %q must be %s", typeErr.Field, typeErr.Type)
		case stderrors.Is(err, io.EOF):
			return http.StatusBadRequest, stderrors.New("request body is empty")
		default:
			return http.StatusBadRequest, fmt.Errorf("request body is not valid JSON: %w", err)
		}
	}

	if err := validate.Struct(dst); err != nil {
		var fieldErrs validator.ValidationErrors
		if stderrors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			return http.StatusUnprocessableEntity, fmt.Errorf("missing field %q", fieldErrs[0].Field())
		}
		return http.StatusUnprocessableEntity, err
	}
	return http.StatusOK, nil
}

func (s *Server) handleRender(w http.ResponseWriter, r *http.Request) {
	if s.deps.Renderer == nil {
		s.unavailable(w, r, "renderer")
		return
	}

	var body renderRequest
	if status, err := s.decodeBody(w, r, &body); err != nil {
		s.writeJSON(r.Context(), w, status, errorResponse{Error: err.Error()})
		return
	}

	req := renderer.RenderRequest{ID: body.ID, Tex: *body.Tex, DisplayMode: body.DisplayMode}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	svg, err := s.deps.Renderer.Render(r.Context(), req)
	if err != nil {
		status := http.StatusUnprocessableEntity
		if errors.CodeOf(err) == errors.ErrCodeRenderBusy {
			status = http.StatusServiceUnavailable
			w.Header().Set("Retry-After", "1")
		}
		s.writeJSON(r.Context(), w, status, renderErrorResponse{
			ID:          req.ID,
			Error:       err.Error(),
			Code:        errors.CodeOf(err),
			Diagnostics: errors.DiagnosticsOf(err),
		})
		return
	}

	s.writeJSON(r.Context(), w, http.StatusOK, renderResponse{ID: req.ID, SVG: svg})
}

func (s *Server) handleLineClicked(w http.ResponseWriter, r *http.Request) {
	if s.deps.Notifier == nil {
		s.unavailable(w, r, "notifier")
		return
	}

	var body lineClickedRequest
	if status, err := s.decodeBody(w, r, &body); err != nil {
		s.writeJSON(r.Context(), w, status, errorResponse{Error: err.Error()})
		return
	}

	s.deps.Notifier.LineClickedAsync(*body.LineNumber)
	s.writeJSON(r.Context(), w, http.StatusAccepted, statusResponse{Status: "accepted"})
}

func (s *Server) handlePreamble(w http.ResponseWriter, r *http.Request) {
	if s.deps.Preamble == nil {
		s.unavailable(w, r, "preamble")
		return
	}

	w.Header().Set("Content-Type", "text/x-tex; charset=utf-8")
	if _, err := io.WriteString(w, s.deps.Preamble.Get()); err != nil {
		s.logger.Warn(r.Context(), err, "Failed to write preamble")
	}
}

func (s *Server) handlePreambleReload(w http.ResponseWriter, r *http.Request) {
	if s.deps.Preamble == nil {
		s.unavailable(w, r, "preamble")
		return
	}

	if err := s.deps.Preamble.Reload(r.Context()); err != nil {
		s.writeJSON(r.Context(), w, http.StatusInternalServerError, statusResponse{Status: "error", Error: err.Error()})
		return
	}
	s.writeJSON(r.Context(), w, http.StatusOK, statusResponse{Status: "ok"})
}
