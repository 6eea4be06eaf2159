// Package transport contains the HTTP router, middleware chain, and request
// handlers of the intent API.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/pitabwire/answerdesk/internal/effects"
	"github.com/pitabwire/answerdesk/model"
)

// statusForCode maps ErrorEnvelope codes to HTTP status codes.
var statusForCode = map[string]int{
	model.ErrBadRequest:         http.StatusBadRequest,
	model.ErrUnauthorized:       http.StatusUnauthorized,
	model.ErrNotFound:           http.StatusNotFound,
	model.ErrInternalError:      http.StatusInternalServerError,
	model.ErrBackendUnavailable: http.StatusBadGateway,
	model.ErrBackendTimeout:     http.StatusGatewayTimeout,
}

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	if body != nil {
		json.NewEncoder(w).Encode(body)
	}
}

// WriteError writes an ErrorEnvelope as a JSON response with the correct
// HTTP status code. Dispatch rejections become BAD_REQUEST and answer
// service failures become BACKEND_*; any other error that is not an
// *ErrorEnvelope becomes a generic 500.
func WriteError(w http.ResponseWriter, err error) {
	ee := toEnvelope(err)

	status := statusForCode[ee.Code]
	if status == 0 {
		status = http.StatusInternalServerError
	}

	type errorResponse struct {
		Error *model.ErrorEnvelope `json:"error"`
	}
	WriteJSON(w, status, errorResponse{Error: ee})
}

// WriteNotFound writes a 404 error response.
func WriteNotFound(w http.ResponseWriter, msg string) {
	WriteError(w, model.NewNotFoundError(msg))
}

// WriteValidationError writes a 400 error response with field-level details.
func WriteValidationError(w http.ResponseWriter, details []model.FieldError) {
	ee := model.NewBadRequestError("Request body failed validation")
	ee.Details = details
	WriteError(w, ee)
}

func toEnvelope(err error) *model.ErrorEnvelope {
	var ee *model.ErrorEnvelope
	if errors.As(err, &ee) {
		return ee
	}
	switch {
	case errors.Is(err, effects.ErrNilIntent),
		errors.Is(err, effects.ErrNoQuestion),
		errors.Is(err, effects.ErrUnknownIntent):
		return model.NewBadRequestError(err.Error())
	}
	var re *model.RemoteError
	if errors.As(err, &re) {
		if errors.Is(err, context.DeadlineExceeded) {
			return model.NewBackendTimeoutError()
		}
		return model.NewBackendUnavailableError()
	}
	return model.NewInternalError()
}
