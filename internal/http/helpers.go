package http

import (
	"context"
	"errors"
	"net/http"

	"vatledger/internal/services"
	"vatledger/internal/sheets"
)

// statusForError maps tracker and backend errors to HTTP status codes.
// Configuration problems and remote failures are upstream faults and map to
// 502 so clients can tell them apart from a broken server.
func statusForError(err error) int {
	var re *sheets.RemoteError
	switch {
	case err == nil:
		return http.StatusOK
	case services.IsValidation(err):
		return http.StatusUnprocessableEntity
	case errors.Is(err, sheets.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, sheets.ErrConfiguration),
		errors.Is(err, sheets.ErrInvalidResponse),
		errors.As(err, &re):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}
