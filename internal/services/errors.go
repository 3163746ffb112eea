package services

import (
	"context"
	"errors"
	"unicode"
	"unicode/utf8"

	"vatledger/internal/core"
	"vatledger/internal/log"
	"vatledger/internal/sheets"
)

// ErrValidation marks input the tracker refused before calling the backend.
var ErrValidation = errors.New("validation failed")

// ItemError carries the field messages of one form item.
type ItemError struct {
	Index       int    `json:"index"`
	Date        string `json:"date,omitempty"`
	Description string `json:"description,omitempty"`
	Amount      string `json:"amount,omitempty"`
}

// ValidationError is returned when a form was rejected. Message is the
// banner text; Items lists per-item field errors, if any.
type ValidationError struct {
	Message string
	Items   []ItemError
}

func (e *ValidationError) Error() string {
	return e.Message
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

func invalid(msg string, items ...ItemError) *ValidationError {
	return &ValidationError{Message: msg, Items: items}
}

// IsValidation reports whether err was caused by user input rather than the
// backend.
func IsValidation(err error) bool {
	switch {
	case errors.Is(err, ErrValidation),
		errors.Is(err, core.ErrInvalidDate),
		errors.Is(err, core.ErrInvalidDay),
		errors.Is(err, core.ErrInvalidMonth),
		errors.Is(err, core.ErrInvalidRange),
		errors.Is(err, core.ErrInvalidAmount),
		errors.Is(err, core.ErrEmptyDescription),
		errors.Is(err, core.ErrInvalidCategory),
		errors.Is(err, core.ErrInvalidStatus):
		return true
	}
	return false
}

// ErrorType classifies err with the log package's error type names.
func ErrorType(err error) string {
	var re *sheets.RemoteError
	switch {
	case err == nil:
		return ""
	case IsValidation(err):
		return log.ErrorTypeValidation
	case errors.Is(err, sheets.ErrConfiguration):
		return log.ErrorTypeConfiguration
	case errors.Is(err, sheets.ErrInvalidResponse):
		return log.ErrorTypeInvalidReply
	case errors.Is(err, sheets.ErrNotFound):
		return log.ErrorTypeNotFound
	case errors.Is(err, context.DeadlineExceeded):
		return log.ErrorTypeTimeout
	case errors.As(err, &re):
		return log.ErrorTypeNetwork
	}
	return log.ErrorTypeInternal
}

// UserMessage returns the banner text for err.
func UserMessage(err error) string {
	var (
		re *sheets.RemoteError
		ve *ValidationError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &ve):
		return ve.Message
	case errors.Is(err, sheets.ErrConfiguration):
		return "The spreadsheet web app is not configured correctly. Check SHEET_WEBAPP_URL and the deployment access."
	case errors.As(err, &re):
		return re.UserMessage()
	case errors.Is(err, sheets.ErrInvalidResponse):
		return "Invalid response from server."
	}
	msg := err.Error()
	if msg == "" {
		return "Unexpected error."
	}
	r, size := utf8.DecodeRuneInString(msg)
	return string(unicode.ToUpper(r)) + msg[size:]
}
