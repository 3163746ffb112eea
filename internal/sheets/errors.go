package sheets

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration means the backend cannot be reached as configured:
	// no endpoint was supplied, or the endpoint answers with an HTML page
	// instead of the webhook.
	ErrConfiguration = errors.New("backend misconfigured")

	// ErrInvalidResponse means the backend answered a read with a body that
	// is neither JSON nor an HTML error page.
	ErrInvalidResponse = errors.New("invalid response from server")

	// ErrNotFound is returned when an entry id does not exist.
	ErrNotFound = errors.New("entry not found")
)

// RemoteError is a failure reported by the backend itself: a non-2xx
// status or a JSON body carrying an error field.
type RemoteError struct {
	Op         string
	StatusCode int
	Message    string
	Err        error
}

func (e *RemoteError) Error() string {
	switch {
	case e.Message != "" && e.StatusCode != 0:
		return fmt.Sprintf("%s: %s (status %d)", e.Op, e.Message, e.StatusCode)
	case e.Message != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s: status %d", e.Op, e.StatusCode)
}

func (e *RemoteError) Unwrap() error {
	return e.Err
}

// UserMessage returns the text shown to the user for the failure.
func (e *RemoteError) UserMessage() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Error()
}

// IsRemote reports whether err is, or wraps, a RemoteError.
func IsRemote(err error) bool {
	var re *RemoteError
	return errors.As(err, &re)
}
