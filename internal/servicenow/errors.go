package servicenow

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	ErrNotFound  = errors.New("servicenow: not found")
	ErrForbidden = errors.New("servicenow: forbidden")
	// ErrCloseInfoRequired is returned when a terminal state is requested
	// without a close code and close notes.
	ErrCloseInfoRequired = errors.New("close_code and close_notes are required")
	ErrInvalidState      = errors.New("invalid incident state")
	// ErrInvalidQuery is returned for lookup values that are unsafe in an
	// encoded query, such as an incident number that is not INC followed by digits.
	ErrInvalidQuery = errors.New("invalid query value")
)

// APIError is a non-2xx response from the Table API.
type APIError struct {
	StatusCode int
	Message    string
	Detail     string
}

func (e *APIError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "servicenow: HTTP %d", e.StatusCode)
	if e.Message != "" {
		fmt.Fprintf(&b, ": %s", e.Message)
	}
	if e.Detail != "" {
		fmt.Fprintf(&b, " (%s)", e.Detail)
	}
	return b.String()
}

// Is lets callers match 403 and 404 responses with errors.Is.
func (e *APIError) Is(target error) bool {
	switch target {
	case ErrForbidden:
		return e.StatusCode == http.StatusForbidden
	case ErrNotFound:
		return e.StatusCode == http.StatusNotFound
	}
	return false
}

func parseAPIError(status int, body []byte) error {
	apiErr := &APIError{StatusCode: status}
	var payload struct {
		Error struct {
			Message string `json:"message"`
			Detail  string `json:"detail"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Error.Message != "" {
		apiErr.Message = payload.Error.Message
		apiErr.Detail = payload.Error.Detail
	} else {
		apiErr.Message = strings.TrimSpace(string(body))
		if len(apiErr.Message) > 200 {
			apiErr.Message = apiErr.Message[:200]
		}
	}
	return apiErr
}

func isNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
