package api

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
)

// ErrSessionExpired is returned when a 401 could not be recovered by a token
// refresh. Local credentials have been cleared by then.
var ErrSessionExpired = errors.New("session expired, please log in again")

// ErrNotSignedIn is returned for authenticated calls without stored tokens.
var ErrNotSignedIn = errors.New("not signed in")

// Error is a backend rejection: a non-2xx response or an envelope with
// success=false.
type Error struct {
	Status  int
	Message string
	Fields  map[string]string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("backend returned status %d", e.Status)
	}
	if len(e.Fields) == 0 {
		return e.Message
	}
	parts := make([]string, 0, len(e.Fields))
	for _, field := range slices.Sorted(maps.Keys(e.Fields)) {
		parts = append(parts, field+": "+e.Fields[field])
	}
	return e.Message + " (" + strings.Join(parts, ", ") + ")"
}

// Message returns the text to show the user for err: the backend message
// when there is one, otherwise fallback.
func Message(err error, fallback string) string {
	var apiErr *Error
	switch {
	case err == nil:
		return ""
	case errors.As(err, &apiErr) && apiErr.Message != "":
		return apiErr.Message
	case errors.Is(err, ErrSessionExpired), errors.Is(err, ErrNotSignedIn):
		return err.Error()
	default:
		return fallback
	}
}

// IsStatus reports whether err is a backend error with the given status.
func IsStatus(err error, status int) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) && apiErr.Status == status
}
