package orders

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrUnauthorized       = errors.New("session is not authorized")
	ErrAssignmentConflict = errors.New("assignment already taken or expired")
	ErrNotFound           = errors.New("resource not found")
)

// Backend codes returned when an assignment can no longer be accepted.
const (
	CodeOrderTaken = "ORDER_Taken"
	CodeExpired    = "EXPIRED"
)

type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("order service returned %d (%s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("order service returned %d: %s", e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error {
	switch {
	case e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden:
		return ErrUnauthorized
	case e.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case e.Code == CodeOrderTaken || e.Code == CodeExpired || e.StatusCode == http.StatusConflict:
		return ErrAssignmentConflict
	}
	return nil
}

// IsBackendFailure reports whether err says something about backend health.
// Deliberate answers (auth, conflicts, 4xx) are not failures.
func IsBackendFailure(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode >= http.StatusInternalServerError
	}
	return true
}
