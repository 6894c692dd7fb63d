package client

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Sentinel errors for connection handling.
var (
	ErrNotConnected         = errors.New("not connected")
	ErrMaxReconnectAttempts = errors.New("max reconnect attempts reached")
)

// Problem is a field-level validation failure reported by the server.
type Problem struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// APIError represents an error from the API.
type APIError struct {
	StatusCode int
	Message    string
	Problems   []Problem
	// CurrentVersion is set on stale-version conflicts.
	CurrentVersion int
}

func (e *APIError) Error() string {
	msg := e.Message
	if len(e.Problems) > 0 {
		parts := make([]string, 0, len(e.Problems))
		for _, p := range e.Problems {
			if p.Field == "" {
				parts = append(parts, p.Message)
				continue
			}
			parts = append(parts, p.Field+": "+p.Message)
		}
		msg += ": " + strings.Join(parts, "; ")
	}
	if e.StatusCode > 0 {
		return fmt.Sprintf("API error (%d): %s", e.StatusCode, msg)
	}
	return fmt.Sprintf("API error: %s", msg)
}

// IsNotFound reports whether err is a 404 from the API.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// IsConflict reports whether err is a 409 (stale version or invalid transition).
func IsConflict(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusConflict
}

// AuthError represents an authentication error.
type AuthError struct {
	Message string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication error: %s", e.Message)
}

// ConnectionError represents a connection failure.
type ConnectionError struct {
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection error: %v", e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// ReconnectedError is reported on a watch's error channel after a successful reconnect.
type ReconnectedError struct{}

func (e *ReconnectedError) Error() string {
	return "reconnected"
}
