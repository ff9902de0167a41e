package apiclient

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	// ErrNetwork: the API could not be reached.
	ErrNetwork = errors.New("network failure")
	// ErrServer: a non-2xx, non-auth status or an unreadable response.
	ErrServer = errors.New("server failure")
	// ErrUnauthorized: 401/403 on an authenticated call, or no session held.
	ErrUnauthorized = errors.New("authorization failure")
)

type FailureKind string

const (
	FailureNetwork       FailureKind = "network"
	FailureServer        FailureKind = "server"
	FailureAuthorization FailureKind = "authorization"
)

type StatusError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	body := strings.TrimSpace(e.Body)
	if len(body) > 200 {
		body = body[:200] + "..."
	}
	if body == "" {
		return fmt.Sprintf("%s %s: HTTP %d", e.Method, e.Path, e.StatusCode)
	}
	return fmt.Sprintf("%s %s: HTTP %d: %s", e.Method, e.Path, e.StatusCode, body)
}

func (e *StatusError) Unwrap() error {
	if IsAuthStatus(e.StatusCode) {
		return ErrUnauthorized
	}
	return ErrServer
}

func IsAuthStatus(code int) bool {
	return code == http.StatusUnauthorized || code == http.StatusForbidden
}

// Classify maps any error to the failure taxonomy. Unrecognised errors are
// server failures.
func Classify(err error) FailureKind {
	switch {
	case errors.Is(err, ErrUnauthorized):
		return FailureAuthorization
	case errors.Is(err, ErrNetwork):
		return FailureNetwork
	default:
		return FailureServer
	}
}
