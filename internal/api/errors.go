package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrValidation is bad local (or server-rejected) input.
	ErrValidation = errors.New("validation failed")
	// ErrInvalidCredentials is a 401 on login.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrRoleMismatch means the account authenticated but is not a rider.
	ErrRoleMismatch = errors.New("account is not a rider")
	// ErrNetwork means no response was received.
	ErrNetwork = errors.New("network unavailable")
	// ErrServer is a 5xx, an unexpected status or a malformed response.
	ErrServer = errors.New("server error")
	// ErrUnauthorized is a 401 on any authenticated call.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrNotFound is a 404.
	ErrNotFound = errors.New("not found")
	// ErrPermission means the device refused location access.
	ErrPermission = errors.New("location permission denied")
	// ErrNoSession is returned by rider operations while nobody is signed in.
	ErrNoSession = errors.New("no authenticated rider")
	// ErrStorage means the device could not persist local state.
	ErrStorage = errors.New("local storage failure")
)

// StatusError is a non-2xx response. It unwraps to one of the sentinels above.
type StatusError struct {
	Method  string
	Path    string
	Status  int
	Message string
	kind    error
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s %s: %d: %s", e.Method, e.Path, e.Status, e.Message)
	}
	return fmt.Sprintf("%s %s: %d", e.Method, e.Path, e.Status)
}

func (e *StatusError) Unwrap() error { return e.kind }

// Kind returns a stable machine-readable code for err.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrInvalidCredentials):
		return "invalid_credentials"
	case errors.Is(err, ErrRoleMismatch):
		return "role_mismatch"
	case errors.Is(err, ErrNetwork):
		return "network"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrPermission):
		return "permission"
	case errors.Is(err, ErrNoSession):
		return "unauthenticated"
	case errors.Is(err, ErrStorage):
		return "storage"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "server"
	}
}

var messages = map[string]string{
	"validation":          "Please check the details you entered.",
	"invalid_credentials": "Incorrect email or password.",
	"role_mismatch":       "This app is for delivery riders only.",
	"network":             "No connection. Check your network and try again.",
	"unauthorized":        "Your session has expired. Please sign in again.",
	"not_found":           "We couldn't find that delivery.",
	"permission":          "Location access is needed to share your position.",
	"unauthenticated":     "Please sign in first.",
	"storage":             "Could not save your sign-in on this device.",
	"cancelled":           "The request was cancelled.",
	"server":              "Something went wrong on our side. Please try again.",
}

// Describe maps err to one human-readable message.
func Describe(err error) string {
	if err == nil {
		return ""
	}
	return messages[Kind(err)]
}

// Retryable reports whether the user should be offered a retry for err.
func Retryable(err error) bool {
	switch Kind(err) {
	case "network", "server", "permission", "cancelled":
		return true
	}
	return false
}

// HTTPStatus picks the status the local control API answers with for err.
func HTTPStatus(err error) int {
	switch Kind(err) {
	case "validation":
		return http.StatusBadRequest
	case "invalid_credentials", "unauthorized", "unauthenticated":
		return http.StatusUnauthorized
	case "role_mismatch", "permission":
		return http.StatusForbidden
	case "not_found":
		return http.StatusNotFound
	case "network":
		return http.StatusServiceUnavailable
	case "cancelled":
		return http.StatusGatewayTimeout
	case "storage":
		return http.StatusInternalServerError
	default:
		return http.StatusBadGateway
	}
}
