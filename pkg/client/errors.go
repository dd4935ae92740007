package client

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	// ErrNoRefreshToken is returned when a 401 cannot be recovered because no
	// refresh token is stored
	ErrNoRefreshToken = errors.New("no refresh token available")

	// ErrRefreshFailed is returned to every request that waited on a failed refresh
	ErrRefreshFailed = errors.New("token refresh failed")
)

// Kind classifies a failed request
type Kind int

const (
	KindUnknown Kind = iota
	KindNetwork
	KindAuthExpired
	KindAuthzDenied
	KindNotFound
	KindValidation
	KindServer
)

func (k Kind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindAuthExpired:
		return "auth_expired"
	case KindAuthzDenied:
		return "authz_denied"
	case KindNotFound:
		return "not_found"
	case KindValidation:
		return "validation"
	case KindServer:
		return "server"
	default:
		return "unknown"
	}
}

// Error is returned for every failed backend call
type Error struct {
	Kind    Kind
	Status  int      // HTTP status, 0 when no response was received
	Message string   // backend message, if any
	Errors  []string // backend validation errors, if any
	Err     error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	if e.Status != 0 {
		fmt.Fprintf(&b, " (HTTP %d)", e.Status)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	} else if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindForStatus maps an HTTP status to an error kind
func KindForStatus(status int) Kind {
	switch {
	case status == http.StatusUnauthorized:
		return KindAuthExpired
	case status == http.StatusForbidden:
		return KindAuthzDenied
	case status == http.StatusNotFound:
		return KindNotFound
	case status == http.StatusBadRequest, status == http.StatusUnprocessableEntity, status == http.StatusConflict:
		return KindValidation
	case status >= 500:
		return KindServer
	default:
		return KindUnknown
	}
}

// IsKind reports whether err is an *Error of the given kind
func IsKind(err error, kind Kind) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) && apiErr.Kind == kind
}

// Message translates any error returned by this package into one
// human-readable line for the user
func Message(err error) string {
	if err == nil {
		return ""
	}

	var apiErr *Error
	if !errors.As(err, &apiErr) {
		return err.Error()
	}

	if apiErr.Message != "" {
		return apiErr.Message
	}
	if len(apiErr.Errors) > 0 {
		return strings.Join(apiErr.Errors, ", ")
	}

	switch apiErr.Kind {
	case KindNetwork:
		return "Network error. Please check your connection."
	case KindAuthExpired:
		return "Unauthorized. Please login again."
	case KindAuthzDenied:
		return "You do not have permission to perform this action."
	case KindNotFound:
		return "Resource not found."
	case KindServer:
		return "Server error. Please try again later."
	}

	if apiErr.Err != nil {
		return apiErr.Err.Error()
	}
	return "An unexpected error occurred"
}
