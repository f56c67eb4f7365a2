// Package databricks implements question-answering clients for Databricks
// Genie spaces and model-serving endpoints.
package databricks

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Client is the uniform question-answering interface the relay dispatches
// against. sessionID is the backend conversation handle; pass "" to start a
// fresh conversation. Stateless backends may return a client-side handle so
// the interface stays uniform.
type Client interface {
	// Ask sends text and returns the answer together with the session id to
	// use on the next turn of the same thread.
	Ask(ctx context.Context, sessionID, text string) (answer, newSessionID string, err error)
	// Name returns the backend name (e.g. "genie").
	Name() string
}

// ErrAuth marks credential rejection by the workspace. Messages wrapping it
// must never carry token or secret material.
var ErrAuth = errors.New("databricks: credentials rejected")

// UpstreamError is any backend call failure that is not an auth rejection.
type UpstreamError struct {
	Op      string
	Status  int
	Timeout bool
	Err     error
}

func (e *UpstreamError) Error() string {
	switch {
	case e.Timeout:
		return fmt.Sprintf("databricks: %s timed out", e.Op)
	case e.Status != 0:
		return fmt.Sprintf("databricks: %s failed with status %d", e.Op, e.Status)
	default:
		return fmt.Sprintf("databricks: %s failed: %v", e.Op, e.Err)
	}
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// IsTimeout reports whether err is a deadline-exceeded upstream failure.
func IsTimeout(err error) bool {
	var ue *UpstreamError
	if errors.As(err, &ue) {
		return ue.Timeout
	}
	return errors.Is(err, context.DeadlineExceeded)
}

func classifyHTTPError(op string, status int) error {
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		return fmt.Errorf("%s: %w", op, ErrAuth)
	}
	return &UpstreamError{Op: op, Status: status}
}

func wrapTransportError(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &UpstreamError{Op: op, Timeout: true, Err: err}
	}
	return &UpstreamError{Op: op, Err: err}
}

func normalizeHost(host string) string {
	host = strings.TrimSpace(host)
	host = strings.TrimRight(host, "/")
	if host != "" && !strings.HasPrefix(host, "http://") && !strings.HasPrefix(host, "https://") {
		host = "https://" + host
	}
	return host
}
