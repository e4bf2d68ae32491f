package services

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

var (
	// ErrValidation marks locally detected bad input; surfaced before any network call.
	ErrValidation = errors.New("validation error")
	// ErrConfiguration marks unusable configuration (bad base URL, missing directory).
	ErrConfiguration = errors.New("configuration error")
	// ErrRejected marks a permanent server-side refusal of a request.
	ErrRejected = errors.New("request rejected")
	// ErrTransient marks network or service unavailability worth retrying.
	ErrTransient = errors.New("transient failure")
	// ErrNotFound marks a job id unknown to the service; never retried.
	ErrNotFound = errors.New("not found")
	// ErrDecode marks a structurally invalid result payload; never retried.
	ErrDecode = errors.New("malformed payload")
)

// Wrap builds an error message that includes component context while tagging it
// with the provided marker for later classification. The marker should be one
// of the exported sentinel errors above.
func Wrap(marker error, component, operation, message string, err error) error {
	detail := buildDetail(component, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// IsTransient reports whether err represents a condition that warrants an
// automatic retry. Tagged transient errors qualify, as do timeouts and
// connection failures bubbling up from the HTTP transport.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTransient) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	message := strings.ToLower(err.Error())
	for _, token := range []string{
		"connection refused",
		"connection reset",
		"temporary failure",
		"awaiting headers",
	} {
		if strings.Contains(message, token) {
			return true
		}
	}
	return false
}

// IsPermanent reports whether err should never be retried.
func IsPermanent(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrRejected) ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrDecode) ||
		errors.Is(err, ErrConfiguration)
}

func buildDetail(component, operation, message string) string {
	parts := make([]string, 0, 3)
	if component = strings.TrimSpace(component); component != "" {
		parts = append(parts, component)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
