package services

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"
)

var (
	ErrValidation          = errors.New("validation error")
	ErrConfiguration       = errors.New("configuration error")
	ErrNotFound            = errors.New("not found")
	ErrAuth                = errors.New("auth error")
	ErrParse               = errors.New("classification parse error")
	ErrRateLimited         = errors.New("rate limited")
	ErrProviderUnavailable = errors.New("provider unavailable")
	ErrTimeout             = errors.New("timeout")
	ErrTransient           = errors.New("transient failure")
)

// Wrap builds an error message that includes stage context while tagging it with
// the provided marker for later classification. The marker should be one of the
// exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	for _, part := range []string{stage, operation, message} {
		if part = strings.TrimSpace(part); part != "" {
			parts = append(parts, part)
		}
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}

// ExternalError describes a failed call to a remote provider. Marker holds the
// sentinel the failure maps to.
type ExternalError struct {
	Service    string
	Marker     error
	StatusCode int
	RetryAfter time.Duration
	Body       string
	Err        error
}

func (e *ExternalError) Error() string {
	var b strings.Builder
	b.WriteString(e.Service)
	b.WriteString(": ")
	b.WriteString(e.marker().Error())
	if e.StatusCode > 0 {
		fmt.Fprintf(&b, " (http %d)", e.StatusCode)
	}
	if body := strings.TrimSpace(e.Body); body != "" {
		b.WriteString(": ")
		b.WriteString(body)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *ExternalError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.marker()}
	}
	return []error{e.marker(), e.Err}
}

func (e *ExternalError) marker() error {
	if e.Marker == nil {
		return ErrTransient
	}
	return e.Marker
}

// StatusMarker maps an HTTP status from a provider to the matching sentinel.
func StatusMarker(code int) error {
	switch {
	case code == http.StatusUnauthorized, code == http.StatusForbidden:
		return ErrAuth
	case code == http.StatusNotFound, code == http.StatusGone:
		return ErrNotFound
	case code == http.StatusTooManyRequests:
		return ErrRateLimited
	case code == http.StatusRequestTimeout, code == http.StatusGatewayTimeout:
		return ErrTimeout
	case code >= http.StatusInternalServerError:
		return ErrProviderUnavailable
	case code >= http.StatusBadRequest:
		return ErrValidation
	default:
		return ErrTransient
	}
}

// TransportError classifies an error returned by http.Client.Do. Parent
// context cancellation is returned unchanged.
func TransportError(ctx context.Context, service string, err error) error {
	if err == nil {
		return nil
	}
	if ctx != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	marker := ErrProviderUnavailable
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		marker = ErrTimeout
	}
	return &ExternalError{Service: service, Marker: marker, Err: err}
}

// Kind returns a stable string classification used in logs and reason strings.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrProviderUnavailable):
		return "provider_unavailable"
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, ErrAuth):
		return "auth_error"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrParse):
		return "parse_error"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrConfiguration):
		return "configuration"
	case errors.Is(err, ErrTransient):
		return "transient"
	default:
		return "unknown"
	}
}

// IsTransient reports whether a failure is worth retrying: rate limits,
// provider outages, timeouts, and failures explicitly tagged transient.
// Everything else, including unclassified errors, is permanent.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	switch Kind(err) {
	case "rate_limited", "provider_unavailable", "timeout", "transient":
		return true
	default:
		return false
	}
}

// RetryAfter returns a provider supplied retry hint, if any.
func RetryAfter(err error) (time.Duration, bool) {
	var ext *ExternalError
	if errors.As(err, &ext) && ext.RetryAfter > 0 {
		return ext.RetryAfter, true
	}
	return 0, false
}
