package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrorKind categorizes a provider failure for retry and fallback logic.
type ErrorKind string

const (
	// KindTimeout is a request or context deadline expiry. Retryable.
	KindTimeout ErrorKind = "timeout"
	// KindRateLimit is HTTP 429 or an equivalent quota signal. Retryable.
	KindRateLimit ErrorKind = "rate_limit"
	// KindTransient is a server-side 5xx or network flake. Retryable.
	KindTransient ErrorKind = "transient"
	// KindAuth is an invalid or missing credential. Never retried.
	KindAuth ErrorKind = "auth"
	// KindInvalidRequest is a malformed request. Never retried.
	KindInvalidRequest ErrorKind = "invalid_request"
)

// Retryable reports whether the kind suggests a retry may succeed.
func (k ErrorKind) Retryable() bool {
	switch k {
	case KindTimeout, KindRateLimit, KindTransient:
		return true
	default:
		return false
	}
}

// Error is a classified provider failure.
type Error struct {
	Kind     ErrorKind
	Provider string
	Model    string
	Status   int
	Message  string
	Cause    error
}

func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "llm [%s]", e.Kind)
	if e.Provider != "" {
		fmt.Fprintf(&b, " %s", e.Provider)
	}
	if e.Model != "" {
		fmt.Fprintf(&b, " model=%s", e.Model)
	}
	if e.Status != 0 {
		fmt.Fprintf(&b, " status=%d", e.Status)
	}
	if e.Message != "" {
		fmt.Fprintf(&b, ": %s", e.Message)
	} else if e.Cause != nil {
		fmt.Fprintf(&b, ": %s", e.Cause.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Cause }

// Retryable reports whether the error should be retried.
func Retryable(err error) bool {
	return KindOf(err).Retryable()
}

// KindOf extracts the error kind, classifying unrecognized errors by
// message patterns. Unclassifiable errors count as transient.
func KindOf(err error) ErrorKind {
	var le *Error
	if errors.As(err, &le) {
		return le.Kind
	}
	return classifyMessage(err)
}

// Classify wraps a raw provider error with its kind. HTTP status, when
// known, wins over message-pattern matching.
func Classify(provider, model string, status int, err error) *Error {
	var le *Error
	if errors.As(err, &le) {
		return le
	}

	kind := classifyStatus(status)
	if kind == "" {
		kind = classifyMessage(err)
	}
	return &Error{
		Kind:     kind,
		Provider: provider,
		Model:    model,
		Status:   status,
		Cause:    err,
	}
}

func classifyStatus(status int) ErrorKind {
	switch {
	case status == 0:
		return ""
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return KindAuth
	case status == http.StatusTooManyRequests:
		return KindRateLimit
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return KindTimeout
	case status >= 500:
		return KindTransient
	case status >= 400:
		return KindInvalidRequest
	default:
		return ""
	}
}

func classifyMessage(err error) ErrorKind {
	if err == nil {
		return KindTransient
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "deadline exceeded") ||
		strings.Contains(msg, "etimedout"):
		return KindTimeout
	case strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "rate_limit") ||
		strings.Contains(msg, "too many requests") ||
		strings.Contains(msg, "quota"):
		return KindRateLimit
	case strings.Contains(msg, "unauthorized") ||
		strings.Contains(msg, "invalid api key") ||
		strings.Contains(msg, "invalid_api_key") ||
		strings.Contains(msg, "authentication"):
		return KindAuth
	case strings.Contains(msg, "invalid_request") ||
		strings.Contains(msg, "invalid request") ||
		strings.Contains(msg, "bad request"):
		return KindInvalidRequest
	default:
		return KindTransient
	}
}
