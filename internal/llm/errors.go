package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/sashabaranov/go-openai"
)

// Kind classifies a generation failure.
type Kind string

const (
	KindTimeout            Kind = "timeout"
	KindRateLimited        Kind = "rate_limited"
	KindServerError        Kind = "server_error"
	KindInvalidCredentials Kind = "invalid_credentials"
	KindBadRequest         Kind = "bad_request"
	KindUnavailable        Kind = "unavailable"
)

// Transient reports whether a failure of this kind may succeed on retry.
func (k Kind) Transient() bool {
	switch k {
	case KindTimeout, KindRateLimited, KindServerError:
		return true
	}
	return false
}

// ErrNoBackend is wrapped by unavailable errors when no client is configured.
var ErrNoBackend = errors.New("no generation backend configured")

// Error is returned by Gateway.Generate for every failure.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("llm %s", e.Kind)
	}
	return fmt.Sprintf("llm %s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of err, or "" when err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// classify maps a provider error onto an *Error.
func classify(err error) *Error {
	if err == nil {
		return nil
	}

	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr
	}

	if code := statusCode(err); code != 0 {
		return &Error{Kind: kindForStatus(code), Err: err}
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &Error{Kind: KindTimeout, Err: err}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &Error{Kind: KindTimeout, Err: err}
	}

	// Connection resets, DNS failures and unknown transport errors are
	// treated as a temporarily unhealthy backend.
	return &Error{Kind: KindServerError, Err: err}
}

func statusCode(err error) int {
	var oaAPI *openai.APIError
	if errors.As(err, &oaAPI) {
		return oaAPI.HTTPStatusCode
	}
	var oaReq *openai.RequestError
	if errors.As(err, &oaReq) {
		return oaReq.HTTPStatusCode
	}
	var anErr *anthropic.Error
	if errors.As(err, &anErr) {
		return anErr.StatusCode
	}
	return 0
}

func kindForStatus(code int) Kind {
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return KindInvalidCredentials
	case code == http.StatusTooManyRequests:
		return KindRateLimited
	case code == http.StatusRequestTimeout:
		return KindTimeout
	case code >= 500:
		return KindServerError
	default:
		return KindBadRequest
	}
}
