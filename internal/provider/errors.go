package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Kind is the small failure taxonomy the rest of the system works with.
type Kind string

const (
	// KindTimeout and KindRateLimited are transient: safe to retry.
	KindTimeout     Kind = "timeout"
	KindRateLimited Kind = "rate_limited"

	// KindInvalidResponse means the provider answered but the payload was
	// unusable (empty choices, malformed body).
	KindInvalidResponse Kind = "invalid_response"

	// KindTransport covers connection-level failures and 5xx responses.
	KindTransport Kind = "transport"

	// KindPermanent will not resolve with retries: bad credentials,
	// unknown model, request rejected by validation.
	KindPermanent Kind = "permanent"

	// KindContentExhausted means the model signaled it has nothing more
	// to produce for this request.
	KindContentExhausted Kind = "content_exhausted"
)

// Error wraps a provider failure with its classification.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string { return fmt.Sprintf("provider %s: %v", e.Kind, e.Err) }
func (e *Error) Unwrap() error { return e.Err }

// KindOf extracts the classification, defaulting to transport for
// unclassified errors.
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindTransport
}

// IsTransient reports whether a retry could reasonably succeed.
func IsTransient(err error) bool {
	switch KindOf(err) {
	case KindTimeout, KindRateLimited:
		return true
	}
	return false
}

// classifyTransport maps a request-level error (no HTTP status available)
// into the taxonomy.
func classifyTransport(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: KindTimeout, Err: err}
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return &Error{Kind: KindTimeout, Err: err}
	}
	return &Error{Kind: KindTransport, Err: err}
}

// classifyStatus maps an HTTP error status into the taxonomy.
func classifyStatus(status int, body string) error {
	err := fmt.Errorf("unexpected status %d: %s", status, body)
	switch {
	case status == 401 || status == 403:
		return &Error{Kind: KindPermanent, Err: err}
	case status == 404 || status == 400 || status == 422:
		return &Error{Kind: KindPermanent, Err: err}
	case status == 408:
		return &Error{Kind: KindTimeout, Err: err}
	case status == 429:
		return &Error{Kind: KindRateLimited, Err: err}
	default:
		return &Error{Kind: KindTransport, Err: err}
	}
}
