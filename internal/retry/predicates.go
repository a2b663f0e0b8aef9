package retry

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"syscall"
)

// Predicate classifies whether an error is worth retrying.
type Predicate func(error) bool

// Always retries every error.
func Always() Predicate { return func(error) bool { return true } }

// Never rejects every error.
func Never() Predicate { return func(error) bool { return false } }

// Any retries when at least one predicate matches.
func Any(preds ...Predicate) Predicate {
	return func(err error) bool {
		for _, p := range preds {
			if p(err) {
				return true
			}
		}
		return false
	}
}

// All retries only when every predicate matches.
func All(preds ...Predicate) Predicate {
	return func(err error) bool {
		for _, p := range preds {
			if !p(err) {
				return false
			}
		}
		return len(preds) > 0
	}
}

// TransientNetwork matches timeouts, refused/reset connections and
// short reads, the failures that typically heal on their own.
func TransientNetwork() Predicate {
	return func(err error) bool {
		if err == nil {
			return false
		}
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return true
		}
		if errors.Is(err, syscall.ECONNREFUSED) ||
			errors.Is(err, syscall.ECONNRESET) ||
			errors.Is(err, syscall.EPIPE) ||
			errors.Is(err, io.ErrUnexpectedEOF) {
			return true
		}
		return errors.Is(err, context.DeadlineExceeded)
	}
}

// TransientDatabase matches connectivity-level store failures. Logical
// errors (constraint violations, bad input) never match.
func TransientDatabase() Predicate {
	network := TransientNetwork()
	return func(err error) bool {
		if err == nil {
			return false
		}
		if network(err) {
			return true
		}
		msg := strings.ToLower(err.Error())
		return strings.Contains(msg, "connection") &&
			(strings.Contains(msg, "refused") ||
				strings.Contains(msg, "reset") ||
				strings.Contains(msg, "closed") ||
				strings.Contains(msg, "pool"))
	}
}

// HTTPStatusError carries an HTTP status for retry classification.
type HTTPStatusError struct {
	StatusCode int
	Err        error
}

func (e *HTTPStatusError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return "http status error"
}

func (e *HTTPStatusError) Unwrap() error { return e.Err }

// TransientHTTP matches 5xx, 429 and 408 responses.
func TransientHTTP() Predicate {
	return func(err error) bool {
		var httpErr *HTTPStatusError
		if !errors.As(err, &httpErr) {
			return false
		}
		code := httpErr.StatusCode
		return code >= 500 || code == 429 || code == 408
	}
}
