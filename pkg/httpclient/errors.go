package httpclient

import (
	"errors"
	"fmt"

	"github.com/entitlekit/backend-client/pkg/api"
)

// ErrNotModifiedWithoutCache is returned when the backend answers 304 to a
// request that carried no conditional header. The revalidation pass sends
// no validator, so a second 304 cannot be satisfied locally.
var ErrNotModifiedWithoutCache = errors.New("backend returned 304 for an unconditional request")

// TransportError wraps a network failure that occurred before a response
// was received (or while reading it).
type TransportError struct {
	Err error
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error: %v", e.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *TransportError) Unwrap() error {
	return e.Err
}

// MalformedResponseError indicates the backend returned a body that is not
// valid JSON. Such responses are surfaced immediately and never cached.
type MalformedResponseError struct {
	StatusCode int
	Err        error
}

// Error implements the error interface.
func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("malformed response (status %d): %v", e.StatusCode, e.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *MalformedResponseError) Unwrap() error {
	return e.Err
}

// SignatureVerificationError is returned in enforced verification mode when
// a response signature did not verify.
type SignatureVerificationError struct {
	Endpoint   string
	StatusCode int
	Result     api.VerificationResult
}

// Error implements the error interface.
func (e *SignatureVerificationError) Error() string {
	return fmt.Sprintf("signature verification %s for %s (status %d)",
		e.Result, e.Endpoint, e.StatusCode)
}
