package etag

import (
	"github.com/entitlekit/backend-client/pkg/api"
)

// Entry is a cached backend response. Entries are stored only for requests
// that completed with a non-304, non-5xx response and whose signature
// verification did not fail.
type Entry struct {
	// ETag is the validator returned by the backend for this payload.
	ETag string `json:"etag"`

	// Payload is the raw response body.
	Payload string `json:"payload"`

	// ResponseCode is the HTTP status code the payload was served with.
	ResponseCode int `json:"response_code"`

	// VerificationResult is the signature verification outcome recorded
	// when the entry was stored.
	VerificationResult api.VerificationResult `json:"verification_result"`
}

// Key builds the cache key for a request. The key is host-independent: it
// covers the method and the versioned path only, so entries survive a
// backend host change.
func Key(method, path string) string {
	return method + ":" + path
}
