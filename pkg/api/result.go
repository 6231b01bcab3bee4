package api

// Origin indicates where a result's payload came from.
type Origin string

const (
	// OriginBackend marks a payload returned by the backend on this call.
	OriginBackend Origin = "backend"

	// OriginCache marks a payload served from the local ETag cache after a
	// 304 Not Modified response.
	OriginCache Origin = "cache"
)

// VerificationResult classifies the outcome of response signature
// verification for a single request.
type VerificationResult string

const (
	// VerificationNotRequested means verification is disabled for the
	// endpoint or the client; no verification was attempted.
	VerificationNotRequested VerificationResult = "not_requested"

	// VerificationNotVerified means verification was expected but could not
	// be performed for this result (e.g. a cached entry stored before
	// verification was enabled).
	VerificationNotVerified VerificationResult = "not_verified"

	// VerificationSuccess means the response signature matched.
	VerificationSuccess VerificationResult = "success"

	// VerificationFailed means the signature did not match the nonce.
	VerificationFailed VerificationResult = "failed"

	// VerificationError means verification could not run, e.g. the
	// signature header was not decodable.
	VerificationError VerificationResult = "error"
)

// HTTPResult is the unified outcome of one logical backend request. It is
// synthesized once per call and never mutated; cached responses produce a
// fresh HTTPResult on every lookup.
type HTTPResult struct {
	// ResponseCode is the final HTTP status code. For cache-served results
	// this is the status code stored with the entry, not 304.
	ResponseCode int

	// Body is the raw response body.
	Body string

	// Payload is the decoded JSON document.
	Payload map[string]any

	// Origin reports whether the payload came from the backend or the cache.
	Origin Origin

	// VerificationResult is the signature verification outcome.
	VerificationResult VerificationResult
}

// Successful reports whether the result carries a 2xx status code.
func (r *HTTPResult) Successful() bool {
	return r.ResponseCode >= 200 && r.ResponseCode < 300
}
