// Package signing implements response signature verification. Endpoints
// that support verification get a random nonce attached to the request; the
// backend signs the nonce together with the response validator (or body)
// and returns the signature in a response header.
package signing

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/entitlekit/backend-client/pkg/api"
)

// SignatureHeaderName is the response header carrying the base64 signature.
const SignatureHeaderName = "X-Signature"

// nonceBytes is the size of the random nonce before base64 encoding.
const nonceBytes = 12

// Mode controls how verification outcomes affect the caller.
type Mode string

const (
	// ModeDisabled turns verification off; no nonce is ever generated.
	ModeDisabled Mode = "disabled"

	// ModeInformational verifies and tags the result but never fails the
	// request.
	ModeInformational Mode = "informational"

	// ModeEnforced verifies and turns a failed or errored verification into
	// a request error.
	ModeEnforced Mode = "enforced"
)

// Verifier decides which endpoints require verification and checks response
// signatures against the nonce issued with the request.
type Verifier interface {
	// ShouldVerify reports whether the endpoint's responses must be
	// verified. When false the request carries no nonce header at all.
	ShouldVerify(endpoint api.Endpoint) bool

	// NewNonce generates a fresh request nonce.
	NewNonce() (string, error)

	// Verify checks the signature header against the nonce and the response
	// validator (ETag when present, body otherwise).
	Verify(nonce, signature, etag, body string) api.VerificationResult

	// Enforced reports whether verification failures abort the request.
	Enforced() bool
}

// Ed25519Verifier verifies backend signatures with a static Ed25519 public
// key.
type Ed25519Verifier struct {
	mode      Mode
	publicKey ed25519.PublicKey
	logger    zerolog.Logger
}

// NewEd25519Verifier creates a verifier for the given mode and key. The key
// is required unless the mode is disabled.
func NewEd25519Verifier(mode Mode, publicKey ed25519.PublicKey, logger zerolog.Logger) (*Ed25519Verifier, error) {
	switch mode {
	case ModeDisabled, ModeInformational, ModeEnforced:
	default:
		return nil, fmt.Errorf("unknown verification mode %q", mode)
	}

	if mode != ModeDisabled && len(publicKey) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("public key must be %d bytes (got %d)", ed25519.PublicKeySize, len(publicKey))
	}

	return &Ed25519Verifier{
		mode:      mode,
		publicKey: publicKey,
		logger:    logger.With().Str("component", "signing").Logger(),
	}, nil
}

// Disabled returns a verifier that never requests verification.
func Disabled() *Ed25519Verifier {
	return &Ed25519Verifier{mode: ModeDisabled}
}

// ShouldVerify reports whether responses from endpoint must be verified.
func (v *Ed25519Verifier) ShouldVerify(endpoint api.Endpoint) bool {
	return v.mode != ModeDisabled && endpoint.SupportsSignatureVerification
}

// NewNonce returns a fresh base64-encoded random nonce.
func (v *Ed25519Verifier) NewNonce() (string, error) {
	buf := make([]byte, nonceBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf), nil
}

// Verify checks signature against the message derived from nonce and the
// response. A missing signature is a failure; an undecodable one is an
// error.
func (v *Ed25519Verifier) Verify(nonce, signature, etag, body string) api.VerificationResult {
	if signature == "" {
		v.logger.Warn().Msg("Response signature header missing")
		return api.VerificationFailed
	}

	sig, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		v.logger.Warn().Err(err).Msg("Response signature not decodable")
		return api.VerificationError
	}
	if len(sig) != ed25519.SignatureSize {
		v.logger.Warn().Int("size", len(sig)).Msg("Response signature has wrong size")
		return api.VerificationError
	}

	if !ed25519.Verify(v.publicKey, Message(nonce, etag, body), sig) {
		return api.VerificationFailed
	}
	return api.VerificationSuccess
}

// Enforced reports whether verification failures abort the request.
func (v *Ed25519Verifier) Enforced() bool {
	return v.mode == ModeEnforced
}

// Message builds the byte string the backend signs for a response: the
// nonce joined with the ETag when one is present, the raw body otherwise.
func Message(nonce, etag, body string) []byte {
	content := etag
	if content == "" {
		content = body
	}
	return []byte(nonce + ":" + content)
}
