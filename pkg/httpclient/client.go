// Package httpclient provides the request executor of the backend client:
// it builds wire requests, applies ETag conditional caching, optionally
// verifies response signatures, and records one diagnostics event per
// logical call.
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/entitlekit/backend-client/pkg/api"
	"github.com/entitlekit/backend-client/pkg/diagnostics"
	"github.com/entitlekit/backend-client/pkg/etag"
	"github.com/entitlekit/backend-client/pkg/signing"
)

// Config holds the client configuration.
type Config struct {
	// Platform identifies the host platform (e.g. "android", "ios").
	Platform string

	// PlatformVersion is the host OS version.
	PlatformVersion string

	// Flavor is the SDK flavor name (e.g. "native", "flutter").
	Flavor string

	// FlavorVersion is the flavor wrapper version. When empty the flavor
	// version header is omitted from requests entirely.
	FlavorVersion string

	// ClientVersion is the SDK version sent as X-Version.
	ClientVersion string

	// Locale is the resolved device locale (e.g. "en-US").
	Locale string

	// AppVersion is the calling application's version.
	AppVersion string

	// BundleID is the calling application's package or bundle identifier.
	BundleID string

	// FinishTransactions is false when the SDK runs in observer mode and
	// leaves transactions to the app. Reflected in X-Observer-Mode-Enabled.
	FinishTransactions bool

	// Timeout bounds each network round-trip.
	Timeout time.Duration

	// Store backs the ETag cache. Defaults to an in-memory store.
	Store etag.Store

	// Verifier decides and performs response signature verification.
	// Defaults to verification disabled.
	Verifier signing.Verifier

	// Sink receives diagnostics events. Defaults to a log sink.
	Sink diagnostics.Sink

	// Clock supplies request timing instants. Defaults to the system clock.
	Clock Clock

	// HTTPClient overrides the underlying HTTP client (for testing).
	HTTPClient *http.Client
}

// DefaultConfig returns a configuration with the required identity fields
// filled in and safe defaults for everything else.
func DefaultConfig(platform, platformVersion, clientVersion, bundleID string) Config {
	return Config{
		Platform:           platform,
		PlatformVersion:    platformVersion,
		Flavor:             "native",
		ClientVersion:      clientVersion,
		Locale:             "en-US",
		BundleID:           bundleID,
		FinishTransactions: true,
		Timeout:            30 * time.Second,
	}
}

// Client executes backend requests. It is safe for concurrent use; the
// ETag cache it shares across calls is internally synchronized.
type Client struct {
	httpClient *http.Client
	etags      *etag.Manager
	verifier   signing.Verifier
	tracker    *diagnostics.Tracker
	clock      Clock
	config     Config
	logger     zerolog.Logger
}

// New creates a backend client.
func New(cfg Config) (*Client, error) {
	if cfg.Platform == "" {
		return nil, fmt.Errorf("platform is required")
	}
	if cfg.ClientVersion == "" {
		return nil, fmt.Errorf("client version is required")
	}
	if cfg.BundleID == "" {
		return nil, fmt.Errorf("bundle id is required")
	}
	if cfg.Locale == "" {
		cfg.Locale = "en-US"
	}
	if cfg.Flavor == "" {
		cfg.Flavor = "native"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	logger := log.With().Str("component", "backend-client").Logger()

	if cfg.Store == nil {
		cfg.Store = etag.NewMemoryStore()
	}
	if cfg.Verifier == nil {
		cfg.Verifier = signing.Disabled()
	}
	if cfg.Sink == nil {
		cfg.Sink = diagnostics.NewLogSink(logger)
	}
	if cfg.Clock == nil {
		cfg.Clock = systemClock{}
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout:   cfg.Timeout,
			Transport: NewTransport(),
		}
	}

	return &Client{
		httpClient: httpClient,
		etags:      etag.NewManager(cfg.Store, log.Logger),
		verifier:   cfg.Verifier,
		tracker:    diagnostics.NewTracker(cfg.Sink),
		clock:      cfg.Clock,
		config:     cfg,
		logger:     logger,
	}, nil
}

// PerformRequest executes one logical backend request and returns its
// unified result.
//
// The method is GET when body is nil and POST otherwise. Headers in extra
// are merged last and may override the defaults. A 304 that cannot be
// satisfied from the cache triggers exactly one revalidation round-trip;
// the whole call still records a single diagnostics event.
func (c *Client) PerformRequest(ctx context.Context, baseURL string, endpoint api.Endpoint, body map[string]any, extra map[string]string) (*api.HTTPResult, error) {
	start := c.clock.Now()

	result, err := c.performCall(ctx, baseURL, endpoint, body, extra, false)
	if err == nil && result == nil {
		c.logger.Debug().
			Str("endpoint", endpoint.Name).
			Msg("304 with no cache entry, revalidating")
		result, err = c.performCall(ctx, baseURL, endpoint, body, extra, true)
		if err == nil && result == nil {
			err = ErrNotModifiedWithoutCache
		}
	}

	elapsed := c.clock.Now().Sub(start)
	c.trackOutcome(endpoint, elapsed, result, err)

	if err != nil {
		return nil, err
	}
	return result, nil
}

// ClearCaches evicts all stored ETag entries, forcing full revalidation on
// subsequent requests. Safe to call with no prior cache state.
func (c *Client) ClearCaches() {
	if err := c.etags.ClearCaches(context.Background()); err != nil {
		c.logger.Warn().Err(err).Msg("Failed to clear caches")
	}
}

// Close stops the diagnostics tracker after flushing buffered events.
func (c *Client) Close() error {
	c.tracker.Close()
	return nil
}

// performCall executes a single network round-trip. It returns (nil, nil)
// for a 304 the cache could not satisfy, which the caller answers with one
// revalidation pass. refreshETag suppresses the conditional header so the
// backend must respond with a full body.
func (c *Client) performCall(ctx context.Context, baseURL string, endpoint api.Endpoint, body map[string]any, extra map[string]string, refreshETag bool) (*api.HTTPResult, error) {
	method := http.MethodGet
	if body != nil {
		method = http.MethodPost
	}
	path := endpoint.PathWithVersion()
	url := strings.TrimSuffix(baseURL, "/") + path

	// The nonce header must be absent, not empty, when verification is
	// disabled for the endpoint.
	nonce := ""
	if c.verifier.ShouldVerify(endpoint) {
		var err error
		nonce, err = c.verifier.NewNonce()
		if err != nil {
			return nil, fmt.Errorf("generate nonce: %w", err)
		}
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	etagValue := c.etags.ETagHeader(ctx, method, path, refreshETag)
	req.Header = c.defaultHeaders(nonce, etagValue)
	for key, value := range extra {
		req.Header.Set(key, value)
	}

	c.logger.Debug().
		Str("endpoint", endpoint.Name).
		Str("method", method).
		Bool("conditional", etagValue != "").
		Bool("refresh", refreshETag).
		Msg("Executing backend request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error().Err(err).Str("endpoint", endpoint.Name).Msg("HTTP request failed")
		return nil, &TransportError{Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		c.logger.Error().Err(err).Str("endpoint", endpoint.Name).Msg("Failed to read response body")
		return nil, &TransportError{Err: err}
	}
	bodyStr := string(data)
	respETag := resp.Header.Get(ETagResponseHeader)

	if resp.StatusCode == http.StatusNotModified {
		return c.etags.HTTPResultFromCacheOrBackend(ctx, etag.BackendResponse{
			Code:         resp.StatusCode,
			ETag:         respETag,
			Verification: api.VerificationNotVerified,
		}, method, path, refreshETag), nil
	}

	payload := map[string]any{}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &payload); err != nil {
			c.logger.Warn().
				Err(err).
				Str("endpoint", endpoint.Name).
				Int("status", resp.StatusCode).
				Msg("Response body is not valid JSON")
			return nil, &MalformedResponseError{StatusCode: resp.StatusCode, Err: err}
		}
	}

	verification := api.VerificationNotRequested
	if c.verifier.ShouldVerify(endpoint) {
		verification = c.verifier.Verify(nonce, resp.Header.Get(signing.SignatureHeaderName), respETag, bodyStr)
		if verification != api.VerificationSuccess {
			c.logger.Warn().
				Str("endpoint", endpoint.Name).
				Str("verification_result", string(verification)).
				Msg("Response signature verification did not succeed")
			if c.verifier.Enforced() {
				return nil, &SignatureVerificationError{
					Endpoint:   endpoint.Name,
					StatusCode: resp.StatusCode,
					Result:     verification,
				}
			}
		}
	}

	return c.etags.HTTPResultFromCacheOrBackend(ctx, etag.BackendResponse{
		Code:         resp.StatusCode,
		Body:         bodyStr,
		Payload:      payload,
		ETag:         respETag,
		Verification: verification,
	}, method, path, refreshETag), nil
}

// trackOutcome records the single diagnostics event for a logical call.
func (c *Client) trackOutcome(endpoint api.Endpoint, elapsed time.Duration, result *api.HTTPResult, err error) {
	event := diagnostics.Event{
		Endpoint:     endpoint.Name,
		ResponseTime: elapsed,
	}

	switch {
	case err == nil:
		event.Successful = result.Successful()
		event.ResponseCode = result.ResponseCode
		event.Origin = result.Origin
		event.VerificationResult = result.VerificationResult
	default:
		event.Successful = false
		event.ResponseCode = diagnostics.NoStatusCode
		switch typed := err.(type) {
		case *MalformedResponseError:
			event.ResponseCode = typed.StatusCode
			event.Origin = api.OriginBackend
		case *SignatureVerificationError:
			event.ResponseCode = typed.StatusCode
			event.Origin = api.OriginBackend
			event.VerificationResult = typed.Result
		}
	}

	c.tracker.TrackHTTPRequestPerformed(event)
}
