package httpclient

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/entitlekit/backend-client/internal/testutil"
	"github.com/entitlekit/backend-client/pkg/api"
	"github.com/entitlekit/backend-client/pkg/diagnostics"
	"github.com/entitlekit/backend-client/pkg/etag"
	"github.com/entitlekit/backend-client/pkg/signing"
)

// fakeClock advances by a fixed step on every Now call.
type fakeClock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(c.step)
	return c.now
}

type testClient struct {
	client  *Client
	backend *testutil.MockBackend
	sink    *diagnostics.MemorySink
	store   *etag.MemoryStore
}

func newTestClient(t *testing.T, mutate func(*Config)) *testClient {
	t.Helper()

	backend := testutil.NewMockBackend()
	t.Cleanup(backend.Close)

	sink := diagnostics.NewMemorySink()
	store := etag.NewMemoryStore()

	cfg := DefaultConfig("android", "14", "1.2.3", "com.example.app")
	cfg.FlavorVersion = "4.5.6"
	cfg.AppVersion = "7.8.9"
	cfg.Store = store
	cfg.Sink = sink
	cfg.Clock = &fakeClock{now: time.Unix(1700000000, 0), step: 50 * time.Millisecond}

	if mutate != nil {
		mutate(&cfg)
	}

	client, err := New(cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(func() { client.Close() })

	return &testClient{client: client, backend: backend, sink: sink, store: store}
}

// waitForEvents closes the tracker and returns the recorded events.
func (tc *testClient) waitForEvents(t *testing.T) []diagnostics.Event {
	t.Helper()
	tc.client.Close()
	return tc.sink.Events()
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name        string
		config      Config
		expectError bool
	}{
		{
			name:   "valid config",
			config: DefaultConfig("android", "14", "1.0.0", "com.example.app"),
		},
		{
			name:        "missing platform",
			config:      Config{ClientVersion: "1.0.0", BundleID: "com.example.app"},
			expectError: true,
		},
		{
			name:        "missing client version",
			config:      Config{Platform: "android", BundleID: "com.example.app"},
			expectError: true,
		},
		{
			name:        "missing bundle id",
			config:      Config{Platform: "android", ClientVersion: "1.0.0"},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := New(tt.config)
			if tt.expectError && err == nil {
				t.Error("Expected error")
			}
			if !tt.expectError {
				if err != nil {
					t.Errorf("Unexpected error: %v", err)
				}
				client.Close()
			}
		})
	}
}

func TestPerformRequest_LogInSuccess(t *testing.T) {
	tc := newTestClient(t, nil)
	tc.backend.SetResponse("/v1/subscribers/identify", testutil.MockResponse{
		StatusCode: 200,
		Body:       `{"response":"OK"}`,
		Headers:    map[string]string{"Content-Type": "application/json"},
	})

	result, err := tc.client.PerformRequest(context.Background(), tc.backend.URL(), api.LogIn,
		map[string]any{"app_user_id": "user1"}, nil)
	if err != nil {
		t.Fatalf("PerformRequest failed: %v", err)
	}

	if result.ResponseCode != 200 {
		t.Errorf("ResponseCode = %d, want 200", result.ResponseCode)
	}
	if result.Payload["response"] != "OK" {
		t.Errorf("Payload[response] = %v, want OK", result.Payload["response"])
	}
	if result.Origin != api.OriginBackend {
		t.Errorf("Origin = %q, want %q", result.Origin, api.OriginBackend)
	}
	if result.VerificationResult != api.VerificationNotRequested {
		t.Errorf("VerificationResult = %q, want %q", result.VerificationResult, api.VerificationNotRequested)
	}
}

func TestPerformRequest_MethodFromBody(t *testing.T) {
	tc := newTestClient(t, nil)

	var methods []string
	var mu sync.Mutex
	tc.backend.SetHandler("/v1/product_entitlement_mapping", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		methods = append(methods, r.Method)
		mu.Unlock()
		w.Write([]byte(`{}`))
	})
	tc.backend.SetHandler("/v1/receipts", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		methods = append(methods, r.Method)
		mu.Unlock()
		w.Write([]byte(`{}`))
	})

	ctx := context.Background()
	if _, err := tc.client.PerformRequest(ctx, tc.backend.URL(), api.GetProductEntitlementMapping, nil, nil); err != nil {
		t.Fatalf("GET request failed: %v", err)
	}
	if _, err := tc.client.PerformRequest(ctx, tc.backend.URL(), api.PostReceipt, map[string]any{"fetch_token": "t"}, nil); err != nil {
		t.Fatalf("POST request failed: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(methods) != 2 || methods[0] != http.MethodGet || methods[1] != http.MethodPost {
		t.Errorf("Methods = %v, want [GET POST]", methods)
	}
}

func TestPerformRequest_DefaultHeaders(t *testing.T) {
	tc := newTestClient(t, nil)

	_, err := tc.client.PerformRequest(context.Background(), tc.backend.URL(), api.GetOfferings("user1"), nil, nil)
	if err != nil {
		t.Fatalf("PerformRequest failed: %v", err)
	}

	headers := tc.backend.LastRequestHeader()
	expected := map[string]string{
		"Content-Type":              "application/json",
		HeaderPlatform:              "android",
		HeaderPlatformVersion:       "14",
		HeaderPlatformFlavor:        "native",
		HeaderPlatformFlavorVersion: "4.5.6",
		HeaderVersion:               "1.2.3",
		HeaderClientLocale:          "en-US",
		HeaderClientVersion:         "7.8.9",
		HeaderClientBundleID:        "com.example.app",
		HeaderObserverMode:          "false",
	}
	for name, want := range expected {
		if got := headers.Get(name); got != want {
			t.Errorf("Header %s = %q, want %q", name, got, want)
		}
	}
}

func TestPerformRequest_FlavorVersionOmittedWhenUnset(t *testing.T) {
	tc := newTestClient(t, func(cfg *Config) {
		cfg.FlavorVersion = ""
	})

	_, err := tc.client.PerformRequest(context.Background(), tc.backend.URL(), api.GetOfferings("user1"), nil, nil)
	if err != nil {
		t.Fatalf("PerformRequest failed: %v", err)
	}

	headers := tc.backend.LastRequestHeader()
	if _, present := headers[HeaderPlatformFlavorVersion]; present {
		t.Errorf("Flavor version header present (value %q), want header absent",
			headers.Get(HeaderPlatformFlavorVersion))
	}
}

func TestPerformRequest_ObserverModeEnabled(t *testing.T) {
	tc := newTestClient(t, func(cfg *Config) {
		cfg.FinishTransactions = false
	})

	_, err := tc.client.PerformRequest(context.Background(), tc.backend.URL(), api.GetOfferings("user1"), nil, nil)
	if err != nil {
		t.Fatalf("PerformRequest failed: %v", err)
	}

	if got := tc.backend.LastRequestHeader().Get(HeaderObserverMode); got != "true" {
		t.Errorf("%s = %q, want literal \"true\"", HeaderObserverMode, got)
	}
}

func TestPerformRequest_NoNonceWhenVerificationDisabled(t *testing.T) {
	tc := newTestClient(t, nil)

	_, err := tc.client.PerformRequest(context.Background(), tc.backend.URL(), api.GetOfferings("user1"), nil, nil)
	if err != nil {
		t.Fatalf("PerformRequest failed: %v", err)
	}

	headers := tc.backend.LastRequestHeader()
	if _, present := headers[HeaderNonce]; present {
		t.Errorf("Nonce header present with verification disabled (value %q)", headers.Get(HeaderNonce))
	}
}

func TestPerformRequest_ExtraHeadersMerged(t *testing.T) {
	tc := newTestClient(t, nil)

	_, err := tc.client.PerformRequest(context.Background(), tc.backend.URL(), api.GetOfferings("user1"), nil,
		map[string]string{
			"Authorization":    "Bearer apikey",
			HeaderClientLocale: "de-DE", // callers may override defaults
		})
	if err != nil {
		t.Fatalf("PerformRequest failed: %v", err)
	}

	headers := tc.backend.LastRequestHeader()
	if got := headers.Get("Authorization"); got != "Bearer apikey" {
		t.Errorf("Authorization = %q", got)
	}
	if got := headers.Get(HeaderClientLocale); got != "de-DE" {
		t.Errorf("%s = %q, want caller override", HeaderClientLocale, got)
	}
}

func TestPerformRequest_304ServedFromCache(t *testing.T) {
	tc := newTestClient(t, nil)
	endpoint := api.GetOfferings("user1")
	tc.backend.SetHandler("/v1/subscribers/user1/offerings",
		testutil.NewConditionalHandler(`"anetag"`, `{"offerings":["monthly"]}`))

	ctx := context.Background()

	first, err := tc.client.PerformRequest(ctx, tc.backend.URL(), endpoint, nil, nil)
	if err != nil {
		t.Fatalf("First request failed: %v", err)
	}
	if first.Origin != api.OriginBackend {
		t.Errorf("First Origin = %q, want backend", first.Origin)
	}

	second, err := tc.client.PerformRequest(ctx, tc.backend.URL(), endpoint, nil, nil)
	if err != nil {
		t.Fatalf("Second request failed: %v", err)
	}
	if second.Origin != api.OriginCache {
		t.Errorf("Second Origin = %q, want cache", second.Origin)
	}
	if second.ResponseCode != 200 {
		t.Errorf("Second ResponseCode = %d, want stored 200", second.ResponseCode)
	}
	if second.Body != first.Body {
		t.Errorf("Cached body %q differs from original %q", second.Body, first.Body)
	}

	if tc.backend.ConditionalCount() != 1 {
		t.Errorf("ConditionalCount = %d, want 1", tc.backend.ConditionalCount())
	}
	if tc.backend.RequestCount() != 2 {
		t.Errorf("RequestCount = %d, want 2 (no retry on cache hit)", tc.backend.RequestCount())
	}
}

func TestPerformRequest_304MissRetriesOnceWithoutValidator(t *testing.T) {
	tc := newTestClient(t, nil)
	endpoint := api.GetOfferings("user1")

	// First answer is a 304 even though no cache entry exists, e.g. the
	// entry was evicted after the validator was issued elsewhere. The
	// retry must be unconditional and its 200 becomes authoritative.
	calls := 0
	var mu sync.Mutex
	tc.backend.SetHandler("/v1/subscribers/user1/offerings", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()

		if n == 1 {
			w.Header().Set("ETag", `"anetag"`)
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"anotheretag"`)
		w.Write([]byte(`{"offerings":["annual"]}`))
	})

	result, err := tc.client.PerformRequest(context.Background(), tc.backend.URL(), endpoint, nil, nil)
	if err != nil {
		t.Fatalf("PerformRequest failed: %v", err)
	}

	if result.ResponseCode != 200 {
		t.Errorf("ResponseCode = %d, want 200 from the retry", result.ResponseCode)
	}
	if result.Origin != api.OriginBackend {
		t.Errorf("Origin = %q, want backend", result.Origin)
	}
	if result.Payload["offerings"] == nil {
		t.Errorf("Payload = %v, want retry payload", result.Payload)
	}

	if tc.backend.RequestCount() != 2 {
		t.Fatalf("RequestCount = %d, want exactly 2 (one retry)", tc.backend.RequestCount())
	}
	// The retry must not replay the stale validator.
	if got := tc.backend.RequestHeader(1).Get(HeaderIfNoneMatch); got != "" {
		t.Errorf("Retry sent If-None-Match %q, want unconditional request", got)
	}

	// The retry's ETag is now the stored validator.
	entry, err := tc.store.Get(context.Background(), etag.Key(http.MethodGet, endpoint.PathWithVersion()))
	if err != nil {
		t.Fatalf("Expected stored entry after retry: %v", err)
	}
	if entry.ETag != `"anotheretag"` {
		t.Errorf("Stored ETag = %q, want %q", entry.ETag, `"anotheretag"`)
	}

	// One logical call, one diagnostics event.
	events := tc.waitForEvents(t)
	if len(events) != 1 {
		t.Fatalf("Got %d diagnostics events, want 1", len(events))
	}
	if !events[0].Successful || events[0].ResponseCode != 200 {
		t.Errorf("Event = %+v, want successful 200", events[0])
	}
}

func TestPerformRequest_MalformedJSONNotCached(t *testing.T) {
	tc := newTestClient(t, nil)
	tc.backend.SetResponse("/v1/subscribers/user1/offerings", testutil.MockResponse{
		StatusCode: 200,
		Body:       `<html>gateway error</html>`,
		Headers:    map[string]string{"ETag": `"anetag"`},
	})

	_, err := tc.client.PerformRequest(context.Background(), tc.backend.URL(), api.GetOfferings("user1"), nil, nil)

	var malformed *MalformedResponseError
	if !errors.As(err, &malformed) {
		t.Fatalf("Expected MalformedResponseError, got %v", err)
	}
	if malformed.StatusCode != 200 {
		t.Errorf("StatusCode = %d, want 200", malformed.StatusCode)
	}

	if tc.store.Len() != 0 {
		t.Errorf("Malformed response was cached")
	}

	events := tc.waitForEvents(t)
	if len(events) != 1 {
		t.Fatalf("Got %d diagnostics events, want 1", len(events))
	}
	if events[0].Successful {
		t.Error("Event marked successful for malformed response")
	}
	if events[0].ResponseCode != 200 {
		t.Errorf("Event ResponseCode = %d, want 200", events[0].ResponseCode)
	}
}

func TestPerformRequest_TransportError(t *testing.T) {
	tc := newTestClient(t, nil)
	baseURL := tc.backend.URL()
	tc.backend.Close()

	_, err := tc.client.PerformRequest(context.Background(), baseURL, api.GetOfferings("user1"), nil, nil)

	var transport *TransportError
	if !errors.As(err, &transport) {
		t.Fatalf("Expected TransportError, got %v", err)
	}

	events := tc.waitForEvents(t)
	if len(events) != 1 {
		t.Fatalf("Got %d diagnostics events, want 1", len(events))
	}
	if events[0].ResponseCode != diagnostics.NoStatusCode {
		t.Errorf("Event ResponseCode = %d, want sentinel %d", events[0].ResponseCode, diagnostics.NoStatusCode)
	}
	if events[0].Origin != "" {
		t.Errorf("Event Origin = %q, want empty", events[0].Origin)
	}
	if events[0].Successful {
		t.Error("Event marked successful for transport error")
	}
}

func TestPerformRequest_ErrorStatusReturnedToCaller(t *testing.T) {
	tc := newTestClient(t, nil)
	tc.backend.SetResponse("/v1/subscribers/identify", testutil.MockResponse{
		StatusCode: 400,
		Body:       `{"code":7225,"message":"invalid app user id"}`,
	})

	result, err := tc.client.PerformRequest(context.Background(), tc.backend.URL(), api.LogIn,
		map[string]any{"app_user_id": ""}, nil)
	if err != nil {
		t.Fatalf("4xx must be returned, not raised: %v", err)
	}
	if result.ResponseCode != 400 {
		t.Errorf("ResponseCode = %d, want 400", result.ResponseCode)
	}
	if result.Payload["message"] != "invalid app user id" {
		t.Errorf("Payload = %v", result.Payload)
	}

	// 4xx is not retried by this layer.
	if tc.backend.RequestCount() != 1 {
		t.Errorf("RequestCount = %d, want 1", tc.backend.RequestCount())
	}

	events := tc.waitForEvents(t)
	if len(events) != 1 || events[0].Successful {
		t.Errorf("Events = %+v, want one unsuccessful event", events)
	}
}

func TestClearCaches_ForcesFullFetch(t *testing.T) {
	tc := newTestClient(t, nil)
	endpoint := api.GetOfferings("user1")
	tc.backend.SetHandler("/v1/subscribers/user1/offerings",
		testutil.NewConditionalHandler(`"anetag"`, `{"offerings":[]}`))

	ctx := context.Background()

	// Prime the cache and confirm the second call is conditional.
	tc.client.PerformRequest(ctx, tc.backend.URL(), endpoint, nil, nil)
	second, _ := tc.client.PerformRequest(ctx, tc.backend.URL(), endpoint, nil, nil)
	if second.Origin != api.OriginCache {
		t.Fatalf("Second Origin = %q, want cache", second.Origin)
	}

	tc.client.ClearCaches()

	third, err := tc.client.PerformRequest(ctx, tc.backend.URL(), endpoint, nil, nil)
	if err != nil {
		t.Fatalf("Request after ClearCaches failed: %v", err)
	}
	if third.Origin != api.OriginBackend {
		t.Errorf("Origin = %q after ClearCaches, want backend", third.Origin)
	}
	if got := tc.backend.RequestHeader(2).Get(HeaderIfNoneMatch); got != "" {
		t.Errorf("Request after ClearCaches sent If-None-Match %q, want full fetch", got)
	}
}

func TestClearCaches_SafeWithNoState(t *testing.T) {
	tc := newTestClient(t, nil)
	tc.client.ClearCaches()
}

func TestPerformRequest_VerificationSuccess(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey failed: %v", err)
	}
	verifier, err := signing.NewEd25519Verifier(signing.ModeInformational, pub, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewEd25519Verifier failed: %v", err)
	}

	tc := newTestClient(t, func(cfg *Config) {
		cfg.Verifier = verifier
	})

	// The backend signs the nonce with the response validator.
	tc.backend.SetHandler("/v1/subscribers/user1/offerings", func(w http.ResponseWriter, r *http.Request) {
		nonce := r.Header.Get(HeaderNonce)
		respETag := `"anetag"`
		sig := ed25519.Sign(priv, signing.Message(nonce, respETag, ""))

		w.Header().Set("ETag", respETag)
		w.Header().Set(signing.SignatureHeaderName, base64.StdEncoding.EncodeToString(sig))
		w.Write([]byte(`{"offerings":[]}`))
	})

	result, err := tc.client.PerformRequest(context.Background(), tc.backend.URL(), api.GetOfferings("user1"), nil, nil)
	if err != nil {
		t.Fatalf("PerformRequest failed: %v", err)
	}

	if got := tc.backend.LastRequestHeader().Get(HeaderNonce); got == "" {
		t.Error("Nonce header missing with verification enabled")
	}
	if result.VerificationResult != api.VerificationSuccess {
		t.Errorf("VerificationResult = %q, want %q", result.VerificationResult, api.VerificationSuccess)
	}
	if tc.store.Len() != 1 {
		t.Errorf("Verified response not cached")
	}
}

func TestPerformRequest_VerificationFailedPassThrough(t *testing.T) {
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey failed: %v", err)
	}
	verifier, err := signing.NewEd25519Verifier(signing.ModeInformational, pub, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewEd25519Verifier failed: %v", err)
	}

	tc := newTestClient(t, func(cfg *Config) {
		cfg.Verifier = verifier
	})

	// No signature header at all: verification fails but the result is
	// still returned, and nothing is cached as validated.
	tc.backend.SetResponse("/v1/subscribers/user1/offerings", testutil.MockResponse{
		StatusCode: 200,
		Body:       `{"offerings":[]}`,
		Headers:    map[string]string{"ETag": `"anetag"`},
	})

	result, err := tc.client.PerformRequest(context.Background(), tc.backend.URL(), api.GetOfferings("user1"), nil, nil)
	if err != nil {
		t.Fatalf("PerformRequest failed: %v", err)
	}

	if result.VerificationResult != api.VerificationFailed {
		t.Errorf("VerificationResult = %q, want %q", result.VerificationResult, api.VerificationFailed)
	}
	if result.ResponseCode != 200 {
		t.Errorf("ResponseCode = %d, want 200", result.ResponseCode)
	}
	if tc.store.Len() != 0 {
		t.Errorf("Unverified response was cached")
	}
}

func TestPerformRequest_VerificationEnforced(t *testing.T) {
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey failed: %v", err)
	}
	verifier, err := signing.NewEd25519Verifier(signing.ModeEnforced, pub, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewEd25519Verifier failed: %v", err)
	}

	tc := newTestClient(t, func(cfg *Config) {
		cfg.Verifier = verifier
	})
	tc.backend.SetResponse("/v1/subscribers/user1/offerings", testutil.MockResponse{
		StatusCode: 200,
		Body:       `{"offerings":[]}`,
	})

	_, err = tc.client.PerformRequest(context.Background(), tc.backend.URL(), api.GetOfferings("user1"), nil, nil)

	var verr *SignatureVerificationError
	if !errors.As(err, &verr) {
		t.Fatalf("Expected SignatureVerificationError, got %v", err)
	}
	if verr.Result != api.VerificationFailed {
		t.Errorf("Result = %q, want %q", verr.Result, api.VerificationFailed)
	}
}

func TestPerformRequest_ElapsedTimeRecorded(t *testing.T) {
	tc := newTestClient(t, nil)

	_, err := tc.client.PerformRequest(context.Background(), tc.backend.URL(), api.GetOfferings("user1"), nil, nil)
	if err != nil {
		t.Fatalf("PerformRequest failed: %v", err)
	}

	events := tc.waitForEvents(t)
	if len(events) != 1 {
		t.Fatalf("Got %d events, want 1", len(events))
	}
	// The fake clock advances 50ms per Now call; start and end bracket the
	// round-trip.
	if events[0].ResponseTime != 50*time.Millisecond {
		t.Errorf("ResponseTime = %v, want 50ms from the fake clock", events[0].ResponseTime)
	}
}

func TestPerformRequest_Concurrent(t *testing.T) {
	tc := newTestClient(t, nil)
	endpoint := api.GetOfferings("user1")
	tc.backend.SetHandler("/v1/subscribers/user1/offerings",
		testutil.NewConditionalHandler(`"anetag"`, `{"offerings":[]}`))

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := tc.client.PerformRequest(context.Background(), tc.backend.URL(), endpoint, nil, nil)
			if err != nil {
				errs <- err
				return
			}
			if result.ResponseCode != 200 {
				errs <- errors.New("unexpected response code")
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("Concurrent request failed: %v", err)
	}

	events := tc.waitForEvents(t)
	if len(events) != 20 {
		t.Errorf("Got %d diagnostics events, want 20", len(events))
	}
}
