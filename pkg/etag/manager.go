package etag

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/entitlekit/backend-client/pkg/api"
)

// BackendResponse carries the classified outcome of one network round-trip
// into the cache layer. Payload is already decoded; malformed bodies never
// reach the Manager.
type BackendResponse struct {
	Code         int
	Body         string
	Payload      map[string]any
	ETag         string
	Verification api.VerificationResult
}

// Manager implements the conditional-request protocol on top of a Store.
type Manager struct {
	store  Store
	logger zerolog.Logger
}

// NewManager creates a cache manager backed by store.
func NewManager(store Store, logger zerolog.Logger) *Manager {
	if store == nil {
		panic("etag store cannot be nil")
	}
	return &Manager{
		store:  store,
		logger: logger.With().Str("component", "etag-cache").Logger(),
	}
}

// ETagHeader returns the conditional header value for a request, or "" when
// no header should be sent. refresh forces a full fetch: the stale validator
// is not consulted, so the backend must answer with a complete body.
func (m *Manager) ETagHeader(ctx context.Context, method, path string, refresh bool) string {
	if refresh {
		return ""
	}

	entry, err := m.store.Get(ctx, Key(method, path))
	if err != nil {
		if err != ErrCacheMiss {
			m.logger.Warn().Err(err).Str("path", path).Msg("ETag lookup failed")
		}
		return ""
	}
	return entry.ETag
}

// HTTPResultFromCacheOrBackend turns a backend response into the result the
// caller sees.
//
// For a 304 it returns the stored entry tagged api.OriginCache, or nil when
// no entry exists for the path. A nil return tells the executor to repeat
// the request with refreshETag=true so the next non-304 response is stored
// as authoritative.
//
// For any other status it returns the response tagged api.OriginBackend and
// stores it when it qualifies: an ETag is present, the status is below 500,
// and verification did not fail.
func (m *Manager) HTTPResultFromCacheOrBackend(ctx context.Context, resp BackendResponse, method, path string, refreshETag bool) *api.HTTPResult {
	key := Key(method, path)

	if resp.Code == http.StatusNotModified {
		entry, err := m.store.Get(ctx, key)
		if err != nil {
			if err != ErrCacheMiss {
				m.logger.Warn().Err(err).Str("path", path).Msg("Cache get error")
			}
			cacheMisses.Inc()
			m.logger.Debug().Str("path", path).Msg("304 with no cache entry")
			return nil
		}

		result, ok := m.entryToResult(ctx, key, entry)
		if !ok {
			cacheMisses.Inc()
			return nil
		}

		cacheHits.Inc()
		m.logger.Debug().
			Str("path", path).
			Str("etag", entry.ETag).
			Msg("304 served from cache")
		return result
	}

	// A qualifying response is stored on both the conditional and the
	// refresh pass; refreshETag only governs the request header side.
	if m.shouldStore(resp) {
		entry := &Entry{
			ETag:               resp.ETag,
			Payload:            resp.Body,
			ResponseCode:       resp.Code,
			VerificationResult: resp.Verification,
		}
		if err := m.store.Set(ctx, key, entry); err != nil {
			m.logger.Warn().Err(err).Str("path", path).Msg("Failed to store cache entry")
		} else {
			cacheStores.Inc()
			m.logger.Debug().
				Str("path", path).
				Str("etag", resp.ETag).
				Int("status", resp.Code).
				Msg("Stored cache entry")
		}
	}

	return &api.HTTPResult{
		ResponseCode:       resp.Code,
		Body:               resp.Body,
		Payload:            resp.Payload,
		Origin:             api.OriginBackend,
		VerificationResult: resp.Verification,
	}
}

// ClearCaches removes all stored entries. Safe to call with no prior state.
func (m *Manager) ClearCaches(ctx context.Context) error {
	return m.store.Clear(ctx)
}

// shouldStore decides whether a backend response may overwrite the cache
// slot. 5xx responses and failed verifications never do; a 304 carries no
// body to store.
func (m *Manager) shouldStore(resp BackendResponse) bool {
	if resp.ETag == "" {
		return false
	}
	if resp.Code == http.StatusNotModified || resp.Code >= http.StatusInternalServerError {
		return false
	}
	if resp.Verification == api.VerificationFailed || resp.Verification == api.VerificationError {
		return false
	}
	return true
}

// entryToResult synthesizes a fresh HTTPResult from a stored entry. A stored
// payload that no longer decodes means the store is corrupt for this key;
// the entry is dropped and the lookup treated as a miss.
func (m *Manager) entryToResult(ctx context.Context, key string, entry *Entry) (*api.HTTPResult, bool) {
	payload := map[string]any{}
	if entry.Payload != "" {
		if err := json.Unmarshal([]byte(entry.Payload), &payload); err != nil {
			m.logger.Warn().Err(err).Str("key", key).Msg("Corrupt cache entry dropped")
			_ = m.store.Delete(ctx, key)
			return nil, false
		}
	}

	return &api.HTTPResult{
		ResponseCode:       entry.ResponseCode,
		Body:               entry.Payload,
		Payload:            payload,
		Origin:             api.OriginCache,
		VerificationResult: entry.VerificationResult,
	}, true
}
