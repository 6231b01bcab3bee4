package httpclient

import "net/http"

// Request header names on the backend wire contract.
const (
	HeaderPlatform              = "X-Platform"
	HeaderPlatformVersion       = "X-Platform-Version"
	HeaderPlatformFlavor        = "X-Platform-Flavor"
	HeaderPlatformFlavorVersion = "X-Platform-Flavor-Version"
	HeaderVersion               = "X-Version"
	HeaderClientLocale          = "X-Client-Locale"
	HeaderClientVersion         = "X-Client-Version"
	HeaderClientBundleID        = "X-Client-Bundle-ID"
	HeaderObserverMode          = "X-Observer-Mode-Enabled"
	HeaderNonce                 = "X-Nonce"

	// HeaderIfNoneMatch carries the cached validator on conditional
	// requests.
	HeaderIfNoneMatch = "If-None-Match"

	// ETagResponseHeader is the fixed response header name carrying the
	// validator.
	ETagResponseHeader = "ETag"
)

// defaultHeaders assembles the deterministic header set for one request.
// Optional headers (flavor version, nonce, conditional validator) are
// omitted entirely rather than set empty.
func (c *Client) defaultHeaders(nonce, etagValue string) http.Header {
	h := http.Header{}
	h.Set("Content-Type", "application/json")
	h.Set(HeaderPlatform, c.config.Platform)
	h.Set(HeaderPlatformVersion, c.config.PlatformVersion)
	h.Set(HeaderPlatformFlavor, c.config.Flavor)
	if c.config.FlavorVersion != "" {
		h.Set(HeaderPlatformFlavorVersion, c.config.FlavorVersion)
	}
	h.Set(HeaderVersion, c.config.ClientVersion)
	h.Set(HeaderClientLocale, c.config.Locale)
	h.Set(HeaderClientVersion, c.config.AppVersion)
	h.Set(HeaderClientBundleID, c.config.BundleID)

	observerMode := "false"
	if !c.config.FinishTransactions {
		observerMode = "true"
	}
	h.Set(HeaderObserverMode, observerMode)

	if nonce != "" {
		h.Set(HeaderNonce, nonce)
	}
	if etagValue != "" {
		h.Set(HeaderIfNoneMatch, etagValue)
	}

	return h
}
