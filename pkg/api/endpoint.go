// Package api defines the value types shared between the request executor,
// the ETag cache, and the diagnostics tracker: endpoint descriptors, request
// results, and the enums that classify them.
package api

import (
	"net/http"
	"net/url"
)

// APIVersion is the path prefix shared by all backend endpoints.
const APIVersion = "/v1"

// Endpoint describes a single backend endpoint. Endpoints are immutable
// value descriptors; the method together with the versioned path identifies
// a cache slot for conditional requests.
type Endpoint struct {
	// Name is the logical endpoint name used for diagnostics and metrics.
	Name string

	// Path is the endpoint path below the API version prefix,
	// e.g. "/subscribers/identify".
	Path string

	// Method is the HTTP method the endpoint is called with.
	Method string

	// SupportsSignatureVerification marks endpoints whose responses can be
	// verified against a nonce issued with the request.
	SupportsSignatureVerification bool
}

// PathWithVersion returns the full request path including the version prefix.
func (e Endpoint) PathWithVersion() string {
	return APIVersion + e.Path
}

// LogIn identifies a subscriber, binding an anonymous ID to a known one.
var LogIn = Endpoint{
	Name:                          "log_in",
	Path:                          "/subscribers/identify",
	Method:                        http.MethodPost,
	SupportsSignatureVerification: true,
}

// PostReceipt posts a store receipt for validation.
var PostReceipt = Endpoint{
	Name:                          "post_receipt",
	Path:                          "/receipts",
	Method:                        http.MethodPost,
	SupportsSignatureVerification: true,
}

// PostDiagnostics uploads batched diagnostics events.
var PostDiagnostics = Endpoint{
	Name:   "post_diagnostics",
	Path:   "/diagnostics",
	Method: http.MethodPost,
}

// GetProductEntitlementMapping fetches the product to entitlement mapping.
var GetProductEntitlementMapping = Endpoint{
	Name:                          "get_product_entitlement_mapping",
	Path:                          "/product_entitlement_mapping",
	Method:                        http.MethodGet,
	SupportsSignatureVerification: true,
}

// GetCustomerInfo returns the descriptor for fetching a subscriber's
// customer info. The app user ID is embedded in the path, which scopes the
// endpoint's cache slot to that user.
func GetCustomerInfo(appUserID string) Endpoint {
	return Endpoint{
		Name:                          "get_customer_info",
		Path:                          "/subscribers/" + url.PathEscape(appUserID),
		Method:                        http.MethodGet,
		SupportsSignatureVerification: true,
	}
}

// GetOfferings returns the descriptor for fetching a subscriber's offerings.
func GetOfferings(appUserID string) Endpoint {
	return Endpoint{
		Name:                          "get_offerings",
		Path:                          "/subscribers/" + url.PathEscape(appUserID) + "/offerings",
		Method:                        http.MethodGet,
		SupportsSignatureVerification: true,
	}
}
