package httpclient

import (
	"net"
	"net/http"
	"time"

	"golang.org/x/net/http2"
)

// NewTransport builds the HTTP transport used by default. Connection pool
// limits are sized for an SDK issuing a handful of concurrent calls.
func NewTransport() *http.Transport {
	tr := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        20,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2: true,
	}
	http2.ConfigureTransport(tr)
	return tr
}
