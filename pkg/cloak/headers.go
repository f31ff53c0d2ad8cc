package cloak

import (
	"net/http"
	"strconv"
)

// forwardedResponseHeaders is the complete allow list of upstream response
// headers passed to the caller besides the recomputed Content-Type and
// Content-Length.
//
// Everything else is dropped. That includes Set-Cookie, which would leak the
// origin's session state into the proxy's own cookie jar, and
// Content-Security-Policy and X-Frame-Options, which would stop cloaked
// content from being displayed. Dropping the latter two gives up the
// origin's framing and XSS protections; that is the price of serving its
// pages from the proxy's origin.
var forwardedResponseHeaders = []string{
	"Cache-Control",
}

// StrippedResponseHeaders lists headers that must never reach the caller.
// The allow list already excludes them.
var StrippedResponseHeaders = []string{
	"Set-Cookie",
	"Set-Cookie2",
	"Content-Security-Policy",
	"Content-Security-Policy-Report-Only",
	"X-Frame-Options",
	"Cross-Origin-Opener-Policy",
	"Cross-Origin-Embedder-Policy",
	"Cross-Origin-Resource-Policy",
	"Strict-Transport-Security",
}

// forwardedRequestHeaders are the only inbound headers sent upstream.
// Cookie is deliberately absent.
var forwardedRequestHeaders = []string{
	"User-Agent",
	"Accept",
	"Accept-Language",
	"Content-Type",
}

// ResponseHeaders applies the response policy. contentType is the
// dispatcher's decision and bodyLen the length of the body actually sent.
func ResponseHeaders(upstream http.Header, contentType string, bodyLen int) http.Header {
	dst := make(http.Header)
	for _, key := range forwardedResponseHeaders {
		if vals := upstream.Values(key); len(vals) > 0 {
			dst[key] = append([]string(nil), vals...)
		}
	}
	dst.Set("Content-Type", contentType)
	dst.Set("Content-Length", strconv.Itoa(bodyLen))
	return dst
}

func filterRequestHeaders(src http.Header) http.Header {
	dst := make(http.Header)
	for _, key := range forwardedRequestHeaders {
		if vals := src.Values(key); len(vals) > 0 {
			dst[http.CanonicalHeaderKey(key)] = append([]string(nil), vals...)
		}
	}
	return dst
}
