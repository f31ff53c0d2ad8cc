package cloak

import (
	"net/url"
	"strings"
)

const (
	ProxyPath   = "/proxy"
	TargetParam = "u"

	linkPrefix = ProxyPath + "?" + TargetParam + "="
)

// Encode wraps an absolute URL into the proxy's routing form.
func Encode(absURL string) string {
	return linkPrefix + url.QueryEscape(absURL)
}

// Decode reverses Encode.
func Decode(link string) (string, error) {
	if !IsProxyLink(link) {
		return "", ErrUnresolvable
	}
	return url.QueryUnescape(strings.TrimPrefix(link, linkPrefix))
}

// IsProxyLink reports whether s is already in routing form.
func IsProxyLink(s string) bool {
	return strings.HasPrefix(strings.TrimSpace(s), linkPrefix)
}

// ProxyURL resolves ref against base and returns its routing form. ok is
// false when ref must be left as it is: excluded, already proxied,
// unresolvable, or resolving to something other than http(s).
func ProxyURL(ref string, base *url.URL) (link string, ok bool) {
	if !Rewritable(ref) || IsProxyLink(ref) {
		return "", false
	}
	abs, err := Resolve(ref, base)
	if err != nil {
		return "", false
	}
	if abs.Scheme != "http" && abs.Scheme != "https" {
		return "", false
	}
	return Encode(abs.String()), true
}
