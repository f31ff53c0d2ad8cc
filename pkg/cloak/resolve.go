package cloak

import (
	"net/url"
	"strings"
)

// excludedPrefixes are references that are passed through untouched. Inline
// data and script navigation would break if routed through the proxy.
var excludedPrefixes = []string{"data:", "javascript:", "#"}

// Rewritable reports whether ref is a candidate for resolution and proxying.
// Empty values, excluded schemes and bare fragments are not.
func Rewritable(ref string) bool {
	ref = strings.ToLower(strings.TrimSpace(ref))
	if ref == "" {
		return false
	}
	for _, prefix := range excludedPrefixes {
		if strings.HasPrefix(ref, prefix) {
			return false
		}
	}
	return true
}

// Resolve returns ref made absolute against base. Relative paths,
// protocol-relative references, queries and fragments follow RFC 3986.
func Resolve(ref string, base *url.URL) (*url.URL, error) {
	if base == nil {
		return nil, ErrUnresolvable
	}
	u, err := base.Parse(strings.TrimSpace(ref))
	if err != nil || !u.IsAbs() {
		return nil, ErrUnresolvable
	}
	return u, nil
}
