package cloak

import (
	"net/http"
	"net/url"
	"strings"
)

const (
	MissingTargetMessage = "Missing target URL parameter"
	SchemeMessage        = "Target URL must be an absolute http:// or https:// URL"
)

// TargetRequest is one request to forward to a third-party origin.
type TargetRequest struct {
	Method string
	URL    *url.URL
	Header http.Header
	Body   []byte
}

// NewTargetRequest validates rawURL and builds a TargetRequest from it. The
// inbound header is kept as-is here; only an allow-listed subset is ever sent
// upstream.
func NewTargetRequest(method, rawURL string, header http.Header, body []byte) (*TargetRequest, error) {
	u, err := ParseTarget(rawURL)
	if err != nil {
		return nil, err
	}
	if method == "" {
		method = http.MethodGet
	}
	if header == nil {
		header = make(http.Header)
	}
	return &TargetRequest{
		Method: strings.ToUpper(method),
		URL:    u,
		Header: header,
		Body:   body,
	}, nil
}

// ParseTarget parses the value of the u parameter. Only absolute http and
// https URLs with a host are accepted.
func ParseTarget(rawURL string) (*url.URL, error) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return nil, badRequest(MissingTargetMessage)
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, badRequest("Invalid target URL: " + err.Error())
	}
	u.Scheme = strings.ToLower(u.Scheme)
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, badRequest(SchemeMessage)
	}
	return u, nil
}
