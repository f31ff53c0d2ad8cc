package cloak

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	DefaultTimeout      = 15 * time.Second
	DefaultMaxRedirects = 10
)

// UpstreamResponse is what the target returned. It is owned by the request
// that fetched it and never shared.
type UpstreamResponse struct {
	StatusCode  int
	Header      http.Header
	Body        []byte
	ContentType string   // normalized media type, lowercase, no parameters
	URL         *url.URL // final URL after redirects

	// RequestHeader is the header set sent on the first hop.
	RequestHeader http.Header
}

// Fetcher performs the single outbound call for a TargetRequest.
type Fetcher struct {
	client   *http.Client
	maxBytes int64
	observer Observer
}

// HostPolicy reports whether a redirect may be followed to host.
type HostPolicy func(host string) bool

// NewFetcher creates a Fetcher. A maxBytes of zero or less leaves the
// response body unbounded. A nil allowHost follows redirects to any host.
func NewFetcher(timeout time.Duration, maxRedirects int, maxBytes int64, observer Observer, allowHost HostPolicy) *Fetcher {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if maxRedirects < 0 {
		maxRedirects = DefaultMaxRedirects
	}
	if observer == nil {
		observer = nopObserver{}
	}
	return &Fetcher{
		client: &http.Client{
			Timeout:   timeout,
			Transport: http.DefaultTransport.(*http.Transport).Clone(),
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= maxRedirects {
					return fmt.Errorf("stopped after %d redirects", maxRedirects)
				}
				if host := strings.ToLower(req.URL.Hostname()); allowHost != nil && !allowHost(host) {
					return domainNotAllowed(host)
				}
				// Never carry cookies across hops; no jar is configured either.
				req.Header.Del("Cookie")
				return nil
			},
		},
		maxBytes: maxBytes,
		observer: observer,
	}
}

// Fetch sends tr upstream exactly once. tr.Header is sent as given, so the
// caller decides which headers leave the proxy. Any response status is a
// success; only transport failures return a *FetchError.
func (f *Fetcher) Fetch(ctx context.Context, tr *TargetRequest) (*UpstreamResponse, error) {
	var body io.Reader
	if hasBody(tr.Method) && len(tr.Body) > 0 {
		body = bytes.NewReader(tr.Body)
	}

	req, err := http.NewRequestWithContext(ctx, tr.Method, tr.URL.String(), body)
	if err != nil {
		return nil, &FetchError{URL: tr.URL.String(), Err: err}
	}
	for key, vals := range tr.Header {
		req.Header[key] = append([]string(nil), vals...)
	}
	if body == nil {
		req.Header.Del("Content-Type")
	}

	start := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		f.observer.ObserveUpstream(tr.Method, 0, time.Since(start), err)
		var verr *ValidationError
		if errors.As(err, &verr) {
			return nil, verr
		}
		return nil, &FetchError{URL: tr.URL.String(), Err: err}
	}
	defer resp.Body.Close()

	data, err := f.readBody(resp.Body)
	f.observer.ObserveUpstream(tr.Method, resp.StatusCode, time.Since(start), err)
	if err != nil {
		return nil, &FetchError{URL: tr.URL.String(), Err: err}
	}

	final := tr.URL
	if resp.Request != nil && resp.Request.URL != nil {
		final = resp.Request.URL
	}

	return &UpstreamResponse{
		StatusCode:  resp.StatusCode,
		Header:      resp.Header,
		Body:        data,
		ContentType: NormalizeContentType(resp.Header.Get("Content-Type")),
		URL:         final,

		RequestHeader: req.Header.Clone(),
	}, nil
}

func (f *Fetcher) readBody(r io.Reader) ([]byte, error) {
	if f.maxBytes <= 0 {
		return io.ReadAll(r)
	}
	data, err := io.ReadAll(io.LimitReader(r, f.maxBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > f.maxBytes {
		return nil, fmt.Errorf("response body exceeds %d bytes", f.maxBytes)
	}
	return data, nil
}

func hasBody(method string) bool {
	return method != http.MethodGet && method != http.MethodHead
}
