// Package cloak fetches third-party pages on behalf of a client and rewrites
// HTML so that every follow-on request is routed back through the proxy.
package cloak

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/andesco/cloak/pkg/ruleset"
)

// Options configures a Cloak. Zero values select the defaults.
type Options struct {
	Timeout          time.Duration
	MaxRedirects     int
	MaxResponseBytes int64

	// UserAgent overrides the caller's User-Agent when set.
	UserAgent string

	// AllowedDomains restricts targets to these domains and their
	// subdomains. AllowRulesetDomains adds every domain named by the active
	// ruleset. With neither set every domain is allowed.
	AllowedDomains      []string
	AllowRulesetDomains bool
	Rules               ruleset.RuleSet
	LogURLs             bool
	Logger              *slog.Logger
	Observer            Observer
}

// Cloak is the request-forwarding and rewriting engine. It holds no
// per-request state and is safe for concurrent use.
type Cloak struct {
	fetcher  *Fetcher
	rewriter *Rewriter
	observer Observer
	logger   *slog.Logger

	userAgent           string
	allowedDomains      []string
	allowRulesetDomains bool
	logURLs             bool

	rules atomic.Pointer[ruleset.RuleSet]
}

// Response is what the caller receives for one proxied request.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	Rewritten  bool
}

// NewCloak creates a Cloak from opts.
func NewCloak(opts Options) *Cloak {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	observer := opts.Observer
	if observer == nil {
		observer = nopObserver{}
	}
	maxRedirects := opts.MaxRedirects
	if maxRedirects == 0 {
		maxRedirects = DefaultMaxRedirects
	}

	var allowed []string
	for _, d := range opts.AllowedDomains {
		if d = strings.ToLower(strings.TrimSpace(d)); d != "" {
			allowed = append(allowed, d)
		}
	}

	c := &Cloak{
		rewriter:            NewRewriter(logger),
		observer:            observer,
		logger:              logger.With("component", "cloak"),
		userAgent:           opts.UserAgent,
		allowedDomains:      allowed,
		allowRulesetDomains: opts.AllowRulesetDomains,
		logURLs:             opts.LogURLs,
	}
	c.fetcher = NewFetcher(opts.Timeout, maxRedirects, opts.MaxResponseBytes, observer, func(host string) bool {
		return c.domainAllowed(host, c.Rules())
	})
	c.SetRules(opts.Rules)
	return c
}

// SetRules atomically replaces the active ruleset.
func (c *Cloak) SetRules(rs ruleset.RuleSet) {
	c.rules.Store(&rs)
}

// Rules returns the active ruleset.
func (c *Cloak) Rules() ruleset.RuleSet {
	return *c.rules.Load()
}

// ProcessRequest fetches tr and returns the rewritten or passed-through
// response. The upstream status is relayed unchanged.
func (c *Cloak) ProcessRequest(ctx context.Context, tr *TargetRequest) (*Response, error) {
	resp, _, err := c.process(ctx, tr, true)
	return resp, err
}

// ProcessRaw fetches tr and returns the body without rewriting it.
func (c *Cloak) ProcessRaw(ctx context.Context, tr *TargetRequest) (*Response, error) {
	resp, _, err := c.process(ctx, tr, false)
	return resp, err
}

// Inspection describes both legs of one proxied request.
type Inspection struct {
	URL            string
	StatusCode     int
	Body           string
	RequestHeader  http.Header
	ResponseHeader http.Header
}

// Inspect behaves like ProcessRequest and also reports the headers that were
// sent upstream.
func (c *Cloak) Inspect(ctx context.Context, tr *TargetRequest) (*Inspection, error) {
	resp, up, err := c.process(ctx, tr, true)
	if err != nil {
		return nil, err
	}
	return &Inspection{
		URL:            up.URL.String(),
		StatusCode:     resp.StatusCode,
		Body:           string(resp.Body),
		RequestHeader:  up.RequestHeader,
		ResponseHeader: resp.Header,
	}, nil
}

func (c *Cloak) process(ctx context.Context, tr *TargetRequest, rewrite bool) (*Response, *UpstreamResponse, error) {
	up, rule, err := c.Fetch(ctx, tr)
	if err != nil {
		return nil, nil, err
	}

	if rewrite && IsHTML(up.ContentType) {
		body := c.rewriter.Rewrite(up.Body, up.Header.Get("Content-Type"), up.URL, rule)
		c.observer.ObserveDocument(DocumentHTML)
		return &Response{
			StatusCode: up.StatusCode,
			Header:     ResponseHeaders(up.Header, HTMLContentType, len(body)),
			Body:       body,
			Rewritten:  true,
		}, up, nil
	}

	return c.passThrough(up), up, nil
}

func (c *Cloak) passThrough(up *UpstreamResponse) *Response {
	c.observer.ObserveDocument(DocumentPassthrough)
	contentType := PassThroughContentType(up.Header.Get("Content-Type"), up.URL)
	return &Response{
		StatusCode: up.StatusCode,
		Header:     ResponseHeaders(up.Header, contentType, len(up.Body)),
		Body:       up.Body,
	}
}

// Fetch checks the target against the allow list, applies the matching
// rule, and performs the upstream call. Every redirect hop is checked
// against the allow list too. It also returns the rule so callers
// can rewrite with it.
func (c *Cloak) Fetch(ctx context.Context, tr *TargetRequest) (*UpstreamResponse, ruleset.Rule, error) {
	rules := c.Rules()
	host := strings.ToLower(tr.URL.Hostname())
	if !c.domainAllowed(host, rules) {
		return nil, ruleset.Rule{}, domainNotAllowed(host)
	}

	rule, _ := rules.Match(host, tr.URL.Path)
	out := &TargetRequest{
		Method: tr.Method,
		URL:    rule.ModifyURL(tr.URL),
		Header: c.upstreamHeader(tr.Header, rule),
		Body:   tr.Body,
	}

	if c.logURLs {
		c.logger.Info("proxying", "method", out.Method, "url", out.URL.String())
	} else {
		c.logger.Debug("proxying", "method", out.Method, "host", host)
	}

	up, err := c.fetcher.Fetch(ctx, out)
	if err != nil {
		return nil, rule, err
	}
	return up, rule, nil
}

// upstreamHeader builds the outbound header set: the allow-listed inbound
// headers, then configured and per-rule overrides. Inbound cookies never
// make it here.
func (c *Cloak) upstreamHeader(inbound http.Header, rule ruleset.Rule) http.Header {
	h := filterRequestHeaders(inbound)

	switch {
	case rule.Headers.UserAgent != "":
		h.Set("User-Agent", rule.Headers.UserAgent)
	case c.userAgent != "":
		h.Set("User-Agent", c.userAgent)
	}

	if v := rule.Headers.XForwardedFor; v != "" && v != "none" {
		h.Set("X-Forwarded-For", v)
	}
	if v := rule.Headers.Referer; v != "" && v != "none" {
		h.Set("Referer", v)
	}
	if rule.Headers.Cookie != "" {
		h.Set("Cookie", rule.Headers.Cookie)
	}
	return h
}

func (c *Cloak) domainAllowed(host string, rules ruleset.RuleSet) bool {
	if len(c.allowedDomains) == 0 && !c.allowRulesetDomains {
		return true
	}
	allowed := c.allowedDomains
	if c.allowRulesetDomains {
		allowed = append(append([]string(nil), allowed...), rules.Domains()...)
	}
	for _, d := range allowed {
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}
