package cloak

import (
	"bytes"
	"io"
	"log/slog"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
	"golang.org/x/net/html/charset"

	"github.com/andesco/cloak/pkg/ruleset"
)

// MarkerName is the name of the <meta> element added to every rewritten
// document.
const MarkerName = "cloak-proxy"

// urlAttributes hold a single URL that is resolved and proxied.
var urlAttributes = map[string]bool{
	"href":     true,
	"src":      true,
	"action":   true,
	"data-src": true,
	"poster":   true,
}

// Rewriter turns an HTML document into one whose resource references all
// point back at the proxy.
type Rewriter struct {
	logger *slog.Logger
}

func NewRewriter(logger *slog.Logger) *Rewriter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Rewriter{logger: logger.With("component", "rewriter")}
}

// Rewrite decodes body to UTF-8 using the declared contentType (or the
// document's own <meta charset>), applies the rule, rewrites every resource
// reference against base and returns UTF-8 HTML. Broken markup is repaired
// by the parser; there is no failure outcome.
func (r *Rewriter) Rewrite(body []byte, contentType string, base *url.URL, rule ruleset.Rule) []byte {
	source := decodeUTF8(body, contentType)
	if len(rule.RegexRules) > 0 {
		source = rule.ApplyRegexRules(source)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(source))
	if err != nil {
		r.logger.Warn("could not parse HTML, returning it unmodified", "error", err)
		return []byte(source)
	}

	r.inject(doc, rule.Injections)
	setBase(doc, base)
	doc.Find("*").Each(func(_ int, s *goquery.Selection) {
		rewriteElement(s.Get(0), base)
	})
	addMarker(doc)

	out, err := doc.Html()
	if err != nil {
		r.logger.Warn("could not render rewritten HTML", "error", err)
		return []byte(source)
	}
	return []byte(out)
}

func decodeUTF8(body []byte, contentType string) string {
	reader, err := charset.NewReader(bytes.NewReader(body), contentType)
	if err != nil {
		return string(body)
	}
	decoded, err := io.ReadAll(reader)
	if err != nil {
		return string(body)
	}
	return string(decoded)
}

func (r *Rewriter) inject(doc *goquery.Document, injections []ruleset.Injection) {
	for _, injection := range injections {
		if injection.Position == "" {
			continue
		}
		target := doc.Find(injection.Position)
		if target.Length() == 0 {
			r.logger.Debug("injection position matched nothing", "position", injection.Position)
			continue
		}
		if injection.Replace != "" {
			target.ReplaceWithHtml(injection.Replace)
			continue
		}
		if injection.Append != "" {
			target.AppendHtml(injection.Append)
		}
		if injection.Prepend != "" {
			target.PrependHtml(injection.Prepend)
		}
	}
}

// setBase points an existing <base> in the head at base, or inserts one, so
// that anything the rewriter misses still resolves against the origin.
func setBase(doc *goquery.Document, base *url.URL) {
	if existing := doc.Find("head base").First(); existing.Length() > 0 {
		existing.SetAttr("href", base.String())
		return
	}
	head := doc.Find("head").First()
	if head.Length() == 0 {
		return
	}
	head.PrependNodes(&html.Node{
		Type:     html.ElementNode,
		DataAtom: atom.Base,
		Data:     "base",
		Attr:     []html.Attribute{{Key: "href", Val: base.String()}},
	})
}

func addMarker(doc *goquery.Document) {
	if doc.Find(`head meta[name="` + MarkerName + `"]`).Length() > 0 {
		return
	}
	head := doc.Find("head").First()
	if head.Length() == 0 {
		return
	}
	head.AppendNodes(&html.Node{
		Type:     html.ElementNode,
		DataAtom: atom.Meta,
		Data:     "meta",
		Attr: []html.Attribute{
			{Key: "name", Val: MarkerName},
			{Key: "content", Val: "processed"},
		},
	})
}

// rewriteElement applies the attribute and inline CSS rules to one element.
func rewriteElement(n *html.Node, base *url.URL) {
	if n == nil || n.Type != html.ElementNode {
		return
	}
	for i := range n.Attr {
		attr := &n.Attr[i]
		if attr.Namespace != "" {
			continue
		}
		switch {
		case urlAttributes[attr.Key]:
			if n.DataAtom == atom.Base {
				continue
			}
			if link, ok := ProxyURL(attr.Val, base); ok {
				attr.Val = link
			}
		case attr.Key == "srcset":
			attr.Val = RewriteSrcset(attr.Val, base)
		case attr.Key == "style":
			attr.Val = RewriteCSS(attr.Val, base)
		}
	}
	if n.DataAtom == atom.Style {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.TextNode {
				c.Data = RewriteCSS(c.Data, base)
			}
		}
	}
}
