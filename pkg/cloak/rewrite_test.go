package cloak

import (
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andesco/cloak/pkg/ruleset"
)

func newTestRewriter() *Rewriter {
	return NewRewriter(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func rewrite(t *testing.T, base, body string) string {
	t.Helper()
	out := newTestRewriter().Rewrite([]byte(body), "text/html; charset=utf-8", mustParse(t, base), ruleset.Rule{})
	return string(out)
}

func parseDoc(t *testing.T, s string) *goquery.Document {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	require.NoError(t, err)
	return doc
}

func TestRewrite_AnchorScenario(t *testing.T) {
	out := rewrite(t, "http://example.com/", `<a href="/about">About</a>`)
	assert.Contains(t, out, `<a href="/proxy?u=http%3A%2F%2Fexample.com%2Fabout">About</a>`)
}

func TestRewrite_Attributes(t *testing.T) {
	const page = `<!DOCTYPE html>
<html><head><link rel="stylesheet" href="style.css"></head>
<body>
<img id="img" src="a.png" data-src="lazy.png" alt="/not-a-url">
<form id="form" action="/submit"><input name="q"></form>
<video id="video" poster="p.jpg"></video>
<a id="frag" href="#x">x</a>
<a id="js" href="javascript:go()">g</a>
<img id="data" src="data:image/gif;base64,R0lG">
<a id="mail" href="mailto:me@example.com">m</a>
<a id="bad" href="http://[::1">bad</a>
<a id="empty" href="">e</a>
</body></html>`

	doc := parseDoc(t, rewrite(t, "http://example.com/dir/", page))

	attr := func(sel, name string) string {
		v, ok := doc.Find(sel).Attr(name)
		require.True(t, ok, "%s[%s] missing", sel, name)
		return v
	}

	assert.Equal(t, Encode("http://example.com/dir/style.css"), attr("link", "href"))
	assert.Equal(t, Encode("http://example.com/dir/a.png"), attr("#img", "src"))
	assert.Equal(t, Encode("http://example.com/dir/lazy.png"), attr("#img", "data-src"))
	assert.Equal(t, "/not-a-url", attr("#img", "alt"))
	assert.Equal(t, Encode("http://example.com/submit"), attr("#form", "action"))
	assert.Equal(t, Encode("http://example.com/dir/p.jpg"), attr("#video", "poster"))

	assert.Equal(t, "#x", attr("#frag", "href"))
	assert.Equal(t, "javascript:go()", attr("#js", "href"))
	assert.Equal(t, "data:image/gif;base64,R0lG", attr("#data", "src"))
	assert.Equal(t, "mailto:me@example.com", attr("#mail", "href"))
	assert.Equal(t, "http://[::1", attr("#bad", "href"))
	assert.Equal(t, "", attr("#empty", "href"))
}

func TestRewrite_EveryURLAttributeIsProxiedOrExcluded(t *testing.T) {
	const page = `<a href="/a">a</a><a href="b?c=d#e">b</a><img src="//cdn.test/i.png">
<iframe src="https://other.test/frame"></iframe><script src="app.js"></script>
<a href="#top">t</a><a href="javascript:void(0)">j</a>`

	doc := parseDoc(t, rewrite(t, "http://example.com/x/", page))
	doc.Find("[href],[src],[action],[data-src],[poster]").Each(func(_ int, s *goquery.Selection) {
		if goquery.NodeName(s) == "base" {
			return
		}
		for _, name := range []string{"href", "src", "action", "data-src", "poster"} {
			v, ok := s.Attr(name)
			if !ok || !Rewritable(v) {
				continue
			}
			require.True(t, IsProxyLink(v), "%s=%q not proxied", name, v)
			target, err := Decode(v)
			require.NoError(t, err)
			assert.True(t, mustParse(t, target).IsAbs(), "decoded %q is not absolute", target)
		}
	})
}

func TestRewrite_BaseTag(t *testing.T) {
	t.Run("inserted", func(t *testing.T) {
		doc := parseDoc(t, rewrite(t, "http://example.com/page", `<html><head><title>t</title></head><body></body></html>`))
		bases := doc.Find("head base")
		require.Equal(t, 1, bases.Length())
		assert.Equal(t, "http://example.com/page", bases.AttrOr("href", ""))
	})

	t.Run("overwritten and not used for resolution", func(t *testing.T) {
		doc := parseDoc(t, rewrite(t, "http://example.com/",
			`<html><head><base href="https://cdn.test/assets/"></head><body><img src="x.png"></body></html>`))
		bases := doc.Find("base")
		require.Equal(t, 1, bases.Length())
		assert.Equal(t, "http://example.com/", bases.AttrOr("href", ""))
		assert.Equal(t, Encode("http://example.com/x.png"), doc.Find("img").AttrOr("src", ""))
	})
}

func TestRewrite_Marker(t *testing.T) {
	out := rewrite(t, "http://example.com/", `<p>hi</p>`)
	doc := parseDoc(t, out)
	assert.Equal(t, 1, doc.Find(`head meta[name="`+MarkerName+`"]`).Length())

	again := rewrite(t, "http://example.com/", out)
	assert.Equal(t, 1, parseDoc(t, again).Find(`head meta[name="`+MarkerName+`"]`).Length())
}

func TestRewrite_Srcset(t *testing.T) {
	doc := parseDoc(t, rewrite(t, "http://example.com/",
		`<img srcset="a.png 1x, /b.png 2x,https://cdn.test/c.png 480w">`))

	want := Encode("http://example.com/a.png") + " 1x, " +
		Encode("http://example.com/b.png") + " 2x, " +
		Encode("https://cdn.test/c.png") + " 480w"
	assert.Equal(t, want, doc.Find("img").AttrOr("srcset", ""))
}

func TestRewriteSrcset(t *testing.T) {
	base := mustParse(t, "http://example.com/")

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"single without descriptor", "a.png", Encode("http://example.com/a.png")},
		{"descriptors preserved", "a.png 1.5x,  b.png   2x", Encode("http://example.com/a.png") + " 1.5x, " + Encode("http://example.com/b.png") + " 2x"},
		{"trailing comma dropped", "a.png 100w,", Encode("http://example.com/a.png") + " 100w"},
		{"excluded only is untouched", "#a 1x,#b 2x", "#a 1x,#b 2x"},
		{"data candidate kept, others proxied", "data:image/gif;base64,R0lG 1x, /hi.png 2x", "data:image/gif;base64,R0lG 1x, " + Encode("http://example.com/hi.png") + " 2x"},
		{"data candidate without descriptor", "data:image/png;base64,AAA, b.png 2x", "data:image/png;base64,AAA, " + Encode("http://example.com/b.png") + " 2x"},
		{"url ending in comma has no descriptor", "a.png, b.png 2x", Encode("http://example.com/a.png") + ", " + Encode("http://example.com/b.png") + " 2x"},
		{"only data candidates untouched", "data:image/png;base64,AAA 1x", "data:image/png;base64,AAA 1x"},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, RewriteSrcset(tt.in, base))
		})
	}
}

func TestRewriteSrcset_PreservesCandidatesAndDescriptors(t *testing.T) {
	base := mustParse(t, "http://example.com/")
	in := "s.jpg 320w, m.jpg 640w, l.jpg 1280w"
	out := RewriteSrcset(in, base)

	got := strings.Split(out, ", ")
	require.Len(t, got, 3)
	for i, desc := range []string{"320w", "640w", "1280w"} {
		fields := strings.Fields(got[i])
		require.Len(t, fields, 2)
		assert.True(t, IsProxyLink(fields[0]))
		assert.Equal(t, desc, fields[1])
	}
}

func TestRewriteCSS(t *testing.T) {
	base := mustParse(t, "http://example.com/")
	bg := Encode("http://example.com/bg.png")

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"unquoted", "background:url(/bg.png)", "background:url('" + bg + "')"},
		{"double quoted", `background:url("/bg.png")`, "background:url('" + bg + "')"},
		{"single quoted with spaces", "background:url( '/bg.png' )", "background:url('" + bg + "')"},
		{"upper case", "background:URL(/bg.png)", "background:url('" + bg + "')"},
		{"multiple", "a{b:url(/bg.png)} c{d:url(bg.png)}", "a{b:url('" + bg + "')} c{d:url('" + bg + "')}"},
		{"data untouched", "url(data:image/png;base64,AAAA)", "url(data:image/png;base64,AAAA)"},
		{"fragment untouched", "filter:url(#blur)", "filter:url(#blur)"},
		{"empty untouched", "url()", "url()"},
		{"no urls", "color:red", "color:red"},
		{"already proxied", "url('" + bg + "')", "url('" + bg + "')"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, RewriteCSS(tt.in, base))
		})
	}
}

func TestRewrite_InlineCSS(t *testing.T) {
	out := rewrite(t, "http://example.com/",
		`<html><head><style>body{background:url("/bg.png")}</style></head>`+
			`<body><div style="background:url(/bg.png)">x</div></body></html>`)

	want := "url('/proxy?u=http%3A%2F%2Fexample.com%2Fbg.png')"
	assert.Contains(t, out, "body{background:"+want+"}")

	doc := parseDoc(t, out)
	assert.Equal(t, "background:"+want, doc.Find("div").AttrOr("style", ""))
}

func TestRewrite_LeavesOtherContentAlone(t *testing.T) {
	out := rewrite(t, "http://example.com/",
		`<body><p class="/keep">Visit /about or url(/x.png)</p><!-- href="/c" --></body>`)

	assert.Contains(t, out, `<p class="/keep">Visit /about or url(/x.png)</p>`)
	assert.Contains(t, out, `<!-- href="/c" -->`)
}

func TestRewrite_MalformedMarkup(t *testing.T) {
	out := rewrite(t, "http://example.com/", `<div><p>unclosed <a href=/x>link<img src=y.png></div></span><td>stray`)

	doc := parseDoc(t, out)
	assert.Equal(t, Encode("http://example.com/x"), doc.Find("a").AttrOr("href", ""))
	assert.Equal(t, Encode("http://example.com/y.png"), doc.Find("img").AttrOr("src", ""))
}

func TestRewrite_FixedPoint(t *testing.T) {
	const page = `<!DOCTYPE html><html><head><title>t</title><style>a{b:url(c.png)}</style></head>
<body><a href="/about">About</a><img src="i.png" srcset="i.png 1x, j.png 2x" style="x:url('k.png')">
<form action="go"></form></body></html>`

	first := rewrite(t, "http://example.com/", page)
	second := rewrite(t, "http://example.com/", first)
	assert.Equal(t, first, second)
	assert.NotContains(t, second, "%252F", "links must not be double-encoded")
}

func TestRewrite_DecodesCharset(t *testing.T) {
	body := []byte("<html><head></head><body><p>caf\xe9</p></body></html>")
	out := newTestRewriter().Rewrite(body, "text/html; charset=iso-8859-1", mustParse(t, "http://example.com/"), ruleset.Rule{})
	assert.Contains(t, string(out), "<p>café</p>")
}

func TestRewrite_AppliesRule(t *testing.T) {
	rule := ruleset.Rule{
		RegexRules: []ruleset.Regex{{Match: `class="paywall"`, Replace: `class="open"`}},
		Injections: []ruleset.Injection{{Position: "body", Append: `<script src="/inject.js"></script>`}},
	}
	out := newTestRewriter().Rewrite([]byte(`<body><div class="paywall">x</div></body>`),
		"text/html", mustParse(t, "http://example.com/"), rule)

	doc := parseDoc(t, string(out))
	assert.Equal(t, 1, doc.Find("div.open").Length())
	assert.Equal(t, Encode("http://example.com/inject.js"), doc.Find("script").AttrOr("src", ""))
}
