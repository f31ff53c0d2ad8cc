package cloak

import (
	"net/url"
	"regexp"
	"strings"
)

var cssURLPattern = regexp.MustCompile(`(?i)url\(\s*(?:'([^']*)'|"([^"]*)"|([^'"()\s]*))\s*\)`)

// RewriteCSS replaces every url(...) in css whose target can be proxied with
// url('<proxy link>'). Other occurrences are left byte-for-byte.
func RewriteCSS(css string, base *url.URL) string {
	if !strings.Contains(strings.ToLower(css), "url(") {
		return css
	}
	return cssURLPattern.ReplaceAllStringFunc(css, func(match string) string {
		sub := cssURLPattern.FindStringSubmatch(match)
		raw := sub[1] + sub[2] + sub[3]
		link, ok := ProxyURL(raw, base)
		if !ok {
			return match
		}
		return "url('" + link + "')"
	})
}

// RewriteSrcset proxies the URL of each image candidate and keeps its
// descriptor (2x, 480w) verbatim. Candidates are rejoined with ", ".
//
// A candidate's URL runs up to the next whitespace and a comma only ends a
// candidate after its descriptor, so commas inside data: URLs are kept.
func RewriteSrcset(srcset string, base *url.URL) string {
	var candidates []string
	changed := false

	rest := srcset
	for {
		rest = strings.TrimLeft(rest, srcsetSeparators)
		if rest == "" {
			break
		}

		end := strings.IndexAny(rest, htmlSpace)
		if end < 0 {
			end = len(rest)
		}
		ref := rest[:end]
		rest = rest[end:]

		var descriptor string
		if trimmed := strings.TrimRight(ref, ","); trimmed != ref {
			ref = trimmed
		} else {
			descriptor, rest = cutDescriptor(rest)
		}

		if link, ok := ProxyURL(ref, base); ok {
			ref = link
			changed = true
		}
		if descriptor != "" {
			ref += " " + descriptor
		}
		candidates = append(candidates, ref)
	}

	if !changed {
		return srcset
	}
	return strings.Join(candidates, ", ")
}

const (
	htmlSpace        = " \t\n\f\r"
	srcsetSeparators = htmlSpace + ","
)

// cutDescriptor returns the descriptor text up to the comma that ends the
// candidate, and what follows that comma. Commas inside parentheses belong
// to the descriptor.
func cutDescriptor(s string) (descriptor, rest string) {
	depth := 0
	for i, r := range s {
		switch r {
		case '(':
			depth++
		case ')':
			if depth > 0 {
				depth--
			}
		case ',':
			if depth == 0 {
				return strings.TrimSpace(s[:i]), s[i+1:]
			}
		}
	}
	return strings.TrimSpace(s), ""
}
