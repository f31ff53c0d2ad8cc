package cloak

import (
	"mime"
	"net/url"
	"path"
	"strings"
)

const (
	HTMLContentType    = "text/html; charset=utf-8"
	defaultContentType = "application/octet-stream"
)

// NormalizeContentType strips parameters and lowercases a Content-Type value.
func NormalizeContentType(raw string) string {
	if raw == "" {
		return ""
	}
	mediaType, _, err := mime.ParseMediaType(raw)
	if err != nil {
		mediaType, _, _ = strings.Cut(raw, ";")
	}
	return strings.ToLower(strings.TrimSpace(mediaType))
}

// IsHTML reports whether a normalized media type goes through the rewriter.
func IsHTML(mediaType string) bool {
	return mediaType == "text/html" || mediaType == "application/xhtml+xml"
}

// PassThroughContentType picks the outgoing type for an unmodified body: the
// declared value, else a guess from the target's extension, else
// application/octet-stream.
func PassThroughContentType(declared string, target *url.URL) string {
	if declared = strings.TrimSpace(declared); declared != "" {
		return declared
	}
	if target != nil {
		if ext := path.Ext(target.Path); ext != "" {
			if guess := mime.TypeByExtension(ext); guess != "" {
				return guess
			}
		}
	}
	return defaultContentType
}
