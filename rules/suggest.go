package rules

import (
	"net/url"
	"regexp"
	"strings"
)

// Escape quotes every regular expression metacharacter in s.
func Escape(s string) string {
	return regexp.QuoteMeta(s)
}

// schemePattern matches http and https alike; other schemes are kept literal.
func schemePattern(scheme string) string {
	switch strings.ToLower(scheme) {
	case "http", "https":
		return "https?"
	default:
		return Escape(scheme)
	}
}

// SuggestHost returns a pattern matching every page on rawURL's host,
// over either http or https.
//
//	https://example.com/path?x=1 -> ^https?://example\.com([/?#].*)?$
func SuggestHost(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return "^" + Escape(rawURL)
	}
	return "^" + schemePattern(u.Scheme) + "://" + Escape(u.Host) + "([/?#].*)?$"
}

// SuggestPage returns a pattern matching exactly rawURL, over either http
// or https.
//
//	https://example.com/a?b -> ^https?://example\.com/a\?b$
func SuggestPage(rawURL string) string {
	scheme, rest, ok := strings.Cut(rawURL, ":")
	if !ok || scheme == "" || strings.ContainsAny(scheme, "/?#") {
		return "^" + Escape(rawURL) + "$"
	}
	return "^" + schemePattern(scheme) + Escape(":"+rest) + "$"
}
