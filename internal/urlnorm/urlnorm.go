// Package urlnorm reduces URLs to the key used for cross-source dedup.
package urlnorm

import (
	"net"
	"net/url"
	"strings"
)

var defaultPorts = map[string]bool{"80": true, "443": true}

// Normalize returns the comparison key of raw. It never fails: input that
// does not parse as a URL falls back to a trimmed, lower-cased string.
//
// Scheme and fragment are dropped, the host is lower-cased without a
// leading "www." or default port, and a trailing slash is removed from the
// path. A query string is kept verbatim since it addresses a different
// resource.
//
//	Normalize("https://WWW.Example.com:443/a/#top") == "example.com/a"
func Normalize(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ""
	}
	if !strings.Contains(s, "://") {
		s = "https://" + s
	}

	u, err := url.Parse(s)
	if err != nil || u.Host == "" {
		return fallback(raw)
	}

	host := strings.ToLower(u.Hostname())
	host = strings.TrimPrefix(host, "www.")
	if port := u.Port(); port != "" && !defaultPorts[port] {
		host = net.JoinHostPort(host, port)
	}

	path := u.EscapedPath()
	path = strings.TrimRight(path, "/")

	key := host + path
	if u.RawQuery != "" {
		key += "?" + u.RawQuery
	}
	return key
}

func fallback(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	if i := strings.IndexByte(s, '#'); i >= 0 {
		s = s[:i]
	}
	return strings.TrimRight(s, "/")
}

// Equal reports whether a and b denote the same bookmark.
func Equal(a, b string) bool {
	return Normalize(a) == Normalize(b)
}
