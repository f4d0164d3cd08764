// Package dedup canonicalizes URLs for equality comparison, merges search
// candidates, and filters out URLs processed within the recency window.
package dedup

import (
	"net/url"
	"strings"
)

var trackingParams = map[string]struct{}{
	"fbclid":  {},
	"gclid":   {},
	"dclid":   {},
	"msclkid": {},
	"yclid":   {},
	"mc_cid":  {},
	"mc_eid":  {},
	"igshid":  {},
	"ref":     {},
	"ref_src": {},
	"_ga":     {},
	"_hsenc":  {},
	"_hsmi":   {},
	"spm":     {},
}

// Normalize returns the canonical form of rawURL: lower-case scheme and host,
// no default port, no fragment, no tracking parameters, sorted query, and no
// trailing slash. Unparseable input degrades to a lower-cased, trimmed form
// of the raw string so deduplication can still proceed. Normalize is
// idempotent.
func Normalize(rawURL string) string {
	trimmed := strings.TrimSpace(rawURL)
	if idx := strings.Index(trimmed, "#"); idx >= 0 {
		trimmed = trimmed[:idx]
	}
	if trimmed == "" {
		return ""
	}
	candidate := trimmed
	if !strings.Contains(candidate, "://") {
		candidate = "https://" + strings.TrimLeft(candidate, "/")
	}
	u, err := url.Parse(candidate)
	if err != nil || u.Hostname() == "" {
		return fallback(trimmed)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	switch {
	case u.Scheme == "http" && strings.HasSuffix(u.Host, ":80"):
		u.Host = strings.TrimSuffix(u.Host, ":80")
	case u.Scheme == "https" && strings.HasSuffix(u.Host, ":443"):
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}
	u.Fragment = ""
	u.RawFragment = ""
	u.User = nil

	q := u.Query()
	for key := range q {
		if isTrackingParam(key) {
			q.Del(key)
		}
	}
	u.RawQuery = q.Encode()
	u.ForceQuery = false

	// Trim on the escaped form so an encoded slash (%2F) stays part of the path.
	escaped := strings.TrimRight(u.EscapedPath(), "/")
	path, err := url.PathUnescape(escaped)
	if err != nil {
		return fallback(trimmed)
	}
	u.Path = path
	u.RawPath = escaped

	return u.String()
}

func isTrackingParam(key string) bool {
	k := strings.ToLower(key)
	if strings.HasPrefix(k, "utm_") {
		return true
	}
	_, ok := trackingParams[k]
	return ok
}

// fallback lower-cases raw and drops trailing slashes, never eating into the
// scheme separator so the result normalizes to itself.
func fallback(raw string) string {
	raw = strings.ToLower(raw)
	floor := 0
	if idx := strings.Index(raw, "://"); idx >= 0 {
		floor = idx + len("://")
	}
	end := len(raw)
	for end > floor && raw[end-1] == '/' {
		end--
	}
	return raw[:end]
}
