// Package normalize maps raw page identifiers (absolute URLs, host-relative
// URLs, bare paths) to canonical join keys.
//
// The default policy lower-cases the host and preserves the case of the
// path, since most web servers treat paths case-sensitively. Callers that
// join against sources which fold case can enable Policy.FoldPathCase.
package normalize

import (
	"regexp"
	"strings"
	"unicode"
)

// Policy controls the parts of normalization that are a matter of choice.
type Policy struct {
	// FoldPathCase lower-cases the path as well as the host.
	FoldPathCase bool `yaml:"foldPathCase,omitempty"`

	// StripWWW removes a leading "www." label from the host.
	StripWWW bool `yaml:"stripWWW,omitempty"`
}

// Normalizer derives join keys under a fixed Policy. The zero value uses the
// default policy. It is safe for concurrent use.
type Normalizer struct {
	Policy Policy
}

var schemeRE = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9+.\-]*://`)

// Key normalizes raw with the default policy.
func Key(raw string) string { return Normalizer{}.Key(raw) }

// PathKey returns only the path portion of raw's key, with the default policy.
func PathKey(raw string) string { return Normalizer{}.PathKey(raw) }

// Key returns the canonical join key for raw: host (lower-cased) followed by
// the path, without scheme, query, fragment, or trailing slash. A bare path
// yields just the path. Key never fails; input that cannot be read as a URL
// is trimmed and lower-cased whole. Key is idempotent.
func (n Normalizer) Key(raw string) string {
	host, path, ok := n.split(raw)
	if !ok {
		return fallback(raw)
	}
	if host == "" {
		return path
	}
	if path == "/" {
		return host
	}
	return host + path
}

// HasHost reports whether raw carries a host component.
func (n Normalizer) HasHost(raw string) bool {
	host, _, ok := n.split(raw)
	return ok && host != ""
}

// PathKey returns the normalized path of raw ("/" for a site root). It is
// used when one side of a join only records paths. Unreadable input falls
// back the same way Key does.
func (n Normalizer) PathKey(raw string) string {
	_, path, ok := n.split(raw)
	if !ok {
		return fallback(raw)
	}
	return path
}

// split breaks raw into a normalized host and path. ok is false when raw
// cannot be read as a URL or path.
func (n Normalizer) split(raw string) (host, path string, ok bool) {
	s := strings.TrimSpace(raw)
	if s == "" || strings.IndexFunc(s, unicode.IsSpace) >= 0 {
		return "", "", false
	}

	hadScheme := false
	if loc := schemeRE.FindStringIndex(s); loc != nil {
		s = s[loc[1]:]
		hadScheme = true
	} else if strings.HasPrefix(s, "//") {
		s = s[2:]
		hadScheme = true
	}

	if i := strings.IndexAny(s, "?#"); i >= 0 {
		s = s[:i]
	}

	switch {
	case strings.HasPrefix(s, "/") && !hadScheme:
		path = s
	default:
		rest := s
		if i := strings.IndexByte(rest, '/'); i >= 0 {
			host, path = rest[:i], rest[i:]
		} else {
			host = rest
		}
		if i := strings.LastIndexByte(host, '@'); i >= 0 && hadScheme {
			host = host[i+1:]
		}
		if !looksLikeHost(host) {
			return "", "", false
		}
		host = strings.ToLower(host)
		if n.Policy.StripWWW {
			host = strings.TrimPrefix(host, "www.")
		}
	}

	path = strings.TrimRight(path, "/")
	if path == "" {
		path = "/"
	}
	if n.Policy.FoldPathCase {
		path = strings.ToLower(path)
	}
	return host, path, true
}

// looksLikeHost accepts DNS names (single-label names such as "intranet"
// included), bracketed IPv6 literals, and either form followed by a numeric
// port. Every host split accepts, with or without a scheme, passes this check,
// so a key reads back as the same host.
func looksLikeHost(s string) bool {
	name, port := s, ""
	if strings.HasPrefix(s, "[") {
		end := strings.IndexByte(s, ']')
		if end < 0 {
			return false
		}
		name, port = s[:end+1], s[end+1:]
		if port != "" {
			if !strings.HasPrefix(port, ":") {
				return false
			}
			port = port[1:]
			if port == "" {
				return false
			}
		}
	} else if i := strings.LastIndexByte(s, ':'); i >= 0 {
		name, port = s[:i], s[i+1:]
		if port == "" {
			return false
		}
	}
	for _, r := range port {
		if r < '0' || r > '9' {
			return false
		}
	}

	if strings.HasPrefix(name, "[") {
		inner := name[1 : len(name)-1]
		if inner == "" {
			return false
		}
		for _, r := range inner {
			if !(r == ':' || r == '.' || unicode.Is(unicode.ASCII_Hex_Digit, r)) {
				return false
			}
		}
		return true
	}

	if name == "" || strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".") || strings.Contains(name, "..") {
		return false
	}
	for _, r := range name {
		if !(r == '.' || r == '-' || r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)) {
			return false
		}
	}
	return true
}

func fallback(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}
