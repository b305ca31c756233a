// Package match compiles Greasemonkey-style match patterns into URL predicates.
//
// The grammar is `<all_urls>` or `(*|http|https)://host(/path)?`, where the
// host may be a literal, a `*.suffix` subdomain wildcard, or a bare `*`, and
// the path may contain `*` wildcards. Compilation is total: every input
// yields either a Matcher or an error, never a panic.
package match

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// AllURLs is the special pattern that matches every http(s) URL.
const AllURLs = "<all_urls>"

// Compile rejection reasons. Callers can test them with errors.Is.
var (
	ErrBadPattern = errors.New("malformed match pattern")
	ErrBadScheme  = errors.New("unsupported scheme in match pattern")
	ErrBadHost    = errors.New("invalid host in match pattern")
)

// Matcher is a compiled match pattern. It is immutable and safe for
// concurrent use.
type Matcher struct {
	// Pattern is the source text the matcher was compiled from.
	Pattern string
	// Warning is non-empty when the pattern compiled through a
	// compatibility extension (currently only the bare `*` host).
	Warning string

	re *regexp.Regexp
}

// Compile translates a match pattern into a Matcher. The returned error
// wraps one of the ErrBad* sentinels and identifies the offending part.
func Compile(pattern string) (*Matcher, error) {
	if pattern == AllURLs {
		return &Matcher{Pattern: pattern, re: regexp.MustCompile(`^https?://`)}, nil
	}

	scheme, rest, ok := strings.Cut(pattern, "://")
	if !ok {
		return nil, fmt.Errorf("%w: %q has no scheme separator", ErrBadPattern, pattern)
	}

	var schemeRe string
	switch scheme {
	case "*":
		// `*` covers http and https only, never file/ftp/etc.
		schemeRe = "https?"
	case "http", "https":
		schemeRe = scheme
	default:
		return nil, fmt.Errorf("%w: %q in %q", ErrBadScheme, scheme, pattern)
	}

	host, path, hasPath := strings.Cut(rest, "/")
	if host == "" {
		return nil, fmt.Errorf("%w: empty host in %q", ErrBadHost, pattern)
	}
	host = strings.ToLower(host)

	var hostRe, warning string
	switch {
	case host == "*":
		hostRe = `[^/]+`
		warning = "bare * host matches every host (compatibility extension)"
	case strings.HasPrefix(host, "*."):
		suffix := host[2:]
		if suffix == "" || strings.Contains(suffix, "*") {
			return nil, fmt.Errorf("%w: wildcard inside host %q", ErrBadHost, host)
		}
		// Matches the suffix domain itself or any non-empty subdomain
		// chain in front of it, anchored at a label boundary so
		// `*.example.com` cannot match `evilexample.com`.
		hostRe = `(?:[^./]+\.)*` + regexp.QuoteMeta(suffix)
	default:
		if strings.Contains(host, "*") {
			return nil, fmt.Errorf("%w: wildcard inside host %q", ErrBadHost, host)
		}
		hostRe = regexp.QuoteMeta(host)
	}

	var pathRe string
	if !hasPath || path == "" {
		// Absent path matches `/` and anything below it.
		pathRe = `(?:/.*)?`
	} else {
		// Escape first so pattern text cannot smuggle regex semantics,
		// then turn the escaped wildcards into "any sequence".
		pathRe = strings.ReplaceAll(regexp.QuoteMeta("/"+path), `\*`, `.*`)
	}

	// Pattern hosts carry no port; accept any explicit port on the
	// candidate, per Chrome match-pattern semantics.
	re, err := regexp.Compile(`^` + schemeRe + `://` + hostRe + `(?::\d+)?` + pathRe + `$`)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrBadPattern, pattern, err)
	}

	return &Matcher{Pattern: pattern, Warning: warning, re: re}, nil
}

// Match reports whether the candidate URL is covered by the pattern.
// The candidate is reduced to scheme://host + path + search before
// testing; the fragment never participates, and non-http(s) URLs never
// match regardless of pattern.
func (m *Matcher) Match(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}

	candidate := u.Scheme + "://" + strings.ToLower(u.Host) + u.EscapedPath()
	if u.RawQuery != "" {
		candidate += "?" + u.RawQuery
	}
	return m.re.MatchString(candidate)
}

// String returns the source pattern.
func (m *Matcher) String() string {
	return m.Pattern
}
