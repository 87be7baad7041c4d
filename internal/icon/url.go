package icon

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"unicode"
)

// schemePrefix matches an explicit scheme at the start of the input only, so a "://" later
// in the path or query does not count.
var schemePrefix = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9+.-]*://`)

// SiteReference is a normalized absolute site URL. The zero value is not valid;
// build one with Normalize.
type SiteReference struct {
	u *url.URL
}

// Normalize canonicalizes a user supplied site identifier. Bare hosts and host:port
// pairs default to https; query strings survive only when the input carried a scheme.
func Normalize(raw string) (SiteReference, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return SiteReference{}, fmt.Errorf("%w: empty input", ErrInvalidURL)
	}

	explicit := schemePrefix.MatchString(raw)
	switch {
	case explicit:
	case strings.HasPrefix(raw, "//"):
		raw = "https:" + raw
	default:
		raw = "https://" + raw
	}

	u, err := url.Parse(raw)
	if err != nil {
		return SiteReference{}, fmt.Errorf("%w: %w", ErrInvalidURL, err)
	}
	u.Scheme = strings.ToLower(u.Scheme)
	if u.Scheme != "http" && u.Scheme != "https" {
		return SiteReference{}, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidURL, u.Scheme)
	}

	host := strings.ToLower(u.Hostname())
	if err := validateHost(host); err != nil {
		return SiteReference{}, err
	}
	port := u.Port()
	if (u.Scheme == "http" && port == "80") || (u.Scheme == "https" && port == "443") {
		port = ""
	}
	if port != "" {
		if n, err := strconv.Atoi(port); err != nil || n <= 0 || n > 65535 {
			return SiteReference{}, fmt.Errorf("%w: bad port %q", ErrInvalidURL, port)
		}
	}
	u.Host = joinHostPort(host, port)
	u.User = nil
	u.Fragment = ""
	u.RawFragment = ""
	u.Path = strings.TrimRight(u.Path, "/")
	u.RawPath = ""
	if !explicit {
		u.RawQuery = ""
	}
	u.ForceQuery = false

	return SiteReference{u: u}, nil
}

func validateHost(host string) error {
	if host == "" {
		return fmt.Errorf("%w: missing host", ErrInvalidURL)
	}
	if strings.IndexFunc(host, unicode.IsSpace) >= 0 {
		return fmt.Errorf("%w: whitespace in host", ErrInvalidURL)
	}
	if strings.HasPrefix(host, ".") || strings.HasSuffix(host, "..") || strings.Contains(host, "..") {
		return fmt.Errorf("%w: malformed host %q", ErrInvalidURL, host)
	}
	return nil
}

func joinHostPort(host, port string) string {
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	if port == "" {
		return host
	}
	return host + ":" + port
}

// IsZero reports whether the reference was never normalized.
func (s SiteReference) IsZero() bool {
	return s.u == nil
}

// URL returns a copy of the normalized URL.
func (s SiteReference) URL() *url.URL {
	if s.u == nil {
		return &url.URL{}
	}
	clone := *s.u
	return &clone
}

// Scheme returns the normalized scheme.
func (s SiteReference) Scheme() string {
	if s.u == nil {
		return ""
	}
	return s.u.Scheme
}

// Host returns the lower-cased hostname without port.
func (s SiteReference) Host() string {
	if s.u == nil {
		return ""
	}
	return s.u.Hostname()
}

// String renders the normalized URL.
func (s SiteReference) String() string {
	if s.u == nil {
		return ""
	}
	return s.u.String()
}

// CacheKey returns the normalized URL, suffixed with the requested size when set.
func (s SiteReference) CacheKey(size int) string {
	if size > 0 {
		return s.String() + ":" + strconv.Itoa(size)
	}
	return s.String()
}

// ResolveReference resolves href against base and keeps only http(s) results.
// The fragment is dropped; the returned string is canonical for deduplication.
func ResolveReference(base *url.URL, href string) (string, bool) {
	href = strings.TrimSpace(href)
	if href == "" || base == nil {
		return "", false
	}
	ref, err := url.Parse(href)
	if err != nil {
		return "", false
	}
	resolved := base.ResolveReference(ref)
	return CanonicalURL(resolved)
}

// CanonicalURL lower-cases scheme and host, strips default ports and fragments.
func CanonicalURL(u *url.URL) (string, bool) {
	if u == nil {
		return "", false
	}
	c := *u
	c.Scheme = strings.ToLower(c.Scheme)
	if c.Scheme != "http" && c.Scheme != "https" {
		return "", false
	}
	host := strings.ToLower(c.Hostname())
	if host == "" {
		return "", false
	}
	port := c.Port()
	if (c.Scheme == "http" && port == "80") || (c.Scheme == "https" && port == "443") {
		port = ""
	}
	c.Host = joinHostPort(host, port)
	c.Fragment = ""
	c.RawFragment = ""
	c.User = nil
	if c.Path == "" {
		c.Path = "/"
	}
	return c.String(), true
}
