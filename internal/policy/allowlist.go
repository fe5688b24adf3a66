package policy

import (
	"fmt"
	"net/url"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
)

// IsAllowed reports whether domain equals an allowlist entry or is a
// subdomain of one. Matching ignores case and a trailing root dot.
func IsAllowed(domain string, allowlist []string) bool {
	d := normalize(domain)
	if d == "" {
		return false
	}
	for _, entry := range allowlist {
		e := normalize(entry)
		if e == "" {
			continue
		}
		if d == e || strings.HasSuffix(d, "."+e) {
			return true
		}
	}
	return false
}

// DomainOf returns the hostname of rawURL. It fails for malformed addresses
// and for addresses without a host (about:blank, file paths).
func DomainOf(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("invalid url: %w", err)
	}
	host := normalize(u.Hostname())
	if host == "" {
		return "", fmt.Errorf("url %q has no host", rawURL)
	}
	return host, nil
}

// NormalizeAllowlist trims entries, lower-cases them and drops blanks.
func NormalizeAllowlist(entries []string) []string {
	out := make([]string, 0, len(entries))
	for _, entry := range entries {
		if e := normalize(entry); e != "" {
			out = append(out, e)
		}
	}
	return out
}

func normalize(host string) string {
	return strings.TrimSuffix(strings.ToLower(strings.TrimSpace(host)), ".")
}

// Matcher memoises allowlist decisions. The allowlist is part of the cache
// key, so edits to the settings take effect on the next lookup.
type Matcher struct {
	cache *lru.Cache[string, bool]
}

// NewMatcher creates a matcher holding up to size decisions.
func NewMatcher(size int) (*Matcher, error) {
	cache, err := lru.New[string, bool](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create allowlist cache: %w", err)
	}
	return &Matcher{cache: cache}, nil
}

// Allowed is the cached form of IsAllowed.
func (m *Matcher) Allowed(domain string, allowlist []string) bool {
	key := strings.Join(allowlist, "\x00") + "\x01" + domain
	if allowed, ok := m.cache.Get(key); ok {
		return allowed
	}
	allowed := IsAllowed(domain, allowlist)
	m.cache.Add(key, allowed)
	return allowed
}

// Len returns the number of cached decisions.
func (m *Matcher) Len() int {
	return m.cache.Len()
}

// Purge drops all cached decisions.
func (m *Matcher) Purge() {
	m.cache.Purge()
}
