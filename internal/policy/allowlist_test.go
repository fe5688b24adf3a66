package policy

import (
	"testing"
)

func TestIsAllowed(t *testing.T) {
	google := []string{"google.com"}

	tests := []struct {
		name      string
		domain    string
		allowlist []string
		want      bool
	}{
		{"exact match", "google.com", google, true},
		{"subdomain", "docs.google.com", google, true},
		{"nested subdomain", "classroom.google.com", google, true},
		{"suffix without dot boundary", "notgoogle.com", google, false},
		{"unrelated", "youtube.com", google, false},
		{"empty allowlist", "google.com", nil, false},
		{"case insensitive", "Docs.Google.COM", []string{"GOOGLE.com"}, true},
		{"trailing dot", "docs.google.com.", google, true},
		{"blank entry ignored", "example.org", []string{"", "  "}, false},
		{"empty domain", "", google, false},
		{"parent not allowed by child", "google.com", []string{"docs.google.com"}, false},
		{"second entry", "scratch.mit.edu", []string{"khanacademy.org", "scratch.mit.edu"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsAllowed(tt.domain, tt.allowlist); got != tt.want {
				t.Errorf("IsAllowed(%q, %v) = %v, want %v", tt.domain, tt.allowlist, got, tt.want)
			}
		})
	}
}

func TestDomainOf(t *testing.T) {
	tests := []struct {
		url     string
		want    string
		wantErr bool
	}{
		{"https://www.khanacademy.org/math", "www.khanacademy.org", false},
		{"https://Docs.Google.com:443/doc/1", "docs.google.com", false},
		{"http://localhost:8080/", "localhost", false},
		{"about:blank", "", true},
		{"not a url at all", "", true},
		{"http://%zz", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			got, err := DomainOf(tt.url)
			if (err != nil) != tt.wantErr {
				t.Fatalf("DomainOf(%q) error = %v, wantErr %v", tt.url, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("DomainOf(%q) = %q, want %q", tt.url, got, tt.want)
			}
		})
	}
}

func TestNormalizeAllowlist(t *testing.T) {
	got := NormalizeAllowlist([]string{" KhanAcademy.org ", "", "scratch.mit.edu.", "   "})
	want := []string{"khanacademy.org", "scratch.mit.edu"}

	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("entry %d: expected %q, got %q", i, want[i], got[i])
		}
	}
}

func TestMatcherCachesDecisions(t *testing.T) {
	m, err := NewMatcher(16)
	if err != nil {
		t.Fatalf("NewMatcher failed: %v", err)
	}

	list := []string{"khanacademy.org"}
	if !m.Allowed("www.khanacademy.org", list) {
		t.Fatal("expected subdomain to be allowed")
	}
	if !m.Allowed("www.khanacademy.org", list) {
		t.Fatal("expected cached decision to be allowed")
	}
	if m.Len() != 1 {
		t.Errorf("expected 1 cached decision, got %d", m.Len())
	}

	// A different allowlist must not reuse the cached decision.
	if m.Allowed("www.khanacademy.org", []string{"duolingo.com"}) {
		t.Error("expected domain to be limited under a different allowlist")
	}
	if m.Len() != 2 {
		t.Errorf("expected 2 cached decisions, got %d", m.Len())
	}

	m.Purge()
	if m.Len() != 0 {
		t.Errorf("expected empty cache after purge, got %d", m.Len())
	}
}

func TestNewMatcherInvalidSize(t *testing.T) {
	if _, err := NewMatcher(0); err == nil {
		t.Fatal("expected error for zero cache size")
	}
}
