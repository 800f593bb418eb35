package model

import (
	"net/url"
	"strings"

	"golang.org/x/text/cases"
)

var caseFolder = cases.Fold()

// NormalizeWebsite reduces a website URL or bare domain to a canonical
// lowercase host, stripping scheme, "www.", path, and port. This is the
// dedup key for staged leads within a job, so an executor retry re-sending
// the same row cannot insert a second lead.
func NormalizeWebsite(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ""
	}
	if !strings.Contains(s, "://") {
		s = "http://" + s
	}
	u, err := url.Parse(s)
	if err != nil || u.Host == "" {
		// Fall back to crude trimming for unparseable input.
		s = strings.TrimPrefix(strings.TrimPrefix(raw, "https://"), "http://")
		if i := strings.IndexAny(s, "/?#"); i >= 0 {
			s = s[:i]
		}
		return strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), "www.")
	}
	host := strings.ToLower(u.Hostname())
	return strings.TrimPrefix(host, "www.")
}

// NormalizeDomain is NormalizeWebsite for values already expected to be
// bare domains.
func NormalizeDomain(raw string) string {
	return NormalizeWebsite(raw)
}

// Fingerprint builds the idempotency key for a list-import row from the
// company name and primary email, using Unicode case folding so that
// re-imports of the same cleaned row are recognized regardless of casing.
func Fingerprint(company, email string) string {
	c := caseFolder.String(strings.TrimSpace(company))
	e := caseFolder.String(strings.TrimSpace(email))
	return c + "|" + e
}

// ContainsFold reports whether s contains substr, ignoring case.
func ContainsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
