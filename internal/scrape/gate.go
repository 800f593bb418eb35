package scrape

import (
	"strings"

	"github.com/sells-group/leadscout-cli/internal/model"
	"github.com/sells-group/leadscout-cli/pkg/crawlexec"
)

// passesGates applies the profile's acceptance rules to one extracted row.
// Rejected rows are counted as filtered, never staged.
func passesGates(p *model.ScrapeProfile, row crawlexec.LeadRow) bool {
	if !model.ValidScore(row.Score) {
		return false
	}
	if row.Score < p.MinMatchScore {
		return false
	}
	if p.RequireWebsite && strings.TrimSpace(row.Website) == "" {
		return false
	}
	if p.RequireEmail && len(row.Emails) == 0 {
		return false
	}
	if p.RequirePhone && len(row.Phones) == 0 {
		return false
	}
	domain := model.NormalizeWebsite(row.Website)
	for _, ex := range p.ExcludedDomains {
		if domain == ex || strings.HasSuffix(domain, "."+ex) {
			return false
		}
	}
	return true
}
