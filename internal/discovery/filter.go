package discovery

import (
	"strings"

	"github.com/sells-group/leadscout-cli/internal/model"
	"github.com/sells-group/leadscout-cli/pkg/searchexec"
)

// filterCandidates applies the profile's acceptance rules to one page of
// executor rows. Rejected rows are counted per source type; rows with a
// score outside the allowed range are treated as filtered, never clamped.
// Low scores are not an acceptance rule: weak candidates stay visible and
// the profile's floor applies when a scrape job selects them.
func filterCandidates(p *model.DiscoveryProfile, runID string, rows []searchexec.CandidateRow) ([]model.SiteCandidate, map[string]model.SourceStats) {
	delta := map[string]model.SourceStats{}
	var accepted []model.SiteCandidate

	for _, row := range rows {
		stats := delta[row.SourceType]
		stats.RawResults++

		if acceptRow(p, row) {
			accepted = append(accepted, model.SiteCandidate{
				RunID:       runID,
				Domain:      model.NormalizeDomain(firstNonEmpty(row.Domain, row.URL)),
				HomepageURL: row.URL,
				CompanyName: row.CompanyName,
				SourceType:  row.SourceType,
				Location:    row.Location,
				MatchScore:  row.Score,
			})
		} else {
			stats.RowsFiltered++
		}
		delta[row.SourceType] = stats
	}
	return accepted, delta
}

func acceptRow(p *model.DiscoveryProfile, row searchexec.CandidateRow) bool {
	domain := model.NormalizeDomain(firstNonEmpty(row.Domain, row.URL))

	if !model.ValidScore(row.Score) {
		return false
	}
	if p.MustHaveWebsite && domain == "" {
		return false
	}
	if domain == "" && row.CompanyName == "" {
		return false
	}
	for _, excluded := range p.ExcludedDomains {
		ex := model.NormalizeDomain(excluded)
		if ex != "" && (domain == ex || strings.HasSuffix(domain, "."+ex)) {
			return false
		}
	}
	for _, kw := range p.ExcludedKeywords {
		if kw != "" && model.ContainsFold(row.CompanyName, kw) {
			return false
		}
	}
	for _, kw := range p.RequiredKeywords {
		if kw != "" && !model.ContainsFold(row.CompanyName, kw) {
			return false
		}
	}
	return true
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
