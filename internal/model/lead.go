package model

import "time"

// LeadStatus is the review status of a staged lead. Approved, rejected, and
// merged are terminal; a rejected lead may be re-scraped, which produces new
// leads rather than resurrecting the rejected one.
type LeadStatus string

const (
	LeadStatusPending  LeadStatus = "pending"
	LeadStatusApproved LeadStatus = "approved"
	LeadStatusRejected LeadStatus = "rejected"
	LeadStatusMerged   LeadStatus = "merged"
)

// Terminal reports whether the lead status permits no further transitions.
func (s LeadStatus) Terminal() bool {
	return s == LeadStatusApproved || s == LeadStatusRejected || s == LeadStatusMerged
}

// StagedLead is an extracted, unreviewed contact record awaiting
// approve/reject. Each lead belongs to exactly one scrape job but may be
// referenced by any number of lead lists.
type StagedLead struct {
	ID          int64      `json:"id" db:"id"`
	JobID       string     `json:"job_id" db:"job_id"`
	CompanyName string     `json:"company_name" db:"company_name"`
	Website     string     `json:"website" db:"website"`
	WebsiteNorm string     `json:"website_norm" db:"website_norm"`
	Emails      []string   `json:"emails" db:"emails"`
	Phones      []string   `json:"phones" db:"phones"`
	Country     string     `json:"country,omitempty" db:"country"`
	MatchScore  int        `json:"match_score" db:"match_score"`
	Status      LeadStatus `json:"status" db:"status"`

	// ContactID is set when the lead was approved (created contact) or
	// merged (linked to an existing contact).
	ContactID string `json:"contact_id,omitempty" db:"contact_id"`

	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
	ReviewedAt *time.Time `json:"reviewed_at,omitempty" db:"reviewed_at"`
}

// Email returns the lead's primary email, or "".
func (l *StagedLead) Email() string {
	if len(l.Emails) == 0 {
		return ""
	}
	return l.Emails[0]
}

// Phone returns the lead's primary phone, or "".
func (l *StagedLead) Phone() string {
	if len(l.Phones) == 0 {
		return ""
	}
	return l.Phones[0]
}
