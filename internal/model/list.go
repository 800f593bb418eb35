package model

import "time"

// ListType distinguishes how a lead list was assembled.
type ListType string

const (
	ListTypeManual      ListType = "manual"
	ListTypeAutoExport  ListType = "auto_export"
	ListTypeAutoRescrape ListType = "auto_rescrape"
)

// ListStatus is the stage of a lead list in the export → clean → import
// round trip. Transitions are forward-only; there is no operation that
// regresses a list.
type ListStatus string

const (
	ListStatusRaw      ListStatus = "raw"
	ListStatusExported ListStatus = "exported"
	ListStatusCleaning ListStatus = "cleaning"
	ListStatusCleaned  ListStatus = "cleaned"
	ListStatusImported ListStatus = "imported"
)

// listOrder positions each status along the pipeline.
var listOrder = map[ListStatus]int{
	ListStatusRaw:      0,
	ListStatusExported: 1,
	ListStatusCleaning: 2,
	ListStatusCleaned:  3,
	ListStatusImported: 4,
}

// CanAdvanceTo reports whether moving from s to next is a forward
// transition.
func (s ListStatus) CanAdvanceTo(next ListStatus) bool {
	a, ok1 := listOrder[s]
	b, ok2 := listOrder[next]
	return ok1 && ok2 && b > a
}

// LeadList is a named, stateful grouping of staged leads. List status is
// list-level metadata only; it never alters member leads' own statuses.
type LeadList struct {
	ID          string     `json:"id" db:"id"`
	Name        string     `json:"name" db:"name"`
	Description string     `json:"description,omitempty" db:"description"`
	Type        ListType   `json:"list_type" db:"list_type"`
	Status      ListStatus `json:"status" db:"status"`
	MemberCount int        `json:"member_count" db:"member_count"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// ImportResult summarizes a list import: rows that created contacts, rows
// skipped as duplicates of a prior import, and per-row errors.
type ImportResult struct {
	Created int           `json:"created"`
	Skipped int           `json:"skipped"`
	Errors  []ImportError `json:"errors,omitempty"`
}

// ImportError identifies a failed import row.
type ImportError struct {
	Row     int    `json:"row"`
	Company string `json:"company,omitempty"`
	Err     string `json:"error"`
}
