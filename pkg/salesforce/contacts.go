package salesforce

import (
	"context"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
)

// ErrDuplicateContact is returned when Salesforce duplicate rules block a
// contact insert because an equivalent contact already exists. The caller
// decides between merge and skip.
var ErrDuplicateContact = eris.New("sf: duplicate contact")

// duplicateMarkers are the Salesforce error codes raised by duplicate rules.
var duplicateMarkers = []string{"DUPLICATES_DETECTED", "DUPLICATE_VALUE"}

// ContactFields holds the contact attributes emitted for an approved lead
// or an imported list row.
type ContactFields struct {
	Company string
	Email   string
	Phone   string
	Website string
	Country string
	Tags    []string
}

// CreateContact creates a Contact record and returns its Salesforce ID.
// Duplicate-rule rejections surface as ErrDuplicateContact.
func CreateContact(ctx context.Context, c Client, f ContactFields) (string, error) {
	if f.Company == "" {
		return "", eris.New("sf: contact company is required")
	}

	record := map[string]any{
		// Contacts are keyed on LastName; the company goes there when no
		// person name was extracted, matching how list-cleaning vendors
		// return rows.
		"LastName": f.Company,
	}
	if f.Email != "" {
		record["Email"] = f.Email
	}
	if f.Phone != "" {
		record["Phone"] = f.Phone
	}
	if f.Website != "" {
		record["Description"] = f.Website
	}
	if f.Country != "" {
		record["MailingCountry"] = f.Country
	}
	if len(f.Tags) > 0 {
		record["Lead_Tags__c"] = strings.Join(f.Tags, ";")
	}

	id, err := c.InsertOne(ctx, "Contact", record)
	if err != nil {
		if isDuplicateErr(err) {
			return "", eris.Wrap(ErrDuplicateContact, f.Company)
		}
		return "", eris.Wrap(err, fmt.Sprintf("sf: create contact %q", f.Company))
	}
	return id, nil
}

// FindContactByEmail returns the ID of an existing contact with the given
// email, or "" when none exists. Used to validate merge targets.
func FindContactByEmail(ctx context.Context, c Client, email string) (string, error) {
	if email == "" {
		return "", eris.New("sf: email is required")
	}

	var result struct {
		Records []struct {
			ID string `json:"Id"`
		}
	}
	soql := fmt.Sprintf("SELECT Id FROM Contact WHERE Email = '%s' LIMIT 1", strings.ReplaceAll(email, "'", "\\'"))
	if err := c.Query(ctx, soql, &result); err != nil {
		return "", eris.Wrap(err, "sf: find contact by email")
	}
	if len(result.Records) == 0 {
		return "", nil
	}
	return result.Records[0].ID, nil
}

func isDuplicateErr(err error) bool {
	msg := err.Error()
	for _, marker := range duplicateMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
