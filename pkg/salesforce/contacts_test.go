package salesforce

import (
	"context"
	"errors"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockClient records calls and returns scripted results.
type mockClient struct {
	insertID   string
	insertErr  error
	inserted   []map[string]any
	queryErr   error
	queryIDs   []string
	updateErr  error
	updatedIDs []string
}

func (m *mockClient) Query(ctx context.Context, soql string, out any) error {
	if m.queryErr != nil {
		return m.queryErr
	}
	result := out.(*struct {
		Records []struct {
			ID string `json:"Id"`
		}
	})
	for _, id := range m.queryIDs {
		result.Records = append(result.Records, struct {
			ID string `json:"Id"`
		}{ID: id})
	}
	return nil
}

func (m *mockClient) InsertOne(ctx context.Context, sObjectName string, record map[string]any) (string, error) {
	m.inserted = append(m.inserted, record)
	if m.insertErr != nil {
		return "", m.insertErr
	}
	return m.insertID, nil
}

func (m *mockClient) UpdateOne(ctx context.Context, sObjectName string, id string, fields map[string]any) error {
	m.updatedIDs = append(m.updatedIDs, id)
	return m.updateErr
}

func TestCreateContact(t *testing.T) {
	mock := &mockClient{insertID: "003xx0001"}

	id, err := CreateContact(context.Background(), mock, ContactFields{
		Company: "Acme Studios",
		Email:   "info@acme.com",
		Phone:   "+1 555 0100",
		Website: "acme.com",
		Tags:    []string{"Q1", "leadscout"},
	})

	require.NoError(t, err)
	assert.Equal(t, "003xx0001", id)
	require.Len(t, mock.inserted, 1)
	assert.Equal(t, "Acme Studios", mock.inserted[0]["LastName"])
	assert.Equal(t, "info@acme.com", mock.inserted[0]["Email"])
	assert.Equal(t, "Q1;leadscout", mock.inserted[0]["Lead_Tags__c"])
}

func TestCreateContact_RequiresCompany(t *testing.T) {
	mock := &mockClient{}
	_, err := CreateContact(context.Background(), mock, ContactFields{Email: "x@y.com"})
	assert.Error(t, err)
	assert.Empty(t, mock.inserted)
}

func TestCreateContact_DuplicateDetected(t *testing.T) {
	mock := &mockClient{insertErr: eris.New("sf: insert Contact failed: [DUPLICATES_DETECTED: use one of these records?]")}

	_, err := CreateContact(context.Background(), mock, ContactFields{Company: "Acme"})

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDuplicateContact))
}

func TestFindContactByEmail(t *testing.T) {
	mock := &mockClient{queryIDs: []string{"003xx0042"}}

	id, err := FindContactByEmail(context.Background(), mock, "info@acme.com")
	require.NoError(t, err)
	assert.Equal(t, "003xx0042", id)

	none := &mockClient{}
	id, err = FindContactByEmail(context.Background(), none, "missing@acme.com")
	require.NoError(t, err)
	assert.Empty(t, id)
}
