package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeWebsite(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"https://www.Example.com/about?x=1", "example.com"},
		{"http://example.com", "example.com"},
		{"example.com/contact", "example.com"},
		{"WWW.EXAMPLE.COM", "example.com"},
		{"https://sub.example.com:8080/path", "sub.example.com"},
		{"  example.com  ", "example.com"},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeWebsite(tt.in))
		})
	}
}

func TestFingerprint_CaseFolded(t *testing.T) {
	a := Fingerprint("Acme Studios", "Info@Acme.com")
	b := Fingerprint("acme studios", "info@acme.com")
	assert.Equal(t, a, b)

	c := Fingerprint("Acme Studios", "other@acme.com")
	assert.NotEqual(t, a, c)
}

func TestValidScore(t *testing.T) {
	assert.True(t, ValidScore(0))
	assert.True(t, ValidScore(100))
	assert.False(t, ValidScore(-1))
	assert.False(t, ValidScore(101))
}

func TestStatusTerminal(t *testing.T) {
	assert.False(t, RunStatusQueued.Terminal())
	assert.False(t, RunStatusRunning.Terminal())
	assert.True(t, RunStatusCompleted.Terminal())
	assert.True(t, RunStatusFailed.Terminal())

	assert.False(t, JobStatusRunning.Terminal())
	assert.True(t, JobStatusCancelled.Terminal())

	assert.False(t, LeadStatusPending.Terminal())
	assert.True(t, LeadStatusMerged.Terminal())
}

func TestListStatus_ForwardOnly(t *testing.T) {
	assert.True(t, ListStatusRaw.CanAdvanceTo(ListStatusExported))
	assert.True(t, ListStatusExported.CanAdvanceTo(ListStatusCleaning))
	assert.True(t, ListStatusCleaning.CanAdvanceTo(ListStatusImported))
	assert.True(t, ListStatusCleaning.CanAdvanceTo(ListStatusCleaned))

	// No regressions.
	assert.False(t, ListStatusImported.CanAdvanceTo(ListStatusRaw))
	assert.False(t, ListStatusCleaning.CanAdvanceTo(ListStatusExported))
	assert.False(t, ListStatusExported.CanAdvanceTo(ListStatusExported))
}

func TestThoroughness_Override(t *testing.T) {
	quick := ThoroughnessQuick.Override()
	deep := ThoroughnessDeep.Override()

	assert.Less(t, quick.MaxPages, deep.MaxPages)
	assert.Less(t, quick.MaxDepth, deep.MaxDepth)
	assert.False(t, *quick.FollowLinks)
	assert.True(t, *deep.FollowLinks)

	assert.True(t, ThoroughnessStandard.Valid())
	assert.False(t, Thoroughness("extreme").Valid())
}

func TestRunElapsed(t *testing.T) {
	created := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	started := created.Add(30 * time.Second)
	finished := created.Add(5 * time.Minute)

	r := &DiscoveryRun{CreatedAt: created, StartedAt: &started, FinishedAt: &finished}
	assert.Equal(t, finished.Sub(started), r.Elapsed(finished.Add(time.Hour)))

	active := &DiscoveryRun{CreatedAt: created}
	now := created.Add(time.Minute)
	assert.Equal(t, time.Minute, active.Elapsed(now))
}

func TestSourceStatsAdd(t *testing.T) {
	sum := SourceStats{QueriesIssued: 1, RawResults: 10, RowsInserted: 7, RowsFiltered: 3}.
		Add(SourceStats{QueriesIssued: 2, RawResults: 5, RowsInserted: 4, RowsFiltered: 1})
	assert.Equal(t, SourceStats{QueriesIssued: 3, RawResults: 15, RowsInserted: 11, RowsFiltered: 4}, sum)
}
