package tabular

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var sample = []Row{
	{Company: "Acme HVAC", Website: "https://acme.example", Email: "info@acme.example", Phone: "+1 555 0100", Country: "Canada"},
	{Company: "Beta Plumbing", Website: "https://beta.example"},
}

func TestCSVRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, sample))

	rows, err := ReadCSV(&buf)
	require.NoError(t, err)
	assert.Equal(t, sample, rows)
}

func TestReadCSVVendorShape(t *testing.T) {
	// Vendors reorder columns, change header casing, append their own
	// columns, and include blank lines.
	in := strings.Join([]string{
		"Email,COMPANY,vendor_notes,phone",
		"clean@acme.example,Acme HVAC,verified,+1 555 0100",
		",,,",
		"sales@beta.example,Beta Plumbing,,",
	}, "\n")

	rows, err := ReadCSV(strings.NewReader(in))
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, Row{Company: "Acme HVAC", Email: "clean@acme.example", Phone: "+1 555 0100"}, rows[0])
	assert.Equal(t, Row{Company: "Beta Plumbing", Email: "sales@beta.example"}, rows[1])

	_, err = ReadCSV(strings.NewReader("email,phone\na@b.example,1"))
	require.Error(t, err)
}

func TestXLSXRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "leads.xlsx")
	require.NoError(t, WriteXLSX(path, sample))

	rows, err := ReadXLSX(path)
	require.NoError(t, err)
	assert.Equal(t, sample, rows)
}

func TestDetectFormat(t *testing.T) {
	f, err := DetectFormat("export/list.CSV")
	require.NoError(t, err)
	assert.Equal(t, FormatCSV, f)

	f, err = DetectFormat("cleaned.xlsx")
	require.NoError(t, err)
	assert.Equal(t, FormatXLSX, f)

	_, err = DetectFormat("list.pdf")
	require.Error(t, err)
}
