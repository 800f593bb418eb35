// Package tabular reads and writes the lead-row files exchanged with the
// list-cleaning vendor: CSV and XLSX, with a fixed column vocabulary
// matched by header name so vendors may reorder or append columns.
package tabular

import (
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
)

// Row is one lead line in an exported or imported file.
type Row struct {
	Company string
	Website string
	Email   string
	Phone   string
	Country string
}

// Header is the canonical column order for exported files.
var Header = []string{"company", "website", "email", "phone", "country"}

// Format identifies a supported file format.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

// DetectFormat maps a file path to its format by extension.
func DetectFormat(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return FormatCSV, nil
	case ".xlsx":
		return FormatXLSX, nil
	default:
		return "", eris.Errorf("tabular: unsupported file extension %q", filepath.Ext(path))
	}
}

// columnIndex maps a header row to column positions, case-insensitively.
// Unknown columns are ignored; vendors routinely append their own.
func columnIndex(header []string) map[string]int {
	idx := make(map[string]int, len(header))
	for i, name := range header {
		idx[strings.ToLower(strings.TrimSpace(name))] = i
	}
	return idx
}

func cell(record []string, idx map[string]int, name string) string {
	i, ok := idx[name]
	if !ok || i >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[i])
}

func rowFromRecord(record []string, idx map[string]int) Row {
	return Row{
		Company: cell(record, idx, "company"),
		Website: cell(record, idx, "website"),
		Email:   cell(record, idx, "email"),
		Phone:   cell(record, idx, "phone"),
		Country: cell(record, idx, "country"),
	}
}

func (r Row) record() []string {
	return []string{r.Company, r.Website, r.Email, r.Phone, r.Country}
}
