package fetcher

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
)

// LeadRow is one lead parsed from an import sheet.
type LeadRow struct {
	Line       int // 1-based, header is line 1
	ProfileURL string
	Name       string
	Title      string
	Company    string
	Location   string
}

// leadColumns maps a LeadRow field to the header spellings that feed it.
// The first header present wins.
var leadColumns = map[string][]string{
	"profile_url": {"profile_url", "profile url", "linkedin_url", "linkedin url", "linkedin", "url"},
	"name":        {"name", "full_name", "full name"},
	"first_name":  {"first_name", "first name", "firstname"},
	"last_name":   {"last_name", "last name", "lastname"},
	"title":       {"title", "headline", "position", "job title"},
	"company":     {"company", "company_name", "company name", "organization"},
	"location":    {"location", "city"},
}

// ParseLeadRows turns sheet rows (header first) into leads. Rows without a
// profile URL are dropped. A sheet without a profile URL column is an error.
func ParseLeadRows(rows [][]string) ([]LeadRow, error) {
	if len(rows) == 0 {
		return nil, nil
	}

	idx := resolveHeader(rows[0])
	if _, ok := idx["profile_url"]; !ok {
		return nil, eris.Errorf("leads: no profile url column in header %v", rows[0])
	}

	cell := func(row []string, key string) string {
		i, ok := idx[key]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	var out []LeadRow
	for n, row := range rows[1:] {
		lr := LeadRow{
			Line:       n + 2,
			ProfileURL: cell(row, "profile_url"),
			Name:       cell(row, "name"),
			Title:      cell(row, "title"),
			Company:    cell(row, "company"),
			Location:   cell(row, "location"),
		}
		if lr.ProfileURL == "" {
			continue
		}
		if lr.Name == "" {
			lr.Name = strings.TrimSpace(cell(row, "first_name") + " " + cell(row, "last_name"))
		}
		out = append(out, lr)
	}
	return out, nil
}

func resolveHeader(header []string) map[string]int {
	pos := make(map[string]int, len(header))
	for i, h := range header {
		h = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		if _, dup := pos[h]; !dup {
			pos[h] = i
		}
	}
	idx := make(map[string]int, len(leadColumns))
	for field, names := range leadColumns {
		for _, n := range names {
			if i, ok := pos[n]; ok {
				idx[field] = i
				break
			}
		}
	}
	return idx
}

// ReadLeadsFile loads a .csv or .xlsx lead sheet.
func ReadLeadsFile(ctx context.Context, path string) ([]LeadRow, error) {
	var rows [][]string
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		f, err := os.Open(path)
		if err != nil {
			return nil, eris.Wrapf(err, "leads: open %s", path)
		}
		defer f.Close() //nolint:errcheck
		rows, err = ReadCSV(ctx, f, CSVOptions{TrimSpace: true, LazyQuotes: true})
		if err != nil {
			return nil, err
		}
	case ".xlsx":
		var err error
		rows, err = ReadXLSX(path, XLSXOptions{})
		if err != nil {
			return nil, err
		}
	default:
		return nil, eris.Errorf("leads: unsupported file type %q", filepath.Ext(path))
	}
	return ParseLeadRows(rows)
}
