// Package fetcher reads administrator uploads: corpus datasets in CSV, XLSX
// or JSON form, and ZIP archives of documents.
package fetcher

import (
	"bytes"
	"context"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/credverify/internal/model"
)

// Format is a corpus file format.
type Format string

// Supported corpus formats.
const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
	FormatJSON Format = "json"
)

// DetectFormat picks the format from a file extension.
func DetectFormat(filename string) (Format, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".csv", ".tsv", ".txt":
		return FormatCSV, nil
	case ".xlsx":
		return FormatXLSX, nil
	case ".json":
		return FormatJSON, nil
	default:
		return "", eris.Errorf("fetcher: unsupported corpus file %q", filename)
	}
}

// ReadCorpus parses a corpus file. Tabular formats need a header row naming
// at least the name column; blank rows are skipped.
func ReadCorpus(ctx context.Context, data []byte, filename string) ([]model.CorpusRow, error) {
	format, err := DetectFormat(filename)
	if err != nil {
		return nil, err
	}

	var table [][]string
	switch format {
	case FormatJSON:
		return readJSONRows(ctx, data)
	case FormatXLSX:
		table, err = ReadXLSX(data, "")
	default:
		opts := CSVOptions{TrimSpace: true}
		if strings.EqualFold(filepath.Ext(filename), ".tsv") {
			opts.Delimiter = '\t'
		}
		table, err = ReadCSV(ctx, bytes.NewReader(data), opts)
	}
	if err != nil {
		return nil, err
	}
	return tableRows(table)
}

var headerAliases = map[string]string{
	"name":           "name",
	"student":        "name",
	"student name":   "name",
	"candidate":      "name",
	"candidate name": "name",
	"full name":      "name",
	"institute":      "institute",
	"institution":    "institute",
	"college":        "institute",
	"university":     "institute",
	"school":         "institute",
	"score":          "score",
	"percentage":     "score",
	"percent":        "score",
	"marks":          "score",
	"cgpa":           "score",
}

var nonLetters = regexp.MustCompile(`[^a-z]+`)

// columns holds the index of each field in a row, -1 when absent.
type columns struct {
	name, institute, score int
}

func mapHeader(header []string) (columns, error) {
	c := columns{name: -1, institute: -1, score: -1}
	for i, cell := range header {
		key := strings.TrimSpace(nonLetters.ReplaceAllString(strings.ToLower(cell), " "))
		switch headerAliases[key] {
		case "name":
			if c.name < 0 {
				c.name = i
			}
		case "institute":
			if c.institute < 0 {
				c.institute = i
			}
		case "score":
			if c.score < 0 {
				c.score = i
			}
		}
	}
	if c.name < 0 {
		return c, eris.Errorf("fetcher: header %v has no name column", header)
	}
	return c, nil
}

func cell(cells []string, i int) string {
	if i < 0 || i >= len(cells) {
		return ""
	}
	return strings.TrimSpace(cells[i])
}

func tableRows(table [][]string) ([]model.CorpusRow, error) {
	if len(table) == 0 {
		return nil, eris.New("fetcher: corpus file is empty")
	}
	cols, err := mapHeader(table[0])
	if err != nil {
		return nil, err
	}
	rows := make([]model.CorpusRow, 0, len(table)-1)
	for _, cells := range table[1:] {
		row := model.CorpusRow{
			Name:      cell(cells, cols.name),
			Institute: cell(cells, cols.institute),
			Score:     cell(cells, cols.score),
		}
		if blank(row) {
			continue
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func blank(r model.CorpusRow) bool {
	return strings.TrimSpace(r.Name) == "" && strings.TrimSpace(r.Institute) == "" && strings.TrimSpace(r.Score) == ""
}
