package fetcher

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
)

// ReadXLSX returns the rows of one sheet of a workbook as trimmed strings.
// An empty sheet name selects the first sheet that has any rows; names match
// case-insensitively. Trailing empty cells are dropped from each row.
func ReadXLSX(data []byte, sheet string) ([][]string, error) {
	wb, err := xlsx.OpenBinary(data)
	if err != nil {
		return nil, eris.Wrap(err, "xlsx: open workbook")
	}

	s := pickSheet(wb, sheet)
	if s == nil {
		if sheet != "" {
			return nil, eris.Errorf("xlsx: sheet %q not found", sheet)
		}
		return nil, eris.New("xlsx: workbook has no rows")
	}

	rows := make([][]string, 0, len(s.Rows))
	for _, row := range s.Rows {
		if row == nil {
			continue
		}
		cells := make([]string, 0, len(row.Cells))
		for _, c := range row.Cells {
			cells = append(cells, strings.TrimSpace(c.String()))
		}
		for len(cells) > 0 && cells[len(cells)-1] == "" {
			cells = cells[:len(cells)-1]
		}
		rows = append(rows, cells)
	}
	return rows, nil
}

func pickSheet(wb *xlsx.File, name string) *xlsx.Sheet {
	for _, s := range wb.Sheets {
		if name != "" {
			if strings.EqualFold(s.Name, name) {
				return s
			}
			continue
		}
		if len(s.Rows) > 0 {
			return s
		}
	}
	return nil
}
