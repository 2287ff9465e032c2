package fetcher

import (
	"bufio"
	"context"
	"encoding/csv"
	"errors"
	"io"
	"strings"

	"github.com/rotisserie/eris"
)

// CSVOptions configures the CSV parser.
type CSVOptions struct {
	Delimiter rune // 0 sniffs ',', ';' or '\t' from the first line
	TrimSpace bool
}

// ReadCSV reads every record of a delimited file. A leading UTF-8 byte order
// mark is dropped and ragged rows are allowed.
func ReadCSV(ctx context.Context, r io.Reader, opts CSVOptions) ([][]string, error) {
	br := bufio.NewReader(r)
	if b, err := br.Peek(3); err == nil && string(b) == "\xef\xbb\xbf" {
		_, _ = br.Discard(3)
	}

	delim := opts.Delimiter
	if delim == 0 {
		delim = sniffDelimiter(br)
	}

	reader := csv.NewReader(br)
	reader.Comma = delim
	reader.FieldsPerRecord = -1

	var rows [][]string
	for line := 1; ; line++ {
		if err := ctx.Err(); err != nil {
			return nil, eris.Wrap(err, "csv: context cancelled")
		}
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			return rows, nil
		}
		if err != nil {
			return nil, eris.Wrapf(err, "csv: read row %d", line)
		}
		if opts.TrimSpace {
			for i, field := range record {
				record[i] = strings.TrimSpace(field)
			}
		}
		rows = append(rows, record)
	}
}

// sniffDelimiter picks the most frequent candidate in the first line.
func sniffDelimiter(br *bufio.Reader) rune {
	peek, _ := br.Peek(4096)
	first, _, _ := strings.Cut(string(peek), "\n")

	best, count := ',', 0
	for _, c := range []rune{',', ';', '\t'} {
		if n := strings.Count(first, string(c)); n > count {
			best, count = c, n
		}
	}
	return best
}
