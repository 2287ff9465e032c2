package fetcher

import (
	"bytes"
	"context"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/credverify/internal/model"
)

// jsonRow accepts the score as either a JSON string or a number.
type jsonRow struct {
	Name      string          `json:"name"`
	Institute string          `json:"institute"`
	Score     json.RawMessage `json:"score"`
}

func (r jsonRow) score() (string, error) {
	raw := bytes.TrimSpace(r.Score)
	if len(raw) == 0 || string(raw) == "null" {
		return "", nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", err
		}
		return strings.TrimSpace(s), nil
	}
	f, err := strconv.ParseFloat(string(raw), 64)
	if err != nil {
		return "", eris.Errorf("score %s is neither a string nor a number", raw)
	}
	return strconv.FormatFloat(f, 'f', -1, 64), nil
}

// readJSONRows decodes a JSON array of {name, institute, score} objects one
// element at a time.
func readJSONRows(ctx context.Context, data []byte) ([]model.CorpusRow, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return nil, eris.Wrap(err, "json: read opening token")
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '[' {
		return nil, eris.Errorf("json: expected '[', got %v", tok)
	}

	var rows []model.CorpusRow
	for i := 0; dec.More(); i++ {
		if err := ctx.Err(); err != nil {
			return nil, eris.Wrap(err, "json: context cancelled")
		}
		var jr jsonRow
		if err := dec.Decode(&jr); err != nil {
			return nil, eris.Wrapf(err, "json: decode element %d", i)
		}
		score, err := jr.score()
		if err != nil {
			return nil, eris.Wrapf(err, "json: element %d", i)
		}
		row := model.CorpusRow{
			Name:      strings.TrimSpace(jr.Name),
			Institute: strings.TrimSpace(jr.Institute),
			Score:     score,
		}
		if !blank(row) {
			rows = append(rows, row)
		}
	}
	if _, err := dec.Token(); err != nil {
		return nil, eris.Wrap(err, "json: read closing token")
	}
	return rows, nil
}
