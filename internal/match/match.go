// Package match scores a claimed (name, institute, score) triple against the
// administrator corpus using edit-distance similarity.
package match

import (
	"context"
	"math"
	"strconv"
	"unicode/utf8"

	"github.com/agext/levenshtein"
	"github.com/rotisserie/eris"

	"github.com/sells-group/credverify/internal/config"
	"github.com/sells-group/credverify/internal/model"
	"github.com/sells-group/credverify/internal/normalize"
)

// institutePrefixTokens is how many leading institute tokens filter candidates.
const institutePrefixTokens = 3

// CorpusReader is the read side of the corpus store the engine needs.
type CorpusReader interface {
	CandidatesByInstitute(ctx context.Context, prefix string, limit int) ([]model.CorpusRecord, error)
	CandidatesByScore(ctx context.Context, score string, limit int) ([]model.CorpusRecord, error)
	RecentCorpus(ctx context.Context, limit int) ([]model.CorpusRecord, error)
}

// Weights are the composite score weights.
type Weights struct {
	Name      float64
	Institute float64
	Score     float64
}

// Options tune acceptance.
type Options struct {
	Threshold      float64
	Weights        Weights
	CandidateLimit int
	RecentWindow   int

	// Early accept: when the name/institute average reaches EarlyAverage and
	// either of the two reaches EarlySingle, the bar drops by EarlyRelax.
	EarlyAverage float64
	EarlySingle  float64
	EarlyRelax   float64
}

// DefaultOptions returns the stock tuning.
func DefaultOptions() Options {
	return Options{
		Threshold:      0.80,
		Weights:        Weights{Name: 0.52, Institute: 0.38, Score: 0.10},
		CandidateLimit: 500,
		RecentWindow:   500,
		EarlyAverage:   0.78,
		EarlySingle:    0.72,
		EarlyRelax:     0.02,
	}
}

// OptionsFromConfig overlays cfg on the defaults.
func OptionsFromConfig(cfg config.MatchConfig) Options {
	opts := DefaultOptions()
	if cfg.Threshold > 0 {
		opts.Threshold = cfg.Threshold
	}
	if w := cfg.Weights; w.Name+w.Institute+w.Score > 0 {
		opts.Weights = Weights{Name: w.Name, Institute: w.Institute, Score: w.Score}
	}
	if cfg.CandidateLimit > 0 {
		opts.CandidateLimit = cfg.CandidateLimit
	}
	if cfg.RecentWindow > 0 {
		opts.RecentWindow = cfg.RecentWindow
	}
	return opts
}

// Components are the per-field similarities behind a composite score.
type Components struct {
	Name      float64 `json:"name"`
	Institute float64 `json:"institute"`
	Score     float64 `json:"score"`
}

// Result is an accepted match.
type Result struct {
	Record     model.CorpusRecord `json:"record"`
	MatchScore float64            `json:"match_score"`
	Components Components         `json:"components"`
	// Relaxed is set when the early-accept bar admitted the record.
	Relaxed bool `json:"relaxed"`
}

// Engine runs fuzzy matches against a corpus.
type Engine struct {
	corpus CorpusReader
	opts   Options
}

// NewEngine creates an Engine.
func NewEngine(corpus CorpusReader, opts Options) *Engine {
	return &Engine{corpus: corpus, opts: opts}
}

// Match returns the best accepted corpus record for the triple, or nil when
// no candidate clears the bar. Ties go to the earliest record.
func (e *Engine) Match(ctx context.Context, name, institute, score string) (*Result, error) {
	q := query{
		name:      normalize.Name(name),
		institute: normalize.Institute(institute),
		score:     normalize.Percentage(score),
	}

	candidates, err := e.candidates(ctx, q, institute)
	if err != nil {
		return nil, err
	}

	var best *Result
	for _, rec := range candidates {
		res, ok := e.evaluate(q, rec)
		if !ok {
			continue
		}
		if best == nil || better(&res, best) {
			r := res
			best = &r
		}
	}
	return best, nil
}

// Score computes the similarity of the triple against one record without
// consulting the corpus. accepted reports whether it clears the bar.
func (e *Engine) Score(name, institute, score string, rec model.CorpusRecord) (Result, bool) {
	return e.evaluate(query{
		name:      normalize.Name(name),
		institute: normalize.Institute(institute),
		score:     normalize.Percentage(score),
	}, rec)
}

type query struct {
	name, institute, score string
}

func (e *Engine) candidates(ctx context.Context, q query, rawInstitute string) ([]model.CorpusRecord, error) {
	limit := e.opts.CandidateLimit
	seen := make(map[string]bool)
	var out []model.CorpusRecord
	add := func(recs []model.CorpusRecord) {
		for _, r := range recs {
			if len(out) >= limit {
				return
			}
			if seen[r.ID] {
				continue
			}
			seen[r.ID] = true
			out = append(out, r)
		}
	}

	if prefix := normalize.InstitutePrefix(rawInstitute, institutePrefixTokens); prefix != "" {
		recs, err := e.corpus.CandidatesByInstitute(ctx, prefix, limit)
		if err != nil {
			return nil, eris.Wrap(err, "match: candidates by institute")
		}
		add(recs)
	}
	if q.score != "" && len(out) < limit {
		recs, err := e.corpus.CandidatesByScore(ctx, q.score, limit)
		if err != nil {
			return nil, eris.Wrap(err, "match: candidates by score")
		}
		add(recs)
	}
	if len(out) == 0 {
		recs, err := e.corpus.RecentCorpus(ctx, e.opts.RecentWindow)
		if err != nil {
			return nil, eris.Wrap(err, "match: recent corpus")
		}
		add(recs)
	}
	return out, nil
}

func (e *Engine) evaluate(q query, rec model.CorpusRecord) (Result, bool) {
	c := Components{
		Name:      Similarity(q.name, normalize.Name(rec.Name)),
		Institute: Similarity(q.institute, normalize.Institute(rec.Institute)),
		Score:     PercentSimilarity(q.score, normalize.Percentage(rec.Score)),
	}
	w := e.opts.Weights
	composite := w.Name*c.Name + w.Institute*c.Institute + w.Score*c.Score

	res := Result{Record: rec, MatchScore: composite, Components: c}
	avg := (c.Name + c.Institute) / 2
	if avg >= e.opts.EarlyAverage && math.Max(c.Name, c.Institute) >= e.opts.EarlySingle &&
		composite >= e.opts.Threshold-e.opts.EarlyRelax {
		res.Relaxed = composite < e.opts.Threshold
		return res, true
	}
	return res, composite >= e.opts.Threshold
}

func better(a, b *Result) bool {
	switch {
	case a.MatchScore != b.MatchScore:
		return a.MatchScore > b.MatchScore
	case !a.Record.CreatedAt.Equal(b.Record.CreatedAt):
		return a.Record.CreatedAt.Before(b.Record.CreatedAt)
	default:
		return a.Record.ID < b.Record.ID
	}
}

// Similarity is 1 - levenshtein(a,b)/max(len(a),len(b)) over runes. Two
// empty strings are identical.
func Similarity(a, b string) float64 {
	if a == b {
		return 1
	}
	maxLen := max(utf8.RuneCountInString(a), utf8.RuneCountInString(b))
	d := levenshtein.Distance(a, b, nil)
	return 1 - float64(d)/float64(maxLen)
}

// PercentSimilarity compares normalized percentages: 1.0 when equal, 0.9
// within one point, 0.75 within two, else 0. Both absent is a perfect match;
// one absent is none.
func PercentSimilarity(a, b string) float64 {
	switch {
	case a == "" && b == "":
		return 1
	case a == "" || b == "":
		return 0
	}
	x, errA := strconv.ParseFloat(a, 64)
	y, errB := strconv.ParseFloat(b, 64)
	if errA != nil || errB != nil {
		if a == b {
			return 1
		}
		return 0
	}
	switch d := math.Abs(x - y); {
	case d == 0:
		return 1
	case d <= 1:
		return 0.9
	case d <= 2:
		return 0.75
	default:
		return 0
	}
}
