// Package fields pulls a (name, institute, score) triple out of recognized
// document text. Extraction is best-effort: any subset of the three may be
// returned and nothing here ever fails.
package fields

import (
	"os"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/credverify/internal/model"
)

// Tables holds the keyword lists driving the unlabeled heuristics.
type Tables struct {
	InstituteKeywords []string `yaml:"institute_keywords"`
	HeadingWords      []string `yaml:"heading_words"`
}

// DefaultTables returns the built-in heuristic tables.
func DefaultTables() Tables {
	return Tables{
		InstituteKeywords: []string{
			"college", "institute", "institution", "university", "school",
			"department", "academy", "polytechnic", "vidyalaya",
		},
		HeadingWords: []string{
			"certificate", "marksheet", "mark", "marks", "statement", "grade",
			"semester", "result", "results", "examination", "exam", "board",
			"transcript", "provisional", "memorandum", "government", "republic",
			"secondary", "degree", "diploma", "subject", "total", "signature",
			"controller", "registrar", "principal", "date", "roll", "serial",
		},
	}
}

// LoadTables reads heuristic tables from a YAML file. Lists present in the
// file replace the defaults; absent lists keep them.
func LoadTables(path string) (Tables, error) {
	tables := DefaultTables()
	data, err := os.ReadFile(path)
	if err != nil {
		return tables, eris.Wrapf(err, "fields: read tables %s", path)
	}

	var wrapper struct {
		Fields Tables `yaml:"fields"`
	}
	if err := yaml.Unmarshal(data, &wrapper); err != nil {
		return tables, eris.Wrap(err, "fields: parse tables")
	}
	if len(wrapper.Fields.InstituteKeywords) > 0 {
		tables.InstituteKeywords = wrapper.Fields.InstituteKeywords
	}
	if len(wrapper.Fields.HeadingWords) > 0 {
		tables.HeadingWords = wrapper.Fields.HeadingWords
	}
	return tables, nil
}

var (
	nameLabelRe      = regexp.MustCompile(`(?im)^[ \t]*(?:name[ \t]+of[ \t]+(?:the[ \t]+)?(?:student|candidate)|(?:student|candidate)'?s?[ \t]+name|name)(?:[ \t]*:|[ \t]+-|-[ \t])[ \t]*(.+)$`)
	instituteLabelRe = regexp.MustCompile(`(?im)^[ \t]*(?:name[ \t]+of[ \t]+(?:the[ \t]+)?(?:institute|institution|college|school)|institute|institution|college|university|school)(?:[ \t]+name)?(?:[ \t]*:|[ \t]+-|-[ \t])[ \t]*(.+)$`)
	scoreLabelRe     = regexp.MustCompile(`(?i)(?:percentage|percent|aggregate|score|marks)(?:[ \t]+obtained)?(?:[ \t]*:|[ \t]+-|-[ \t])[ \t]*([0-9]{1,3}(?:\.[0-9]+)?)`)
	percentTokenRe   = regexp.MustCompile(`\b([0-9]{1,3}(?:\.[0-9]{1,2})?)[ \t]*%`)
	numberRe         = regexp.MustCompile(`\b([0-9]{1,3}(?:\.[0-9]{1,2})?)\b`)
	columnGapRe      = regexp.MustCompile(`\s{2,}|\t`)
)

// Extractor applies labeled patterns and then line heuristics.
type Extractor struct {
	instituteKeywords map[string]bool
	headingWords      map[string]bool
}

// NewExtractor builds an Extractor from tables.
func NewExtractor(tables Tables) *Extractor {
	return &Extractor{
		instituteKeywords: toSet(tables.InstituteKeywords),
		headingWords:      toSet(tables.HeadingWords),
	}
}

var defaultExtractor = NewExtractor(DefaultTables())

// Extract runs the default extractor over text.
func Extract(text string) model.Fields {
	return defaultExtractor.Extract(text)
}

// Extract returns whatever fields it can find in text.
func (e *Extractor) Extract(text string) model.Fields {
	var f model.Fields
	if strings.TrimSpace(text) == "" {
		return f
	}

	if m := nameLabelRe.FindStringSubmatch(text); m != nil {
		f.Name = model.StringPtr(firstColumn(m[1]))
	}
	if m := instituteLabelRe.FindStringSubmatch(text); m != nil {
		f.Institute = model.StringPtr(firstColumn(m[1]))
	}
	if m := scoreLabelRe.FindStringSubmatch(text); m != nil && validPercent(m[1]) {
		f.Score = model.StringPtr(m[1])
	}

	if f.Complete() {
		return f
	}

	for _, raw := range strings.Split(text, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}
		if f.Score == nil {
			f.Score = percentFromLine(line)
		}
		if f.Institute == nil && e.hasInstituteKeyword(line) {
			f.Institute = model.StringPtr(firstColumn(line))
			continue
		}
		if f.Name == nil && e.looksLikeName(line) {
			f.Name = model.StringPtr(line)
		}
	}
	return f
}

func percentFromLine(line string) *string {
	if m := percentTokenRe.FindStringSubmatch(line); m != nil && validPercent(m[1]) {
		return model.StringPtr(m[1])
	}
	if strings.Contains(strings.ToLower(line), "percentage") {
		for _, m := range numberRe.FindAllStringSubmatch(line, -1) {
			if validPercent(m[1]) {
				return model.StringPtr(m[1])
			}
		}
	}
	return nil
}

func (e *Extractor) hasInstituteKeyword(line string) bool {
	for _, w := range words(line) {
		if e.instituteKeywords[w] {
			return true
		}
	}
	return false
}

// looksLikeName accepts 2-6 capitalized alphabetic tokens that are not a
// heading and carry no institute keyword.
func (e *Extractor) looksLikeName(line string) bool {
	tokens := strings.Fields(line)
	if len(tokens) < 2 || len(tokens) > 6 {
		return false
	}
	for _, tok := range tokens {
		r := []rune(tok)
		if !unicode.IsUpper(r[0]) {
			return false
		}
		for _, c := range r {
			if !unicode.IsLetter(c) && c != '.' && c != '\'' && c != '-' {
				return false
			}
		}
	}
	for _, w := range words(line) {
		if e.headingWords[w] || e.instituteKeywords[w] {
			return false
		}
	}
	return true
}

func validPercent(s string) bool {
	v, err := strconv.ParseFloat(s, 64)
	return err == nil && v >= 0 && v <= 100
}

// firstColumn cuts layout-preserved text at the first wide gap, which is
// where pdftotext puts the next column.
func firstColumn(s string) string {
	s = strings.TrimSpace(s)
	if loc := columnGapRe.FindStringIndex(s); loc != nil {
		s = s[:loc[0]]
	}
	return strings.Trim(s, " .,;:")
}

func words(line string) []string {
	return strings.FieldsFunc(strings.ToLower(line), func(r rune) bool {
		return !unicode.IsLetter(r)
	})
}

func toSet(list []string) map[string]bool {
	set := make(map[string]bool, len(list))
	for _, w := range list {
		set[strings.ToLower(strings.TrimSpace(w))] = true
	}
	return set
}
