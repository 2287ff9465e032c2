// Package normalize canonicalizes free text for fingerprinting and matching.
// Exact-hash lookup and fuzzy scoring must share these functions: if they
// drift apart, an exact hit would no longer imply a fuzzy hit.
package normalize

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// honorifics are dropped from the front of a name.
var honorifics = map[string]bool{
	"mr": true, "mrs": true, "ms": true, "miss": true, "mx": true,
	"dr": true, "prof": true, "professor": true,
	"shri": true, "sri": true, "smt": true, "kumari": true, "kum": true,
	"master": true, "sir": true, "madam": true,
}

// instituteStopwords are removed anywhere in an institute name.
var instituteStopwords = map[string]bool{
	"university": true, "college": true, "institute": true, "institution": true,
	"school": true, "department": true, "dept": true,
	"centre": true, "center": true,
	"of": true, "the": true,
}

var (
	punctRe        = regexp.MustCompile(`[^\p{L}\p{N}\s]+`)
	nonPercentRe   = regexp.MustCompile(`[^0-9.\-]+`)
	multiSpaceRe   = regexp.MustCompile(`\s+`)
	apostrophes    = strings.NewReplacer("'", "", "\u2019", "", "`", "")
	diacriticFolds = transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
)

// fold strips combining marks so "José" and "Jose" compare equal.
func fold(s string) string {
	out, _, err := transform.String(diacriticFolds, s)
	if err != nil {
		return s
	}
	return out
}

func collapse(s string) string {
	return strings.TrimSpace(multiSpaceRe.ReplaceAllString(s, " "))
}

// Name canonicalizes a person's name:
//  1. folds diacritics and lower-cases
//  2. strips punctuation and leading honorifics from each "Last, First" part
//  3. reorders "Last, First" to "First Last"
//  4. collapses whitespace
func Name(name string) string {
	name = strings.ToLower(fold(strings.TrimSpace(name)))
	if name == "" {
		return ""
	}

	if parts := strings.Split(name, ","); len(parts) == 2 {
		last, first := nameTokens(parts[0]), nameTokens(parts[1])
		if len(last) > 0 && len(first) > 0 {
			return strings.Join(append(first, last...), " ")
		}
	}
	return strings.Join(nameTokens(name), " ")
}

// nameTokens splits s into words, dropping punctuation and any leading
// honorifics. A lone honorific is kept.
func nameTokens(s string) []string {
	tokens := strings.Fields(punctRe.ReplaceAllString(apostrophes.Replace(s), " "))
	for len(tokens) > 1 && honorifics[tokens[0]] {
		tokens = tokens[1:]
	}
	return tokens
}

// Institute canonicalizes an institution name by lower-casing, folding
// diacritics, spelling out "&" and dropping generic words such as
// "university" or "college".
func Institute(institute string) string {
	institute = strings.ToLower(fold(strings.TrimSpace(institute)))
	if institute == "" {
		return ""
	}
	institute = strings.ReplaceAll(institute, "&", " and ")
	institute = punctRe.ReplaceAllString(apostrophes.Replace(institute), " ")

	tokens := strings.Fields(institute)
	kept := tokens[:0]
	for _, t := range tokens {
		if !instituteStopwords[t] {
			kept = append(kept, t)
		}
	}
	return strings.Join(kept, " ")
}

// Percentage keeps only digits, '.' and '-'.
func Percentage(score string) string {
	return nonPercentRe.ReplaceAllString(score, "")
}

// Text is the canonical form hashed for text fingerprints.
func Text(text string) string {
	return strings.ToLower(collapse(text))
}

// CorpusKey joins the canonical triple that corpus hashes are computed over.
func CorpusKey(name, institute, score string) string {
	return Name(name) + "|" + Institute(institute) + "|" + Percentage(score)
}

// Digest returns the 0x-prefixed hex SHA-256 of data.
func Digest(data []byte) string {
	sum := sha256.Sum256(data)
	return "0x" + hex.EncodeToString(sum[:])
}

// CorpusHash is the exact-match fingerprint of a (name, institute, score) triple.
func CorpusHash(name, institute, score string) string {
	return Digest([]byte(CorpusKey(name, institute, score)))
}

// InstitutePrefix returns up to n leading tokens of the canonical institute,
// used as a cheap candidate filter.
func InstitutePrefix(institute string, n int) string {
	tokens := strings.Fields(Institute(institute))
	if len(tokens) > n {
		tokens = tokens[:n]
	}
	return strings.Join(tokens, " ")
}
