package normalize

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestName_Empty(t *testing.T) {
	assert.Equal(t, "", Name(""))
	assert.Equal(t, "", Name("   "))
}

func TestName_Lowercase(t *testing.T) {
	assert.Equal(t, "jane doe", Name("Jane Doe"))
}

func TestName_StripHonorifics(t *testing.T) {
	assert.Equal(t, "jane doe", Name("Dr. Jane Doe"))
	assert.Equal(t, "jane doe", Name("Mrs Jane Doe"))
	assert.Equal(t, "rahul sharma", Name("Shri Rahul Sharma"))
	assert.Equal(t, "jane doe", Name("Prof. Dr. Jane Doe"))
}

func TestName_HonorificOnly(t *testing.T) {
	// A lone token is kept even if it looks like an honorific.
	assert.Equal(t, "master", Name("Master"))
}

func TestName_ReorderLastFirst(t *testing.T) {
	assert.Equal(t, "jane doe", Name("Doe, Jane"))
	assert.Equal(t, "jane doe", Name("DOE,  JANE"))
	assert.Equal(t, "jane doe", Name("Doe, Dr. Jane"))
}

func TestName_HonorificBeforeSurname(t *testing.T) {
	assert.Equal(t, "rahul sharma", Name("Dr. Sharma, Rahul"))
	assert.Equal(t, "john smith", Name("Mr Smith, John"))
	assert.Equal(t, "rahul sharma", Name("Sharma, Dr. Rahul"))
	assert.Equal(t, "rahul sharma", Name("Dr. Rahul Sharma"))

	assert.Equal(t,
		CorpusHash("Rahul Sharma", "ABC College", "72"),
		CorpusHash("Dr. Sharma, Rahul", "ABC College", "72"))
}

func TestName_MultipleCommasNotReordered(t *testing.T) {
	assert.Equal(t, "doe jane jr", Name("Doe, Jane, Jr"))
}

func TestName_CollapseSpaces(t *testing.T) {
	assert.Equal(t, "jane doe", Name("  Jane   \t Doe  "))
}

func TestName_FoldsDiacritics(t *testing.T) {
	assert.Equal(t, "jose garcia", Name("José García"))
}

func TestInstitute_StripSuffixWords(t *testing.T) {
	assert.Equal(t, "abc", Institute("ABC College"))
	assert.Equal(t, "stanford", Institute("Stanford University"))
	assert.Equal(t, "computer science", Institute("Department of Computer Science"))
	assert.Equal(t, "research", Institute("Research Centre"))
	assert.Equal(t, "research", Institute("Research Center"))
}

func TestInstitute_Ampersand(t *testing.T) {
	assert.Equal(t, "arts and science", Institute("Arts & Science College"))
}

func TestInstitute_Punctuation(t *testing.T) {
	assert.Equal(t, "st xaviers", Institute("St. Xavier's College"))
}

func TestInstitute_AbbreviationDoesNotExpand(t *testing.T) {
	assert.Equal(t, "mit", Institute("MIT"))
	assert.Equal(t, "massachusetts technology", Institute("Massachusetts Institute of Technology"))
}

func TestPercentage(t *testing.T) {
	assert.Equal(t, "85", Percentage("85%"))
	assert.Equal(t, "72.5", Percentage(" 72.5 % "))
	assert.Equal(t, "-1", Percentage("-1"))
	assert.Equal(t, "", Percentage("n/a"))
}

func TestText(t *testing.T) {
	assert.Equal(t, "hello world", Text("  Hello\n\n  WORLD\t"))
	assert.Equal(t, "", Text(" \n "))
}

func TestCorpusKey(t *testing.T) {
	assert.Equal(t, "john smith|abc|72", CorpusKey("Smith, John", "ABC College", "72%"))
}

func TestCorpusHash_StableAcrossFormatting(t *testing.T) {
	a := CorpusHash("John Smith", "ABC College", "72")
	b := CorpusHash("  Mr. JOHN   smith", "abc college", "72 %")
	assert.Equal(t, a, b)
	assert.True(t, strings.HasPrefix(a, "0x"))
	assert.Len(t, a, 66)
}

func TestCorpusHash_DiffersOnScore(t *testing.T) {
	assert.NotEqual(t, CorpusHash("John Smith", "ABC College", "72"), CorpusHash("John Smith", "ABC College", "73"))
}

func TestDigest_KnownValue(t *testing.T) {
	assert.Equal(t, "0xe3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", Digest(nil))
}

func TestInstitutePrefix(t *testing.T) {
	assert.Equal(t, "indian technology delhi", InstitutePrefix("Indian Institute of Technology Delhi Campus", 3))
	assert.Equal(t, "abc", InstitutePrefix("ABC College", 3))
	assert.Equal(t, "", InstitutePrefix("", 3))
}
