package model

import (
	"strings"
	"time"
)

// DocumentFingerprint identifies an uploaded document by content. TextHash is
// empty when no text could be extracted.
type DocumentFingerprint struct {
	BinaryHash string    `json:"binary_hash"`
	TextHash   string    `json:"text_hash,omitempty"`
	SourceName string    `json:"source_name"`
	UploadedBy string    `json:"uploaded_by,omitempty"`
	ProducedAt time.Time `json:"produced_at"`
}

// Hashes returns the non-empty hashes in lookup order.
func (f DocumentFingerprint) Hashes() []string {
	out := []string{f.BinaryHash}
	if f.TextHash != "" && f.TextHash != f.BinaryHash {
		out = append(out, f.TextHash)
	}
	return out
}

// CorpusRow is one row of an administrator dataset before import.
type CorpusRow struct {
	Name      string `json:"name"`
	Institute string `json:"institute"`
	Score     string `json:"score"`
}

// CorpusRecord is an imported administrator dataset entry. Records are never
// mutated after import.
type CorpusRecord struct {
	ID                  string    `json:"id"`
	Name                string    `json:"name"`
	Institute           string    `json:"institute"`
	Score               string    `json:"score"`
	NormalizedInstitute string    `json:"normalized_institute"`
	NormalizedScore     string    `json:"normalized_score"`
	NormalizedHash      string    `json:"normalized_hash"`
	UploadedBy          string    `json:"uploaded_by"`
	CreatedAt           time.Time `json:"created_at"`
}

// AttestationToken is a non-transferable token minted to an identity for a
// fingerprint.
type AttestationToken struct {
	TokenID       int64     `json:"token_id"`
	OwnerIdentity string    `json:"owner_identity"`
	Fingerprint   string    `json:"fingerprint"`
	TokenURI      string    `json:"token_uri,omitempty"`
	IssuedAt      time.Time `json:"issued_at"`
}

// Identity is the claimed owner of a verification request.
type Identity struct {
	Wallet string `json:"wallet,omitempty"`
	Email  string `json:"email,omitempty"`
}

// IsZero reports whether neither wallet nor email is set.
func (i Identity) IsZero() bool {
	return strings.TrimSpace(i.Wallet) == "" && strings.TrimSpace(i.Email) == ""
}

// Subject is the ledger owner for minted tokens: the wallet when present,
// otherwise the lower-cased email.
func (i Identity) Subject() string {
	if w := strings.TrimSpace(i.Wallet); w != "" {
		return strings.ToLower(w)
	}
	return strings.ToLower(strings.TrimSpace(i.Email))
}

// Fields is the optional (name, institute, score) triple extracted from a
// document or supplied by a caller. A nil field was not found.
type Fields struct {
	Name      *string `json:"name,omitempty"`
	Institute *string `json:"institute,omitempty"`
	Score     *string `json:"score,omitempty"`
}

// StringPtr returns a pointer to s, or nil when s is blank.
func StringPtr(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

// Deref returns the value of p or "".
func Deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

// Empty reports whether no field is present.
func (f Fields) Empty() bool {
	return f.Name == nil && f.Institute == nil && f.Score == nil
}

// Complete reports whether all three fields are present.
func (f Fields) Complete() bool {
	return f.Name != nil && f.Institute != nil && f.Score != nil
}

// Merge returns f with every nil field taken from other.
func (f Fields) Merge(other Fields) Fields {
	if f.Name == nil {
		f.Name = other.Name
	}
	if f.Institute == nil {
		f.Institute = other.Institute
	}
	if f.Score == nil {
		f.Score = other.Score
	}
	return f
}
