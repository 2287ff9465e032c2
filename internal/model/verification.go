package model

import "time"

// AuditKind classifies audit events.
type AuditKind string

// Audit event kinds emitted by the verification workflow.
const (
	AuditVerified           AuditKind = "verified"
	AuditVerificationFailed AuditKind = "verification_failed"
	AuditMintFailed         AuditKind = "mint_failed"
	AuditVerificationError  AuditKind = "verification_error"
	AuditCorpusImported     AuditKind = "corpus_imported"
	AuditDocumentsImported  AuditKind = "documents_imported"
)

// AuditEvent is an append-only administrator-visible record. Only Read is
// ever changed after creation.
type AuditEvent struct {
	ID        string         `json:"id"`
	Kind      AuditKind      `json:"kind"`
	Message   string         `json:"message"`
	Payload   map[string]any `json:"payload,omitempty"`
	Read      bool           `json:"read"`
	CreatedAt time.Time      `json:"created_at"`
}

// MatchMode is how a verification found its record.
type MatchMode string

// Match modes.
const (
	MatchExact MatchMode = "exact"
	MatchFuzzy MatchMode = "fuzzy"
	MatchNone  MatchMode = "none"
)

// VerificationState is a state of the verification workflow.
type VerificationState string

// Workflow states. NoMatch, MintFailed and Error are terminal failures;
// Verified is the terminal success.
const (
	StateReceived     VerificationState = "RECEIVED"
	StateExtracting   VerificationState = "EXTRACTING"
	StateHashComputed VerificationState = "HASH_COMPUTED"
	StateExactLookup  VerificationState = "EXACT_LOOKUP"
	StateFoundExact   VerificationState = "FOUND_EXACT"
	StateLookupMiss   VerificationState = "LOOKUP_MISS"
	StateFuzzyLookup  VerificationState = "FUZZY_LOOKUP"
	StateFoundFuzzy   VerificationState = "FOUND_FUZZY"
	StateNoMatch      VerificationState = "NO_MATCH"
	StateMinting      VerificationState = "MINTING"
	StateVerified     VerificationState = "VERIFIED"
	StateMintFailed   VerificationState = "MINT_FAILED"
	StateError        VerificationState = "ERROR"
)

// Terminal reports whether s ends the workflow.
func (s VerificationState) Terminal() bool {
	switch s {
	case StateVerified, StateNoMatch, StateMintFailed, StateError:
		return true
	default:
		return false
	}
}

// VerificationOutcome is returned to callers of the verification service.
type VerificationOutcome struct {
	RequestID     string            `json:"request_id"`
	Verified      bool              `json:"verified"`
	Mode          MatchMode         `json:"mode"`
	State         VerificationState `json:"state"`
	Fingerprint   string            `json:"fingerprint,omitempty"`
	MatchedRecord *CorpusRecord     `json:"matched_record,omitempty"`
	MatchScore    float64           `json:"match_score,omitempty"`
	Token         *AttestationToken `json:"token,omitempty"`
	Fields        Fields            `json:"fields"`
	Diagnostics   map[string]any    `json:"diagnostics,omitempty"`
}
