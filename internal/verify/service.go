// Package verify runs the credential verification workflow: extract a
// document's fingerprint and fields, look it up exactly and then fuzzily,
// and mint an attestation token on a hit. Every request that enters the
// workflow ends in exactly one audit event.
package verify

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sells-group/credverify/internal/audit"
	"github.com/sells-group/credverify/internal/config"
	"github.com/sells-group/credverify/internal/identity"
	"github.com/sells-group/credverify/internal/ledger"
	"github.com/sells-group/credverify/internal/match"
	"github.com/sells-group/credverify/internal/metrics"
	"github.com/sells-group/credverify/internal/model"
	"github.com/sells-group/credverify/internal/store"
)

// Fingerprinter derives fingerprints and raw text from documents.
type Fingerprinter interface {
	Extract(ctx context.Context, data []byte, filename string) (model.DocumentFingerprint, string, error)
}

// FieldExtractor reads (name, institute, score) out of document text.
type FieldExtractor interface {
	Extract(text string) model.Fields
}

// Matcher finds the best fuzzy corpus match for a claimed triple.
type Matcher interface {
	Match(ctx context.Context, name, institute, score string) (*match.Result, error)
}

// Store is the persistence the workflow needs.
type Store interface {
	ImportCorpus(ctx context.Context, records []model.CorpusRecord) ([]model.CorpusRecord, error)
	CorpusByHash(ctx context.Context, hash string) (*model.CorpusRecord, error)
	CorpusByID(ctx context.Context, id string) (*model.CorpusRecord, error)
	SaveFingerprint(ctx context.Context, fp model.DocumentFingerprint) (model.DocumentFingerprint, error)
}

// Deps are the collaborators of a Service. Guard and Metrics may be nil.
type Deps struct {
	Fingerprints Fingerprinter
	Fields       FieldExtractor
	Matcher      Matcher
	Ledger       ledger.Ledger
	Store        Store
	Audit        audit.Sink
	Identity     identity.Directory
	Guard        IdempotencyGuard
	Metrics      *metrics.Metrics
}

// Service is the verification orchestrator.
type Service struct {
	deps          Deps
	tokenTemplate string
	importWorkers int
	newID         func() string
}

// New builds a Service.
func New(deps Deps, cfg config.VerifyConfig) *Service {
	tmpl := cfg.TokenURITemplate
	if tmpl == "" {
		tmpl = "urn:credverify:attestation:{fingerprint}"
	}
	workers := cfg.ImportWorkers
	if workers <= 0 {
		workers = 4
	}
	return &Service{
		deps:          deps,
		tokenTemplate: tmpl,
		importWorkers: workers,
		newID:         uuid.NewString,
	}
}

// Mode labels the entry point of a request.
type Mode string

// Entry points.
const (
	ModeSelf   Mode = "self"
	ModePublic Mode = "public"
	ModeAdmin  Mode = "admin"
)

// Document is an uploaded file.
type Document struct {
	Data     []byte
	Filename string
}

// Request is a verification request. At least one of Document, Fields or
// BinaryHash must be set. Fields supplied here override extracted ones.
type Request struct {
	Document   *Document
	Fields     model.Fields
	BinaryHash string
	Identity   model.Identity
	Actor      string
	Mode       Mode
}

// AdminSelection picks what an administrator verifies. Exactly one field is
// set.
type AdminSelection struct {
	CorpusRecordID string    `json:"corpus_record_id,omitempty"`
	Fingerprint    string    `json:"fingerprint,omitempty"`
	Document       *Document `json:"-"`
}

// VerifyDocument runs the full workflow for a self-service request.
func (s *Service) VerifyDocument(ctx context.Context, req Request) (model.VerificationOutcome, error) {
	if req.Document == nil && req.Fields.Empty() && strings.TrimSpace(req.BinaryHash) == "" {
		return model.VerificationOutcome{}, invalidInput("a document, fields or a binary hash is required")
	}
	if req.Document != nil && len(req.Document.Data) == 0 {
		return model.VerificationOutcome{}, invalidInput("document %q is empty", req.Document.Filename)
	}
	if req.Identity.IsZero() {
		return model.VerificationOutcome{}, invalidInput("a wallet or email is required")
	}
	if req.Mode == "" {
		req.Mode = ModeSelf
	}
	return s.execute(ctx, workflowInput{
		document:   req.Document,
		fields:     req.Fields,
		binaryHash: strings.TrimSpace(req.BinaryHash),
		identity:   req.Identity,
		actor:      req.Actor,
		mode:       req.Mode,
	})
}

// VerifyPublic verifies an unauthenticated upload gated by email possession.
// The claimant email becomes the identity's email unless one is given.
func (s *Service) VerifyPublic(ctx context.Context, data []byte, filename, claimantEmail string, who *model.Identity) (model.VerificationOutcome, error) {
	email := strings.TrimSpace(claimantEmail)
	if email == "" || !strings.Contains(email, "@") {
		return model.VerificationOutcome{}, invalidInput("a valid claimant email is required")
	}
	var id model.Identity
	if who != nil {
		id = *who
	}
	if strings.TrimSpace(id.Email) == "" {
		id.Email = email
	}
	return s.VerifyDocument(ctx, Request{
		Document: &Document{Data: data, Filename: filename},
		Identity: id,
		Actor:    "public:" + strings.ToLower(email),
		Mode:     ModePublic,
	})
}

// AdminVerify verifies a selection chosen by an administrator. A corpus
// record or a fingerprint skips extraction.
func (s *Service) AdminVerify(ctx context.Context, sel AdminSelection, who model.Identity, actor string) (model.VerificationOutcome, error) {
	set := 0
	for _, ok := range []bool{sel.CorpusRecordID != "", sel.Fingerprint != "", sel.Document != nil} {
		if ok {
			set++
		}
	}
	if set != 1 {
		return model.VerificationOutcome{}, invalidInput("exactly one of corpus record, fingerprint or document is required")
	}
	if who.IsZero() {
		return model.VerificationOutcome{}, invalidInput("a wallet or email is required")
	}

	in := workflowInput{identity: who, actor: actor, mode: ModeAdmin}
	switch {
	case sel.Document != nil:
		return s.VerifyDocument(ctx, Request{Document: sel.Document, Identity: who, Actor: actor, Mode: ModeAdmin})
	case sel.CorpusRecordID != "":
		rec, err := s.deps.Store.CorpusByID(ctx, sel.CorpusRecordID)
		if err != nil {
			if isNotFound(err) {
				return model.VerificationOutcome{}, invalidInput("corpus record %s not found", sel.CorpusRecordID)
			}
			return model.VerificationOutcome{}, err
		}
		in.preset = rec
	default:
		in.presetHash = strings.TrimSpace(sel.Fingerprint)
	}
	return s.execute(ctx, in)
}

func (s *Service) tokenURI(fingerprint string) string {
	return strings.ReplaceAll(s.tokenTemplate, "{fingerprint}", fingerprint)
}

func (s *Service) record(ctx context.Context, log *zap.Logger, ev model.AuditEvent) {
	if s.deps.Audit == nil {
		return
	}
	// The event must land even when the request context is already done.
	if err := s.deps.Audit.Record(context.WithoutCancel(ctx), ev); err != nil {
		log.Error("verify: audit record failed", zap.String("kind", string(ev.Kind)), zap.Error(err))
	}
}

func isNotFound(err error) bool {
	return errors.Is(err, store.ErrNotFound)
}
