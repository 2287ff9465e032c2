package verify

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/credverify/internal/match"
	"github.com/sells-group/credverify/internal/model"
	"github.com/sells-group/credverify/internal/normalize"
)

type workflowInput struct {
	document   *Document
	fields     model.Fields
	binaryHash string
	identity   model.Identity
	actor      string
	mode       Mode

	// preset skips extraction and lookup: the record is the hit.
	preset *model.CorpusRecord
	// presetHash skips extraction: it is the only exact lookup key.
	presetHash string
}

// lookupKey is one exact-lookup candidate, tried in order.
type lookupKey struct {
	hash   string
	source string
	// corpus keys are also looked up in the corpus store.
	corpus bool
}

// hit is a successful lookup.
type hit struct {
	fingerprint string
	source      string
	record      *model.CorpusRecord
	fuzzy       *match.Result
}

func (s *Service) execute(ctx context.Context, in workflowInput) (model.VerificationOutcome, error) {
	start := time.Now()
	id := s.newID()
	log := zap.L().With(
		zap.String("component", "verify"),
		zap.String("request_id", id),
		zap.String("entry", string(in.mode)),
	)
	r := newRun(id, log)
	out := model.VerificationOutcome{
		RequestID:   id,
		Mode:        model.MatchNone,
		Diagnostics: map[string]any{},
	}

	err := s.workflow(ctx, r, in, &out)
	return s.finish(ctx, r, in, out, err, start)
}

func (s *Service) workflow(ctx context.Context, r *run, in workflowInput, out *model.VerificationOutcome) error {
	keys, err := s.prepare(ctx, r, in, out)
	if err != nil {
		return err
	}

	if err := r.to(model.StateExactLookup); err != nil {
		return err
	}
	h, err := s.exactLookup(ctx, in, keys)
	if err != nil {
		return err
	}
	if h != nil {
		if err := r.to(model.StateFoundExact); err != nil {
			return err
		}
		out.Mode = model.MatchExact
		return s.mint(ctx, r, in, h, out)
	}

	if err := r.to(model.StateLookupMiss); err != nil {
		return err
	}
	if out.Fields.Empty() {
		return r.to(model.StateNoMatch)
	}

	if err := r.to(model.StateFuzzyLookup); err != nil {
		return err
	}
	res, err := s.deps.Matcher.Match(ctx,
		model.Deref(out.Fields.Name), model.Deref(out.Fields.Institute), model.Deref(out.Fields.Score))
	if err != nil {
		return err
	}
	if res == nil {
		return r.to(model.StateNoMatch)
	}
	if err := r.to(model.StateFoundFuzzy); err != nil {
		return err
	}
	s.deps.Metrics.FuzzyScore(res.MatchScore)
	out.Mode = model.MatchFuzzy
	out.Diagnostics["components"] = res.Components
	out.Diagnostics["relaxed"] = res.Relaxed
	rec := res.Record
	return s.mint(ctx, r, in, &hit{
		fingerprint: rec.NormalizedHash,
		source:      "fuzzy",
		record:      &rec,
		fuzzy:       res,
	}, out)
}

// prepare runs extraction when there is a document and returns the exact
// lookup keys in priority order.
func (s *Service) prepare(ctx context.Context, r *run, in workflowInput, out *model.VerificationOutcome) ([]lookupKey, error) {
	fields := in.fields
	binary, text := in.binaryHash, ""

	if in.document != nil {
		if err := r.to(model.StateExtracting); err != nil {
			return nil, err
		}
		fp, raw, err := s.deps.Fingerprints.Extract(ctx, in.document.Data, in.document.Filename)
		if err != nil {
			return nil, err
		}
		binary, text = fp.BinaryHash, fp.TextHash
		if raw != "" {
			fields = fields.Merge(s.deps.Fields.Extract(raw))
		}
		out.Diagnostics["text_extracted"] = text != ""
	}
	if err := r.to(model.StateHashComputed); err != nil {
		return nil, err
	}
	out.Fields = fields

	switch {
	case in.preset != nil:
		out.Fingerprint = in.preset.NormalizedHash
		out.Fields = model.Fields{
			Name:      model.StringPtr(in.preset.Name),
			Institute: model.StringPtr(in.preset.Institute),
			Score:     model.StringPtr(in.preset.Score),
		}
		return nil, nil
	case in.presetHash != "":
		out.Fingerprint = in.presetHash
		return []lookupKey{{hash: in.presetHash, source: "fingerprint", corpus: true}}, nil
	}

	var keys []lookupKey
	if binary != "" {
		out.Fingerprint = binary
		out.Diagnostics["binary_hash"] = binary
		keys = append(keys, lookupKey{hash: binary, source: "binary_hash"})
	}
	if text != "" && text != binary {
		out.Diagnostics["text_hash"] = text
		keys = append(keys, lookupKey{hash: text, source: "text_hash"})
	}
	if !fields.Empty() {
		h := normalize.CorpusHash(model.Deref(fields.Name), model.Deref(fields.Institute), model.Deref(fields.Score))
		out.Diagnostics["corpus_hash"] = h
		keys = append(keys, lookupKey{hash: h, source: "corpus_hash", corpus: true})
	}
	return keys, nil
}

// exactLookup returns the first key known to the ledger or, for corpus keys,
// to the corpus store.
func (s *Service) exactLookup(ctx context.Context, in workflowInput, keys []lookupKey) (*hit, error) {
	if in.preset != nil {
		return &hit{fingerprint: in.preset.NormalizedHash, source: "corpus_record", record: in.preset}, nil
	}
	for _, k := range keys {
		registered, err := s.deps.Ledger.IsRegistered(ctx, k.hash)
		if err != nil {
			return nil, err
		}
		var rec *model.CorpusRecord
		if k.corpus {
			rec, err = s.deps.Store.CorpusByHash(ctx, k.hash)
			if err != nil && !isNotFound(err) {
				return nil, err
			}
		}
		if registered || rec != nil {
			return &hit{fingerprint: k.hash, source: k.source, record: rec}, nil
		}
	}
	return nil, nil
}

// mint registers the hit's fingerprint (a no-op when already present) and
// mints a token for the claimed identity.
func (s *Service) mint(ctx context.Context, r *run, in workflowInput, h *hit, out *model.VerificationOutcome) error {
	if err := r.to(model.StateMinting); err != nil {
		return err
	}
	out.Fingerprint = h.fingerprint
	out.MatchedRecord = h.record
	out.Diagnostics["matched_by"] = h.source
	if h.fuzzy != nil {
		out.MatchScore = h.fuzzy.MatchScore
	} else if h.record != nil {
		out.MatchScore = 1
	}

	subject := in.identity.Subject()
	key := subject + "|" + h.fingerprint
	held := false
	if s.deps.Guard != nil {
		claimed, err := s.deps.Guard.Claim(ctx, key)
		switch {
		case err != nil:
			r.log.Warn("verify: idempotency guard unavailable, minting anyway", zap.Error(err))
		case !claimed:
			out.Diagnostics["duplicate"] = true
			out.Verified = true
			return r.to(model.StateVerified)
		default:
			held = true
		}
	}
	release := func() {
		if !held {
			return
		}
		if err := s.deps.Guard.Release(context.WithoutCancel(ctx), key); err != nil {
			r.log.Warn("verify: release idempotency key", zap.Error(err))
		}
	}

	if _, err := s.deps.Ledger.Register(ctx, h.fingerprint); err != nil {
		release()
		return mintFailed(r, err)
	}
	token, err := s.deps.Ledger.Mint(ctx, subject, s.tokenURI(h.fingerprint), h.fingerprint)
	if err != nil {
		release()
		return mintFailed(r, err)
	}
	out.Token = &token

	if err := s.deps.Identity.MarkVerified(ctx, in.identity, token); err != nil {
		r.log.Error("verify: mark identity verified", zap.Int64("token_id", token.TokenID), zap.Error(err))
		out.Diagnostics["identity_update_failed"] = true
	}
	out.Verified = true
	return r.to(model.StateVerified)
}

func mintFailed(r *run, err error) error {
	if terr := r.to(model.StateMintFailed); terr != nil {
		return terr
	}
	return err
}

// finish settles the terminal state and emits the request's single audit
// event.
func (s *Service) finish(ctx context.Context, r *run, in workflowInput, out model.VerificationOutcome, err error, start time.Time) (model.VerificationOutcome, error) {
	if err == nil && !r.state.Terminal() {
		err = eris.Errorf("verify: workflow stopped in state %s", r.state)
	}
	if err != nil && !r.state.Terminal() {
		_ = r.to(model.StateError)
	}
	out.State = r.state

	ev := model.AuditEvent{Payload: auditPayload(r, in, out)}
	switch r.state {
	case model.StateVerified:
		ev.Kind = model.AuditVerified
		ev.Message = "credential verified (" + string(out.Mode) + ")"
		r.log.Info("verify: verified",
			zap.String("mode", string(out.Mode)),
			zap.String("fingerprint", out.Fingerprint),
		)
	case model.StateNoMatch:
		ev.Kind = model.AuditVerificationFailed
		ev.Message = "no matching record for submitted document"
		r.log.Info("verify: no match", zap.String("fingerprint", out.Fingerprint))
	case model.StateMintFailed:
		ev.Kind = model.AuditMintFailed
		ev.Message = "token mint failed"
		ev.Payload["error"] = err.Error()
		r.log.Error("verify: mint failed", zap.Error(err))
	default:
		ev.Kind = model.AuditVerificationError
		ev.Message = "verification aborted"
		ev.Payload["error"] = errString(err)
		r.log.Error("verify: aborted", zap.String("state", string(r.state)), zap.Error(err))
	}
	s.record(ctx, r.log, ev)
	s.deps.Metrics.Verification(string(out.Mode), strings.ToLower(string(r.state)), time.Since(start))
	return out, err
}

func auditPayload(r *run, in workflowInput, out model.VerificationOutcome) map[string]any {
	p := map[string]any{
		"request_id": r.id,
		"entry":      string(in.mode),
		"mode":       string(out.Mode),
		"state":      string(r.state),
	}
	if in.actor != "" {
		p["actor"] = in.actor
	}
	if subject := in.identity.Subject(); subject != "" {
		p["identity"] = subject
	}
	if out.Fingerprint != "" {
		p["fingerprint"] = out.Fingerprint
	}
	if in.document != nil {
		p["source_name"] = in.document.Filename
	}
	for k, v := range map[string]*string{
		"name":      out.Fields.Name,
		"institute": out.Fields.Institute,
		"score":     out.Fields.Score,
	} {
		if v != nil {
			p[k] = *v
		}
	}
	if out.Token != nil {
		p["token_id"] = out.Token.TokenID
	}
	if out.MatchedRecord != nil {
		p["record_id"] = out.MatchedRecord.ID
		p["match_score"] = out.MatchScore
	}
	if dup, ok := out.Diagnostics["duplicate"]; ok {
		p["duplicate"] = dup
	}
	return p
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
