package verify

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/credverify/internal/config"
	"github.com/sells-group/credverify/internal/fields"
	"github.com/sells-group/credverify/internal/fingerprint"
	"github.com/sells-group/credverify/internal/identity"
	"github.com/sells-group/credverify/internal/ledger"
	"github.com/sells-group/credverify/internal/match"
	"github.com/sells-group/credverify/internal/metrics"
	"github.com/sells-group/credverify/internal/model"
	"github.com/sells-group/credverify/internal/normalize"
	"github.com/sells-group/credverify/internal/store"
)

type recordingSink struct {
	mu     sync.Mutex
	events []model.AuditEvent
}

func (r *recordingSink) Record(_ context.Context, ev model.AuditEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recordingSink) ofKind(kind model.AuditKind) []model.AuditEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.AuditEvent
	for _, ev := range r.events {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

func (r *recordingSink) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

// faultyLedger injects failures into a working ledger.
type faultyLedger struct {
	ledger.Ledger
	lookupErr   error
	registerErr error
	mintErr     error
}

func (f *faultyLedger) IsRegistered(ctx context.Context, fp string) (bool, error) {
	if f.lookupErr != nil {
		return false, f.lookupErr
	}
	return f.Ledger.IsRegistered(ctx, fp)
}

func (f *faultyLedger) Register(ctx context.Context, fp string) (ledger.RegisterResult, error) {
	if f.registerErr != nil {
		return ledger.RegisterResult{}, f.registerErr
	}
	return f.Ledger.Register(ctx, fp)
}

func (f *faultyLedger) Mint(ctx context.Context, owner, uri, fp string) (model.AttestationToken, error) {
	if f.mintErr != nil {
		return model.AttestationToken{}, f.mintErr
	}
	return f.Ledger.Mint(ctx, owner, uri, fp)
}

type spyMatcher struct {
	calls int
}

func (s *spyMatcher) Match(context.Context, string, string, string) (*match.Result, error) {
	s.calls++
	return nil, nil
}

type memGuard struct {
	mu       sync.Mutex
	held     map[string]bool
	released []string
}

func (g *memGuard) Claim(_ context.Context, key string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.held[key] {
		return false, nil
	}
	g.held[key] = true
	return true, nil
}

func (g *memGuard) Release(_ context.Context, key string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.held, key)
	g.released = append(g.released, key)
	return nil
}

type harness struct {
	svc      *Service
	deps     Deps
	store    *store.SQLiteStore
	ledger   *ledger.Local
	audit    *recordingSink
	identity *identity.Memory
}

func newHarness(t *testing.T, mutate ...func(*Deps)) *harness {
	t.Helper()
	dir := t.TempDir()

	st, err := store.NewSQLite(filepath.Join(dir, "store.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))

	led, err := ledger.OpenLocal(filepath.Join(dir, "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { led.Close() }) //nolint:errcheck

	m := metrics.New(prometheus.NewRegistry())
	h := &harness{store: st, ledger: led, audit: &recordingSink{}, identity: identity.NewMemory()}
	h.deps = Deps{
		Fingerprints: fingerprint.New(config.FingerprintConfig{}, nil, nil, m),
		Fields:       fields.NewExtractor(fields.DefaultTables()),
		Matcher:      match.NewEngine(st, match.DefaultOptions()),
		Ledger:       led,
		Store:        st,
		Audit:        h.audit,
		Identity:     h.identity,
		Metrics:      m,
	}
	for _, fn := range mutate {
		fn(&h.deps)
	}
	h.svc = New(h.deps, config.VerifyConfig{ImportWorkers: 3})
	return h
}

func (h *harness) seed(t *testing.T, rows ...model.CorpusRow) []model.CorpusRecord {
	t.Helper()
	recs, err := h.svc.ImportCorpus(context.Background(), rows, "admin")
	require.NoError(t, err)
	return recs
}

func marksheet(name, institute, score string) *Document {
	return &Document{
		Filename: "marksheet.txt",
		Data: []byte("STATEMENT OF MARKS\nName: " + name +
			"\nInstitute: " + institute + "\nPercentage: " + score + " %\n"),
	}
}

var asha = model.CorpusRow{Name: "Asha Rao", Institute: "Delhi Technological University", Score: "82.5"}

var wallet = model.Identity{Wallet: "0xA11CE", Email: "asha@example.com"}

func TestVerifyDocument_ExactCorpusHit(t *testing.T) {
	h := newHarness(t)
	recs := h.seed(t, asha)

	out, err := h.svc.VerifyDocument(context.Background(), Request{
		Document: marksheet("Asha Rao", "Delhi Technological University", "82.5"),
		Identity: wallet,
		Actor:    "asha",
	})
	require.NoError(t, err)

	assert.True(t, out.Verified)
	assert.Equal(t, model.MatchExact, out.Mode)
	assert.Equal(t, model.StateVerified, out.State)
	assert.Equal(t, recs[0].NormalizedHash, out.Fingerprint)
	require.NotNil(t, out.MatchedRecord)
	assert.Equal(t, recs[0].ID, out.MatchedRecord.ID)
	require.NotNil(t, out.Token)
	assert.Equal(t, int64(1), out.Token.TokenID)
	assert.Equal(t, "0xa11ce", out.Token.OwnerIdentity)
	assert.Equal(t, "urn:credverify:attestation:"+recs[0].NormalizedHash, out.Token.TokenURI)
	assert.Equal(t, "corpus_hash", out.Diagnostics["matched_by"])

	verified := h.audit.ofKind(model.AuditVerified)
	require.Len(t, verified, 1)
	assert.Equal(t, "asha", verified[0].Payload["actor"])
	assert.Equal(t, int64(1), verified[0].Payload["token_id"])

	rec, err := h.identity.FindByWallet(context.Background(), "0xa11ce")
	require.NoError(t, err)
	assert.True(t, rec.Verified)
}

func TestVerifyDocument_ExactHitSkipsFuzzy(t *testing.T) {
	spy := &spyMatcher{}
	h := newHarness(t, func(d *Deps) { d.Matcher = spy })
	h.seed(t, asha)

	out, err := h.svc.VerifyDocument(context.Background(), Request{
		Fields: model.Fields{
			Name:      model.StringPtr("Dr. Asha Rao"),
			Institute: model.StringPtr("Delhi Technological University"),
			Score:     model.StringPtr("82.5%"),
		},
		Identity: wallet,
	})
	require.NoError(t, err)
	assert.True(t, out.Verified)
	assert.Equal(t, model.MatchExact, out.Mode)
	assert.Zero(t, spy.calls)
}

func TestVerifyDocument_FuzzyHit(t *testing.T) {
	h := newHarness(t)
	recs := h.seed(t, asha)

	out, err := h.svc.VerifyDocument(context.Background(), Request{
		Document: marksheet("Asha Rao", "Delhi Technological University", "83"),
		Identity: wallet,
	})
	require.NoError(t, err)

	assert.True(t, out.Verified)
	assert.Equal(t, model.MatchFuzzy, out.Mode)
	assert.Equal(t, recs[0].NormalizedHash, out.Fingerprint)
	assert.InDelta(t, 0.99, out.MatchScore, 1e-9)
	require.NotNil(t, out.Token)
	assert.Equal(t, "fuzzy", out.Diagnostics["matched_by"])
}

func TestVerifyDocument_ExplicitFieldsOverrideExtracted(t *testing.T) {
	h := newHarness(t)
	h.seed(t, asha)

	out, err := h.svc.VerifyDocument(context.Background(), Request{
		Document: marksheet("Asha Rao", "Delhi Technological University", "40"),
		Fields:   model.Fields{Score: model.StringPtr("82.5")},
		Identity: wallet,
	})
	require.NoError(t, err)
	assert.Equal(t, "82.5", model.Deref(out.Fields.Score))
	assert.Equal(t, model.MatchExact, out.Mode)
}

func TestVerifyDocument_NoMatchEmitsOneFailureEvent(t *testing.T) {
	h := newHarness(t)

	out, err := h.svc.VerifyDocument(context.Background(), Request{
		Document: &Document{Filename: "scan.bin", Data: []byte{0x00, 0x01, 0x02, 0xff}},
		Identity: wallet,
	})
	require.NoError(t, err)

	assert.False(t, out.Verified)
	assert.Equal(t, model.StateNoMatch, out.State)
	assert.Equal(t, model.MatchNone, out.Mode)
	assert.Nil(t, out.Token)
	assert.True(t, out.Fields.Empty())

	require.Equal(t, 1, h.audit.count())
	failed := h.audit.ofKind(model.AuditVerificationFailed)
	require.Len(t, failed, 1)
	assert.Equal(t, out.Fingerprint, failed[0].Payload["fingerprint"])

	stats, err := h.ledger.Stats(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.LastTokenID)
}

func TestVerifyDocument_NoMatchCarriesExtractedFields(t *testing.T) {
	h := newHarness(t)
	h.seed(t, asha)

	out, err := h.svc.VerifyDocument(context.Background(), Request{
		Document: marksheet("Zed Quinn", "Anna University", "55"),
		Identity: wallet,
	})
	require.NoError(t, err)
	assert.False(t, out.Verified)
	assert.Equal(t, "Zed Quinn", model.Deref(out.Fields.Name))

	failed := h.audit.ofKind(model.AuditVerificationFailed)
	require.Len(t, failed, 1)
	assert.Equal(t, "Zed Quinn", failed[0].Payload["name"])
}

func TestVerifyDocument_RegisteredDocumentMatchesByBinaryHash(t *testing.T) {
	h := newHarness(t)
	doc := Document{Filename: "degree.bin", Data: []byte{0xde, 0xad, 0xbe, 0xef}}

	fps, err := h.svc.ImportDocumentSet(context.Background(), []Document{doc}, "admin")
	require.NoError(t, err)

	out, err := h.svc.VerifyDocument(context.Background(), Request{Document: &doc, Identity: wallet})
	require.NoError(t, err)
	assert.True(t, out.Verified)
	assert.Equal(t, fps[0].BinaryHash, out.Fingerprint)
	assert.Equal(t, "binary_hash", out.Diagnostics["matched_by"])
	assert.Nil(t, out.MatchedRecord)
}

func TestVerifyDocument_BinaryHashOnly(t *testing.T) {
	h := newHarness(t)
	hash := normalize.Digest([]byte("some pdf bytes"))
	_, err := h.ledger.Register(context.Background(), hash)
	require.NoError(t, err)

	out, err := h.svc.VerifyDocument(context.Background(), Request{BinaryHash: hash, Identity: wallet})
	require.NoError(t, err)
	assert.True(t, out.Verified)
	assert.Equal(t, hash, out.Fingerprint)
}

func TestVerifyDocument_InvalidInput(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.svc.VerifyDocument(ctx, Request{Identity: wallet})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = h.svc.VerifyDocument(ctx, Request{Document: marksheet("A B", "C", "1")})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = h.svc.VerifyDocument(ctx, Request{Document: &Document{Filename: "empty.pdf"}, Identity: wallet})
	assert.ErrorIs(t, err, ErrInvalidInput)

	assert.Zero(t, h.audit.count())
}

func TestVerifyDocument_LedgerUnavailableDuringLookup(t *testing.T) {
	h := newHarness(t, func(d *Deps) {
		d.Ledger = &faultyLedger{Ledger: d.Ledger, lookupErr: ledger.ErrLedgerUnavailable}
	})

	out, err := h.svc.VerifyDocument(context.Background(), Request{
		Document: marksheet("Asha Rao", "Delhi Technological University", "82.5"),
		Identity: wallet,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ledger.ErrLedgerUnavailable)
	assert.Equal(t, model.StateError, out.State)
	assert.False(t, out.Verified)

	require.Equal(t, 1, h.audit.count())
	assert.Len(t, h.audit.ofKind(model.AuditVerificationError), 1)

	_, err = h.identity.FindByWallet(context.Background(), wallet.Wallet)
	assert.ErrorIs(t, err, identity.ErrNotFound)
}

func TestVerifyDocument_MintFailed(t *testing.T) {
	h := newHarness(t)
	h.seed(t, asha)
	h.audit.events = nil

	faulty := &faultyLedger{Ledger: h.ledger, mintErr: ledger.ErrMintFailed}
	h.deps.Ledger = faulty
	svc := New(h.deps, config.VerifyConfig{})

	out, err := svc.VerifyDocument(context.Background(), Request{
		Document: marksheet("Asha Rao", "Delhi Technological University", "82.5"),
		Identity: wallet,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ledger.ErrMintFailed)
	assert.False(t, errors.Is(err, ledger.ErrLedgerUnavailable))
	assert.Equal(t, model.StateMintFailed, out.State)
	assert.Nil(t, out.Token)

	require.Equal(t, 1, h.audit.count())
	assert.Len(t, h.audit.ofKind(model.AuditMintFailed), 1)

	_, err = h.identity.FindByWallet(context.Background(), wallet.Wallet)
	assert.ErrorIs(t, err, identity.ErrNotFound)
}

func TestVerifyDocument_RegisterUnavailableIsMintFailure(t *testing.T) {
	h := newHarness(t)
	h.seed(t, asha)
	h.audit.events = nil

	h.deps.Ledger = &faultyLedger{Ledger: h.ledger, registerErr: ledger.ErrLedgerUnavailable}
	svc := New(h.deps, config.VerifyConfig{})

	out, err := svc.VerifyDocument(context.Background(), Request{
		Document: marksheet("Asha Rao", "Delhi Technological University", "82.5"),
		Identity: wallet,
	})
	assert.ErrorIs(t, err, ledger.ErrLedgerUnavailable)
	assert.Equal(t, model.StateMintFailed, out.State)
	assert.Len(t, h.audit.ofKind(model.AuditMintFailed), 1)
}

func TestVerifyDocument_RepeatMintsWithoutGuard(t *testing.T) {
	h := newHarness(t)
	h.seed(t, asha)
	req := Request{Document: marksheet("Asha Rao", "Delhi Technological University", "82.5"), Identity: wallet}

	first, err := h.svc.VerifyDocument(context.Background(), req)
	require.NoError(t, err)
	second, err := h.svc.VerifyDocument(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, int64(1), first.Token.TokenID)
	assert.Equal(t, int64(2), second.Token.TokenID)
}

func TestVerifyDocument_GuardSuppressesDuplicateMint(t *testing.T) {
	guard := &memGuard{held: map[string]bool{}}
	h := newHarness(t, func(d *Deps) { d.Guard = guard })
	h.seed(t, asha)
	req := Request{Document: marksheet("Asha Rao", "Delhi Technological University", "82.5"), Identity: wallet}

	first, err := h.svc.VerifyDocument(context.Background(), req)
	require.NoError(t, err)
	require.NotNil(t, first.Token)

	second, err := h.svc.VerifyDocument(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, second.Verified)
	assert.Nil(t, second.Token)
	assert.Equal(t, true, second.Diagnostics["duplicate"])

	stats, err := h.ledger.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.LastTokenID)

	verified := h.audit.ofKind(model.AuditVerified)
	require.Len(t, verified, 2)
	assert.Equal(t, true, verified[1].Payload["duplicate"])
}

func TestVerifyDocument_GuardReleasedOnMintFailure(t *testing.T) {
	guard := &memGuard{held: map[string]bool{}}
	h := newHarness(t, func(d *Deps) { d.Guard = guard })
	recs := h.seed(t, asha)

	h.deps.Ledger = &faultyLedger{Ledger: h.ledger, mintErr: ledger.ErrMintFailed}
	svc := New(h.deps, config.VerifyConfig{})

	_, err := svc.VerifyDocument(context.Background(), Request{
		Document: marksheet("Asha Rao", "Delhi Technological University", "82.5"),
		Identity: wallet,
	})
	require.Error(t, err)
	assert.Equal(t, []string{"0xa11ce|" + recs[0].NormalizedHash}, guard.released)
	assert.Empty(t, guard.held)
}

func TestVerifyPublic(t *testing.T) {
	h := newHarness(t)
	h.seed(t, asha)
	doc := marksheet("Asha Rao", "Delhi Technological University", "82.5")

	_, err := h.svc.VerifyPublic(context.Background(), doc.Data, doc.Filename, "", nil)
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = h.svc.VerifyPublic(context.Background(), doc.Data, doc.Filename, "not-an-email", nil)
	assert.ErrorIs(t, err, ErrInvalidInput)

	out, err := h.svc.VerifyPublic(context.Background(), doc.Data, doc.Filename, "Asha@Example.com", nil)
	require.NoError(t, err)
	assert.True(t, out.Verified)
	assert.Equal(t, "asha@example.com", out.Token.OwnerIdentity)

	verified := h.audit.ofKind(model.AuditVerified)
	require.Len(t, verified, 1)
	assert.Equal(t, "public", verified[0].Payload["entry"])
	assert.Equal(t, "public:asha@example.com", verified[0].Payload["actor"])
}

func TestAdminVerify_CorpusRecord(t *testing.T) {
	spy := &spyMatcher{}
	h := newHarness(t, func(d *Deps) { d.Matcher = spy })
	recs := h.seed(t, asha)

	out, err := h.svc.AdminVerify(context.Background(), AdminSelection{CorpusRecordID: recs[0].ID}, wallet, "admin")
	require.NoError(t, err)
	assert.True(t, out.Verified)
	assert.Equal(t, model.MatchExact, out.Mode)
	assert.Equal(t, recs[0].NormalizedHash, out.Fingerprint)
	assert.Equal(t, "Asha Rao", model.Deref(out.Fields.Name))
	assert.Equal(t, "corpus_record", out.Diagnostics["matched_by"])
	assert.Zero(t, spy.calls)
}

func TestAdminVerify_Fingerprint(t *testing.T) {
	h := newHarness(t)
	recs := h.seed(t, asha)

	out, err := h.svc.AdminVerify(context.Background(), AdminSelection{Fingerprint: recs[0].NormalizedHash}, wallet, "admin")
	require.NoError(t, err)
	assert.True(t, out.Verified)
	require.NotNil(t, out.MatchedRecord)
	assert.Equal(t, recs[0].ID, out.MatchedRecord.ID)

	miss, err := h.svc.AdminVerify(context.Background(), AdminSelection{Fingerprint: "0xunknown"}, wallet, "admin")
	require.NoError(t, err)
	assert.False(t, miss.Verified)
	assert.Equal(t, model.StateNoMatch, miss.State)
}

func TestAdminVerify_Document(t *testing.T) {
	h := newHarness(t)
	h.seed(t, asha)

	out, err := h.svc.AdminVerify(context.Background(), AdminSelection{
		Document: marksheet("Asha Rao", "Delhi Technological University", "82.5"),
	}, wallet, "admin")
	require.NoError(t, err)
	assert.True(t, out.Verified)

	verified := h.audit.ofKind(model.AuditVerified)
	require.Len(t, verified, 1)
	assert.Equal(t, "admin", verified[0].Payload["entry"])
}

func TestAdminVerify_InvalidSelection(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.svc.AdminVerify(ctx, AdminSelection{}, wallet, "admin")
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = h.svc.AdminVerify(ctx, AdminSelection{CorpusRecordID: "x", Fingerprint: "y"}, wallet, "admin")
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = h.svc.AdminVerify(ctx, AdminSelection{CorpusRecordID: "missing"}, wallet, "admin")
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = h.svc.AdminVerify(ctx, AdminSelection{Fingerprint: "0x1"}, model.Identity{}, "admin")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestImportCorpus_IdempotentRegistration(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	first := h.seed(t, asha, model.CorpusRow{Name: "Ravi Kumar", Institute: "IISc", Score: "91"})
	second, err := h.svc.ImportCorpus(ctx, []model.CorpusRow{{Name: "Asha  Rao", Institute: "Delhi Technological University", Score: "82.5%"}}, "other")
	require.NoError(t, err)
	assert.Equal(t, first[0].ID, second[0].ID)

	for _, rec := range first {
		ok, err := h.ledger.IsRegistered(ctx, rec.NormalizedHash)
		require.NoError(t, err)
		assert.True(t, ok)
	}
	stats, err := h.ledger.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Registered)

	imported := h.audit.ofKind(model.AuditCorpusImported)
	require.Len(t, imported, 2)
	assert.Equal(t, 0, imported[1].Payload["registered"])
}

func TestImportCorpus_Invalid(t *testing.T) {
	h := newHarness(t)

	_, err := h.svc.ImportCorpus(context.Background(), nil, "admin")
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = h.svc.ImportCorpus(context.Background(), []model.CorpusRow{{Name: "  ", Institute: "X"}}, "admin")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestImportDocumentSet(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	files := []Document{
		{Filename: "a.txt", Data: []byte("Name: Asha Rao")},
		{Filename: "b.bin", Data: []byte{1, 2, 3}},
		{Filename: "c.txt", Data: []byte("Name: Ravi Kumar")},
		{Filename: "a-copy.txt", Data: []byte("Name: Asha Rao")},
	}
	fps, err := h.svc.ImportDocumentSet(ctx, files, "admin")
	require.NoError(t, err)
	require.Len(t, fps, 4)

	assert.NotEmpty(t, fps[0].TextHash)
	assert.Empty(t, fps[1].TextHash)
	assert.Equal(t, "c.txt", fps[2].SourceName)
	// Identical bytes collapse to whichever copy was stored first.
	assert.Equal(t, fps[0].BinaryHash, fps[3].BinaryHash)
	assert.Equal(t, fps[0].SourceName, fps[3].SourceName)

	for _, fp := range fps {
		for _, hash := range fp.Hashes() {
			ok, err := h.ledger.IsRegistered(ctx, hash)
			require.NoError(t, err)
			assert.True(t, ok, hash)
		}
	}
	stats, err := h.ledger.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, stats.Registered)

	stored, err := h.store.FingerprintByHash(ctx, fps[2].TextHash)
	require.NoError(t, err)
	assert.Equal(t, "c.txt", stored.SourceName)

	assert.Len(t, h.audit.ofKind(model.AuditDocumentsImported), 1)
}

func TestImportDocumentSet_Invalid(t *testing.T) {
	h := newHarness(t)

	_, err := h.svc.ImportDocumentSet(context.Background(), nil, "admin")
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = h.svc.ImportDocumentSet(context.Background(), []Document{{Filename: "x.pdf"}}, "admin")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestImportDocumentSet_LedgerFailure(t *testing.T) {
	h := newHarness(t, func(d *Deps) {
		d.Ledger = &faultyLedger{Ledger: d.Ledger, registerErr: ledger.ErrLedgerUnavailable}
	})

	_, err := h.svc.ImportDocumentSet(context.Background(), []Document{{Filename: "a.txt", Data: []byte("x")}}, "admin")
	assert.ErrorIs(t, err, ledger.ErrLedgerUnavailable)
	assert.Empty(t, h.audit.ofKind(model.AuditDocumentsImported))
}

func TestNewRedisGuard(t *testing.T) {
	g, err := NewRedisGuard(context.Background(), config.IdempotencyConfig{})
	require.NoError(t, err)
	assert.Nil(t, g)

	_, err = NewRedisGuard(context.Background(), config.IdempotencyConfig{RedisURL: "http://not-redis"})
	assert.Error(t, err)
}
