package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/sells-group/credverify/internal/config"
	"github.com/sells-group/credverify/internal/model"
)

// ErrNotFound is returned when a lookup by id or hash matches nothing.
var ErrNotFound = eris.New("store: not found")

// AuditFilter specifies criteria for listing audit events.
type AuditFilter struct {
	UnreadOnly bool `json:"unread_only,omitempty"`
	Limit      int  `json:"limit,omitempty"`
}

// Store persists the corpus, uploaded document fingerprints and the audit
// trail.
type Store interface {
	// Corpus
	ImportCorpus(ctx context.Context, records []model.CorpusRecord) ([]model.CorpusRecord, error)
	CorpusByHash(ctx context.Context, hash string) (*model.CorpusRecord, error)
	CorpusByID(ctx context.Context, id string) (*model.CorpusRecord, error)
	CandidatesByInstitute(ctx context.Context, prefix string, limit int) ([]model.CorpusRecord, error)
	CandidatesByScore(ctx context.Context, score string, limit int) ([]model.CorpusRecord, error)
	RecentCorpus(ctx context.Context, limit int) ([]model.CorpusRecord, error)

	// Documents
	SaveFingerprint(ctx context.Context, fp model.DocumentFingerprint) (model.DocumentFingerprint, error)
	FingerprintByHash(ctx context.Context, hash string) (*model.DocumentFingerprint, error)

	// Audit
	AppendAudit(ctx context.Context, ev model.AuditEvent) (model.AuditEvent, error)
	ListAudit(ctx context.Context, filter AuditFilter) ([]model.AuditEvent, error)
	MarkAuditRead(ctx context.Context, id string) error

	// Lifecycle
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}

// New opens the store selected by cfg.Driver. It does not migrate.
func New(ctx context.Context, cfg config.StoreConfig) (Store, error) {
	switch cfg.Driver {
	case "", "sqlite":
		return NewSQLite(cfg.DatabaseURL)
	case "postgres":
		return NewPostgres(ctx, cfg.DatabaseURL, &PoolConfig{MaxConns: cfg.MaxConns, MinConns: cfg.MinConns})
	default:
		return nil, eris.Errorf("store: unknown driver %q", cfg.Driver)
	}
}

// defaultAuditLimit caps ListAudit when the filter sets no limit.
const defaultAuditLimit = 100

func auditLimit(f AuditFilter) int {
	if f.Limit <= 0 {
		return defaultAuditLimit
	}
	return f.Limit
}

// prepareRecords fills ids and timestamps the caller left empty.
func prepareRecords(records []model.CorpusRecord, now time.Time) []model.CorpusRecord {
	out := make([]model.CorpusRecord, len(records))
	for i, r := range records {
		if r.ID == "" {
			r.ID = newID()
		}
		if r.CreatedAt.IsZero() {
			r.CreatedAt = now
		}
		r.CreatedAt = r.CreatedAt.UTC()
		out[i] = r
	}
	return out
}

func validateRecords(records []model.CorpusRecord) error {
	for i, r := range records {
		if r.NormalizedHash == "" {
			return eris.Errorf("store: corpus record %d has no normalized hash", i)
		}
	}
	return nil
}

// orderByInput returns the stored record for each input hash, in input order.
func orderByInput(records []model.CorpusRecord, byHash map[string]model.CorpusRecord) ([]model.CorpusRecord, error) {
	out := make([]model.CorpusRecord, 0, len(records))
	for _, r := range records {
		stored, ok := byHash[r.NormalizedHash]
		if !ok {
			return nil, eris.Errorf("store: corpus record %s missing after import", r.NormalizedHash)
		}
		out = append(out, stored)
	}
	return out, nil
}

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "store: rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s %s", entity, id)
	}
	return nil
}

func newID() string { return uuid.NewString() }

type scannable interface {
	Scan(dest ...any) error
}

func prepareAudit(ev model.AuditEvent) model.AuditEvent {
	if ev.ID == "" {
		ev.ID = newID()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now()
	}
	ev.CreatedAt = ev.CreatedAt.UTC()
	return ev
}

func marshalPayload(p map[string]any) (any, error) {
	if len(p) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(p)
	if err != nil {
		return nil, eris.Wrap(err, "store: marshal audit payload")
	}
	return string(b), nil
}
