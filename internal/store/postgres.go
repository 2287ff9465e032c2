package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/credverify/internal/db"
	"github.com/sells-group/credverify/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

const (
	pgCorpusByHash = `SELECT ` + corpusColumns + ` FROM corpus_records WHERE normalized_hash = $1`
	pgCorpusByID   = `SELECT ` + corpusColumns + ` FROM corpus_records WHERE id = $1`
	pgCorpusByInst = `SELECT ` + corpusColumns + ` FROM corpus_records
		WHERE strpos(normalized_institute, $1) > 0 ORDER BY created_at, id LIMIT $2`
	pgCorpusByScore = `SELECT ` + corpusColumns + ` FROM corpus_records
		WHERE normalized_score = $1 ORDER BY created_at, id LIMIT $2`
	pgCorpusRecent = `SELECT ` + corpusColumns + ` FROM corpus_records
		ORDER BY created_at DESC, id LIMIT $1`
	pgInsertFingerprint = `INSERT INTO document_fingerprints (binary_hash, text_hash, source_name, uploaded_by, produced_at)
		VALUES ($1, $2, $3, $4, $5) ON CONFLICT (binary_hash) DO NOTHING`
	pgFingerprintByBinary = `SELECT binary_hash, text_hash, source_name, uploaded_by, produced_at
		FROM document_fingerprints WHERE binary_hash = $1`
	pgFingerprintByHash = `SELECT binary_hash, text_hash, source_name, uploaded_by, produced_at
		FROM document_fingerprints WHERE binary_hash = $1 OR text_hash = $1
		ORDER BY produced_at LIMIT 1`
	pgInsertAudit = `INSERT INTO audit_events (id, kind, message, payload, read, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`
	pgMarkAuditRead = `UPDATE audit_events SET read = true WHERE id = $1`
)

// preparedStatements lists queries to prepare on each new connection.
var preparedStatements = map[string]string{
	"corpus_by_hash":      pgCorpusByHash,
	"corpus_by_id":        pgCorpusByID,
	"corpus_by_institute": pgCorpusByInst,
	"corpus_by_score":     pgCorpusByScore,
	"insert_fingerprint":  pgInsertFingerprint,
	"fingerprint_by_hash": pgFingerprintByHash,
	"insert_audit":        pgInsertAudit,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS corpus_records (
	id                   TEXT PRIMARY KEY,
	name                 TEXT NOT NULL,
	institute            TEXT NOT NULL,
	score                TEXT NOT NULL,
	normalized_institute TEXT NOT NULL,
	normalized_score     TEXT NOT NULL,
	normalized_hash      TEXT NOT NULL UNIQUE,
	uploaded_by          TEXT NOT NULL DEFAULT '',
	created_at           TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS document_fingerprints (
	binary_hash TEXT PRIMARY KEY,
	text_hash   TEXT,
	source_name TEXT NOT NULL DEFAULT '',
	uploaded_by TEXT NOT NULL DEFAULT '',
	produced_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS audit_events (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	kind       TEXT NOT NULL,
	message    TEXT NOT NULL,
	payload    JSONB,
	read       BOOLEAN NOT NULL DEFAULT false,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_corpus_normalized_score ON corpus_records(normalized_score);
CREATE INDEX IF NOT EXISTS idx_corpus_created_at ON corpus_records(created_at);
CREATE INDEX IF NOT EXISTS idx_documents_text_hash ON document_fingerprints(text_hash);
CREATE INDEX IF NOT EXISTS idx_audit_unread ON audit_events(created_at) WHERE NOT read;
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

var corpusUpsert = db.UpsertConfig{
	Table: "corpus_records",
	Columns: []string{"id", "name", "institute", "score", "normalized_institute",
		"normalized_score", "normalized_hash", "uploaded_by", "created_at"},
	ConflictKeys: []string{"normalized_hash"},
	DoNothing:    true,
}

// ImportCorpus COPYs records through a temp table inside one transaction and
// returns the stored row for every input, existing rows included.
func (s *PostgresStore) ImportCorpus(ctx context.Context, records []model.CorpusRecord) ([]model.CorpusRecord, error) {
	if len(records) == 0 {
		return nil, nil
	}
	if err := validateRecords(records); err != nil {
		return nil, err
	}
	records = prepareRecords(records, time.Now())

	rows := make([][]any, len(records))
	hashes := make([]string, 0, len(records))
	seen := make(map[string]bool, len(records))
	for i, r := range records {
		rows[i] = []any{r.ID, r.Name, r.Institute, r.Score, r.NormalizedInstitute,
			r.NormalizedScore, r.NormalizedHash, r.UploadedBy, r.CreatedAt}
		if !seen[r.NormalizedHash] {
			seen[r.NormalizedHash] = true
			hashes = append(hashes, r.NormalizedHash)
		}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: begin import")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := db.UpsertTx(ctx, tx, corpusUpsert, rows); err != nil {
		return nil, eris.Wrap(err, "postgres: import corpus")
	}

	stored, err := tx.Query(ctx,
		`SELECT `+corpusColumns+` FROM corpus_records WHERE normalized_hash = ANY($1)`, hashes)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: read imported corpus")
	}
	byHash := make(map[string]model.CorpusRecord, len(hashes))
	for stored.Next() {
		r, err := pgScanCorpus(stored)
		if err != nil {
			stored.Close()
			return nil, err
		}
		byHash[r.NormalizedHash] = *r
	}
	stored.Close()
	if err := stored.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: iterate imported corpus")
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, eris.Wrap(err, "postgres: commit import")
	}
	return orderByInput(records, byHash)
}

func (s *PostgresStore) CorpusByHash(ctx context.Context, hash string) (*model.CorpusRecord, error) {
	return pgScanCorpus(s.pool.QueryRow(ctx, pgCorpusByHash, hash))
}

func (s *PostgresStore) CorpusByID(ctx context.Context, id string) (*model.CorpusRecord, error) {
	return pgScanCorpus(s.pool.QueryRow(ctx, pgCorpusByID, id))
}

func (s *PostgresStore) CandidatesByInstitute(ctx context.Context, prefix string, limit int) ([]model.CorpusRecord, error) {
	if prefix == "" || limit <= 0 {
		return nil, nil
	}
	return s.queryCorpus(ctx, pgCorpusByInst, prefix, limit)
}

func (s *PostgresStore) CandidatesByScore(ctx context.Context, score string, limit int) ([]model.CorpusRecord, error) {
	if score == "" || limit <= 0 {
		return nil, nil
	}
	return s.queryCorpus(ctx, pgCorpusByScore, score, limit)
}

func (s *PostgresStore) RecentCorpus(ctx context.Context, limit int) ([]model.CorpusRecord, error) {
	if limit <= 0 {
		return nil, nil
	}
	return s.queryCorpus(ctx, pgCorpusRecent, limit)
}

func (s *PostgresStore) queryCorpus(ctx context.Context, query string, args ...any) ([]model.CorpusRecord, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: query corpus")
	}
	defer rows.Close()

	var out []model.CorpusRecord
	for rows.Next() {
		r, err := pgScanCorpus(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate corpus")
}

func (s *PostgresStore) SaveFingerprint(ctx context.Context, fp model.DocumentFingerprint) (model.DocumentFingerprint, error) {
	if fp.BinaryHash == "" {
		return model.DocumentFingerprint{}, eris.New("postgres: fingerprint has no binary hash")
	}
	if fp.ProducedAt.IsZero() {
		fp.ProducedAt = time.Now()
	}
	var textHash *string
	if fp.TextHash != "" {
		textHash = &fp.TextHash
	}
	if _, err := s.pool.Exec(ctx, pgInsertFingerprint,
		fp.BinaryHash, textHash, fp.SourceName, fp.UploadedBy, fp.ProducedAt.UTC()); err != nil {
		return model.DocumentFingerprint{}, eris.Wrap(err, "postgres: insert fingerprint")
	}
	stored, err := pgScanFingerprint(s.pool.QueryRow(ctx, pgFingerprintByBinary, fp.BinaryHash))
	if err != nil {
		return model.DocumentFingerprint{}, err
	}
	return *stored, nil
}

func (s *PostgresStore) FingerprintByHash(ctx context.Context, hash string) (*model.DocumentFingerprint, error) {
	return pgScanFingerprint(s.pool.QueryRow(ctx, pgFingerprintByHash, hash))
}

func (s *PostgresStore) AppendAudit(ctx context.Context, ev model.AuditEvent) (model.AuditEvent, error) {
	ev = prepareAudit(ev)
	payload, err := marshalPayload(ev.Payload)
	if err != nil {
		return model.AuditEvent{}, err
	}
	if _, err := s.pool.Exec(ctx, pgInsertAudit,
		ev.ID, string(ev.Kind), ev.Message, payload, ev.Read, ev.CreatedAt); err != nil {
		return model.AuditEvent{}, eris.Wrap(err, "postgres: insert audit event")
	}
	return ev, nil
}

func (s *PostgresStore) ListAudit(ctx context.Context, filter AuditFilter) ([]model.AuditEvent, error) {
	query := `SELECT id, kind, message, payload, read, created_at FROM audit_events`
	if filter.UnreadOnly {
		query += ` WHERE NOT read`
	}
	query += ` ORDER BY created_at DESC, id LIMIT $1`

	rows, err := s.pool.Query(ctx, query, auditLimit(filter))
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list audit events")
	}
	defer rows.Close()

	var out []model.AuditEvent
	for rows.Next() {
		var (
			ev      model.AuditEvent
			kind    string
			payload []byte
		)
		if err := rows.Scan(&ev.ID, &kind, &ev.Message, &payload, &ev.Read, &ev.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan audit event")
		}
		ev.Kind = model.AuditKind(kind)
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &ev.Payload); err != nil {
				return nil, eris.Wrap(err, "postgres: unmarshal audit payload")
			}
		}
		out = append(out, ev)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate audit events")
}

func (s *PostgresStore) MarkAuditRead(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, pgMarkAuditRead, id)
	if err != nil {
		return eris.Wrap(err, "postgres: mark audit read")
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "audit event %s", id)
	}
	return nil
}

func pgScanCorpus(row scannable) (*model.CorpusRecord, error) {
	var r model.CorpusRecord
	err := row.Scan(&r.ID, &r.Name, &r.Institute, &r.Score, &r.NormalizedInstitute,
		&r.NormalizedScore, &r.NormalizedHash, &r.UploadedBy, &r.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrap(ErrNotFound, "corpus record")
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan corpus record")
	}
	return &r, nil
}

func pgScanFingerprint(row scannable) (*model.DocumentFingerprint, error) {
	var (
		fp       model.DocumentFingerprint
		textHash *string
	)
	err := row.Scan(&fp.BinaryHash, &textHash, &fp.SourceName, &fp.UploadedBy, &fp.ProducedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrap(ErrNotFound, "document fingerprint")
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan fingerprint")
	}
	if textHash != nil {
		fp.TextHash = *textHash
	}
	return &fp, nil
}
