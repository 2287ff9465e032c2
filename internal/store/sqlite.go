package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/credverify/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// timeLayout is fixed-width so that text ordering matches time ordering.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS corpus_records (
	id                   TEXT PRIMARY KEY,
	name                 TEXT NOT NULL,
	institute            TEXT NOT NULL,
	score                TEXT NOT NULL,
	normalized_institute TEXT NOT NULL,
	normalized_score     TEXT NOT NULL,
	normalized_hash      TEXT NOT NULL UNIQUE,
	uploaded_by          TEXT NOT NULL DEFAULT '',
	created_at           TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS document_fingerprints (
	binary_hash TEXT PRIMARY KEY,
	text_hash   TEXT,
	source_name TEXT NOT NULL DEFAULT '',
	uploaded_by TEXT NOT NULL DEFAULT '',
	produced_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS audit_events (
	id         TEXT PRIMARY KEY,
	kind       TEXT NOT NULL,
	message    TEXT NOT NULL,
	payload    TEXT,
	read       INTEGER NOT NULL DEFAULT 0,
	created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_corpus_normalized_score ON corpus_records(normalized_score);
CREATE INDEX IF NOT EXISTS idx_corpus_created_at ON corpus_records(created_at);
CREATE INDEX IF NOT EXISTS idx_documents_text_hash ON document_fingerprints(text_hash);
CREATE INDEX IF NOT EXISTS idx_audit_created_at ON audit_events(created_at);
`

const corpusColumns = `id, name, institute, score, normalized_institute, normalized_score, normalized_hash, uploaded_by, created_at`

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ImportCorpus inserts records in one transaction. Rows whose normalized
// hash already exists are left untouched and the stored row is returned in
// their place.
func (s *SQLiteStore) ImportCorpus(ctx context.Context, records []model.CorpusRecord) ([]model.CorpusRecord, error) {
	if len(records) == 0 {
		return nil, nil
	}
	if err := validateRecords(records); err != nil {
		return nil, err
	}
	records = prepareRecords(records, time.Now())

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: begin import")
	}
	defer tx.Rollback() //nolint:errcheck

	insert, err := tx.PrepareContext(ctx,
		`INSERT INTO corpus_records (`+corpusColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(normalized_hash) DO NOTHING`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: prepare import")
	}
	defer insert.Close() //nolint:errcheck

	for _, r := range records {
		if _, err := insert.ExecContext(ctx, r.ID, r.Name, r.Institute, r.Score,
			r.NormalizedInstitute, r.NormalizedScore, r.NormalizedHash, r.UploadedBy,
			r.CreatedAt.Format(timeLayout)); err != nil {
			return nil, eris.Wrapf(err, "sqlite: insert corpus record %s", r.NormalizedHash)
		}
	}

	byHash := make(map[string]model.CorpusRecord, len(records))
	for _, r := range records {
		if _, ok := byHash[r.NormalizedHash]; ok {
			continue
		}
		stored, err := scanCorpus(tx.QueryRowContext(ctx,
			`SELECT `+corpusColumns+` FROM corpus_records WHERE normalized_hash = ?`, r.NormalizedHash))
		if err != nil {
			return nil, err
		}
		byHash[r.NormalizedHash] = *stored
	}

	if err := tx.Commit(); err != nil {
		return nil, eris.Wrap(err, "sqlite: commit import")
	}
	return orderByInput(records, byHash)
}

func (s *SQLiteStore) CorpusByHash(ctx context.Context, hash string) (*model.CorpusRecord, error) {
	return scanCorpus(s.db.QueryRowContext(ctx,
		`SELECT `+corpusColumns+` FROM corpus_records WHERE normalized_hash = ?`, hash))
}

func (s *SQLiteStore) CorpusByID(ctx context.Context, id string) (*model.CorpusRecord, error) {
	return scanCorpus(s.db.QueryRowContext(ctx,
		`SELECT `+corpusColumns+` FROM corpus_records WHERE id = ?`, id))
}

func (s *SQLiteStore) CandidatesByInstitute(ctx context.Context, prefix string, limit int) ([]model.CorpusRecord, error) {
	if prefix == "" || limit <= 0 {
		return nil, nil
	}
	return s.queryCorpus(ctx,
		`SELECT `+corpusColumns+` FROM corpus_records
		 WHERE instr(normalized_institute, ?) > 0
		 ORDER BY created_at, id LIMIT ?`, prefix, limit)
}

func (s *SQLiteStore) CandidatesByScore(ctx context.Context, score string, limit int) ([]model.CorpusRecord, error) {
	if score == "" || limit <= 0 {
		return nil, nil
	}
	return s.queryCorpus(ctx,
		`SELECT `+corpusColumns+` FROM corpus_records
		 WHERE normalized_score = ?
		 ORDER BY created_at, id LIMIT ?`, score, limit)
}

func (s *SQLiteStore) RecentCorpus(ctx context.Context, limit int) ([]model.CorpusRecord, error) {
	if limit <= 0 {
		return nil, nil
	}
	return s.queryCorpus(ctx,
		`SELECT `+corpusColumns+` FROM corpus_records
		 ORDER BY created_at DESC, id LIMIT ?`, limit)
}

func (s *SQLiteStore) queryCorpus(ctx context.Context, query string, args ...any) ([]model.CorpusRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: query corpus")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.CorpusRecord
	for rows.Next() {
		r, err := scanCorpus(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate corpus")
}

// SaveFingerprint stores fp unless its binary hash is already known, and
// returns the stored row either way.
func (s *SQLiteStore) SaveFingerprint(ctx context.Context, fp model.DocumentFingerprint) (model.DocumentFingerprint, error) {
	if fp.BinaryHash == "" {
		return model.DocumentFingerprint{}, eris.New("sqlite: fingerprint has no binary hash")
	}
	if fp.ProducedAt.IsZero() {
		fp.ProducedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO document_fingerprints (binary_hash, text_hash, source_name, uploaded_by, produced_at)
		 VALUES (?, ?, ?, ?, ?) ON CONFLICT(binary_hash) DO NOTHING`,
		fp.BinaryHash, nullString(fp.TextHash), fp.SourceName, fp.UploadedBy,
		fp.ProducedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return model.DocumentFingerprint{}, eris.Wrap(err, "sqlite: insert fingerprint")
	}
	stored, err := scanFingerprint(s.db.QueryRowContext(ctx,
		`SELECT binary_hash, text_hash, source_name, uploaded_by, produced_at
		 FROM document_fingerprints WHERE binary_hash = ?`, fp.BinaryHash))
	if err != nil {
		return model.DocumentFingerprint{}, err
	}
	return *stored, nil
}

// FingerprintByHash finds a document by its binary or text hash.
func (s *SQLiteStore) FingerprintByHash(ctx context.Context, hash string) (*model.DocumentFingerprint, error) {
	return scanFingerprint(s.db.QueryRowContext(ctx,
		`SELECT binary_hash, text_hash, source_name, uploaded_by, produced_at
		 FROM document_fingerprints WHERE binary_hash = ? OR text_hash = ?
		 ORDER BY produced_at LIMIT 1`, hash, hash))
}

func (s *SQLiteStore) AppendAudit(ctx context.Context, ev model.AuditEvent) (model.AuditEvent, error) {
	ev = prepareAudit(ev)
	payload, err := marshalPayload(ev.Payload)
	if err != nil {
		return model.AuditEvent{}, err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO audit_events (id, kind, message, payload, read, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		ev.ID, string(ev.Kind), ev.Message, payload, ev.Read, ev.CreatedAt.Format(timeLayout),
	)
	if err != nil {
		return model.AuditEvent{}, eris.Wrap(err, "sqlite: insert audit event")
	}
	return ev, nil
}

func (s *SQLiteStore) ListAudit(ctx context.Context, filter AuditFilter) ([]model.AuditEvent, error) {
	query := `SELECT id, kind, message, payload, read, created_at FROM audit_events`
	if filter.UnreadOnly {
		query += ` WHERE read = 0`
	}
	query += ` ORDER BY created_at DESC, id LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, auditLimit(filter))
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list audit events")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.AuditEvent
	for rows.Next() {
		var (
			ev      model.AuditEvent
			payload sql.NullString
			created string
		)
		if err := rows.Scan(&ev.ID, &ev.Kind, &ev.Message, &payload, &ev.Read, &created); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan audit event")
		}
		if ev.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		if payload.Valid {
			if err := json.Unmarshal([]byte(payload.String), &ev.Payload); err != nil {
				return nil, eris.Wrap(err, "sqlite: unmarshal audit payload")
			}
		}
		out = append(out, ev)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate audit events")
}

func (s *SQLiteStore) MarkAuditRead(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE audit_events SET read = 1 WHERE id = ?`, id)
	if err != nil {
		return eris.Wrap(err, "sqlite: mark audit read")
	}
	return checkRowsAffected(res, "audit event", id)
}

// helpers

func scanCorpus(row scannable) (*model.CorpusRecord, error) {
	var (
		r       model.CorpusRecord
		created string
	)
	err := row.Scan(&r.ID, &r.Name, &r.Institute, &r.Score, &r.NormalizedInstitute,
		&r.NormalizedScore, &r.NormalizedHash, &r.UploadedBy, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrap(ErrNotFound, "corpus record")
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan corpus record")
	}
	if r.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	return &r, nil
}

func scanFingerprint(row scannable) (*model.DocumentFingerprint, error) {
	var (
		fp       model.DocumentFingerprint
		textHash sql.NullString
		produced string
	)
	err := row.Scan(&fp.BinaryHash, &textHash, &fp.SourceName, &fp.UploadedBy, &produced)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrap(ErrNotFound, "document fingerprint")
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan fingerprint")
	}
	fp.TextHash = textHash.String
	if fp.ProducedAt, err = parseTime(produced); err != nil {
		return nil, err
	}
	return &fp, nil
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	return t, eris.Wrapf(err, "sqlite: parse time %q", s)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
