package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/credverify/internal/config"
	"github.com/sells-group/credverify/internal/model"
)

func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := &PostgresStore{pool: mock}
	return s, mock
}

func configFor(driver, url string) config.StoreConfig {
	return config.StoreConfig{Driver: driver, DatabaseURL: url}
}

var corpusCols = []string{"id", "name", "institute", "score", "normalized_institute",
	"normalized_score", "normalized_hash", "uploaded_by", "created_at"}

func TestPostgresStore_ImportCorpus(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now().UTC()

	a := record("Asha Rao", "DTU", "82.5")
	b := record("Ravi Kumar", "IISc", "91")

	mock.ExpectBegin()
	mock.ExpectExec("CREATE TEMP TABLE").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_corpus_records"}, corpusCols).WillReturnResult(2)
	mock.ExpectExec("INSERT INTO .* ON CONFLICT .* DO NOTHING").WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectQuery("SELECT .* FROM corpus_records WHERE normalized_hash = ANY").
		WithArgs([]string{a.NormalizedHash, b.NormalizedHash}).
		WillReturnRows(pgxmock.NewRows(corpusCols).
			AddRow("existing", a.Name, a.Institute, a.Score, a.NormalizedInstitute, a.NormalizedScore, a.NormalizedHash, "earlier", now).
			AddRow("new", b.Name, b.Institute, b.Score, b.NormalizedInstitute, b.NormalizedScore, b.NormalizedHash, "admin", now))
	mock.ExpectCommit()

	got, err := s.ImportCorpus(context.Background(), []model.CorpusRecord{a, b})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "existing", got[0].ID)
	assert.Equal(t, "earlier", got[0].UploadedBy)
	assert.Equal(t, "new", got[1].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ImportCorpus_RollsBackOnError(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("CREATE TEMP TABLE").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_corpus_records"}, corpusCols).WillReturnError(errors.New("copy failed"))
	mock.ExpectRollback()

	_, err := s.ImportCorpus(context.Background(), []model.CorpusRecord{record("Asha Rao", "DTU", "82.5")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "postgres: import corpus")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CorpusByHash_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery("SELECT .* FROM corpus_records WHERE normalized_hash").
		WithArgs("0xmissing").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.CorpusByHash(context.Background(), "0xmissing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CandidatesByInstitute(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now()

	mock.ExpectQuery("strpos\\(normalized_institute").
		WithArgs("delhi technological", 5).
		WillReturnRows(pgxmock.NewRows(corpusCols).
			AddRow("1", "Asha Rao", "DTU", "82.5", "delhi technological", "82.5", "0xa", "admin", now))

	got, err := s.CandidatesByInstitute(context.Background(), "delhi technological", 5)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Asha Rao", got[0].Name)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveFingerprint(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now().UTC()
	text := "0xtext"

	mock.ExpectExec("INSERT INTO document_fingerprints").
		WithArgs("0xbin", pgxmock.AnyArg(), "a.pdf", "admin", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectQuery("SELECT .* FROM document_fingerprints WHERE binary_hash = \\$1$").
		WithArgs("0xbin").
		WillReturnRows(pgxmock.NewRows([]string{"binary_hash", "text_hash", "source_name", "uploaded_by", "produced_at"}).
			AddRow("0xbin", &text, "a.pdf", "admin", now))

	got, err := s.SaveFingerprint(context.Background(), model.DocumentFingerprint{
		BinaryHash: "0xbin", TextHash: text, SourceName: "a.pdf", UploadedBy: "admin",
	})
	require.NoError(t, err)
	assert.Equal(t, "0xtext", got.TextHash)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListAudit_Unread(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now()

	mock.ExpectQuery("FROM audit_events WHERE NOT read").
		WithArgs(10).
		WillReturnRows(pgxmock.NewRows([]string{"id", "kind", "message", "payload", "read", "created_at"}).
			AddRow("e1", "verification_failed", "no match", []byte(`{"name":"Asha"}`), false, now))

	got, err := s.ListAudit(context.Background(), AuditFilter{UnreadOnly: true, Limit: 10})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, model.AuditVerificationFailed, got[0].Kind)
	assert.Equal(t, "Asha", got[0].Payload["name"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_MarkAuditRead_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec("UPDATE audit_events SET read = true").
		WithArgs("missing").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.MarkAuditRead(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_AppendAudit(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec("INSERT INTO audit_events").
		WithArgs(pgxmock.AnyArg(), "verified", "ok", `{"token_id":1}`, false, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	ev, err := s.AppendAudit(context.Background(), model.AuditEvent{
		Kind: model.AuditVerified, Message: "ok", Payload: map[string]any{"token_id": 1},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, ev.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}
